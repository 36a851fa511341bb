// Package store defines the persistence interfaces the routing engine
// consumes and the data types that cross them. Implementations live in
// subpackages (pg).
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// BindingStore persists channel-to-agent bindings.
type BindingStore interface {
	// GetByChannel returns the binding for (platform, channelID, workspaceID),
	// or nil when none exists.
	GetByChannel(ctx context.Context, platform, channelID, workspaceID string) (*ChannelBinding, error)

	// Upsert inserts or updates a binding keyed by (platform, channel_id,
	// workspace_id). A nil AgentID on the incoming binding preserves any
	// agent already assigned; a non-nil AgentID overwrites it. An empty
	// DisplayName preserves the existing one. Repeated upserts with
	// identical values converge to the same row.
	Upsert(ctx context.Context, b *ChannelBinding) (*ChannelBinding, error)

	// DeleteStale removes non-DM bindings in any of the workspace aliases
	// whose channel is absent from keepChannelIDs. DM bindings are never
	// pruned because they are invisible to channel enumeration. Returns
	// the number deleted.
	DeleteStale(ctx context.Context, platform string, workspaceAliases, keepChannelIDs []string) (int64, error)

	// CollapseAliases removes duplicate rows for the same channel created
	// under different aliases of one workspace, preferring rows that carry
	// an agent assignment. Returns the number removed.
	CollapseAliases(ctx context.Context, platform string, workspaceAliases []string) (int64, error)
}

// DedupStore is the atomic first-caller-wins gate over message identifiers.
type DedupStore interface {
	// TryMark returns true only for the first caller for messageID, across
	// all concurrent callers and all engine instances. Must be backed by a
	// uniqueness-enforcing operation in shared storage.
	TryMark(ctx context.Context, messageID string) (bool, error)

	// PurgeOlderThan deletes markers created before cutoff. Storage hygiene
	// only; correctness never depends on it.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// CacheStore is a small distributed TTL cache shared by all engine instances.
// Backs the channel-discovery guard.
type CacheStore interface {
	// Get returns the value for key; ok is false when absent or expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set writes key with a time-to-live, replacing any prior value.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// ConfigStore persists per-platform credentials and mode.
type ConfigStore interface {
	// Get returns the config for a platform, or nil when none is saved.
	Get(ctx context.Context, platform string) (*PlatformConfig, error)

	// Save inserts or replaces the platform's config row.
	Save(ctx context.Context, cfg *PlatformConfig) error
}

// IdentityStore reads users and access rules owned by the identity subsystem.
type IdentityStore interface {
	// UserByEmail looks up an internal user case-insensitively by email.
	// Returns nil when no user matches.
	UserByEmail(ctx context.Context, orgID uuid.UUID, email string) (*UserRecord, error)

	// IsAgentAdmin reports whether the user administers agents in the org.
	IsAgentAdmin(ctx context.Context, userID, orgID uuid.UUID) (bool, error)

	// HasAgentAccess reports whether the user has team-based access to the
	// specific agent.
	HasAgentAccess(ctx context.Context, userID, agentID uuid.UUID) (bool, error)
}

// AgentStore reads agent definitions. The engine never writes them.
type AgentStore interface {
	// ListByOrg returns all agents in an organization.
	ListByOrg(ctx context.Context, orgID uuid.UUID) ([]AgentRecord, error)

	// GetByID returns one agent, or nil when it does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*AgentRecord, error)
}

// Stores is the top-level container for all storage backends.
type Stores struct {
	Bindings BindingStore
	Dedup    DedupStore
	Cache    CacheStore
	Config   ConfigStore
	Identity IdentityStore
	Agents   AgentStore
}
