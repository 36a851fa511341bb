package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ChannelBinding is the durable association from a chat channel to the agent
// that answers in it. Uniquely keyed by (platform, channel_id, workspace_id).
// AgentID is nil exactly until a human completes agent selection.
type ChannelBinding struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	Platform       string     `json:"platform"`
	ChannelID      string     `json:"channel_id"`
	WorkspaceID    string     `json:"workspace_id"`
	DisplayName    string     `json:"display_name"`
	IsDM           bool       `json:"is_dm"`
	DMOwnerEmail   string     `json:"dm_owner_email,omitempty"`
	AgentID        *uuid.UUID `json:"agent_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// PlatformConfig holds per-platform credentials and delivery mode, seeded from
// environment on first boot and durable thereafter.
type PlatformConfig struct {
	Platform       string          `json:"platform"`
	OrganizationID uuid.UUID       `json:"organization_id"`
	Credentials    json.RawMessage `json:"credentials"`
	SocketMode     bool            `json:"socket_mode"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// UserRecord is the identity subsystem's view of an internal user.
// Read-only for the engine.
type UserRecord struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
	Name  string    `json:"name"`
}

// AgentRecord is the read-side view of an agent definition.
type AgentRecord struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Name           string    `json:"name"`
}

// GenNewID returns a new time-ordered UUID for row identifiers.
func GenNewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}
