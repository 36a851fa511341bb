package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/beaconworks/agentrelay/internal/store"
)

// PGBindingStore implements store.BindingStore backed by Postgres.
type PGBindingStore struct {
	db *sql.DB
}

func NewPGBindingStore(db *sql.DB) *PGBindingStore {
	return &PGBindingStore{db: db}
}

const bindingSelectCols = `id, organization_id, platform, channel_id, workspace_id, display_name, is_dm, dm_owner_email, agent_id, created_at, updated_at`

func (s *PGBindingStore) GetByChannel(ctx context.Context, platform, channelID, workspaceID string) (*store.ChannelBinding, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+bindingSelectCols+` FROM channel_bindings
		 WHERE platform = $1 AND channel_id = $2 AND workspace_id = $3`,
		platform, channelID, workspaceID)
	b, err := scanBindingRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return b, err
}

// Upsert keys on (platform, channel_id, workspace_id). COALESCE keeps the
// existing agent assignment when the incoming binding carries none, so a
// discovery refresh never unbinds a channel. An empty display name keeps
// the existing one, so a selection never clobbers a discovered name.
func (s *PGBindingStore) Upsert(ctx context.Context, b *store.ChannelBinding) (*store.ChannelBinding, error) {
	if b.ID == uuid.Nil {
		b.ID = store.GenNewID()
	}
	now := time.Now()

	row := s.db.QueryRowContext(ctx,
		`INSERT INTO channel_bindings
		   (id, organization_id, platform, channel_id, workspace_id, display_name, is_dm, dm_owner_email, agent_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		 ON CONFLICT (platform, channel_id, workspace_id)
		 DO UPDATE SET display_name   = COALESCE(NULLIF(EXCLUDED.display_name, ''), channel_bindings.display_name),
		               is_dm          = EXCLUDED.is_dm,
		               dm_owner_email = CASE WHEN EXCLUDED.agent_id IS NOT NULL THEN EXCLUDED.dm_owner_email ELSE channel_bindings.dm_owner_email END,
		               agent_id       = COALESCE(EXCLUDED.agent_id, channel_bindings.agent_id),
		               updated_at     = EXCLUDED.updated_at
		 RETURNING `+bindingSelectCols,
		b.ID, b.OrganizationID, b.Platform, b.ChannelID, b.WorkspaceID,
		b.DisplayName, b.IsDM, nullStr(b.DMOwnerEmail), b.AgentID, now,
	)
	return scanBindingRow(row)
}

// DeleteStale skips DM rows. Channel enumeration only sees guild and
// workspace channels, so a DM binding would look vanished on every pass.
func (s *PGBindingStore) DeleteStale(ctx context.Context, platform string, workspaceAliases, keepChannelIDs []string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM channel_bindings
		 WHERE platform = $1
		   AND workspace_id = ANY($2)
		   AND NOT is_dm
		   AND NOT (channel_id = ANY($3))`,
		platform, pq.Array(workspaceAliases), pq.Array(keepChannelIDs))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CollapseAliases keeps one row per channel across workspace aliases. Rows
// carrying an agent assignment win over unbound ones; among equals the newest
// survives.
func (s *PGBindingStore) CollapseAliases(ctx context.Context, platform string, workspaceAliases []string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM channel_bindings b
		 USING channel_bindings keep
		 WHERE b.platform = $1 AND keep.platform = $1
		   AND b.workspace_id = ANY($2) AND keep.workspace_id = ANY($2)
		   AND b.channel_id = keep.channel_id
		   AND b.id <> keep.id
		   AND (
		     (b.agent_id IS NULL AND keep.agent_id IS NOT NULL)
		     OR ((b.agent_id IS NULL) = (keep.agent_id IS NULL) AND b.updated_at < keep.updated_at)
		     OR ((b.agent_id IS NULL) = (keep.agent_id IS NULL) AND b.updated_at = keep.updated_at AND b.id < keep.id)
		   )`,
		platform, pq.Array(workspaceAliases))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanBindingRow(row *sql.Row) (*store.ChannelBinding, error) {
	var b store.ChannelBinding
	var dmOwner sql.NullString
	var agentID uuid.NullUUID
	err := row.Scan(
		&b.ID, &b.OrganizationID, &b.Platform, &b.ChannelID, &b.WorkspaceID,
		&b.DisplayName, &b.IsDM, &dmOwner, &agentID, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if dmOwner.Valid {
		b.DMOwnerEmail = dmOwner.String
	}
	if agentID.Valid {
		b.AgentID = &agentID.UUID
	}
	return &b, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
