package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/beaconworks/agentrelay/internal/store"
)

// PGConfigStore implements store.ConfigStore backed by Postgres.
type PGConfigStore struct {
	db *sql.DB
}

func NewPGConfigStore(db *sql.DB) *PGConfigStore {
	return &PGConfigStore{db: db}
}

func (s *PGConfigStore) Get(ctx context.Context, platform string) (*store.PlatformConfig, error) {
	var c store.PlatformConfig
	err := s.db.QueryRowContext(ctx,
		`SELECT platform, organization_id, credentials, socket_mode, created_at, updated_at
		 FROM platform_config WHERE platform = $1`, platform).Scan(
		&c.Platform, &c.OrganizationID, &c.Credentials, &c.SocketMode,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PGConfigStore) Save(ctx context.Context, cfg *store.PlatformConfig) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO platform_config (platform, organization_id, credentials, socket_mode, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (platform)
		 DO UPDATE SET organization_id = EXCLUDED.organization_id,
		               credentials     = EXCLUDED.credentials,
		               socket_mode     = EXCLUDED.socket_mode,
		               updated_at      = EXCLUDED.updated_at`,
		cfg.Platform, cfg.OrganizationID, cfg.Credentials, cfg.SocketMode, now)
	return err
}
