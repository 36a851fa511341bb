package pg

import (
	"context"
	"database/sql"
	"time"
)

// PGCacheStore implements store.CacheStore as a key/value table with absolute
// expiry. Shared by all engine instances, which is what makes the discovery
// guard effective across the fleet.
type PGCacheStore struct {
	db *sql.DB
}

func NewPGCacheStore(db *sql.DB) *PGCacheStore {
	return &PGCacheStore{db: db}
}

func (s *PGCacheStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM engine_cache WHERE key = $1 AND expires_at > $2`,
		key, time.Now()).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *PGCacheStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO engine_cache (key, value, expires_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		key, value, time.Now().Add(ttl))
	return err
}
