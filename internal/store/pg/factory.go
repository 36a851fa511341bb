// Package pg implements the store interfaces on Postgres via database/sql
// over the pgx stdlib driver.
package pg

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/beaconworks/agentrelay/internal/store"
)

// OpenDB opens a Postgres connection pool from a DSN.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewPGStores creates all stores backed by one Postgres pool.
func NewPGStores(dsn string) (*store.Stores, *sql.DB, error) {
	db, err := OpenDB(dsn)
	if err != nil {
		return nil, nil, err
	}
	return &store.Stores{
		Bindings: NewPGBindingStore(db),
		Dedup:    NewPGDedupStore(db),
		Cache:    NewPGCacheStore(db),
		Config:   NewPGConfigStore(db),
		Identity: NewPGIdentityStore(db),
		Agents:   NewPGAgentStore(db),
	}, db, nil
}
