package pg

import (
	"context"
	"database/sql"
	"time"
)

// PGDedupStore implements store.DedupStore on a table with a primary key over
// the message identifier. The unique constraint is what makes TryMark atomic
// across concurrently running engine instances.
type PGDedupStore struct {
	db *sql.DB
}

func NewPGDedupStore(db *sql.DB) *PGDedupStore {
	return &PGDedupStore{db: db}
}

func (s *PGDedupStore) TryMark(ctx context.Context, messageID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_messages (message_id, created_at)
		 VALUES ($1, $2)
		 ON CONFLICT (message_id) DO NOTHING`,
		messageID, time.Now())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PGDedupStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM processed_messages WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
