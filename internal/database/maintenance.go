package database

import (
	"context"
	"time"
)

// PurgeBefore deletes evaluations created before cutoff. Their
// hypothesis_scores rows go with them through ON DELETE CASCADE.
func (db *DB) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM evaluations WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (m *Memory) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, rec := range m.recs {
		if rec.CreatedAt.Before(cutoff) {
			delete(m.recs, id)
			n++
		}
	}
	return n, nil
}
