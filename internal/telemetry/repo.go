package telemetry

import (
	"context"
	"fmt"

	"github.com/lagless/engine/internal/sim"
)

// HitRepo persists processed detector events for offline accuracy analysis.
type HitRepo struct {
	db *DB
}

func NewHitRepo(db *DB) *HitRepo {
	return &HitRepo{db: db}
}

// WriteBatch inserts a batch of hit records in a single transaction.
func (r *HitRepo) WriteBatch(ctx context.Context, recs []sim.HitRecord) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("hit batch begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, rec := range recs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO hit_log (frame, sim_time, event_time, target, kind, destroyed, replayed)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			int64(rec.Frame), rec.Time, rec.EventTime, string(rec.Target), rec.Kind, rec.Destroyed, rec.Replayed,
		); err != nil {
			return fmt.Errorf("hit insert: %w", err)
		}
	}

	return tx.Commit(ctx)
}
