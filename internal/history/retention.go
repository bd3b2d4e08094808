package history

import (
	"context"
	"fmt"
	"time"
)

// PruneResult contains the outcome of a prune.
type PruneResult struct {
	Cutoff        time.Time
	RunsDeleted   int64
	TablesDeleted int64
}

// Prune deletes runs that started before cutoff, along with their tables.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (PruneResult, error) {
	result := PruneResult{Cutoff: cutoff}
	bound := formatTime(cutoff)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("prune failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	// Children first.
	steps := []struct {
		query   string
		deleted *int64
	}{
		{"DELETE FROM run_tables WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)", &result.TablesDeleted},
		{"DELETE FROM runs WHERE started_at < ?", &result.RunsDeleted},
	}
	for _, st := range steps {
		res, err := tx.ExecContext(ctx, st.query, bound)
		if err != nil {
			return result, fmt.Errorf("prune failed: %w", err)
		}
		*st.deleted, _ = res.RowsAffected()
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("prune failed to commit: %w", err)
	}
	return result, nil
}

// PruneOlderThan prunes runs older than retention. A zero retention keeps
// everything.
func (s *Store) PruneOlderThan(ctx context.Context, retention time.Duration) (PruneResult, error) {
	if retention <= 0 {
		return PruneResult{}, nil
	}
	return s.Prune(ctx, time.Now().Add(-retention))
}
