package store

import (
	"context"
	"fmt"
	"iter"

	"github.com/rcliao/agent-loop/internal/model"
)

// Rebuild replaces the index contents with the given events. Unreadable log
// lines are skipped. Returns the number of events indexed.
func (x *Index) Rebuild(ctx context.Context, events iter.Seq2[model.Event, error]) (int, error) {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM artifacts`); err != nil {
		return 0, fmt.Errorf("clear artifacts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM events`); err != nil {
		return 0, fmt.Errorf("clear events: %w", err)
	}

	n := 0
	for ev, err := range events {
		if err != nil {
			continue
		}
		if err := insertEvent(ctx, tx, ev); err != nil {
			return n, err
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}
