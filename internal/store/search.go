package store

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/rcliao/agent-loop/internal/model"
)

// Search returns indexed events matching q, newest first.
func (x *Index) Search(ctx context.Context, q EventQuery) ([]model.Event, error) {
	where := []string{"1 = 1"}
	args := []any{}

	if q.SinceCycle > 0 {
		where = append(where, "cycle >= ?")
		args = append(args, q.SinceCycle)
	}
	if q.IntentRef != "" {
		where = append(where, "intent_ref = ?")
		args = append(args, q.IntentRef)
	}
	if q.Text != "" {
		like := "%" + q.Text + "%"
		where = append(where, "(error LIKE ? OR note LIKE ? OR action_type LIKE ?)")
		args = append(args, like, like, like)
	}

	query := fmt.Sprintf(`SELECT raw FROM events WHERE %s ORDER BY seq DESC LIMIT ?`,
		strings.Join(where, " AND "))
	args = append(args, searchLimit(q.Limit))

	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanRaw(rows)
}

// SearchEvents queries the index, or scans the log when the index is off.
func (s *FileStore) SearchEvents(ctx context.Context, q EventQuery) ([]model.Event, error) {
	if s.index != nil {
		return s.index.Search(ctx, q)
	}

	var out []model.Event
	text := strings.ToLower(q.Text)
	for ev, err := range s.scanLog() {
		if err != nil {
			continue
		}
		if ev.Cycle < q.SinceCycle {
			continue
		}
		if q.IntentRef != "" && ev.IntentRef != q.IntentRef {
			continue
		}
		if text != "" &&
			!strings.Contains(strings.ToLower(ev.Error), text) &&
			!strings.Contains(strings.ToLower(ev.Note), text) &&
			!strings.Contains(strings.ToLower(ev.ActionType), text) {
			continue
		}
		out = append(out, ev)
	}
	slices.Reverse(out)
	if limit := searchLimit(q.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func searchLimit(n int) int {
	if n <= 0 {
		return 20
	}
	return n
}
