package store

import (
	"context"
	"os"
)

// IndexStats holds index statistics.
type IndexStats struct {
	DBPath      string      `json:"db_path"`
	DBSizeBytes int64       `json:"db_size_bytes"`
	Events      int         `json:"events"`
	Artifacts   int         `json:"artifacts"`
	Kinds       []KindStats `json:"kinds"`
}

// KindStats holds per-kind artifact counts.
type KindStats struct {
	Kind    string `json:"kind"`
	Count   int    `json:"count"`
	Intents int    `json:"intents"`
}

// Stats returns index statistics.
func (x *Index) Stats(ctx context.Context) (*IndexStats, error) {
	st := &IndexStats{DBPath: x.path}

	if info, err := os.Stat(x.path); err == nil {
		st.DBSizeBytes = info.Size()
	}

	x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&st.Events)
	x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM artifacts`).Scan(&st.Artifacts)

	rows, err := x.db.QueryContext(ctx, `
		SELECT kind, COUNT(*) AS cnt, COUNT(DISTINCT intent_ref) AS intents
		FROM artifacts GROUP BY kind ORDER BY cnt DESC`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var k KindStats
		rows.Scan(&k.Kind, &k.Count, &k.Intents)
		st.Kinds = append(st.Kinds, k)
	}

	return st, nil
}
