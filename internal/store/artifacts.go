package store

import (
	"context"
	"database/sql"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rcliao/agent-loop/internal/model"
)

// Artifact is one created file recorded in the index.
type Artifact struct {
	EventSeq  int64  `json:"event_seq"`
	IntentRef string `json:"intent_ref"`
	Path      string `json:"path"`
	Kind      string `json:"kind"`
	CreatedAt string `json:"created_at"`
}

func insertArtifact(ctx context.Context, tx *sql.Tx, ev model.Event, p string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO artifacts (event_seq, intent_ref, path, kind, created_at) VALUES (?, ?, ?, ?, ?)`,
		ev.Seq, ev.IntentRef, p, artifactKind(p), ev.Timestamp.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

// artifactKind classifies a created file by its extension.
func artifactKind(p string) string {
	switch strings.ToLower(path.Ext(p)) {
	case ".go":
		return "code"
	case ".jsx", ".tsx", ".js":
		return "component"
	case ".css":
		return "style"
	case ".json":
		return "document"
	case ".md", ".txt":
		return "text"
	default:
		return "other"
	}
}

// Artifacts returns the files recorded for an intent.
func (x *Index) Artifacts(ctx context.Context, intentID string) ([]Artifact, error) {
	rows, err := x.db.QueryContext(ctx,
		`SELECT event_seq, intent_ref, path, kind, created_at FROM artifacts
		 WHERE intent_ref = ? ORDER BY event_seq, path`, intentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.EventSeq, &a.IntentRef, &a.Path, &a.Kind, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
