// Package store provides durable agent state on the local filesystem: the
// identity document with rotating backups, the append-only event log and an
// optional SQLite index over that log.
package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/rcliao/agent-loop/internal/model"
)

var (
	// ErrNotFound is returned when the identity document does not exist.
	ErrNotFound = errors.New("identity not found")

	// ErrCorrupt is returned when the identity document and every backup are
	// unreadable.
	ErrCorrupt = errors.New("identity and backups unreadable")
)

// Error is an I/O failure inside the store.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// SaveResult describes a completed identity save.
type SaveResult struct {
	Identity  model.Identity
	BackupID  string
	BackupErr error // non-nil when the save went through without a backup
}

// Backup is one identity backup on disk.
type Backup struct {
	ID   string    `json:"id"`
	Path string    `json:"path"`
	At   time.Time `json:"at"`
	seq  int
}

// EventQuery filters indexed event lookups.
type EventQuery struct {
	SinceCycle uint64
	IntentRef  string
	Text       string // full-text match against error and note
	Limit      int
}

// StateStore is the persistence surface the supervisor depends on.
type StateStore interface {
	// LoadIdentity returns the live identity. ErrNotFound when absent,
	// ErrCorrupt when the live document and all backups are unreadable.
	LoadIdentity() (model.Identity, error)

	// SaveIdentity validates, records the modification, writes a backup and
	// atomically replaces the live document.
	SaveIdentity(id model.Identity, reason string) (SaveResult, error)

	// Rollback restores the named backup after backing up the live document.
	Rollback(backupID string) (model.Identity, error)

	// Backups lists backups oldest first.
	Backups() ([]Backup, error)

	// AppendEvent appends one event and returns it with its sequence number.
	AppendEvent(ev model.Event) (model.Event, error)

	// Events iterates the log from the first event at or after since.
	Events(since time.Time) iter.Seq2[model.Event, error]

	// HasSuccess reports whether a success event references the intent.
	HasSuccess(ctx context.Context, intentID string) (bool, error)

	// RecentEvents returns the last n events, oldest first.
	RecentEvents(ctx context.Context, n int) ([]model.Event, error)

	// Counters aggregates outcomes by action type.
	Counters(ctx context.Context) (model.Counters, error)

	// SaveLoopState caches the latest counters snapshot.
	SaveLoopState(c model.Counters) error

	// Sync flushes the event log to stable storage.
	Sync() error

	// Close releases file handles.
	Close() error
}
