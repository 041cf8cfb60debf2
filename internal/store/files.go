package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/agent-loop/internal/model"
)

// Filesystem layout under the root.
const (
	IdentityFile   = "identity.json"
	BackupDir      = "identity_backups"
	DataDir        = "data"
	IntentsFile    = "pending_intents.json"
	EventsFile     = "events.log"
	LoopStateFile  = "loop_state.json"
	IndexFile      = "events.db"
	backupPrefix   = "identity_backup_"
	pinFile        = ".restored"
	backupExt      = ".json"
	backupStampFmt = "20060102_150405"
)

// DefaultKeepBackups is the number of identity backups retained.
const DefaultKeepBackups = 10

// Options configures a FileStore.
type Options struct {
	KeepBackups int
	Index       bool // maintain data/events.db
	Logger      *zap.Logger
	Now         func() time.Time
}

// FileStore implements StateStore on a directory tree.
type FileStore struct {
	root   string
	keep   int
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex // guards log and seq
	log   *os.File
	seq   int64
	index *Index
}

// Open prepares the layout under root and opens the event log (and index).
func Open(root string, opts Options) (*FileStore, error) {
	if opts.KeepBackups <= 0 {
		opts.KeepBackups = DefaultKeepBackups
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	for _, d := range []string{root, filepath.Join(root, BackupDir), filepath.Join(root, DataDir)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, &Error{Op: "create dir", Path: d, Err: err}
		}
	}

	s := &FileStore{
		root:   root,
		keep:   opts.KeepBackups,
		logger: opts.Logger.Named("store"),
		now:    opts.Now,
	}

	if err := s.openLog(); err != nil {
		return nil, err
	}

	if opts.Index {
		idx, err := OpenIndex(s.IndexPath())
		if err != nil {
			// The log stays authoritative; run without the index.
			s.logger.Warn("event index unavailable", zap.Error(err))
		} else {
			s.index = idx
			if err := s.reconcileIndex(context.Background()); err != nil {
				s.logger.Warn("event index rebuild failed", zap.Error(err))
			}
		}
	}

	return s, nil
}

// Root returns the store root directory.
func (s *FileStore) Root() string { return s.root }

// IdentityPath returns the live identity document path.
func (s *FileStore) IdentityPath() string { return filepath.Join(s.root, IdentityFile) }

// IntentsPath returns the intent queue document path.
func (s *FileStore) IntentsPath() string { return filepath.Join(s.root, DataDir, IntentsFile) }

// EventsPath returns the event log path.
func (s *FileStore) EventsPath() string { return filepath.Join(s.root, DataDir, EventsFile) }

// IndexPath returns the SQLite index path.
func (s *FileStore) IndexPath() string { return filepath.Join(s.root, DataDir, IndexFile) }

// Index returns the event index, or nil when disabled.
func (s *FileStore) Index() *Index { return s.index }

func (s *FileStore) backupDir() string { return filepath.Join(s.root, BackupDir) }

// LoadIdentity reads the live document, falling back to the newest readable
// backup when the live document is corrupt.
func (s *FileStore) LoadIdentity() (model.Identity, error) {
	path := s.IdentityPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.Identity{}, ErrNotFound
		}
		return model.Identity{}, &Error{Op: "read identity", Path: path, Err: err}
	}

	id, perr := decodeIdentity(data)
	if perr == nil {
		return id, nil
	}
	s.logger.Warn("identity document unreadable, trying backups", zap.Error(perr))

	backups, err := s.Backups()
	if err != nil {
		return model.Identity{}, err
	}
	for i := len(backups) - 1; i >= 0; i-- {
		b := backups[i]
		raw, err := os.ReadFile(b.Path)
		if err != nil {
			continue
		}
		restored, err := decodeIdentity(raw)
		if err != nil {
			continue
		}
		if err := WriteFileAtomic(path, raw, 0o644); err != nil {
			return model.Identity{}, err
		}
		s.logger.Warn("identity restored from backup", zap.String("backup", b.ID))
		return restored, nil
	}
	return model.Identity{}, fmt.Errorf("%w: %v", ErrCorrupt, perr)
}

func decodeIdentity(data []byte) (model.Identity, error) {
	var id model.Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return model.Identity{}, fmt.Errorf("parse identity: %w", err)
	}
	if err := id.Normalize(); err != nil {
		return model.Identity{}, err
	}
	return id, nil
}

// SaveIdentity validates id, records the modification, writes the backup and
// then atomically replaces the live document. A failed backup does not block
// the save; it is reported in SaveResult.BackupErr.
func (s *FileStore) SaveIdentity(id model.Identity, reason string) (SaveResult, error) {
	doc := id.Clone()
	if err := doc.Normalize(); err != nil {
		return SaveResult{}, err
	}
	now := s.now().UTC()
	doc.RecordModification(now, reason)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return SaveResult{}, fmt.Errorf("encode identity: %w", err)
	}
	data = append(data, '\n')

	res := SaveResult{Identity: doc}
	res.BackupID, res.BackupErr = s.writeBackup(data, now)
	if res.BackupErr != nil {
		s.logger.Warn("identity backup failed", zap.Error(res.BackupErr))
	}

	if err := WriteFileAtomic(s.IdentityPath(), data, 0o644); err != nil {
		return SaveResult{}, err
	}

	if res.BackupErr == nil {
		if err := s.pruneBackups(); err != nil {
			s.logger.Warn("prune backups", zap.Error(err))
		}
	}
	return res, nil
}

// Rollback replaces the live document with the named backup. The current live
// document is backed up first and a rollback event is appended.
func (s *FileStore) Rollback(backupID string) (model.Identity, error) {
	target := filepath.Join(s.backupDir(), backupPrefix+backupID+backupExt)
	raw, err := os.ReadFile(target)
	if err != nil {
		if os.IsNotExist(err) {
			return model.Identity{}, fmt.Errorf("backup %q: %w", backupID, os.ErrNotExist)
		}
		return model.Identity{}, &Error{Op: "read backup", Path: target, Err: err}
	}
	restored, err := decodeIdentity(raw)
	if err != nil {
		return model.Identity{}, fmt.Errorf("backup %q: %w", backupID, err)
	}

	now := s.now().UTC()
	if current, err := os.ReadFile(s.IdentityPath()); err == nil {
		if _, err := s.writeBackup(current, now); err != nil {
			return model.Identity{}, fmt.Errorf("pre-rollback backup: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return model.Identity{}, &Error{Op: "read identity", Path: s.IdentityPath(), Err: err}
	}

	if err := WriteFileAtomic(s.IdentityPath(), raw, 0o644); err != nil {
		return model.Identity{}, err
	}

	if err := WriteFileAtomic(s.pinPath(), []byte(backupID+"\n"), 0o644); err != nil {
		s.logger.Warn("pin restored backup", zap.String("backup", backupID), zap.Error(err))
	}

	if _, err := s.AppendEvent(model.Event{
		Timestamp:  now,
		Cycle:      restored.CycleCount,
		ActionType: model.ActionRollback,
		Outcome:    model.OutcomeSuccess,
		Note:       "restored " + backupID,
	}); err != nil {
		return restored, err
	}
	if err := s.pruneBackups(); err != nil {
		s.logger.Warn("prune backups", zap.Error(err))
	}
	return restored, nil
}

// writeBackup stores data as a new backup stamped at now. Same-second
// collisions get a numeric suffix.
func (s *FileStore) writeBackup(data []byte, now time.Time) (string, error) {
	stamp := now.Format(backupStampFmt)
	id := stamp
	for n := 2; ; n++ {
		path := filepath.Join(s.backupDir(), backupPrefix+id+backupExt)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := WriteFileAtomic(path, data, 0o644); err != nil {
				return "", err
			}
			return id, nil
		} else if err != nil {
			return "", &Error{Op: "stat backup", Path: path, Err: err}
		}
		id = stamp + "_" + strconv.Itoa(n)
	}
}

// Backups lists identity backups oldest first.
func (s *FileStore) Backups() ([]Backup, error) {
	entries, err := os.ReadDir(s.backupDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &Error{Op: "list backups", Path: s.backupDir(), Err: err}
	}

	var out []Backup
	for _, e := range entries {
		b, ok := parseBackupName(e.Name())
		if !ok || e.IsDir() {
			continue
		}
		b.Path = filepath.Join(s.backupDir(), e.Name())
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		return out[i].seq < out[j].seq
	})
	return out, nil
}

func parseBackupName(name string) (Backup, bool) {
	if !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, backupExt) {
		return Backup{}, false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(name, backupPrefix), backupExt)
	if len(id) < len(backupStampFmt) {
		return Backup{}, false
	}
	at, err := time.Parse(backupStampFmt, id[:len(backupStampFmt)])
	if err != nil {
		return Backup{}, false
	}
	seq := 1
	if rest := id[len(backupStampFmt):]; rest != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(rest, "_"))
		if err != nil || !strings.HasPrefix(rest, "_") {
			return Backup{}, false
		}
		seq = n
	}
	return Backup{ID: id, At: at, seq: seq}, true
}

func (s *FileStore) pinPath() string { return filepath.Join(s.backupDir(), pinFile) }

// pinned returns the ID of the backup most recently restored by Rollback.
func (s *FileStore) pinned() string {
	b, err := os.ReadFile(s.pinPath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// pruneBackups deletes the oldest backups beyond the limit. The backup last
// restored by Rollback is kept so the same rollback can be repeated.
func (s *FileStore) pruneBackups() error {
	backups, err := s.Backups()
	if err != nil {
		return err
	}
	pin := s.pinned()
	var errs []error
	excess := len(backups) - s.keep
	for _, b := range backups {
		if excess <= 0 {
			break
		}
		if b.ID == pin {
			continue
		}
		if err := os.Remove(b.Path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
		excess--
	}
	return errors.Join(errs...)
}

// SaveLoopState writes the counters cache.
func (s *FileStore) SaveLoopState(c model.Counters) error {
	state := struct {
		model.Counters
		UpdatedAt time.Time `json:"updated_at"`
	}{c, s.now().UTC()}
	return WriteJSONAtomic(filepath.Join(s.root, DataDir, LoopStateFile), state)
}

// Close closes the event log and index.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.log != nil {
		errs = append(errs, s.log.Close())
		s.log = nil
	}
	if s.index != nil {
		errs = append(errs, s.index.Close())
		s.index = nil
	}
	return errors.Join(errs...)
}
