// Package queue persists the ordered intent queue as a single JSON document.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/rcliao/agent-loop/internal/model"
	"github.com/rcliao/agent-loop/internal/schemas"
	"github.com/rcliao/agent-loop/internal/store"
)

// RejectedFile is the name of the file, next to the queue document, that
// holds records Sweep moved out of the queue.
const RejectedFile = "rejected_intents.jsonl"

var (
	ErrDuplicateIntent = errors.New("duplicate intent id")
	ErrUnknownIntent   = errors.New("unknown intent")
)

// Options configures a Queue.
type Options struct {
	Logger *zap.Logger
	Now    func() time.Time
}

// Queue is the intent queue document at path. Every operation takes the
// advisory lock, reads the document, and writes it back atomically, so
// out-of-process writers holding the same lock are safe.
type Queue struct {
	path   string
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex // guards entropy
	entropy *ulid.MonotonicEntropy
}

// Open returns the queue stored at path. The document is created on first
// write.
func Open(path string, opts Options) *Queue {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Queue{
		path:    path,
		logger:  opts.Logger.Named("queue"),
		now:     opts.Now,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// Path returns the queue document path.
func (q *Queue) Path() string { return q.path }

// NewID returns a ULID for t. IDs minted by one queue sort by creation.
func (q *Queue) NewID(t time.Time) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), q.entropy).String()
}

// Enqueue appends in. A missing ID or CreatedAt is filled in; the type is
// resolved to its canonical name.
func (q *Queue) Enqueue(in model.Intent) (model.Intent, error) {
	t, err := model.ParseIntentType(in.Type)
	if err != nil {
		return model.Intent{}, err
	}
	in.Type = string(t)
	if in.CreatedAt.IsZero() {
		in.CreatedAt = q.now().UTC()
	}
	if strings.TrimSpace(in.ID) == "" {
		in.ID = q.NewID(in.CreatedAt)
	}
	in.Executed = false
	in.ExecutedAt = nil
	in.Result = nil
	in.Attempts = 0
	in.LastError = ""

	err = q.update(func(doc []model.Intent) ([]model.Intent, error) {
		for _, it := range doc {
			if it.ID == in.ID {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateIntent, in.ID)
			}
		}
		return append(doc, in), nil
	})
	if err != nil {
		return model.Intent{}, err
	}
	q.logger.Debug("intent enqueued", zap.String("intent", in.ID), zap.String("type", in.Type))
	return in, nil
}

// Pending returns up to limit unexecuted intents, oldest first. Intents with
// equal created_at are ordered by ID.
func (q *Queue) Pending(limit int) ([]model.Intent, error) {
	doc, err := q.read()
	if err != nil {
		return nil, err
	}
	var out []model.Intent
	for _, it := range doc {
		if !it.Executed {
			out = append(out, it)
		}
	}
	sortIntents(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PendingCount returns the number of unexecuted intents.
func (q *Queue) PendingCount() (int, error) {
	doc, err := q.read()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, it := range doc {
		if !it.Executed {
			n++
		}
	}
	return n, nil
}

// All returns every intent in document order.
func (q *Queue) All() ([]model.Intent, error) {
	return q.read()
}

// Get returns the intent with the given ID.
func (q *Queue) Get(id string) (model.Intent, error) {
	doc, err := q.read()
	if err != nil {
		return model.Intent{}, err
	}
	for _, it := range doc {
		if it.ID == id {
			return it, nil
		}
	}
	return model.Intent{}, fmt.Errorf("%w: %s", ErrUnknownIntent, id)
}

// MarkExecuted records result on the intent. Marking an already-executed
// intent changes nothing and returns the stored result; the bool reports
// whether this call did the marking.
func (q *Queue) MarkExecuted(id string, result model.Result) (model.Result, bool, error) {
	var stored model.Result
	marked := false
	err := q.update(func(doc []model.Intent) ([]model.Intent, error) {
		i := indexOf(doc, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownIntent, id)
		}
		if doc[i].Executed {
			if doc[i].Result != nil {
				stored = *doc[i].Result
			}
			return nil, nil
		}
		at := q.now().UTC()
		r := result
		doc[i].Executed = true
		doc[i].ExecutedAt = &at
		doc[i].Result = &r
		stored = r
		marked = true
		return doc, nil
	})
	if err != nil {
		return model.Result{}, false, err
	}
	return stored, marked, nil
}

// RecordFailure increments the attempt counter of a pending intent and
// returns the updated intent.
func (q *Queue) RecordFailure(id string, cause string) (model.Intent, error) {
	var out model.Intent
	err := q.update(func(doc []model.Intent) ([]model.Intent, error) {
		i := indexOf(doc, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownIntent, id)
		}
		if !doc[i].Executed {
			doc[i].Attempts++
			doc[i].LastError = cause
		}
		out = doc[i]
		return doc, nil
	})
	return out, err
}

// Stamp identifies one version of the queue document on disk.
type Stamp struct {
	ModTime int64
	Size    int64
}

// Stamp returns the current document version. A missing document has the
// zero stamp.
func (q *Queue) Stamp() Stamp {
	info, err := os.Stat(q.path)
	if err != nil {
		return Stamp{}
	}
	return Stamp{ModTime: info.ModTime().UnixNano(), Size: info.Size()}
}

// Rejected is a record in the queue document that cannot be run: it lacks
// the intent envelope, or repeats an ID seen earlier in the document.
type Rejected struct {
	Position int             `json:"position"`
	ID       string          `json:"id,omitempty"`
	Reason   string          `json:"reason"`
	Record   json.RawMessage `json:"record"`
}

// document is the parsed queue file. Rejected records ride along untouched
// until Sweep moves them out.
type document struct {
	intents  []model.Intent
	rejected []Rejected
}

// RejectedPath returns the file that Sweep appends rejected records to.
func (q *Queue) RejectedPath() string {
	return filepath.Join(filepath.Dir(q.path), RejectedFile)
}

// Sweep moves rejected records out of the document into RejectedPath and
// returns them. It returns nothing when the document is clean.
func (q *Queue) Sweep() ([]Rejected, error) {
	lock, err := store.LockFile(q.path)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	doc, err := q.readUnlocked()
	if err != nil || len(doc.rejected) == 0 {
		return nil, err
	}
	if err := q.quarantine(doc.rejected); err != nil {
		return nil, err
	}
	if err := q.write(document{intents: doc.intents}); err != nil {
		return nil, err
	}
	for _, r := range doc.rejected {
		q.logger.Warn("intent record rejected",
			zap.Int("position", r.Position), zap.String("intent", r.ID), zap.String("reason", r.Reason))
	}
	return doc.rejected, nil
}

func (q *Queue) quarantine(rs []Rejected) error {
	path := q.RejectedPath()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return &store.Error{Op: "open rejected intents", Path: path, Err: err}
	}
	defer f.Close()

	at := q.now().UTC()
	enc := json.NewEncoder(f)
	for _, r := range rs {
		line := struct {
			RejectedAt time.Time `json:"rejected_at"`
			Rejected
		}{at, r}
		if err := enc.Encode(line); err != nil {
			return &store.Error{Op: "write rejected intents", Path: path, Err: err}
		}
	}
	if err := f.Sync(); err != nil {
		return &store.Error{Op: "sync rejected intents", Path: path, Err: err}
	}
	return nil
}

// update applies fn under the file lock. A nil slice from fn skips the write.
func (q *Queue) update(fn func([]model.Intent) ([]model.Intent, error)) error {
	lock, err := store.LockFile(q.path)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	doc, err := q.readUnlocked()
	if err != nil {
		return err
	}
	next, err := fn(doc.intents)
	if err != nil || next == nil {
		return err
	}
	return q.write(document{intents: next, rejected: doc.rejected})
}

// write replaces the document. Rejected records are kept verbatim after the
// intents.
func (q *Queue) write(doc document) error {
	out := make([]json.RawMessage, 0, len(doc.intents)+len(doc.rejected))
	for _, in := range doc.intents {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode intent %s: %w", in.ID, err)
		}
		out = append(out, b)
	}
	for _, r := range doc.rejected {
		out = append(out, r.Record)
	}
	return store.WriteJSONAtomic(q.path, out)
}

func (q *Queue) read() ([]model.Intent, error) {
	lock, err := store.LockFile(q.path)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()
	doc, err := q.readUnlocked()
	return doc.intents, err
}

// readUnlocked parses the document record by record. Only a document that is
// not an array fails as a whole.
func (q *Queue) readUnlocked() (document, error) {
	doc := document{intents: []model.Intent{}}
	data, err := os.ReadFile(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return document{}, &store.Error{Op: "read intents", Path: q.path, Err: err}
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return doc, nil
	}

	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return document{}, fmt.Errorf("%w: intent document is not an array: %v", model.ErrValidation, err)
	}

	seen := make(map[string]bool, len(records))
	for i, raw := range records {
		in, err := decodeRecord(raw)
		switch {
		case err != nil:
			doc.rejected = append(doc.rejected, Rejected{Position: i, ID: recordID(raw), Reason: err.Error(), Record: raw})
		case seen[in.ID]:
			doc.rejected = append(doc.rejected, Rejected{Position: i, ID: in.ID, Reason: ErrDuplicateIntent.Error(), Record: raw})
		default:
			seen[in.ID] = true
			doc.intents = append(doc.intents, in)
		}
	}
	if n := len(doc.rejected); n > 0 {
		q.logger.Debug("skipping rejected intent records", zap.Int("count", n))
	}
	return doc, nil
}

func decodeRecord(raw json.RawMessage) (model.Intent, error) {
	if err := schemas.Validate(schemas.Intent, raw); err != nil {
		return model.Intent{}, err
	}
	var in model.Intent
	if err := json.Unmarshal(raw, &in); err != nil {
		return model.Intent{}, fmt.Errorf("parse intent: %w", err)
	}
	return in, nil
}

// recordID extracts the id of a record that failed validation, if it has one.
func recordID(raw json.RawMessage) string {
	var r struct {
		ID any `json:"id"`
	}
	if json.Unmarshal(raw, &r) != nil {
		return ""
	}
	if id, ok := r.ID.(string); ok {
		return id
	}
	return ""
}

func indexOf(doc []model.Intent, id string) int {
	return slices.IndexFunc(doc, func(it model.Intent) bool { return it.ID == id })
}

func sortIntents(s []model.Intent) {
	slices.SortStableFunc(s, func(a, b model.Intent) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
