package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/agent-loop/internal/model"
)

const maxEventLine = 1 << 20

func (s *FileStore) openLog() error {
	path := s.EventsPath()

	var last int64
	torn := false
	for ev, err := range s.scanLog() {
		if err != nil {
			s.logger.Warn("skipping unreadable event line", zap.Error(err))
			continue
		}
		if ev.Seq > last {
			last = ev.Seq
		}
	}
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		torn = !endsWithNewline(path, info.Size())
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return &Error{Op: "open event log", Path: path, Err: err}
	}
	if torn {
		// A crash mid-append left a partial line; start the next record fresh.
		if _, err := f.Write([]byte{'\n'}); err != nil {
			f.Close()
			return &Error{Op: "repair event log", Path: path, Err: err}
		}
	}
	s.log = f
	s.seq = last
	return nil
}

func endsWithNewline(path string, size int64) bool {
	f, err := os.Open(path)
	if err != nil {
		return true
	}
	defer f.Close()
	buf := make([]byte, 1)
	if _, err := f.ReadAt(buf, size-1); err != nil {
		return true
	}
	return buf[0] == '\n'
}

// AppendEvent appends ev as one JSON line. The index is updated best-effort.
func (s *FileStore) AppendEvent(ev model.Event) (model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.log == nil {
		return ev, &Error{Op: "append event", Path: s.EventsPath(), Err: os.ErrClosed}
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now().UTC()
	}
	if !model.ValidOutcomes[ev.Outcome] {
		return ev, fmt.Errorf("%w: unknown outcome %q", model.ErrValidation, ev.Outcome)
	}
	ev.Seq = s.seq + 1

	line, err := json.Marshal(ev)
	if err != nil {
		return ev, fmt.Errorf("encode event: %w", err)
	}
	if _, err := s.log.Write(append(line, '\n')); err != nil {
		return ev, &Error{Op: "append event", Path: s.EventsPath(), Err: err}
	}
	s.seq = ev.Seq

	if s.index != nil {
		if err := s.index.Insert(context.Background(), ev); err != nil {
			s.logger.Warn("index event", zap.Int64("seq", ev.Seq), zap.Error(err))
		}
	}
	return ev, nil
}

// Sync flushes the event log.
func (s *FileStore) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.log == nil {
		return nil
	}
	if err := s.log.Sync(); err != nil {
		return &Error{Op: "sync event log", Path: s.EventsPath(), Err: err}
	}
	return nil
}

// Events iterates the log from disk. Each range re-reads the file, so the
// sequence can be restarted.
func (s *FileStore) Events(since time.Time) iter.Seq2[model.Event, error] {
	return func(yield func(model.Event, error) bool) {
		for ev, err := range s.scanLog() {
			if err != nil {
				if !yield(model.Event{}, err) {
					return
				}
				continue
			}
			if ev.Timestamp.Before(since) {
				continue
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

func (s *FileStore) scanLog() iter.Seq2[model.Event, error] {
	return func(yield func(model.Event, error) bool) {
		f, err := os.Open(s.EventsPath())
		if err != nil {
			if !os.IsNotExist(err) {
				yield(model.Event{}, &Error{Op: "open event log", Path: s.EventsPath(), Err: err})
			}
			return
		}
		defer f.Close()
		readEvents(f, yield)
	}
}

func readEvents(r io.Reader, yield func(model.Event, error) bool) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxEventLine)
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		var ev model.Event
		if err := json.Unmarshal(b, &ev); err != nil {
			if !yield(model.Event{}, fmt.Errorf("event line %d: %w", line, err)) {
				return
			}
			continue
		}
		if !yield(ev, nil) {
			return
		}
	}
	if err := sc.Err(); err != nil {
		yield(model.Event{}, fmt.Errorf("scan event log: %w", err))
	}
}

// HasSuccess reports whether a success event references intentID.
func (s *FileStore) HasSuccess(ctx context.Context, intentID string) (bool, error) {
	if s.index != nil {
		ok, err := s.index.HasSuccess(ctx, intentID)
		if err == nil {
			return ok, nil
		}
		s.logger.Warn("index lookup failed, scanning log", zap.Error(err))
	}
	for ev, err := range s.scanLog() {
		if err != nil {
			continue
		}
		if ev.IntentRef == intentID && ev.Outcome == model.OutcomeSuccess {
			return true, nil
		}
	}
	return false, nil
}

// RecentEvents returns the last n events, oldest first.
func (s *FileStore) RecentEvents(ctx context.Context, n int) ([]model.Event, error) {
	if n <= 0 {
		return nil, nil
	}
	if s.index != nil {
		evs, err := s.index.Recent(ctx, n)
		if err == nil {
			return evs, nil
		}
		s.logger.Warn("index recent failed, scanning log", zap.Error(err))
	}
	ring := make([]model.Event, 0, n)
	for ev, err := range s.scanLog() {
		if err != nil {
			continue
		}
		if len(ring) == n {
			ring = append(ring[:0], ring[1:]...)
		}
		ring = append(ring, ev)
	}
	return ring, nil
}

// Counters aggregates event outcomes. Cycles is left for the caller, which
// owns the identity.
func (s *FileStore) Counters(ctx context.Context) (model.Counters, error) {
	if s.index != nil {
		c, err := s.index.Counters(ctx)
		if err == nil {
			return c, nil
		}
		s.logger.Warn("index counters failed, scanning log", zap.Error(err))
	}
	var c model.Counters
	for ev, err := range s.scanLog() {
		if err != nil {
			continue
		}
		countEvent(&c, ev)
	}
	return c, nil
}

func countEvent(c *model.Counters, ev model.Event) {
	addCount(c, ev.ActionType, ev.Outcome, ev.IntentRef != "", 1)
}

func addCount(c *model.Counters, action string, outcome model.Outcome, hasIntent bool, n int) {
	switch outcome {
	case model.OutcomeError:
		c.Errors += n
	case model.OutcomeDegraded:
		c.Degraded += n
	case model.OutcomeSuccess:
		if !hasIntent {
			return
		}
		switch model.IntentType(action) {
		case model.IntentCreateAgent:
			c.AgentsCreated += n
		case model.IntentCreateRoom:
			c.RoomsCreated += n
		case model.IntentCreateTool:
			c.ToolsCreated += n
		case model.IntentEvolveUI:
			c.UIsEvolved += n
		}
	}
}

// Reindex rebuilds the SQLite index from the log.
func (s *FileStore) Reindex(ctx context.Context) (int, error) {
	if s.index == nil {
		return 0, fmt.Errorf("event index disabled")
	}
	return s.index.Rebuild(ctx, s.scanLog())
}

func (s *FileStore) reconcileIndex(ctx context.Context) error {
	n, err := s.index.Count(ctx)
	if err != nil {
		return err
	}
	var lines int64
	for _, err := range s.scanLog() {
		if err == nil {
			lines++
		}
	}
	if n == lines {
		return nil
	}
	s.logger.Info("rebuilding event index", zap.Int64("indexed", n), zap.Int64("logged", lines))
	_, err = s.index.Rebuild(ctx, s.scanLog())
	return err
}
