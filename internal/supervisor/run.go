package supervisor

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/rcliao/agent-loop/internal/model"
	"github.com/rcliao/agent-loop/internal/notify"
)

// Run ticks until ctx is cancelled, then records a shutdown event. It
// returns an error only when the identity and all its backups are
// unreadable.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("supervisor started", zap.Duration("interval", s.cfg.Interval), zap.Int("batch", s.cfg.Batch))
	for ctx.Err() == nil {
		rep := s.Tick(ctx)
		if rep.Err != nil {
			s.core.Notifier.Notify(notify.LevelError, "agent-loop stopped", rep.Err.Error())
			return fmt.Errorf("cycle %d: %w", rep.Cycle, rep.Err)
		}
		s.sleep(ctx)
	}
	s.shutdown()
	return nil
}

// sleep waits for the interval, cancellation, or a queue change made by
// someone other than the loop itself.
func (s *Supervisor) sleep(ctx context.Context) {
	stamp := s.core.Queue.Stamp()
	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case <-s.wake:
			if s.core.Queue.Stamp() != stamp {
				s.logger.Debug("intent queue changed, waking early")
				return
			}
		}
	}
}

// Wake asks a sleeping loop to check the queue for new intents.
func (s *Supervisor) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// WatchQueue wakes the loop whenever the intent document is replaced or
// written. It returns when ctx is cancelled.
func (s *Supervisor) WatchQueue(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create queue watcher: %w", err)
	}
	defer w.Close()

	path := s.core.Queue.Path()
	dir, name := filepath.Dir(path), filepath.Base(path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	s.logger.Debug("watching intent queue", zap.String("path", path))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) == name && ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				s.Wake()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("queue watcher", zap.Error(err))
		}
	}
}

func (s *Supervisor) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cycle uint64
	if s.last != nil {
		cycle = s.last.CycleCount
	}
	s.record(model.Event{
		Cycle:      cycle,
		ActionType: model.ActionShutdown,
		Outcome:    model.OutcomeSuccess,
		Note:       "run " + s.run,
	})
	if err := s.core.Store.Sync(); err != nil {
		s.logger.Warn("sync event log", zap.Error(err))
	}
	if n := len(s.deferred); n > 0 {
		s.logger.Warn("exiting with unwritten error events", zap.Int("count", n))
	}
	s.core.Notifier.Notify(notify.LevelInfo, "agent-loop shutting down", fmt.Sprintf("stopped after cycle %d", cycle))
	s.logger.Info("supervisor stopped", zap.Uint64("cycle", cycle))
}
