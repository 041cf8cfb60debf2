package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rcliao/agent-loop/internal/model"
	"github.com/rcliao/agent-loop/internal/store"
)

// Snapshot is a point-in-time view of the agent for external observers.
type Snapshot struct {
	Run            string         `json:"run"`
	Identity       model.Identity `json:"identity"`
	PendingCount   int            `json:"pending_count"`
	RecentEvents   []model.Event  `json:"recent_events"`
	Counters       model.Counters `json:"counters"`
	DeferredErrors int            `json:"deferred_errors,omitempty"`
	TakenAt        time.Time      `json:"taken_at"`
}

// Status returns a snapshot taken under the loop lock, so it never observes
// a tick half done.
func (s *Supervisor) Status(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.core.Store.LoadIdentity()
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		id = model.DefaultIdentity()
	case s.last != nil:
		id = s.last.Clone()
	default:
		return Snapshot{}, fmt.Errorf("load identity: %w", err)
	}

	pending, err := s.core.Queue.PendingCount()
	if err != nil {
		return Snapshot{}, fmt.Errorf("count pending: %w", err)
	}
	recent, err := s.core.Store.RecentEvents(ctx, s.cfg.RecentEvents)
	if err != nil {
		return Snapshot{}, fmt.Errorf("recent events: %w", err)
	}
	if recent == nil {
		recent = []model.Event{}
	}
	counters, err := s.core.Store.Counters(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("count events: %w", err)
	}
	counters.Cycles = id.CycleCount

	return Snapshot{
		Run:            s.run,
		Identity:       id.Clone(),
		PendingCount:   pending,
		RecentEvents:   recent,
		Counters:       counters,
		DeferredErrors: len(s.deferred),
		TakenAt:        s.core.Now().UTC(),
	}, nil
}

// Enqueue adds an intent from outside the loop and wakes it.
func (s *Supervisor) Enqueue(in model.Intent) (model.Intent, error) {
	s.mu.Lock()
	out, err := s.core.Queue.Enqueue(in)
	s.mu.Unlock()
	if err != nil {
		return model.Intent{}, err
	}
	s.Wake()
	return out, nil
}
