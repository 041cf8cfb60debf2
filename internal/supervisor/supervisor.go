// Package supervisor runs the agent heartbeat: each tick drains a few queued
// intents through the handlers, maybe generates a new one, and saves the
// updated identity. It also serves the read-only status snapshot.
package supervisor

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rcliao/agent-loop/internal/config"
	"github.com/rcliao/agent-loop/internal/generator"
	"github.com/rcliao/agent-loop/internal/model"
	"github.com/rcliao/agent-loop/internal/notify"
	"github.com/rcliao/agent-loop/internal/queue"
	"github.com/rcliao/agent-loop/internal/store"
)

// Dispatcher runs the handler for an intent. It never fails; errors come back
// as an unsuccessful result.
type Dispatcher interface {
	Dispatch(ctx context.Context, in model.Intent) model.Result
}

// Generator proposes new intents.
type Generator interface {
	Generate(id model.Identity, pending int) generator.Plan
}

// Queue is the intent queue surface the supervisor uses.
type Queue interface {
	Enqueue(in model.Intent) (model.Intent, error)
	Pending(limit int) ([]model.Intent, error)
	PendingCount() (int, error)
	MarkExecuted(id string, result model.Result) (model.Result, bool, error)
	RecordFailure(id string, cause string) (model.Intent, error)
	Sweep() ([]queue.Rejected, error)
	Stamp() queue.Stamp
	Path() string
}

// Config tunes the loop.
type Config struct {
	Interval     time.Duration // sleep between ticks
	Batch        int           // intents dispatched per tick
	FailureCap   int           // failures before an intent is poisoned
	RecentEvents int           // events in a status snapshot
	EnergyDelta  float64       // bound on the per-tick energy change
}

// DefaultConfig returns the default loop settings.
func DefaultConfig() Config {
	return Config{
		Interval:     15 * time.Second,
		Batch:        2,
		FailureCap:   3,
		RecentEvents: 20,
		EnergyDelta:  0.05,
	}
}

// ConfigFrom extracts loop settings from the application config.
func ConfigFrom(c *config.Config) Config {
	return Config{
		Interval:     c.Loop.Interval.Std(),
		Batch:        c.Loop.Batch,
		FailureCap:   c.Loop.FailureCap,
		RecentEvents: c.Loop.RecentEvents,
		EnergyDelta:  c.Loop.EnergyDelta,
	}
}

// Core holds every collaborator of the loop. Generator and Notifier are
// optional.
type Core struct {
	Store     store.StateStore
	Queue     Queue
	Handlers  Dispatcher
	Generator Generator
	Notifier  notify.Notifier
	Logger    *zap.Logger
	Now       func() time.Time
	Rand      *rand.Rand
	Config    Config
}

// maxDeferred bounds the store errors held for the next successful write.
const maxDeferred = 100

// Supervisor executes ticks one at a time. Every tick, status read and
// external enqueue holds mu.
type Supervisor struct {
	core   Core
	cfg    Config
	logger *zap.Logger
	run    string

	mu       sync.Mutex
	deferred []model.Event
	last     *model.Identity

	wake chan struct{}
}

// New returns a Supervisor over core.
func New(core Core) *Supervisor {
	def := DefaultConfig()
	cfg := core.Config
	if cfg.Batch <= 0 {
		cfg.Batch = def.Batch
	}
	if cfg.FailureCap <= 0 {
		cfg.FailureCap = def.FailureCap
	}
	if cfg.RecentEvents <= 0 {
		cfg.RecentEvents = def.RecentEvents
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.EnergyDelta < 0 {
		cfg.EnergyDelta = 0
	}
	if core.Logger == nil {
		core.Logger = zap.NewNop()
	}
	if core.Now == nil {
		core.Now = time.Now
	}
	if core.Rand == nil {
		core.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
	}
	if core.Notifier == nil {
		core.Notifier = notify.Nop{}
	}

	run := NewRunID(core.Now())
	return &Supervisor{
		core:   core,
		cfg:    cfg,
		logger: core.Logger.Named("supervisor").With(zap.String("run", run)),
		run:    run,
		wake:   make(chan struct{}, 1),
	}
}

// NewRunID returns an identifier for one process lifetime.
func NewRunID(t time.Time) string {
	return "run-" + t.UTC().Format("20060102-150405") + "-" + uuid.NewString()[:8]
}

// RunID returns this supervisor's run identifier.
func (s *Supervisor) RunID() string { return s.run }
