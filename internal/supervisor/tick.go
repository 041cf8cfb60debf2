package supervisor

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/rcliao/agent-loop/internal/generator"
	"github.com/rcliao/agent-loop/internal/model"
	"github.com/rcliao/agent-loop/internal/notify"
	"github.com/rcliao/agent-loop/internal/store"
	"github.com/rcliao/agent-loop/internal/thought"
)

// TickReport summarizes one tick.
type TickReport struct {
	Cycle     uint64
	Executed  int
	Replayed  int // successes already recorded by an earlier run
	Failed    int
	Poisoned  int
	Rejected  int // malformed or duplicate queue records moved aside
	Reason    generator.Reason
	Generated *model.Intent
	Outcome   model.Outcome
	Err       error // unrecoverable; the loop must stop
}

// Summary is a one-line description of the tick.
func (r TickReport) Summary() string {
	s := fmt.Sprintf("executed %d, failed %d", r.Executed, r.Failed)
	if r.Poisoned > 0 {
		s += fmt.Sprintf(", poisoned %d", r.Poisoned)
	}
	if r.Rejected > 0 {
		s += fmt.Sprintf(", rejected %d", r.Rejected)
	}
	if r.Generated != nil {
		s += ", generated " + r.Generated.Type
	}
	return s
}

// Tick runs one iteration of the loop. Cancelling ctx never interrupts a
// handler; it stops the tick from starting further handlers or generating.
func (s *Supervisor) Tick(ctx context.Context) TickReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick(ctx)
}

func (s *Supervisor) tick(ctx context.Context) TickReport {
	var rep TickReport

	id, loaded, loadErr := s.loadIdentity()
	if errors.Is(loadErr, store.ErrCorrupt) {
		s.logger.Error("identity unreadable", zap.Error(loadErr))
		rep.Err = loadErr
		rep.Outcome = model.OutcomeDegraded
		return rep
	}
	rep.Cycle = id.CycleCount + 1
	log := s.logger.With(zap.Uint64("cycle", rep.Cycle))

	s.sweep(&rep, log)

	// The generator sees the backlog as it stood when the tick began.
	pending, pendingErr := s.core.Queue.PendingCount()

	hctx := context.WithoutCancel(ctx)
	s.drain(ctx, hctx, &id, &rep, log)

	var text string
	switch {
	case s.core.Generator == nil || !loaded || ctx.Err() != nil:
	case pendingErr != nil:
		log.Warn("count pending intents", zap.Error(pendingErr))
	default:
		text = s.generate(id, pending, &rep, log)
	}

	ev := model.Event{Cycle: rep.Cycle, ActionType: model.ActionTick}
	cycles := rep.Cycle - 1
	if loaded {
		s.advance(&id, text)
		res, err := s.core.Store.SaveIdentity(id, "tick")
		switch {
		case err != nil:
			log.Error("save identity", zap.Error(err))
			ev.Outcome, ev.Error = model.OutcomeDegraded, "save: "+err.Error()
		case res.BackupErr != nil:
			ev.Outcome, ev.Error = model.OutcomeDegraded, "backup: "+res.BackupErr.Error()
		default:
			ev.Outcome = model.OutcomeSuccess
		}
		if err == nil {
			saved := res.Identity.Clone()
			s.last = &saved
			cycles = saved.CycleCount
		}
	} else {
		ev.Outcome, ev.Error = model.OutcomeDegraded, "load: "+loadErr.Error()
	}
	rep.Outcome = ev.Outcome
	ev.Note = rep.Summary()
	s.record(ev)

	if err := s.core.Store.Sync(); err != nil {
		log.Warn("sync event log", zap.Error(err))
	}
	counters, err := s.core.Store.Counters(hctx)
	if err != nil {
		log.Warn("count events", zap.Error(err))
	} else {
		counters.Cycles = cycles
		if err := s.core.Store.SaveLoopState(counters); err != nil {
			log.Warn("save loop state", zap.Error(err))
		}
	}

	s.notifyTick(rep)
	log.Info("tick complete",
		zap.String("outcome", string(rep.Outcome)),
		zap.Int("executed", rep.Executed),
		zap.Int("failed", rep.Failed),
		zap.Bool("generated", rep.Generated != nil))
	return rep
}

// loadIdentity returns the identity for this tick. A missing document seeds
// the default. loaded is false when the store failed and the tick must not
// save.
func (s *Supervisor) loadIdentity() (id model.Identity, loaded bool, err error) {
	id, err = s.core.Store.LoadIdentity()
	switch {
	case err == nil:
		return id, true, nil
	case errors.Is(err, store.ErrNotFound):
		s.logger.Info("no identity found, seeding default")
		return model.DefaultIdentity(), true, nil
	case errors.Is(err, store.ErrCorrupt):
		return model.Identity{}, false, err
	}
	s.logger.Error("load identity", zap.Error(err))
	if s.last != nil {
		return s.last.Clone(), false, err
	}
	return model.DefaultIdentity(), false, err
}

// sweep moves unrunnable queue records aside, one error event each.
func (s *Supervisor) sweep(rep *TickReport, log *zap.Logger) {
	rejected, err := s.core.Queue.Sweep()
	if err != nil {
		log.Error("sweep intent queue", zap.Error(err))
		s.record(model.Event{Cycle: rep.Cycle, ActionType: model.ActionQueue, Outcome: model.OutcomeError, Error: "sweep: " + err.Error()})
		return
	}
	for _, r := range rejected {
		s.record(model.Event{
			Cycle:      rep.Cycle,
			IntentRef:  r.ID,
			ActionType: model.ActionQueue,
			Outcome:    model.OutcomeError,
			Error:      "rejected record: " + r.Reason,
			Note:       fmt.Sprintf("position %d", r.Position),
		})
	}
	rep.Rejected = len(rejected)
}

func (s *Supervisor) drain(ctx, hctx context.Context, id *model.Identity, rep *TickReport, log *zap.Logger) {
	pending, err := s.core.Queue.Pending(s.cfg.Batch)
	if err != nil {
		log.Error("read intent queue", zap.Error(err))
		s.record(model.Event{Cycle: rep.Cycle, ActionType: model.ActionQueue, Outcome: model.OutcomeError, Error: err.Error()})
		return
	}
	for _, in := range pending {
		if ctx.Err() != nil {
			log.Info("shutdown requested, leaving intents queued")
			return
		}
		s.execute(hctx, in, id, rep, log)
	}
}

func (s *Supervisor) execute(ctx context.Context, in model.Intent, id *model.Identity, rep *TickReport, log *zap.Logger) {
	log = log.With(zap.String("intent", in.ID), zap.String("type", in.Type))
	action := in.Type
	if t, err := model.ParseIntentType(in.Type); err == nil {
		action = string(t)
	}

	replay, err := s.core.Store.HasSuccess(ctx, in.ID)
	if err != nil {
		log.Warn("success lookup", zap.Error(err))
	}

	res := s.core.Handlers.Dispatch(ctx, in)
	if res.Success {
		if replay {
			rep.Replayed++
			log.Info("success already recorded, marking executed")
		} else {
			s.record(model.Event{
				Cycle:        rep.Cycle,
				IntentRef:    in.ID,
				ActionType:   action,
				Outcome:      model.OutcomeSuccess,
				FilesCreated: res.FilesCreated,
				Attempt:      in.Attempts + 1,
			})
		}
		if _, _, err := s.core.Queue.MarkExecuted(in.ID, res); err != nil {
			log.Error("mark executed", zap.Error(err))
			s.record(model.Event{Cycle: rep.Cycle, IntentRef: in.ID, ActionType: model.ActionQueue, Outcome: model.OutcomeError, Error: "mark executed: " + err.Error()})
		}
		rep.Executed++
		if res.Name != "" && !slices.Contains(id.CreatedEntities, res.Name) {
			id.CreatedEntities = append(id.CreatedEntities, res.Name)
		}
		return
	}

	attempt := in.Attempts + 1
	if updated, err := s.core.Queue.RecordFailure(in.ID, res.Error); err != nil {
		log.Error("record failure", zap.Error(err))
	} else {
		attempt = updated.Attempts
	}
	poisoned := attempt >= s.cfg.FailureCap
	s.record(model.Event{
		Cycle:      rep.Cycle,
		IntentRef:  in.ID,
		ActionType: action,
		Outcome:    model.OutcomeError,
		Error:      res.Error,
		Attempt:    attempt,
		Poisoned:   poisoned,
	})
	rep.Failed++

	if !poisoned {
		log.Warn("intent failed", zap.Int("attempt", attempt), zap.String("error", res.Error))
		return
	}
	if _, _, err := s.core.Queue.MarkExecuted(in.ID, res); err != nil {
		log.Error("mark poisoned intent", zap.Error(err))
		return
	}
	rep.Poisoned++
	log.Warn("intent poisoned", zap.Int("attempts", attempt), zap.String("error", res.Error))
}

// generate asks the generator for an intent and returns the thought it used.
func (s *Supervisor) generate(id model.Identity, pending int, rep *TickReport, log *zap.Logger) string {
	plan := s.core.Generator.Generate(id, pending)
	rep.Reason = plan.Reason
	if plan.Intent == nil {
		return plan.Thought.Text
	}
	in, err := s.core.Queue.Enqueue(*plan.Intent)
	if err != nil {
		log.Error("enqueue generated intent", zap.Error(err))
		s.record(model.Event{Cycle: rep.Cycle, ActionType: model.ActionGenerate, Outcome: model.OutcomeError, Error: err.Error()})
		return plan.Thought.Text
	}
	rep.Generated = &in
	log.Info("intent generated", zap.String("intent", in.ID), zap.String("type", in.Type), zap.Float64("motivation", plan.Motivation))
	return plan.Thought.Text
}

// traitDrift nudges curiosity, creativity and stress toward the mood.
var traitDrift = map[model.Mood][3]float64{
	model.MoodCurious:       {0.01, 0, 0},
	model.MoodCreative:      {0, 0.01, 0},
	model.MoodContemplative: {0, 0, -0.01},
	model.MoodEnergetic:     {0, 0.005, -0.005},
	model.MoodDetermined:    {0, 0, 0.01},
	model.MoodAnalytical:    {0.005, 0, 0.005},
}

// advance applies the per-tick identity update.
func (s *Supervisor) advance(id *model.Identity, text string) {
	id.CycleCount++
	if d := s.cfg.EnergyDelta; d > 0 {
		id.Energy = model.Clamp01(id.Energy + (s.core.Rand.Float64()*2-1)*d)
	}
	if mood, ok := thought.MoodFor(text); ok {
		id.Mood = mood
	}
	if d, ok := traitDrift[id.Mood]; ok {
		id.Curiosity = model.Clamp01(id.Curiosity + d[0])
		id.Creativity = model.Clamp01(id.Creativity + d[1])
		id.Stress = model.Clamp01(id.Stress + d[2])
	}
}

// record appends ev after any deferred errors. A failed append is kept and
// written as an error event on the next successful write.
func (s *Supervisor) record(ev model.Event) bool {
	ev.Run = s.run
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.core.Now().UTC()
	}
	s.flushDeferred()
	if _, err := s.core.Store.AppendEvent(ev); err != nil {
		s.logger.Error("append event", zap.String("action", ev.ActionType), zap.Error(err))
		s.deferError(ev, err)
		return false
	}
	return true
}

func (s *Supervisor) deferError(ev model.Event, err error) {
	d := ev
	d.Seq = 0
	d.Outcome = model.OutcomeError
	d.Deferred = true
	d.FilesCreated = nil
	d.Error = err.Error()
	if ev.Error != "" {
		d.Error += "; " + ev.Error
	}
	s.deferred = append(s.deferred, d)
	if n := len(s.deferred); n > maxDeferred {
		s.deferred = s.deferred[n-maxDeferred:]
	}
}

func (s *Supervisor) flushDeferred() {
	for len(s.deferred) > 0 {
		if _, err := s.core.Store.AppendEvent(s.deferred[0]); err != nil {
			return
		}
		s.deferred = s.deferred[1:]
	}
}

func (s *Supervisor) notifyTick(rep TickReport) {
	level := notify.LevelInfo
	switch {
	case rep.Outcome == model.OutcomeDegraded:
		level = notify.LevelError
	case rep.Failed > 0:
		level = notify.LevelWarn
	}
	s.core.Notifier.Notify(level, fmt.Sprintf("cycle %d", rep.Cycle), rep.Summary())
}
