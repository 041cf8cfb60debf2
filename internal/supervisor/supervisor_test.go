package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rcliao/agent-loop/internal/generator"
	"github.com/rcliao/agent-loop/internal/handlers"
	"github.com/rcliao/agent-loop/internal/model"
	"github.com/rcliao/agent-loop/internal/notify"
	"github.com/rcliao/agent-loop/internal/queue"
	"github.com/rcliao/agent-loop/internal/store"
	"github.com/rcliao/agent-loop/internal/thought"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (r *recordingNotifier) Notify(_ notify.Level, title, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
}

func (r *recordingNotifier) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.titles...)
}

type countingDispatcher struct {
	next  Dispatcher
	mu    sync.Mutex
	calls map[string]int
}

func (d *countingDispatcher) Dispatch(ctx context.Context, in model.Intent) model.Result {
	d.mu.Lock()
	if d.calls == nil {
		d.calls = map[string]int{}
	}
	d.calls[in.ID]++
	d.mu.Unlock()
	return d.next.Dispatch(ctx, in)
}

func (d *countingDispatcher) count(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[id]
}

type spyGenerator struct {
	next  Generator
	calls int
	last  generator.Plan
}

func (g *spyGenerator) Generate(id model.Identity, pending int) generator.Plan {
	g.calls++
	g.last = g.next.Generate(id, pending)
	return g.last
}

type testEnv struct {
	root  string
	store *store.FileStore
	queue *queue.Queue
	reg   *handlers.Registry
	clock *clock
	notes *recordingNotifier
}

func newTestEnv(t *testing.T, index bool) *testEnv {
	t.Helper()
	root := t.TempDir()
	c := &clock{t: time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)}
	st, err := store.Open(root, store.Options{Index: index, Now: c.Now})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return &testEnv{
		root:  root,
		store: st,
		queue: queue.Open(st.IntentsPath(), queue.Options{Now: c.Now}),
		reg:   handlers.NewRegistry(handlers.Env{Root: root, Now: c.Now}),
		clock: c,
		notes: &recordingNotifier{},
	}
}

func (e *testEnv) supervisor(mods ...func(*Core)) *Supervisor {
	core := Core{
		Store:    e.store,
		Queue:    e.queue,
		Handlers: e.reg,
		Notifier: e.notes,
		Now:      e.clock.Now,
		Rand:     rand.New(rand.NewPCG(1, 2)),
		Config:   Config{Interval: time.Hour},
	}
	for _, m := range mods {
		m(&core)
	}
	return New(core)
}

func (e *testEnv) generator(cfg generator.Config, thoughts thought.Source) *generator.Generator {
	return generator.New(cfg,
		generator.WithRand(rand.New(rand.NewPCG(3, 4))),
		generator.WithClock(e.clock.Now),
		generator.WithThoughts(thoughts),
	)
}

func (e *testEnv) events(t *testing.T) []model.Event {
	t.Helper()
	var out []model.Event
	for ev, err := range e.store.Events(time.Time{}) {
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

func (e *testEnv) eventsFor(t *testing.T, intentID string) []model.Event {
	t.Helper()
	var out []model.Event
	for _, ev := range e.events(t) {
		if ev.IntentRef == intentID {
			out = append(out, ev)
		}
	}
	return out
}

func (e *testEnv) enqueue(t *testing.T, id string, details map[string]string) model.Intent {
	t.Helper()
	raw, err := model.RecordDetails(details)
	require.NoError(t, err)
	in, err := e.queue.Enqueue(model.Intent{ID: id, Type: string(model.IntentCreateAgent), Details: raw})
	require.NoError(t, err)
	return in
}

func TestEmptyStart(t *testing.T) {
	e := newTestEnv(t, false)
	rep := e.supervisor().Tick(context.Background())
	require.NoError(t, rep.Err)
	assert.Equal(t, model.OutcomeSuccess, rep.Outcome)
	assert.Equal(t, uint64(1), rep.Cycle)

	id, err := e.store.LoadIdentity()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id.CycleCount)
	assert.Equal(t, uint64(1), id.ModificationCount)
	assert.Equal(t, model.DefaultName, id.Name)

	backups, err := e.store.Backups()
	require.NoError(t, err)
	assert.Len(t, backups, 1)

	evs := e.events(t)
	require.Len(t, evs, 1)
	assert.Equal(t, model.ActionTick, evs[0].ActionType)
	assert.Equal(t, model.OutcomeSuccess, evs[0].Outcome)
	assert.Equal(t, uint64(1), evs[0].Cycle)
}

func TestSingleCreateAgent(t *testing.T) {
	e := newTestEnv(t, true)
	e.enqueue(t, "i1", map[string]string{"name": "Helper", "purpose": "test"})

	rep := e.supervisor().Tick(context.Background())
	assert.Equal(t, 1, rep.Executed)
	assert.Zero(t, rep.Failed)

	entries, err := os.ReadDir(filepath.Join(e.root, "agents", "Helper"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(entries), 2)

	in, err := e.queue.Get("i1")
	require.NoError(t, err)
	assert.True(t, in.Executed)
	require.NotNil(t, in.Result)
	assert.True(t, in.Result.Success)
	assert.NotNil(t, in.ExecutedAt)

	evs := e.eventsFor(t, "i1")
	require.Len(t, evs, 1)
	assert.Equal(t, model.OutcomeSuccess, evs[0].Outcome)
	want := []string{"agents/Helper/Helper.go", "agents/Helper/manifest.json"}
	if diff := cmp.Diff(want, evs[0].FilesCreated); diff != "" {
		t.Errorf("files_created mismatch (-want +got):\n%s", diff)
	}

	id, err := e.store.LoadIdentity()
	require.NoError(t, err)
	assert.Equal(t, []string{"Helper"}, id.CreatedEntities)
}

func TestCrashReplay(t *testing.T) {
	for _, index := range []bool{false, true} {
		t.Run(fmt.Sprintf("index=%v", index), func(t *testing.T) {
			t.Run("crash before event", func(t *testing.T) {
				e := newTestEnv(t, index)
				in := e.enqueue(t, "i1", map[string]string{"name": "Helper", "purpose": "test"})
				first := e.reg.Dispatch(context.Background(), in)
				require.True(t, first.Success)

				rep := e.supervisor().Tick(context.Background())
				assert.Equal(t, 1, rep.Executed)
				assert.Zero(t, rep.Replayed)
				assertReplayed(t, e, first)
			})

			t.Run("crash after event", func(t *testing.T) {
				e := newTestEnv(t, index)
				in := e.enqueue(t, "i1", map[string]string{"name": "Helper", "purpose": "test"})
				first := e.reg.Dispatch(context.Background(), in)
				require.True(t, first.Success)
				_, err := e.store.AppendEvent(model.Event{
					Cycle:        1,
					IntentRef:    "i1",
					ActionType:   string(model.IntentCreateAgent),
					Outcome:      model.OutcomeSuccess,
					FilesCreated: first.FilesCreated,
				})
				require.NoError(t, err)

				rep := e.supervisor().Tick(context.Background())
				assert.Equal(t, 1, rep.Executed)
				assert.Equal(t, 1, rep.Replayed)
				assertReplayed(t, e, first)
			})
		})
	}
}

func assertReplayed(t *testing.T, e *testEnv, first model.Result) {
	t.Helper()
	_, err := os.Stat(filepath.Join(e.root, "agents", "Helper"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(e.root, "agents", "Helper_2"))
	assert.True(t, os.IsNotExist(err), "replay must reuse the original directory")

	in, err := e.queue.Get("i1")
	require.NoError(t, err)
	assert.True(t, in.Executed)
	require.NotNil(t, in.Result)
	if diff := cmp.Diff(first, *in.Result); diff != "" {
		t.Errorf("stored result mismatch (-first +stored):\n%s", diff)
	}

	successes := 0
	for _, ev := range e.eventsFor(t, "i1") {
		if ev.Outcome == model.OutcomeSuccess {
			successes++
		}
	}
	assert.Equal(t, 1, successes)
}

func TestPoisonedIntent(t *testing.T) {
	e := newTestEnv(t, false)
	e.enqueue(t, "bad", map[string]string{"name": "bad\x01name"})
	counter := &countingDispatcher{next: e.reg}
	sup := e.supervisor(func(c *Core) { c.Handlers = counter })

	const failureCap = 3
	for i := 0; i < failureCap+1; i++ {
		sup.Tick(context.Background())
	}
	assert.Equal(t, failureCap, counter.count("bad"))

	evs := e.eventsFor(t, "bad")
	require.Len(t, evs, failureCap)
	for i, ev := range evs {
		assert.Equal(t, model.OutcomeError, ev.Outcome)
		assert.Equal(t, i+1, ev.Attempt)
		assert.Equal(t, i == failureCap-1, ev.Poisoned)
		assert.NotEmpty(t, ev.Error)
	}

	in, err := e.queue.Get("bad")
	require.NoError(t, err)
	assert.True(t, in.Executed)
	require.NotNil(t, in.Result)
	assert.False(t, in.Result.Success)
	assert.Equal(t, failureCap, in.Attempts)

	pending, err := e.queue.PendingCount()
	require.NoError(t, err)
	assert.Zero(t, pending)
}

// appendRecords adds raw records to the queue document the way an
// out-of-band writer would.
func (e *testEnv) appendRecords(t *testing.T, records ...string) {
	t.Helper()
	var doc []json.RawMessage
	data, err := os.ReadFile(e.queue.Path())
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &doc))
	for _, r := range records {
		doc = append(doc, json.RawMessage(r))
	}
	out, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(e.queue.Path(), out, 0o644))
}

func (e *testEnv) actionEvents(t *testing.T, action string) []model.Event {
	t.Helper()
	var out []model.Event
	for _, ev := range e.events(t) {
		if ev.ActionType == action {
			out = append(out, ev)
		}
	}
	return out
}

func TestMalformedRecordsDoNotBlockQueue(t *testing.T) {
	e := newTestEnv(t, true)
	e.enqueue(t, "i1", map[string]string{"name": "Helper", "purpose": "test"})
	e.appendRecords(t,
		`{"id":"bad","type":"create_agent","details":42,"executed":false,"created_at":"2026-10-16T12:00:00Z"}`,
		`{"type":"create_room","details":"no envelope"}`,
	)
	counter := &countingDispatcher{next: e.reg}
	sup := e.supervisor(func(c *Core) { c.Handlers = counter })

	rep := sup.Tick(context.Background())
	assert.Equal(t, model.OutcomeSuccess, rep.Outcome)
	assert.Equal(t, 1, rep.Executed)
	assert.Equal(t, 1, rep.Rejected)
	assert.DirExists(t, filepath.Join(e.root, "agents", "Helper"))

	const failureCap = 3
	for i := 1; i < failureCap+1; i++ {
		sup.Tick(context.Background())
	}
	assert.Equal(t, 1, counter.count("i1"))
	assert.Equal(t, failureCap, counter.count("bad"))

	bad, err := e.queue.Get("bad")
	require.NoError(t, err)
	assert.True(t, bad.Executed)
	assert.False(t, bad.Result.Success)

	rejected := e.actionEvents(t, model.ActionQueue)
	require.Len(t, rejected, 1, "a rejected record is reported once")
	assert.Equal(t, model.OutcomeError, rejected[0].Outcome)
	assert.Contains(t, rejected[0].Error, "rejected record")
	assert.FileExists(t, e.queue.RejectedPath())

	pending, err := e.queue.PendingCount()
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestDuplicateIDIsNotRedispatched(t *testing.T) {
	e := newTestEnv(t, false)
	e.enqueue(t, "i1", map[string]string{"name": "Helper", "purpose": "test"})
	counter := &countingDispatcher{next: e.reg}
	sup := e.supervisor(func(c *Core) { c.Handlers = counter })

	sup.Tick(context.Background())
	e.appendRecords(t, `{"id":"i1","type":"create_agent","details":{"name":"Helper"},"executed":false,"created_at":"2026-10-16T13:00:00Z"}`)

	for i := 0; i < 5; i++ {
		rep := sup.Tick(context.Background())
		assert.Zero(t, rep.Executed)
	}
	assert.Equal(t, 1, counter.count("i1"))

	pending, err := e.queue.PendingCount()
	require.NoError(t, err)
	assert.Zero(t, pending)

	dups := e.actionEvents(t, model.ActionQueue)
	require.Len(t, dups, 1)
	assert.Equal(t, "i1", dups[0].IntentRef)
	assert.Len(t, e.eventsFor(t, "i1"), 2, "one success plus one rejected duplicate")
}

func TestGenerationBackpressure(t *testing.T) {
	e := newTestEnv(t, false)
	for i := 0; i < generator.DefaultBackpressure; i++ {
		e.enqueue(t, fmt.Sprintf("p%d", i), map[string]string{"name": fmt.Sprintf("Filler_%d", i)})
	}
	spy := &spyGenerator{next: e.generator(generator.Config{Threshold: generator.DefaultThreshold}, nil)}
	sup := e.supervisor(func(c *Core) { c.Generator = spy })

	rep := sup.Tick(context.Background())
	assert.Equal(t, 1, spy.calls)
	assert.Equal(t, generator.ReasonBackpressure, spy.last.Reason)
	assert.Nil(t, rep.Generated)

	all, err := e.queue.All()
	require.NoError(t, err)
	assert.Len(t, all, generator.DefaultBackpressure)
}

func TestGeneratedIntentRunsNextTick(t *testing.T) {
	e := newTestEnv(t, false)
	thoughts := thought.Static{{Text: "Analyzing error patterns in the data."}}
	gen := e.generator(generator.Config{Threshold: generator.DefaultThreshold, ForceEvery: 1}, thoughts)
	sup := e.supervisor(func(c *Core) { c.Generator = gen })

	rep := sup.Tick(context.Background())
	require.NotNil(t, rep.Generated)
	assert.Equal(t, generator.ReasonForced, rep.Reason)
	assert.Zero(t, rep.Executed)

	id, err := e.store.LoadIdentity()
	require.NoError(t, err)
	assert.Equal(t, model.MoodAnalytical, id.Mood)

	rep = sup.Tick(context.Background())
	assert.Equal(t, 1, rep.Executed, "generated details must be accepted by the handler")
	in, err := e.queue.Get(rep.Generated.ID)
	require.NoError(t, err)
	assert.False(t, in.Executed, "the second tick generated a fresh intent")
}

func TestTickBelowThreshold(t *testing.T) {
	e := newTestEnv(t, false)
	calm := model.DefaultIdentity()
	calm.Curiosity, calm.Creativity, calm.Stress = 0, 0, 0
	_, err := e.store.SaveIdentity(calm, "seed")
	require.NoError(t, err)

	counter := &countingDispatcher{next: e.reg}
	spy := &spyGenerator{next: e.generator(generator.Config{Threshold: 0.5}, nil)}
	sup := e.supervisor(func(c *Core) {
		c.Handlers = counter
		c.Generator = spy
	})

	rep := sup.Tick(context.Background())
	assert.Equal(t, model.OutcomeSuccess, rep.Outcome)
	assert.LessOrEqual(t, spy.calls, 1)
	assert.Equal(t, generator.ReasonBelowThresh, spy.last.Reason)
	assert.Nil(t, rep.Generated)
	assert.Empty(t, counter.calls)

	backups, err := e.store.Backups()
	require.NoError(t, err)
	assert.Len(t, backups, 2, "seed save plus exactly one tick save")

	all, err := e.queue.All()
	require.NoError(t, err)
	assert.Empty(t, all)
}

type failingSaveStore struct {
	store.StateStore
	err error
}

func (f failingSaveStore) SaveIdentity(model.Identity, string) (store.SaveResult, error) {
	return store.SaveResult{}, f.err
}

type failingBackupStore struct {
	store.StateStore
}

func (f failingBackupStore) SaveIdentity(id model.Identity, reason string) (store.SaveResult, error) {
	res, err := f.StateStore.SaveIdentity(id, reason)
	if err == nil {
		res.BackupErr = errors.New("no space left")
	}
	return res, err
}

type flakyAppendStore struct {
	store.StateStore
	failures int
}

func (f *flakyAppendStore) AppendEvent(ev model.Event) (model.Event, error) {
	if f.failures > 0 {
		f.failures--
		return ev, &store.Error{Op: "append event", Err: errors.New("append refused")}
	}
	return f.StateStore.AppendEvent(ev)
}

func TestSaveFailureDegradesTick(t *testing.T) {
	e := newTestEnv(t, false)
	sup := e.supervisor(func(c *Core) { c.Store = failingSaveStore{StateStore: e.store, err: errors.New("disk full")} })

	rep := sup.Tick(context.Background())
	assert.Equal(t, model.OutcomeDegraded, rep.Outcome)

	_, err := e.store.LoadIdentity()
	assert.ErrorIs(t, err, store.ErrNotFound)
	backups, err := e.store.Backups()
	require.NoError(t, err)
	assert.Empty(t, backups)

	evs := e.events(t)
	require.Len(t, evs, 1)
	assert.Equal(t, model.OutcomeDegraded, evs[0].Outcome)
	assert.Equal(t, "save: disk full", evs[0].Error)
}

func TestBackupFailureDegradesButSaves(t *testing.T) {
	e := newTestEnv(t, false)
	sup := e.supervisor(func(c *Core) { c.Store = failingBackupStore{StateStore: e.store} })

	rep := sup.Tick(context.Background())
	assert.Equal(t, model.OutcomeDegraded, rep.Outcome)

	id, err := e.store.LoadIdentity()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id.CycleCount)

	evs := e.events(t)
	require.Len(t, evs, 1)
	assert.Equal(t, "backup: no space left", evs[0].Error)
}

func TestDeferredEventError(t *testing.T) {
	e := newTestEnv(t, false)
	e.enqueue(t, "i1", map[string]string{"name": "Helper", "purpose": "test"})
	flaky := &flakyAppendStore{StateStore: e.store, failures: 1}
	sup := e.supervisor(func(c *Core) { c.Store = flaky })

	rep := sup.Tick(context.Background())
	assert.Equal(t, 1, rep.Executed)

	evs := e.events(t)
	require.Len(t, evs, 2)
	assert.True(t, evs[0].Deferred)
	assert.Equal(t, model.OutcomeError, evs[0].Outcome)
	assert.Equal(t, "i1", evs[0].IntentRef)
	assert.Contains(t, evs[0].Error, "append refused")
	assert.Equal(t, model.ActionTick, evs[1].ActionType)
	assert.Equal(t, model.OutcomeSuccess, evs[1].Outcome)
}

func TestIdentityBoundsAcrossTicks(t *testing.T) {
	e := newTestEnv(t, false)
	sup := e.supervisor(func(c *Core) { c.Config.EnergyDelta = 0.05 })

	prev := model.DefaultIdentity().Energy
	const ticks = 30
	for i := 1; i <= ticks; i++ {
		sup.Tick(context.Background())
		id, err := e.store.LoadIdentity()
		require.NoError(t, err)

		assert.GreaterOrEqual(t, id.Energy, 0.0)
		assert.LessOrEqual(t, id.Energy, 1.0)
		assert.LessOrEqual(t, math.Abs(id.Energy-prev), 0.05+1e-9)
		prev = id.Energy

		assert.Equal(t, uint64(i), id.CycleCount)
		assert.Equal(t, uint64(i), id.ModificationCount)
		assert.Len(t, id.ModificationLog, min(i, model.ModificationRing))
	}

	backups, err := e.store.Backups()
	require.NoError(t, err)
	assert.Len(t, backups, store.DefaultKeepBackups)
}

func TestCorruptIdentityIsFatal(t *testing.T) {
	e := newTestEnv(t, false)
	require.NoError(t, os.WriteFile(e.store.IdentityPath(), []byte("{not json"), 0o644))

	err := e.supervisor().Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrCorrupt)
}

func TestCancelledTickFinishesWithoutHandlers(t *testing.T) {
	e := newTestEnv(t, false)
	e.enqueue(t, "i1", map[string]string{"name": "Helper"})
	counter := &countingDispatcher{next: e.reg}
	sup := e.supervisor(func(c *Core) { c.Handlers = counter })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep := sup.Tick(ctx)

	assert.Zero(t, counter.count("i1"))
	assert.Equal(t, model.OutcomeSuccess, rep.Outcome)
	pending, err := e.queue.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestNotifiesOncePerTick(t *testing.T) {
	e := newTestEnv(t, false)
	sup := e.supervisor()
	for i := 0; i < 3; i++ {
		sup.Tick(context.Background())
	}
	assert.Equal(t, []string{"cycle 1", "cycle 2", "cycle 3"}, e.notes.all())
}

func TestStatusSnapshot(t *testing.T) {
	e := newTestEnv(t, true)
	sup := e.supervisor()

	snap, err := sup.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.DefaultName, snap.Identity.Name)
	assert.Zero(t, snap.Counters.Cycles)
	assert.Empty(t, snap.RecentEvents)

	_, err = sup.Enqueue(model.Intent{ID: "i1", Type: "create_agent", Details: model.TextDetails("watch the logs")})
	require.NoError(t, err)
	sup.Tick(context.Background())
	sup.Tick(context.Background())

	snap, err = sup.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sup.RunID(), snap.Run)
	assert.Zero(t, snap.PendingCount)
	assert.Equal(t, uint64(2), snap.Identity.CycleCount)
	assert.Equal(t, uint64(2), snap.Counters.Cycles)
	assert.Equal(t, 1, snap.Counters.AgentsCreated)
	require.Len(t, snap.RecentEvents, 3)
	assert.Equal(t, "i1", snap.RecentEvents[0].IntentRef)
}

func TestRecentEventsBoundedByConfig(t *testing.T) {
	e := newTestEnv(t, false)
	sup := e.supervisor(func(c *Core) { c.Config.RecentEvents = 2 })
	for i := 0; i < 5; i++ {
		sup.Tick(context.Background())
	}
	snap, err := sup.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.RecentEvents, 2)
	assert.Equal(t, uint64(5), snap.RecentEvents[1].Cycle)
}

func TestEnqueueWakes(t *testing.T) {
	e := newTestEnv(t, false)
	sup := e.supervisor()

	_, err := sup.Enqueue(model.Intent{Type: "monetize", Details: model.TextDetails("price it")})
	require.NoError(t, err)
	select {
	case <-sup.wake:
	default:
		t.Fatal("enqueue did not wake the loop")
	}

	_, err = sup.Enqueue(model.Intent{Type: "teleport"})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestRunStopsOnCancel(t *testing.T) {
	e := newTestEnv(t, false)
	sup := e.supervisor(func(c *Core) { c.Config.Interval = 5 * time.Millisecond })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, func() bool {
		snap, err := sup.Status(context.Background())
		return err == nil && snap.Counters.Cycles >= 2
	}, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}

	evs := e.events(t)
	last := evs[len(evs)-1]
	assert.Equal(t, model.ActionShutdown, last.ActionType)
	assert.Equal(t, sup.RunID(), last.Run)
	assert.Contains(t, e.notes.all(), "agent-loop shutting down")
}

func TestSleepIgnoresOwnWrites(t *testing.T) {
	e := newTestEnv(t, false)
	sup := e.supervisor(func(c *Core) { c.Config.Interval = 50 * time.Millisecond })

	sup.Wake()
	start := time.Now()
	sup.sleep(context.Background())
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond, "a wake without a queue change keeps sleeping")
}

func TestWatchQueueWakes(t *testing.T) {
	e := newTestEnv(t, false)
	sup := e.supervisor()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.WatchQueue(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	other := queue.Open(e.queue.Path(), queue.Options{})
	n := 0
	require.Eventually(t, func() bool {
		n++
		if _, err := other.Enqueue(model.Intent{ID: fmt.Sprintf("w%d", n), Type: "evolve_ui"}); err != nil {
			return false
		}
		select {
		case <-sup.wake:
			return true
		default:
			return false
		}
	}, 5*time.Second, 20*time.Millisecond)
}

func TestNewRunID(t *testing.T) {
	id := NewRunID(time.Date(2026, 10, 16, 9, 5, 1, 0, time.UTC))
	assert.Regexp(t, `^run-20261016-090501-[0-9a-f]{8}$`, id)
}
