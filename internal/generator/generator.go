// Package generator proposes new intents from the agent's current state.
package generator

import (
	"encoding/json"
	"math/rand/v2"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/agent-loop/internal/model"
	"github.com/rcliao/agent-loop/internal/thought"
)

// Defaults.
const (
	DefaultBackpressure = 5
	DefaultForceEvery   = 5
	DefaultThreshold    = 0.3
)

// Reason explains a Plan.
type Reason string

const (
	ReasonBackpressure Reason = "backpressure"
	ReasonBelowThresh  Reason = "below_threshold"
	ReasonForced       Reason = "forced"
	ReasonMotivated    Reason = "motivated"
	ReasonSkipped      Reason = "skipped"
)

// Plan is the outcome of one generator call. Intent is nil when nothing was
// proposed.
type Plan struct {
	Intent     *model.Intent
	Motivation float64
	Reason     Reason
	Thought    thought.Thought
}

// Config tunes the generator.
type Config struct {
	Backpressure int     // no intent while pending >= Backpressure
	ForceEvery   uint64  // every ForceEvery-th tick generates regardless of chance
	Threshold    float64 // no intent while motivation < Threshold
}

// Option configures a Generator.
type Option func(*Generator)

// WithRand sets the random source.
func WithRand(r *rand.Rand) Option { return func(g *Generator) { g.rng = r } }

// WithClock sets the clock.
func WithClock(now func() time.Time) Option { return func(g *Generator) { g.now = now } }

// WithThoughts sets the thought source. A nil source keeps the built-in
// lines.
func WithThoughts(s thought.Source) Option {
	return func(g *Generator) {
		if s != nil {
			g.thoughts = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(g *Generator) { g.logger = l.Named("generator") } }

// Generator proposes at most one intent per call. It is not safe for
// concurrent use.
type Generator struct {
	cfg      Config
	rng      *rand.Rand
	now      func() time.Time
	thoughts thought.Source
	logger   *zap.Logger
}

// New returns a Generator.
func New(cfg Config, opts ...Option) *Generator {
	if cfg.Backpressure <= 0 {
		cfg.Backpressure = DefaultBackpressure
	}
	if cfg.ForceEvery == 0 {
		cfg.ForceEvery = DefaultForceEvery
	}
	g := &Generator{
		cfg:      cfg,
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64())),
		now:      time.Now,
		thoughts: thought.Static(nil),
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Motivation is clamp(0.3 + min(idle/3600s, 1)*0.4 + curiosity*0.3 +
// creativity*0.2 + stress*0.1). An identity never modified counts as fully
// idle.
func Motivation(id model.Identity, now time.Time) float64 {
	idle := 1.0
	if !id.LastModified.IsZero() {
		idle = min(max(now.Sub(id.LastModified).Seconds(), 0)/3600, 1)
	}
	m := 0.3 + idle*0.4 + id.Curiosity*0.3 + id.Creativity*0.2 + id.Stress*0.1
	return model.Clamp01(m)
}

// Generate decides whether to propose an intent during the tick that will
// bring id to cycle id.CycleCount+1. The order of checks is backpressure,
// threshold, forced period, then a motivation-weighted coin.
func (g *Generator) Generate(id model.Identity, pending int) Plan {
	tick := id.CycleCount + 1
	now := g.now().UTC()
	p := Plan{
		Motivation: Motivation(id, now),
		Thought:    g.thoughts.Thought(tick),
	}
	log := g.logger.With(zap.Uint64("cycle", tick), zap.Float64("motivation", p.Motivation), zap.Int("pending", pending))

	switch {
	case pending >= g.cfg.Backpressure:
		p.Reason = ReasonBackpressure
	case p.Motivation < g.cfg.Threshold:
		p.Reason = ReasonBelowThresh
	case tick%g.cfg.ForceEvery == 0:
		p.Reason = ReasonForced
	case g.rng.Float64() < p.Motivation:
		p.Reason = ReasonMotivated
	default:
		p.Reason = ReasonSkipped
	}

	if p.Reason == ReasonForced || p.Reason == ReasonMotivated {
		in := g.propose(id, tick, p.Thought, now)
		p.Intent = &in
		log.Debug("intent proposed", zap.String("type", in.Type), zap.String("reason", string(p.Reason)))
	} else {
		log.Debug("no intent", zap.String("reason", string(p.Reason)))
	}
	return p
}

func (g *Generator) propose(id model.Identity, tick uint64, th thought.Thought, now time.Time) model.Intent {
	t := g.chooseType(id.Mood, tick)
	return model.Intent{
		Type:      string(t),
		Details:   g.details(t, tick, th),
		CreatedAt: now,
	}
}

// typeWeights are the base weights per mood, in model.IntentTypes order.
var typeWeights = map[model.Mood][4]int{
	model.MoodCurious:       {3, 2, 1, 1},
	model.MoodCreative:      {1, 3, 1, 2},
	model.MoodContemplative: {2, 2, 1, 1},
	model.MoodEnergetic:     {2, 1, 2, 2},
	model.MoodDetermined:    {1, 1, 3, 1},
	model.MoodAnalytical:    {2, 1, 2, 2},
}

// Weights returns the type weights for mood at tick. Each tick favors one
// type in rotation.
func Weights(mood model.Mood, tick uint64) [4]int {
	w, ok := typeWeights[mood]
	if !ok {
		w = [4]int{1, 1, 1, 1}
	}
	w[tick%4]++
	return w
}

func (g *Generator) chooseType(mood model.Mood, tick uint64) model.IntentType {
	w := Weights(mood, tick)
	total := 0
	for _, n := range w {
		total += n
	}
	r := g.rng.IntN(total)
	types := model.IntentTypes()
	for i, n := range w {
		if r < n {
			return types[i]
		}
		r -= n
	}
	return types[len(types)-1]
}

var (
	agentNames = []string{"Scout", "Archivist", "Weaver", "Sentinel", "Cartographer", "Muse"}
	roomNames  = []string{"Observatory", "Greenhouse", "Atrium", "Vault", "Studio", "Grotto"}
	roomThemes = []string{"cosmic", "forest", "ocean", "neon", "crystal", "desert"}
	toolNames  = []string{"Summarizer", "Planner", "Pricer", "Tagger", "Digest", "Converter"}
	uiTargets  = []string{"header", "sidebar", "dashboard", "event_feed", "status_panel"}
	uiKinds    = []string{"animation", "theme", "layout", "interaction"}
)

const maxPurpose = 2000

func (g *Generator) pick(options []string) string {
	return options[g.rng.IntN(len(options))]
}

func (g *Generator) details(t model.IntentType, tick uint64, th thought.Thought) json.RawMessage {
	purpose := th.Text
	if r := []rune(purpose); len(r) > maxPurpose {
		purpose = string(r[:maxPurpose])
	}
	suffix := "_" + strconv.FormatUint(tick, 10)

	var rec any
	switch t {
	case model.IntentCreateAgent:
		rec = map[string]string{"name": g.pick(agentNames) + suffix, "purpose": purpose}
	case model.IntentCreateRoom:
		rec = map[string]string{"name": g.pick(roomNames) + suffix, "theme": g.pick(roomThemes)}
	case model.IntentCreateTool:
		rec = map[string]string{"name": g.pick(toolNames) + suffix, "purpose": purpose}
	case model.IntentEvolveUI:
		rec = map[string]string{"target": g.pick(uiTargets), "type": g.pick(uiKinds), "description": purpose}
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return model.TextDetails(purpose)
	}
	return raw
}
