package thought

import (
	"errors"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultJournal is the journal file name under the root.
const DefaultJournal = "thoughts.md"

// Source yields the thought for a cycle.
type Source interface {
	Thought(cycle uint64) Thought
}

// Fallback lines used when no journal is available.
var Fallback = []Thought{
	{Text: "I wonder what a helper agent that watches the event log would notice."},
	{Text: "A room full of slow-moving light could make the dashboard feel alive."},
	{Text: "Someone would pay for a tool that turns messy notes into a clean plan."},
	{Text: "The interface could breathe a little more; maybe a gentle animation."},
	{Text: "I feel determined to finish what is already in the queue."},
	{Text: "Analyzing the last few cycles, errors cluster around naming."},
	{Text: "Energy is high; this is a good moment to create something new."},
	{Text: "Contemplating how each created entity changes who I am."},
}

// Journal reads entries from a markdown file, reloading it when it changes.
type Journal struct {
	path   string
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	modTime  time.Time
	size     int64
	thoughts []Thought
}

// NewJournal returns a journal source for path. A missing file is not an
// error; the fallback lines are used until it appears.
func NewJournal(path string, opts Options, logger *zap.Logger) *Journal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Journal{path: path, opts: opts, logger: logger.Named("thought")}
}

// Thought returns the entry for cycle, cycling through the journal.
func (j *Journal) Thought(cycle uint64) Thought {
	thoughts := j.load()
	if len(thoughts) == 0 {
		thoughts = Fallback
	}
	return thoughts[cycle%uint64(len(thoughts))]
}

// Len returns the number of journal entries currently loaded.
func (j *Journal) Len() int {
	return len(j.load())
}

func (j *Journal) load() []Thought {
	j.mu.Lock()
	defer j.mu.Unlock()

	info, err := os.Stat(j.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			j.logger.Warn("stat journal", zap.String("path", j.path), zap.Error(err))
		}
		j.thoughts = nil
		return nil
	}
	if info.ModTime().Equal(j.modTime) && info.Size() == j.size && j.thoughts != nil {
		return j.thoughts
	}

	data, err := os.ReadFile(j.path)
	if err != nil {
		j.logger.Warn("read journal", zap.String("path", j.path), zap.Error(err))
		return j.thoughts
	}
	j.thoughts = Split(string(data), j.opts)
	j.modTime = info.ModTime()
	j.size = info.Size()
	j.logger.Debug("journal loaded", zap.Int("entries", len(j.thoughts)))
	return j.thoughts
}

// Static is a fixed list of thoughts.
type Static []Thought

// Thought returns the entry for cycle.
func (s Static) Thought(cycle uint64) Thought {
	if len(s) == 0 {
		return Fallback[cycle%uint64(len(Fallback))]
	}
	return s[cycle%uint64(len(s))]
}
