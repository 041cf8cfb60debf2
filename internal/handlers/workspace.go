package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rcliao/agent-loop/internal/model"
	"github.com/rcliao/agent-loop/internal/store"
)

// SentinelFile marks a handler output directory with the intent that owns it.
const SentinelFile = ".intent.json"

const maxNameSuffix = 100

// claim is the content of the sentinel file. Result is set once every
// artifact has been written.
type claim struct {
	IntentID  string        `json:"intent_id"`
	Type      string        `json:"type"`
	ClaimedAt time.Time     `json:"claimed_at"`
	Result    *model.Result `json:"result,omitempty"`
}

// workspace performs the writes of one handler invocation.
type workspace struct {
	ctx    context.Context
	env    Env
	guard  *Guard
	intent model.Intent
	files  []string
}

func newWorkspace(ctx context.Context, env Env, guard *Guard, in model.Intent) *workspace {
	return &workspace{ctx: ctx, env: env, guard: guard, intent: in}
}

func (w *workspace) abs(rel string) string {
	return filepath.Join(w.env.Root, rel)
}

func readClaim(dir string) (claim, error) {
	var c claim
	err := store.ReadJSON(filepath.Join(dir, SentinelFile), &c)
	return c, err
}

// claimDir picks the first of name, name_2, name_3, ... under base that is
// free or already owned by this intent, and records the claim. A non-nil
// result means an earlier run of this intent completed there.
func (w *workspace) claimDir(base, name string) (string, string, *model.Result, error) {
	for n := 1; n <= maxNameSuffix; n++ {
		candidate := name
		if n > 1 {
			candidate = name + "_" + strconv.Itoa(n)
		}
		rel := filepath.Join(base, candidate)
		if err := w.guard.Check(rel); err != nil {
			return "", "", nil, err
		}
		dir := w.abs(rel)

		_, err := os.Stat(dir)
		switch {
		case errors.Is(err, os.ErrNotExist):
			if err := w.checkCtx(); err != nil {
				return "", "", nil, err
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", "", nil, failed("create dir", err)
			}
			c := claim{IntentID: w.intent.ID, Type: w.intent.Type, ClaimedAt: w.env.Now().UTC()}
			if err := store.WriteJSONAtomic(filepath.Join(dir, SentinelFile), c); err != nil {
				return "", "", nil, failed("claim dir", err)
			}
			return candidate, rel, nil, nil
		case err != nil:
			return "", "", nil, failed("stat dir", err)
		}

		c, err := readClaim(dir)
		if err != nil {
			// Present but not ours to overwrite.
			continue
		}
		if c.IntentID == w.intent.ID {
			return candidate, rel, c.Result, nil
		}
	}
	return "", "", nil, failed("claim dir", fmt.Errorf("no free name for %q under %s", name, base))
}

// complete stores the final result in the sentinel.
func (w *workspace) complete(rel string, res model.Result) error {
	c := claim{IntentID: w.intent.ID, Type: w.intent.Type, ClaimedAt: w.env.Now().UTC(), Result: &res}
	if err := store.WriteJSONAtomic(filepath.Join(w.abs(rel), SentinelFile), c); err != nil {
		return failed("complete claim", err)
	}
	return nil
}

func (w *workspace) checkCtx() error {
	if err := w.ctx.Err(); err != nil {
		return failed("cancelled", err)
	}
	return nil
}

// write stores data at rel and records it as created.
func (w *workspace) write(rel string, data []byte) error {
	if err := w.checkCtx(); err != nil {
		return err
	}
	if err := w.guard.Check(rel); err != nil {
		return err
	}
	if err := store.WriteFileAtomic(w.abs(rel), data, 0o644); err != nil {
		return failed("write "+filepath.Base(rel), err)
	}
	w.files = append(w.files, filepath.ToSlash(rel))
	return nil
}

func (w *workspace) writeJSON(rel string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return failed("encode "+filepath.Base(rel), err)
	}
	return w.write(rel, append(data, '\n'))
}

// created returns the root-relative, slash-separated paths written so far.
func (w *workspace) created() []string {
	return append([]string(nil), w.files...)
}
