package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"github.com/rcliao/agent-loop/internal/model"
)

// EvolveUIHandler writes one enhancement component under the front-end
// enhancements directory. The file's first line names the owning intent.
type EvolveUIHandler struct {
	env   Env
	guard *Guard
}

// NewEvolveUIHandler returns the evolve_ui handler.
func NewEvolveUIHandler(env Env) *EvolveUIHandler {
	env = env.withDefaults()
	base := path.Join(filepath.ToSlash(env.FrontendRoot), EnhancementsDir)
	return &EvolveUIHandler{
		env:   env,
		guard: NewGuard(env.Root, path.Join(base, "*.jsx")),
	}
}

func (h *EvolveUIHandler) Type() model.IntentType { return model.IntentEvolveUI }

func ownerLine(intentID string) []byte {
	return []byte("// intent: " + intentID)
}

func (h *EvolveUIHandler) Handle(ctx context.Context, in model.Intent) (model.Result, error) {
	in = h.env.fill(in)
	d, err := NormalizeUI(in)
	if err != nil {
		return model.Result{}, err
	}

	w := newWorkspace(ctx, h.env, h.guard, in)
	for n := 1; n <= maxNameSuffix; n++ {
		name := d.Name
		if n > 1 {
			name = d.Name + "_" + strconv.Itoa(n)
		}
		rel := h.env.frontend(EnhancementsDir, name+".jsx")
		res := model.Result{
			Success:      true,
			Name:         name,
			Path:         filepath.ToSlash(rel),
			FilesCreated: []string{filepath.ToSlash(rel)},
			Kind:         "ui_enhancement",
		}

		existing, err := os.ReadFile(w.abs(rel))
		switch {
		case err == nil:
			first, _, _ := bytes.Cut(existing, []byte("\n"))
			if bytes.Equal(bytes.TrimSpace(first), ownerLine(in.ID)) {
				return res, nil
			}
			continue
		case !errors.Is(err, os.ErrNotExist):
			return model.Result{}, failed("read enhancement", err)
		}

		out, err := render("enhancement.jsx.tmpl", templateData{
			IntentID:    in.ID,
			Name:        name,
			Target:      d.Target,
			Type:        d.Type,
			Description: d.Description,
			CreatedAt:   in.CreatedAt,
		})
		if err != nil {
			return model.Result{}, err
		}
		if err := w.write(rel, out); err != nil {
			return model.Result{}, err
		}
		return res, nil
	}
	return model.Result{}, failed("claim file", fmt.Errorf("no free name for %q", d.Name))
}
