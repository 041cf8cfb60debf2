package handlers

import (
	"context"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rcliao/agent-loop/internal/model"
)

// ToolHandler writes a monetizable tool: a Go stub exposing Run, a README
// business plan and a pricing document.
type ToolHandler struct {
	env   Env
	guard *Guard
}

// NewToolHandler returns the create_tool handler.
func NewToolHandler(env Env) *ToolHandler {
	env = env.withDefaults()
	return &ToolHandler{
		env:   env,
		guard: NewGuard(env.Root, path.Join(MonetizationDir, "*"), path.Join(MonetizationDir, "*", "*")),
	}
}

func (h *ToolHandler) Type() model.IntentType { return model.IntentCreateTool }

type pricingDoc struct {
	Tool      string    `json:"tool"`
	Currency  string    `json:"currency"`
	Period    string    `json:"period"`
	Tiers     []Tier    `json:"tiers"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *ToolHandler) Handle(ctx context.Context, in model.Intent) (model.Result, error) {
	in = h.env.fill(in)
	d, err := NormalizeTool(in)
	if err != nil {
		return model.Result{}, err
	}

	w := newWorkspace(ctx, h.env, h.guard, in)
	name, dir, done, err := w.claimDir(filepath.FromSlash(MonetizationDir), d.Name)
	if err != nil {
		return model.Result{}, err
	}
	if done != nil {
		return *done, nil
	}

	data := templateData{
		IntentID:  in.ID,
		Name:      name,
		Package:   strings.ToLower(name),
		Purpose:   d.Purpose,
		Pricing:   d.Pricing,
		CreatedAt: in.CreatedAt,
	}
	for _, f := range []struct{ tmpl, file string }{
		{"tool.go.tmpl", name + ".go"},
		{"README.md.tmpl", "README.md"},
	} {
		out, err := render(f.tmpl, data)
		if err != nil {
			return model.Result{}, err
		}
		if err := w.write(filepath.Join(dir, f.file), out); err != nil {
			return model.Result{}, err
		}
	}

	if err := w.writeJSON(filepath.Join(dir, "pricing.json"), pricingDoc{
		Tool:      name,
		Currency:  "USD",
		Period:    "month",
		Tiers:     d.Pricing,
		CreatedAt: in.CreatedAt.UTC(),
	}); err != nil {
		return model.Result{}, err
	}

	res := model.Result{
		Success:      true,
		Name:         name,
		Path:         filepath.ToSlash(dir),
		FilesCreated: w.created(),
		Kind:         "tool",
	}
	if err := w.complete(dir, res); err != nil {
		return model.Result{}, err
	}
	return res, nil
}
