package handlers

import (
	"context"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rcliao/agent-loop/internal/model"
)

// AgentHandler writes agents/<name>/<name>.go and a manifest.
type AgentHandler struct {
	env   Env
	guard *Guard
}

// NewAgentHandler returns the create_agent handler.
func NewAgentHandler(env Env) *AgentHandler {
	env = env.withDefaults()
	return &AgentHandler{
		env:   env,
		guard: NewGuard(env.Root, path.Join(AgentsDir, "*"), path.Join(AgentsDir, "*", "*")),
	}
}

func (h *AgentHandler) Type() model.IntentType { return model.IntentCreateAgent }

type agentManifest struct {
	Name      string    `json:"name"`
	Purpose   string    `json:"purpose"`
	IntentID  string    `json:"intent_id"`
	CreatedAt time.Time `json:"created_at"`
	Files     []string  `json:"files"`
}

func (h *AgentHandler) Handle(ctx context.Context, in model.Intent) (model.Result, error) {
	in = h.env.fill(in)
	d, err := NormalizeAgent(in)
	if err != nil {
		return model.Result{}, err
	}

	w := newWorkspace(ctx, h.env, h.guard, in)
	name, dir, done, err := w.claimDir(AgentsDir, d.Name)
	if err != nil {
		return model.Result{}, err
	}
	if done != nil {
		return *done, nil
	}

	code, err := render("agent.go.tmpl", templateData{
		IntentID:  in.ID,
		Name:      name,
		Package:   strings.ToLower(name),
		Purpose:   d.Purpose,
		CreatedAt: in.CreatedAt,
	})
	if err != nil {
		return model.Result{}, err
	}
	if err := w.write(filepath.Join(dir, name+".go"), code); err != nil {
		return model.Result{}, err
	}

	manifestPath := filepath.Join(dir, "manifest.json")
	if err := w.writeJSON(manifestPath, agentManifest{
		Name:      name,
		Purpose:   d.Purpose,
		IntentID:  in.ID,
		CreatedAt: in.CreatedAt.UTC(),
		Files:     append(w.created(), filepath.ToSlash(manifestPath)),
	}); err != nil {
		return model.Result{}, err
	}

	res := model.Result{
		Success:      true,
		Name:         name,
		Path:         filepath.ToSlash(dir),
		FilesCreated: w.created(),
		Kind:         "agent",
	}
	if err := w.complete(dir, res); err != nil {
		return model.Result{}, err
	}
	return res, nil
}
