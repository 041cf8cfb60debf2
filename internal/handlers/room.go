package handlers

import (
	"context"
	"path"
	"path/filepath"
	"time"

	"github.com/rcliao/agent-loop/internal/model"
)

// RoomHandler writes a scene component, a stylesheet and room.json under the
// front-end rooms tree.
type RoomHandler struct {
	env   Env
	guard *Guard
}

// NewRoomHandler returns the create_room handler.
func NewRoomHandler(env Env) *RoomHandler {
	env = env.withDefaults()
	base := path.Join(filepath.ToSlash(env.FrontendRoot), RoomsDir)
	return &RoomHandler{
		env:   env,
		guard: NewGuard(env.Root, path.Join(base, "*"), path.Join(base, "*", "*")),
	}
}

func (h *RoomHandler) Type() model.IntentType { return model.IntentCreateRoom }

type roomDoc struct {
	Name      string    `json:"name"`
	Theme     string    `json:"theme"`
	Colors    []string  `json:"colors"`
	IntentID  string    `json:"intent_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *RoomHandler) Handle(ctx context.Context, in model.Intent) (model.Result, error) {
	in = h.env.fill(in)
	d, err := NormalizeRoom(in)
	if err != nil {
		return model.Result{}, err
	}

	w := newWorkspace(ctx, h.env, h.guard, in)
	name, dir, done, err := w.claimDir(h.env.frontend(RoomsDir), d.Name)
	if err != nil {
		return model.Result{}, err
	}
	if done != nil {
		return *done, nil
	}

	data := templateData{
		IntentID:  in.ID,
		Name:      name,
		Theme:     d.Theme,
		Colors:    d.Colors,
		CreatedAt: in.CreatedAt,
	}
	for _, f := range []struct{ tmpl, file string }{
		{"room.jsx.tmpl", name + "Room.jsx"},
		{"room.css.tmpl", name + ".css"},
	} {
		out, err := render(f.tmpl, data)
		if err != nil {
			return model.Result{}, err
		}
		if err := w.write(filepath.Join(dir, f.file), out); err != nil {
			return model.Result{}, err
		}
	}

	if err := w.writeJSON(filepath.Join(dir, "room.json"), roomDoc{
		Name:      name,
		Theme:     d.Theme,
		Colors:    d.Colors,
		IntentID:  in.ID,
		CreatedAt: in.CreatedAt.UTC(),
	}); err != nil {
		return model.Result{}, err
	}

	res := model.Result{
		Success:      true,
		Name:         name,
		Path:         filepath.ToSlash(dir),
		FilesCreated: w.created(),
		Kind:         "room",
	}
	if err := w.complete(dir, res); err != nil {
		return model.Result{}, err
	}
	return res, nil
}
