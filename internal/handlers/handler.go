// Package handlers turns intents into files on disk. Each intent type has one
// handler confined to its own subtree of the root; handlers never touch the
// identity or the queue.
package handlers

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/agent-loop/internal/model"
)

// Output subtrees. Room and enhancement directories live under the front-end
// root.
const (
	DefaultFrontendRoot = "frontend/src"
	AgentsDir           = "agents"
	MonetizationDir     = "creations/monetization"
	RoomsDir            = "components/rooms"
	EnhancementsDir     = "enhancements"
)

// ErrorKind classifies a handler failure.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindHandler    ErrorKind = "handler"
)

// Error is a failure surfaced by a handler.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

func invalid(format string, args ...any) error {
	return &Error{Kind: KindValidation, Err: fmt.Errorf("%w: %s", model.ErrValidation, fmt.Sprintf(format, args...))}
}

func failed(op string, err error) error {
	return &Error{Kind: KindHandler, Err: fmt.Errorf("%s: %w", op, err)}
}

// Handler materializes one intent type.
type Handler interface {
	Type() model.IntentType
	Handle(ctx context.Context, in model.Intent) (model.Result, error)
}

// Env is the filesystem context shared by handlers.
type Env struct {
	Root         string
	FrontendRoot string // relative to Root
	Logger       *zap.Logger
	Now          func() time.Time
}

func (e Env) withDefaults() Env {
	if e.FrontendRoot == "" {
		e.FrontendRoot = DefaultFrontendRoot
	}
	if e.Logger == nil {
		e.Logger = zap.NewNop()
	}
	if e.Now == nil {
		e.Now = time.Now
	}
	return e
}

// fill gives in a creation time when it has none, so derived values are
// stable for the rest of the invocation.
func (e Env) fill(in model.Intent) model.Intent {
	if in.CreatedAt.IsZero() {
		in.CreatedAt = e.Now().UTC()
	}
	return in
}

func (e Env) frontend(elem ...string) string {
	return filepath.Join(append([]string{filepath.FromSlash(e.FrontendRoot)}, elem...)...)
}

// Registry holds one handler per intent type.
type Registry struct {
	logger *zap.Logger
	agent  Handler
	room   Handler
	tool   Handler
	ui     Handler
}

// NewRegistry returns a registry with the built-in handlers.
func NewRegistry(env Env) *Registry {
	env = env.withDefaults()
	return &Registry{
		logger: env.Logger.Named("handlers"),
		agent:  NewAgentHandler(env),
		room:   NewRoomHandler(env),
		tool:   NewToolHandler(env),
		ui:     NewEvolveUIHandler(env),
	}
}

// Register replaces the handler for h.Type().
func (r *Registry) Register(h Handler) error {
	switch h.Type() {
	case model.IntentCreateAgent:
		r.agent = h
	case model.IntentCreateRoom:
		r.room = h
	case model.IntentCreateTool:
		r.tool = h
	case model.IntentEvolveUI:
		r.ui = h
	default:
		return invalid("unknown intent type %q", h.Type())
	}
	return nil
}

// For resolves the handler for an intent type or alias.
func (r *Registry) For(typ string) (Handler, error) {
	t, err := model.ParseIntentType(typ)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Err: err}
	}
	switch t {
	case model.IntentCreateAgent:
		return r.agent, nil
	case model.IntentCreateRoom:
		return r.room, nil
	case model.IntentCreateTool:
		return r.tool, nil
	case model.IntentEvolveUI:
		return r.ui, nil
	}
	return nil, invalid("no handler for %q", t)
}

// Dispatch runs the handler for in. Errors and panics come back as an
// unsuccessful result; Dispatch itself never fails.
func (r *Registry) Dispatch(ctx context.Context, in model.Intent) (res model.Result) {
	log := r.logger.With(zap.String("intent", in.ID), zap.String("type", in.Type))
	defer func() {
		if p := recover(); p != nil {
			log.Error("handler panic", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
			res = model.Failure(&Error{Kind: KindHandler, Err: fmt.Errorf("handler panic: %v", p)})
		}
	}()

	h, err := r.For(in.Type)
	if err != nil {
		log.Warn("dispatch rejected", zap.Error(err))
		return model.Failure(err)
	}

	out, err := h.Handle(ctx, in)
	if err != nil {
		log.Warn("handler failed", zap.Error(err))
		return model.Failure(err)
	}
	out.Success = true
	out.Error = ""
	log.Info("handler succeeded", zap.String("path", out.Path), zap.Int("files", len(out.FilesCreated)))
	return out
}
