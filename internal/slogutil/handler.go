package slogutil

import (
	"context"
	"log/slog"
	"os"
	"slices"
)

// Hook is called when a slog record is handled.
type Hook interface {
	Run(ctx context.Context, r *slog.Record)
}

// HookFunc adapts a function to the Hook interface.
type HookFunc func(ctx context.Context, r *slog.Record)

// Run calls f.
func (f HookFunc) Run(ctx context.Context, r *slog.Record) {
	f(ctx, r)
}

// Handler is a slog.Handler with hooks support.
type Handler struct {
	handler slog.Handler
	hooks   []Hook
}

// WrapHandler creates a new Handler around h that copies context attributes
// (see With) into every record, followed by any extra hooks.
// If the provided handler is nil, a default text handler is used.
func WrapHandler(h slog.Handler, hooks ...Hook) Handler {
	if h == nil {
		h = slog.NewTextHandler(os.Stdout, nil)
	}

	return Handler{
		handler: h,
		hooks:   slices.Concat([]Hook{dataHook{}}, hooks),
	}
}

func (h Handler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.handler.Enabled(ctx, l)
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if len(h.hooks) > 0 {
		r = r.Clone()

		for _, hook := range h.hooks {
			hook.Run(ctx, &r)
		}
	}

	return h.handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{
		hooks:   h.hooks,
		handler: h.handler.WithAttrs(attrs),
	}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{
		hooks:   h.hooks,
		handler: h.handler.WithGroup(name),
	}
}

// WithHooks returns a copy of h running the extra hooks after the existing ones.
func (h Handler) WithHooks(hooks ...Hook) Handler {
	if len(hooks) == 0 {
		return h
	}

	return Handler{
		hooks:   slices.Concat(h.hooks, hooks),
		handler: h.handler,
	}
}
