package logging

import (
	"context"
	"errors"
	"log/slog"
)

// Sink is one destination of the fanout handler. Level, when set, is a
// threshold on top of the handler's own.
type Sink struct {
	Handler slog.Handler
	Level   slog.Leveler
}

func (s Sink) accepts(ctx context.Context, level slog.Level) bool {
	if s.Level != nil && level < s.Level.Level() {
		return false
	}
	return s.Handler.Enabled(ctx, level)
}

// fanout sends each record to every sink that accepts its level.
type fanout struct {
	sinks []Sink
}

func newFanout(sinks ...Sink) *fanout {
	valid := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s.Handler != nil {
			valid = append(valid, s)
		}
	}
	return &fanout{sinks: valid}
}

func (f *fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, s := range f.sinks {
		if s.accepts(ctx, level) {
			return true
		}
	}
	return false
}

// Handle reports every sink failure, after all sinks were tried.
func (f *fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, s := range f.sinks {
		if !s.accepts(ctx, r.Level) {
			continue
		}
		if err := s.Handler.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f *fanout) WithGroup(name string) slog.Handler {
	if name == "" {
		return f
	}
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f *fanout) derive(fn func(slog.Handler) slog.Handler) *fanout {
	sinks := make([]Sink, len(f.sinks))
	for i, s := range f.sinks {
		sinks[i] = Sink{Handler: fn(s.Handler), Level: s.Level}
	}
	return &fanout{sinks: sinks}
}

// StateFunc reports live state attached to every record under the "view"
// group, such as whether the viewer is signed in.
type StateFunc func() []slog.Attr

type stateHandler struct {
	inner slog.Handler
	state StateFunc
}

func (h *stateHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *stateHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs := h.state(); len(attrs) > 0 {
		r.AddAttrs(slog.Attr{Key: "view", Value: slog.GroupValue(attrs...)})
	}
	return h.inner.Handle(ctx, r)
}

func (h *stateHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &stateHandler{inner: h.inner.WithAttrs(attrs), state: h.state}
}

func (h *stateHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &stateHandler{inner: h.inner.WithGroup(name), state: h.state}
}
