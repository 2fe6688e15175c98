package logging

import (
	"context"
	"errors"
	"log/slog"
)

// Scope identifies the process and session a record belongs to.
type Scope struct {
	Role      string
	SessionID string
	State     string
}

func (s Scope) attrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, 3)
	if s.Role != "" {
		attrs = append(attrs, slog.String("role", s.Role))
	}
	if s.SessionID != "" {
		attrs = append(attrs, slog.String("session", s.SessionID))
	}
	if s.State != "" {
		attrs = append(attrs, slog.String("state", s.State))
	}
	return attrs
}

// ScopeFunc reports the current scope. It runs for every record and must
// not block or log.
type ScopeFunc func() Scope

// scoped stamps every record with the scope current at the time of logging.
type scoped struct {
	next  slog.Handler
	scope ScopeFunc
}

func (h scoped) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h scoped) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(h.scope().attrs()...)
	return h.next.Handle(ctx, r)
}

func (h scoped) WithAttrs(attrs []slog.Attr) slog.Handler {
	return scoped{next: h.next.WithAttrs(attrs), scope: h.scope}
}

func (h scoped) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return scoped{next: h.next.WithGroup(name), scope: h.scope}
}

// fanout delivers each record to every sink that accepts its level. A
// failing sink does not stop the others; the failures are joined.
type fanout []slog.Handler

func newFanout(sinks ...slog.Handler) fanout {
	f := make(fanout, 0, len(sinks))
	for _, h := range sinks {
		if h != nil {
			f = append(f, h)
		}
	}
	return f
}

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) each(fn func(slog.Handler) slog.Handler) fanout {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = fn(h)
	}
	return out
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f fanout) WithGroup(name string) slog.Handler {
	if name == "" {
		return f
	}
	return f.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}
