package correlation

import (
	"context"
	"log/slog"
)

// Handler is a slog.Handler that stamps records with the Context found in the
// ctx passed to the logger.
//
// The request id and correlation attributes always land at the top level of
// the record, even for loggers built with WithGroup. To make that possible
// the handler holds back groups (and any attributes added after the first
// group) and applies them itself in Handle.
type Handler struct {
	next slog.Handler
	goas []groupOrAttrs
}

// groupOrAttrs is one deferred WithGroup or WithAttrs call.
type groupOrAttrs struct {
	group string
	attrs []slog.Attr
}

// NewHandler wraps next.
func NewHandler(next slog.Handler) *Handler {
	return &Handler{next: next}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	c, ok := FromContext(ctx)
	if len(h.goas) == 0 {
		if ok {
			r = r.Clone()
			r.AddAttrs(slog.String(RequestIDKey, c.requestID))
			r.AddAttrs(c.attrs...)
		}
		return h.next.Handle(ctx, r)
	}

	nested := make([]slog.Attr, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		nested = append(nested, a)
		return true
	})
	for i := len(h.goas) - 1; i >= 0; i-- {
		g := h.goas[i]
		if g.group != "" {
			nested = []slog.Attr{{Key: g.group, Value: slog.GroupValue(nested...)}}
			continue
		}
		nested = append(append([]slog.Attr{}, g.attrs...), nested...)
	}

	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	if ok {
		out.AddAttrs(slog.String(RequestIDKey, c.requestID))
		out.AddAttrs(c.attrs...)
	}
	out.AddAttrs(nested...)
	return h.next.Handle(ctx, out)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	if len(h.goas) == 0 {
		return &Handler{next: h.next.WithAttrs(attrs)}
	}
	return h.withGroupOrAttrs(groupOrAttrs{attrs: attrs})
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.withGroupOrAttrs(groupOrAttrs{group: name})
}

func (h *Handler) withGroupOrAttrs(g groupOrAttrs) *Handler {
	goas := make([]groupOrAttrs, len(h.goas)+1)
	copy(goas, h.goas)
	goas[len(h.goas)] = g
	return &Handler{next: h.next, goas: goas}
}
