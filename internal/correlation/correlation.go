// Package correlation ties together every log line emitted while serving one
// request.
//
// A Context (request id plus a few attributes) travels inside the request's
// context.Context. Anything that logs through a handler built with NewHandler
// and passes that ctx to the *Context logging methods (InfoContext,
// ErrorContext, ...) gets the request id stamped on the record, including code
// running after the database call returns.
//
// Contexts are immutable. With derives a child carrying extra attributes and
// never touches the parent, so concurrent requests (and concurrent goroutines
// of the same request) cannot observe each other's attributes.
package correlation

import (
	"context"
	"log/slog"
	"slices"

	"github.com/rs/xid"
)

// MaxAttrs bounds the attributes a single Context can hold. Attributes past
// the limit are dropped.
const MaxAttrs = 8

// RequestIDKey is the log attribute key for the request id.
const RequestIDKey = "request_id"

type ctxKey struct{}

// Context is the per-request correlation data.
type Context struct {
	requestID string
	attrs     []slog.Attr
}

// Begin allocates a fresh request id, merges attrs and returns a derived
// context carrying the new Context.
func Begin(ctx context.Context, attrs ...slog.Attr) (context.Context, *Context) {
	c := &Context{
		requestID: xid.New().String(),
		attrs:     appendBounded(nil, attrs),
	}
	return context.WithValue(ctx, ctxKey{}, c), c
}

// With returns a child of ctx whose Context has attrs appended. If ctx has no
// Context yet, one is begun.
func With(ctx context.Context, attrs ...slog.Attr) context.Context {
	parent, ok := FromContext(ctx)
	if !ok {
		ctx, _ = Begin(ctx, attrs...)
		return ctx
	}
	child := &Context{
		requestID: parent.requestID,
		attrs:     appendBounded(slices.Clone(parent.attrs), attrs),
	}
	return context.WithValue(ctx, ctxKey{}, child)
}

// FromContext returns the Context carried by ctx, if any.
func FromContext(ctx context.Context) (*Context, bool) {
	if ctx == nil {
		return nil, false
	}
	c, ok := ctx.Value(ctxKey{}).(*Context)
	return c, ok
}

// RequestID returns the request id carried by ctx, or "" when there is none.
func RequestID(ctx context.Context) string {
	if c, ok := FromContext(ctx); ok {
		return c.requestID
	}
	return ""
}

// RequestID returns the request id.
func (c *Context) RequestID() string { return c.requestID }

// Attrs returns a copy of the attributes.
func (c *Context) Attrs() []slog.Attr { return slices.Clone(c.attrs) }

func appendBounded(dst, src []slog.Attr) []slog.Attr {
	for _, a := range src {
		if len(dst) >= MaxAttrs {
			break
		}
		dst = append(dst, a)
	}
	return dst
}
