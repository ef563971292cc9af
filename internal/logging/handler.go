package logging

import (
	"context"
	"log/slog"
)

// ComponentKey is the attribute naming the component a logger belongs to.
const ComponentKey = "component"

// FilterHandler applies a Filter using the component attribute attached
// with Logger.With. Records pass through to the wrapped handler, which
// must accept every level the filter can let through.
type FilterHandler struct {
	inner     slog.Handler
	filter    Filter
	component string
	grouped   bool
	flush     func() error
}

// NewFilterHandler wraps inner. If flush is non-nil it is called after
// every record is written.
func NewFilterHandler(inner slog.Handler, filter Filter, flush func() error) *FilterHandler {
	return &FilterHandler{inner: inner, filter: filter, flush: flush}
}

// Enabled implements slog.Handler.
func (h *FilterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.filter.Enabled(h.component, level) && h.inner.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *FilterHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.inner.Handle(ctx, r); err != nil {
		return err
	}
	if h.flush != nil {
		return h.flush()
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (h *FilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.inner = h.inner.WithAttrs(attrs)
	if !h.grouped {
		for _, a := range attrs {
			if a.Key == ComponentKey {
				clone.component = a.Value.String()
			}
		}
	}
	return &clone
}

// WithGroup implements slog.Handler.
func (h *FilterHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.inner = h.inner.WithGroup(name)
	clone.grouped = true
	return &clone
}
