// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"log/slog"

	"github.com/insightrelay/insightrelay/services/relay/envelope"
)

type ctxKey struct{}

// WithContext attaches a pipeline to the context so downstream code
// can emit telemetry into the surrounding request scope.
func WithContext(ctx context.Context, p *Pipeline) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the pipeline attached to ctx, falling back to
// the hub's background pipeline so callers never get a nil.
func (h *Hub) FromContext(ctx context.Context) *Pipeline {
	if p, ok := ctx.Value(ctxKey{}).(*Pipeline); ok {
		return p
	}
	return h.Background()
}

// Handler is a slog.Handler that forwards records into the telemetry
// pipeline. Records carrying an error attribute become Exception
// envelopes; everything else becomes a trace Message. Install it with
// slog.New(pipeline.NewHandler(hub)) or fan out alongside a console
// handler.
type Handler struct {
	hub   *Hub
	attrs []slog.Attr
	group string
}

// NewHandler creates the slog bridge for the given hub.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// Enabled defers to the hub's minimum level.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return envelope.FromSlog(level) >= h.hub.minLevel
}

// Handle converts the record and emits it on the context's pipeline.
func (h *Handler) Handle(ctx context.Context, rec slog.Record) error {
	p := h.hub.FromContext(ctx)
	level := envelope.FromSlog(rec.Level)

	props := make(map[string]any, rec.NumAttrs()+len(h.attrs))
	var errAttr error
	collect := func(a slog.Attr) bool {
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		if err, ok := a.Value.Any().(error); ok && errAttr == nil {
			errAttr = err
			return true
		}
		props[key] = a.Value.Any()
		return true
	}
	for _, a := range h.attrs {
		collect(a)
	}
	rec.Attrs(collect)

	if errAttr != nil && level >= envelope.LevelError {
		props["message"] = rec.Message
		p.Error(ctx, errAttr, props)
		return nil
	}
	if errAttr != nil {
		props["error"] = errAttr.Error()
	}
	p.Log(ctx, level, rec.Message, props)
	return nil
}

// WithAttrs returns a handler that adds the attrs to every record.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

// WithGroup returns a handler that prefixes attr keys with the group
// name. Nested groups accumulate dot-separated.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	if h.group != "" {
		clone.group = h.group + "." + name
	} else {
		clone.group = name
	}
	return &clone
}
