// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package buffer accumulates telemetry envelopes and flushes them to the
// transport in batches, either synchronously or via a deferred async
// drain job.
package buffer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/insightrelay/insightrelay/services/relay/envelope"
	"github.com/insightrelay/insightrelay/services/relay/transport"
)

// Config controls batching behavior.
type Config struct {
	// MaxSize flushes the buffer once this many items accumulate.
	MaxSize int
	// FlushInterval flushes the buffer when the oldest buffered item
	// is at least this old, checked on each Add.
	FlushInterval time.Duration
	// Async defers delivery to the pending batch list instead of
	// sending inline.
	Async bool
}

// DefaultConfig returns the standard batching parameters.
func DefaultConfig() Config {
	return Config{
		MaxSize:       20,
		FlushInterval: 2 * time.Second,
		Async:         false,
	}
}

// Buffer collects envelopes and hands full batches to the transport.
//
// Thread Safety: all methods are safe for concurrent use.
type Buffer struct {
	mu        sync.Mutex
	cfg       Config
	items     []envelope.Envelope
	lastFlush time.Time

	transport  transport.Transport
	pending    *Pending
	onFailure  func(lines []string)
	beforeSend func([]envelope.Envelope) []envelope.Envelope
	armDrain   func()

	now    func() time.Time
	logger *slog.Logger

	lastPayload []string
}

// Option customizes a Buffer.
type Option func(*Buffer)

// WithOnFailure registers a callback invoked with the serialized lines
// of any batch the transport rejects.
func WithOnFailure(fn func(lines []string)) Option {
	return func(b *Buffer) { b.onFailure = fn }
}

// WithBeforeSend registers a hook that can rewrite or drop envelopes
// just before serialization. Returning an empty slice cancels the send.
func WithBeforeSend(fn func([]envelope.Envelope) []envelope.Envelope) Option {
	return func(b *Buffer) { b.beforeSend = fn }
}

// WithPending supplies the durable batch list used when Async is set.
func WithPending(p *Pending, armDrain func()) Option {
	return func(b *Buffer) {
		b.pending = p
		b.armDrain = armDrain
	}
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) { b.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Buffer) { b.logger = l }
}

// New creates a buffer flushing to the given transport.
func New(cfg Config, t transport.Transport, opts ...Option) *Buffer {
	if cfg.MaxSize < 1 {
		cfg.MaxSize = 1
	}
	b := &Buffer{
		cfg:       cfg,
		transport: t,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.lastFlush = b.now()
	return b
}

// Add appends an envelope and flushes if the batch is full or the
// flush interval has elapsed since the last flush.
func (b *Buffer) Add(ctx context.Context, env envelope.Envelope) {
	b.mu.Lock()
	b.items = append(b.items, env)
	full := len(b.items) >= b.cfg.MaxSize
	stale := b.now().Sub(b.lastFlush) >= b.cfg.FlushInterval
	b.mu.Unlock()

	if full || stale {
		b.Flush(ctx)
	}
}

// Flush delivers everything buffered so far. In async mode the batch is
// persisted to the pending list and the drain job is armed; otherwise
// the transport is called inline and failed lines are handed to the
// failure callback.
func (b *Buffer) Flush(ctx context.Context) {
	b.mu.Lock()
	items := b.items
	b.items = nil
	b.lastFlush = b.now()
	b.mu.Unlock()

	if len(items) == 0 {
		return
	}
	if b.beforeSend != nil {
		items = b.beforeSend(items)
		if len(items) == 0 {
			return
		}
	}
	lines, err := envelope.EncodeLines(items)
	if err != nil {
		b.logger.Error("encode batch failed", "error", err)
		return
	}

	b.mu.Lock()
	b.lastPayload = lines
	b.mu.Unlock()

	if b.cfg.Async && b.pending != nil {
		if err := b.pending.Push(lines); err != nil {
			b.logger.Warn("persist async batch failed, sending inline", "error", err)
			b.send(ctx, lines)
			return
		}
		if b.armDrain != nil {
			b.armDrain()
		}
		return
	}
	b.send(ctx, lines)
}

func (b *Buffer) send(ctx context.Context, lines []string) {
	if err := b.transport.Send(ctx, lines); err != nil {
		b.logger.Warn("batch send failed", "lines", len(lines), "error", err)
		if b.onFailure != nil {
			b.onFailure(lines)
		}
	}
}

// Len reports the number of buffered, not-yet-flushed envelopes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// LastPayloadLines returns the serialized lines of the most recently
// flushed batch, for diagnostics.
func (b *Buffer) LastPayloadLines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.lastPayload))
	copy(out, b.lastPayload)
	return out
}
