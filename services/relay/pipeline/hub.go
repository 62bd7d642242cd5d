// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline wires the relay together: it turns log records,
// events, metrics and errors into Application Insights envelopes,
// batches them, and hands failures to the durable retry queue.
//
// A process has one Hub holding the shared pieces (sampler, redactor,
// transport, retry queue). Each unit of work gets its own Pipeline
// carrying the correlation context and batch buffer.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/insightrelay/insightrelay/services/relay/buffer"
	"github.com/insightrelay/insightrelay/services/relay/config"
	"github.com/insightrelay/insightrelay/services/relay/correlation"
	"github.com/insightrelay/insightrelay/services/relay/envelope"
	"github.com/insightrelay/insightrelay/services/relay/queue"
	"github.com/insightrelay/insightrelay/services/relay/redact"
	"github.com/insightrelay/insightrelay/services/relay/sampling"
	"github.com/insightrelay/insightrelay/services/relay/sched"
	"github.com/insightrelay/insightrelay/services/relay/storage"
	"github.com/insightrelay/insightrelay/services/relay/transport"
)

// asyncDrainDelay is how soon after arming the one-shot async drain
// runs. Kept short so deferred batches leave the process quickly.
const asyncDrainDelay = time.Second

// Hooks lets embedders adjust pipeline behavior without forking it.
// All fields are optional.
type Hooks struct {
	// Sample can override a sampling decision. It receives the item
	// level and the sampler's verdict and returns the final one.
	Sample func(level envelope.Level, keep bool) bool

	// Enrich can add or rewrite properties on every item before
	// redaction runs.
	Enrich func(props map[string]any) map[string]any

	// BeforeSend can rewrite or drop envelopes immediately before
	// serialization. Returning an empty slice cancels the batch.
	BeforeSend func(items []envelope.Envelope) []envelope.Envelope
}

// Hub is the process-wide telemetry coordinator.
//
// # Thread Safety
//
// Safe for concurrent use. Pipelines created from one hub share its
// sampler, queue and transport, each of which locks internally.
type Hub struct {
	cfg      config.Config
	minLevel envelope.Level

	builder   *envelope.Builder
	sampler   *sampling.Sampler
	redactor  *redact.Redactor
	transport transport.Transport
	diag      *transport.Diagnostics
	retry     *queue.Queue
	pending   *buffer.Pending
	sched     sched.Scheduler
	metrics   *Metrics
	hooks     Hooks
	dedupe    *dedupeCache
	baseline  map[string]any

	logger *slog.Logger
	now    func() time.Time

	asyncArmed atomic.Bool

	mu         sync.Mutex
	background *Pipeline
	stopDrain  func()
}

// HubOption customizes a Hub.
type HubOption func(*Hub)

// WithLogger sets the hub's structured logger.
func WithLogger(l *slog.Logger) HubOption {
	return func(h *Hub) { h.logger = l }
}

// WithScheduler overrides the background job scheduler. Tests use
// sched.Manual to run drains deterministically.
func WithScheduler(s sched.Scheduler) HubOption {
	return func(h *Hub) { h.sched = s }
}

// WithRegisterer sets the Prometheus registry for the hub's metrics.
// Tests pass private registries so hubs can be created repeatedly.
func WithRegisterer(reg prometheus.Registerer) HubOption {
	return func(h *Hub) { h.metrics = NewMetrics(reg) }
}

// WithHooks installs the embedder hooks.
func WithHooks(hooks Hooks) HubOption {
	return func(h *Hub) { h.hooks = hooks }
}

// WithClock injects a clock for tests; it feeds the builder, sampler,
// dedupe cache and retry scheduling.
func WithClock(now func() time.Time) HubOption {
	return func(h *Hub) { h.now = now }
}

// NewHub assembles a hub from configuration over the given store and
// transport.
func NewHub(cfg config.Config, store storage.Store, t transport.Transport, diag *transport.Diagnostics, opts ...HubOption) (*Hub, error) {
	minLevel, err := envelope.ParseLevel(cfg.MinLevel)
	if err != nil {
		return nil, err
	}
	h := &Hub{
		cfg:       cfg,
		minLevel:  minLevel,
		transport: t,
		diag:      diag,
		sched:     sched.NewTimer(),
		logger:    slog.Default(),
		now:       time.Now,
		baseline:  baselineProps(cfg),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.builder = &envelope.Builder{IKey: cfg.InstrumentationKey, Now: h.now}
	h.sampler = sampling.New(cfg.SamplingRate, sampling.WithClock(h.now))
	h.redactor = redact.New(cfg.RedactKeys, cfg.RedactPatterns, h.logger)
	h.retry = queue.New(store,
		queue.WithSchedule(cfg.RetrySchedule),
		queue.WithMaxSize(cfg.RetryQueueMax),
		queue.WithClock(h.now),
		queue.WithLogger(h.logger))
	h.pending = buffer.NewPending(store)
	h.dedupe = newDedupeCache(h.now)
	if h.metrics == nil {
		h.metrics = NewMetrics(prometheus.DefaultRegisterer)
	}
	return h, nil
}

// Start arms the background jobs: a periodic retry queue drain, plus
// one-shot recovery drains for batches left over from a previous run.
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopDrain != nil {
		return
	}
	h.stopDrain = h.sched.Every(h.cfg.RetryDrainInterval, func() {
		h.DrainRetry(false)
	})
	// Recover state persisted before the last shutdown.
	h.sched.After(0, func() {
		h.drainAsync()
		h.DrainRetry(false)
	})
}

// Stop cancels the periodic drain and flushes what it can.
func (h *Hub) Stop(ctx context.Context) {
	h.mu.Lock()
	stop := h.stopDrain
	h.stopDrain = nil
	bg := h.background
	h.mu.Unlock()

	if stop != nil {
		stop()
	}
	if bg != nil {
		bg.Flush(ctx)
	}
	h.drainAsync()
}

// DrainRetry resends due retry queue entries (all of them when force
// is set) and returns the attempt counts.
func (h *Hub) DrainRetry(force bool) (attempted, succeeded int) {
	attempted, succeeded, err := h.retry.Drain(force, func(lines []string) bool {
		return h.transport.Send(context.Background(), lines) == nil
	})
	if err != nil {
		h.logger.Warn("retry drain failed", "error", err)
		return attempted, succeeded
	}
	h.metrics.RetryDrainsTotal.Inc()
	h.metrics.QueueDepth.Set(float64(h.retry.Depth()))
	if attempted > 0 {
		h.logger.Info("retry queue drained",
			"attempted", attempted, "succeeded", succeeded)
	}
	return attempted, succeeded
}

// armAsyncDrain schedules a single one-shot drain of the pending batch
// list. Repeated calls while one is armed are no-ops.
func (h *Hub) armAsyncDrain() {
	if !h.asyncArmed.CompareAndSwap(false, true) {
		return
	}
	h.sched.After(asyncDrainDelay, h.drainAsync)
}

// drainAsync sends every pending async batch; failures go to the retry
// queue.
func (h *Hub) drainAsync() {
	h.asyncArmed.Store(false)
	batches, err := h.pending.PopAll()
	if err != nil {
		h.logger.Warn("load pending batches failed", "error", err)
		return
	}
	for _, b := range batches {
		if err := h.transport.Send(context.Background(), b.Lines); err != nil {
			h.metrics.SendFailuresTotal.Inc()
			if qerr := h.retry.Enqueue(b.Lines); qerr != nil {
				h.logger.Error("enqueue failed batch", "error", qerr)
			}
		}
	}
	h.metrics.PendingBatches.Set(float64(h.pending.Count()))
	h.metrics.QueueDepth.Set(float64(h.retry.Depth()))
}

// newBuffer builds the per-pipeline batch buffer wired to the hub's
// failure and async paths.
func (h *Hub) newBuffer() *buffer.Buffer {
	return buffer.New(
		buffer.Config{
			MaxSize:       h.cfg.BatchMaxSize,
			FlushInterval: h.cfg.BatchFlushInterval,
			Async:         h.cfg.AsyncEnabled,
		},
		h.transport,
		buffer.WithOnFailure(func(lines []string) {
			h.metrics.SendFailuresTotal.Inc()
			if err := h.retry.Enqueue(lines); err != nil {
				h.logger.Error("enqueue failed batch", "error", err)
			}
			h.metrics.QueueDepth.Set(float64(h.retry.Depth()))
		}),
		buffer.WithBeforeSend(h.hooks.BeforeSend),
		buffer.WithPending(h.pending, h.armAsyncDrain),
		buffer.WithClock(h.now),
		buffer.WithLogger(h.logger),
	)
}

// Background returns the hub's shared pipeline for telemetry that is
// not tied to a request. It carries a fresh correlation context.
func (h *Hub) Background() *Pipeline {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.background == nil {
		h.background = h.newPipeline(correlation.New(""))
	}
	return h.background
}

// Status is a point-in-time snapshot of hub health for the admin API.
type Status struct {
	Service        string    `json:"service"`
	Environment    string    `json:"environment"`
	IKeyConfigured bool      `json:"ikey_configured"`
	IngestURL      string    `json:"ingest_url"`
	Async          bool      `json:"async"`
	SamplingRate   float64   `json:"sampling_rate"`
	QueueDepth     int       `json:"queue_depth"`
	PendingBatches int       `json:"pending_batches"`
	Sends          int64     `json:"sends"`
	Failures       int64     `json:"failures"`
	LastSend       time.Time `json:"last_send"`
	LastErrorCode  string    `json:"last_error_code,omitempty"`
	LastErrorMsg   string    `json:"last_error_message,omitempty"`
}

// Status reports current hub health.
func (h *Hub) Status() Status {
	sends, failures := h.diag.Counts()
	code, msg := h.diag.LastError()
	return Status{
		Service:        h.cfg.ServiceName,
		Environment:    h.cfg.Environment,
		IKeyConfigured: h.cfg.InstrumentationKey != "",
		IngestURL:      h.cfg.IngestURL,
		Async:          h.cfg.AsyncEnabled,
		SamplingRate:   h.sampler.BaseRate(),
		QueueDepth:     h.retry.Depth(),
		PendingBatches: h.pending.Count(),
		Sends:          sends,
		Failures:       failures,
		LastSend:       h.diag.LastSendTime(),
		LastErrorCode:  code,
		LastErrorMsg:   msg,
	}
}

// Queue exposes the retry queue for the admin API.
func (h *Hub) Queue() *queue.Queue {
	return h.retry
}

// Config returns the hub's effective configuration.
func (h *Hub) Config() config.Config {
	return h.cfg
}
