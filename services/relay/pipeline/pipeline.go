// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"net/http"
	"time"

	"github.com/insightrelay/insightrelay/services/relay/buffer"
	"github.com/insightrelay/insightrelay/services/relay/correlation"
	"github.com/insightrelay/insightrelay/services/relay/envelope"
	"github.com/insightrelay/insightrelay/services/relay/perf"
)

// Pipeline is the per-request telemetry context: one correlation scope,
// one batch buffer, one phase timer. Create it at the start of a unit
// of work and call End when the work completes.
//
// # Thread Safety
//
// Safe for concurrent use; handlers may log from multiple goroutines
// within one request.
type Pipeline struct {
	hub   *Hub
	corr  correlation.Correlation
	buf   *buffer.Buffer
	start time.Time
	perf  *perf.Collector
}

func (h *Hub) newPipeline(corr correlation.Correlation) *Pipeline {
	return &Pipeline{
		hub:   h,
		corr:  corr,
		buf:   h.newBuffer(),
		start: h.now(),
		perf:  perf.New(h.cfg.SlowThreshold).WithClock(h.now),
	}
}

// NewPipeline starts a telemetry scope continuing the given inbound
// traceparent value (empty for a fresh trace).
func (h *Hub) NewPipeline(traceparent string) *Pipeline {
	return h.newPipeline(correlation.New(traceparent))
}

// Correlation returns the pipeline's correlation context, for
// propagating to outbound calls.
func (p *Pipeline) Correlation() correlation.Correlation {
	return p.corr
}

// Propagate stamps the pipeline's traceparent onto outbound request
// headers so downstream services join the same trace.
func (p *Pipeline) Propagate(h http.Header) {
	p.corr.Inject(h)
}

// props merges baseline, enrichment hook and caller properties, then
// redacts the result. Caller properties win on key conflicts.
func (p *Pipeline) props(userProps map[string]any) map[string]any {
	merged := make(map[string]any, len(p.hub.baseline)+len(userProps))
	for k, v := range p.hub.baseline {
		merged[k] = v
	}
	for k, v := range userProps {
		merged[k] = v
	}
	if p.hub.hooks.Enrich != nil {
		merged = p.hub.hooks.Enrich(merged)
	}
	return p.hub.redactor.Redact(merged)
}

// sample runs the adaptive sampler and the override hook.
func (p *Pipeline) sample(level envelope.Level) bool {
	keep, _ := p.hub.sampler.Decide(level)
	if p.hub.hooks.Sample != nil {
		keep = p.hub.hooks.Sample(level, keep)
	}
	if !keep {
		p.hub.metrics.SampledOutTotal.Inc()
	}
	return keep
}

// Log records a trace message at the given level. Items below the
// configured minimum level or dropped by the sampler are discarded.
func (p *Pipeline) Log(ctx context.Context, level envelope.Level, message string, props map[string]any) {
	if level < p.hub.minLevel {
		return
	}
	if !p.sample(level) {
		return
	}
	env := p.hub.builder.BuildTrace(message, level, p.props(props), p.corr)
	p.hub.metrics.ItemsTotal.WithLabelValues("trace").Inc()
	p.buf.Add(ctx, env)
}

// Error records an error as an Exception envelope. Repeats of the same
// error (by type, message and location) within a short window are
// suppressed. Errors bypass sampling entirely.
func (p *Pipeline) Error(ctx context.Context, err error, props map[string]any) {
	if err == nil {
		return
	}
	exc := envelope.Capture(err, 1)
	hash := exc.Hash()
	if p.hub.dedupe.Suppress(hash) {
		return
	}
	merged := make(map[string]any, len(props)+1)
	for k, v := range props {
		merged[k] = v
	}
	merged["exception_hash"] = hash
	env := p.hub.builder.BuildException(exc, envelope.LevelError, p.props(merged), p.corr)
	p.hub.metrics.ItemsTotal.WithLabelValues("exception").Inc()
	p.buf.Add(ctx, env)
}

// Event records a custom event with optional numeric measurements.
func (p *Pipeline) Event(ctx context.Context, name string, props map[string]any, measurements map[string]float64) {
	env := p.hub.builder.BuildEvent(name, p.props(props), measurements, p.corr)
	p.hub.metrics.ItemsTotal.WithLabelValues("event").Inc()
	p.buf.Add(ctx, env)
}

// Metric records a single metric datapoint.
func (p *Pipeline) Metric(ctx context.Context, name string, value float64, props map[string]any) {
	env := p.hub.builder.BuildMetric(name, value, p.props(props), p.corr)
	p.hub.metrics.ItemsTotal.WithLabelValues("metric").Inc()
	p.buf.Add(ctx, env)
}

// StartPhase times a named section of the request; call the returned
// func when the section completes. Slow phases become metrics at End.
func (p *Pipeline) StartPhase(name string) func() {
	return p.perf.StartPhase(name)
}

// End closes the request scope: it emits slow-phase and memory metrics,
// builds the Request envelope, and flushes the buffer. Telemetry must
// never break the caller, so End swallows panics from its own path.
func (p *Pipeline) End(ctx context.Context, method, uri string, status int) {
	defer func() {
		if r := recover(); r != nil {
			p.hub.logger.Error("telemetry flush panicked", "panic", r)
		}
	}()

	for _, m := range p.perf.Finalize() {
		props := make(map[string]any, len(m.Properties))
		for k, v := range m.Properties {
			props[k] = v
		}
		p.Metric(ctx, m.Name, m.Value, props)
	}

	durationMS := float64(p.hub.now().Sub(p.start)) / float64(time.Millisecond)
	info := envelope.RequestInfo{
		Name: method + " " + ScrubURI(uri),
		URL:  ScrubURI(uri),
		Code: status,
	}
	env := p.hub.builder.BuildRequest(info, durationMS, p.corr)
	reqProps := p.props(requestProps(method, uri))
	if data, ok := env.Data.BaseData.(envelope.RequestData); ok {
		for k, v := range data.Properties {
			reqProps[k] = v
		}
		data.Properties = reqProps
		env.Data.BaseData = data
	}
	p.hub.metrics.ItemsTotal.WithLabelValues("request").Inc()
	p.buf.Add(ctx, env)
	p.buf.Flush(ctx)
}

// Flush forces delivery of everything buffered so far.
func (p *Pipeline) Flush(ctx context.Context) {
	p.buf.Flush(ctx)
}

// Buffered reports the number of items awaiting flush.
func (p *Pipeline) Buffered() int {
	return p.buf.Len()
}

// LastPayloadLines returns the serialized lines of the most recent
// flush, for diagnostics and tests.
func (p *Pipeline) LastPayloadLines() []string {
	return p.buf.LastPayloadLines()
}
