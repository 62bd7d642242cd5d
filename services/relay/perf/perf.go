// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package perf times named phases of a request and surfaces the slow
// ones as telemetry metrics at request end.
package perf

import (
	"runtime"
	"sync"
	"time"
)

// Phase is one completed timed section.
type Phase struct {
	Name     string
	Duration time.Duration
}

// Collector accumulates phase timings for a single request.
//
// Thread Safety: safe for concurrent use; handlers may time phases
// from multiple goroutines.
type Collector struct {
	mu        sync.Mutex
	threshold time.Duration
	phases    []Phase
	now       func() time.Time
}

// New creates a collector that reports phases at or above threshold.
// A zero threshold reports every phase.
func New(threshold time.Duration) *Collector {
	return &Collector{threshold: threshold, now: time.Now}
}

// WithClock overrides the time source for tests.
func (c *Collector) WithClock(now func() time.Time) *Collector {
	c.now = now
	return c
}

// StartPhase begins timing a named phase. Calling the returned func
// ends it; a second call is a no-op.
func (c *Collector) StartPhase(name string) func() {
	start := c.now()
	var once sync.Once
	return func() {
		once.Do(func() {
			d := c.now().Sub(start)
			c.mu.Lock()
			c.phases = append(c.phases, Phase{Name: name, Duration: d})
			c.mu.Unlock()
		})
	}
}

// Metric is one datapoint produced by Finalize.
type Metric struct {
	Name       string
	Value      float64
	Properties map[string]string
}

// Finalize returns the metrics for the request: one phase_duration_ms
// metric per slow phase plus the current heap usage. The collector can
// be reused afterward; its phase list is cleared.
func (c *Collector) Finalize() []Metric {
	c.mu.Lock()
	phases := c.phases
	c.phases = nil
	c.mu.Unlock()

	var out []Metric
	for _, p := range phases {
		if p.Duration < c.threshold {
			continue
		}
		out = append(out, Metric{
			Name:       "phase_duration_ms",
			Value:      float64(p.Duration) / float64(time.Millisecond),
			Properties: map[string]string{"phase": p.Name},
		})
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	out = append(out, Metric{
		Name:  "heap_alloc_bytes",
		Value: float64(ms.HeapAlloc),
	})
	return out
}
