// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package sampling decides whether non-error telemetry items are kept,
// damping the effective rate under burst load.
package sampling

import (
	"math/rand"
	"sync"
	"time"

	"github.com/insightrelay/insightrelay/services/relay/envelope"
)

// bucketSeconds is the width of one sampling window bucket.
const bucketSeconds = 10

// burstThreshold is the per-bucket decision count beyond which the
// effective rate is halved for low-severity items.
const burstThreshold = 50

// rateFloor is the minimum effective rate under burst damping.
const rateFloor = 0.1

// Sampler makes stateful keep/drop decisions. State is scoped to the
// Sampler instance (no hidden globals) so tests and multi-tenant hosts
// create independent samplers.
//
// Thread Safety: Safe for concurrent use.
type Sampler struct {
	mu       sync.Mutex
	baseRate float64
	window   map[int64]int

	now       func() time.Time
	randFloat func() float64
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithClock injects a clock. Tests use this to pin bucket boundaries.
func WithClock(now func() time.Time) Option {
	return func(s *Sampler) { s.now = now }
}

// WithRand injects the uniform [0,1) source used for keep draws.
func WithRand(f func() float64) Option {
	return func(s *Sampler) { s.randFloat = f }
}

// New creates a Sampler with the given base rate, clamped to [0,1].
func New(baseRate float64, opts ...Option) *Sampler {
	if baseRate < 0 {
		baseRate = 0
	}
	if baseRate > 1 {
		baseRate = 1
	}
	s := &Sampler{
		baseRate:  baseRate,
		window:    make(map[int64]int),
		now:       time.Now,
		randFloat: rand.Float64,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BaseRate returns the configured (clamped) base sampling rate.
func (s *Sampler) BaseRate() float64 {
	return s.baseRate
}

// Decide returns whether an item at the given level should be kept,
// together with the effective rate used for the decision.
//
// Description:
//
//	Every call counts against the current 10-second bucket; strictly
//	older buckets are purged eagerly. When a bucket accumulates more
//	than 50 decisions, the effective rate for items below warning is
//	halved, floored at 0.1, so low-severity bursts are damped without
//	touching warnings and above. Items at error level or higher are
//	always kept regardless of rate or burst state.
func (s *Sampler) Decide(level envelope.Level) (keep bool, effectiveRate float64) {
	s.mu.Lock()
	bucket := s.now().Unix()
	bucket -= bucket % bucketSeconds
	for b := range s.window {
		if b < bucket {
			delete(s.window, b)
		}
	}
	s.window[bucket]++
	count := s.window[bucket]
	s.mu.Unlock()

	effectiveRate = s.baseRate
	if level < envelope.LevelWarning && count > burstThreshold && effectiveRate > rateFloor {
		effectiveRate = effectiveRate * 0.5
		if effectiveRate < rateFloor {
			effectiveRate = rateFloor
		}
	}

	if level >= envelope.LevelError {
		return true, effectiveRate
	}
	if effectiveRate < 1.0 {
		return s.randFloat() <= effectiveRate, effectiveRate
	}
	return true, effectiveRate
}

// bucketCount returns the decision count recorded for the bucket holding
// t. Test accessor; avoids reaching into the window map directly.
func (s *Sampler) bucketCount(t time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := t.Unix()
	b -= b % bucketSeconds
	return s.window[b]
}
