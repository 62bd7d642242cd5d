// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package queue persists failed telemetry batches and schedules their
// re-delivery with exponential backoff.
//
// A batch that fails every attempt in the schedule is dropped for good.
// That silent loss is an accepted tradeoff: there is no dead-letter
// store, only a warning log.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/insightrelay/insightrelay/services/relay/storage"
)

// storeKey is the key under which the serialized queue lives.
const storeKey = "aiw_retry_queue_v1"

// DefaultMaxSize caps the queue length; oldest entries are dropped first.
const DefaultMaxSize = 100

// DefaultSchedule is the backoff delay before each attempt. Four failed
// attempts exhaust the schedule and drop the batch.
var DefaultSchedule = []time.Duration{
	60 * time.Second,
	300 * time.Second,
	900 * time.Second,
	3600 * time.Second,
}

// Entry is one queued batch awaiting re-delivery.
type Entry struct {
	// Lines is the already serialized JSON-lines payload.
	Lines []string `json:"lines"`

	// Attempts counts failed resends so far. Starts at zero.
	Attempts int `json:"attempts"`

	// NextAttempt is the epoch second at which the entry becomes due.
	NextAttempt int64 `json:"next_attempt"`
}

// Queue is a durable retry queue over a storage.Store.
//
// All load-modify-save sequences run under one mutex so concurrent
// writers (request-path enqueues, background drains) cannot lose
// updates within a process. Cross-process writers would need store-level
// transactions; a single hub owns the store here.
type Queue struct {
	mu       sync.Mutex
	store    storage.Store
	schedule []time.Duration
	maxSize  int
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithSchedule overrides the backoff schedule. Empty schedules are
// ignored.
func WithSchedule(schedule []time.Duration) Option {
	return func(q *Queue) {
		if len(schedule) > 0 {
			q.schedule = schedule
		}
	}
}

// WithMaxSize overrides the queue length cap. Zero or negative disables
// the cap.
func WithMaxSize(n int) Option {
	return func(q *Queue) { q.maxSize = n }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithLogger sets the logger for drop warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

// New creates a retry queue backed by the given store.
func New(store storage.Store, opts ...Option) *Queue {
	q := &Queue{
		store:    store,
		schedule: DefaultSchedule,
		maxSize:  DefaultMaxSize,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) load() ([]Entry, error) {
	raw, err := q.store.Load(storeKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load retry queue: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		// Corrupt state: start fresh rather than wedging the queue.
		q.logger.Warn("retry queue state corrupt, resetting", slog.String("error", err.Error()))
		return nil, nil
	}
	return entries, nil
}

func (q *Queue) save(entries []Entry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode retry queue: %w", err)
	}
	if err := q.store.Save(storeKey, raw); err != nil {
		return fmt.Errorf("save retry queue: %w", err)
	}
	return nil
}

// Enqueue appends a failed batch with attempts=0 and the first backoff
// delay, dropping oldest entries beyond the size cap.
func (q *Queue) Enqueue(lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load()
	if err != nil {
		return err
	}
	entries = append(entries, Entry{
		Lines:       lines,
		NextAttempt: q.now().Add(q.schedule[0]).Unix(),
	})
	if q.maxSize > 0 && len(entries) > q.maxSize {
		dropped := len(entries) - q.maxSize
		entries = entries[dropped:]
		q.logger.Warn("retry queue full, dropped oldest entries", slog.Int("dropped", dropped))
	}
	return q.save(entries)
}

// Due returns the entries eligible for resend now, keyed by their index
// in the queue, without removing them.
//
// When marking results individually with MarkAttempt, process indexes in
// descending order: removals shift later indexes. Drain does this for
// you atomically.
func (q *Queue) Due() (map[int]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load()
	if err != nil {
		return nil, err
	}
	now := q.now().Unix()
	due := make(map[int]Entry)
	for i, e := range entries {
		if e.NextAttempt <= now {
			due[i] = e
		}
	}
	return due, nil
}

// MarkAttempt records the outcome of a resend for the entry at index.
//
// Description:
//
//	On success the entry is removed. On failure its attempt count is
//	incremented; once attempts reach the schedule length the entry is
//	dropped permanently (logged), otherwise the next attempt is
//	scheduled using the backoff delay for the new attempt count.
//	An out-of-range index is a no-op.
func (q *Queue) MarkAttempt(index int, success bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load()
	if err != nil {
		return err
	}
	if index < 0 || index >= len(entries) {
		return nil
	}
	if success {
		entries = append(entries[:index], entries[index+1:]...)
		return q.save(entries)
	}
	entries[index].Attempts++
	if entries[index].Attempts >= len(q.schedule) {
		q.logger.Warn("retry attempts exhausted, dropping batch",
			slog.Int("attempts", entries[index].Attempts),
			slog.Int("lines", len(entries[index].Lines)))
		entries = append(entries[:index], entries[index+1:]...)
		return q.save(entries)
	}
	entries[index].NextAttempt = q.now().Add(q.schedule[entries[index].Attempts]).Unix()
	return q.save(entries)
}

// Drain attempts to resend every due entry (every entry when force is
// set) in one atomic load-modify-save pass.
//
// Inputs:
//
//	force - Ignore NextAttempt and try everything queued.
//	resend - Called per entry; returns whether delivery succeeded.
//
// Outputs:
//
//	attempted, succeeded - Counts for diagnostics.
//	error - Non-nil only on store failures.
func (q *Queue) Drain(force bool, resend func(lines []string) bool) (attempted, succeeded int, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load()
	if err != nil {
		return 0, 0, err
	}
	if len(entries) == 0 {
		return 0, 0, nil
	}
	now := q.now().Unix()
	kept := entries[:0]
	for _, e := range entries {
		if !force && e.NextAttempt > now {
			kept = append(kept, e)
			continue
		}
		attempted++
		if resend(e.Lines) {
			succeeded++
			continue
		}
		e.Attempts++
		if e.Attempts >= len(q.schedule) {
			q.logger.Warn("retry attempts exhausted, dropping batch",
				slog.Int("attempts", e.Attempts), slog.Int("lines", len(e.Lines)))
			continue
		}
		e.NextAttempt = q.now().Add(q.schedule[e.Attempts]).Unix()
		kept = append(kept, e)
	}
	if err := q.save(kept); err != nil {
		return attempted, succeeded, err
	}
	return attempted, succeeded, nil
}

// Entries returns a copy of the whole queue, in insertion order, for
// diagnostics.
func (q *Queue) Entries() ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load()
}

// Depth returns the number of queued entries (0 on store errors).
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries, err := q.load()
	if err != nil {
		return 0
	}
	return len(entries)
}

// Clear removes every queued entry.
func (q *Queue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.save(nil)
}
