// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package sched abstracts deferred and periodic job execution so the
// pipeline can be driven by real timers in production and by hand in
// tests.
package sched

import (
	"sync"
	"time"
)

// Scheduler runs callbacks later. Implementations must not run fn on
// the caller's goroutine from within After/Every.
type Scheduler interface {
	// After runs fn once after the delay.
	After(delay time.Duration, fn func())

	// Every runs fn repeatedly at the interval until the returned stop
	// function is called.
	Every(interval time.Duration, fn func()) (stop func())
}

// Timer is the production Scheduler using runtime timers.
type Timer struct{}

// NewTimer returns the timer-backed scheduler.
func NewTimer() *Timer {
	return &Timer{}
}

// After implements Scheduler.
func (*Timer) After(delay time.Duration, fn func()) {
	time.AfterFunc(delay, fn)
}

// Every implements Scheduler.
func (*Timer) Every(interval time.Duration, fn func()) (stop func()) {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}

// Manual is a Scheduler for tests: jobs are recorded and run only when
// the test asks.
//
// Thread Safety: Safe for concurrent use.
type Manual struct {
	mu        sync.Mutex
	oneShots  []manualJob
	periodics []manualJob
}

type manualJob struct {
	delay time.Duration
	fn    func()
}

// NewManual returns an empty manual scheduler.
func NewManual() *Manual {
	return &Manual{}
}

// After implements Scheduler; the job is queued until RunOneShots.
func (m *Manual) After(delay time.Duration, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.oneShots = append(m.oneShots, manualJob{delay: delay, fn: fn})
}

// Every implements Scheduler; the job runs on each RunPeriodic call.
func (m *Manual) Every(interval time.Duration, fn func()) (stop func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := len(m.periodics)
	m.periodics = append(m.periodics, manualJob{delay: interval, fn: fn})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if idx < len(m.periodics) {
			m.periodics[idx].fn = nil
		}
	}
}

// RunOneShots executes and clears all queued one-shot jobs, returning
// how many ran.
func (m *Manual) RunOneShots() int {
	m.mu.Lock()
	jobs := m.oneShots
	m.oneShots = nil
	m.mu.Unlock()
	for _, j := range jobs {
		j.fn()
	}
	return len(jobs)
}

// RunPeriodic executes every registered (unstopped) periodic job once.
func (m *Manual) RunPeriodic() int {
	m.mu.Lock()
	jobs := append([]manualJob(nil), m.periodics...)
	m.mu.Unlock()
	ran := 0
	for _, j := range jobs {
		if j.fn != nil {
			j.fn()
			ran++
		}
	}
	return ran
}

// PendingOneShots returns how many one-shot jobs are queued.
func (m *Manual) PendingOneShots() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.oneShots)
}
