// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package queue

import (
	"testing"
	"time"

	"github.com/insightrelay/insightrelay/services/relay/storage"
)

// clock is a manually advanced time source.
type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestQueue(t *testing.T) (*Queue, *clock) {
	t.Helper()
	c := &clock{t: time.Unix(10_000, 0)}
	q := New(storage.NewMemory(),
		WithSchedule([]time.Duration{time.Second, 2 * time.Second}),
		WithClock(c.now))
	return q, c
}

func TestEnqueueSchedulesFirstAttempt(t *testing.T) {
	q, c := newTestQueue(t)
	if err := q.Enqueue([]string{`{"a":1}`}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	due, err := q.Due()
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("entry due immediately, should wait for the first delay")
	}

	c.advance(time.Second)
	due, _ = q.Due()
	if len(due) != 1 {
		t.Fatalf("got %d due entries after first delay, want 1", len(due))
	}
	if due[0].Attempts != 0 {
		t.Errorf("attempts = %d, want 0", due[0].Attempts)
	}
}

func TestMarkAttemptLifecycle(t *testing.T) {
	q, c := newTestQueue(t)
	q.Enqueue([]string{"x"})
	c.advance(time.Second)

	t.Run("failure reschedules with backoff", func(t *testing.T) {
		if err := q.MarkAttempt(0, false); err != nil {
			t.Fatalf("MarkAttempt: %v", err)
		}
		entries, _ := q.Entries()
		if len(entries) != 1 {
			t.Fatalf("queue depth = %d, want 1", len(entries))
		}
		if entries[0].Attempts != 1 {
			t.Errorf("attempts = %d, want 1", entries[0].Attempts)
		}
		want := c.now().Add(2 * time.Second).Unix()
		if entries[0].NextAttempt != want {
			t.Errorf("next attempt = %d, want %d", entries[0].NextAttempt, want)
		}
	})

	t.Run("exhausting the schedule drops the entry", func(t *testing.T) {
		c.advance(2 * time.Second)
		if err := q.MarkAttempt(0, false); err != nil {
			t.Fatalf("MarkAttempt: %v", err)
		}
		if depth := q.Depth(); depth != 0 {
			t.Errorf("depth = %d after exhaustion, want 0", depth)
		}
	})

	t.Run("success removes the entry", func(t *testing.T) {
		q.Enqueue([]string{"y"})
		c.advance(time.Second)
		if err := q.MarkAttempt(0, true); err != nil {
			t.Fatalf("MarkAttempt: %v", err)
		}
		if depth := q.Depth(); depth != 0 {
			t.Errorf("depth = %d after success, want 0", depth)
		}
	})
}

func TestSizeCapDropsOldest(t *testing.T) {
	c := &clock{t: time.Unix(10_000, 0)}
	q := New(storage.NewMemory(),
		WithSchedule([]time.Duration{time.Second}),
		WithMaxSize(3),
		WithClock(c.now))

	for _, batch := range []string{"a", "b", "c", "d"} {
		q.Enqueue([]string{batch})
	}
	entries, _ := q.Entries()
	if len(entries) != 3 {
		t.Fatalf("depth = %d, want 3", len(entries))
	}
	if entries[0].Lines[0] != "b" {
		t.Errorf("oldest surviving entry = %q, want b", entries[0].Lines[0])
	}
}

func TestDrain(t *testing.T) {
	q, c := newTestQueue(t)
	q.Enqueue([]string{"first"})
	q.Enqueue([]string{"second"})
	q.Enqueue([]string{"third"})
	c.advance(time.Second)

	var sent [][]string
	attempted, succeeded, err := q.Drain(false, func(lines []string) bool {
		sent = append(sent, lines)
		return lines[0] != "second" // second delivery fails
	})
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if attempted != 3 || succeeded != 2 {
		t.Errorf("attempted=%d succeeded=%d, want 3/2", attempted, succeeded)
	}
	entries, _ := q.Entries()
	if len(entries) != 1 || entries[0].Lines[0] != "second" {
		t.Fatalf("remaining entries = %+v, want only the failed one", entries)
	}
	if entries[0].Attempts != 1 {
		t.Errorf("failed entry attempts = %d, want 1", entries[0].Attempts)
	}

	t.Run("force ignores backoff", func(t *testing.T) {
		attempted, succeeded, _ := q.Drain(true, func([]string) bool { return true })
		if attempted != 1 || succeeded != 1 {
			t.Errorf("attempted=%d succeeded=%d, want 1/1", attempted, succeeded)
		}
		if q.Depth() != 0 {
			t.Error("queue not empty after forced drain")
		}
	})
}

func TestCorruptStateResets(t *testing.T) {
	store := storage.NewMemory()
	store.Save("aiw_retry_queue_v1", []byte("not json"))
	q := New(store)
	if depth := q.Depth(); depth != 0 {
		t.Errorf("depth = %d for corrupt state, want 0", depth)
	}
	if err := q.Enqueue([]string{"x"}); err != nil {
		t.Fatalf("Enqueue after corrupt state: %v", err)
	}
	if q.Depth() != 1 {
		t.Error("queue unusable after corrupt state")
	}
}

func TestClear(t *testing.T) {
	q, _ := newTestQueue(t)
	q.Enqueue([]string{"x"})
	if err := q.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if q.Depth() != 0 {
		t.Error("queue not empty after Clear")
	}
}
