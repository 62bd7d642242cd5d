// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"sync"
	"time"
)

// dedupeWindow suppresses repeat exceptions with the same hash for
// this long.
const dedupeWindow = 30 * time.Second

// dedupeCache remembers recently reported exception hashes.
type dedupeCache struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

func newDedupeCache(now func() time.Time) *dedupeCache {
	if now == nil {
		now = time.Now
	}
	return &dedupeCache{seen: make(map[string]time.Time), now: now}
}

// Suppress reports whether this hash fired within the window. A miss
// records the hash and prunes expired entries.
func (d *dedupeCache) Suppress(hash string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if at, ok := d.seen[hash]; ok && now.Sub(at) < dedupeWindow {
		return true
	}
	for h, at := range d.seen {
		if now.Sub(at) >= dedupeWindow {
			delete(d.seen, h)
		}
	}
	d.seen[hash] = now
	return false
}
