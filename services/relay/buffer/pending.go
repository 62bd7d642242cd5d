// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package buffer

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/insightrelay/insightrelay/services/relay/storage"
)

// pendingKey is the store key for the persisted async batch list.
const pendingKey = "aiw_async_batches"

// DefaultPendingMax caps the persisted async batch list; oldest batches
// are dropped first.
const DefaultPendingMax = 10

// Batch is one serialized batch awaiting asynchronous delivery.
type Batch struct {
	Lines []string `json:"lines"`
	Time  int64    `json:"time"`
}

// Pending is the durable list of batches deferred to the async drain
// job. Multiple request goroutines push while the drain job pops, so
// every load-modify-save runs under one mutex.
type Pending struct {
	mu    sync.Mutex
	store storage.Store
	max   int
	now   func() time.Time
}

// NewPending creates the pending batch list over the given store.
func NewPending(store storage.Store) *Pending {
	return &Pending{store: store, max: DefaultPendingMax, now: time.Now}
}

func (p *Pending) load() ([]Batch, error) {
	raw, err := p.store.Load(pendingKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load pending batches: %w", err)
	}
	var batches []Batch
	if err := json.Unmarshal(raw, &batches); err != nil {
		return nil, nil // corrupt state, start fresh
	}
	return batches, nil
}

func (p *Pending) save(batches []Batch) error {
	raw, err := json.Marshal(batches)
	if err != nil {
		return fmt.Errorf("encode pending batches: %w", err)
	}
	if err := p.store.Save(pendingKey, raw); err != nil {
		return fmt.Errorf("save pending batches: %w", err)
	}
	return nil
}

// Push appends a batch, dropping the oldest beyond the cap.
func (p *Pending) Push(lines []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	batches, err := p.load()
	if err != nil {
		return err
	}
	batches = append(batches, Batch{Lines: lines, Time: p.now().Unix()})
	if len(batches) > p.max {
		batches = batches[len(batches)-p.max:]
	}
	return p.save(batches)
}

// PopAll atomically removes and returns every pending batch.
func (p *Pending) PopAll() ([]Batch, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	batches, err := p.load()
	if err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		return nil, nil
	}
	if err := p.save(nil); err != nil {
		return nil, err
	}
	return batches, nil
}

// Count returns the number of batches waiting for the drain job.
func (p *Pending) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	batches, err := p.load()
	if err != nil {
		return 0
	}
	return len(batches)
}
