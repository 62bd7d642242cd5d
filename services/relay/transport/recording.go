// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package transport

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/insightrelay/insightrelay/services/relay/envelope"
)

// recordingHistory bounds how many items the recording transport keeps.
const recordingHistory = 200

// Recording stores sent batches in memory instead of delivering them.
// Used in tests and in mock mode, where the status surface shows the
// recent items so operators can inspect what would have been sent.
//
// Thread Safety: Safe for concurrent use.
type Recording struct {
	mu        sync.Mutex
	items     []envelope.Envelope
	lastLines []string
	sendErr   error
}

// NewRecording creates an empty recording transport.
func NewRecording() *Recording {
	return &Recording{}
}

// Send implements Transport. Lines are decoded back into envelopes for
// the history; undecodable lines are kept only in LastLines.
func (r *Recording) Send(_ context.Context, lines []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil {
		return r.sendErr
	}
	r.lastLines = append([]string(nil), lines...)
	for _, line := range lines {
		var item envelope.Envelope
		if err := json.Unmarshal([]byte(line), &item); err != nil {
			continue
		}
		r.items = append(r.items, item)
	}
	if len(r.items) > recordingHistory {
		r.items = r.items[len(r.items)-recordingHistory:]
	}
	return nil
}

// FailWith makes every subsequent Send return err (nil restores
// success). Tests use this to exercise the retry path.
func (r *Recording) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sendErr = err
}

// Items returns a copy of the retained item history, oldest first.
func (r *Recording) Items() []envelope.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]envelope.Envelope(nil), r.items...)
}

// LastLines returns the raw lines of the most recent successful Send.
func (r *Recording) LastLines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lastLines...)
}

// Reset clears all recorded state.
func (r *Recording) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = nil
	r.lastLines = nil
	r.sendErr = nil
}
