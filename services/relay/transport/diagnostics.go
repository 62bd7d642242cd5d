// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package transport

import (
	"sync"
	"time"
)

// Diagnostics records the outcome of the most recent send for operator
// status surfaces. The pipeline exposes read accessors; callers never
// reconstruct this state themselves.
//
// Thread Safety: Safe for concurrent use.
type Diagnostics struct {
	mu           sync.RWMutex
	lastSend     time.Time
	lastErrCode  string
	lastErrMsg   string
	sendCount    int64
	failureCount int64
}

// NewDiagnostics returns an empty diagnostics recorder.
func NewDiagnostics() *Diagnostics {
	return &Diagnostics{}
}

// RecordSuccess notes a successful send and clears the last error.
func (d *Diagnostics) RecordSuccess(at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastSend = at
	d.lastErrCode = ""
	d.lastErrMsg = ""
	d.sendCount++
}

// RecordFailure notes a failed send. code is either the HTTP status as a
// string or "transport" for network-level failures.
func (d *Diagnostics) RecordFailure(at time.Time, code, message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastSend = at
	d.lastErrCode = code
	d.lastErrMsg = message
	d.sendCount++
	d.failureCount++
}

// LastSendTime returns when the last send attempt finished (zero if no
// send has happened yet).
func (d *Diagnostics) LastSendTime() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastSend
}

// LastError returns the last error code and message; both empty after a
// successful send.
func (d *Diagnostics) LastError() (code, message string) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastErrCode, d.lastErrMsg
}

// Counts returns total and failed send attempts.
func (d *Diagnostics) Counts() (sends, failures int64) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sendCount, d.failureCount
}
