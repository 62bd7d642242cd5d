// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package storage defines the key-value persistence contract backing the
// retry queue and the pending async-batch list.
package storage

import "errors"

// ErrNotFound is returned by Load when the key has never been saved.
var ErrNotFound = errors.New("key not found")

// Store is a small durable key-value surface. Implementations must be
// safe for concurrent use; callers serialize their own load-modify-save
// sequences.
type Store interface {
	// Load returns the value for key, or ErrNotFound.
	Load(key string) ([]byte, error)

	// Save durably writes value under key, replacing any previous value.
	Save(key string, value []byte) error
}
