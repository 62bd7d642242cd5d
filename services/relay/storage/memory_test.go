// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package storage

import (
	"errors"
	"sync"
	"testing"
)

func TestMemoryRoundTrip(t *testing.T) {
	m := NewMemory()

	if _, err := m.Load("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load(missing) error = %v, want ErrNotFound", err)
	}

	if err := m.Save("k", []byte("v1")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := m.Load("k")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(got) != "v1" {
		t.Errorf("Load = %q, want v1", got)
	}

	// Mutating the returned slice must not affect the stored value.
	got[0] = 'X'
	again, _ := m.Load("k")
	if string(again) != "v1" {
		t.Errorf("stored value changed through returned slice: %q", again)
	}
}

func TestMemoryConcurrentAccess(t *testing.T) {
	m := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Save("shared", []byte("value"))
				m.Load("shared")
			}
		}()
	}
	wg.Wait()
}
