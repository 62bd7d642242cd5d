// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sampling

import (
	"testing"
	"time"

	"github.com/insightrelay/insightrelay/services/relay/envelope"
)

func TestErrorsAlwaysKept(t *testing.T) {
	// Rate zero and a rand that always rejects: errors must still pass.
	s := New(0, WithRand(func() float64 { return 1.0 }))
	for _, level := range []envelope.Level{
		envelope.LevelError, envelope.LevelCritical,
		envelope.LevelAlert, envelope.LevelEmergency,
	} {
		keep, _ := s.Decide(level)
		if !keep {
			t.Errorf("level %s dropped, errors must always be kept", level)
		}
	}
}

func TestRateZeroDropsSubError(t *testing.T) {
	s := New(0, WithRand(func() float64 { return 0.5 }))
	for _, level := range []envelope.Level{
		envelope.LevelDebug, envelope.LevelInfo, envelope.LevelWarning,
	} {
		if keep, _ := s.Decide(level); keep {
			t.Errorf("level %s kept at rate 0", level)
		}
	}
}

func TestRateOneKeepsEverythingWithoutBurst(t *testing.T) {
	now := time.Unix(1000, 0)
	s := New(1.0,
		WithClock(func() time.Time { return now }),
		WithRand(func() float64 { return 0.999 }))
	for i := 0; i < 50; i++ {
		if keep, _ := s.Decide(envelope.LevelInfo); !keep {
			t.Fatalf("decision %d dropped below the burst threshold", i)
		}
	}
}

func TestBurstDamping(t *testing.T) {
	now := time.Unix(1000, 0)
	// rand at 0.7 accepts at full rate but rejects at the halved rate,
	// so drops map exactly onto the burst threshold.
	s := New(1.0,
		WithClock(func() time.Time { return now }),
		WithRand(func() float64 { return 0.7 }))

	kept := 0
	for i := 0; i < 200; i++ {
		if keep, _ := s.Decide(envelope.LevelInfo); keep {
			kept++
		}
	}
	if kept != 50 {
		t.Errorf("kept %d of 200, want exactly the 50 pre-threshold decisions", kept)
	}

	t.Run("errors ignore the burst state", func(t *testing.T) {
		if keep, _ := s.Decide(envelope.LevelError); !keep {
			t.Error("error dropped during a burst")
		}
	})

	t.Run("new bucket restores full rate", func(t *testing.T) {
		now = now.Add(time.Duration(bucketSeconds) * time.Second)
		_, rate := s.Decide(envelope.LevelInfo)
		if rate != 1.0 {
			t.Errorf("effective rate = %v after bucket rollover, want 1.0", rate)
		}
	})
}

func TestHalvingFloorsAtMinimumRate(t *testing.T) {
	now := time.Unix(1000, 0)
	s := New(0.15,
		WithClock(func() time.Time { return now }),
		WithRand(func() float64 { return 0.999 }))
	for i := 0; i < burstThreshold+1; i++ {
		s.Decide(envelope.LevelInfo)
	}
	_, rate := s.Decide(envelope.LevelInfo)
	if rate != rateFloor {
		t.Errorf("effective rate = %v, want floor %v", rate, rateFloor)
	}
}

func TestBucketRolloverPurgesCounts(t *testing.T) {
	now := time.Unix(1000, 0)
	s := New(1.0, WithClock(func() time.Time { return now }))
	for i := 0; i < 60; i++ {
		s.Decide(envelope.LevelInfo)
	}
	if got := s.bucketCount(now); got != 60 {
		t.Fatalf("bucket count = %d, want 60", got)
	}
	now = now.Add(30 * time.Second)
	s.Decide(envelope.LevelInfo)
	if got := s.bucketCount(time.Unix(1000, 0)); got != 0 {
		t.Errorf("old bucket count = %d after purge, want 0", got)
	}
}

func TestRateClamping(t *testing.T) {
	if got := New(1.7).BaseRate(); got != 1.0 {
		t.Errorf("rate 1.7 clamped to %v, want 1.0", got)
	}
	if got := New(-0.3).BaseRate(); got != 0 {
		t.Errorf("rate -0.3 clamped to %v, want 0", got)
	}
}
