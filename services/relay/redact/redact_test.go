// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package redact

import (
	"reflect"
	"testing"
)

func TestDefaultKeysRedacted(t *testing.T) {
	r := New(nil, nil, nil)
	props := map[string]any{
		"password":   "hunter2",
		"Email":      "a@example.com", // case-insensitive match
		"user_email": "b@example.com",
		"token":      "tok_abc",
		"plan":       "pro",
	}
	out := r.Redact(props)

	for _, key := range []string{"password", "Email", "user_email", "token"} {
		if out[key] != Marker {
			t.Errorf("%s = %v, want marker", key, out[key])
		}
	}
	if out["plan"] != "pro" {
		t.Errorf("plan = %v, should be untouched", out["plan"])
	}
	if props["password"] != "hunter2" {
		t.Error("input map was mutated")
	}

	audit, ok := out[AuditKey].(map[string][]string)
	if !ok {
		t.Fatalf("audit property missing or wrong type: %T", out[AuditKey])
	}
	want := []string{"Email", "password", "token", "user_email"}
	if !reflect.DeepEqual(audit["keys"], want) {
		t.Errorf("audit keys = %v, want %v", audit["keys"], want)
	}
}

func TestExtraKeysAndPatterns(t *testing.T) {
	r := New([]string{"ssn", " API_KEY "}, []string{`\d{3}-\d{2}-\d{4}`}, nil)
	out := r.Redact(map[string]any{
		"ssn":     "123-45-6789",
		"api_key": "k-123",
		"note":    "ssn is 123-45-6789",
		"count":   42,
	})

	if out["ssn"] != Marker || out["api_key"] != Marker {
		t.Error("extra keys not redacted")
	}
	if out["note"] != Marker {
		t.Errorf("note = %v, pattern should have fired", out["note"])
	}
	if out["count"] != 42 {
		t.Errorf("non-string value changed: %v", out["count"])
	}
}

func TestNoAuditWhenNothingFired(t *testing.T) {
	r := New(nil, nil, nil)
	out := r.Redact(map[string]any{"plan": "pro"})
	if _, ok := out[AuditKey]; ok {
		t.Error("audit attached although nothing was redacted")
	}
}

func TestIdempotent(t *testing.T) {
	r := New(nil, []string{`secret-\w+`}, nil)
	props := map[string]any{
		"password": "hunter2",
		"blob":     "contains secret-thing here",
		"plan":     "pro",
	}
	once := r.Redact(props)
	twice := r.Redact(once)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("redaction not idempotent:\n once: %#v\ntwice: %#v", once, twice)
	}
}

func TestInvalidPatternSkipped(t *testing.T) {
	// The broken pattern must not disable the valid one.
	r := New(nil, []string{`([`, `valid-\d+`}, nil)
	out := r.Redact(map[string]any{"v": "valid-123"})
	if out["v"] != Marker {
		t.Error("valid pattern was lost because a sibling failed to compile")
	}
}

func TestNilMap(t *testing.T) {
	if out := New(nil, nil, nil).Redact(nil); out != nil {
		t.Errorf("Redact(nil) = %v, want nil", out)
	}
}
