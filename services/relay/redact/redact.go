// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package redact removes sensitive values from telemetry property maps
// before they leave the process.
package redact

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"
)

// Marker replaces every redacted value.
const Marker = "[REDACTED]"

// AuditKey is the metadata property listing which keys and patterns
// fired, so redactions are auditable without the original values.
const AuditKey = "_aiw_redaction"

// defaultKeys are always redacted, case-insensitively, regardless of
// caller configuration.
var defaultKeys = []string{"password", "pwd", "pass", "email", "user_email", "token"}

// Redactor applies key- and pattern-based redaction to property maps.
//
// Thread Safety: Safe for concurrent use (read-only after construction).
type Redactor struct {
	keys     map[string]struct{}
	patterns []*regexp.Regexp
	logger   *slog.Logger
}

// New builds a Redactor.
//
// Description:
//
//	extraKeys are unioned with the built-in default key set; matching
//	is a case-insensitive exact match on the property name. patterns
//	are regular expressions matched against string property values.
//	Patterns that fail to compile are skipped with a debug log, never
//	an error: a bad operator-supplied pattern must not disable the
//	rest of the redaction rules.
func New(extraKeys []string, patterns []string, logger *slog.Logger) *Redactor {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Redactor{
		keys:   make(map[string]struct{}, len(defaultKeys)+len(extraKeys)),
		logger: logger,
	}
	for _, k := range defaultKeys {
		r.keys[k] = struct{}{}
	}
	for _, k := range extraKeys {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			r.keys[k] = struct{}{}
		}
	}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			logger.Debug("skipping invalid redact pattern", slog.String("pattern", p), slog.String("error", err.Error()))
			continue
		}
		r.patterns = append(r.patterns, re)
	}
	return r
}

// Redact returns a copy of props with sensitive values replaced by the
// marker.
//
// Description:
//
//	Keys in the redact set are replaced first; then every remaining
//	string value is tested against each pattern, replaced on first
//	match. If anything fired, the audit property is attached listing
//	the deduplicated keys and pattern sources. Redacting an
//	already-redacted map yields an identical result.
func (r *Redactor) Redact(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	out := make(map[string]any, len(props))
	// Carry forward a previous pass's audit so re-redacting an already
	// redacted map reproduces it exactly.
	firedKeys, firedPatterns := priorAudit(props[AuditKey])

	for k, v := range props {
		if k == AuditKey {
			continue // recomputed below
		}
		if _, hit := r.keys[strings.ToLower(k)]; hit {
			out[k] = Marker
			firedKeys = append(firedKeys, k)
			continue
		}
		out[k] = v
	}
	for k, v := range out {
		s, ok := v.(string)
		if !ok || s == Marker {
			continue
		}
		for _, re := range r.patterns {
			if re.MatchString(s) {
				out[k] = Marker
				firedPatterns = append(firedPatterns, re.String())
				break
			}
		}
	}

	if len(firedKeys) > 0 || len(firedPatterns) > 0 {
		out[AuditKey] = map[string][]string{
			"keys":     dedupe(firedKeys),
			"patterns": dedupe(firedPatterns),
		}
	}
	return out
}

// priorAudit extracts key/pattern lists from an existing audit property.
func priorAudit(v any) (keys, patterns []string) {
	audit, ok := v.(map[string][]string)
	if !ok {
		return nil, nil
	}
	return append([]string(nil), audit["keys"]...), append([]string(nil), audit["patterns"]...)
}

// dedupe returns the sorted unique elements of in. Sorting keeps the
// audit list stable across map iteration order.
func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
