// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"

	"github.com/insightrelay/insightrelay/services/relay/config"
)

const (
	maxMethodLen = 10
	maxURILen    = 300
)

// uriSecrets matches credential-bearing query parameters so their
// values never leave the process even before key-based redaction runs.
var uriSecrets = regexp.MustCompile(`(?i)((?:pass|pwd|token|email)=)[^&#]*`)

// baselineProps returns the properties stamped onto every telemetry
// item from this process.
func baselineProps(cfg config.Config) map[string]any {
	return map[string]any{
		"service":         cfg.ServiceName,
		"service_version": cfg.Version,
		"environment":     cfg.Environment,
		"sampling_rate":   strconv.FormatFloat(cfg.SamplingRate, 'f', -1, 64),
	}
}

// requestProps returns the per-request properties. The method is
// capped at 10 characters and the URI is scrubbed of credential query
// values and capped at 300.
func requestProps(method, uri string) map[string]any {
	if len(method) > maxMethodLen {
		method = method[:maxMethodLen]
	}
	uri = ScrubURI(uri)
	return map[string]any{
		"request_method": method,
		"request_uri":    uri,
	}
}

// ScrubURI replaces the values of credential-looking query parameters
// with the redaction marker and caps the result at 300 characters.
func ScrubURI(uri string) string {
	uri = uriSecrets.ReplaceAllString(uri, "$1[REDACTED]")
	if len(uri) > maxURILen {
		uri = uri[:maxURILen]
	}
	return uri
}

// HashUserID derives a stable pseudonymous user identifier. The raw ID
// never appears in telemetry; the secret keys the hash so identifiers
// cannot be brute-forced from public user lists.
func HashUserID(id, secret string) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s", id, secret))
	return hex.EncodeToString(sum[:])[:32]
}
