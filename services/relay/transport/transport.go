// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package transport delivers serialized telemetry batches to the
// ingestion endpoint.
//
// Two implementations exist: HTTP for real delivery and Recording for
// tests and mock mode. The implementation is chosen at construction
// time, never by runtime type inspection.
package transport

import (
	"context"
	"errors"
)

// DefaultIngestURL is the public Application Insights track endpoint.
const DefaultIngestURL = "https://dc.services.visualstudio.com/v2/track"

// ContentType is the batch body content type (newline-delimited JSON).
const ContentType = "application/x-json-stream"

// ErrStatus indicates the endpoint answered outside [200,300).
var ErrStatus = errors.New("ingestion endpoint returned non-success status")

// Transport sends one batch of JSON lines. A nil error means the batch
// was accepted (or intentionally dropped, e.g. no instrumentation key);
// any error means the caller should hand the batch to the retry queue.
// Implementations never panic across this boundary.
type Transport interface {
	Send(ctx context.Context, lines []string) error
}
