// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout bounds how long a synchronous flush can block the
// request path.
const DefaultTimeout = 2 * time.Second

// errBodyExcerpt caps how much of an error response body is recorded.
const errBodyExcerpt = 200

// HTTP posts batches to the ingestion endpoint.
type HTTP struct {
	client *http.Client
	url    string
	ikey   string
	diag   *Diagnostics
	logger *slog.Logger
	now    func() time.Time
}

// HTTPOption configures an HTTP transport.
type HTTPOption func(*HTTP)

// WithClient replaces the HTTP client (tests, custom proxies).
func WithClient(c *http.Client) HTTPOption {
	return func(t *HTTP) { t.client = c }
}

// WithLogger sets the logger for dropped-batch diagnostics.
func WithLogger(logger *slog.Logger) HTTPOption {
	return func(t *HTTP) { t.logger = logger }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) HTTPOption {
	return func(t *HTTP) { t.now = now }
}

// NewHTTP creates the real ingestion transport.
//
// Inputs:
//
//	url - Ingestion endpoint. Empty selects DefaultIngestURL.
//	ikey - Instrumentation key. Empty makes Send a silent drop: sending
//	       unattributed telemetry to an ambiguous endpoint helps nobody.
//	diag - Diagnostics recorder. Must not be nil.
func NewHTTP(url, ikey string, diag *Diagnostics, opts ...HTTPOption) *HTTP {
	if url == "" {
		url = DefaultIngestURL
	}
	t := &HTTP{
		client: &http.Client{Timeout: DefaultTimeout},
		url:    url,
		ikey:   ikey,
		diag:   diag,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// URL returns the resolved ingestion endpoint.
func (t *HTTP) URL() string {
	return t.url
}

// Send implements Transport.
//
// Description:
//
//	Joins lines with newlines and POSTs them in one exchange. Success
//	is an HTTP status in [200,300); anything else (including network
//	failure) records diagnostic state and returns an error so the
//	caller can queue the batch for retry. An empty instrumentation key
//	drops the batch silently with a nil return.
func (t *HTTP) Send(ctx context.Context, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	if t.ikey == "" {
		t.logger.Debug("no instrumentation key configured, dropping batch", slog.Int("lines", len(lines)))
		return nil
	}

	body := strings.Join(lines, "\n")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, strings.NewReader(body))
	if err != nil {
		t.diag.RecordFailure(t.now(), "transport", err.Error())
		return fmt.Errorf("build ingest request: %w", err)
	}
	req.Header.Set("Content-Type", ContentType)

	resp, err := t.client.Do(req)
	if err != nil {
		t.diag.RecordFailure(t.now(), "transport", err.Error())
		return fmt.Errorf("post batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyExcerpt))
		t.diag.RecordFailure(t.now(), strconv.Itoa(resp.StatusCode), string(excerpt))
		return fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}

	t.diag.RecordSuccess(t.now())
	return nil
}
