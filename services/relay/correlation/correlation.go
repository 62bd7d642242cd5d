// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package correlation generates and propagates W3C trace context for one
// unit of work (usually one inbound HTTP request).
package correlation

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Header is the W3C trace context header name.
const Header = "traceparent"

// Correlation holds the identifiers tying telemetry items of one unit of
// work together. Immutable after construction; create one per request.
type Correlation struct {
	traceID   trace.TraceID
	spanID    trace.SpanID
	parentID  trace.SpanID
	hasParent bool
}

// New builds a Correlation from an inbound traceparent header value.
//
// Description:
//
//	If the header is a well-formed "00-<32 hex>-<16 hex>-<2 hex>" value,
//	the trace ID is inherited and the embedded span becomes the parent.
//	A malformed or empty header is treated identically to an absent one:
//	a fresh 16-byte trace ID is generated and no parent is recorded.
//	A fresh 8-byte span ID is always generated, regardless of the header.
//
// Inputs:
//
//	traceparent - Raw inbound header value. May be empty.
//
// Outputs:
//
//	Correlation - Ready-to-use identifiers. Never an error: bad input
//	degrades to fresh IDs.
func New(traceparent string) Correlation {
	var c Correlation
	if traceparent != "" {
		carrier := propagation.MapCarrier{Header: traceparent}
		ctx := propagation.TraceContext{}.Extract(context.Background(), carrier)
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			c.traceID = sc.TraceID()
			c.parentID = sc.SpanID()
			c.hasParent = true
		}
	}
	if !c.traceID.IsValid() {
		rand.Read(c.traceID[:])
	}
	rand.Read(c.spanID[:])
	return c
}

// FromRequest builds a Correlation from the request's traceparent header.
func FromRequest(r *http.Request) Correlation {
	return New(r.Header.Get(Header))
}

// TraceID returns the 32-char lowercase hex trace identifier.
func (c Correlation) TraceID() string {
	return c.traceID.String()
}

// SpanID returns the 16-char lowercase hex span identifier.
func (c Correlation) SpanID() string {
	return c.spanID.String()
}

// ParentSpanID returns the inbound parent span identifier, or the empty
// string if the request carried no (valid) traceparent header.
func (c Correlation) ParentSpanID() string {
	if !c.hasParent {
		return ""
	}
	return c.parentID.String()
}

// HasParent reports whether a parent span was inherited from the caller.
func (c Correlation) HasParent() bool {
	return c.hasParent
}

// TraceparentHeader renders the outbound propagation header. The span ID
// is this unit of work's own span; flags are always sampled ("01").
func (c Correlation) TraceparentHeader() string {
	return fmt.Sprintf("00-%s-%s-01", c.traceID.String(), c.spanID.String())
}

// Inject sets the traceparent header on an outbound request's headers.
func (c Correlation) Inject(h http.Header) {
	h.Set(Header, c.TraceparentHeader())
}
