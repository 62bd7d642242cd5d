// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package envelope

import (
	"fmt"
	"strconv"
	"time"

	"github.com/insightrelay/insightrelay/services/relay/correlation"
)

// Builder constructs telemetry envelopes. Builders are pure: no I/O, no
// shared state beyond the configured instrumentation key and clock.
type Builder struct {
	// IKey is stamped into every envelope. An empty key is allowed; the
	// transport drops such batches silently instead of sending them.
	IKey string

	// Now returns the current time. Defaults to time.Now (UTC is applied
	// at formatting time). Tests inject a fixed clock.
	Now func() time.Time
}

// NewBuilder returns a Builder for the given instrumentation key.
func NewBuilder(ikey string) *Builder {
	return &Builder{IKey: ikey, Now: time.Now}
}

func (b *Builder) timestamp() string {
	return b.Now().UTC().Format(time.RFC3339Nano)
}

// stamp duplicates the correlation IDs into the property map. The same
// IDs also appear in envelope tags; the duplication is deliberate so
// downstream queries can filter by either.
func stamp(props map[string]any, corr correlation.Correlation) map[string]any {
	if props == nil {
		props = make(map[string]any, 2)
	}
	props["trace_id"] = corr.TraceID()
	props["span_id"] = corr.SpanID()
	return props
}

func (b *Builder) envelope(name, baseType string, baseData any, corr correlation.Correlation, parentID string) Envelope {
	if parentID == "" {
		parentID = corr.SpanID()
	}
	return Envelope{
		Name: name,
		Time: b.timestamp(),
		IKey: b.IKey,
		Tags: map[string]string{
			TagOperationID:       corr.TraceID(),
			TagOperationParentID: parentID,
		},
		Data: Data{BaseType: baseType, BaseData: baseData},
	}
}

// BuildTrace builds a Message envelope from a log record.
func (b *Builder) BuildTrace(message string, level Level, props map[string]any, corr correlation.Correlation) Envelope {
	return b.envelope(NameMessage, "MessageData", MessageData{
		Message:       message,
		SeverityLevel: level.Severity(),
		Properties:    stamp(props, corr),
	}, corr, "")
}

// BuildEvent builds an Event envelope with optional numeric measurements.
func (b *Builder) BuildEvent(name string, props map[string]any, measurements map[string]float64, corr correlation.Correlation) Envelope {
	if measurements == nil {
		measurements = map[string]float64{}
	}
	return b.envelope(NameEvent, "EventData", EventData{
		Name:         name,
		Properties:   stamp(props, corr),
		Measurements: measurements,
	}, corr, "")
}

// BuildMetric builds a Metric envelope carrying a single name/value pair.
func (b *Builder) BuildMetric(name string, value float64, props map[string]any, corr correlation.Correlation) Envelope {
	return b.envelope(NameMetric, "MetricData", MetricData{
		Metrics:    []MetricPoint{{Name: name, Value: value}},
		Properties: stamp(props, corr),
	}, corr, "")
}

// RequestInfo describes the completed unit of work summarized by a
// Request envelope.
type RequestInfo struct {
	Name string
	URL  string
	Code int
}

// BuildRequest builds a Request envelope.
//
// Description:
//
//	Success is defined as response code < 500. The parent tag prefers
//	the inbound parent span when one exists so the request nests under
//	its caller; the envelope's own ID is this request's span. Duration
//	is rendered as HH:MM:SS.mmm; the hours field can exceed 24 for
//	multi-day durations (known limitation, no day rollover).
func (b *Builder) BuildRequest(info RequestInfo, durationMS float64, corr correlation.Correlation) Envelope {
	props := stamp(map[string]any{
		"parent_span_id": corr.ParentSpanID(),
	}, corr)
	return b.envelope(NameRequest, "RequestData", RequestData{
		ID:           corr.SpanID(),
		Name:         info.Name,
		URL:          info.URL,
		Success:      info.Code < 500,
		ResponseCode: strconv.Itoa(info.Code),
		Duration:     FormatDuration(durationMS),
		Properties:   props,
	}, corr, corr.ParentSpanID())
}

// BuildException builds an Exception envelope from captured exception
// details (see Capture).
func (b *Builder) BuildException(exc ExceptionInfo, level Level, props map[string]any, corr correlation.Correlation) Envelope {
	return b.envelope(NameException, "ExceptionData", ExceptionData{
		Exceptions: []ExceptionDetails{{
			TypeName:     exc.Type,
			Message:      exc.Message,
			HasFullStack: len(exc.Frames) > 0,
			ParsedStack:  exc.Frames,
		}},
		SeverityLevel: level.Severity(),
		Properties:    stamp(props, corr),
	}, corr, "")
}

// FormatDuration renders a millisecond duration as HH:MM:SS.mmm with
// zero padding. Hours are not wrapped into days.
func FormatDuration(durationMS float64) string {
	totalMS := int64(durationMS + 0.5)
	if durationMS < 0 {
		totalMS = 0
	}
	ms := totalMS % 1000
	totalSeconds := totalMS / 1000
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, seconds, ms)
}
