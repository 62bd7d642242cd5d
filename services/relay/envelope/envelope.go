// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package envelope defines the Application Insights wire format and the
// builders turning raw log and telemetry inputs into immutable envelopes.
//
// Every item is one JSON object; a batch is newline-delimited JSON
// ("JSON Lines") with Content-Type application/x-json-stream.
package envelope

import (
	"encoding/json"
	"fmt"
)

// Envelope names recognized by the ingestion endpoint.
const (
	NameMessage   = "Microsoft.ApplicationInsights.Message"
	NameEvent     = "Microsoft.ApplicationInsights.Event"
	NameMetric    = "Microsoft.ApplicationInsights.Metric"
	NameRequest   = "Microsoft.ApplicationInsights.Request"
	NameException = "Microsoft.ApplicationInsights.Exception"
)

// Envelope tag keys.
const (
	TagOperationID       = "ai.operation.id"
	TagOperationParentID = "ai.operation.parentId"
)

// Envelope is one telemetry item in Application Insights track format.
//
// Envelopes are immutable once built: builders return a fully populated
// value and nothing in the pipeline mutates it afterwards.
type Envelope struct {
	Name string            `json:"name"`
	Time string            `json:"time"`
	IKey string            `json:"iKey"`
	Tags map[string]string `json:"tags"`
	Data Data              `json:"data"`
}

// Data wraps the kind-specific payload.
type Data struct {
	BaseType string `json:"baseType"`
	BaseData any    `json:"baseData"`
}

// MessageData is the payload of a trace (log message) item.
type MessageData struct {
	Message       string         `json:"message"`
	SeverityLevel int            `json:"severityLevel"`
	Properties    map[string]any `json:"properties"`
}

// EventData is the payload of a custom event item.
type EventData struct {
	Name         string             `json:"name"`
	Properties   map[string]any     `json:"properties"`
	Measurements map[string]float64 `json:"measurements"`
}

// MetricPoint is a single name/value pair inside a metric item.
type MetricPoint struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// MetricData is the payload of a metric item. One name/value pair is the
// common case but several points may share one envelope.
type MetricData struct {
	Metrics    []MetricPoint  `json:"metrics"`
	Properties map[string]any `json:"properties"`
}

// RequestData is the payload of a request summary item.
type RequestData struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	URL          string         `json:"url"`
	Success      bool           `json:"success"`
	ResponseCode string         `json:"responseCode"`
	Duration     string         `json:"duration"`
	Properties   map[string]any `json:"properties"`
}

// StackFrame is one parsed frame of an exception stack.
type StackFrame struct {
	FileName string `json:"fileName"`
	Line     int    `json:"line"`
	Method   string `json:"method"`
}

// ExceptionDetails describes one exception in an exception item.
type ExceptionDetails struct {
	TypeName     string       `json:"typeName"`
	Message      string       `json:"message"`
	HasFullStack bool         `json:"hasFullStack"`
	ParsedStack  []StackFrame `json:"parsedStack"`
}

// ExceptionData is the payload of an exception item.
type ExceptionData struct {
	Exceptions    []ExceptionDetails `json:"exceptions"`
	SeverityLevel int                `json:"severityLevel"`
	Properties    map[string]any     `json:"properties"`
}

// EncodeLines serializes envelopes to newline-delimited JSON, one line
// per item, in input order.
func EncodeLines(items []Envelope) ([]string, error) {
	lines := make([]string, 0, len(items))
	for i, item := range items {
		b, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("encode item %d: %w", i, err)
		}
		lines = append(lines, string(b))
	}
	return lines, nil
}
