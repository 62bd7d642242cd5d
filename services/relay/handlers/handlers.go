// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers provides the admin HTTP handlers for inspecting and
// operating the relay: health, status, retry queue and test telemetry.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/insightrelay/insightrelay/services/relay/envelope"
	"github.com/insightrelay/insightrelay/services/relay/pipeline"
)

// HealthCheck reports process liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Status returns the hub health snapshot.
func Status(hub *pipeline.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, hub.Status())
	}
}

// queueEntry is the wire shape of one retry queue entry. Payload lines
// are summarized, not echoed; they can contain user data.
type queueEntry struct {
	Lines       int       `json:"lines"`
	Attempts    int       `json:"attempts"`
	NextAttempt time.Time `json:"next_attempt"`
}

// Queue lists the retry queue contents.
func Queue(hub *pipeline.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, err := hub.Queue().Entries()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load retry queue"})
			return
		}
		out := make([]queueEntry, 0, len(entries))
		for _, e := range entries {
			out = append(out, queueEntry{
				Lines:       len(e.Lines),
				Attempts:    e.Attempts,
				NextAttempt: time.Unix(e.NextAttempt, 0).UTC(),
			})
		}
		c.JSON(http.StatusOK, gin.H{"depth": len(out), "entries": out})
	}
}

// FlushQueue force-drains the retry queue, ignoring backoff timers.
func FlushQueue(hub *pipeline.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		attempted, succeeded := hub.DrainRetry(true)
		c.JSON(http.StatusOK, gin.H{
			"attempted": attempted,
			"succeeded": succeeded,
			"remaining": hub.Queue().Depth(),
		})
	}
}

// testRequest is the body accepted by SendTest.
type testRequest struct {
	Message       string `json:"message"`
	Level         string `json:"level"`
	WithException bool   `json:"with_exception"`
}

// errProbe is the synthetic error emitted by send-test probes.
type errProbe struct{ msg string }

func (e errProbe) Error() string { return e.msg }

// SendTest emits one of each telemetry kind through the full pipeline
// and flushes immediately, so operators can verify end-to-end delivery.
func SendTest(hub *pipeline.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req testRequest
		if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if req.Message == "" {
			req.Message = "insightrelay test message"
		}
		level := envelope.LevelInfo
		if req.Level != "" {
			parsed, err := envelope.ParseLevel(req.Level)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown level: " + req.Level})
				return
			}
			level = parsed
		}

		ctx := c.Request.Context()
		p := hub.FromContext(ctx)
		p.Log(ctx, level, req.Message, map[string]any{"test": "true"})
		p.Event(ctx, "insightrelay_test", map[string]any{"test": "true"}, nil)
		p.Metric(ctx, "insightrelay_test_metric", 1, nil)
		if req.WithException {
			p.Error(ctx, errProbe{msg: req.Message}, map[string]any{"test": "true"})
		}
		p.Flush(ctx)

		status := hub.Status()
		c.JSON(http.StatusOK, gin.H{
			"sent":       true,
			"last_send":  status.LastSend,
			"last_error": status.LastErrorMsg,
		})
	}
}
