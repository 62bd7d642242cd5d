// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/insightrelay/insightrelay/services/relay/config"
	"github.com/insightrelay/insightrelay/services/relay/correlation"
	"github.com/insightrelay/insightrelay/services/relay/envelope"
	"github.com/insightrelay/insightrelay/services/relay/sched"
	"github.com/insightrelay/insightrelay/services/relay/storage"
	"github.com/insightrelay/insightrelay/services/relay/transport"
)

const testIKey = "12345678-1234-1234-1234-123456789abc"

type testHub struct {
	hub   *Hub
	rec   *transport.Recording
	sched *sched.Manual
	store *storage.Memory
	clock *time.Time
}

func newTestHub(t *testing.T, mutate func(*config.Config)) *testHub {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.InstrumentationKey = testIKey
	cfg.MinLevel = "debug"
	cfg.RetrySchedule = []time.Duration{time.Second, 2 * time.Second}
	if mutate != nil {
		mutate(&cfg)
	}

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := transport.NewRecording()
	store := storage.NewMemory()
	manual := sched.NewManual()
	hub, err := NewHub(cfg, store, rec, transport.NewDiagnostics(),
		WithScheduler(manual),
		WithRegisterer(prometheus.NewRegistry()),
		WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewHub: %v", err)
	}
	return &testHub{hub: hub, rec: rec, sched: manual, store: store, clock: &now}
}

func itemsByName(rec *transport.Recording, name string) []envelope.Envelope {
	var out []envelope.Envelope
	for _, item := range rec.Items() {
		if item.Name == name {
			out = append(out, item)
		}
	}
	return out
}

func TestLogProducesTraceEnvelope(t *testing.T) {
	th := newTestHub(t, nil)
	ctx := context.Background()
	p := th.hub.NewPipeline("")

	p.Log(ctx, envelope.LevelWarning, "disk filling up", map[string]any{"disk": "/dev/sda1"})
	p.Flush(ctx)

	traces := itemsByName(th.rec, envelope.NameMessage)
	if len(traces) != 1 {
		t.Fatalf("traces = %d, want 1", len(traces))
	}
	data := traces[0].Data.BaseData.(map[string]any)
	if data["message"] != "disk filling up" {
		t.Errorf("message = %v", data["message"])
	}
	if data["severityLevel"] != float64(2) {
		t.Errorf("severity = %v, want 2", data["severityLevel"])
	}
	props := data["properties"].(map[string]any)
	if props["disk"] != "/dev/sda1" {
		t.Errorf("disk prop = %v", props["disk"])
	}
	if props["service"] != "insightrelay" {
		t.Errorf("baseline service prop missing: %v", props)
	}
	if props["trace_id"] == "" || props["span_id"] == "" {
		t.Error("correlation props missing")
	}
}

func TestMinLevelFiltersBelow(t *testing.T) {
	th := newTestHub(t, func(c *config.Config) { c.MinLevel = "warning" })
	ctx := context.Background()
	p := th.hub.NewPipeline("")

	p.Log(ctx, envelope.LevelInfo, "chatty", nil)
	p.Log(ctx, envelope.LevelWarning, "kept", nil)
	p.Flush(ctx)

	if got := len(th.rec.Items()); got != 1 {
		t.Fatalf("items = %d, want only the warning", got)
	}
}

func TestRedactionAppliesToProps(t *testing.T) {
	th := newTestHub(t, nil)
	ctx := context.Background()
	p := th.hub.NewPipeline("")

	p.Log(ctx, envelope.LevelInfo, "login", map[string]any{"password": "hunter2"})
	p.Flush(ctx)

	data := th.rec.Items()[0].Data.BaseData.(map[string]any)
	props := data["properties"].(map[string]any)
	if props["password"] != "[REDACTED]" {
		t.Errorf("password = %v, want marker", props["password"])
	}
	if _, ok := props["_aiw_redaction"]; !ok {
		t.Error("redaction audit missing")
	}
}

func TestErrorDedupe(t *testing.T) {
	th := newTestHub(t, nil)
	ctx := context.Background()
	p := th.hub.NewPipeline("")
	err := errors.New("database gone")
	// Single call site so every report shares one exception hash.
	report := func() { p.Error(ctx, err, nil) }

	for i := 0; i < 5; i++ {
		report()
	}
	p.Flush(ctx)

	excs := itemsByName(th.rec, envelope.NameException)
	if len(excs) != 1 {
		t.Fatalf("exceptions = %d, want 1 after dedupe", len(excs))
	}
	data := excs[0].Data.BaseData.(map[string]any)
	props := data["properties"].(map[string]any)
	if props["exception_hash"] == nil {
		t.Error("exception_hash prop missing")
	}

	t.Run("window expiry re-reports", func(t *testing.T) {
		*th.clock = th.clock.Add(dedupeWindow + time.Second)
		report()
		report()
		p.Flush(ctx)
		if got := len(itemsByName(th.rec, envelope.NameException)); got != 2 {
			t.Errorf("exceptions = %d, want 2 after window expiry", got)
		}
	})
}

func TestEventAndMetric(t *testing.T) {
	th := newTestHub(t, nil)
	ctx := context.Background()
	p := th.hub.NewPipeline("")

	p.Event(ctx, "signup", map[string]any{"plan": "pro"}, map[string]float64{"seats": 3})
	p.Metric(ctx, "cache_hits", 42, nil)
	p.Flush(ctx)

	if got := len(itemsByName(th.rec, envelope.NameEvent)); got != 1 {
		t.Errorf("events = %d, want 1", got)
	}
	metrics := itemsByName(th.rec, envelope.NameMetric)
	if len(metrics) != 1 {
		t.Fatalf("metrics = %d, want 1", len(metrics))
	}
	data := metrics[0].Data.BaseData.(map[string]any)
	points := data["metrics"].([]any)
	point := points[0].(map[string]any)
	if point["name"] != "cache_hits" || point["value"] != float64(42) {
		t.Errorf("metric point = %v", point)
	}
}

func TestEndEmitsRequestAndFlushes(t *testing.T) {
	th := newTestHub(t, nil)
	ctx := context.Background()
	p := th.hub.NewPipeline("")

	p.Log(ctx, envelope.LevelInfo, "during request", nil)
	*th.clock = th.clock.Add(1234 * time.Millisecond)
	p.End(ctx, "GET", "/checkout?token=abc123&x=1", 200)

	reqs := itemsByName(th.rec, envelope.NameRequest)
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	data := reqs[0].Data.BaseData.(map[string]any)
	if data["duration"] != "00:00:01.234" {
		t.Errorf("duration = %v", data["duration"])
	}
	if data["responseCode"] != "200" || data["success"] != true {
		t.Errorf("response = %v/%v", data["responseCode"], data["success"])
	}
	if got := data["url"].(string); got != "/checkout?token=[REDACTED]&x=1" {
		t.Errorf("url = %q, token must be scrubbed", got)
	}
	props := data["properties"].(map[string]any)
	if props["request_method"] != "GET" {
		t.Errorf("request_method = %v", props["request_method"])
	}
	// The in-flight trace flushed together with the request.
	if got := len(itemsByName(th.rec, envelope.NameMessage)); got != 1 {
		t.Errorf("traces = %d, want 1", got)
	}
	// Heap metric from the perf collector rides along.
	if got := len(itemsByName(th.rec, envelope.NameMetric)); got == 0 {
		t.Error("perf metrics missing from request end")
	}
}

func TestFailedFlushLandsInRetryQueue(t *testing.T) {
	th := newTestHub(t, nil)
	ctx := context.Background()
	th.rec.FailWith(errors.New("endpoint down"))

	p := th.hub.NewPipeline("")
	p.Log(ctx, envelope.LevelInfo, "will fail", nil)
	p.Flush(ctx)

	if depth := th.hub.Queue().Depth(); depth != 1 {
		t.Fatalf("queue depth = %d, want 1", depth)
	}

	t.Run("drain resends once healthy", func(t *testing.T) {
		th.rec.FailWith(nil)
		attempted, succeeded := th.hub.DrainRetry(true)
		if attempted != 1 || succeeded != 1 {
			t.Errorf("drain = %d/%d, want 1/1", attempted, succeeded)
		}
		if th.hub.Queue().Depth() != 0 {
			t.Error("queue not empty after successful drain")
		}
		if len(th.rec.Items()) == 0 {
			t.Error("redelivered batch not recorded")
		}
	})
}

func TestAsyncFlushDefersToDrainJob(t *testing.T) {
	th := newTestHub(t, func(c *config.Config) { c.AsyncEnabled = true })
	ctx := context.Background()

	p := th.hub.NewPipeline("")
	p.Log(ctx, envelope.LevelInfo, "deferred", nil)
	p.Flush(ctx)

	if len(th.rec.Items()) != 0 {
		t.Fatal("async flush sent inline")
	}
	if th.sched.PendingOneShots() != 1 {
		t.Fatalf("pending one-shots = %d, want the armed drain", th.sched.PendingOneShots())
	}

	t.Run("second flush does not re-arm", func(t *testing.T) {
		p.Log(ctx, envelope.LevelInfo, "also deferred", nil)
		p.Flush(ctx)
		if th.sched.PendingOneShots() != 1 {
			t.Errorf("pending one-shots = %d, want still 1", th.sched.PendingOneShots())
		}
	})

	t.Run("drain delivers all pending batches", func(t *testing.T) {
		th.sched.RunOneShots()
		if got := len(itemsByName(th.rec, envelope.NameMessage)); got != 2 {
			t.Errorf("delivered traces = %d, want 2", got)
		}
	})
}

func TestHooks(t *testing.T) {
	t.Run("enrich adds properties", func(t *testing.T) {
		th := newTestHub(t, nil)
		th.hub.hooks.Enrich = func(props map[string]any) map[string]any {
			props["tenant"] = "acme"
			return props
		}
		ctx := context.Background()
		p := th.hub.NewPipeline("")
		p.Log(ctx, envelope.LevelInfo, "x", nil)
		p.Flush(ctx)

		data := th.rec.Items()[0].Data.BaseData.(map[string]any)
		props := data["properties"].(map[string]any)
		if props["tenant"] != "acme" {
			t.Errorf("tenant = %v", props["tenant"])
		}
	})

	t.Run("sample hook can force a drop", func(t *testing.T) {
		th := newTestHub(t, nil)
		th.hub.hooks.Sample = func(envelope.Level, bool) bool { return false }
		ctx := context.Background()
		p := th.hub.NewPipeline("")
		p.Log(ctx, envelope.LevelInfo, "dropped", nil)
		p.Flush(ctx)
		if len(th.rec.Items()) != 0 {
			t.Error("sample hook did not drop the item")
		}
	})

	t.Run("before-send can cancel a batch", func(t *testing.T) {
		th := newTestHub(t, nil)
		th.hub.hooks.BeforeSend = func([]envelope.Envelope) []envelope.Envelope { return nil }
		ctx := context.Background()
		p := th.hub.NewPipeline("")
		p.Log(ctx, envelope.LevelInfo, "x", nil)
		p.Flush(ctx)
		if len(th.rec.Items()) != 0 {
			t.Error("before-send hook did not cancel the batch")
		}
	})
}

func TestStartRecoversPersistedState(t *testing.T) {
	th := newTestHub(t, nil)

	// Simulate state left behind by a previous process.
	pendingJSON := `[{"lines":["{\"name\":\"Microsoft.ApplicationInsights.Message\"}"],"time":100}]`
	th.store.Save("aiw_async_batches", []byte(pendingJSON))

	th.hub.Start()
	th.sched.RunOneShots()

	if got := len(th.rec.Items()); got != 1 {
		t.Errorf("recovered items = %d, want 1", got)
	}
}

func TestStatus(t *testing.T) {
	th := newTestHub(t, nil)
	st := th.hub.Status()
	if st.Service != "insightrelay" || !st.IKeyConfigured {
		t.Errorf("status = %+v", st)
	}
	if st.SamplingRate != 1.0 {
		t.Errorf("sampling rate = %v", st.SamplingRate)
	}
	if st.QueueDepth != 0 || st.PendingBatches != 0 {
		t.Errorf("fresh hub shows queued work: %+v", st)
	}
}

func TestPropagateStampsOutboundHeaders(t *testing.T) {
	th := newTestHub(t, nil)
	p := th.hub.NewPipeline("00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01")

	h := make(http.Header)
	p.Propagate(h)
	got := h.Get(correlation.Header)
	if got != p.Correlation().TraceparentHeader() {
		t.Errorf("header = %q", got)
	}
	if got[3:35] != "0af7651916cd43dd8448eb211c80319c" {
		t.Errorf("trace id not continued: %q", got)
	}
}

func TestBackgroundPipelineIsShared(t *testing.T) {
	th := newTestHub(t, nil)
	if th.hub.Background() != th.hub.Background() {
		t.Error("background pipeline not a singleton")
	}
	if th.hub.FromContext(context.Background()) != th.hub.Background() {
		t.Error("context fallback is not the background pipeline")
	}
}
