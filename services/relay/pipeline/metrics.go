// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the relay's own operational counters on the
// Prometheus registry. These are about the relay process, not the
// telemetry it forwards.
type Metrics struct {
	ItemsTotal        *prometheus.CounterVec
	SampledOutTotal   prometheus.Counter
	SendFailuresTotal prometheus.Counter
	RetryDrainsTotal  prometheus.Counter
	QueueDepth        prometheus.Gauge
	PendingBatches    prometheus.Gauge
}

// NewMetrics registers the relay metrics on the given registerer.
// Tests pass a private registry to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ItemsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "insightrelay",
			Name:      "items_total",
			Help:      "Telemetry items accepted into the pipeline, by envelope type.",
		}, []string{"type"}),
		SampledOutTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "insightrelay",
			Name:      "sampled_out_total",
			Help:      "Items dropped by the adaptive sampler.",
		}),
		SendFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "insightrelay",
			Name:      "send_failures_total",
			Help:      "Batches the ingestion endpoint rejected or that failed in transit.",
		}),
		RetryDrainsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "insightrelay",
			Name:      "retry_drains_total",
			Help:      "Retry queue drain passes executed.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "insightrelay",
			Name:      "retry_queue_depth",
			Help:      "Batches currently waiting in the retry queue.",
		}),
		PendingBatches: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "insightrelay",
			Name:      "pending_batches",
			Help:      "Async batches persisted awaiting the drain job.",
		}),
	}
}
