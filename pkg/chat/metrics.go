// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chat

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/deeprxiv/deeprxiv/pkg/ux"
)

const (
	metricsNamespace = "deeprxiv"
	chatSubsystem    = "chat"
)

// Stream outcome label values.
const (
	statusSuccess = "success"
	statusError   = "error"
)

// Metrics holds the Prometheus collectors for chat streaming.
//
// # Fields
//
//   - EventsTotal: valid stream events by type
//   - MalformedLinesTotal: lines skipped by the reader
//   - StreamsTotal: completed sends by status (success, error)
//   - TimeToFirstContentSeconds: send start to first content event
//   - StreamDurationSeconds: send start to completion, by status
//   - ActiveStreams: sends currently in flight
//
// # Thread Safety
//
// All operations are thread-safe.
type Metrics struct {
	EventsTotal               *prometheus.CounterVec
	MalformedLinesTotal       prometheus.Counter
	StreamsTotal              *prometheus.CounterVec
	TimeToFirstContentSeconds prometheus.Histogram
	StreamDurationSeconds     *prometheus.HistogramVec
	ActiveStreams             prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is what tests and one-shot commands use.
//
// # Limitations
//
//   - Panics if the same registry is passed twice (duplicate registration).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "stream_events_total",
				Help:      "Stream events received by type",
			},
			[]string{"type"},
		),
		MalformedLinesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "malformed_lines_total",
				Help:      "Stream lines skipped because they could not be parsed",
			},
		),
		StreamsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "streams_total",
				Help:      "Sent messages by outcome",
			},
			[]string{"status"},
		),
		TimeToFirstContentSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "time_to_first_content_seconds",
				Help:      "Time from send to first content event in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
		),
		StreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total send duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		ActiveStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "active_streams",
				Help:      "Messages currently being sent or streamed",
			},
		),
	}
}

// streamTimer tracks one send for the duration histograms.
type streamTimer struct {
	m            *Metrics
	start        time.Time
	firstContent bool
}

func (m *Metrics) startStream() *streamTimer {
	m.ActiveStreams.Inc()
	return &streamTimer{m: m, start: time.Now()}
}

func (t *streamTimer) event(eventType ux.StreamEventType) {
	t.m.EventsTotal.WithLabelValues(string(eventType)).Inc()
	if eventType == ux.StreamEventContent && !t.firstContent {
		t.firstContent = true
		t.m.TimeToFirstContentSeconds.Observe(time.Since(t.start).Seconds())
	}
}

func (t *streamTimer) finish(status string) {
	t.m.ActiveStreams.Dec()
	t.m.StreamsTotal.WithLabelValues(status).Inc()
	t.m.StreamDurationSeconds.WithLabelValues(status).Observe(time.Since(t.start).Seconds())
}
