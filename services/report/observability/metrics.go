// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for report generation.
//
// # Usage
//
//	metrics := observability.NewReportMetrics(prometheus.DefaultRegisterer)
//	metrics.InvocationStarted()
//	defer metrics.InvocationEnded()
//
// All methods are safe on a nil *ReportMetrics, which records nothing.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Constants
// =============================================================================

const metricsNamespace = "modeio"

const reportSubsystem = "report"

// Status is the terminal status of one invocation.
type Status string

const (
	// StatusSuccess means the stream completed and the artifact was written.
	StatusSuccess Status = "success"

	// StatusPersistFailure means the stream completed but no artifact exists.
	StatusPersistFailure Status = "persist_failure"

	// StatusReadFailure means an attachment could not be read.
	StatusReadFailure Status = "read_failure"

	// StatusServiceFailure means the completion service failed.
	StatusServiceFailure Status = "service_failure"

	// StatusAbandoned means the caller went away before the terminal outcome.
	StatusAbandoned Status = "abandoned"
)

// Surface names the adapter that served a stream.
type Surface string

const (
	SurfaceHTTP Surface = "http"
	SurfaceCLI  Surface = "cli"
)

// =============================================================================
// Metrics
// =============================================================================

// ReportMetrics holds the report pipeline's Prometheus collectors.
type ReportMetrics struct {
	// InvocationsTotal counts invocations by terminal status.
	InvocationsTotal *prometheus.CounterVec

	// FailuresTotal counts failures by pipeline stage.
	FailuresTotal *prometheus.CounterVec

	// FragmentsTotal counts fragments received from the completion service.
	FragmentsTotal prometheus.Counter

	// TimeToFirstFragmentSeconds measures request start to first fragment.
	TimeToFirstFragmentSeconds prometheus.Histogram

	// DurationSeconds measures whole invocations by status.
	DurationSeconds *prometheus.HistogramVec

	// ActiveInvocations is the number of in-flight invocations.
	ActiveInvocations prometheus.Gauge

	// ArtifactsTotal counts artifacts written.
	ArtifactsTotal prometheus.Counter

	// KeepAlivesTotal counts heartbeat comments sent to streaming clients.
	KeepAlivesTotal *prometheus.CounterVec

	// ClientDisconnectsTotal counts clients lost mid-stream.
	ClientDisconnectsTotal *prometheus.CounterVec

	// SensitiveFindingsTotal counts sensitive-data matches in outgoing
	// content by classification.
	SensitiveFindingsTotal *prometheus.CounterVec
}

// NewReportMetrics creates and registers the collectors with reg.
//
// # Description
//
// Registration panics on duplicate names, so call once per registry. Tests
// pass a fresh prometheus.NewRegistry().
//
// # Inputs
//
//   - reg: Registerer to use. Must not be nil.
//
// # Outputs
//
//   - *ReportMetrics: Registered collectors.
func NewReportMetrics(reg prometheus.Registerer) *ReportMetrics {
	factory := promauto.With(reg)

	return &ReportMetrics{
		InvocationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: reportSubsystem,
				Name:      "invocations_total",
				Help:      "Total report invocations by terminal status",
			},
			[]string{"status"},
		),

		FailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: reportSubsystem,
				Name:      "failures_total",
				Help:      "Total pipeline failures by stage",
			},
			[]string{"stage"},
		),

		FragmentsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: reportSubsystem,
				Name:      "fragments_total",
				Help:      "Total non-empty fragments received from the completion service",
			},
		),

		TimeToFirstFragmentSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: reportSubsystem,
				Name:      "time_to_first_fragment_seconds",
				Help:      "Time from completion request to first fragment in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
		),

		DurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: reportSubsystem,
				Name:      "duration_seconds",
				Help:      "Total invocation duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),

		ActiveInvocations: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: reportSubsystem,
				Name:      "active_invocations",
				Help:      "Number of in-flight report invocations",
			},
		),

		ArtifactsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: reportSubsystem,
				Name:      "artifacts_total",
				Help:      "Total report artifacts written",
			},
		),

		KeepAlivesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: reportSubsystem,
				Name:      "keepalives_total",
				Help:      "Total keepalive comments sent",
			},
			[]string{"surface"},
		),

		ClientDisconnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: reportSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
			[]string{"surface"},
		),

		SensitiveFindingsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: reportSubsystem,
				Name:      "sensitive_findings_total",
				Help:      "Total sensitive-data matches in outgoing content by classification",
			},
			[]string{"classification"},
		),
	}
}

// =============================================================================
// Recording
// =============================================================================

// InvocationStarted increments the active gauge.
func (m *ReportMetrics) InvocationStarted() {
	if m == nil {
		return
	}
	m.ActiveInvocations.Inc()
}

// InvocationEnded decrements the active gauge.
func (m *ReportMetrics) InvocationEnded() {
	if m == nil {
		return
	}
	m.ActiveInvocations.Dec()
}

// RecordOutcome records the terminal status and duration of an invocation.
func (m *ReportMetrics) RecordOutcome(status Status, seconds float64) {
	if m == nil {
		return
	}
	m.InvocationsTotal.WithLabelValues(string(status)).Inc()
	m.DurationSeconds.WithLabelValues(string(status)).Observe(seconds)
}

// RecordFailure counts a failure in stage.
func (m *ReportMetrics) RecordFailure(stage string) {
	if m == nil {
		return
	}
	m.FailuresTotal.WithLabelValues(stage).Inc()
}

// RecordFragment counts one fragment.
func (m *ReportMetrics) RecordFragment() {
	if m == nil {
		return
	}
	m.FragmentsTotal.Inc()
}

// RecordTimeToFirstFragment observes the first-fragment latency.
func (m *ReportMetrics) RecordTimeToFirstFragment(seconds float64) {
	if m == nil {
		return
	}
	m.TimeToFirstFragmentSeconds.Observe(seconds)
}

// RecordArtifact counts one artifact written.
func (m *ReportMetrics) RecordArtifact() {
	if m == nil {
		return
	}
	m.ArtifactsTotal.Inc()
}

// RecordKeepAlive counts one heartbeat.
func (m *ReportMetrics) RecordKeepAlive(surface Surface) {
	if m == nil {
		return
	}
	m.KeepAlivesTotal.WithLabelValues(string(surface)).Inc()
}

// RecordSensitiveFindings adds n findings of one classification.
func (m *ReportMetrics) RecordSensitiveFindings(classification string, n int) {
	if m == nil {
		return
	}
	m.SensitiveFindingsTotal.WithLabelValues(classification).Add(float64(n))
}

// RecordClientDisconnect counts one lost client.
func (m *ReportMetrics) RecordClientDisconnect(surface Surface) {
	if m == nil {
		return
	}
	m.ClientDisconnectsTotal.WithLabelValues(string(surface)).Inc()
}
