// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the console.
//
// # Description
//
// Metrics cover the three things an operator of the console itself cares
// about:
//   - Backend calls (count and latency by endpoint and outcome)
//   - Gated commands (analyses by risk, executions by outcome)
//   - Polling health (live timer handles, discarded stale results)
//
// The watch command exposes them on /metrics.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/poller"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/riskgate"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/selection"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "sentinel"

// Metrics holds every console metric.
type Metrics struct {
	// BackendRequestsTotal counts backend calls.
	// Labels: endpoint (snapshot, analyze, ...), outcome (ok, transport, status, decode)
	BackendRequestsTotal *prometheus.CounterVec

	// BackendRequestSeconds measures backend call latency.
	// Labels: endpoint
	BackendRequestSeconds *prometheus.HistogramVec

	// AnalysesTotal counts completed analyses.
	// Labels: risk (LOW, MEDIUM, HIGH, other), source (manual, quick-action), failsafe (true, false)
	AnalysesTotal *prometheus.CounterVec

	// ExecutionsTotal counts settled executions.
	// Labels: risk, source, outcome (executed, rejected)
	ExecutionsTotal *prometheus.CounterVec

	// ExecuteSeconds measures execute latency.
	ExecuteSeconds prometheus.Histogram

	// PollHandles is the number of live timer handles per concern.
	// Labels: concern
	PollHandles *prometheus.GaugeVec

	// StaleDiscardedTotal counts results dropped after a selection change.
	// Labels: topic
	StaleDiscardedTotal *prometheus.CounterVec

	// QuickActionsPending is the number of running container actions.
	QuickActionsPending prometheus.Gauge

	// SelectionChangesTotal counts selection epochs.
	SelectionChangesTotal prometheus.Counter
}

// NewMetrics creates and registers all metrics on reg.
//
// # Inputs
//
//   - reg: the registry; the watch command passes its own registry so that
//     repeated construction in tests never collides.
//
// # Limitations
//
//   - Panics if the same metrics are registered twice on one registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BackendRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "backend",
				Name:      "requests_total",
				Help:      "Total backend requests by endpoint and outcome",
			},
			[]string{"endpoint", "outcome"},
		),
		BackendRequestSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "backend",
				Name:      "request_duration_seconds",
				Help:      "Backend request latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"endpoint"},
		),
		AnalysesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "riskgate",
				Name:      "analyses_total",
				Help:      "Completed command analyses by risk level and source",
			},
			[]string{"risk", "source", "failsafe"},
		),
		ExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "riskgate",
				Name:      "executions_total",
				Help:      "Settled command executions by confirmed risk and outcome",
			},
			[]string{"risk", "source", "outcome"},
		),
		ExecuteSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "riskgate",
				Name:      "execute_duration_seconds",
				Help:      "Time from confirmation to settled result in seconds",
				Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		PollHandles: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "poller",
				Name:      "active_handles",
				Help:      "Live refresh timer handles by concern",
			},
			[]string{"concern"},
		),
		StaleDiscardedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "store",
				Name:      "stale_discarded_total",
				Help:      "Fetch results discarded because the selection changed",
			},
			[]string{"topic"},
		),
		QuickActionsPending: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "actions",
				Name:      "pending",
				Help:      "Container quick-actions currently in flight",
			},
		),
		SelectionChangesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "selection",
				Name:      "changes_total",
				Help:      "Number of server selection changes",
			},
		),
	}
}

// =============================================================================
// Adapters
// =============================================================================

// ObserveRequest implements api.Observer.
func (m *Metrics) ObserveRequest(endpoint, outcome string, elapsed time.Duration) {
	m.BackendRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	m.BackendRequestSeconds.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// GateHook returns a riskgate hook recording analyses and executions.
func (m *Metrics) GateHook() riskgate.Hook {
	return func(ev riskgate.Event) {
		s := ev.Session
		switch ev.Kind {
		case riskgate.EventAnalyzed:
			if s.Analysis == nil {
				return
			}
			failsafe := strconv.FormatBool(strings.HasPrefix(s.Analysis.Reason, riskgate.AnalysisFailedPrefix))
			m.AnalysesTotal.WithLabelValues(riskLabel(s), string(s.Source), failsafe).Inc()
		case riskgate.EventSettled:
			outcome := "rejected"
			if s.Result != nil && s.Result.Executed {
				outcome = "executed"
			}
			m.ExecutionsTotal.WithLabelValues(riskLabel(s), string(s.Source), outcome).Inc()
			m.ExecuteSeconds.Observe(ev.Elapsed.Seconds())
		}
	}
}

// HandleObserver returns a poller observer tracking live handles.
func (m *Metrics) HandleObserver() poller.Observer {
	return func(c poller.Concern, active bool) {
		g := m.PollHandles.WithLabelValues(string(c))
		if active {
			g.Inc()
		} else {
			g.Dec()
		}
	}
}

// Discarded implements store.DiscardFunc.
func (m *Metrics) Discarded(topic store.Topic, _ selection.Tag) {
	m.StaleDiscardedTotal.WithLabelValues(string(topic)).Inc()
}

// PendingChanged tracks quick-action pending transitions.
func (m *Metrics) PendingChanged(_, _ string, pending bool) {
	if pending {
		m.QuickActionsPending.Inc()
	} else {
		m.QuickActionsPending.Dec()
	}
}

// SelectionChanged counts a new selection epoch.
func (m *Metrics) SelectionChanged() {
	m.SelectionChangesTotal.Inc()
}

func riskLabel(s riskgate.Session) string {
	if s.Analysis == nil {
		return "none"
	}
	switch level := s.Analysis.RiskLevel; level.Severity() {
	case 1, 2, 3:
		return string(level)
	default:
		return "other"
	}
}
