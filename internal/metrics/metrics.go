// Viewgate - Navigation Authorization and Role Gating
// Copyright 2026 Viewgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/viewgate/viewgate

// Package metrics exposes Prometheus metrics for the authorization
// pipeline: navigation decisions, resolver path usage, loading-flag
// transitions, and role sync retries.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DecisionsTotal counts terminal navigation decisions by outcome and
	// internal cause. Cause is "" for ALLOW.
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewgate_decisions_total",
			Help: "Total number of terminal navigation decisions",
		},
		[]string{"decision", "cause"},
	)

	// DecisionDuration tracks navigation session latency from start to
	// terminal state.
	DecisionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "viewgate_decision_duration_seconds",
			Help:    "Duration of navigation authorization sessions in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"decision"},
	)

	// SessionsCancelledTotal counts sessions superseded by a newer
	// navigation before reaching a terminal decision.
	SessionsCancelledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "viewgate_sessions_cancelled_total",
			Help: "Total number of navigation sessions cancelled by supersession",
		},
	)

	// ResolverLookupsTotal counts role resolutions by path taken.
	// The fast/slow split is observational only.
	ResolverLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewgate_resolver_lookups_total",
			Help: "Total number of role resolutions by path (fast=claims, slow=store)",
		},
		[]string{"path"},
	)

	// ProvisionsTotal counts first-touch role record provisions.
	ProvisionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "viewgate_provisions_total",
			Help: "Total number of first-touch role record provisions",
		},
	)

	// FlagTransitionsTotal counts loading flag transitions by new value.
	FlagTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewgate_flag_transitions_total",
			Help: "Total number of loading flag transitions",
		},
		[]string{"value"},
	)

	// StaleFlagWritesTotal counts flag writes rejected by the generation
	// check. A nonzero rate means superseded sessions are completing late.
	StaleFlagWritesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "viewgate_stale_flag_writes_total",
			Help: "Total number of loading flag writes rejected as stale",
		},
	)

	// RoleSyncRetriesTotal counts claims-mirror write retries in the role
	// sync service.
	RoleSyncRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "viewgate_role_sync_retries_total",
			Help: "Total number of claims mirror write retries",
		},
	)

	// EdgeGateDeniesTotal counts edge gate denials of anonymous access.
	EdgeGateDeniesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "viewgate_edge_gate_denies_total",
			Help: "Total number of edge gate denials",
		},
	)
)

// RecordDecision records a terminal navigation decision.
func RecordDecision(decision, cause string, elapsed time.Duration) {
	DecisionsTotal.WithLabelValues(decision, cause).Inc()
	DecisionDuration.WithLabelValues(decision).Observe(elapsed.Seconds())
}

// RecordResolverLookup records which resolver path served a resolution.
func RecordResolverLookup(path string) {
	ResolverLookupsTotal.WithLabelValues(path).Inc()
}

// RecordFlagTransition records a loading flag transition.
func RecordFlagTransition(value bool) {
	if value {
		FlagTransitionsTotal.WithLabelValues("true").Inc()
	} else {
		FlagTransitionsTotal.WithLabelValues("false").Inc()
	}
}
