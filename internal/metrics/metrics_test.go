// Viewgate - Navigation Authorization and Role Gating
// Copyright 2026 Viewgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/viewgate/viewgate

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordDecision(t *testing.T) {
	before := testutil.ToFloat64(DecisionsTotal.WithLabelValues("DENY", "ROLE_MISMATCH"))
	RecordDecision("DENY", "ROLE_MISMATCH", 5*time.Millisecond)
	after := testutil.ToFloat64(DecisionsTotal.WithLabelValues("DENY", "ROLE_MISMATCH"))
	if after != before+1 {
		t.Errorf("DecisionsTotal = %v, want %v", after, before+1)
	}
}

func TestRecordResolverLookup(t *testing.T) {
	before := testutil.ToFloat64(ResolverLookupsTotal.WithLabelValues("fast"))
	RecordResolverLookup("fast")
	after := testutil.ToFloat64(ResolverLookupsTotal.WithLabelValues("fast"))
	if after != before+1 {
		t.Errorf("ResolverLookupsTotal = %v, want %v", after, before+1)
	}
}

func TestRecordFlagTransition(t *testing.T) {
	beforeTrue := testutil.ToFloat64(FlagTransitionsTotal.WithLabelValues("true"))
	beforeFalse := testutil.ToFloat64(FlagTransitionsTotal.WithLabelValues("false"))

	RecordFlagTransition(true)
	RecordFlagTransition(false)

	if got := testutil.ToFloat64(FlagTransitionsTotal.WithLabelValues("true")); got != beforeTrue+1 {
		t.Errorf("true transitions = %v, want %v", got, beforeTrue+1)
	}
	if got := testutil.ToFloat64(FlagTransitionsTotal.WithLabelValues("false")); got != beforeFalse+1 {
		t.Errorf("false transitions = %v, want %v", got, beforeFalse+1)
	}
}
