package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.GrantRecorded("gateway", "ok")
	m.GrantRecorded("gateway", "ok")
	m.GrantRecorded("admin", "not_found")
	m.ConflictRecorded()
	m.BackendSelected("sqlite")

	if got := testutil.ToFloat64(m.grants.WithLabelValues("gateway", "ok")); got != 2 {
		t.Errorf("gateway grants = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.conflicts); got != 1 {
		t.Errorf("conflicts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.backend.WithLabelValues("sqlite")); got != 1 {
		t.Errorf("backend gauge = %v, want 1", got)
	}
}
