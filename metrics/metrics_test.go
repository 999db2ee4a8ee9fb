package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	m.CollectorRun("ozon", "ok", 3)
	m.IncUpstream("ok")
	m.IncCooldown()
	m.SetSessionsInUse(1)
	m.IncReplacement()
	m.ObserveAggregate(time.Second)
	m.CacheLookup(true)
}

func TestCounters(t *testing.T) {
	m := New()
	m.CollectorRun("wildberries", "ok", 7)
	m.CollectorRun("wildberries", "ok", 0)
	m.CollectorRun("ozon", "failed", 0)
	m.IncCooldown()
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)

	if got := testutil.ToFloat64(m.CollectorRunsTotal.WithLabelValues("wildberries", "ok")); got != 2 {
		t.Errorf("wildberries ok runs = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ItemsTotal.WithLabelValues("wildberries")); got != 7 {
		t.Errorf("wildberries items = %v, want 7", got)
	}
	if got := testutil.ToFloat64(m.CooldownsTotal); got != 1 {
		t.Errorf("cooldowns = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")); got != 2 {
		t.Errorf("cache misses = %v, want 2", got)
	}
}
