package server

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetrics_RegistersAll(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	// Touch the vectors so they show up in the gather.
	m.RequestsTotal.WithLabelValues("GET", "200").Inc()
	m.RequestDuration.WithLabelValues("GET").Observe(0.01)
	m.ClientErrorsTotal.WithLabelValues("captured").Inc()
	m.RequestTimeoutsTotal.Inc()
	m.ActiveConnections.Set(1)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	got := make(map[string]bool, len(families))
	for _, mf := range families {
		got[mf.GetName()] = true
	}
	for _, name := range []string{
		"egg_http_requests_total",
		"egg_http_request_duration_seconds",
		"egg_client_errors_total",
		"egg_request_timeouts_total",
		"egg_active_connections",
	} {
		if !got[name] {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestMetrics_ConnTracking(t *testing.T) {
	t.Parallel()

	m := NewMetrics(prometheus.NewRegistry())

	m.ConnOpened()
	m.ConnOpened()
	m.ConnClosed()

	if got := m.activeConnections(); got != 1 {
		t.Errorf("activeConnections = %d, want 1", got)
	}
}
