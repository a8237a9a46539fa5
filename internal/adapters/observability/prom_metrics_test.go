package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPromObsMetrics(t *testing.T) {
	origReg := prometheus.DefaultRegisterer
	origGatherer := prometheus.DefaultGatherer
	t.Cleanup(func() {
		prometheus.DefaultRegisterer = origReg
		prometheus.DefaultGatherer = origGatherer
	})

	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg

	obs := NewPromObs()

	obs.IncCounter("t8_ticks_total", 5)
	if got := testutil.ToFloat64(obs.counters["t8_ticks_total"]); got != 5 {
		t.Fatalf("expected tick counter 5, got %f", got)
	}

	obs.IncCounter("t8_setpoint_writes_total", 2)
	if got := testutil.ToFloat64(obs.counters["t8_setpoint_writes_total"]); got != 2 {
		t.Fatalf("expected write counter 2, got %f", got)
	}

	obs.SetGauge("t8_setpoint", 12.5)
	if got := testutil.ToFloat64(obs.gauges["t8_setpoint"]); got != 12.5 {
		t.Fatalf("expected setpoint gauge 12.5, got %f", got)
	}

	obs.SetGauge("t8_safety_tripped", 1)
	if got := testutil.ToFloat64(obs.gauges["t8_safety_tripped"]); got != 1 {
		t.Fatalf("expected tripped gauge 1, got %f", got)
	}

	obs.ObserveLatency("t8_tick_duration_seconds", 0.002)
	hCollector := obs.histos["t8_tick_duration_seconds"].(prometheus.Collector)
	if samples := testutil.CollectAndCount(hCollector); samples != 1 {
		t.Fatalf("expected tick histogram to record 1 sample, got %d", samples)
	}

	obs.RecordTrip("T1", 160, 150)
	if got := testutil.ToFloat64(obs.counters["t8_safety_trips_total"]); got != 1 {
		t.Fatalf("expected trip counter 1, got %f", got)
	}
}

func TestPromObsIgnoresUnknownNames(t *testing.T) {
	origReg := prometheus.DefaultRegisterer
	origGatherer := prometheus.DefaultGatherer
	t.Cleanup(func() {
		prometheus.DefaultRegisterer = origReg
		prometheus.DefaultGatherer = origGatherer
	})

	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg

	obs := NewPromObs()
	obs.IncCounter("unknown", 1)
	obs.SetGauge("unknown", 1)
	obs.ObserveLatency("unknown", 1)
}
