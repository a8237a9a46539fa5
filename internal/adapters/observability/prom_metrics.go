// Package observability exposes the control core's metrics through
// Prometheus and routes its logs to the standard logger.
package observability

import (
	"fmt"
	"log"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ilegault/TDS-T8/internal/ports"
)

type PromObs struct {
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

func NewPromObs() *PromObs {
	ticks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "t8_ticks_total",
		Help: "Control ticks executed.",
	})
	overruns := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "t8_tick_overruns_total",
		Help: "Ticks whose work exceeded the acquisition interval.",
	})
	sensorErrs := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "t8_sensor_read_errors_total",
		Help: "Failed per-tick sensor reads.",
	})
	supplyReadErrs := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "t8_supply_read_errors_total",
		Help: "Failed supply measurement queries.",
	})
	setpointWrites := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "t8_setpoint_writes_total",
		Help: "Setpoint commands issued to the supply.",
	})
	supplyWriteErrs := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "t8_supply_write_errors_total",
		Help: "Failed setpoint write attempts, including retried ones.",
	})
	trips := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "t8_safety_trips_total",
		Help: "Safety interlock trips.",
	})
	recorderDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "t8_recorder_dropped_total",
		Help: "Snapshots lost to recorder backpressure or failed flushes.",
	})
	setpoint := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "t8_setpoint",
		Help: "Last setpoint issued to the supply.",
	})
	runActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "t8_run_active",
		Help: "1 while a ramp run is RUNNING or PAUSED.",
	})
	tripped := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "t8_safety_tripped",
		Help: "1 while the safety interlock is latched.",
	})
	tickDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "t8_tick_duration_seconds",
		Help:    "Wall time spent inside one control tick.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
	})

	prometheus.MustRegister(ticks, overruns, sensorErrs, supplyReadErrs,
		setpointWrites, supplyWriteErrs, trips, recorderDropped,
		setpoint, runActive, tripped, tickDuration)

	return &PromObs{
		counters: map[string]prometheus.Counter{
			"t8_ticks_total":               ticks,
			"t8_tick_overruns_total":       overruns,
			"t8_sensor_read_errors_total":  sensorErrs,
			"t8_supply_read_errors_total":  supplyReadErrs,
			"t8_setpoint_writes_total":     setpointWrites,
			"t8_supply_write_errors_total": supplyWriteErrs,
			"t8_safety_trips_total":        trips,
			"t8_recorder_dropped_total":    recorderDropped,
		},
		gauges: map[string]prometheus.Gauge{
			"t8_setpoint":       setpoint,
			"t8_run_active":     runActive,
			"t8_safety_tripped": tripped,
		},
		histos: map[string]prometheus.Observer{
			"t8_tick_duration_seconds": tickDuration,
		},
	}
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	log.Printf("INFO: %s%s", msg, formatFields(fields))
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	log.Printf("ERROR: %s: %v%s", msg, err, formatFields(fields))
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	if err != nil {
		log.Printf("CRITICAL: %s: %v%s", msg, err, formatFields(fields))
		return
	}
	log.Printf("CRITICAL: %s%s", msg, formatFields(fields))
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) RecordTrip(sensor string, value, limit float64) {
	p.IncCounter("t8_safety_trips_total", 1)
	log.Printf("TRIP sensor=%s value=%f limit=%f", sensor, value, limit)
}

func formatFields(fields []ports.Field) string {
	if len(fields) == 0 {
		return ""
	}
	out := ""
	for _, f := range fields {
		out += fmt.Sprintf(" %s=%v", f.Key, f.Value)
	}
	return out
}
