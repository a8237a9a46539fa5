package daqcore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ilegault/TDS-T8/internal/domain"
	"github.com/ilegault/TDS-T8/internal/ports"
)

type nopObs struct{}

func (nopObs) LogInfo(string, ...ports.Field)            {}
func (nopObs) LogError(string, error, ...ports.Field)    {}
func (nopObs) LogCritical(string, error, ...ports.Field) {}
func (nopObs) IncCounter(string, float64)                {}
func (nopObs) ObserveLatency(string, float64)            {}
func (nopObs) SetGauge(string, float64)                  {}
func (nopObs) RecordTrip(string, float64, float64)       {}

func practiceConfig(t *testing.T) *Config {
	t.Helper()
	deadband := 0.01
	maxT1 := 150.0
	cfg := &Config{}
	cfg.Practice.Enabled = true
	cfg.Loop.Interval = Duration(5 * time.Millisecond)
	cfg.Supply.MinSetpoint = 0
	cfg.Supply.MaxSetpoint = 30
	cfg.Ramp.Deadband = &deadband
	cfg.Safety.Limits = []LimitConfig{
		{Sensor: "T1", Max: &maxT1, Persistence: 3},
	}
	cfg.Journal.Path = filepath.Join(t.TempDir(), "events.log")
	return cfg
}

func newPracticeRuntime(t *testing.T) *Runtime {
	t.Helper()
	rt, err := NewRuntime(practiceConfig(t), WithObservability(nopObs{}), WithoutMetricsServer())
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	return rt
}

func shutdown(t *testing.T, rt *Runtime) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rt.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRuntimePracticeModeTicksAndSnapshots(t *testing.T) {
	rt := newPracticeRuntime(t)
	if err := rt.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer shutdown(t, rt)

	waitFor(t, "first snapshot", func() bool { return rt.Snapshot() != nil })

	snap := rt.Snapshot()
	if _, ok := snap.Readings["T1"]; !ok {
		t.Fatalf("simulated sensors must report T1, got %v", snap.Readings)
	}
	if snap.Safety.Status != SafetyNormal {
		t.Fatalf("expected NORMAL interlock, got %s", snap.Safety.Status)
	}
}

func TestRuntimeRunsProfileToCompletion(t *testing.T) {
	rt := newPracticeRuntime(t)
	if err := rt.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer shutdown(t, rt)

	profile := &Profile{
		Name: "soak",
		Steps: []Step{
			{Target: 12, Duration: 50 * time.Millisecond, Mode: ModeLinear},
		},
	}
	if err := rt.StartRun(profile); err != nil {
		t.Fatalf("start run: %v", err)
	}

	waitFor(t, "completion", func() bool {
		s := rt.Snapshot()
		return s != nil && s.Ramp.Status == RampCompleted
	})

	snap := rt.Snapshot()
	if snap.Ramp.Setpoint != 12 {
		t.Fatalf("expected final setpoint 12, got %f", snap.Ramp.Setpoint)
	}
	if snap.Measured.Voltage != 12 {
		t.Fatalf("simulated supply must track the setpoint, got %f", snap.Measured.Voltage)
	}

	var types []domain.EventType
	if err := rt.Events(func(e Event) error {
		types = append(types, e.Type)
		return nil
	}); err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(types) < 2 || types[0] != domain.EventRunStarted || types[len(types)-1] != domain.EventRunCompleted {
		t.Fatalf("journal must record the run lifecycle, got %v", types)
	}
}

func TestRuntimeObserverOption(t *testing.T) {
	obs, ch, closeFn := NewChannelObserver(64)
	cfg := practiceConfig(t)
	rt, err := NewRuntime(cfg, WithObservability(nopObs{}), WithoutMetricsServer(), WithObserver(obs))
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	if err := rt.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case snap := <-ch:
		if snap.Seq == 0 {
			t.Fatalf("snapshot seq must start at 1")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("observer never received a snapshot")
	}

	shutdown(t, rt)
	closeFn()
}

func TestRuntimeRejectsNilConfig(t *testing.T) {
	if _, err := NewRuntime(nil); err == nil {
		t.Fatalf("nil config must be rejected")
	}
}

func TestRuntimeRequiresDeadband(t *testing.T) {
	cfg := practiceConfig(t)
	cfg.Ramp.Deadband = nil
	if _, err := NewRuntime(cfg, WithObservability(nopObs{}), WithoutMetricsServer()); err == nil {
		t.Fatalf("missing deadband must be rejected")
	}
}
