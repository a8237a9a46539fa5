package sim

import (
	"context"
	"math"
	"testing"
	"time"
)

func TestSensorsProduceAllChannels(t *testing.T) {
	s := NewSensors(nil, 0, 1)

	readings, err := s.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, c := range DefaultSensors() {
		r, ok := readings[c.Name]
		if !ok || !r.Valid {
			t.Fatalf("expected a valid reading for %s, got %+v", c.Name, r)
		}
		if math.Abs(r.Value-c.Base) > c.Amplitude+1 {
			t.Fatalf("%s reading %f too far from base %f", c.Name, r.Value, c.Base)
		}
	}
}

func TestSensorsNoiseIsDeterministicPerSeed(t *testing.T) {
	cfg := []SensorConfig{{Name: "T1", Base: 25}}
	a := NewSensors(cfg, 1.0, 42)
	b := NewSensors(cfg, 1.0, 42)

	ra, _ := a.ReadAll(context.Background())
	rb, _ := b.ReadAll(context.Background())
	if ra["T1"].Value != rb["T1"].Value {
		t.Fatalf("same seed must give the same noise sequence: %f vs %f", ra["T1"].Value, rb["T1"].Value)
	}
}

func TestFailSensorInvalidatesReadings(t *testing.T) {
	s := NewSensors([]SensorConfig{{Name: "T1", Base: 25}}, 0, 1)

	s.FailSensor("T1", true)
	readings, _ := s.ReadAll(context.Background())
	if readings["T1"].Valid {
		t.Fatalf("failed sensor must report invalid")
	}

	s.FailSensor("T1", false)
	readings, _ = s.ReadAll(context.Background())
	if !readings["T1"].Valid {
		t.Fatalf("restored sensor must report valid again")
	}
}

func TestSupplyTracksSetpointWhileEnabled(t *testing.T) {
	s := NewSupply(0, 30)

	if err := s.SetSetpoint(12); err != nil {
		t.Fatalf("set setpoint: %v", err)
	}
	m, _ := s.ReadMeasured()
	if m.Voltage != 0 {
		t.Fatalf("output disabled, measured voltage must be 0, got %f", m.Voltage)
	}

	if err := s.SetOutput(true); err != nil {
		t.Fatalf("enable output: %v", err)
	}
	m, _ = s.ReadMeasured()
	if m.Voltage != 12 {
		t.Fatalf("measured voltage must track the setpoint, got %f", m.Voltage)
	}
	if m.Current != 1.2 {
		t.Fatalf("unexpected simulated current %f", m.Current)
	}

	if err := s.SetOutput(false); err != nil {
		t.Fatalf("disable output: %v", err)
	}
	if s.Output() {
		t.Fatalf("output must be off")
	}
}

func TestSupplyCapability(t *testing.T) {
	s := NewSupply(0, 30)
	c := s.Capability()
	if c.MinSetpoint != 0 || c.MaxSetpoint != 30 {
		t.Fatalf("unexpected capability %+v", c)
	}
}

func TestSensorsContext(t *testing.T) {
	s := NewSensors(nil, 0, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)
	if _, err := s.ReadAll(ctx); err == nil {
		t.Fatalf("expected context error")
	}
}
