package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `
loop:
  interval: 100ms
supply:
  addr: "192.168.1.50:5025"
  min_setpoint: 0
  max_setpoint: 30
  voltage_protection: 33
  current_protection: 2.5
ramp:
  deadband: 0.01
safety:
  limits:
    - sensor: T1
      max: 150
      persistence: 3
    - sensor: P1
      min: 1.0e-6
      persistence: 2
opcua:
  endpoint: "opc.tcp://192.168.1.10:4840"
  nodes:
    - node_id: "ns=2;s=Chamber.T1"
      sensor_id: T1
    - node_id: "ns=2;s=Chamber.P1"
      sensor_id: P1
`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Loop.Interval.Std() != 100*time.Millisecond {
		t.Fatalf("interval: got %v", cfg.Loop.Interval.Std())
	}
	if cfg.Loop.ReadTimeout != cfg.Loop.Interval {
		t.Fatalf("read_timeout must default to the interval")
	}
	if *cfg.Ramp.Deadband != 0.01 {
		t.Fatalf("deadband: got %f", *cfg.Ramp.Deadband)
	}
	if cfg.Ramp.WriteRetries != 3 {
		t.Fatalf("write_retries default: got %d", cfg.Ramp.WriteRetries)
	}
	if cfg.Metrics.Addr != ":9100" {
		t.Fatalf("metrics addr default: got %q", cfg.Metrics.Addr)
	}
	if cfg.Recorder.Table != "snapshots" || cfg.Recorder.BatchSize != 500 {
		t.Fatalf("recorder defaults: %+v", cfg.Recorder)
	}

	limits := cfg.SafetyLimits()
	if len(limits) != 2 {
		t.Fatalf("expected 2 limits, got %d", len(limits))
	}
	if limits[0].Sensor != "T1" || *limits[0].Max != 150 || limits[0].Persistence != 3 {
		t.Fatalf("unexpected T1 limit: %+v", limits[0])
	}
	if limits[1].Min == nil || *limits[1].Min != 1e-6 {
		t.Fatalf("unexpected P1 limit: %+v", limits[1])
	}
}

func TestLoadRejectsMissingDeadband(t *testing.T) {
	body := strings.Replace(validConfig, "  deadband: 0.01\n", "", 1)
	if _, err := Load(writeConfig(t, body)); err == nil || !strings.Contains(err.Error(), "deadband") {
		t.Fatalf("expected deadband error, got %v", err)
	}
}

func TestLoadRejectsMissingPersistence(t *testing.T) {
	body := strings.Replace(validConfig, "      persistence: 3\n", "", 1)
	if _, err := Load(writeConfig(t, body)); err == nil || !strings.Contains(err.Error(), "persistence") {
		t.Fatalf("expected persistence error, got %v", err)
	}
}

func TestLoadRejectsMissingLimits(t *testing.T) {
	body := `
supply:
  addr: "192.168.1.50:5025"
  max_setpoint: 30
ramp:
  deadband: 0.01
opcua:
  endpoint: "opc.tcp://192.168.1.10:4840"
  nodes:
    - node_id: "ns=2;s=Chamber.T1"
`
	if _, err := Load(writeConfig(t, body)); err == nil || !strings.Contains(err.Error(), "limit") {
		t.Fatalf("expected limits error, got %v", err)
	}
}

func TestLoadRejectsReadTimeoutAboveInterval(t *testing.T) {
	body := strings.Replace(validConfig, "  interval: 100ms\n", "  interval: 100ms\n  read_timeout: 200ms\n", 1)
	if _, err := Load(writeConfig(t, body)); err == nil || !strings.Contains(err.Error(), "read_timeout") {
		t.Fatalf("expected read_timeout error, got %v", err)
	}
}

func TestLoadPracticeModeSkipsHardwareValidation(t *testing.T) {
	body := `
practice:
  enabled: true
  noise: 0.5
supply:
  max_setpoint: 30
ramp:
  deadband: 0.01
safety:
  limits:
    - sensor: T1
      max: 150
      persistence: 3
`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("practice config must not require hardware endpoints: %v", err)
	}
	if !cfg.Practice.Enabled {
		t.Fatalf("practice mode not set")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	body := strings.Replace(validConfig, "  interval: 100ms\n", "  interval: fast\n", 1)
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatalf("expected parse error for bad duration")
	}
}
