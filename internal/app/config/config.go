// Package config loads and validates the daemon configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ilegault/TDS-T8/internal/adapters/opcua"
	"github.com/ilegault/TDS-T8/internal/safety"
)

// Duration accepts human-readable durations ("250ms", "1m30s") in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Loop     LoopConfig     `yaml:"loop"`
	Supply   SupplyConfig   `yaml:"supply"`
	Ramp     RampConfig     `yaml:"ramp"`
	Safety   SafetyConfig   `yaml:"safety"`
	OPCUA    opcua.Config   `yaml:"opcua"`
	Recorder RecorderConfig `yaml:"recorder"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Journal  JournalConfig  `yaml:"journal"`
	Practice PracticeConfig `yaml:"practice"`
}

type LoopConfig struct {
	Interval    Duration `yaml:"interval"`
	ReadTimeout Duration `yaml:"read_timeout"`
}

// SupplyConfig describes the SCPI power supply connection and its hard
// actuator envelope.
type SupplyConfig struct {
	Addr              string   `yaml:"addr"`
	MinSetpoint       float64  `yaml:"min_setpoint"`
	MaxSetpoint       float64  `yaml:"max_setpoint"`
	VoltageProtection float64  `yaml:"voltage_protection"`
	CurrentProtection float64  `yaml:"current_protection"`
	Timeout           Duration `yaml:"timeout"`
}

type RampConfig struct {
	// Deadband has no sensible universal default; it must be stated
	// explicitly, in the setpoint's units. Zero disables suppression.
	Deadband     *float64 `yaml:"deadband"`
	WriteRetries int      `yaml:"write_retries"`
	Profile      string   `yaml:"profile"`
}

type SafetyConfig struct {
	Limits []LimitConfig `yaml:"limits"`
}

// LimitConfig mirrors safety.Limit in YAML form. Persistence is required per
// limit; picking it is a safety decision, not a tuning knob with a default.
type LimitConfig struct {
	Sensor          string   `yaml:"sensor"`
	Min             *float64 `yaml:"min"`
	Max             *float64 `yaml:"max"`
	Persistence     int      `yaml:"persistence"`
	TolerateInvalid bool     `yaml:"tolerate_invalid"`
	WarnFraction    float64  `yaml:"warn_fraction"`
}

// RecorderConfig enables the Postgres snapshot recorder when ConnString is
// set.
type RecorderConfig struct {
	ConnString    string   `yaml:"conn_string"`
	Table         string   `yaml:"table"`
	BatchSize     int      `yaml:"batch_size"`
	FlushInterval Duration `yaml:"flush_interval"`
	BufferSize    int      `yaml:"buffer_size"`
}

// MQTTConfig enables the MQTT snapshot publisher when Broker is set.
type MQTTConfig struct {
	Broker     string `yaml:"broker"`
	ClientID   string `yaml:"client_id"`
	Topic      string `yaml:"topic"`
	QoS        byte   `yaml:"qos"`
	BufferSize int    `yaml:"buffer_size"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type JournalConfig struct {
	Path string `yaml:"path"`
}

// PracticeConfig switches the daemon to simulated hardware: synthetic sensors
// and an in-memory supply, no OPC UA or SCPI connections.
type PracticeConfig struct {
	Enabled bool    `yaml:"enabled"`
	Noise   float64 `yaml:"noise"`
	Seed    int64   `yaml:"seed"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Loop.Interval == 0 {
		c.Loop.Interval = Duration(100 * time.Millisecond)
	}
	if c.Loop.ReadTimeout == 0 {
		c.Loop.ReadTimeout = c.Loop.Interval
	}
	if c.Supply.Timeout == 0 {
		c.Supply.Timeout = Duration(2 * time.Second)
	}
	if c.Ramp.WriteRetries == 0 {
		c.Ramp.WriteRetries = 3
	}
	if c.Recorder.Table == "" {
		c.Recorder.Table = "snapshots"
	}
	if c.Recorder.BatchSize == 0 {
		c.Recorder.BatchSize = 500
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = Duration(time.Second)
	}
	if c.Recorder.BufferSize == 0 {
		c.Recorder.BufferSize = 10_000
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "t8-daq"
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "t8/snapshots"
	}
	if c.MQTT.BufferSize == 0 {
		c.MQTT.BufferSize = 256
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Journal.Path == "" {
		c.Journal.Path = "./data/events.log"
	}

	if !c.Practice.Enabled {
		c.OPCUA.ApplyDefaults()
	}
}

func (c *Config) validate() error {
	if c.Loop.Interval <= 0 {
		return fmt.Errorf("loop.interval must be > 0")
	}
	if c.Loop.ReadTimeout.Std() > c.Loop.Interval.Std() {
		return fmt.Errorf("loop.read_timeout must not exceed loop.interval")
	}

	if c.Ramp.Deadband == nil {
		return fmt.Errorf("ramp.deadband is required")
	}
	if *c.Ramp.Deadband < 0 {
		return fmt.Errorf("ramp.deadband must be >= 0")
	}
	if c.Ramp.WriteRetries < 1 {
		return fmt.Errorf("ramp.write_retries must be >= 1")
	}

	if c.Supply.MaxSetpoint <= c.Supply.MinSetpoint {
		return fmt.Errorf("supply.max_setpoint must be > supply.min_setpoint")
	}

	if len(c.Safety.Limits) == 0 {
		return fmt.Errorf("safety.limits: at least one limit is required")
	}
	for _, l := range c.SafetyLimits() {
		if err := l.Validate(); err != nil {
			return err
		}
	}

	if !c.Practice.Enabled {
		if c.Supply.Addr == "" {
			return fmt.Errorf("supply.addr is required")
		}
		if err := c.OPCUA.Validate(); err != nil {
			return fmt.Errorf("opcua config: %w", err)
		}
	}
	return nil
}

// SafetyLimits converts the YAML limit set into the monitor's form.
func (c *Config) SafetyLimits() []safety.Limit {
	limits := make([]safety.Limit, 0, len(c.Safety.Limits))
	for _, l := range c.Safety.Limits {
		limits = append(limits, safety.Limit{
			Sensor:          l.Sensor,
			Min:             l.Min,
			Max:             l.Max,
			Persistence:     l.Persistence,
			TolerateInvalid: l.TolerateInvalid,
			WarnFraction:    l.WarnFraction,
		})
	}
	return limits
}
