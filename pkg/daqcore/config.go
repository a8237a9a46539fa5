package daqcore

import (
	"github.com/ilegault/TDS-T8/internal/adapters/opcua"
	"github.com/ilegault/TDS-T8/internal/app/config"
	"github.com/ilegault/TDS-T8/internal/ramp"
)

// Config re-exports the root configuration struct so embedding projects can
// construct or modify it programmatically.
type Config = config.Config

// Duration is the YAML-friendly duration used throughout Config.
type Duration = config.Duration

type (
	// LoopConfig holds the tick cadence.
	LoopConfig = config.LoopConfig
	// SupplyConfig holds the SCPI connection and actuator envelope.
	SupplyConfig = config.SupplyConfig
	// RampConfig holds deadband and write-retry settings.
	RampConfig = config.RampConfig
	// SafetyConfig holds the interlock limit set.
	SafetyConfig = config.SafetyConfig
	// LimitConfig is one interlock limit in YAML form.
	LimitConfig = config.LimitConfig
	// OPCUAConfig holds connection + node details.
	OPCUAConfig = opcua.Config
	// OPCUANodeConfig describes a monitored node.
	OPCUANodeConfig = opcua.NodeConfig
	// RecorderConfig configures the Postgres snapshot recorder.
	RecorderConfig = config.RecorderConfig
	// MQTTConfig configures the snapshot publisher.
	MQTTConfig = config.MQTTConfig
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
	// JournalConfig configures the event journal location.
	JournalConfig = config.JournalConfig
	// PracticeConfig configures simulated hardware.
	PracticeConfig = config.PracticeConfig
)

// LoadConfig loads and validates YAML from disk.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// LoadProfile loads a ramp profile YAML and checks its structure. Range
// validation against the supply happens when the run starts.
func LoadProfile(path string) (*Profile, error) {
	return ramp.LoadProfile(path)
}
