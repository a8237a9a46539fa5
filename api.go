package tdst8

import (
	base "github.com/ilegault/TDS-T8/pkg/daqcore"
)

// Type aliases so consumers can import github.com/ilegault/TDS-T8 directly.
type (
	Config           = base.Config
	Duration         = base.Duration
	LoopConfig       = base.LoopConfig
	SupplyConfig     = base.SupplyConfig
	RampConfig       = base.RampConfig
	SafetyConfig     = base.SafetyConfig
	LimitConfig      = base.LimitConfig
	OPCUAConfig      = base.OPCUAConfig
	OPCUANodeConfig  = base.OPCUANodeConfig
	RecorderConfig   = base.RecorderConfig
	MQTTConfig       = base.MQTTConfig
	MetricsConfig    = base.MetricsConfig
	JournalConfig    = base.JournalConfig
	PracticeConfig   = base.PracticeConfig
	Runtime          = base.Runtime
	RuntimeOption    = base.RuntimeOption
	Snapshot         = base.Snapshot
	Reading          = base.Reading
	Measured         = base.Measured
	RampView         = base.RampView
	SafetyView       = base.SafetyView
	Event            = base.Event
	RampStatus       = base.RampStatus
	SafetyStatus     = base.SafetyStatus
	StopCause        = base.StopCause
	Profile          = base.Profile
	Step             = base.Step
	Mode             = base.Mode
	Limit            = base.Limit
	SensorReader     = base.SensorReader
	PowerSupply      = base.PowerSupply
	SupplyCapability = base.SupplyCapability
	SnapshotObserver = base.SnapshotObserver
	EventJournal     = base.EventJournal
	Observability    = base.Observability
	Field            = base.Field
	SnapshotFunc     = base.SnapshotFunc
)

// Run state machine values.
const (
	RampIdle      = base.RampIdle
	RampRunning   = base.RampRunning
	RampPaused    = base.RampPaused
	RampCompleted = base.RampCompleted
	RampAborted   = base.RampAborted
)

// Interlock state machine values.
const (
	SafetyNormal  = base.SafetyNormal
	SafetyWarning = base.SafetyWarning
	SafetyTripped = base.SafetyTripped
)

// Stop causes.
const (
	StopOperator   = base.StopOperator
	StopSafetyTrip = base.StopSafetyTrip
	StopActuator   = base.StopActuator
)

// Step modes.
const (
	ModeLinear = base.ModeLinear
	ModeStep   = base.ModeStep
	ModeHold   = base.ModeHold
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func LoadProfile(path string) (*Profile, error) {
	return base.LoadProfile(path)
}

// Runtime construction and options.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithSensorReader(s SensorReader) RuntimeOption {
	return base.WithSensorReader(s)
}

func WithPowerSupply(p PowerSupply) RuntimeOption {
	return base.WithPowerSupply(p)
}

func WithJournal(j EventJournal) RuntimeOption {
	return base.WithJournal(j)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}

func WithObserver(obs SnapshotObserver) RuntimeOption {
	return base.WithObserver(obs)
}

func WithoutMetricsServer() RuntimeOption {
	return base.WithoutMetricsServer()
}

// Observer adapters.
func NewCallbackObserver(fn SnapshotFunc) SnapshotObserver {
	return base.NewCallbackObserver(fn)
}

func NewChannelObserver(buffer int) (SnapshotObserver, <-chan *Snapshot, func()) {
	return base.NewChannelObserver(buffer)
}
