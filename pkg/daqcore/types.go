package daqcore

import (
	"github.com/ilegault/TDS-T8/internal/domain"
	"github.com/ilegault/TDS-T8/internal/ports"
	"github.com/ilegault/TDS-T8/internal/ramp"
	"github.com/ilegault/TDS-T8/internal/safety"
)

// Snapshot is the immutable per-tick state published by the acquisition loop.
type Snapshot = domain.Snapshot

// Reading is one sensor value with its validity flag.
type Reading = domain.Reading

// Measured is the supply's measured output.
type Measured = domain.Measured

// RampView is the read-only ramp executor state inside a snapshot.
type RampView = domain.RampView

// SafetyView is the read-only interlock state inside a snapshot.
type SafetyView = domain.SafetyView

// Event is one durable run or interlock transition.
type Event = domain.Event

// RampStatus enumerates the run state machine.
type RampStatus = domain.RampStatus

// SafetyStatus enumerates the interlock state machine.
type SafetyStatus = domain.SafetyStatus

// StopCause labels why a run stopped early.
type StopCause = domain.StopCause

// Profile is an ordered list of ramp steps.
type Profile = ramp.Profile

// Step is one ramp segment.
type Step = ramp.Step

// Mode selects how a step approaches its target.
type Mode = ramp.Mode

// Limit is one configured interlock bound.
type Limit = safety.Limit

// SensorReader supplies one reading per sensor each tick.
type SensorReader = ports.SensorReader

// PowerSupply is the controlled actuator.
type PowerSupply = ports.PowerSupply

// SupplyCapability is the supply's admissible setpoint range.
type SupplyCapability = ports.SupplyCapability

// SnapshotObserver receives every published snapshot.
type SnapshotObserver = ports.SnapshotObserver

// EventJournal stores run and interlock events durably.
type EventJournal = ports.EventJournal

// Observability emits the core's metrics and logs.
type Observability = ports.Observability

// Field is a structured log field.
type Field = ports.Field

// Run state machine values.
const (
	RampIdle      = domain.RampIdle
	RampRunning   = domain.RampRunning
	RampPaused    = domain.RampPaused
	RampCompleted = domain.RampCompleted
	RampAborted   = domain.RampAborted
)

// Interlock state machine values.
const (
	SafetyNormal  = domain.SafetyNormal
	SafetyWarning = domain.SafetyWarning
	SafetyTripped = domain.SafetyTripped
)

// Stop causes.
const (
	StopOperator   = domain.StopOperator
	StopSafetyTrip = domain.StopSafetyTrip
	StopActuator   = domain.StopActuator
)

// Step modes.
const (
	ModeLinear = ramp.ModeLinear
	ModeStep   = ramp.ModeStep
	ModeHold   = ramp.ModeHold
)
