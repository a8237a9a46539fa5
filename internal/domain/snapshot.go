package domain

import "time"

// Reading is one sensor sample. Valid=false marks a failed or stale read;
// such readings carry no usable Value.
type Reading struct {
	Value     float64   `json:"value"`
	Valid     bool      `json:"valid"`
	Timestamp time.Time `json:"ts"`
}

// Measured is the power supply's measured output.
type Measured struct {
	Voltage float64 `json:"voltage"`
	Current float64 `json:"current"`
}

// RampStatus is the executor state machine position.
type RampStatus string

const (
	RampIdle      RampStatus = "idle"
	RampRunning   RampStatus = "running"
	RampPaused    RampStatus = "paused"
	RampCompleted RampStatus = "completed"
	RampAborted   RampStatus = "aborted"
)

// SafetyStatus is the aggregate interlock state.
type SafetyStatus string

const (
	SafetyNormal  SafetyStatus = "normal"
	SafetyWarning SafetyStatus = "warning"
	SafetyTripped SafetyStatus = "tripped"
)

// StopCause distinguishes why a run ended in the published snapshot.
type StopCause string

const (
	StopNone       StopCause = ""
	StopOperator   StopCause = "operator_abort"
	StopSafetyTrip StopCause = "safety_trip"
	StopActuator   StopCause = "actuator_unresponsive"
)

// RampView is the read-only executor state carried in a snapshot.
type RampView struct {
	RunID         string        `json:"run_id,omitempty"`
	Profile       string        `json:"profile,omitempty"`
	Status        RampStatus    `json:"status"`
	StepIndex     int           `json:"step_index"`
	StepCount     int           `json:"step_count"`
	ElapsedInStep time.Duration `json:"elapsed_in_step"`
	Setpoint      float64       `json:"setpoint"`
	StopCause     StopCause     `json:"stop_cause,omitempty"`
}

// SafetyView is the read-only interlock state carried in a snapshot.
type SafetyView struct {
	Status          SafetyStatus   `json:"status"`
	ViolatingSensor string         `json:"violating_sensor,omitempty"`
	Streaks         map[string]int `json:"streaks,omitempty"`
	TrippedAt       time.Time      `json:"tripped_at,omitempty"`
	Cause           string         `json:"cause,omitempty"`
}

// Snapshot is the immutable per-tick publication: sensor readings plus the
// ramp and safety state that gated them. The control loop builds a fresh
// Snapshot every tick; consumers must never mutate one.
type Snapshot struct {
	Seq      uint64             `json:"seq"`
	Time     time.Time          `json:"time"`
	Readings map[string]Reading `json:"readings"`
	Measured Measured           `json:"measured"`
	Ramp     RampView           `json:"ramp"`
	Safety   SafetyView         `json:"safety"`
}

// Clone deep-copies a snapshot so adapters can hand it across goroutine
// boundaries without aliasing the maps.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Readings = make(map[string]Reading, len(s.Readings))
	for k, v := range s.Readings {
		out.Readings[k] = v
	}
	if s.Safety.Streaks != nil {
		out.Safety.Streaks = make(map[string]int, len(s.Safety.Streaks))
		for k, v := range s.Safety.Streaks {
			out.Safety.Streaks[k] = v
		}
	}
	return &out
}
