package ramp

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/xid"

	"github.com/ilegault/TDS-T8/internal/domain"
	"github.com/ilegault/TDS-T8/internal/ports"
)

// ErrRunActive is returned by Start while a run is RUNNING or PAUSED.
var ErrRunActive = errors.New("ramp: a run is already active")

// ErrNotRunning is returned by Pause when no run is RUNNING.
var ErrNotRunning = errors.New("ramp: no running ramp")

// ErrNotPaused is returned by Resume when the run is not PAUSED.
var ErrNotPaused = errors.New("ramp: run is not paused")

// ErrSupplyUnresponsive is returned by Tick when setpoint writes kept failing
// after the bounded retry budget. The caller must escalate this to a safety
// trip: an actuator that stops answering cannot be assumed off.
var ErrSupplyUnresponsive = errors.New("ramp: power supply unresponsive")

const outputOffAttempts = 3

// Executor interprets a Profile against elapsed wall-clock time and issues
// setpoints to the power supply. All mutating methods are called from the
// acquisition loop's goroutine only; the executor itself holds no lock.
type Executor struct {
	supply  ports.PowerSupply
	journal ports.EventJournal
	obs     ports.Observability

	deadband     float64
	writeRetries int

	profile    *Profile
	runID      string
	status     domain.RampStatus
	stopCause  domain.StopCause
	runStart   time.Time
	pausedAt   time.Time
	pausedFor  time.Duration
	startValue float64
	stepIndex  int
	inStep     time.Duration
	setpoint   float64
	issued     bool
	lastIssued float64
}

// NewExecutor builds an idle executor. deadband is the minimum setpoint delta
// that triggers a write to the instrument link; writeRetries bounds attempts
// per tick.
func NewExecutor(supply ports.PowerSupply, journal ports.EventJournal, obs ports.Observability, deadband float64, writeRetries int) *Executor {
	if writeRetries < 1 {
		writeRetries = 1
	}
	return &Executor{
		supply:       supply,
		journal:      journal,
		obs:          obs,
		deadband:     deadband,
		writeRetries: writeRetries,
		status:       domain.RampIdle,
	}
}

// Status returns the state machine position.
func (e *Executor) Status() domain.RampStatus { return e.status }

// Active reports whether a run is RUNNING or PAUSED.
func (e *Executor) Active() bool {
	return e.status == domain.RampRunning || e.status == domain.RampPaused
}

// Start validates the profile against the supply capability, enables the
// output, and begins a new run. Valid from IDLE, COMPLETED, and ABORTED.
func (e *Executor) Start(p *Profile, now time.Time) error {
	if e.Active() {
		return ErrRunActive
	}
	if err := p.Validate(e.supply.Capability()); err != nil {
		return err
	}

	startValue := 0.0
	if m, err := e.supply.ReadMeasured(); err == nil {
		startValue = m.Voltage
	} else {
		e.obs.LogError("ramp_start_measure_failed", err)
	}

	if err := e.supply.SetOutput(true); err != nil {
		return fmt.Errorf("ramp: enable output: %w", err)
	}

	e.profile = p
	e.runID = xid.New().String()
	e.status = domain.RampRunning
	e.stopCause = domain.StopNone
	e.runStart = now
	e.pausedFor = 0
	e.startValue = startValue
	e.stepIndex = 0
	e.inStep = 0
	e.setpoint = startValue
	e.issued = false
	e.lastIssued = 0

	e.obs.LogInfo("ramp_run_started",
		ports.Field{Key: "run_id", Value: e.runID},
		ports.Field{Key: "profile", Value: p.Name},
		ports.Field{Key: "total_duration", Value: p.TotalDuration()})
	e.obs.SetGauge("t8_run_active", 1)
	e.appendEvent(now, domain.EventRunStarted, fmt.Sprintf("profile %s", p.Name))
	return nil
}

// Tick computes the instantaneous setpoint for now and issues it when it has
// moved more than the deadband since the last write. On reaching the end of
// the last step it issues the final target exactly and transitions to
// COMPLETED. Returns ErrSupplyUnresponsive when the write retry budget is
// exhausted; by then the executor has already aborted and forced the output
// to the safe state.
func (e *Executor) Tick(now time.Time) error {
	if e.status != domain.RampRunning {
		return nil
	}

	elapsed := now.Sub(e.runStart) - e.pausedFor
	idx, inStep, ok := e.profile.StepAt(elapsed)
	if !ok {
		return e.complete(now)
	}

	step := e.profile.Steps[idx]
	base := e.profile.baseTarget(idx, e.startValue)

	var sp float64
	switch step.Mode {
	case ModeStep:
		sp = step.Target
	case ModeHold:
		sp = base
	default: // ModeLinear
		frac := float64(inStep) / float64(step.Duration)
		if frac < 0 {
			frac = 0
		} else if frac > 1 {
			frac = 1
		}
		sp = base + (step.Target-base)*frac
	}

	e.stepIndex = idx
	e.inStep = inStep
	e.setpoint = sp

	if e.issued && math.Abs(sp-e.lastIssued) <= e.deadband {
		return nil
	}
	if err := e.writeSetpoint(sp); err != nil {
		e.failActuator(now, err)
		return ErrSupplyUnresponsive
	}
	return nil
}

func (e *Executor) complete(now time.Time) error {
	final := e.profile.finalTarget(e.startValue)
	// The endpoint is always written exactly, never left to interpolation.
	if err := e.writeSetpoint(final); err != nil {
		e.failActuator(now, err)
		return ErrSupplyUnresponsive
	}
	e.stepIndex = len(e.profile.Steps) - 1
	e.inStep = e.profile.Steps[e.stepIndex].Duration
	e.setpoint = final
	e.status = domain.RampCompleted
	e.obs.LogInfo("ramp_run_completed",
		ports.Field{Key: "run_id", Value: e.runID},
		ports.Field{Key: "final_setpoint", Value: final})
	e.obs.SetGauge("t8_run_active", 0)
	e.appendEvent(now, domain.EventRunCompleted, fmt.Sprintf("final setpoint %.4f", final))
	return nil
}

// Pause freezes elapsed-time accounting. Valid only while RUNNING.
func (e *Executor) Pause(now time.Time) error {
	if e.status != domain.RampRunning {
		return ErrNotRunning
	}
	e.pausedAt = now
	e.status = domain.RampPaused
	e.appendEvent(now, domain.EventRunPaused, "")
	return nil
}

// Resume continues a paused run; the paused interval does not advance the
// profile.
func (e *Executor) Resume(now time.Time) error {
	if e.status != domain.RampPaused {
		return ErrNotPaused
	}
	e.pausedFor += now.Sub(e.pausedAt)
	e.status = domain.RampRunning
	e.appendEvent(now, domain.EventRunResumed, "")
	return nil
}

// Abort is the operator-initiated stop. Idempotent: aborting when no run is
// active produces no side effects.
func (e *Executor) Abort(now time.Time) error {
	e.AbortWith(now, domain.StopOperator)
	return nil
}

// AbortWith stops the run and commands the supply to its safe state before
// returning. Callable from any tick context, including the safety monitor's
// trip path.
func (e *Executor) AbortWith(now time.Time, cause domain.StopCause) {
	if !e.Active() {
		return
	}
	e.status = domain.RampAborted
	e.stopCause = cause
	e.safeOutput()
	e.obs.LogCritical("ramp_run_aborted", nil,
		ports.Field{Key: "run_id", Value: e.runID},
		ports.Field{Key: "cause", Value: string(cause)})
	e.obs.SetGauge("t8_run_active", 0)
	e.appendEvent(now, domain.EventRunAborted, string(cause))
}

// safeOutput disables the output and zeroes the setpoint. Output-disable is
// the priority and gets its own attempt budget; the setpoint write is
// best-effort afterwards.
func (e *Executor) safeOutput() {
	var err error
	for attempt := 0; attempt < outputOffAttempts; attempt++ {
		if err = e.supply.SetOutput(false); err == nil {
			break
		}
	}
	if err != nil {
		e.obs.LogCritical("ramp_output_disable_failed", err)
	}
	if err := e.supply.SetSetpoint(0); err != nil {
		e.obs.LogError("ramp_zero_setpoint_failed", err)
	}
}

func (e *Executor) failActuator(now time.Time, err error) {
	e.obs.LogCritical("ramp_supply_unresponsive", err,
		ports.Field{Key: "run_id", Value: e.runID})
	e.AbortWith(now, domain.StopActuator)
}

func (e *Executor) writeSetpoint(v float64) error {
	var err error
	for attempt := 0; attempt < e.writeRetries; attempt++ {
		if err = e.supply.SetSetpoint(v); err == nil {
			e.issued = true
			e.lastIssued = v
			e.obs.IncCounter("t8_setpoint_writes_total", 1)
			e.obs.SetGauge("t8_setpoint", v)
			return nil
		}
		e.obs.IncCounter("t8_supply_write_errors_total", 1)
	}
	return err
}

func (e *Executor) appendEvent(now time.Time, typ domain.EventType, msg string) {
	if e.journal == nil {
		return
	}
	name := ""
	if e.profile != nil {
		name = e.profile.Name
	}
	if err := e.journal.Append(domain.Event{
		Time:    now,
		Type:    typ,
		RunID:   e.runID,
		Message: msg,
	}); err != nil {
		e.obs.LogError("ramp_journal_append_failed", err,
			ports.Field{Key: "profile", Value: name})
	}
}

// View returns the read-only execution state for snapshot publication.
func (e *Executor) View() domain.RampView {
	v := domain.RampView{
		RunID:         e.runID,
		Status:        e.status,
		StepIndex:     e.stepIndex,
		ElapsedInStep: e.inStep,
		Setpoint:      e.setpoint,
		StopCause:     e.stopCause,
	}
	if e.profile != nil {
		v.Profile = e.profile.Name
		v.StepCount = len(e.profile.Steps)
	}
	return v
}
