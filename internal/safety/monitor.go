package safety

import (
	"errors"
	"fmt"
	"time"

	"github.com/ilegault/TDS-T8/internal/domain"
	"github.com/ilegault/TDS-T8/internal/ports"
)

// CauseLimitExceeded and friends label why the interlock tripped.
const (
	CauseLimitExceeded = "limit_exceeded"
	CauseSensorInvalid = "sensor_invalid"
	CauseActuator      = "actuator_unresponsive"
)

// ErrStillViolating is returned by Reset while a monitored sensor remains out
// of range; the TRIPPED state stays latched.
var ErrStillViolating = errors.New("safety: reset rejected, limit still violated")

// Limit is one configured interlock bound. At least one of Min/Max must be
// set; Persistence is the number of consecutive violating reads required to
// trip.
type Limit struct {
	Sensor          string
	Min             *float64
	Max             *float64
	Persistence     int
	TolerateInvalid bool
	// WarnFraction, when > 0 and Max is set, reports WARNING once a reading
	// reaches WarnFraction*Max, before any violation is counted.
	WarnFraction float64
}

// Validate enforces the structural invariants of a limit.
func (l Limit) Validate() error {
	if l.Sensor == "" {
		return errors.New("safety: limit sensor name is required")
	}
	if l.Min == nil && l.Max == nil {
		return fmt.Errorf("safety: limit for %s needs min or max", l.Sensor)
	}
	if l.Min != nil && l.Max != nil && *l.Min >= *l.Max {
		return fmt.Errorf("safety: limit for %s: min %.4f must be < max %.4f", l.Sensor, *l.Min, *l.Max)
	}
	if l.Persistence < 1 {
		return fmt.Errorf("safety: limit for %s: persistence must be >= 1", l.Sensor)
	}
	if l.WarnFraction < 0 || l.WarnFraction >= 1 {
		return fmt.Errorf("safety: limit for %s: warn_fraction must be in [0,1)", l.Sensor)
	}
	return nil
}

// Aborter is the executor-side trip hook. The monitor calls it synchronously
// on the transition to TRIPPED, before Evaluate returns.
type Aborter interface {
	AbortWith(now time.Time, cause domain.StopCause)
}

// Monitor evaluates sensor snapshots against the configured limits and owns
// the interlock state machine. It is mutated only from the acquisition loop's
// goroutine.
type Monitor struct {
	limits  []Limit
	supply  ports.PowerSupply
	ramp    Aborter
	journal ports.EventJournal
	obs     ports.Observability

	status    domain.SafetyStatus
	streaks   map[string]int
	violating map[string]bool // last evaluation, used to validate Reset
	tripped   struct {
		sensor string
		at     time.Time
		cause  string
	}
}

// NewMonitor validates the limit set up front; a malformed limit is a
// configuration error, never discovered mid-run.
func NewMonitor(limits []Limit, supply ports.PowerSupply, ramp Aborter, journal ports.EventJournal, obs ports.Observability) (*Monitor, error) {
	seen := make(map[string]bool, len(limits))
	for _, l := range limits {
		if err := l.Validate(); err != nil {
			return nil, err
		}
		if seen[l.Sensor] {
			return nil, fmt.Errorf("safety: duplicate limit for sensor %s", l.Sensor)
		}
		seen[l.Sensor] = true
	}
	return &Monitor{
		limits:    limits,
		supply:    supply,
		ramp:      ramp,
		journal:   journal,
		obs:       obs,
		status:    domain.SafetyNormal,
		streaks:   make(map[string]int, len(limits)),
		violating: make(map[string]bool, len(limits)),
	}, nil
}

// Tripped reports whether the interlock is latched.
func (m *Monitor) Tripped() bool { return m.status == domain.SafetyTripped }

// Evaluate checks every configured limit against the snapshot, updates the
// per-sensor violation streaks, and trips the interlock when a streak reaches
// its limit's persistence. On the transition to TRIPPED the ramp is aborted
// and the supply output disabled before Evaluate returns. TRIPPED is sticky.
func (m *Monitor) Evaluate(now time.Time, readings map[string]domain.Reading) domain.SafetyView {
	warned := false

	for _, l := range m.limits {
		r, present := readings[l.Sensor]

		if !present || !r.Valid {
			if l.TolerateInvalid {
				// Not a violation, but not an in-range reading either:
				// the streak is left untouched.
				m.violating[l.Sensor] = false
				continue
			}
			m.violating[l.Sensor] = true
			m.bump(now, l, r.Value, boundOf(l), CauseSensorInvalid)
			continue
		}

		switch {
		case l.Min != nil && r.Value < *l.Min:
			m.violating[l.Sensor] = true
			m.bump(now, l, r.Value, *l.Min, CauseLimitExceeded)
		case l.Max != nil && r.Value >= *l.Max:
			m.violating[l.Sensor] = true
			m.bump(now, l, r.Value, *l.Max, CauseLimitExceeded)
		default:
			m.violating[l.Sensor] = false
			m.streaks[l.Sensor] = 0
			if l.WarnFraction > 0 && l.Max != nil && r.Value >= *l.Max*l.WarnFraction {
				warned = true
			}
		}
	}

	if m.status != domain.SafetyTripped {
		pending := warned
		for _, n := range m.streaks {
			if n > 0 {
				pending = true
				break
			}
		}
		if pending {
			m.status = domain.SafetyWarning
		} else {
			m.status = domain.SafetyNormal
		}
	}

	m.obs.SetGauge("t8_safety_tripped", boolGauge(m.Tripped()))
	return m.View()
}

func (m *Monitor) bump(now time.Time, l Limit, value, limit float64, cause string) {
	m.streaks[l.Sensor]++
	if m.streaks[l.Sensor] < l.Persistence || m.status == domain.SafetyTripped {
		return
	}
	m.trip(now, l.Sensor, value, limit, cause)
}

// trip latches TRIPPED and forces the actuator safe: ramp abort first, then
// the idempotent output-disable, both before the evaluation returns to the
// loop.
func (m *Monitor) trip(now time.Time, sensor string, value, limit float64, cause string) {
	m.status = domain.SafetyTripped
	m.tripped.sensor = sensor
	m.tripped.at = now
	m.tripped.cause = cause

	if m.ramp != nil {
		m.ramp.AbortWith(now, domain.StopSafetyTrip)
	}
	if err := m.supply.SetOutput(false); err != nil {
		m.obs.LogCritical("safety_output_disable_failed", err,
			ports.Field{Key: "sensor", Value: sensor})
	}

	m.obs.RecordTrip(sensor, value, limit)
	m.obs.LogCritical("safety_tripped", nil,
		ports.Field{Key: "sensor", Value: sensor},
		ports.Field{Key: "value", Value: value},
		ports.Field{Key: "limit", Value: limit},
		ports.Field{Key: "cause", Value: cause})
	m.appendEvent(domain.Event{
		Time:   now,
		Type:   domain.EventSafetyTrip,
		Sensor: sensor,
		Value:  value,
		Limit:  limit,
	})
}

// ForceTrip latches TRIPPED for a non-sensor cause, e.g. an unresponsive
// actuator reported by the executor. Idempotent.
func (m *Monitor) ForceTrip(now time.Time, cause string) {
	if m.Tripped() {
		return
	}
	m.trip(now, "", 0, 0, cause)
}

// Reset clears a latched trip. Rejected while any monitored sensor is still
// out of range per the last evaluation. Calling Reset when already NORMAL is
// a no-op.
func (m *Monitor) Reset(now time.Time) error {
	if !m.Tripped() {
		return nil
	}
	for sensor, bad := range m.violating {
		if bad {
			return fmt.Errorf("%w: %s", ErrStillViolating, sensor)
		}
	}

	m.status = domain.SafetyNormal
	m.tripped.sensor = ""
	m.tripped.cause = ""
	m.tripped.at = time.Time{}
	for k := range m.streaks {
		m.streaks[k] = 0
	}

	m.obs.LogInfo("safety_reset")
	m.obs.SetGauge("t8_safety_tripped", 0)
	m.appendEvent(domain.Event{Time: now, Type: domain.EventSafetyReset})
	return nil
}

// View returns the read-only interlock state for snapshot publication.
func (m *Monitor) View() domain.SafetyView {
	streaks := make(map[string]int, len(m.streaks))
	for k, v := range m.streaks {
		streaks[k] = v
	}
	return domain.SafetyView{
		Status:          m.status,
		ViolatingSensor: m.tripped.sensor,
		Streaks:         streaks,
		TrippedAt:       m.tripped.at,
		Cause:           m.tripped.cause,
	}
}

func (m *Monitor) appendEvent(e domain.Event) {
	if m.journal == nil {
		return
	}
	if err := m.journal.Append(e); err != nil {
		m.obs.LogError("safety_journal_append_failed", err)
	}
}

func boundOf(l Limit) float64 {
	if l.Max != nil {
		return *l.Max
	}
	if l.Min != nil {
		return *l.Min
	}
	return 0
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
