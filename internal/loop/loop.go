// Package loop runs the periodic control tick: read sensors, evaluate the
// safety interlock, advance the ramp if safety allows, publish a snapshot.
// Exactly one goroutine mutates the executor and monitor; everything else
// talks to the loop through the command queue or reads published snapshots.
package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ilegault/TDS-T8/internal/domain"
	"github.com/ilegault/TDS-T8/internal/ports"
	"github.com/ilegault/TDS-T8/internal/ramp"
	"github.com/ilegault/TDS-T8/internal/safety"
)

// ErrStopped is returned by control methods once the loop has terminated.
var ErrStopped = errors.New("loop: acquisition loop stopped")

// Config holds the loop timing knobs.
type Config struct {
	// Interval is the tick cadence on the monotonic clock.
	Interval time.Duration
	// ReadTimeout bounds the per-tick sensor I/O; an overrun marks the tick's
	// readings invalid instead of stalling the loop.
	ReadTimeout time.Duration
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdPause
	cmdResume
	cmdAbort
	cmdReset
)

type command struct {
	kind    cmdKind
	profile *ramp.Profile
	reply   chan error
}

// Loop is the single periodic driver of the control core.
type Loop struct {
	cfg       Config
	sensors   ports.SensorReader
	supply    ports.PowerSupply
	exec      *ramp.Executor
	monitor   *safety.Monitor
	observers []ports.SnapshotObserver
	obs       ports.Observability

	cmds      chan command
	stop      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	seq       uint64
	published atomic.Pointer[domain.Snapshot]
}

// New wires a loop; Start must be called before the control methods are used.
func New(cfg Config, sensors ports.SensorReader, supply ports.PowerSupply, exec *ramp.Executor, monitor *safety.Monitor, obs ports.Observability, observers ...ports.SnapshotObserver) (*Loop, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("loop: interval must be > 0")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadTimeout > cfg.Interval {
		cfg.ReadTimeout = cfg.Interval
	}
	return &Loop{
		cfg:       cfg,
		sensors:   sensors,
		supply:    supply,
		exec:      exec,
		monitor:   monitor,
		observers: observers,
		obs:       obs,
		cmds:      make(chan command, 16),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Start launches the control goroutine.
func (l *Loop) Start() {
	go l.run()
}

// Stop requests cooperative termination and waits for the final tick to
// finish; worst-case latency is one tick interval. If a run was active the
// loop disables the supply output on the way out.
func (l *Loop) Stop(ctx context.Context) error {
	l.stopOnce.Do(func() { close(l.stop) })
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) run() {
	defer close(l.done)

	start := time.Now()
	for n := 1; ; n++ {
		select {
		case <-l.stop:
			l.finalize()
			return
		default:
		}

		l.tick(time.Now())

		// Next wake is computed from the loop's own start time so scheduling
		// error does not accumulate over long runs.
		next := start.Add(time.Duration(n) * l.cfg.Interval)
		wait := time.Until(next)
		if wait <= 0 {
			l.obs.IncCounter("t8_tick_overruns_total", 1)
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-l.stop:
			timer.Stop()
			l.finalize()
			return
		case <-timer.C:
		}
	}
}

func (l *Loop) finalize() {
	if l.exec.Active() {
		_ = l.exec.Abort(time.Now())
	}
	l.drainPending()
}

// drainPending fails any commands that raced with shutdown so callers never
// block on a reply that will not come.
func (l *Loop) drainPending() {
	for {
		select {
		case c := <-l.cmds:
			c.reply <- ErrStopped
		default:
			return
		}
	}
}

func (l *Loop) tick(now time.Time) {
	tickStart := time.Now()
	l.obs.IncCounter("t8_ticks_total", 1)

	l.applyCommands(now)

	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.ReadTimeout)
	readings, err := l.sensors.ReadAll(ctx)
	cancel()
	if err != nil {
		// Absent readings are handled fail-safe by the monitor.
		l.obs.IncCounter("t8_sensor_read_errors_total", 1)
		l.obs.LogError("sensor_read_failed", err)
		readings = nil
	}

	// Safety strictly precedes and gates ramp advancement.
	safetyView := l.monitor.Evaluate(now, readings)
	if safetyView.Status != domain.SafetyTripped {
		if err := l.exec.Tick(now); err != nil {
			if errors.Is(err, ramp.ErrSupplyUnresponsive) {
				l.monitor.ForceTrip(now, safety.CauseActuator)
				safetyView = l.monitor.View()
			} else {
				l.obs.LogError("ramp_tick_failed", err)
			}
		}
	}

	measured, err := l.supply.ReadMeasured()
	if err != nil {
		l.obs.IncCounter("t8_supply_read_errors_total", 1)
		measured = domain.Measured{}
	}

	l.seq++
	snap := &domain.Snapshot{
		Seq:      l.seq,
		Time:     now,
		Readings: readings,
		Measured: measured,
		Ramp:     l.exec.View(),
		Safety:   safetyView,
	}
	l.published.Store(snap)
	for _, o := range l.observers {
		o.Publish(snap)
	}

	l.obs.ObserveLatency("t8_tick_duration_seconds", time.Since(tickStart).Seconds())
}

// applyCommands consumes every queued control request at the top of the tick.
// Replies are sent only after the command has been applied, so callers get an
// acknowledgement with transactional meaning.
func (l *Loop) applyCommands(now time.Time) {
	for {
		select {
		case c := <-l.cmds:
			c.reply <- l.apply(c, now)
		default:
			return
		}
	}
}

func (l *Loop) apply(c command, now time.Time) error {
	switch c.kind {
	case cmdStart:
		if l.monitor.Tripped() {
			return fmt.Errorf("loop: safety interlock is tripped, reset before starting a run")
		}
		return l.exec.Start(c.profile, now)
	case cmdPause:
		return l.exec.Pause(now)
	case cmdResume:
		return l.exec.Resume(now)
	case cmdAbort:
		return l.exec.Abort(now)
	case cmdReset:
		return l.monitor.Reset(now)
	default:
		return fmt.Errorf("loop: unknown command %d", c.kind)
	}
}

func (l *Loop) submit(c command) error {
	select {
	case l.cmds <- c:
	case <-l.done:
		return ErrStopped
	}
	select {
	case err := <-c.reply:
		return err
	case <-l.done:
		return ErrStopped
	}
}

// StartRun begins executing a profile at the next tick boundary. The profile
// is validated against the supply capability before anything is commanded.
func (l *Loop) StartRun(p *ramp.Profile) error {
	if err := p.ValidateStructure(); err != nil {
		return err
	}
	return l.submit(command{kind: cmdStart, profile: p, reply: make(chan error, 1)})
}

// Pause suspends the active run at the next tick boundary.
func (l *Loop) Pause() error {
	return l.submit(command{kind: cmdPause, reply: make(chan error, 1)})
}

// Resume continues a paused run at the next tick boundary.
func (l *Loop) Resume() error {
	return l.submit(command{kind: cmdResume, reply: make(chan error, 1)})
}

// Abort stops the active run; the supply is in its safe state by the time the
// acknowledgement arrives. Idempotent.
func (l *Loop) Abort() error {
	return l.submit(command{kind: cmdAbort, reply: make(chan error, 1)})
}

// ResetSafety clears a latched trip, provided no limit is still violated.
func (l *Loop) ResetSafety() error {
	return l.submit(command{kind: cmdReset, reply: make(chan error, 1)})
}

// Snapshot returns the most recently published tick snapshot, or nil before
// the first tick. The snapshot is immutable; callers must not modify it.
func (l *Loop) Snapshot() *domain.Snapshot {
	return l.published.Load()
}
