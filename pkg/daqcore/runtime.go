// Package daqcore embeds the instrument control core: periodic acquisition,
// ramp execution, and the safety interlock, wired to real or simulated
// hardware from a single config.
package daqcore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ilegault/TDS-T8/internal/adapters/journal"
	mqttadapter "github.com/ilegault/TDS-T8/internal/adapters/mqtt"
	"github.com/ilegault/TDS-T8/internal/adapters/observability"
	"github.com/ilegault/TDS-T8/internal/adapters/opcua"
	"github.com/ilegault/TDS-T8/internal/adapters/recorder"
	"github.com/ilegault/TDS-T8/internal/adapters/scpi"
	"github.com/ilegault/TDS-T8/internal/adapters/sim"
	"github.com/ilegault/TDS-T8/internal/loop"
	"github.com/ilegault/TDS-T8/internal/ports"
	"github.com/ilegault/TDS-T8/internal/ramp"
	"github.com/ilegault/TDS-T8/internal/safety"
)

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	sensors       ports.SensorReader
	supply        ports.PowerSupply
	journal       ports.EventJournal
	observability ports.Observability
	observers     []ports.SnapshotObserver
	noMetrics     bool
}

// WithSensorReader injects a custom sensor source (Modbus, serial DAQs,
// simulators) in place of the OPC UA reader.
func WithSensorReader(s ports.SensorReader) RuntimeOption {
	return func(o *runtimeOverrides) { o.sensors = s }
}

// WithPowerSupply injects a custom actuator in place of the SCPI supply.
func WithPowerSupply(p ports.PowerSupply) RuntimeOption {
	return func(o *runtimeOverrides) { o.supply = p }
}

// WithJournal lets callers bring their own event store.
func WithJournal(j ports.EventJournal) RuntimeOption {
	return func(o *runtimeOverrides) { o.journal = j }
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs ports.Observability) RuntimeOption {
	return func(o *runtimeOverrides) { o.observability = obs }
}

// WithObserver registers an additional snapshot observer. May be repeated.
func WithObserver(obs ports.SnapshotObserver) RuntimeOption {
	return func(o *runtimeOverrides) { o.observers = append(o.observers, obs) }
}

// WithoutMetricsServer disables the metrics HTTP listener; the host process
// serves promhttp itself.
func WithoutMetricsServer() RuntimeOption {
	return func(o *runtimeOverrides) { o.noMetrics = true }
}

// Runtime wires sensors, supply, ramp executor, safety monitor, and the
// acquisition loop, and exposes lifecycle plus run control.
type Runtime struct {
	cfg *Config
	obs ports.Observability

	sensors ports.SensorReader
	supply  ports.PowerSupply
	journal ports.EventJournal

	exec    *ramp.Executor
	monitor *safety.Monitor
	loop    *loop.Loop

	opcuaReader  *opcua.Reader
	scpiSupply   *scpi.Supply
	recorder     *recorder.Recorder
	publisher    *mqttadapter.Publisher
	db           *sql.DB
	metricsSrv   *http.Server
	serveMetrics bool
}

// NewRuntime bootstraps the default adapters (OPC UA sensors, SCPI supply,
// file journal, Prometheus observability, optional Postgres recorder and MQTT
// publisher) or their simulated equivalents in practice mode. RuntimeOption
// values override any dependency.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	obs := overrides.observability
	if obs == nil {
		obs = observability.NewPromObs()
	}

	r := &Runtime{cfg: cfg, obs: obs, serveMetrics: !overrides.noMetrics}

	if overrides.journal != nil {
		r.journal = overrides.journal
	} else {
		j, err := journal.NewFileJournal(cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		r.journal = j
	}

	if err := r.wireHardware(&overrides); err != nil {
		return nil, err
	}

	if cfg.Ramp.Deadband == nil {
		return nil, fmt.Errorf("ramp.deadband is required")
	}
	writeRetries := cfg.Ramp.WriteRetries
	if writeRetries < 1 {
		writeRetries = 3
	}
	r.exec = ramp.NewExecutor(r.supply, r.journal, obs, *cfg.Ramp.Deadband, writeRetries)

	monitor, err := safety.NewMonitor(cfg.SafetyLimits(), r.supply, r.exec, r.journal, obs)
	if err != nil {
		return nil, err
	}
	r.monitor = monitor

	observers := overrides.observers
	if cfg.Recorder.ConnString != "" {
		db, err := sql.Open("postgres", cfg.Recorder.ConnString)
		if err != nil {
			return nil, fmt.Errorf("open recorder db: %w", err)
		}
		r.db = db
		r.recorder = recorder.New(db, recorder.Config{
			Table:         cfg.Recorder.Table,
			BatchSize:     cfg.Recorder.BatchSize,
			FlushInterval: cfg.Recorder.FlushInterval.Std(),
			BufferSize:    cfg.Recorder.BufferSize,
		}, obs)
		observers = append(observers, r.recorder)
	}
	if cfg.MQTT.Broker != "" {
		pub, err := mqttadapter.NewPublisher(mqttadapter.Config{
			Broker:     cfg.MQTT.Broker,
			ClientID:   cfg.MQTT.ClientID,
			Topic:      cfg.MQTT.Topic,
			QoS:        cfg.MQTT.QoS,
			BufferSize: cfg.MQTT.BufferSize,
		}, obs)
		if err != nil {
			return nil, err
		}
		r.publisher = pub
		observers = append(observers, pub)
	}

	l, err := loop.New(loop.Config{
		Interval:    cfg.Loop.Interval.Std(),
		ReadTimeout: cfg.Loop.ReadTimeout.Std(),
	}, r.sensors, r.supply, r.exec, r.monitor, obs, observers...)
	if err != nil {
		return nil, err
	}
	r.loop = l

	return r, nil
}

func (r *Runtime) wireHardware(overrides *runtimeOverrides) error {
	cfg := r.cfg

	r.sensors = overrides.sensors
	r.supply = overrides.supply

	if cfg.Practice.Enabled {
		if r.sensors == nil {
			r.sensors = sim.NewSensors(nil, cfg.Practice.Noise, cfg.Practice.Seed)
		}
		if r.supply == nil {
			r.supply = sim.NewSupply(cfg.Supply.MinSetpoint, cfg.Supply.MaxSetpoint)
		}
		return nil
	}

	if r.sensors == nil {
		reader, err := opcua.NewReader(cfg.OPCUA)
		if err != nil {
			return err
		}
		r.opcuaReader = reader
		r.sensors = reader
	}
	if r.supply == nil {
		supply, err := scpi.Dial(scpi.Config{
			Addr:              cfg.Supply.Addr,
			MinSetpoint:       cfg.Supply.MinSetpoint,
			MaxSetpoint:       cfg.Supply.MaxSetpoint,
			VoltageProtection: cfg.Supply.VoltageProtection,
			CurrentProtection: cfg.Supply.CurrentProtection,
			Timeout:           cfg.Supply.Timeout.Std(),
		})
		if err != nil {
			return err
		}
		r.scpiSupply = supply
		r.supply = supply
	}
	return nil
}

// Start brings up the adapters and launches the acquisition loop. It returns
// immediately; call Run to block on a context instead.
func (r *Runtime) Start() error {
	if r == nil {
		return fmt.Errorf("runtime is nil")
	}
	if r.opcuaReader != nil {
		if err := r.opcuaReader.Start(); err != nil {
			return err
		}
	}
	if r.recorder != nil {
		r.recorder.Start()
	}
	if r.publisher != nil {
		r.publisher.Start()
	}
	r.loop.Start()
	if r.serveMetrics {
		r.startMetrics()
	}
	return nil
}

// Run starts the runtime and blocks until the provided context is cancelled,
// then attempts a graceful shutdown.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.Shutdown(shutdownCtx)
}

// Shutdown stops the loop first so the supply is left in its safe state, then
// tears the adapters down.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var errs []error

	if err := r.loop.Stop(ctx); err != nil {
		errs = append(errs, err)
	}

	if r.metricsSrv != nil {
		if err := r.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}
	if r.opcuaReader != nil {
		if err := r.opcuaReader.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.recorder != nil {
		if err := r.recorder.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if r.publisher != nil {
		if err := r.publisher.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if r.scpiSupply != nil {
		if err := r.scpiSupply.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c, ok := r.journal.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// StartRun begins executing a ramp profile at the next tick boundary.
func (r *Runtime) StartRun(p *Profile) error { return r.loop.StartRun(p) }

// Pause suspends the active run.
func (r *Runtime) Pause() error { return r.loop.Pause() }

// Resume continues a paused run.
func (r *Runtime) Resume() error { return r.loop.Resume() }

// Abort stops the active run and leaves the supply output disabled.
func (r *Runtime) Abort() error { return r.loop.Abort() }

// ResetSafety clears a latched interlock trip once all sensors are back in
// range.
func (r *Runtime) ResetSafety() error { return r.loop.ResetSafety() }

// Snapshot returns the most recent tick snapshot, or nil before the first
// tick.
func (r *Runtime) Snapshot() *Snapshot { return r.loop.Snapshot() }

// Events replays the durable event journal in append order.
func (r *Runtime) Events(fn func(Event) error) error { return r.journal.Replay(fn) }

func (r *Runtime) startMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.metricsSrv = &http.Server{
		Addr:    r.cfg.Metrics.Addr,
		Handler: mux,
	}

	go func() {
		if err := r.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server exited: %v", err)
		}
	}()
}
