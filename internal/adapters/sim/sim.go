// Package sim provides simulated hardware for practice mode: synthetic
// sensors and an in-memory power supply. The daemon runs the full control
// core against them with no instruments attached.
package sim

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/ilegault/TDS-T8/internal/domain"
	"github.com/ilegault/TDS-T8/internal/ports"
)

// SensorConfig shapes one synthetic channel: a sine around Base with the
// given Amplitude and Period, plus Gaussian noise.
type SensorConfig struct {
	Name      string
	Base      float64
	Amplitude float64
	Period    time.Duration
}

// DefaultSensors mirrors a small vacuum chamber: two thermocouples and a
// pressure gauge.
func DefaultSensors() []SensorConfig {
	return []SensorConfig{
		{Name: "T1", Base: 25, Amplitude: 5, Period: 60 * time.Second},
		{Name: "T2", Base: 22, Amplitude: 3, Period: 45 * time.Second},
		{Name: "P1", Base: 1e-5, Amplitude: 2e-6, Period: 90 * time.Second},
	}
}

// Sensors implements ports.SensorReader with synthetic waveforms.
type Sensors struct {
	cfg   []SensorConfig
	noise float64
	start time.Time

	mu      sync.Mutex
	rng     *rand.Rand
	failing map[string]bool
}

func NewSensors(cfg []SensorConfig, noise float64, seed int64) *Sensors {
	if len(cfg) == 0 {
		cfg = DefaultSensors()
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Sensors{
		cfg:     cfg,
		noise:   noise,
		start:   time.Now(),
		rng:     rand.New(rand.NewSource(seed)),
		failing: make(map[string]bool),
	}
}

func (s *Sensors) ReadAll(ctx context.Context) (map[string]domain.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now()
	elapsed := now.Sub(s.start).Seconds()

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]domain.Reading, len(s.cfg))
	for _, c := range s.cfg {
		if s.failing[c.Name] {
			out[c.Name] = domain.Reading{Valid: false, Timestamp: now}
			continue
		}
		v := c.Base
		if c.Period > 0 {
			v += c.Amplitude * math.Sin(2*math.Pi*elapsed/c.Period.Seconds())
		}
		if s.noise > 0 {
			v += s.noise * s.rng.NormFloat64()
		}
		out[c.Name] = domain.Reading{Value: v, Valid: true, Timestamp: now}
	}
	return out, nil
}

// FailSensor toggles a simulated sensor fault; the channel reports invalid
// readings until restored. Used to demonstrate the interlock.
func (s *Sensors) FailSensor(name string, failed bool) {
	s.mu.Lock()
	s.failing[name] = failed
	s.mu.Unlock()
}

// Supply is an in-memory ports.PowerSupply. The measured voltage tracks the
// last setpoint while the output is enabled.
type Supply struct {
	capability ports.SupplyCapability

	mu       sync.Mutex
	setpoint float64
	output   bool
}

func NewSupply(min, max float64) *Supply {
	return &Supply{capability: ports.SupplyCapability{MinSetpoint: min, MaxSetpoint: max}}
}

func (s *Supply) SetSetpoint(v float64) error {
	s.mu.Lock()
	s.setpoint = v
	s.mu.Unlock()
	return nil
}

func (s *Supply) SetOutput(on bool) error {
	s.mu.Lock()
	s.output = on
	s.mu.Unlock()
	return nil
}

func (s *Supply) ReadMeasured() (domain.Measured, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.output {
		return domain.Measured{}, nil
	}
	// A fixed resistive load keeps the simulated current plausible.
	return domain.Measured{Voltage: s.setpoint, Current: s.setpoint / 10}, nil
}

func (s *Supply) Capability() ports.SupplyCapability { return s.capability }

// Output reports the simulated output stage state.
func (s *Supply) Output() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output
}

var (
	_ ports.SensorReader = (*Sensors)(nil)
	_ ports.PowerSupply  = (*Supply)(nil)
)
