package ramp

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ilegault/TDS-T8/internal/ports"
)

// Mode selects how a step drives the setpoint across its duration.
type Mode string

const (
	// ModeLinear interpolates from the previous step's target (or the value
	// at run start) to this step's target.
	ModeLinear Mode = "linear"
	// ModeStep jumps to the target immediately and holds it.
	ModeStep Mode = "step"
	// ModeHold keeps the previous target; the Target field is ignored.
	ModeHold Mode = "hold"
)

// ErrEmptyProfile is returned when a profile has no steps.
var ErrEmptyProfile = errors.New("ramp: profile has no steps")

// Step is one segment of a setpoint trajectory.
type Step struct {
	Target   float64
	Duration time.Duration
	Mode     Mode
}

// UnmarshalYAML accepts Go duration strings ("90s", "5m") so profile files
// stay readable.
func (s *Step) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Target   float64 `yaml:"target"`
		Duration string  `yaml:"duration"`
		Mode     string  `yaml:"mode"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	d, err := time.ParseDuration(raw.Duration)
	if err != nil {
		return fmt.Errorf("step duration %q: %w", raw.Duration, err)
	}
	mode, err := parseMode(raw.Mode)
	if err != nil {
		return err
	}
	s.Target = raw.Target
	s.Duration = d
	s.Mode = mode
	return nil
}

func parseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case ModeLinear, ModeStep, ModeHold:
		return Mode(raw), nil
	case "":
		return ModeLinear, nil
	default:
		return "", fmt.Errorf("ramp: unknown step mode %q", raw)
	}
}

// Profile is an ordered, immutable setpoint trajectory. Once validated it is
// shared read-only with the executor and safe for concurrent readers.
type Profile struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// LoadProfile reads a profile YAML file. Only structural validation happens
// here; bounds are checked against the supply capability when a run starts.
func LoadProfile(path string) (*Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	if err := p.ValidateStructure(); err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return &p, nil
}

// ValidateStructure rejects empty profiles and non-positive step durations.
func (p *Profile) ValidateStructure() error {
	if p == nil || len(p.Steps) == 0 {
		return ErrEmptyProfile
	}
	for i, s := range p.Steps {
		if s.Duration <= 0 {
			return fmt.Errorf("ramp: step %d duration must be > 0, got %s", i, s.Duration)
		}
		if _, err := parseMode(string(s.Mode)); err != nil {
			return fmt.Errorf("ramp: step %d: %w", i, err)
		}
	}
	return nil
}

// Validate additionally checks every target against the device-declared
// setpoint envelope. HOLD steps carry no target of their own and are skipped.
func (p *Profile) Validate(cap ports.SupplyCapability) error {
	if err := p.ValidateStructure(); err != nil {
		return err
	}
	for i, s := range p.Steps {
		if s.Mode == ModeHold {
			continue
		}
		if s.Target < cap.MinSetpoint || s.Target > cap.MaxSetpoint {
			return fmt.Errorf("ramp: step %d target %.4f outside supply range [%.4f, %.4f]",
				i, s.Target, cap.MinSetpoint, cap.MaxSetpoint)
		}
	}
	return nil
}

// TotalDuration is the sum of all step durations.
func (p *Profile) TotalDuration() time.Duration {
	var total time.Duration
	for _, s := range p.Steps {
		total += s.Duration
	}
	return total
}

// StepAt maps cumulative elapsed time to the step owning it and the time
// spent inside that step. ok is false once elapsed reaches the total
// duration. Pure; callable from any goroutine.
func (p *Profile) StepAt(elapsed time.Duration) (index int, inStep time.Duration, ok bool) {
	if elapsed < 0 {
		elapsed = 0
	}
	var cum time.Duration
	for i, s := range p.Steps {
		if elapsed < cum+s.Duration {
			return i, elapsed - cum, true
		}
		cum += s.Duration
	}
	return 0, 0, false
}

// baseTarget is the value a step ramps or holds from: the previous step's
// effective target, or startValue for the first step. A leading HOLD chain
// resolves back to startValue.
func (p *Profile) baseTarget(index int, startValue float64) float64 {
	for i := index - 1; i >= 0; i-- {
		if p.Steps[i].Mode != ModeHold {
			return p.Steps[i].Target
		}
	}
	return startValue
}

// finalTarget is the last effective target of the profile, used for the exact
// endpoint write on completion.
func (p *Profile) finalTarget(startValue float64) float64 {
	return p.baseTarget(len(p.Steps), startValue)
}
