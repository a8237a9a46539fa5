// Package scpi drives a programmable power supply over raw-socket SCPI.
package scpi

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ilegault/TDS-T8/internal/domain"
	"github.com/ilegault/TDS-T8/internal/ports"
)

// outputVerifyAttempts bounds the OUTP command-and-readback cycle. Supplies
// occasionally drop the first OUTP after a protection event.
const outputVerifyAttempts = 3

// Config describes the supply connection and its actuator envelope.
type Config struct {
	Addr        string
	MinSetpoint float64
	MaxSetpoint float64
	// VoltageProtection and CurrentProtection, when > 0, are programmed as
	// hardware OVP/OCP limits during Dial.
	VoltageProtection float64
	CurrentProtection float64
	Timeout           time.Duration
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Second
	}
}

func (c *Config) validate() error {
	if c.Addr == "" {
		return errors.New("scpi: addr is required")
	}
	if c.MaxSetpoint <= c.MinSetpoint {
		return fmt.Errorf("scpi: max_setpoint %.4f must be > min_setpoint %.4f", c.MaxSetpoint, c.MinSetpoint)
	}
	return nil
}

// Supply is a ports.PowerSupply backed by a TCP SCPI session. Calls are
// serialized; a failed exchange drops the connection and the next call
// redials.
type Supply struct {
	cfg Config

	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
}

// Dial connects, verifies the instrument responds to *IDN?, and programs the
// configured hardware protection limits.
func Dial(cfg Config) (*Supply, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	s := &Supply{cfg: cfg}
	s.mu.Lock()
	err := s.connectLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if _, err := s.query("*IDN?"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("scpi: instrument identification failed: %w", err)
	}
	if cfg.VoltageProtection > 0 {
		if err := s.send(fmt.Sprintf("VOLT:PROT %.4f", cfg.VoltageProtection)); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("scpi: set voltage protection: %w", err)
		}
	}
	if cfg.CurrentProtection > 0 {
		if err := s.send(fmt.Sprintf("CURR:PROT %.4f", cfg.CurrentProtection)); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("scpi: set current protection: %w", err)
		}
	}
	return s, nil
}

// SetSetpoint programs the output voltage. Range enforcement lives in the
// ramp validation; the supply trusts its caller but the hardware OVP still
// backstops it.
func (s *Supply) SetSetpoint(v float64) error {
	return s.send(fmt.Sprintf("VOLT %.4f", v))
}

// SetOutput switches the output stage and verifies the new state by readback.
func (s *Supply) SetOutput(on bool) error {
	cmd, want := "OUTP OFF", "0"
	if on {
		cmd, want = "OUTP ON", "1"
	}

	var lastErr error
	for attempt := 0; attempt < outputVerifyAttempts; attempt++ {
		if err := s.send(cmd); err != nil {
			lastErr = err
			continue
		}
		state, err := s.query("OUTP?")
		if err != nil {
			lastErr = err
			continue
		}
		if state == want {
			return nil
		}
		lastErr = fmt.Errorf("scpi: output readback %q, want %q", state, want)
	}
	return fmt.Errorf("scpi: output state not confirmed after %d attempts: %w", outputVerifyAttempts, lastErr)
}

// ReadMeasured queries the measured output voltage and current.
func (s *Supply) ReadMeasured() (domain.Measured, error) {
	volt, err := s.queryFloat("MEAS:VOLT?")
	if err != nil {
		return domain.Measured{}, err
	}
	curr, err := s.queryFloat("MEAS:CURR?")
	if err != nil {
		return domain.Measured{}, err
	}
	return domain.Measured{Voltage: volt, Current: curr}, nil
}

func (s *Supply) Capability() ports.SupplyCapability {
	return ports.SupplyCapability{
		MinSetpoint: s.cfg.MinSetpoint,
		MaxSetpoint: s.cfg.MaxSetpoint,
	}
}

func (s *Supply) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.r = nil
	return err
}

// connectLocked dials the instrument. Caller holds s.mu.
func (s *Supply) connectLocked() error {
	conn, err := net.DialTimeout("tcp", s.cfg.Addr, s.cfg.Timeout)
	if err != nil {
		return fmt.Errorf("scpi: dial %s: %w", s.cfg.Addr, err)
	}
	s.conn = conn
	s.r = bufio.NewReader(conn)
	return nil
}

func (s *Supply) send(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(cmd)
}

func (s *Supply) query(cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeLocked(cmd); err != nil {
		return "", err
	}
	if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.Timeout)); err != nil {
		s.dropLocked()
		return "", err
	}
	line, err := s.r.ReadString('\n')
	if err != nil {
		s.dropLocked()
		return "", fmt.Errorf("scpi: read response to %q: %w", cmd, err)
	}
	return strings.TrimSpace(line), nil
}

func (s *Supply) queryFloat(cmd string) (float64, error) {
	resp, err := s.query(cmd)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		return 0, fmt.Errorf("scpi: response to %q is not numeric: %q", cmd, resp)
	}
	return v, nil
}

// writeLocked sends one command line, redialing first if a previous exchange
// dropped the connection. Caller holds s.mu.
func (s *Supply) writeLocked(cmd string) error {
	if s.conn == nil {
		if err := s.connectLocked(); err != nil {
			return err
		}
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.Timeout)); err != nil {
		s.dropLocked()
		return err
	}
	if _, err := s.conn.Write([]byte(cmd + "\n")); err != nil {
		s.dropLocked()
		return fmt.Errorf("scpi: write %q: %w", cmd, err)
	}
	return nil
}

func (s *Supply) dropLocked() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
		s.r = nil
	}
}

var _ ports.PowerSupply = (*Supply)(nil)
