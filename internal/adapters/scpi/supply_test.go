package scpi

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeInstrument is a minimal SCPI responder on a loopback listener.
type fakeInstrument struct {
	ln net.Listener

	mu       sync.Mutex
	commands []string
	output   bool
	voltage  float64
	// dropFirstOutp makes the instrument swallow the first OUTP command
	// without changing state, exercising the verify-and-retry path.
	dropFirstOutp bool
	outpSeen      int
}

func startInstrument(t *testing.T) *fakeInstrument {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeInstrument{ln: ln}
	t.Cleanup(func() { _ = ln.Close() })
	go f.serve()
	return f
}

func (f *fakeInstrument) addr() string { return f.ln.Addr().String() }

func (f *fakeInstrument) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakeInstrument) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimSpace(line)

		f.mu.Lock()
		f.commands = append(f.commands, cmd)
		var reply string
		switch {
		case cmd == "*IDN?":
			reply = "FAKE,PSU-3005,0,1.0"
		case cmd == "OUTP ON", cmd == "OUTP OFF":
			f.outpSeen++
			if f.dropFirstOutp && f.outpSeen == 1 {
				break
			}
			f.output = cmd == "OUTP ON"
		case cmd == "OUTP?":
			reply = "0"
			if f.output {
				reply = "1"
			}
		case strings.HasPrefix(cmd, "VOLT "):
			fmt.Sscanf(cmd, "VOLT %f", &f.voltage)
		case cmd == "MEAS:VOLT?":
			reply = fmt.Sprintf("%.4f", f.voltage)
		case cmd == "MEAS:CURR?":
			reply = "0.1230"
		}
		f.mu.Unlock()

		if reply != "" {
			fmt.Fprintf(conn, "%s\n", reply)
		}
	}
}

// received reports whether cmd has reached the instrument. Writes without a
// readback (e.g. the protection programming in Dial) race the serve goroutine,
// so poll briefly rather than asserting on an instantaneous snapshot.
func (f *fakeInstrument) received(cmd string) bool {
	deadline := time.Now().Add(2 * time.Second)
	for {
		f.mu.Lock()
		for _, c := range f.commands {
			if c == cmd {
				f.mu.Unlock()
				return true
			}
		}
		f.mu.Unlock()
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

func dialTest(t *testing.T, f *fakeInstrument) *Supply {
	t.Helper()
	s, err := Dial(Config{
		Addr:              f.addr(),
		MinSetpoint:       0,
		MaxSetpoint:       30,
		VoltageProtection: 33,
		CurrentProtection: 2.5,
		Timeout:           time.Second,
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDialProgramsProtectionLimits(t *testing.T) {
	f := startInstrument(t)
	dialTest(t, f)

	if !f.received("*IDN?") {
		t.Fatalf("dial must identify the instrument")
	}
	if !f.received("VOLT:PROT 33.0000") {
		t.Fatalf("dial must program OVP, got %v", f.commands)
	}
	if !f.received("CURR:PROT 2.5000") {
		t.Fatalf("dial must program OCP, got %v", f.commands)
	}
}

func TestSetSetpointFormat(t *testing.T) {
	f := startInstrument(t)
	s := dialTest(t, f)

	if err := s.SetSetpoint(12.3456789); err != nil {
		t.Fatalf("set setpoint: %v", err)
	}
	// Readback makes sure the write reached the instrument before asserting.
	m, err := s.ReadMeasured()
	if err != nil {
		t.Fatalf("read measured: %v", err)
	}
	if !f.received("VOLT 12.3457") {
		t.Fatalf("setpoint must be sent with 4 decimal places, got %v", f.commands)
	}
	if m.Voltage != 12.3457 {
		t.Fatalf("measured voltage: got %f", m.Voltage)
	}
	if m.Current != 0.123 {
		t.Fatalf("measured current: got %f", m.Current)
	}
}

func TestSetOutputVerified(t *testing.T) {
	f := startInstrument(t)
	s := dialTest(t, f)

	if err := s.SetOutput(true); err != nil {
		t.Fatalf("set output on: %v", err)
	}
	if err := s.SetOutput(false); err != nil {
		t.Fatalf("set output off: %v", err)
	}
	if !f.received("OUTP ON") || !f.received("OUTP OFF") || !f.received("OUTP?") {
		t.Fatalf("output switching must be verified by readback, got %v", f.commands)
	}
}

func TestSetOutputRetriesUnconfirmedSwitch(t *testing.T) {
	f := startInstrument(t)
	f.dropFirstOutp = true
	s := dialTest(t, f)

	if err := s.SetOutput(true); err != nil {
		t.Fatalf("a dropped OUTP must be retried until confirmed: %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.outpSeen < 2 {
		t.Fatalf("expected at least 2 OUTP attempts, got %d", f.outpSeen)
	}
	if !f.output {
		t.Fatalf("output must end up enabled")
	}
}

func TestDialRejectsBadConfig(t *testing.T) {
	if _, err := Dial(Config{MaxSetpoint: 30}); err == nil {
		t.Fatalf("missing addr must be rejected")
	}
	if _, err := Dial(Config{Addr: "127.0.0.1:1", MinSetpoint: 10, MaxSetpoint: 5}); err == nil {
		t.Fatalf("inverted setpoint range must be rejected")
	}
}

func TestQueryTimesOutOnSilentInstrument(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		// Accept the connection but never answer.
		defer conn.Close()
		buf := make([]byte, 1024)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()

	_, err = Dial(Config{Addr: ln.Addr().String(), MaxSetpoint: 30, Timeout: 50 * time.Millisecond})
	if err == nil {
		t.Fatalf("identification against a silent instrument must time out")
	}
}
