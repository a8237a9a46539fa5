package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tdst8 "github.com/ilegault/TDS-T8"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:], false)
	case "simulate":
		err = runCommand(os.Args[2:], true)
	case "validate":
		err = validateCommand(os.Args[2:])
	case "events":
		err = eventsCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("t8-daq %s: %v", cmd, err)
	}
}

func runCommand(args []string, forceSim bool) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to daemon configuration file")
	profilePath := fs.String("profile", "", "Ramp profile to start once the loop is up (optional)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := tdst8.LoadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if forceSim {
		cfg.Practice.Enabled = true
	}

	rt, err := tdst8.NewRuntime(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *profilePath != "" {
		profile, err := tdst8.LoadProfile(*profilePath)
		if err != nil {
			return fmt.Errorf("load profile: %w", err)
		}
		if err := rt.Start(); err != nil {
			return err
		}
		if err := rt.StartRun(profile); err != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = rt.Shutdown(shutdownCtx)
			return fmt.Errorf("start run: %w", err)
		}
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return rt.Shutdown(shutdownCtx)
	}

	return rt.Run(ctx)
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to configuration file to validate")
	profilePath := fs.String("profile", "", "Ramp profile to validate (optional)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := tdst8.LoadConfig(*cfgPath); err != nil {
		return err
	}
	fmt.Printf("config %s looks good\n", *cfgPath)

	if *profilePath != "" {
		profile, err := tdst8.LoadProfile(*profilePath)
		if err != nil {
			return err
		}
		fmt.Printf("profile %s: %d steps, total %s\n", *profilePath, len(profile.Steps), profile.TotalDuration())
	}
	return nil
}

func eventsCommand(args []string) error {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to daemon configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := tdst8.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}

	rt, err := tdst8.NewRuntime(cfg,
		tdst8.WithSensorReader(noSensors{}),
		tdst8.WithPowerSupply(noSupply{}),
		tdst8.WithoutMetricsServer())
	if err != nil {
		return err
	}

	return rt.Events(func(e tdst8.Event) error {
		line := fmt.Sprintf("%s %s", e.Time.Format(time.RFC3339), e.Type)
		if e.RunID != "" {
			line += " run=" + e.RunID
		}
		if e.Sensor != "" {
			line += fmt.Sprintf(" sensor=%s value=%g limit=%g", e.Sensor, e.Value, e.Limit)
		}
		if e.Message != "" {
			line += " " + e.Message
		}
		fmt.Println(line)
		return nil
	})
}

// noSensors and noSupply satisfy the runtime's hardware ports for commands
// that only need the journal, without touching instruments.
type noSensors struct{}

func (noSensors) ReadAll(context.Context) (map[string]tdst8.Reading, error) {
	return nil, nil
}

type noSupply struct{}

func (noSupply) SetSetpoint(float64) error { return nil }
func (noSupply) SetOutput(bool) error      { return nil }
func (noSupply) ReadMeasured() (tdst8.Measured, error) {
	return tdst8.Measured{}, nil
}
func (noSupply) Capability() tdst8.SupplyCapability {
	return tdst8.SupplyCapability{}
}

func statsCommand(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	url := fs.String("url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fmt.Printf("Streaming metrics from %s (Ctrl+C to stop)\n", *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printMetricsSnapshot(*url); err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
			}
		}
	}
}

func printMetricsSnapshot(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	targets := map[string]float64{
		"t8_ticks_total":         0,
		"t8_tick_overruns_total": 0,
		"t8_setpoint":            0,
		"t8_run_active":          0,
		"t8_safety_tripped":      0,
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		for key := range targets {
			if strings.HasPrefix(line, key+" ") {
				var value float64
				if _, err := fmt.Sscanf(line, key+" %f", &value); err == nil {
					targets[key] = value
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	fmt.Printf("[%s] ticks=%.0f overruns=%.0f setpoint=%.3f run_active=%.0f tripped=%.0f\n",
		time.Now().Format(time.RFC3339),
		targets["t8_ticks_total"],
		targets["t8_tick_overruns_total"],
		targets["t8_setpoint"],
		targets["t8_run_active"],
		targets["t8_safety_tripped"],
	)
	return nil
}

func printUsage() {
	fmt.Printf(`TDS-T8 instrument control daemon

Usage:
  t8-daq <command> [flags]

Commands:
  run        Start the control daemon against the configured hardware
  simulate   Start the daemon in practice mode (simulated hardware)
  validate   Load and validate a config (and optionally a profile) without starting
  events     Print the durable run/interlock event journal
  stats      Poll the Prometheus metrics endpoint and print live values

Examples:
  t8-daq run -config ./data/config.yaml -profile ./data/ramp.yaml
  t8-daq simulate -config ./data/config.yaml
  t8-daq validate -config ./data/config.yaml -profile ./data/ramp.yaml
  t8-daq events -config ./data/config.yaml
  t8-daq stats -url http://localhost:9100/metrics -interval 1s
`)
}
