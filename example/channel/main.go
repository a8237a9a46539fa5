package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ilegault/TDS-T8/pkg/daqcore"
)

// Runs a short ramp in practice mode and consumes snapshots from a channel,
// the way a UI or websocket bridge would.
func main() {
	cfg, err := daqcore.LoadConfig("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg.Practice.Enabled = true

	observer, snapshots, closeObserver := daqcore.NewChannelObserver(256)
	defer closeObserver()

	rt, err := daqcore.NewRuntime(cfg, daqcore.WithObserver(observer))
	if err != nil {
		log.Fatalf("build runtime: %v", err)
	}
	if err := rt.Start(); err != nil {
		log.Fatalf("start runtime: %v", err)
	}

	profile := &daqcore.Profile{
		Name: "demo",
		Steps: []daqcore.Step{
			{Target: 10, Duration: 5 * time.Second, Mode: daqcore.ModeLinear},
			{Target: 10, Duration: 3 * time.Second, Mode: daqcore.ModeHold},
			{Target: 0, Duration: 5 * time.Second, Mode: daqcore.ModeLinear},
		},
	}
	if err := rt.StartRun(profile); err != nil {
		log.Fatalf("start run: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := rt.Shutdown(shutdownCtx); err != nil {
				log.Fatalf("shutdown: %v", err)
			}
			return
		case s := <-snapshots:
			fmt.Printf("seq=%d ramp=%s step=%d/%d setpoint=%.3f\n",
				s.Seq, s.Ramp.Status, s.Ramp.StepIndex+1, s.Ramp.StepCount, s.Ramp.Setpoint)
			if s.Ramp.Status == daqcore.RampCompleted {
				stop()
			}
		}
	}
}
