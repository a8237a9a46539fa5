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

func main() {
	cfg, err := daqcore.LoadConfig("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg.Practice.Enabled = true

	printer := daqcore.NewCallbackObserver(func(s *daqcore.Snapshot) {
		fmt.Printf("%s seq=%d ramp=%s safety=%s setpoint=%.3f measured=%.3fV\n",
			s.Time.Format(time.RFC3339Nano),
			s.Seq,
			s.Ramp.Status,
			s.Safety.Status,
			s.Ramp.Setpoint,
			s.Measured.Voltage,
		)
	})

	rt, err := daqcore.NewRuntime(cfg, daqcore.WithObserver(printer))
	if err != nil {
		log.Fatalf("build runtime: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("runtime exited: %v", err)
	}
}
