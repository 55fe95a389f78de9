package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	pulseecg "github.com/wernerhzigby/pulse-ecg-monitor"
)

func main() {
	// simulated patient: tachycardic burst at 20s, flatline at 45s
	sim := pulseecg.DefaultSimulatorConfig()
	sim.Episodes = []pulseecg.Episode{
		{Start: 20 * time.Second, Duration: 15 * time.Second, BPM: 135},
		{Start: 45 * time.Second, Duration: 6 * time.Second, Flatline: true},
	}

	m, err := pulseecg.New(
		pulseecg.WithSimulator(sim),
		pulseecg.WithPort(5000),
		pulseecg.WithShutdownToken("demo"),
		pulseecg.WithMetrics(prometheus.NewRegistry()),
		pulseecg.WithFlagCallback(func(c pulseecg.FlagChange) {
			if c.Opened {
				slog.Warn("event started", "kind", c.Flag.Kind, "severity", c.Flag.Severity)
				return
			}
			slog.Info("event ended", "kind", c.Flag.Kind, "duration", c.Flag.Offset.Sub(c.Flag.Onset).String())
		}),
	)
	if err != nil {
		slog.Error("failed to create monitor", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════════════════╗")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   ECG Monitor Demo (simulated)                        ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Live data:  http://localhost:5000/api/data          ║")
	fmt.Println("  ║   Stream:     http://localhost:5000/api/sse           ║")
	fmt.Println("  ║   Report:     http://localhost:5000/api/report        ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Episodes:                                           ║")
	fmt.Println("  ║   • tachycardia at 20s (135 bpm for 15s)              ║")
	fmt.Println("  ║   • asystole at 45s (6s flatline)                     ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Stop: curl -X POST -H 'X-ECG-Token: demo' \\         ║")
	fmt.Println("  ║         http://localhost:5000/api/stop                ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ╚═══════════════════════════════════════════════════════╝")
	fmt.Println()

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := m.Start(ctx); err != nil {
		slog.Error("monitor error", "error", err)
		os.Exit(1)
	}
}
