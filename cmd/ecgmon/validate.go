package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wernerhzigby/pulse-ecg-monitor/config"
)

// validateCmd validates a config file without starting the monitor.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate an ecgmon configuration without starting the monitor.

This command parses the YAML, applies ECG_* environment overrides, expands
environment variables, and validates all fields. It's useful for CI/CD
pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  ecgmon validate -c ecg.yaml
  ecgmon validate --config /etc/ecgmon/ecg.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	src := fmt.Sprintf("ads1115 at %#x (simulator fallback)", cfg.Source.ADCAddr)
	if cfg.Source.Simulate {
		src = fmt.Sprintf("simulator at %g bpm", cfg.Source.SimBPM)
	}
	stop := "disabled"
	if cfg.Server.ShutdownToken != "" {
		stop = "enabled"
	}
	nats := "disabled"
	if cfg.NATS.URL != "" {
		nats = fmt.Sprintf("%s (subject %s)", cfg.NATS.URL, cfg.NATS.Subject)
	}

	fmt.Printf("Config is valid!\n")
	fmt.Printf("  Sample rate: %d Hz, %gs window\n", cfg.Sampling.Rate, cfg.Sampling.BufferSec)
	fmt.Printf("  Source:      %s\n", src)
	fmt.Printf("  Heart rate:  brady < %g, tachy > %g, vtach > %g bpm\n",
		cfg.Classifier.BradyBPM, cfg.Classifier.TachyBPM, cfg.Classifier.VTachBPM)
	fmt.Printf("  Port:        %d\n", cfg.Server.Port)
	fmt.Printf("  Stop:        %s\n", stop)
	fmt.Printf("  NATS:        %s\n", nats)

	return nil
}
