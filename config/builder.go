package config

import (
	"github.com/prometheus/client_golang/prometheus"

	pulseecg "github.com/wernerhzigby/pulse-ecg-monitor"
)

// BuildOptions converts a validated configuration into monitor options.
//
// The source is the simulator when source.simulate is set; otherwise the
// ADS1115, falling back to the configured simulator waveform if the device
// cannot be opened. Metrics get a fresh registry per call.
func BuildOptions(cfg *Config) []pulseecg.Option {
	opts := []pulseecg.Option{
		pulseecg.WithParams(cfg.Params()),
		pulseecg.WithPort(cfg.Server.Port),
		pulseecg.WithAutostart(cfg.Sampling.Autostart),
		pulseecg.WithSimulator(cfg.SimulatorConfig()),
	}

	if !cfg.Source.Simulate {
		opts = append(opts, pulseecg.WithHardware(cfg.Source.I2CBus, cfg.Source.ADCAddr))
	}

	if cfg.Server.ShutdownToken != "" {
		opts = append(opts, pulseecg.WithShutdownToken(cfg.Server.ShutdownToken))
	}

	if cfg.Server.Metrics {
		opts = append(opts, pulseecg.WithMetrics(prometheus.NewRegistry()))
	}

	if cfg.NATS.URL != "" {
		opts = append(opts, pulseecg.WithNATS(cfg.NATS.URL, cfg.NATS.Subject))
	}

	return opts
}
