// Package config provides YAML and environment configuration for the ECG
// monitor.
//
// This package enables running the monitor as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
// Values are resolved in order: built-in defaults, the YAML file (if any),
// then ECG_* environment variables. A value that is present but invalid is
// an error; nothing silently falls back to its default.
//
// Example configuration:
//
//	sampling:
//	  rate: 250
//	  buffer_sec: 120
//
//	classifier:
//	  tachy_bpm: 110
//
//	source:
//	  i2c_bus: /dev/i2c-1
//	  adc_addr: 0x48
//
//	server:
//	  port: 5000
//	  shutdown_token: ${ECG_SHUTDOWN_TOKEN}
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	pulseecg "github.com/wernerhzigby/pulse-ecg-monitor"
)

// Config is the root configuration structure.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config.
type Config struct {
	// LogLevel is one of debug, info, warn, error. Defaults to info.
	LogLevel string `yaml:"log_level"`

	Sampling   SamplingConfig   `yaml:"sampling"`
	Detector   DetectorConfig   `yaml:"detector"`
	Rhythm     RhythmConfig     `yaml:"rhythm"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Source     SourceConfig     `yaml:"source"`
	Server     ServerConfig     `yaml:"server"`
	NATS       NATSConfig       `yaml:"nats"`
}

// SamplingConfig controls acquisition.
type SamplingConfig struct {
	// Rate is the sample rate in Hz.
	Rate int `yaml:"rate"`

	// BufferSec is the length of the sample window in seconds.
	BufferSec float64 `yaml:"buffer_sec"`

	// ClipLow and ClipHigh bound raw readings.
	ClipLow  int `yaml:"clip_low"`
	ClipHigh int `yaml:"clip_high"`

	// BackoffMax caps the wait between retries of a faulting source.
	// Accepts duration strings like "1s" or "500ms".
	BackoffMax Duration `yaml:"backoff_max"`

	// Autostart begins sampling as soon as the server starts.
	Autostart bool `yaml:"autostart"`
}

// DetectorConfig tunes R-peak detection.
type DetectorConfig struct {
	RThreshold          float64 `yaml:"r_threshold"`
	BaselineWindowSec   float64 `yaml:"baseline_window_sec"`
	NoiseWindowSec      float64 `yaml:"noise_window_sec"`
	NoiseDerivThreshold int     `yaml:"noise_deriv_threshold"`
	LowAmplitude        int     `yaml:"low_amplitude"`
	MinRRSec            float64 `yaml:"min_rr_sec"`
}

// RhythmConfig sizes the RR and BPM histories.
type RhythmConfig struct {
	BPMMaxLen      int     `yaml:"bpm_maxlen"`
	RRMaxLen       int     `yaml:"rr_maxlen"`
	AvgBeats       int     `yaml:"avg_beats"`
	PrematureShort float64 `yaml:"premature_short"`
	PrematureLong  float64 `yaml:"premature_long"`
}

// ClassifierConfig sets the event thresholds.
type ClassifierConfig struct {
	AsystoleSec     float64 `yaml:"asystole_sec"`
	BradyBPM        float64 `yaml:"brady_bpm"`
	TachyBPM        float64 `yaml:"tachy_bpm"`
	VTachBPM        float64 `yaml:"vtach_bpm"`
	WanderWindowSec float64 `yaml:"wander_window_sec"`
	WanderThreshold float64 `yaml:"wander_threshold"`
	StabilizeSec    float64 `yaml:"stabilize_sec"`
	RetentionSec    float64 `yaml:"retention_sec"`
}

// SourceConfig selects where samples come from.
type SourceConfig struct {
	// Simulate forces the built-in simulator. Otherwise the ADS1115 is
	// used, with the simulator as fallback when it cannot be opened.
	Simulate bool `yaml:"simulate"`

	SimBPM   float64 `yaml:"sim_bpm"`
	SimNoise int     `yaml:"sim_noise"`
	SimSeed  uint64  `yaml:"sim_seed"`

	// I2CBus names the bus; empty picks the first one available.
	I2CBus  string `yaml:"i2c_bus"`
	ADCAddr uint16 `yaml:"adc_addr"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port"`

	// ShutdownToken enables POST /api/stop. Empty disables stopping.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	ShutdownToken string `yaml:"shutdown_token"`

	// Metrics serves Prometheus metrics at /metrics.
	Metrics bool `yaml:"metrics"`
}

// NATSConfig enables publishing heart rate and flag transitions.
type NATSConfig struct {
	// URL of the NATS server. Empty disables publishing.
	// Supports environment variable substitution.
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	p := pulseecg.DefaultParams()
	sim := pulseecg.DefaultSimulatorConfig()
	return &Config{
		LogLevel: "info",
		Sampling: SamplingConfig{
			Rate:       p.SampleRate,
			BufferSec:  p.BufferWindow.Seconds(),
			ClipLow:    p.ClipLow,
			ClipHigh:   p.ClipHigh,
			BackoffMax: Duration(p.BackoffMax),
			Autostart:  true,
		},
		Detector: DetectorConfig{
			RThreshold:          p.RThreshold,
			BaselineWindowSec:   p.BaselineWindow.Seconds(),
			NoiseWindowSec:      p.NoiseWindow.Seconds(),
			NoiseDerivThreshold: p.NoiseDerivThreshold,
			LowAmplitude:        p.LowAmplitude,
			MinRRSec:            p.MinRR.Seconds(),
		},
		Rhythm: RhythmConfig{
			BPMMaxLen:      p.BPMMaxLen,
			RRMaxLen:       p.RRMaxLen,
			AvgBeats:       p.RRAvgBeats,
			PrematureShort: p.PrematureShort,
			PrematureLong:  p.PrematureLong,
		},
		Classifier: ClassifierConfig{
			AsystoleSec:     p.AsystoleAfter.Seconds(),
			BradyBPM:        p.BradyBPM,
			TachyBPM:        p.TachyBPM,
			VTachBPM:        p.VTachBPM,
			WanderWindowSec: p.WanderWindow.Seconds(),
			WanderThreshold: p.WanderThreshold,
			StabilizeSec:    p.Stabilize.Seconds(),
			RetentionSec:    p.FlagRetention.Seconds(),
		},
		Source: SourceConfig{
			SimBPM:   sim.BPM,
			SimNoise: sim.Noise,
			SimSeed:  sim.Seed,
			ADCAddr:  0x48,
		},
		Server: ServerConfig{
			Port:    5000,
			Metrics: true,
		},
		NATS: NATSConfig{
			Subject: "ecg",
		},
	}
}

// Params converts the configuration into pipeline parameters.
func (c *Config) Params() pulseecg.Params {
	return pulseecg.Params{
		SampleRate:   c.Sampling.Rate,
		BufferWindow: seconds(c.Sampling.BufferSec),
		ClipLow:      c.Sampling.ClipLow,
		ClipHigh:     c.Sampling.ClipHigh,
		BackoffMax:   c.Sampling.BackoffMax.Duration(),

		RThreshold:          c.Detector.RThreshold,
		BaselineWindow:      seconds(c.Detector.BaselineWindowSec),
		NoiseWindow:         seconds(c.Detector.NoiseWindowSec),
		NoiseDerivThreshold: c.Detector.NoiseDerivThreshold,
		LowAmplitude:        c.Detector.LowAmplitude,
		MinRR:               seconds(c.Detector.MinRRSec),

		BPMMaxLen:      c.Rhythm.BPMMaxLen,
		RRMaxLen:       c.Rhythm.RRMaxLen,
		RRAvgBeats:     c.Rhythm.AvgBeats,
		PrematureShort: c.Rhythm.PrematureShort,
		PrematureLong:  c.Rhythm.PrematureLong,

		AsystoleAfter:   seconds(c.Classifier.AsystoleSec),
		BradyBPM:        c.Classifier.BradyBPM,
		TachyBPM:        c.Classifier.TachyBPM,
		VTachBPM:        c.Classifier.VTachBPM,
		WanderWindow:    seconds(c.Classifier.WanderWindowSec),
		WanderThreshold: c.Classifier.WanderThreshold,
		Stabilize:       seconds(c.Classifier.StabilizeSec),
		FlagRetention:   seconds(c.Classifier.RetentionSec),
	}
}

// SimulatorConfig returns the simulator waveform at the configured rate.
func (c *Config) SimulatorConfig() pulseecg.SimulatorConfig {
	sim := pulseecg.DefaultSimulatorConfig()
	sim.Rate = c.Sampling.Rate
	sim.BPM = c.Source.SimBPM
	sim.Noise = c.Source.SimNoise
	sim.Seed = c.Source.SimSeed
	return sim
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with values
// from lookup.
func expandEnvVars(s string, lookup func(string) (string, bool)) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// already have an error, skip processing
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := lookup(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads a YAML configuration file and applies ECG_* environment
// overrides. An empty path configures from defaults and the environment
// alone.
func Load(path string) (*Config, error) {
	if path == "" {
		return parse(nil, os.LookupEnv)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data, applies ECG_* environment
// overrides and validates the result.
//
// Environment variables are expanded in the shutdown token and NATS URL.
func Parse(data []byte) (*Config, error) {
	return parse(data, os.LookupEnv)
}

func parse(data []byte, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if len(data) > 0 {
		// keys absent from the file keep their defaults
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.expandAndValidate(lookup); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envVar binds one environment variable to a config field.
type envVar struct {
	name string
	key  string
	set  func(string) error
}

func (c *Config) envVars() []envVar {
	return []envVar{
		{"ECG_LOG_LEVEL", "log_level", stringVar(&c.LogLevel)},
		{"ECG_SAMPLE_RATE", "sampling.rate", intVar(&c.Sampling.Rate)},
		{"ECG_BUFFER_SEC", "sampling.buffer_sec", floatVar(&c.Sampling.BufferSec)},
		{"ECG_CLIP_LOW", "sampling.clip_low", intVar(&c.Sampling.ClipLow)},
		{"ECG_CLIP_HIGH", "sampling.clip_high", intVar(&c.Sampling.ClipHigh)},
		{"ECG_BACKOFF_MAX", "sampling.backoff_max", durationVar(&c.Sampling.BackoffMax)},
		{"ECG_AUTOSTART", "sampling.autostart", boolVar(&c.Sampling.Autostart)},
		{"ECG_R_THRESHOLD", "detector.r_threshold", floatVar(&c.Detector.RThreshold)},
		{"ECG_BASELINE_WINDOW_SEC", "detector.baseline_window_sec", floatVar(&c.Detector.BaselineWindowSec)},
		{"ECG_NOISE_WINDOW_SEC", "detector.noise_window_sec", floatVar(&c.Detector.NoiseWindowSec)},
		{"ECG_NOISE_DERIV_THRESHOLD", "detector.noise_deriv_threshold", intVar(&c.Detector.NoiseDerivThreshold)},
		{"ECG_LOW_AMPLITUDE", "detector.low_amplitude", intVar(&c.Detector.LowAmplitude)},
		{"ECG_MIN_RR_SEC", "detector.min_rr_sec", floatVar(&c.Detector.MinRRSec)},
		{"ECG_BPM_MAXLEN", "rhythm.bpm_maxlen", intVar(&c.Rhythm.BPMMaxLen)},
		{"ECG_RR_MAXLEN", "rhythm.rr_maxlen", intVar(&c.Rhythm.RRMaxLen)},
		{"ECG_RR_AVG_BEATS", "rhythm.avg_beats", intVar(&c.Rhythm.AvgBeats)},
		{"ECG_PREMATURE_SHORT", "rhythm.premature_short", floatVar(&c.Rhythm.PrematureShort)},
		{"ECG_PREMATURE_LONG", "rhythm.premature_long", floatVar(&c.Rhythm.PrematureLong)},
		{"ECG_ASYSTOLE_SEC", "classifier.asystole_sec", floatVar(&c.Classifier.AsystoleSec)},
		{"ECG_BRADY_BPM", "classifier.brady_bpm", floatVar(&c.Classifier.BradyBPM)},
		{"ECG_TACHY_BPM", "classifier.tachy_bpm", floatVar(&c.Classifier.TachyBPM)},
		{"ECG_VTACH_BPM", "classifier.vtach_bpm", floatVar(&c.Classifier.VTachBPM)},
		{"ECG_WANDER_WINDOW_SEC", "classifier.wander_window_sec", floatVar(&c.Classifier.WanderWindowSec)},
		{"ECG_BASELINE_WANDER_THRESHOLD", "classifier.wander_threshold", floatVar(&c.Classifier.WanderThreshold)},
		{"ECG_STABILIZE_SEC", "classifier.stabilize_sec", floatVar(&c.Classifier.StabilizeSec)},
		{"ECG_FLAG_RETENTION_SEC", "classifier.retention_sec", floatVar(&c.Classifier.RetentionSec)},
		{"ECG_SIMULATE", "source.simulate", boolVar(&c.Source.Simulate)},
		{"ECG_SIM_BPM", "source.sim_bpm", floatVar(&c.Source.SimBPM)},
		{"ECG_SIM_NOISE", "source.sim_noise", intVar(&c.Source.SimNoise)},
		{"ECG_SIM_SEED", "source.sim_seed", uint64Var(&c.Source.SimSeed)},
		{"ECG_I2C_BUS", "source.i2c_bus", stringVar(&c.Source.I2CBus)},
		{"ECG_ADC_ADDR", "source.adc_addr", uint16Var(&c.Source.ADCAddr)},
		{"ECG_PORT", "server.port", intVar(&c.Server.Port)},
		{"ECG_SHUTDOWN_TOKEN", "server.shutdown_token", stringVar(&c.Server.ShutdownToken)},
		{"ECG_METRICS", "server.metrics", boolVar(&c.Server.Metrics)},
		{"ECG_NATS_URL", "nats.url", stringVar(&c.NATS.URL)},
		{"ECG_NATS_SUBJECT", "nats.subject", stringVar(&c.NATS.Subject)},
	}
}

// applyEnv overlays every ECG_* variable that is set.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for _, v := range c.envVars() {
		raw, ok := lookup(v.name)
		if !ok {
			continue
		}
		if err := v.set(strings.TrimSpace(raw)); err != nil {
			return fmt.Errorf("%s (%s): invalid value %q: %w", v.name, v.key, raw, err)
		}
	}
	return nil
}

func stringVar(p *string) func(string) error {
	return func(s string) error {
		*p = s
		return nil
	}
}

func intVar(p *int) func(string) error {
	return func(s string) error {
		v, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		*p = v
		return nil
	}
}

func uint16Var(p *uint16) func(string) error {
	return func(s string) error {
		// base 0 accepts 0x48 as well as 72
		v, err := strconv.ParseUint(s, 0, 16)
		if err != nil {
			return err
		}
		*p = uint16(v)
		return nil
	}
}

func uint64Var(p *uint64) func(string) error {
	return func(s string) error {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return err
		}
		*p = v
		return nil
	}
}

func floatVar(p *float64) func(string) error {
	return func(s string) error {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*p = v
		return nil
	}
}

func boolVar(p *bool) func(string) error {
	return func(s string) error {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		*p = v
		return nil
	}
}

func durationVar(p *Duration) func(string) error {
	return func(s string) error {
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*p = Duration(v)
		return nil
	}
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate(lookup func(string) (string, bool)) error {
	expanded, err := expandEnvVars(c.Server.ShutdownToken, lookup)
	if err != nil {
		return fmt.Errorf("server.shutdown_token: %w", err)
	}
	c.Server.ShutdownToken = expanded

	expanded, err = expandEnvVars(c.NATS.URL, lookup)
	if err != nil {
		return fmt.Errorf("nats.url: %w", err)
	}
	c.NATS.URL = expanded

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}

	if c.Sampling.Rate < 1 || c.Sampling.Rate > 10000 {
		return fmt.Errorf("sampling.rate must be between 1 and 10000, got %d", c.Sampling.Rate)
	}
	if c.Sampling.BufferSec <= 0 {
		return fmt.Errorf("sampling.buffer_sec must be positive, got %g", c.Sampling.BufferSec)
	}
	if c.Sampling.ClipLow >= c.Sampling.ClipHigh {
		return fmt.Errorf("sampling.clip_low (%d) must be below sampling.clip_high (%d)",
			c.Sampling.ClipLow, c.Sampling.ClipHigh)
	}
	if c.Sampling.BackoffMax.Duration() <= 0 {
		return fmt.Errorf("sampling.backoff_max must be positive, got %s", c.Sampling.BackoffMax.Duration())
	}

	for _, f := range []struct {
		key string
		v   float64
	}{
		{"detector.r_threshold", c.Detector.RThreshold},
		{"detector.baseline_window_sec", c.Detector.BaselineWindowSec},
		{"detector.noise_window_sec", c.Detector.NoiseWindowSec},
		{"detector.noise_deriv_threshold", float64(c.Detector.NoiseDerivThreshold)},
		{"detector.min_rr_sec", c.Detector.MinRRSec},
		{"rhythm.bpm_maxlen", float64(c.Rhythm.BPMMaxLen)},
		{"rhythm.rr_maxlen", float64(c.Rhythm.RRMaxLen)},
		{"rhythm.avg_beats", float64(c.Rhythm.AvgBeats)},
		{"classifier.asystole_sec", c.Classifier.AsystoleSec},
		{"classifier.brady_bpm", c.Classifier.BradyBPM},
		{"classifier.wander_window_sec", c.Classifier.WanderWindowSec},
		{"classifier.wander_threshold", c.Classifier.WanderThreshold},
		{"source.sim_bpm", c.Source.SimBPM},
	} {
		if f.v <= 0 {
			return fmt.Errorf("%s must be positive, got %g", f.key, f.v)
		}
	}

	if c.Detector.LowAmplitude < 0 {
		return fmt.Errorf("detector.low_amplitude must not be negative, got %d", c.Detector.LowAmplitude)
	}
	if c.Rhythm.AvgBeats > c.Rhythm.RRMaxLen {
		return fmt.Errorf("rhythm.avg_beats (%d) must not exceed rhythm.rr_maxlen (%d)",
			c.Rhythm.AvgBeats, c.Rhythm.RRMaxLen)
	}
	if c.Rhythm.PrematureShort >= 1 || c.Rhythm.PrematureShort <= 0 {
		return fmt.Errorf("rhythm.premature_short must be between 0 and 1, got %g", c.Rhythm.PrematureShort)
	}
	if c.Rhythm.PrematureLong <= 1 {
		return fmt.Errorf("rhythm.premature_long must be greater than 1, got %g", c.Rhythm.PrematureLong)
	}
	if c.Classifier.AsystoleSec <= c.Detector.MinRRSec {
		return fmt.Errorf("classifier.asystole_sec (%g) must exceed detector.min_rr_sec (%g)",
			c.Classifier.AsystoleSec, c.Detector.MinRRSec)
	}
	if c.Classifier.BradyBPM >= c.Classifier.TachyBPM {
		return fmt.Errorf("classifier.brady_bpm (%g) must be below classifier.tachy_bpm (%g)",
			c.Classifier.BradyBPM, c.Classifier.TachyBPM)
	}
	if c.Classifier.TachyBPM >= c.Classifier.VTachBPM {
		return fmt.Errorf("classifier.tachy_bpm (%g) must be below classifier.vtach_bpm (%g)",
			c.Classifier.TachyBPM, c.Classifier.VTachBPM)
	}
	if c.Classifier.StabilizeSec < 0 {
		return fmt.Errorf("classifier.stabilize_sec must not be negative, got %g", c.Classifier.StabilizeSec)
	}
	if c.Classifier.RetentionSec < 0 {
		return fmt.Errorf("classifier.retention_sec must not be negative, got %g", c.Classifier.RetentionSec)
	}

	if c.Source.SimNoise < 0 {
		return fmt.Errorf("source.sim_noise must not be negative, got %d", c.Source.SimNoise)
	}
	if c.Source.ADCAddr == 0 || c.Source.ADCAddr > 0x7f {
		return fmt.Errorf("source.adc_addr must be a 7-bit i2c address, got %#x", c.Source.ADCAddr)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.NATS.URL != "" && c.NATS.Subject == "" {
		return errors.New("nats.subject is required when nats.url is set")
	}

	// catches anything the per-key checks above do not cover
	if err := c.Params().Validate(); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}
