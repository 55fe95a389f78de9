package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pulseecg "github.com/wernerhzigby/pulse-ecg-monitor"
)

// env returns a lookup over a fixed set of variables, so tests do not
// depend on the process environment.
func env(vars map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := parse(nil, env(nil))
	if err != nil {
		t.Fatalf("parse() error = %v", err)
	}

	// check defaults applied
	if cfg.Params() != pulseecg.DefaultParams() {
		t.Errorf("Params() = %+v, want defaults", cfg.Params())
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if !cfg.Sampling.Autostart || !cfg.Server.Metrics {
		t.Error("autostart and metrics should default to true")
	}
	if cfg.Source.Simulate {
		t.Error("source.simulate should default to false")
	}
	if cfg.Source.ADCAddr != 0x48 {
		t.Errorf("Source.ADCAddr = %#x, want 0x48", cfg.Source.ADCAddr)
	}
	if cfg.NATS.URL != "" || cfg.NATS.Subject != "ecg" {
		t.Errorf("NATS = %+v, want disabled with subject ecg", cfg.NATS)
	}
	if cfg.Server.ShutdownToken != "" {
		t.Error("stop should be disabled by default")
	}
}

func TestParse_FullConfig(t *testing.T) {
	yaml := `
log_level: debug
sampling:
  rate: 500
  buffer_sec: 60
  backoff_max: 2s
  autostart: false
detector:
  r_threshold: 3500
  min_rr_sec: 0.3
rhythm:
  avg_beats: 4
classifier:
  asystole_sec: 4
  tachy_bpm: 110
  vtach_bpm: 170
source:
  simulate: true
  sim_bpm: 90
  i2c_bus: /dev/i2c-1
  adc_addr: 0x49
server:
  port: 8080
  shutdown_token: s3cret
  metrics: false
nats:
  url: nats://127.0.0.1:4222
  subject: ward.bed7
`
	cfg, err := parse([]byte(yaml), env(nil))
	if err != nil {
		t.Fatalf("parse() error = %v", err)
	}

	p := cfg.Params()
	if p.SampleRate != 500 || p.BufferWindow != time.Minute || p.BackoffMax != 2*time.Second {
		t.Errorf("sampling params = %d, %v, %v", p.SampleRate, p.BufferWindow, p.BackoffMax)
	}
	if p.RThreshold != 3500 || p.MinRR != 300*time.Millisecond {
		t.Errorf("detector params = %v, %v", p.RThreshold, p.MinRR)
	}
	if p.RRAvgBeats != 4 {
		t.Errorf("RRAvgBeats = %d, want 4", p.RRAvgBeats)
	}
	if p.AsystoleAfter != 4*time.Second || p.TachyBPM != 110 || p.VTachBPM != 170 {
		t.Errorf("classifier params = %v, %v, %v", p.AsystoleAfter, p.TachyBPM, p.VTachBPM)
	}
	// untouched keys keep their defaults
	if p.BradyBPM != 50 || p.RRMaxLen != 60 {
		t.Errorf("defaults lost: BradyBPM = %v, RRMaxLen = %d", p.BradyBPM, p.RRMaxLen)
	}

	if cfg.LogLevel != "debug" || cfg.Sampling.Autostart {
		t.Errorf("LogLevel = %q, Autostart = %v", cfg.LogLevel, cfg.Sampling.Autostart)
	}
	if !cfg.Source.Simulate || cfg.Source.SimBPM != 90 || cfg.Source.I2CBus != "/dev/i2c-1" || cfg.Source.ADCAddr != 0x49 {
		t.Errorf("Source = %+v", cfg.Source)
	}
	if cfg.Server.Port != 8080 || cfg.Server.ShutdownToken != "s3cret" || cfg.Server.Metrics {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.NATS.URL != "nats://127.0.0.1:4222" || cfg.NATS.Subject != "ward.bed7" {
		t.Errorf("NATS = %+v", cfg.NATS)
	}

	sim := cfg.SimulatorConfig()
	if sim.Rate != 500 || sim.BPM != 90 {
		t.Errorf("SimulatorConfig() = %+v, want rate 500 and 90 bpm", sim)
	}
}

func TestParse_EnvOverrides(t *testing.T) {
	yaml := `
sampling:
  rate: 500
classifier:
  tachy_bpm: 110
`
	cfg, err := parse([]byte(yaml), env(map[string]string{
		"ECG_SAMPLE_RATE":    "1000",
		"ECG_BRADY_BPM":      " 40 ",
		"ECG_ASYSTOLE_SEC":   "2.5",
		"ECG_SIMULATE":       "true",
		"ECG_ADC_ADDR":       "0x4a",
		"ECG_SIM_SEED":       "42",
		"ECG_BACKOFF_MAX":    "250ms",
		"ECG_PORT":           "9000",
		"ECG_SHUTDOWN_TOKEN": "tok",
		"ECG_NATS_URL":       "nats://nats:4222",
	}))
	if err != nil {
		t.Fatalf("parse() error = %v", err)
	}

	if cfg.Sampling.Rate != 1000 {
		t.Errorf("Sampling.Rate = %d, want the environment to win over YAML", cfg.Sampling.Rate)
	}
	if cfg.Classifier.TachyBPM != 110 {
		t.Errorf("Classifier.TachyBPM = %v, want YAML value 110", cfg.Classifier.TachyBPM)
	}
	if cfg.Classifier.BradyBPM != 40 || cfg.Classifier.AsystoleSec != 2.5 {
		t.Errorf("Classifier = %+v", cfg.Classifier)
	}
	if !cfg.Source.Simulate || cfg.Source.ADCAddr != 0x4a || cfg.Source.SimSeed != 42 {
		t.Errorf("Source = %+v", cfg.Source)
	}
	if cfg.Sampling.BackoffMax.Duration() != 250*time.Millisecond {
		t.Errorf("Sampling.BackoffMax = %v, want 250ms", cfg.Sampling.BackoffMax.Duration())
	}
	if cfg.Server.Port != 9000 || cfg.Server.ShutdownToken != "tok" {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.NATS.URL != "nats://nats:4222" {
		t.Errorf("NATS.URL = %q", cfg.NATS.URL)
	}
}

func TestParse_EnvInvalid(t *testing.T) {
	tests := []struct {
		name        string
		vars        map[string]string
		wantErrLike string
	}{
		{"not a number", map[string]string{"ECG_SAMPLE_RATE": "fast"}, "ECG_SAMPLE_RATE (sampling.rate)"},
		{"not a float", map[string]string{"ECG_TACHY_BPM": "1o0"}, "ECG_TACHY_BPM (classifier.tachy_bpm)"},
		{"not a bool", map[string]string{"ECG_SIMULATE": "maybe"}, "ECG_SIMULATE (source.simulate)"},
		{"not a duration", map[string]string{"ECG_BACKOFF_MAX": "1"}, "ECG_BACKOFF_MAX"},
		{"address overflow", map[string]string{"ECG_ADC_ADDR": "0x1ffff"}, "ECG_ADC_ADDR"},
		{"empty value", map[string]string{"ECG_PORT": ""}, "ECG_PORT (server.port)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(nil, env(tt.vars))
			if err == nil {
				t.Fatal("parse() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErrLike) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.wantErrLike)
			}
		})
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name        string
		yaml        string
		wantErrLike string
	}{
		{"log level", `log_level: loud`, "log_level"},
		{"zero rate", "sampling:\n  rate: 0", "sampling.rate"},
		{"rate too high", "sampling:\n  rate: 20000", "sampling.rate"},
		{"negative buffer", "sampling:\n  buffer_sec: -1", "sampling.buffer_sec"},
		{"clip inverted", "sampling:\n  clip_low: 100\n  clip_high: 100", "sampling.clip_low"},
		{"zero backoff", "sampling:\n  backoff_max: 0s", "sampling.backoff_max"},
		{"zero threshold", "detector:\n  r_threshold: 0", "detector.r_threshold"},
		{"negative low amplitude", "detector:\n  low_amplitude: -1", "detector.low_amplitude"},
		{"zero min rr", "detector:\n  min_rr_sec: 0", "detector.min_rr_sec"},
		{"avg beats above history", "rhythm:\n  avg_beats: 100", "rhythm.avg_beats"},
		{"premature short", "rhythm:\n  premature_short: 1.2", "rhythm.premature_short"},
		{"premature long", "rhythm:\n  premature_long: 0.9", "rhythm.premature_long"},
		{"asystole below min rr", "classifier:\n  asystole_sec: 0.2", "classifier.asystole_sec"},
		{"brady above tachy", "classifier:\n  brady_bpm: 120", "classifier.brady_bpm"},
		{"tachy above vtach", "classifier:\n  tachy_bpm: 160", "classifier.tachy_bpm"},
		{"negative stabilize", "classifier:\n  stabilize_sec: -1", "classifier.stabilize_sec"},
		{"zero wander threshold", "classifier:\n  wander_threshold: 0", "classifier.wander_threshold"},
		{"zero sim bpm", "source:\n  sim_bpm: 0", "source.sim_bpm"},
		{"adc addr", "source:\n  adc_addr: 0x80", "source.adc_addr"},
		{"port", "server:\n  port: 70000", "server.port"},
		{"nats without subject", "nats:\n  url: nats://x:4222\n  subject: \"\"", "nats.subject"},
		{"buffer smaller than one sample", "sampling:\n  rate: 1\n  buffer_sec: 0.5", "buffer window holds no samples"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse([]byte(tt.yaml), env(nil))
			if err == nil {
				t.Fatal("parse() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErrLike) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.wantErrLike)
			}
		})
	}
}

func TestParse_EnvVarSubstitution(t *testing.T) {
	yaml := `
server:
  shutdown_token: ${TOKEN}
nats:
  url: nats://${NATS_HOST:-localhost}:4222
`
	cfg, err := parse([]byte(yaml), env(map[string]string{"TOKEN": "secret123"}))
	if err != nil {
		t.Fatalf("parse() error = %v", err)
	}

	if cfg.Server.ShutdownToken != "secret123" {
		t.Errorf("ShutdownToken = %q, want secret123", cfg.Server.ShutdownToken)
	}
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("NATS.URL = %q, want nats://localhost:4222", cfg.NATS.URL)
	}
}

func TestParse_EnvVarMissing(t *testing.T) {
	yaml := `
server:
  shutdown_token: ${MISSING_VAR}
`
	_, err := parse([]byte(yaml), env(nil))
	if err == nil {
		t.Fatal("parse() expected error for missing env var, got nil")
	}
	if !strings.Contains(err.Error(), "MISSING_VAR") || !strings.Contains(err.Error(), "server.shutdown_token") {
		t.Errorf("error should mention MISSING_VAR and the key: %v", err)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := parse([]byte("sampling: [not, a, map]"), env(nil))
	if err == nil {
		t.Fatal("parse() expected error for invalid YAML, got nil")
	}
	if !strings.Contains(err.Error(), "failed to parse YAML") {
		t.Errorf("error = %v, want YAML parse error", err)
	}
}

func TestParse_InvalidDuration(t *testing.T) {
	_, err := parse([]byte("sampling:\n  backoff_max: soon"), env(nil))
	if err == nil {
		t.Fatal("parse() expected error for invalid duration, got nil")
	}
	if !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("error = %v, want invalid duration", err)
	}
}

func TestParse_ReadsProcessEnvironment(t *testing.T) {
	// t.Setenv auto-restores after test
	t.Setenv("ECG_TACHY_BPM", "120")

	cfg, err := Parse([]byte("classifier:\n  brady_bpm: 45"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Classifier.TachyBPM != 120 || cfg.Classifier.BradyBPM != 45 {
		t.Errorf("Classifier = %+v, want tachy 120 from env and brady 45 from YAML", cfg.Classifier)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ecg.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 6001\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 6001 {
		t.Errorf("Server.Port = %d, want 6001", cfg.Server.Port)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("ECG_PORT", "6002")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 6002 {
		t.Errorf("Server.Port = %d, want 6002", cfg.Server.Port)
	}
}

func TestDuration_UnmarshalYAML(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"1s", time.Second, false},
		{"500ms", 500 * time.Millisecond, false},
		{"1m30s", 90 * time.Second, false},
		{"ten", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			cfg, err := parse([]byte("sampling:\n  backoff_max: "+tt.input), env(nil))
			if tt.wantErr {
				if err == nil {
					t.Fatal("parse() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("parse() error = %v", err)
			}
			if got := cfg.Sampling.BackoffMax.Duration(); got != tt.want {
				t.Errorf("BackoffMax = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	lookup := env(map[string]string{"TEST_VAR": "value", "EMPTY_VAR": ""})

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"no vars", "plain text", "plain text", false},
		{"simple var", "${TEST_VAR}", "value", false},
		{"var in text", "prefix ${TEST_VAR} suffix", "prefix value suffix", false},
		{"multiple vars", "${TEST_VAR}-${TEST_VAR}", "value-value", false},
		{"with default (var set)", "${TEST_VAR:-default}", "value", false},
		{"with default (var unset)", "${UNSET:-default}", "default", false},
		{"missing required", "${MISSING}", "", true},
		{"empty default (var unset)", "${UNSET:-}", "", false},
		{"set but empty var", "${EMPTY_VAR}", "", false},
		{"set but empty with default", "${EMPTY_VAR:-fallback}", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := expandEnvVars(tt.input, lookup)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expandEnvVars() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("expandEnvVars() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("expandEnvVars() = %q, want %q", got, tt.want)
			}
		})
	}
}
