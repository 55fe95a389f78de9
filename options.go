package pulseecg

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// monitorConfig holds mutable state during Monitor construction.
type monitorConfig struct {
	params        Params
	port          int
	httpEnabled   bool
	logger        *slog.Logger
	source        Source
	simulator     *SimulatorConfig
	hardware      *hardwareConfig
	shutdownToken string
	autostart     bool
	natsURL       string
	natsConn      NATSConn
	natsSubject   string
	flagCallbacks []func(FlagChange)
	registerer    prometheus.Registerer
}

type hardwareConfig struct {
	bus  string
	addr uint16
}

// Option is a function that configures a [Monitor] instance during
// construction.
//
// Option implements the functional options pattern, allowing optional
// configuration to be passed to [New] in a type-safe, extensible way.
// Options return an error if validation fails.
type Option func(*monitorConfig) error

// WithParams replaces the pipeline parameters.
//
// Start from [DefaultParams] and change what you need:
//
//	p := pulseecg.DefaultParams()
//	p.TachyBPM = 110
//	m, err := pulseecg.New(pulseecg.WithParams(p))
//
// Returns an error if the parameters are invalid; nothing is silently
// defaulted.
func WithParams(p Params) Option {
	return func(cfg *monitorConfig) error {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("invalid params: %w", err)
		}
		cfg.params = p
		return nil
	}
}

// WithPort sets the HTTP port. Defaults to 5000.
//
// Returns an error if the port is outside the valid range (1-65535).
func WithPort(port int) Option {
	return func(cfg *monitorConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithHTTP enables or disables the HTTP API. It is enabled by default.
func WithHTTP(enabled bool) Option {
	return func(cfg *monitorConfig) error {
		cfg.httpEnabled = enabled
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the Monitor instance.
//
// If not specified, [slog.Default] is used. Returns an error if the logger
// is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *monitorConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithSimulator reads from the built-in waveform simulator. This is the
// default source; use it to shape the waveform or inject episodes.
// A zero Rate follows the configured sample rate.
func WithSimulator(sim SimulatorConfig) Option {
	return func(cfg *monitorConfig) error {
		cfg.simulator = &sim
		cfg.hardware = nil
		cfg.source = nil
		return nil
	}
}

// WithHardware reads from an ADS1115 converter at addr on the named I²C bus
// ("" picks the first bus). If the device cannot be opened, [New] logs the
// failure and falls back to the simulator, reporting simulating=true and
// hardware_ok=false. The fallback uses the waveform of an earlier
// [WithSimulator], if any.
func WithHardware(bus string, addr uint16) Option {
	return func(cfg *monitorConfig) error {
		if addr == 0 || addr > 0x7f {
			return fmt.Errorf("invalid i2c address %#x", addr)
		}
		cfg.hardware = &hardwareConfig{bus: bus, addr: addr}
		cfg.source = nil
		return nil
	}
}

// WithSource reads from a caller-supplied [Source]. The monitor takes
// ownership and closes it on stop.
func WithSource(src Source) Option {
	return func(cfg *monitorConfig) error {
		if src == nil {
			return errors.New("source cannot be nil")
		}
		cfg.source = src
		cfg.simulator = nil
		cfg.hardware = nil
		return nil
	}
}

// WithShutdownToken enables [Monitor.RequestStop] for callers presenting
// token. Without a token the stop operation is disabled entirely.
func WithShutdownToken(token string) Option {
	return func(cfg *monitorConfig) error {
		cfg.shutdownToken = token
		return nil
	}
}

// WithAutostart controls whether sampling begins as soon as [Monitor.Start]
// runs. Defaults to true; when false, sampling waits for
// [Monitor.StartSampling].
func WithAutostart(enabled bool) Option {
	return func(cfg *monitorConfig) error {
		cfg.autostart = enabled
		return nil
	}
}

// WithNATS publishes BPM samples to <subject>.bpm and flag transitions to
// <subject>.events on the NATS server at url. The connection is made by
// [Monitor.Start].
func WithNATS(url, subject string) Option {
	return func(cfg *monitorConfig) error {
		if url == "" {
			return errors.New("nats url cannot be empty")
		}
		if subject == "" {
			return errors.New("nats subject cannot be empty")
		}
		cfg.natsURL = url
		cfg.natsConn = nil
		cfg.natsSubject = subject
		return nil
	}
}

// WithNATSConn publishes like [WithNATS] over an existing connection. The
// caller keeps ownership of conn.
func WithNATSConn(conn NATSConn, subject string) Option {
	return func(cfg *monitorConfig) error {
		if conn == nil {
			return errors.New("nats connection cannot be nil")
		}
		if subject == "" {
			return errors.New("nats subject cannot be empty")
		}
		cfg.natsConn = conn
		cfg.natsURL = ""
		cfg.natsSubject = subject
		return nil
	}
}

// WithFlagCallback registers a function to be called whenever an event flag
// opens or closes.
//
// Multiple callbacks may be registered by calling WithFlagCallback multiple
// times; they execute in registration order.
//
// Callbacks run on a single consumer goroutine, never on the acquisition
// producer, so a slow callback cannot delay sampling. It only delays the
// delivery of later changes. Panics within callbacks are recovered and
// logged with a correlation ID.
//
// Example:
//
//	m, err := pulseecg.New(
//	    pulseecg.WithFlagCallback(func(c pulseecg.FlagChange) {
//	        if c.Opened && c.Flag.Kind == pulseecg.Asystole {
//	            page(c.Flag)
//	        }
//	    }),
//	)
//
// Nil callbacks are silently ignored.
func WithFlagCallback(cb func(FlagChange)) Option {
	return func(cfg *monitorConfig) error {
		if cb == nil {
			return nil // no-op for nil callback (safe to call)
		}
		cfg.flagCallbacks = append(cfg.flagCallbacks, cb)
		return nil
	}
}

// WithMetrics registers pipeline metrics with reg and serves them at
// /metrics. If reg is also a [prometheus.Gatherer] (a *prometheus.Registry
// is both) it is the one served; otherwise the default gatherer is.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(cfg *monitorConfig) error {
		if reg == nil {
			return errors.New("metrics registerer cannot be nil")
		}
		cfg.registerer = reg
		return nil
	}
}
