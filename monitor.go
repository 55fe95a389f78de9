package pulseecg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wernerhzigby/pulse-ecg-monitor/internal/acquisition"
	"github.com/wernerhzigby/pulse-ecg-monitor/internal/metrics"
	"github.com/wernerhzigby/pulse-ecg-monitor/internal/publish"
	"github.com/wernerhzigby/pulse-ecg-monitor/internal/server"
	"github.com/wernerhzigby/pulse-ecg-monitor/internal/source"
	"github.com/wernerhzigby/pulse-ecg-monitor/internal/store"
)

const defaultPort = 5000

var (
	// ErrStopDisabled is returned by [Monitor.RequestStop] when no shutdown
	// token is configured.
	ErrStopDisabled = acquisition.ErrStopDisabled

	// ErrUnauthorized is returned by [Monitor.RequestStop] for a wrong token.
	ErrUnauthorized = acquisition.ErrUnauthorized

	// ErrAlreadyStopped is returned by control operations once acquisition
	// has stopped. A stopped monitor cannot be restarted.
	ErrAlreadyStopped = acquisition.ErrStopped

	// ErrNotRunning is returned by [Monitor.StartSampling] before
	// [Monitor.Start] has been called.
	ErrNotRunning = errors.New("monitor is not running")
)

// Monitor is the main orchestrator: it owns the acquisition loop, the
// snapshot store and the outer surfaces (HTTP API, NATS publisher, flag
// callbacks) that read from it.
//
// Monitor is created using [New] with functional options and run with
// [Monitor.Start]. Exactly one goroutine, the acquisition producer, ever
// writes pipeline state; every read method returns data from one immutable
// snapshot and never blocks it.
//
// The typical lifecycle is:
//
//	m, err := pulseecg.New(pulseecg.WithShutdownToken(token))
//	if err != nil {
//	    slog.Error("failed to create monitor", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	m.Start(ctx) // blocks until ctx is cancelled or a stop is authorized
type Monitor struct {
	params        Params
	port          int
	httpEnabled   bool
	autostart     bool
	logger        *slog.Logger
	store         *store.SnapshotStore
	loop          *acquisition.Loop
	guard         acquisition.StopGuard
	natsURL       string
	natsConn      NATSConn
	natsSubject   string
	flagCallbacks []func(FlagChange)
	metrics       http.Handler

	mu      sync.Mutex
	started bool
	runCtx  context.Context

	// serializes authorized stops so exactly one caller succeeds
	stopMu sync.Mutex
}

// New creates a new [Monitor] with the given options.
//
// New validates the configuration, opens the sample source and publishes an
// initial idle snapshot, so the read methods work before [Monitor.Start].
// Defaults:
//   - Source: the built-in simulator at the configured sample rate
//   - Port: 5000, HTTP API enabled
//   - Autostart: on
//   - Stop: disabled (no shutdown token)
//
// The source is released when Start returns.
func New(opts ...Option) (*Monitor, error) {
	cfg := &monitorConfig{
		params:      DefaultParams(),
		port:        defaultPort,
		httpEnabled: true,
		autostart:   true,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	// default to slog.Default() if no logger provided
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	proc, err := acquisition.NewProcessor(cfg.params)
	if err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	var (
		rec            acquisition.Recorder
		metricsHandler http.Handler
	)
	if cfg.registerer != nil {
		r, err := metrics.New(cfg.registerer)
		if err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		rec = r

		gatherer, ok := cfg.registerer.(prometheus.Gatherer)
		if !ok {
			gatherer = prometheus.DefaultGatherer
		}
		metricsHandler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}

	src := openSource(cfg, logger)
	st := store.NewSnapshotStore(proc.SessionID())

	loop, err := acquisition.NewLoop(acquisition.LoopConfig{
		Source:    src,
		Processor: proc,
		Publisher: st,
		Logger:    logger,
		Recorder:  rec,
	})
	if err != nil {
		_ = src.Close()
		return nil, err
	}

	return &Monitor{
		params:        cfg.params,
		port:          cfg.port,
		httpEnabled:   cfg.httpEnabled,
		autostart:     cfg.autostart,
		logger:        logger,
		store:         st,
		loop:          loop,
		guard:         acquisition.NewStopGuard(cfg.shutdownToken),
		natsURL:       cfg.natsURL,
		natsConn:      cfg.natsConn,
		natsSubject:   cfg.natsSubject,
		flagCallbacks: cfg.flagCallbacks,
		metrics:       metricsHandler,
	}, nil
}

// openSource picks the configured source. Hardware that cannot be opened is
// replaced by the simulator.
func openSource(cfg *monitorConfig, logger *slog.Logger) Source {
	if cfg.source != nil {
		return cfg.source
	}

	sim := DefaultSimulatorConfig()
	if cfg.simulator != nil {
		sim = *cfg.simulator
	}
	if sim.Rate == 0 {
		sim.Rate = cfg.params.SampleRate
	}

	if cfg.hardware != nil {
		adc, err := source.OpenADS1115(cfg.hardware.bus, cfg.hardware.addr)
		if err == nil {
			return adc
		}
		logger.Warn("hardware unavailable, falling back to simulator",
			"bus", cfg.hardware.bus,
			"addr", fmt.Sprintf("%#x", cfg.hardware.addr),
			"error", err,
		)
	}

	return source.NewSimulator(sim)
}

// Start runs the monitor.
//
// Start is a blocking call that runs until the provided context is cancelled
// or an authorized [Monitor.RequestStop] halts acquisition. During execution:
//
//   - Sampling starts immediately unless autostart is off
//   - The HTTP API listens on the configured port (unless disabled)
//   - Flag callbacks and the NATS publisher follow the snapshot store
//
// When Start returns, acquisition is stopped, the source is released and the
// final snapshot reads state stopped. A Monitor can only be started once.
//
// Returns nil on graceful shutdown. Returns an error if the HTTP server or the
// NATS connection fails to start.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.New("monitor already started")
	}
	m.started = true
	m.mu.Unlock()

	info := m.loop.Info()
	m.logger.Info("ecg monitor starting",
		"source", info.Name,
		"simulating", info.Simulating,
		"sample_rate", m.params.SampleRate,
		"autostart", m.autostart,
		"stop_enabled", m.guard.Enabled(),
	)

	// check if context already cancelled
	if ctx.Err() != nil {
		m.shutdown()
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	// subscribe before anything can be published so no flag change is missed
	var flags <-chan *Snapshot
	if len(m.flagCallbacks) > 0 {
		flags = m.store.Subscribe()
		prev := m.store.Latest()
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.dispatchFlags(prev, flags)
		}()
	}

	// cleanup stops acquisition, lets the flag consumer drain and waits for
	// every background goroutine
	cleanup := func() {
		m.shutdown()
		if flags != nil {
			m.store.Unsubscribe(flags)
		}
		cancel()
		wg.Wait()
	}

	if m.natsURL != "" || m.natsConn != nil {
		conn := m.natsConn
		if conn == nil {
			nc, err := publish.Connect(m.natsURL)
			if err != nil {
				cleanup()
				return fmt.Errorf("failed to connect to nats: %w", err)
			}
			defer func() {
				if err := nc.Drain(); err != nil {
					m.logger.Warn("nats drain failed", "error", err)
				}
			}()
			conn = nc
		}
		pub := publish.New(conn, m.natsSubject, m.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			pub.Run(ctx, m.store)
		}()
		m.logger.Info("nats publishing enabled", "subject", m.natsSubject)
	}

	if m.httpEnabled {
		httpServer := server.NewServer(m.store, m, m.port, m.metrics, m.logger)
		if err := httpServer.Start(ctx); err != nil {
			cleanup()
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		m.logger.Info("http api available", "url", fmt.Sprintf("http://localhost:%d", m.port))
	}

	m.mu.Lock()
	m.runCtx = ctx
	m.mu.Unlock()

	if m.autostart {
		m.loop.Start(ctx)
	}

	select {
	case <-ctx.Done():
	case <-m.loop.Done():
	}

	cleanup()
	m.logger.Info("ecg monitor stopped")
	return nil
}

// shutdown stops acquisition if it is still running.
func (m *Monitor) shutdown() {
	if err := m.loop.Stop(); err != nil {
		m.logger.Warn("failed to release source", "error", err)
	}
}

// StartSampling begins acquisition when the monitor was created with
// autostart off. It is a no-op if sampling already runs.
//
// Returns [ErrNotRunning] before [Monitor.Start] and [ErrAlreadyStopped]
// once acquisition has stopped.
func (m *Monitor) StartSampling() error {
	if m.loop.Stopped() {
		return ErrAlreadyStopped
	}

	m.mu.Lock()
	ctx := m.runCtx
	m.mu.Unlock()
	if ctx == nil {
		return ErrNotRunning
	}

	m.loop.Start(ctx)
	return nil
}

// RequestStop halts acquisition between two ticks, releases the source and
// publishes a final snapshot with state stopped. [Monitor.Start] returns
// once the stop has completed.
//
// The request must carry the configured shutdown token. Without a
// configured token stop is disabled and every request fails with
// [ErrStopDisabled]; a wrong token fails with [ErrUnauthorized] and leaves
// acquisition untouched. A second authorized request returns
// [ErrAlreadyStopped].
func (m *Monitor) RequestStop(token string) error {
	if err := m.guard.Check(token); err != nil {
		return err
	}

	m.stopMu.Lock()
	defer m.stopMu.Unlock()

	if m.loop.Stopped() {
		return ErrAlreadyStopped
	}
	m.logger.Info("authorized stop requested")
	m.shutdown()
	return nil
}

// Reset clears the buffer, histories, flags and counts and starts a new
// session. While sampling, the producer applies the reset between two ticks
// and Reset waits for it.
func (m *Monitor) Reset(ctx context.Context) error {
	return m.loop.Reset(ctx)
}

// Latest returns the most recently published snapshot. It never returns nil.
func (m *Monitor) Latest() *Snapshot {
	return m.store.Latest()
}

// LatestWindow returns the buffered samples, oldest first.
func (m *Monitor) LatestWindow() []Sample {
	return m.store.Latest().Window.Items()
}

// BPMHistory returns the retained BPM samples, oldest first.
func (m *Monitor) BPMHistory() []BPMSample {
	return m.store.Latest().BPMHistory.Items()
}

// ActiveFlags returns the currently open event flags.
func (m *Monitor) ActiveFlags() []EventFlag {
	return slices.Clone(m.store.Latest().ActiveFlags)
}

// Status reports the state of the sample source.
func (m *Monitor) Status() SourceStatus {
	return m.store.Latest().Status
}

// EventWindows returns every retained closed flag together with the samples
// buffered between its onset and offset.
func (m *Monitor) EventWindows() []EventWindow {
	return m.store.Latest().EventWindows()
}

// Port returns the configured HTTP port.
func (m *Monitor) Port() int {
	return m.port
}

// Params returns the pipeline parameters.
func (m *Monitor) Params() Params {
	return m.params
}

var _ server.Controller = (*Monitor)(nil)
