// Package pulseecg provides an embeddable single-lead ECG monitor: it samples
// an analog front end (or a built-in waveform simulator), detects R-peaks,
// derives beat-to-beat heart rate and flags cardiac events in real time.
//
// The monitor is designed SDK-first. A single producer goroutine owns the
// whole pipeline and publishes immutable, versioned snapshots; every reader
// (the HTTP API, the NATS publisher, flag callbacks, your own code) works
// from one snapshot and never blocks sampling.
//
// # Quick Start
//
// Start the monitor on the simulator with graceful shutdown:
//
//	m, _ := pulseecg.New()
//
//	// Set up graceful shutdown on SIGINT/SIGTERM
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	m.Start(ctx) // blocks until ctx is cancelled or an authorized stop
//
// # Configuration
//
// Monitor uses the functional options pattern for configuration:
//
//	p := pulseecg.DefaultParams()
//	p.TachyBPM = 110
//
//	m, err := pulseecg.New(
//	    pulseecg.WithHardware("", 0x48),
//	    pulseecg.WithParams(p),
//	    pulseecg.WithPort(8080),
//	    pulseecg.WithShutdownToken(os.Getenv("ECG_SHUTDOWN_TOKEN")),
//	    pulseecg.WithNATS("nats://127.0.0.1:4222", "ecg.bed7"),
//	    pulseecg.WithMetrics(prometheus.NewRegistry()),
//	)
//
// # Events
//
// The classifier maintains one open flag per [EventKind]:
//
//   - [Asystole]: no R-peak for longer than the asystole threshold
//   - [Bradycardia], [Tachycardia]: heart rate outside the configured band
//   - [VTachSuspected]: heart rate above the ventricular tachycardia bound
//   - [Premature]: one RR interval far shorter or longer than its neighbours
//   - [Noise]: steep sample-to-sample jumps that make detection unreliable
//   - [BaselineWander]: slow drift of the baseline beyond a threshold
//
// Register [WithFlagCallback] to react to onsets and offsets, or read
// [Monitor.ActiveFlags] and [Monitor.EventWindows] at any time.
//
// # Architecture
//
// The monitor consists of several internal packages (under internal/):
//
//   - internal/source: ADS1115 driver and waveform simulator
//   - internal/detector, internal/rhythm, internal/classifier: the pipeline stages
//   - internal/acquisition: the producer loop that runs the stages per sample
//   - internal/store: snapshot store with pub/sub for real-time readers
//   - internal/server: HTTP API with REST, Server-Sent Events and WebSocket
//   - internal/publish: NATS publisher for heart rate and flag transitions
//   - internal/report: CSV and zip export of the buffered recording
//
// The internal packages are not part of the public API and may change
// without notice.
package pulseecg
