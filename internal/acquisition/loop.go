package acquisition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/wernerhzigby/pulse-ecg-monitor/internal/ecg"
	"github.com/wernerhzigby/pulse-ecg-monitor/internal/source"
)

// ErrStopped is returned by operations that need a producer after the loop
// has been stopped.
var ErrStopped = errors.New("acquisition loop stopped")

// initialBackoff is the first wait after a source fault.
const initialBackoff = 10 * time.Millisecond

// Publisher receives every snapshot the loop builds.
type Publisher interface {
	Publish(snap *ecg.Snapshot)
}

// LoopConfig wires a [Loop] to its collaborators.
type LoopConfig struct {
	Source    source.Source
	Processor *Processor
	Publisher Publisher

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Recorder defaults to [NopRecorder].
	Recorder Recorder

	// Period overrides the tick period derived from the sample rate.
	Period time.Duration
}

// Loop is the single producer of the pipeline. On every tick it pulls one
// sample from the source, runs it through the [Processor] and publishes a
// fresh snapshot. Source faults are retried in place with bounded
// exponential backoff while the published status reads degraded; nothing is
// appended to the buffer until a read succeeds again.
//
// All lifecycle methods (Start, Stop, Reset) are safe for concurrent use.
type Loop struct {
	src    source.Source
	proc   *Processor
	pub    Publisher
	logger *slog.Logger
	rec    Recorder
	period time.Duration
	info   source.Info

	resets chan chan struct{}
	exited chan struct{}
	done   chan struct{}

	mu        sync.Mutex
	started   bool
	stopped   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error

	// owned by the producer goroutine once started
	state     ecg.SourceState
	faults    uint64
	lastFault string
	backoff   *backoff.ExponentialBackOff
}

// NewLoop creates a loop and publishes its initial idle snapshot. The loop
// must be started with [Loop.Start] and stopped with [Loop.Stop].
func NewLoop(cfg LoopConfig) (*Loop, error) {
	if cfg.Source == nil {
		return nil, errors.New("acquisition: source is required")
	}
	if cfg.Processor == nil {
		return nil, errors.New("acquisition: processor is required")
	}
	if cfg.Publisher == nil {
		return nil, errors.New("acquisition: publisher is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = NopRecorder{}
	}
	params := cfg.Processor.Params()
	if cfg.Period <= 0 {
		cfg.Period = params.Period()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialBackoff
	bo.MaxInterval = params.BackoffMax
	bo.MaxElapsedTime = 0
	bo.Reset()

	l := &Loop{
		src:     cfg.Source,
		proc:    cfg.Processor,
		pub:     cfg.Publisher,
		logger:  cfg.Logger,
		rec:     cfg.Recorder,
		period:  cfg.Period,
		info:    cfg.Source.Info(),
		resets:  make(chan chan struct{}),
		exited:  make(chan struct{}),
		done:    make(chan struct{}),
		state:   ecg.StateIdle,
		backoff: bo,
	}
	l.publish()
	return l, nil
}

// Start begins sampling in a background goroutine.
//
// Start is idempotent; subsequent calls after the first are no-ops. If Stop
// was called before Start, Start is a no-op. If ctx is nil,
// context.Background() is used.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.started || l.stopped {
		l.mu.Unlock()
		return
	}
	l.started = true

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)
	l.mu.Unlock()

	l.logger.Info("acquisition started",
		"source", l.info.Name,
		"simulating", l.info.Simulating,
		"rate", l.proc.Params().SampleRate,
	)

	go l.run(ctx)
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()
	defer close(l.exited)

	l.state = ecg.StateRunning
	l.publish()

	ticker := time.NewTicker(l.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case done := <-l.resets:
			l.proc.Reset()
			l.publish()
			close(done)
			l.logger.Info("pipeline reset", "session_id", l.proc.SessionID())
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// tick performs one read-process-publish cycle.
func (l *Loop) tick(ctx context.Context) {
	started := time.Now()

	sample, err := l.src.Next(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		l.fault(ctx, err)
		return
	}

	if l.state == ecg.StateDegraded {
		l.logger.Info("sample source recovered", "faults", l.faults)
		l.backoff.Reset()
	}
	l.state = ecg.StateRunning

	step, ok := l.proc.Process(sample)
	if !ok {
		l.logger.Debug("dropped out-of-order sample", "ts", sample.Timestamp)
		return
	}

	l.rec.SampleProcessed()
	if step.Detection.Peak != nil {
		l.rec.PeakDetected()
	}
	if step.Beat != nil && step.Beat.Pause {
		l.logger.Debug("pause candidate", "rr", step.Beat.RR.Duration, "avg_rr", step.Beat.AvgRR)
	}
	for _, ch := range step.Changes {
		l.logChange(ch.Flag, ch.Opened)
		if ch.Opened {
			l.rec.FlagOpened(ch.Flag.Kind)
		}
	}

	l.publish()
	l.rec.TickDuration(time.Since(started))
}

// fault marks the source degraded, publishes the unchanged window with the
// new status and waits out the next backoff interval.
func (l *Loop) fault(ctx context.Context, err error) {
	l.faults++
	l.lastFault = err.Error()
	l.rec.SourceFault()

	if l.state != ecg.StateDegraded {
		l.logger.Warn("sample source degraded",
			"error", err,
			"transient", source.IsTransient(err),
		)
	}
	l.state = ecg.StateDegraded
	l.publish()

	wait := l.backoff.NextBackOff()
	if wait == backoff.Stop {
		wait = l.proc.Params().BackoffMax
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (l *Loop) logChange(f ecg.EventFlag, opened bool) {
	if opened {
		l.logger.Info("flag opened", "kind", f.Kind, "severity", f.Severity, "id", f.ID)
		return
	}
	l.logger.Info("flag closed", "kind", f.Kind, "id", f.ID, "duration", f.Offset.Sub(f.Onset))
}

func (l *Loop) status() ecg.SourceStatus {
	return ecg.SourceStatus{
		State:      l.state,
		Simulating: l.info.Simulating,
		HardwareOK: l.info.HardwareOK && l.state != ecg.StateDegraded && l.state != ecg.StateStopped,
		Sampling:   l.state == ecg.StateRunning || l.state == ecg.StateDegraded,
		Faults:     l.faults,
		LastFault:  l.lastFault,
	}
}

func (l *Loop) publish() {
	snap := l.proc.Snapshot(l.status())
	l.pub.Publish(snap)
	l.rec.Published(snap)
}

// Reset clears the buffer, histories, flags and counts. While the loop is
// running the reset is carried out by the producer between two ticks and
// Reset waits for it; before Start it is applied directly.
func (l *Loop) Reset(ctx context.Context) error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return ErrStopped
	}
	if !l.started {
		l.proc.Reset()
		l.publish()
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	done := make(chan struct{})
	select {
	case l.resets <- done:
	case <-l.exited:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop halts the producer between ticks, releases the source and publishes
// a final snapshot with state stopped.
//
// Stop blocks until that final snapshot is published. It is idempotent and
// safe to call before Start; every call returns the source's Close error.
func (l *Loop) Stop() error {
	l.mu.Lock()
	if !l.stopped {
		l.stopped = true
		if l.cancel != nil {
			l.cancel()
		}
	}
	l.mu.Unlock()

	l.wg.Wait()

	l.closeOnce.Do(func() {
		if err := l.src.Close(); err != nil {
			l.closeErr = fmt.Errorf("close source: %w", err)
		}
		l.state = ecg.StateStopped
		l.publish()
		close(l.done)
		l.logger.Info("acquisition stopped", "faults", l.faults)
	})
	return l.closeErr
}

// Done is closed once the loop has stopped and its final snapshot is
// published.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Stopped reports whether Stop has been called.
func (l *Loop) Stopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

// Info describes the source the loop reads from.
func (l *Loop) Info() source.Info {
	return l.info
}
