// Package source provides the interchangeable producers of raw cardiac
// samples: a deterministic waveform [Simulator] and an [ADS1115] analog
// front-end read over I²C.
//
// The variant is chosen once when the acquisition loop is built and never
// switched afterwards. Callers only see the [Source] interface.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/wernerhzigby/pulse-ecg-monitor/internal/ecg"
)

// ErrTransient marks a read failure that is expected to clear on retry, such
// as an I²C transaction error. The acquisition loop backs off and retries.
var ErrTransient = errors.New("transient source fault")

// Transient wraps err so that [IsTransient] reports true for it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsTransient reports whether err was marked as a short-lived source fault.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Info describes a source for status reporting.
type Info struct {
	// Name is a short identifier such as "simulator" or "ads1115@0x48".
	Name string

	// Simulating is true for synthetic sources.
	Simulating bool

	// HardwareOK is true when a physical front-end was opened successfully.
	HardwareOK bool
}

// Source yields one timestamped raw amplitude per call.
//
// Next is only ever called from the acquisition goroutine, so
// implementations need not be safe for concurrent use. Acquisition retries
// every error with exponential backoff and reports the source as degraded
// until a read succeeds again. [IsTransient] only tells a short bus glitch
// from a persistent fault in the logs.
type Source interface {
	Next(ctx context.Context) (ecg.Sample, error)
	Info() Info
	Close() error
}
