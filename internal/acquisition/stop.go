package acquisition

import (
	"crypto/subtle"
	"errors"
)

var (
	// ErrStopDisabled is returned when no shutdown token is configured.
	ErrStopDisabled = errors.New("stop is disabled")

	// ErrUnauthorized is returned when a stop request carries the wrong token.
	ErrUnauthorized = errors.New("invalid shutdown token")
)

// StopGuard authorizes stop requests against a shared token.
// The zero value rejects every request with [ErrStopDisabled].
type StopGuard struct {
	token []byte
}

// NewStopGuard returns a guard for token. An empty token disables stop.
func NewStopGuard(token string) StopGuard {
	if token == "" {
		return StopGuard{}
	}
	return StopGuard{token: []byte(token)}
}

// Enabled reports whether stop requests can ever succeed.
func (g StopGuard) Enabled() bool {
	return len(g.token) > 0
}

// Check authorizes a request carrying token. The comparison runs in constant
// time for tokens of equal length.
func (g StopGuard) Check(token string) error {
	if !g.Enabled() {
		return ErrStopDisabled
	}
	if subtle.ConstantTimeCompare(g.token, []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}
