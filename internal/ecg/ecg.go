// Package ecg defines the data model shared by every stage of the cardiac
// signal pipeline: samples, detected beats, RR intervals, BPM samples, event
// flags and the immutable snapshot handed to readers.
//
// All types in this package are plain values. Once a value has been placed in
// a published [Snapshot] it must not be modified.
package ecg

import "time"

// Sample is one timestamped raw amplitude reading.
type Sample struct {
	Timestamp time.Time `json:"ts"`
	Amplitude int       `json:"v"`
}

// Clip bounds the amplitude to [low, high].
func (s Sample) Clip(low, high int) Sample {
	if s.Amplitude < low {
		s.Amplitude = low
	} else if s.Amplitude > high {
		s.Amplitude = high
	}
	return s
}

// RPeak is a detected heartbeat.
type RPeak struct {
	Timestamp time.Time `json:"ts"`
	Amplitude int       `json:"amplitude"`
}

// RRInterval is the time between two consecutive accepted R-peaks, stamped
// with the later peak's time.
type RRInterval struct {
	Timestamp time.Time     `json:"ts"`
	Duration  time.Duration `json:"duration_ns"`
}

// Seconds returns the interval length in seconds.
func (r RRInterval) Seconds() float64 { return r.Duration.Seconds() }

// BPMSample is the instantaneous heart rate derived from one RR interval.
type BPMSample struct {
	Timestamp time.Time `json:"ts"`
	BPM       float64   `json:"bpm"`
}

// BPMFromRR converts an RR interval to beats per minute. It returns 0 for a
// non-positive interval.
func BPMFromRR(rr time.Duration) float64 {
	if rr <= 0 {
		return 0
	}
	return float64(time.Minute) / float64(rr)
}
