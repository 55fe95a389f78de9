// Package metrics exposes pipeline instrumentation as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wernerhzigby/pulse-ecg-monitor/internal/ecg"
)

// Recorder implements the acquisition loop's recorder interface on top of
// Prometheus collectors registered with a caller-supplied registerer.
type Recorder struct {
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
	onsets   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. Registering twice
// with the same registerer fails.
func New(reg prometheus.Registerer) (*Recorder, error) {
	samples := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ecg_samples_total",
		Help: "Samples appended to the ring buffer.",
	})
	peaks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ecg_rpeaks_total",
		Help: "R-peaks accepted by the detector.",
	})
	faults := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ecg_source_faults_total",
		Help: "Failed reads from the sample source.",
	})
	bpm := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ecg_bpm",
		Help: "Most recent instantaneous heart rate.",
	})
	buffered := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ecg_buffer_samples",
		Help: "Samples currently held in the ring buffer.",
	})
	version := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ecg_snapshot_version",
		Help: "Version of the latest published snapshot.",
	})
	degraded := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ecg_source_degraded",
		Help: "1 while the sample source is faulting, 0 otherwise.",
	})
	tick := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ecg_tick_duration_seconds",
		Help:    "Time to read, process and publish one sample.",
		Buckets: prometheus.ExponentialBuckets(0.00001, 2, 14),
	})
	onsets := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ecg_flag_onsets_total",
		Help: "Event flags opened, by kind.",
	}, []string{"kind"})

	for _, c := range []prometheus.Collector{samples, peaks, faults, bpm, buffered, version, degraded, tick, onsets} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return &Recorder{
		counters: map[string]prometheus.Counter{
			"ecg_samples_total":       samples,
			"ecg_rpeaks_total":        peaks,
			"ecg_source_faults_total": faults,
		},
		gauges: map[string]prometheus.Gauge{
			"ecg_bpm":              bpm,
			"ecg_buffer_samples":   buffered,
			"ecg_snapshot_version": version,
			"ecg_source_degraded":  degraded,
		},
		histos: map[string]prometheus.Observer{
			"ecg_tick_duration_seconds": tick,
		},
		onsets: onsets,
	}, nil
}

func (r *Recorder) inc(name string) {
	if c, ok := r.counters[name]; ok {
		c.Inc()
	}
}

func (r *Recorder) set(name string, v float64) {
	if g, ok := r.gauges[name]; ok {
		g.Set(v)
	}
}

func (r *Recorder) SampleProcessed() { r.inc("ecg_samples_total") }

func (r *Recorder) PeakDetected() { r.inc("ecg_rpeaks_total") }

func (r *Recorder) SourceFault() { r.inc("ecg_source_faults_total") }

// FlagOpened counts an onset of kind.
func (r *Recorder) FlagOpened(kind ecg.EventKind) {
	r.onsets.WithLabelValues(string(kind)).Inc()
}

// TickDuration observes the time one producer tick took.
func (r *Recorder) TickDuration(d time.Duration) {
	if h, ok := r.histos["ecg_tick_duration_seconds"]; ok {
		h.Observe(d.Seconds())
	}
}

// Published refreshes the gauges from a freshly published snapshot.
func (r *Recorder) Published(snap *ecg.Snapshot) {
	r.set("ecg_bpm", snap.CurrentBPM)
	r.set("ecg_buffer_samples", float64(snap.Window.Len()))
	r.set("ecg_snapshot_version", float64(snap.Version))

	degraded := 0.0
	if snap.Status.State == ecg.StateDegraded {
		degraded = 1
	}
	r.set("ecg_source_degraded", degraded)
}
