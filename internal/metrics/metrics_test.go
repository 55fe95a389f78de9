package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wernerhzigby/pulse-ecg-monitor/internal/acquisition"
	"github.com/wernerhzigby/pulse-ecg-monitor/internal/ecg"
	"github.com/wernerhzigby/pulse-ecg-monitor/internal/ringbuf"
)

var _ acquisition.Recorder = (*Recorder)(nil)

func TestRecorderMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := New(reg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for i := 0; i < 5; i++ {
		rec.SampleProcessed()
	}
	if got := testutil.ToFloat64(rec.counters["ecg_samples_total"]); got != 5 {
		t.Fatalf("expected samples counter 5, got %f", got)
	}

	rec.PeakDetected()
	rec.SourceFault()
	rec.SourceFault()
	if got := testutil.ToFloat64(rec.counters["ecg_rpeaks_total"]); got != 1 {
		t.Fatalf("expected rpeaks counter 1, got %f", got)
	}
	if got := testutil.ToFloat64(rec.counters["ecg_source_faults_total"]); got != 2 {
		t.Fatalf("expected faults counter 2, got %f", got)
	}

	rec.FlagOpened(ecg.Tachycardia)
	rec.FlagOpened(ecg.Tachycardia)
	rec.FlagOpened(ecg.Noise)
	if got := testutil.ToFloat64(rec.onsets.WithLabelValues("tachycardia")); got != 2 {
		t.Fatalf("expected tachycardia onsets 2, got %f", got)
	}

	rec.TickDuration(200 * time.Microsecond)
	hCollector := rec.histos["ecg_tick_duration_seconds"].(prometheus.Collector)
	if samples := testutil.CollectAndCount(hCollector); samples != 1 {
		t.Fatalf("expected tick histogram to record 1 sample, got %d", samples)
	}

	buf := ringbuf.New[ecg.Sample](10)
	buf.Push(ecg.Sample{Timestamp: time.Unix(0, 0), Amplitude: 1})
	buf.Push(ecg.Sample{Timestamp: time.Unix(1, 0), Amplitude: 2})
	rec.Published(&ecg.Snapshot{
		Version:    7,
		Window:     buf.View(),
		CurrentBPM: 72,
		Status:     ecg.SourceStatus{State: ecg.StateDegraded},
	})

	wantGauges := map[string]float64{
		"ecg_bpm":              72,
		"ecg_buffer_samples":   2,
		"ecg_snapshot_version": 7,
		"ecg_source_degraded":  1,
	}
	for name, want := range wantGauges {
		if got := testutil.ToFloat64(rec.gauges[name]); got != want {
			t.Errorf("gauge %s = %f, want %f", name, got, want)
		}
	}

	expected := `
# HELP ecg_flag_onsets_total Event flags opened, by kind.
# TYPE ecg_flag_onsets_total counter
ecg_flag_onsets_total{kind="noise"} 1
ecg_flag_onsets_total{kind="tachycardia"} 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "ecg_flag_onsets_total"); err != nil {
		t.Errorf("unexpected onset metrics: %v", err)
	}
}

func TestNew_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := New(reg); err == nil {
		t.Error("second New() on the same registry expected error")
	}
}
