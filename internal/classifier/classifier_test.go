package classifier

import (
	"fmt"
	"testing"
	"time"

	"github.com/wernerhzigby/pulse-ecg-monitor/internal/ecg"
	"github.com/wernerhzigby/pulse-ecg-monitor/internal/rhythm"
)

const tick = 4 * time.Millisecond

var t0 = time.Unix(1_700_000_000, 0)

func testConfig() Config {
	return Config{
		AsystoleAfter:   3500 * time.Millisecond,
		BradyBPM:        50,
		TachyBPM:        100,
		VTachBPM:        150,
		WanderWindow:    8 * time.Second,
		WanderThreshold: 2000,
		Stabilize:       2 * time.Second,
		NoiseClear:      500 * time.Millisecond,
		Retention:       60 * time.Second,
	}
}

type harness struct {
	t       *testing.T
	c       *Classifier
	now     time.Time
	changes []Change
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ids := 0
	c.newID = func() string {
		ids++
		return fmt.Sprintf("flag-%d", ids)
	}
	return &harness{t: t, c: c, now: t0}
}

func (h *harness) at(ts time.Time, o Observation) []Change {
	o.Timestamp = ts
	ch := h.c.Evaluate(o)
	h.now = ts
	h.changes = append(h.changes, ch...)
	return ch
}

// idleUntil feeds clean samples one tick apart up to and including ts.
func (h *harness) idleUntil(ts time.Time) {
	for at := h.now.Add(tick); !at.After(ts); at = at.Add(tick) {
		h.at(at, Observation{})
	}
}

func beat(bpm float64) *rhythm.Beat {
	return &rhythm.Beat{BPM: ecg.BPMSample{BPM: bpm}}
}

func peak(ts time.Time) *ecg.RPeak {
	return &ecg.RPeak{Timestamp: ts, Amplitude: 15000}
}

func countOpened(changes []Change, k ecg.EventKind) int {
	n := 0
	for _, ch := range changes {
		if ch.Opened && ch.Flag.Kind == k {
			n++
		}
	}
	return n
}

func TestClassifier_NoFlagsWithoutHistory(t *testing.T) {
	h := newHarness(t, testConfig())
	h.at(t0, Observation{})
	h.idleUntil(t0.Add(10 * time.Second))

	if len(h.changes) != 0 {
		t.Errorf("changes = %+v, want none before any beat", h.changes)
	}
	if len(h.c.Active()) != 0 {
		t.Errorf("Active() = %v, want empty", h.c.Active())
	}
}

func TestClassifier_Asystole(t *testing.T) {
	h := newHarness(t, testConfig())
	h.at(t0, Observation{Peak: peak(t0)})

	h.idleUntil(t0.Add(3500*time.Millisecond - tick))
	if h.c.IsActive(ecg.Asystole) {
		t.Fatal("asystole opened before the configured silence")
	}

	ch := h.at(t0.Add(3500*time.Millisecond), Observation{})
	if len(ch) != 1 || !ch[0].Opened || ch[0].Flag.Kind != ecg.Asystole {
		t.Fatalf("changes at 3.5s = %+v, want asystole onset", ch)
	}
	if ch[0].Flag.Severity != ecg.SeverityCritical {
		t.Errorf("Severity = %v, want critical", ch[0].Flag.Severity)
	}

	h.idleUntil(t0.Add(5 * time.Second))
	closeAt := t0.Add(5*time.Second + tick)
	ch = h.at(closeAt, Observation{Peak: peak(closeAt)})
	if len(ch) != 1 || ch[0].Opened {
		t.Fatalf("changes on next peak = %+v, want asystole offset", ch)
	}
	if ch[0].Flag.Offset == nil || !ch[0].Flag.Offset.Equal(closeAt) {
		t.Errorf("Offset = %v, want %v", ch[0].Flag.Offset, closeAt)
	}
	if got := h.c.Counts()[ecg.Asystole]; got != 1 {
		t.Errorf("Counts()[asystole] = %d, want 1", got)
	}
	if len(h.c.Recent()) != 1 {
		t.Errorf("Recent() = %d flags, want 1", len(h.c.Recent()))
	}
}

func TestClassifier_BradycardiaIsStrict(t *testing.T) {
	tests := []struct {
		bpm  float64
		want bool
	}{
		{bpm: 50, want: false},
		{bpm: 49.9, want: true},
		{bpm: 72, want: false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.bpm), func(t *testing.T) {
			h := newHarness(t, testConfig())
			h.at(t0, Observation{Peak: peak(t0), Beat: beat(tt.bpm)})
			if got := h.c.IsActive(ecg.Bradycardia); got != tt.want {
				t.Errorf("bradycardia active = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifier_RateHysteresis(t *testing.T) {
	h := newHarness(t, testConfig())
	h.at(t0, Observation{Peak: peak(t0), Beat: beat(120)})
	if !h.c.IsActive(ecg.Tachycardia) {
		t.Fatal("tachycardia should open at 120 bpm")
	}

	recovered := t0.Add(time.Second)
	h.idleUntil(recovered.Add(-tick))
	h.at(recovered, Observation{Peak: peak(recovered), Beat: beat(90)})

	h.idleUntil(recovered.Add(2*time.Second - tick))
	if !h.c.IsActive(ecg.Tachycardia) {
		t.Fatal("tachycardia closed before the stabilize period")
	}

	ch := h.at(recovered.Add(2*time.Second), Observation{})
	if len(ch) != 1 || ch[0].Opened || ch[0].Flag.Kind != ecg.Tachycardia {
		t.Fatalf("changes = %+v, want tachycardia offset", ch)
	}
	if got := countOpened(h.changes, ecg.Tachycardia); got != 1 {
		t.Errorf("tachycardia onsets = %d, want 1", got)
	}
}

func TestClassifier_ClearTimerRestarts(t *testing.T) {
	h := newHarness(t, testConfig())
	h.at(t0, Observation{Beat: beat(120)})

	h.at(t0.Add(time.Second), Observation{Beat: beat(90)})
	h.idleUntil(t0.Add(2500 * time.Millisecond))
	h.at(t0.Add(2500*time.Millisecond+tick), Observation{Beat: beat(110)})
	h.at(t0.Add(2600*time.Millisecond), Observation{Beat: beat(90)})

	h.idleUntil(t0.Add(4500 * time.Millisecond))
	if !h.c.IsActive(ecg.Tachycardia) {
		t.Fatal("returning condition should restart the clear timer")
	}
	h.idleUntil(t0.Add(4600 * time.Millisecond))
	if h.c.IsActive(ecg.Tachycardia) {
		t.Error("tachycardia should close 2s after the last recovery")
	}
	if got := countOpened(h.changes, ecg.Tachycardia); got != 1 {
		t.Errorf("tachycardia onsets = %d, want 1", got)
	}
}

func TestClassifier_VTachImpliesTachy(t *testing.T) {
	h := newHarness(t, testConfig())
	h.at(t0, Observation{Beat: beat(160)})

	active := h.c.Active()
	if len(active) != 2 || active[0].Kind != ecg.VTachSuspected || active[1].Kind != ecg.Tachycardia {
		t.Errorf("Active() = %+v, want vtach and tachycardia in display order", active)
	}
}

func TestClassifier_PrematureIsPulse(t *testing.T) {
	h := newHarness(t, testConfig())
	b := beat(80)
	b.Premature = true

	ch := h.at(t0, Observation{Peak: peak(t0), Beat: b})
	if countOpened(ch, ecg.Premature) != 1 {
		t.Fatalf("changes = %+v, want premature onset", ch)
	}

	ch = h.at(t0.Add(tick), Observation{})
	if len(ch) != 1 || ch[0].Opened || ch[0].Flag.Kind != ecg.Premature {
		t.Fatalf("changes on next tick = %+v, want premature offset", ch)
	}
	if d := ch[0].Flag.Duration(h.now); d != tick {
		t.Errorf("premature duration = %v, want one tick", d)
	}
}

func TestClassifier_NoiseSingleFlag(t *testing.T) {
	h := newHarness(t, testConfig())

	var last time.Time
	for i := 0; i < 100; i++ {
		last = t0.Add(time.Duration(i) * tick)
		h.at(last, Observation{Noisy: true})
	}
	if got := countOpened(h.changes, ecg.Noise); got != 1 {
		t.Fatalf("noise onsets = %d, want 1", got)
	}

	firstClean := last.Add(tick)
	h.idleUntil(firstClean.Add(500*time.Millisecond - tick))
	if !h.c.IsActive(ecg.Noise) {
		t.Fatal("noise closed before the clean window elapsed")
	}
	h.idleUntil(firstClean.Add(500 * time.Millisecond))
	if h.c.IsActive(ecg.Noise) {
		t.Error("noise still active after the clean window")
	}
	if got := h.c.Counts()[ecg.Noise]; got != 1 {
		t.Errorf("Counts()[noise] = %d, want 1", got)
	}
}

func TestClassifier_BaselineWander(t *testing.T) {
	h := newHarness(t, testConfig())

	// ramp the baseline by 10 per tick: 2000 is reached after 200 ticks
	for i := 0; i <= 201; i++ {
		h.at(t0.Add(time.Duration(i)*tick), Observation{Baseline: float64(i * 10)})
		if i == 200 && h.c.IsActive(ecg.BaselineWander) {
			t.Fatal("range of exactly the threshold should not open wander")
		}
	}
	if !h.c.IsActive(ecg.BaselineWander) {
		t.Error("baseline range above threshold should open wander")
	}
}

func TestClassifier_Retention(t *testing.T) {
	cfg := testConfig()
	cfg.Retention = time.Second
	h := newHarness(t, cfg)

	b := beat(80)
	b.Premature = true
	h.at(t0, Observation{Beat: b})
	h.at(t0.Add(tick), Observation{})

	held := h.c.Recent()
	if len(held) != 1 {
		t.Fatalf("Recent() = %d flags, want 1", len(held))
	}

	h.idleUntil(t0.Add(tick + time.Second))
	if len(h.c.Recent()) != 1 {
		t.Error("flag dropped before the retention period")
	}
	h.idleUntil(t0.Add(2*tick + time.Second))
	if len(h.c.Recent()) != 0 {
		t.Error("flag retained past the retention period")
	}
	if held[0].Kind != ecg.Premature || held[0].ID != "flag-1" {
		t.Errorf("previously returned slice changed: %+v", held[0])
	}
}

func TestClassifier_SnapshotSlicesAreStable(t *testing.T) {
	h := newHarness(t, testConfig())
	h.at(t0, Observation{Beat: beat(120)})

	active := h.c.Active()
	counts := h.c.Counts()

	h.at(t0.Add(tick), Observation{Beat: beat(40)})

	if len(active) != 1 || active[0].Kind != ecg.Tachycardia {
		t.Errorf("earlier Active() slice changed: %+v", active)
	}
	if counts[ecg.Bradycardia] != 0 {
		t.Error("earlier Counts() map changed")
	}
	if h.c.Counts()[ecg.Bradycardia] != 1 {
		t.Errorf("Counts()[bradycardia] = %d, want 1", h.c.Counts()[ecg.Bradycardia])
	}
}

func TestClassifier_Reset(t *testing.T) {
	h := newHarness(t, testConfig())
	h.at(t0, Observation{Peak: peak(t0), Beat: beat(160)})

	h.c.Reset()
	if len(h.c.Active()) != 0 || len(h.c.Counts()) != 0 || len(h.c.Recent()) != 0 {
		t.Error("Reset() should clear flags and counts")
	}

	h.changes = nil
	h.idleUntil(t0.Add(10 * time.Second))
	if len(h.changes) != 0 {
		t.Errorf("changes after Reset() = %+v, want none without new beats", h.changes)
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := testConfig().Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero asystole", func(c *Config) { c.AsystoleAfter = 0 }},
		{"brady above tachy", func(c *Config) { c.BradyBPM = 120 }},
		{"vtach below tachy", func(c *Config) { c.VTachBPM = 90 }},
		{"zero wander window", func(c *Config) { c.WanderWindow = 0 }},
		{"negative stabilize", func(c *Config) { c.Stabilize = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			if _, err := New(cfg); err == nil {
				t.Error("New() expected error")
			}
		})
	}
}
