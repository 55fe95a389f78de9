// Package report exports a session as a zip archive of CSV files.
package report

import (
	"archive/zip"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wernerhzigby/pulse-ecg-monitor/internal/ecg"
)

// Archive entries.
const (
	SamplesFile = "ecg_data_with_flags.csv"
	BPMFile     = "bpm_data.csv"
	EventsFile  = "events.csv"
	SummaryFile = "summary.csv"
)

// Concern levels by share of all flag onsets.
const (
	ConcernNormal   = "Normal"
	ConcernElevated = "Elevated"
	ConcernHigh     = "High"
)

// SummaryRow is one event kind's share of all flag onsets in the session.
type SummaryRow struct {
	Kind    ecg.EventKind
	Label   string
	Count   int
	Percent float64
	Concern string
}

// ConcernFor grades a percentage: above 40 is high, above 20 elevated.
func ConcernFor(pct float64) string {
	switch {
	case pct > 40:
		return ConcernHigh
	case pct > 20:
		return ConcernElevated
	default:
		return ConcernNormal
	}
}

// Summarize returns a row for every kind with at least one onset, most
// frequent first. Ties keep display order.
func Summarize(counts map[ecg.EventKind]int) []SummaryRow {
	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		return nil
	}

	rows := make([]SummaryRow, 0, len(counts))
	for _, k := range ecg.Kinds {
		n := counts[k]
		if n <= 0 {
			continue
		}
		pct := float64(n) / float64(total) * 100
		rows = append(rows, SummaryRow{
			Kind:    k,
			Label:   k.Label(),
			Count:   n,
			Percent: pct,
			Concern: ConcernFor(pct),
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Count > rows[j].Count })
	return rows
}

// Write streams the archive for snap to w.
func Write(w io.Writer, snap *ecg.Snapshot) error {
	zw := zip.NewWriter(w)

	entries := []struct {
		name  string
		write func(*csv.Writer) error
	}{
		{SamplesFile, func(cw *csv.Writer) error { return writeSamples(cw, snap) }},
		{BPMFile, func(cw *csv.Writer) error { return writeBPM(cw, snap) }},
		{EventsFile, func(cw *csv.Writer) error { return writeEvents(cw, snap) }},
		{SummaryFile, func(cw *csv.Writer) error { return writeSummary(cw, snap) }},
	}

	for _, e := range entries {
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     e.name,
			Method:   zip.Deflate,
			Modified: snap.PublishedAt,
		})
		if err != nil {
			return fmt.Errorf("create %s: %w", e.name, err)
		}
		cw := csv.NewWriter(fw)
		if err := e.write(cw); err != nil {
			return fmt.Errorf("write %s: %w", e.name, err)
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return fmt.Errorf("flush %s: %w", e.name, err)
		}
	}

	return zw.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatFloat(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}

func writeSamples(cw *csv.Writer, snap *ecg.Snapshot) error {
	if err := cw.Write([]string{"timestamp", "ecg_value", "cardiac_flags"}); err != nil {
		return err
	}
	var err error
	snap.Window.Each(func(_ int, s ecg.Sample) bool {
		kinds := snap.FlagsAt(s.Timestamp)
		names := make([]string, len(kinds))
		for i, k := range kinds {
			names[i] = string(k)
		}
		err = cw.Write([]string{formatTime(s.Timestamp), strconv.Itoa(s.Amplitude), strings.Join(names, ";")})
		return err == nil
	})
	return err
}

func writeBPM(cw *csv.Writer, snap *ecg.Snapshot) error {
	if err := cw.Write([]string{"timestamp", "bpm"}); err != nil {
		return err
	}
	var err error
	snap.BPMHistory.Each(func(_ int, b ecg.BPMSample) bool {
		err = cw.Write([]string{formatTime(b.Timestamp), formatFloat(b.BPM, 1)})
		return err == nil
	})
	return err
}

func writeEvents(cw *csv.Writer, snap *ecg.Snapshot) error {
	if err := cw.Write([]string{"id", "kind", "severity", "onset", "offset", "duration_sec", "samples"}); err != nil {
		return err
	}
	for _, w := range snap.EventWindows() {
		row := []string{
			w.Flag.ID,
			string(w.Flag.Kind),
			string(w.Flag.Severity),
			formatTime(w.Start),
			formatTime(w.End),
			formatFloat(w.End.Sub(w.Start).Seconds(), 3),
			strconv.Itoa(len(w.Samples)),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func writeSummary(cw *csv.Writer, snap *ecg.Snapshot) error {
	if err := cw.Write([]string{"event", "count", "percent", "concern"}); err != nil {
		return err
	}
	for _, r := range Summarize(snap.Counts) {
		if err := cw.Write([]string{r.Label, strconv.Itoa(r.Count), formatFloat(r.Percent, 1), r.Concern}); err != nil {
			return err
		}
	}
	return nil
}
