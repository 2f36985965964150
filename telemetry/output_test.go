package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestOutputManagerDisabled(t *testing.T) {
	om, err := NewOutputManager("")
	if err != nil {
		t.Fatalf("NewOutputManager(\"\") failed: %v", err)
	}
	if om != nil {
		t.Fatal("expected nil manager when output is disabled")
	}

	// All methods must be nil-safe no-ops.
	if err := om.WriteStats(WindowStats{}); err != nil {
		t.Errorf("WriteStats on nil manager: %v", err)
	}
	if err := om.WritePerf(PerfStats{}, 0); err != nil {
		t.Errorf("WritePerf on nil manager: %v", err)
	}
	if om.Dir() != "" {
		t.Errorf("Dir() = %q on nil manager, want empty", om.Dir())
	}
	if err := om.Close(); err != nil {
		t.Errorf("Close on nil manager: %v", err)
	}
}

func TestOutputManagerWritesCSV(t *testing.T) {
	dir := t.TempDir()
	om, err := NewOutputManager(dir)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		err := om.WriteStats(WindowStats{
			WindowEndTick: int32(60 * (i + 1)),
			Population:    100 + i,
			Births:        5,
			Deaths:        3,
		})
		if err != nil {
			t.Fatalf("WriteStats: %v", err)
		}
	}

	perf := PerfStats{
		AvgTickDuration: 2 * time.Millisecond,
		PhaseAvg:        map[string]time.Duration{},
		PhasePct:        map[string]float64{PhaseResolve: 40},
	}
	if err := om.WritePerf(perf, 60); err != nil {
		t.Fatalf("WritePerf: %v", err)
	}

	if err := om.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "stats.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 {
		t.Fatalf("stats.csv has %d lines, want 1 header + 3 rows", len(lines))
	}
	if !strings.Contains(lines[0], "window_end") || !strings.Contains(lines[0], "population") {
		t.Errorf("stats.csv header %q missing expected columns", lines[0])
	}
	// The header must appear exactly once.
	if strings.Contains(lines[1], "window_end") {
		t.Error("stats.csv repeated the header on a data row")
	}

	data, err = os.ReadFile(filepath.Join(dir, "perf.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "avg_tick_us") {
		t.Error("perf.csv missing header")
	}
}
