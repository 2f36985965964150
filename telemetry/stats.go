// Package telemetry collects per-tick statistics, performance timing, and
// population forecasts for the simulation core.
package telemetry

import (
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// DeathCause classifies why an agent was removed.
type DeathCause uint8

const (
	DeathOldAge DeathCause = iota
	DeathStarved
	DeathHunted
	DeathRandom
)

// TickStats summarizes one completed tick. Immutable after computation;
// consumed by the caller (UI, logs, CSV), never owned by the core.
type TickStats struct {
	Tick       int32 `csv:"tick"`
	Generation int32 `csv:"generation"`
	Population int   `csv:"population"`
	Births     int   `csv:"births"`
	Deaths     int   `csv:"deaths"`

	AverageAge float64 `csv:"avg_age"`
	OldestAge  int32   `csv:"oldest_age"`

	// Per-class populations at tick end
	Prey        int `csv:"prey"`
	Predators   int `csv:"predators"`
	Producers   int `csv:"producers"`
	Decomposers int `csv:"decomposers"`
	Omnivores   int `csv:"omnivores"`

	// Death breakdown
	DeathsOldAge  int `csv:"deaths_old_age"`
	DeathsStarved int `csv:"deaths_starved"`
	DeathsHunted  int `csv:"deaths_hunted"`
	DeathsRandom  int `csv:"deaths_random"`

	// Hunting
	HuntAttempts int `csv:"hunt_attempts"`
	Kills        int `csv:"kills"`
}

// LogValue implements slog.LogValuer for structured logging.
func (s TickStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("tick", int(s.Tick)),
		slog.Int("population", s.Population),
		slog.Int("births", s.Births),
		slog.Int("deaths", s.Deaths),
		slog.Float64("avg_age", s.AverageAge),
		slog.Int("oldest_age", int(s.OldestAge)),
		slog.Int("prey", s.Prey),
		slog.Int("predators", s.Predators),
		slog.Int("producers", s.Producers),
		slog.Int("decomposers", s.Decomposers),
		slog.Int("omnivores", s.Omnivores),
		slog.Int("kills", s.Kills),
	)
}

// WindowStats aggregates a run of ticks for CSV export, with an age
// distribution sampled at window end.
type WindowStats struct {
	WindowStartTick int32 `csv:"-"`
	WindowEndTick   int32 `csv:"window_end"`

	Population int `csv:"population"`
	Births     int `csv:"births"`
	Deaths     int `csv:"deaths"`

	HuntAttempts int     `csv:"hunt_attempts"`
	Kills        int     `csv:"kills"`
	KillRate     float64 `csv:"kill_rate"`

	AgeMean float64 `csv:"age_mean"`
	AgeP50  float64 `csv:"age_p50"`
	AgeP90  float64 `csv:"age_p90"`
}

// ComputeAgeStats calculates mean and percentiles from age samples.
// ages is sorted in place.
func ComputeAgeStats(ages []float64) (mean, p50, p90 float64) {
	if len(ages) == 0 {
		return 0, 0, 0
	}
	sort.Float64s(ages)
	mean = stat.Mean(ages, nil)
	p50 = stat.Quantile(0.50, stat.Empirical, ages, nil)
	p90 = stat.Quantile(0.90, stat.Empirical, ages, nil)
	return mean, p50, p90
}

// LogStats logs the window stats using slog.
func (s WindowStats) LogStats() {
	slog.Info("stats",
		"window_end", s.WindowEndTick,
		"population", s.Population,
		"births", s.Births,
		"deaths", s.Deaths,
		"hunt_attempts", s.HuntAttempts,
		"kills", s.Kills,
		"kill_rate", s.KillRate,
		"age_mean", s.AgeMean,
		"age_p50", s.AgeP50,
		"age_p90", s.AgeP90,
	)
}
