package telemetry

import "github.com/pthm-cable/terrarium/components"

// Collector accumulates lifecycle events and produces TickStats at the end
// of every tick plus WindowStats at window boundaries.
type Collector struct {
	windowTicks     int32
	windowStartTick int32

	// Current tick counters
	tickBirths       int
	tickDeaths       int
	tickDeathsByCause [4]int
	tickHuntAttempts int
	tickKills        int

	// Current window counters
	winBirths       int
	winDeaths       int
	winHuntAttempts int
	winKills        int
}

// NewCollector creates a stats collector flushing windows every windowTicks.
func NewCollector(windowTicks int) *Collector {
	if windowTicks < 1 {
		windowTicks = 60
	}
	return &Collector{windowTicks: int32(windowTicks)}
}

// RecordBirth records a birth event.
func (c *Collector) RecordBirth() {
	c.tickBirths++
	c.winBirths++
}

// RecordDeath records a death event with its cause.
func (c *Collector) RecordDeath(cause DeathCause) {
	c.tickDeaths++
	c.winDeaths++
	c.tickDeathsByCause[cause]++
}

// RecordHuntAttempt records a predation attempt (candidate in range).
func (c *Collector) RecordHuntAttempt() {
	c.tickHuntAttempts++
	c.winHuntAttempts++
}

// RecordKill records a successful hunt.
func (c *Collector) RecordKill() {
	c.tickKills++
	c.winKills++
}

// FlushTick produces the tick's statistics from the post-update population
// snapshot and resets the per-tick counters. classCounts holds the surviving
// population per behavioral class; ageSum and oldest describe their ages.
func (c *Collector) FlushTick(tick int32, classCounts [5]int, ageSum int64, oldest int32) TickStats {
	population := 0
	for _, n := range classCounts {
		population += n
	}

	avgAge := 0.0
	if population > 0 {
		avgAge = float64(ageSum) / float64(population)
	}

	stats := TickStats{
		Tick:       tick,
		Generation: tick,
		Population: population,
		Births:     c.tickBirths,
		Deaths:     c.tickDeaths,
		AverageAge: avgAge,
		OldestAge:  oldest,

		Prey:        classCounts[components.ClassPrey],
		Predators:   classCounts[components.ClassPredator],
		Producers:   classCounts[components.ClassProducer],
		Decomposers: classCounts[components.ClassDecomposer],
		Omnivores:   classCounts[components.ClassOmnivore],

		DeathsOldAge:  c.tickDeathsByCause[DeathOldAge],
		DeathsStarved: c.tickDeathsByCause[DeathStarved],
		DeathsHunted:  c.tickDeathsByCause[DeathHunted],
		DeathsRandom:  c.tickDeathsByCause[DeathRandom],

		HuntAttempts: c.tickHuntAttempts,
		Kills:        c.tickKills,
	}

	c.tickBirths = 0
	c.tickDeaths = 0
	c.tickDeathsByCause = [4]int{}
	c.tickHuntAttempts = 0
	c.tickKills = 0

	return stats
}

// ShouldFlushWindow returns true when enough ticks have passed to close the
// current window.
func (c *Collector) ShouldFlushWindow(currentTick int32) bool {
	return currentTick-c.windowStartTick >= c.windowTicks
}

// FlushWindow produces a WindowStats and resets the window counters.
// ages holds the current population's ages for distribution stats.
func (c *Collector) FlushWindow(currentTick int32, population int, ages []float64) WindowStats {
	var killRate float64
	if c.winHuntAttempts > 0 {
		killRate = float64(c.winKills) / float64(c.winHuntAttempts)
	}

	mean, p50, p90 := ComputeAgeStats(ages)

	stats := WindowStats{
		WindowStartTick: c.windowStartTick,
		WindowEndTick:   currentTick,
		Population:      population,
		Births:          c.winBirths,
		Deaths:          c.winDeaths,
		HuntAttempts:    c.winHuntAttempts,
		Kills:           c.winKills,
		KillRate:        killRate,
		AgeMean:         mean,
		AgeP50:          p50,
		AgeP90:          p90,
	}

	c.windowStartTick = currentTick
	c.winBirths = 0
	c.winDeaths = 0
	c.winHuntAttempts = 0
	c.winKills = 0

	return stats
}

// WindowTicks returns the number of ticks per window.
func (c *Collector) WindowTicks() int32 {
	return c.windowTicks
}
