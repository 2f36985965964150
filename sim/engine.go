// Package sim drives the simulation: it owns the agent world, the spatial
// index, the batch scheduler and the per-tick lifecycle update.
package sim

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/terrarium/components"
	"github.com/pthm-cable/terrarium/config"
	"github.com/pthm-cable/terrarium/systems"
	"github.com/pthm-cable/terrarium/telemetry"
)

// Options configures an Engine beyond the loaded config file.
type Options struct {
	Seed int64
	// Workers > 0 enables the parallel intent phase with that many workers;
	// 0 keeps the sequential reference path.
	Workers int
	// OutputDir enables CSV output when non-empty.
	OutputDir string
	// LogStats emits window stats and perf summaries via slog.
	LogStats bool
}

// Engine is the tick driver. All managers are constructed once here and
// owned explicitly; there is no global state. Engine is not safe for
// concurrent use: one tick runs to completion before the next starts.
type Engine struct {
	cfg *config.Config
	rng *rand.Rand

	world  *ecs.World
	mapper *ecs.Map4[components.Position, components.Rotation, components.Vitals, components.Organism]
	filter *ecs.Filter4[components.Position, components.Rotation, components.Vitals, components.Organism]

	posMap    *ecs.Map1[components.Position]
	rotMap    *ecs.Map1[components.Rotation]
	vitalsMap *ecs.Map1[components.Vitals]
	orgMap    *ecs.Map1[components.Organism]

	spatial *systems.SpatialManager
	batch   *systems.BatchProcessor[agentWork]
	pool    *systems.WorkerPool

	collector *telemetry.Collector
	perf      *telemetry.PerfCollector
	predictor *telemetry.Predictor
	output    *telemetry.OutputManager

	tick          int32
	nextID        uint32
	aliveCount    int
	deadThisTick  int
	maxPopulation int
	speed         int
	logStats      bool

	// Reusable per-tick buffers
	work    []agentWork
	entries []systems.Entry
	births  []birth

	// Per-goroutine query scratch for the intent phase.
	scratchPool sync.Pool

	lastStats telemetry.TickStats
}

// DebugInfo is a diagnostic view of the spatial index and batch processor.
type DebugInfo struct {
	NodeCount       int
	AgentCount      int
	LastRebuildTime time.Duration
	AvgRebuildTime  time.Duration
	RebuildCount    uint64
	BatchSize       int
	Workers         int
}

// New validates the configuration and constructs the engine with its
// spatial manager, batch processor and telemetry. Configuration errors are
// fatal to this call; nothing is partially started.
func New(cfg *config.Config, opts Options) (*Engine, error) {
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}

	arena := systems.Rect{W: cfg.Derived.ArenaW32, H: cfg.Derived.ArenaH32}
	spatial, err := systems.NewSpatialManager(arena, cfg.Index.NodeCapacity)
	if err != nil {
		return nil, err
	}

	batch, err := systems.NewBatchProcessor[agentWork](systems.BatchConfig{
		TargetBudget:     time.Duration(cfg.Batch.TargetBudgetMS * float64(time.Millisecond)),
		InitialBatchSize: cfg.Batch.InitialBatchSize,
		MinBatchSize:     cfg.Batch.MinBatchSize,
		MaxBatchSize:     cfg.Batch.MaxBatchSize,
	})
	if err != nil {
		return nil, err
	}

	output, err := telemetry.NewOutputManager(opts.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("sim: %w", err)
	}

	world := ecs.NewWorld()

	e := &Engine{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(opts.Seed)),
		world:  world,
		mapper: ecs.NewMap4[components.Position, components.Rotation, components.Vitals, components.Organism](world),
		filter: ecs.NewFilter4[components.Position, components.Rotation, components.Vitals, components.Organism](world),

		posMap:    ecs.NewMap1[components.Position](world),
		rotMap:    ecs.NewMap1[components.Rotation](world),
		vitalsMap: ecs.NewMap1[components.Vitals](world),
		orgMap:    ecs.NewMap1[components.Organism](world),

		spatial: spatial,
		batch:   batch,

		collector: telemetry.NewCollector(cfg.Telemetry.StatsWindowTicks),
		perf:      telemetry.NewPerfCollector(cfg.Telemetry.PerfWindowTicks),
		predictor: telemetry.NewPredictor(cfg.Telemetry.PredictorWindow, cfg.Telemetry.PredictorMinSamples),
		output:    output,

		maxPopulation: cfg.Population.Max,
		speed:         cfg.Simulation.Speed,
		logStats:      opts.LogStats,

		work:    make([]agentWork, 0, 512),
		entries: make([]systems.Entry, 0, 512),

		scratchPool: sync.Pool{New: func() any {
			s := make([]systems.Entry, 0, 64)
			return &s
		}},
	}

	if opts.Workers > 0 {
		e.pool = systems.NewWorkerPool(opts.Workers)
		e.batch.SetRunner(e.pool, 0)
	}

	if err := e.output.WriteConfig(cfg); err != nil {
		slog.Warn("failed to write config snapshot", "error", err)
	}

	e.spawnInitialPopulation()

	return e, nil
}

// spawnInitialPopulation places each species' initial count at random
// positions inside the arena.
func (e *Engine) spawnInitialPopulation() {
	for idx := range e.cfg.Species {
		sp := &e.cfg.Species[idx]
		for i := 0; i < sp.InitialCount && e.aliveCount < e.maxPopulation; i++ {
			x := e.rng.Float32() * e.cfg.Derived.ArenaW32
			y := e.rng.Float32() * e.cfg.Derived.ArenaH32
			heading := e.rng.Float32() * 2 * math.Pi
			e.spawnAgent(uint8(idx), x, y, heading)
		}
	}
}

// spawnAgent creates one agent of the given species. Newborns start at age
// zero with their species' initial energy.
func (e *Engine) spawnAgent(speciesID uint8, x, y, heading float32) ecs.Entity {
	sp := &e.cfg.Species[speciesID]

	id := e.nextID
	e.nextID++

	pos := components.Position{X: x, Y: y}
	rot := components.Rotation{Heading: heading}
	vitals := components.Vitals{Energy: float32(sp.InitialEnergy), Age: 0, Alive: true}
	org := components.Organism{
		ID:        id,
		SpeciesID: speciesID,
		Class:     e.cfg.Derived.Classes[speciesID],
	}

	entity := e.mapper.NewEntity(&pos, &rot, &vitals, &org)
	e.aliveCount++
	return entity
}

// Update runs the configured number of ticks using the config dt. This is
// the render-loop entry point.
func (e *Engine) Update() telemetry.TickStats {
	for i := 0; i < e.speed; i++ {
		e.Tick(e.cfg.Derived.DT32)
	}
	return e.lastStats
}

// SetSpeed sets the ticks-per-update multiplier. Out-of-range values are
// logged and ignored, leaving the prior setting in effect.
func (e *Engine) SetSpeed(multiplier int) {
	if multiplier < 1 || multiplier > 10 {
		slog.Warn("ignoring invalid speed multiplier", "value", multiplier, "current", e.speed)
		return
	}
	e.speed = multiplier
}

// SetMaxPopulation sets the population cap. Out-of-range values are logged
// and ignored, leaving the prior setting in effect.
func (e *Engine) SetMaxPopulation(n int) {
	if n < 1 {
		slog.Warn("ignoring invalid max population", "value", n, "current", e.maxPopulation)
		return
	}
	e.maxPopulation = n
}

// SetSpecies replaces the named species' parameters for subsequent ticks.
// The species must already exist with the same behavioral class; invalid
// definitions are logged and ignored, leaving the prior definition in
// effect. Living agents keep their identity and pick up the new parameters
// on their next update.
func (e *Engine) SetSpecies(sc config.SpeciesConfig) {
	if err := sc.Validate(); err != nil {
		slog.Warn("ignoring invalid species definition", "species", sc.Name, "error", err)
		return
	}
	idx, ok := e.cfg.Derived.SpeciesIndex[sc.Name]
	if !ok {
		slog.Warn("ignoring unknown species definition", "species", sc.Name)
		return
	}
	if sc.Class != e.cfg.Species[idx].Class {
		slog.Warn("ignoring species class change", "species", sc.Name,
			"current", e.cfg.Species[idx].Class, "requested", sc.Class)
		return
	}

	if sc.SpawnOffset == 0 {
		sc.SpawnOffset = 8
	}
	e.cfg.Species[idx] = sc

	// Refresh the derived prey mask for this species.
	var mask uint8
	if sc.Hunting != nil {
		for _, p := range sc.Hunting.Prey {
			if pc, ok := components.ParseClass(p); ok {
				mask |= config.ClassBit(pc)
			}
		}
	}
	e.cfg.Derived.PreyMasks[idx] = mask
}

// Stats returns the most recent tick's statistics.
func (e *Engine) Stats() telemetry.TickStats {
	return e.lastStats
}

// TickCount returns the current tick counter.
func (e *Engine) TickCount() int32 {
	return e.tick
}

// Population returns the live agent count.
func (e *Engine) Population() int {
	return e.aliveCount
}

// Predict forecasts the population ticksAhead from the recorded history.
func (e *Engine) Predict(ticksAhead int) (telemetry.Prediction, bool) {
	return e.predictor.Predict(ticksAhead)
}

// Debug returns a diagnostic snapshot of the spatial index and scheduler.
func (e *Engine) Debug() DebugInfo {
	workers := 0
	if e.pool != nil {
		workers = e.pool.Workers()
	}
	return DebugInfo{
		NodeCount:       e.spatial.NodeCount(),
		AgentCount:      e.spatial.AgentCount(),
		LastRebuildTime: e.spatial.LastRebuildTime(),
		AvgRebuildTime:  e.spatial.AvgRebuildTime(),
		RebuildCount:    e.spatial.RebuildCount(),
		BatchSize:       e.batch.BatchSize(),
		Workers:         workers,
	}
}

// PerfStats returns aggregated tick timing over the rolling window.
func (e *Engine) PerfStats() telemetry.PerfStats {
	return e.perf.Stats()
}

// Close stops the worker pool and flushes CSV output.
func (e *Engine) Close() error {
	if e.pool != nil {
		e.pool.Stop()
	}
	return e.output.Close()
}
