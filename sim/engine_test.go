package sim

import (
	"testing"

	"github.com/pthm-cable/terrarium/config"
)

// testConfig returns a small two-species world with all stochastic rates
// zeroed so individual tests can switch on exactly the behavior they probe.
func testConfig() *config.Config {
	return &config.Config{
		Arena:      config.ArenaConfig{Width: 200, Height: 200},
		Index:      config.IndexConfig{NodeCapacity: 4},
		Batch:      config.BatchConfig{TargetBudgetMS: 16, InitialBatchSize: 64, MinBatchSize: 8, MaxBatchSize: 1024},
		Population: config.PopulationConfig{Max: 1000},
		Simulation: config.SimulationConfig{DT: 0.016667, Speed: 1},
		Telemetry:  config.TelemetryConfig{StatsWindowTicks: 60, PerfWindowTicks: 60, PredictorWindow: 120, PredictorMinSamples: 10},
		Species: []config.SpeciesConfig{
			{
				Name: "grazer", Class: "prey",
				MaxAge: 1000, EnergyConsumption: 0.1,
				InitialEnergy: 50, MaxEnergy: 100,
				WalkSpeed: 40, TurnJitter: 0.3,
				ReproThreshold: 80, MaturityAge: 50,
			},
			{
				Name: "stalker", Class: "predator",
				MaxAge: 1000, EnergyConsumption: 1,
				InitialEnergy: 50, MaxEnergy: 60,
				WalkSpeed: 30, TurnJitter: 0.3,
				ReproThreshold: 55, MaturityAge: 100,
				Hunting: &config.HuntingConfig{
					Range: 60, Speed: 70, Prey: []string{"prey"},
					SuccessProbability: 0, EnergyGain: 45,
				},
			},
		},
	}
}

func newTestEngine(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()
	e, err := New(cfg, Options{Seed: 42})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestInitialPopulation(t *testing.T) {
	cfg := testConfig()
	cfg.Species[0].InitialCount = 30
	cfg.Species[1].InitialCount = 5

	e := newTestEngine(t, cfg)

	if e.Population() != 35 {
		t.Fatalf("Population() = %d, want 35", e.Population())
	}

	query := e.filter.Query()
	for query.Next() {
		pos, _, vitals, org := query.Get()
		if vitals.Age != 0 {
			t.Errorf("initial agent has age %d, want 0", vitals.Age)
		}
		want := float32(cfg.Species[org.SpeciesID].InitialEnergy)
		if vitals.Energy != want {
			t.Errorf("initial agent has energy %v, want %v", vitals.Energy, want)
		}
		if pos.X < 0 || pos.X >= 200 || pos.Y < 0 || pos.Y >= 200 {
			t.Errorf("initial agent at (%v, %v), outside arena", pos.X, pos.Y)
		}
	}
}

func TestMaxAgeBoundary(t *testing.T) {
	cfg := testConfig()
	cfg.Species[0].MaxAge = 10
	e := newTestEngine(t, cfg)

	entity := e.spawnAgent(0, 100, 100, 0)
	e.vitalsMap.Get(entity).Age = 9

	// Age reaches exactly max_age: the agent survives the tick.
	e.Tick(cfg.Derived.DT32)
	if e.Population() != 1 {
		t.Fatalf("Population() = %d at age == max_age, want 1", e.Population())
	}
	if got := e.vitalsMap.Get(entity).Age; got != 10 {
		t.Fatalf("age = %d, want 10", got)
	}

	// One more tick pushes age past max_age: removed.
	e.Tick(cfg.Derived.DT32)
	if e.Population() != 0 {
		t.Errorf("Population() = %d past max_age, want 0", e.Population())
	}
	if e.lastStats.DeathsOldAge != 1 {
		t.Errorf("DeathsOldAge = %d, want 1", e.lastStats.DeathsOldAge)
	}
}

func TestStarvation(t *testing.T) {
	cfg := testConfig()
	cfg.Species[0].EnergyConsumption = 50
	e := newTestEngine(t, cfg)

	e.spawnAgent(0, 100, 100, 0)

	// Energy 50 - 50 = 0 on the first tick: dead, zero is not survivable.
	e.Tick(cfg.Derived.DT32)
	if e.Population() != 0 {
		t.Errorf("Population() = %d after starving tick, want 0", e.Population())
	}
	if e.lastStats.DeathsStarved != 1 {
		t.Errorf("DeathsStarved = %d, want 1", e.lastStats.DeathsStarved)
	}
}

func TestHuntCertainKill(t *testing.T) {
	cfg := testConfig()
	cfg.Species[1].Hunting.SuccessProbability = 1
	e := newTestEngine(t, cfg)

	predator := e.spawnAgent(1, 100, 100, 0)
	e.spawnAgent(0, 110, 100, 0) // prey inside hunting range 60

	e.Tick(cfg.Derived.DT32)

	if e.Population() != 1 {
		t.Fatalf("Population() = %d after certain kill, want 1 (the predator)", e.Population())
	}
	if e.lastStats.Kills != 1 {
		t.Errorf("Kills = %d, want 1", e.lastStats.Kills)
	}
	if e.lastStats.HuntAttempts != 1 {
		t.Errorf("HuntAttempts = %d, want 1", e.lastStats.HuntAttempts)
	}
	if e.lastStats.DeathsHunted != 1 {
		t.Errorf("DeathsHunted = %d, want 1", e.lastStats.DeathsHunted)
	}

	// 50 initial - 1 consumption + 45 gain = 94, clamped to max_energy 60.
	if got := e.vitalsMap.Get(predator).Energy; got != 60 {
		t.Errorf("predator energy = %v, want clamped to 60", got)
	}
}

func TestHuntOutOfRange(t *testing.T) {
	cfg := testConfig()
	cfg.Species[1].Hunting.SuccessProbability = 1
	e := newTestEngine(t, cfg)

	e.spawnAgent(1, 10, 10, 0)
	e.spawnAgent(0, 150, 150, 0) // well beyond hunting range 60

	e.Tick(cfg.Derived.DT32)

	if e.Population() != 2 {
		t.Errorf("Population() = %d, want 2: out-of-range prey must survive", e.Population())
	}
	if e.lastStats.HuntAttempts != 0 {
		t.Errorf("HuntAttempts = %d for out-of-range prey, want 0", e.lastStats.HuntAttempts)
	}
}

func TestHuntZeroProbabilityNeverKills(t *testing.T) {
	cfg := testConfig()
	e := newTestEngine(t, cfg) // success_probability 0

	e.spawnAgent(1, 100, 100, 0)
	e.spawnAgent(0, 110, 100, 0)

	for i := 0; i < 10; i++ {
		e.Tick(cfg.Derived.DT32)
	}

	if e.Population() != 2 {
		t.Errorf("Population() = %d with p=0 hunting, want 2", e.Population())
	}
	if e.lastStats.Kills != 0 {
		t.Errorf("Kills = %d with p=0 hunting, want 0", e.lastStats.Kills)
	}
}

func TestReproduction(t *testing.T) {
	cfg := testConfig()
	cfg.Species[0].GrowthRate = 1
	cfg.Species[0].ReproThreshold = 10
	cfg.Species[0].MaturityAge = 0
	e := newTestEngine(t, cfg)

	e.spawnAgent(0, 100, 100, 0)
	e.Tick(cfg.Derived.DT32)

	if e.Population() != 2 {
		t.Fatalf("Population() = %d after certain reproduction, want 2", e.Population())
	}
	if e.lastStats.Births != 1 {
		t.Errorf("Births = %d, want 1", e.lastStats.Births)
	}

	// The newborn starts at age zero with its species' initial energy,
	// placed inside the arena near the parent.
	newborns := 0
	query := e.filter.Query()
	for query.Next() {
		pos, _, vitals, _ := query.Get()
		if vitals.Age != 0 {
			continue
		}
		newborns++
		if vitals.Energy != 50 {
			t.Errorf("newborn energy = %v, want initial energy 50", vitals.Energy)
		}
		if pos.X < 0 || pos.X >= 200 || pos.Y < 0 || pos.Y >= 200 {
			t.Errorf("newborn at (%v, %v), outside arena", pos.X, pos.Y)
		}
	}
	if newborns != 1 {
		t.Errorf("found %d age-zero agents, want 1", newborns)
	}
}

func TestReproductionBelowMaturityAge(t *testing.T) {
	cfg := testConfig()
	cfg.Species[0].GrowthRate = 1
	cfg.Species[0].ReproThreshold = 10
	cfg.Species[0].MaturityAge = 100
	e := newTestEngine(t, cfg)

	e.spawnAgent(0, 100, 100, 0)
	for i := 0; i < 5; i++ {
		e.Tick(cfg.Derived.DT32)
	}

	if e.Population() != 1 {
		t.Errorf("Population() = %d with immature parent, want 1", e.Population())
	}
}

func TestMaxPopulationCap(t *testing.T) {
	cfg := testConfig()
	cfg.Species[0].InitialCount = 4
	cfg.Species[0].GrowthRate = 1
	cfg.Species[0].ReproThreshold = 10
	cfg.Species[0].MaturityAge = 0
	cfg.Population.Max = 6
	e := newTestEngine(t, cfg)

	for i := 0; i < 20; i++ {
		e.Tick(cfg.Derived.DT32)
		if e.Population() > 6 {
			t.Fatalf("Population() = %d at tick %d, exceeds cap 6", e.Population(), i)
		}
	}
	if e.Population() != 6 {
		t.Errorf("Population() = %d, want pinned at cap 6", e.Population())
	}
}

func TestAgentsStayInsideArena(t *testing.T) {
	cfg := testConfig()
	cfg.Species[0].InitialCount = 50
	cfg.Species[0].WalkSpeed = 500 // large steps to stress the edge handling
	cfg.Species[1].InitialCount = 5
	e := newTestEngine(t, cfg)

	for i := 0; i < 100; i++ {
		e.Tick(cfg.Derived.DT32)
	}

	query := e.filter.Query()
	for query.Next() {
		pos, _, _, _ := query.Get()
		if pos.X < 0 || pos.X >= 200 || pos.Y < 0 || pos.Y >= 200 {
			t.Fatalf("agent escaped to (%v, %v); arena is [0,200)x[0,200)", pos.X, pos.Y)
		}
	}
}

func TestNoDeadSurvivors(t *testing.T) {
	cfg := testConfig()
	cfg.Species[0].InitialCount = 40
	cfg.Species[0].MaxAge = 30
	cfg.Species[0].DeathRate = 0.02
	cfg.Species[1].InitialCount = 8
	cfg.Species[1].Hunting.SuccessProbability = 0.5
	e := newTestEngine(t, cfg)

	for i := 0; i < 60; i++ {
		e.Tick(cfg.Derived.DT32)

		count := 0
		query := e.filter.Query()
		for query.Next() {
			_, _, vitals, org := query.Get()
			count++
			if !vitals.Alive {
				t.Fatalf("tick %d: dead agent survived cleanup", i)
			}
			if vitals.Energy <= 0 {
				t.Fatalf("tick %d: agent alive with energy %v", i, vitals.Energy)
			}
			if vitals.Age > cfg.Species[org.SpeciesID].MaxAge {
				t.Fatalf("tick %d: agent alive past max_age at age %d", i, vitals.Age)
			}
		}
		if count != e.Population() {
			t.Fatalf("tick %d: Population() = %d but %d live entities", i, e.Population(), count)
		}
	}
}

// runPopulations drives an engine for n ticks, returning the per-tick
// population trace.
func runPopulations(t *testing.T, cfg *config.Config, opts Options, n int) []int {
	t.Helper()
	e, err := New(cfg, opts)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	trace := make([]int, n)
	for i := 0; i < n; i++ {
		e.Tick(cfg.Derived.DT32)
		trace[i] = e.Population()
	}
	return trace
}

func stochasticConfig() *config.Config {
	cfg := testConfig()
	cfg.Species[0].InitialCount = 80
	cfg.Species[0].GrowthRate = 0.05
	cfg.Species[0].DeathRate = 0.005
	cfg.Species[0].ReproThreshold = 30
	cfg.Species[0].MaturityAge = 5
	cfg.Species[1].InitialCount = 10
	cfg.Species[1].Hunting.SuccessProbability = 0.3
	return cfg
}

func TestDeterministicAcrossRuns(t *testing.T) {
	a := runPopulations(t, stochasticConfig(), Options{Seed: 7}, 100)
	b := runPopulations(t, stochasticConfig(), Options{Seed: 7}, 100)

	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("tick %d: population %d vs %d for identical seeds", i, a[i], b[i])
		}
	}
}

func TestSeedChangesOutcome(t *testing.T) {
	a := runPopulations(t, stochasticConfig(), Options{Seed: 7}, 100)
	b := runPopulations(t, stochasticConfig(), Options{Seed: 8}, 100)

	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different seeds produced identical population traces")
	}
}

func TestParallelMatchesSequential(t *testing.T) {
	a := runPopulations(t, stochasticConfig(), Options{Seed: 7}, 100)
	b := runPopulations(t, stochasticConfig(), Options{Seed: 7, Workers: 4}, 100)

	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("tick %d: sequential population %d, parallel %d", i, a[i], b[i])
		}
	}
}

func TestParallelPathKeepsBatchAdaptive(t *testing.T) {
	cfg := testConfig()
	cfg.Species[0].InitialCount = 100 // stable: no deaths, no births configured
	e, err := New(cfg, Options{Seed: 7, Workers: 4})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	initial := e.Debug().BatchSize
	for i := 0; i < 200; i++ {
		e.Tick(cfg.Derived.DT32)
	}

	if e.Population() != 100 {
		t.Fatalf("Population() = %d, want constant 100", e.Population())
	}
	// The worker pool executes the intent chunks, but every call still runs
	// through the batch processor: with intent ticks far under the 16ms
	// budget the size must have grown off its initial value.
	if got := e.Debug().BatchSize; got == initial {
		t.Errorf("BatchSize = %d after 200 parallel ticks, want adapted away from initial %d", got, initial)
	}
}

func TestSetSpeedRetainsOnInvalid(t *testing.T) {
	e := newTestEngine(t, testConfig())

	e.SetSpeed(5)
	for _, bad := range []int{0, -1, 11} {
		e.SetSpeed(bad)
		if e.speed != 5 {
			t.Errorf("SetSpeed(%d) changed speed to %d, want prior 5 retained", bad, e.speed)
		}
	}
}

func TestSetMaxPopulationRetainsOnInvalid(t *testing.T) {
	e := newTestEngine(t, testConfig())

	e.SetMaxPopulation(500)
	for _, bad := range []int{0, -10} {
		e.SetMaxPopulation(bad)
		if e.maxPopulation != 500 {
			t.Errorf("SetMaxPopulation(%d) changed cap to %d, want prior 500 retained", bad, e.maxPopulation)
		}
	}
}

func TestSetSpecies(t *testing.T) {
	e := newTestEngine(t, testConfig())

	// Valid update takes effect.
	updated := e.cfg.Species[0]
	updated.WalkSpeed = 99
	e.SetSpecies(updated)
	if e.cfg.Species[0].WalkSpeed != 99 {
		t.Errorf("WalkSpeed = %v after valid update, want 99", e.cfg.Species[0].WalkSpeed)
	}

	// Unknown name is rejected, existing definitions untouched.
	unknown := updated
	unknown.Name = "ghost"
	e.SetSpecies(unknown)
	if _, ok := e.cfg.Derived.SpeciesIndex["ghost"]; ok {
		t.Error("SetSpecies registered an unknown species")
	}

	// Class changes are rejected.
	reclassed := e.cfg.Species[0]
	reclassed.Class = "producer"
	e.SetSpecies(reclassed)
	if e.cfg.Species[0].Class != "prey" {
		t.Errorf("class changed to %q, want prior retained", e.cfg.Species[0].Class)
	}

	// Invalid definitions are rejected wholesale.
	invalid := e.cfg.Species[0]
	invalid.GrowthRate = 2
	prior := e.cfg.Species[0].GrowthRate
	e.SetSpecies(invalid)
	if e.cfg.Species[0].GrowthRate != prior {
		t.Errorf("GrowthRate = %v after invalid update, want prior %v retained", e.cfg.Species[0].GrowthRate, prior)
	}
}

func TestPredictNeedsHistory(t *testing.T) {
	cfg := testConfig()
	cfg.Species[0].InitialCount = 20
	e := newTestEngine(t, cfg)

	if _, ok := e.Predict(100); ok {
		t.Error("Predict succeeded with no recorded history")
	}

	for i := 0; i < 20; i++ {
		e.Tick(cfg.Derived.DT32)
	}

	pred, ok := e.Predict(100)
	if !ok {
		t.Fatal("Predict failed with 20 recorded samples")
	}
	if pred.Population < 0 {
		t.Errorf("predicted population %v, want non-negative", pred.Population)
	}
}

func TestUpdateRunsSpeedTicks(t *testing.T) {
	cfg := testConfig()
	cfg.Species[0].InitialCount = 5
	e := newTestEngine(t, cfg)

	e.SetSpeed(4)
	e.Update()
	if e.TickCount() != 4 {
		t.Errorf("TickCount() = %d after one Update at speed 4, want 4", e.TickCount())
	}
}

func TestRespawnFloor(t *testing.T) {
	cfg := testConfig()
	cfg.Species[0].InitialCount = 5
	cfg.Population.RespawnThreshold = 10
	cfg.Population.RespawnCount = 8
	e := newTestEngine(t, cfg)

	// The floor only engages after the grace period.
	e.tick = 150
	e.Tick(cfg.Derived.DT32)

	if e.Population() < 10 {
		t.Errorf("Population() = %d below respawn threshold 10 after floor tick", e.Population())
	}
}

func TestStatsClassCounts(t *testing.T) {
	cfg := testConfig()
	cfg.Species[0].InitialCount = 7
	cfg.Species[1].InitialCount = 3
	e := newTestEngine(t, cfg)

	e.Tick(cfg.Derived.DT32)

	stats := e.Stats()
	if stats.Prey != 7 {
		t.Errorf("Prey = %d, want 7", stats.Prey)
	}
	if stats.Predators != 3 {
		t.Errorf("Predators = %d, want 3", stats.Predators)
	}
	if stats.Population != 10 {
		t.Errorf("Population = %d, want 10", stats.Population)
	}
}

func TestInvalidConfigRejected(t *testing.T) {
	cfg := testConfig()
	cfg.Arena.Width = 0
	if _, err := New(cfg, Options{Seed: 1}); err == nil {
		t.Error("New accepted a zero-width arena")
	}

	cfg = testConfig()
	cfg.Species[1].Hunting = nil
	if _, err := New(cfg, Options{Seed: 1}); err == nil {
		t.Error("New accepted a predator without a hunting block")
	}
}
