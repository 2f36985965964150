// Package config provides configuration loading and validation for the
// simulation.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/terrarium/components"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all simulation configuration parameters.
type Config struct {
	Arena      ArenaConfig      `yaml:"arena"`
	Index      IndexConfig      `yaml:"index"`
	Batch      BatchConfig      `yaml:"batch"`
	Population PopulationConfig `yaml:"population"`
	Simulation SimulationConfig `yaml:"simulation"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Species    []SpeciesConfig  `yaml:"species"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// ArenaConfig holds the world dimensions. Agents exist in
// [0, width) x [0, height).
type ArenaConfig struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// IndexConfig holds spatial index parameters.
type IndexConfig struct {
	NodeCapacity int `yaml:"node_capacity"` // Max agents per quadtree node before subdivision
}

// BatchConfig holds adaptive batch processor parameters.
type BatchConfig struct {
	TargetBudgetMS   float64 `yaml:"target_budget_ms"` // Per-tick processing budget (16ms = 60 FPS)
	InitialBatchSize int     `yaml:"initial_batch_size"`
	MinBatchSize     int     `yaml:"min_batch_size"`
	MaxBatchSize     int     `yaml:"max_batch_size"`
}

// PopulationConfig holds population management parameters.
type PopulationConfig struct {
	Max              int `yaml:"max"`
	RespawnThreshold int `yaml:"respawn_threshold"` // Respawn when total drops below (0 = off)
	RespawnCount     int `yaml:"respawn_count"`
}

// SimulationConfig holds tick parameters.
type SimulationConfig struct {
	DT    float64 `yaml:"dt"`    // Seconds per tick
	Speed int     `yaml:"speed"` // Ticks per Update call (1-10)
}

// TelemetryConfig holds stats and perf collection parameters.
type TelemetryConfig struct {
	StatsWindowTicks    int `yaml:"stats_window_ticks"`
	PerfWindowTicks     int `yaml:"perf_window_ticks"`
	PredictorWindow     int `yaml:"predictor_window"`
	PredictorMinSamples int `yaml:"predictor_min_samples"`
}

// HuntingConfig holds the parameters of a hunting-capable species.
// Only predator and omnivore species may carry this block.
type HuntingConfig struct {
	Range              float64  `yaml:"range"`               // Perception distance for prey queries
	Speed              float64  `yaml:"speed"`               // Directed movement speed while hunting
	Prey               []string `yaml:"prey"`                // Behavioral classes this species hunts
	SuccessProbability float64  `yaml:"success_probability"` // Per-tick hunt success chance
	EnergyGain         float64  `yaml:"energy_gain"`         // Energy gained per kill, clamped to max_energy
}

// SpeciesConfig defines one organism type. All rates are per tick.
type SpeciesConfig struct {
	Name              string  `yaml:"name"`
	Class             string  `yaml:"class"` // prey, predator, producer, decomposer, omnivore
	InitialCount      int     `yaml:"initial_count"`
	GrowthRate        float64 `yaml:"growth_rate"` // Reproduction probability per tick when eligible
	DeathRate         float64 `yaml:"death_rate"`  // Random death probability per tick
	MaxAge            int32   `yaml:"max_age"`     // Ticks
	Size              float64 `yaml:"size"`
	EnergyConsumption float64 `yaml:"energy_consumption"`
	InitialEnergy     float64 `yaml:"initial_energy"`
	MaxEnergy         float64 `yaml:"max_energy"`
	WalkSpeed         float64 `yaml:"walk_speed"`  // Units per second; 0 = sessile
	TurnJitter        float64 `yaml:"turn_jitter"` // Max random heading change per tick, radians
	ReproThreshold    float64 `yaml:"repro_energy_threshold"`
	MaturityAge       int32   `yaml:"maturity_age"` // Ticks before reproduction is possible
	SpawnOffset       float64 `yaml:"spawn_offset"` // Newborn placement jitter (default 8)

	Hunting *HuntingConfig `yaml:"hunting,omitempty"`
}

// DerivedConfig holds values computed from the loaded config.
type DerivedConfig struct {
	DT32         float32                  // Simulation.DT as float32
	ArenaW32     float32                  // Arena width as float32
	ArenaH32     float32                  // Arena height as float32
	Classes      []components.Class       // Parsed class per species index
	PreyMasks    []uint8                  // Bitmask of huntable classes per species index
	SpeciesIndex map[string]uint8         // name -> species index
}

// ClassBit returns the prey-mask bit for a behavioral class.
func ClassBit(c components.Class) uint8 {
	return 1 << uint8(c)
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used. Validation failures are
// fatal configuration errors.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Finalize validates the configuration and computes the derived values the
// simulation reads. Load calls this automatically; hand-constructed configs
// must call it before use.
func (c *Config) Finalize() error {
	if err := c.Validate(); err != nil {
		return err
	}
	c.computeDerived()
	return nil
}

// Validate checks structural invariants. It is called once at setup; a
// failure here is fatal to that setup call.
func (c *Config) Validate() error {
	if c.Arena.Width <= 0 || c.Arena.Height <= 0 {
		return fmt.Errorf("config: arena dimensions must be positive, got %gx%g", c.Arena.Width, c.Arena.Height)
	}
	if c.Index.NodeCapacity < 1 {
		return fmt.Errorf("config: index node_capacity must be at least 1, got %d", c.Index.NodeCapacity)
	}
	if c.Batch.TargetBudgetMS <= 0 {
		return fmt.Errorf("config: batch target_budget_ms must be positive, got %g", c.Batch.TargetBudgetMS)
	}
	if c.Batch.MinBatchSize < 1 || c.Batch.MaxBatchSize < c.Batch.MinBatchSize {
		return fmt.Errorf("config: batch size bounds invalid: min=%d max=%d", c.Batch.MinBatchSize, c.Batch.MaxBatchSize)
	}
	if c.Population.Max < 1 {
		return fmt.Errorf("config: population max must be at least 1, got %d", c.Population.Max)
	}
	if c.Simulation.DT <= 0 {
		return fmt.Errorf("config: simulation dt must be positive, got %g", c.Simulation.DT)
	}
	if c.Simulation.Speed < 1 || c.Simulation.Speed > 10 {
		return fmt.Errorf("config: simulation speed must be in [1, 10], got %d", c.Simulation.Speed)
	}
	if len(c.Species) == 0 {
		return fmt.Errorf("config: at least one species is required")
	}
	if len(c.Species) > 256 {
		return fmt.Errorf("config: at most 256 species supported, got %d", len(c.Species))
	}

	seen := make(map[string]bool, len(c.Species))
	for i := range c.Species {
		if err := c.Species[i].Validate(); err != nil {
			return err
		}
		if seen[c.Species[i].Name] {
			return fmt.Errorf("config: duplicate species name %q", c.Species[i].Name)
		}
		seen[c.Species[i].Name] = true
	}
	return nil
}

// Validate checks a single species definition. Hunting parameters are
// required on hunting-capable classes and rejected on all others, so each
// species record carries exactly the fields its class needs.
func (s *SpeciesConfig) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("config: species name must not be empty")
	}
	class, ok := components.ParseClass(s.Class)
	if !ok {
		return fmt.Errorf("config: species %q has unknown class %q", s.Name, s.Class)
	}
	if s.GrowthRate < 0 || s.GrowthRate > 1 {
		return fmt.Errorf("config: species %q growth_rate must be in [0, 1], got %g", s.Name, s.GrowthRate)
	}
	if s.DeathRate < 0 || s.DeathRate > 1 {
		return fmt.Errorf("config: species %q death_rate must be in [0, 1], got %g", s.Name, s.DeathRate)
	}
	if s.MaxAge < 0 {
		return fmt.Errorf("config: species %q max_age must not be negative, got %d", s.Name, s.MaxAge)
	}
	if s.InitialCount < 0 {
		return fmt.Errorf("config: species %q initial_count must not be negative, got %d", s.Name, s.InitialCount)
	}
	if s.EnergyConsumption < 0 {
		return fmt.Errorf("config: species %q energy_consumption must not be negative, got %g", s.Name, s.EnergyConsumption)
	}
	if s.MaxEnergy <= 0 {
		return fmt.Errorf("config: species %q max_energy must be positive, got %g", s.Name, s.MaxEnergy)
	}
	if s.InitialEnergy <= 0 || s.InitialEnergy > s.MaxEnergy {
		return fmt.Errorf("config: species %q initial_energy must be in (0, max_energy], got %g", s.Name, s.InitialEnergy)
	}
	if s.WalkSpeed < 0 {
		return fmt.Errorf("config: species %q walk_speed must not be negative, got %g", s.Name, s.WalkSpeed)
	}
	if s.MaturityAge < 0 {
		return fmt.Errorf("config: species %q maturity_age must not be negative, got %d", s.Name, s.MaturityAge)
	}

	if class.CanHunt() {
		h := s.Hunting
		if h == nil {
			return fmt.Errorf("config: species %q class %s requires a hunting block", s.Name, class)
		}
		if h.Range <= 0 {
			return fmt.Errorf("config: species %q hunting range must be positive, got %g", s.Name, h.Range)
		}
		if h.Speed < 0 {
			return fmt.Errorf("config: species %q hunting speed must not be negative, got %g", s.Name, h.Speed)
		}
		if h.SuccessProbability < 0 || h.SuccessProbability > 1 {
			return fmt.Errorf("config: species %q hunting success_probability must be in [0, 1], got %g", s.Name, h.SuccessProbability)
		}
		if h.EnergyGain < 0 {
			return fmt.Errorf("config: species %q hunting energy_gain must not be negative, got %g", s.Name, h.EnergyGain)
		}
		if len(h.Prey) == 0 {
			return fmt.Errorf("config: species %q hunting prey list must not be empty", s.Name)
		}
		for _, p := range h.Prey {
			if _, ok := components.ParseClass(p); !ok {
				return fmt.Errorf("config: species %q hunts unknown class %q", s.Name, p)
			}
		}
	} else if s.Hunting != nil {
		return fmt.Errorf("config: species %q class %s must not carry a hunting block", s.Name, class)
	}

	return nil
}

// computeDerived calculates values derived from the loaded config.
// Must run after Validate.
func (c *Config) computeDerived() {
	c.Derived.DT32 = float32(c.Simulation.DT)
	c.Derived.ArenaW32 = float32(c.Arena.Width)
	c.Derived.ArenaH32 = float32(c.Arena.Height)

	c.Derived.Classes = make([]components.Class, len(c.Species))
	c.Derived.PreyMasks = make([]uint8, len(c.Species))
	c.Derived.SpeciesIndex = make(map[string]uint8, len(c.Species))

	for i := range c.Species {
		s := &c.Species[i]
		class, _ := components.ParseClass(s.Class)
		c.Derived.Classes[i] = class
		c.Derived.SpeciesIndex[s.Name] = uint8(i)

		if s.SpawnOffset == 0 {
			s.SpawnOffset = 8
		}

		if s.Hunting != nil {
			var mask uint8
			for _, p := range s.Hunting.Prey {
				pc, _ := components.ParseClass(p)
				mask |= ClassBit(pc)
			}
			c.Derived.PreyMasks[i] = mask
		}
	}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
