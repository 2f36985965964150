// Package components defines ECS components for the simulation.
package components

// Class is an organism's behavioral class. It determines which lifecycle
// rules apply to the organism each tick.
type Class uint8

const (
	ClassPrey Class = iota
	ClassPredator
	ClassProducer
	ClassDecomposer
	ClassOmnivore
)

// String returns the lowercase class name used in config files and logs.
func (c Class) String() string {
	switch c {
	case ClassPrey:
		return "prey"
	case ClassPredator:
		return "predator"
	case ClassProducer:
		return "producer"
	case ClassDecomposer:
		return "decomposer"
	case ClassOmnivore:
		return "omnivore"
	}
	return "unknown"
}

// ParseClass maps a config class name to its Class value.
func ParseClass(s string) (Class, bool) {
	switch s {
	case "prey":
		return ClassPrey, true
	case "predator":
		return ClassPredator, true
	case "producer":
		return ClassProducer, true
	case "decomposer":
		return ClassDecomposer, true
	case "omnivore":
		return ClassOmnivore, true
	}
	return 0, false
}

// CanHunt reports whether the class has hunting capability.
func (c Class) CanHunt() bool {
	return c == ClassPredator || c == ClassOmnivore
}

// Position represents an entity's world position.
type Position struct {
	X, Y float32
}

// Rotation holds an entity's heading in radians.
type Rotation struct {
	Heading float32
}

// Vitals holds per-agent lifecycle state. Age is in whole ticks; an agent
// is removed once Age exceeds its species' max age or Energy drops to zero.
type Vitals struct {
	Energy float32
	Age    int32
	Alive  bool
}

// Organism identifies an agent and binds it to its species definition.
type Organism struct {
	ID        uint32
	SpeciesID uint8
	Class     Class
}
