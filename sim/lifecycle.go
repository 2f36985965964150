package sim

import (
	"log/slog"
	"math"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/terrarium/components"
	"github.com/pthm-cable/terrarium/config"
	"github.com/pthm-cable/terrarium/systems"
	"github.com/pthm-cable/terrarium/telemetry"
)

// agentWork carries one agent through a tick: the read-only snapshot taken
// at tick start plus the intent computed from it. Intents are pure with
// respect to shared state, so chunks may run on the worker pool.
type agentWork struct {
	entity    ecs.Entity
	speciesID uint8
	class     components.Class

	// Snapshot
	x, y    float32
	heading float32

	// Pre-rolled randomness. Rolled sequentially during snapshot so the
	// sequential and parallel strategies consume the RNG identically.
	turnJitter float32

	// Intent
	newX, newY float32
	newHeading float32
	target     ecs.Entity
	hasTarget  bool
}

// birth is a buffered reproduction event, merged into the population only
// after every chunk of the tick completes.
type birth struct {
	speciesID uint8
	x, y      float32
	heading   float32
}

// Tick advances the simulation by one step and returns its statistics.
// Deterministic given the same agent collection, RNG seed and dt. Phases:
// snapshot, spatial rebuild, intent computation (batched, optionally on the
// worker pool), sequential resolve, cleanup and merge, stats.
func (e *Engine) Tick(dt float32) telemetry.TickStats {
	e.perf.StartTick()

	e.perf.StartPhase(telemetry.PhaseSnapshot)
	e.snapshotAgents()

	e.perf.StartPhase(telemetry.PhaseSpatial)
	e.spatial.Rebuild(e.entries)

	e.perf.StartPhase(telemetry.PhaseIntents)
	e.computeIntents(dt)

	e.perf.StartPhase(telemetry.PhaseResolve)
	e.resolve()

	e.perf.StartPhase(telemetry.PhaseCleanup)
	e.cleanupDead()
	e.mergeBirths()
	e.respawnFloor()

	e.perf.StartPhase(telemetry.PhaseStats)
	e.tick++
	e.flushStats()

	e.perf.EndTick()
	return e.lastStats
}

// snapshotAgents captures the live population and pre-rolls the tick's
// per-agent randomness. Also builds the entry list for the index rebuild.
func (e *Engine) snapshotAgents() {
	e.work = e.work[:0]
	e.entries = e.entries[:0]
	e.deadThisTick = 0

	query := e.filter.Query()
	for query.Next() {
		entity := query.Entity()
		pos, rot, vitals, org := query.Get()

		if !vitals.Alive {
			continue
		}

		e.work = append(e.work, agentWork{
			entity:     entity,
			speciesID:  org.SpeciesID,
			class:      org.Class,
			x:          pos.X,
			y:          pos.Y,
			heading:    rot.Heading,
			turnJitter: e.rng.Float32()*2 - 1,
		})
		e.entries = append(e.entries, systems.Entry{E: entity, X: pos.X, Y: pos.Y})
	}
}

// computeIntents fills every agent's movement proposal and hunt target.
// Reads only the post-rebuild index and component snapshots; never mutates
// shared state, so the pool path and the inline path agree. Both run through
// the batch processor, so its budget measurement and size adaptation stay
// live whichever strategy executes the chunks.
func (e *Engine) computeIntents(dt float32) {
	if len(e.work) == 0 {
		return
	}

	e.batch.ProcessRanges(len(e.work), func(start, end int) {
		scratch := e.scratchPool.Get().(*[]systems.Entry)
		for i := start; i < end; i++ {
			e.work[i] = e.computeIntent(e.work[i], dt, scratch)
		}
		e.scratchPool.Put(scratch)
	})
}

// computeIntent proposes the agent's movement for this tick: a bounded
// random walk, or a directed vector toward the nearest valid prey when the
// class hunts and a candidate is in range.
func (e *Engine) computeIntent(w agentWork, dt float32, scratch *[]systems.Entry) agentWork {
	sp := &e.cfg.Species[w.speciesID]

	heading := w.heading + w.turnJitter*float32(sp.TurnJitter)
	speed := float32(sp.WalkSpeed) * dt

	if w.class.CanHunt() {
		h := sp.Hunting
		preyMask := e.cfg.Derived.PreyMasks[w.speciesID]

		*scratch = e.spatial.FindNearby(w.x, w.y, float32(h.Range), (*scratch)[:0])

		bestDistSq := float32(math.MaxFloat32)
		for _, n := range *scratch {
			if n.E == w.entity {
				continue
			}
			org := e.orgMap.Get(n.E)
			if org == nil || preyMask&config.ClassBit(org.Class) == 0 {
				continue
			}
			vitals := e.vitalsMap.Get(n.E)
			if vitals == nil || !vitals.Alive {
				continue
			}

			dx := n.X - w.x
			dy := n.Y - w.y
			distSq := dx*dx + dy*dy
			if distSq < bestDistSq {
				bestDistSq = distSq
				w.target = n.E
				w.hasTarget = true
				heading = float32(math.Atan2(float64(dy), float64(dx)))
			}
		}
		if w.hasTarget {
			speed = float32(h.Speed) * dt
		}
	}

	nx := w.x + float32(math.Cos(float64(heading)))*speed
	ny := w.y + float32(math.Sin(float64(heading)))*speed
	w.newX, w.newY = e.clampToArena(nx, ny)
	w.newHeading = heading
	return w
}

// edgeInset keeps clamped agents strictly inside the half-open arena.
const edgeInset = 1e-3

// clampToArena reflects a position at the arena edges, then clamps so the
// result always lies in [0, width) x [0, height).
func (e *Engine) clampToArena(x, y float32) (float32, float32) {
	w := e.cfg.Derived.ArenaW32
	h := e.cfg.Derived.ArenaH32

	if x < 0 {
		x = -x
	}
	if x >= w {
		x = 2*w - x
	}
	if x < 0 || x >= w {
		x = clamp32(x, 0, w-edgeInset)
	}

	if y < 0 {
		y = -y
	}
	if y >= h {
		y = 2*h - y
	}
	if y < 0 || y >= h {
		y = clamp32(y, 0, h-edgeInset)
	}

	return x, y
}

// resolve applies the lifecycle state machine to every agent in snapshot
// order: aging, probabilistic death, energy consumption, predation,
// reproduction, movement. Runs single-threaded; this is the only phase that
// mutates agents, and it is where all remaining randomness is drawn.
func (e *Engine) resolve() {
	for i := range e.work {
		w := &e.work[i]

		vitals := e.vitalsMap.Get(w.entity)
		if vitals == nil || !vitals.Alive {
			// Killed by a predator resolved earlier this tick.
			continue
		}
		sp := &e.cfg.Species[w.speciesID]

		// 1. Aging
		vitals.Age++
		if vitals.Age > sp.MaxAge {
			e.kill(vitals, telemetry.DeathOldAge)
			continue
		}
		if sp.DeathRate > 0 && e.rng.Float64() < sp.DeathRate {
			e.kill(vitals, telemetry.DeathRandom)
			continue
		}

		// 2. Energy consumption
		vitals.Energy -= float32(sp.EnergyConsumption)
		if vitals.Energy <= 0 {
			vitals.Energy = 0
			e.kill(vitals, telemetry.DeathStarved)
			continue
		}

		// 3. Predation
		if w.hasTarget {
			targetVitals := e.vitalsMap.Get(w.target)
			if targetVitals != nil && targetVitals.Alive {
				e.collector.RecordHuntAttempt()
				if e.rng.Float64() < sp.Hunting.SuccessProbability {
					e.kill(targetVitals, telemetry.DeathHunted)
					e.collector.RecordKill()

					vitals.Energy += float32(sp.Hunting.EnergyGain)
					if vitals.Energy > float32(sp.MaxEnergy) {
						vitals.Energy = float32(sp.MaxEnergy)
					}
				}
			}
		}

		// 4. Reproduction
		if vitals.Energy >= float32(sp.ReproThreshold) && vitals.Age >= sp.MaturityAge &&
			e.aliveCount-e.deadThisTick+len(e.births) < e.maxPopulation {
			if e.rng.Float64() < sp.GrowthRate {
				offset := float32(sp.SpawnOffset)
				bx := w.newX + (e.rng.Float32()*2-1)*offset
				by := w.newY + (e.rng.Float32()*2-1)*offset
				bx, by = e.clampToArena(bx, by)
				e.births = append(e.births, birth{
					speciesID: w.speciesID,
					x:         bx,
					y:         by,
					heading:   e.rng.Float32() * 2 * math.Pi,
				})
			}
		}

		// 5. Movement
		pos := e.posMap.Get(w.entity)
		rot := e.rotMap.Get(w.entity)
		if pos != nil && rot != nil {
			pos.X = w.newX
			pos.Y = w.newY
			rot.Heading = w.newHeading
		}
	}
}

// kill marks an agent dead and records the cause. Removal happens in the
// cleanup phase so the tick's snapshot stays index-stable.
func (e *Engine) kill(vitals *components.Vitals, cause telemetry.DeathCause) {
	vitals.Alive = false
	e.deadThisTick++
	e.collector.RecordDeath(cause)
}

// cleanupDead removes dead entities after the resolve phase completes.
func (e *Engine) cleanupDead() {
	var toRemove []ecs.Entity

	query := e.filter.Query()
	for query.Next() {
		_, _, vitals, _ := query.Get()
		if !vitals.Alive {
			toRemove = append(toRemove, query.Entity())
		}
	}

	for _, entity := range toRemove {
		e.mapper.Remove(entity)
		e.aliveCount--
	}
}

// mergeBirths spawns the tick's buffered newborns.
func (e *Engine) mergeBirths() {
	for _, b := range e.births {
		if e.aliveCount >= e.maxPopulation {
			break
		}
		e.spawnAgent(b.speciesID, b.x, b.y, b.heading)
		e.collector.RecordBirth()
	}
	e.births = e.births[:0]
}

// respawnFloor tops the population back up when it collapses below the
// configured threshold, sampling species by their initial-count weights.
func (e *Engine) respawnFloor() {
	threshold := e.cfg.Population.RespawnThreshold
	if threshold <= 0 || e.aliveCount >= threshold || e.tick < 100 {
		return
	}

	totalInitial := 0
	for i := range e.cfg.Species {
		totalInitial += e.cfg.Species[i].InitialCount
	}
	if totalInitial == 0 {
		return
	}

	for i := 0; i < e.cfg.Population.RespawnCount && e.aliveCount < e.maxPopulation; i++ {
		pick := e.rng.Intn(totalInitial)
		speciesID := uint8(0)
		for j := range e.cfg.Species {
			pick -= e.cfg.Species[j].InitialCount
			if pick < 0 {
				speciesID = uint8(j)
				break
			}
		}

		x := e.rng.Float32() * e.cfg.Derived.ArenaW32
		y := e.rng.Float32() * e.cfg.Derived.ArenaH32
		e.spawnAgent(speciesID, x, y, e.rng.Float32()*2*math.Pi)
		e.collector.RecordBirth()
	}
}

// flushStats computes the tick's statistics from the post-update
// population, feeds the predictor, and emits window output when due.
func (e *Engine) flushStats() {
	var classCounts [5]int
	var ageSum int64
	var oldest int32

	query := e.filter.Query()
	for query.Next() {
		_, _, vitals, org := query.Get()
		if !vitals.Alive {
			continue
		}
		classCounts[org.Class]++
		ageSum += int64(vitals.Age)
		if vitals.Age > oldest {
			oldest = vitals.Age
		}
	}

	e.lastStats = e.collector.FlushTick(e.tick, classCounts, ageSum, oldest)
	e.predictor.Record(e.tick, e.lastStats.Population)

	if e.collector.ShouldFlushWindow(e.tick) {
		ages := make([]float64, 0, e.lastStats.Population)
		ageQuery := e.filter.Query()
		for ageQuery.Next() {
			_, _, vitals, _ := ageQuery.Get()
			if vitals.Alive {
				ages = append(ages, float64(vitals.Age))
			}
		}

		window := e.collector.FlushWindow(e.tick, e.lastStats.Population, ages)
		if e.logStats {
			window.LogStats()
			e.perf.Stats().LogStats()
		}
		// Telemetry output failures never abort the tick.
		if err := e.output.WriteStats(window); err != nil {
			slog.Warn("failed to write window stats", "error", err)
		}
		if err := e.output.WritePerf(e.perf.Stats(), e.tick); err != nil {
			slog.Warn("failed to write perf stats", "error", err)
		}
	}
}

// clamp32 clamps x to [min, max].
func clamp32(x, min, max float32) float32 {
	if x < min {
		return min
	}
	if x > max {
		return max
	}
	return x
}
