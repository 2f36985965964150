package systems

import (
	"fmt"
	"time"
)

// rebuildWindow is the number of rebuild latency samples kept for the
// rolling average.
const rebuildWindow = 100

// SpatialManager owns the tick's spatial index. It rebuilds a fresh quadtree
// from the live agent set once per tick and serves radius/rectangle queries
// against that snapshot. Queries are read-only after Rebuild returns, so no
// locking is needed within a tick.
type SpatialManager struct {
	arena    Rect
	capacity int
	tree     *Quadtree

	// Rebuild latency diagnostics (rolling window).
	samples     [rebuildWindow]time.Duration
	writeIndex  int
	sampleCount int
	lastRebuild time.Duration
	rebuilds    uint64
	dropped     int

	now func() time.Time
}

// NewSpatialManager creates a manager for the given arena bounds.
// Invalid bounds or capacity are fatal configuration errors.
func NewSpatialManager(arena Rect, capacity int) (*SpatialManager, error) {
	tree, err := NewQuadtree(arena, capacity)
	if err != nil {
		return nil, fmt.Errorf("spatial manager: %w", err)
	}
	return &SpatialManager{
		arena:    arena,
		capacity: capacity,
		tree:     tree,
		now:      time.Now,
	}, nil
}

// Rebuild discards the previous index and inserts every in-arena entry into
// a fresh root. Entries outside the arena are silently dropped; they should
// not exist per the agent invariants, but indexing must not crash on them.
// A zero-entry rebuild produces a valid empty index.
func (m *SpatialManager) Rebuild(entries []Entry) {
	start := m.now()

	m.tree.Clear()
	m.dropped = 0
	for _, e := range entries {
		if !m.tree.Insert(e) {
			m.dropped++
		}
	}

	elapsed := m.now().Sub(start)
	m.lastRebuild = elapsed
	m.samples[m.writeIndex] = elapsed
	m.writeIndex = (m.writeIndex + 1) % rebuildWindow
	if m.sampleCount < rebuildWindow {
		m.sampleCount++
	}
	m.rebuilds++
}

// FindNearby returns all indexed agents within radius of (x, y), appended to
// dst. Results come from the post-rebuild snapshot only, never a stale tree.
func (m *SpatialManager) FindNearby(x, y, radius float32, dst []Entry) []Entry {
	return m.tree.QueryRadius(x, y, radius, dst)
}

// FindInArea returns all indexed agents within r, appended to dst.
func (m *SpatialManager) FindInArea(r Rect, dst []Entry) []Entry {
	return m.tree.Query(r, dst)
}

// Arena returns the arena bounds the index covers.
func (m *SpatialManager) Arena() Rect {
	return m.arena
}

// AgentCount returns the number of agents in the current index.
func (m *SpatialManager) AgentCount() int {
	return m.tree.Count()
}

// NodeCount returns the number of quadtree nodes in the current index.
func (m *SpatialManager) NodeCount() int {
	return m.tree.NodeCount()
}

// DroppedCount returns how many entries fell outside the arena during the
// most recent rebuild.
func (m *SpatialManager) DroppedCount() int {
	return m.dropped
}

// LastRebuildTime returns the duration of the most recent rebuild.
func (m *SpatialManager) LastRebuildTime() time.Duration {
	return m.lastRebuild
}

// AvgRebuildTime returns the mean rebuild duration over the rolling window.
func (m *SpatialManager) AvgRebuildTime() time.Duration {
	if m.sampleCount == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < m.sampleCount; i++ {
		total += m.samples[i]
	}
	return total / time.Duration(m.sampleCount)
}

// RebuildCount returns the cumulative number of rebuilds.
func (m *SpatialManager) RebuildCount() uint64 {
	return m.rebuilds
}
