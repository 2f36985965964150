// Package systems provides the spatial index and batch scheduling used by
// the simulation core.
package systems

import (
	"errors"

	"github.com/mlange-42/ark/ecs"
)

var (
	// ErrInvalidBoundary is returned when a quadtree boundary has
	// non-positive width or height.
	ErrInvalidBoundary = errors.New("quadtree: boundary width and height must be positive")
	// ErrInvalidCapacity is returned when a quadtree node capacity is below 1.
	ErrInvalidCapacity = errors.New("quadtree: capacity must be at least 1")
)

// Rect is an axis-aligned rectangle. Containment is half-open on both axes,
// [X, X+W) x [Y, Y+H), so a point on a shared subdivision edge belongs to
// exactly one child.
type Rect struct {
	X, Y, W, H float32
}

// Contains reports whether p lies within the rectangle's half-open bounds.
func (r Rect) Contains(x, y float32) bool {
	return x >= r.X && x < r.X+r.W && y >= r.Y && y < r.Y+r.H
}

// Intersects reports whether two rectangles overlap.
func (r Rect) Intersects(o Rect) bool {
	return r.X < o.X+o.W && o.X < r.X+r.W && r.Y < o.Y+o.H && o.Y < r.Y+r.H
}

// Entry is a lightweight agent reference stored in the quadtree. The tree
// never owns agents; it holds the entity handle plus the position it was
// indexed at.
type Entry struct {
	E    ecs.Entity
	X, Y float32
}

// maxDepth bounds subdivision. Coincident or near-coincident points would
// otherwise split until float32 child widths collapse to zero and inserts
// start failing; the deepest node absorbs the overflow instead.
const maxDepth = 16

// Quadtree recursively partitions a rectangle to answer neighbor queries in
// sub-linear time for evenly distributed populations. It is rebuilt once per
// tick and read-only afterwards; it is not safe for concurrent mutation.
type Quadtree struct {
	boundary Rect
	capacity int
	depth    int
	entries  []Entry
	divided  bool

	ne, nw, se, sw *Quadtree
}

// NewQuadtree creates a quadtree covering boundary. Fails with
// ErrInvalidBoundary or ErrInvalidCapacity on malformed arguments.
func NewQuadtree(boundary Rect, capacity int) (*Quadtree, error) {
	if boundary.W <= 0 || boundary.H <= 0 {
		return nil, ErrInvalidBoundary
	}
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}
	return &Quadtree{
		boundary: boundary,
		capacity: capacity,
		entries:  make([]Entry, 0, capacity),
	}, nil
}

// newChild skips argument validation; the parent's boundary is already valid.
func newChild(boundary Rect, capacity, depth int) *Quadtree {
	return &Quadtree{
		boundary: boundary,
		capacity: capacity,
		depth:    depth,
		entries:  make([]Entry, 0, capacity),
	}
}

// Boundary returns the rectangle this node covers.
func (q *Quadtree) Boundary() Rect {
	return q.boundary
}

// Insert adds an entry to the subtree. Returns false when the position lies
// outside this node's boundary; that is "not applicable here", not an error.
func (q *Quadtree) Insert(e Entry) bool {
	if !q.boundary.Contains(e.X, e.Y) {
		return false
	}

	// At maxDepth the leaf exceeds capacity rather than subdividing further.
	if len(q.entries) < q.capacity || q.depth >= maxDepth {
		q.entries = append(q.entries, e)
		return true
	}

	if !q.divided {
		q.subdivide()
	}

	// Fixed child order keeps insertion deterministic. Half-open containment
	// guarantees exactly one child accepts the entry.
	if q.ne.Insert(e) {
		return true
	}
	if q.nw.Insert(e) {
		return true
	}
	if q.se.Insert(e) {
		return true
	}
	return q.sw.Insert(e)
}

// subdivide splits the node into four equal quadrants. Entries already
// stored at this node stay here; only the overflow descends.
func (q *Quadtree) subdivide() {
	hw := q.boundary.W / 2
	hh := q.boundary.H / 2
	x := q.boundary.X
	y := q.boundary.Y

	q.nw = newChild(Rect{X: x, Y: y, W: hw, H: hh}, q.capacity, q.depth+1)
	q.ne = newChild(Rect{X: x + hw, Y: y, W: q.boundary.W - hw, H: hh}, q.capacity, q.depth+1)
	q.sw = newChild(Rect{X: x, Y: y + hh, W: hw, H: q.boundary.H - hh}, q.capacity, q.depth+1)
	q.se = newChild(Rect{X: x + hw, Y: y + hh, W: q.boundary.W - hw, H: q.boundary.H - hh}, q.capacity, q.depth+1)
	q.divided = true
}

// Query appends all entries whose position lies within r to dst and returns
// the updated slice. Reuse dst across calls to avoid allocations.
func (q *Quadtree) Query(r Rect, dst []Entry) []Entry {
	if !q.boundary.Intersects(r) {
		return dst
	}

	for _, e := range q.entries {
		if r.Contains(e.X, e.Y) {
			dst = append(dst, e)
		}
	}

	if q.divided {
		dst = q.ne.Query(r, dst)
		dst = q.nw.Query(r, dst)
		dst = q.se.Query(r, dst)
		dst = q.sw.Query(r, dst)
	}

	return dst
}

// intersectsCircle reports whether the closed rectangle comes within radius
// of (x, y). Used for pruning only; it over-approximates the half-open node
// region, which is safe because every entry gets the exact distance test.
func (r Rect) intersectsCircle(x, y, radius float32) bool {
	cx := x
	if cx < r.X {
		cx = r.X
	} else if cx > r.X+r.W {
		cx = r.X + r.W
	}
	cy := y
	if cy < r.Y {
		cy = r.Y
	} else if cy > r.Y+r.H {
		cy = r.Y + r.H
	}
	dx := x - cx
	dy := y - cy
	return dx*dx+dy*dy <= radius*radius
}

// QueryRadius appends all entries within radius of (x, y) to dst, distance
// inclusive. A negative radius yields an empty result, not an error.
// Every candidate passes the exact dx*dx+dy*dy <= r*r test, so inclusion at
// exactly the radius holds at any coordinate scale.
func (q *Quadtree) QueryRadius(x, y, radius float32, dst []Entry) []Entry {
	if radius < 0 {
		return dst
	}
	return q.queryCircle(x, y, radius, radius*radius, dst)
}

func (q *Quadtree) queryCircle(x, y, radius, radiusSq float32, dst []Entry) []Entry {
	if !q.boundary.intersectsCircle(x, y, radius) {
		return dst
	}

	for _, e := range q.entries {
		dx := e.X - x
		dy := e.Y - y
		if dx*dx+dy*dy <= radiusSq {
			dst = append(dst, e)
		}
	}

	if q.divided {
		dst = q.ne.queryCircle(x, y, radius, radiusSq, dst)
		dst = q.nw.queryCircle(x, y, radius, radiusSq, dst)
		dst = q.se.queryCircle(x, y, radius, radiusSq, dst)
		dst = q.sw.queryCircle(x, y, radius, radiusSq, dst)
	}
	return dst
}

// Clear drops all entries and children, returning the node to its
// unsubdivided construction state.
func (q *Quadtree) Clear() {
	q.entries = q.entries[:0]
	q.ne, q.nw, q.se, q.sw = nil, nil, nil, nil
	q.divided = false
}

// Count returns the total number of entries stored in the subtree.
func (q *Quadtree) Count() int {
	n := len(q.entries)
	if q.divided {
		n += q.ne.Count() + q.nw.Count() + q.se.Count() + q.sw.Count()
	}
	return n
}

// NodeCount returns the number of nodes in the subtree, including this one.
func (q *Quadtree) NodeCount() int {
	n := 1
	if q.divided {
		n += q.ne.NodeCount() + q.nw.NodeCount() + q.se.NodeCount() + q.sw.NodeCount()
	}
	return n
}
