package systems

import (
	"errors"
	"time"
)

var (
	// ErrInvalidBudget is returned when the batch target budget is not positive.
	ErrInvalidBudget = errors.New("batch: target budget must be positive")
	// ErrInvalidBatchBounds is returned when the batch size bounds are malformed.
	ErrInvalidBatchBounds = errors.New("batch: need 1 <= min batch size <= max batch size")
)

// BatchConfig configures the adaptive batch processor.
type BatchConfig struct {
	// TargetBudget is the per-call processing time to hold, e.g. 16ms for
	// a 60 FPS frame budget.
	TargetBudget time.Duration
	// InitialBatchSize is the starting chunk size; clamped to the bounds.
	InitialBatchSize int
	MinBatchSize     int
	MaxBatchSize     int
	// Tolerance is the fraction over budget accepted before shrinking.
	// Zero means the default of 0.1 (10%).
	Tolerance float64
}

// BatchResult reports one Process call.
type BatchResult struct {
	// Processed is the number of items updated; always equal to the input
	// length, chunking is a measurement granularity, not a sampling one.
	Processed int
	// Elapsed is the wall-clock time for the whole call.
	Elapsed time.Duration
	// BatchSize is the chunk size recommended for the next call.
	BatchSize int
}

const (
	defaultTolerance = 0.1
	// shrinkFloor and growthCeil damp adjustment to at most +-50% per call
	// so a single noisy measurement cannot swing the batch size wildly.
	shrinkFloor = 0.5
	growthCeil  = 1.5
)

// ChunkRunner executes index-range chunks, possibly concurrently.
// WorkerPool satisfies it.
type ChunkRunner interface {
	Run(n int, fn func(start, end int))
}

// BatchProcessor applies an update function to a list of items in
// consecutive chunks, re-estimating the chunk size after every call to hold
// the target budget. Every item is always updated; the chunk size only
// changes between calls, never mid-call. An installed ChunkRunner is an
// execution strategy, not a bypass: timing and adaptation run on both paths.
type BatchProcessor[T any] struct {
	cfg  BatchConfig
	size int
	now  func() time.Time

	runner    ChunkRunner
	threshold int
}

// NewBatchProcessor validates cfg and creates a processor. The timing source
// defaults to time.Now; see SetTimeSource.
func NewBatchProcessor[T any](cfg BatchConfig) (*BatchProcessor[T], error) {
	if cfg.TargetBudget <= 0 {
		return nil, ErrInvalidBudget
	}
	if cfg.MinBatchSize < 1 || cfg.MaxBatchSize < cfg.MinBatchSize {
		return nil, ErrInvalidBatchBounds
	}
	if cfg.Tolerance == 0 {
		cfg.Tolerance = defaultTolerance
	}
	size := cfg.InitialBatchSize
	if size < cfg.MinBatchSize {
		size = cfg.MinBatchSize
	}
	if size > cfg.MaxBatchSize {
		size = cfg.MaxBatchSize
	}
	return &BatchProcessor[T]{cfg: cfg, size: size, now: time.Now}, nil
}

// SetTimeSource replaces the wall clock. Tests inject a synthetic clock so
// the batch size sequence is reproducible from chosen measurements.
func (p *BatchProcessor[T]) SetTimeSource(now func() time.Time) {
	p.now = now
}

// SetRunner installs a parallel execution strategy, used when a call covers
// at least threshold items (threshold <= 0 means ParallelThreshold). The
// runner receives the whole index range and may split it across goroutines,
// so the chunk function must be safe to run concurrently over disjoint
// ranges. Below the threshold, and with no runner, chunks run inline.
func (p *BatchProcessor[T]) SetRunner(r ChunkRunner, threshold int) {
	if threshold <= 0 {
		threshold = ParallelThreshold
	}
	p.runner = r
	p.threshold = threshold
}

// BatchSize returns the current chunk size.
func (p *BatchProcessor[T]) BatchSize() int {
	return p.size
}

// Process applies fn to every item in place, chunk by chunk, then adapts the
// chunk size from the measured elapsed time.
func (p *BatchProcessor[T]) Process(items []T, fn func(T) T) BatchResult {
	return p.ProcessRanges(len(items), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			items[i] = fn(items[i])
		}
	})
}

// ProcessRanges drives fn over [0, n) in chunks, measures the whole call,
// and adapts the chunk size. With a runner installed and n at or above the
// threshold, the range is dispatched to it; otherwise chunks of the current
// batch size run inline. Either way every index is covered exactly once.
func (p *BatchProcessor[T]) ProcessRanges(n int, fn func(start, end int)) BatchResult {
	start := p.now()

	if p.runner != nil && n >= p.threshold {
		p.runner.Run(n, fn)
	} else {
		for lo := 0; lo < n; lo += p.size {
			hi := lo + p.size
			if hi > n {
				hi = n
			}
			fn(lo, hi)
		}
	}

	elapsed := p.now().Sub(start)
	p.size = p.adapt(elapsed)

	return BatchResult{
		Processed: n,
		Elapsed:   elapsed,
		BatchSize: p.size,
	}
}

// adapt returns the next batch size for the observed elapsed time:
// multiplicative shrink when over budget beyond tolerance, damped growth
// when comfortably under, clamped to the configured bounds.
func (p *BatchProcessor[T]) adapt(elapsed time.Duration) int {
	budget := float64(p.cfg.TargetBudget)
	next := p.size

	switch {
	case float64(elapsed) > budget*(1+p.cfg.Tolerance):
		factor := budget / float64(elapsed)
		if factor < shrinkFloor {
			factor = shrinkFloor
		}
		next = int(float64(p.size) * factor)
		if next >= p.size {
			next = p.size - 1
		}
	case float64(elapsed) < budget*0.5:
		next = int(float64(p.size) * growthCeil)
		if next <= p.size {
			next = p.size + 1
		}
	}

	if next < p.cfg.MinBatchSize {
		next = p.cfg.MinBatchSize
	}
	if next > p.cfg.MaxBatchSize {
		next = p.cfg.MaxBatchSize
	}
	return next
}
