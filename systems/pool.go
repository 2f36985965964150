package systems

import (
	"runtime"
	"sync"
)

// ParallelThreshold is the minimum item count before chunk offload to the
// worker pool pays for itself. Below this, goroutine overhead dominates.
const ParallelThreshold = 64

// poolChunk carries one index range plus the function to run over it.
type poolChunk struct {
	start, end int
	fn         func(start, end int)
}

// WorkerPool runs index-range chunks on persistent worker goroutines. It is
// an optional throughput path: callers must guarantee the chunk function
// performs no shared mutation across ranges (read-only index access, writes
// only inside [start, end)). The sequential path is always the reference.
type WorkerPool struct {
	numWorkers int

	workChan chan poolChunk
	doneChan chan struct{}
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
}

// NewWorkerPool creates a pool with one worker per CPU when workers <= 0.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &WorkerPool{numWorkers: workers}
}

// Workers returns the number of workers the pool dispatches to.
func (p *WorkerPool) Workers() int {
	return p.numWorkers
}

// start launches the persistent worker goroutines.
func (p *WorkerPool) start() {
	if p.running {
		return
	}

	p.workChan = make(chan poolChunk, p.numWorkers)
	p.doneChan = make(chan struct{}, p.numWorkers)
	p.stopChan = make(chan struct{})
	p.running = true

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Stop signals all workers to exit and waits for them.
func (p *WorkerPool) Stop() {
	if !p.running {
		return
	}

	close(p.stopChan)
	p.wg.Wait()
	close(p.workChan)
	close(p.doneChan)
	p.running = false
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			return
		case chunk, ok := <-p.workChan:
			if !ok {
				return
			}
			chunk.fn(chunk.start, chunk.end)
			p.doneChan <- struct{}{}
		}
	}
}

// Run splits [0, n) into one chunk per worker, dispatches them, and blocks
// until every chunk completes.
func (p *WorkerPool) Run(n int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	if !p.running {
		p.start()
	}

	chunkSize := (n + p.numWorkers - 1) / p.numWorkers

	dispatched := 0
	for w := 0; w < p.numWorkers; w++ {
		start := w * chunkSize
		end := start + chunkSize
		if end > n {
			end = n
		}
		if start >= end {
			continue
		}

		p.workChan <- poolChunk{start: start, end: end, fn: fn}
		dispatched++
	}

	for i := 0; i < dispatched; i++ {
		<-p.doneChan
	}
}
