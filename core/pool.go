package core

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrent work to a fixed number of slots and propagates
// the first error, grounded on loop.go's worker-goroutine dispatch
// pattern but expressed with golang.org/x/sync's errgroup+semaphore
// instead of a hand-rolled channel pool, since the corpus (arx-os-arxos,
// diskstore.go's ioLoop) already reaches for that pairing for bounded
// fan-out.
type Pool struct {
	sem *semaphore.Weighted
	cap int64
}

// NewPool builds a pool with the given concurrency limit.
func NewPool(concurrency int) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(concurrency)), cap: int64(concurrency)}
}

// Run executes each of fns with at most p's concurrency limit active at
// once, returning the first error (others are still awaited to
// completion, cancelling the shared context).
func (p *Pool) Run(ctx context.Context, fns ...func(ctx context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, fn := range fns {
		fn := fn
		if err := p.sem.Acquire(gctx, 1); err != nil {
			return err
		}
		g.Go(func() error {
			defer p.sem.Release(1)
			return fn(gctx)
		})
	}
	return g.Wait()
}

// Pools bundles the compute pool (filter/codec work, CPU-bound) and the
// I/O pool (VFS reads/writes, wait-bound) a Query or Consolidator
// dispatches onto, per SPEC_FULL.md §5's split-pool concurrency model.
type Pools struct {
	Compute *Pool
	IO      *Pool
}

// NewPools sizes the compute pool to computeConcurrency (typically
// GOMAXPROCS) and the I/O pool to ioConcurrency (typically higher,
// since I/O workers spend most of their time blocked).
func NewPools(computeConcurrency, ioConcurrency int) *Pools {
	return &Pools{Compute: NewPool(computeConcurrency), IO: NewPool(ioConcurrency)}
}
