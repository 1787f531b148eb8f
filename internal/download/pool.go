package download

import (
	"context"

	"github.com/sourcegraph/conc/pool"
)

// Pool runs poolSize download workers concurrently, each independently
// claiming and draining the claimable set until it is empty (§4.7, §5).
type Pool struct {
	newWorker func() *Worker
	poolSize  int
}

// NewPool builds a download Pool. newWorker is called once per worker
// goroutine so each gets its own connection cache (§4.7's "within this
// worker only" scoping).
func NewPool(newWorker func() *Worker, poolSize int) *Pool {
	if poolSize < 1 {
		poolSize = 1
	}
	return &Pool{newWorker: newWorker, poolSize: poolSize}
}

// Run starts poolSize workers and waits for all of them to drain.
func (p *Pool) Run(ctx context.Context) error {
	g := pool.New().WithContext(ctx).WithMaxGoroutines(p.poolSize)
	for i := 0; i < p.poolSize; i++ {
		g.Go(func(ctx context.Context) error {
			return p.newWorker().Run(ctx)
		})
	}
	return g.Wait()
}
