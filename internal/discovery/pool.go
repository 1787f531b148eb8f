package discovery

import (
	"context"

	"github.com/phenodcc/crawler/internal/database"
	"github.com/sourcegraph/conc/pool"
)

// Pool runs one discovery task per active FileSource, bounded at
// poolSize concurrent tasks (§4.6, §5). It drains fully before
// returning, matching the "discovery fully drains before downloads
// begin" ordering guarantee (§5).
type Pool struct {
	worker   *Worker
	poolSize int
}

// NewPool constructs a discovery Pool.
func NewPool(worker *Worker, poolSize int) *Pool {
	if poolSize < 1 {
		poolSize = 1
	}
	return &Pool{worker: worker, poolSize: poolSize}
}

// Run fans discovery out over every source and waits for all tasks to
// finish. A per-source failure is recorded by the worker itself and
// never aborts the run (§7).
func (p *Pool) Run(ctx context.Context, sources []database.FileSource) error {
	g := pool.New().WithContext(ctx).WithMaxGoroutines(p.poolSize)

	for _, source := range sources {
		source := source
		g.Go(func(ctx context.Context) error {
			return p.worker.DiscoverSource(ctx, source)
		})
	}

	return g.Wait()
}
