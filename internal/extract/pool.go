package extract

import (
	"context"
	"log/slog"

	"github.com/sourcegraph/conc/pool"
)

// Pool is the unbounded, cached extraction pool of §5: one task per
// downloaded archive, submitted asynchronously by download workers and
// drained as a barrier before post-ingest begins.
type Pool struct {
	worker *Worker
	logger *slog.Logger
	tasks  *pool.ContextPool
}

// NewPool wires worker into a Pool bound to ctx's lifetime.
func NewPool(ctx context.Context, worker *Worker, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		worker: worker,
		logger: logger.With("component", "extraction-pool"),
		tasks:  pool.New().WithContext(ctx),
	}
}

// Submit implements download.ExtractionSubmitter: it enqueues an
// extraction task without blocking the calling download worker.
func (p *Pool) Submit(ctx context.Context, zipDownloadID int64, localPath string) {
	p.tasks.Go(func(ctx context.Context) error {
		if err := p.worker.ExtractArchive(ctx, zipDownloadID, localPath); err != nil {
			p.logger.Warn("extraction task failed", "zip_download_id", zipDownloadID, "local_path", localPath, "error", err)
		}
		return nil
	})
}

// Wait blocks until every submitted extraction task has completed,
// implementing the "downloads and their attendant extractions fully
// drain before post-ingest begins" ordering guarantee (§5).
func (p *Pool) Wait() error {
	return p.tasks.Wait()
}
