// Package session wires the tracker, lock, and worker pools together
// into one run of the ingestion pipeline (§4.10) and drives the
// optional periodic scheduling described in §6's -p flag.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/phenodcc/crawler/internal/config"
	"github.com/phenodcc/crawler/internal/database"
	"github.com/phenodcc/crawler/internal/discovery"
	"github.com/phenodcc/crawler/internal/extract"
	"github.com/phenodcc/crawler/internal/lock"
	"github.com/phenodcc/crawler/internal/postingest"
	"github.com/phenodcc/crawler/internal/rating"
	"github.com/phenodcc/crawler/internal/report"
	"github.com/phenodcc/crawler/internal/slogutil"
	"github.com/phenodcc/crawler/internal/tokenizer"
	"github.com/spf13/afero"

	downloadpkg "github.com/phenodcc/crawler/internal/download"
)

// connCacheSize bounds how many live source connections one download
// worker keeps open at once; not exposed on the CLI (§6 only bounds
// pool sizes and retry counts), so it is a fixed, generous constant.
const connCacheSize = 8

// extractionInnerPoolSize bounds the per-archive schema-validation
// pool an extractor worker runs while unpacking one zip (§5). It is a
// fixed constant, independent of the -a and -t pool sizes.
const extractionInnerPoolSize = 4

// Orchestrator runs one or more ingestion sessions against a tracker.
type Orchestrator struct {
	db       *database.DB
	options  config.RunOptions
	tools    config.ToolsConfig
	smtp     config.SMTPConfig
	lockPath string
	tok      *tokenizer.Tokenizer
	logger   *slog.Logger
	running  atomic.Bool
}

// New constructs an Orchestrator. zipPattern and xmlPattern are the
// name-convention regular expressions read from the crawler properties
// file (§4.2).
func New(db *database.DB, options config.RunOptions, tools config.ToolsConfig, smtp config.SMTPConfig, lockPath, zipPattern, xmlPattern string, logger *slog.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tok, err := tokenizer.New(zipPattern, xmlPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to build tokenizer: %w", err)
	}
	return &Orchestrator{
		db: db, options: options, tools: tools, smtp: smtp, lockPath: lockPath, tok: tok,
		logger: logger.With("component", "session-orchestrator"),
	}, nil
}

// RunOnce executes one full pipeline pass: acquire the instance lock,
// open a session, drain discovery then download+extraction, run
// post-ingest, and close the session. Another process already holding
// the lock is not an error — the tick is simply skipped (§4.5).
//
// The return value mirrors the teacher's pattern of reporting a
// best-effort outcome rather than failing the whole process on a
// partial pipeline failure: a false result with a nil error means the
// session ran to completion but some document or subprocess failed,
// which is recorded on the CrawlingSession row, not returned as a Go
// error (§4.9 step 4).
func (o *Orchestrator) RunOnce(ctx context.Context) (bool, error) {
	if !o.running.CompareAndSwap(false, true) {
		o.logger.Warn("previous session still running, skipping this tick")
		return true, nil
	}
	defer o.running.Store(false)

	outcome, lk, err := lock.Acquire(o.lockPath)
	if err != nil {
		return false, err
	}
	if outcome == lock.AlreadyRunning {
		o.logger.Info("another instance holds the lock, skipping this tick")
		return true, nil
	}
	defer func() {
		if err := lk.Release(); err != nil {
			o.logger.Warn("failed to release instance lock", "error", err)
		}
	}()

	return o.runSession(ctx)
}

func (o *Orchestrator) runSession(ctx context.Context) (bool, error) {
	repo := o.db.Repository

	session, err := repo.OpenSession(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to open session: %w", err)
	}
	// Every *Context log call made with this ctx for the rest of the run
	// carries session_id, so a single session's activity can be grepped
	// out of a shared log file.
	ctx = slogutil.With(ctx, "session_id", session.ID)
	o.logger.InfoContext(ctx, "session opened")

	if err := o.runDiscovery(ctx, repo); err != nil {
		return false, err
	}

	extractWait, err := o.runDownloadAndExtraction(ctx, repo)
	if err != nil {
		return false, err
	}

	if err := extractWait(); err != nil {
		o.logger.WarnContext(ctx, "extraction pool reported an error", "error", err)
	}

	driver := postingest.NewDriver(repo, o.postingestConfig(), session.ID, o.logger)
	succeeded, err := driver.Run(ctx)
	if err != nil {
		return false, fmt.Errorf("post-ingest driver failed: %w", err)
	}

	if err := repo.CloseSession(ctx, session.ID, succeeded); err != nil {
		return false, fmt.Errorf("failed to close session: %w", err)
	}
	o.logger.InfoContext(ctx, "session closed", "succeeded", succeeded)

	o.sendReport(ctx, repo, session.ID)

	return succeeded, nil
}

// sendReport emails the session summary when -r names an address (§6).
// A delivery failure is logged, not propagated — the run itself has
// already completed and closed by the time this runs.
func (o *Orchestrator) sendReport(ctx context.Context, repo *database.Repository, sessionID int64) {
	if o.options.ReportEmail == "" {
		return
	}
	summary, err := repo.Summarize(ctx, sessionID)
	if err != nil {
		o.logger.WarnContext(ctx, "failed to summarize session for run report", "error", err)
		return
	}
	if err := report.Send(o.smtp, o.options.ReportEmail, summary); err != nil {
		o.logger.WarnContext(ctx, "failed to send run report", "error", err)
	}
}

// runDiscovery fans out over every active source and drains fully
// before returning, matching §5's discovery-before-downloads ordering.
func (o *Orchestrator) runDiscovery(ctx context.Context, repo *database.Repository) error {
	sources, err := repo.ListActiveFileSources(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active sources: %w", err)
	}

	worker := discovery.NewWorker(repo, o.tok, discovery.DefaultResolver, o.logger)
	pool := discovery.NewPool(worker, o.options.PoolSize)
	if err := pool.Run(ctx, sources); err != nil {
		return fmt.Errorf("discovery pool failed: %w", err)
	}
	return nil
}

// runDownloadAndExtraction starts the extraction pool, then the
// download pool that feeds it, and returns the extraction pool's Wait
// so the caller can block on both draining in order (§5).
func (o *Orchestrator) runDownloadAndExtraction(ctx context.Context, repo *database.Repository) (func() error, error) {
	extractWorker := extract.NewWorker(repo, o.tok, o.validatorConfig(), extractionInnerPoolSize, afero.NewOsFs(), o.logger)
	extractPool := extract.NewPool(ctx, extractWorker, o.logger)

	downloadPool := downloadpkg.NewPool(func() *downloadpkg.Worker {
		return downloadpkg.NewWorker(repo, rating.AffinityStrategy{}, discovery.DefaultResolver, extractPool,
			o.options.BackupDir, o.options.RetryCount, connCacheSize, o.logger)
	}, o.options.Downloaders)

	if err := downloadPool.Run(ctx); err != nil {
		return nil, fmt.Errorf("download pool failed: %w", err)
	}

	return extractPool.Wait, nil
}

func (o *Orchestrator) validatorConfig() extract.ValidatorConfig {
	return extract.ValidatorConfig{
		SpecimenBinary:     o.tools.SpecimenValidatorPath,
		ExperimentBinary:   o.tools.ExperimentValidatorPath,
		PropsPath:          o.options.ValidatorProps,
		ResourcesPropsPath: o.options.ValidatorXProps,
	}
}

func (o *Orchestrator) postingestConfig() postingest.Config {
	return postingest.Config{
		SerializerBinary:       o.tools.SerializerPath,
		IntegrityCheckerBinary: o.tools.IntegrityCheckerPath,
		ContextBuilderBinary:   o.tools.ContextBuilderPath,
		OverviewBuilderBinary:  o.tools.OverviewBuilderPath,
		SerializerProps:        o.options.SerializerProps,
		ContextBuildProp:       o.options.ContextBuildProp,
		OverviewDBName:         o.tools.OverviewDatabaseName,
	}
}
