package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/phenodcc/crawler/internal/database"
	"github.com/phenodcc/crawler/internal/discovery"
	"github.com/phenodcc/crawler/internal/progress"
	"github.com/phenodcc/crawler/internal/rating"
)

// ExtractionSubmitter hands a freshly completed download off to the
// extractor pool (§4.8). Submission does not block the download worker;
// the extractor pool manages its own concurrency and failure recording.
type ExtractionSubmitter interface {
	Submit(ctx context.Context, zipDownloadID int64, localPath string)
}

// Worker claims and downloads ZipActions until none remain claimable.
type Worker struct {
	repo       *database.Repository
	claimer    *claimer
	strategy   rating.Strategy
	resolver   discovery.Resolver
	extractor  ExtractionSubmitter
	backupDir  string
	maxRetries int
	conns      *connCache
	logger     *slog.Logger
}

// NewWorker constructs a download Worker. maxRetries is §4.7's
// per-source retry budget; connCacheSize bounds how many live hostname
// connections this worker keeps open at once.
func NewWorker(repo *database.Repository, strategy rating.Strategy, resolver discovery.Resolver, extractor ExtractionSubmitter, backupDir string, maxRetries, connCacheSize int, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if resolver == nil {
		resolver = discovery.DefaultResolver
	}
	if strategy == nil {
		strategy = rating.AffinityStrategy{}
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Worker{
		repo: repo, claimer: newClaimer(repo, logger), strategy: strategy, resolver: resolver,
		extractor: extractor, backupDir: backupDir, maxRetries: maxRetries,
		conns: newConnCache(connCacheSize), logger: logger.With("component", "download-worker"),
	}
}

// Run loops claiming and downloading ZipActions until none remain
// claimable (§4.7 step 5), then releases every cached connection.
func (w *Worker) Run(ctx context.Context) error {
	defer w.conns.closeAll()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		claimable, err := w.repo.ListClaimableZipActions(ctx)
		if err != nil {
			return err
		}
		if len(claimable) == 0 {
			return nil
		}

		for _, zipActionID := range claimable {
			if err := ctx.Err(); err != nil {
				return err
			}
			ok, err := w.claimer.claim(ctx, zipActionID)
			if err != nil {
				w.logger.Warn("claim attempt failed, skipping", "zip_action_id", zipActionID, "error", err)
				continue
			}
			if !ok {
				continue
			}
			if err := w.downloadOne(ctx, zipActionID); err != nil {
				w.logger.Warn("download job failed", "zip_action_id", zipActionID, "error", err)
			}
		}
	}
}

// downloadOne implements §4.7 steps 3-4 for a single claimed ZipAction.
func (w *Worker) downloadOne(ctx context.Context, zipActionID int64) error {
	action, err := w.repo.GetZipActionByID(ctx, zipActionID)
	if err != nil {
		return err
	}
	zipFile, err := w.repo.GetZipFileByID(ctx, action.ZipFileID)
	if err != nil {
		return err
	}
	processingType, err := w.repo.GetProcessingTypeByID(ctx, action.ProcessingTypeID)
	if err != nil {
		return err
	}

	sources, err := w.repo.ListCandidateSources(ctx, zipActionID)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return fmt.Errorf("zip_action %d has no candidate sources", zipActionID)
	}

	candidates := make([]rating.Candidate, len(sources))
	bySourceID := make(map[int64]database.CandidateSource, len(sources))
	for i, s := range sources {
		candidates[i] = rating.Candidate{
			SourceID:          s.Candidate.FileSourceID,
			HostCentreID:      s.SourceCentreID,
			ProducingCentreID: s.ProducingCentreID,
		}
		bySourceID[s.Candidate.FileSourceID] = s
	}
	ranked := rating.Sort(candidates, w.strategy)

	for _, rated := range ranked {
		candidate := bySourceID[rated.Candidate.SourceID]
		if err := w.repo.UpdateFileSourceHasZipRating(ctx, candidate.Candidate.ID, rated.Rating); err != nil {
			w.logger.Warn("failed to persist computed rating", "file_source_has_zip_id", candidate.Candidate.ID, "error", err)
		}

		ok, err := w.attemptSource(ctx, candidate, zipFile, processingType)
		if err != nil {
			w.logger.Warn("exhausted retries for source, trying next candidate",
				"zip_action_id", zipActionID, "file_source_id", candidate.FileSource.ID, "error", err)
			continue
		}
		if ok {
			return nil
		}
	}

	downloadPhase, err := w.repo.GetPhaseByName(ctx, database.PhaseDownload)
	if err != nil {
		return err
	}
	failedStatus, err := w.repo.GetStatusByName(ctx, database.StatusFailed)
	if err != nil {
		return err
	}
	return w.repo.SetZipActionPhaseStatus(ctx, zipActionID, database.PhaseStatus{Phase: downloadPhase, Status: failedStatus})
}

// attemptSource retries one candidate source up to maxRetries times,
// returning (true, nil) on the attempt that succeeds.
func (w *Worker) attemptSource(ctx context.Context, candidate database.CandidateSource, zipFile database.ZipFile, todo database.ProcessingType) (bool, error) {
	var lastErr error
	for attempt := 1; attempt <= w.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if err := w.attemptOnce(ctx, candidate, zipFile, todo); err != nil {
			lastErr = err
			w.conns.evict(candidate.FileSource.Hostname)
			continue
		}
		return true, nil
	}
	return false, lastErr
}

func (w *Worker) attemptOnce(ctx context.Context, candidate database.CandidateSource, zipFile database.ZipFile, todo database.ProcessingType) error {
	localDir := filepath.Join(w.backupDir, todo.Name)
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return fmt.Errorf("failed to create download directory %q: %w", localDir, err)
	}
	localPath := filepath.Join(localDir, zipFile.Filename)

	downloadPhase, err := w.repo.GetPhaseByName(ctx, database.PhaseDownload)
	if err != nil {
		return err
	}
	runningStatus, err := w.repo.GetStatusByName(ctx, database.StatusRunning)
	if err != nil {
		return err
	}
	zipDownload, err := w.repo.CreateZipDownload(ctx, candidate.Candidate.ID, downloadPhase.ID, runningStatus.ID, localPath)
	if err != nil {
		return err
	}

	if err := w.stream(ctx, candidate, zipFile, todo, zipDownload, localPath); err != nil {
		w.markDownloadFailed(ctx, zipDownload.ID, err)
		return err
	}

	doneStatus, err := w.repo.GetStatusByName(ctx, database.StatusDone)
	if err != nil {
		return err
	}
	if err := w.repo.SetZipDownloadPhaseStatus(ctx, zipDownload.ID, database.PhaseStatus{Phase: downloadPhase, Status: doneStatus}); err != nil {
		return err
	}
	if err := w.repo.SetZipActionPhaseStatus(ctx, candidate.Candidate.ZipActionID, database.PhaseStatus{Phase: downloadPhase, Status: doneStatus}); err != nil {
		return err
	}

	if w.extractor != nil {
		w.extractor.Submit(ctx, zipDownload.ID, localPath)
	}
	return nil
}

func (w *Worker) stream(ctx context.Context, candidate database.CandidateSource, zipFile database.ZipFile, todo database.ProcessingType, zipDownload database.ZipDownload, localPath string) error {
	protocol, err := w.repo.GetProtocolByID(ctx, candidate.FileSource.ProtocolID)
	if err != nil {
		return err
	}
	driver, err := w.conns.get(ctx, candidate.FileSource, protocol.Name, w.resolver)
	if err != nil {
		return fmt.Errorf("failed to connect to %q: %w", candidate.FileSource.Hostname, err)
	}

	remotePath := path.Join(candidate.FileSource.BasePath, todo.Name, zipFile.Filename)
	rc, size, err := driver.Open(ctx, remotePath)
	if err != nil {
		return fmt.Errorf("failed to open remote file %q: %w", remotePath, err)
	}
	defer rc.Close()

	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create local file %q: %w", localPath, err)
	}
	defer out.Close()

	meter := progress.NewMeter(ctx, out, w.repo, zipDownload.ID, size, w.logger)
	if _, err := io.Copy(meter, rc); err != nil {
		return fmt.Errorf("failed to stream %q: %w", remotePath, err)
	}
	return nil
}

func (w *Worker) markDownloadFailed(ctx context.Context, zipDownloadID int64, cause error) {
	downloadPhase, err := w.repo.GetPhaseByName(ctx, database.PhaseDownload)
	if err != nil {
		w.logger.Warn("failed to load download phase while recording failure", "error", err)
		return
	}
	failedStatus, err := w.repo.GetStatusByName(ctx, database.StatusFailed)
	if err != nil {
		w.logger.Warn("failed to load failed status while recording failure", "error", err)
		return
	}
	if err := w.repo.SetZipDownloadPhaseStatus(ctx, zipDownloadID, database.PhaseStatus{Phase: downloadPhase, Status: failedStatus}); err != nil {
		w.logger.Warn("failed to escalate zip_download to failed", "zip_download_id", zipDownloadID, "error", err)
	}
	if err := w.repo.AppendZipLog(ctx, zipDownloadID, "download-error", cause.Error(), nil, nil); err != nil {
		w.logger.Warn("failed to append zip_log", "zip_download_id", zipDownloadID, "error", err)
	}
}
