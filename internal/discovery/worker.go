package discovery

import (
	"context"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/phenodcc/crawler/internal/database"
	crawlererrors "github.com/phenodcc/crawler/internal/errors"
	"github.com/phenodcc/crawler/internal/tokenizer"
)

// subdirectories are named after ProcessingType and walked in this
// fixed order so repeated runs behave predictably (§4.6).
var subdirectories = []string{database.ProcessingTypeAdd, database.ProcessingTypeEdit, database.ProcessingTypeDelete}

// Worker discovers one (centre, source) pair's candidate packages.
type Worker struct {
	repo      *database.Repository
	tokenizer *tokenizer.Tokenizer
	resolver  Resolver
	logger    *slog.Logger
}

// NewWorker constructs a discovery Worker.
func NewWorker(repo *database.Repository, tok *tokenizer.Tokenizer, resolver Resolver, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if resolver == nil {
		resolver = DefaultResolver
	}
	return &Worker{repo: repo, tokenizer: tok, resolver: resolver, logger: logger}
}

// DiscoverSource implements the per-source task of §4.6: connect, walk
// each sub-directory, get-or-create rows for every *.zip entry, then
// disconnect. Errors connecting or from an unsupported protocol are
// logged and recorded non-fatally; they never abort the discovery pool.
func (w *Worker) DiscoverSource(ctx context.Context, fs database.FileSource) error {
	protocol, err := w.repo.GetProtocolByID(ctx, fs.ProtocolID)
	if err != nil {
		return err
	}

	driver, err := w.resolver(ctx, fs, protocol.Name)
	if err != nil {
		w.logger.Warn("discovery connect failed, skipping source",
			"component", "discovery-worker", "source_id", fs.ID, "hostname", fs.Hostname, "error", err)
		return nil
	}
	defer driver.Close()

	names, err := w.repo.ListCentreShortNames(ctx)
	if err != nil {
		return err
	}
	known := tokenizer.KnownCentres(func(shortName string) bool { return names[shortName] })

	for _, todo := range subdirectories {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.crawlPath(ctx, driver, fs, todo, known); err != nil {
			w.logger.Warn("failed to walk sub-directory, continuing with the next one",
				"component", "discovery-worker", "source_id", fs.ID, "todo", todo, "error", err)
		}
	}

	return nil
}

func (w *Worker) crawlPath(ctx context.Context, driver Driver, fs database.FileSource, todo string, known tokenizer.KnownCentres) error {
	processingType, err := w.repo.GetProcessingTypeByName(ctx, todo)
	if err != nil {
		return err
	}

	remotePath := path.Join(fs.BasePath, todo)
	entries, err := driver.List(ctx, remotePath)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir || !strings.HasSuffix(strings.ToLower(entry.Name), ".zip") {
			continue
		}
		if err := w.queueFile(ctx, fs, entry, processingType, known); err != nil {
			w.logger.Warn("failed to register discovered package",
				"component", "discovery-worker", "name", entry.Name, "todo", todo, "error", err)
		}
	}
	return nil
}

// queueFile implements §4.6 step 3: get-or-create the ZipFile, then the
// ZipAction, escalating zip_name to done or failed by tokenizer outcome.
func (w *Worker) queueFile(ctx context.Context, fs database.FileSource, entry Entry, todo database.ProcessingType, known tokenizer.KnownCentres) error {
	toks, ok := w.tokenizer.Tokenize(entry.Name, known)
	if !ok {
		w.logger.Debug(crawlererrors.ErrNameConventionMiss.Error(),
			"component", "discovery-worker", "name", entry.Name)
	}

	zipTokens := database.ZipTokens{}
	if ok {
		var centreID *int64
		if c, err := w.repo.GetCentreByShortName(ctx, toks.CentreShortName); err == nil {
			id := c.ID
			centreID = &id
		}
		zipTokens.CentreID = centreID

		releaseDate := time.Date(toks.Year, time.Month(toks.Month), toks.Day, 0, 0, 0, 0, time.UTC)
		zipTokens.ReleaseDate = &releaseDate
		increment := toks.Increment
		zipTokens.Increment = &increment
	}

	var size *int64
	if entry.Size > 0 {
		size = &entry.Size
	}

	zf, err := w.repo.GetOrCreateZipFile(ctx, entry.Name, zipTokens, size)
	if err != nil {
		return err
	}

	action, err := w.repo.GetOrCreateZipAction(ctx, zf.ID, todo.ID)
	if err != nil {
		return err
	}

	zipNamePhase, err := w.repo.GetPhaseByName(ctx, database.PhaseZipName)
	if err != nil {
		return err
	}

	var resultStatus string
	if ok {
		resultStatus = database.StatusDone
	} else {
		resultStatus = database.StatusFailed
	}
	status, err := w.repo.GetStatusByName(ctx, resultStatus)
	if err != nil {
		return err
	}

	if err := w.repo.SetZipActionPhaseStatus(ctx, action.ID, database.PhaseStatus{Phase: zipNamePhase, Status: status}); err != nil {
		return err
	}

	if _, err := w.repo.GetOrCreateFileSourceHasZip(ctx, fs.ID, action.ID); err != nil {
		return err
	}

	return nil
}
