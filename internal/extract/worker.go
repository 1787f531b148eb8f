// Package extract implements the extractor worker of §4.8: unpack a
// downloaded archive, register and validate each inner XML document,
// and escalate failures up through the tracker's matrix.
package extract

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/phenodcc/crawler/internal/database"
	crawlererrors "github.com/phenodcc/crawler/internal/errors"
	"github.com/phenodcc/crawler/internal/subprocess"
	"github.com/phenodcc/crawler/internal/tokenizer"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"
)

func init() {
	zip.RegisterDecompressor(zip.Deflate, func(r io.Reader) io.ReadCloser {
		return flate.NewReader(r)
	})
}

// ValidatorConfig names the specimen and experiment schema-validator
// binaries (config.ToolsConfig's tools.specimen_validator_path and
// tools.experiment_validator_path) and the two properties files the
// CLI shares between them (-v validator properties, -x
// validation-resources properties).
type ValidatorConfig struct {
	SpecimenBinary     string
	ExperimentBinary   string
	PropsPath          string
	ResourcesPropsPath string
}

// Worker unpacks and validates one archive per ExtractArchive call.
type Worker struct {
	repo          *database.Repository
	tokenizer     *tokenizer.Tokenizer
	validator     ValidatorConfig
	innerPoolSize int
	fs            afero.Fs
	logger        *slog.Logger
}

// NewWorker constructs an extract Worker. innerPoolSize bounds the
// per-archive cached pool of XML validation tasks (§5). fs abstracts
// the extraction tree (the contents directory and the files written
// into it); the archive itself is always opened from the OS
// filesystem. A nil fs falls back to the OS filesystem.
func NewWorker(repo *database.Repository, tok *tokenizer.Tokenizer, validator ValidatorConfig, innerPoolSize int, fs afero.Fs, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if innerPoolSize < 1 {
		innerPoolSize = 4
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Worker{repo: repo, tokenizer: tok, validator: validator, innerPoolSize: innerPoolSize, fs: fs, logger: logger.With("component", "extractor-worker")}
}

// ExtractArchive implements §4.8: for each top-level *.xml entry,
// get-or-create its XmlFile row, extract it, and submit it to the inner
// validation pool. It does not return until that pool drains.
func (w *Worker) ExtractArchive(ctx context.Context, zipDownloadID int64, zipPath string) error {
	contentsDir := zipPath + ".contents"
	if err := w.fs.MkdirAll(contentsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create extraction directory %q: %w", contentsDir, err)
	}

	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("failed to open archive %q: %w", zipPath, err)
	}
	defer zr.Close()

	names, err := w.repo.ListCentreShortNames(ctx)
	if err != nil {
		return err
	}
	known := tokenizer.KnownCentres(func(shortName string) bool { return names[shortName] })

	g := pool.New().WithContext(ctx).WithMaxGoroutines(w.innerPoolSize)

	registered := 0
	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		name := entry.Name
		if !strings.HasSuffix(strings.ToLower(name), ".xml") || strings.ContainsAny(name, "/\\") {
			continue
		}

		registered++
		xmlFile, ok, err := w.registerEntry(ctx, zipDownloadID, name, known)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		destPath, ok := w.writeEntry(ctx, entry, contentsDir, xmlFile.ID)
		if !ok {
			continue
		}

		xmlFileID := xmlFile.ID
		g.Go(func(ctx context.Context) error {
			w.validate(ctx, xmlFileID, destPath)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if registered == 0 {
		// No top-level *.xml entry means no XmlFile row ever escalates
		// its ZipDownload, so the worker advances it directly (§8's
		// zero-valid-entries boundary case).
		return w.advanceEmptyArchive(ctx, zipDownloadID)
	}
	return nil
}

// advanceEmptyArchive escalates a ZipDownload straight to (unzip, done)
// when the archive contributed no xml_file rows to do it for it.
func (w *Worker) advanceEmptyArchive(ctx context.Context, zipDownloadID int64) error {
	unzipPhase, err := w.repo.GetPhaseByName(ctx, database.PhaseUnzip)
	if err != nil {
		return err
	}
	runningStatus, err := w.repo.GetStatusByName(ctx, database.StatusRunning)
	if err != nil {
		return err
	}
	if err := w.repo.SetZipDownloadPhaseStatus(ctx, zipDownloadID, database.PhaseStatus{Phase: unzipPhase, Status: runningStatus}); err != nil {
		return err
	}
	doneStatus, err := w.repo.GetStatusByName(ctx, database.StatusDone)
	if err != nil {
		return err
	}
	return w.repo.SetZipDownloadPhaseStatus(ctx, zipDownloadID, database.PhaseStatus{Phase: unzipPhase, Status: doneStatus})
}

// registerEntry implements §4.8 step 2's get-or-create and xml_name
// escalation. ok reports whether the name matched the tokenizer: on a
// miss the XmlFile row is still created and set to (xml_name, failed),
// and ok is false so the caller does not extract the entry. Tracker
// errors are returned as err.
func (w *Worker) registerEntry(ctx context.Context, zipDownloadID int64, name string, known tokenizer.KnownCentres) (database.XmlFile, bool, error) {
	toks, matched := w.tokenizer.Tokenize(name, known)
	if !matched {
		w.logger.Debug(crawlererrors.ErrNameConventionMiss.Error(),
			"component", "extractor-worker", "name", name)
	}

	xmlTokens := database.XmlTokens{}
	if matched {
		xmlTokens.Kind = database.XmlKindExperiment
		if toks.DocumentKind == tokenizer.DocumentKindSpecimen {
			xmlTokens.Kind = database.XmlKindSpecimen
		}
		releaseDate := time.Date(toks.Year, time.Month(toks.Month), toks.Day, 0, 0, 0, 0, time.UTC)
		xmlTokens.CreatedDate = &releaseDate
		increment := toks.Increment
		xmlTokens.Increment = &increment
		if c, err := w.repo.GetCentreByShortName(ctx, toks.CentreShortName); err == nil {
			id := c.ID
			xmlTokens.ProducerCentreID = &id
		}
	}

	xmlFile, err := w.repo.GetOrCreateXmlFile(ctx, zipDownloadID, name, xmlTokens, nil)
	if err != nil {
		return database.XmlFile{}, false, err
	}

	xmlNamePhase, err := w.repo.GetPhaseByName(ctx, database.PhaseXMLName)
	if err != nil {
		return database.XmlFile{}, false, err
	}
	resultStatus := database.StatusDone
	if !matched {
		resultStatus = database.StatusFailed
	}
	status, err := w.repo.GetStatusByName(ctx, resultStatus)
	if err != nil {
		return database.XmlFile{}, false, err
	}
	if err := w.repo.SetXmlFilePhaseStatus(ctx, xmlFile.ID, database.PhaseStatus{Phase: xmlNamePhase, Status: status}); err != nil {
		return database.XmlFile{}, false, err
	}

	return xmlFile, matched, nil
}

// writeEntry implements §4.8 step 2's unzip escalation: running while
// copying, done on success, failed (with a zip_log-equivalent note via
// xml_log) on any read/write error.
func (w *Worker) writeEntry(ctx context.Context, entry *zip.File, contentsDir string, xmlFileID int64) (string, bool) {
	unzipPhase, err := w.repo.GetPhaseByName(ctx, database.PhaseUnzip)
	if err != nil {
		w.logger.Warn("failed to load unzip phase", "error", err)
		return "", false
	}
	runningStatus, err := w.repo.GetStatusByName(ctx, database.StatusRunning)
	if err != nil {
		w.logger.Warn("failed to load running status", "error", err)
		return "", false
	}
	if err := w.repo.SetXmlFilePhaseStatus(ctx, xmlFileID, database.PhaseStatus{Phase: unzipPhase, Status: runningStatus}); err != nil {
		w.logger.Warn("failed to mark unzip running", "xml_file_id", xmlFileID, "error", err)
	}

	destPath := filepath.Join(contentsDir, filepath.Base(entry.Name))
	if err := w.copyEntry(entry, destPath); err != nil {
		w.failXMLPhase(ctx, xmlFileID, database.PhaseUnzip, "unzip-error", err.Error())
		return "", false
	}

	doneStatus, err := w.repo.GetStatusByName(ctx, database.StatusDone)
	if err != nil {
		w.logger.Warn("failed to load done status", "error", err)
		return "", false
	}
	if err := w.repo.SetXmlFilePhaseStatus(ctx, xmlFileID, database.PhaseStatus{Phase: unzipPhase, Status: doneStatus}); err != nil {
		w.logger.Warn("failed to mark unzip done", "xml_file_id", xmlFileID, "error", err)
		return "", false
	}
	return destPath, true
}

func (w *Worker) copyEntry(entry *zip.File, destPath string) error {
	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("failed to open archive entry %q: %w", entry.Name, err)
	}
	defer src.Close()

	dst, err := w.fs.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create %q: %w", destPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to extract %q: %w", entry.Name, err)
	}
	return nil
}

// validate implements §4.8 step 3: run the specimen or experiment
// schema validator over the extracted document and record the outcome.
func (w *Worker) validate(ctx context.Context, xmlFileID int64, path string) {
	xf, err := w.repo.GetXmlFileByID(ctx, xmlFileID)
	if err != nil {
		w.logger.Warn("failed to reload xml_file before validation", "xml_file_id", xmlFileID, "error", err)
		return
	}

	binary := w.validator.SpecimenBinary
	if strings.Contains(strings.ToLower(xf.Name), "experiment") {
		binary = w.validator.ExperimentBinary
	}
	if binary == "" || w.validator.PropsPath == "" {
		w.logger.Warn("no validator configured, skipping", "xml_file_id", xmlFileID, "name", xf.Name)
		return
	}

	xsdPhase, err := w.repo.GetPhaseByName(ctx, database.PhaseXSD)
	if err != nil {
		w.logger.Warn("failed to load xsd phase", "error", err)
		return
	}

	res, err := subprocess.Run(ctx, binary, w.validator.PropsPath, w.validator.ResourcesPropsPath, path)
	if err != nil {
		w.failXMLPhase(ctx, xmlFileID, database.PhaseXSD, "validator-launch-error", err.Error())
		return
	}

	if res.ExitCode != 0 {
		w.failXMLPhase(ctx, xmlFileID, database.PhaseXSD, "schema-validation-error", strings.TrimSpace(res.Stderr+" "+res.Stdout))
		return
	}

	doneStatus, err := w.repo.GetStatusByName(ctx, database.StatusDone)
	if err != nil {
		w.logger.Warn("failed to load done status", "error", err)
		return
	}
	if err := w.repo.SetXmlFilePhaseStatus(ctx, xmlFileID, database.PhaseStatus{Phase: xsdPhase, Status: doneStatus}); err != nil {
		w.logger.Warn("failed to mark xsd done", "xml_file_id", xmlFileID, "error", err)
	}
}

func (w *Worker) failXMLPhase(ctx context.Context, xmlFileID int64, phaseName, exceptionShortName, message string) {
	phase, err := w.repo.GetPhaseByName(ctx, phaseName)
	if err != nil {
		w.logger.Warn("failed to load phase while recording failure", "phase", phaseName, "error", err)
		return
	}
	failedStatus, err := w.repo.GetStatusByName(ctx, database.StatusFailed)
	if err != nil {
		w.logger.Warn("failed to load failed status", "error", err)
		return
	}
	if err := w.repo.SetXmlFilePhaseStatus(ctx, xmlFileID, database.PhaseStatus{Phase: phase, Status: failedStatus}); err != nil {
		w.logger.Warn("failed to escalate xml_file to failed", "xml_file_id", xmlFileID, "error", err)
	}
	if err := w.repo.AppendXmlLog(ctx, xmlFileID, exceptionShortName, message, nil, nil); err != nil {
		w.logger.Warn("failed to append xml_log", "xml_file_id", xmlFileID, "error", err)
	}
}
