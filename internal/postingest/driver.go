// Package postingest implements the single-threaded driver of §4.9: once
// the extraction pool has drained, it serializes newly-validated
// documents into the production database, checks their integrity,
// builds their context, and finally rebuilds the overview database.
//
// Every step launches one of the opaque external tools through
// internal/subprocess and records a SessionTask row around the call, so
// a run-report email can show exactly which invocation failed and why.
package postingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"time"

	"github.com/phenodcc/crawler/internal/database"
	"github.com/phenodcc/crawler/internal/subprocess"
)

// Config carries the post-ingest tool paths (config.ToolsConfig, from
// the crawler properties file's tools.* keys) together with the
// properties files the CLI passes to the serializer and context
// builder (§6: -s, -o). The integrity checker takes no properties file
// in the CLI surface, so none is threaded through to it.
type Config struct {
	SerializerBinary       string
	IntegrityCheckerBinary string
	ContextBuilderBinary   string
	OverviewBuilderBinary  string

	SerializerProps  string
	ContextBuildProp string
	OverviewDBName   string
}

// Driver runs the three post-ingest steps for one session.
type Driver struct {
	repo      *database.Repository
	config    Config
	sessionID int64
	logger    *slog.Logger
}

// NewDriver constructs a Driver bound to one crawling_session row.
func NewDriver(repo *database.Repository, config Config, sessionID int64, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{repo: repo, config: config, sessionID: sessionID, logger: logger.With("component", "postingest-driver")}
}

// Run executes upload, integrity+context, and overview in order and
// reports whether every document and the overview step succeeded (§4.9
// step 4). It never returns early on a single document's failure — each
// document is independent and the driver works through the whole batch
// before reporting the aggregate outcome.
func (d *Driver) Run(ctx context.Context) (bool, error) {
	succeeded := true

	if ok, err := d.upload(ctx); err != nil {
		return false, err
	} else if !ok {
		succeeded = false
	}

	if ok, err := d.integrityAndContext(ctx); err != nil {
		return false, err
	} else if !ok {
		succeeded = false
	}

	if ok, err := d.overview(ctx); err != nil {
		return false, err
	} else if !ok {
		succeeded = false
	}

	return succeeded, nil
}

// upload implements §4.9 step 1: serialize specimens, then experiments.
func (d *Driver) upload(ctx context.Context) (bool, error) {
	succeeded := true
	for _, kind := range []string{database.XmlKindSpecimen, database.XmlKindExperiment} {
		docs, err := d.repo.ListXmlFilesByPhaseStatusAndKind(ctx, database.PhaseXSD, database.StatusDone, kind)
		if err != nil {
			return false, err
		}
		for _, xf := range docs {
			ok, err := d.uploadOne(ctx, xf)
			if err != nil {
				return false, err
			}
			succeeded = succeeded && ok
		}
	}
	return succeeded, nil
}

func (d *Driver) uploadOne(ctx context.Context, xf database.XmlFile) (bool, error) {
	if d.config.SerializerProps == "" {
		d.logger.Warn("no serializer properties configured, skipping upload", "xml_file_id", xf.ID)
		return true, nil
	}

	if err := d.setPhase(ctx, xf.ID, database.PhaseUpload, database.StatusRunning); err != nil {
		return false, err
	}

	xmlPath, err := d.documentPath(ctx, xf)
	if err != nil {
		return false, err
	}

	specimenFlag := "0"
	if xf.Kind == database.XmlKindSpecimen {
		specimenFlag = "1"
	}

	res, err := d.runTask(ctx, database.PhaseUpload, d.config.SerializerBinary,
		strconv.FormatInt(xf.ID, 10), lastUpdateTimestamp(xf), d.config.SerializerProps, specimenFlag, xmlPath)
	if err != nil {
		return false, err
	}
	if res.ExitCode != 0 {
		d.recordFailure(ctx, xf.ID, database.PhaseUpload, "serializer-error", res)
		return false, nil
	}

	if err := d.setPhase(ctx, xf.ID, database.PhaseUpload, database.StatusDone); err != nil {
		return false, err
	}
	if err := d.setPhase(ctx, xf.ID, database.PhaseData, database.StatusPending); err != nil {
		return false, err
	}
	return true, nil
}

// integrityAndContext implements §4.9 step 2: specimens then experiments,
// each checked for integrity before its context is built.
func (d *Driver) integrityAndContext(ctx context.Context) (bool, error) {
	succeeded := true
	for _, kind := range []string{database.XmlKindSpecimen, database.XmlKindExperiment} {
		docs, err := d.repo.ListXmlFilesByPhaseStatusAndKind(ctx, database.PhaseData, database.StatusPending, kind)
		if err != nil {
			return false, err
		}
		for _, xf := range docs {
			ok, err := d.integrityAndContextOne(ctx, xf)
			if err != nil {
				return false, err
			}
			succeeded = succeeded && ok
		}
	}
	return succeeded, nil
}

func (d *Driver) integrityAndContextOne(ctx context.Context, xf database.XmlFile) (bool, error) {
	if err := d.setPhase(ctx, xf.ID, database.PhaseData, database.StatusRunning); err != nil {
		return false, err
	}

	xmlPath, err := d.documentPath(ctx, xf)
	if err != nil {
		return false, err
	}

	res, err := d.runTask(ctx, database.PhaseData, d.config.IntegrityCheckerBinary, strconv.FormatInt(xf.ID, 10), xmlPath)
	if err != nil {
		return false, err
	}
	if res.ExitCode != 0 {
		d.recordFailure(ctx, xf.ID, database.PhaseData, "integrity-check-error", res)
		return false, nil
	}
	if err := d.setPhase(ctx, xf.ID, database.PhaseData, database.StatusDone); err != nil {
		return false, err
	}

	if d.config.ContextBuildProp == "" {
		d.logger.Warn("no context-builder properties configured, skipping context build", "xml_file_id", xf.ID)
		return true, nil
	}

	if err := d.setPhase(ctx, xf.ID, database.PhaseContext, database.StatusRunning); err != nil {
		return false, err
	}
	res, err = d.runTask(ctx, database.PhaseContext, d.config.ContextBuilderBinary,
		strconv.FormatInt(xf.ID, 10), d.config.ContextBuildProp, xmlPath)
	if err != nil {
		return false, err
	}
	if res.ExitCode != 0 {
		d.recordFailure(ctx, xf.ID, database.PhaseContext, "context-build-error", res)
		return false, nil
	}
	if err := d.setPhase(ctx, xf.ID, database.PhaseContext, database.StatusDone); err != nil {
		return false, err
	}
	return true, d.setPhase(ctx, xf.ID, database.PhaseOverview, database.StatusPending)
}

// overview implements §4.9 step 3: one shared overview-builder
// invocation covers every document waiting on it.
func (d *Driver) overview(ctx context.Context) (bool, error) {
	docs, err := d.repo.ListXmlFilesByPhaseStatus(ctx, database.PhaseOverview, database.StatusPending)
	if err != nil {
		return false, err
	}
	if len(docs) == 0 {
		return true, nil
	}

	for _, xf := range docs {
		if err := d.setPhase(ctx, xf.ID, database.PhaseOverview, database.StatusRunning); err != nil {
			return false, err
		}
	}

	res, err := d.runTask(ctx, database.PhaseOverview, d.config.OverviewBuilderBinary, d.config.OverviewDBName)
	if err != nil {
		return false, err
	}

	resultStatus := database.StatusDone
	if res.ExitCode != 0 {
		resultStatus = database.StatusFailed
	}
	for _, xf := range docs {
		if err := d.setPhase(ctx, xf.ID, database.PhaseOverview, resultStatus); err != nil {
			return false, err
		}
		if resultStatus == database.StatusFailed {
			if err := d.repo.AppendXmlLog(ctx, xf.ID, "overview-build-error", res.Comment, nil, nil); err != nil {
				d.logger.Warn("failed to append xml_log", "xml_file_id", xf.ID, "error", err)
			}
		}
	}
	return res.ExitCode == 0, nil
}

// runTask wraps one subprocess invocation with a SessionTask row (§4.9).
func (d *Driver) runTask(ctx context.Context, phaseName, binary string, args ...string) (subprocess.Result, error) {
	phase, err := d.repo.GetPhaseByName(ctx, phaseName)
	if err != nil {
		return subprocess.Result{}, err
	}
	task, err := d.repo.StartSessionTask(ctx, d.sessionID, phase.ID)
	if err != nil {
		return subprocess.Result{}, err
	}

	res, runErr := subprocess.Run(ctx, binary, args...)
	if runErr != nil {
		if err := d.repo.FinishSessionTask(ctx, task.ID, -1, runErr.Error()); err != nil {
			d.logger.Warn("failed to finish session_task after launch failure", "error", err)
		}
		return subprocess.Result{}, fmt.Errorf("failed to launch %s: %w", binary, runErr)
	}

	d.logger.Debug("subprocess finished", "correlation_id", res.CorrelationID, "binary", binary, "exit_code", res.ExitCode)
	if err := d.repo.FinishSessionTask(ctx, task.ID, res.ExitCode, res.Comment); err != nil {
		d.logger.Warn("failed to finish session_task", "error", err)
	}
	return res, nil
}

func (d *Driver) setPhase(ctx context.Context, xmlFileID int64, phaseName, statusName string) error {
	phase, err := d.repo.GetPhaseByName(ctx, phaseName)
	if err != nil {
		return err
	}
	status, err := d.repo.GetStatusByName(ctx, statusName)
	if err != nil {
		return err
	}
	return d.repo.SetXmlFilePhaseStatus(ctx, xmlFileID, database.PhaseStatus{Phase: phase, Status: status})
}

func (d *Driver) recordFailure(ctx context.Context, xmlFileID int64, phaseName, exceptionShortName string, res subprocess.Result) {
	if err := d.setPhase(ctx, xmlFileID, phaseName, database.StatusFailed); err != nil {
		d.logger.Warn("failed to escalate xml_file to failed", "xml_file_id", xmlFileID, "error", err)
	}
	message := res.Comment
	if res.Stderr != "" {
		message = message + ": " + res.Stderr
	}
	if err := d.repo.AppendXmlLog(ctx, xmlFileID, exceptionShortName, message, nil, nil); err != nil {
		d.logger.Warn("failed to append xml_log", "xml_file_id", xmlFileID, "error", err)
	}
}

// documentPath reconstructs the on-disk path of an extracted document
// from its owning archive's local path, following the extractor's own
// <zip-path>.contents/<name> layout (§4.8 step 2).
func (d *Driver) documentPath(ctx context.Context, xf database.XmlFile) (string, error) {
	download, err := d.repo.GetZipDownloadByID(ctx, xf.ZipDownloadID)
	if err != nil {
		return "", err
	}
	return filepath.Join(download.LocalPath+".contents", filepath.Base(xf.Name)), nil
}

// lastUpdateTimestamp formats the document's creation time for the
// serializer's last-update-timestamp argument (§4.9 step 1).
func lastUpdateTimestamp(xf database.XmlFile) string {
	return xf.CreatedAt.UTC().Format(time.RFC3339)
}
