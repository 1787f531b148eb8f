package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ZipTokens is the subset of tokenizer output (internal/tokenizer)
// needed to populate a ZipFile row. A nil CentreID means the tokenizer
// missed the name convention (§4.1's get-or-create note).
type ZipTokens struct {
	CentreID    *int64
	ReleaseDate *time.Time
	Increment   *int
}

// GetOrCreateZipFile returns the ZipFile row for filename, creating it
// if absent. Idempotent under concurrent discoverers via the UNIQUE
// constraint on filename: the insert uses ON CONFLICT DO NOTHING, so
// it is a no-op when the row exists, and a plain select then reads the
// row back, so every concurrent caller converges on the same id
// (§4.1, §8). The
// singleflight group collapses same-filename callers in this process
// onto one round trip rather than having each attempt its own insert.
func (r *Repository) GetOrCreateZipFile(ctx context.Context, filename string, tokens ZipTokens, sizeBytes *int64) (ZipFile, error) {
	v, err, _ := r.getOrCreate.Do("zip_file:"+filename, func() (interface{}, error) {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO zip_file (filename, centre_id, release_date, increment, size_bytes)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(filename) DO NOTHING`,
			filename, tokens.CentreID, formatDate(tokens.ReleaseDate), tokens.Increment, sizeBytes)
		if err != nil {
			return ZipFile{}, fmt.Errorf("failed to insert zip_file %q: %w", filename, err)
		}
		return r.getZipFileByFilename(ctx, filename)
	})
	if err != nil {
		return ZipFile{}, err
	}
	return v.(ZipFile), nil
}

// GetZipFileByID reloads a ZipFile row by id.
func (r *Repository) GetZipFileByID(ctx context.Context, id int64) (ZipFile, error) {
	var z ZipFile
	var releaseDate sql.NullString
	var createdAt string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, filename, centre_id, release_date, increment, size_bytes, created_at
		FROM zip_file WHERE id = ?`, id).
		Scan(&z.ID, &z.Filename, &z.CentreID, &releaseDate, &z.Increment, &z.SizeBytes, &createdAt)
	if err != nil {
		return ZipFile{}, fmt.Errorf("zip_file %d not found: %w", id, err)
	}
	z.ReleaseDate = parseDate(releaseDate)
	z.CreatedAt = parseTimestamp(createdAt)
	return z, nil
}

func (r *Repository) getZipFileByFilename(ctx context.Context, filename string) (ZipFile, error) {
	var z ZipFile
	var releaseDate sql.NullString
	var createdAt string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, filename, centre_id, release_date, increment, size_bytes, created_at
		FROM zip_file WHERE filename = ?`, filename).
		Scan(&z.ID, &z.Filename, &z.CentreID, &releaseDate, &z.Increment, &z.SizeBytes, &createdAt)
	if err != nil {
		return ZipFile{}, fmt.Errorf("zip_file %q not found after insert: %w", filename, err)
	}
	z.ReleaseDate = parseDate(releaseDate)
	z.CreatedAt = parseTimestamp(createdAt)
	return z, nil
}

// GetOrCreateZipAction returns the ZipAction row for (zipFileID, todo),
// creating it in (zip_name, running) if absent — the caller then
// escalates it to done/failed per the tokenizer outcome (§4.6).
func (r *Repository) GetOrCreateZipAction(ctx context.Context, zipFileID int64, processingTypeID int64) (ZipAction, error) {
	zipNamePhase, err := r.GetPhaseByName(ctx, PhaseZipName)
	if err != nil {
		return ZipAction{}, err
	}
	runningStatus, err := r.GetStatusByName(ctx, StatusRunning)
	if err != nil {
		return ZipAction{}, err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO zip_action (zip_file_id, processing_type_id, phase_id, status_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(zip_file_id, processing_type_id) DO NOTHING`,
		zipFileID, processingTypeID, zipNamePhase.ID, runningStatus.ID)
	if err != nil {
		return ZipAction{}, fmt.Errorf("failed to insert zip_action: %w", err)
	}
	return r.getZipAction(ctx, zipFileID, processingTypeID)
}

func (r *Repository) getZipAction(ctx context.Context, zipFileID, processingTypeID int64) (ZipAction, error) {
	var a ZipAction
	var createdAt, updatedAt string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, zip_file_id, processing_type_id, phase_id, status_id, created_at, updated_at
		FROM zip_action WHERE zip_file_id = ? AND processing_type_id = ?`, zipFileID, processingTypeID).
		Scan(&a.ID, &a.ZipFileID, &a.ProcessingTypeID, &a.PhaseID, &a.StatusID, &createdAt, &updatedAt)
	if err != nil {
		return ZipAction{}, fmt.Errorf("zip_action not found after insert: %w", err)
	}
	a.CreatedAt = parseTimestamp(createdAt)
	a.UpdatedAt = parseTimestamp(updatedAt)
	return a, nil
}

// GetZipActionByID reloads a ZipAction row by id.
func (r *Repository) GetZipActionByID(ctx context.Context, id int64) (ZipAction, error) {
	var a ZipAction
	var createdAt, updatedAt string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, zip_file_id, processing_type_id, phase_id, status_id, created_at, updated_at
		FROM zip_action WHERE id = ?`, id).
		Scan(&a.ID, &a.ZipFileID, &a.ProcessingTypeID, &a.PhaseID, &a.StatusID, &createdAt, &updatedAt)
	if err != nil {
		return ZipAction{}, fmt.Errorf("zip_action %d not found: %w", id, err)
	}
	a.CreatedAt = parseTimestamp(createdAt)
	a.UpdatedAt = parseTimestamp(updatedAt)
	return a, nil
}

// SetZipActionPhaseStatus applies the escalation matrix (phase_status.go)
// to a ZipAction row and persists the result if it changed.
func (r *Repository) SetZipActionPhaseStatus(ctx context.Context, zipActionID int64, proposed PhaseStatus) error {
	action, err := r.GetZipActionByID(ctx, zipActionID)
	if err != nil {
		return err
	}
	oldPhase, err := r.GetPhaseByID(ctx, action.PhaseID)
	if err != nil {
		return err
	}
	oldStatus, err := r.GetStatusByID(ctx, action.StatusID)
	if err != nil {
		return err
	}

	result, changed := Escalate(PhaseStatus{Phase: oldPhase, Status: oldStatus}, proposed)
	if !changed {
		return nil
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE zip_action SET phase_id = ?, status_id = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE id = ?`, result.Phase.ID, result.Status.ID, zipActionID)
	if err != nil {
		return fmt.Errorf("failed to update zip_action %d: %w", zipActionID, err)
	}
	return nil
}

// TakeDownloadJob implements the claim protocol of §4.1: atomically
// verify the ZipAction's current (phase, status) equals (zip_name,
// done); if so, set it to (download, running) and return true.
// Callers must invoke this inside WithImmediateTransaction so the
// verify-then-update pair is serialized against concurrent downloaders
// (§5, §8's linearizability property).
func (r *Repository) TakeDownloadJob(ctx context.Context, zipActionID int64) (bool, error) {
	zipNamePhase, err := r.GetPhaseByName(ctx, PhaseZipName)
	if err != nil {
		return false, err
	}
	doneStatus, err := r.GetStatusByName(ctx, StatusDone)
	if err != nil {
		return false, err
	}
	downloadPhase, err := r.GetPhaseByName(ctx, PhaseDownload)
	if err != nil {
		return false, err
	}
	runningStatus, err := r.GetStatusByName(ctx, StatusRunning)
	if err != nil {
		return false, err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE zip_action
		SET phase_id = ?, status_id = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE id = ? AND phase_id = ? AND status_id = ?`,
		downloadPhase.ID, runningStatus.ID, zipActionID, zipNamePhase.ID, doneStatus.ID)
	if err != nil {
		return false, fmt.Errorf("failed to claim zip_action %d: %w", zipActionID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected claiming zip_action %d: %w", zipActionID, err)
	}
	return rows == 1, nil
}

// ListClaimableZipActions returns the ids of every ZipAction currently
// in (zip_name, done), the claimable set download workers poll (§4.7).
func (r *Repository) ListClaimableZipActions(ctx context.Context) ([]int64, error) {
	zipNamePhase, err := r.GetPhaseByName(ctx, PhaseZipName)
	if err != nil {
		return nil, err
	}
	doneStatus, err := r.GetStatusByName(ctx, StatusDone)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM zip_action WHERE phase_id = ? AND status_id = ?`, zipNamePhase.ID, doneStatus.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list claimable zip_actions: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan zip_action id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetOrCreateFileSourceHasZip returns the candidate-hosting row for
// (fileSourceID, zipActionID), creating it with rating 0 if absent; the
// rating is computed and updated separately by internal/rating.
func (r *Repository) GetOrCreateFileSourceHasZip(ctx context.Context, fileSourceID, zipActionID int64) (FileSourceHasZip, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO file_source_has_zip (file_source_id, zip_action_id, rating)
		VALUES (?, ?, 0)
		ON CONFLICT(file_source_id, zip_action_id) DO NOTHING`,
		fileSourceID, zipActionID)
	if err != nil {
		return FileSourceHasZip{}, fmt.Errorf("failed to insert file_source_has_zip: %w", err)
	}

	var f FileSourceHasZip
	err = r.db.QueryRowContext(ctx, `
		SELECT id, file_source_id, zip_action_id, rating
		FROM file_source_has_zip WHERE file_source_id = ? AND zip_action_id = ?`,
		fileSourceID, zipActionID).
		Scan(&f.ID, &f.FileSourceID, &f.ZipActionID, &f.Rating)
	if err != nil {
		return FileSourceHasZip{}, fmt.Errorf("file_source_has_zip not found after insert: %w", err)
	}
	return f, nil
}

// UpdateFileSourceHasZipRating persists a freshly computed rating.
func (r *Repository) UpdateFileSourceHasZipRating(ctx context.Context, id int64, rating int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE file_source_has_zip SET rating = ? WHERE id = ?`, rating, id)
	if err != nil {
		return fmt.Errorf("failed to update rating for file_source_has_zip %d: %w", id, err)
	}
	return nil
}

// CandidateSource pairs a FileSourceHasZip with the FileSource and
// Centre needed by the rating comparator (§4.3).
type CandidateSource struct {
	Candidate        FileSourceHasZip
	FileSource       FileSource
	SourceCentreID   int64
	ProducingCentreID *int64
}

// ListCandidateSources returns every FileSourceHasZip hosting zipActionID
// along with the data the rating comparator needs.
func (r *Repository) ListCandidateSources(ctx context.Context, zipActionID int64) ([]CandidateSource, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT fhz.id, fhz.file_source_id, fhz.zip_action_id, fhz.rating,
		       fs.id, fs.centre_id, fs.hostname, fs.source_protocol_id, fs.base_path,
		       fs.username, fs.password, fs.identity_file, fs.resource_state_id,
		       zf.centre_id
		FROM file_source_has_zip fhz
		JOIN file_source fs ON fs.id = fhz.file_source_id
		JOIN zip_action za ON za.id = fhz.zip_action_id
		JOIN zip_file zf ON zf.id = za.zip_file_id
		WHERE fhz.zip_action_id = ?`, zipActionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidate sources for zip_action %d: %w", zipActionID, err)
	}
	defer rows.Close()

	var out []CandidateSource
	for rows.Next() {
		var c CandidateSource
		if err := rows.Scan(
			&c.Candidate.ID, &c.Candidate.FileSourceID, &c.Candidate.ZipActionID, &c.Candidate.Rating,
			&c.FileSource.ID, &c.FileSource.CentreID, &c.FileSource.Hostname, &c.FileSource.ProtocolID,
			&c.FileSource.BasePath, &c.FileSource.Username, &c.FileSource.Password,
			&c.FileSource.IdentityFile, &c.FileSource.ResourceStateID,
			&c.ProducingCentreID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan candidate source: %w", err)
		}
		c.SourceCentreID = c.FileSource.CentreID
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateZipDownload opens a new download attempt row in the given
// (phase, status) for a FileSourceHasZip (§3, §4.7).
func (r *Repository) CreateZipDownload(ctx context.Context, fileSourceHasZipID int64, phaseID, statusID int64, localPath string) (ZipDownload, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO zip_download (file_source_has_zip_id, phase_id, status_id, local_path)
		VALUES (?, ?, ?, ?)`, fileSourceHasZipID, phaseID, statusID, localPath)
	if err != nil {
		return ZipDownload{}, fmt.Errorf("failed to insert zip_download: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ZipDownload{}, fmt.Errorf("failed to read zip_download id: %w", err)
	}
	return r.GetZipDownloadByID(ctx, id)
}

// GetZipDownloadByID reloads a ZipDownload row by id.
func (r *Repository) GetZipDownloadByID(ctx context.Context, id int64) (ZipDownload, error) {
	var d ZipDownload
	var startedAt string
	var lastReceived sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, file_source_has_zip_id, phase_id, status_id, started_at, last_received_at, bytes_received, local_path
		FROM zip_download WHERE id = ?`, id).
		Scan(&d.ID, &d.FileSourceHasZipID, &d.PhaseID, &d.StatusID, &startedAt, &lastReceived, &d.BytesReceived, &d.LocalPath)
	if err != nil {
		return ZipDownload{}, fmt.Errorf("zip_download %d not found: %w", id, err)
	}
	d.StartedAt = parseTimestamp(startedAt)
	d.LastReceivedAt = parseTimestampPtr(lastReceived)
	return d, nil
}

// SetZipDownloadPhaseStatus applies the escalation matrix to a
// ZipDownload row.
func (r *Repository) SetZipDownloadPhaseStatus(ctx context.Context, zipDownloadID int64, proposed PhaseStatus) error {
	download, err := r.GetZipDownloadByID(ctx, zipDownloadID)
	if err != nil {
		return err
	}
	oldPhase, err := r.GetPhaseByID(ctx, download.PhaseID)
	if err != nil {
		return err
	}
	oldStatus, err := r.GetStatusByID(ctx, download.StatusID)
	if err != nil {
		return err
	}

	result, changed := Escalate(PhaseStatus{Phase: oldPhase, Status: oldStatus}, proposed)
	if !changed {
		return nil
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE zip_download SET phase_id = ?, status_id = ? WHERE id = ?`,
		result.Phase.ID, result.Status.ID, zipDownloadID)
	if err != nil {
		return fmt.Errorf("failed to update zip_download %d: %w", zipDownloadID, err)
	}
	return nil
}

// UpdateZipDownloadProgress records a new byte count and last-received
// timestamp, as pushed by the progress meter (§4.4).
func (r *Repository) UpdateZipDownloadProgress(ctx context.Context, zipDownloadID int64, bytesReceived int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE zip_download SET bytes_received = ?, last_received_at = ? WHERE id = ?`,
		bytesReceived, formatTimestamp(at), zipDownloadID)
	if err != nil {
		return fmt.Errorf("failed to update zip_download %d progress: %w", zipDownloadID, err)
	}
	return nil
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format("2006-01-02")
	return &s
}

func parseDate(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse("2006-01-02T15:04:05.000Z", s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimestampPtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTimestamp(ns.String)
	return &t
}
