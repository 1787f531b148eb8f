package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// XmlTokens is the subset of tokenizer output needed to populate an
// XmlFile row; a nil ProducerCentreID means the tokenizer missed (§4.2).
type XmlTokens struct {
	ProducerCentreID *int64
	CreatedDate      *time.Time
	Increment        *int
	Kind             string
}

// GetOrCreateXmlFile returns the XmlFile row for (zipDownloadID, name),
// creating it in (xml_name, running) if absent (§4.8). Extraction
// workers unpacking the same archive concurrently (§4.8, §8) can name
// the same document at nearly the same instant, so this collapses onto
// one singleflight key per (zipDownloadID, name) the same way
// GetOrCreateZipFile does per filename.
func (r *Repository) GetOrCreateXmlFile(ctx context.Context, zipDownloadID int64, name string, tokens XmlTokens, sizeBytes *int64) (XmlFile, error) {
	key := fmt.Sprintf("xml_file:%d:%s", zipDownloadID, name)
	v, err, _ := r.getOrCreate.Do(key, func() (interface{}, error) {
		xmlNamePhase, err := r.GetPhaseByName(ctx, PhaseXMLName)
		if err != nil {
			return XmlFile{}, err
		}
		runningStatus, err := r.GetStatusByName(ctx, StatusRunning)
		if err != nil {
			return XmlFile{}, err
		}

		kind := tokens.Kind
		if kind == "" {
			kind = XmlKindExperiment
		}

		_, err = r.db.ExecContext(ctx, `
			INSERT INTO xml_file (zip_download_id, name, kind, producer_centre_id, created_date, increment, size_bytes, phase_id, status_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(zip_download_id, name) DO NOTHING`,
			zipDownloadID, name, kind, tokens.ProducerCentreID, formatDate(tokens.CreatedDate), tokens.Increment, sizeBytes,
			xmlNamePhase.ID, runningStatus.ID)
		if err != nil {
			return XmlFile{}, fmt.Errorf("failed to insert xml_file %q: %w", name, err)
		}
		return r.getXmlFile(ctx, zipDownloadID, name)
	})
	if err != nil {
		return XmlFile{}, err
	}
	return v.(XmlFile), nil
}

func (r *Repository) getXmlFile(ctx context.Context, zipDownloadID int64, name string) (XmlFile, error) {
	var x XmlFile
	var createdDate sql.NullString
	var createdAt string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, zip_download_id, name, kind, producer_centre_id, created_date, increment, size_bytes, phase_id, status_id, created_at
		FROM xml_file WHERE zip_download_id = ? AND name = ?`, zipDownloadID, name).
		Scan(&x.ID, &x.ZipDownloadID, &x.Name, &x.Kind, &x.ProducerCentreID, &createdDate, &x.Increment, &x.SizeBytes,
			&x.PhaseID, &x.StatusID, &createdAt)
	if err != nil {
		return XmlFile{}, fmt.Errorf("xml_file %q not found after insert: %w", name, err)
	}
	x.CreatedDate = parseDate(createdDate)
	x.CreatedAt = parseTimestamp(createdAt)
	return x, nil
}

// GetXmlFileByID reloads an XmlFile row by id.
func (r *Repository) GetXmlFileByID(ctx context.Context, id int64) (XmlFile, error) {
	var x XmlFile
	var createdDate sql.NullString
	var createdAt string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, zip_download_id, name, kind, producer_centre_id, created_date, increment, size_bytes, phase_id, status_id, created_at
		FROM xml_file WHERE id = ?`, id).
		Scan(&x.ID, &x.ZipDownloadID, &x.Name, &x.Kind, &x.ProducerCentreID, &createdDate, &x.Increment, &x.SizeBytes,
			&x.PhaseID, &x.StatusID, &createdAt)
	if err != nil {
		return XmlFile{}, fmt.Errorf("xml_file %d not found: %w", id, err)
	}
	x.CreatedDate = parseDate(createdDate)
	x.CreatedAt = parseTimestamp(createdAt)
	return x, nil
}

// SetXmlFilePhaseStatus applies the escalation matrix to an XmlFile row
// and, when it changes, escalates the owning ZipDownload and ZipAction
// in turn (§3 invariant 4, §4.1).
func (r *Repository) SetXmlFilePhaseStatus(ctx context.Context, xmlFileID int64, proposed PhaseStatus) error {
	xf, err := r.GetXmlFileByID(ctx, xmlFileID)
	if err != nil {
		return err
	}
	oldPhase, err := r.GetPhaseByID(ctx, xf.PhaseID)
	if err != nil {
		return err
	}
	oldStatus, err := r.GetStatusByID(ctx, xf.StatusID)
	if err != nil {
		return err
	}

	result, changed := Escalate(PhaseStatus{Phase: oldPhase, Status: oldStatus}, proposed)
	if changed {
		if _, err := r.db.ExecContext(ctx, `UPDATE xml_file SET phase_id = ?, status_id = ? WHERE id = ?`,
			result.Phase.ID, result.Status.ID, xmlFileID); err != nil {
			return fmt.Errorf("failed to update xml_file %d: %w", xmlFileID, err)
		}
	}

	// Escalation always propagates up the chain, even when this row's
	// own value did not change, because a descendant created later may
	// still need to push its ancestor forward once this call observes it.
	download, err := r.GetZipDownloadByID(ctx, xf.ZipDownloadID)
	if err != nil {
		return err
	}
	if err := r.SetZipDownloadPhaseStatus(ctx, download.ID, result); err != nil {
		return err
	}

	hostRow, err := r.getFileSourceHasZipByID(ctx, download.FileSourceHasZipID)
	if err != nil {
		return err
	}
	return r.SetZipActionPhaseStatus(ctx, hostRow.ZipActionID, result)
}

func (r *Repository) getFileSourceHasZipByID(ctx context.Context, id int64) (FileSourceHasZip, error) {
	var f FileSourceHasZip
	err := r.db.QueryRowContext(ctx, `
		SELECT id, file_source_id, zip_action_id, rating FROM file_source_has_zip WHERE id = ?`, id).
		Scan(&f.ID, &f.FileSourceID, &f.ZipActionID, &f.Rating)
	if err != nil {
		return FileSourceHasZip{}, fmt.Errorf("file_source_has_zip %d not found: %w", id, err)
	}
	return f, nil
}

// ListXmlFilesByPhaseStatusAndKind returns XmlFile rows in the given
// (phase, status), restricted to one document kind, ordered by creation
// time ascending — the ordering the post-ingest driver depends on (§4.9).
func (r *Repository) ListXmlFilesByPhaseStatusAndKind(ctx context.Context, phaseName, statusName, kind string) ([]XmlFile, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT xf.id, xf.zip_download_id, xf.name, xf.kind, xf.producer_centre_id, xf.created_date, xf.increment, xf.size_bytes,
		       xf.phase_id, xf.status_id, xf.created_at
		FROM xml_file xf
		JOIN phase p ON p.id = xf.phase_id
		JOIN a_status s ON s.id = xf.status_id
		WHERE p.name = ? AND s.name = ? AND xf.kind = ?
		ORDER BY xf.created_at ASC, xf.id ASC`, phaseName, statusName, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list xml_files in (%s,%s,%s): %w", phaseName, statusName, kind, err)
	}
	defer rows.Close()

	var out []XmlFile
	for rows.Next() {
		var x XmlFile
		var createdDate sql.NullString
		var createdAt string
		if err := rows.Scan(&x.ID, &x.ZipDownloadID, &x.Name, &x.Kind, &x.ProducerCentreID, &createdDate, &x.Increment,
			&x.SizeBytes, &x.PhaseID, &x.StatusID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan xml_file: %w", err)
		}
		x.CreatedDate = parseDate(createdDate)
		x.CreatedAt = parseTimestamp(createdAt)
		out = append(out, x)
	}
	return out, rows.Err()
}

// ListXmlFilesByPhaseStatus returns every XmlFile in the given (phase,
// status) regardless of kind, used by the overview step (§4.9.3).
func (r *Repository) ListXmlFilesByPhaseStatus(ctx context.Context, phaseName, statusName string) ([]XmlFile, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT xf.id, xf.zip_download_id, xf.name, xf.kind, xf.producer_centre_id, xf.created_date, xf.increment, xf.size_bytes,
		       xf.phase_id, xf.status_id, xf.created_at
		FROM xml_file xf
		JOIN phase p ON p.id = xf.phase_id
		JOIN a_status s ON s.id = xf.status_id
		WHERE p.name = ? AND s.name = ?
		ORDER BY xf.created_at ASC, xf.id ASC`, phaseName, statusName)
	if err != nil {
		return nil, fmt.Errorf("failed to list xml_files in (%s,%s): %w", phaseName, statusName, err)
	}
	defer rows.Close()

	var out []XmlFile
	for rows.Next() {
		var x XmlFile
		var createdDate sql.NullString
		var createdAt string
		if err := rows.Scan(&x.ID, &x.ZipDownloadID, &x.Name, &x.Kind, &x.ProducerCentreID, &createdDate, &x.Increment,
			&x.SizeBytes, &x.PhaseID, &x.StatusID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan xml_file: %w", err)
		}
		x.CreatedDate = parseDate(createdDate)
		x.CreatedAt = parseTimestamp(createdAt)
		out = append(out, x)
	}
	return out, rows.Err()
}
