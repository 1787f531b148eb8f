package database

import (
	"context"
	"fmt"
)

// GetOrCreateException interns an exception short-name, creating the
// row lazily on first reference (§3).
func (r *Repository) GetOrCreateException(ctx context.Context, shortName string) (AnException, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO an_exception (short_name) VALUES (?)
		ON CONFLICT(short_name) DO NOTHING`, shortName)
	if err != nil {
		return AnException{}, fmt.Errorf("failed to insert an_exception %q: %w", shortName, err)
	}

	var e AnException
	err = r.db.QueryRowContext(ctx, `SELECT id, short_name FROM an_exception WHERE short_name = ?`, shortName).
		Scan(&e.ID, &e.ShortName)
	if err != nil {
		return AnException{}, fmt.Errorf("an_exception %q not found after insert: %w", shortName, err)
	}
	return e, nil
}

// AppendZipLog records an error annotation anchored to a ZipDownload.
func (r *Repository) AppendZipLog(ctx context.Context, zipDownloadID int64, exceptionShortName, message string, line, column *int) error {
	exc, err := r.GetOrCreateException(ctx, exceptionShortName)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO zip_log (zip_download_id, exception_id, message, line, column)
		VALUES (?, ?, ?, ?, ?)`, zipDownloadID, exc.ID, message, line, column)
	if err != nil {
		return fmt.Errorf("failed to append zip_log for zip_download %d: %w", zipDownloadID, err)
	}
	return nil
}

// AppendXmlLog records an error annotation anchored to an XmlFile.
func (r *Repository) AppendXmlLog(ctx context.Context, xmlFileID int64, exceptionShortName, message string, line, column *int) error {
	exc, err := r.GetOrCreateException(ctx, exceptionShortName)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO xml_log (xml_file_id, exception_id, message, line, column)
		VALUES (?, ?, ?, ?, ?)`, xmlFileID, exc.ID, message, line, column)
	if err != nil {
		return fmt.Errorf("failed to append xml_log for xml_file %d: %w", xmlFileID, err)
	}
	return nil
}
