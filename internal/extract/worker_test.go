package extract

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/phenodcc/crawler/internal/database"
	"github.com/phenodcc/crawler/internal/tokenizer"
	"github.com/stretchr/testify/require"
)

func buildZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func seedZipDownload(t *testing.T) (*database.DB, int64) {
	t.Helper()
	ctx := context.Background()
	db := database.NewTestDB(t)

	_, err := db.Connection().ExecContext(ctx, `INSERT INTO centre (short_name, name, active) VALUES ('ABCD', 'A Centre', 1)`)
	require.NoError(t, err)

	_, err = db.Connection().ExecContext(ctx, `
		INSERT INTO file_source (centre_id, hostname, source_protocol_id, base_path, resource_state_id)
		SELECT c.id, 'ftp.example.org', sp.id, 'data', rs.id
		FROM centre c, source_protocol sp, resource_state rs
		WHERE c.short_name = 'ABCD' AND sp.name = 'ftp' AND rs.name = 'available'`)
	require.NoError(t, err)

	var fileSourceID int64
	require.NoError(t, db.Connection().QueryRowContext(ctx, `SELECT id FROM file_source LIMIT 1`).Scan(&fileSourceID))

	zf, err := db.Repository.GetOrCreateZipFile(ctx, "ABCD_20140115_1.zip", database.ZipTokens{}, nil)
	require.NoError(t, err)
	addType, err := db.Repository.GetProcessingTypeByName(ctx, database.ProcessingTypeAdd)
	require.NoError(t, err)
	action, err := db.Repository.GetOrCreateZipAction(ctx, zf.ID, addType.ID)
	require.NoError(t, err)

	hostRow, err := db.Repository.GetOrCreateFileSourceHasZip(ctx, fileSourceID, action.ID)
	require.NoError(t, err)

	downloadPhase, err := db.Repository.GetPhaseByName(ctx, database.PhaseDownload)
	require.NoError(t, err)
	doneStatus, err := db.Repository.GetStatusByName(ctx, database.StatusDone)
	require.NoError(t, err)

	download, err := db.Repository.CreateZipDownload(ctx, hostRow.ID, downloadPhase.ID, doneStatus.ID, "")
	require.NoError(t, err)

	return db, download.ID
}

func TestExtractArchiveRegistersAndValidatesSpecimenDocument(t *testing.T) {
	ctx := context.Background()
	db, zipDownloadID := seedZipDownload(t)

	tok, err := tokenizer.New(
		`^([A-Z]+)_(\d{4})(\d{2})(\d{2})_(\d+)\.zip$`,
		`^([A-Z]+)_(\d{4})(\d{2})(\d{2})_(\d+)_(\w+)\.xml$`,
	)
	require.NoError(t, err)

	zipPath := filepath.Join(t.TempDir(), "ABCD_20140115_1.zip")
	buildZip(t, zipPath, map[string]string{
		"ABCD_20140115_1_specimen.xml": "<specimen/>",
	})

	validator := ValidatorConfig{SpecimenBinary: "true", PropsPath: "unused.properties", ResourcesPropsPath: "unused-resources.properties"}
	worker := NewWorker(db.Repository, tok, validator, 2, nil, nil)

	require.NoError(t, worker.ExtractArchive(ctx, zipDownloadID, zipPath))

	extracted, err := os.ReadFile(filepath.Join(zipPath+".contents", "ABCD_20140115_1_specimen.xml"))
	require.NoError(t, err)
	require.Equal(t, "<specimen/>", string(extracted))

	xf, err := db.Repository.GetOrCreateXmlFile(ctx, zipDownloadID, "ABCD_20140115_1_specimen.xml", database.XmlTokens{}, nil)
	require.NoError(t, err)
	phase, err := db.Repository.GetPhaseByID(ctx, xf.PhaseID)
	require.NoError(t, err)
	status, err := db.Repository.GetStatusByID(ctx, xf.StatusID)
	require.NoError(t, err)
	require.Equal(t, database.PhaseXSD, phase.Name)
	require.Equal(t, database.StatusDone, status.Name)
	require.Equal(t, database.XmlKindSpecimen, xf.Kind)
}

func TestExtractArchiveMarksUnrecognizedNameFailed(t *testing.T) {
	ctx := context.Background()
	db, zipDownloadID := seedZipDownload(t)

	tok, err := tokenizer.New(
		`^([A-Z]+)_(\d{4})(\d{2})(\d{2})_(\d+)\.zip$`,
		`^([A-Z]+)_(\d{4})(\d{2})(\d{2})_(\d+)_(\w+)\.xml$`,
	)
	require.NoError(t, err)

	zipPath := filepath.Join(t.TempDir(), "ABCD_20140115_1.zip")
	buildZip(t, zipPath, map[string]string{
		"not-recognized.xml": "<bad/>",
	})

	worker := NewWorker(db.Repository, tok, ValidatorConfig{}, 2, nil, nil)
	require.NoError(t, worker.ExtractArchive(ctx, zipDownloadID, zipPath))

	xf, err := db.Repository.GetOrCreateXmlFile(ctx, zipDownloadID, "not-recognized.xml", database.XmlTokens{}, nil)
	require.NoError(t, err)
	status, err := db.Repository.GetStatusByID(ctx, xf.StatusID)
	require.NoError(t, err)
	require.Equal(t, database.StatusFailed, status.Name)

	_, err = os.Stat(filepath.Join(zipPath+".contents", "not-recognized.xml"))
	require.True(t, os.IsNotExist(err), "a name-convention miss must not be extracted to disk")
}
