package download

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/phenodcc/crawler/internal/database"
	"github.com/phenodcc/crawler/internal/discovery"
	"github.com/phenodcc/crawler/internal/rating"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	content []byte
}

func (f *fakeDriver) List(context.Context, string) ([]discovery.Entry, error) { return nil, nil }

func (f *fakeDriver) Open(context.Context, string) (io.ReadCloser, int64, error) {
	return io.NopCloser(bytes.NewReader(f.content)), int64(len(f.content)), nil
}

func (f *fakeDriver) Close() error { return nil }

type fakeExtractor struct {
	submitted []int64
}

func (f *fakeExtractor) Submit(_ context.Context, zipDownloadID int64, _ string) {
	f.submitted = append(f.submitted, zipDownloadID)
}

func seedDownloadFixture(t *testing.T) (*database.DB, database.ZipAction, string) {
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

	zipNamePhase, err := db.Repository.GetPhaseByName(ctx, database.PhaseZipName)
	require.NoError(t, err)
	doneStatus, err := db.Repository.GetStatusByName(ctx, database.StatusDone)
	require.NoError(t, err)
	require.NoError(t, db.Repository.SetZipActionPhaseStatus(ctx, action.ID, database.PhaseStatus{Phase: zipNamePhase, Status: doneStatus}))

	_, err = db.Repository.GetOrCreateFileSourceHasZip(ctx, fileSourceID, action.ID)
	require.NoError(t, err)

	backupDir := t.TempDir()
	return db, action, backupDir
}

func TestWorkerDownloadsClaimableActionAndSubmitsExtraction(t *testing.T) {
	ctx := context.Background()
	db, action, backupDir := seedDownloadFixture(t)

	content := []byte("package contents")
	resolver := func(context.Context, database.FileSource, string) (discovery.Driver, error) {
		return &fakeDriver{content: content}, nil
	}
	extractor := &fakeExtractor{}

	worker := NewWorker(db.Repository, rating.AffinityStrategy{}, resolver, extractor, backupDir, 1, 4, nil)
	require.NoError(t, worker.Run(ctx))

	localPath := filepath.Join(backupDir, "add", "ABCD_20140115_1.zip")
	got, err := os.ReadFile(localPath)
	require.NoError(t, err)
	require.Equal(t, content, got)

	require.Len(t, extractor.submitted, 1)

	reloaded, err := db.Repository.GetZipActionByID(ctx, action.ID)
	require.NoError(t, err)
	phase, err := db.Repository.GetPhaseByID(ctx, reloaded.PhaseID)
	require.NoError(t, err)
	status, err := db.Repository.GetStatusByID(ctx, reloaded.StatusID)
	require.NoError(t, err)
	require.Equal(t, database.PhaseDownload, phase.Name)
	require.Equal(t, database.StatusDone, status.Name)
}

func TestWorkerMarksActionFailedWhenEverySourceFails(t *testing.T) {
	ctx := context.Background()
	db, action, backupDir := seedDownloadFixture(t)

	resolver := func(context.Context, database.FileSource, string) (discovery.Driver, error) {
		return nil, errResolverFailure
	}

	worker := NewWorker(db.Repository, rating.AffinityStrategy{}, resolver, nil, backupDir, 1, 4, nil)
	require.NoError(t, worker.Run(ctx))

	reloaded, err := db.Repository.GetZipActionByID(ctx, action.ID)
	require.NoError(t, err)
	status, err := db.Repository.GetStatusByID(ctx, reloaded.StatusID)
	require.NoError(t, err)
	require.Equal(t, database.StatusFailed, status.Name)
}

var errResolverFailure = resolverFailure("could not dial source")

type resolverFailure string

func (e resolverFailure) Error() string { return string(e) }
