package discovery

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/phenodcc/crawler/internal/database"
	"github.com/phenodcc/crawler/internal/tokenizer"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	listings map[string][]Entry
	closed   bool
}

func (f *fakeDriver) List(_ context.Context, path string) ([]Entry, error) {
	return f.listings[path], nil
}

func (f *fakeDriver) Open(_ context.Context, path string) (io.ReadCloser, int64, error) {
	return io.NopCloser(strings.NewReader("")), 0, nil
}

func (f *fakeDriver) Close() error {
	f.closed = true
	return nil
}

func setupDiscoveryFixture(t *testing.T) (*database.DB, database.FileSource) {
	t.Helper()
	ctx := context.Background()
	db := database.NewTestDB(t)

	_, err := db.Connection().ExecContext(ctx, `INSERT INTO centre (short_name, name, active) VALUES ('ABCD', 'A Centre', 1)`)
	require.NoError(t, err)

	_, err = db.Connection().ExecContext(ctx, `
		INSERT INTO file_source (centre_id, hostname, source_protocol_id, base_path, resource_state_id)
		SELECT c.id, 'ftp.example.org', sp.id, '/data/', rs.id
		FROM centre c, source_protocol sp, resource_state rs
		WHERE c.short_name = 'ABCD' AND sp.name = 'ftp' AND rs.name = 'available'`)
	require.NoError(t, err)

	var fs database.FileSource
	err = db.Connection().QueryRowContext(ctx, `
		SELECT id, centre_id, hostname, source_protocol_id, base_path, username, password, identity_file, resource_state_id
		FROM file_source LIMIT 1`).
		Scan(&fs.ID, &fs.CentreID, &fs.Hostname, &fs.ProtocolID, &fs.BasePath, &fs.Username, &fs.Password, &fs.IdentityFile, &fs.ResourceStateID)
	require.NoError(t, err)

	return db, fs
}

func TestDiscoverSourceRegistersValidZipAsDone(t *testing.T) {
	ctx := context.Background()
	db, fs := setupDiscoveryFixture(t)

	tok, err := tokenizer.New(`^([A-Z]+)_(\d{4})(\d{2})(\d{2})_(\d+)\.zip$`, `^([A-Z]+)_(\d{4})(\d{2})(\d{2})_(\d+)_(\w+)\.xml$`)
	require.NoError(t, err)

	driver := &fakeDriver{listings: map[string][]Entry{
		"/data/add": {{Name: "ABCD_20140115_1.zip", Size: 1024}},
	}}

	resolver := func(context.Context, database.FileSource, string) (Driver, error) { return driver, nil }
	worker := NewWorker(db.Repository, tok, resolver, nil)

	require.NoError(t, worker.DiscoverSource(ctx, fs))
	require.True(t, driver.closed, "discovery must disconnect after walking all sub-directories")

	zf, err := db.Repository.GetOrCreateZipFile(ctx, "ABCD_20140115_1.zip", database.ZipTokens{}, nil)
	require.NoError(t, err)

	addType, err := db.Repository.GetProcessingTypeByName(ctx, database.ProcessingTypeAdd)
	require.NoError(t, err)

	action, err := db.Repository.GetOrCreateZipAction(ctx, zf.ID, addType.ID)
	require.NoError(t, err)

	status, err := db.Repository.GetStatusByID(ctx, action.StatusID)
	require.NoError(t, err)
	require.Equal(t, database.StatusDone, status.Name)
}

func TestDiscoverSourceMarksUnrecognizedNameFailed(t *testing.T) {
	ctx := context.Background()
	db, fs := setupDiscoveryFixture(t)

	tok, err := tokenizer.New(`^([A-Z]+)_(\d{4})(\d{2})(\d{2})_(\d+)\.zip$`, `^([A-Z]+)_(\d{4})(\d{2})(\d{2})_(\d+)_(\w+)\.xml$`)
	require.NoError(t, err)

	driver := &fakeDriver{listings: map[string][]Entry{
		"/data/add": {{Name: "not-a-recognized-name.zip", Size: 10}},
	}}

	resolver := func(context.Context, database.FileSource, string) (Driver, error) { return driver, nil }
	worker := NewWorker(db.Repository, tok, resolver, nil)

	require.NoError(t, worker.DiscoverSource(ctx, fs))

	zf, err := db.Repository.GetOrCreateZipFile(ctx, "not-a-recognized-name.zip", database.ZipTokens{}, nil)
	require.NoError(t, err)
	addType, err := db.Repository.GetProcessingTypeByName(ctx, database.ProcessingTypeAdd)
	require.NoError(t, err)
	action, err := db.Repository.GetOrCreateZipAction(ctx, zf.ID, addType.ID)
	require.NoError(t, err)
	status, err := db.Repository.GetStatusByID(ctx, action.StatusID)
	require.NoError(t, err)
	require.Equal(t, database.StatusFailed, status.Name)
}

func TestDiscoverSourceUnsupportedProtocolIsNonFatal(t *testing.T) {
	ctx := context.Background()
	db, fs := setupDiscoveryFixture(t)

	tok, err := tokenizer.New(`^([A-Z]+)_(\d{4})(\d{2})(\d{2})_(\d+)\.zip$`, `^([A-Z]+)_(\d{4})(\d{2})(\d{2})_(\d+)_(\w+)\.xml$`)
	require.NoError(t, err)

	resolver := func(context.Context, database.FileSource, string) (Driver, error) {
		return nil, fmt.Errorf("no discovery driver for protocol http")
	}
	worker := NewWorker(db.Repository, tok, resolver, nil)

	require.NoError(t, worker.DiscoverSource(ctx, fs))
}

func TestDiscoverSourceIsIdempotentUnderDuplicateRuns(t *testing.T) {
	ctx := context.Background()
	db, fs := setupDiscoveryFixture(t)

	tok, err := tokenizer.New(`^([A-Z]+)_(\d{4})(\d{2})(\d{2})_(\d+)\.zip$`, `^([A-Z]+)_(\d{4})(\d{2})(\d{2})_(\d+)_(\w+)\.xml$`)
	require.NoError(t, err)

	driver := &fakeDriver{listings: map[string][]Entry{
		"/data/add": {{Name: "ABCD_20140115_1.zip", Size: 1024}},
	}}
	resolver := func(context.Context, database.FileSource, string) (Driver, error) { return driver, nil }
	worker := NewWorker(db.Repository, tok, resolver, nil)

	require.NoError(t, worker.DiscoverSource(ctx, fs))
	require.NoError(t, worker.DiscoverSource(ctx, fs))

	var zipFileCount, zipActionCount, hasZipCount int
	require.NoError(t, db.Connection().QueryRowContext(ctx, `SELECT COUNT(*) FROM zip_file`).Scan(&zipFileCount))
	require.NoError(t, db.Connection().QueryRowContext(ctx, `SELECT COUNT(*) FROM zip_action`).Scan(&zipActionCount))
	require.NoError(t, db.Connection().QueryRowContext(ctx, `SELECT COUNT(*) FROM file_source_has_zip`).Scan(&hasZipCount))

	require.Equal(t, 1, zipFileCount)
	require.Equal(t, 1, zipActionCount)
	require.Equal(t, 1, hasZipCount)
}
