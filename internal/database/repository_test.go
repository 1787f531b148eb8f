package database

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func seedCentreAndSource(t *testing.T, db *DB) (centreID int64, addTypeID int64) {
	t.Helper()
	ctx := context.Background()

	_, err := db.Connection().ExecContext(ctx, `INSERT INTO centre (short_name, name, active) VALUES ('ABCD', 'A Centre', 1)`)
	require.NoError(t, err)

	centre, err := db.Repository.GetCentreByShortName(ctx, "ABCD")
	require.NoError(t, err)

	addType, err := db.Repository.GetProcessingTypeByName(ctx, ProcessingTypeAdd)
	require.NoError(t, err)

	return centre.ID, addType.ID
}

func TestGetOrCreateZipFileIsIdempotentUnderConcurrency(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	centreID, _ := seedCentreAndSource(t, db)

	const workers = 8
	ids := make([]int64, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			zf, err := db.Repository.GetOrCreateZipFile(ctx, "ABCD_20140115_1.zip", ZipTokens{CentreID: &centreID}, nil)
			require.NoError(t, err)
			ids[i] = zf.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		require.Equal(t, ids[0], ids[i], "all callers must observe the same zip_file id")
	}

	var count int
	require.NoError(t, db.Connection().QueryRowContext(ctx, `SELECT COUNT(*) FROM zip_file`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestTakeDownloadJobIsLinearizable(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	centreID, addTypeID := seedCentreAndSource(t, db)

	zf, err := db.Repository.GetOrCreateZipFile(ctx, "ABCD_20140115_1.zip", ZipTokens{CentreID: &centreID}, nil)
	require.NoError(t, err)

	action, err := db.Repository.GetOrCreateZipAction(ctx, zf.ID, addTypeID)
	require.NoError(t, err)

	zipName, err := db.Repository.GetPhaseByName(ctx, PhaseZipName)
	require.NoError(t, err)
	done, err := db.Repository.GetStatusByName(ctx, StatusDone)
	require.NoError(t, err)
	require.NoError(t, db.Repository.SetZipActionPhaseStatus(ctx, action.ID, PhaseStatus{Phase: zipName, Status: done}))

	const attempts = 16
	results := make([]bool, attempts)
	var wg sync.WaitGroup
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func(i int) {
			defer wg.Done()
			var claimed bool
			err := db.Repository.WithImmediateTransaction(ctx, func(txRepo *Repository) error {
				var innerErr error
				claimed, innerErr = txRepo.TakeDownloadJob(ctx, action.ID)
				return innerErr
			})
			require.NoError(t, err)
			results[i] = claimed
		}(i)
	}
	wg.Wait()

	trueCount := 0
	for _, r := range results {
		if r {
			trueCount++
		}
	}
	require.Equal(t, 1, trueCount, "exactly one concurrent claim attempt must succeed")
}

func TestEscalationPropagatesUpTheChainOnXmlFileFailure(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	centreID, addTypeID := seedCentreAndSource(t, db)

	zf, err := db.Repository.GetOrCreateZipFile(ctx, "ABCD_20140115_1.zip", ZipTokens{CentreID: &centreID}, nil)
	require.NoError(t, err)
	action, err := db.Repository.GetOrCreateZipAction(ctx, zf.ID, addTypeID)
	require.NoError(t, err)

	_, err = db.Connection().ExecContext(ctx, `INSERT INTO centre (short_name, name, active) VALUES ('SRC1', 'Source Centre', 1)`)
	require.NoError(t, err)
	_, err = db.Connection().ExecContext(ctx, `
		INSERT INTO file_source (centre_id, hostname, source_protocol_id, base_path, resource_state_id)
		SELECT c.id, 'ftp.example.org', sp.id, '/data/', rs.id
		FROM centre c, source_protocol sp, resource_state rs
		WHERE c.short_name = 'SRC1' AND sp.name = 'ftp' AND rs.name = 'available'`)
	require.NoError(t, err)

	var fileSourceID int64
	require.NoError(t, db.Connection().QueryRowContext(ctx, `SELECT id FROM file_source LIMIT 1`).Scan(&fileSourceID))

	candidate, err := db.Repository.GetOrCreateFileSourceHasZip(ctx, fileSourceID, action.ID)
	require.NoError(t, err)

	downloadPhase, err := db.Repository.GetPhaseByName(ctx, PhaseDownload)
	require.NoError(t, err)
	running, err := db.Repository.GetStatusByName(ctx, StatusRunning)
	require.NoError(t, err)
	download, err := db.Repository.CreateZipDownload(ctx, candidate.ID, downloadPhase.ID, running.ID, "backup/add/ABCD_20140115_1.zip")
	require.NoError(t, err)

	xf, err := db.Repository.GetOrCreateXmlFile(ctx, download.ID, "ABCD_20140115_1_specimen.xml", XmlTokens{Kind: XmlKindSpecimen}, nil)
	require.NoError(t, err)

	xsdPhase, err := db.Repository.GetPhaseByName(ctx, PhaseXSD)
	require.NoError(t, err)
	failed, err := db.Repository.GetStatusByName(ctx, StatusFailed)
	require.NoError(t, err)

	require.NoError(t, db.Repository.SetXmlFilePhaseStatus(ctx, xf.ID, PhaseStatus{Phase: xsdPhase, Status: failed}))

	gotDownload, err := db.Repository.GetZipDownloadByID(ctx, download.ID)
	require.NoError(t, err)
	gotAction, err := db.Repository.GetZipActionByID(ctx, action.ID)
	require.NoError(t, err)

	require.Equal(t, xsdPhase.ID, gotDownload.PhaseID)
	require.Equal(t, failed.ID, gotDownload.StatusID)
	require.Equal(t, xsdPhase.ID, gotAction.PhaseID)
	require.Equal(t, failed.ID, gotAction.StatusID)
}
