package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// OpenSession creates a new CrawlingSession row (§4.10).
func (r *Repository) OpenSession(ctx context.Context) (CrawlingSession, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO crawling_session DEFAULT VALUES`)
	if err != nil {
		return CrawlingSession{}, fmt.Errorf("failed to open crawling_session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return CrawlingSession{}, fmt.Errorf("failed to read crawling_session id: %w", err)
	}
	return r.GetSessionByID(ctx, id)
}

// GetSessionByID reloads a CrawlingSession row by id.
func (r *Repository) GetSessionByID(ctx context.Context, id int64) (CrawlingSession, error) {
	var s CrawlingSession
	var startedAt string
	var endedAt sql.NullString
	var succeeded sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT id, started_at, ended_at, succeeded FROM crawling_session WHERE id = ?`, id).
		Scan(&s.ID, &startedAt, &endedAt, &succeeded)
	if err != nil {
		return CrawlingSession{}, fmt.Errorf("crawling_session %d not found: %w", id, err)
	}
	s.StartedAt = parseTimestamp(startedAt)
	s.EndedAt = parseTimestampPtr(endedAt)
	if succeeded.Valid {
		b := succeeded.Int64 != 0
		s.Succeeded = &b
	}
	return s, nil
}

// CloseSession records the session's end time and aggregate status
// (§4.9.4, §4.10).
func (r *Repository) CloseSession(ctx context.Context, sessionID int64, succeeded bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE crawling_session
		SET ended_at = strftime('%Y-%m-%dT%H:%M:%fZ','now'), succeeded = ?
		WHERE id = ?`, boolToInt(succeeded), sessionID)
	if err != nil {
		return fmt.Errorf("failed to close crawling_session %d: %w", sessionID, err)
	}
	return nil
}

// StartSessionTask records the start of one subprocess invocation (§4.9).
func (r *Repository) StartSessionTask(ctx context.Context, sessionID int64, phaseID int64) (SessionTask, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO session_task (session_id, phase_id) VALUES (?, ?)`, sessionID, phaseID)
	if err != nil {
		return SessionTask{}, fmt.Errorf("failed to insert session_task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return SessionTask{}, fmt.Errorf("failed to read session_task id: %w", err)
	}
	return r.getSessionTask(ctx, id)
}

func (r *Repository) getSessionTask(ctx context.Context, id int64) (SessionTask, error) {
	var t SessionTask
	var startedAt string
	var endedAt sql.NullString
	var exitCode sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT id, session_id, phase_id, started_at, ended_at, exit_code, comment
		FROM session_task WHERE id = ?`, id).
		Scan(&t.ID, &t.SessionID, &t.PhaseID, &startedAt, &endedAt, &exitCode, &t.Comment)
	if err != nil {
		return SessionTask{}, fmt.Errorf("session_task %d not found: %w", id, err)
	}
	t.StartedAt = parseTimestamp(startedAt)
	t.EndedAt = parseTimestampPtr(endedAt)
	if exitCode.Valid {
		v := int(exitCode.Int64)
		t.ExitCode = &v
	}
	return t, nil
}

// FinishSessionTask records the end time, exit code and a free-text
// comment for a SessionTask row.
func (r *Repository) FinishSessionTask(ctx context.Context, taskID int64, exitCode int, comment string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE session_task
		SET ended_at = strftime('%Y-%m-%dT%H:%M:%fZ','now'), exit_code = ?, comment = ?
		WHERE id = ?`, exitCode, comment, taskID)
	if err != nil {
		return fmt.Errorf("failed to finish session_task %d: %w", taskID, err)
	}
	return nil
}

// SessionSummary aggregates counters for the run-report email (§4 of
// SPEC_FULL.md's supplemented features).
type SessionSummary struct {
	SessionID          int64
	StartedAt          time.Time
	EndedAt            *time.Time
	Succeeded          *bool
	DownloadsAttempted int
	DownloadsSucceeded int
	DownloadsFailed    int
	DocumentsProcessed int
}

// Summarize builds a SessionSummary for the given session, for the
// run-report email.
func (r *Repository) Summarize(ctx context.Context, sessionID int64) (SessionSummary, error) {
	session, err := r.GetSessionByID(ctx, sessionID)
	if err != nil {
		return SessionSummary{}, err
	}

	summary := SessionSummary{
		SessionID: session.ID,
		StartedAt: session.StartedAt,
		EndedAt:   session.EndedAt,
		Succeeded: session.Succeeded,
	}

	// Session task rows only cover post-ingest invocations; download
	// counters are read straight off zip_download rows created since
	// the session started, which is a reasonable proxy since sessions
	// do not overlap (§4.10's re-entrancy guard).
	row := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN s.name = 'done' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN s.name = 'failed' THEN 1 ELSE 0 END), 0)
		FROM zip_download zd
		JOIN a_status s ON s.id = zd.status_id
		WHERE zd.started_at >= ?`, formatTimestamp(session.StartedAt))
	if err := row.Scan(&summary.DownloadsAttempted, &summary.DownloadsSucceeded, &summary.DownloadsFailed); err != nil {
		return SessionSummary{}, fmt.Errorf("failed to summarize downloads for session %d: %w", sessionID, err)
	}

	row = r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM xml_file WHERE created_at >= ?`, formatTimestamp(session.StartedAt))
	if err := row.Scan(&summary.DocumentsProcessed); err != nil {
		return SessionSummary{}, fmt.Errorf("failed to summarize documents for session %d: %w", sessionID, err)
	}

	return summary, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
