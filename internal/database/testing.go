package database

import "testing"

// NewTestDB opens an in-memory tracker database with migrations applied,
// for use by tests across the module (discovery, download, extraction,
// post-ingest). Grounded on the teacher's own in-memory sqlite fixture
// pattern.
func NewTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(Config{DatabasePath: ":memory:?cache=shared"})
	if err != nil {
		t.Fatalf("failed to open in-memory tracker database: %v", err)
	}
	// Every new connection to ":memory:" is a separate, empty database,
	// so the fixture stays on the one connection the migrations ran on.
	db.Connection().SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}
