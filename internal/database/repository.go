package database

import (
	"context"
	"database/sql"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// DBQuerier is implemented by both *sql.DB and *sql.Tx so repository
// methods can run unchanged inside or outside a transaction.
type DBQuerier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Repository provides tracker operations over C1's schema. getOrCreate
// collapses concurrent callers racing to create the same row (discovery
// workers polling overlapping sources can see the same filename at
// nearly the same instant) onto a single insert-then-select round trip.
type Repository struct {
	db          DBQuerier
	getOrCreate singleflight.Group
}

// NewRepository creates a new repository instance bound to a *sql.DB.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// WithTransaction executes fn inside a database transaction, committing
// on success and rolling back on any returned error.
func (r *Repository) WithTransaction(ctx context.Context, fn func(*Repository) error) error {
	return r.withTransaction(ctx, fn)
}

// WithImmediateTransaction is an alias of WithTransaction kept for
// symmetry with the teacher's API; go-sqlite3's BeginTx already takes
// the write lock at first statement, so there is no separate immediate
// mode to select here, but the claim protocol (§4.1) calls this name to
// make the locking requirement explicit at call sites.
func (r *Repository) WithImmediateTransaction(ctx context.Context, fn func(*Repository) error) error {
	return r.withTransaction(ctx, fn)
}

func (r *Repository) withTransaction(ctx context.Context, fn func(*Repository) error) error {
	sqlDB, ok := r.db.(*sql.DB)
	if !ok {
		return fmt.Errorf("repository not connected to sql.DB")
	}

	tx, err := sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txRepo := &Repository{db: tx}

	if err := fn(txRepo); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("failed to rollback transaction (original error: %w): %v", err, rollbackErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Enumeration lookups (§4.1's "enumeration lookups").

// GetPhaseByName returns a seeded Phase row by name.
func (r *Repository) GetPhaseByName(ctx context.Context, name string) (Phase, error) {
	var p Phase
	err := r.db.QueryRowContext(ctx, `SELECT id, name, ord FROM phase WHERE name = ?`, name).
		Scan(&p.ID, &p.Name, &p.Ord)
	if err != nil {
		return Phase{}, fmt.Errorf("phase %q not found: %w", name, err)
	}
	return p, nil
}

// GetStatusByName returns a seeded Status row by name.
func (r *Repository) GetStatusByName(ctx context.Context, name string) (Status, error) {
	var s Status
	err := r.db.QueryRowContext(ctx, `SELECT id, name, ord FROM a_status WHERE name = ?`, name).
		Scan(&s.ID, &s.Name, &s.Ord)
	if err != nil {
		return Status{}, fmt.Errorf("status %q not found: %w", name, err)
	}
	return s, nil
}

// GetPhaseByID returns a seeded Phase row by id.
func (r *Repository) GetPhaseByID(ctx context.Context, id int64) (Phase, error) {
	var p Phase
	err := r.db.QueryRowContext(ctx, `SELECT id, name, ord FROM phase WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Ord)
	if err != nil {
		return Phase{}, fmt.Errorf("phase id %d not found: %w", id, err)
	}
	return p, nil
}

// GetStatusByID returns a seeded Status row by id.
func (r *Repository) GetStatusByID(ctx context.Context, id int64) (Status, error) {
	var s Status
	err := r.db.QueryRowContext(ctx, `SELECT id, name, ord FROM a_status WHERE id = ?`, id).
		Scan(&s.ID, &s.Name, &s.Ord)
	if err != nil {
		return Status{}, fmt.Errorf("status id %d not found: %w", id, err)
	}
	return s, nil
}

// GetProtocolByName returns a seeded SourceProtocol row by name.
func (r *Repository) GetProtocolByName(ctx context.Context, name string) (SourceProtocol, error) {
	var p SourceProtocol
	err := r.db.QueryRowContext(ctx, `SELECT id, name FROM source_protocol WHERE name = ?`, name).
		Scan(&p.ID, &p.Name)
	if err != nil {
		return SourceProtocol{}, fmt.Errorf("protocol %q not found: %w", name, err)
	}
	return p, nil
}

// GetProcessingTypeByName returns a seeded ProcessingType row by name.
func (r *Repository) GetProcessingTypeByName(ctx context.Context, name string) (ProcessingType, error) {
	var t ProcessingType
	err := r.db.QueryRowContext(ctx, `SELECT id, name FROM processing_type WHERE name = ?`, name).
		Scan(&t.ID, &t.Name)
	if err != nil {
		return ProcessingType{}, fmt.Errorf("processing type %q not found: %w", name, err)
	}
	return t, nil
}

// GetProtocolByID returns a seeded SourceProtocol row by id.
func (r *Repository) GetProtocolByID(ctx context.Context, id int64) (SourceProtocol, error) {
	var p SourceProtocol
	err := r.db.QueryRowContext(ctx, `SELECT id, name FROM source_protocol WHERE id = ?`, id).
		Scan(&p.ID, &p.Name)
	if err != nil {
		return SourceProtocol{}, fmt.Errorf("protocol id %d not found: %w", id, err)
	}
	return p, nil
}

// GetProcessingTypeByID returns a seeded ProcessingType row by id.
func (r *Repository) GetProcessingTypeByID(ctx context.Context, id int64) (ProcessingType, error) {
	var t ProcessingType
	err := r.db.QueryRowContext(ctx, `SELECT id, name FROM processing_type WHERE id = ?`, id).
		Scan(&t.ID, &t.Name)
	if err != nil {
		return ProcessingType{}, fmt.Errorf("processing type id %d not found: %w", id, err)
	}
	return t, nil
}

// ListCentreShortNames returns every known centre's short name, used by
// the tokenizer's KnownCentres predicate (§4.2).
func (r *Repository) ListCentreShortNames(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT short_name FROM centre`)
	if err != nil {
		return nil, fmt.Errorf("failed to list centre short names: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan centre short name: %w", err)
		}
		out[name] = true
	}
	return out, rows.Err()
}

// GetCentreByShortName returns a Centre row by its stable short name.
func (r *Repository) GetCentreByShortName(ctx context.Context, shortName string) (Centre, error) {
	var c Centre
	var active int
	err := r.db.QueryRowContext(ctx, `SELECT id, short_name, name, active FROM centre WHERE short_name = ?`, shortName).
		Scan(&c.ID, &c.ShortName, &c.Name, &active)
	if err != nil {
		return Centre{}, fmt.Errorf("centre %q not found: %w", shortName, err)
	}
	c.Active = active != 0
	return c, nil
}

// ListActiveFileSources returns every FileSource whose resource-state is
// "available", for discovery (§4.6).
func (r *Repository) ListActiveFileSources(ctx context.Context) ([]FileSource, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT fs.id, fs.centre_id, fs.hostname, fs.source_protocol_id, fs.base_path,
		       fs.username, fs.password, fs.identity_file, fs.resource_state_id
		FROM file_source fs
		JOIN resource_state rs ON rs.id = fs.resource_state_id
		WHERE rs.name = ?`, ResourceStateAvailable)
	if err != nil {
		return nil, fmt.Errorf("failed to list active file sources: %w", err)
	}
	defer rows.Close()

	var out []FileSource
	for rows.Next() {
		var fs FileSource
		if err := rows.Scan(&fs.ID, &fs.CentreID, &fs.Hostname, &fs.ProtocolID, &fs.BasePath,
			&fs.Username, &fs.Password, &fs.IdentityFile, &fs.ResourceStateID); err != nil {
			return nil, fmt.Errorf("failed to scan file source: %w", err)
		}
		out = append(out, fs)
	}
	return out, rows.Err()
}
