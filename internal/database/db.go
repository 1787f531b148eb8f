package database

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// DB wraps the tracker connection and provides access to the Repository.
type DB struct {
	conn       *sql.DB
	Repository *Repository
}

// Config holds tracker connection configuration.
type Config struct {
	DatabasePath string
}

// New opens the tracker database and runs any pending migrations. The
// pragma set favours write concurrency over the teacher's read-heavy
// defaults: the claim protocol (take-download-job) and get-or-create
// paths are write-heavy and rely on SERIALIZABLE-equivalent locking, so
// read_uncommitted is not set here.
func New(config Config) (*DB, error) {
	connString := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=ON&_busy_timeout=30000",
		config.DatabasePath)

	conn, err := sql.Open("sqlite3", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open tracker database: %w", err)
	}

	// SQLite only tolerates a single writer at a time; a large open-conn
	// pool just produces SQLITE_BUSY under the worker pools in §5, so the
	// pool is kept small and long-lived rather than wide.
	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(0)
	conn.SetConnMaxIdleTime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping tracker database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 30000",
		"PRAGMA cache_size = -32000",
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set pragma '%s': %w", pragma, err)
		}
	}

	if err := runMigrations(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	db := &DB{conn: conn}
	db.Repository = NewRepository(conn)

	return db, nil
}

// runMigrations applies every embedded migration file in lexical order,
// tracking applied versions in schema_migrations.
func runMigrations(db *sql.DB) error {
	createMigrationsTable := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`

	if _, err := db.Exec(createMigrationsTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	entries, err := fs.ReadDir(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrationFiles []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		migrationFiles = append(migrationFiles, entry.Name())
	}
	sort.Strings(migrationFiles)

	for _, filename := range migrationFiles {
		version := strings.TrimSuffix(filename, ".sql")

		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check migration status: %w", err)
		}
		if count > 0 {
			continue
		}

		migrationPath := filepath.Join("migrations", filename)
		content, err := embedMigrations.ReadFile(migrationPath)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", filename, err)
		}

		migrationSQL := cleanMigrationSQL(string(content))

		if _, err := db.Exec(migrationSQL); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", version, err)
		}

		if _, err := db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", version, err)
		}
	}

	return nil
}

// cleanMigrationSQL strips goose annotations, keeping only the Up section.
// Migration files follow goose's annotation convention so they remain
// readable by the goose CLI during development, even though this binary
// applies them with its own minimal runner rather than importing goose.
func cleanMigrationSQL(sql string) string {
	lines := strings.Split(sql, "\n")
	var cleanLines []string

	inUpSection := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "-- +goose Up") {
			inUpSection = true
			continue
		}
		if strings.HasPrefix(trimmed, "-- +goose Down") {
			break
		}
		if strings.HasPrefix(trimmed, "-- +goose StatementBegin") ||
			strings.HasPrefix(trimmed, "-- +goose StatementEnd") {
			continue
		}

		if inUpSection {
			cleanLines = append(cleanLines, line)
		}
	}

	return strings.Join(cleanLines, "\n")
}

// Close closes the tracker connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Connection returns the underlying *sql.DB, mostly for tests.
func (db *DB) Connection() *sql.DB {
	return db.conn
}

// connectWithBackoff opens the tracker with exponential back-off per
// §4.1: initial wait 5 minutes, multiplier x5, max 5 attempts. Exhausting
// retries is fatal, per §7. waitFn lets tests swap in a no-op sleep.
func connectWithBackoff(config Config, initialWait time.Duration, attempts int, waitFn func(time.Duration)) (*DB, error) {
	wait := initialWait
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		db, err := New(config)
		if err == nil {
			return db, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		waitFn(wait)
		wait *= 5
	}
	return nil, fmt.Errorf("failed to connect to tracker database after %d attempts: %w", attempts, lastErr)
}

// Connect opens the tracker database, retrying per §4.1's back-off policy.
func Connect(config Config) (*DB, error) {
	return connectWithBackoff(config, 5*time.Minute, 5, time.Sleep)
}
