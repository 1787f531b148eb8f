package config

import "fmt"

// RunOptions is the parsed and bounds-checked form of the command-line
// surface in spec.md §6. cmd/crawler binds cobra flags into this
// struct and calls Validate before the session orchestrator ever sees it.
type RunOptions struct {
	Downloaders      int    // -a, default 1, [1,10]
	RetryCount       int    // -m, default 1, [1,5]
	PoolSize         int    // -t, default 10, [1,10]
	PeriodHours      int    // -p, default 0 (one-shot), >=0
	BackupDir        string // -d, default "backup"
	ReportEmail      string // -r, optional
	CrawlerProps     string // -c, required
	SerializerProps  string // -s, optional
	ValidatorProps   string // -v, optional
	ValidatorXProps  string // -x, optional
	ContextBuildProp string // -o, optional
}

// DefaultRunOptions mirrors the defaults in spec.md §6.
func DefaultRunOptions() RunOptions {
	return RunOptions{
		Downloaders: 1,
		RetryCount:  1,
		PoolSize:    10,
		PeriodHours: 0,
		BackupDir:   "backup",
	}
}

// Validate enforces the bounds table in spec.md §6. A non-nil error
// here is a startup/config failure (exit code 1).
func (o RunOptions) Validate() error {
	if o.Downloaders < 1 || o.Downloaders > 10 {
		return fmt.Errorf("-a (downloaders) must be in [1,10], got %d", o.Downloaders)
	}
	if o.RetryCount < 1 || o.RetryCount > 5 {
		return fmt.Errorf("-m (retry count) must be in [1,5], got %d", o.RetryCount)
	}
	if o.PoolSize < 1 || o.PoolSize > 10 {
		return fmt.Errorf("-t (pool size) must be in [1,10], got %d", o.PoolSize)
	}
	if o.PeriodHours < 0 {
		return fmt.Errorf("-p (period hours) must be >= 0, got %d", o.PeriodHours)
	}
	if o.BackupDir == "" {
		return fmt.Errorf("-d (backup dir) must not be empty")
	}
	if o.CrawlerProps == "" {
		return fmt.Errorf("-c (crawler properties file) is required")
	}
	if err := readableFile(o.CrawlerProps); err != nil {
		return fmt.Errorf("-c: %w", err)
	}
	if err := readableFile(o.SerializerProps); err != nil {
		return fmt.Errorf("-s: %w", err)
	}
	if err := readableFile(o.ValidatorProps); err != nil {
		return fmt.Errorf("-v: %w", err)
	}
	if err := readableFile(o.ValidatorXProps); err != nil {
		return fmt.Errorf("-x: %w", err)
	}
	if err := readableFile(o.ContextBuildProp); err != nil {
		return fmt.Errorf("-o: %w", err)
	}
	return nil
}
