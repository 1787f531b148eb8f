package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/phenodcc/crawler/internal/config"
	"github.com/phenodcc/crawler/internal/database"
	"github.com/phenodcc/crawler/internal/session"
	"github.com/phenodcc/crawler/internal/slogutil"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func optionsFromFlags() config.RunOptions {
	return config.RunOptions{
		Downloaders:      viper.GetInt("downloaders"),
		RetryCount:       viper.GetInt("retries"),
		PoolSize:         viper.GetInt("pool-size"),
		PeriodHours:      viper.GetInt("period"),
		BackupDir:        viper.GetString("data-dir"),
		ReportEmail:      viper.GetString("report-email"),
		CrawlerProps:     crawlerProps,
		SerializerProps:  viper.GetString("serializer-properties"),
		ValidatorProps:   viper.GetString("validator-properties"),
		ValidatorXProps:  viper.GetString("validator-resources-properties"),
		ContextBuildProp: viper.GetString("context-builder-properties"),
	}
}

func runCrawl(cmd *cobra.Command, args []string) error {
	options := optionsFromFlags()
	if err := options.Validate(); err != nil {
		return fmt.Errorf("invalid command-line options: %w", err)
	}

	cfg, err := config.Load(options.CrawlerProps)
	if err != nil {
		return err
	}

	logger := slogutil.SetupLogRotation(cfg.Log)

	db, err := database.Connect(database.Config{DatabasePath: cfg.Tracker.DSN})
	if err != nil {
		return fmt.Errorf("failed to connect to tracker database: %w", err)
	}
	defer db.Close()

	orch, err := session.New(db, options, cfg.Tools, cfg.SMTP, cfg.Lock.Path,
		cfg.Naming.ZipPattern, cfg.Naming.XmlPattern, logger)
	if err != nil {
		return fmt.Errorf("failed to build session orchestrator: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := orch.RunPeriodically(ctx, options.PeriodHours); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("session run failed: %w", err)
	}
	return nil
}
