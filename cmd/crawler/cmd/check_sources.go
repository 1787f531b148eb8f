package cmd

import (
	"context"
	"fmt"
	"path"

	"github.com/phenodcc/crawler/internal/config"
	"github.com/phenodcc/crawler/internal/database"
	"github.com/phenodcc/crawler/internal/discovery"
	"github.com/spf13/cobra"
)

// checkSourcesCmd is an operator diagnostic, grounded on the teacher's
// provider speedtest command: dial every active source in turn and
// report reachability without writing anything to the tracker.
var checkSourcesCmd = &cobra.Command{
	Use:   "check-sources",
	Short: "Dial every active data source and report whether it is reachable",
	RunE:  runCheckSources,
}

func runCheckSources(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(crawlerProps)
	if err != nil {
		return err
	}

	db, err := database.Connect(database.Config{DatabasePath: cfg.Tracker.DSN})
	if err != nil {
		return fmt.Errorf("failed to connect to tracker database: %w", err)
	}
	defer db.Close()

	ctx := cmd.Context()
	sources, err := db.Repository.ListActiveFileSources(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active sources: %w", err)
	}
	if len(sources) == 0 {
		fmt.Println("no active data sources configured")
		return nil
	}

	for _, fs := range sources {
		checkOneSource(ctx, db.Repository, fs)
	}
	return nil
}

func checkOneSource(ctx context.Context, repo *database.Repository, fs database.FileSource) {
	protocol, err := repo.GetProtocolByID(ctx, fs.ProtocolID)
	if err != nil {
		fmt.Printf("%s: ERROR resolving protocol: %v\n", fs.Hostname, err)
		return
	}

	driver, err := discovery.DefaultResolver(ctx, fs, protocol.Name)
	if err != nil {
		fmt.Printf("%s (%s): ERROR %v\n", fs.Hostname, protocol.Name, err)
		return
	}
	defer driver.Close()

	for _, sub := range []string{database.ProcessingTypeAdd, database.ProcessingTypeEdit, database.ProcessingTypeDelete} {
		remotePath := path.Join(fs.BasePath, sub)
		entries, err := driver.List(ctx, remotePath)
		if err != nil {
			fmt.Printf("%s (%s) %s/: ERROR %v\n", fs.Hostname, protocol.Name, sub, err)
			continue
		}
		fmt.Printf("%s (%s) %s/: OK, %d entries\n", fs.Hostname, protocol.Name, sub, len(entries))
	}
}
