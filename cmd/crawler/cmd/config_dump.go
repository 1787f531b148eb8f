package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/phenodcc/crawler/internal/config"
	"github.com/spf13/cobra"
)

// configCmd dumps the effective merged configuration for operator
// debugging, grounded on the teacher's own config-inspection surface.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective crawler configuration",
	RunE:  runConfigDump,
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(crawlerProps)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
