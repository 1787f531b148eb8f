package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// crawlerProps is the -c flag's value, needed by every subcommand
// (mirrors the teacher's package-level configFile var in root.go).
var crawlerProps string

var rootCmd = &cobra.Command{
	Use:   "crawler",
	Short: "phenocrawler periodic data-ingestion pipeline",
	Long: `crawler discovers, downloads, unpacks, validates, uploads, and
rebuilds the overview database for every configured data source, once
or on a fixed period (§6).`,
	RunE: runCrawl,
}

// flags mirrors spec.md §6's command-line surface one field per flag.
// cobra owns the raw values; viper.BindPFlag lets run.go read them back
// the same way it reads the crawler properties file, so flags and
// properties compose through one API.
func init() {
	// -c names the crawler properties file every subcommand needs, so
	// it is persistent; the rest only matter for an actual pipeline run.
	rootCmd.PersistentFlags().StringVarP(&crawlerProps, "crawler-properties", "c", "", "crawler properties file (required)")

	flags := rootCmd.Flags()
	flags.IntP("downloaders", "a", 1, "number of parallel downloaders [1,10]")
	flags.IntP("retries", "m", 1, "per-source retry count [1,5]")
	flags.IntP("pool-size", "t", 10, "discovery/extraction pool size [1,10]")
	flags.IntP("period", "p", 0, "periodic run delay in hours; 0 = one-shot")
	flags.StringP("data-dir", "d", "backup", "local data directory")
	flags.StringP("report-email", "r", "", "email address for the run report")
	flags.StringP("serializer-properties", "s", "", "serializer properties file")
	flags.StringP("validator-properties", "v", "", "XML validator properties file")
	flags.StringP("validator-resources-properties", "x", "", "XML validation-resources properties file")
	flags.StringP("context-builder-properties", "o", "", "context-builder properties file")

	for _, name := range []string{
		"downloaders", "retries", "pool-size", "period", "data-dir",
		"report-email", "serializer-properties",
		"validator-properties", "validator-resources-properties",
		"context-builder-properties",
	} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %q: %v", name, err))
		}
	}

	rootCmd.AddCommand(checkSourcesCmd)
	rootCmd.AddCommand(configCmd)
}

// Execute runs the root command; a returned error is a startup/config
// failure and maps to exit code 1 (§6).
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
