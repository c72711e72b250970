package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"dbkeeper/internal/backup"
)

var (
	runsSource string
	runsLimit  int
)

// runsCmd represents the runs command
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show run history, newest first",
	Long: `Show the history of backup runs recorded in the run log, newest first.

Examples:
  # Last 20 runs across all sources
  dbkeeper runs

  # Full history for one source, as JSON
  dbkeeper runs --source orders-db --limit 0 --format=json`,
	RunE: runRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)

	runsCmd.Flags().StringVar(&runsSource, "source", "", "only show runs for this source")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum number of runs to show (0 for all)")
}

func runRuns(cmd *cobra.Command, args []string) error {
	if err := validateFlags(); err != nil {
		return err
	}

	config, err := loadSystemConfig()
	if err != nil {
		return err
	}

	manifest, err := backup.NewFileManifestStore(config.Orchestrator.ManifestPath, config.Orchestrator.RunLogPath)
	if err != nil {
		return fmt.Errorf("failed to open manifest: %w", err)
	}

	runs, err := manifest.ListRuns(runsSource, runsLimit)
	if err != nil {
		return fmt.Errorf("failed to read run history: %w", err)
	}

	if outputFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(runs)
	}

	fmt.Print(newReporter().FormatRuns(runs))
	return nil
}
