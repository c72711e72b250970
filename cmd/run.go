package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"dbkeeper/internal/backup"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [source-id]",
	Short: "Run a backup for one source or for all configured sources",
	Long: `Run a backup for the named source, or for every configured source when
no source is given.

Each run acquires a per-source lease lock, reconciles any work left behind
by earlier interrupted runs, builds and uploads a new artifact, verifies it
against its digest, and then applies the retention policy. A source whose
lock is already held is skipped cleanly; other sources still run.

Examples:
  # Back up every configured source
  dbkeeper run --config=dbkeeper.yaml

  # Back up a single source
  dbkeeper run orders-db --config=dbkeeper.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBackup,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// runBackup executes backup runs and reports their outcomes
func runBackup(cmd *cobra.Command, args []string) error {
	if err := validateFlags(); err != nil {
		return err
	}

	config, err := loadSystemConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	sources := config.Sources
	if len(args) == 1 {
		sourceCfg, err := config.FindSource(args[0])
		if err != nil {
			return err
		}
		sources = []backup.SourceConfig{*sourceCfg}
	}
	if len(sources) == 0 {
		return fmt.Errorf("no sources configured")
	}

	orchestrator, err := backup.NewOrchestratorFromConfig(cmd.Context(), config, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize orchestrator: %w", err)
	}

	reporter := newReporter()
	var reports []*backup.RunReport
	var firstErr error

	for _, sourceCfg := range sources {
		source, err := backup.NewSource(sourceCfg)
		if err != nil {
			return err
		}

		report, runErr := orchestrator.RunOnce(cmd.Context(), source)
		if runErr != nil && !backup.IsLockContention(runErr) && firstErr == nil {
			firstErr = runErr
		}
		if report != nil {
			reports = append(reports, report)
		}
	}

	if outputFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(reports); err != nil {
			return fmt.Errorf("failed to encode run reports: %w", err)
		}
	} else if !quiet {
		for _, report := range reports {
			fmt.Print(reporter.FormatRunReport(report))
		}
	}

	return firstErr
}
