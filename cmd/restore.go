package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"dbkeeper/internal/backup"
	"dbkeeper/internal/display"
)

var restoreOutput string

// restoreCmd represents the restore command
var restoreCmd = &cobra.Command{
	Use:   "restore <artifact-id>",
	Short: "Restore an artifact back into its original plaintext form",
	Long: `Fetch the named artifact from storage, reverse the encryption and
compression it was built with, and write the original dump bytes to the
output file, or to stdout when no output is given.

Only stored and verified artifacts can be restored.

Examples:
  # Restore to a file
  dbkeeper restore art-20260830-ab12cd34 --output=orders.sql

  # Pipe the dump straight into mysql
  dbkeeper restore art-20260830-ab12cd34 | mysql orders`,
	Args: cobra.ExactArgs(1),
	RunE: runRestore,
}

func init() {
	rootCmd.AddCommand(restoreCmd)

	restoreCmd.Flags().StringVarP(&restoreOutput, "output", "o", "", "write the restored dump to this file instead of stdout")
}

func runRestore(cmd *cobra.Command, args []string) error {
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

	orchestrator, err := backup.NewOrchestratorFromConfig(cmd.Context(), config, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize orchestrator: %w", err)
	}

	out := os.Stdout
	if restoreOutput != "" {
		f, err := os.OpenFile(restoreOutput, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	written, err := orchestrator.Restore(cmd.Context(), args[0], out)
	if err != nil {
		return err
	}
	if restoreOutput != "" {
		if err := out.Sync(); err != nil {
			return fmt.Errorf("failed to sync output file: %w", err)
		}
	}

	if !quiet && restoreOutput != "" {
		colors := display.NewColorSystem(noColor)
		fmt.Fprintln(os.Stderr, colors.Sprintf(display.ColorSuccess, "restored %s to %s (%s)", args[0], restoreOutput, display.FormatBytes(written)))
	}
	return nil
}
