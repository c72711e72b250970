package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"dbkeeper/internal/backup"
	"dbkeeper/internal/display"
)

// verifyCmd represents the verify command
var verifyCmd = &cobra.Command{
	Use:   "verify <artifact-id>",
	Short: "Re-verify a stored artifact against its recorded digest",
	Long: `Download the named artifact from storage, recompute its digest, and
compare it with the digest recorded in the manifest.

A stored artifact that matches is promoted to verified. A mismatch marks
the artifact failed so it can never be restored from or counted by
retention as a good copy.

Examples:
  dbkeeper verify art-20260830-ab12cd34`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
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

	colors := display.NewColorSystem(noColor)
	ok, err := orchestrator.VerifyArtifact(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println(colors.Sprintf(display.ColorError, "artifact %s FAILED verification: digest mismatch", args[0]))
		return fmt.Errorf("artifact %s failed verification", args[0])
	}

	if !quiet {
		fmt.Println(colors.Sprintf(display.ColorSuccess, "artifact %s verified", args[0]))
	}
	return nil
}
