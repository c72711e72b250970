package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"dbkeeper/internal/backup"
	"dbkeeper/internal/display"
)

var retentionYes bool

// retentionCmd groups retention planning and application
var retentionCmd = &cobra.Command{
	Use:   "retention",
	Short: "Plan and apply the retention policy",
	Long: `Plan and apply the retention policy for a source.

The planner decides which artifacts to keep and which to expire using the
configured window, daily, weekly and monthly tiers. The newest good
artifact of a source is never expired, whatever the policy says.`,
}

// retentionPlanCmd previews the retention decision without changing anything
var retentionPlanCmd = &cobra.Command{
	Use:   "plan <source-id>",
	Short: "Show what retention would keep and expire, without deleting anything",
	Args:  cobra.ExactArgs(1),
	RunE:  runRetentionPlan,
}

// retentionApplyCmd applies the retention decision and deletes expired artifacts
var retentionApplyCmd = &cobra.Command{
	Use:   "apply <source-id>",
	Short: "Apply the retention policy and delete expired artifacts",
	Args:  cobra.ExactArgs(1),
	RunE:  runRetentionApply,
}

func init() {
	rootCmd.AddCommand(retentionCmd)
	retentionCmd.AddCommand(retentionPlanCmd)
	retentionCmd.AddCommand(retentionApplyCmd)

	retentionApplyCmd.Flags().BoolVarP(&retentionYes, "yes", "y", false, "skip the confirmation prompt")
}

func runRetentionPlan(cmd *cobra.Command, args []string) error {
	orchestrator, err := buildOrchestrator(cmd)
	if err != nil {
		return err
	}

	plan, err := orchestrator.PlanRetentionForSource(args[0], time.Now().UTC())
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(plan)
	}

	fmt.Print(newReporter().FormatRetentionPlan(args[0], plan, true))
	return nil
}

func runRetentionApply(cmd *cobra.Command, args []string) error {
	orchestrator, err := buildOrchestrator(cmd)
	if err != nil {
		return err
	}

	plan, err := orchestrator.PlanRetentionForSource(args[0], time.Now().UTC())
	if err != nil {
		return err
	}

	colors := display.NewColorSystem(noColor)
	if len(plan.Expire) == 0 {
		if !quiet {
			fmt.Println(colors.Colorize("Nothing to expire.", display.ColorMuted))
		}
		return nil
	}

	if !retentionYes {
		dialog := display.NewConfirmationDialog(colors)
		if !dialog.Confirm(fmt.Sprintf("Expire and delete %d artifact(s) for %s?", len(plan.Expire), args[0])) {
			fmt.Println(colors.Colorize("Aborted.", display.ColorMuted))
			return nil
		}
	}

	plan, deleted, err := orchestrator.ApplyRetention(cmd.Context(), args[0], false)
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(map[string]interface{}{
			"plan":    plan,
			"deleted": deleted,
		})
	}

	if !quiet {
		fmt.Print(newReporter().FormatRetentionPlan(args[0], plan, false))
		fmt.Println(colors.Sprintf(display.ColorSuccess, "deleted %d artifact(s)", deleted))
	}
	return nil
}

// buildOrchestrator wires up the orchestrator for retention subcommands
func buildOrchestrator(cmd *cobra.Command) (*backup.Orchestrator, error) {
	if err := validateFlags(); err != nil {
		return nil, err
	}

	config, err := loadSystemConfig()
	if err != nil {
		return nil, err
	}

	logger, err := newLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	orchestrator, err := backup.NewOrchestratorFromConfig(cmd.Context(), config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize orchestrator: %w", err)
	}
	return orchestrator, nil
}
