package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"dbkeeper/internal/backup"
)

var (
	listSource string
	listState  string
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List artifacts recorded in the manifest",
	Long: `List artifacts recorded in the manifest, optionally filtered by source
and lifecycle state.

Examples:
  # All artifacts for every source
  dbkeeper list

  # Verified artifacts for one source, as JSON
  dbkeeper list --source orders-db --state VERIFIED --format=json`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVar(&listSource, "source", "", "only show artifacts for this source")
	listCmd.Flags().StringVar(&listState, "state", "", "only show artifacts in this state (PENDING, STORED, VERIFIED, EXPIRING, DELETED, FAILED)")
}

func runList(cmd *cobra.Command, args []string) error {
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

	var artifacts []*backup.Artifact
	if listSource != "" {
		artifacts, err = manifest.ListBySource(listSource)
	} else {
		artifacts, err = manifest.ListAll()
	}
	if err != nil {
		return fmt.Errorf("failed to list artifacts: %w", err)
	}

	if listState != "" {
		state := backup.ArtifactState(listState)
		if !backup.IsValidArtifactState(state) {
			return fmt.Errorf("invalid state %q", listState)
		}
		filtered := artifacts[:0]
		for _, a := range artifacts {
			if a.State == state {
				filtered = append(filtered, a)
			}
		}
		artifacts = filtered
	}

	if outputFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(artifacts)
	}

	fmt.Print(newReporter().FormatArtifacts(artifacts))
	return nil
}
