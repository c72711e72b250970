package display

import (
	"fmt"
	"strings"
	"time"

	"dbkeeper/internal/backup"
)

// Reporter formats orchestration results for terminal output
type Reporter struct {
	colors *ColorSystem
}

// NewReporter creates a reporter with the given color system
func NewReporter(colors *ColorSystem) *Reporter {
	return &Reporter{colors: colors}
}

// FormatRunReport renders a single run result
func (r *Reporter) FormatRunReport(report *backup.RunReport) string {
	var sb strings.Builder

	sb.WriteString(r.colors.Colorize("Backup Run", ColorHeader))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("  Run ID:     %s\n", report.RunID))
	sb.WriteString(fmt.Sprintf("  Source:     %s\n", report.SourceID))
	sb.WriteString(fmt.Sprintf("  Outcome:    %s\n", r.colorizeOutcome(report.Outcome)))
	if report.ArtifactID != "" {
		sb.WriteString(fmt.Sprintf("  Artifact:   %s\n", report.ArtifactID))
		sb.WriteString(fmt.Sprintf("  Written:    %s\n", FormatBytes(report.BytesWritten)))
	}
	sb.WriteString(fmt.Sprintf("  Duration:   %s\n", report.Duration.Round(time.Millisecond)))
	if report.ReconciledCount > 0 {
		sb.WriteString(fmt.Sprintf("  Reconciled: %d\n", report.ReconciledCount))
	}
	if report.ExpiredCount > 0 {
		sb.WriteString(fmt.Sprintf("  Expired:    %d\n", report.ExpiredCount))
	}
	if report.ErrorDetail != "" {
		sb.WriteString(fmt.Sprintf("  Error:      %s\n", r.colors.Colorize(report.ErrorDetail, ColorError)))
	}
	return sb.String()
}

// FormatArtifacts renders a table of manifest entries
func (r *Reporter) FormatArtifacts(artifacts []*backup.Artifact) string {
	if len(artifacts) == 0 {
		return r.colors.Colorize("No artifacts found.", ColorMuted) + "\n"
	}

	table := NewTable(r.colors, "ID", "SOURCE", "STATE", "SIZE", "CREATED", "STORAGE KEY")
	for _, a := range artifacts {
		table.AddRow(
			a.ID,
			a.SourceID,
			r.colorizeState(a.State),
			FormatBytes(a.Size),
			a.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			a.StorageKey,
		)
	}
	return table.String()
}

// FormatRuns renders run history newest first
func (r *Reporter) FormatRuns(runs []*backup.RunRecord) string {
	if len(runs) == 0 {
		return r.colors.Colorize("No runs recorded.", ColorMuted) + "\n"
	}

	table := NewTable(r.colors, "RUN ID", "SOURCE", "OUTCOME", "STARTED", "DURATION", "WRITTEN", "DETAIL")
	for _, run := range runs {
		table.AddRow(
			run.RunID,
			run.SourceID,
			r.colorizeOutcome(run.Outcome),
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			run.Duration().Round(time.Millisecond).String(),
			FormatBytes(run.BytesWritten),
			run.ErrorDetail,
		)
	}
	return table.String()
}

// FormatRetentionPlan renders the keep/expire decision for a source
func (r *Reporter) FormatRetentionPlan(sourceID string, plan *backup.RetentionPlan, dryRun bool) string {
	var sb strings.Builder

	title := fmt.Sprintf("Retention plan for %s", sourceID)
	if dryRun {
		title += " (dry run)"
	}
	sb.WriteString(r.colors.Colorize(title, ColorHeader))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("  Keep:    %d\n", len(plan.Keep)))
	sb.WriteString(fmt.Sprintf("  Expire:  %d\n", len(plan.Expire)))
	if len(plan.Skipped) > 0 {
		sb.WriteString(fmt.Sprintf("  Skipped: %d\n", len(plan.Skipped)))
	}
	for _, id := range plan.Expire {
		sb.WriteString(fmt.Sprintf("    %s %s\n", r.colors.Colorize("expire", ColorWarning), id))
	}
	return sb.String()
}

func (r *Reporter) colorizeOutcome(outcome backup.RunOutcome) string {
	switch outcome {
	case backup.RunOutcomeSuccess:
		return r.colors.Colorize(string(outcome), ColorSuccess)
	case backup.RunOutcomePartial:
		return r.colors.Colorize(string(outcome), ColorWarning)
	case backup.RunOutcomeFailed:
		return r.colors.Colorize(string(outcome), ColorError)
	case backup.RunOutcomeSkipped:
		return r.colors.Colorize(string(outcome), ColorMuted)
	default:
		return string(outcome)
	}
}

func (r *Reporter) colorizeState(state backup.ArtifactState) string {
	switch state {
	case backup.StateVerified:
		return r.colors.Colorize(string(state), ColorSuccess)
	case backup.StateFailed:
		return r.colors.Colorize(string(state), ColorError)
	case backup.StateExpiring, backup.StateDeleted:
		return r.colors.Colorize(string(state), ColorMuted)
	default:
		return string(state)
	}
}

// FormatBytes renders a byte count in human readable units
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
