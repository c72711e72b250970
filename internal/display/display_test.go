package display

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"dbkeeper/internal/backup"
)

func newPlainReporter() *Reporter {
	return NewReporter(NewColorSystem(true))
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
	}

	for _, tt := range tests {
		if got := FormatBytes(tt.n); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestReporter_FormatRunReport(t *testing.T) {
	report := &backup.RunReport{
		RunID:        "run-abc",
		SourceID:     "orders",
		Outcome:      backup.RunOutcomeSuccess,
		ArtifactID:   "orders-20260830-010203-deadbeef",
		BytesWritten: 2048,
		Duration:     1500 * time.Millisecond,
		ExpiredCount: 2,
	}

	out := newPlainReporter().FormatRunReport(report)
	for _, want := range []string{"run-abc", "orders", "SUCCESS", "orders-20260830-010203-deadbeef", "2.0 KB", "1.5s", "Expired:    2"} {
		if !strings.Contains(out, want) {
			t.Errorf("run report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Error:") {
		t.Errorf("successful report should carry no error line:\n%s", out)
	}
}

func TestReporter_FormatArtifacts(t *testing.T) {
	reporter := newPlainReporter()

	if out := reporter.FormatArtifacts(nil); !strings.Contains(out, "No artifacts found.") {
		t.Errorf("empty listing = %q", out)
	}

	artifacts := []*backup.Artifact{
		{
			ID:         "orders-20260830-010203-deadbeef",
			SourceID:   "orders",
			State:      backup.StateVerified,
			Size:       4096,
			CreatedAt:  time.Date(2026, 8, 30, 1, 2, 3, 0, time.UTC),
			StorageKey: "artifacts/orders/orders-20260830-010203-deadbeef.dump.gz",
		},
	}
	out := reporter.FormatArtifacts(artifacts)
	for _, want := range []string{"ID", "STATE", "VERIFIED", "4.0 KB", "artifacts/orders"} {
		if !strings.Contains(out, want) {
			t.Errorf("artifact table missing %q:\n%s", want, out)
		}
	}
}

func TestReporter_FormatRetentionPlan(t *testing.T) {
	plan := &backup.RetentionPlan{
		Keep:    []string{"orders-a", "orders-b"},
		Expire:  []string{"orders-old"},
		Skipped: []string{"orders-pending"},
	}

	out := newPlainReporter().FormatRetentionPlan("orders", plan, true)
	for _, want := range []string{"Retention plan for orders (dry run)", "Keep:    2", "Expire:  1", "Skipped: 1", "expire orders-old"} {
		if !strings.Contains(out, want) {
			t.Errorf("retention plan missing %q:\n%s", want, out)
		}
	}

	out = newPlainReporter().FormatRetentionPlan("orders", plan, false)
	if strings.Contains(out, "dry run") {
		t.Errorf("apply-mode plan should not mention dry run:\n%s", out)
	}
}

func TestTable_AlignsAndTruncates(t *testing.T) {
	table := NewTable(NewColorSystem(true), "ID", "STATE")
	table.width = 80
	table.AddRow("orders-1", "VERIFIED")
	table.AddRow("orders-2", "PENDING")

	out := table.String()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "ID") {
		t.Errorf("header line = %q", lines[0])
	}
	stateCol := strings.Index(lines[0], "STATE")
	if stateCol == -1 || !strings.HasPrefix(lines[1][stateCol:], "VERIFIED") {
		t.Errorf("columns not aligned:\n%s", out)
	}

	narrow := NewTable(NewColorSystem(true), "KEY")
	narrow.width = 20
	narrow.AddRow(strings.Repeat("x", 100))
	if rendered := narrow.String(); !strings.Contains(rendered, "...") {
		t.Errorf("overlong cell should be truncated:\n%s", rendered)
	}
}

func TestConfirmationDialog_Confirm(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   bool
	}{
		{"yes", "y\n", true},
		{"yes word", "yes\n", true},
		{"uppercase", "Y\n", true},
		{"no", "n\n", false},
		{"empty defaults to no", "\n", false},
		{"eof defaults to no", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			dialog := &ConfirmationDialog{
				colors: NewColorSystem(true),
				in:     strings.NewReader(tt.answer),
				out:    &out,
			}

			if got := dialog.Confirm("Delete 3 artifacts?"); got != tt.want {
				t.Errorf("Confirm(%q) = %v, want %v", tt.answer, got, tt.want)
			}
			if !strings.Contains(out.String(), "[y/N]") {
				t.Errorf("prompt missing default hint: %q", out.String())
			}
		})
	}
}
