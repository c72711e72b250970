package display

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// ConfirmationDialog prompts the user before destructive operations
type ConfirmationDialog struct {
	colors *ColorSystem
	in     io.Reader
	out    io.Writer
}

// NewConfirmationDialog creates a dialog reading from stdin
func NewConfirmationDialog(colors *ColorSystem) *ConfirmationDialog {
	return &ConfirmationDialog{
		colors: colors,
		in:     os.Stdin,
		out:    os.Stdout,
	}
}

// Confirm asks a yes/no question and returns the answer.
// An empty answer or read error counts as no.
func (d *ConfirmationDialog) Confirm(message string) bool {
	fmt.Fprintf(d.out, "%s %s ", d.colors.Colorize(message, ColorWarning), d.colors.Colorize("[y/N]", ColorMuted))

	reader := bufio.NewReader(d.in)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
