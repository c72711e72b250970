package display

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Color identifies a semantic output color
type Color string

const (
	ColorSuccess Color = "success"
	ColorError   Color = "error"
	ColorWarning Color = "warning"
	ColorInfo    Color = "info"
	ColorMuted   Color = "muted"
	ColorHeader  Color = "header"
)

// ColorSystem handles color application and terminal detection
type ColorSystem struct {
	colorSupported bool
	profile        termenv.Profile
	colorMap       map[Color]*color.Color
}

// NewColorSystem creates a new color system with terminal detection
func NewColorSystem(forceDisable bool) *ColorSystem {
	cs := &ColorSystem{
		colorSupported: !forceDisable && detectColorSupport(),
		profile:        termenv.ColorProfile(),
	}

	cs.colorMap = map[Color]*color.Color{
		ColorSuccess: color.New(color.FgGreen),
		ColorError:   color.New(color.FgRed),
		ColorWarning: color.New(color.FgYellow),
		ColorInfo:    color.New(color.FgCyan),
		ColorMuted:   color.New(color.FgHiBlack),
		ColorHeader:  color.New(color.FgWhite, color.Bold),
	}

	if !cs.colorSupported {
		color.NoColor = true
	}
	return cs
}

// detectColorSupport checks if the terminal supports colors
func detectColorSupport() bool {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return false
	}
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	return true
}

// Colorize applies color to text if color is supported
func (cs *ColorSystem) Colorize(text string, clr Color) string {
	if !cs.colorSupported {
		return text
	}
	if colorFunc, exists := cs.colorMap[clr]; exists {
		return colorFunc.Sprint(text)
	}
	return text
}

// Sprintf formats text with color using a format string
func (cs *ColorSystem) Sprintf(clr Color, format string, args ...interface{}) string {
	return cs.Colorize(fmt.Sprintf(format, args...), clr)
}

// IsColorSupported returns whether colors are supported
func (cs *ColorSystem) IsColorSupported() bool {
	return cs.colorSupported
}
