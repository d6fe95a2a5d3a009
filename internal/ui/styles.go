package ui

import (
	"fmt"
	"os"
)

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent = 74  // blue
	colorCmd    = 250 // light gray
	colorMuted  = 245 // medium gray
	colorWarn   = 214 // orange
)

var noColor bool

func render(color int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", color, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return render(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return render(colorMuted, s) }

// RenderCommand returns s styled as a command name (light gray).
func RenderCommand(s string) string { return render(colorCmd, s) }

// RenderWarn returns s in the warning (orange) color, used for locked
// sessions and sandbox errors.
func RenderWarn(s string) string { return render(colorWarn, s) }

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}

// Init disables colors when stdout should not be colored.
func Init() {
	if !ShouldUseColor(os.Stdout) {
		ForceNoColor()
	}
}
