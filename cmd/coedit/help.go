package main

import (
	"bytes"
	"fmt"
	"os"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/coedit/internal/ui"
)

// helpRule styles the second submatch of every match of re, keeping the
// first submatch as is.
type helpRule struct {
	re    *regexp.Regexp
	style func(string) string
}

var helpRules = []helpRule{
	// Group headers such as "Sessions:" or "Flags:".
	{regexp.MustCompile(`(?m)^()([A-Z][A-Za-z ]*:)[ \t]*$`), ui.RenderAccent},
	// Command names: two-space indent, then the name.
	{regexp.MustCompile(`(?m)^(  )([a-z][\w-]*)`), ui.RenderCommand},
	// Flag value types, e.g. "--timeout duration".
	{regexp.MustCompile(`(--[\w-]+ )(string|int|duration)\b`), ui.RenderMuted},
	// Quoted defaults, e.g. (default "http").
	{regexp.MustCompile(`()(\(default "[^"]*"\))`), ui.RenderMuted},
}

// colorizedHelpFunc returns a Cobra help function that styles the default
// usage text when the output is a color-capable terminal.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, _ []string) {
		w := cmd.OutOrStdout()
		f, isFile := w.(*os.File)
		if !isFile || !ui.ShouldUseColor(f) {
			_ = cmd.Usage()
			return
		}

		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(w)
		fmt.Fprint(w, colorizeHelpOutput(buf.String()))
	}
}

// colorizeHelpOutput applies helpRules to plain Cobra help text. "Usage:"
// stays unstyled.
func colorizeHelpOutput(s string) string {
	for _, rule := range helpRules {
		s = rule.re.ReplaceAllStringFunc(s, func(match string) string {
			sub := rule.re.FindStringSubmatch(match)
			if len(sub) != 3 || sub[2] == "Usage:" {
				return match
			}
			return sub[1] + rule.style(sub[2])
		})
	}
	return s
}
