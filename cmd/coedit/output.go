package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/alfredjeanlab/coedit/internal/model"
	"github.com/alfredjeanlab/coedit/internal/ui"
)

// out is where command output goes; tests replace it.
var out io.Writer = os.Stdout

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		return
	}
	fmt.Fprintln(out, string(data))
}

func lockLabel(locked bool) string {
	if locked {
		return ui.RenderWarn("locked")
	}
	return "open"
}

func printSessionTable(sess *model.Session, participants []string) {
	fmt.Fprintf(out, "ID:           %s\n", ui.RenderAccent(sess.ID))
	fmt.Fprintf(out, "Creator:      %s\n", sess.CreatorID)
	fmt.Fprintf(out, "State:        %s\n", lockLabel(sess.Locked))
	if participants != nil {
		fmt.Fprintf(out, "Participants: %s\n", strings.Join(participants, ", "))
	}
	if !sess.CreatedAt.IsZero() {
		fmt.Fprintf(out, "Created At:   %s\n", sess.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	if !sess.UpdatedAt.IsZero() {
		fmt.Fprintf(out, "Updated At:   %s\n", sess.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	if sess.Code != "" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, ui.RenderMuted("--- code ---"))
		fmt.Fprintln(out, strings.TrimRight(sess.Code, "\n"))
	}
}

func printSessionListTable(sessions []*model.Session) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATOR\tSTATE\tUPDATED\tCODE")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			s.ID,
			s.CreatorID,
			lockLabel(s.Locked),
			s.UpdatedAt.Format("2006-01-02 15:04"),
			codePreview(s.Code, 40),
		)
	}
	w.Flush()
	fmt.Fprintf(out, "\n%d sessions\n", len(sessions))
}

// codePreview returns the first line of code, truncated to max runes.
func codePreview(code string, max int) string {
	line, _, _ := strings.Cut(strings.TrimSpace(code), "\n")
	r := []rune(line)
	if len(r) > max {
		return string(r[:max-3]) + "..."
	}
	return line
}
