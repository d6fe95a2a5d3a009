package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/coedit/internal/activity"
	"github.com/alfredjeanlab/coedit/internal/client"
	"github.com/alfredjeanlab/coedit/internal/ui"
)

var activityCmd = &cobra.Command{
	Use:     "activity",
	Short:   "Show live per-session activity",
	GroupID: "live",
	Args:    cobra.NoArgs,
	// Activity is only served over HTTP.
	PersistentPreRunE: noClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		stale, _ := cmd.Flags().GetDuration("stale")

		entries, err := client.NewHTTPClient(httpURL).Activity(context.Background(), stale)
		if err != nil {
			return fmt.Errorf("fetching activity: %w", err)
		}
		if jsonOutput {
			printJSON(entries)
			return nil
		}
		printActivityTable(entries)
		return nil
	},
}

func printActivityTable(entries []activity.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No recent activity")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tLAST\tIDLE\tEVENTS\tEDITS\tRUNS\tONLINE")
	for _, e := range entries {
		idle := (time.Duration(e.IdleSecs) * time.Second).Round(time.Second).String()
		if e.Idle {
			idle = ui.RenderMuted(idle + " (idle)")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			e.SessionID,
			e.LastEvent,
			idle,
			e.EventCount,
			e.CodeChanges,
			e.Runs,
			strings.Join(e.Online, ","),
		)
	}
	w.Flush()
}

func init() {
	activityCmd.Flags().Duration("stale", 0, "hide sessions quiet for longer than this (0 shows all)")
}
