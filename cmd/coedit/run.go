package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/coedit/internal/sandbox"
)

var runCmd = &cobra.Command{
	Use:     "run [file]",
	Short:   "Run a snippet in the local sandbox",
	GroupID: "live",
	Args:    cobra.MaximumNArgs(1),
	// The sandbox runs in-process; no server is needed.
	PersistentPreRunE: noClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")
		maxOutput, _ := cmd.Flags().GetInt("max-output")
		maxMemory, _ := cmd.Flags().GetInt("max-memory")

		var (
			code []byte
			err  error
		)
		if len(args) == 0 || args[0] == "-" {
			code, err = io.ReadAll(cmd.InOrStdin())
		} else {
			code, err = os.ReadFile(args[0])
		}
		if err != nil {
			return fmt.Errorf("reading code: %w", err)
		}

		runner := sandbox.NewJSRunner(sandbox.Options{
			Timeout:   timeout,
			MaxOutput: maxOutput,
			MaxMemory: maxMemory,
		})
		result := runner.Run(context.Background(), string(code))
		if jsonOutput {
			printJSON(map[string]string{"output": result})
			return nil
		}
		if result != "" {
			fmt.Fprintln(out, result)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().Duration("timeout", sandbox.DefaultTimeout, "wall-clock limit for the run")
	runCmd.Flags().Int("max-output", sandbox.DefaultMaxOutput, "maximum captured output in bytes")
	runCmd.Flags().Int("max-memory", sandbox.DefaultMaxMemory, "maximum heap growth during the run in bytes")
}
