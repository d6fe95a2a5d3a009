package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// readCode returns the --code flag, the contents of --file ("-" for
// stdin), or "" when neither is set.
func readCode(cmd *cobra.Command) (string, error) {
	code, _ := cmd.Flags().GetString("code")
	file, _ := cmd.Flags().GetString("file")
	if code != "" && file != "" {
		return "", fmt.Errorf("--code and --file are mutually exclusive")
	}
	if file == "" {
		return code, nil
	}
	var (
		data []byte
		err  error
	)
	if file == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return "", fmt.Errorf("reading code: %w", err)
	}
	return string(data), nil
}

func addCodeFlags(cmd *cobra.Command) {
	cmd.Flags().String("code", "", "code text")
	cmd.Flags().StringP("file", "f", "", "read code from a file (- for stdin)")
}

var createCmd = &cobra.Command{
	Use:     "create <creator>",
	Short:   "Create a session",
	GroupID: "sessions",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := readCode(cmd)
		if err != nil {
			return err
		}
		sess, err := sessionClient.CreateSession(context.Background(), args[0], code)
		if err != nil {
			return fmt.Errorf("creating session: %w", err)
		}
		if jsonOutput {
			printJSON(sess)
		} else {
			fmt.Fprintf(out, "Created session %s\n", sess.ID)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:     "show <id>",
	Short:   "Show a session and its roster",
	GroupID: "sessions",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		id := args[0]

		sess, err := sessionClient.GetSession(ctx, id)
		if err != nil {
			return fmt.Errorf("getting session %s: %w", id, err)
		}
		names, err := sessionClient.ListParticipants(ctx, id)
		if err != nil {
			return fmt.Errorf("listing participants of %s: %w", id, err)
		}

		if jsonOutput {
			printJSON(map[string]any{"session": sess, "participants": names})
		} else {
			printSessionTable(sess, names)
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List sessions",
	GroupID: "sessions",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions, err := sessionClient.ListSessions(context.Background())
		if err != nil {
			return fmt.Errorf("listing sessions: %w", err)
		}
		if jsonOutput {
			printJSON(sessions)
		} else {
			printSessionListTable(sessions)
		}
		return nil
	},
}

var codeCmd = &cobra.Command{
	Use:     "code <id>",
	Short:   "Print or replace a session's stored code",
	GroupID: "sessions",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		id := args[0]

		if !cmd.Flags().Changed("code") && !cmd.Flags().Changed("file") {
			sess, err := sessionClient.GetSession(ctx, id)
			if err != nil {
				return fmt.Errorf("getting session %s: %w", id, err)
			}
			fmt.Fprint(out, sess.Code)
			return nil
		}

		code, err := readCode(cmd)
		if err != nil {
			return err
		}
		if err := sessionClient.UpdateCode(ctx, id, code); err != nil {
			return fmt.Errorf("updating code of %s: %w", id, err)
		}
		fmt.Fprintf(out, "Updated code of %s (%d bytes)\n", id, len(code))
		return nil
	},
}

func lockCommand(use, short string, locked bool) *cobra.Command {
	return &cobra.Command{
		Use:     use + " <id>",
		Short:   short,
		GroupID: "sessions",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := sessionClient.SetLocked(context.Background(), args[0], locked); err != nil {
				return fmt.Errorf("%s %s: %w", use, args[0], err)
			}
			fmt.Fprintf(out, "Session %s %sed\n", args[0], use)
			return nil
		},
	}
}

var (
	lockCmd   = lockCommand("lock", "Mark a session as locked", true)
	unlockCmd = lockCommand("unlock", "Clear a session's lock flag", false)
)

var participantsCmd = &cobra.Command{
	Use:     "participants <id>",
	Short:   "List a session's persisted roster",
	GroupID: "sessions",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := sessionClient.ListParticipants(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("listing participants of %s: %w", args[0], err)
		}
		if jsonOutput {
			printJSON(names)
			return nil
		}
		for _, n := range names {
			fmt.Fprintln(out, n)
		}
		return nil
	},
}

var kickCmd = &cobra.Command{
	Use:     "kick <id> <name>",
	Short:   "Remove a name from a session's persisted roster",
	GroupID: "sessions",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := sessionClient.RemoveParticipant(context.Background(), args[0], args[1]); err != nil {
			return fmt.Errorf("removing %s from %s: %w", args[1], args[0], err)
		}
		fmt.Fprintf(out, "Removed %s from %s\n", args[1], args[0])
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check server health",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := sessionClient.Health(context.Background())
		if err != nil {
			return fmt.Errorf("health check: %w", err)
		}
		fmt.Fprintln(out, status)
		return nil
	},
}

func init() {
	addCodeFlags(createCmd)
	addCodeFlags(codeCmd)
}
