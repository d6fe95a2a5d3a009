package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/coedit/internal/client"
	"github.com/alfredjeanlab/coedit/internal/ui"
)

var (
	serverAddr string
	httpURL    string
	transport  string
	jsonOutput bool

	sessionClient client.SessionClient
)

func defaultHTTPURL() string {
	if s := os.Getenv("COEDIT_HTTP_URL"); s != "" {
		return s
	}
	return "http://localhost:4000"
}

func defaultServer() string {
	if s := os.Getenv("COEDIT_SERVER"); s != "" {
		return s
	}
	return "localhost:9090"
}

// noClient is used by commands that do not talk to a server.
func noClient(*cobra.Command, []string) error { return nil }

var rootCmd = &cobra.Command{
	Use:           "coedit <command>",
	Short:         "Collaborative code-session server and client",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(transport)
		if err != nil {
			return err
		}
		sessionClient = c
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if sessionClient != nil {
			sessionClient.Close()
		}
	},
}

func newClient(transport string) (client.SessionClient, error) {
	switch transport {
	case "http":
		return client.NewHTTPClient(httpURL), nil
	case "grpc":
		c, err := client.NewGRPCClient(serverAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to server: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown transport %q (must be http or grpc)", transport)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&httpURL, "http-url", defaultHTTPURL(), "HTTP server URL")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", defaultServer(), "gRPC server address")
	rootCmd.PersistentFlags().StringVar(&transport, "transport", "http", "transport protocol (http or grpc)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sessions", Title: "Sessions:"},
		&cobra.Group{ID: "live", Title: "Live:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Sessions
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(codeCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(participantsCmd)
	rootCmd.AddCommand(kickCmd)

	// Live
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(activityCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
}

func main() {
	ui.Init()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
