package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"carelink/pkg/logger"
)

var (
	serverURL     string
	token         string
	participantID string
	role          string
	verbose       bool
)

func main() {
	root := &cobra.Command{
		Use:   "chatcli",
		Short: "Terminal client for carelink conversations",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logger.SetOutput(os.Stderr)
			} else {
				logger.SetOutput(io.Discard)
			}
		},
	}

	root.PersistentFlags().StringVar(&serverURL, "server", envOr("CARELINK_URL", "http://localhost:8080"), "base URL of the carelink API")
	root.PersistentFlags().StringVar(&token, "token", os.Getenv("CARELINK_TOKEN"), "bearer token (default $CARELINK_TOKEN)")
	root.PersistentFlags().StringVar(&participantID, "as", os.Getenv("CARELINK_PARTICIPANT"), "participant id the token belongs to")
	root.PersistentFlags().StringVar(&role, "role", "", "participant role")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log engine activity to stderr")

	root.AddCommand(openCmd())
	root.AddCommand(unreadCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
