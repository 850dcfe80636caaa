// Package main is the terminal chat client.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "chatter",
	Short: "Terminal client for the chatsync group and private chats",
	Long: `chatter joins the shared room and private chats over NATS or a
relay WebSocket, keeps per-conversation history on disk and reads commands
from standard input. Type /help once running.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.Flags().StringP("config", "c", "", "YAML config file")
	rootCmd.Flags().StringP("username", "u", "", "join as this user on start")
	rootCmd.Flags().String("transport", "", "nats or ws (overrides config)")
	rootCmd.Flags().Bool("bell", true, "ring the terminal bell on notifications")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
