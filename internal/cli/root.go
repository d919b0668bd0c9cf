package cli

import (
	"github.com/lazypower/streaks/internal/client"
	"github.com/spf13/cobra"
)

var (
	serverURL  string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:          "streaks",
	Short:        "Per-user daily activity streak accounting",
	Long:         "Streaks tracks consecutive-day activity per user: current and longest streaks, lazy expiry, and rebuilds from history.",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Server URL (default $STREAKS_URL or http://127.0.0.1:37778)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print raw JSON")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(streakCmd)
	rootCmd.AddCommand(sessionCmd)
}

func newClient() *client.Client {
	return client.New(serverURL)
}
