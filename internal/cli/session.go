package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions, whose completion counts toward a streak",
}

var sessionStartCmd = &cobra.Command{
	Use:   "start <session> <user>",
	Short: "Open a session for a user",
	Args:  cobra.ExactArgs(2),
	RunE:  runSessionStart,
}

var sessionCompleteCmd = &cobra.Command{
	Use:   "complete <session>",
	Short: "Complete a session and count it toward its user's streak",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionComplete,
}

var sessionListLimit int

var sessionListCmd = &cobra.Command{
	Use:   "list <user>",
	Short: "List a user's recent sessions",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionList,
}

func init() {
	sessionListCmd.Flags().IntVarP(&sessionListLimit, "limit", "n", 10, "Maximum number of sessions")

	sessionCmd.AddCommand(sessionStartCmd)
	sessionCmd.AddCommand(sessionCompleteCmd)
	sessionCmd.AddCommand(sessionListCmd)
}

func runSessionStart(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), cliTimeout)
	defer cancel()

	sess, err := newClient().InitSession(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), sess)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s for %s\n", sess.SessionID, sess.Status, sess.UserID)
	return nil
}

func runSessionComplete(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), cliTimeout)
	defer cancel()

	res, err := newClient().CompleteSession(ctx, args[0])
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), res)
	}
	if res.Streak == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], res.Note)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: completed\n", args[0])
	return printStreak(cmd.OutOrStdout(), res.Streak)
}

func runSessionList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), cliTimeout)
	defer cancel()

	sessions, err := newClient().RecentSessions(ctx, args[0], sessionListLimit)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), sessions)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sessions.")
		return nil
	}
	for _, s := range sessions {
		started := time.UnixMilli(s.StartedAt).UTC().Format(time.RFC3339)
		fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-10s %s  %d messages\n", s.SessionID, s.Status, started, s.MessageCount)
	}
	return nil
}
