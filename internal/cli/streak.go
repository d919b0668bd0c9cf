package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/lazypower/streaks/internal/client"
	"github.com/lazypower/streaks/internal/store"
	"github.com/spf13/cobra"
)

const cliTimeout = 15 * time.Second

var streakCmd = &cobra.Command{
	Use:   "streak",
	Short: "Inspect and update user streaks on a running server",
}

var streakShowCmd = &cobra.Command{
	Use:   "show <user>",
	Short: "Show a user's streak, applying lazy expiry",
	Args:  cobra.ExactArgs(1),
	RunE:  runStreakShow,
}

var recordAt string

var streakRecordCmd = &cobra.Command{
	Use:   "record <user>",
	Short: "Record a qualifying event",
	Long:  "Counts a qualifying event for the user. Without --at the server's current time is used.",
	Args:  cobra.ExactArgs(1),
	RunE:  runStreakRecord,
}

var (
	rebuildEvents []string
	rebuildEmpty  bool
)

var streakRebuildCmd = &cobra.Command{
	Use:   "rebuild <user>",
	Short: "Recompute a user's streak from history",
	Long: `Replaces the user's record with one recomputed from history.
With --event (repeatable, RFC3339, chronological) the given timestamps are
the complete history; with --empty the history is empty; otherwise the user's
completed sessions are replayed.`,
	Args: cobra.ExactArgs(1),
	RunE: runStreakRebuild,
}

func init() {
	streakRecordCmd.Flags().StringVar(&recordAt, "at", "", "Event time, RFC3339 (default now)")
	streakRebuildCmd.Flags().StringArrayVar(&rebuildEvents, "event", nil, "Event time, RFC3339; repeat in chronological order")
	streakRebuildCmd.Flags().BoolVar(&rebuildEmpty, "empty", false, "Rebuild from an empty history")

	streakCmd.AddCommand(streakShowCmd)
	streakCmd.AddCommand(streakRecordCmd)
	streakCmd.AddCommand(streakRebuildCmd)
}

func runStreakShow(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), cliTimeout)
	defer cancel()

	s, err := newClient().GetStreak(ctx, args[0])
	if errors.Is(err, client.ErrNotFound) {
		return fmt.Errorf("no streak for %s", args[0])
	}
	if err != nil {
		return err
	}
	return printStreak(cmd.OutOrStdout(), s)
}

func runStreakRecord(cmd *cobra.Command, args []string) error {
	var ts time.Time
	if recordAt != "" {
		var err error
		ts, err = time.Parse(time.RFC3339, recordAt)
		if err != nil {
			return fmt.Errorf("--at: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cliTimeout)
	defer cancel()

	s, err := newClient().RecordEvent(ctx, args[0], ts)
	if err != nil {
		return err
	}
	return printStreak(cmd.OutOrStdout(), s)
}

func runStreakRebuild(cmd *cobra.Command, args []string) error {
	if rebuildEmpty && len(rebuildEvents) > 0 {
		return fmt.Errorf("--empty and --event are mutually exclusive")
	}

	events, err := parseTimes(rebuildEvents)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cliTimeout)
	defer cancel()

	c := newClient()
	var s *store.Streak
	switch {
	case rebuildEmpty || len(events) > 0:
		s, err = c.RebuildFromHistory(ctx, args[0], events)
	default:
		s, err = c.RebuildFromSessions(ctx, args[0])
	}
	if err != nil {
		return err
	}
	return printStreak(cmd.OutOrStdout(), s)
}

func parseTimes(values []string) ([]time.Time, error) {
	times := make([]time.Time, 0, len(values))
	for _, v := range values {
		ts, err := time.Parse(time.RFC3339, strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("--event %q: %w", v, err)
		}
		times = append(times, ts)
	}
	return times, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStreak(w io.Writer, s *store.Streak) error {
	if jsonOutput {
		return printJSON(w, s)
	}

	last := "never"
	if s.LastEventDay != nil {
		last = *s.LastEventDay
	}
	fmt.Fprintf(w, "%s\n", s.UserID)
	fmt.Fprintf(w, "  current:  %d\n", s.CurrentStreak)
	fmt.Fprintf(w, "  longest:  %d\n", s.LongestStreak)
	fmt.Fprintf(w, "  total:    %d\n", s.TotalEventsCompleted)
	fmt.Fprintf(w, "  last day: %s\n", last)
	if n := len(s.QualifyingDays); n > 0 {
		recent := s.QualifyingDays
		if n > 7 {
			recent = recent[n-7:]
		}
		fmt.Fprintf(w, "  recent:   %s\n", strings.Join(recent, " "))
	}
	return nil
}
