package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"floatingtimer/backend/internal/model"
	"floatingtimer/backend/internal/service"
)

var startCmd = &cobra.Command{
	Use:   "start [description]",
	Short: "Start a new time entry",
	Args:  cobra.MaximumNArgs(1),
	RunE:  withSession(runStart),
}

var (
	startProject string
	startClient  string
	startTags    []string
)

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the running entry",
	Args:  cobra.NoArgs,
	RunE: withSession(func(ctx context.Context, cmd *cobra.Command, s *session, _ []string) error {
		state, err := s.timer.Pause(ctx)
		return printState(cmd, s, state, err)
	}),
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume the paused entry",
	Args:  cobra.NoArgs,
	RunE: withSession(func(ctx context.Context, cmd *cobra.Command, s *session, _ []string) error {
		state, err := s.timer.Resume(ctx)
		return printState(cmd, s, state, err)
	}),
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop and record the current entry",
	Args:  cobra.NoArgs,
	RunE: withSession(func(ctx context.Context, cmd *cobra.Command, s *session, _ []string) error {
		entry, err := s.timer.Stop(ctx)
		return printFinalized(cmd, entry, err)
	}),
}

var saveCmd = &cobra.Command{
	Use:   "save [note]",
	Short: "Stop and record the current entry with a note",
	Args:  cobra.MaximumNArgs(1),
	RunE: withSession(func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
		var note *string
		if len(args) == 1 {
			note = &args[0]
		}
		entry, err := s.timer.SaveEntry(ctx, note)
		return printFinalized(cmd, entry, err)
	}),
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard the current entry without recording it",
	Args:  cobra.NoArgs,
	RunE: withSession(func(ctx context.Context, cmd *cobra.Command, s *session, _ []string) error {
		if _, err := s.timer.Reset(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "discarded")
		return nil
	}),
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the timer and today's totals",
	Args:  cobra.NoArgs,
	RunE: withSession(func(_ context.Context, cmd *cobra.Command, s *session, _ []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, renderState(s.timer.GetState(), s.cfg.Location))
		fmt.Fprintln(out, renderTotals(s.timer.TodayTotalMinutes(), s.timer.WeekTotalMinutes()))
		return nil
	}),
}

var describeCmd = &cobra.Command{
	Use:   "describe <description>",
	Short: "Set the current entry's description",
	Args:  cobra.ExactArgs(1),
	RunE: withSession(func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
		state, err := s.timer.UpdateDescription(ctx, args[0])
		return printState(cmd, s, state, err)
	}),
}

var tagCmd = &cobra.Command{
	Use:   "tag [tags...]",
	Short: "Replace the current entry's tags",
	Long:  "Replace the current entry's tags. With no arguments the tags are cleared.",
	RunE: withSession(func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
		tags := args
		if tags == nil {
			tags = []string{}
		}
		state, err := s.timer.UpdateTags(ctx, tags)
		return printState(cmd, s, state, err)
	}),
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a recorded entry",
	Args:  cobra.ExactArgs(1),
	RunE: withSession(func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
		if err := s.timer.DeleteEntry(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	}),
}

func init() {
	addEntryFlags(startCmd.Flags())
	rootCmd.AddCommand(
		startCmd,
		pauseCmd,
		resumeCmd,
		stopCmd,
		saveCmd,
		resetCmd,
		statusCmd,
		describeCmd,
		tagCmd,
		deleteCmd,
	)
}

func addEntryFlags(flags *pflag.FlagSet) {
	flags.StringVarP(&startProject, "project", "p", "", "project id")
	flags.StringVarP(&startClient, "client", "c", "", "client id")
	flags.StringSliceVarP(&startTags, "tag", "t", nil, "tag (repeatable)")
}

func runStart(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
	var in service.StartInput
	if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
		in.Description = &args[0]
	}
	if cmd.Flags().Changed("project") {
		in.ProjectID = &startProject
	}
	if cmd.Flags().Changed("client") {
		in.ClientID = &startClient
	}
	in.Tags = startTags

	state, err := s.timer.Start(ctx, in)
	return printState(cmd, s, state, err)
}

func printState(cmd *cobra.Command, s *session, state model.TimerState, err error) error {
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderState(state, s.cfg.Location))
	return nil
}

func printFinalized(cmd *cobra.Command, entry *model.TimeEntry, err error) error {
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "recorded %s  %s\n", entryMinutes(*entry), describe(entry))
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", mutedStyle.Render(entry.ID))
	return nil
}
