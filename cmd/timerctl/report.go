package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/spf13/cobra"

	"floatingtimer/backend/internal/format"
	"floatingtimer/backend/internal/model"
)

var todayCmd = &cobra.Command{
	Use:   "today",
	Short: "List today's entries",
	Args:  cobra.NoArgs,
	RunE: withSession(func(_ context.Context, cmd *cobra.Command, s *session, _ []string) error {
		entries := s.timer.TodayEntries()
		out := cmd.OutOrStdout()
		if len(entries) == 0 {
			fmt.Fprintln(out, mutedStyle.Render("no entries today"))
			return nil
		}
		for _, entry := range entries {
			fmt.Fprintf(out, "%s  %s  %-18s %s\n",
				mutedStyle.Render(entry.ID),
				format.Clock(entry.StartTime.In(s.cfg.Location)),
				entryMinutes(entry),
				describe(&entry),
			)
		}
		return nil
	}),
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print a markdown report of today's entries",
	Args:  cobra.NoArgs,
	RunE: withSession(func(_ context.Context, cmd *cobra.Command, s *session, _ []string) error {
		report := buildReport(
			s.timer.TodayEntries(),
			s.timer.TodayTotalMinutes(),
			s.timer.WeekTotalMinutes(),
			s.cfg.Location,
		)
		if stdoutIsTerminal() {
			report = renderMarkdown(report, terminalWidth())
		}
		fmt.Fprint(cmd.OutOrStdout(), report)
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(todayCmd, reportCmd)
}

// buildReport lists entries oldest first, the order they were worked.
func buildReport(entries []model.TimeEntry, todayMinutes, weekMinutes int, loc *time.Location) string {
	var b strings.Builder
	b.WriteString("# Time report\n\n")
	fmt.Fprintf(&b, "**Today:** %s  \n**This week:** %s\n\n", format.MinutesHuman(todayMinutes), format.MinutesHuman(weekMinutes))

	if len(entries) == 0 {
		b.WriteString("_No entries today._\n")
		return b.String()
	}

	b.WriteString("| Start | Duration | Description | Tags |\n")
	b.WriteString("| --- | --- | --- | --- |\n")
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		duration := "running"
		if entry.DurationMinutes != nil {
			duration = format.MinutesHuman(*entry.DurationMinutes)
		}
		description := ""
		if entry.Description != nil {
			description = markdownCell(*entry.Description)
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
			format.Clock(entry.StartTime.In(loc)),
			duration,
			description,
			markdownCell(strings.Join(entry.Tags, ", ")),
		)
	}
	return b.String()
}

func markdownCell(value string) string {
	value = strings.Join(strings.Fields(value), " ")
	return strings.ReplaceAll(value, "|", `\|`)
}

var (
	rendererMu sync.Mutex
	renderers  = map[int]*glamour.TermRenderer{}
)

// renderMarkdown falls back to the raw text when glamour cannot render it.
func renderMarkdown(value string, width int) string {
	renderer := markdownRenderer(width)
	if renderer == nil {
		return value
	}
	rendered, err := renderer.Render(value)
	if err != nil {
		return value
	}
	return rendered
}

func markdownRenderer(width int) *glamour.TermRenderer {
	rendererMu.Lock()
	defer rendererMu.Unlock()
	if cached, ok := renderers[width]; ok {
		return cached
	}
	created, err := glamour.NewTermRenderer(
		glamour.WithStyles(styles.DarkStyleConfig),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil
	}
	renderers[width] = created
	return created
}
