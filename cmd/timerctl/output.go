package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
	"golang.org/x/term"

	"floatingtimer/backend/internal/format"
	"floatingtimer/backend/internal/model"
)

const (
	defaultWidth     = 80
	descriptionWidth = 48
)

var (
	labelStyle   = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	elapsedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	phaseStyles  = map[model.Phase]lipgloss.Style{
		model.PhaseIdle:    lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		model.PhaseRunning: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2")),
		model.PhasePaused:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3")),
	}
)

func stdoutIsTerminal() bool {
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return defaultWidth
	}
	return width
}

func shorten(value string, width int) string {
	value = strings.Join(strings.Fields(value), " ")
	return truncate.StringWithTail(value, uint(width), "…")
}

func describe(entry *model.TimeEntry) string {
	if entry == nil || entry.Description == nil || strings.TrimSpace(*entry.Description) == "" {
		return mutedStyle.Render("(no description)")
	}
	return shorten(*entry.Description, descriptionWidth)
}

func renderState(state model.TimerState, loc *time.Location) string {
	phase := phaseStyles[state.Phase].Render(string(state.Phase))
	if state.CurrentEntry == nil {
		return phase
	}

	lines := []string{
		fmt.Sprintf("%s %s  %s", phase, elapsedStyle.Render(format.HMS(state.ElapsedSeconds)), describe(state.CurrentEntry)),
		fmt.Sprintf("%s %s", labelStyle.Render("started"), format.Clock(state.CurrentEntry.StartTime.In(loc))),
	}
	if len(state.CurrentEntry.Tags) > 0 {
		lines = append(lines, fmt.Sprintf("%s %s", labelStyle.Render("tags"), strings.Join(state.CurrentEntry.Tags, ", ")))
	}
	return strings.Join(lines, "\n")
}

func renderTotals(todayMinutes, weekMinutes int) string {
	return fmt.Sprintf("%s %s  %s %s",
		labelStyle.Render("today"), format.MinutesHuman(todayMinutes),
		labelStyle.Render("week"), format.MinutesHuman(weekMinutes),
	)
}

func entryMinutes(entry model.TimeEntry) string {
	if entry.DurationMinutes == nil {
		return mutedStyle.Render("open")
	}
	return format.MinutesHuman(*entry.DurationMinutes)
}
