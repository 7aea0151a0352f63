package model

import (
	"sort"
	"strings"
	"time"

	"floatingtimer/backend/internal/clock"
)

type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseRunning Phase = "running"
	PhasePaused  Phase = "paused"
)

type TimeEntry struct {
	ID                 string     `json:"id"`
	OwnerID            string     `json:"ownerId"`
	ProjectID          *string    `json:"projectId,omitempty"`
	ClientID           *string    `json:"clientId,omitempty"`
	Description        *string    `json:"description,omitempty"`
	Tags               []string   `json:"tags"`
	StartTime          time.Time  `json:"startTime"`
	EndTime            *time.Time `json:"endTime,omitempty"`
	DurationMinutes    *int       `json:"durationMinutes,omitempty"`
	IsRunning          bool       `json:"isRunning"`
	IsBillable         bool       `json:"isBillable"`
	HourlyRate         *float64   `json:"hourlyRate,omitempty"`
	Note               *string    `json:"note,omitempty"`
	AccumulatedSeconds int64      `json:"accumulatedSeconds"`
	ResumedAt          *time.Time `json:"resumedAt,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// EntryFields is a partial update. A nil Tags slice leaves tags unchanged, an
// empty non-nil slice clears them.
type EntryFields struct {
	Description *string
	Tags        []string
}

// Finalized reports whether the entry has been closed out with an end time.
func (e *TimeEntry) Finalized() bool {
	return e.EndTime != nil
}

func (e *TimeEntry) Phase() Phase {
	switch {
	case e.Finalized():
		return PhaseIdle
	case e.IsRunning:
		return PhaseRunning
	default:
		return PhasePaused
	}
}

// ElapsedSeconds rebuilds the tracked time of an open entry at now, excluding
// paused intervals. Finalized entries report their stored duration.
func (e *TimeEntry) ElapsedSeconds(now time.Time) int64 {
	if e.Finalized() {
		if e.DurationMinutes == nil {
			return 0
		}
		return int64(*e.DurationMinutes) * 60
	}
	elapsed := e.AccumulatedSeconds
	if e.IsRunning {
		elapsed += clock.SecondsBetween(e.LastResumedAt(), now)
	}
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

func (e *TimeEntry) LastResumedAt() time.Time {
	if e.ResumedAt != nil {
		return *e.ResumedAt
	}
	return e.StartTime
}

func (e TimeEntry) Clone() TimeEntry {
	out := e
	if e.Tags != nil {
		out.Tags = append([]string(nil), e.Tags...)
	}
	return out
}

// NormalizeTags trims, drops empties and de-duplicates. Tags are a set, so the
// result is sorted.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}
