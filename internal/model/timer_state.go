package model

// TimerState is the in-memory projection handed to UI collaborators. It is
// never persisted.
type TimerState struct {
	Phase          Phase      `json:"phase"`
	CurrentEntry   *TimeEntry `json:"currentEntry,omitempty"`
	ElapsedSeconds int64      `json:"elapsedSeconds"`
}

func IdleState() TimerState {
	return TimerState{Phase: PhaseIdle}
}
