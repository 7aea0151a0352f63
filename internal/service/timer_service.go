package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"floatingtimer/backend/internal/clock"
	"floatingtimer/backend/internal/config"
	apperrors "floatingtimer/backend/internal/errors"
	"floatingtimer/backend/internal/model"
	"floatingtimer/backend/internal/repository"
)

// EntryStore is the persistence boundary of the timer. The sqlite
// EntryRepository satisfies it.
type EntryStore interface {
	EntryQuerier
	Create(ctx context.Context, entry *model.TimeEntry) (*model.TimeEntry, error)
	SetRunning(ctx context.Context, id string, running bool, accumulatedSeconds int64, resumedAt *time.Time) (*model.TimeEntry, error)
	Finalize(ctx context.Context, id string, endTime time.Time, durationMinutes int, note *string) (*model.TimeEntry, error)
	UpdateFields(ctx context.Context, id string, fields model.EntryFields) (*model.TimeEntry, error)
	Delete(ctx context.Context, id string) error
	FindOpen(ctx context.Context, ownerID string) (*model.TimeEntry, error)
}

type Options struct {
	OwnerID              string
	Location             *time.Location
	WeekStart            time.Weekday
	TickInterval         time.Duration
	StoreTimeout         time.Duration
	RetryAttempts        int
	RetryInitialInterval time.Duration
	HourlyRate           *float64
	DefaultBillable      bool
	Logger               *log.Logger
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		OwnerID:              cfg.OwnerID,
		Location:             cfg.Location,
		WeekStart:            cfg.WeekStart,
		TickInterval:         cfg.TickInterval,
		StoreTimeout:         cfg.StoreTimeout,
		RetryAttempts:        cfg.RetryAttempts,
		RetryInitialInterval: cfg.RetryInitialInterval,
		HourlyRate:           cfg.HourlyRate,
		DefaultBillable:      cfg.DefaultBillable,
	}
}

type StartInput struct {
	ProjectID   *string
	ClientID    *string
	Description *string
	Tags        []string
}

type Listener func(model.TimerState)

// doubleStopWindow bounds how long an idle stop keeps answering with the entry
// it just finalized.
const doubleStopWindow = 5 * time.Second

// TimerService owns the idle/running/paused state machine for one owner.
// Transitions are serialized by transitionMu. Start, pause and resume are
// applied optimistically and rolled back when the store write fails; a
// finalization only takes effect once the store confirms it.
type TimerService struct {
	store      EntryStore
	clock      clock.Clock
	opts       Options
	logger     *log.Logger
	aggregator *Aggregator

	transitionMu sync.Mutex

	mu            sync.RWMutex
	phase         model.Phase
	current       *model.TimeEntry
	accumulated   int64
	resumedAt     time.Time
	elapsed       int64
	lastFinalized *model.TimeEntry
	finalizedAt   time.Time
	stopTick      context.CancelFunc

	// discarded holds reset entries whose delete failed. Guarded by
	// transitionMu.
	discarded map[string]struct{}

	listenersMu  sync.Mutex
	listeners    map[int]Listener
	nextListener int
}

type timerSnapshot struct {
	phase       model.Phase
	current     *model.TimeEntry
	accumulated int64
	resumedAt   time.Time
	elapsed     int64
}

func NewTimerService(store EntryStore, clk clock.Clock, opts Options) *TimerService {
	if opts.OwnerID == "" {
		opts.OwnerID = "local"
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &TimerService{
		store:      store,
		clock:      clk,
		opts:       opts,
		logger:     logger,
		aggregator: NewAggregator(store, clk, opts.OwnerID, opts.Location, opts.WeekStart),
		phase:      model.PhaseIdle,
		discarded:  make(map[string]struct{}),
		listeners:  make(map[int]Listener),
	}
}

// Rehydrate adopts the owner's open entry from the store, if any. Elapsed time
// is rebuilt from the persisted timestamps, so a restart loses nothing.
func (s *TimerService) Rehydrate(ctx context.Context) (model.TimerState, error) {
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()

	s.purgeDiscarded(ctx)

	var open *model.TimeEntry
	err := s.storeCall(ctx, "find open entry", true, func(ctx context.Context) error {
		entry, err := s.store.FindOpen(ctx, s.opts.OwnerID)
		open = entry
		return err
	})
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return s.GetState(), err
	}
	if open != nil {
		if _, ok := s.discarded[open.ID]; ok {
			s.logger.Printf("skipping discarded entry %s, delete still pending", open.ID)
			open = nil
		}
	}

	now := s.clock.Now()
	s.mu.Lock()
	s.lastFinalized = nil
	if open == nil || open.Finalized() {
		s.applyLocked(timerSnapshot{phase: model.PhaseIdle})
	} else {
		s.applyLocked(timerSnapshot{
			phase:       open.Phase(),
			current:     open,
			accumulated: open.AccumulatedSeconds,
			resumedAt:   open.LastResumedAt(),
			elapsed:     open.ElapsedSeconds(now),
		})
	}
	state := s.stateLocked(now)
	s.mu.Unlock()

	if open != nil {
		s.logger.Printf("rehydrated %s entry %s (%ds)", state.Phase, open.ID, state.ElapsedSeconds)
	}
	if err := s.RefreshEntries(ctx); err != nil {
		s.notify(state)
		return state, err
	}
	s.notify(state)
	return state, nil
}

func (s *TimerService) GetState() model.TimerState {
	now := s.clock.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateLocked(now)
}

func (s *TimerService) Start(ctx context.Context, in StartInput) (model.TimerState, error) {
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()

	s.mu.Lock()
	switch s.phase {
	case model.PhaseRunning:
		s.mu.Unlock()
		return s.GetState(), apperrors.ErrAlreadyRunning
	case model.PhasePaused:
		s.mu.Unlock()
		return s.GetState(), &apperrors.InvalidTransitionError{Op: "start", Phase: model.PhasePaused}
	}
	s.mu.Unlock()

	s.purgeDiscarded(ctx)

	s.mu.Lock()
	now := s.clock.Now()
	resumedAt := now
	entry := &model.TimeEntry{
		ID:          uuid.NewString(),
		OwnerID:     s.opts.OwnerID,
		ProjectID:   in.ProjectID,
		ClientID:    in.ClientID,
		Description: in.Description,
		Tags:        model.NormalizeTags(in.Tags),
		StartTime:   now,
		IsRunning:   true,
		IsBillable:  s.opts.DefaultBillable,
		HourlyRate:  s.opts.HourlyRate,
		ResumedAt:   &resumedAt,
	}
	prev := s.snapshotLocked()
	s.applyLocked(timerSnapshot{phase: model.PhaseRunning, current: entry, resumedAt: now})
	s.mu.Unlock()

	var created *model.TimeEntry
	err := s.storeCall(ctx, "create entry", true, func(ctx context.Context) error {
		var err error
		created, err = s.store.Create(ctx, entry)
		return err
	})
	if err != nil {
		return s.failTransition(ctx, "start", prev, err)
	}

	s.mu.Lock()
	if s.current != nil && s.current.ID == created.ID {
		s.current = created
	}
	s.lastFinalized = nil
	state := s.stateLocked(s.clock.Now())
	s.mu.Unlock()

	s.logger.Printf("started entry %s", created.ID)
	s.afterChange(ctx, state)
	return state, nil
}

func (s *TimerService) Pause(ctx context.Context) (model.TimerState, error) {
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()

	s.mu.Lock()
	if s.phase != model.PhaseRunning {
		return s.rejectLocked("pause")
	}
	now := s.clock.Now()
	elapsed := s.elapsedLocked(now)
	entry := s.current
	prev := s.snapshotLocked()
	s.applyLocked(timerSnapshot{phase: model.PhasePaused, current: entry, accumulated: elapsed, elapsed: elapsed})
	s.mu.Unlock()

	var updated *model.TimeEntry
	err := s.storeCall(ctx, "pause entry", true, func(ctx context.Context) error {
		var err error
		updated, err = s.store.SetRunning(ctx, entry.ID, false, elapsed, nil)
		return err
	})
	if err != nil {
		return s.failTransition(ctx, "pause", prev, err)
	}
	return s.confirm(ctx, updated), nil
}

func (s *TimerService) Resume(ctx context.Context) (model.TimerState, error) {
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()

	s.mu.Lock()
	if s.phase != model.PhasePaused {
		return s.rejectLocked("resume")
	}
	now := s.clock.Now()
	entry := s.current
	accumulated := s.accumulated
	prev := s.snapshotLocked()
	s.applyLocked(timerSnapshot{phase: model.PhaseRunning, current: entry, accumulated: accumulated, resumedAt: now})
	s.mu.Unlock()

	var updated *model.TimeEntry
	err := s.storeCall(ctx, "resume entry", true, func(ctx context.Context) error {
		var err error
		updated, err = s.store.SetRunning(ctx, entry.ID, true, accumulated, &now)
		return err
	})
	if err != nil {
		return s.failTransition(ctx, "resume", prev, err)
	}
	return s.confirm(ctx, updated), nil
}

// Stop finalizes the current entry with floor(elapsed/60) minutes. A stop
// that arrives right after a finalization returns that same entry.
func (s *TimerService) Stop(ctx context.Context) (*model.TimeEntry, error) {
	return s.finalize(ctx, "stop", nil)
}

// SaveEntry is Stop with an optional note stored on the entry.
func (s *TimerService) SaveEntry(ctx context.Context, note *string) (*model.TimeEntry, error) {
	if note != nil {
		trimmed := strings.TrimSpace(*note)
		if trimmed == "" {
			note = nil
		} else {
			note = &trimmed
		}
	}
	return s.finalize(ctx, "save", note)
}

func (s *TimerService) finalize(ctx context.Context, op string, note *string) (*model.TimeEntry, error) {
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()

	s.mu.Lock()
	if s.phase == model.PhaseIdle {
		if s.lastFinalized != nil && s.clock.Now().Sub(s.finalizedAt) <= doubleStopWindow {
			entry := s.lastFinalized.Clone()
			s.mu.Unlock()
			return &entry, nil
		}
		s.mu.Unlock()
		return nil, &apperrors.InvalidTransitionError{Op: op, Phase: model.PhaseIdle}
	}
	now := s.clock.Now()
	minutes := int(s.elapsedLocked(now) / 60)
	entry := s.current
	prev := s.snapshotLocked()
	s.mu.Unlock()

	// The running or paused state stays visible until the store confirms.
	var final *model.TimeEntry
	err := s.storeCall(ctx, "finalize entry", true, func(ctx context.Context) error {
		var err error
		final, err = s.store.Finalize(ctx, entry.ID, now, minutes, note)
		return err
	})
	if err != nil {
		_, err = s.failTransition(ctx, op, prev, err)
		return nil, err
	}

	s.mu.Lock()
	if s.current != nil && s.current.ID == entry.ID {
		s.applyLocked(timerSnapshot{phase: model.PhaseIdle})
	}
	s.lastFinalized = final
	s.finalizedAt = s.clock.Now()
	state := s.stateLocked(s.clock.Now())
	s.mu.Unlock()

	s.logger.Printf("finalized entry %s with %d minutes", final.ID, derefInt(final.DurationMinutes))
	s.afterChange(ctx, state)
	out := final.Clone()
	return &out, nil
}

// Reset discards the current entry without recording it. The timer goes idle
// even when the delete fails; the error is still returned and the delete is
// retried before the next Start or Rehydrate.
func (s *TimerService) Reset(ctx context.Context) (model.TimerState, error) {
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()
	return s.resetLocked(ctx)
}

func (s *TimerService) resetLocked(ctx context.Context) (model.TimerState, error) {
	s.mu.Lock()
	if s.phase == model.PhaseIdle {
		return s.rejectLocked("reset")
	}
	entry := s.current
	s.applyLocked(timerSnapshot{phase: model.PhaseIdle})
	s.lastFinalized = nil
	state := s.stateLocked(s.clock.Now())
	s.mu.Unlock()

	err := s.storeCall(ctx, "delete entry", true, func(ctx context.Context) error {
		return s.store.Delete(ctx, entry.ID)
	})
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.discarded[entry.ID] = struct{}{}
		s.logger.Printf("reset entry %s: %v (delete will be retried)", entry.ID, err)
		s.afterChange(ctx, state)
		return state, err
	}

	s.logger.Printf("discarded entry %s", entry.ID)
	s.afterChange(ctx, state)
	return state, nil
}

// purgeDiscarded retries deletes left over from failed resets. Callers hold
// transitionMu.
func (s *TimerService) purgeDiscarded(ctx context.Context) {
	for id := range s.discarded {
		err := s.storeCall(ctx, "delete entry", false, func(ctx context.Context) error {
			return s.store.Delete(ctx, id)
		})
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			s.logger.Printf("orphaned entry %s still open: %v", id, err)
			continue
		}
		delete(s.discarded, id)
		s.logger.Printf("discarded entry %s", id)
	}
}

func (s *TimerService) UpdateDescription(ctx context.Context, text string) (model.TimerState, error) {
	return s.updateFields(ctx, "update description", model.EntryFields{Description: &text})
}

func (s *TimerService) UpdateTags(ctx context.Context, tags []string) (model.TimerState, error) {
	return s.updateFields(ctx, "update tags", model.EntryFields{Tags: model.NormalizeTags(tags)})
}

func (s *TimerService) updateFields(ctx context.Context, op string, fields model.EntryFields) (model.TimerState, error) {
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()

	s.mu.Lock()
	if s.phase == model.PhaseIdle {
		return s.rejectLocked(op)
	}
	prev := s.snapshotLocked()
	optimistic := s.current.Clone()
	if fields.Description != nil {
		description := *fields.Description
		optimistic.Description = &description
	}
	if fields.Tags != nil {
		optimistic.Tags = append([]string(nil), fields.Tags...)
	}
	s.current = &optimistic
	id := optimistic.ID
	s.mu.Unlock()

	var updated *model.TimeEntry
	err := s.storeCall(ctx, op, true, func(ctx context.Context) error {
		var err error
		updated, err = s.store.UpdateFields(ctx, id, fields)
		return err
	})
	if err != nil {
		return s.failTransition(ctx, op, prev, err)
	}
	return s.confirm(ctx, updated), nil
}

// DeleteEntry removes any entry of the owner. Deleting the current entry is
// the same as Reset.
func (s *TimerService) DeleteEntry(ctx context.Context, id string) error {
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()

	s.mu.RLock()
	isCurrent := s.current != nil && s.current.ID == id
	s.mu.RUnlock()
	if isCurrent {
		_, err := s.resetLocked(ctx)
		return err
	}

	err := s.storeCall(ctx, "delete entry", true, func(ctx context.Context) error {
		return s.store.Delete(ctx, id)
	})
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NotFound("entry_not_found", "time entry not found")
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.lastFinalized != nil && s.lastFinalized.ID == id {
		s.lastFinalized = nil
	}
	s.mu.Unlock()

	s.logger.Printf("deleted entry %s", id)
	s.afterChange(ctx, s.GetState())
	return nil
}

// TodayEntries and the totals below always reflect the calendar day and week
// of the clock's current time, reloading the snapshot once the day has moved.
func (s *TimerService) TodayEntries() []model.TimeEntry {
	now := s.refreshIfStale()
	return s.aggregator.TodayEntries(now)
}

func (s *TimerService) TodayTotalMinutes() int {
	now := s.refreshIfStale()
	live, seconds := s.liveEntry(now)
	return s.aggregator.TodayTotalMinutes(now, live, seconds)
}

func (s *TimerService) WeekTotalMinutes() int {
	now := s.refreshIfStale()
	live, seconds := s.liveEntry(now)
	return s.aggregator.WeekTotalMinutes(now, live, seconds)
}

func (s *TimerService) refreshIfStale() time.Time {
	now := s.clock.Now()
	if !s.aggregator.Stale(now) {
		return now
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.StoreTimeout)
	defer cancel()
	if err := s.RefreshEntries(ctx); err != nil {
		s.logger.Printf("refresh entries on day change: %v", err)
	}
	return now
}

// RefreshEntries reloads the week snapshot behind TodayEntries and the totals.
func (s *TimerService) RefreshEntries(ctx context.Context) error {
	return s.storeCall(ctx, "query entries", true, s.aggregator.Refresh)
}

// Subscribe registers fn for every state change and tick. The returned func
// removes it.
func (s *TimerService) Subscribe(fn Listener) func() {
	s.listenersMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			delete(s.listeners, id)
			s.listenersMu.Unlock()
		})
	}
}

// Tick recomputes elapsed from the clock and notifies listeners. It is a no-op
// unless running. Elapsed never depends on how many ticks were delivered.
func (s *TimerService) Tick() {
	now := s.clock.Now()
	s.mu.Lock()
	if s.phase != model.PhaseRunning {
		s.mu.Unlock()
		return
	}
	s.elapsed = s.elapsedLocked(now)
	state := s.stateLocked(now)
	s.mu.Unlock()

	s.refreshIfStale()
	s.notify(state)
}

// Close stops the tick loop. Timer state is left as is.
func (s *TimerService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTickLocked()
}

func (s *TimerService) ticking() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopTick != nil
}

func (s *TimerService) confirm(ctx context.Context, updated *model.TimeEntry) model.TimerState {
	s.mu.Lock()
	if s.current != nil && updated != nil && s.current.ID == updated.ID {
		s.current = updated
	}
	state := s.stateLocked(s.clock.Now())
	s.mu.Unlock()

	s.afterChange(ctx, state)
	return state
}

// failTransition undoes an optimistic transition. When the store says the
// entry is gone or finalized, the timer adopts idle instead of rolling back.
func (s *TimerService) failTransition(ctx context.Context, op string, prev timerSnapshot, err error) (model.TimerState, error) {
	if errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrFinalized) {
		s.mu.Lock()
		s.applyLocked(timerSnapshot{phase: model.PhaseIdle})
		state := s.stateLocked(s.clock.Now())
		s.mu.Unlock()

		s.logger.Printf("%s: current entry changed elsewhere, going idle", op)
		s.afterChange(ctx, state)
		return state, fmt.Errorf("%s: %w", op, apperrors.ErrStaleEntry)
	}

	s.mu.Lock()
	s.applyLocked(prev)
	state := s.stateLocked(s.clock.Now())
	s.mu.Unlock()
	s.notify(state)

	if errors.Is(err, repository.ErrConflict) {
		return state, fmt.Errorf("%s: %w", op, apperrors.ErrAlreadyRunning)
	}
	s.logger.Printf("%s rolled back: %v", op, err)
	return state, err
}

// rejectLocked releases s.mu.
func (s *TimerService) rejectLocked(op string) (model.TimerState, error) {
	phase := s.phase
	state := s.stateLocked(s.clock.Now())
	s.mu.Unlock()
	return state, &apperrors.InvalidTransitionError{Op: op, Phase: phase}
}

func (s *TimerService) afterChange(ctx context.Context, state model.TimerState) {
	if err := s.RefreshEntries(ctx); err != nil {
		s.logger.Printf("refresh entries: %v", err)
	}
	s.notify(state)
}

func (s *TimerService) notify(state model.TimerState) {
	s.listenersMu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(state)
	}
}

func (s *TimerService) liveEntry(now time.Time) (*model.TimeEntry, int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.phase == model.PhaseIdle || s.current == nil {
		return nil, 0
	}
	entry := s.current.Clone()
	return &entry, s.elapsedLocked(now)
}

func (s *TimerService) snapshotLocked() timerSnapshot {
	return timerSnapshot{
		phase:       s.phase,
		current:     s.current,
		accumulated: s.accumulated,
		resumedAt:   s.resumedAt,
		elapsed:     s.elapsed,
	}
}

func (s *TimerService) applyLocked(snap timerSnapshot) {
	s.phase = snap.phase
	s.current = snap.current
	s.accumulated = snap.accumulated
	s.resumedAt = snap.resumedAt
	s.elapsed = snap.elapsed
	if s.phase == model.PhaseIdle {
		s.current = nil
		s.accumulated = 0
		s.elapsed = 0
	}

	if s.phase == model.PhaseRunning {
		s.startTickLocked()
	} else {
		s.stopTickLocked()
	}
}

func (s *TimerService) elapsedLocked(now time.Time) int64 {
	switch s.phase {
	case model.PhaseRunning:
		return s.accumulated + clock.SecondsBetween(s.resumedAt, now)
	case model.PhasePaused:
		return s.accumulated
	default:
		return 0
	}
}

func (s *TimerService) stateLocked(now time.Time) model.TimerState {
	if s.phase == model.PhaseIdle || s.current == nil {
		return model.IdleState()
	}
	entry := s.current.Clone()
	return model.TimerState{
		Phase:          s.phase,
		CurrentEntry:   &entry,
		ElapsedSeconds: s.elapsedLocked(now),
	}
}

func (s *TimerService) startTickLocked() {
	if s.stopTick != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stopTick = cancel
	go s.tickLoop(ctx, s.opts.TickInterval)
}

func (s *TimerService) stopTickLocked() {
	if s.stopTick == nil {
		return
	}
	s.stopTick()
	s.stopTick = nil
}

func (s *TimerService) tickLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

func derefInt(value *int) int {
	if value == nil {
		return 0
	}
	return *value
}
