package service

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"floatingtimer/backend/internal/clock"
	"floatingtimer/backend/internal/db"
	apperrors "floatingtimer/backend/internal/errors"
	"floatingtimer/backend/internal/model"
	"floatingtimer/backend/internal/repository"
)

// Wednesday, so a day and the next stay within one Sunday-based week.
var baseTime = time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)

func setupStore(t *testing.T) *repository.EntryRepository {
	t.Helper()

	database, err := db.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})

	if err := db.RunMigrations(database, db.MigrationsFS("")); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return repository.NewEntryRepository(database)
}

func testOptions() Options {
	return Options{
		OwnerID:              "local",
		Location:             time.UTC,
		WeekStart:            time.Sunday,
		TickInterval:         time.Hour,
		StoreTimeout:         5 * time.Second,
		RetryAttempts:        0,
		RetryInitialInterval: time.Millisecond,
		DefaultBillable:      true,
		Logger:               log.New(io.Discard, "", 0),
	}
}

func newTestService(t *testing.T, store EntryStore, clk clock.Clock, opts Options) *TimerService {
	t.Helper()
	svc := NewTimerService(store, clk, opts)
	t.Cleanup(svc.Close)
	return svc
}

func mustStart(t *testing.T, svc *TimerService, description string) model.TimerState {
	t.Helper()
	state, err := svc.Start(context.Background(), StartInput{Description: &description})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	return state
}

type flakyStore struct {
	EntryStore

	mu       sync.Mutex
	failures map[string]int
	calls    map[string]int
}

var errDiskIO = errors.New("disk I/O error")

func newFlakyStore(store EntryStore) *flakyStore {
	return &flakyStore{EntryStore: store, failures: map[string]int{}, calls: map[string]int{}}
}

func (f *flakyStore) failNext(op string, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = times
}

func (f *flakyStore) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *flakyStore) hit(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if f.failures[op] > 0 {
		f.failures[op]--
		return errDiskIO
	}
	return nil
}

func (f *flakyStore) Create(ctx context.Context, entry *model.TimeEntry) (*model.TimeEntry, error) {
	if err := f.hit("create"); err != nil {
		return nil, err
	}
	return f.EntryStore.Create(ctx, entry)
}

func (f *flakyStore) SetRunning(ctx context.Context, id string, running bool, accumulated int64, resumedAt *time.Time) (*model.TimeEntry, error) {
	if err := f.hit("set_running"); err != nil {
		return nil, err
	}
	return f.EntryStore.SetRunning(ctx, id, running, accumulated, resumedAt)
}

func (f *flakyStore) Finalize(ctx context.Context, id string, endTime time.Time, minutes int, note *string) (*model.TimeEntry, error) {
	if err := f.hit("finalize"); err != nil {
		return nil, err
	}
	return f.EntryStore.Finalize(ctx, id, endTime, minutes, note)
}

func (f *flakyStore) Delete(ctx context.Context, id string) error {
	if err := f.hit("delete"); err != nil {
		return err
	}
	return f.EntryStore.Delete(ctx, id)
}

// blockingStore holds Finalize until release is closed.
type blockingStore struct {
	EntryStore

	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) Finalize(ctx context.Context, id string, endTime time.Time, minutes int, note *string) (*model.TimeEntry, error) {
	b.entered <- struct{}{}
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return b.EntryStore.Finalize(ctx, id, endTime, minutes, note)
}

func TestPauseTimeIsExcludedFromDuration(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(baseTime)
	svc := newTestService(t, setupStore(t), clk, testOptions())

	mustStart(t, svc, "review")
	clk.Advance(100 * time.Second)
	state, err := svc.Pause(ctx)
	if err != nil {
		t.Fatalf("Pause() error: %v", err)
	}
	if state.Phase != model.PhasePaused || state.ElapsedSeconds != 100 {
		t.Fatalf("unexpected paused state: %+v", state)
	}

	clk.Advance(400 * time.Second)
	if got := svc.GetState().ElapsedSeconds; got != 100 {
		t.Fatalf("elapsed moved while paused: %d", got)
	}

	if _, err := svc.Resume(ctx); err != nil {
		t.Fatalf("Resume() error: %v", err)
	}
	clk.Advance(200 * time.Second)
	if got := svc.GetState().ElapsedSeconds; got != 300 {
		t.Fatalf("elapsed = %d, want 300", got)
	}

	entry, err := svc.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if entry.DurationMinutes == nil || *entry.DurationMinutes != 5 {
		t.Fatalf("duration = %v, want 5", entry.DurationMinutes)
	}
	if entry.EndTime == nil || !entry.EndTime.Equal(baseTime.Add(700*time.Second)) {
		t.Fatalf("unexpected end time %v", entry.EndTime)
	}
	if svc.GetState().Phase != model.PhaseIdle {
		t.Fatalf("expected idle after stop, got %s", svc.GetState().Phase)
	}
}

func TestStopFloorsToWholeMinutes(t *testing.T) {
	clk := clock.NewManual(baseTime)
	svc := newTestService(t, setupStore(t), clk, testOptions())

	mustStart(t, svc, "call")
	clk.Advance(119 * time.Second)
	entry, err := svc.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if *entry.DurationMinutes != 1 {
		t.Fatalf("duration = %d, want 1", *entry.DurationMinutes)
	}
}

func TestStopTwiceReturnsSameEntry(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(baseTime)
	svc := newTestService(t, setupStore(t), clk, testOptions())

	mustStart(t, svc, "double click")
	clk.Advance(5 * time.Minute)
	first, err := svc.Stop(ctx)
	if err != nil {
		t.Fatalf("first Stop() error: %v", err)
	}
	clk.Advance(2 * time.Second)
	second, err := svc.Stop(ctx)
	if err != nil {
		t.Fatalf("second Stop() error: %v", err)
	}
	if first.ID != second.ID || *first.DurationMinutes != *second.DurationMinutes {
		t.Fatalf("second stop produced a different result: %+v vs %+v", first, second)
	}
	if len(svc.TodayEntries()) != 1 {
		t.Fatalf("expected exactly one entry, got %d", len(svc.TodayEntries()))
	}
}

func TestLateSecondStopIsRejected(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(baseTime)
	svc := newTestService(t, setupStore(t), clk, testOptions())

	mustStart(t, svc, "finished")
	clk.Advance(5 * time.Minute)
	if _, err := svc.Stop(ctx); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}

	clk.Advance(time.Minute)
	_, err := svc.Stop(ctx)
	var invalid *apperrors.InvalidTransitionError
	if !errors.As(err, &invalid) || invalid.Phase != model.PhaseIdle {
		t.Fatalf("expected invalid transition from idle, got %v", err)
	}
}

func TestStopKeepsStateUntilStored(t *testing.T) {
	store := &blockingStore{
		EntryStore: setupStore(t),
		entered:    make(chan struct{}, 1),
		release:    make(chan struct{}),
	}
	clk := clock.NewManual(baseTime)
	svc := newTestService(t, store, clk, testOptions())

	started := mustStart(t, svc, "slow disk")
	clk.Advance(10 * time.Minute)

	type result struct {
		entry *model.TimeEntry
		err   error
	}
	done := make(chan result, 1)
	go func() {
		entry, err := svc.Stop(context.Background())
		done <- result{entry, err}
	}()

	select {
	case <-store.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() never reached the store")
	}
	state := svc.GetState()
	if state.Phase != model.PhaseRunning || state.ElapsedSeconds != 600 {
		t.Fatalf("expected running at 600s while stop is pending, got %+v", state)
	}
	if state.CurrentEntry == nil || state.CurrentEntry.ID != started.CurrentEntry.ID {
		t.Fatalf("current entry lost while stop is pending: %+v", state)
	}
	close(store.release)

	var res result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() did not return after release")
	}
	if res.err != nil {
		t.Fatalf("Stop() error: %v", res.err)
	}
	if *res.entry.DurationMinutes != 10 {
		t.Fatalf("duration = %d, want 10", *res.entry.DurationMinutes)
	}
	if got := svc.GetState().Phase; got != model.PhaseIdle {
		t.Fatalf("expected idle after stop, got %s", got)
	}
}

func TestStartWhileRunningIsRejected(t *testing.T) {
	clk := clock.NewManual(baseTime)
	svc := newTestService(t, setupStore(t), clk, testOptions())

	before := mustStart(t, svc, "first")
	_, err := svc.Start(context.Background(), StartInput{})
	if !errors.Is(err, apperrors.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if got := svc.GetState().CurrentEntry.ID; got != before.CurrentEntry.ID {
		t.Fatalf("current entry changed to %s", got)
	}
}

func TestSingleRunningEntryAcrossServices(t *testing.T) {
	store := setupStore(t)
	clk := clock.NewManual(baseTime)
	first := newTestService(t, store, clk, testOptions())
	second := newTestService(t, store, clk, testOptions())

	mustStart(t, first, "window one")
	state, err := second.Start(context.Background(), StartInput{})
	if !errors.Is(err, apperrors.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if state.Phase != model.PhaseIdle {
		t.Fatalf("second service should have rolled back to idle, got %s", state.Phase)
	}

	open, err := store.FindOpen(context.Background(), "local")
	if err != nil {
		t.Fatalf("FindOpen() error: %v", err)
	}
	if open.ID != first.GetState().CurrentEntry.ID {
		t.Fatalf("unexpected running entry %s", open.ID)
	}
}

func TestInvalidTransitions(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(baseTime)
	svc := newTestService(t, setupStore(t), clk, testOptions())

	assertInvalid := func(name string, err error) {
		t.Helper()
		var transitionErr *apperrors.InvalidTransitionError
		if !errors.As(err, &transitionErr) {
			t.Fatalf("%s: expected InvalidTransitionError, got %v", name, err)
		}
	}

	_, err := svc.Pause(ctx)
	assertInvalid("pause idle", err)
	_, err = svc.Resume(ctx)
	assertInvalid("resume idle", err)
	_, err = svc.Stop(ctx)
	assertInvalid("stop idle", err)
	_, err = svc.Reset(ctx)
	assertInvalid("reset idle", err)
	_, err = svc.UpdateDescription(ctx, "nothing to describe")
	assertInvalid("describe idle", err)

	mustStart(t, svc, "work")
	_, err = svc.Resume(ctx)
	assertInvalid("resume running", err)

	if _, err := svc.Pause(ctx); err != nil {
		t.Fatalf("Pause() error: %v", err)
	}
	_, err = svc.Pause(ctx)
	assertInvalid("pause paused", err)
	_, err = svc.Start(ctx, StartInput{})
	assertInvalid("start paused", err)
}

func TestTickRecomputesFromClock(t *testing.T) {
	clk := clock.NewManual(baseTime)
	svc := newTestService(t, setupStore(t), clk, testOptions())

	var mu sync.Mutex
	var seen []int64
	unsubscribe := svc.Subscribe(func(state model.TimerState) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, state.ElapsedSeconds)
	})

	mustStart(t, svc, "skipped ticks")
	clk.Advance(90 * time.Second)
	svc.Tick()
	clk.Advance(30 * time.Second)
	svc.Tick()
	unsubscribe()
	clk.Advance(30 * time.Second)
	svc.Tick()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) < 2 {
		t.Fatalf("expected tick notifications, got %v", seen)
	}
	if seen[len(seen)-2] != 90 || seen[len(seen)-1] != 120 {
		t.Fatalf("unexpected tick values %v", seen)
	}
	if got := svc.GetState().ElapsedSeconds; got != 150 {
		t.Fatalf("elapsed = %d, want 150", got)
	}
}

func TestTickLoopOnlyWhileRunning(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(baseTime)
	svc := newTestService(t, setupStore(t), clk, testOptions())

	if svc.ticking() {
		t.Fatal("tick loop running while idle")
	}
	mustStart(t, svc, "loop")
	if !svc.ticking() {
		t.Fatal("tick loop not started")
	}
	if _, err := svc.Pause(ctx); err != nil {
		t.Fatalf("Pause() error: %v", err)
	}
	if svc.ticking() {
		t.Fatal("tick loop still running while paused")
	}
	if _, err := svc.Resume(ctx); err != nil {
		t.Fatalf("Resume() error: %v", err)
	}
	if !svc.ticking() {
		t.Fatal("tick loop not restarted on resume")
	}
	if _, err := svc.Stop(ctx); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if svc.ticking() {
		t.Fatal("tick loop still running after stop")
	}
}

func TestRehydrateRunningEntry(t *testing.T) {
	store := setupStore(t)
	clk := clock.NewManual(baseTime)
	first := newTestService(t, store, clk, testOptions())
	started := mustStart(t, first, "survives restart")
	first.Close()

	clk.Advance(10 * time.Minute)
	restarted := newTestService(t, store, clk, testOptions())
	state, err := restarted.Rehydrate(context.Background())
	if err != nil {
		t.Fatalf("Rehydrate() error: %v", err)
	}
	if state.Phase != model.PhaseRunning || state.CurrentEntry.ID != started.CurrentEntry.ID {
		t.Fatalf("unexpected rehydrated state %+v", state)
	}
	if state.ElapsedSeconds != 600 {
		t.Fatalf("elapsed = %d, want 600", state.ElapsedSeconds)
	}
	if !restarted.ticking() {
		t.Fatal("tick loop not started after rehydrating a running entry")
	}
}

func TestRehydratePausedEntry(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	clk := clock.NewManual(baseTime)
	first := newTestService(t, store, clk, testOptions())
	mustStart(t, first, "paused across restart")
	clk.Advance(4 * time.Minute)
	if _, err := first.Pause(ctx); err != nil {
		t.Fatalf("Pause() error: %v", err)
	}
	first.Close()

	clk.Advance(time.Hour)
	restarted := newTestService(t, store, clk, testOptions())
	state, err := restarted.Rehydrate(ctx)
	if err != nil {
		t.Fatalf("Rehydrate() error: %v", err)
	}
	if state.Phase != model.PhasePaused || state.ElapsedSeconds != 240 {
		t.Fatalf("unexpected rehydrated state %+v", state)
	}

	if _, err := restarted.Resume(ctx); err != nil {
		t.Fatalf("Resume() error: %v", err)
	}
	clk.Advance(time.Minute)
	entry, err := restarted.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if *entry.DurationMinutes != 5 {
		t.Fatalf("duration = %d, want 5", *entry.DurationMinutes)
	}
}

func TestRehydrateWithoutOpenEntryIsIdle(t *testing.T) {
	clk := clock.NewManual(baseTime)
	svc := newTestService(t, setupStore(t), clk, testOptions())
	state, err := svc.Rehydrate(context.Background())
	if err != nil {
		t.Fatalf("Rehydrate() error: %v", err)
	}
	if state.Phase != model.PhaseIdle || state.CurrentEntry != nil {
		t.Fatalf("expected idle, got %+v", state)
	}
}

func TestEntryCountsOnItsStartDay(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 3, 4, 23, 30, 0, 0, time.UTC)
	clk := clock.NewManual(start)
	svc := newTestService(t, setupStore(t), clk, testOptions())

	mustStart(t, svc, "late night")
	clk.Set(time.Date(2026, 3, 5, 0, 10, 0, 0, time.UTC))
	if _, err := svc.Stop(ctx); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if got := svc.TodayTotalMinutes(); got != 0 {
		t.Fatalf("today (day after start) total = %d, want 0", got)
	}
	if got := svc.WeekTotalMinutes(); got != 40 {
		t.Fatalf("week total = %d, want 40", got)
	}

	clk.Set(time.Date(2026, 3, 4, 23, 59, 0, 0, time.UTC))
	if err := svc.RefreshEntries(ctx); err != nil {
		t.Fatalf("RefreshEntries() error: %v", err)
	}
	if got := svc.TodayTotalMinutes(); got != 40 {
		t.Fatalf("start day total = %d, want 40", got)
	}
}

func TestTotalsFollowTheCalendarWhileIdle(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2026, 3, 4, 22, 0, 0, 0, time.UTC))
	svc := newTestService(t, setupStore(t), clk, testOptions())

	mustStart(t, svc, "late shift")
	clk.Advance(90 * time.Minute)
	if _, err := svc.Stop(ctx); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}

	clk.Set(time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC))
	if got := svc.TodayTotalMinutes(); got != 0 {
		t.Fatalf("today total next morning = %d, want 0", got)
	}
	if got := len(svc.TodayEntries()); got != 0 {
		t.Fatalf("today entries next morning = %d, want 0", got)
	}
	if got := svc.WeekTotalMinutes(); got != 90 {
		t.Fatalf("week total next morning = %d, want 90", got)
	}

	clk.Set(time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC))
	if got := svc.WeekTotalMinutes(); got != 0 {
		t.Fatalf("week total in the next week = %d, want 0", got)
	}
}

func TestTotalsIncludeLiveEntry(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(baseTime)
	svc := newTestService(t, setupStore(t), clk, testOptions())

	mustStart(t, svc, "finished")
	clk.Advance(30 * time.Minute)
	if _, err := svc.Stop(ctx); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}

	mustStart(t, svc, "in progress")
	clk.Advance(125 * time.Second)
	if got := svc.TodayTotalMinutes(); got != 32 {
		t.Fatalf("today total = %d, want 32", got)
	}
	if got := svc.WeekTotalMinutes(); got != 32 {
		t.Fatalf("week total = %d, want 32", got)
	}
	if got := len(svc.TodayEntries()); got != 2 {
		t.Fatalf("today entries = %d, want 2", got)
	}
}

func TestResetDiscardsAndStopPersists(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	clk := clock.NewManual(baseTime)
	svc := newTestService(t, store, clk, testOptions())

	discarded := mustStart(t, svc, "throwaway")
	clk.Advance(10 * time.Minute)
	state, err := svc.Reset(ctx)
	if err != nil {
		t.Fatalf("Reset() error: %v", err)
	}
	if state.Phase != model.PhaseIdle {
		t.Fatalf("expected idle after reset, got %s", state.Phase)
	}
	if _, err := store.Get(ctx, discarded.CurrentEntry.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected reset entry to be deleted, got %v", err)
	}
	if _, err := svc.Stop(ctx); err == nil {
		t.Fatal("stop after reset should not return a finalized entry")
	}

	mustStart(t, svc, "keeper")
	clk.Advance(10 * time.Minute)
	kept, err := svc.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	stored, err := store.Get(ctx, kept.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if stored.EndTime == nil || *stored.DurationMinutes != 10 {
		t.Fatalf("expected finalized 10 minute entry, got %+v", stored)
	}
}

func TestFailedResetDeleteIsRetriedOnStart(t *testing.T) {
	ctx := context.Background()
	repo := setupStore(t)
	store := newFlakyStore(repo)
	clk := clock.NewManual(baseTime)
	svc := newTestService(t, store, clk, testOptions())

	discarded := mustStart(t, svc, "throwaway")
	clk.Advance(time.Minute)
	store.failNext("delete", 1)
	state, err := svc.Reset(ctx)
	if !errors.Is(err, errDiskIO) {
		t.Fatalf("expected disk error from Reset(), got %v", err)
	}
	if state.Phase != model.PhaseIdle {
		t.Fatalf("expected idle after failed reset, got %s", state.Phase)
	}

	mustStart(t, svc, "next task")
	if _, err := repo.Get(ctx, discarded.CurrentEntry.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected orphaned entry to be deleted, got %v", err)
	}
}

func TestRehydrateSkipsDiscardedEntry(t *testing.T) {
	ctx := context.Background()
	repo := setupStore(t)
	store := newFlakyStore(repo)
	clk := clock.NewManual(baseTime)
	svc := newTestService(t, store, clk, testOptions())

	discarded := mustStart(t, svc, "throwaway")
	store.failNext("delete", 2)
	if _, err := svc.Reset(ctx); err == nil {
		t.Fatal("expected Reset() to report the failed delete")
	}

	state, err := svc.Rehydrate(ctx)
	if err != nil {
		t.Fatalf("Rehydrate() error: %v", err)
	}
	if state.Phase != model.PhaseIdle {
		t.Fatalf("discarded entry came back: %+v", state)
	}

	mustStart(t, svc, "next task")
	if _, err := repo.Get(ctx, discarded.CurrentEntry.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected orphaned entry to be deleted, got %v", err)
	}
	if got := store.callCount("delete"); got != 3 {
		t.Fatalf("delete calls = %d, want 3", got)
	}
}

func TestSaveEntryStoresNote(t *testing.T) {
	clk := clock.NewManual(baseTime)
	svc := newTestService(t, setupStore(t), clk, testOptions())

	mustStart(t, svc, "client call")
	clk.Advance(3 * time.Minute)
	note := "  follow up on invoice  "
	entry, err := svc.SaveEntry(context.Background(), &note)
	if err != nil {
		t.Fatalf("SaveEntry() error: %v", err)
	}
	if entry.Note == nil || *entry.Note != "follow up on invoice" {
		t.Fatalf("unexpected note %v", entry.Note)
	}
	if *entry.Description != "client call" {
		t.Fatalf("description changed to %q", *entry.Description)
	}
}

func TestStorageFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore(setupStore(t))
	clk := clock.NewManual(baseTime)
	svc := newTestService(t, store, clk, testOptions())

	started := mustStart(t, svc, "unsaved")
	clk.Advance(7 * time.Minute)

	store.failNext("finalize", 1)
	_, err := svc.Stop(ctx)
	var storageErr *apperrors.StorageError
	if !errors.As(err, &storageErr) || !errors.Is(err, errDiskIO) {
		t.Fatalf("expected StorageError wrapping disk error, got %v", err)
	}
	state := svc.GetState()
	if state.Phase != model.PhaseRunning || state.CurrentEntry.ID != started.CurrentEntry.ID {
		t.Fatalf("expected timer to keep running, got %+v", state)
	}
	if !svc.ticking() {
		t.Fatal("tick loop not restored after rollback")
	}

	clk.Advance(time.Minute)
	entry, err := svc.Stop(ctx)
	if err != nil {
		t.Fatalf("retry Stop() error: %v", err)
	}
	if *entry.DurationMinutes != 8 {
		t.Fatalf("duration = %d, want 8", *entry.DurationMinutes)
	}
}

func TestPauseFailureKeepsRunning(t *testing.T) {
	store := newFlakyStore(setupStore(t))
	clk := clock.NewManual(baseTime)
	svc := newTestService(t, store, clk, testOptions())

	mustStart(t, svc, "flaky pause")
	clk.Advance(time.Minute)
	store.failNext("set_running", 1)
	if _, err := svc.Pause(context.Background()); err == nil {
		t.Fatal("expected pause to fail")
	}
	clk.Advance(time.Minute)
	state := svc.GetState()
	if state.Phase != model.PhaseRunning || state.ElapsedSeconds != 120 {
		t.Fatalf("unexpected state after failed pause: %+v", state)
	}
}

func TestStartFailureStaysIdle(t *testing.T) {
	store := newFlakyStore(setupStore(t))
	clk := clock.NewManual(baseTime)
	svc := newTestService(t, store, clk, testOptions())

	store.failNext("create", 1)
	state, err := svc.Start(context.Background(), StartInput{})
	var storageErr *apperrors.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if state.Phase != model.PhaseIdle || svc.ticking() {
		t.Fatalf("expected idle without tick loop, got %+v", state)
	}
}

func TestTransientFailuresAreRetried(t *testing.T) {
	store := newFlakyStore(setupStore(t))
	clk := clock.NewManual(baseTime)
	opts := testOptions()
	opts.RetryAttempts = 3
	svc := newTestService(t, store, clk, opts)

	mustStart(t, svc, "retried")
	clk.Advance(2 * time.Minute)
	store.failNext("finalize", 2)
	entry, err := svc.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if *entry.DurationMinutes != 2 {
		t.Fatalf("duration = %d, want 2", *entry.DurationMinutes)
	}
	if got := store.callCount("finalize"); got != 3 {
		t.Fatalf("finalize calls = %d, want 3", got)
	}
}

func TestEntryRemovedElsewhereGoesIdle(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	clk := clock.NewManual(baseTime)
	svc := newTestService(t, store, clk, testOptions())

	started := mustStart(t, svc, "removed")
	if err := store.Delete(ctx, started.CurrentEntry.ID); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	state, err := svc.Pause(ctx)
	if !errors.Is(err, apperrors.ErrStaleEntry) {
		t.Fatalf("expected ErrStaleEntry, got %v", err)
	}
	if state.Phase != model.PhaseIdle || svc.GetState().Phase != model.PhaseIdle {
		t.Fatalf("expected idle, got %+v", state)
	}
}

func TestUpdateDescriptionAndTags(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	clk := clock.NewManual(baseTime)
	svc := newTestService(t, store, clk, testOptions())

	mustStart(t, svc, "draft")
	clk.Advance(time.Minute)
	if _, err := svc.UpdateDescription(ctx, "final draft"); err != nil {
		t.Fatalf("UpdateDescription() error: %v", err)
	}
	state, err := svc.UpdateTags(ctx, []string{"writing", " client ", "writing"})
	if err != nil {
		t.Fatalf("UpdateTags() error: %v", err)
	}
	if *state.CurrentEntry.Description != "final draft" {
		t.Fatalf("description = %q", *state.CurrentEntry.Description)
	}
	if len(state.CurrentEntry.Tags) != 2 || state.CurrentEntry.Tags[0] != "client" {
		t.Fatalf("tags = %v", state.CurrentEntry.Tags)
	}
	if state.Phase != model.PhaseRunning || state.ElapsedSeconds != 60 {
		t.Fatalf("update disturbed the timer: %+v", state)
	}

	stored, err := store.Get(ctx, state.CurrentEntry.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if *stored.Description != "final draft" || len(stored.Tags) != 2 {
		t.Fatalf("update not persisted: %+v", stored)
	}
}

func TestDeleteEntry(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(baseTime)
	svc := newTestService(t, setupStore(t), clk, testOptions())

	mustStart(t, svc, "old")
	clk.Advance(5 * time.Minute)
	old, err := svc.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	current := mustStart(t, svc, "current")

	if err := svc.DeleteEntry(ctx, old.ID); err != nil {
		t.Fatalf("DeleteEntry(old) error: %v", err)
	}
	if svc.GetState().Phase != model.PhaseRunning {
		t.Fatal("deleting a past entry should not touch the timer")
	}
	if got := len(svc.TodayEntries()); got != 1 {
		t.Fatalf("today entries = %d, want 1", got)
	}

	err = svc.DeleteEntry(ctx, "missing")
	var apiErr *apperrors.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "entry_not_found" {
		t.Fatalf("expected entry_not_found, got %v", err)
	}

	if err := svc.DeleteEntry(ctx, current.CurrentEntry.ID); err != nil {
		t.Fatalf("DeleteEntry(current) error: %v", err)
	}
	if svc.GetState().Phase != model.PhaseIdle || len(svc.TodayEntries()) != 0 {
		t.Fatalf("deleting the current entry should reset the timer")
	}
}
