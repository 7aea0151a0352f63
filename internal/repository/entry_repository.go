package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"floatingtimer/backend/internal/model"
)

const entryColumns = `id, owner_id, project_id, client_id, description, tags,
		start_time, end_time, duration_minutes, is_running, is_billable,
		hourly_rate, note, accumulated_seconds, resumed_at, created_at, updated_at`

type EntryRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewEntryRepository(db *sql.DB) *EntryRepository {
	return &EntryRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts a running entry. Re-sending an id the owner already has
// returns the stored row so a retried create cannot duplicate.
func (r *EntryRepository) Create(ctx context.Context, entry *model.TimeEntry) (*model.TimeEntry, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	existing, err := getEntryTx(ctx, tx, entry.ID)
	if err == nil {
		if existing.OwnerID != entry.OwnerID {
			return nil, fmt.Errorf("create entry %s: id owned by another owner", entry.ID)
		}
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	runningID, err := runningEntryIDTx(ctx, tx, entry.OwnerID)
	if err != nil {
		return nil, err
	}
	if runningID != "" {
		return nil, ErrConflict
	}

	now := r.now()
	created := entry.Clone()
	created.IsRunning = true
	created.EndTime = nil
	created.DurationMinutes = nil
	created.Tags = model.NormalizeTags(created.Tags)
	if created.ResumedAt == nil {
		startedAt := created.StartTime
		created.ResumedAt = &startedAt
	}
	created.CreatedAt = now
	created.UpdatedAt = now

	tags, err := encodeTags(created.Tags)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO time_entries (`+entryColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		created.ID,
		created.OwnerID,
		created.ProjectID,
		created.ClientID,
		created.Description,
		tags,
		formatTime(created.StartTime),
		nil,
		nil,
		true,
		created.IsBillable,
		created.HourlyRate,
		created.Note,
		created.AccumulatedSeconds,
		formatOptionalTime(created.ResumedAt),
		formatTime(created.CreatedAt),
		formatTime(created.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("insert entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create entry: %w", err)
	}
	return &created, nil
}

// SetRunning records a pause or resume together with the pause bookkeeping.
// start_time and duration_minutes are never touched.
func (r *EntryRepository) SetRunning(
	ctx context.Context,
	id string,
	running bool,
	accumulatedSeconds int64,
	resumedAt *time.Time,
) (*model.TimeEntry, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	entry, err := getEntryTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if entry.Finalized() {
		return nil, ErrFinalized
	}

	if running {
		runningID, err := runningEntryIDTx(ctx, tx, entry.OwnerID)
		if err != nil {
			return nil, err
		}
		if runningID != "" && runningID != id {
			return nil, ErrConflict
		}
	}

	entry.IsRunning = running
	entry.AccumulatedSeconds = accumulatedSeconds
	entry.ResumedAt = resumedAt
	entry.UpdatedAt = r.now()

	_, err = tx.ExecContext(
		ctx,
		`UPDATE time_entries
		 SET is_running = ?,
		     accumulated_seconds = ?,
		     resumed_at = ?,
		     updated_at = ?
		 WHERE id = ?`,
		entry.IsRunning,
		entry.AccumulatedSeconds,
		formatOptionalTime(entry.ResumedAt),
		formatTime(entry.UpdatedAt),
		entry.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("set running: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit set running: %w", err)
	}
	return entry, nil
}

// Finalize closes out an entry. Finalizing twice returns the first result.
func (r *EntryRepository) Finalize(
	ctx context.Context,
	id string,
	endTime time.Time,
	durationMinutes int,
	note *string,
) (*model.TimeEntry, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	entry, err := getEntryTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if entry.Finalized() {
		return entry, nil
	}

	if durationMinutes < 0 {
		durationMinutes = 0
	}
	end := endTime.UTC()
	entry.EndTime = &end
	entry.DurationMinutes = &durationMinutes
	entry.IsRunning = false
	entry.ResumedAt = nil
	if note != nil {
		entry.Note = note
	}
	entry.UpdatedAt = r.now()

	_, err = tx.ExecContext(
		ctx,
		`UPDATE time_entries
		 SET end_time = ?,
		     duration_minutes = ?,
		     is_running = 0,
		     resumed_at = NULL,
		     note = ?,
		     updated_at = ?
		 WHERE id = ?`,
		formatTime(end),
		durationMinutes,
		entry.Note,
		formatTime(entry.UpdatedAt),
		entry.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("finalize entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit finalize entry: %w", err)
	}
	return entry, nil
}

func (r *EntryRepository) UpdateFields(ctx context.Context, id string, fields model.EntryFields) (*model.TimeEntry, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	entry, err := getEntryTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if entry.Finalized() {
		return nil, ErrFinalized
	}

	if fields.Description != nil {
		description := *fields.Description
		entry.Description = &description
	}
	if fields.Tags != nil {
		entry.Tags = model.NormalizeTags(fields.Tags)
	}
	entry.UpdatedAt = r.now()

	tags, err := encodeTags(entry.Tags)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(
		ctx,
		`UPDATE time_entries
		 SET description = ?,
		     tags = ?,
		     updated_at = ?
		 WHERE id = ?`,
		entry.Description,
		tags,
		formatTime(entry.UpdatedAt),
		entry.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update entry fields: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update entry fields: %w", err)
	}
	return entry, nil
}

func (r *EntryRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM time_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete entry rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *EntryRepository) Get(ctx context.Context, id string) (*model.TimeEntry, error) {
	row := r.db.QueryRowContext(
		ctx,
		`SELECT `+entryColumns+` FROM time_entries WHERE id = ?`,
		id,
	)
	return scanTimeEntry(row)
}

// QueryRange lists entries whose start_time is in [from, to), newest first.
func (r *EntryRepository) QueryRange(ctx context.Context, ownerID string, from, to time.Time) ([]model.TimeEntry, error) {
	rows, err := r.db.QueryContext(
		ctx,
		`SELECT `+entryColumns+`
		 FROM time_entries
		 WHERE owner_id = ? AND start_time >= ? AND start_time < ?
		 ORDER BY start_time DESC`,
		ownerID,
		formatTime(from),
		formatTime(to),
	)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	entries := make([]model.TimeEntry, 0)
	for rows.Next() {
		entry, scanErr := scanTimeEntry(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		entries = append(entries, *entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// FindOpen returns the owner's running entry, or failing that the most recent
// entry that was never finalized.
func (r *EntryRepository) FindOpen(ctx context.Context, ownerID string) (*model.TimeEntry, error) {
	row := r.db.QueryRowContext(
		ctx,
		`SELECT `+entryColumns+`
		 FROM time_entries
		 WHERE owner_id = ? AND end_time IS NULL
		 ORDER BY is_running DESC, start_time DESC
		 LIMIT 1`,
		ownerID,
	)
	return scanTimeEntry(row)
}

func getEntryTx(ctx context.Context, tx *sql.Tx, id string) (*model.TimeEntry, error) {
	row := tx.QueryRowContext(
		ctx,
		`SELECT `+entryColumns+` FROM time_entries WHERE id = ?`,
		id,
	)
	return scanTimeEntry(row)
}

func runningEntryIDTx(ctx context.Context, tx *sql.Tx, ownerID string) (string, error) {
	var id string
	err := tx.QueryRowContext(
		ctx,
		`SELECT id FROM time_entries WHERE owner_id = ? AND is_running = 1 LIMIT 1`,
		ownerID,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("find running entry: %w", err)
	}
	return id, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	return string(raw), nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTimeEntry(s scanner) (*model.TimeEntry, error) {
	entry := model.TimeEntry{}
	var projectID, clientID, description, note sql.NullString
	var endTime, resumedAt sql.NullString
	var durationMinutes sql.NullInt64
	var hourlyRate sql.NullFloat64
	var tags, startTime, createdAt, updatedAt string
	err := s.Scan(
		&entry.ID,
		&entry.OwnerID,
		&projectID,
		&clientID,
		&description,
		&tags,
		&startTime,
		&endTime,
		&durationMinutes,
		&entry.IsRunning,
		&entry.IsBillable,
		&hourlyRate,
		&note,
		&entry.AccumulatedSeconds,
		&resumedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan entry: %w", err)
	}

	entry.ProjectID = nullableString(projectID)
	entry.ClientID = nullableString(clientID)
	entry.Description = nullableString(description)
	entry.Note = nullableString(note)
	if durationMinutes.Valid {
		value := int(durationMinutes.Int64)
		entry.DurationMinutes = &value
	}
	if hourlyRate.Valid {
		value := hourlyRate.Float64
		entry.HourlyRate = &value
	}

	entry.Tags = []string{}
	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &entry.Tags); err != nil {
			return nil, fmt.Errorf("decode entry tags: %w", err)
		}
	}

	if entry.StartTime, err = parseTime(startTime); err != nil {
		return nil, fmt.Errorf("parse entry start_time: %w", err)
	}
	if entry.EndTime, err = parseOptionalTime(endTime); err != nil {
		return nil, fmt.Errorf("parse entry end_time: %w", err)
	}
	if entry.ResumedAt, err = parseOptionalTime(resumedAt); err != nil {
		return nil, fmt.Errorf("parse entry resumed_at: %w", err)
	}
	if entry.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse entry created_at: %w", err)
	}
	if entry.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse entry updated_at: %w", err)
	}

	return &entry, nil
}

func nullableString(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	out := value.String
	return &out
}

func parseOptionalTime(raw sql.NullString) (*time.Time, error) {
	if !raw.Valid {
		return nil, nil
	}
	parsed, err := parseTime(raw.String)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
