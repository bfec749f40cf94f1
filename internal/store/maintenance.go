package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const windowColumns = "id, title, description, start_time, end_time, announcement_sent, reminder_sent, completion_sent, status, created_at, updated_at"

func scanWindow(row interface{ Scan(...any) error }) (*MaintenanceWindow, error) {
	var w MaintenanceWindow
	var description sql.NullString
	err := row.Scan(&w.ID, &w.Title, &description, &w.StartTime, &w.EndTime,
		&w.AnnouncementSent, &w.ReminderSent, &w.CompletionSent, &w.Status,
		&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if description.Valid {
		w.Description = &description.String
	}
	return &w, nil
}

func (s *Store) scanWindows(rows *sql.Rows) ([]*MaintenanceWindow, error) {
	defer rows.Close()
	var windows []*MaintenanceWindow
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

// CreateWindow schedules a new maintenance window.
func (s *Store) CreateWindow(ctx context.Context, title string, description *string, start, end time.Time) (*MaintenanceWindow, error) {
	var desc sql.NullString
	if description != nil {
		desc = sql.NullString{String: *description, Valid: true}
	}
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO maintenance_windows (title, description, start_time, end_time, status)
		VALUES (?, ?, ?, ?, ?)`,
		title, desc, start, end, WindowScheduled)
	if err != nil {
		return nil, fmt.Errorf("create maintenance window: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetWindow(ctx, id)
}

// GetWindow returns a maintenance window by id.
func (s *Store) GetWindow(ctx context.Context, id int64) (*MaintenanceWindow, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT "+windowColumns+" FROM maintenance_windows WHERE id = ?", id)
	w, err := scanWindow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return w, err
}

// ListWindowsByStatus returns windows in any of the given states, earliest
// start first.
func (s *Store) ListWindowsByStatus(ctx context.Context, statuses ...WindowStatus) ([]*MaintenanceWindow, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	query := "SELECT " + windowColumns + " FROM maintenance_windows WHERE status IN ("
	args := make([]any, len(statuses))
	for i, st := range statuses {
		if i > 0 {
			query += ","
		}
		query += "?"
		args[i] = st
	}
	query += ") ORDER BY start_time"
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return s.scanWindows(rows)
}

// ListWindows returns all maintenance windows, newest first.
func (s *Store) ListWindows(ctx context.Context, offset, limit int) ([]*MaintenanceWindow, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT "+windowColumns+" FROM maintenance_windows ORDER BY start_time DESC LIMIT ? OFFSET ?",
		limit, offset)
	if err != nil {
		return nil, err
	}
	return s.scanWindows(rows)
}

// UpdateWindow rewrites a window's schedule and description. Only
// meaningful while the window is still scheduled; callers enforce that.
func (s *Store) UpdateWindow(ctx context.Context, id int64, title string, description *string, start, end time.Time) error {
	var desc sql.NullString
	if description != nil {
		desc = sql.NullString{String: *description, Valid: true}
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE maintenance_windows
		SET title = ?, description = ?, start_time = ?, end_time = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		title, desc, start, end, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteWindow removes a maintenance window.
func (s *Store) DeleteWindow(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, "DELETE FROM maintenance_windows WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetWindowStatus transitions a maintenance window.
func (s *Store) SetWindowStatus(ctx context.Context, id int64, status WindowStatus) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE maintenance_windows
		SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// WindowMarker selects one of the single-fire lifecycle email flags.
type WindowMarker string

const (
	MarkerAnnouncement WindowMarker = "announcement_sent"
	MarkerReminder     WindowMarker = "reminder_sent"
	MarkerCompletion   WindowMarker = "completion_sent"
)

// MarkWindowNotified sets a lifecycle email marker. The WHERE guard keeps
// the marker single-fire: a second call reports ErrNotFound.
func (s *Store) MarkWindowNotified(ctx context.Context, id int64, marker WindowMarker) error {
	var col string
	switch marker {
	case MarkerAnnouncement, MarkerReminder, MarkerCompletion:
		col = string(marker)
	default:
		return fmt.Errorf("unknown window marker %q", marker)
	}
	res, err := s.q.ExecContext(ctx,
		"UPDATE maintenance_windows SET "+col+" = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND "+col+" = 0", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MaintenanceActive reports whether notifications should be suppressed:
// true when any window is active, or is still scheduled but its start time
// has passed.
func (s *Store) MaintenanceActive(ctx context.Context, now time.Time) (bool, error) {
	var n int64
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM maintenance_windows
		WHERE status = ?
		   OR (status = ? AND start_time <= ?)`,
		WindowActive, WindowScheduled, now).Scan(&n)
	return n > 0, err
}
