package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const notificationColumns = "id, user_id, request_id, kind, subject, body, sent, cancelled, sent_at, send_after, series_id, error_message, created_at"

func scanNotification(row interface{ Scan(...any) error }) (*Notification, error) {
	var n Notification
	var userID, requestID, seriesID sql.NullInt64
	var sentAt, sendAfter sql.NullTime
	var errMsg sql.NullString
	err := row.Scan(&n.ID, &userID, &requestID, &n.Kind, &n.Subject, &n.Body,
		&n.Sent, &n.Cancelled, &sentAt, &sendAfter, &seriesID, &errMsg, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	if userID.Valid {
		n.UserID = &userID.Int64
	}
	if requestID.Valid {
		n.RequestID = &requestID.Int64
	}
	if seriesID.Valid {
		n.SeriesID = &seriesID.Int64
	}
	if sentAt.Valid {
		n.SentAt = &sentAt.Time
	}
	if sendAfter.Valid {
		n.SendAfter = &sendAfter.Time
	}
	if errMsg.Valid {
		n.ErrorMessage = &errMsg.String
	}
	return &n, nil
}

func (s *Store) scanNotifications(rows *sql.Rows) ([]*Notification, error) {
	defer rows.Close()
	var notifications []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// CreateNotificationParams holds fields for a new notification. A nil
// UserID addresses the admin.
type CreateNotificationParams struct {
	UserID    *int64
	RequestID *int64
	Kind      NotificationKind
	Subject   string
	Body      string
	SendAfter *time.Time
	SeriesID  *int64
}

// CreateNotification inserts a new un-sent notification.
func (s *Store) CreateNotification(ctx context.Context, p CreateNotificationParams) (*Notification, error) {
	var userID, requestID, seriesID sql.NullInt64
	if p.UserID != nil {
		userID = sql.NullInt64{Int64: *p.UserID, Valid: true}
	}
	if p.RequestID != nil {
		requestID = sql.NullInt64{Int64: *p.RequestID, Valid: true}
	}
	if p.SeriesID != nil {
		seriesID = sql.NullInt64{Int64: *p.SeriesID, Valid: true}
	}
	var sendAfter sql.NullTime
	if p.SendAfter != nil {
		sendAfter = sql.NullTime{Time: *p.SendAfter, Valid: true}
	}
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO notifications (user_id, request_id, kind, subject, body, send_after, series_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		userID, requestID, p.Kind, p.Subject, p.Body, sendAfter, seriesID)
	if err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetNotification(ctx, id)
}

// GetNotification returns a notification by id.
func (s *Store) GetNotification(ctx context.Context, id int64) (*Notification, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT "+notificationColumns+" FROM notifications WHERE id = ?", id)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return n, err
}

// ListDue returns un-sent, non-cancelled notifications whose send_after has
// passed (or was never set), oldest first.
func (s *Store) ListDue(ctx context.Context, now time.Time) ([]*Notification, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE sent = 0 AND cancelled = 0
		  AND (send_after IS NULL OR send_after <= ?)
		ORDER BY created_at`, now)
	if err != nil {
		return nil, err
	}
	return s.scanNotifications(rows)
}

// ListBatchPeers returns every un-sent, non-cancelled episode notification
// for the same user and series: the rows that release together as one batch.
func (s *Store) ListBatchPeers(ctx context.Context, userID, seriesID int64) ([]*Notification, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE user_id = ? AND series_id = ? AND kind = ?
		  AND sent = 0 AND cancelled = 0
		ORDER BY created_at`,
		userID, seriesID, KindEpisode)
	if err != nil {
		return nil, err
	}
	return s.scanNotifications(rows)
}

// MarkSent transitions a notification to sent. The WHERE guard makes this
// a no-op (ErrNotFound) if another worker already sent or cancelled it.
func (s *Store) MarkSent(ctx context.Context, id int64, at time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE notifications
		SET sent = 1, sent_at = ?, error_message = NULL
		WHERE id = ? AND sent = 0 AND cancelled = 0`, at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkManySent marks a set of notifications sent in one statement. Callers
// releasing a batch run this inside a transaction so the batch flips
// atomically.
func (s *Store) MarkManySent(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, at)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.q.ExecContext(ctx, `
		UPDATE notifications
		SET sent = 1, sent_at = ?, error_message = NULL
		WHERE id IN (`+placeholders+`) AND sent = 0 AND cancelled = 0`, args...)
	return err
}

// ExtendSendAfter pushes a pending notification's earliest send time.
func (s *Store) ExtendSendAfter(ctx context.Context, id int64, until time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE notifications SET send_after = ?
		WHERE id = ? AND sent = 0 AND cancelled = 0`, until, id)
	return err
}

// CancelUnsent cancels every un-sent notification of the given kind for a
// request. Returns how many rows were cancelled.
func (s *Store) CancelUnsent(ctx context.Context, requestID int64, kind NotificationKind) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE notifications SET cancelled = 1
		WHERE request_id = ? AND kind = ? AND sent = 0 AND cancelled = 0`,
		requestID, kind)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SetNotificationError records a delivery failure. The row stays un-sent
// and is retried on the next dispatcher cycle.
func (s *Store) SetNotificationError(ctx context.Context, id int64, msg string) error {
	_, err := s.q.ExecContext(ctx,
		"UPDATE notifications SET error_message = ? WHERE id = ?", msg, id)
	return err
}

// HasUnsentKind reports whether an outstanding (un-sent, non-cancelled)
// notification of the given kind exists for a request.
func (s *Store) HasUnsentKind(ctx context.Context, requestID int64, kind NotificationKind) (bool, error) {
	var n int64
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE request_id = ? AND kind = ? AND sent = 0 AND cancelled = 0`,
		requestID, kind).Scan(&n)
	return n > 0, err
}

// HasAnyKind reports whether any notification of the given kind exists for
// a user and request, regardless of state. The movie import path uses this
// as its idempotence check.
func (s *Store) HasAnyKind(ctx context.Context, userID, requestID int64, kind NotificationKind) (bool, error) {
	var n int64
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE user_id = ? AND request_id = ? AND kind = ?`,
		userID, requestID, kind).Scan(&n)
	return n > 0, err
}

// HasRecentSent reports whether a notification of the given kind was sent
// for a request after the cutoff. Used to rate-limit repeated coming-soon
// and quality-waiting emails.
func (s *Store) HasRecentSent(ctx context.Context, requestID int64, kind NotificationKind, cutoff time.Time) (bool, error) {
	var n int64
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE request_id = ? AND kind = ? AND sent = 1 AND sent_at > ?`,
		requestID, kind, cutoff).Scan(&n)
	return n > 0, err
}

// EpisodeNotificationExists reports whether a notification for the given
// episode tag (e.g. "S01E05") already exists for this user and request,
// in any state.
func (s *Store) EpisodeNotificationExists(ctx context.Context, userID, requestID int64, episodeTag string) (bool, error) {
	var n int64
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE user_id = ? AND request_id = ? AND kind = ?
		  AND subject LIKE '%' || ? || '%'`,
		userID, requestID, KindEpisode, episodeTag).Scan(&n)
	return n > 0, err
}

// ListNotifications returns notifications newest first with pagination and
// an optional sent filter.
func (s *Store) ListNotifications(ctx context.Context, offset, limit int, sent *bool) ([]*Notification, error) {
	query := "SELECT " + notificationColumns + " FROM notifications"
	var args []any
	if sent != nil {
		query += " WHERE sent = ?"
		args = append(args, *sent)
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return s.scanNotifications(rows)
}

// CountNotifications returns the number of notifications, optionally
// filtered by sent state.
func (s *Store) CountNotifications(ctx context.Context, sent *bool) (int64, error) {
	var n int64
	var err error
	if sent == nil {
		err = s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM notifications").Scan(&n)
	} else {
		err = s.q.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM notifications WHERE sent = ?", *sent).Scan(&n)
	}
	return n, err
}

// ListSentBetween returns sent notifications in [start, end), newest first.
// Used by the weekly summary.
func (s *Store) ListSentBetween(ctx context.Context, start, end time.Time) ([]*Notification, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE sent = 1 AND sent_at >= ? AND sent_at < ?
		ORDER BY sent_at DESC`, start, end)
	if err != nil {
		return nil, err
	}
	return s.scanNotifications(rows)
}
