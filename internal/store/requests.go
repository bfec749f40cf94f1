package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const requestColumns = "id, user_id, seerr_request_id, media_type, tmdb_id, title, status, season_count, created_at, updated_at"

func scanRequest(row interface{ Scan(...any) error }) (*MediaRequest, error) {
	var r MediaRequest
	var seasonCount sql.NullInt64
	err := row.Scan(&r.ID, &r.UserID, &r.SeerrRequestID, &r.MediaType, &r.TmdbID,
		&r.Title, &r.Status, &seasonCount, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if seasonCount.Valid {
		r.SeasonCount = &seasonCount.Int64
	}
	return &r, nil
}

func (s *Store) scanRequests(rows *sql.Rows) ([]*MediaRequest, error) {
	defer rows.Close()
	var requests []*MediaRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// GetRequest returns a request by id.
func (s *Store) GetRequest(ctx context.Context, id int64) (*MediaRequest, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+requestColumns+" FROM media_requests WHERE id = ?", id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// GetRequestBySeerrID returns a request by its request-tracking service id.
func (s *Store) GetRequestBySeerrID(ctx context.Context, seerrRequestID int64) (*MediaRequest, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT "+requestColumns+" FROM media_requests WHERE seerr_request_id = ?", seerrRequestID)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// UpsertRequest creates or updates a request keyed by its request-tracking
// service id. Requests are never hard-deleted.
func (s *Store) UpsertRequest(ctx context.Context, userID, seerrRequestID int64, mediaType MediaType, tmdbID int64, title string, status RequestStatus, seasonCount *int64) (*MediaRequest, error) {
	var sc sql.NullInt64
	if seasonCount != nil {
		sc = sql.NullInt64{Int64: *seasonCount, Valid: true}
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO media_requests (user_id, seerr_request_id, media_type, tmdb_id, title, status, season_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(seerr_request_id) DO UPDATE SET
			status = excluded.status,
			title = excluded.title,
			updated_at = CURRENT_TIMESTAMP`,
		userID, seerrRequestID, mediaType, tmdbID, title, status, sc)
	if err != nil {
		return nil, fmt.Errorf("upsert request: %w", err)
	}
	return s.GetRequestBySeerrID(ctx, seerrRequestID)
}

// ListRequestsByTmdb returns all requests matching the given media type and
// TMDB id. Matching is exact; this is the matcher's correlation query.
func (s *Store) ListRequestsByTmdb(ctx context.Context, mediaType MediaType, tmdbID int64) ([]*MediaRequest, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT "+requestColumns+" FROM media_requests WHERE media_type = ? AND tmdb_id = ?",
		mediaType, tmdbID)
	if err != nil {
		return nil, err
	}
	return s.scanRequests(rows)
}

// ListRequestsByStatus returns all requests in any of the given states.
func (s *Store) ListRequestsByStatus(ctx context.Context, statuses ...RequestStatus) ([]*MediaRequest, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = st
	}
	rows, err := s.q.QueryContext(ctx,
		"SELECT "+requestColumns+" FROM media_requests WHERE status IN ("+placeholders+") ORDER BY id", args...)
	if err != nil {
		return nil, err
	}
	return s.scanRequests(rows)
}

// ListRequests returns requests ordered by id with pagination.
func (s *Store) ListRequests(ctx context.Context, offset, limit int) ([]*MediaRequest, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT "+requestColumns+" FROM media_requests ORDER BY id LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, err
	}
	return s.scanRequests(rows)
}

// UpdateRequestStatus transitions a request to the given status.
func (s *Store) UpdateRequestStatus(ctx context.Context, id int64, status RequestStatus) error {
	res, err := s.q.ExecContext(ctx,
		"UPDATE media_requests SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?", status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountRequests returns the number of requests, optionally filtered by
// media type (empty string counts all).
func (s *Store) CountRequests(ctx context.Context, mediaType MediaType) (int64, error) {
	var n int64
	var err error
	if mediaType == "" {
		err = s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM media_requests").Scan(&n)
	} else {
		err = s.q.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM media_requests WHERE media_type = ?", mediaType).Scan(&n)
	}
	return n, err
}

// AddSharedUser attaches a user to an existing request ("shared request").
// Adding the same user twice is a no-op.
func (s *Store) AddSharedUser(ctx context.Context, requestID, userID int64, addedBy *int64) error {
	var by sql.NullInt64
	if addedBy != nil {
		by = sql.NullInt64{Int64: *addedBy, Valid: true}
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO shared_requests (request_id, user_id, added_by)
		VALUES (?, ?, ?)
		ON CONFLICT(request_id, user_id) DO NOTHING`,
		requestID, userID, by)
	return err
}

// RecipientsForRequest returns the owner of a request plus every user the
// request is shared with, deduplicated.
func (s *Store) RecipientsForRequest(ctx context.Context, requestID int64) ([]*User, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT DISTINCT u.id, u.seerr_id, u.email, u.username, u.media_server_id, u.created_at, u.updated_at
		FROM users u
		WHERE u.id = (SELECT user_id FROM media_requests WHERE id = ?)
		   OR u.id IN (SELECT user_id FROM shared_requests WHERE request_id = ?)
		ORDER BY u.id`,
		requestID, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
