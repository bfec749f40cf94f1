package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const userColumns = "id, seerr_id, email, username, media_server_id, created_at, updated_at"

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var mediaServerID sql.NullInt64
	err := row.Scan(&u.ID, &u.SeerrID, &u.Email, &u.Username, &mediaServerID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if mediaServerID.Valid {
		u.MediaServerID = &mediaServerID.Int64
	}
	return &u, nil
}

// GetUser returns a user by id.
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

// GetUserBySeerrID returns a user by its request-tracking service id.
func (s *Store) GetUserBySeerrID(ctx context.Context, seerrID int64) (*User, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE seerr_id = ?", seerrID)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

// UpsertUser creates or updates a user keyed by its request-tracking
// service id. Users are only ever created through sync.
func (s *Store) UpsertUser(ctx context.Context, seerrID int64, email, username string, mediaServerID *int64) (*User, error) {
	var msid sql.NullInt64
	if mediaServerID != nil {
		msid = sql.NullInt64{Int64: *mediaServerID, Valid: true}
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO users (seerr_id, email, username, media_server_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(seerr_id) DO UPDATE SET
			email = excluded.email,
			username = excluded.username,
			media_server_id = excluded.media_server_id,
			updated_at = CURRENT_TIMESTAMP`,
		seerrID, email, username, msid)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return s.GetUserBySeerrID(ctx, seerrID)
}

// ListUsers returns users ordered by id with pagination.
func (s *Store) ListUsers(ctx context.Context, offset, limit int) ([]*User, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY id LIMIT ? OFFSET ?", limit, offset)
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

// ListAllUsers returns every user. Used for maintenance broadcast emails.
func (s *Store) ListAllUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.q.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY id")
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

// CountUsers returns the total number of users.
func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n)
	return n, err
}
