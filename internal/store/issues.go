package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const issueColumns = "id, seerr_issue_id, user_id, request_id, media_type, tmdb_id, title, issue_type, issue_message, status, action_taken, resolved_at, error_message, created_at, updated_at"

func scanIssue(row interface{ Scan(...any) error }) (*Issue, error) {
	var i Issue
	var seerrIssueID, userID, requestID sql.NullInt64
	var issueType, issueMessage, actionTaken, errMsg sql.NullString
	var resolvedAt sql.NullTime
	err := row.Scan(&i.ID, &seerrIssueID, &userID, &requestID, &i.MediaType, &i.TmdbID,
		&i.Title, &issueType, &issueMessage, &i.Status, &actionTaken, &resolvedAt,
		&errMsg, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if seerrIssueID.Valid {
		i.SeerrIssueID = &seerrIssueID.Int64
	}
	if userID.Valid {
		i.UserID = &userID.Int64
	}
	if requestID.Valid {
		i.RequestID = &requestID.Int64
	}
	if issueType.Valid {
		i.IssueType = &issueType.String
	}
	if issueMessage.Valid {
		i.IssueMessage = &issueMessage.String
	}
	if actionTaken.Valid {
		i.ActionTaken = &actionTaken.String
	}
	if resolvedAt.Valid {
		i.ResolvedAt = &resolvedAt.Time
	}
	if errMsg.Valid {
		i.ErrorMessage = &errMsg.String
	}
	return &i, nil
}

func (s *Store) scanIssues(rows *sql.Rows) ([]*Issue, error) {
	defer rows.Close()
	var issues []*Issue
	for rows.Next() {
		i, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, i)
	}
	return issues, rows.Err()
}

// CreateIssueParams holds fields for a new reported issue.
type CreateIssueParams struct {
	SeerrIssueID *int64
	UserID       *int64
	RequestID    *int64
	MediaType    MediaType
	TmdbID       int64
	Title        string
	IssueType    *string
	IssueMessage *string
}

// CreateIssue records a newly reported issue in the open state.
func (s *Store) CreateIssue(ctx context.Context, p CreateIssueParams) (*Issue, error) {
	var seerrIssueID, userID, requestID sql.NullInt64
	if p.SeerrIssueID != nil {
		seerrIssueID = sql.NullInt64{Int64: *p.SeerrIssueID, Valid: true}
	}
	if p.UserID != nil {
		userID = sql.NullInt64{Int64: *p.UserID, Valid: true}
	}
	if p.RequestID != nil {
		requestID = sql.NullInt64{Int64: *p.RequestID, Valid: true}
	}
	var issueType, issueMessage sql.NullString
	if p.IssueType != nil {
		issueType = sql.NullString{String: *p.IssueType, Valid: true}
	}
	if p.IssueMessage != nil {
		issueMessage = sql.NullString{String: *p.IssueMessage, Valid: true}
	}
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO issues (seerr_issue_id, user_id, request_id, media_type, tmdb_id, title, issue_type, issue_message, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		seerrIssueID, userID, requestID, p.MediaType, p.TmdbID, p.Title, issueType, issueMessage, IssueOpen)
	if err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetIssue(ctx, id)
}

// GetIssue returns an issue by id.
func (s *Store) GetIssue(ctx context.Context, id int64) (*Issue, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+issueColumns+" FROM issues WHERE id = ?", id)
	i, err := scanIssue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return i, err
}

// GetIssueBySeerrID returns an issue by its request-tracking service id.
func (s *Store) GetIssueBySeerrID(ctx context.Context, seerrIssueID int64) (*Issue, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT "+issueColumns+" FROM issues WHERE seerr_issue_id = ?", seerrIssueID)
	i, err := scanIssue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return i, err
}

// ListIssuesByStatus returns issues in the given state, oldest first.
func (s *Store) ListIssuesByStatus(ctx context.Context, status IssueStatus) ([]*Issue, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT "+issueColumns+" FROM issues WHERE status = ? ORDER BY created_at", status)
	if err != nil {
		return nil, err
	}
	return s.scanIssues(rows)
}

// ListIssues returns issues newest first with pagination.
func (s *Store) ListIssues(ctx context.Context, offset, limit int) ([]*Issue, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT "+issueColumns+" FROM issues ORDER BY created_at DESC LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, err
	}
	return s.scanIssues(rows)
}

// SetIssueStatus transitions an issue, recording the action taken and any
// error text. Resolved and abandoned also stamp resolved_at.
func (s *Store) SetIssueStatus(ctx context.Context, id int64, status IssueStatus, actionTaken, errMsg *string) error {
	var action, msg sql.NullString
	if actionTaken != nil {
		action = sql.NullString{String: *actionTaken, Valid: true}
	}
	if errMsg != nil {
		msg = sql.NullString{String: *errMsg, Valid: true}
	}
	var resolvedAt sql.NullTime
	if status == IssueResolved || status == IssueAbandoned {
		resolvedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE issues
		SET status = ?,
		    action_taken = COALESCE(?, action_taken),
		    error_message = ?,
		    resolved_at = COALESCE(?, resolved_at),
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		status, action, msg, resolvedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ExpireIssues abandons open issues created before the cutoff. Returns how
// many were abandoned.
func (s *Store) ExpireIssues(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE issues
		SET status = ?, resolved_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE status = ? AND created_at < ?`,
		IssueAbandoned, IssueOpen, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountIssues returns the number of issues, optionally filtered by status
// (empty string counts all).
func (s *Store) CountIssues(ctx context.Context, status IssueStatus) (int64, error) {
	var n int64
	var err error
	if status == "" {
		err = s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM issues").Scan(&n)
	} else {
		err = s.q.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM issues WHERE status = ?", status).Scan(&n)
	}
	return n, err
}
