package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const episodeColumns = "id, request_id, series_id, season_number, episode_number, episode_title, air_date, notified, available, created_at"

func scanEpisode(row interface{ Scan(...any) error }) (*EpisodeTracking, error) {
	var e EpisodeTracking
	var title sql.NullString
	var airDate sql.NullTime
	err := row.Scan(&e.ID, &e.RequestID, &e.SeriesID, &e.SeasonNumber, &e.EpisodeNumber,
		&title, &airDate, &e.Notified, &e.Available, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if title.Valid {
		e.EpisodeTitle = &title.String
	}
	if airDate.Valid {
		e.AirDate = &airDate.Time
	}
	return &e, nil
}

// LookupEpisode returns the tracking row for (series, season, episode)
// regardless of which request created it, or ErrNotFound.
func (s *Store) LookupEpisode(ctx context.Context, seriesID int64, season, episode int) (*EpisodeTracking, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+episodeColumns+` FROM episode_tracking
		WHERE series_id = ? AND season_number = ? AND episode_number = ?
		LIMIT 1`,
		seriesID, season, episode)
	e, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// CreateEpisodeParams holds fields for a new tracking row.
type CreateEpisodeParams struct {
	RequestID     int64
	SeriesID      int64
	SeasonNumber  int
	EpisodeNumber int
	EpisodeTitle  *string
	AirDate       *time.Time
	Notified      bool
	Available     bool
}

// CreateEpisode inserts a new tracking row. The unique constraint on
// (request, series, season, episode) makes concurrent creation safe: the
// loser of a race gets a constraint error and should re-read.
func (s *Store) CreateEpisode(ctx context.Context, p CreateEpisodeParams) (*EpisodeTracking, error) {
	var title sql.NullString
	if p.EpisodeTitle != nil {
		title = sql.NullString{String: *p.EpisodeTitle, Valid: true}
	}
	var airDate sql.NullTime
	if p.AirDate != nil {
		airDate = sql.NullTime{Time: *p.AirDate, Valid: true}
	}
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO episode_tracking (request_id, series_id, season_number, episode_number, episode_title, air_date, notified, available)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.RequestID, p.SeriesID, p.SeasonNumber, p.EpisodeNumber, title, airDate, p.Notified, p.Available)
	if err != nil {
		return nil, fmt.Errorf("create episode tracking: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	row := s.q.QueryRowContext(ctx, "SELECT "+episodeColumns+" FROM episode_tracking WHERE id = ?", id)
	return scanEpisode(row)
}

// MarkEpisodeNotified sets the notified flag for a tracking row.
func (s *Store) MarkEpisodeNotified(ctx context.Context, id int64) error {
	_, err := s.q.ExecContext(ctx, "UPDATE episode_tracking SET notified = 1 WHERE id = ?", id)
	return err
}

// UpdateEpisodeAvailability records that the episode's file landed and
// refreshes its title (placeholder titles get corrected on later events).
func (s *Store) UpdateEpisodeAvailability(ctx context.Context, id int64, title *string) error {
	var t sql.NullString
	if title != nil {
		t = sql.NullString{String: *title, Valid: true}
	}
	_, err := s.q.ExecContext(ctx,
		"UPDATE episode_tracking SET available = 1, episode_title = COALESCE(?, episode_title) WHERE id = ?", t, id)
	return err
}

// CountEpisodes returns the total number of tracked episodes.
func (s *Store) CountEpisodes(ctx context.Context) (int64, error) {
	var n int64
	err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM episode_tracking").Scan(&n)
	return n, err
}
