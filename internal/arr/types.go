package arr

import (
	"context"
	"time"
)

// Queue item states that count as active progress. Anything else is either
// finished or in trouble.
const (
	StatusDownloading = "downloading"
	StatusQueued      = "queued"
	StatusStalled     = "stalled"
	StatusFailed      = "failed"

	TrackedStatusWarning = "warning"
	TrackedStateImport   = "importPending"
	TrackedStateFailed   = "importFailed"
)

// StatusMessage carries per-item diagnostics from the download service.
type StatusMessage struct {
	Title    string   `json:"title"`
	Messages []string `json:"messages"`
}

// QueueItem is one entry in a download service's activity queue.
type QueueItem struct {
	ID                    int64           `json:"id"`
	SeriesID              int64           `json:"seriesId,omitempty"`
	EpisodeID             int64           `json:"episodeId,omitempty"`
	MovieID               int64           `json:"movieId,omitempty"`
	Title                 string          `json:"title"`
	Status                string          `json:"status"`
	TrackedDownloadStatus string          `json:"trackedDownloadStatus"`
	TrackedDownloadState  string          `json:"trackedDownloadState"`
	StatusMessages        []StatusMessage `json:"statusMessages"`
	ErrorMessage          string          `json:"errorMessage"`
	Size                  float64         `json:"size"`
	SizeLeft              float64         `json:"sizeleft"`
	Added                 time.Time       `json:"added"`
	DownloadID            string          `json:"downloadId"`
	Protocol              string          `json:"protocol"`
}

// IsActive reports whether the item is making normal progress: downloading,
// waiting in the queue, or waiting for import.
func (q *QueueItem) IsActive() bool {
	switch q.Status {
	case StatusDownloading, StatusQueued:
		return true
	}
	return q.TrackedDownloadState == TrackedStateImport
}

// Series is one series known to the episode download service.
type Series struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	TvdbID int64  `json:"tvdbId"`
	TmdbID int64  `json:"tmdbId"`
	Year   int    `json:"year"`
}

// Episode is one episode of a series.
type Episode struct {
	ID            int64      `json:"id"`
	SeriesID      int64      `json:"seriesId"`
	SeasonNumber  int        `json:"seasonNumber"`
	EpisodeNumber int        `json:"episodeNumber"`
	Title         string     `json:"title"`
	AirDateUTC    *time.Time `json:"airDateUtc,omitempty"`
	HasFile       bool       `json:"hasFile"`
	Monitored     bool       `json:"monitored"`
}

// Movie is one movie known to the movie download service.
type Movie struct {
	ID              int64      `json:"id"`
	Title           string     `json:"title"`
	TmdbID          int64      `json:"tmdbId"`
	Year            int        `json:"year"`
	HasFile         bool       `json:"hasFile"`
	Status          string     `json:"status"`
	InCinemas       *time.Time `json:"inCinemas,omitempty"`
	DigitalRelease  *time.Time `json:"digitalRelease,omitempty"`
	PhysicalRelease *time.Time `json:"physicalRelease,omitempty"`
}

// Released reports whether the movie should be obtainable: any of its
// release dates has passed.
func (m *Movie) Released(now time.Time) bool {
	for _, d := range []*time.Time{m.DigitalRelease, m.PhysicalRelease, m.InCinemas} {
		if d != nil && d.Before(now) {
			return true
		}
	}
	return false
}

// SeriesClient is the episode download service surface the workers use.
type SeriesClient interface {
	Test(ctx context.Context) error
	Queue(ctx context.Context) ([]QueueItem, error)
	RemoveFromQueue(ctx context.Context, id int64, blocklist bool) error
	Series(ctx context.Context) ([]Series, error)
	SeriesByTvdbID(ctx context.Context, tvdbID int64) (*Series, error)
	EpisodesBySeries(ctx context.Context, seriesID int64) ([]Episode, error)
	SearchSeason(ctx context.Context, seriesID int64, season int) error
	SearchSeries(ctx context.Context, seriesID int64) error
	RefreshSeries(ctx context.Context, seriesID int64) error
}

// MovieClient is the movie download service surface the workers use.
type MovieClient interface {
	Test(ctx context.Context) error
	Queue(ctx context.Context) ([]QueueItem, error)
	RemoveFromQueue(ctx context.Context, id int64, blocklist bool) error
	Movies(ctx context.Context) ([]Movie, error)
	MovieByTmdbID(ctx context.Context, tmdbID int64) (*Movie, error)
	SearchMovie(ctx context.Context, movieID int64) error
	RefreshMovie(ctx context.Context, movieID int64) error
}
