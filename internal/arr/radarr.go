package arr

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/notifyarr/notifyarr/internal/config"
)

// Radarr is the movie download service client.
type Radarr struct {
	client
}

// Compile-time check that Radarr implements MovieClient.
var _ MovieClient = (*Radarr)(nil)

// NewRadarr creates a movie download service client.
func NewRadarr(cfg config.ArrConfig, logger zerolog.Logger) *Radarr {
	return &Radarr{client: newClient(cfg, "radarr", logger)}
}

// Test verifies connectivity and credentials.
func (r *Radarr) Test(ctx context.Context) error {
	var result struct {
		Version string `json:"version"`
	}
	return r.do(ctx, http.MethodGet, "/api/v3/system/status", nil, nil, &result)
}

// Queue returns the full activity queue.
func (r *Radarr) Queue(ctx context.Context) ([]QueueItem, error) {
	return r.queue(ctx)
}

// RemoveFromQueue deletes a queue item, optionally blocklisting the release.
func (r *Radarr) RemoveFromQueue(ctx context.Context, id int64, blocklist bool) error {
	return r.removeFromQueue(ctx, id, blocklist)
}

// Movies returns every movie in the library.
func (r *Radarr) Movies(ctx context.Context) ([]Movie, error) {
	var movies []Movie
	if err := r.do(ctx, http.MethodGet, "/api/v3/movie", nil, nil, &movies); err != nil {
		return nil, err
	}
	return movies, nil
}

// MovieByTmdbID looks up one movie by its TMDB id.
func (r *Radarr) MovieByTmdbID(ctx context.Context, tmdbID int64) (*Movie, error) {
	params := url.Values{}
	params.Set("tmdbId", fmt.Sprintf("%d", tmdbID))

	var movies []Movie
	if err := r.do(ctx, http.MethodGet, "/api/v3/movie", params, nil, &movies); err != nil {
		return nil, err
	}
	if len(movies) == 0 {
		return nil, ErrNotFound
	}
	return &movies[0], nil
}

// SearchMovie triggers a search for one movie.
func (r *Radarr) SearchMovie(ctx context.Context, movieID int64) error {
	return r.command(ctx, map[string]any{
		"name":     "MoviesSearch",
		"movieIds": []int64{movieID},
	})
}

// RefreshMovie re-fetches movie metadata and rescans its files.
func (r *Radarr) RefreshMovie(ctx context.Context, movieID int64) error {
	return r.command(ctx, map[string]any{
		"name":     "RefreshMovie",
		"movieIds": []int64{movieID},
	})
}
