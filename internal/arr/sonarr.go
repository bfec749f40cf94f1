package arr

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/notifyarr/notifyarr/internal/config"
)

// Sonarr is the episode download service client.
type Sonarr struct {
	client
}

// Compile-time check that Sonarr implements SeriesClient.
var _ SeriesClient = (*Sonarr)(nil)

// NewSonarr creates an episode download service client.
func NewSonarr(cfg config.ArrConfig, logger zerolog.Logger) *Sonarr {
	return &Sonarr{client: newClient(cfg, "sonarr", logger)}
}

// Test verifies connectivity and credentials.
func (s *Sonarr) Test(ctx context.Context) error {
	var result struct {
		Version string `json:"version"`
	}
	return s.do(ctx, http.MethodGet, "/api/v3/system/status", nil, nil, &result)
}

// Queue returns the full activity queue.
func (s *Sonarr) Queue(ctx context.Context) ([]QueueItem, error) {
	return s.queue(ctx)
}

// RemoveFromQueue deletes a queue item, optionally blocklisting the release.
func (s *Sonarr) RemoveFromQueue(ctx context.Context, id int64, blocklist bool) error {
	return s.removeFromQueue(ctx, id, blocklist)
}

// Series returns every series in the library.
func (s *Sonarr) Series(ctx context.Context) ([]Series, error) {
	var series []Series
	if err := s.do(ctx, http.MethodGet, "/api/v3/series", nil, nil, &series); err != nil {
		return nil, err
	}
	return series, nil
}

// SeriesByTvdbID looks up one series by its TVDB id.
func (s *Sonarr) SeriesByTvdbID(ctx context.Context, tvdbID int64) (*Series, error) {
	params := url.Values{}
	params.Set("tvdbId", fmt.Sprintf("%d", tvdbID))

	var series []Series
	if err := s.do(ctx, http.MethodGet, "/api/v3/series", params, nil, &series); err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return nil, ErrNotFound
	}
	return &series[0], nil
}

// EpisodesBySeries returns every episode of a series.
func (s *Sonarr) EpisodesBySeries(ctx context.Context, seriesID int64) ([]Episode, error) {
	params := url.Values{}
	params.Set("seriesId", fmt.Sprintf("%d", seriesID))

	var episodes []Episode
	if err := s.do(ctx, http.MethodGet, "/api/v3/episode", params, nil, &episodes); err != nil {
		return nil, err
	}
	return episodes, nil
}

// SearchSeason triggers a search for all episodes of one season.
func (s *Sonarr) SearchSeason(ctx context.Context, seriesID int64, season int) error {
	return s.command(ctx, map[string]any{
		"name":         "SeasonSearch",
		"seriesId":     seriesID,
		"seasonNumber": season,
	})
}

// SearchSeries triggers a search for every monitored episode of a series.
func (s *Sonarr) SearchSeries(ctx context.Context, seriesID int64) error {
	return s.command(ctx, map[string]any{
		"name":     "SeriesSearch",
		"seriesId": seriesID,
	})
}

// RefreshSeries re-fetches series metadata and rescans its files. Fixes
// stale placeholder episode titles.
func (s *Sonarr) RefreshSeries(ctx context.Context, seriesID int64) error {
	return s.command(ctx, map[string]any{
		"name":     "RefreshSeries",
		"seriesId": seriesID,
	})
}
