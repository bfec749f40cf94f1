// Package reconcile is the self-healing sweep. It compares tracked
// requests against the download services' library state and synthesizes
// import events for anything a webhook never delivered. Synthesized
// events flow through the same ingest path as real ones, so the episode
// tracking rows keep double notifications out.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/notifyarr/notifyarr/internal/arr"
	"github.com/notifyarr/notifyarr/internal/config"
	"github.com/notifyarr/notifyarr/internal/ingest"
	"github.com/notifyarr/notifyarr/internal/settings"
	"github.com/notifyarr/notifyarr/internal/store"
)

// Service runs the periodic reconciliation sweep.
type Service struct {
	store    *store.Store
	sonarr   arr.SeriesClient
	radarr   arr.MovieClient
	ingest   *ingest.Service
	settings *settings.Service
	cfg      *config.Config
	logger   zerolog.Logger
}

// New creates a reconciliation service.
func New(st *store.Store, sonarr arr.SeriesClient, radarr arr.MovieClient, in *ingest.Service, set *settings.Service, cfg *config.Config, logger zerolog.Logger) *Service {
	return &Service{
		store:    st,
		sonarr:   sonarr,
		radarr:   radarr,
		ingest:   in,
		settings: set,
		cfg:      cfg,
		logger:   logger.With().Str("component", "reconcile").Logger(),
	}
}

// RunCycle sweeps all unfinished requests for missed imports, then expires
// stale open issues.
func (s *Service) RunCycle(ctx context.Context) error {
	if !s.settings.Enabled(ctx, settings.KeyReconcileEnabled) {
		return nil
	}

	requests, err := s.store.ListRequestsByStatus(ctx,
		store.RequestPending, store.RequestApproved, store.RequestPartiallyAvailable)
	if err != nil {
		return fmt.Errorf("list requests: %w", err)
	}

	var synthesized int
	seriesByTmdb := s.seriesIndex(ctx)

	for _, req := range requests {
		var n int
		var err error
		if req.MediaType == store.MediaTypeTV {
			n, err = s.reconcileSeries(ctx, req, seriesByTmdb)
		} else {
			n, err = s.reconcileMovie(ctx, req)
		}
		if err != nil {
			s.logger.Error().Err(err).Int64("requestId", req.ID).Str("title", req.Title).
				Msg("Reconciliation failed for request")
			continue
		}
		synthesized += n
	}

	expired, err := s.store.ExpireIssues(ctx, time.Now().UTC().Add(-s.cfg.Workers.IssueExpiryAge))
	if err != nil {
		s.logger.Error().Err(err).Msg("Issue expiry failed")
	}

	s.logger.Info().
		Int("requests", len(requests)).
		Int("synthesized", synthesized).
		Int64("expiredIssues", expired).
		Msg("Reconciliation sweep complete")
	return nil
}

// seriesIndex maps the library's series by their TMDB id. A fetch failure
// just skips TV reconciliation for this cycle.
func (s *Service) seriesIndex(ctx context.Context) map[int64]arr.Series {
	series, err := s.sonarr.Series(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Series list unavailable, skipping TV reconciliation")
		return nil
	}
	index := make(map[int64]arr.Series, len(series))
	for i := range series {
		index[series[i].TmdbID] = series[i]
	}
	return index
}

// reconcileSeries finds aired episodes with a file on disk whose tracking
// row is missing or was never notified, and replays them as an import.
func (s *Service) reconcileSeries(ctx context.Context, req *store.MediaRequest, index map[int64]arr.Series) (int, error) {
	if index == nil {
		return 0, nil
	}
	series, ok := index[req.TmdbID]
	if !ok {
		return 0, nil
	}

	episodes, err := s.sonarr.EpisodesBySeries(ctx, series.ID)
	if err != nil {
		return 0, fmt.Errorf("fetch episodes for series %d: %w", series.ID, err)
	}

	var missed []ingest.EpisodeInfo
	for _, ep := range episodes {
		if !ep.HasFile || ep.SeasonNumber == 0 {
			continue
		}
		tracking, err := s.store.LookupEpisode(ctx, series.ID, ep.SeasonNumber, ep.EpisodeNumber)
		if err == nil && tracking.Notified {
			continue
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return 0, err
		}
		missed = append(missed, ingest.EpisodeInfo{
			SeasonNumber:  ep.SeasonNumber,
			EpisodeNumber: ep.EpisodeNumber,
			Title:         ep.Title,
			AirDateUTC:    ep.AirDateUTC,
		})
	}
	if len(missed) == 0 {
		return 0, nil
	}

	s.logger.Info().Int64("requestId", req.ID).Str("title", req.Title).
		Int("episodes", len(missed)).Msg("Replaying missed episode imports")

	err = s.ingest.Process(ctx, ingest.Event{
		Type:      ingest.EventImport,
		MediaType: store.MediaTypeTV,
		TmdbID:    req.TmdbID,
		Title:     series.Title,
		SeriesID:  series.ID,
		Episodes:  missed,
	})
	if err != nil {
		return 0, err
	}
	return len(missed), nil
}

// reconcileMovie replays a movie import when the file exists but the
// request never went available.
func (s *Service) reconcileMovie(ctx context.Context, req *store.MediaRequest) (int, error) {
	movie, err := s.radarr.MovieByTmdbID(ctx, req.TmdbID)
	if errors.Is(err, arr.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("fetch movie tmdb %d: %w", req.TmdbID, err)
	}
	if !movie.HasFile {
		return 0, nil
	}

	s.logger.Info().Int64("requestId", req.ID).Str("title", req.Title).
		Msg("Replaying missed movie import")

	err = s.ingest.Process(ctx, ingest.Event{
		Type:      ingest.EventImport,
		MediaType: store.MediaTypeMovie,
		TmdbID:    req.TmdbID,
		Title:     movie.Title,
		MovieID:   movie.ID,
	})
	if err != nil {
		return 0, err
	}
	return 1, nil
}
