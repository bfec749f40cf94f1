// Package usersync mirrors users and requests from the request-tracking
// service into the local database.
package usersync

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/notifyarr/notifyarr/internal/arr"
	"github.com/notifyarr/notifyarr/internal/seerr"
	"github.com/notifyarr/notifyarr/internal/store"
)

// Client is the sync surface of the request-tracking service.
type Client interface {
	ListUsers(ctx context.Context) ([]seerr.User, error)
	ListRequests(ctx context.Context) ([]seerr.Request, error)
}

// Service keeps local users and requests aligned with upstream.
type Service struct {
	store  *store.Store
	seerr  Client
	sonarr arr.SeriesClient
	logger zerolog.Logger
}

// New creates a sync service.
func New(st *store.Store, client Client, sonarr arr.SeriesClient, logger zerolog.Logger) *Service {
	return &Service{
		store:  st,
		seerr:  client,
		sonarr: sonarr,
		logger: logger.With().Str("component", "usersync").Logger(),
	}
}

// RunCycle performs a full user and request sync.
func (s *Service) RunCycle(ctx context.Context) error {
	if err := s.SyncUsers(ctx); err != nil {
		return err
	}
	return s.SyncRequests(ctx)
}

// SyncUsers pulls every upstream account with an email address. Accounts
// without one cannot receive anything and are skipped.
func (s *Service) SyncUsers(ctx context.Context) error {
	users, err := s.seerr.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list upstream users: %w", err)
	}

	var synced, skipped int
	for _, u := range users {
		if u.Email == "" {
			skipped++
			continue
		}
		if _, err := s.store.UpsertUser(ctx, u.ID, u.Email, u.DisplayName, u.PlexID); err != nil {
			s.logger.Error().Err(err).Int64("seerrId", u.ID).Msg("User sync failed")
			continue
		}
		synced++
	}

	s.logger.Info().Int("synced", synced).Int("skipped", skipped).Msg("User sync complete")
	return nil
}

// SyncRequests pulls every upstream request and upserts it with the mapped
// lifecycle status.
func (s *Service) SyncRequests(ctx context.Context) error {
	requests, err := s.seerr.ListRequests(ctx)
	if err != nil {
		return fmt.Errorf("list upstream requests: %w", err)
	}

	seriesByTmdb := s.seriesIndex(ctx)

	var synced int
	for _, req := range requests {
		user, err := s.store.GetUserBySeerrID(ctx, req.RequestedBy.ID)
		if errors.Is(err, store.ErrNotFound) {
			if req.RequestedBy.Email == "" {
				continue
			}
			user, err = s.store.UpsertUser(ctx, req.RequestedBy.ID, req.RequestedBy.Email, req.RequestedBy.DisplayName, req.RequestedBy.PlexID)
		}
		if err != nil {
			s.logger.Error().Err(err).Int64("seerrRequestId", req.ID).Msg("Request sync failed")
			continue
		}

		var seasonCount *int64
		if len(req.Seasons) > 0 {
			n := int64(len(req.Seasons))
			seasonCount = &n
		}

		// The upstream request carries no display title; keep whatever the
		// webhooks already recorded rather than clobbering it.
		isNew := false
		title := fmt.Sprintf("tmdb:%d", req.Media.TmdbID)
		if existing, err := s.store.GetRequestBySeerrID(ctx, req.ID); err == nil {
			title = existing.Title
		} else if errors.Is(err, store.ErrNotFound) {
			isNew = true
		}

		local, err := s.store.UpsertRequest(ctx, user.ID, req.ID,
			store.MediaType(req.Media.MediaType), req.Media.TmdbID, title,
			seerr.MapRequestStatus(req.Status, req.Media.Status), seasonCount)
		if err != nil {
			s.logger.Error().Err(err).Int64("seerrRequestId", req.ID).Msg("Request sync failed")
			continue
		}
		synced++

		if isNew && local.MediaType == store.MediaTypeTV {
			s.seedExistingEpisodes(ctx, local, seriesByTmdb)
		}
	}

	s.logger.Info().Int("synced", synced).Msg("Request sync complete")
	return nil
}

func (s *Service) seriesIndex(ctx context.Context) map[int64]arr.Series {
	series, err := s.sonarr.Series(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Series list unavailable, skipping episode seeding")
		return nil
	}
	index := make(map[int64]arr.Series, len(series))
	for i := range series {
		index[series[i].TmdbID] = series[i]
	}
	return index
}

// seedExistingEpisodes marks episodes that were already on disk when a
// request is first synced as notified. Content that predates the request
// never generates mail; only imports from here on do.
func (s *Service) seedExistingEpisodes(ctx context.Context, req *store.MediaRequest, index map[int64]arr.Series) {
	series, ok := index[req.TmdbID]
	if !ok {
		return
	}
	episodes, err := s.sonarr.EpisodesBySeries(ctx, series.ID)
	if err != nil {
		s.logger.Warn().Err(err).Int64("seriesId", series.ID).Msg("Episode seeding failed")
		return
	}

	var seeded int
	for _, ep := range episodes {
		if !ep.HasFile || ep.SeasonNumber == 0 {
			continue
		}
		if _, err := s.store.LookupEpisode(ctx, series.ID, ep.SeasonNumber, ep.EpisodeNumber); err == nil {
			continue
		}
		_, err := s.store.CreateEpisode(ctx, store.CreateEpisodeParams{
			RequestID:     req.ID,
			SeriesID:      series.ID,
			SeasonNumber:  ep.SeasonNumber,
			EpisodeNumber: ep.EpisodeNumber,
			EpisodeTitle:  optional(ep.Title),
			AirDate:       ep.AirDateUTC,
			Notified:      true,
			Available:     true,
		})
		if err != nil {
			s.logger.Error().Err(err).Int64("seriesId", series.ID).
				Int("season", ep.SeasonNumber).Int("episode", ep.EpisodeNumber).
				Msg("Episode seeding failed")
			continue
		}
		seeded++
	}
	if seeded > 0 {
		s.logger.Info().Int64("requestId", req.ID).Int("episodes", seeded).
			Msg("Seeded pre-existing episodes as notified")
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
