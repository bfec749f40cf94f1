// Package qualitymon implements the quality/release monitor. It
// periodically evaluates requests that are not yet fully available and
// emits coming-soon or quality-waiting notifications, suppressed when the
// download queue already shows progress.
package qualitymon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/notifyarr/notifyarr/internal/arr"
	"github.com/notifyarr/notifyarr/internal/config"
	"github.com/notifyarr/notifyarr/internal/mediaserver"
	"github.com/notifyarr/notifyarr/internal/settings"
	"github.com/notifyarr/notifyarr/internal/store"
)

// Service is the quality/release monitor.
type Service struct {
	store    *store.Store
	sonarr   arr.SeriesClient
	radarr   arr.MovieClient
	media    mediaserver.Checker
	settings *settings.Service
	cfg      *config.Config
	logger   zerolog.Logger
}

// New creates a quality monitor.
func New(st *store.Store, sonarr arr.SeriesClient, radarr arr.MovieClient, media mediaserver.Checker, set *settings.Service, cfg *config.Config, logger zerolog.Logger) *Service {
	return &Service{
		store:    st,
		sonarr:   sonarr,
		radarr:   radarr,
		media:    media,
		settings: set,
		cfg:      cfg,
		logger:   logger.With().Str("component", "qualitymon").Logger(),
	}
}

// snapshot holds per-cycle upstream state so one scan makes a bounded
// number of service calls.
type snapshot struct {
	activeSeries  map[int64]bool
	activeMovies  map[int64]bool
	seriesByTmdb  map[int64]arr.Series
	seriesQueueOK bool
	movieQueueOK  bool
}

// RunCycle evaluates every request that is not yet fully available. A
// failure on one request never aborts the cycle.
func (s *Service) RunCycle(ctx context.Context) error {
	if !s.settings.Enabled(ctx, settings.KeyQualityEnabled) {
		return nil
	}

	requests, err := s.store.ListRequestsByStatus(ctx,
		store.RequestPending, store.RequestApproved, store.RequestPartiallyAvailable)
	if err != nil {
		return fmt.Errorf("list requests: %w", err)
	}
	if len(requests) == 0 {
		return nil
	}

	snap := s.takeSnapshot(ctx)
	now := time.Now().UTC()

	for _, req := range requests {
		if err := s.checkRequest(ctx, req, snap, now); err != nil {
			s.logger.Error().Err(err).Int64("requestId", req.ID).Str("title", req.Title).
				Msg("Request check failed")
		}
	}
	return nil
}

// CheckRequest evaluates one request immediately. Used for the short
// post-request check.
func (s *Service) CheckRequest(ctx context.Context, requestID int64) error {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	switch req.Status {
	case store.RequestAvailable, store.RequestDeclined:
		return nil
	}
	snap := s.takeSnapshot(ctx)
	return s.checkRequest(ctx, req, snap, time.Now().UTC())
}

// ScheduleInitialCheck runs CheckRequest after the post-request delay, so
// upstream state has settled by the time the request is first evaluated.
func (s *Service) ScheduleInitialCheck(requestID int64) {
	go func() {
		time.Sleep(s.cfg.Workers.PostRequestDelay)
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := s.CheckRequest(ctx, requestID); err != nil {
			s.logger.Error().Err(err).Int64("requestId", requestID).Msg("Initial request check failed")
		}
	}()
}

func (s *Service) takeSnapshot(ctx context.Context) *snapshot {
	snap := &snapshot{
		activeSeries: make(map[int64]bool),
		activeMovies: make(map[int64]bool),
		seriesByTmdb: make(map[int64]arr.Series),
	}

	if items, err := s.sonarr.Queue(ctx); err == nil {
		snap.seriesQueueOK = true
		for i := range items {
			if items[i].IsActive() {
				snap.activeSeries[items[i].SeriesID] = true
			}
		}
	} else {
		s.logger.Warn().Err(err).Msg("Series queue unavailable")
	}

	if items, err := s.radarr.Queue(ctx); err == nil {
		snap.movieQueueOK = true
		for i := range items {
			if items[i].IsActive() {
				snap.activeMovies[items[i].MovieID] = true
			}
		}
	} else {
		s.logger.Warn().Err(err).Msg("Movie queue unavailable")
	}

	if series, err := s.sonarr.Series(ctx); err == nil {
		for i := range series {
			if series[i].TmdbID != 0 {
				snap.seriesByTmdb[series[i].TmdbID] = series[i]
			}
		}
	} else {
		s.logger.Warn().Err(err).Msg("Series list unavailable")
	}

	return snap
}

func (s *Service) checkRequest(ctx context.Context, req *store.MediaRequest, snap *snapshot, now time.Time) error {
	if req.MediaType == store.MediaTypeMovie {
		return s.checkMovie(ctx, req, snap, now)
	}
	return s.checkSeries(ctx, req, snap, now)
}

func (s *Service) checkMovie(ctx context.Context, req *store.MediaRequest, snap *snapshot, now time.Time) error {
	movie, err := s.radarr.MovieByTmdbID(ctx, req.TmdbID)
	if errors.Is(err, arr.ErrNotFound) {
		s.logger.Debug().Int64("tmdbId", req.TmdbID).Msg("Movie not in download service yet")
		return nil
	}
	if err != nil {
		return err
	}

	if movie.HasFile {
		available := true
		if s.media.Enabled() {
			inLibrary, err := s.media.HasMovie(ctx, req.TmdbID)
			if err != nil {
				s.logger.Warn().Err(err).Int64("tmdbId", req.TmdbID).Msg("Library check failed")
			} else {
				available = inLibrary
			}
		}
		if available {
			return s.store.UpdateRequestStatus(ctx, req.ID, store.RequestAvailable)
		}
		return nil
	}

	if !movie.Released(now) {
		return s.comingSoon(ctx, req, movieReleaseDate(movie), now)
	}

	// Released but no file. Stay quiet while a download is in flight.
	if snap.movieQueueOK && snap.activeMovies[movie.ID] {
		return nil
	}
	if !snap.movieQueueOK {
		return nil
	}
	return s.qualityWaiting(ctx, req, now)
}

func (s *Service) checkSeries(ctx context.Context, req *store.MediaRequest, snap *snapshot, now time.Time) error {
	series, ok := snap.seriesByTmdb[req.TmdbID]
	if !ok {
		s.logger.Debug().Int64("tmdbId", req.TmdbID).Msg("Series not in download service yet")
		return nil
	}

	episodes, err := s.sonarr.EpisodesBySeries(ctx, series.ID)
	if err != nil {
		return err
	}

	var aired, airedWithFile, future int
	var nextAir *time.Time
	for i := range episodes {
		ep := &episodes[i]
		if !ep.Monitored {
			continue
		}
		if ep.AirDateUTC == nil {
			continue
		}
		if ep.AirDateUTC.After(now) {
			future++
			if nextAir == nil || ep.AirDateUTC.Before(*nextAir) {
				nextAir = ep.AirDateUTC
			}
			continue
		}
		aired++
		if ep.HasFile {
			airedWithFile++
		}
	}

	if aired == 0 {
		// Nothing has aired yet.
		return s.comingSoon(ctx, req, nextAir, now)
	}

	if airedWithFile == aired {
		status := store.RequestAvailable
		if future > 0 {
			status = store.RequestPartiallyAvailable
		}
		// Final availability needs the library to confirm, same as movies.
		// Partial progress does not wait on the library scanner.
		if status == store.RequestAvailable && s.media.Enabled() {
			inLibrary, err := s.media.HasSeries(ctx, series.TvdbID)
			if err != nil {
				s.logger.Warn().Err(err).Int64("tvdbId", series.TvdbID).Msg("Library check failed")
			} else if !inLibrary {
				return nil
			}
		}
		if req.Status == status {
			return nil
		}
		return s.store.UpdateRequestStatus(ctx, req.ID, status)
	}

	if snap.seriesQueueOK && snap.activeSeries[series.ID] {
		return nil
	}
	if !snap.seriesQueueOK {
		return nil
	}
	return s.qualityWaiting(ctx, req, now)
}

// comingSoon emits at most one outstanding coming-soon notification per
// request, with a long resend window for still-unreleased titles.
func (s *Service) comingSoon(ctx context.Context, req *store.MediaRequest, releaseDate *time.Time, now time.Time) error {
	skip, err := s.alreadyNotified(ctx, req.ID, store.KindComingSoon, now.Add(-s.cfg.Workers.ComingSoonResendAge))
	if err != nil || skip {
		return err
	}

	body := fmt.Sprintf("%s has not been released yet. We will let you know as soon as it is available.", req.Title)
	if releaseDate != nil {
		body = fmt.Sprintf("%s is expected around %s. We will let you know as soon as it is available.",
			req.Title, releaseDate.Format("January 2, 2006"))
	}
	return s.createForRecipients(ctx, req, store.KindComingSoon,
		fmt.Sprintf("Coming Soon: %s", req.Title), body, nil)
}

// qualityWaiting emits a notification that the title is released but not
// yet obtained. Dispatch is delayed slightly so a grab event can still
// cancel it.
func (s *Service) qualityWaiting(ctx context.Context, req *store.MediaRequest, now time.Time) error {
	skip, err := s.alreadyNotified(ctx, req.ID, store.KindQualityWaiting, now.Add(-s.cfg.Workers.QualityWaitResendAge))
	if err != nil || skip {
		return err
	}

	sendAfter := now.Add(s.cfg.Workers.QualityWaitingDelay)
	body := fmt.Sprintf("%s has been released but a suitable copy has not been found yet. We are still searching and will notify you when it arrives.", req.Title)
	return s.createForRecipients(ctx, req, store.KindQualityWaiting,
		fmt.Sprintf("Still Searching: %s", req.Title), body, &sendAfter)
}

func (s *Service) alreadyNotified(ctx context.Context, requestID int64, kind store.NotificationKind, cutoff time.Time) (bool, error) {
	outstanding, err := s.store.HasUnsentKind(ctx, requestID, kind)
	if err != nil || outstanding {
		return outstanding, err
	}
	return s.store.HasRecentSent(ctx, requestID, kind, cutoff)
}

func (s *Service) createForRecipients(ctx context.Context, req *store.MediaRequest, kind store.NotificationKind, subject, body string, sendAfter *time.Time) error {
	recipients, err := s.store.RecipientsForRequest(ctx, req.ID)
	if err != nil {
		return err
	}
	for _, user := range recipients {
		_, err := s.store.CreateNotification(ctx, store.CreateNotificationParams{
			UserID:    &user.ID,
			RequestID: &req.ID,
			Kind:      kind,
			Subject:   subject,
			Body:      body,
			SendAfter: sendAfter,
		})
		if err != nil {
			return err
		}
	}
	s.logger.Info().Int64("requestId", req.ID).Str("kind", string(kind)).Int("recipients", len(recipients)).
		Msg("Queued notifications")
	return nil
}

func movieReleaseDate(m *arr.Movie) *time.Time {
	for _, d := range []*time.Time{m.DigitalRelease, m.PhysicalRelease, m.InCinemas} {
		if d != nil {
			return d
		}
	}
	return nil
}
