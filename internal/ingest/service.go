// Package ingest normalizes inbound webhook events and turns them into
// tracked notifications. It is the entry point for both real webhooks and
// the reconciliation sweep's synthesized events, so both share one
// idempotence path.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/notifyarr/notifyarr/internal/config"
	"github.com/notifyarr/notifyarr/internal/seerr"
	"github.com/notifyarr/notifyarr/internal/store"
)

// ErrUnmatched marks an event whose content has no tracked request.
// Non-fatal: the event is logged and dropped, and the reconciliation sweep
// may pick the content up later.
var ErrUnmatched = errors.New("no matching request for content")

// RequestSource fetches request details from the request-tracking service.
type RequestSource interface {
	GetRequest(ctx context.Context, id int64) (*seerr.Request, error)
}

// IssueHandler reacts to issue lifecycle events.
type IssueHandler interface {
	IssueCreated(ctx context.Context, ev Event) error
	IssueResolved(ctx context.Context, ev Event) error
	ImportCompleted(ctx context.Context, mediaType store.MediaType, tmdbID int64) error
}

// Remediator runs the import-failure auto-fix sequence.
type Remediator interface {
	RemediateImportFailure(ctx context.Context, ev Event) error
}

// RequestChecker schedules the short post-request quality check.
type RequestChecker interface {
	ScheduleInitialCheck(requestID int64)
}

// Service processes normalized events.
type Service struct {
	store      *store.Store
	requests   RequestSource
	issues     IssueHandler
	remediator Remediator
	checker    RequestChecker
	cfg        *config.Config
	logger     zerolog.Logger
}

// New creates an ingest service. The issue handler, remediator, and
// checker may be nil; the matching event types are then logged and dropped.
func New(st *store.Store, requests RequestSource, issues IssueHandler, remediator Remediator, checker RequestChecker, cfg *config.Config, logger zerolog.Logger) *Service {
	return &Service{
		store:      st,
		requests:   requests,
		issues:     issues,
		remediator: remediator,
		checker:    checker,
		cfg:        cfg,
		logger:     logger.With().Str("component", "ingest").Logger(),
	}
}

// Process routes one event. Unmatched content is not an error to the
// caller; the webhook response stays successful once the event is handled.
func (s *Service) Process(ctx context.Context, ev Event) error {
	s.logger.Info().
		Str("type", string(ev.Type)).
		Str("mediaType", string(ev.MediaType)).
		Int64("tmdbId", ev.TmdbID).
		Msg("Processing event")

	switch ev.Type {
	case EventImport:
		return s.processImport(ctx, ev)
	case EventGrab:
		return s.processGrab(ctx, ev)
	case EventImportFailed:
		if s.remediator == nil {
			return nil
		}
		return s.remediator.RemediateImportFailure(ctx, ev)
	case EventRequestCreated:
		return s.processRequestCreated(ctx, ev)
	case EventRequestApproved:
		return s.processRequestApproved(ctx, ev)
	case EventIssueCreated:
		if s.issues == nil {
			return nil
		}
		return s.issues.IssueCreated(ctx, ev)
	case EventIssueResolved:
		if s.issues == nil {
			return nil
		}
		return s.issues.IssueResolved(ctx, ev)
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
}

// matchRequests resolves a content identifier to its tracked requests.
// Matching is case-exact on the external id; no fuzzy matching.
func (s *Service) matchRequests(ctx context.Context, mediaType store.MediaType, tmdbID int64) ([]*store.MediaRequest, error) {
	requests, err := s.store.ListRequestsByTmdb(ctx, mediaType, tmdbID)
	if err != nil {
		return nil, err
	}
	if len(requests) == 0 {
		return nil, fmt.Errorf("%w: %s/%d", ErrUnmatched, mediaType, tmdbID)
	}
	return requests, nil
}

func (s *Service) processImport(ctx context.Context, ev Event) error {
	var err error
	if ev.MediaType == store.MediaTypeTV {
		err = s.importEpisodes(ctx, ev)
	} else {
		err = s.importMovie(ctx, ev)
	}
	if errors.Is(err, ErrUnmatched) {
		s.logger.Info().Int64("tmdbId", ev.TmdbID).Str("mediaType", string(ev.MediaType)).
			Msg("Import for untracked content, ignoring")
		return nil
	}
	if err != nil {
		return err
	}

	// An import may be the replacement for an open issue.
	if s.issues != nil {
		if ierr := s.issues.ImportCompleted(ctx, ev.MediaType, ev.TmdbID); ierr != nil {
			s.logger.Error().Err(ierr).Int64("tmdbId", ev.TmdbID).Msg("Issue resolution check failed")
		}
	}
	return nil
}

// importEpisodes tracks each imported episode and queues one notification
// per recipient. The episode_tracking row is the idempotence key: once it
// is marked notified, later imports and sweeps produce nothing.
func (s *Service) importEpisodes(ctx context.Context, ev Event) error {
	requests, err := s.matchRequests(ctx, store.MediaTypeTV, ev.TmdbID)
	if err != nil {
		return err
	}

	sendAfter := time.Now().UTC().Add(s.cfg.Workers.BatchInitialDelay)

	for _, ep := range ev.Episodes {
		tracking, err := s.store.LookupEpisode(ctx, ev.SeriesID, ep.SeasonNumber, ep.EpisodeNumber)
		switch {
		case errors.Is(err, store.ErrNotFound):
			tracking, err = s.store.CreateEpisode(ctx, store.CreateEpisodeParams{
				RequestID:     requests[0].ID,
				SeriesID:      ev.SeriesID,
				SeasonNumber:  ep.SeasonNumber,
				EpisodeNumber: ep.EpisodeNumber,
				EpisodeTitle:  optional(ep.Title),
				AirDate:       ep.AirDateUTC,
				Available:     true,
			})
			if err != nil {
				return fmt.Errorf("track episode: %w", err)
			}
		case err != nil:
			return err
		default:
			if err := s.store.UpdateEpisodeAvailability(ctx, tracking.ID, optional(ep.Title)); err != nil {
				return err
			}
		}

		if tracking.Notified {
			continue
		}

		tag := fmt.Sprintf("S%02dE%02d", ep.SeasonNumber, ep.EpisodeNumber)
		for _, req := range requests {
			if err := s.queueEpisodeNotifications(ctx, req, ev, ep, tag, sendAfter); err != nil {
				return err
			}
		}
		if err := s.store.MarkEpisodeNotified(ctx, tracking.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) queueEpisodeNotifications(ctx context.Context, req *store.MediaRequest, ev Event, ep EpisodeInfo, tag string, sendAfter time.Time) error {
	recipients, err := s.store.RecipientsForRequest(ctx, req.ID)
	if err != nil {
		return err
	}

	title := req.Title
	if ev.Title != "" {
		title = ev.Title
	}
	subject := fmt.Sprintf("New Episode: %s %s", title, tag)
	body := fmt.Sprintf("A new episode of %s is available.\n\n%s", title, episodeLine(tag, ep))

	for _, user := range recipients {
		exists, err := s.store.EpisodeNotificationExists(ctx, user.ID, req.ID, tag)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		_, err = s.store.CreateNotification(ctx, store.CreateNotificationParams{
			UserID:    &user.ID,
			RequestID: &req.ID,
			Kind:      store.KindEpisode,
			Subject:   subject,
			Body:      body,
			SendAfter: &sendAfter,
			SeriesID:  &ev.SeriesID,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// importMovie queues one movie notification per recipient and marks the
// request available. Movies release on the initial delay alone; no queue
// check happens at send time.
func (s *Service) importMovie(ctx context.Context, ev Event) error {
	requests, err := s.matchRequests(ctx, store.MediaTypeMovie, ev.TmdbID)
	if err != nil {
		return err
	}

	sendAfter := time.Now().UTC().Add(s.cfg.Workers.BatchInitialDelay)

	for _, req := range requests {
		recipients, err := s.store.RecipientsForRequest(ctx, req.ID)
		if err != nil {
			return err
		}

		title := req.Title
		if ev.Title != "" {
			title = ev.Title
		}

		for _, user := range recipients {
			exists, err := s.store.HasAnyKind(ctx, user.ID, req.ID, store.KindMovie)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			_, err = s.store.CreateNotification(ctx, store.CreateNotificationParams{
				UserID:    &user.ID,
				RequestID: &req.ID,
				Kind:      store.KindMovie,
				Subject:   fmt.Sprintf("Movie Available: %s", title),
				Body:      fmt.Sprintf("%s is now available in the library.", title),
				SendAfter: &sendAfter,
			})
			if err != nil {
				return err
			}
		}

		if err := s.store.UpdateRequestStatus(ctx, req.ID, store.RequestAvailable); err != nil {
			return err
		}
	}
	return nil
}

// processGrab cancels outstanding quality-waiting notifications for the
// grabbed content. A started download resolves the wait without the
// monitor having to notice on its own schedule.
func (s *Service) processGrab(ctx context.Context, ev Event) error {
	requests, err := s.matchRequests(ctx, ev.MediaType, ev.TmdbID)
	if errors.Is(err, ErrUnmatched) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, req := range requests {
		n, err := s.store.CancelUnsent(ctx, req.ID, store.KindQualityWaiting)
		if err != nil {
			return err
		}
		if n > 0 {
			s.logger.Info().Int64("requestId", req.ID).Int64("cancelled", n).
				Msg("Grab cancelled quality-waiting notifications")
		}
	}
	return nil
}

func (s *Service) processRequestCreated(ctx context.Context, ev Event) error {
	if s.requests == nil || ev.SeerrRequestID == 0 {
		return nil
	}
	req, err := s.requests.GetRequest(ctx, ev.SeerrRequestID)
	if err != nil {
		return fmt.Errorf("fetch request %d: %w", ev.SeerrRequestID, err)
	}

	user, err := s.store.UpsertUser(ctx, req.RequestedBy.ID, req.RequestedBy.Email, req.RequestedBy.DisplayName, req.RequestedBy.PlexID)
	if err != nil {
		return err
	}

	var seasonCount *int64
	if len(req.Seasons) > 0 {
		n := int64(len(req.Seasons))
		seasonCount = &n
	}
	title := ev.Title
	if title == "" {
		title = fmt.Sprintf("tmdb:%d", req.Media.TmdbID)
	}
	local, err := s.store.UpsertRequest(ctx, user.ID, req.ID,
		store.MediaType(req.Media.MediaType), req.Media.TmdbID, title,
		seerr.MapRequestStatus(req.Status, req.Media.Status), seasonCount)
	if err != nil {
		return err
	}

	if s.checker != nil {
		s.checker.ScheduleInitialCheck(local.ID)
	}
	return nil
}

func (s *Service) processRequestApproved(ctx context.Context, ev Event) error {
	if ev.SeerrRequestID == 0 {
		return nil
	}
	req, err := s.store.GetRequestBySeerrID(ctx, ev.SeerrRequestID)
	if errors.Is(err, store.ErrNotFound) {
		// Approval can race the created event; fall back to a full fetch.
		return s.processRequestCreated(ctx, ev)
	}
	if err != nil {
		return err
	}
	if req.Status == store.RequestAvailable || req.Status == store.RequestPartiallyAvailable {
		return nil
	}
	return s.store.UpdateRequestStatus(ctx, req.ID, store.RequestApproved)
}

func episodeLine(tag string, ep EpisodeInfo) string {
	line := tag
	if ep.Title != "" {
		line += " - " + ep.Title
	}
	if ep.AirDateUTC != nil {
		line += fmt.Sprintf(" (aired %s)", ep.AirDateUTC.Format("2006-01-02"))
	}
	return line
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
