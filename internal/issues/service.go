// Package issues handles reported content problems and their optional
// automatic remediation.
package issues

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/notifyarr/notifyarr/internal/arr"
	"github.com/notifyarr/notifyarr/internal/ingest"
	"github.com/notifyarr/notifyarr/internal/settings"
	"github.com/notifyarr/notifyarr/internal/store"
)

// SeerrIssues is the issue surface of the request-tracking service.
type SeerrIssues interface {
	ResolveIssue(ctx context.Context, issueID int64) error
	CommentIssue(ctx context.Context, issueID int64, message string) error
}

// Service reacts to issue lifecycle events.
type Service struct {
	store    *store.Store
	sonarr   arr.SeriesClient
	radarr   arr.MovieClient
	seerr    SeerrIssues
	settings *settings.Service
	logger   zerolog.Logger
}

var _ ingest.IssueHandler = (*Service)(nil)

// New creates an issue service.
func New(st *store.Store, sonarr arr.SeriesClient, radarr arr.MovieClient, sr SeerrIssues, set *settings.Service, logger zerolog.Logger) *Service {
	return &Service{
		store:    st,
		sonarr:   sonarr,
		radarr:   radarr,
		seerr:    sr,
		settings: set,
		logger:   logger.With().Str("component", "issues").Logger(),
	}
}

// IssueCreated records a new issue and, depending on the configured fix
// mode, starts automatic remediation.
func (s *Service) IssueCreated(ctx context.Context, ev ingest.Event) error {
	if ev.SeerrIssueID != 0 {
		if _, err := s.store.GetIssueBySeerrID(ctx, ev.SeerrIssueID); err == nil {
			return nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}

	params := store.CreateIssueParams{
		MediaType: ev.MediaType,
		TmdbID:    ev.TmdbID,
		Title:     ev.Title,
	}
	if ev.SeerrIssueID != 0 {
		params.SeerrIssueID = &ev.SeerrIssueID
	}
	if ev.IssueType != "" {
		params.IssueType = &ev.IssueType
	}
	if ev.IssueMessage != "" {
		params.IssueMessage = &ev.IssueMessage
	}
	if ev.ReporterSeerrID != 0 {
		if user, err := s.store.GetUserBySeerrID(ctx, ev.ReporterSeerrID); err == nil {
			params.UserID = &user.ID
		}
	}
	if requests, err := s.store.ListRequestsByTmdb(ctx, ev.MediaType, ev.TmdbID); err == nil && len(requests) > 0 {
		params.RequestID = &requests[0].ID
		if params.Title == "" {
			params.Title = requests[0].Title
		}
	}
	if params.Title == "" {
		params.Title = fmt.Sprintf("tmdb:%d", ev.TmdbID)
	}

	issue, err := s.store.CreateIssue(ctx, params)
	if err != nil {
		return err
	}

	mode := s.settings.IssueFixMode(ctx)
	if mode == settings.FixModeManual {
		s.logger.Info().Int64("issueId", issue.ID).Str("title", issue.Title).
			Msg("Issue recorded, manual mode")
		return nil
	}

	return s.attemptFix(ctx, issue, mode)
}

// attemptFix blocklists any grab still in the queue for the affected title
// so the same release cannot come back, triggers a re-search, and advances
// the issue to fixing. A remediation failure keeps the issue open with the
// error recorded; no notification goes out on failure.
func (s *Service) attemptFix(ctx context.Context, issue *store.Issue, mode string) error {
	var fixErr error
	var action string
	if issue.MediaType == store.MediaTypeMovie {
		action = "blocklisted release and triggered movie re-search"
		fixErr = s.fixMovie(ctx, issue)
	} else {
		action = "blocklisted release and triggered series re-search"
		fixErr = s.fixSeries(ctx, issue)
	}

	if fixErr != nil {
		msg := fixErr.Error()
		s.logger.Error().Err(fixErr).Int64("issueId", issue.ID).Msg("Auto-fix failed")
		return s.store.SetIssueStatus(ctx, issue.ID, store.IssueOpen, nil, &msg)
	}

	if err := s.store.SetIssueStatus(ctx, issue.ID, store.IssueFixing, &action, nil); err != nil {
		return err
	}

	// Admin trail of what the automation did on its own.
	_, err := s.store.CreateNotification(ctx, store.CreateNotificationParams{
		Kind:    store.KindAutoFixReport,
		Subject: fmt.Sprintf("Auto-Fix Started: %s", issue.Title),
		Body:    fmt.Sprintf("An issue was reported for %s and automatic remediation started: %s.", issue.Title, action),
	})
	if err != nil {
		return err
	}

	if mode == settings.FixModeAutoNotify && issue.UserID != nil {
		_, err := s.store.CreateNotification(ctx, store.CreateNotificationParams{
			UserID:    issue.UserID,
			RequestID: issue.RequestID,
			Kind:      store.KindIssueFixing,
			Subject:   fmt.Sprintf("We're On It: %s", issue.Title),
			Body:      fmt.Sprintf("Thanks for reporting a problem with %s. We are automatically fetching a replacement and will let you know when it is ready.", issue.Title),
		})
		if err != nil {
			return err
		}
	}

	if issue.SeerrIssueID != nil {
		if err := s.seerr.CommentIssue(ctx, *issue.SeerrIssueID, "Automatic remediation started: a replacement is being searched for."); err != nil {
			s.logger.Warn().Err(err).Int64("issueId", issue.ID).Msg("Issue comment failed")
		}
	}
	return nil
}

func (s *Service) fixMovie(ctx context.Context, issue *store.Issue) error {
	movie, err := s.radarr.MovieByTmdbID(ctx, issue.TmdbID)
	if err != nil {
		return err
	}

	// Blocklist whatever is still queued for this movie first; a plain
	// re-search could grab the same bad release again.
	if items, err := s.radarr.Queue(ctx); err != nil {
		s.logger.Warn().Err(err).Int64("issueId", issue.ID).Msg("Movie queue unavailable, skipping blocklist")
	} else {
		for i := range items {
			if items[i].MovieID != movie.ID {
				continue
			}
			if err := s.radarr.RemoveFromQueue(ctx, items[i].ID, true); err != nil {
				s.logger.Warn().Err(err).Int64("queueId", items[i].ID).Msg("Queue blocklist failed")
			}
		}
	}

	return s.radarr.SearchMovie(ctx, movie.ID)
}

func (s *Service) fixSeries(ctx context.Context, issue *store.Issue) error {
	all, err := s.sonarr.Series(ctx)
	if err != nil {
		return err
	}
	var series *arr.Series
	for i := range all {
		if all[i].TmdbID == issue.TmdbID {
			series = &all[i]
			break
		}
	}
	if series == nil {
		return fmt.Errorf("series for tmdb %d not found: %w", issue.TmdbID, arr.ErrNotFound)
	}

	if items, err := s.sonarr.Queue(ctx); err != nil {
		s.logger.Warn().Err(err).Int64("issueId", issue.ID).Msg("Series queue unavailable, skipping blocklist")
	} else {
		for i := range items {
			if items[i].SeriesID != series.ID {
				continue
			}
			if err := s.sonarr.RemoveFromQueue(ctx, items[i].ID, true); err != nil {
				s.logger.Warn().Err(err).Int64("queueId", items[i].ID).Msg("Queue blocklist failed")
			}
		}
	}

	return s.sonarr.SearchSeries(ctx, series.ID)
}

// ImportCompleted resolves open or fixing issues for freshly imported
// content and tells the reporter the replacement is ready.
func (s *Service) ImportCompleted(ctx context.Context, mediaType store.MediaType, tmdbID int64) error {
	for _, status := range []store.IssueStatus{store.IssueOpen, store.IssueFixing} {
		issues, err := s.store.ListIssuesByStatus(ctx, status)
		if err != nil {
			return err
		}
		for _, issue := range issues {
			if issue.MediaType != mediaType || issue.TmdbID != tmdbID {
				continue
			}
			if err := s.resolve(ctx, issue); err != nil {
				s.logger.Error().Err(err).Int64("issueId", issue.ID).Msg("Issue resolution failed")
			}
		}
	}
	return nil
}

func (s *Service) resolve(ctx context.Context, issue *store.Issue) error {
	action := "replacement imported"
	if err := s.store.SetIssueStatus(ctx, issue.ID, store.IssueResolved, &action, nil); err != nil {
		return err
	}

	if issue.SeerrIssueID != nil {
		if err := s.seerr.ResolveIssue(ctx, *issue.SeerrIssueID); err != nil {
			s.logger.Warn().Err(err).Int64("issueId", issue.ID).Msg("Upstream issue resolution failed")
		}
	}

	if issue.UserID != nil {
		_, err := s.store.CreateNotification(ctx, store.CreateNotificationParams{
			UserID:    issue.UserID,
			RequestID: issue.RequestID,
			Kind:      store.KindIssueFixed,
			Subject:   fmt.Sprintf("Replacement Ready: %s", issue.Title),
			Body:      fmt.Sprintf("The problem you reported with %s has been fixed. A replacement copy is now available.", issue.Title),
		})
		if err != nil {
			return err
		}
	}

	s.logger.Info().Int64("issueId", issue.ID).Str("title", issue.Title).Msg("Issue resolved")
	return nil
}

// IssueResolved handles an issue resolved upstream without our help.
func (s *Service) IssueResolved(ctx context.Context, ev ingest.Event) error {
	if ev.SeerrIssueID == 0 {
		return nil
	}
	issue, err := s.store.GetIssueBySeerrID(ctx, ev.SeerrIssueID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if issue.Status == store.IssueResolved || issue.Status == store.IssueAbandoned {
		return nil
	}
	action := "resolved upstream"
	return s.store.SetIssueStatus(ctx, issue.ID, store.IssueResolved, &action, nil)
}
