// Package stuckmon implements the stuck-download detector and the
// import-failure auto-fix sequence.
package stuckmon

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/notifyarr/notifyarr/internal/arr"
	"github.com/notifyarr/notifyarr/internal/config"
	"github.com/notifyarr/notifyarr/internal/ingest"
	"github.com/notifyarr/notifyarr/internal/settings"
	"github.com/notifyarr/notifyarr/internal/store"
)

// placeholderTitle matches the "to be announced" titles metadata providers
// use before an episode is named.
var placeholderTitle = regexp.MustCompile(`(?i)^(tba|tbd|episode \d+)$`)

type stuckItem struct {
	service string
	item    arr.QueueItem
}

// Service is the stuck-download detector.
type Service struct {
	store    *store.Store
	sonarr   arr.SeriesClient
	radarr   arr.MovieClient
	settings *settings.Service
	cfg      *config.Config
	logger   zerolog.Logger

	// alerted dedupes admin alerts across scans. Keyed by service,
	// release title and content id; queue entry ids churn on retries so
	// they cannot serve as the key. Cleared on the alert-reset interval.
	mu        sync.Mutex
	alerted   map[string]time.Time
	lastReset time.Time
}

var _ ingest.Remediator = (*Service)(nil)

// New creates a stuck-download detector.
func New(st *store.Store, sonarr arr.SeriesClient, radarr arr.MovieClient, set *settings.Service, cfg *config.Config, logger zerolog.Logger) *Service {
	return &Service{
		store:     st,
		sonarr:    sonarr,
		radarr:    radarr,
		settings:  set,
		cfg:       cfg,
		logger:    logger.With().Str("component", "stuckmon").Logger(),
		alerted:   make(map[string]time.Time),
		lastReset: time.Now().UTC(),
	}
}

// RunCycle scans both download queues, auto-fixes placeholder-titled
// entries, and raises a single admin alert per newly stuck item.
func (s *Service) RunCycle(ctx context.Context) error {
	if !s.settings.Enabled(ctx, settings.KeyStuckEnabled) {
		return nil
	}

	now := time.Now().UTC()
	s.maybeResetCache(now)

	var stuck []stuckItem

	if items, err := s.sonarr.Queue(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Series queue unavailable, skipping")
	} else {
		refreshed := make(map[int64]bool)
		for i := range items {
			item := items[i]
			if placeholderTitle.MatchString(strings.TrimSpace(item.Title)) {
				// Routine fix, no alert: a metadata refresh usually
				// resolves the placeholder.
				if !refreshed[item.SeriesID] {
					refreshed[item.SeriesID] = true
					if err := s.sonarr.RefreshSeries(ctx, item.SeriesID); err != nil {
						s.logger.Error().Err(err).Int64("seriesId", item.SeriesID).Msg("Metadata refresh failed")
					} else {
						s.logger.Info().Int64("seriesId", item.SeriesID).Str("title", item.Title).
							Msg("Placeholder title, triggered metadata refresh")
					}
				}
				continue
			}
			if s.isStalled(&item, now) {
				stuck = append(stuck, stuckItem{service: "sonarr", item: item})
			}
		}
	}

	if items, err := s.radarr.Queue(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Movie queue unavailable, skipping")
	} else {
		for i := range items {
			if s.isStalled(&items[i], now) {
				stuck = append(stuck, stuckItem{service: "radarr", item: items[i]})
			}
		}
	}

	fresh := s.filterNew(stuck, now)
	if len(fresh) == 0 {
		return nil
	}
	return s.alertAdmin(ctx, fresh)
}

// isStalled classifies one queue entry. Stalled means an explicit bad
// state from the service, or an old entry that has data but stopped
// moving.
func (s *Service) isStalled(item *arr.QueueItem, now time.Time) bool {
	switch item.Status {
	case arr.StatusStalled, arr.StatusFailed:
		return true
	}
	if item.TrackedDownloadStatus == arr.TrackedStatusWarning {
		return true
	}
	if !item.Added.IsZero() && now.Sub(item.Added) > s.cfg.Workers.StuckQueueAge && item.Size > 0 {
		return true
	}
	return false
}

func (s *Service) maybeResetCache(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Sub(s.lastReset) >= s.cfg.Workers.StuckAlertReset {
		s.alerted = make(map[string]time.Time)
		s.lastReset = now
	}
}

func (s *Service) filterNew(stuck []stuckItem, now time.Time) []stuckItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fresh []stuckItem
	for _, si := range stuck {
		key := alertKey(si)
		if _, seen := s.alerted[key]; seen {
			continue
		}
		s.alerted[key] = now
		fresh = append(fresh, si)
	}
	return fresh
}

func alertKey(si stuckItem) string {
	contentID := si.item.SeriesID
	if si.service == "radarr" {
		contentID = si.item.MovieID
	}
	return fmt.Sprintf("%s:%s:%d", si.service, si.item.Title, contentID)
}

// alertAdmin queues one stuck-download notification covering every newly
// detected item.
func (s *Service) alertAdmin(ctx context.Context, stuck []stuckItem) error {
	var body strings.Builder
	body.WriteString("The following downloads appear to be stuck:\n\n")
	for _, si := range stuck {
		line := fmt.Sprintf("[%s] %s (status: %s", si.service, si.item.Title, si.item.Status)
		if si.item.TrackedDownloadStatus != "" {
			line += ", tracked: " + si.item.TrackedDownloadStatus
		}
		line += ")"
		if si.item.ErrorMessage != "" {
			line += "\n  " + si.item.ErrorMessage
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	body.WriteString("\nThese items may need manual intervention.")

	subject := fmt.Sprintf("Stuck Downloads Detected (%d)", len(stuck))
	_, err := s.store.CreateNotification(ctx, store.CreateNotificationParams{
		Kind:    store.KindStuckAlert,
		Subject: subject,
		Body:    body.String(),
	})
	if err != nil {
		return err
	}

	s.logger.Warn().Int("count", len(stuck)).Msg("Stuck downloads detected, admin alert queued")
	return nil
}

// RemediateImportFailure runs the auto-fix sequence for a failed import:
// remove the release from the queue with a blocklist, then trigger a new
// search, then notify the affected users. Each step records progress; a
// failure partway logs the step reached and sends nothing, so a partial
// remediation never claims success.
func (s *Service) RemediateImportFailure(ctx context.Context, ev ingest.Event) error {
	id := uuid.New().String()
	log := s.logger.With().Str("remediation", id).Int64("tmdbId", ev.TmdbID).
		Str("release", ev.ReleaseTitle).Logger()

	step := "locate"
	item, err := s.findQueueItem(ctx, ev)
	if err != nil {
		log.Error().Err(err).Str("step", step).Msg("Remediation aborted")
		return nil
	}

	step = "remove_and_blocklist"
	if err := s.removeItem(ctx, ev.MediaType, item.ID); err != nil {
		log.Error().Err(err).Str("step", step).Msg("Remediation aborted")
		return nil
	}

	step = "search"
	if err := s.triggerSearch(ctx, ev, item); err != nil {
		log.Error().Err(err).Str("step", step).Msg("Remediation aborted after blocklist")
		return nil
	}

	step = "notify"
	if err := s.notifyRemediation(ctx, ev); err != nil {
		log.Error().Err(err).Str("step", step).Msg("Remediation notification failed")
		return nil
	}

	log.Info().Msg("Import failure remediated")
	return nil
}

func (s *Service) findQueueItem(ctx context.Context, ev ingest.Event) (*arr.QueueItem, error) {
	var items []arr.QueueItem
	var err error
	if ev.MediaType == store.MediaTypeTV {
		items, err = s.sonarr.Queue(ctx)
	} else {
		items, err = s.radarr.Queue(ctx)
	}
	if err != nil {
		return nil, err
	}

	for i := range items {
		if ev.DownloadID != "" && items[i].DownloadID == ev.DownloadID {
			return &items[i], nil
		}
		if ev.ReleaseTitle != "" && items[i].Title == ev.ReleaseTitle {
			return &items[i], nil
		}
	}
	return nil, fmt.Errorf("release not found in queue")
}

func (s *Service) removeItem(ctx context.Context, mediaType store.MediaType, queueID int64) error {
	if mediaType == store.MediaTypeTV {
		return s.sonarr.RemoveFromQueue(ctx, queueID, true)
	}
	return s.radarr.RemoveFromQueue(ctx, queueID, true)
}

func (s *Service) triggerSearch(ctx context.Context, ev ingest.Event, item *arr.QueueItem) error {
	if ev.MediaType == store.MediaTypeTV {
		season := 1
		if len(ev.Episodes) > 0 {
			season = ev.Episodes[0].SeasonNumber
		}
		seriesID := ev.SeriesID
		if seriesID == 0 {
			seriesID = item.SeriesID
		}
		return s.sonarr.SearchSeason(ctx, seriesID, season)
	}

	movieID := ev.MovieID
	if movieID == 0 {
		movieID = item.MovieID
	}
	return s.radarr.SearchMovie(ctx, movieID)
}

func (s *Service) notifyRemediation(ctx context.Context, ev ingest.Event) error {
	requests, err := s.store.ListRequestsByTmdb(ctx, ev.MediaType, ev.TmdbID)
	if err != nil {
		return err
	}
	if len(requests) == 0 {
		// Untracked content: nobody to tell, remediation still counts.
		return nil
	}

	for _, req := range requests {
		recipients, err := s.store.RecipientsForRequest(ctx, req.ID)
		if err != nil {
			return err
		}
		subject := fmt.Sprintf("Download Problem Fixed: %s", req.Title)
		body := fmt.Sprintf("A download for %s failed to import. We automatically removed the problematic copy and started a new search. You will be notified when the replacement is ready.", req.Title)
		for _, user := range recipients {
			_, err := s.store.CreateNotification(ctx, store.CreateNotificationParams{
				UserID:    &user.ID,
				RequestID: &req.ID,
				Kind:      store.KindImportFixed,
				Subject:   subject,
				Body:      body,
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}
