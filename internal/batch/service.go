// Package batch implements the grouped-delivery state machine for episode
// notifications. Each pending notification moves created -> extended(n) ->
// released; a release gathers every un-sent notification for the same user
// and series into one email.
package batch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/notifyarr/notifyarr/internal/arr"
	"github.com/notifyarr/notifyarr/internal/config"
	"github.com/notifyarr/notifyarr/internal/mailer"
	"github.com/notifyarr/notifyarr/internal/settings"
	"github.com/notifyarr/notifyarr/internal/store"
)

// Service runs the batching scan.
type Service struct {
	store    *store.Store
	sonarr   arr.SeriesClient
	mailer   mailer.Sender
	settings *settings.Service
	cfg      *config.Config
	logger   zerolog.Logger
}

// New creates a batching service.
func New(st *store.Store, sonarr arr.SeriesClient, sender mailer.Sender, set *settings.Service, cfg *config.Config, logger zerolog.Logger) *Service {
	return &Service{
		store:    st,
		sonarr:   sonarr,
		mailer:   sender,
		settings: set,
		cfg:      cfg,
		logger:   logger.With().Str("component", "batch").Logger(),
	}
}

// RunCycle examines every due episode notification and extends or releases
// it. Only episode notifications are handled here; everything else belongs
// to the dispatcher.
func (s *Service) RunCycle(ctx context.Context) error {
	if !s.settings.Enabled(ctx, settings.KeyBatchingEnabled) {
		return nil
	}

	now := time.Now().UTC()
	due, err := s.store.ListDue(ctx, now)
	if err != nil {
		return fmt.Errorf("list due notifications: %w", err)
	}

	activeSeries, queueErr := s.activeSeries(ctx)
	if queueErr != nil {
		s.logger.Warn().Err(queueErr).Msg("Queue unavailable, only ceiling releases this cycle")
	}

	processed := make(map[int64]bool)
	for _, n := range due {
		if n.Kind != store.KindEpisode || n.SeriesID == nil || n.UserID == nil {
			continue
		}
		if processed[n.ID] {
			continue
		}

		// The hard ceiling is measured from the row's original creation.
		// Past it the batch goes out even if the queue still looks busy.
		atCeiling := now.Sub(n.CreatedAt) >= s.cfg.Workers.BatchMaxWait

		if queueErr != nil && !atCeiling {
			continue
		}

		if !atCeiling && activeSeries[*n.SeriesID] {
			until := now.Add(s.cfg.Workers.BatchExtendDelay)
			if err := s.store.ExtendSendAfter(ctx, n.ID, until); err != nil {
				s.logger.Error().Err(err).Int64("id", n.ID).Msg("Extend failed")
				continue
			}
			s.logger.Debug().
				Int64("id", n.ID).
				Int64("seriesId", *n.SeriesID).
				Time("until", until).
				Msg("Queue still active, extended batch")
			continue
		}

		if err := s.releaseBatch(ctx, n, now, processed); err != nil {
			s.logger.Error().Err(err).Int64("id", n.ID).Msg("Batch release failed")
		}
	}
	return nil
}

// activeSeries returns the set of series ids with queue entries in an
// active state.
func (s *Service) activeSeries(ctx context.Context) (map[int64]bool, error) {
	items, err := s.sonarr.Queue(ctx)
	if err != nil {
		return nil, err
	}
	active := make(map[int64]bool)
	for i := range items {
		if items[i].IsActive() {
			active[items[i].SeriesID] = true
		}
	}
	return active, nil
}

// releaseBatch sends one email covering every un-sent notification for the
// same user and series, then marks them all sent in a single transaction.
// A notification arriving after this point starts a fresh batch.
func (s *Service) releaseBatch(ctx context.Context, n *store.Notification, now time.Time, processed map[int64]bool) error {
	peers, err := s.store.ListBatchPeers(ctx, *n.UserID, *n.SeriesID)
	if err != nil {
		return err
	}
	if len(peers) == 0 {
		return nil
	}

	ids := make([]int64, len(peers))
	for i, p := range peers {
		ids[i] = p.ID
		processed[p.ID] = true
	}

	user, err := s.store.GetUser(ctx, *n.UserID)
	if err != nil {
		return err
	}

	subject, body := s.compose(ctx, peers)

	if err := s.mailer.Send(ctx, []string{user.Email}, subject, body); err != nil {
		for _, id := range ids {
			if serr := s.store.SetNotificationError(ctx, id, err.Error()); serr != nil {
				s.logger.Error().Err(serr).Int64("id", id).Msg("Recording delivery error failed")
			}
		}
		return err
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := tx.MarkManySent(ctx, ids, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.logger.Info().
		Int64("userId", *n.UserID).
		Int64("seriesId", *n.SeriesID).
		Int("episodes", len(peers)).
		Msg("Released batch")
	return nil
}

// compose builds the outbound message. A single notification keeps its own
// subject and body; a multi-episode batch lists every episode line under
// one subject.
func (s *Service) compose(ctx context.Context, peers []*store.Notification) (string, string) {
	if len(peers) == 1 {
		return peers[0].Subject, peers[0].Body
	}

	title := ""
	if peers[0].RequestID != nil {
		if req, err := s.store.GetRequest(ctx, *peers[0].RequestID); err == nil {
			title = req.Title
		}
	}

	subject := fmt.Sprintf("%d New Episodes", len(peers))
	if title != "" {
		subject = fmt.Sprintf("%d New Episodes: %s", len(peers), title)
	}

	var body strings.Builder
	if title != "" {
		body.WriteString(fmt.Sprintf("New episodes of %s are available:\n\n", title))
	} else {
		body.WriteString("New episodes are available:\n\n")
	}
	for _, p := range peers {
		body.WriteString(episodeLine(p.Body))
		body.WriteString("\n")
	}
	return subject, body.String()
}

// episodeLine pulls the episode detail line back out of a stored single
// notification body.
func episodeLine(body string) string {
	if i := strings.Index(body, "\n\n"); i >= 0 {
		return body[i+2:]
	}
	return body
}
