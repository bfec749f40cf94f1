// Package dispatch drains due notifications and hands them to the email
// transport. Episode notifications are excluded; those are released by the
// batching worker so grouped delivery stays atomic.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/notifyarr/notifyarr/internal/mailer"
	"github.com/notifyarr/notifyarr/internal/settings"
	"github.com/notifyarr/notifyarr/internal/store"
)

// Service is the notification dispatcher.
type Service struct {
	store    *store.Store
	mailer   mailer.Sender
	settings *settings.Service
	logger   zerolog.Logger
}

// New creates a dispatcher.
func New(st *store.Store, sender mailer.Sender, set *settings.Service, logger zerolog.Logger) *Service {
	return &Service{
		store:    st,
		mailer:   sender,
		settings: set,
		logger:   logger.With().Str("component", "dispatch").Logger(),
	}
}

// RunCycle sends every due, un-sent, non-cancelled notification. A
// delivery failure keeps the row un-sent with the error recorded; it is
// retried on the next cycle.
func (s *Service) RunCycle(ctx context.Context) error {
	now := time.Now().UTC()
	due, err := s.store.ListDue(ctx, now)
	if err != nil {
		return fmt.Errorf("list due notifications: %w", err)
	}

	var sent, failed int
	for _, n := range due {
		if n.Kind == store.KindEpisode {
			continue
		}
		if err := s.dispatch(ctx, n, now); err != nil {
			failed++
			s.logger.Error().Err(err).Int64("id", n.ID).Str("kind", string(n.Kind)).Msg("Dispatch failed")
			continue
		}
		sent++
	}

	if sent > 0 || failed > 0 {
		s.logger.Info().Int("sent", sent).Int("failed", failed).Msg("Dispatch cycle done")
	}
	return nil
}

// Dispatch sends one notification immediately, regardless of send_after.
// Used by the admin resend operation.
func (s *Service) Dispatch(ctx context.Context, id int64) error {
	n, err := s.store.GetNotification(ctx, id)
	if err != nil {
		return err
	}
	if n.Sent || n.Cancelled {
		return fmt.Errorf("notification %d is already in a terminal state", id)
	}
	return s.dispatch(ctx, n, time.Now().UTC())
}

func (s *Service) dispatch(ctx context.Context, n *store.Notification, now time.Time) error {
	to, err := s.recipient(ctx, n)
	if err != nil {
		return err
	}
	if to == "" {
		// No admin address configured; leave the row pending.
		return fmt.Errorf("no recipient for notification %d", n.ID)
	}

	if err := s.mailer.Send(ctx, []string{to}, n.Subject, n.Body); err != nil {
		if serr := s.store.SetNotificationError(ctx, n.ID, err.Error()); serr != nil {
			s.logger.Error().Err(serr).Int64("id", n.ID).Msg("Recording delivery error failed")
		}
		return err
	}

	return s.store.MarkSent(ctx, n.ID, now)
}

func (s *Service) recipient(ctx context.Context, n *store.Notification) (string, error) {
	if n.UserID == nil {
		return s.settings.AdminEmail(ctx), nil
	}
	user, err := s.store.GetUser(ctx, *n.UserID)
	if err != nil {
		return "", err
	}
	return user.Email, nil
}
