// Package summary produces the weekly activity digest for the admin.
package summary

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/notifyarr/notifyarr/internal/settings"
	"github.com/notifyarr/notifyarr/internal/store"
)

const period = 7 * 24 * time.Hour

// Service builds the weekly summary notification.
type Service struct {
	store    *store.Store
	settings *settings.Service
	logger   zerolog.Logger
}

// New creates a summary service.
func New(st *store.Store, set *settings.Service, logger zerolog.Logger) *Service {
	return &Service{
		store:    st,
		settings: set,
		logger:   logger.With().Str("component", "summary").Logger(),
	}
}

// RunCycle queues one admin digest covering the last seven days. The
// dispatcher delivers it like any other admin notification.
func (s *Service) RunCycle(ctx context.Context) error {
	if !s.settings.Enabled(ctx, settings.KeySummaryEnabled) {
		return nil
	}

	now := time.Now().UTC()
	since := now.Add(-period)

	sent, err := s.store.ListSentBetween(ctx, since, now)
	if err != nil {
		return fmt.Errorf("list sent notifications: %w", err)
	}
	if len(sent) == 0 {
		// A quiet week sends no digest.
		s.logger.Info().Msg("No notifications sent this period, summary skipped")
		return nil
	}

	byKind := make(map[store.NotificationKind]int)
	for _, n := range sent {
		byKind[n.Kind]++
	}

	openIssues, err := s.store.CountIssues(ctx, store.IssueOpen)
	if err != nil {
		return err
	}
	totalRequests, err := s.store.CountRequests(ctx, "")
	if err != nil {
		return err
	}
	totalUsers, err := s.store.CountUsers(ctx)
	if err != nil {
		return err
	}

	body := s.composeBody(since, now, len(sent), byKind, openIssues, totalRequests, totalUsers)

	_, err = s.store.CreateNotification(ctx, store.CreateNotificationParams{
		Kind:    store.KindWeeklySummary,
		Subject: fmt.Sprintf("Weekly Summary: %d notifications sent", len(sent)),
		Body:    body,
	})
	if err != nil {
		return fmt.Errorf("queue weekly summary: %w", err)
	}

	s.logger.Info().Int("sent", len(sent)).Msg("Weekly summary queued")
	return nil
}

func (s *Service) composeBody(since, until time.Time, total int, byKind map[store.NotificationKind]int, openIssues, requests, users int64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Activity from %s to %s.\n\n", since.Format("Jan 2"), until.Format("Jan 2"))
	fmt.Fprintf(&b, "Notifications sent: %d\n", total)

	kinds := make([]string, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(&b, "  %s: %d\n", k, byKind[store.NotificationKind(k)])
	}

	fmt.Fprintf(&b, "\nOpen issues: %d\n", openIssues)
	fmt.Fprintf(&b, "Tracked requests: %d\n", requests)
	fmt.Fprintf(&b, "Known users: %d\n", users)
	return b.String()
}
