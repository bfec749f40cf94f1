// Package maintenance owns the maintenance window lifecycle and the gate
// consulted by every other periodic worker.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/notifyarr/notifyarr/internal/mailer"
	"github.com/notifyarr/notifyarr/internal/settings"
	"github.com/notifyarr/notifyarr/internal/store"
)

// reminderLead is how long before the start time the reminder email goes
// out.
const reminderLead = time.Hour

// Service manages maintenance windows.
type Service struct {
	store    *store.Store
	mailer   mailer.Sender
	settings *settings.Service
	logger   zerolog.Logger
}

// New creates a maintenance service.
func New(st *store.Store, sender mailer.Sender, set *settings.Service, logger zerolog.Logger) *Service {
	return &Service{
		store:    st,
		mailer:   sender,
		settings: set,
		logger:   logger.With().Str("component", "maintenance").Logger(),
	}
}

// Gate reports whether background workers should suspend this cycle. The
// state is derived at call time: any active window, or a scheduled one
// whose start has passed, suppresses the workers. A store error fails
// open; suppressing all workers forever on a broken query would be worse
// than a few cycles of noise.
func (s *Service) Gate(ctx context.Context) bool {
	active, err := s.store.MaintenanceActive(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error().Err(err).Msg("Maintenance check failed")
		return false
	}
	return active
}

// Create schedules a window and immediately sends its announcement.
func (s *Service) Create(ctx context.Context, title string, description *string, start, end time.Time) (*store.MaintenanceWindow, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("window end must be after start")
	}
	w, err := s.store.CreateWindow(ctx, title, description, start, end)
	if err != nil {
		return nil, err
	}
	s.sendOnce(ctx, w, store.MarkerAnnouncement,
		fmt.Sprintf("Scheduled Maintenance: %s", w.Title),
		s.windowBody(w, "Maintenance has been scheduled."))
	return s.store.GetWindow(ctx, w.ID)
}

// Update rewrites a scheduled window. Windows that already started cannot
// be rescheduled.
func (s *Service) Update(ctx context.Context, id int64, title string, description *string, start, end time.Time) (*store.MaintenanceWindow, error) {
	w, err := s.store.GetWindow(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.Status != store.WindowScheduled {
		return nil, fmt.Errorf("only scheduled windows can be updated")
	}
	if !end.After(start) {
		return nil, fmt.Errorf("window end must be after start")
	}
	if err := s.store.UpdateWindow(ctx, id, title, description, start, end); err != nil {
		return nil, err
	}
	return s.store.GetWindow(ctx, id)
}

// Complete ends a window early (or confirms its natural end) and sends the
// completion email once.
func (s *Service) Complete(ctx context.Context, id int64) error {
	w, err := s.store.GetWindow(ctx, id)
	if err != nil {
		return err
	}
	if w.Status == store.WindowCompleted || w.Status == store.WindowCancelled {
		return fmt.Errorf("window %d is already finished", id)
	}
	if err := s.store.SetWindowStatus(ctx, id, store.WindowCompleted); err != nil {
		return err
	}
	s.sendOnce(ctx, w, store.MarkerCompletion,
		fmt.Sprintf("Maintenance Complete: %s", w.Title),
		"Maintenance is finished. Everything is back to normal, thanks for your patience.")
	return nil
}

// Cancel cancels a window and tells everyone it is off.
func (s *Service) Cancel(ctx context.Context, id int64) error {
	w, err := s.store.GetWindow(ctx, id)
	if err != nil {
		return err
	}
	if w.Status == store.WindowCompleted || w.Status == store.WindowCancelled {
		return fmt.Errorf("window %d is already finished", id)
	}
	if err := s.store.SetWindowStatus(ctx, id, store.WindowCancelled); err != nil {
		return err
	}
	s.broadcast(ctx,
		fmt.Sprintf("Maintenance Cancelled: %s", w.Title),
		s.windowBody(w, "The scheduled maintenance has been cancelled."))
	return nil
}

// Delete removes a window outright without emails.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.store.DeleteWindow(ctx, id)
}

// RunCycle is the lifecycle worker: scheduled -> active -> completed on
// time, with the single-fire announcement, reminder, and completion
// emails. This is the one worker that ignores the gate.
func (s *Service) RunCycle(ctx context.Context) error {
	windows, err := s.store.ListWindowsByStatus(ctx, store.WindowScheduled, store.WindowActive)
	if err != nil {
		return fmt.Errorf("list maintenance windows: %w", err)
	}

	now := time.Now().UTC()
	for _, w := range windows {
		switch w.Status {
		case store.WindowScheduled:
			if !w.AnnouncementSent {
				s.sendOnce(ctx, w, store.MarkerAnnouncement,
					fmt.Sprintf("Scheduled Maintenance: %s", w.Title),
					s.windowBody(w, "Maintenance has been scheduled."))
			}
			if !w.ReminderSent && w.StartTime.After(now) && w.StartTime.Sub(now) <= reminderLead {
				s.sendOnce(ctx, w, store.MarkerReminder,
					fmt.Sprintf("Maintenance Starting Soon: %s", w.Title),
					s.windowBody(w, "A reminder that maintenance starts within the hour."))
			}
			if !w.StartTime.After(now) {
				if err := s.store.SetWindowStatus(ctx, w.ID, store.WindowActive); err != nil {
					s.logger.Error().Err(err).Int64("windowId", w.ID).Msg("Window activation failed")
					continue
				}
				s.logger.Info().Int64("windowId", w.ID).Str("title", w.Title).Msg("Maintenance window active")
			}
		case store.WindowActive:
			if !w.EndTime.After(now) {
				if err := s.store.SetWindowStatus(ctx, w.ID, store.WindowCompleted); err != nil {
					s.logger.Error().Err(err).Int64("windowId", w.ID).Msg("Window completion failed")
					continue
				}
				s.sendOnce(ctx, w, store.MarkerCompletion,
					fmt.Sprintf("Maintenance Complete: %s", w.Title),
					"Maintenance is finished. Everything is back to normal, thanks for your patience.")
				s.logger.Info().Int64("windowId", w.ID).Str("title", w.Title).Msg("Maintenance window completed")
			}
		}
	}
	return nil
}

// sendOnce broadcasts a window lifecycle email exactly once. The marker
// update is the guard: whoever flips it first sends.
func (s *Service) sendOnce(ctx context.Context, w *store.MaintenanceWindow, marker store.WindowMarker, subject, body string) {
	if err := s.store.MarkWindowNotified(ctx, w.ID, marker); err != nil {
		return
	}
	s.broadcast(ctx, subject, body)
}

// broadcast emails every user plus the admin directly. Lifecycle emails
// bypass the notification pipeline: the dispatcher is suspended during the
// very windows these emails describe.
func (s *Service) broadcast(ctx context.Context, subject, body string) {
	users, err := s.store.ListAllUsers(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Broadcast recipient lookup failed")
		return
	}

	seen := make(map[string]bool)
	var to []string
	for _, u := range users {
		if u.Email != "" && !seen[u.Email] {
			seen[u.Email] = true
			to = append(to, u.Email)
		}
	}
	if admin := s.settings.AdminEmail(ctx); admin != "" && !seen[admin] {
		to = append(to, admin)
	}
	if len(to) == 0 {
		return
	}

	if err := s.mailer.Send(ctx, to, subject, body); err != nil {
		s.logger.Error().Err(err).Str("subject", subject).Msg("Broadcast failed")
		return
	}
	s.logger.Info().Str("subject", subject).Int("recipients", len(to)).Msg("Maintenance broadcast sent")
}

func (s *Service) windowBody(w *store.MaintenanceWindow, lead string) string {
	body := fmt.Sprintf("%s\n\n%s\nFrom: %s\nUntil: %s",
		lead, w.Title,
		w.StartTime.Format("Mon, Jan 2 2006 15:04 MST"),
		w.EndTime.Format("Mon, Jan 2 2006 15:04 MST"))
	if w.Description != nil && *w.Description != "" {
		body += "\n\n" + *w.Description
	}
	return body
}
