// Package settings exposes runtime-tunable flags stored in the database.
// Workers re-read these each cycle so admins can flip them without a
// restart. Config file values act as fallbacks.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/notifyarr/notifyarr/internal/config"
	"github.com/notifyarr/notifyarr/internal/store"
)

// Known setting keys.
const (
	KeyIssueFixMode     = "issue_fix_mode"
	KeyAdminEmail       = "admin_email"
	KeyBatchingEnabled  = "batching_enabled"
	KeyQualityEnabled   = "quality_monitor_enabled"
	KeyStuckEnabled     = "stuck_monitor_enabled"
	KeyReconcileEnabled = "reconciliation_enabled"
	KeySummaryEnabled   = "weekly_summary_enabled"
)

// Issue auto-fix modes.
const (
	FixModeManual     = "manual"
	FixModeAuto       = "auto"
	FixModeAutoNotify = "auto_notify"
)

// Service reads and writes runtime settings.
type Service struct {
	store *store.Store
	cfg   *config.Config
}

// New creates a settings service.
func New(st *store.Store, cfg *config.Config) *Service {
	return &Service{store: st, cfg: cfg}
}

// IssueFixMode returns the current issue auto-fix mode.
func (s *Service) IssueFixMode(ctx context.Context) string {
	v, err := s.store.GetSetting(ctx, KeyIssueFixMode)
	if err != nil {
		return s.cfg.Workers.IssueFixMode
	}
	return v
}

// AdminEmail returns the address operational alerts go to.
func (s *Service) AdminEmail(ctx context.Context) string {
	v, err := s.store.GetSetting(ctx, KeyAdminEmail)
	if err != nil {
		return s.cfg.SMTP.AdminEmail
	}
	return v
}

// Enabled reports whether a worker enable flag is set. Flags default to
// enabled when absent.
func (s *Service) Enabled(ctx context.Context, key string) bool {
	v, err := s.store.GetSetting(ctx, key)
	if err != nil {
		return true
	}
	enabled, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return enabled
}

// Set validates and stores a setting.
func (s *Service) Set(ctx context.Context, key, value string) error {
	switch key {
	case KeyIssueFixMode:
		if value != FixModeManual && value != FixModeAuto && value != FixModeAutoNotify {
			return fmt.Errorf("invalid issue fix mode %q", value)
		}
	case KeyBatchingEnabled, KeyQualityEnabled, KeyStuckEnabled, KeyReconcileEnabled, KeySummaryEnabled:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("setting %q requires a boolean value: %w", key, err)
		}
	case KeyAdminEmail:
		// Free-form; empty clears the override.
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return s.store.SetSetting(ctx, key, value)
}

// Get returns a single setting value, falling back to config defaults for
// the keys that have them.
func (s *Service) Get(ctx context.Context, key string) (string, error) {
	v, err := s.store.GetSetting(ctx, key)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	switch key {
	case KeyIssueFixMode:
		return s.cfg.Workers.IssueFixMode, nil
	case KeyAdminEmail:
		return s.cfg.SMTP.AdminEmail, nil
	case KeyBatchingEnabled, KeyQualityEnabled, KeyStuckEnabled, KeyReconcileEnabled, KeySummaryEnabled:
		return "true", nil
	}
	return "", err
}

// All returns every stored setting merged over the config-derived defaults.
func (s *Service) All(ctx context.Context) (map[string]string, error) {
	merged := map[string]string{
		KeyIssueFixMode:     s.cfg.Workers.IssueFixMode,
		KeyAdminEmail:       s.cfg.SMTP.AdminEmail,
		KeyBatchingEnabled:  "true",
		KeyQualityEnabled:   "true",
		KeyStuckEnabled:     "true",
		KeyReconcileEnabled: "true",
		KeySummaryEnabled:   "true",
	}
	stored, err := s.store.ListSettings(ctx)
	if err != nil {
		return nil, err
	}
	for k, v := range stored {
		merged[k] = v
	}
	return merged, nil
}
