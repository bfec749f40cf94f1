package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Version is the application version, set at build time.
var Version = "dev"

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Seerr       SeerrConfig       `mapstructure:"seerr"`
	Sonarr      ArrConfig         `mapstructure:"sonarr"`
	Radarr      ArrConfig         `mapstructure:"radarr"`
	MediaServer MediaServerConfig `mapstructure:"mediaserver"`
	SMTP        SMTPConfig        `mapstructure:"smtp"`
	Workers     WorkersConfig     `mapstructure:"workers"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// SeerrConfig holds request-tracking service configuration.
type SeerrConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

// ArrConfig holds configuration for one download automation service.
type ArrConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

// MediaServerConfig holds media server (availability check) configuration.
// Optional: when URL is empty, availability checks are skipped.
type MediaServerConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

// SMTPConfig holds outbound email configuration.
type SMTPConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	From       string `mapstructure:"from"`
	Encryption string `mapstructure:"encryption"` // "preferred", "always", "never"
	AdminEmail string `mapstructure:"admin_email"`
}

// WorkersConfig tunes the background workers. Values here are startup
// defaults; flags that admins can flip at runtime (enable switches, issue
// auto-fix mode) are re-read from the settings table each cycle.
type WorkersConfig struct {
	// Batching state machine for grouped episode delivery.
	BatchInitialDelay  time.Duration `mapstructure:"batch_initial_delay"`
	BatchExtendDelay   time.Duration `mapstructure:"batch_extend_delay"`
	BatchMaxWait       time.Duration `mapstructure:"batch_max_wait"`
	BatchCheckInterval time.Duration `mapstructure:"batch_check_interval"`

	// Quality/release monitor.
	QualityInterval      time.Duration `mapstructure:"quality_interval"`
	PostRequestDelay     time.Duration `mapstructure:"post_request_delay"`
	QualityWaitingDelay  time.Duration `mapstructure:"quality_waiting_delay"`
	ComingSoonResendAge  time.Duration `mapstructure:"coming_soon_resend_age"`
	QualityWaitResendAge time.Duration `mapstructure:"quality_wait_resend_age"`

	// Stuck download detector.
	StuckInterval   time.Duration `mapstructure:"stuck_interval"`
	StuckQueueAge   time.Duration `mapstructure:"stuck_queue_age"`
	StuckAlertReset time.Duration `mapstructure:"stuck_alert_reset"`

	// Reconciliation sweep.
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	IssueExpiryAge    time.Duration `mapstructure:"issue_expiry_age"`

	// Notification dispatcher.
	DispatchInterval time.Duration `mapstructure:"dispatch_interval"`

	// Issue auto-fix mode: "manual", "auto", or "auto_notify".
	IssueFixMode string `mapstructure:"issue_fix_mode"`
}

// Default returns a Config with default values.
func Default() *Config {
	cfg := &Config{}
	v := viper.New()
	setDefaults(v)
	_ = v.Unmarshal(cfg)
	return cfg
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > config file > defaults
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.notifyarr")
	}

	v.SetEnvPrefix("NOTIFYARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, using defaults + env vars
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values in viper
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8484)

	v.SetDefault("database.path", "./data/notifyarr.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.compress", true)

	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.encryption", "preferred")

	v.SetDefault("workers.batch_initial_delay", 7*time.Minute)
	v.SetDefault("workers.batch_extend_delay", 3*time.Minute)
	v.SetDefault("workers.batch_max_wait", 15*time.Minute)
	v.SetDefault("workers.batch_check_interval", time.Minute)

	v.SetDefault("workers.quality_interval", 24*time.Hour)
	v.SetDefault("workers.post_request_delay", 10*time.Second)
	v.SetDefault("workers.quality_waiting_delay", 5*time.Minute)
	v.SetDefault("workers.coming_soon_resend_age", 30*24*time.Hour)
	v.SetDefault("workers.quality_wait_resend_age", 7*24*time.Hour)

	v.SetDefault("workers.stuck_interval", 30*time.Minute)
	v.SetDefault("workers.stuck_queue_age", 4*time.Hour)
	v.SetDefault("workers.stuck_alert_reset", 24*time.Hour)

	v.SetDefault("workers.reconcile_interval", 2*time.Hour)
	v.SetDefault("workers.issue_expiry_age", 14*24*time.Hour)

	v.SetDefault("workers.dispatch_interval", 30*time.Second)

	v.SetDefault("workers.issue_fix_mode", "manual")
}

// Validate checks that the required external service credentials are set.
// Missing optional services (media server) are not an error.
func (c *Config) Validate() error {
	if c.Seerr.URL == "" || c.Seerr.APIKey == "" {
		return fmt.Errorf("seerr.url and seerr.api_key are required")
	}
	if c.Sonarr.URL == "" || c.Sonarr.APIKey == "" {
		return fmt.Errorf("sonarr.url and sonarr.api_key are required")
	}
	if c.Radarr.URL == "" || c.Radarr.APIKey == "" {
		return fmt.Errorf("radarr.url and radarr.api_key are required")
	}
	if c.SMTP.Host == "" || c.SMTP.From == "" {
		return fmt.Errorf("smtp.host and smtp.from are required")
	}
	return nil
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
