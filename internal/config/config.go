package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	envBaseURL          = "FS_BASE_URL"
	envManifestPath     = "FS_MANIFEST_PATH"
	envEntryPath        = "FS_ENTRY_PATH"
	envEntryURL         = "FS_ENTRY_URL"
	envCheckInterval    = "FS_CHECK_INTERVAL"
	envFetchTimeout     = "FS_FETCH_TIMEOUT"
	envStartDelay       = "FS_START_DELAY"
	envShowNotification = "FS_SHOW_NOTIFICATION"
	envAutoRefresh      = "FS_AUTO_REFRESH"
	envAutoRefreshDelay = "FS_AUTO_REFRESH_DELAY"
	envReloadCommand    = "FS_RELOAD_COMMAND"
	envInteractive      = "FS_INTERACTIVE"
	envSlackWebhookURL  = "FS_SLACK_WEBHOOK_URL"
	envWebhookURL       = "FS_WEBHOOK_URL"
	envWebhookTemplate  = "FS_WEBHOOK_TEMPLATE"
	envDryRun           = "FS_DRY_RUN"
	envTargetsFile      = "FS_TARGETS_FILE"
	envLogLevel         = "FS_LOG_LEVEL"
	envLogFile          = "FS_LOG_FILE"
	envHealthPort       = "FS_HEALTH_PORT"
	envMetricsPort      = "FS_METRICS_PORT"
)

const (
	defaultManifestPath     = "/version.json"
	defaultCheckInterval    = 5 * time.Minute
	defaultFetchTimeout     = 10 * time.Second
	defaultStartDelay       = 2 * time.Second
	defaultAutoRefreshDelay = 10 * time.Second
	defaultLogLevel         = "info"
	defaultHealthPort       = 8080
)

// Config describes runtime configuration loaded from the environment. The
// single-target fields double as defaults for entries of the targets file.
type Config struct {
	BaseURL          string
	ManifestPath     string
	EntryPath        string
	EntryURL         string
	CheckInterval    time.Duration
	FetchTimeout     time.Duration
	StartDelay       time.Duration
	ShowNotification bool
	AutoRefresh      bool
	AutoRefreshDelay time.Duration
	ReloadCommand    string
	Interactive      bool

	SlackWebhookURL string
	WebhookURL      string
	WebhookTemplate string
	DryRun          bool

	TargetsFile string
	LogLevel    string
	LogFile     string
	HealthPort  int
	// MetricsPort of 0 serves /metrics on the health port.
	MetricsPort int
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		ManifestPath:     defaultManifestPath,
		CheckInterval:    defaultCheckInterval,
		FetchTimeout:     defaultFetchTimeout,
		StartDelay:       defaultStartDelay,
		ShowNotification: true,
		AutoRefreshDelay: defaultAutoRefreshDelay,
		LogLevel:         defaultLogLevel,
		HealthPort:       defaultHealthPort,
	}
}

// Load reads configuration from environment variables and a local .env file if present.
// Existing environment variables take precedence over values in .env.
func Load() (Config, error) {
	cfg, err := LoadUnvalidated()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadUnvalidated parses the environment without requiring a target, for
// commands such as stamp that need only the ambient settings.
func LoadUnvalidated() (Config, error) {
	if err := loadDotEnvIfPresent(".env"); err != nil {
		return Config{}, err
	}

	cfg := Default()

	lookupString(envBaseURL, &cfg.BaseURL)
	lookupString(envManifestPath, &cfg.ManifestPath)
	lookupString(envEntryPath, &cfg.EntryPath)
	lookupString(envEntryURL, &cfg.EntryURL)
	lookupString(envReloadCommand, &cfg.ReloadCommand)
	lookupString(envSlackWebhookURL, &cfg.SlackWebhookURL)
	lookupString(envWebhookURL, &cfg.WebhookURL)
	lookupString(envWebhookTemplate, &cfg.WebhookTemplate)
	lookupString(envTargetsFile, &cfg.TargetsFile)
	lookupString(envLogLevel, &cfg.LogLevel)
	lookupString(envLogFile, &cfg.LogFile)

	durations := []struct {
		key   string
		dst   *time.Duration
		allow func(time.Duration) bool
		rule  string
	}{
		{envCheckInterval, &cfg.CheckInterval, positive, "greater than zero"},
		{envFetchTimeout, &cfg.FetchTimeout, positive, "greater than zero"},
		{envStartDelay, &cfg.StartDelay, nonNegative, "non-negative"},
		{envAutoRefreshDelay, &cfg.AutoRefreshDelay, nonNegative, "non-negative"},
	}
	for _, d := range durations {
		if err := lookupDuration(d.key, d.dst, d.allow, d.rule); err != nil {
			return Config{}, err
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{envShowNotification, &cfg.ShowNotification},
		{envAutoRefresh, &cfg.AutoRefresh},
		{envInteractive, &cfg.Interactive},
		{envDryRun, &cfg.DryRun},
	}
	for _, b := range bools {
		if err := lookupBool(b.key, b.dst); err != nil {
			return Config{}, err
		}
	}

	if err := lookupPort(envHealthPort, &cfg.HealthPort); err != nil {
		return Config{}, err
	}
	if err := lookupPort(envMetricsPort, &cfg.MetricsPort); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the settings needed to watch targets.
func (c Config) Validate() error {
	if c.BaseURL == "" && c.TargetsFile == "" {
		return fmt.Errorf("%s or %s is required", envBaseURL, envTargetsFile)
	}
	if c.BaseURL != "" {
		if err := validateURL(c.BaseURL, envBaseURL); err != nil {
			return err
		}
	}
	if c.EntryURL != "" {
		if err := validateURL(c.EntryURL, envEntryURL); err != nil {
			return err
		}
	}
	if c.EntryPath != "" && c.EntryURL != "" {
		return fmt.Errorf("%s and %s are mutually exclusive", envEntryPath, envEntryURL)
	}
	if c.SlackWebhookURL != "" {
		if err := validateURL(c.SlackWebhookURL, envSlackWebhookURL); err != nil {
			return err
		}
	}
	if c.WebhookURL != "" {
		if err := validateURL(c.WebhookURL, envWebhookURL); err != nil {
			return err
		}
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("%s must be positive", envCheckInterval)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("%s must be positive", envFetchTimeout)
	}
	if c.MetricsPort != 0 && c.MetricsPort == c.HealthPort {
		return fmt.Errorf("%s must differ from %s", envMetricsPort, envHealthPort)
	}
	return nil
}

func lookupTrimmed(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(value), true
}

func lookupString(key string, dst *string) {
	if value, ok := lookupTrimmed(key); ok && value != "" {
		*dst = value
	}
}

func lookupDuration(key string, dst *time.Duration, allow func(time.Duration) bool, rule string) error {
	value, ok := lookupTrimmed(key)
	if !ok || value == "" {
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	if !allow(parsed) {
		return fmt.Errorf("%s must be %s", key, rule)
	}
	*dst = parsed
	return nil
}

func lookupBool(key string, dst *bool) error {
	value, ok := lookupTrimmed(key)
	if !ok || value == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func lookupPort(key string, dst *int) error {
	value, ok := lookupTrimmed(key)
	if !ok || value == "" {
		return nil
	}
	port, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	if port < 0 || port > 65535 {
		return fmt.Errorf("%s must be between 0 and 65535", key)
	}
	*dst = port
	return nil
}

func positive(d time.Duration) bool    { return d > 0 }
func nonNegative(d time.Duration) bool { return d >= 0 }

func loadDotEnvIfPresent(path string) error {
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, os.ErrNotExist) {
		return nil
	}

	return err
}

func validateURL(value, name string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid %s: must include scheme and host", name)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid %s: scheme must be http or https", name)
	}
	return nil
}
