package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	appLog "taskline/internal/log"
)

const (
	defaultListen       = "127.0.0.1:8080"
	defaultDataDir      = "./var"
	defaultRefreshCron  = "*/30 * * * *"
	defaultDigestCron   = "0 7 * * *"
	defaultMaxInstances = 5000
	defaultHorizonDays  = 90
)

// FeedConfig describes a subscribed iCalendar feed whose events are imported
// as tasks.
type FeedConfig struct {
	// ID is used for logging and as the import tag.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
	// URL is the feed endpoint, or a local file path.
	URL string `yaml:"url" json:"url"`
	// Type is assigned to imported tasks. Empty means personal.
	Type string `yaml:"type,omitempty" json:"type,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone tasks are planned in (e.g. "Europe/Berlin").
	// Empty means the host's local zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// DataDir holds tasks.json and the feed cache.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// RefreshCron is the standard 5-field cron schedule for feed imports.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// DigestCron is the schedule of the daily agenda log line.
	DigestCron string `yaml:"digest" json:"digest"`

	// MaxInstances caps how many instances one template may expand into.
	MaxInstances int `yaml:"max_instances" json:"max_instances"`

	// HorizonDays bounds open-ended feed rules.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	Feeds []FeedConfig `yaml:"feeds" json:"feeds"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:       defaultListen,
		DataDir:      defaultDataDir,
		LogLevel:     "info",
		RefreshCron:  defaultRefreshCron,
		DigestCron:   defaultDigestCron,
		MaxInstances: defaultMaxInstances,
		HorizonDays:  defaultHorizonDays,
		Feeds:        []FeedConfig{},
	}
}

// Normalize fills in missing or zero values so partially-filled files still
// behave.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.DataDir == "" {
		c.DataDir = defaultDataDir
	}
	c.LogLevel = strings.ToLower(string(appLog.ParseLevel(c.LogLevel)))
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.DigestCron == "" {
		c.DigestCron = defaultDigestCron
	}
	if c.MaxInstances <= 0 {
		c.MaxInstances = defaultMaxInstances
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = defaultHorizonDays
	}
	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}
	for i := range c.Feeds {
		if c.Feeds[i].ID == "" {
			c.Feeds[i].ID = fmt.Sprintf("feed-%d", i+1)
		}
	}
}

// Validate reports settings that Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		errs = append(errs, fmt.Errorf("refresh %q: %w", c.RefreshCron, err))
	}
	if _, err := cron.ParseStandard(c.DigestCron); err != nil {
		errs = append(errs, fmt.Errorf("digest %q: %w", c.DigestCron, err))
	}
	seen := make(map[string]bool, len(c.Feeds))
	for _, f := range c.Feeds {
		if f.URL == "" {
			errs = append(errs, fmt.Errorf("feed %s: url is empty", f.ID))
		}
		if seen[f.ID] {
			errs = append(errs, fmt.Errorf("feed %s: duplicate id", f.ID))
		}
		seen[f.ID] = true
	}
	if c.BasicAuth != nil && (c.BasicAuth.Username == "" || c.BasicAuth.Password == "") {
		errs = append(errs, errors.New("basic_auth needs both username and password"))
	}
	return errors.Join(errs...)
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// FeedCacheDir is where fetched feed bodies are kept.
func (c *Config) FeedCacheDir() string {
	return filepath.Join(c.DataDir, "feed-cache")
}

// Load loads configuration from the given YAML path.
//
// A missing file is created with defaults (0600) and the defaults are
// returned. An existing file is unmarshalled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Caller decides whether running on unsaved defaults is fine.
				return cfg, err
			}
			appLog.Info("default config written", "path", path)
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".taskline-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
