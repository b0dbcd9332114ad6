package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Environment variables that override secrets kept out of the YAML file.
const (
	EnvTelegramToken = "HWPLANNER_TELEGRAM_TOKEN"
	EnvDatabaseURL   = "HWPLANNER_DATABASE_URL"
)

const (
	defaultListen          = "127.0.0.1:8080"
	defaultTimezone        = "Europe/Moscow"
	defaultLogLevel        = "info"
	defaultMaxLessons      = 10
	defaultHorizonDays     = 14
	defaultMaintenanceCron = "0 19 * * *"
	defaultSessionTTL      = 30
	defaultStorageDir      = "./data/users"
)

// StorageConfig selects where users are persisted.
type StorageConfig struct {
	Backend string `yaml:"backend" json:"backend" validate:"oneof=file postgres memory"`
	// Dir holds one YAML file per user for the file backend.
	Dir string `yaml:"dir" json:"dir" validate:"required_if=Backend file"`
	// DatabaseURL is a PostgreSQL DSN for the postgres backend.
	DatabaseURL string `yaml:"database_url,omitempty" json:"-" validate:"required_if=Backend postgres"`
}

// TelegramConfig controls the bot front end.
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Token   string `yaml:"token,omitempty" json:"-" validate:"required_if=Enabled true"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username" validate:"required"`
	Password string `yaml:"password" json:"-" validate:"required"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen" validate:"required,hostname_port"`

	// Timezone is the IANA zone that decides what "today" is.
	Timezone string `yaml:"timezone" json:"timezone" validate:"required,timezone"`

	LogLevel string `yaml:"log_level" json:"log_level" validate:"oneof=debug info warn error"`

	// MaxLessons is the number of lesson slots per day in imported timetables.
	MaxLessons int `yaml:"max_lessons" json:"max_lessons" validate:"min=1,max=20"`

	// HorizonDays bounds the next-lesson search for deadlines.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days" validate:"min=1,max=366"`

	// MaintenanceCron is the schedule of the daily prune and reminder run,
	// evaluated in Timezone.
	MaintenanceCron string `yaml:"maintenance_cron" json:"maintenance_cron" validate:"required"`

	// SessionTTLMinutes evicts idle conversations.
	SessionTTLMinutes int `yaml:"session_ttl_minutes" json:"session_ttl_minutes" validate:"min=1"`

	// ShowEmptySlots keeps numbered lines for free slots in day views.
	ShowEmptySlots bool `yaml:"show_empty_slots" json:"show_empty_slots"`

	Storage  StorageConfig  `yaml:"storage" json:"storage"`
	Telegram TelegramConfig `yaml:"telegram" json:"telegram"`

	// BasicAuth, if non-nil, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty" validate:"omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:            defaultListen,
		Timezone:          defaultTimezone,
		LogLevel:          defaultLogLevel,
		MaxLessons:        defaultMaxLessons,
		HorizonDays:       defaultHorizonDays,
		MaintenanceCron:   defaultMaintenanceCron,
		SessionTTLMinutes: defaultSessionTTL,
		Storage: StorageConfig{
			Backend: BackendFile,
			Dir:     defaultStorageDir,
		},
	}
}

// Normalize fills in missing/zero values so that partially-filled configs
// still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.MaxLessons <= 0 {
		c.MaxLessons = defaultMaxLessons
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = defaultHorizonDays
	}
	if c.MaintenanceCron == "" {
		c.MaintenanceCron = defaultMaintenanceCron
	}
	if c.SessionTTLMinutes <= 0 {
		c.SessionTTLMinutes = defaultSessionTTL
	}
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendFile
	}
	if c.Storage.Backend == BackendFile && c.Storage.Dir == "" {
		c.Storage.Dir = defaultStorageDir
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints after Normalize.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if c.Timezone != "" {
		if loc, err := time.LoadLocation(c.Timezone); err == nil {
			return loc
		}
	}
	return time.Local
}

// SessionTTL is SessionTTLMinutes as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

// ApplyEnv loads envFile (when present) into the process environment and
// copies secret overrides into c. Variables already set in the environment
// win over the file.
func (c *Config) ApplyEnv(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if v := os.Getenv(EnvTelegramToken); v != "" {
		c.Telegram.Token = v
		c.Telegram.Enabled = true
	}
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		c.Storage.DatabaseURL = v
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
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

// Save writes cfg to path atomically (temp file + rename) with 0600 perms.
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

	tmp, err := os.CreateTemp(dir, ".hwplanner-config-*.tmp")
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
