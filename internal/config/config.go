// Package config centralises configuration for the fitsync CLI and server:
// a YAML file under the user config dir, overridable per-value through
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	configDirName  = "fitsync"
	configFileName = "config.yaml"
	configDirPerm  = 0755
	configFilePerm = 0644
)

// Duration wraps time.Duration so YAML files can use "30s" / "5m" notation.
type Duration time.Duration

// UnmarshalYAML parses Go duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration in Go notation.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds everything the client and server need at startup.
type Config struct {
	ServerURL     string `yaml:"server_url" validate:"required,url"`
	ClientDBPath  string `yaml:"client_db_path" validate:"required"`
	ServerDBPath  string `yaml:"server_db_path" validate:"required"`
	ListenAddress string `yaml:"listen_address" validate:"required"`

	SyncInterval   Duration `yaml:"sync_interval"`
	MaxAttempts    int      `yaml:"max_attempts" validate:"min=1"`
	BackoffBase    Duration `yaml:"backoff_base"`
	RetainSynced   int      `yaml:"retain_synced" validate:"min=0"`
	PruneThreshold int      `yaml:"prune_threshold" validate:"min=0"`
}

// Default returns the configuration used when no file exists yet.
func Default() Config {
	dataDir := defaultDataDir()
	return Config{
		ServerURL:      "http://localhost:8080",
		ClientDBPath:   filepath.Join(dataDir, "client.db"),
		ServerDBPath:   filepath.Join(dataDir, "server.db"),
		ListenAddress:  ":8080",
		SyncInterval:   Duration(30 * time.Second),
		MaxAttempts:    10,
		BackoffBase:    Duration(time.Second),
		RetainSynced:   50,
		PruneThreshold: 100,
	}
}

// DefaultPath returns the standard config file location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, configDirName, configFileName)
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, configDirName)
}

// Load reads the YAML file at path (DefaultPath when empty), applies
// environment overrides, and validates the result. A missing file is not an
// error; defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes the config as YAML, creating the directory if needed.
func Save(cfg Config, path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), configDirPerm); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, configFilePerm)
}

// Validate checks the struct tags and reports the first offending field.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("config: invalid %s (%s)", verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("config: %w", err)
	}
	if c.SyncInterval.Std() < time.Second {
		return fmt.Errorf("config: sync_interval %s is below 1s", c.SyncInterval.Std())
	}
	if c.BackoffBase.Std() < 100*time.Millisecond {
		return fmt.Errorf("config: backoff_base %s is below 100ms", c.BackoffBase.Std())
	}
	if c.RetainSynced > c.PruneThreshold {
		return fmt.Errorf("config: retain_synced (%d) exceeds prune_threshold (%d)", c.RetainSynced, c.PruneThreshold)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.ServerURL = getEnv("FITSYNC_SERVER_URL", cfg.ServerURL)
	cfg.ClientDBPath = getEnv("FITSYNC_CLIENT_DB", cfg.ClientDBPath)
	cfg.ServerDBPath = getEnv("FITSYNC_SERVER_DB", cfg.ServerDBPath)
	cfg.ListenAddress = getEnv("FITSYNC_LISTEN_ADDRESS", cfg.ListenAddress)
	cfg.SyncInterval = Duration(getDurationEnv("FITSYNC_SYNC_INTERVAL", cfg.SyncInterval.Std()))
	cfg.MaxAttempts = getIntEnv("FITSYNC_MAX_ATTEMPTS", cfg.MaxAttempts)
	cfg.BackoffBase = Duration(getDurationEnv("FITSYNC_BACKOFF_BASE", cfg.BackoffBase.Std()))
	cfg.RetainSynced = getIntEnv("FITSYNC_RETAIN_SYNCED", cfg.RetainSynced)
	cfg.PruneThreshold = getIntEnv("FITSYNC_PRUNE_THRESHOLD", cfg.PruneThreshold)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
