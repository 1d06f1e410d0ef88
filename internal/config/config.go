// Package config loads scanwatch settings from a YAML file and the environment.
//
// Precedence, lowest first: built-in defaults, the config file, SCANWATCH_*
// environment variables. Command-line flags are applied by the caller afterwards.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/ensigniasec/scanwatch/internal/api"
	"github.com/ensigniasec/scanwatch/internal/fetch"
	"github.com/ensigniasec/scanwatch/internal/storage"
	"github.com/ensigniasec/scanwatch/internal/validate"
)

// DefaultPath is read when --config is not given. A missing file there is not an error.
const DefaultPath = "~/.config/scanwatch/config.yaml"

// Transport selects how scan signals are received.
type Transport string

const (
	TransportStream Transport = "stream"
	TransportPoll   Transport = "poll"
)

// Endpoints overrides API paths; empty values keep the client defaults.
type Endpoints struct {
	QueuePosition string `yaml:"queue_position,omitempty" validate:"omitempty,startswith=/"`
	BotStatus     string `yaml:"bot_status,omitempty" validate:"omitempty,startswith=/"`
	OnlineUsers   string `yaml:"online_users,omitempty" validate:"omitempty,startswith=/"`
	ScanStatus    string `yaml:"scan_status,omitempty" validate:"omitempty,startswith=/"`
	ScanStream    string `yaml:"scan_stream,omitempty" validate:"omitempty,startswith=/"`
}

// Retry configures the per-request fetch retry loop.
type Retry struct {
	MaxRetries   int           `yaml:"max_retries" validate:"gte=0,lte=10"`
	InitialDelay time.Duration `yaml:"initial_delay" validate:"gte=0"`
	Timeout      time.Duration `yaml:"timeout" validate:"gt=0"`
	Jitter       float64       `yaml:"jitter" validate:"gte=0,lt=1"`
}

// Polling configures the schedulers.
type Polling struct {
	StatusInterval   time.Duration `yaml:"status_interval" validate:"gte=500ms"`
	PositionInterval time.Duration `yaml:"position_interval" validate:"gte=500ms"`
	QueueInterval    time.Duration `yaml:"queue_interval" validate:"gte=1s"`
	OnlineInterval   time.Duration `yaml:"online_interval" validate:"gte=1s"`
	// MaxRetries 0 turns auto-retry off; RetryDelay 0 retries at once.
	MaxRetries       int           `yaml:"max_retries" validate:"gte=0,lte=10"`
	RetryDelay       time.Duration `yaml:"retry_delay" validate:"gte=0"`
}

// Config is the merged configuration.
type Config struct {
	APIBaseURL  string    `yaml:"api_base_url" validate:"required,url"`
	Transport   Transport `yaml:"transport" validate:"oneof=stream poll"`
	LogLevel    string    `yaml:"log_level" validate:"oneof=trace debug info warn warning error"`
	StoragePath string    `yaml:"storage_path" validate:"required"`
	Endpoints   Endpoints `yaml:"endpoints"`
	Retry       Retry     `yaml:"retry"`
	Polling     Polling   `yaml:"polling"`
}

// Default returns the built-in configuration.
func Default() Config {
	f := fetch.DefaultOptions()
	return Config{
		APIBaseURL:  api.DefaultBaseURL,
		Transport:   TransportStream,
		LogLevel:    "info",
		StoragePath: storage.DefaultPath,
		Retry: Retry{
			MaxRetries:   f.MaxRetries,
			InitialDelay: f.InitialDelay,
			Timeout:      f.Timeout,
			Jitter:       f.Jitter,
		},
		Polling: Polling{
			StatusInterval:   3 * time.Second,
			PositionInterval: 5 * time.Second,
			QueueInterval:    30 * time.Second,
			OnlineInterval:   30 * time.Second,
			MaxRetries:       3,
			RetryDelay:       5 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, the file at path and the environment.
// An empty path means DefaultPath, which may be absent.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	expanded, err := expandTilde(path)
	if err != nil {
		return cfg, err
	}
	if err := loadFile(expanded, &cfg); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			logrus.WithField("path", expanded).Debug("no config file, using defaults")
		} else {
			return cfg, err
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes path over cfg, rejecting unknown keys.
func loadFile(path string, cfg *Config) error {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}
	// #nosec G304 -- path comes from the operator.
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

// applyEnv overlays SCANWATCH_* variables. Empty values are ignored.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("SCANWATCH_API_BASE_URL", &cfg.APIBaseURL)
	str("SCANWATCH_LOG_LEVEL", &cfg.LogLevel)
	str("SCANWATCH_STORAGE_PATH", &cfg.StoragePath)
	if v, ok := lookup("SCANWATCH_TRANSPORT"); ok && v != "" {
		cfg.Transport = Transport(strings.ToLower(v))
	}
	if v, ok := lookup("SCANWATCH_RETRY_JITTER"); ok && v != "" {
		j, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("SCANWATCH_RETRY_JITTER: %w", err)
		}
		cfg.Retry.Jitter = j
	}
	if v, ok := lookup("SCANWATCH_STATUS_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SCANWATCH_STATUS_INTERVAL: %w", err)
		}
		cfg.Polling.StatusInterval = d
	}
	return nil
}

// FetchOptions converts the retry section for the fetch client.
func (c Config) FetchOptions() fetch.Options {
	o := fetch.DefaultOptions()
	o.MaxRetries = c.Retry.MaxRetries
	o.InitialDelay = c.Retry.InitialDelay
	o.Timeout = c.Retry.Timeout
	o.Jitter = c.Retry.Jitter
	return o
}

// APIPaths converts the endpoints section for the API client.
func (c Config) APIPaths() api.Paths {
	return api.Paths{
		QueuePosition: c.Endpoints.QueuePosition,
		BotStatus:     c.Endpoints.BotStatus,
		OnlineUsers:   c.Endpoints.OnlineUsers,
		ScanStatus:    c.Endpoints.ScanStatus,
		ScanStream:    c.Endpoints.ScanStream,
	}
}

// Level parses LogLevel for logrus.
func (c Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

func expandTilde(path string) (string, error) {
	if len(path) == 0 || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[1:]), nil
}
