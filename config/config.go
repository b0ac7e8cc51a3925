package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	BackendURL     string        `env:"INBOXPAL_BACKEND_URL" envDefault:"http://localhost:8000"`
	RequestTimeout time.Duration `env:"INBOXPAL_REQUEST_TIMEOUT" envDefault:"30s"`

	StateDir     string `env:"INBOXPAL_STATE_DIR"`
	Store        string `env:"INBOXPAL_STORE" envDefault:"file"`
	CallbackAddr string `env:"INBOXPAL_CALLBACK_ADDR" envDefault:"127.0.0.1:5173"`

	UploadFormat string `env:"INBOXPAL_UPLOAD_FORMAT" envDefault:"flac"`
	Device       string `env:"INBOXPAL_DEVICE"`
	Copy         bool   `env:"INBOXPAL_COPY" envDefault:"true"`
	Cues         bool   `env:"INBOXPAL_CUES" envDefault:"true"`

	LogLevel    string `env:"INBOXPAL_LOG_LEVEL" envDefault:"info"`
	LogPath     string `env:"INBOXPAL_LOG_PATH"`
	MetricsAddr string `env:"INBOXPAL_METRICS_ADDR"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile      string
	BackendURL   string
	StateDir     string
	Store        string
	UploadFormat string
	Device       string
	LogLevel     string
	LogPath      string
	MetricsAddr  string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		// godotenv.Load never overrides variables already set in the environment.
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	for _, o := range []struct {
		dst *string
		val string
	}{
		{&cfg.BackendURL, overrides.BackendURL},
		{&cfg.StateDir, overrides.StateDir},
		{&cfg.Store, overrides.Store},
		{&cfg.UploadFormat, overrides.UploadFormat},
		{&cfg.Device, overrides.Device},
		{&cfg.LogLevel, overrides.LogLevel},
		{&cfg.LogPath, overrides.LogPath},
		{&cfg.MetricsAddr, overrides.MetricsAddr},
	} {
		if o.val != "" {
			*o.dst = o.val
		}
	}

	if cfg.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, fmt.Errorf("resolving state directory: %w", err)
		}
		cfg.StateDir = dir
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case "file", "sqlite":
	default:
		return fmt.Errorf("unknown store %q (use file or sqlite)", c.Store)
	}
	switch c.UploadFormat {
	case "flac", "wav", "raw":
	default:
		return fmt.Errorf("unknown upload format %q (use flac, wav, or raw)", c.UploadFormat)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	return nil
}

func defaultStateDir() (string, error) {
	if runtime.GOOS == "windows" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, "inboxpal"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "inboxpal"), nil
	}
	xdgState := os.Getenv("XDG_STATE_HOME")
	if xdgState == "" {
		xdgState = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(xdgState, "inboxpal"), nil
}
