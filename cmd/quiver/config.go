package main

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/23skdu/quiver/internal/logging"
	"github.com/23skdu/quiver/internal/storage"
)

// envPrefix namespaces every environment variable, e.g. QUIVER_LOG_LEVEL.
const envPrefix = "QUIVER"

// Config validation errors
var (
	ErrInvalidLogFormat   = errors.New("log_format must be 'json' or 'console'")
	ErrInvalidLogLevel    = errors.New("log_level must be debug, info, warn, or error")
	ErrInvalidStorageType = errors.New("storage type must be 'file' or 's3'")
	ErrInvalidStorageDir  = errors.New("storage dir cannot be empty for file storage")
)

// Config is the process configuration read from the environment.
type Config struct {
	LogFormat   string         `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string         `envconfig:"LOG_LEVEL" default:"info"`
	MetricsAddr string         `envconfig:"METRICS_ADDR"` // empty disables the metrics listener
	Storage     storage.Config `envconfig:"STORAGE"`
}

// DefaultConfig returns a Config with default values
func DefaultConfig() Config {
	logCfg := logging.DefaultConfig()
	return Config{
		LogFormat: logCfg.Format,
		LogLevel:  logCfg.Level,
		Storage:   storage.Config{Type: "file", Dir: "./indexes"},
	}
}

// ValidateConfig validates the configuration and returns an error if invalid
func ValidateConfig(cfg *Config) error {
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return ErrInvalidLogFormat
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return ErrInvalidLogLevel
	}
	switch cfg.Storage.Type {
	case "file":
		if cfg.Storage.Dir == "" {
			return ErrInvalidStorageDir
		}
	case "s3":
	default:
		return ErrInvalidStorageType
	}
	return nil
}

// LoadConfig reads an optional dotenv file, then the environment. A missing default
// .env is ignored; an explicitly named file must exist.
func LoadConfig(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, err
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, err
	}

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, err
	}
	if err := ValidateConfig(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
