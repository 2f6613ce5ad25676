package storage

import (
	"fmt"

	qerrors "github.com/23skdu/quiver/internal/errors"
)

// Config selects and configures a Backend.
type Config struct {
	Type string          `yaml:"type" envconfig:"TYPE" default:"file"` // "file" or "s3"
	Dir  string          `yaml:"dir" envconfig:"DIR" default:"./indexes"`
	S3   S3BackendConfig `yaml:"s3" envconfig:"S3"`
}

// Open constructs the backend named by cfg.Type. Remote backends are wrapped with
// retries and a circuit breaker.
func Open(cfg Config) (Backend, error) {
	switch cfg.Type {
	case "", "file":
		b, err := NewFileBackend(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "s3":
		b, err := NewS3Backend(&cfg.S3)
		if err != nil {
			return nil, qerrors.WrapConfigurationError(err, "storage.Open", "s3 backend")
		}
		return NewResilientBackend(b, "s3:"+b.Bucket(), nil), nil
	default:
		return nil, qerrors.NewConfigurationError("storage.Open", fmt.Sprintf("unknown storage type %q", cfg.Type))
	}
}
