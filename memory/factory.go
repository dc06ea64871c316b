package memory

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/juniperhq/juniper/config"
)

// NewStore creates a Store for the configured backend.
func NewStore(cfg *config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.Memory.Backend {
	case "", "memory":
		return NewInMemoryStore(logger), nil
	case "database":
		return NewGormStore(cfg.Database, logger)
	case "redis":
		return NewRedisStore(cfg.Redis, logger)
	default:
		return nil, fmt.Errorf("unsupported memory backend: %s", cfg.Memory.Backend)
	}
}

// MustNewStore creates a Store or panics. Initialization paths only.
func MustNewStore(cfg *config.Config, logger *zap.Logger) Store {
	store, err := NewStore(cfg, logger)
	if err != nil {
		panic(fmt.Sprintf("failed to create memory store: %v", err))
	}
	return store
}
