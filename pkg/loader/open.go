package loader

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tributary/pkg/config"
	"github.com/ajitpratap0/tributary/pkg/errors"
)

// Open connects the analytics store named by cfg.Driver
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "store"), zap.String("driver", cfg.Driver))

	switch cfg.Driver {
	case "postgres", "postgresql":
		return NewPostgresStore(ctx, cfg, logger)
	case "snowflake":
		return NewSnowflakeStore(ctx, cfg, logger)
	case "mysql":
		return NewMySQLStore(ctx, cfg, logger)
	case "memory":
		logger.Warn("using the in-memory analytics store; loaded data is not persisted")
		return NewMemoryStore(), nil
	default:
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("unsupported store driver: %q", cfg.Driver))
	}
}
