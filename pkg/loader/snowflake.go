package loader

import (
	"context"

	"github.com/snowflakedb/gosnowflake"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tributary/pkg/config"
	"github.com/ajitpratap0/tributary/pkg/errors"
)

// NewSnowflakeStore opens a Snowflake store from a gosnowflake DSN of the form
// user:password@account/database?warehouse=wh&role=role. Tenant schemas are
// created inside the DSN's database.
func NewSnowflakeStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (*SQLStore, error) {
	if cfg.URL == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "store.url is required for the snowflake driver")
	}
	sfConfig, err := gosnowflake.ParseDSN(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse Snowflake DSN")
	}
	if sfConfig.Database == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "the Snowflake DSN must name a database")
	}

	store, err := openSQL(ctx, "snowflake", cfg.URL, Snowflake, cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Snowflake analytics store connected",
		zap.String("account", sfConfig.Account),
		zap.String("database", sfConfig.Database),
		zap.String("warehouse", sfConfig.Warehouse))
	return store, nil
}
