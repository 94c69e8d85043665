package loader

import (
	"context"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tributary/pkg/config"
	"github.com/ajitpratap0/tributary/pkg/errors"
)

// NewMySQLStore opens a MySQL store. Each tenant schema is a database on the
// server; timestamps are parsed into time.Time regardless of the DSN.
func NewMySQLStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (*SQLStore, error) {
	if cfg.URL == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "store.url is required for the mysql driver")
	}
	dbConfig, err := mysql.ParseDSN(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse MySQL DSN")
	}
	dbConfig.ParseTime = true
	if cfg.StatementTimeout > 0 {
		dbConfig.ReadTimeout = cfg.StatementTimeout
		dbConfig.WriteTimeout = cfg.StatementTimeout
	}

	store, err := openSQL(ctx, "mysql", dbConfig.FormatDSN(), MySQL, cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("MySQL analytics store connected", zap.String("addr", dbConfig.Addr))
	return store, nil
}
