package credentials

import (
	"context"
	"fmt"
	"strings"

	gojson "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tributary/pkg/connector/core"
	"github.com/ajitpratap0/tributary/pkg/errors"
)

// DefaultTable holds credentials in the postgres backend
const DefaultTable = "connector_credentials"

// PostgresStore keeps credentials as JSONB rows keyed by tenant and type
type PostgresStore struct {
	pool   *pgxpool.Pool
	table  string
	logger *zap.Logger
}

// NewPostgresStore connects to url and creates the credentials table if needed
func NewPostgresStore(ctx context.Context, url, table string, logger *zap.Logger) (*PostgresStore, error) {
	if url == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "a postgres url is required for the postgres credentials backend")
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create PostgreSQL connection pool")
	}
	s := newPostgresStore(pool, table, logger)
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func newPostgresStore(pool *pgxpool.Pool, table string, logger *zap.Logger) *PostgresStore {
	if table == "" {
		table = DefaultTable
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	// schema-qualified names are quoted part by part
	ident := pgx.Identifier(strings.Split(table, ".")).Sanitize()
	return &PostgresStore{pool: pool, table: ident, logger: logger}
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			tenant_id      BIGINT      NOT NULL,
			connector_type TEXT        NOT NULL,
			credentials    JSONB       NOT NULL,
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (tenant_id, connector_type)
		)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to create credentials table")
	}
	return nil
}

// Get returns the stored credentials
func (s *PostgresStore) Get(ctx context.Context, tenantID int64, connectorType string) (core.RawCredentials, error) {
	query := fmt.Sprintf(`SELECT credentials FROM %s WHERE tenant_id = $1 AND connector_type = $2`, s.table)

	var raw []byte
	err := s.pool.QueryRow(ctx, query, tenantID, connectorType).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NotFound(tenantID, connectorType)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read credentials")
	}

	var creds core.RawCredentials
	if err := gojson.Unmarshal(raw, &creds); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode credentials")
	}
	return creds, nil
}

// Put upserts the credentials
func (s *PostgresStore) Put(ctx context.Context, tenantID int64, connectorType string, creds core.RawCredentials) error {
	raw, err := gojson.Marshal(creds)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to encode credentials")
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (tenant_id, connector_type, credentials, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (tenant_id, connector_type)
		DO UPDATE SET credentials = EXCLUDED.credentials, updated_at = now()`, s.table)
	if _, err := s.pool.Exec(ctx, query, tenantID, connectorType, raw); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to write credentials")
	}
	return nil
}

// Delete removes the credentials
func (s *PostgresStore) Delete(ctx context.Context, tenantID int64, connectorType string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE tenant_id = $1 AND connector_type = $2`, s.table)
	if _, err := s.pool.Exec(ctx, query, tenantID, connectorType); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to delete credentials")
	}
	return nil
}

// List returns the stored connector types of a tenant
func (s *PostgresStore) List(ctx context.Context, tenantID int64) ([]string, error) {
	query := fmt.Sprintf(`SELECT connector_type FROM %s WHERE tenant_id = $1 ORDER BY connector_type`, s.table)
	rows, err := s.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to list credentials")
	}
	types, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read connector types")
	}
	return types, nil
}

// Close closes the pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}
