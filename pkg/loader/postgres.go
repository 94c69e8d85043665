package loader

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tributary/pkg/config"
	"github.com/ajitpratap0/tributary/pkg/errors"
)

// PostgresStore is a Store on a pgx connection pool
type PostgresStore struct {
	pool   *pgxpool.Pool
	chunk  int
	logger *zap.Logger
}

// NewPostgresStore connects to cfg.URL and verifies the connection
func NewPostgresStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (*PostgresStore, error) {
	if cfg.URL == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "store.url is required for the postgres driver")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse PostgreSQL connection string")
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if cfg.StatementTimeout > 0 {
		poolConfig.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "tributary"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create PostgreSQL connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to ping PostgreSQL")
	}

	logger.Info("PostgreSQL analytics store connected",
		zap.String("host", dsnHost(cfg.URL)),
		zap.Int32("max_conns", poolConfig.MaxConns))

	return &PostgresStore{pool: pool, chunk: cfg.InsertChunkSize, logger: logger}, nil
}

// Dialect returns Postgres
func (s *PostgresStore) Dialect() Dialect { return Postgres }

// EnsureSchema creates the schema if needed
func (s *PostgresStore) EnsureSchema(ctx context.Context, schema string) error {
	if _, err := s.pool.Exec(ctx, Postgres.CreateSchemaSQL(schema)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to create schema").WithDetail("schema", schema)
	}
	return nil
}

// EnsureTable creates the table if needed
func (s *PostgresStore) EnsureTable(ctx context.Context, schema, table string, cols []Column) error {
	if _, err := s.pool.Exec(ctx, Postgres.CreateTableSQL(schema, table, cols)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to create table").WithDetail("table", schema+"."+table)
	}
	return nil
}

// InsertRows sends every chunk in one pgx batch inside a transaction
func (s *PostgresStore) InsertRows(ctx context.Context, schema, table string, cols []Column, rows [][]interface{}) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeConnection, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	per := Postgres.RowsPerStatement(len(cols), s.chunk)
	batch := &pgx.Batch{}
	for start := 0; start < len(rows); start += per {
		end := start + per
		if end > len(rows) {
			end = len(rows)
		}
		batch.Queue(Postgres.InsertSQL(schema, table, cols, end-start), flatten(rows[start:end])...)
	}

	results := tx.SendBatch(ctx, batch)
	inserted := 0
	for i := 0; i < batch.Len(); i++ {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return 0, errors.Wrap(err, errors.ErrorTypeQuery, "failed to insert rows").WithDetail("table", schema+"."+table)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeQuery, "failed to insert rows")
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeQuery, "failed to commit insert")
	}
	return inserted, nil
}

// ReadWatermark returns the stored watermark of one source table
func (s *PostgresStore) ReadWatermark(ctx context.Context, schema, sourceSystem, table string, tenantID int64) (time.Time, bool, error) {
	var n int
	if err := s.pool.QueryRow(ctx, Postgres.TableExistsSQL(), schema, StateTable).Scan(&n); err != nil {
		return time.Time{}, false, errors.Wrap(err, errors.ErrorTypeQuery, "failed to check state table")
	}
	if n == 0 {
		return time.Time{}, false, nil
	}

	var last *time.Time
	if err := s.pool.QueryRow(ctx, Postgres.ReadWatermarkSQL(schema), sourceSystem, table, tenantID).Scan(&last); err != nil {
		return time.Time{}, false, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read watermark")
	}
	if last == nil {
		return time.Time{}, false, nil
	}
	return last.UTC(), true, nil
}

// WriteWatermark replaces the watermark row inside one transaction
func (s *PostgresStore) WriteWatermark(ctx context.Context, schema, sourceSystem, table string, tenantID int64, at time.Time) error {
	if err := s.EnsureSchema(ctx, schema); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, Postgres.CreateStateTableSQL(schema)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to create state table").WithDetail("schema", schema)
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, Postgres.DeleteWatermarkSQL(schema), sourceSystem, table, tenantID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, Postgres.InsertWatermarkSQL(schema), sourceSystem, table, tenantID, at, time.Now().UTC())
		return err
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to write watermark").WithDetail("table", table)
	}
	return nil
}

// Tables lists the tables of a schema
func (s *PostgresStore) Tables(ctx context.Context, schema string) ([]string, error) {
	rows, err := s.pool.Query(ctx, Postgres.TablesSQL(), schema)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to list tables")
	}
	tables, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read table names")
	}
	return tables, nil
}

// Columns lists the columns of a table
func (s *PostgresStore) Columns(ctx context.Context, schema, table string) ([]ColumnInfo, error) {
	rows, err := s.pool.Query(ctx, Postgres.ColumnsSQL(), schema, table)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to describe table")
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var c ColumnInfo
		var nullable string
		if err := rows.Scan(&c.Name, &c.DataType, &nullable); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to scan column metadata")
		}
		c.Nullable = nullable == "YES"
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "error reading column rows")
	}
	return cols, nil
}

// Close closes the pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// flatten lays rows out row-major as statement arguments
func flatten(rows [][]interface{}) []interface{} {
	if len(rows) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(rows)*len(rows[0]))
	for _, r := range rows {
		args = append(args, r...)
	}
	return args
}
