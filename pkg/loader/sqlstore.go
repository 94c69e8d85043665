package loader

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tributary/pkg/config"
	"github.com/ajitpratap0/tributary/pkg/errors"
)

// SQLStore is a Store on database/sql, shared by the Snowflake and MySQL
// drivers.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	chunk   int
	logger  *zap.Logger
}

// openSQL opens and pings a database/sql pool configured from cfg
func openSQL(ctx context.Context, driver, dsn string, d Dialect, cfg config.StoreConfig, logger *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to open database connection")
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetMaxIdleConns((cfg.MaxConns + 1) / 2)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "database ping failed").WithDetail("driver", driver)
	}
	return &SQLStore{db: db, dialect: d, chunk: cfg.InsertChunkSize, logger: logger}, nil
}

// Dialect returns the store dialect
func (s *SQLStore) Dialect() Dialect { return s.dialect }

func (s *SQLStore) exec(ctx context.Context, query, what string) error {
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to "+what)
	}
	return nil
}

// EnsureSchema creates the schema if needed
func (s *SQLStore) EnsureSchema(ctx context.Context, schema string) error {
	return s.exec(ctx, s.dialect.CreateSchemaSQL(schema), "create schema "+schema)
}

// EnsureTable creates the table if needed
func (s *SQLStore) EnsureTable(ctx context.Context, schema, table string, cols []Column) error {
	return s.exec(ctx, s.dialect.CreateTableSQL(schema, table, cols), "create table "+schema+"."+table)
}

// InsertRows inserts every chunk inside one transaction
func (s *SQLStore) InsertRows(ctx context.Context, schema, table string, cols []Column, rows [][]interface{}) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeConnection, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	per := s.dialect.RowsPerStatement(len(cols), s.chunk)
	inserted := 0
	for start := 0; start < len(rows); start += per {
		end := start + per
		if end > len(rows) {
			end = len(rows)
		}
		res, err := tx.ExecContext(ctx, s.dialect.InsertSQL(schema, table, cols, end-start), flatten(rows[start:end])...)
		if err != nil {
			return 0, errors.Wrap(err, errors.ErrorTypeQuery, "failed to insert rows").WithDetail("table", schema+"."+table)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		} else {
			inserted += end - start
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeQuery, "failed to commit insert")
	}
	return inserted, nil
}

// ReadWatermark returns the stored watermark of one source table
func (s *SQLStore) ReadWatermark(ctx context.Context, schema, sourceSystem, table string, tenantID int64) (time.Time, bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, s.dialect.TableExistsSQL(), schema, StateTable).Scan(&n); err != nil {
		return time.Time{}, false, errors.Wrap(err, errors.ErrorTypeQuery, "failed to check state table")
	}
	if n == 0 {
		return time.Time{}, false, nil
	}

	var last sql.NullTime
	if err := s.db.QueryRowContext(ctx, s.dialect.ReadWatermarkSQL(schema), sourceSystem, table, tenantID).Scan(&last); err != nil {
		return time.Time{}, false, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read watermark")
	}
	if !last.Valid {
		return time.Time{}, false, nil
	}
	return last.Time.UTC(), true, nil
}

// WriteWatermark replaces the watermark row inside one transaction
func (s *SQLStore) WriteWatermark(ctx context.Context, schema, sourceSystem, table string, tenantID int64, at time.Time) error {
	if err := s.EnsureSchema(ctx, schema); err != nil {
		return err
	}
	if err := s.exec(ctx, s.dialect.CreateStateTableSQL(schema), "create state table in "+schema); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.dialect.DeleteWatermarkSQL(schema), sourceSystem, table, tenantID); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to clear watermark")
	}
	if _, err := tx.ExecContext(ctx, s.dialect.InsertWatermarkSQL(schema), sourceSystem, table, tenantID, at, time.Now().UTC()); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to write watermark")
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to commit watermark")
	}
	return nil
}

// Tables lists the tables of a schema
func (s *SQLStore) Tables(ctx context.Context, schema string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.TablesSQL(), schema)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to list tables")
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to scan table name")
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "error reading table rows")
	}
	return tables, nil
}

// Columns lists the columns of a table
func (s *SQLStore) Columns(ctx context.Context, schema, table string) ([]ColumnInfo, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.ColumnsSQL(), schema, table)
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
func (s *SQLStore) Close() error {
	return s.db.Close()
}
