// Package loader persists extracted records into per-tenant analytics
// schemas.
//
// A Loader infers column types from a batch, ensures the tenant schema and
// target table exist, and inserts the batch with three metadata columns:
// loaded_at, source_system and company_id.
//
// Incremental watermarks live next to the data in the _sync_state table of
// each tenant schema. A watermark is the start time of the last extraction
// that read a table to the end; partial or capped reads never advance it.
//
// Stores are pluggable through the Store interface. Open selects one of the
// Postgres, Snowflake, MySQL or in-memory backends from configuration.
package loader

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tributary/pkg/config"
	"github.com/ajitpratap0/tributary/pkg/connector/core"
	"github.com/ajitpratap0/tributary/pkg/errors"
	"github.com/ajitpratap0/tributary/pkg/metrics"
)

// Metadata columns appended to every analytics table.
const (
	ColLoadedAt     = "loaded_at"
	ColSourceSystem = "source_system"
	ColCompanyID    = "company_id"
)

// DefaultSchemaPrefix forms analytics_company_<tenant>
const DefaultSchemaPrefix = "analytics_company_"

// ColumnInfo describes an existing column of an analytics table
type ColumnInfo struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
	Nullable bool   `json:"nullable"`
}

// TableInfo describes an existing analytics table
type TableInfo struct {
	Schema  string       `json:"schema"`
	Name    string       `json:"name"`
	Columns []ColumnInfo `json:"columns"`
}

// Store is an analytics store backend. Implementations must make EnsureSchema
// and EnsureTable idempotent and InsertRows atomic for one call.
type Store interface {
	Dialect() Dialect
	EnsureSchema(ctx context.Context, schema string) error
	EnsureTable(ctx context.Context, schema, table string, cols []Column) error
	// InsertRows inserts rows bound in cols order and returns the count inserted
	InsertRows(ctx context.Context, schema, table string, cols []Column, rows [][]interface{}) (int, error)
	// ReadWatermark returns the stored watermark of one source table. ok is
	// false when none was written.
	ReadWatermark(ctx context.Context, schema, sourceSystem, table string, tenantID int64) (t time.Time, ok bool, err error)
	// WriteWatermark replaces the stored watermark of one source table,
	// creating the schema and state table when needed
	WriteWatermark(ctx context.Context, schema, sourceSystem, table string, tenantID int64, at time.Time) error
	Tables(ctx context.Context, schema string) ([]string, error)
	Columns(ctx context.Context, schema, table string) ([]ColumnInfo, error)
	Close() error
}

// Options configures a Loader
type Options struct {
	SchemaPrefix string
	// Overlap is subtracted from the stored watermark to absorb clock skew
	// between the source and this process
	Overlap time.Duration
	// Lookback is the watermark window when no extraction completed yet
	Lookback time.Duration
	// Now is the clock; tests pin it
	Now func() time.Time
}

// OptionsFromConfig maps process configuration onto loader options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SchemaPrefix: cfg.Store.SchemaPrefix,
		Overlap:      cfg.Sync.WatermarkOverlap,
		Lookback:     cfg.Sync.Lookback,
	}
}

// Loader writes record batches into a Store.
type Loader struct {
	store  Store
	opts   Options
	logger *zap.Logger
}

// New creates a loader over store
func New(store Store, opts Options, logger *zap.Logger) *Loader {
	if opts.SchemaPrefix == "" {
		opts.SchemaPrefix = DefaultSchemaPrefix
	}
	if opts.Overlap < 0 {
		opts.Overlap = 0
	}
	if opts.Lookback <= 0 {
		opts.Lookback = core.DefaultLookback
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		store:  store,
		opts:   opts,
		logger: logger.With(zap.String("component", "loader"), zap.String("dialect", store.Dialect().Name)),
	}
}

// Store returns the underlying store
func (l *Loader) Store() Store { return l.store }

// SchemaName returns the analytics schema of a tenant
func (l *Loader) SchemaName(tenantID int64) string {
	return l.opts.SchemaPrefix + strconv.FormatInt(tenantID, 10)
}

// NormalizeColumn lowercases name and replaces spaces, dashes and dots with
// underscores. NormalizeColumn(NormalizeColumn(x)) == NormalizeColumn(x).
func NormalizeColumn(name string) string {
	return core.NormalizeIdentifier(name)
}

// KindType maps a value kind to its column type. Null maps to TEXT.
func KindType(k core.Kind) ColumnType {
	switch k {
	case core.KindBool:
		return TypeBoolean
	case core.KindInt:
		return TypeBigInt
	case core.KindFloat:
		return TypeNumeric
	case core.KindTime:
		return TypeTimestamp
	case core.KindJSON:
		return TypeJSON
	default:
		return TypeText
	}
}

// merge widens two observed types; integers and floats meet at NUMERIC and
// any other disagreement falls back to TEXT
func merge(a, b ColumnType) ColumnType {
	switch {
	case a == "" || a == b:
		return b
	case b == "":
		return a
	case (a == TypeBigInt && b == TypeNumeric) || (a == TypeNumeric && b == TypeBigInt):
		return TypeNumeric
	default:
		return TypeText
	}
}

// InferColumns returns the normalized union of keys across records in first
// seen order, typed from the non-null values. Columns that are null in every
// record are TEXT.
func InferColumns(records []*core.Record) []Column {
	var order []string
	types := make(map[string]ColumnType)
	for _, r := range records {
		if r == nil {
			continue
		}
		r.Range(func(key string, v core.Value) bool {
			name := NormalizeColumn(key)
			t, seen := types[name]
			if !seen {
				order = append(order, name)
			}
			if !v.IsNull() {
				t = merge(t, KindType(v.Kind()))
			}
			types[name] = t
			return true
		})
	}

	cols := make([]Column, 0, len(order))
	for _, name := range order {
		t := types[name]
		if t == "" {
			t = TypeText
		}
		cols = append(cols, Column{Name: name, Type: t})
	}
	return cols
}

// metadataColumns are appended after the data columns
var metadataColumns = []Column{
	{Name: ColLoadedAt, Type: TypeTimestamp},
	{Name: ColSourceSystem, Type: TypeText},
	{Name: ColCompanyID, Type: TypeBigInt},
}

// withMetadata appends the metadata columns, replacing data columns that
// collide with them
func withMetadata(cols []Column) []Column {
	out := make([]Column, 0, len(cols)+len(metadataColumns))
	for _, c := range cols {
		switch c.Name {
		case ColLoadedAt, ColSourceSystem, ColCompanyID:
			continue
		}
		out = append(out, c)
	}
	return append(out, metadataColumns...)
}

// Coerce converts v into a driver argument for a column of type t
func Coerce(v core.Value, t ColumnType) (interface{}, error) {
	if v.IsNull() {
		return nil, nil
	}
	switch t {
	case TypeText:
		return v.Text(), nil
	case TypeBoolean:
		if b, ok := v.AsBool(); ok {
			return b, nil
		}
	case TypeBigInt:
		if i, ok := v.AsInt(); ok {
			return i, nil
		}
	case TypeNumeric:
		if f, ok := v.AsFloat(); ok {
			return f, nil
		}
	case TypeTimestamp:
		if ts, ok := v.AsTime(); ok {
			return ts, nil
		}
	case TypeJSON:
		if raw, ok := v.AsJSON(); ok {
			return string(raw), nil
		}
		return core.JSONOf(v.Interface()).Text(), nil
	}
	return nil, errors.Newf(errors.ErrorTypeData, "cannot store %s value in %s column", v.Kind(), t)
}

// Load writes records into table of the tenant schema and returns the number
// of rows inserted. Empty input performs no store operations. Values that
// cannot be converted to their column type are stored as NULL.
func (l *Loader) Load(ctx context.Context, table string, records []*core.Record, sourceSystem string, tenantID int64) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	schema := l.SchemaName(tenantID)
	table = NormalizeColumn(table)
	cols := withMetadata(InferColumns(records))
	log := l.logger.With(zap.String("schema", schema), zap.String("table", table))

	if err := l.store.EnsureSchema(ctx, schema); err != nil {
		return 0, err
	}
	if err := l.store.EnsureTable(ctx, schema, table, cols); err != nil {
		return 0, err
	}

	index := make(map[string]int, len(cols))
	for i, c := range cols {
		index[c.Name] = i
	}

	loadedAt := l.opts.Now().UTC()
	rows := make([][]interface{}, 0, len(records))
	dropped := 0
	for _, r := range records {
		if r == nil {
			continue
		}
		row := make([]interface{}, len(cols))
		r.Range(func(key string, v core.Value) bool {
			i := index[NormalizeColumn(key)]
			switch cols[i].Name {
			case ColLoadedAt, ColSourceSystem, ColCompanyID:
				return true
			}
			arg, err := Coerce(v, cols[i].Type)
			if err != nil {
				dropped++
				log.Debug("value stored as null", zap.String("column", cols[i].Name), zap.Error(err))
			}
			row[i] = arg
			return true
		})
		row[index[ColLoadedAt]] = loadedAt
		row[index[ColSourceSystem]] = sourceSystem
		row[index[ColCompanyID]] = tenantID
		rows = append(rows, row)
	}
	if dropped > 0 {
		log.Warn("values could not be converted and were stored as null", zap.Int("count", dropped))
	}

	n, err := l.store.InsertRows(ctx, schema, table, cols, rows)
	if err != nil {
		return 0, err
	}
	metrics.RecordsLoaded.WithLabelValues(l.store.Dialect().Name).Add(float64(n))
	log.Info("loaded records", zap.Int("rows", n), zap.Int("columns", len(cols)), zap.String("source_system", sourceSystem))
	return n, nil
}

// Watermark returns the incremental lower bound for table: the start of the
// last complete extraction minus the overlap, or now minus the lookback when
// none is recorded. Store failures fall back to the lookback.
func (l *Loader) Watermark(ctx context.Context, tenantID int64, sourceSystem, table string, now time.Time) time.Time {
	schema := l.SchemaName(tenantID)
	last, ok, err := l.store.ReadWatermark(ctx, schema, sourceSystem, NormalizeColumn(table), tenantID)
	if err != nil {
		l.logger.Warn("watermark lookup failed, using lookback window",
			zap.String("schema", schema), zap.String("table", table), zap.Error(err))
		ok = false
	}
	if !ok {
		return now.Add(-l.opts.Lookback)
	}
	return last.Add(-l.opts.Overlap)
}

// Advance records that an extraction of table which started at started read
// every record the source had. The next incremental extraction starts there.
func (l *Loader) Advance(ctx context.Context, tenantID int64, sourceSystem, table string, started time.Time) error {
	schema := l.SchemaName(tenantID)
	if err := l.store.WriteWatermark(ctx, schema, sourceSystem, NormalizeColumn(table), tenantID, started.UTC()); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to store watermark").
			WithDetail("table", schema+"."+NormalizeColumn(table))
	}
	return nil
}

// ListTables returns the analytics tables of a tenant
func (l *Loader) ListTables(ctx context.Context, tenantID int64) ([]string, error) {
	tables, err := l.store.Tables(ctx, l.SchemaName(tenantID))
	if err != nil {
		return nil, err
	}
	out := tables[:0]
	for _, t := range tables {
		if t != StateTable {
			out = append(out, t)
		}
	}
	return out, nil
}

// DescribeTable returns the columns of one analytics table
func (l *Loader) DescribeTable(ctx context.Context, tenantID int64, table string) (*TableInfo, error) {
	schema := l.SchemaName(tenantID)
	table = NormalizeColumn(table)
	cols, err := l.store.Columns(ctx, schema, table)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "table %s.%s does not exist", schema, table)
	}
	return &TableInfo{Schema: schema, Name: table, Columns: cols}, nil
}

// Close releases the store
func (l *Loader) Close() error {
	return l.store.Close()
}

// dsnHost strips credentials from a connection string for logging
func dsnHost(dsn string) string {
	if i := strings.LastIndex(dsn, "@"); i >= 0 {
		dsn = dsn[i+1:]
	}
	if i := strings.IndexAny(dsn, "?"); i >= 0 {
		dsn = dsn[:i]
	}
	return dsn
}
