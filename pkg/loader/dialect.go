package loader

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// ColumnType is the store-independent type of an analytics column.
type ColumnType string

const (
	TypeBoolean   ColumnType = "BOOLEAN"
	TypeBigInt    ColumnType = "BIGINT"
	TypeNumeric   ColumnType = "NUMERIC"
	TypeTimestamp ColumnType = "TIMESTAMP"
	TypeJSON      ColumnType = "JSON"
	TypeText      ColumnType = "TEXT"
)

// Column is a normalized column name with its inferred type
type Column struct {
	Name string
	Type ColumnType
}

// Dialect renders the SQL understood by one analytics store.
type Dialect struct {
	Name string
	// MaxParams bounds the bind parameters of one statement
	MaxParams int

	types       map[ColumnType]string
	quote       func(string) string
	placeholder func(n int) string
	// bind wraps a placeholder for a column type, e.g. PARSE_JSON(?)
	bind func(t ColumnType, ph string) string
	// insertSelect renders multi-row inserts as INSERT ... SELECT ... UNION ALL,
	// needed where VALUES rejects function calls
	insertSelect bool
	// namespace is the DDL keyword for a tenant schema
	namespace string
}

// Postgres is the dialect of PostgreSQL
var Postgres = Dialect{
	Name:      "postgres",
	MaxParams: 65535,
	types: map[ColumnType]string{
		TypeBoolean:   "BOOLEAN",
		TypeBigInt:    "BIGINT",
		TypeNumeric:   "NUMERIC",
		TypeTimestamp: "TIMESTAMP",
		TypeJSON:      "JSONB",
		TypeText:      "TEXT",
	},
	quote:       func(s string) string { return pgx.Identifier{s}.Sanitize() },
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	namespace:   "SCHEMA",
}

// Snowflake is the dialect of Snowflake
var Snowflake = Dialect{
	Name:      "snowflake",
	MaxParams: 16384,
	types: map[ColumnType]string{
		TypeBoolean:   "BOOLEAN",
		TypeBigInt:    "NUMBER(38,0)",
		TypeNumeric:   "FLOAT",
		TypeTimestamp: "TIMESTAMP_NTZ",
		TypeJSON:      "VARIANT",
		TypeText:      "VARCHAR",
	},
	quote:       doubleQuote,
	placeholder: func(int) string { return "?" },
	bind: func(t ColumnType, ph string) string {
		if t == TypeJSON {
			return "PARSE_JSON(" + ph + ")"
		}
		return ph
	},
	insertSelect: true,
	namespace:    "SCHEMA",
}

// MySQL is the dialect of MySQL 8. A tenant schema is a database.
var MySQL = Dialect{
	Name:      "mysql",
	MaxParams: 65535,
	types: map[ColumnType]string{
		TypeBoolean:   "BOOLEAN",
		TypeBigInt:    "BIGINT",
		TypeNumeric:   "DOUBLE",
		TypeTimestamp: "DATETIME(6)",
		TypeJSON:      "JSON",
		TypeText:      "TEXT",
	},
	quote: func(s string) string {
		return "`" + strings.ReplaceAll(s, "`", "``") + "`"
	},
	placeholder: func(int) string { return "?" },
	namespace:   "DATABASE",
}

// Memory renders Postgres SQL under its own name for the in-memory store
var Memory = func() Dialect {
	d := Postgres
	d.Name = "memory"
	return d
}()

func doubleQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// Quote quotes an identifier
func (d Dialect) Quote(ident string) string { return d.quote(ident) }

// Qualified returns the quoted schema.table name
func (d Dialect) Qualified(schema, table string) string {
	return d.quote(schema) + "." + d.quote(table)
}

// Placeholder returns the n-th (1-based) bind placeholder
func (d Dialect) Placeholder(n int) string { return d.placeholder(n) }

// SQLType maps a column type to the store's type name
func (d Dialect) SQLType(t ColumnType) string {
	if s, ok := d.types[t]; ok {
		return s
	}
	return d.types[TypeText]
}

// CreateSchemaSQL returns idempotent DDL for a tenant schema
func (d Dialect) CreateSchemaSQL(schema string) string {
	return fmt.Sprintf("CREATE %s IF NOT EXISTS %s", d.namespace, d.quote(schema))
}

// CreateTableSQL returns idempotent DDL for an analytics table
func (d Dialect) CreateTableSQL(schema, table string, cols []Column) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(d.Qualified(schema, table))
	b.WriteString(" (")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.quote(c.Name))
		b.WriteByte(' ')
		b.WriteString(d.SQLType(c.Type))
	}
	b.WriteString(")")
	return b.String()
}

// InsertSQL returns a parameterized insert of rows rows. Arguments are bound
// row-major in column order.
func (d Dialect) InsertSQL(schema, table string, cols []Column, rows int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(d.Qualified(schema, table))
	b.WriteString(" (")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.quote(c.Name))
	}
	b.WriteString(") ")

	if !d.insertSelect {
		b.WriteString("VALUES ")
	}
	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			if d.insertSelect {
				b.WriteString(" UNION ALL ")
			} else {
				b.WriteString(", ")
			}
		}
		if d.insertSelect {
			b.WriteString("SELECT ")
		} else {
			b.WriteByte('(')
		}
		for i, c := range cols {
			if i > 0 {
				b.WriteString(", ")
			}
			ph := d.placeholder(n)
			if d.bind != nil {
				ph = d.bind(c.Type, ph)
			}
			b.WriteString(ph)
			n++
		}
		if !d.insertSelect {
			b.WriteByte(')')
		}
	}
	return b.String()
}

// RowsPerStatement returns how many rows of width cols fit one statement
// without exceeding MaxParams or chunk.
func (d Dialect) RowsPerStatement(cols, chunk int) int {
	if cols <= 0 {
		return chunk
	}
	n := d.MaxParams / cols
	if chunk > 0 && chunk < n {
		n = chunk
	}
	if n < 1 {
		n = 1
	}
	return n
}

// StateTable keeps one watermark row per source table and tenant
const StateTable = "_sync_state"

const (
	colTableName = "table_name"
	colWatermark = "watermark"
	colUpdatedAt = "updated_at"
)

// stateColumns is the layout of StateTable, in bind order
var stateColumns = []Column{
	{Name: ColSourceSystem, Type: TypeText},
	{Name: colTableName, Type: TypeText},
	{Name: ColCompanyID, Type: TypeBigInt},
	{Name: colWatermark, Type: TypeTimestamp},
	{Name: colUpdatedAt, Type: TypeTimestamp},
}

// CreateStateTableSQL returns idempotent DDL for the watermark table
func (d Dialect) CreateStateTableSQL(schema string) string {
	return d.CreateTableSQL(schema, StateTable, stateColumns)
}

// stateWhere matches one watermark row on (source_system, table_name, company_id)
func (d Dialect) stateWhere() string {
	return fmt.Sprintf("%s = %s AND %s = %s AND %s = %s",
		d.quote(ColSourceSystem), d.placeholder(1),
		d.quote(colTableName), d.placeholder(2),
		d.quote(ColCompanyID), d.placeholder(3))
}

// ReadWatermarkSQL selects the watermark of one source table for one tenant
func (d Dialect) ReadWatermarkSQL(schema string) string {
	return fmt.Sprintf("SELECT MAX(%s) FROM %s WHERE %s",
		d.quote(colWatermark), d.Qualified(schema, StateTable), d.stateWhere())
}

// DeleteWatermarkSQL removes the watermark row of one source table
func (d Dialect) DeleteWatermarkSQL(schema string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s", d.Qualified(schema, StateTable), d.stateWhere())
}

// InsertWatermarkSQL inserts one watermark row bound in stateColumns order
func (d Dialect) InsertWatermarkSQL(schema string) string {
	return d.InsertSQL(schema, StateTable, stateColumns, 1)
}

// TableExistsSQL counts the tables named by (schema, table)
func (d Dialect) TableExistsSQL() string {
	return "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = " +
		d.placeholder(1) + " AND table_name = " + d.placeholder(2)
}

// TablesSQL lists the tables of a schema
func (d Dialect) TablesSQL() string {
	return "SELECT table_name FROM information_schema.tables WHERE table_schema = " +
		d.placeholder(1) + " ORDER BY table_name"
}

// ColumnsSQL lists the columns of a table in ordinal order
func (d Dialect) ColumnsSQL() string {
	return "SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_schema = " +
		d.placeholder(1) + " AND table_name = " + d.placeholder(2) + " ORDER BY ordinal_position"
}
