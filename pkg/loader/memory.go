package loader

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ajitpratap0/tributary/pkg/errors"
)

// Op is one store operation recorded by MemoryStore
type Op struct {
	Kind   string
	Schema string
	Table  string
	Rows   int
}

type stateKey struct {
	schema, sourceSystem, table string
	tenantID                    int64
}

type memTable struct {
	cols []Column
	rows []map[string]interface{}
}

// MemoryStore keeps analytics tables in memory and records every operation.
// It serves the memory driver and tests.
type MemoryStore struct {
	mu      sync.Mutex
	schemas map[string]map[string]*memTable
	state   map[stateKey]time.Time
	ops     []Op
	failErr error
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		schemas: make(map[string]map[string]*memTable),
		state:   make(map[stateKey]time.Time),
	}
}

// FailWith makes every later write return err; nil clears it
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	m.failErr = err
	m.mu.Unlock()
}

// Ops returns the recorded operations in order
func (m *MemoryStore) Ops() []Op {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Op, len(m.ops))
	copy(out, m.ops)
	return out
}

// Rows returns a copy of a table's rows keyed by column name
func (m *MemoryStore) Rows(schema, table string) []map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.schemas[schema][table]
	if t == nil {
		return nil
	}
	out := make([]map[string]interface{}, len(t.rows))
	for i, r := range t.rows {
		cp := make(map[string]interface{}, len(r))
		for k, v := range r {
			cp[k] = v
		}
		out[i] = cp
	}
	return out
}

// Dialect returns Memory
func (m *MemoryStore) Dialect() Dialect { return Memory }

func (m *MemoryStore) record(op Op) error {
	m.ops = append(m.ops, op)
	return m.failErr
}

// EnsureSchema creates the schema if needed
func (m *MemoryStore) EnsureSchema(_ context.Context, schema string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(Op{Kind: "ensure_schema", Schema: schema}); err != nil {
		return err
	}
	if _, ok := m.schemas[schema]; !ok {
		m.schemas[schema] = make(map[string]*memTable)
	}
	return nil
}

// EnsureTable creates the table if needed; an existing table keeps its columns
func (m *MemoryStore) EnsureTable(_ context.Context, schema, table string, cols []Column) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(Op{Kind: "ensure_table", Schema: schema, Table: table}); err != nil {
		return err
	}
	tables, ok := m.schemas[schema]
	if !ok {
		return errors.Newf(errors.ErrorTypeQuery, "schema %q does not exist", schema)
	}
	if _, exists := tables[table]; !exists {
		tables[table] = &memTable{cols: append([]Column(nil), cols...)}
	}
	return nil
}

// InsertRows appends rows, rejecting columns the table does not have
func (m *MemoryStore) InsertRows(_ context.Context, schema, table string, cols []Column, rows [][]interface{}) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(Op{Kind: "insert", Schema: schema, Table: table, Rows: len(rows)}); err != nil {
		return 0, err
	}
	t := m.schemas[schema][table]
	if t == nil {
		return 0, errors.Newf(errors.ErrorTypeQuery, "relation %s.%s does not exist", schema, table)
	}
	known := make(map[string]bool, len(t.cols))
	for _, c := range t.cols {
		known[c.Name] = true
	}
	for _, c := range cols {
		if !known[c.Name] {
			return 0, errors.Newf(errors.ErrorTypeQuery, "column %q of relation %s.%s does not exist", c.Name, schema, table)
		}
	}

	for _, r := range rows {
		row := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			row[c.Name] = r[i]
		}
		t.rows = append(t.rows, row)
	}
	return len(rows), nil
}

// ReadWatermark returns the stored watermark of one source table
func (m *MemoryStore) ReadWatermark(_ context.Context, schema, sourceSystem, table string, tenantID int64) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.state[stateKey{schema, sourceSystem, table, tenantID}]
	return t, ok, nil
}

// WriteWatermark replaces the watermark of one source table
func (m *MemoryStore) WriteWatermark(_ context.Context, schema, sourceSystem, table string, tenantID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(Op{Kind: "write_watermark", Schema: schema, Table: table}); err != nil {
		return err
	}
	m.state[stateKey{schema, sourceSystem, table, tenantID}] = at
	return nil
}

// Tables lists the tables of a schema in name order
func (m *MemoryStore) Tables(_ context.Context, schema string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.schemas[schema]))
	for name := range m.schemas[schema] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Columns lists a table's columns in creation order
func (m *MemoryStore) Columns(_ context.Context, schema, table string) ([]ColumnInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.schemas[schema][table]
	if t == nil {
		return nil, nil
	}
	out := make([]ColumnInfo, 0, len(t.cols))
	for _, c := range t.cols {
		out = append(out, ColumnInfo{Name: c.Name, DataType: Memory.SQLType(c.Type), Nullable: true})
	}
	return out, nil
}

// Close is a no-op
func (m *MemoryStore) Close() error { return nil }
