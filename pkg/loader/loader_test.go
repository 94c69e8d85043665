package loader

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/tributary/pkg/config"
	"github.com/ajitpratap0/tributary/pkg/connector/core"
	"github.com/ajitpratap0/tributary/pkg/errors"
)

var pinned = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newLoader(t *testing.T) (*Loader, *MemoryStore) {
	store := NewMemoryStore()
	l := New(store, Options{
		Overlap:  5 * time.Minute,
		Lookback: 30 * 24 * time.Hour,
		Now:      func() time.Time { return pinned },
	}, zaptest.NewLogger(t))
	return l, store
}

func record(kv ...interface{}) *core.Record {
	r := core.NewRecord(len(kv) / 2)
	for i := 0; i < len(kv); i += 2 {
		r.Set(kv[i].(string), core.FromAny(kv[i+1]))
	}
	return r
}

func TestLoad_EmptyInputIsNoop(t *testing.T) {
	l, store := newLoader(t)

	for i := 0; i < 2; i++ {
		n, err := l.Load(context.Background(), "hubspot_deals", nil, "hubspot", 1)
		require.NoError(t, err)
		assert.Zero(t, n)
		n, err = l.Load(context.Background(), "hubspot_deals", []*core.Record{}, "hubspot", 1)
		require.NoError(t, err)
		assert.Zero(t, n)
	}
	assert.Empty(t, store.Ops())
}

func TestLoad_CreatesTableAndFillsMissingKeysWithNull(t *testing.T) {
	l, store := newLoader(t)

	records := []*core.Record{
		record("id", 1, "Deal Name", "Big", "amount", 1500),
		record("id", 2, "amount", 12.5, "closed", true),
	}
	n, err := l.Load(context.Background(), "HubSpot-Deals", records, "hubspot", 42)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ops := store.Ops()
	require.Len(t, ops, 3)
	assert.Equal(t, Op{Kind: "ensure_schema", Schema: "analytics_company_42"}, ops[0])
	assert.Equal(t, Op{Kind: "ensure_table", Schema: "analytics_company_42", Table: "hubspot_deals"}, ops[1])
	assert.Equal(t, Op{Kind: "insert", Schema: "analytics_company_42", Table: "hubspot_deals", Rows: 2}, ops[2])

	info, err := l.DescribeTable(context.Background(), 42, "hubspot_deals")
	require.NoError(t, err)
	var names []string
	for _, c := range info.Columns {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"id", "deal_name", "amount", "closed", "loaded_at", "source_system", "company_id"}, names)
	assert.Equal(t, "NUMERIC", info.Columns[2].DataType)

	rows := store.Rows("analytics_company_42", "hubspot_deals")
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0]["id"])
	assert.Equal(t, "Big", rows[0]["deal_name"])
	assert.Equal(t, float64(1500), rows[0]["amount"])
	assert.Nil(t, rows[0]["closed"])
	assert.Nil(t, rows[1]["deal_name"])
	assert.Equal(t, true, rows[1]["closed"])

	for _, r := range rows {
		assert.Equal(t, pinned, r["loaded_at"])
		assert.Equal(t, "hubspot", r["source_system"])
		assert.Equal(t, int64(42), r["company_id"])
	}
}

func TestLoad_RecordMetadataKeysAreOverridden(t *testing.T) {
	l, store := newLoader(t)

	_, err := l.Load(context.Background(), "jira_issues", []*core.Record{record("id", 1, "source_system", "spoofed")}, "jira", 3)
	require.NoError(t, err)
	rows := store.Rows("analytics_company_3", "jira_issues")
	require.Len(t, rows, 1)
	assert.Equal(t, "jira", rows[0]["source_system"])
}

func TestLoad_StoreErrorIsReturned(t *testing.T) {
	l, store := newLoader(t)
	store.FailWith(errors.New(errors.ErrorTypeConnection, "connection refused"))

	n, err := l.Load(context.Background(), "t", []*core.Record{record("id", 1)}, "crm", 1)
	assert.Zero(t, n)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
}

func TestInferColumns(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		values []interface{}
		want   ColumnType
	}{
		{"bool", []interface{}{true, false}, TypeBoolean},
		{"int", []interface{}{1, 2}, TypeBigInt},
		{"float", []interface{}{1.5}, TypeNumeric},
		{"int and float widen", []interface{}{3, 1.5}, TypeNumeric},
		{"timestamp", []interface{}{ts}, TypeTimestamp},
		{"json", []interface{}{map[string]interface{}{"a": 1}}, TypeJSON},
		{"string", []interface{}{"x"}, TypeText},
		{"all null", []interface{}{nil, nil}, TypeText},
		{"nulls ignored", []interface{}{nil, true}, TypeBoolean},
		{"conflict", []interface{}{true, "yes"}, TypeText},
		{"int and timestamp", []interface{}{1, ts}, TypeText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var records []*core.Record
			for _, v := range tt.values {
				records = append(records, record("v", v))
			}
			cols := InferColumns(records)
			require.Len(t, cols, 1)
			assert.Equal(t, Column{Name: "v", Type: tt.want}, cols[0])
		})
	}
}

func TestInferColumns_MergesKeysThatNormalizeAlike(t *testing.T) {
	cols := InferColumns([]*core.Record{
		record("First Name", "Ada"),
		record("first-name", "Grace", "Last.Name", "Hopper"),
	})
	assert.Equal(t, []Column{{Name: "first_name", Type: TypeText}, {Name: "last_name", Type: TypeText}}, cols)
}

func TestNormalizeColumn(t *testing.T) {
	for _, in := range []string{"Deal Name", "hs-object.id", "ALREADY_ok", " padded ", "a.b-c d"} {
		once := NormalizeColumn(in)
		assert.Equal(t, once, NormalizeColumn(once), in)
		assert.NotContains(t, once, " ")
		assert.NotContains(t, once, "-")
		assert.NotContains(t, once, ".")
	}
	assert.Equal(t, "hs_object_id", NormalizeColumn("hs-object.id"))
}

func TestCoerce(t *testing.T) {
	v, err := Coerce(core.Int(7), TypeText)
	require.NoError(t, err)
	assert.Equal(t, "7", v)

	v, err = Coerce(core.Null(), TypeBigInt)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = Coerce(core.JSONOf([]interface{}{1, 2}), TypeJSON)
	require.NoError(t, err)
	assert.Equal(t, "[1,2]", v)

	_, err = Coerce(core.String("seven"), TypeBigInt)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}

func TestWatermark(t *testing.T) {
	l, store := newLoader(t)
	ctx := context.Background()
	now := pinned.Add(time.Hour)
	lookback := now.Add(-30 * 24 * time.Hour)

	assert.Equal(t, lookback, l.Watermark(ctx, 9, "crm", "crm_deals", now), "nothing recorded uses the lookback")

	_, err := l.Load(ctx, "crm_deals", []*core.Record{record("id", 1)}, "crm", 9)
	require.NoError(t, err)
	assert.Equal(t, lookback, l.Watermark(ctx, 9, "crm", "crm_deals", now), "loading rows does not move the watermark")

	started := pinned.Add(-20 * time.Minute)
	require.NoError(t, l.Advance(ctx, 9, "crm", "CRM-Deals", started))
	assert.Equal(t, started.Add(-5*time.Minute), l.Watermark(ctx, 9, "crm", "crm_deals", now))
	assert.Equal(t, lookback, l.Watermark(ctx, 9, "erp", "crm_deals", now), "other sources do not share a watermark")
	assert.Equal(t, lookback, l.Watermark(ctx, 10, "crm", "crm_deals", now), "other tenants do not share a watermark")

	store.FailWith(errors.New(errors.ErrorTypeQuery, "read only"))
	err = l.Advance(ctx, 9, "crm", "crm_deals", now)
	assert.True(t, errors.HasType(err, errors.ErrorTypeQuery))
	assert.Equal(t, started.Add(-5*time.Minute), l.Watermark(ctx, 9, "crm", "crm_deals", now), "a failed write keeps the old watermark")
}

func TestListTablesAndDescribe(t *testing.T) {
	l, _ := newLoader(t)
	ctx := context.Background()

	tables, err := l.ListTables(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, tables)

	for _, table := range []string{"mailchimp_lists", "harvest_users"} {
		_, err := l.Load(ctx, table, []*core.Record{record("id", "x")}, "test", 5)
		require.NoError(t, err)
	}
	tables, err = l.ListTables(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"harvest_users", "mailchimp_lists"}, tables)

	_, err = l.DescribeTable(ctx, 5, "missing")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestSchemaName(t *testing.T) {
	l, _ := newLoader(t)
	assert.Equal(t, "analytics_company_123", l.SchemaName(123))

	custom := New(NewMemoryStore(), Options{SchemaPrefix: "tenant_"}, nil)
	assert.Equal(t, "tenant_7", custom.SchemaName(7))
}

func TestOpen(t *testing.T) {
	store, err := Open(context.Background(), config.StoreConfig{Driver: "memory"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "memory", store.Dialect().Name)

	_, err = Open(context.Background(), config.StoreConfig{Driver: "oracle"}, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = Open(context.Background(), config.StoreConfig{Driver: "postgres"}, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), "postgres without a url")
}
