package archive

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/tributary/pkg/config"
	"github.com/ajitpratap0/tributary/pkg/connector/core"
	"github.com/ajitpratap0/tributary/pkg/errors"
)

func deals() []*core.Record {
	a := core.NewRecord(2)
	a.Set("id", core.String("1"))
	a.Set("amount", core.Int(1500))
	b := core.NewRecord(2)
	b.Set("id", core.String("2"))
	b.Set("amount", core.Null())
	return []*core.Record{a, b}
}

func TestKeyPath(t *testing.T) {
	key := Key{
		TenantID:      42,
		ConnectorType: "HubSpot",
		Table:         "Deal Stages",
		SyncID:        "abc",
		Time:          time.Date(2024, 3, 9, 23, 30, 0, 0, time.FixedZone("x", -2*3600)),
	}

	assert.Equal(t, "raw/company_42/hubspot/deal_stages/2024/03/10/abc.jsonl.gz", key.Path("/raw/", Gzip))
	assert.Equal(t, "company_42/hubspot/deal_stages/2024/03/10/abc.jsonl.zst", key.Path("", Zstd))
}

func TestEncodeDecode(t *testing.T) {
	for _, codec := range []Codec{Gzip, Zstd} {
		t.Run(string(codec), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Encode(&buf, codec, deals()))

			lines, err := Decode(&buf, codec)
			require.NoError(t, err)
			require.Len(t, lines, 2)
			assert.JSONEq(t, `{"id":"1","amount":1500}`, string(lines[0]))
			assert.JSONEq(t, `{"id":"2","amount":null}`, string(lines[1]))
		})
	}
}

func TestBlobArchiver(t *testing.T) {
	backend := NewMemoryBackend()
	a := NewBlobArchiver(backend, "raw", "", zaptest.NewLogger(t))
	ctx := context.Background()
	key := Key{TenantID: 1, ConnectorType: "jira", Table: "issues", SyncID: "s1", Time: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}

	name, err := a.Archive(ctx, key, deals())
	require.NoError(t, err)
	assert.Equal(t, "raw/company_1/jira/issues/2024/01/02/s1.jsonl.gz", name)

	obj, ok := backend.Object(name)
	require.True(t, ok)
	assert.Equal(t, "application/x-ndjson", obj.ContentType)
	assert.Equal(t, "gzip", obj.ContentEncoding)

	lines, err := Decode(bytes.NewReader(obj.Body), Gzip)
	require.NoError(t, err)
	assert.Len(t, lines, 2)

	t.Run("empty batch writes nothing", func(t *testing.T) {
		name, err := a.Archive(ctx, Key{TenantID: 1, ConnectorType: "jira", Table: "projects", SyncID: "s2"}, nil)
		require.NoError(t, err)
		assert.Empty(t, name)
		assert.Len(t, backend.Names(), 1)
	})

	t.Run("backend error is returned", func(t *testing.T) {
		backend.FailWith(fmt.Errorf("bucket gone"))
		_, err := a.Archive(ctx, key, deals())
		assert.EqualError(t, err, "bucket gone")
	})
}

func TestNoop(t *testing.T) {
	name, err := Noop{}.Archive(context.Background(), Key{}, deals())
	assert.NoError(t, err)
	assert.Empty(t, name)
	assert.NoError(t, Noop{}.Close())
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	a, err := Open(ctx, config.Default().Archive, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.IsType(t, Noop{}, a)

	_, err = Open(ctx, config.ArchiveConfig{Backend: "azure"}, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = Open(ctx, config.ArchiveConfig{Backend: "s3"}, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), "bucket is required")

	_, err = Open(ctx, config.ArchiveConfig{Backend: "gcs"}, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), "bucket is required")
}
