package mailchimp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tributary/pkg/connector/core"
	"github.com/ajitpratap0/tributary/pkg/errors"
	"github.com/ajitpratap0/tributary/pkg/testutil"
)

type mockMailchimp struct {
	t         *testing.T
	campaigns int

	mu       sync.Mutex
	requests []*http.Request
}

func (m *mockMailchimp) seen(path string) []*http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*http.Request
	for _, r := range m.requests {
		if r.URL.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func (m *mockMailchimp) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t := m.t
	if r.Header.Get("Authorization") != "Bearer mc-token" {
		w.WriteHeader(http.StatusUnauthorized)
		testutil.WriteJSON(t, w, map[string]interface{}{"title": "API Key Invalid", "status": 401})
		return
	}
	m.mu.Lock()
	m.requests = append(m.requests, r)
	m.mu.Unlock()

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	count, _ := strconv.Atoi(r.URL.Query().Get("count"))
	switch r.URL.Path {
	case "/ping":
		testutil.WriteJSON(t, w, map[string]string{"health_status": "Everything's Chimpy!"})

	case "/campaigns":
		var rows []map[string]interface{}
		for i := offset; i < m.campaigns && i < offset+count; i++ {
			rows = append(rows, map[string]interface{}{
				"id":          "c" + strconv.Itoa(i),
				"type":        "regular",
				"create_time": "2024-05-01T10:00:00+00:00",
				"recipients":  map[string]interface{}{"list_id": "57afe96172", "list_name": "Newsletter"},
			})
		}
		testutil.WriteJSON(t, w, map[string]interface{}{"campaigns": rows, "total_items": m.campaigns})

	case "/templates":
		testutil.WriteJSON(t, w, map[string]interface{}{
			"templates": []map[string]interface{}{
				{"id": 1, "name": "Old", "date_edited": "2023-01-01T00:00:00+00:00"},
				{"id": 2, "name": "New", "date_edited": "2024-06-01T00:00:00+00:00"},
				{"id": 3, "name": "Never edited", "date_edited": ""},
			},
			"total_items": 3,
		})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newConnector(t *testing.T, m *mockMailchimp) core.Connector {
	srv := httptest.NewServer(m)
	t.Cleanup(srv.Close)
	conn, err := New(1, core.RawCredentials{"access_token": "mc-token", "server_prefix": "us12"}, testutil.ConnectorOptions(t, srv.URL))
	require.NoError(t, err)
	return conn
}

func TestExtract_OffsetPagination(t *testing.T) {
	m := &mockMailchimp{t: t, campaigns: 2300}
	records, err := newConnector(t, m).Extract(context.Background(), core.ExtractRequest{Table: "campaigns"})
	require.NoError(t, err)

	assert.Len(t, records, 2300)
	reqs := m.seen("/campaigns")
	require.Len(t, reqs, 3)
	assert.Equal(t, "2000", reqs[2].URL.Query().Get("offset"))
	assert.Equal(t, "1000", reqs[2].URL.Query().Get("count"))
}

func TestExtract_ExactPageStopsOnTotal(t *testing.T) {
	m := &mockMailchimp{t: t, campaigns: 1000}
	records, err := newConnector(t, m).Extract(context.Background(), core.ExtractRequest{Table: "campaigns"})
	require.NoError(t, err)
	assert.Len(t, records, 1000)
	assert.Len(t, m.seen("/campaigns"), 1)
}

func TestExtract_CampaignsIncrementalUsesServerFilter(t *testing.T) {
	m := &mockMailchimp{t: t, campaigns: 2}
	since := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	records, err := newConnector(t, m).Extract(context.Background(), core.ExtractRequest{Table: "campaigns", Incremental: true, Since: since})
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, "2024-04-01T00:00:00Z", m.seen("/campaigns")[0].URL.Query().Get("since_create_time"))
	assert.Contains(t, testutil.Field(records[0], "recipients"), "57afe96172")
}

func TestExtract_TemplatesFilteredClientSide(t *testing.T) {
	m := &mockMailchimp{t: t}
	conn := newConnector(t, m)

	full, err := conn.Extract(context.Background(), core.ExtractRequest{Table: "templates"})
	require.NoError(t, err)
	assert.Len(t, full, 3)

	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	inc, err := conn.Extract(context.Background(), core.ExtractRequest{Table: "templates", Incremental: true, Since: since})
	require.NoError(t, err)
	require.Len(t, inc, 2)
	assert.Equal(t, "New", testutil.Field(inc[0], "name"))
	assert.Equal(t, "Never edited", testutil.Field(inc[1], "name"))
}

func TestUnauthorizedIsAuthFailure(t *testing.T) {
	srv := httptest.NewServer(&mockMailchimp{t: t})
	defer srv.Close()
	conn, err := New(1, core.RawCredentials{"access_token": "bad", "server_prefix": "us12"}, testutil.ConnectorOptions(t, srv.URL))
	require.NoError(t, err)

	err = conn.TestConnection(context.Background())
	assert.True(t, errors.HasType(err, errors.ErrorTypeAuthentication))
}
