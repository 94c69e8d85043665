package harvest

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
	"github.com/ajitpratap0/tributary/pkg/testutil"
)

type mockHarvest struct {
	t          *testing.T
	totalPages int

	mu       sync.Mutex
	requests []*http.Request
}

func (m *mockHarvest) seen() []*http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*http.Request(nil), m.requests...)
}

func (m *mockHarvest) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t := m.t
	if r.Header.Get("Authorization") != "Bearer pat" || r.Header.Get("Harvest-Account-ID") != "123456" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	m.mu.Lock()
	m.requests = append(m.requests, r)
	m.mu.Unlock()

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	switch r.URL.Path {
	case "/users/me":
		testutil.WriteJSON(t, w, map[string]interface{}{"id": 1782884, "first_name": "Bob"})

	case "/time_entries":
		var entries []map[string]interface{}
		perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
		n := perPage
		if page == m.totalPages {
			n = 7
		}
		for i := 0; i < n; i++ {
			entries = append(entries, map[string]interface{}{
				"id":         page*1000 + i,
				"hours":      1.5,
				"spent_date": "2024-05-01",
				"user":       map[string]interface{}{"id": 1782959, "name": "Kim Allen"},
				"project":    map[string]interface{}{"id": 14307913, "name": "Marketing Website", "code": "MW"},
				"updated_at": "2024-05-01T18:00:00Z",
			})
		}
		testutil.WriteJSON(t, w, map[string]interface{}{
			"time_entries": entries, "per_page": perPage, "total_pages": m.totalPages, "page": page,
			"links": map[string]string{"first": "..."},
		})

	case "/roles":
		testutil.WriteJSON(t, w, map[string]interface{}{
			"roles":       []map[string]interface{}{{"id": 1, "name": "Designer", "user_ids": []int{8083365}}},
			"total_pages": 1,
		})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newConnector(t *testing.T, m *mockHarvest) core.Connector {
	return newConnectorWithLimits(t, m, core.Limits{PageSize: 100})
}

func newConnectorWithLimits(t *testing.T, m *mockHarvest, limits core.Limits) core.Connector {
	srv := httptest.NewServer(m)
	t.Cleanup(srv.Close)
	opts := testutil.ConnectorOptions(t, srv.URL)
	opts.Limits = limits
	conn, err := New(1, core.RawCredentials{"account_id": "123456", "access_token": "pat"}, opts)
	require.NoError(t, err)
	return conn
}

func TestExtract_PagesUntilTotalPages(t *testing.T) {
	m := &mockHarvest{t: t, totalPages: 3}
	records, err := newConnector(t, m).Extract(context.Background(), core.ExtractRequest{Table: "time_entries"})
	require.NoError(t, err)

	assert.Len(t, records, 2*100+7)
	assert.Len(t, m.seen(), 3)

	r := records[0]
	assert.Equal(t, "Kim Allen", testutil.Field(r, "user_name"))
	assert.Equal(t, "14307913", testutil.Field(r, "project_id"))
	spent, _ := r.Get("spent_date")
	assert.Equal(t, core.KindTime, spent.Kind())
}

func TestExtract_IncrementalUpdatedSince(t *testing.T) {
	m := &mockHarvest{t: t, totalPages: 1}
	since := time.Date(2024, 4, 30, 12, 0, 0, 0, time.UTC)
	_, err := newConnector(t, m).Extract(context.Background(), core.ExtractRequest{Table: "time_entries", Incremental: true, Since: since})
	require.NoError(t, err)

	reqs := m.seen()
	require.Len(t, reqs, 1)
	assert.Equal(t, "2024-04-30T12:00:00Z", reqs[0].URL.Query().Get("updated_since"))
	assert.Equal(t, "100", reqs[0].URL.Query().Get("per_page"))
}

func TestExtract_PageSizeIsClampedToTheAPIMaximum(t *testing.T) {
	m := &mockHarvest{t: t, totalPages: 1}
	_, err := newConnectorWithLimits(t, m, core.Limits{PageSize: 5000}).Extract(context.Background(), core.ExtractRequest{Table: "time_entries"})
	require.NoError(t, err)
	assert.Equal(t, "2000", m.seen()[0].URL.Query().Get("per_page"))

	m = &mockHarvest{t: t, totalPages: 1}
	_, err = newConnectorWithLimits(t, m, core.Limits{}).Extract(context.Background(), core.ExtractRequest{Table: "roles"})
	require.NoError(t, err)
	assert.Equal(t, "2000", m.seen()[0].URL.Query().Get("per_page"), "unset uses the maximum")
}

func TestExtract_ArrayMembersAreSummarized(t *testing.T) {
	records, err := newConnector(t, &mockHarvest{t: t}).Extract(context.Background(), core.ExtractRequest{Table: "roles"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "1", testutil.Field(records[0], "user_ids_count"))
}

func TestTestConnection(t *testing.T) {
	assert.NoError(t, newConnector(t, &mockHarvest{t: t}).TestConnection(context.Background()))
}

func TestListOf(t *testing.T) {
	resp := map[string]interface{}{
		"links":   []interface{}{map[string]interface{}{"x": 1}},
		"entries": []interface{}{map[string]interface{}{"id": 1}},
	}
	assert.Len(t, listOf(resp, "time_entries"), 1)
	assert.Nil(t, listOf(map[string]interface{}{"links": []interface{}{}}, "clients"))
}
