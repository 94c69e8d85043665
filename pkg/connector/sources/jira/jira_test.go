package jira

import (
	"context"
	"fmt"
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

type mockJira struct {
	t      *testing.T
	issues int
	zone   string

	mu       sync.Mutex
	requests []*http.Request
}

func (m *mockJira) seen(path string) []*http.Request {
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

func (m *mockJira) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t := m.t
	user, pass, ok := r.BasicAuth()
	if !ok || user != "dev@example.com" || pass != "api-token" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	m.mu.Lock()
	m.requests = append(m.requests, r)
	m.mu.Unlock()

	startAt, _ := strconv.Atoi(r.URL.Query().Get("startAt"))
	size, _ := strconv.Atoi(r.URL.Query().Get("maxResults"))
	switch r.URL.Path {
	case "/rest/api/3/myself":
		testutil.WriteJSON(t, w, map[string]string{"accountId": "abc", "timeZone": m.zone})

	case "/rest/api/3/search":
		var issues []map[string]interface{}
		for i := startAt; i < m.issues && i < startAt+size; i++ {
			issues = append(issues, map[string]interface{}{
				"id":   strconv.Itoa(10000 + i),
				"key":  fmt.Sprintf("OPS-%d", i),
				"self": "https://example.atlassian.net/rest/api/3/issue/" + strconv.Itoa(10000+i),
				"fields": map[string]interface{}{
					"summary":  "Broken build",
					"status":   map[string]interface{}{"id": "3", "name": "In Progress"},
					"assignee": map[string]interface{}{"accountId": "u1", "displayName": "Sam Lee"},
					"labels":   []interface{}{"infra", "ci"},
					"updated":  "2024-05-01T09:30:00.000+0000",
				},
			})
		}
		testutil.WriteJSON(t, w, map[string]interface{}{"startAt": startAt, "total": m.issues, "issues": issues})

	case "/rest/api/3/users/search":
		var users []map[string]interface{}
		for i := 0; i < 30; i++ {
			users = append(users, map[string]interface{}{"accountId": fmt.Sprintf("u%d", i), "displayName": "User"})
		}
		testutil.WriteJSON(t, w, users)

	case "/rest/api/3/status":
		testutil.WriteJSON(t, w, []map[string]interface{}{
			{"id": "1", "name": "Open", "statusCategory": map[string]interface{}{"id": 2, "key": "new", "name": "To Do"}},
		})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newConnector(t *testing.T, m *mockJira) core.Connector {
	return newConnectorWithOptions(t, m, testutil.ConnectorOptions(t, ""))
}

func newConnectorWithOptions(t *testing.T, m *mockJira, opts core.Options) core.Connector {
	srv := httptest.NewServer(m)
	t.Cleanup(srv.Close)
	conn, err := New(1, core.RawCredentials{
		"server_url": srv.URL, "username": "dev@example.com", "api_token": "api-token",
	}, opts)
	require.NoError(t, err)
	return conn
}

func TestExtract_IssuesPagination(t *testing.T) {
	tests := []struct {
		issues   int
		requests int
	}{
		{issues: 0, requests: 1},
		{issues: 40, requests: 1},
		{issues: 100, requests: 1},
		{issues: 250, requests: 3},
	}
	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.issues), func(t *testing.T) {
			m := &mockJira{t: t, issues: tt.issues}
			records, err := newConnector(t, m).Extract(context.Background(), core.ExtractRequest{Table: "issues"})
			require.NoError(t, err)
			assert.Len(t, records, tt.issues)
			assert.Len(t, m.seen("/rest/api/3/search"), tt.requests)
		})
	}
}

func TestExtract_IssueFlattening(t *testing.T) {
	m := &mockJira{t: t, issues: 1}
	records, err := newConnector(t, m).Extract(context.Background(), core.ExtractRequest{Table: "issues"})
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "10000", testutil.Field(r, "id"))
	assert.Equal(t, "OPS-0", testutil.Field(r, "key"))
	assert.Equal(t, "In Progress", testutil.Field(r, "status_name"))
	assert.Equal(t, "Sam Lee", testutil.Field(r, "assignee_display_name"))
	assert.Equal(t, "2", testutil.Field(r, "labels_count"))
	updated, _ := r.Get("updated")
	ts, ok := updated.AsTime()
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC), ts)
}

func TestExtract_IncrementalJQL(t *testing.T) {
	since := time.Date(2024, 4, 2, 13, 45, 10, 0, time.UTC)
	tests := []struct {
		name   string
		zone   string
		option string
		want   string
	}{
		{name: "utc user", zone: "UTC", want: `updated >= "2024-04-02 13:45" ORDER BY updated DESC`},
		{name: "user zone", zone: "America/New_York", want: `updated >= "2024-04-02 09:45" ORDER BY updated DESC`},
		{name: "option wins", zone: "America/New_York", option: "Asia/Tokyo", want: `updated >= "2024-04-02 22:45" ORDER BY updated DESC`},
		{name: "unknown zone widens", zone: "", want: `updated >= "2024-04-01 23:45" ORDER BY updated DESC`},
		{name: "invalid zone widens", zone: "Mars/Olympus", want: `updated >= "2024-04-01 23:45" ORDER BY updated DESC`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockJira{t: t, issues: 3, zone: tt.zone}
			opts := testutil.ConnectorOptions(t, "")
			if tt.option != "" {
				opts.Config = map[string]string{"timezone": tt.option}
			}
			conn := newConnectorWithOptions(t, m, opts)
			_, err := conn.Extract(context.Background(), core.ExtractRequest{Table: "issues", Incremental: true, Since: since})
			require.NoError(t, err)

			reqs := m.seen("/rest/api/3/search")
			require.Len(t, reqs, 1)
			assert.Equal(t, tt.want, reqs[0].URL.Query().Get("jql"))
			assert.Equal(t, "100", reqs[0].URL.Query().Get("maxResults"))
		})
	}
}

func TestExtract_ConfiguredPageSize(t *testing.T) {
	m := &mockJira{t: t, issues: 120}
	opts := testutil.ConnectorOptions(t, "")
	opts.Limits = core.Limits{PageSize: 50}
	records, err := newConnectorWithOptions(t, m, opts).Extract(context.Background(), core.ExtractRequest{Table: "issues"})
	require.NoError(t, err)
	assert.Len(t, records, 120)

	reqs := m.seen("/rest/api/3/search")
	require.Len(t, reqs, 3)
	assert.Equal(t, "50", reqs[2].URL.Query().Get("maxResults"))
	assert.Equal(t, "100", reqs[2].URL.Query().Get("startAt"))
}

func TestExtract_OffsetLimitIsReportedAsCap(t *testing.T) {
	m := &mockJira{t: t, issues: maxStartAt + 500}
	opts := testutil.ConnectorOptions(t, "")
	opts.Limits = core.Limits{MaxPages: 1000, MaxRecords: 100000}
	records, err := newConnectorWithOptions(t, m, opts).Extract(context.Background(), core.ExtractRequest{Table: "issues"})
	require.Error(t, err)
	assert.True(t, errors.HasType(err, errors.ErrorTypeCapped))
	assert.Len(t, records, maxStartAt+maxResults)
}

func TestExtract_ReferenceTables(t *testing.T) {
	m := &mockJira{t: t}
	conn := newConnector(t, m)

	users, err := conn.Extract(context.Background(), core.ExtractRequest{Table: "users"})
	require.NoError(t, err)
	assert.Len(t, users, 30)

	statuses, err := conn.Extract(context.Background(), core.ExtractRequest{Table: "statuses"})
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "To Do", testutil.Field(statuses[0], "statusCategory_name"))
	assert.Empty(t, m.seen("/rest/api/3/status")[0].URL.Query().Get("startAt"))
}

func TestExtract_UnknownTable(t *testing.T) {
	_, err := newConnector(t, &mockJira{t: t}).Extract(context.Background(), core.ExtractRequest{Table: "sprints"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestTestConnection(t *testing.T) {
	conn := newConnector(t, &mockJira{t: t})
	assert.NoError(t, conn.TestConnection(context.Background()))

	srv := httptest.NewServer(&mockJira{t: t})
	defer srv.Close()
	bad, err := New(1, core.RawCredentials{"server_url": srv.URL, "username": "dev@example.com", "api_token": "wrong"}, testutil.ConnectorOptions(t, ""))
	require.NoError(t, err)
	assert.Error(t, bad.TestConnection(context.Background()))
}
