package salesforce

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tributary/pkg/connector/core"
	"github.com/ajitpratap0/tributary/pkg/errors"
	"github.com/ajitpratap0/tributary/pkg/testutil"
)

type mockOrg struct {
	t      *testing.T
	srv    *httptest.Server
	logins int32
	pages  int32

	mu      sync.Mutex
	session string
	queries []string
	options []string
}

func newMockOrg(t *testing.T) *mockOrg {
	m := &mockOrg{t: t}
	m.srv = httptest.NewServer(m)
	t.Cleanup(m.srv.Close)
	return m
}

func (m *mockOrg) expire() {
	m.mu.Lock()
	m.session = "expired-on-server"
	m.mu.Unlock()
}

func (m *mockOrg) lastQuery() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queries) == 0 {
		return ""
	}
	return m.queries[len(m.queries)-1]
}

func (m *mockOrg) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t := m.t
	if r.URL.Path == "/services/oauth2/token" {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "password", r.Form.Get("grant_type"))
		assert.Equal(t, "hunter2TOKEN", r.Form.Get("password"))
		n := atomic.AddInt32(&m.logins, 1)
		token := "session-" + string(rune('0'+n))
		m.mu.Lock()
		m.session = token
		m.mu.Unlock()
		testutil.WriteJSON(t, w, map[string]interface{}{
			"access_token": token, "token_type": "Bearer", "instance_url": m.srv.URL,
		})
		return
	}

	m.mu.Lock()
	session := m.session
	m.mu.Unlock()
	if r.Header.Get("Authorization") != "Bearer "+session {
		w.WriteHeader(http.StatusUnauthorized)
		testutil.WriteJSON(t, w, []map[string]string{{"errorCode": "INVALID_SESSION_ID"}})
		return
	}

	switch {
	case r.URL.Path == "/services/data/v57.0/sobjects":
		testutil.WriteJSON(t, w, map[string]interface{}{"sobjects": []map[string]interface{}{
			{"name": "Account", "queryable": true, "createable": true},
			{"name": "Account__History", "queryable": true, "createable": true},
			{"name": "Account__Share", "queryable": true, "createable": true},
			{"name": "SetupAuditTrail", "queryable": true, "createable": true},
			{"name": "ApexLog", "queryable": true, "createable": false},
			{"name": "Opportunity", "queryable": true, "createable": true},
		}})

	case strings.HasSuffix(r.URL.Path, "/describe"):
		testutil.WriteJSON(t, w, map[string]interface{}{"fields": []map[string]string{
			{"name": "Id", "type": "id"},
			{"name": "Name", "type": "string"},
			{"name": "BillingAddress", "type": "address"},
			{"name": "LastModifiedDate", "type": "datetime"},
		}})

	case r.URL.Path == "/services/data/v57.0/query":
		m.mu.Lock()
		m.queries = append(m.queries, r.URL.Query().Get("q"))
		m.options = append(m.options, r.Header.Get("Sforce-Query-Options"))
		m.mu.Unlock()
		atomic.AddInt32(&m.pages, 1)
		testutil.WriteJSON(t, w, map[string]interface{}{
			"totalSize": 3, "done": false, "nextRecordsUrl": "/services/data/v57.0/query/01g-2000",
			"records": []map[string]interface{}{account("001A"), account("001B")},
		})

	case r.URL.Path == "/services/data/v57.0/query/01g-2000":
		atomic.AddInt32(&m.pages, 1)
		testutil.WriteJSON(t, w, map[string]interface{}{
			"totalSize": 3, "done": true,
			"records": []map[string]interface{}{account("001C")},
		})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func account(id string) map[string]interface{} {
	return map[string]interface{}{
		"attributes":       map[string]string{"type": "Account", "url": "/services/data/v57.0/sobjects/Account/" + id},
		"Id":               id,
		"Name":             "Acme " + id,
		"LastModifiedDate": "2024-05-01T10:00:00.000+0000",
	}
}

func credentials(instance string) core.RawCredentials {
	return core.RawCredentials{
		"client_id": "cid", "client_secret": "secret", "username": "ops@example.com",
		"password": "hunter2", "security_token": "TOKEN", "instance_url": instance,
	}
}

func newConnector(t *testing.T, m *mockOrg) *Connector {
	conn, err := New(1, credentials(m.srv.URL), testutil.ConnectorOptions(t, ""))
	require.NoError(t, err)
	return conn.(*Connector)
}

func TestExtract_FollowsContinuation(t *testing.T) {
	m := newMockOrg(t)
	c := newConnector(t, m)

	records, err := c.Extract(context.Background(), core.ExtractRequest{Table: "Account"})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, int32(2), atomic.LoadInt32(&m.pages))

	assert.Equal(t, "SELECT Id, Name, LastModifiedDate FROM Account ORDER BY LastModifiedDate DESC LIMIT 10000", m.lastQuery())

	first := records[0]
	assert.Equal(t, []string{"Id", "LastModifiedDate", "Name"}, first.Keys())
	v, _ := first.Get("LastModifiedDate")
	assert.Equal(t, core.KindTime, v.Kind())
}

func TestExtract_IncrementalFiltersOnLastModified(t *testing.T) {
	m := newMockOrg(t)
	c := newConnector(t, m)

	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err := c.Extract(context.Background(), core.ExtractRequest{Table: "Account", Incremental: true, Since: since})
	require.NoError(t, err)
	assert.Contains(t, m.lastQuery(), "WHERE LastModifiedDate >= 2024-03-01T00:00:00Z")
}

func TestExtract_BatchSize(t *testing.T) {
	for _, tt := range []struct {
		pageSize int
		want     string
	}{
		{pageSize: 0, want: ""},
		{pageSize: 50, want: "batchSize=200"},
		{pageSize: 500, want: "batchSize=500"},
		{pageSize: 9000, want: "batchSize=2000"},
	} {
		m := newMockOrg(t)
		opts := testutil.ConnectorOptions(t, "")
		opts.Limits = core.Limits{PageSize: tt.pageSize}
		conn, err := New(1, credentials(m.srv.URL), opts)
		require.NoError(t, err)

		_, err = conn.Extract(context.Background(), core.ExtractRequest{Table: "Account"})
		require.NoError(t, err)
		m.mu.Lock()
		assert.Equal(t, tt.want, m.options[0], "page size %d", tt.pageSize)
		m.mu.Unlock()
	}
}

func TestExtract_RecordCapIsReported(t *testing.T) {
	m := newMockOrg(t)
	opts := testutil.ConnectorOptions(t, "")
	opts.Limits = core.Limits{MaxRecords: 2}
	conn, err := New(1, credentials(m.srv.URL), opts)
	require.NoError(t, err)

	records, err := conn.Extract(context.Background(), core.ExtractRequest{Table: "Account"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeCapped))
	assert.Len(t, records, 2)
}

func TestExpiredSessionLogsInAgain(t *testing.T) {
	m := newMockOrg(t)
	c := newConnector(t, m)

	require.NoError(t, c.TestConnection(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&m.logins))

	m.expire()
	require.NoError(t, c.TestConnection(context.Background()))
	assert.Equal(t, int32(2), atomic.LoadInt32(&m.logins))
}

func TestListTables_FiltersSystemObjects(t *testing.T) {
	m := newMockOrg(t)
	tables, err := newConnector(t, m).ListTables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Account", "Opportunity"}, tables)
}

func TestListTables_FallsBackWhenLoginFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		testutil.WriteJSON(t, w, map[string]string{"error": "invalid_grant"})
	}))
	defer srv.Close()

	conn, err := New(1, credentials(srv.URL), testutil.ConnectorOptions(t, ""))
	require.NoError(t, err)

	tables, err := conn.ListTables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultObjects, tables)
	assert.Error(t, conn.TestConnection(context.Background()))
}

func TestSOQL(t *testing.T) {
	assert.Equal(t,
		"SELECT Id, Name FROM Lead WHERE LastModifiedDate >= 2024-01-02T03:04:05Z ORDER BY LastModifiedDate DESC LIMIT 10000",
		SOQL("Lead", []string{"Id", "Name"}, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))
}
