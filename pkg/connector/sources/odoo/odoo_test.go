package odoo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tributary/pkg/connector/core"
	"github.com/ajitpratap0/tributary/pkg/errors"
	"github.com/ajitpratap0/tributary/pkg/testutil"
)

type mockOdoo struct {
	t       *testing.T
	partner int

	mu     sync.Mutex
	calls  []map[string]interface{}
	logins int
}

func (m *mockOdoo) snapshot() ([]map[string]interface{}, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]interface{}(nil), m.calls...), m.logins
}

func rpcResult(t *testing.T, w http.ResponseWriter, result interface{}) {
	testutil.WriteJSON(t, w, map[string]interface{}{"jsonrpc": "2.0", "id": 1, "result": result})
}

func (m *mockOdoo) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t := m.t
	if r.URL.Path != "/jsonrpc" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	body := testutil.ReadJSON(t, r)
	params, _ := body["params"].(map[string]interface{})
	m.mu.Lock()
	m.calls = append(m.calls, params)
	m.mu.Unlock()

	switch {
	case params["service"] == "common" && params["method"] == "version":
		rpcResult(t, w, map[string]interface{}{"server_version": "17.0", "protocol_version": 1})

	case params["service"] == "common" && params["method"] == "login":
		m.mu.Lock()
		m.logins++
		m.mu.Unlock()
		args := params["args"].([]interface{})
		if args[2] != "s3cret" {
			rpcResult(t, w, false)
			return
		}
		rpcResult(t, w, 7)

	case params["service"] == "object" || params["model"] != nil:
		var kwargs map[string]interface{}
		if params["service"] == "object" {
			args := params["args"].([]interface{})
			kwargs = args[6].(map[string]interface{})
		} else {
			if r.Header.Get("Authorization") != "Bearer odoo-token" {
				testutil.WriteJSON(t, w, map[string]interface{}{"jsonrpc": "2.0", "id": 1, "error": map[string]interface{}{
					"code": 100, "message": "Odoo Session Expired",
					"data": map[string]interface{}{"name": "odoo.http.SessionExpiredException", "message": "Session expired"},
				}})
				return
			}
			kwargs = params["kwargs"].(map[string]interface{})
		}
		offset := int(kwargs["offset"].(float64))
		limit := int(kwargs["limit"].(float64))
		var rows []map[string]interface{}
		for i := offset; i < m.partner && i < offset+limit; i++ {
			rows = append(rows, map[string]interface{}{
				"id":          i + 1,
				"name":        "Azure Interior",
				"country_id":  []interface{}{233, "United States"},
				"parent_id":   false,
				"email":       false,
				"create_date": "2024-01-05 08:00:00",
				"write_date":  "2024-05-05 08:00:00",
			})
		}
		rpcResult(t, w, rows)

	default:
		testutil.WriteJSON(t, w, map[string]interface{}{"jsonrpc": "2.0", "id": 1, "error": map[string]interface{}{
			"code": 200, "message": "Odoo Server Error",
			"data": map[string]interface{}{"name": "builtins.KeyError", "message": "unexpected call"},
		}})
	}
}

func connect(t *testing.T, m *mockOdoo, creds core.RawCredentials) core.Connector {
	srv := httptest.NewServer(m)
	t.Cleanup(srv.Close)
	creds["odoo_instance_url"] = srv.URL
	creds["database"] = "prod"
	conn, err := New(1, creds, testutil.ConnectorOptions(t, ""))
	require.NoError(t, err)
	return conn
}

func TestExtract_BearerPagination(t *testing.T) {
	m := &mockOdoo{t: t, partner: 450}
	records, err := connect(t, m, core.RawCredentials{"access_token": "odoo-token"}).
		Extract(context.Background(), core.ExtractRequest{Table: "res_partner"})
	require.NoError(t, err)
	assert.Len(t, records, 450)

	calls, _ := m.snapshot()
	require.Len(t, calls, 3)
	assert.Equal(t, "res.partner", calls[0]["model"])
	assert.Equal(t, "search_read", calls[0]["method"])
	assert.Equal(t, float64(400), calls[2]["kwargs"].(map[string]interface{})["offset"])

	r := records[0]
	assert.Equal(t, "233", testutil.Field(r, "country_id_id"))
	assert.Equal(t, "United States", testutil.Field(r, "country_id_name"))
	parent, ok := r.Get("parent_id")
	require.True(t, ok)
	assert.True(t, parent.IsNull())
	email, _ := r.Get("email")
	assert.Equal(t, core.KindBool, email.Kind())
	written, _ := r.Get("write_date")
	assert.Equal(t, core.KindTime, written.Kind())
}

func TestExtract_IncrementalDomain(t *testing.T) {
	m := &mockOdoo{t: t, partner: 1}
	since := time.Date(2024, 5, 1, 6, 30, 0, 0, time.UTC)
	_, err := connect(t, m, core.RawCredentials{"access_token": "odoo-token"}).
		Extract(context.Background(), core.ExtractRequest{Table: "res_partner", Incremental: true, Since: since})
	require.NoError(t, err)

	calls, _ := m.snapshot()
	domain := calls[0]["args"].([]interface{})[0]
	assert.Equal(t, []interface{}{[]interface{}{"write_date", ">=", "2024-05-01 06:30:00"}}, domain)
}

func TestExtract_LoginModeUsesExecuteKw(t *testing.T) {
	m := &mockOdoo{t: t, partner: 3}
	conn := connect(t, m, core.RawCredentials{"username": "admin", "password": "s3cret"})

	require.NoError(t, conn.TestConnection(context.Background()))
	records, err := conn.Extract(context.Background(), core.ExtractRequest{Table: "res_partner"})
	require.NoError(t, err)
	assert.Len(t, records, 3)

	calls, logins := m.snapshot()
	assert.Equal(t, 1, logins, "uid is cached after the first login")
	last := calls[len(calls)-1]
	assert.Equal(t, "execute_kw", last["method"])
	args := last["args"].([]interface{})
	assert.Equal(t, []interface{}{"prod", float64(7), "s3cret", "res.partner", "search_read"}, args[:5])
}

func TestClose_ForgetsSession(t *testing.T) {
	m := &mockOdoo{t: t, partner: 1}
	conn := connect(t, m, core.RawCredentials{"username": "admin", "password": "s3cret"})
	require.NoError(t, conn.TestConnection(context.Background()))

	closer, ok := conn.(core.Closer)
	require.True(t, ok)
	require.NoError(t, closer.Close(context.Background()))
	require.NoError(t, closer.Close(context.Background()), "close is idempotent")

	_, err := conn.Extract(context.Background(), core.ExtractRequest{Table: "res_partner"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	_, logins := m.snapshot()
	assert.Equal(t, 1, logins, "a closed connector does not log in again")
}

func TestLoginRejected(t *testing.T) {
	m := &mockOdoo{t: t}
	conn := connect(t, m, core.RawCredentials{"username": "admin", "password": "wrong"})
	err := conn.TestConnection(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
}

func TestRPCErrorIsAuthFailure(t *testing.T) {
	m := &mockOdoo{t: t, partner: 1}
	_, err := connect(t, m, core.RawCredentials{"access_token": "stale"}).
		Extract(context.Background(), core.ExtractRequest{Table: "res_partner"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
}

func TestNewRequiresTokenOrLogin(t *testing.T) {
	_, err := New(1, core.RawCredentials{"odoo_instance_url": "https://erp.example.com", "database": "prod"}, core.Options{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
