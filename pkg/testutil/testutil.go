// Package testutil provides testing utilities for tributary
package testutil

import (
	"net/http"
	"testing"
	"time"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/tributary/pkg/clients"
	"github.com/ajitpratap0/tributary/pkg/connector/core"
)

// TestLogger creates a test logger that writes to the test output.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// HTTPClient returns a client without rate limiting or circuit breaking, so
// tests against httptest servers are deterministic.
func HTTPClient(t *testing.T) *clients.HTTPClient {
	cfg := clients.DefaultHTTPConfig()
	cfg.RateLimit = 0
	cfg.CircuitBreakerEnabled = false
	cfg.EnableHTTP2 = false
	cfg.RequestTimeout = 5 * time.Second
	return clients.NewHTTPClient(cfg, zaptest.NewLogger(t))
}

// ConnectorOptions returns connector options pointing at a mock API
func ConnectorOptions(t *testing.T, baseURL string) core.Options {
	return core.Options{
		HTTPClient: HTTPClient(t),
		Logger:     zaptest.NewLogger(t),
		BaseURL:    baseURL,
		AuthURL:    baseURL,
	}
}

// WriteJSON encodes v as the response body
func WriteJSON(t *testing.T, w http.ResponseWriter, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := gojson.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

// ReadJSON decodes a request body into a generic map
func ReadJSON(t *testing.T, r *http.Request) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := gojson.NewDecoder(r.Body).Decode(&out); err != nil {
		t.Errorf("decode request: %v", err)
	}
	return out
}

// Field returns the text of a record field, or "" when absent
func Field(r *core.Record, key string) string {
	v, ok := r.Get(key)
	if !ok {
		return ""
	}
	return v.Text()
}

// AssertEventually asserts that a condition becomes true within the specified timeout.
// It checks the condition every 10ms until it succeeds or the timeout expires.
func AssertEventually(t *testing.T, condition func() bool, timeout time.Duration, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("condition not met within %v: %s", timeout, msg)
}
