package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/oauth2"

	"github.com/ajitpratap0/tributary/pkg/errors"
)

func testConfig() *HTTPConfig {
	cfg := DefaultHTTPConfig()
	cfg.RateLimit = 0
	cfg.EnableHTTP2 = false
	cfg.FailureThreshold = 2
	cfg.OpenTimeout = time.Minute
	return cfg
}

func TestHTTPClient_SetsUserAgent(t *testing.T) {
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient(testConfig(), zaptest.NewLogger(t))
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := c.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "tributary/1.0", ua)
	assert.Empty(t, req.Header.Get("User-Agent"), "caller's request must not be mutated")
	assert.Equal(t, int64(1), c.GetStats().TotalRequests)
}

func TestHTTPClient_ServerErrorsTripBreaker(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPClient(testConfig(), zaptest.NewLogger(t))

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		resp, err := c.Do(req)
		require.NoError(t, err, "5xx responses are returned to the caller")
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		resp.Body.Close()
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := c.Do(req)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	assert.Equal(t, int64(1), c.GetStats().RejectedRequests)
}

func TestHTTPClient_ClientErrorsDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewHTTPClient(testConfig(), zaptest.NewLogger(t))
	for i := 0; i < 5; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		resp, err := c.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
	}
}

func TestHTTPClient_RateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	cfg := testConfig()
	cfg.RateLimit = 0.001
	cfg.RateBurst = 1
	c := NewHTTPClient(cfg, zaptest.NewLogger(t))

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := c.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, _ = http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	_, err = c.Do(req)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
}

func tokenServer(t *testing.T, calls *int32, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		require.NoError(t, r.ParseForm())
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.Form.Get("grant_type") {
		case "refresh_token":
			assert.Equal(t, "rt-1", r.Form.Get("refresh_token"))
			time.Sleep(20 * time.Millisecond)
			_, _ = w.Write([]byte(`{"access_token":"at-2","token_type":"bearer","expires_in":3600}`))
		case "password":
			assert.Equal(t, "alice", r.Form.Get("username"))
			_, _ = w.Write([]byte(`{"access_token":"sf-token","token_type":"bearer","instance_url":"https://na1.example.com"}`))
		}
	}))
}

func TestOAuth2Client_RefreshIsCoalescedAndPersisted(t *testing.T) {
	var calls int32
	srv := tokenServer(t, &calls, http.StatusOK)
	defer srv.Close()

	c := NewOAuth2Client(OAuth2Config{Name: "quickbooks", ClientID: "id", ClientSecret: "secret", TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInHeader},
		&oauth2.Token{AccessToken: "at-1", RefreshToken: "rt-1"}, NewHTTPClient(testConfig(), zaptest.NewLogger(t)), zaptest.NewLogger(t))

	var persisted []*oauth2.Token
	var mu sync.Mutex
	c.OnTokenRefresh(func(_ context.Context, tok *oauth2.Token) error {
		mu.Lock()
		defer mu.Unlock()
		persisted = append(persisted, tok)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Refresh(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, "at-2", c.AccessToken())
	// the rotated refresh token is kept when the endpoint omits it
	assert.Equal(t, "rt-1", c.Token().RefreshToken)
	assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(5))
	mu.Lock()
	assert.Equal(t, int(atomic.LoadInt32(&calls)), len(persisted))
	mu.Unlock()
}

func TestOAuth2Client_RefreshRejected(t *testing.T) {
	var calls int32
	srv := tokenServer(t, &calls, http.StatusBadRequest)
	defer srv.Close()

	c := NewOAuth2Client(OAuth2Config{Name: "zoho", TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams},
		&oauth2.Token{AccessToken: "at-1", RefreshToken: "rt-1"}, NewHTTPClient(testConfig(), zaptest.NewLogger(t)), zaptest.NewLogger(t))

	_, err := c.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
	assert.Equal(t, "at-1", c.AccessToken())
}

func TestOAuth2Client_RefreshWithoutRefreshToken(t *testing.T) {
	c := NewOAuth2Client(OAuth2Config{Name: "hubspot", TokenURL: "http://unused"}, &oauth2.Token{AccessToken: "x"}, nil, zaptest.NewLogger(t))
	_, err := c.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
}

func TestOAuth2Client_PasswordToken(t *testing.T) {
	var calls int32
	srv := tokenServer(t, &calls, http.StatusOK)
	defer srv.Close()

	c := NewOAuth2Client(OAuth2Config{Name: "salesforce", ClientID: "id", ClientSecret: "s", TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams},
		nil, NewHTTPClient(testConfig(), zaptest.NewLogger(t)), zaptest.NewLogger(t))

	tok, err := c.PasswordToken(context.Background(), "alice", "pw+token")
	require.NoError(t, err)
	assert.Equal(t, "sf-token", c.AccessToken())
	assert.Equal(t, "https://na1.example.com", TokenExtra(tok, "instance_url"))
}
