// Package clients provides the outbound HTTP and OAuth2 clients shared by
// every connector.
package clients

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/tributary/pkg/config"
	"github.com/ajitpratap0/tributary/pkg/errors"
)

// HTTPClient is a shared HTTP client with per-host rate limiting and circuit
// breaking. Responses are returned unchanged; status handling belongs to the
// caller.
type HTTPClient struct {
	config     *HTTPConfig
	logger     *zap.Logger
	httpClient *http.Client
	transport  *http.Transport

	mu    sync.Mutex
	hosts map[string]*hostGuard

	stats requestStats
}

// HTTPConfig configures the HTTP client
type HTTPConfig struct {
	// Connection settings
	MaxIdleConns        int           `json:"max_idle_conns"`
	MaxIdleConnsPerHost int           `json:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `json:"idle_conn_timeout"`
	EnableHTTP2         bool          `json:"enable_http2"`

	// Timeouts
	DialTimeout         time.Duration `json:"dial_timeout"`
	TLSHandshakeTimeout time.Duration `json:"tls_handshake_timeout"`
	RequestTimeout      time.Duration `json:"request_timeout"`

	// Rate limiting per host; zero disables it
	RateLimit float64 `json:"rate_limit"`
	RateBurst int     `json:"rate_burst"`

	// Circuit breaker per host
	CircuitBreakerEnabled bool          `json:"circuit_breaker_enabled"`
	FailureThreshold      uint32        `json:"failure_threshold"`
	OpenTimeout           time.Duration `json:"open_timeout"`

	UserAgent string `json:"user_agent"`
}

// DefaultHTTPConfig returns the default client configuration
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		EnableHTTP2:           true,
		DialTimeout:           10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		RequestTimeout:        30 * time.Second,
		RateLimit:             10,
		RateBurst:             5,
		CircuitBreakerEnabled: true,
		FailureThreshold:      5,
		OpenTimeout:           30 * time.Second,
		UserAgent:             "tributary/1.0",
	}
}

// ConfigFrom maps the application http section onto a client configuration
func ConfigFrom(cfg config.HTTPConfig) *HTTPConfig {
	c := DefaultHTTPConfig()
	if cfg.RequestTimeout > 0 {
		c.RequestTimeout = cfg.RequestTimeout
	}
	if cfg.MaxIdleConnsPerHost > 0 {
		c.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	}
	c.EnableHTTP2 = cfg.EnableHTTP2
	c.RateLimit = cfg.RateLimit
	c.RateBurst = cfg.RateBurst
	c.CircuitBreakerEnabled = cfg.CircuitBreaker
	if cfg.FailureThreshold > 0 {
		c.FailureThreshold = cfg.FailureThreshold
	}
	if cfg.OpenTimeout > 0 {
		c.OpenTimeout = cfg.OpenTimeout
	}
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return c
}

// hostGuard holds the limiter and breaker of one upstream host
type hostGuard struct {
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*http.Response]
}

// errServerStatus marks a 5xx response as a breaker failure without
// discarding the response itself.
var errServerStatus = errors.New(errors.ErrorTypeConnection, "server error status")

// NewHTTPClient creates a new HTTP client
func NewHTTPClient(cfg *HTTPConfig, logger *zap.Logger) *HTTPClient {
	if cfg == nil {
		cfg = DefaultHTTPConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := &HTTPClient{
		config: cfg,
		logger: logger.With(zap.String("component", "http_client")),
		hosts:  make(map[string]*hostGuard),
	}

	client.transport = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ExpectContinueTimeout: time.Second,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	if cfg.EnableHTTP2 {
		if err := http2.ConfigureTransport(client.transport); err != nil {
			client.logger.Warn("failed to configure HTTP/2", zap.Error(err))
		}
	}

	client.httpClient = &http.Client{
		Transport: client.transport,
		Timeout:   cfg.RequestTimeout,
	}

	return client
}

// Do sends req through the host's rate limiter and circuit breaker. A 5xx
// response counts as a breaker failure but is still returned to the caller.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" && c.config.UserAgent != "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	g := c.guard(req.URL.Host)
	if g.limiter != nil {
		if err := g.limiter.Wait(req.Context()); err != nil {
			c.stats.failed.Add(1)
			return nil, errors.Wrap(err, errors.ErrorTypeTimeout, "rate limiter wait cancelled")
		}
	}

	c.stats.total.Add(1)
	start := time.Now()

	if g.breaker == nil {
		resp, err := c.httpClient.Do(req)
		c.observe(req, resp, err, time.Since(start))
		if err != nil {
			return nil, classifyTransportError(err)
		}
		return resp, nil
	}

	resp, err := g.breaker.Execute(func() (*http.Response, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return resp, errServerStatus
		}
		return resp, nil
	})
	c.observe(req, resp, err, time.Since(start))

	switch {
	case err == nil:
		return resp, nil
	case errors.Is(err, errServerStatus):
		return resp, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		c.stats.rejected.Add(1)
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "circuit breaker open for "+req.URL.Host)
	default:
		return nil, classifyTransportError(err)
	}
}

// StandardClient returns a *http.Client whose requests go through Do. It is
// handed to libraries that take a plain client, such as x/oauth2.
func (c *HTTPClient) StandardClient() *http.Client {
	return &http.Client{Transport: guardedTransport{c: c}}
}

// GetStats returns request counters since creation
func (c *HTTPClient) GetStats() HTTPStats {
	return c.stats.snapshot()
}

// Close releases idle connections
func (c *HTTPClient) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) guard(host string) *hostGuard {
	c.mu.Lock()
	defer c.mu.Unlock()

	if g, ok := c.hosts[host]; ok {
		return g
	}

	g := &hostGuard{}
	if c.config.RateLimit > 0 {
		burst := c.config.RateBurst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(c.config.RateLimit), burst)
	}
	if c.config.CircuitBreakerEnabled {
		threshold := c.config.FailureThreshold
		g.breaker = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name:        host,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     c.config.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				c.logger.Warn("circuit breaker state change",
					zap.String("host", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
	}
	c.hosts[host] = g
	return g
}

// classifyTransportError maps a client error onto the error taxonomy
func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return errors.Wrap(err, errors.ErrorTypeInternal, "request cancelled")
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() || errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, errors.ErrorTypeTimeout, "request timed out")
	}
	return errors.Wrap(err, errors.ErrorTypeConnection, "request failed")
}

type guardedTransport struct {
	c *HTTPClient
}

func (t guardedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.c.Do(req)
}
