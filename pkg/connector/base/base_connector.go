// Package base provides the BaseConnector embedded by every source connector.
// It owns the request loop shared by all SaaS APIs: authentication, a single
// token refresh on 401, retry of transient failures, JSON decoding, capped
// pagination and record flattening.
//
// # Usage
//
// Source connectors embed BaseConnector and implement the core.Connector
// methods on top of it:
//
//	type Connector struct {
//	    *base.BaseConnector
//	}
//
//	func New(tenantID int64, creds core.RawCredentials, opts core.Options) (core.Connector, error) {
//	    bc := base.NewBaseConnector("harvest", tenantID, opts, "https://api.harvestapp.com/v2")
//	    bc.SetAuth(base.BearerAuth(creds["access_token"]))
//	    return &Connector{BaseConnector: bc}, nil
//	}
//
// # Errors
//
// Do returns structured errors from pkg/errors. Authentication failures are
// terminal for the request; rate limit, timeout and connection failures are
// retried by the RetryPolicy. Paginate turns a failure after the first page
// into an error of type partial that travels with the records already read.
package base

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tributary/pkg/clients"
	"github.com/ajitpratap0/tributary/pkg/connector/core"
	"github.com/ajitpratap0/tributary/pkg/errors"
)

// maxErrorBody bounds how much of an error response is kept for messages
const maxErrorBody = 2048

// BaseConnector carries the state shared by all source connectors.
type BaseConnector struct {
	name     string
	tenantID int64
	logger   *zap.Logger
	client   *clients.HTTPClient
	baseURL  string
	limits   core.Limits
	config   map[string]string

	auth    Authenticator
	headers http.Header
	retry   *RetryPolicy
}

// NewBaseConnector creates a base connector. defaultBaseURL is used unless
// opts.BaseURL overrides it.
func NewBaseConnector(name string, tenantID int64, opts core.Options, defaultBaseURL string) *BaseConnector {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	client := opts.HTTPClient
	if client == nil {
		client = clients.NewHTTPClient(nil, log)
	}
	baseURL := defaultBaseURL
	if opts.BaseURL != "" {
		baseURL = opts.BaseURL
	}

	return &BaseConnector{
		name:     name,
		tenantID: tenantID,
		logger:   log.With(zap.String("connector", name), zap.Int64("tenant_id", tenantID)),
		client:   client,
		baseURL:  strings.TrimRight(baseURL, "/"),
		limits:   opts.Limits.WithDefaults(),
		config:   opts.Config,
		headers:  make(http.Header),
		retry:    DefaultRetryPolicy(),
	}
}

// Name returns the connector type
func (bc *BaseConnector) Name() string {
	return bc.name
}

// TenantID returns the owning tenant
func (bc *BaseConnector) TenantID() int64 {
	return bc.tenantID
}

// Logger returns the connector-scoped logger
func (bc *BaseConnector) Logger() *zap.Logger {
	return bc.logger
}

// HTTPClient returns the shared HTTP client
func (bc *BaseConnector) HTTPClient() *clients.HTTPClient {
	return bc.client
}

// BaseURL returns the API base URL without a trailing slash
func (bc *BaseConnector) BaseURL() string {
	return bc.baseURL
}

// SetBaseURL replaces the API base URL, e.g. after an auth response names the instance
func (bc *BaseConnector) SetBaseURL(u string) {
	bc.baseURL = strings.TrimRight(u, "/")
}

// Limits returns the extraction limits
func (bc *BaseConnector) Limits() core.Limits {
	return bc.limits
}

// Option returns a connector-specific configuration value
func (bc *BaseConnector) Option(key, fallback string) string {
	if v, ok := bc.config[key]; ok && v != "" {
		return v
	}
	return fallback
}

// SetAuth installs the authenticator applied to every request
func (bc *BaseConnector) SetAuth(a Authenticator) {
	bc.auth = a
}

// Auth returns the installed authenticator
func (bc *BaseConnector) Auth() Authenticator {
	return bc.auth
}

// SetHeader adds a static header sent with every request
func (bc *BaseConnector) SetHeader(key, value string) {
	bc.headers.Set(key, value)
}

// SetRetryPolicy replaces the retry policy
func (bc *BaseConnector) SetRetryPolicy(p *RetryPolicy) {
	bc.retry = p
}

// URL resolves path against the base URL and appends the query. Absolute
// URLs, such as continuation links returned by an API, are used as given.
func (bc *BaseConnector) URL(path string, query url.Values) string {
	u := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		u = bc.baseURL + "/" + strings.TrimLeft(path, "/")
	}
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + query.Encode()
	}
	return u
}

// Request describes one API call. Body is JSON-encoded when non-nil; Form is
// sent as application/x-www-form-urlencoded.
type Request struct {
	Method  string
	URL     string
	Body    interface{}
	Form    url.Values
	Headers map[string]string
}

// Get is shorthand for a GET Request
func Get(u string) Request {
	return Request{Method: http.MethodGet, URL: u}
}

// Post is shorthand for a POST Request with a JSON body
func Post(u string, body interface{}) Request {
	return Request{Method: http.MethodPost, URL: u, Body: body}
}

// Do performs r and decodes a successful JSON response into out, which may
// be nil. On 401 the authenticator is refreshed once and the call replayed;
// a second 401 is returned as an authentication error. Rate limit, timeout
// and connection failures are retried according to the retry policy.
func (bc *BaseConnector) Do(ctx context.Context, r Request, out interface{}) error {
	refreshed := false

	return bc.retry.ExecuteWithCondition(ctx, func() error {
		for {
			status, body, err := bc.send(ctx, r)
			if err != nil {
				return err
			}

			if status == http.StatusUnauthorized {
				if refreshed || bc.auth == nil {
					return StatusError(status, body)
				}
				refreshed = true
				bc.logger.Info("received 401, refreshing credentials")
				if err := bc.auth.Refresh(ctx); err != nil {
					return errors.Wrap(err, errors.ErrorTypeAuthentication, core.MsgAuthFailed)
				}
				continue
			}

			if status >= http.StatusBadRequest {
				return StatusError(status, body)
			}

			if out == nil || len(bytes.TrimSpace(body)) == 0 {
				return nil
			}
			return Decode(body, out)
		}
	}, errors.IsRetryable)
}

// send executes one attempt and returns the status and full body
func (bc *BaseConnector) send(ctx context.Context, r Request) (int, []byte, error) {
	req, err := bc.newRequest(ctx, r)
	if err != nil {
		return 0, nil, err
	}

	resp, err := bc.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read response body")
	}

	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" && resp.StatusCode == http.StatusTooManyRequests {
		return resp.StatusCode, body, StatusError(resp.StatusCode, body).WithDetail(detailRetryAfter, parseRetryAfter(retryAfter))
	}
	return resp.StatusCode, body, nil
}

func (bc *BaseConnector) newRequest(ctx context.Context, r Request) (*http.Request, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	contentType := ""
	switch {
	case r.Form != nil:
		body = strings.NewReader(r.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case r.Body != nil:
		raw, err := gojson.Marshal(r.Body)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode request body")
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid request")
	}

	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, vs := range bc.headers {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	if bc.auth != nil {
		if err := bc.auth.Apply(req); err != nil {
			return nil, err
		}
	}
	return req, nil
}

// Decode unmarshals a JSON body keeping integer precision
func Decode(body []byte, out interface{}) error {
	dec := gojson.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to decode response")
	}
	return nil
}
