package credentials

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tributary/pkg/clients"
	"github.com/ajitpratap0/tributary/pkg/connector/core"
	"github.com/ajitpratap0/tributary/pkg/errors"
)

// TokenServiceStore reads and writes credentials through an external token
// management service authenticated with an x-api-key header.
//
//	GET    {base}/v1/api/tenants/{tenant}/connectors
//	GET    {base}/v1/api/tenants/{tenant}/connectors/{type}/credentials
//	PUT    {base}/v1/api/tenants/{tenant}/connectors/{type}/credentials
//	DELETE {base}/v1/api/tenants/{tenant}/connectors/{type}/credentials
type TokenServiceStore struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *clients.HTTPClient
	logger  *zap.Logger
}

// tokenEnvelope is the service's response wrapper
type tokenEnvelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message,omitempty"`
	Data    gojson.RawMessage `json:"data"`
}

// tokenRecord is one stored credential set
type tokenRecord struct {
	Credentials   core.RawCredentials `json:"credentials"`
	SetToExpireOn string              `json:"setToExpireOn,omitempty"`
	IsExpired     bool                `json:"isExpired"`
}

// NewTokenServiceStore creates a store on the service at baseURL
func NewTokenServiceStore(baseURL, apiKey string, timeout time.Duration, client *clients.HTTPClient, logger *zap.Logger) *TokenServiceStore {
	if client == nil {
		client = clients.NewHTTPClient(nil, logger)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TokenServiceStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		timeout: timeout,
		client:  client,
		logger:  logger,
	}
}

func (s *TokenServiceStore) credentialsURL(tenantID int64, connectorType string) string {
	return fmt.Sprintf("%s/v1/api/tenants/%d/connectors/%s/credentials", s.baseURL, tenantID, url.PathEscape(connectorType))
}

// call performs one request. A 404 maps to not_found; out may be nil.
func (s *TokenServiceStore) call(ctx context.Context, method, u string, body interface{}, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := gojson.Marshal(body)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "failed to encode request")
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", s.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errors.New(errors.ErrorTypeNotFound, "credentials not found")
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errors.New(errors.ErrorTypeAuthentication, fmt.Sprintf("token service rejected the api key: status %d", resp.StatusCode))
	case resp.StatusCode >= 300:
		return errors.New(errors.ErrorTypeConnection, fmt.Sprintf("token service returned status %d", resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	var env tokenEnvelope
	if err := gojson.NewDecoder(resp.Body).Decode(&env); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to decode response")
	}
	if !env.Success {
		return errors.New(errors.ErrorTypeData, "token service reported failure: "+env.Message)
	}
	if len(env.Data) == 0 {
		return errors.New(errors.ErrorTypeNotFound, "credentials not found")
	}
	if err := gojson.Unmarshal(env.Data, out); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to decode response data")
	}
	return nil
}

// Get fetches the credentials. An expiry reported by the service is kept as
// token_expiry so the connector can refresh ahead of time.
func (s *TokenServiceStore) Get(ctx context.Context, tenantID int64, connectorType string) (core.RawCredentials, error) {
	var rec tokenRecord
	if err := s.call(ctx, http.MethodGet, s.credentialsURL(tenantID, connectorType), nil, &rec); err != nil {
		if IsNotFound(err) {
			return nil, NotFound(tenantID, connectorType)
		}
		return nil, err
	}
	if len(rec.Credentials) == 0 {
		return nil, NotFound(tenantID, connectorType)
	}

	creds := rec.Credentials.Clone()
	if rec.SetToExpireOn != "" && creds["token_expiry"] == "" {
		if _, err := time.Parse(time.RFC3339, rec.SetToExpireOn); err == nil {
			creds["token_expiry"] = rec.SetToExpireOn
		} else {
			s.logger.Warn("ignoring unparseable token expiry", zap.String("value", rec.SetToExpireOn))
		}
	}
	if rec.IsExpired {
		s.logger.Info("token service reports an expired token; it will be refreshed on first use",
			zap.Int64("tenant_id", tenantID), zap.String("connector", connectorType))
	}
	return creds, nil
}

// Put stores the credentials, including refreshed tokens
func (s *TokenServiceStore) Put(ctx context.Context, tenantID int64, connectorType string, creds core.RawCredentials) error {
	body := tokenRecord{Credentials: creds, SetToExpireOn: creds["token_expiry"]}
	return s.call(ctx, http.MethodPut, s.credentialsURL(tenantID, connectorType), body, nil)
}

// Delete removes the credentials
func (s *TokenServiceStore) Delete(ctx context.Context, tenantID int64, connectorType string) error {
	err := s.call(ctx, http.MethodDelete, s.credentialsURL(tenantID, connectorType), nil, nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}

// List returns the connector types the service holds for a tenant
func (s *TokenServiceStore) List(ctx context.Context, tenantID int64) ([]string, error) {
	var types []string
	u := fmt.Sprintf("%s/v1/api/tenants/%d/connectors", s.baseURL, tenantID)
	if err := s.call(ctx, http.MethodGet, u, nil, &types); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	sort.Strings(types)
	return types, nil
}
