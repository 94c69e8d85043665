package clients

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/ajitpratap0/tributary/pkg/errors"
	"github.com/ajitpratap0/tributary/pkg/metrics"
)

// OAuth2Client manages the access token of one connector instance. Refreshes
// are coalesced so concurrent 401s trigger a single token request.
type OAuth2Client struct {
	name       string
	config     *oauth2.Config
	httpClient *HTTPClient
	logger     *zap.Logger

	mu    sync.RWMutex
	token *oauth2.Token

	group     singleflight.Group
	onRefresh func(ctx context.Context, token *oauth2.Token) error
}

// OAuth2Config configures the token endpoint of a provider
type OAuth2Config struct {
	// Name labels metrics and logs, usually the connector type
	Name         string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
	// AuthStyle selects header (Basic) or form-param client authentication
	AuthStyle oauth2.AuthStyle
}

// NewOAuth2Client creates a client seeded with an existing token, which may be nil
func NewOAuth2Client(cfg OAuth2Config, token *oauth2.Token, httpClient *HTTPClient, logger *zap.Logger) *OAuth2Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = NewHTTPClient(nil, logger)
	}
	return &OAuth2Client{
		name: cfg.Name,
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: cfg.AuthStyle,
			},
		},
		httpClient: httpClient,
		logger:     logger.With(zap.String("component", "oauth2_client"), zap.String("connector", cfg.Name)),
		token:      token,
	}
}

// OnTokenRefresh registers a callback invoked after every successful refresh.
// A callback error is logged; the refreshed token stays in use.
func (c *OAuth2Client) OnTokenRefresh(fn func(ctx context.Context, token *oauth2.Token) error) {
	c.mu.Lock()
	c.onRefresh = fn
	c.mu.Unlock()
}

// Token returns a copy of the current token, or nil
func (c *OAuth2Client) Token() *oauth2.Token {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == nil {
		return nil
	}
	t := *c.token
	return &t
}

// AccessToken returns the current access token string
func (c *OAuth2Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == nil {
		return ""
	}
	return c.token.AccessToken
}

// SetToken replaces the current token
func (c *OAuth2Client) SetToken(token *oauth2.Token) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Refresh exchanges the refresh token for a new access token regardless of
// the current token's expiry. Concurrent callers share one request.
func (c *OAuth2Client) Refresh(ctx context.Context) (*oauth2.Token, error) {
	v, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		current := c.Token()
		if current == nil || current.RefreshToken == "" {
			return nil, errors.New(errors.ErrorTypeAuthentication, "no refresh token available")
		}

		// an expired seed token forces the library to hit the token endpoint
		seed := &oauth2.Token{
			RefreshToken: current.RefreshToken,
			Expiry:       time.Now().Add(-time.Minute),
		}
		tok, err := c.config.TokenSource(c.clientContext(ctx), seed).Token()
		metrics.ObserveTokenRefresh(c.name, err)
		if err != nil {
			return nil, tokenError(err, "token refresh failed")
		}

		c.SetToken(tok)
		c.logger.Info("access token refreshed", zap.Time("expiry", tok.Expiry))
		c.notify(ctx, tok)
		return tok, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*oauth2.Token), nil
}

// PasswordToken performs the resource owner password grant and stores the result
func (c *OAuth2Client) PasswordToken(ctx context.Context, username, password string) (*oauth2.Token, error) {
	v, err, _ := c.group.Do("password", func() (interface{}, error) {
		tok, err := c.config.PasswordCredentialsToken(c.clientContext(ctx), username, password)
		metrics.ObserveTokenRefresh(c.name, err)
		if err != nil {
			return nil, tokenError(err, "password grant failed")
		}
		c.SetToken(tok)
		return tok, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*oauth2.Token), nil
}

func (c *OAuth2Client) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient.StandardClient())
}

func (c *OAuth2Client) notify(ctx context.Context, tok *oauth2.Token) {
	c.mu.RLock()
	fn := c.onRefresh
	c.mu.RUnlock()
	if fn == nil {
		return
	}
	if err := fn(ctx, tok); err != nil {
		c.logger.Warn("failed to persist refreshed token", zap.Error(err))
	}
}

// tokenError maps token endpoint failures onto the error taxonomy. A 4xx from
// the endpoint means the grant itself was rejected.
func tokenError(err error, msg string) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) && rerr.Response != nil {
		status := rerr.Response.StatusCode
		switch {
		case status == http.StatusTooManyRequests:
			return errors.Wrap(err, errors.ErrorTypeRateLimit, msg).WithDetail("status", status)
		case status >= http.StatusInternalServerError:
			return errors.Wrap(err, errors.ErrorTypeConnection, msg).WithDetail("status", status)
		default:
			return errors.Wrap(err, errors.ErrorTypeAuthentication, msg).WithDetail("status", status)
		}
	}
	return errors.Wrap(err, errors.ErrorTypeAuthentication, msg)
}

// TokenExtra returns a string-valued extra field of a token response,
// such as Salesforce's instance_url or Zoho's api_domain.
func TokenExtra(tok *oauth2.Token, key string) string {
	if tok == nil {
		return ""
	}
	s, _ := tok.Extra(key).(string)
	return s
}
