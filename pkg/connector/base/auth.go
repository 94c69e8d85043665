package base

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/ajitpratap0/tributary/pkg/clients"
	"github.com/ajitpratap0/tributary/pkg/connector/core"
	"github.com/ajitpratap0/tributary/pkg/errors"
)

// Authenticator applies credentials to outgoing requests and renews them
// when the API rejects them.
type Authenticator interface {
	Apply(req *http.Request) error
	// Refresh renews the credential. Static credentials return an
	// authentication error since nothing can be renewed.
	Refresh(ctx context.Context) error
}

var errNotRefreshable = errors.New(errors.ErrorTypeAuthentication, "credentials cannot be refreshed")

// HeaderTokenAuth sends "Authorization: <scheme> <token>"
type HeaderTokenAuth struct {
	Scheme string
	Token  string
}

// BearerAuth returns a static bearer token authenticator
func BearerAuth(token string) *HeaderTokenAuth {
	return &HeaderTokenAuth{Scheme: "Bearer", Token: token}
}

// Apply sets the Authorization header
func (a *HeaderTokenAuth) Apply(req *http.Request) error {
	if a.Token == "" {
		return errors.New(errors.ErrorTypeAuthentication, "missing access token")
	}
	req.Header.Set("Authorization", a.Scheme+" "+a.Token)
	return nil
}

// Refresh always fails for a static token
func (a *HeaderTokenAuth) Refresh(context.Context) error {
	return errNotRefreshable
}

// BasicAuth sends HTTP basic credentials
type BasicAuth struct {
	Username string
	Password string
}

// Apply sets basic auth on the request
func (a *BasicAuth) Apply(req *http.Request) error {
	req.SetBasicAuth(a.Username, a.Password)
	return nil
}

// Refresh always fails for static credentials
func (a *BasicAuth) Refresh(context.Context) error {
	return errNotRefreshable
}

// OAuthRefreshAuth sends the current OAuth access token and exchanges the
// refresh token when the API rejects it.
type OAuthRefreshAuth struct {
	Client *clients.OAuth2Client
	// Scheme defaults to Bearer
	Scheme string
}

// Apply sets the Authorization header from the current token
func (a *OAuthRefreshAuth) Apply(req *http.Request) error {
	token := a.Client.AccessToken()
	if token == "" {
		return errors.New(errors.ErrorTypeAuthentication, "missing access token")
	}
	scheme := a.Scheme
	if scheme == "" {
		scheme = "Bearer"
	}
	req.Header.Set("Authorization", scheme+" "+token)
	return nil
}

// Refresh forces a token refresh
func (a *OAuthRefreshAuth) Refresh(ctx context.Context) error {
	_, err := a.Client.Refresh(ctx)
	return err
}

// PasswordGrantAuth authenticates with the OAuth password grant and repeats
// the grant when the session expires.
type PasswordGrantAuth struct {
	Client   *clients.OAuth2Client
	Username string
	Password string
	// OnToken observes every new token, e.g. to pick up instance_url
	OnToken func(tok *oauth2.Token)
}

// Apply sets the bearer token, which must have been obtained by Login or Refresh
func (a *PasswordGrantAuth) Apply(req *http.Request) error {
	token := a.Client.AccessToken()
	if token == "" {
		return errors.New(errors.ErrorTypeAuthentication, "not logged in")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// Login performs the password grant when no token is held yet
func (a *PasswordGrantAuth) Login(ctx context.Context) error {
	if a.Client.AccessToken() != "" {
		return nil
	}
	return a.Refresh(ctx)
}

// Refresh repeats the password grant
func (a *PasswordGrantAuth) Refresh(ctx context.Context) error {
	tok, err := a.Client.PasswordToken(ctx, a.Username, a.Password)
	if err != nil {
		return err
	}
	if a.OnToken != nil {
		a.OnToken(tok)
	}
	return nil
}

// TokenWriteBack returns an OAuth2Client refresh callback that merges the new
// token into the instance credentials and hands them to onRefresh for
// persistence. A nil onRefresh only keeps the in-memory copy current.
func TokenWriteBack(creds core.RawCredentials, onRefresh core.TokenRefreshFunc) func(ctx context.Context, tok *oauth2.Token) error {
	var mu sync.Mutex
	current := creds.Clone()

	return func(ctx context.Context, tok *oauth2.Token) error {
		mu.Lock()
		current["access_token"] = tok.AccessToken
		if tok.RefreshToken != "" {
			current["refresh_token"] = tok.RefreshToken
		}
		if !tok.Expiry.IsZero() {
			current["token_expiry"] = tok.Expiry.UTC().Format(time.RFC3339)
		}
		snapshot := current.Clone()
		mu.Unlock()

		if onRefresh == nil {
			return nil
		}
		return onRefresh(ctx, snapshot)
	}
}

// SeedToken builds the initial OAuth token from stored credentials
func SeedToken(creds core.RawCredentials) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  creds["access_token"],
		RefreshToken: creds["refresh_token"],
		TokenType:    "Bearer",
	}
	if exp, err := time.Parse(time.RFC3339, creds["token_expiry"]); err == nil {
		tok.Expiry = exp
	}
	return tok
}
