// Package credentials stores per-tenant connector credentials.
//
// Connectors read their credentials through a Store when the manager builds
// an instance, and write refreshed OAuth tokens back through the same Store.
// Backends: in-memory, a YAML file, a Postgres table, and an external token
// service reached over HTTP.
package credentials

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tributary/pkg/clients"
	"github.com/ajitpratap0/tributary/pkg/config"
	"github.com/ajitpratap0/tributary/pkg/connector/core"
	"github.com/ajitpratap0/tributary/pkg/errors"
)

// Store persists connector credentials keyed by (tenant, connector type).
type Store interface {
	// Get returns the credentials or an error of type not_found
	Get(ctx context.Context, tenantID int64, connectorType string) (core.RawCredentials, error)
	// Put creates or replaces the credentials
	Put(ctx context.Context, tenantID int64, connectorType string, creds core.RawCredentials) error
	// Delete removes the credentials; deleting absent credentials is not an error
	Delete(ctx context.Context, tenantID int64, connectorType string) error
	// List returns the connector types stored for a tenant, sorted
	List(ctx context.Context, tenantID int64) ([]string, error)
}

// NotFound builds the error returned for absent credentials
func NotFound(tenantID int64, connectorType string) error {
	return errors.New(errors.ErrorTypeNotFound, "credentials not found").
		WithDetail("tenant_id", tenantID).
		WithDetail("connector", connectorType)
}

// IsNotFound reports whether err means the credentials do not exist
func IsNotFound(err error) bool {
	return errors.IsType(err, errors.ErrorTypeNotFound)
}

// Open builds the backend selected by cfg.Credentials.Backend
func Open(ctx context.Context, cfg *config.Config, client *clients.HTTPClient, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := cfg.Credentials
	logger = logger.With(zap.String("component", "credentials"), zap.String("backend", c.Backend))

	switch c.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(c.Path, logger)
	case "postgres":
		url := c.URL
		if url == "" {
			url = cfg.Store.URL
		}
		return NewPostgresStore(ctx, url, c.Table, logger)
	case "token_service":
		return NewTokenServiceStore(c.ServiceURL, c.APIKey, c.Timeout, client, logger), nil
	default:
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("unsupported credentials backend: %q", c.Backend))
	}
}

func sortedKeys(m map[string]core.RawCredentials) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
