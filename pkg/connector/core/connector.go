// Package core defines the contract shared by every source connector: the
// Connector interface, the record and value model, credentials and the
// structured sync result.
package core

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tributary/pkg/clients"
)

// DefaultLookback is the incremental window used when no watermark is known.
const DefaultLookback = 30 * 24 * time.Hour

// Connector extracts records from one external system for one tenant.
type Connector interface {
	// Name is the stable connector type used for table namespacing
	Name() string
	// RequiredCredentials lists the credential keys this connector needs
	RequiredCredentials() []string
	// TestConnection performs one cheap authenticated call. A nil error means
	// the connection works.
	TestConnection(ctx context.Context) error
	// ListTables returns the extractable tables. Connectors that discover
	// tables dynamically fall back to their static list on failure.
	ListTables(ctx context.Context) ([]string, error)
	// Extract pulls the records of one table. An error of type partial comes
	// with the records accumulated before the failure.
	Extract(ctx context.Context, req ExtractRequest) ([]*Record, error)
}

// ExtractRequest describes one table extraction.
type ExtractRequest struct {
	Table       string
	Incremental bool
	// Since is the watermark for incremental extraction. A zero value means
	// "use the lookback window".
	Since time.Time
}

// Limits bounds the work of one extraction.
type Limits struct {
	// PageSize is the requested page size; zero means the API maximum
	PageSize   int
	MaxPages   int
	MaxRecords int
	Lookback   time.Duration
}

// DefaultLimits returns the limits used when none are configured
func DefaultLimits() Limits {
	return Limits{
		MaxPages:   100,
		MaxRecords: 10000,
		Lookback:   DefaultLookback,
	}
}

// WithDefaults fills zero fields from DefaultLimits
func (l Limits) WithDefaults() Limits {
	d := DefaultLimits()
	if l.PageSize < 0 {
		l.PageSize = 0
	}
	if l.MaxPages <= 0 {
		l.MaxPages = d.MaxPages
	}
	if l.MaxRecords <= 0 {
		l.MaxRecords = d.MaxRecords
	}
	if l.Lookback <= 0 {
		l.Lookback = d.Lookback
	}
	return l
}

// TokenRefreshFunc persists credentials after a token refresh.
type TokenRefreshFunc func(ctx context.Context, creds RawCredentials) error

// Options carries the runtime dependencies handed to a connector factory.
type Options struct {
	HTTPClient *clients.HTTPClient
	Logger     *zap.Logger
	// BaseURL overrides the connector's API base URL (tests, sandboxes)
	BaseURL string
	// AuthURL overrides the connector's OAuth token endpoint host
	AuthURL string
	Limits  Limits
	// Config holds connector-specific options
	Config map[string]string
	// OnTokenRefresh is called with the full credential set after a refresh
	OnTokenRefresh TokenRefreshFunc
}

// RawCredentials is the untyped credential map persisted by the credential store.
type RawCredentials map[string]string

// Missing returns the required keys that are absent or blank, in required order
func (c RawCredentials) Missing(required []string) []string {
	var missing []string
	for _, key := range required {
		if strings.TrimSpace(c[key]) == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// Clone returns a copy of the map
func (c RawCredentials) Clone() RawCredentials {
	out := make(RawCredentials, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Keys returns the credential keys in sorted order
func (c RawCredentials) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
