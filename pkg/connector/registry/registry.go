// Package registry maps connector type names to factories and catalog
// metadata. Source packages register themselves with Default() from their
// init functions; the manager receives a *Registry by injection so tests can
// build their own catalog.
package registry

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tributary/pkg/connector/core"
	"github.com/ajitpratap0/tributary/pkg/errors"
	"github.com/ajitpratap0/tributary/pkg/logger"
)

// Factory builds a connector instance for one tenant. It validates the
// credential shape; it must not perform network calls.
type Factory func(tenantID int64, creds core.RawCredentials, opts core.Options) (core.Connector, error)

type entry struct {
	info    core.ConnectorInfo
	factory Factory
}

// Registry manages connector registration and instantiation
type Registry struct {
	entries map[string]entry
	mu      sync.RWMutex
	logger  *zap.Logger
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide catalog populated by source packages
func Default() *Registry {
	return defaultRegistry
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]entry),
	}
}

// SetLogger replaces the registry logger
func (r *Registry) SetLogger(l *zap.Logger) {
	r.mu.Lock()
	r.logger = l.With(zap.String("component", "connector_registry"))
	r.mu.Unlock()
}

func (r *Registry) log() *zap.Logger {
	if r.logger != nil {
		return r.logger
	}
	return logger.Get().With(zap.String("component", "connector_registry"))
}

// Register adds a connector type. Registering a type twice is an error.
func (r *Registry) Register(info core.ConnectorInfo, factory Factory) error {
	if info.Type == "" || factory == nil {
		return errors.New(errors.ErrorTypeValidation, "connector type and factory are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[info.Type]; exists {
		return errors.Newf(errors.ErrorTypeConflict, "connector %s already registered", info.Type)
	}
	r.entries[info.Type] = entry{info: info, factory: factory}
	r.log().Debug("connector registered", zap.String("type", info.Type))
	return nil
}

// MustRegister is Register for init functions; it panics on error
func (r *Registry) MustRegister(info core.ConnectorInfo, factory Factory) {
	if err := r.Register(info, factory); err != nil {
		panic(err)
	}
}

// Create instantiates a connector after checking the type and the required
// credential keys.
func (r *Registry) Create(connectorType string, tenantID int64, creds core.RawCredentials, opts core.Options) (core.Connector, error) {
	r.mu.RLock()
	e, exists := r.entries[connectorType]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, core.MsgUnknownTypePrefix+connectorType)
	}

	if missing := creds.Missing(e.info.RequiredCredentials); len(missing) > 0 {
		return nil, errors.Missing(missing)
	}

	conn, err := e.factory(tenantID, creds, opts)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create connector "+connectorType)
	}
	return conn, nil
}

// Has checks if a connector type is registered
func (r *Registry) Has(connectorType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.entries[connectorType]
	return exists
}

// List returns the registered connector types in sorted order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.entries))
	for name := range r.entries {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

// Info returns the catalog entry of a connector type
func (r *Registry) Info(connectorType string) (core.ConnectorInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[connectorType]
	return e.info, ok
}

// Infos returns every catalog entry sorted by type
func (r *Registry) Infos() []core.ConnectorInfo {
	types := r.List()
	out := make([]core.ConnectorInfo, 0, len(types))
	for _, t := range types {
		if info, ok := r.Info(t); ok {
			out = append(out, info)
		}
	}
	return out
}

// Requirements maps each connector type to its required credential keys
func (r *Registry) Requirements() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]string, len(r.entries))
	for name, e := range r.entries {
		out[name] = append([]string(nil), e.info.RequiredCredentials...)
	}
	return out
}

// ValidateCredentials checks the credential shape for a type without
// building a connector. It returns the message shown to callers.
func (r *Registry) ValidateCredentials(connectorType string, creds core.RawCredentials) (bool, string) {
	info, ok := r.Info(connectorType)
	if !ok {
		return false, core.MsgUnknownTypePrefix + connectorType
	}
	if missing := creds.Missing(info.RequiredCredentials); len(missing) > 0 {
		return false, "Missing credentials: " + strings.Join(missing, ", ")
	}
	return true, core.MsgCredentialsValid
}

// Clear removes all registered connectors (mainly for testing)
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]entry)
}
