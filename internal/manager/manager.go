// Package manager coordinates connector instances per tenant. It resolves
// connectors from the credential store, caches them for a bounded time, and
// drives table-by-table syncs into the analytics store.
//
// Every public operation reports failures through its return values; no raw
// error escapes to callers.
//
// # Basic Usage
//
//	mgr, err := manager.New(manager.Deps{
//	    Registry:    registry.Default(),
//	    Credentials: credStore,
//	    Loader:      loader.New(store, loader.Options{}, logger),
//	    Logger:      logger,
//	})
//	ok, msg := mgr.CreateConnector(ctx, 42, "hubspot", creds, nil)
//	result := mgr.SyncConnector(ctx, 42, "hubspot", nil)
package manager

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tributary/pkg/archive"
	"github.com/ajitpratap0/tributary/pkg/clients"
	"github.com/ajitpratap0/tributary/pkg/config"
	"github.com/ajitpratap0/tributary/pkg/connector/core"
	"github.com/ajitpratap0/tributary/pkg/connector/registry"
	"github.com/ajitpratap0/tributary/pkg/credentials"
	"github.com/ajitpratap0/tributary/pkg/errors"
	"github.com/ajitpratap0/tributary/pkg/events"
	"github.com/ajitpratap0/tributary/pkg/loader"
	"github.com/ajitpratap0/tributary/pkg/logger"
)

const (
	// configPrefix marks per-instance options persisted next to credentials
	configPrefix = "config."

	defaultCacheTTL     = 15 * time.Minute
	defaultTestTimeout  = 30 * time.Second
	defaultEventTimeout = 10 * time.Second
)

// State is the lifecycle state of a connector instance
type State string

const (
	StateAbsent     State = "absent"
	StateValidating State = "validating"
	StateActive     State = "active"
	StateInvalid    State = "invalid"
)

// Deps are the collaborators of a Manager. Registry, Credentials and Loader
// are required; the rest have defaults.
type Deps struct {
	Registry    *registry.Registry
	Credentials credentials.Store
	Loader      *loader.Loader
	HTTPClient  *clients.HTTPClient
	Publisher   events.Publisher
	Archiver    archive.Archiver
	Limits      core.Limits
	// Settings holds per-type overrides keyed by connector type
	Settings map[string]config.ConnectorSettings
	// CacheTTL bounds how long a resolved connector is reused
	CacheTTL time.Duration
	// TableTimeout bounds extract+load of one table; zero disables it
	TableTimeout time.Duration
	Logger       *zap.Logger
	Now          func() time.Time
}

type entry struct {
	conn      core.Connector
	state     State
	expiresAt time.Time
}

// Manager is the connector manager
type Manager struct {
	deps   Deps
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[instanceKey]*entry
	locks *keyLock
}

// New creates a manager
func New(deps Deps) (*Manager, error) {
	if deps.Registry == nil {
		deps.Registry = registry.Default()
	}
	if deps.Credentials == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "a credential store is required")
	}
	if deps.Loader == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "a loader is required")
	}
	if deps.Logger == nil {
		deps.Logger = logger.Get()
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = clients.NewHTTPClient(nil, deps.Logger)
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Noop{}
	}
	if deps.Archiver == nil {
		deps.Archiver = archive.Noop{}
	}
	if deps.CacheTTL <= 0 {
		deps.CacheTTL = defaultCacheTTL
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	deps.Limits = deps.Limits.WithDefaults()

	return &Manager{
		deps:   deps,
		logger: deps.Logger.With(zap.String("component", "connector_manager")),
		cache:  make(map[instanceKey]*entry),
		locks:  newKeyLock(),
	}, nil
}

// Open wires a manager and its backends from configuration
func Open(ctx context.Context, cfg *config.Config, reg *registry.Registry, log *zap.Logger) (*Manager, error) {
	if log == nil {
		log = logger.Get()
	}
	httpClient := clients.NewHTTPClient(clients.ConfigFrom(cfg.HTTP), log)

	store, err := loader.Open(ctx, cfg.Store, log)
	if err != nil {
		return nil, err
	}
	creds, err := credentials.Open(ctx, cfg, httpClient, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	arch, err := archive.Open(ctx, cfg.Archive, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	pub, err := events.Open(cfg.Events, log)
	if err != nil {
		_ = store.Close()
		_ = arch.Close()
		return nil, err
	}

	return New(Deps{
		Registry:    reg,
		Credentials: creds,
		Loader:      loader.New(store, loader.OptionsFromConfig(cfg), log),
		HTTPClient:  httpClient,
		Publisher:   pub,
		Archiver:    arch,
		Limits: core.Limits{
			PageSize:   cfg.Sync.PageSize,
			MaxPages:   cfg.Sync.MaxPages,
			MaxRecords: cfg.Sync.MaxRecords,
			Lookback:   cfg.Sync.Lookback,
		},
		Settings:     cfg.Connectors,
		CacheTTL:     cfg.Manager.CacheTTL,
		TableTimeout: cfg.Sync.TableTimeout,
		Logger:       log,
	})
}

// Close releases cached connectors and every backend
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	cached := m.cache
	m.cache = make(map[instanceKey]*entry)
	m.mu.Unlock()
	for _, e := range cached {
		closeConnector(ctx, e.conn, m.logger)
	}

	var errs []string
	if err := m.deps.Loader.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := m.deps.Archiver.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := m.deps.Publisher.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if c, ok := m.deps.Credentials.(interface{ Close() }); ok {
		c.Close()
	}
	if err := m.deps.HTTPClient.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return errors.New(errors.ErrorTypeInternal, "failed to close manager: "+strings.Join(errs, "; "))
	}
	return nil
}

// Loader returns the analytics loader
func (m *Manager) Loader() *loader.Loader {
	return m.deps.Loader
}

// ConnectorTypes returns the catalog of registered connector types
func (m *Manager) ConnectorTypes() []core.ConnectorInfo {
	return m.deps.Registry.Infos()
}

// Requirements returns the required credential keys of a connector type
func (m *Manager) Requirements(connectorType string) ([]string, bool) {
	info, ok := m.deps.Registry.Info(connectorType)
	if !ok {
		return nil, false
	}
	return append([]string(nil), info.RequiredCredentials...), true
}

// State reports the cached lifecycle state of an instance
func (m *Manager) State(tenantID int64, connectorType string) State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.cache[instanceKey{tenantID, connectorType}]; ok {
		return e.state
	}
	return StateAbsent
}

// options builds the runtime options of one instance. Settings from the
// configuration apply first; options stored with the instance win.
func (m *Manager) options(key instanceKey, creds core.RawCredentials) core.Options {
	settings := m.deps.Settings[key.connectorType]

	limits := m.deps.Limits
	if settings.PageSize > 0 {
		limits.PageSize = settings.PageSize
	}
	if settings.MaxPages > 0 {
		limits.MaxPages = settings.MaxPages
	}
	if settings.MaxRecords > 0 {
		limits.MaxRecords = settings.MaxRecords
	}

	cfg := make(map[string]string, len(settings.Options))
	for k, v := range settings.Options {
		cfg[k] = v
	}
	for k, v := range creds {
		if strings.HasPrefix(k, configPrefix) {
			cfg[strings.TrimPrefix(k, configPrefix)] = v
		}
	}

	baseURL := settings.BaseURL
	if cfg["base_url"] != "" {
		baseURL = cfg["base_url"]
	}

	return core.Options{
		HTTPClient:     m.deps.HTTPClient,
		Logger:         m.deps.Logger,
		BaseURL:        baseURL,
		AuthURL:        cfg["auth_url"],
		Limits:         limits,
		Config:         cfg,
		OnTokenRefresh: m.writeBack(key),
	}
}

// writeBack persists refreshed tokens for key
func (m *Manager) writeBack(key instanceKey) core.TokenRefreshFunc {
	return func(ctx context.Context, creds core.RawCredentials) error {
		if err := m.deps.Credentials.Put(ctx, key.tenantID, key.connectorType, creds); err != nil {
			m.logger.Error("failed to persist refreshed token",
				zap.Int64("tenant_id", key.tenantID),
				zap.String("connector", key.connectorType),
				zap.Error(err))
			return err
		}
		m.logger.Info("refreshed token persisted",
			zap.Int64("tenant_id", key.tenantID),
			zap.String("connector", key.connectorType))
		return nil
	}
}

// resolve returns the cached connector of key or rebuilds it from the
// credential store. A missing credential set is a not_found error.
func (m *Manager) resolve(ctx context.Context, key instanceKey) (core.Connector, error) {
	now := m.deps.Now()

	m.mu.RLock()
	e, ok := m.cache[key]
	m.mu.RUnlock()
	if ok && e.state == StateActive && now.Before(e.expiresAt) {
		return e.conn, nil
	}

	creds, err := m.deps.Credentials.Get(ctx, key.tenantID, key.connectorType)
	if err != nil {
		return nil, err
	}
	conn, err := m.deps.Registry.Create(key.connectorType, key.tenantID, creds, m.options(key, creds))
	if err != nil {
		return nil, err
	}

	m.store(ctx, key, &entry{conn: conn, state: StateActive, expiresAt: now.Add(m.deps.CacheTTL)})
	m.logger.Debug("connector resolved from credential store", zap.String("key", key.String()))
	return conn, nil
}

// store replaces the cache entry of key, closing the connector it held
func (m *Manager) store(ctx context.Context, key instanceKey, e *entry) {
	m.mu.Lock()
	old, ok := m.cache[key]
	m.cache[key] = e
	m.mu.Unlock()
	if ok && old.conn != nil && old.conn != e.conn {
		closeConnector(ctx, old.conn, m.logger)
	}
}

// evict drops the cache entry of key and reports whether one existed
func (m *Manager) evict(ctx context.Context, key instanceKey) bool {
	m.mu.Lock()
	old, ok := m.cache[key]
	delete(m.cache, key)
	m.mu.Unlock()
	if ok && old.conn != nil {
		closeConnector(ctx, old.conn, m.logger)
	}
	return ok && old.state == StateActive
}

// cachedTypes returns the connector types cached for a tenant
func (m *Manager) cachedTypes(tenantID int64) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var types []string
	for k, e := range m.cache {
		if k.tenantID == tenantID && e.state == StateActive {
			types = append(types, k.connectorType)
		}
	}
	sort.Strings(types)
	return types
}

// publish sends an event without failing the caller
func (m *Manager) publish(ctx context.Context, ev events.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultEventTimeout)
	defer cancel()
	if ev.Time.IsZero() {
		ev.Time = m.deps.Now().UTC()
	}
	if err := m.deps.Publisher.Publish(ctx, ev); err != nil {
		m.logger.Warn("failed to publish event",
			zap.String("type", string(ev.Type)),
			zap.Int64("tenant_id", ev.TenantID),
			zap.String("connector", ev.ConnectorType),
			zap.Error(err))
	}
}

func closeConnector(ctx context.Context, conn core.Connector, log *zap.Logger) {
	c, ok := conn.(core.Closer)
	if !ok {
		return
	}
	if err := c.Close(ctx); err != nil {
		log.Warn("failed to close connector", zap.String("connector", conn.Name()), zap.Error(err))
	}
}

// withTimeout bounds ctx by d; a non-positive d leaves it unbounded
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
