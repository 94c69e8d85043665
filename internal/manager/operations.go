package manager

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tributary/pkg/connector/core"
	"github.com/ajitpratap0/tributary/pkg/credentials"
	"github.com/ajitpratap0/tributary/pkg/errors"
	"github.com/ajitpratap0/tributary/pkg/events"
)

// CreateConnector validates creds, probes the API and stores the instance.
// cfg holds per-instance options (base_url, environment, ...) that are
// persisted with the credentials.
func (m *Manager) CreateConnector(ctx context.Context, tenantID int64, connectorType string, creds core.RawCredentials, cfg map[string]string) (bool, string) {
	if ok, msg := m.deps.Registry.ValidateCredentials(connectorType, creds); !ok {
		return false, msg
	}

	key := instanceKey{tenantID, connectorType}
	unlock, err := m.locks.Lock(ctx, key)
	if err != nil {
		return false, "Connector creation cancelled: " + err.Error()
	}
	defer unlock()

	log := m.logger.With(zap.Int64("tenant_id", tenantID), zap.String("connector", connectorType))

	stored := creds.Clone()
	for k, v := range cfg {
		stored[configPrefix+k] = v
	}

	conn, err := m.deps.Registry.Create(connectorType, tenantID, stored, m.options(key, stored))
	if err != nil {
		return false, errors.Message(err)
	}
	m.store(ctx, key, &entry{conn: conn, state: StateValidating})

	tctx, cancel := withTimeout(ctx, defaultTestTimeout)
	err = conn.TestConnection(tctx)
	cancel()
	if err != nil {
		m.store(ctx, key, &entry{state: StateInvalid})
		log.Warn("connection test failed during create", zap.Error(err))
		if errors.HasType(err, errors.ErrorTypeAuthentication) {
			return false, core.MsgAuthFailed
		}
		return false, core.MsgConnectionFailed
	}

	if err := m.deps.Credentials.Put(ctx, tenantID, connectorType, stored); err != nil {
		m.store(ctx, key, &entry{state: StateInvalid})
		log.Error("failed to store credentials", zap.Error(err))
		return false, "Failed to store credentials: " + errors.Message(err)
	}

	m.store(ctx, key, &entry{conn: conn, state: StateActive, expiresAt: m.deps.Now().Add(m.deps.CacheTTL)})
	log.Info("connector created", zap.Strings("credential_keys", creds.Keys()))
	m.publish(ctx, events.Event{Type: events.ConnectorCreated, TenantID: tenantID, ConnectorType: connectorType})
	return true, core.MsgConnectorCreated
}

// GetConnector returns the active instance, resolving it from the credential
// store when it is not cached
func (m *Manager) GetConnector(ctx context.Context, tenantID int64, connectorType string) (core.Connector, bool) {
	conn, err := m.resolve(ctx, instanceKey{tenantID, connectorType})
	if err != nil {
		if !credentials.IsNotFound(err) {
			m.logger.Warn("failed to resolve connector",
				zap.Int64("tenant_id", tenantID), zap.String("connector", connectorType), zap.Error(err))
		}
		return nil, false
	}
	return conn, true
}

// lookup resolves an instance and renders a failure as a message
func (m *Manager) lookup(ctx context.Context, tenantID int64, connectorType string) (core.Connector, string) {
	if !m.deps.Registry.Has(connectorType) {
		return nil, core.MsgUnknownTypePrefix + connectorType
	}
	conn, err := m.resolve(ctx, instanceKey{tenantID, connectorType})
	if err == nil {
		return conn, ""
	}
	if credentials.IsNotFound(err) {
		return nil, core.MsgConnectorNotFound
	}
	m.logger.Warn("failed to resolve connector",
		zap.Int64("tenant_id", tenantID), zap.String("connector", connectorType), zap.Error(err))
	return nil, errors.Message(err)
}

// TestConnector probes the API of an existing instance
func (m *Manager) TestConnector(ctx context.Context, tenantID int64, connectorType string) (bool, string) {
	conn, msg := m.lookup(ctx, tenantID, connectorType)
	if conn == nil {
		return false, msg
	}

	tctx, cancel := withTimeout(ctx, defaultTestTimeout)
	defer cancel()
	if err := conn.TestConnection(tctx); err != nil {
		m.logger.Warn("connection test failed",
			zap.Int64("tenant_id", tenantID), zap.String("connector", connectorType), zap.Error(err))
		return false, core.MsgConnectionFailed
	}
	return true, core.MsgConnectionSuccessful
}

// GetConnectorTables lists the extractable tables of an instance
func (m *Manager) GetConnectorTables(ctx context.Context, tenantID int64, connectorType string) (bool, []string, string) {
	conn, msg := m.lookup(ctx, tenantID, connectorType)
	if conn == nil {
		return false, nil, msg
	}

	tctx, cancel := withTimeout(ctx, defaultTestTimeout)
	defer cancel()
	tables, err := conn.ListTables(tctx)
	if err != nil {
		return false, nil, "Failed to list tables: " + errors.Message(err)
	}
	return true, tables, fmt.Sprintf("Found %d tables", len(tables))
}

// RemoveConnector drops the instance and its stored credentials. It reports
// whether an instance existed.
func (m *Manager) RemoveConnector(ctx context.Context, tenantID int64, connectorType string) bool {
	key := instanceKey{tenantID, connectorType}
	unlock, err := m.locks.Lock(ctx, key)
	if err != nil {
		m.logger.Warn("remove cancelled", zap.String("key", key.String()), zap.Error(err))
		return false
	}
	defer unlock()

	cached := m.evict(ctx, key)

	_, getErr := m.deps.Credentials.Get(ctx, tenantID, connectorType)
	stored := getErr == nil
	if stored {
		if err := m.deps.Credentials.Delete(ctx, tenantID, connectorType); err != nil {
			m.logger.Error("failed to delete credentials", zap.String("key", key.String()), zap.Error(err))
			return false
		}
	}

	if !cached && !stored {
		return false
	}
	m.logger.Info("connector removed", zap.Int64("tenant_id", tenantID), zap.String("connector", connectorType))
	m.publish(ctx, events.Event{Type: events.ConnectorRemoved, TenantID: tenantID, ConnectorType: connectorType})
	return true
}

// GetConnectorStatus probes an instance and lists its tables
func (m *Manager) GetConnectorStatus(ctx context.Context, tenantID int64, connectorType string) core.ConnectorStatus {
	status := core.ConnectorStatus{
		Status:          core.StatusNotFound,
		AvailableTables: []string{},
		CheckedAt:       m.deps.Now().UTC(),
	}

	conn, msg := m.lookup(ctx, tenantID, connectorType)
	if conn == nil {
		status.Message = msg
		return status
	}
	status.Exists = true

	tctx, cancel := withTimeout(ctx, defaultTestTimeout)
	defer cancel()
	if err := conn.TestConnection(tctx); err != nil {
		status.Status = core.StatusError
		status.Message = core.MsgConnectionFailed + ": " + errors.Message(err)
		return status
	}

	tables, err := conn.ListTables(tctx)
	if err != nil {
		status.Status = core.StatusError
		status.Message = "Failed to list tables: " + errors.Message(err)
		return status
	}
	status.Status = core.StatusConnected
	status.Message = core.MsgConnectionSuccessful
	status.TableCount = len(tables)
	status.AvailableTables = tables
	return status
}
