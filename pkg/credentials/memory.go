package credentials

import (
	"context"
	"sync"

	"github.com/ajitpratap0/tributary/pkg/connector/core"
)

// MemoryStore keeps credentials for the life of the process
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[int64]map[string]core.RawCredentials
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tenants: make(map[int64]map[string]core.RawCredentials)}
}

// Get returns a copy of the stored credentials
func (m *MemoryStore) Get(_ context.Context, tenantID int64, connectorType string) (core.RawCredentials, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	creds, ok := m.tenants[tenantID][connectorType]
	if !ok {
		return nil, NotFound(tenantID, connectorType)
	}
	return creds.Clone(), nil
}

// Put stores a copy of creds
func (m *MemoryStore) Put(_ context.Context, tenantID int64, connectorType string, creds core.RawCredentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tenants[tenantID] == nil {
		m.tenants[tenantID] = make(map[string]core.RawCredentials)
	}
	m.tenants[tenantID][connectorType] = creds.Clone()
	return nil
}

// Delete removes the credentials
func (m *MemoryStore) Delete(_ context.Context, tenantID int64, connectorType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tenants[tenantID], connectorType)
	return nil
}

// List returns the stored connector types of a tenant
func (m *MemoryStore) List(_ context.Context, tenantID int64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.tenants[tenantID]), nil
}
