package credentials

import (
	"context"
	"os"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/tributary/pkg/config"
	"github.com/ajitpratap0/tributary/pkg/connector/core"
	"github.com/ajitpratap0/tributary/pkg/errors"
)

// fileDocument is the on-disk layout:
//
//	tenants:
//	  "42":
//	    hubspot:
//	      access_token: ${HUBSPOT_TOKEN}
type fileDocument struct {
	Tenants map[string]map[string]core.RawCredentials `yaml:"tenants"`
}

// FileStore keeps credentials in a YAML file. Reads substitute ${VAR}
// references from the environment; writes keep references that were not
// touched and replace the file atomically.
type FileStore struct {
	path   string
	mu     sync.Mutex
	logger *zap.Logger
}

// NewFileStore creates a store on path. The file is created on first Put.
func NewFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	if path == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "credentials.path is required for the file backend")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{path: path, logger: logger}, nil
}

// load reads the document; expand substitutes environment references
func (f *FileStore) load(expand bool) (*fileDocument, error) {
	doc := &fileDocument{}
	if _, err := os.Stat(f.path); os.IsNotExist(err) {
		return doc, nil
	}

	if expand {
		if err := config.LoadYAML(f.path, doc); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read credentials file")
		}
		return doc, nil
	}

	data, err := os.ReadFile(f.path) //nolint:gosec // G304: path comes from operator configuration
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read credentials file")
	}
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse credentials file")
	}
	return doc, nil
}

// Get returns the credentials with environment references expanded
func (f *FileStore) Get(_ context.Context, tenantID int64, connectorType string) (core.RawCredentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load(true)
	if err != nil {
		return nil, err
	}
	creds, ok := doc.Tenants[strconv.FormatInt(tenantID, 10)][connectorType]
	if !ok {
		return nil, NotFound(tenantID, connectorType)
	}
	return creds.Clone(), nil
}

// Put creates or replaces the credentials
func (f *FileStore) Put(_ context.Context, tenantID int64, connectorType string, creds core.RawCredentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load(false)
	if err != nil {
		return err
	}
	if doc.Tenants == nil {
		doc.Tenants = make(map[string]map[string]core.RawCredentials)
	}
	key := strconv.FormatInt(tenantID, 10)
	if doc.Tenants[key] == nil {
		doc.Tenants[key] = make(map[string]core.RawCredentials)
	}
	doc.Tenants[key][connectorType] = creds.Clone()

	if err := config.SaveYAML(f.path, doc); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to write credentials file")
	}
	f.logger.Debug("credentials written", zap.Int64("tenant_id", tenantID), zap.String("connector", connectorType))
	return nil
}

// Delete removes the credentials
func (f *FileStore) Delete(_ context.Context, tenantID int64, connectorType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load(false)
	if err != nil {
		return err
	}
	key := strconv.FormatInt(tenantID, 10)
	if _, ok := doc.Tenants[key][connectorType]; !ok {
		return nil
	}
	delete(doc.Tenants[key], connectorType)
	if len(doc.Tenants[key]) == 0 {
		delete(doc.Tenants, key)
	}
	if err := config.SaveYAML(f.path, doc); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to write credentials file")
	}
	return nil
}

// List returns the stored connector types of a tenant
func (f *FileStore) List(_ context.Context, tenantID int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load(false)
	if err != nil {
		return nil, err
	}
	return sortedKeys(doc.Tenants[strconv.FormatInt(tenantID, 10)]), nil
}
