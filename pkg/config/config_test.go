package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tributary/pkg/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/analytics")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost:5432/analytics", cfg.Store.URL)
	assert.Equal(t, "analytics_company_", cfg.Store.SchemaPrefix)
	assert.Equal(t, 30*24*time.Hour, cfg.Sync.Lookback)
	assert.Equal(t, "memory", cfg.Credentials.Backend)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := writeFile(t, "tributary.yaml", `
store:
  driver: snowflake
  url: user:pass@acct/db/core
credentials:
  backend: file
  path: /tmp/creds.yaml
sync:
  lookback: 72h
  max_records: 500
connectors:
  jira:
    page_size: 50
scheduler:
  enabled: true
  jobs:
    - tenant_id: 7
      spec: "@hourly"
`)
	t.Setenv("TRIBUTARY_SYNC_MAX_PAGES", "7")
	t.Setenv("TRIBUTARY_LOGGING_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "snowflake", cfg.Store.Driver)
	assert.Equal(t, "user:pass@acct/db/core", cfg.Store.URL)
	assert.Equal(t, 72*time.Hour, cfg.Sync.Lookback)
	assert.Equal(t, 500, cfg.Sync.MaxRecords)
	assert.Equal(t, 7, cfg.Sync.MaxPages)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 50, cfg.ConnectorSettingsFor("jira").PageSize)
	assert.Equal(t, ConnectorSettings{}, cfg.ConnectorSettingsFor("hubspot"))
	require.Len(t, cfg.Scheduler.Jobs, 1)
	assert.Equal(t, int64(7), cfg.Scheduler.Jobs[0].TenantID)
	// untouched sections keep their defaults
	assert.Equal(t, 5*time.Minute, cfg.Sync.WatermarkOverlap)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		errType errors.ErrorType
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "unknown driver", mutate: func(c *Config) { c.Store.Driver = "oracle" }, errType: errors.ErrorTypeConfig},
		{name: "file backend without path", mutate: func(c *Config) { c.Credentials.Backend = "file" }, errType: errors.ErrorTypeConfig},
		{name: "token service without url", mutate: func(c *Config) { c.Credentials.Backend = "token_service" }, errType: errors.ErrorTypeConfig},
		{name: "s3 archive without bucket", mutate: func(c *Config) { c.Archive.Backend = "s3" }, errType: errors.ErrorTypeConfig},
		{name: "kafka without brokers", mutate: func(c *Config) { c.Events.Backend = "kafka" }, errType: errors.ErrorTypeConfig},
		{name: "negative page size", mutate: func(c *Config) { c.Sync.PageSize = -1 }, errType: errors.ErrorTypeValidation},
		{name: "empty schema prefix", mutate: func(c *Config) { c.Store.SchemaPrefix = "" }, errType: errors.ErrorTypeValidation},
		{name: "job without spec", mutate: func(c *Config) {
			c.Scheduler.Jobs = []ScheduledJob{{TenantID: 1}}
		}, errType: errors.ErrorTypeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errType == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsType(err, tt.errType), "got %v", err)
		})
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("HUBSPOT_TOKEN", "pat-123")

	got := SubstituteEnvVars("token: ${HUBSPOT_TOKEN}\nother: ${UNSET_TRIBUTARY_VAR}x\nliteral: $HOME")
	assert.Equal(t, "token: pat-123\nother: x\nliteral: $HOME", got)
}

func TestLoadYAML_SaveYAML(t *testing.T) {
	t.Setenv("JIRA_TOKEN", "secret")
	path := writeFile(t, "creds.yaml", "jira:\n  api_token: ${JIRA_TOKEN}\n")

	var doc map[string]map[string]string
	require.NoError(t, LoadYAML(path, &doc))
	assert.Equal(t, "secret", doc["jira"]["api_token"])

	doc["jira"]["username"] = "ops@example.com"
	require.NoError(t, SaveYAML(path, doc))

	var reread map[string]map[string]string
	require.NoError(t, LoadYAML(path, &reread))
	assert.Equal(t, doc, reread)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
