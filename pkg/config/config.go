// Package config defines the process configuration for tributary.
//
// The configuration is organized into sections:
//   - Logging: zap logger settings
//   - Store: analytics store driver and connection string
//   - Credentials: where per-tenant connector credentials live
//   - HTTP: outbound client timeouts, rate limit and circuit breaker
//   - Sync: extraction limits and watermark policy
//   - Manager: connector instance cache
//   - Archive, Events: optional raw-extract archive and sync event stream
//   - Server, Scheduler, Observability: the long-running service
//
// Example usage:
//
//	cfg, err := config.Load("tributary.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"time"

	"github.com/ajitpratap0/tributary/pkg/errors"
	"github.com/ajitpratap0/tributary/pkg/logger"
)

// Config is the root configuration structure.
type Config struct {
	Logging       logger.Config                `yaml:"logging" mapstructure:"logging"`
	Store         StoreConfig                  `yaml:"store" mapstructure:"store"`
	Credentials   CredentialsConfig            `yaml:"credentials" mapstructure:"credentials"`
	HTTP          HTTPConfig                   `yaml:"http" mapstructure:"http"`
	Sync          SyncConfig                   `yaml:"sync" mapstructure:"sync"`
	Manager       ManagerConfig                `yaml:"manager" mapstructure:"manager"`
	Connectors    map[string]ConnectorSettings `yaml:"connectors" mapstructure:"connectors"`
	Archive       ArchiveConfig                `yaml:"archive" mapstructure:"archive"`
	Events        EventsConfig                 `yaml:"events" mapstructure:"events"`
	Server        ServerConfig                 `yaml:"server" mapstructure:"server"`
	Scheduler     SchedulerConfig              `yaml:"scheduler" mapstructure:"scheduler"`
	Observability ObservabilityConfig          `yaml:"observability" mapstructure:"observability"`
}

// StoreConfig addresses the analytics store.
type StoreConfig struct {
	// Driver is one of postgres, snowflake, mysql, memory
	Driver string `yaml:"driver" mapstructure:"driver"`
	// URL is the connection string (DATABASE_URL for postgres)
	URL string `yaml:"url" mapstructure:"url"`
	// SchemaPrefix is prepended to the tenant id to form the schema name
	SchemaPrefix     string        `yaml:"schema_prefix" mapstructure:"schema_prefix"`
	MaxConns         int           `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns         int           `yaml:"min_conns" mapstructure:"min_conns"`
	ConnMaxLifetime  time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	StatementTimeout time.Duration `yaml:"statement_timeout" mapstructure:"statement_timeout"`
	// InsertChunkSize bounds the rows per INSERT statement inside one batch
	InsertChunkSize int `yaml:"insert_chunk_size" mapstructure:"insert_chunk_size"`
}

// CredentialsConfig selects the credential store backend.
type CredentialsConfig struct {
	// Backend is one of memory, file, postgres, token_service
	Backend string `yaml:"backend" mapstructure:"backend"`
	// Path is the YAML file used by the file backend
	Path string `yaml:"path" mapstructure:"path"`
	// URL is the postgres connection string for the postgres backend; defaults to store.url
	URL string `yaml:"url" mapstructure:"url"`
	// Table holds credentials in the postgres backend
	Table string `yaml:"table" mapstructure:"table"`
	// ServiceURL and APIKey address the external token service
	ServiceURL string        `yaml:"service_url" mapstructure:"service_url"`
	APIKey     string        `yaml:"api_key" mapstructure:"api_key"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// HTTPConfig configures the outbound client shared by all connectors.
type HTTPConfig struct {
	RequestTimeout      time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
	ProbeTimeout        time.Duration `yaml:"probe_timeout" mapstructure:"probe_timeout"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host" mapstructure:"max_idle_conns_per_host"`
	EnableHTTP2         bool          `yaml:"enable_http2" mapstructure:"enable_http2"`
	RateLimit           float64       `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst           int           `yaml:"rate_burst" mapstructure:"rate_burst"`
	CircuitBreaker      bool          `yaml:"circuit_breaker" mapstructure:"circuit_breaker"`
	FailureThreshold    uint32        `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	OpenTimeout         time.Duration `yaml:"open_timeout" mapstructure:"open_timeout"`
	RetryAttempts       int           `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryDelay          time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`
	UserAgent           string        `yaml:"user_agent" mapstructure:"user_agent"`
}

// SyncConfig holds extraction limits and the watermark policy.
type SyncConfig struct {
	// PageSize is the requested page size, clamped to each API's maximum.
	// Zero requests the largest page every API allows.
	PageSize   int `yaml:"page_size" mapstructure:"page_size"`
	MaxPages   int `yaml:"max_pages" mapstructure:"max_pages"`
	MaxRecords int `yaml:"max_records" mapstructure:"max_records"`
	// Lookback is used when no extraction of a table has completed yet
	Lookback time.Duration `yaml:"lookback" mapstructure:"lookback"`
	// WatermarkOverlap is subtracted from the stored watermark
	WatermarkOverlap time.Duration `yaml:"watermark_overlap" mapstructure:"watermark_overlap"`
	// TableTimeout bounds extract+load of one table; zero disables it
	TableTimeout time.Duration `yaml:"table_timeout" mapstructure:"table_timeout"`
}

// ManagerConfig configures the connector instance cache.
type ManagerConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// ConnectorSettings overrides limits for a single connector type.
type ConnectorSettings struct {
	BaseURL    string            `yaml:"base_url" mapstructure:"base_url"`
	PageSize   int               `yaml:"page_size" mapstructure:"page_size"`
	MaxPages   int               `yaml:"max_pages" mapstructure:"max_pages"`
	MaxRecords int               `yaml:"max_records" mapstructure:"max_records"`
	Options    map[string]string `yaml:"options" mapstructure:"options"`
}

// ArchiveConfig configures the raw extract archive.
type ArchiveConfig struct {
	// Backend is one of none, s3, gcs
	Backend string `yaml:"backend" mapstructure:"backend"`
	Bucket  string `yaml:"bucket" mapstructure:"bucket"`
	Prefix  string `yaml:"prefix" mapstructure:"prefix"`
	Region  string `yaml:"region" mapstructure:"region"`
	// Endpoint overrides the S3 endpoint, e.g. for MinIO
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
	// CredentialsFile is a GCS service account key; empty uses ambient credentials
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
	// Compression is gzip or zstd
	Compression string `yaml:"compression" mapstructure:"compression"`
}

// EventsConfig configures the sync event stream.
type EventsConfig struct {
	// Backend is one of none, kafka
	Backend string   `yaml:"backend" mapstructure:"backend"`
	Brokers []string `yaml:"brokers" mapstructure:"brokers"`
	Topic   string   `yaml:"topic" mapstructure:"topic"`
}

// ServerConfig configures the HTTP control API.
type ServerConfig struct {
	Addr            string        `yaml:"addr" mapstructure:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// SchedulerConfig lists periodic tenant syncs.
type SchedulerConfig struct {
	Enabled bool           `yaml:"enabled" mapstructure:"enabled"`
	Jobs    []ScheduledJob `yaml:"jobs" mapstructure:"jobs"`
}

// ScheduledJob runs sync_all_connectors for one tenant on a cron spec.
type ScheduledJob struct {
	TenantID int64  `yaml:"tenant_id" mapstructure:"tenant_id"`
	Spec     string `yaml:"spec" mapstructure:"spec"`
}

// ObservabilityConfig configures tracing and metrics.
type ObservabilityConfig struct {
	ServiceName    string  `yaml:"service_name" mapstructure:"service_name"`
	Environment    string  `yaml:"environment" mapstructure:"environment"`
	TracingEnabled bool    `yaml:"tracing_enabled" mapstructure:"tracing_enabled"`
	SamplingRate   float64 `yaml:"sampling_rate" mapstructure:"sampling_rate"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Logging: logger.Config{Level: "info", Encoding: "json"},
		Store: StoreConfig{
			Driver:           "postgres",
			SchemaPrefix:     "analytics_company_",
			MaxConns:         10,
			MinConns:         1,
			ConnMaxLifetime:  30 * time.Minute,
			StatementTimeout: 30 * time.Second,
			InsertChunkSize:  1000,
		},
		Credentials: CredentialsConfig{
			Backend: "memory",
			Table:   "connector_credentials",
			Timeout: 10 * time.Second,
		},
		HTTP: HTTPConfig{
			RequestTimeout:      30 * time.Second,
			ProbeTimeout:        10 * time.Second,
			MaxIdleConnsPerHost: 16,
			EnableHTTP2:         true,
			RateLimit:           10,
			RateBurst:           5,
			CircuitBreaker:      true,
			FailureThreshold:    5,
			OpenTimeout:         30 * time.Second,
			RetryAttempts:       3,
			RetryDelay:          500 * time.Millisecond,
			UserAgent:           "tributary/1.0",
		},
		Sync: SyncConfig{
			MaxPages:         100,
			MaxRecords:       10000,
			Lookback:         30 * 24 * time.Hour,
			WatermarkOverlap: 5 * time.Minute,
			TableTimeout:     10 * time.Minute,
		},
		Manager: ManagerConfig{CacheTTL: 15 * time.Minute},
		Archive: ArchiveConfig{Backend: "none", Prefix: "raw", Compression: "gzip"},
		Events:  EventsConfig{Backend: "none", Topic: "tributary.sync"},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			ServiceName:  "tributary",
			Environment:  "development",
			SamplingRate: 1.0,
		},
	}
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres", "postgresql", "snowflake", "mysql", "memory":
	default:
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("unsupported store driver: %q", c.Store.Driver))
	}

	switch c.Credentials.Backend {
	case "memory":
	case "file":
		if c.Credentials.Path == "" {
			return errors.New(errors.ErrorTypeConfig, "credentials.path is required for the file backend")
		}
	case "postgres":
		if c.Credentials.URL == "" && c.Store.URL == "" {
			return errors.New(errors.ErrorTypeConfig, "credentials.url or store.url is required for the postgres backend")
		}
	case "token_service":
		if c.Credentials.ServiceURL == "" {
			return errors.New(errors.ErrorTypeConfig, "credentials.service_url is required for the token_service backend")
		}
	default:
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("unsupported credentials backend: %q", c.Credentials.Backend))
	}

	switch c.Archive.Backend {
	case "", "none":
	case "s3", "gcs":
		if c.Archive.Bucket == "" {
			return errors.New(errors.ErrorTypeConfig, "archive.bucket is required")
		}
		switch c.Archive.Compression {
		case "", "gzip", "zstd":
		default:
			return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("unsupported archive compression: %q", c.Archive.Compression))
		}
	default:
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("unsupported archive backend: %q", c.Archive.Backend))
	}

	switch c.Events.Backend {
	case "", "none":
	case "kafka":
		if len(c.Events.Brokers) == 0 || c.Events.Topic == "" {
			return errors.New(errors.ErrorTypeConfig, "events.brokers and events.topic are required for kafka")
		}
	default:
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("unsupported events backend: %q", c.Events.Backend))
	}

	if c.Sync.MaxPages <= 0 || c.Sync.MaxRecords <= 0 {
		return errors.New(errors.ErrorTypeValidation, "sync.max_pages and sync.max_records must be positive")
	}
	if c.Sync.PageSize < 0 {
		return errors.New(errors.ErrorTypeValidation, "sync.page_size must not be negative")
	}
	if c.Sync.Lookback <= 0 {
		return errors.New(errors.ErrorTypeValidation, "sync.lookback must be positive")
	}
	if c.Store.SchemaPrefix == "" {
		return errors.New(errors.ErrorTypeValidation, "store.schema_prefix must not be empty")
	}

	for _, job := range c.Scheduler.Jobs {
		if job.Spec == "" {
			return errors.New(errors.ErrorTypeValidation, fmt.Sprintf("scheduler job for tenant %d has no spec", job.TenantID))
		}
	}

	return nil
}

// ConnectorSettingsFor returns the overrides for a connector type.
func (c *Config) ConnectorSettingsFor(connectorType string) ConnectorSettings {
	if c.Connectors == nil {
		return ConnectorSettings{}
	}
	return c.Connectors[connectorType]
}
