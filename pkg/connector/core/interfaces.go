package core

import (
	"context"
	"time"
)

// AuthType names how a connector authenticates against its API
type AuthType string

const (
	AuthTypeBearer   AuthType = "bearer"
	AuthTypeBasic    AuthType = "basic"
	AuthTypeOAuth2   AuthType = "oauth2"
	AuthTypePassword AuthType = "password_grant"
	AuthTypeSession  AuthType = "session"
)

// ConnectorInfo describes a connector type in the catalog
type ConnectorInfo struct {
	Type                string   `json:"type"`
	DisplayName         string   `json:"display_name"`
	Description         string   `json:"description"`
	AuthType            AuthType `json:"auth_type"`
	RequiredCredentials []string `json:"required_credentials"`
	OptionalCredentials []string `json:"optional_credentials,omitempty"`
	DefaultTables       []string `json:"default_tables"`
}

// HealthStatus is the connection state reported by status queries
type HealthStatus string

const (
	StatusConnected HealthStatus = "connected"
	StatusError     HealthStatus = "error"
	StatusNotFound  HealthStatus = "not_found"
)

// ConnectorStatus is the structured answer to a status query
type ConnectorStatus struct {
	Exists          bool         `json:"exists"`
	Status          HealthStatus `json:"status"`
	Message         string       `json:"message"`
	TableCount      int          `json:"table_count"`
	AvailableTables []string     `json:"available_tables"`
	CheckedAt       time.Time    `json:"checked_at"`
}

// Closer is implemented by connectors that hold resources beyond the shared
// HTTP client, such as an authenticated session.
type Closer interface {
	Close(ctx context.Context) error
}
