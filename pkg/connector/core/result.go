package core

import (
	"strings"
	"time"
)

// Messages returned by manager operations.
const (
	MsgConnectorNotFound    = "Connector not found"
	MsgConnectorCreated     = "Connector created successfully"
	MsgConnectionSuccessful = "Connection test successful"
	MsgConnectionFailed     = "Connection test failed"
	MsgCredentialsValid     = "Credentials validated successfully"
	MsgAuthFailed           = "Failed to authenticate with API"
	MsgSyncFailedPrefix     = "Failed to sync tables: "
	MsgUnknownTypePrefix    = "Unknown connector type: "
)

// SyncResult is the outcome of one sync operation.
type SyncResult struct {
	Success       bool      `json:"success"`
	RecordsSynced int       `json:"records_synced"`
	TablesSynced  []string  `json:"tables_synced"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	// Tables holds the per-table breakdown, in processing order
	Tables []TableResult `json:"tables,omitempty"`
	SyncID string        `json:"sync_id,omitempty"`
}

// TableResult is the outcome of extract+load for one table. Capped is set
// when a page or record limit stopped the extraction early.
type TableResult struct {
	Table    string `json:"table"`
	Target   string `json:"target,omitempty"`
	Success  bool   `json:"success"`
	Records  int    `json:"records"`
	Partial  bool   `json:"partial,omitempty"`
	Capped   bool   `json:"capped,omitempty"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// Failed returns a failed result carrying msg and no tables
func Failed(start, end time.Time, msg string) SyncResult {
	return SyncResult{
		Success:      false,
		TablesSynced: []string{},
		ErrorMessage: msg,
		StartTime:    start,
		EndTime:      end,
	}
}

// Aggregate folds per-table outcomes into a SyncResult. Success holds iff no
// table failed; RecordsSynced sums the succeeded tables only.
func Aggregate(start, end time.Time, tables []TableResult) SyncResult {
	res := SyncResult{
		TablesSynced: make([]string, 0, len(tables)),
		StartTime:    start,
		EndTime:      end,
		Tables:       tables,
	}

	var failed []string
	for _, t := range tables {
		if t.Success {
			res.TablesSynced = append(res.TablesSynced, t.Table)
			res.RecordsSynced += t.Records
			continue
		}
		failed = append(failed, t.Table)
	}

	res.Success = len(failed) == 0
	if !res.Success {
		res.ErrorMessage = MsgSyncFailedPrefix + strings.Join(failed, ", ")
	}
	return res
}

// TableName is the analytics table for a source table of a connector type,
// e.g. ("hubspot", "Deals") -> "hubspot_deals".
func TableName(connectorType, table string) string {
	return NormalizeIdentifier(connectorType + "_" + table)
}

// NormalizeIdentifier lowercases s and replaces spaces, dashes and dots with
// underscores. It is idempotent.
func NormalizeIdentifier(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return identReplacer.Replace(s)
}

var identReplacer = strings.NewReplacer(" ", "_", "-", "_", ".", "_")
