package manager

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tributary/pkg/archive"
	"github.com/ajitpratap0/tributary/pkg/connector/core"
	"github.com/ajitpratap0/tributary/pkg/errors"
	"github.com/ajitpratap0/tributary/pkg/events"
	"github.com/ajitpratap0/tributary/pkg/logger"
	"github.com/ajitpratap0/tributary/pkg/metrics"
	"github.com/ajitpratap0/tributary/pkg/observability"
)

// SyncOptions tunes one sync
type SyncOptions struct {
	// Tables restricts the sync; empty means every table the connector lists
	Tables []string
	// Full disables the watermark filter and backfills every table
	Full bool
}

// SyncConnector runs an incremental sync of tables, or of every table the
// connector lists when tables is empty
func (m *Manager) SyncConnector(ctx context.Context, tenantID int64, connectorType string, tables []string) core.SyncResult {
	return m.Sync(ctx, tenantID, connectorType, SyncOptions{Tables: tables})
}

// Sync extracts and loads tables one at a time and aggregates the outcome.
// At most one sync per instance runs at a time; a waiting caller gives up
// when ctx is done.
func (m *Manager) Sync(ctx context.Context, tenantID int64, connectorType string, opts SyncOptions) core.SyncResult {
	start := m.deps.Now()

	if !m.deps.Registry.Has(connectorType) {
		return core.Failed(start, m.deps.Now(), core.MsgUnknownTypePrefix+connectorType)
	}

	key := instanceKey{tenantID, connectorType}
	unlock, err := m.locks.Lock(ctx, key)
	if err != nil {
		return core.Failed(start, m.deps.Now(), "Sync cancelled: "+err.Error())
	}
	defer unlock()

	conn, msg := m.lookup(ctx, tenantID, connectorType)
	if conn == nil {
		return core.Failed(start, m.deps.Now(), msg)
	}

	syncID := uuid.NewString()
	ctx = logger.ContextWithTenant(ctx, tenantID)
	ctx = logger.ContextWithConnector(ctx, connectorType)
	ctx = logger.ContextWithSyncID(ctx, syncID)
	log := logger.FromContext(ctx, m.logger)

	ctx, span := observability.StartSpan(ctx, "sync_connector",
		attribute.Int64("tenant_id", tenantID),
		attribute.String("connector", connectorType),
		attribute.String("sync_id", syncID),
		attribute.Bool("full", opts.Full))

	metrics.SyncsInFlight.Inc()
	defer metrics.SyncsInFlight.Dec()
	timer := metrics.NewTimer()

	tables := opts.Tables
	if len(tables) == 0 {
		lctx, cancel := withTimeout(ctx, defaultTestTimeout)
		tables, err = conn.ListTables(lctx)
		cancel()
		if err != nil {
			res := core.Failed(start, m.deps.Now(), "Failed to list tables: "+errors.Message(err))
			res.SyncID = syncID
			m.finish(ctx, key, res, timer.Stop())
			observability.EndSpan(span, err)
			return res
		}
	}

	log.Info("sync started", zap.Int("tables", len(tables)), zap.Bool("full", opts.Full))

	results := make([]core.TableResult, 0, len(tables))
	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			results = append(results, core.TableResult{Table: table, Error: err.Error()})
			continue
		}
		results = append(results, m.syncTable(ctx, conn, key, table, syncID, opts.Full, log))
	}

	res := core.Aggregate(start, m.deps.Now(), results)
	res.SyncID = syncID
	m.finish(ctx, key, res, timer.Stop())

	if res.Success {
		log.Info("sync completed",
			zap.Int("records", res.RecordsSynced),
			zap.Int("tables", len(res.TablesSynced)),
			zap.Duration("duration", res.EndTime.Sub(res.StartTime)))
		observability.EndSpan(span, nil)
	} else {
		log.Warn("sync completed with failures",
			zap.Int("records", res.RecordsSynced),
			zap.String("error", res.ErrorMessage))
		observability.EndSpan(span, errors.New(errors.ErrorTypePartial, res.ErrorMessage))
	}
	return res
}

// finish records metrics and publishes the outcome of a sync
func (m *Manager) finish(ctx context.Context, key instanceKey, res core.SyncResult, d time.Duration) {
	metrics.ObserveSync(key.connectorType, res.Success, res.RecordsSynced, d)
	m.publish(ctx, events.Event{
		Type:          events.SyncCompleted,
		TenantID:      key.tenantID,
		ConnectorType: key.connectorType,
		Result:        &res,
	})
}

// syncTable runs watermark, extract, archive and load for one table. Every
// failure is confined to the returned TableResult. The watermark advances to
// the extraction start only when the source was read to the end and the load
// succeeded, so records changed during a slow read are fetched again.
func (m *Manager) syncTable(ctx context.Context, conn core.Connector, key instanceKey, table, syncID string, full bool, log *zap.Logger) core.TableResult {
	started := m.deps.Now()
	target := core.TableName(key.connectorType, table)
	res := core.TableResult{Table: table, Target: target}
	log = log.With(zap.String("table", table))

	ctx, cancel := withTimeout(ctx, m.deps.TableTimeout)
	defer cancel()
	ctx, span := observability.StartSpan(ctx, "sync_table",
		attribute.Int64("tenant_id", key.tenantID),
		attribute.String("connector", key.connectorType),
		attribute.String("table", table))

	fail := func(err error) core.TableResult {
		res.Error = errors.Message(err)
		res.Duration = m.deps.Now().Sub(started).String()
		metrics.TableFailures.WithLabelValues(key.connectorType).Inc()
		log.Error("table sync failed", zap.Error(err))
		observability.EndSpan(span, err)
		return res
	}

	req := core.ExtractRequest{Table: table, Incremental: !full}
	if req.Incremental {
		req.Since = m.deps.Loader.Watermark(ctx, key.tenantID, key.connectorType, target, started)
	}

	records, err := conn.Extract(ctx, req)
	switch {
	case err == nil:
	case errors.HasType(err, errors.ErrorTypePartial):
		res.Partial = true
		log.Warn("extraction stopped early, loading partial results",
			zap.Int("records", len(records)), zap.Error(err))
	case errors.HasType(err, errors.ErrorTypeCapped):
		res.Capped = true
		log.Warn("extraction cap reached, watermark held",
			zap.Int("records", len(records)), zap.Error(err))
	default:
		return fail(err)
	}

	if _, err := m.deps.Archiver.Archive(ctx, archive.Key{
		TenantID:      key.tenantID,
		ConnectorType: key.connectorType,
		Table:         table,
		SyncID:        syncID,
		Time:          started,
	}, records); err != nil {
		log.Warn("failed to archive raw extract", zap.Error(err))
	}

	n, err := m.deps.Loader.Load(ctx, target, records, key.connectorType, key.tenantID)
	if err != nil {
		return fail(err)
	}

	if !res.Partial && !res.Capped {
		if err := m.deps.Loader.Advance(ctx, key.tenantID, key.connectorType, target, started); err != nil {
			log.Warn("failed to advance watermark", zap.Error(err))
		}
	}

	res.Success = true
	res.Records = n
	res.Duration = m.deps.Now().Sub(started).String()
	log.Debug("table synced", zap.Int("records", n), zap.Bool("partial", res.Partial), zap.Bool("capped", res.Capped))
	observability.EndSpan(span, nil)
	return res
}

// SyncAllConnectors syncs every connector of a tenant, cached or stored, in
// type order. Each type gets its own result.
func (m *Manager) SyncAllConnectors(ctx context.Context, tenantID int64) map[string]core.SyncResult {
	types := make(map[string]struct{})
	for _, t := range m.cachedTypes(tenantID) {
		types[t] = struct{}{}
	}
	stored, err := m.deps.Credentials.List(ctx, tenantID)
	if err != nil {
		m.logger.Warn("failed to list stored connectors, syncing cached ones only",
			zap.Int64("tenant_id", tenantID), zap.Error(err))
	}
	for _, t := range stored {
		if m.deps.Registry.Has(t) {
			types[t] = struct{}{}
		}
	}

	ordered := make([]string, 0, len(types))
	for t := range types {
		ordered = append(ordered, t)
	}
	sort.Strings(ordered)

	results := make(map[string]core.SyncResult, len(ordered))
	for _, t := range ordered {
		results[t] = m.SyncConnector(ctx, tenantID, t, nil)
	}
	return results
}
