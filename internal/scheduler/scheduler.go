// Package scheduler runs periodic per-tenant syncs on cron specs.
package scheduler

import (
	"context"
	"sort"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tributary/pkg/config"
	"github.com/ajitpratap0/tributary/pkg/connector/core"
	"github.com/ajitpratap0/tributary/pkg/errors"
	"github.com/ajitpratap0/tributary/pkg/logger"
)

// Syncer syncs every connector of a tenant
type Syncer interface {
	SyncAllConnectors(ctx context.Context, tenantID int64) map[string]core.SyncResult
}

// Scheduler triggers SyncAllConnectors per configured job. A run is skipped
// while an earlier run for the same tenant is still executing.
type Scheduler struct {
	syncer Syncer
	logger *zap.Logger
	cron   *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running map[int64]bool
	wg      sync.WaitGroup
}

// New creates a scheduler and registers every job in cfg. Invalid specs are
// config errors.
func New(syncer Syncer, cfg config.SchedulerConfig, log *zap.Logger) (*Scheduler, error) {
	if log == nil {
		log = logger.Get()
	}
	log = log.With(zap.String("component", "scheduler"))

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		syncer:  syncer,
		logger:  log,
		cron:    cron.New(cron.WithLogger(cronLogger{log.Sugar()})),
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[int64]bool),
	}

	for _, job := range cfg.Jobs {
		if err := s.Add(job); err != nil {
			cancel()
			return nil, err
		}
	}
	return s, nil
}

// Add registers one job
func (s *Scheduler) Add(job config.ScheduledJob) error {
	if job.TenantID <= 0 {
		return errors.Newf(errors.ErrorTypeConfig, "scheduled job has invalid tenant id %d", job.TenantID)
	}
	tenantID := job.TenantID
	if _, err := s.cron.AddFunc(job.Spec, func() { s.Run(tenantID) }); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid cron spec "+job.Spec).
			WithDetail("tenant_id", tenantID)
	}
	s.logger.Info("scheduled tenant sync", zap.Int64("tenant_id", tenantID), zap.String("spec", job.Spec))
	return nil
}

// Start begins firing jobs
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops firing jobs, cancels in-flight runs and waits for them.
// The context is cancelled first since cron's Stop waits for running jobs.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
}

// Run syncs one tenant now. It reports false when a run for the tenant is
// already executing.
func (s *Scheduler) Run(tenantID int64) bool {
	s.mu.Lock()
	if s.running[tenantID] {
		s.mu.Unlock()
		s.logger.Warn("previous sync still running, skipping", zap.Int64("tenant_id", tenantID))
		return false
	}
	s.running[tenantID] = true
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, tenantID)
		s.mu.Unlock()
		s.wg.Done()
	}()

	results := s.syncer.SyncAllConnectors(s.ctx, tenantID)

	types := make([]string, 0, len(results))
	for t := range results {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		res := results[t]
		if res.Success {
			s.logger.Info("scheduled sync completed",
				zap.Int64("tenant_id", tenantID),
				zap.String("connector", t),
				zap.Int("records", res.RecordsSynced))
			continue
		}
		s.logger.Warn("scheduled sync failed",
			zap.Int64("tenant_id", tenantID),
			zap.String("connector", t),
			zap.String("error", res.ErrorMessage))
	}
	return true
}

// Running reports whether a run for tenantID is executing
func (s *Scheduler) Running(tenantID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[tenantID]
}

// Jobs returns the number of registered jobs
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

// cronLogger routes cron's own logging through zap
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
