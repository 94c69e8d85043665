// Package api exposes the connector manager over HTTP.
//
// Routes:
//
//	GET    /healthz
//	GET    /metrics
//	GET    /connectors
//	POST   /tenants/{tenant}/sync
//	POST   /tenants/{tenant}/connectors/{type}
//	DELETE /tenants/{tenant}/connectors/{type}
//	GET    /tenants/{tenant}/connectors/{type}/test
//	GET    /tenants/{tenant}/connectors/{type}/tables
//	GET    /tenants/{tenant}/connectors/{type}/status
//	POST   /tenants/{tenant}/connectors/{type}/sync
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tributary/internal/manager"
	"github.com/ajitpratap0/tributary/pkg/config"
	"github.com/ajitpratap0/tributary/pkg/connector/core"
	"github.com/ajitpratap0/tributary/pkg/errors"
	"github.com/ajitpratap0/tributary/pkg/logger"
	"github.com/ajitpratap0/tributary/pkg/observability"
)

// ConnectorManager is the subset of *manager.Manager the API drives
type ConnectorManager interface {
	ConnectorTypes() []core.ConnectorInfo
	CreateConnector(ctx context.Context, tenantID int64, connectorType string, creds core.RawCredentials, cfg map[string]string) (bool, string)
	TestConnector(ctx context.Context, tenantID int64, connectorType string) (bool, string)
	GetConnectorTables(ctx context.Context, tenantID int64, connectorType string) (bool, []string, string)
	Sync(ctx context.Context, tenantID int64, connectorType string, opts manager.SyncOptions) core.SyncResult
	SyncAllConnectors(ctx context.Context, tenantID int64) map[string]core.SyncResult
	GetConnectorStatus(ctx context.Context, tenantID int64, connectorType string) core.ConnectorStatus
	RemoveConnector(ctx context.Context, tenantID int64, connectorType string) bool
}

var _ ConnectorManager = (*manager.Manager)(nil)

// Server serves the control API
type Server struct {
	mgr    ConnectorManager
	cfg    config.ServerConfig
	logger *zap.Logger
	srv    *http.Server
}

// NewServer creates a server for mgr
func NewServer(mgr ConnectorManager, cfg config.ServerConfig, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		mgr:    mgr,
		cfg:    cfg,
		logger: log.With(zap.String("component", "api")),
	}
}

// Handler builds the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(observability.Middleware)
	r.Use(s.accessLog)

	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/connectors", s.listConnectorTypes)

	r.Route("/tenants/{tenant}", func(r chi.Router) {
		r.Post("/sync", s.syncAll)

		r.Route("/connectors/{type}", func(r chi.Router) {
			r.Post("/", s.createConnector)
			r.Delete("/", s.removeConnector)
			r.Get("/test", s.testConnector)
			r.Get("/tables", s.listTables)
			r.Get("/status", s.status)
			r.Post("/sync", s.syncConnector)
		})
	})

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control API listening", zap.String("addr", s.cfg.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return errors.Wrap(err, errors.ErrorTypeConnection, "control API failed")
		}
		return nil
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	s.logger.Info("shutting down control API")
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeTimeout, "control API shutdown")
	}
	return nil
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		if id := chimiddleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(logger.ContextWithRequestID(r.Context(), id))
		}
		next.ServeHTTP(ww, r)
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			return
		}
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", chimiddleware.GetReqID(r.Context())))
	})
}
