package api

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tributary/internal/manager"
	"github.com/ajitpratap0/tributary/pkg/connector/core"
	"github.com/ajitpratap0/tributary/pkg/json"
)

const maxBodyBytes = 1 << 20

// CreateRequest is the body of POST /tenants/{tenant}/connectors/{type}
type CreateRequest struct {
	Credentials core.RawCredentials `json:"credentials"`
	Config      map[string]string   `json:"config,omitempty"`
}

// SyncRequest is the body of POST .../sync
type SyncRequest struct {
	Tables []string `json:"tables,omitempty"`
	Full   bool     `json:"full,omitempty"`
}

// Response is the envelope for operations that report success and a message
type Response struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Tables  []string `json:"tables,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listConnectorTypes(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, s.mgr.ConnectorTypes())
}

func (s *Server) createConnector(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenant(w, r)
	if !ok {
		return
	}
	var req CreateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Credentials == nil {
		req.Credentials = core.RawCredentials{}
	}

	ok, msg := s.mgr.CreateConnector(r.Context(), tenantID, chi.URLParam(r, "type"), req.Credentials, req.Config)
	if !ok {
		s.respond(w, failureStatus(msg, http.StatusBadRequest), Response{Message: msg})
		return
	}
	s.respond(w, http.StatusCreated, Response{Success: true, Message: msg})
}

func (s *Server) removeConnector(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenant(w, r)
	if !ok {
		return
	}
	if !s.mgr.RemoveConnector(r.Context(), tenantID, chi.URLParam(r, "type")) {
		s.respond(w, http.StatusNotFound, Response{Message: core.MsgConnectorNotFound})
		return
	}
	s.respond(w, http.StatusOK, Response{Success: true, Message: "Connector removed"})
}

func (s *Server) testConnector(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenant(w, r)
	if !ok {
		return
	}
	ok, msg := s.mgr.TestConnector(r.Context(), tenantID, chi.URLParam(r, "type"))
	if !ok {
		s.respond(w, failureStatus(msg, http.StatusBadGateway), Response{Message: msg})
		return
	}
	s.respond(w, http.StatusOK, Response{Success: true, Message: msg})
}

func (s *Server) listTables(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenant(w, r)
	if !ok {
		return
	}
	ok, tables, msg := s.mgr.GetConnectorTables(r.Context(), tenantID, chi.URLParam(r, "type"))
	if !ok {
		s.respond(w, failureStatus(msg, http.StatusBadGateway), Response{Message: msg})
		return
	}
	if tables == nil {
		tables = []string{}
	}
	s.respond(w, http.StatusOK, Response{Success: true, Message: msg, Tables: tables})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenant(w, r)
	if !ok {
		return
	}
	st := s.mgr.GetConnectorStatus(r.Context(), tenantID, chi.URLParam(r, "type"))
	code := http.StatusOK
	if st.Status == core.StatusNotFound {
		code = http.StatusNotFound
	}
	s.respond(w, code, st)
}

func (s *Server) syncConnector(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenant(w, r)
	if !ok {
		return
	}
	var req SyncRequest
	if !s.decode(w, r, &req) {
		return
	}

	res := s.mgr.Sync(r.Context(), tenantID, chi.URLParam(r, "type"), manager.SyncOptions{
		Tables: req.Tables,
		Full:   req.Full,
	})
	code := http.StatusOK
	if !res.Success {
		// a partial table failure still loaded data; only whole-sync
		// failures map to an error status
		code = failureStatus(res.ErrorMessage, http.StatusOK)
	}
	s.respond(w, code, res)
}

func (s *Server) syncAll(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenant(w, r)
	if !ok {
		return
	}
	s.respond(w, http.StatusOK, s.mgr.SyncAllConnectors(r.Context(), tenantID))
}

// tenant parses the tenant path parameter
func (s *Server) tenant(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "tenant")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		s.respond(w, http.StatusBadRequest, Response{Message: "Invalid tenant id: " + raw})
		return 0, false
	}
	return id, true
}

// decode reads an optional JSON body into v
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.respond(w, http.StatusBadRequest, Response{Message: "Failed to read request body"})
		return false
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return true
	}
	if err := json.Unmarshal(body, v); err != nil {
		s.respond(w, http.StatusBadRequest, Response{Message: "Invalid request body: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) respond(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("failed to marshal response", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("failed to write response", zap.Error(err))
	}
}

// failureStatus maps a manager failure message to an HTTP status
func failureStatus(msg string, fallback int) int {
	switch {
	case msg == core.MsgConnectorNotFound, strings.HasPrefix(msg, core.MsgUnknownTypePrefix):
		return http.StatusNotFound
	case strings.HasPrefix(msg, "Missing credentials"):
		return http.StatusBadRequest
	case msg == core.MsgAuthFailed:
		return http.StatusUnauthorized
	default:
		return fallback
	}
}
