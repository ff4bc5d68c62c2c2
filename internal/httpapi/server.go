// Package httpapi serves the local control surface of a running agent: health,
// status and the actions a tray menu would offer.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/agentworkforce/pushmirror/internal/engine"
)

// Controller is the running agent as seen by the control server.
type Controller interface {
	Status() engine.Status
	ClearHistory()
	ReloadCredentials()
}

type ServerConfig struct {
	// Token, when set, must be presented as a bearer token on /v1 routes.
	Token string
}

type Server struct {
	ctrl Controller
	cfg  ServerConfig
}

type StatusResponse struct {
	State      string `json:"state"`
	Connection string `json:"connection"`
	HasToken   bool   `json:"hasToken"`
	E2EE       bool   `json:"e2ee"`
	LastError  string `json:"lastError,omitempty"`
}

func NewServer(ctrl Controller) *Server {
	return NewServerWithConfig(ctrl, ServerConfig{})
}

func NewServerWithConfig(ctrl Controller, cfg ServerConfig) *Server {
	cfg.Token = strings.TrimSpace(cfg.Token)
	return &Server{ctrl: ctrl, cfg: cfg}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	var route string
	switch {
	case r.URL.Path == "/v1/status" && r.Method == http.MethodGet:
		route = "status"
	case r.URL.Path == "/v1/history/clear" && r.Method == http.MethodPost:
		route = "clear_history"
	case r.URL.Path == "/v1/credentials/reload" && r.Method == http.MethodPost:
		route = "reload_credentials"
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}

	correlationID := getCorrelationID(r)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	if authErr := authorizeBearer(r.Header.Get("Authorization"), s.cfg.Token); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
		return
	}

	switch route {
	case "status":
		s.handleStatus(w)
	case "clear_history":
		s.ctrl.ClearHistory()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "correlationId": correlationID})
	case "reload_credentials":
		s.ctrl.ReloadCredentials()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "correlationId": correlationID})
	}
}

func (s *Server) handleStatus(w http.ResponseWriter) {
	st := s.ctrl.Status()
	writeJSON(w, http.StatusOK, StatusResponse{
		State:      st.String(),
		Connection: st.Connection.String(),
		HasToken:   st.HasToken,
		E2EE:       st.E2EE,
		LastError:  st.LastError,
	})
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}
