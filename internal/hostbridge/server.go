package hostbridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"nbisland/internal/dispatch"
	"nbisland/internal/funcall"
	"nbisland/internal/kernel"
	"nbisland/internal/notebook"
	"nbisland/internal/session"
)

// Island is the session surface the host page drives.
type Island interface {
	ID() string
	State() notebook.State
	Lifecycle() kernel.State
	Stats() dispatch.Stats
	CallFunction(ctx context.Context, namespace, name string, args json.RawMessage) (json.RawMessage, error)
	SetUIElementValue(ctx context.Context, objectID string, value json.RawMessage) error
	BindUIElement(ctx context.Context, cellID, objectID string) error
	Interrupt(ctx context.Context) error
}

var _ Island = (*session.Session)(nil)

type Server struct {
	island Island
	hub    *WSHub
	mux    *http.ServeMux
}

func NewServer(island Island, hub *WSHub) *Server {
	if hub == nil {
		hub = NewWSHub(nil)
	}
	s := &Server{island: island, hub: hub, mux: http.NewServeMux()}
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/ws", s.hub.HandleWS)
	s.mux.HandleFunc("/api/v1/state", s.handleState)
	s.mux.HandleFunc("/api/v1/query", s.handleQuery)
	s.mux.HandleFunc("/api/v1/stats", s.handleStats)
	s.mux.HandleFunc("/api/v1/functions/call", s.handleCallFunction)
	s.mux.HandleFunc("/api/v1/ui-elements/value", s.handleUIValue)
	s.mux.HandleFunc("/api/v1/ui-elements/bind", s.handleUIBind)
	s.mux.HandleFunc("/api/v1/interrupt", s.handleInterrupt)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) Hub() *WSHub {
	return s.hub
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondOK(w, map[string]any{"status": "ok"})
}

type stateResponse struct {
	SessionID string         `json:"session_id"`
	Lifecycle string         `json:"lifecycle"`
	Notebook  notebook.State `json:"notebook"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	respondOK(w, stateResponse{
		SessionID: s.island.ID(),
		Lifecycle: s.island.Lifecycle().String(),
		Notebook:  s.island.State(),
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	respondOK(w, map[string]any{"query": s.hub.LastQuery()})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	st := s.island.Stats()
	respondOK(w, map[string]any{
		"handled":             st.Handled,
		"unsupported":         st.Unsupported,
		"malformed_envelope":  st.MalformedEnvelope,
		"unroutable_tag":      st.UnroutableTag,
		"stale_resolution":    st.StaleResolution,
		"unknown_cell_target": st.UnknownCellTarget,
		"lifecycle_violation": st.LifecycleViolation,
		"dropped_events":      s.hub.Dropped(),
	})
}

func (s *Server) handleCallFunction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	var req struct {
		Namespace    string          `json:"namespace"`
		FunctionName string          `json:"function_name"`
		Args         json.RawMessage `json:"args"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if strings.TrimSpace(req.FunctionName) == "" {
		respondError(w, http.StatusBadRequest, "INVALID_FUNCTION", "function_name is required")
		return
	}
	value, err := s.island.CallFunction(r.Context(), req.Namespace, req.FunctionName, req.Args)
	if err != nil {
		respondIslandError(w, err)
		return
	}
	respondOK(w, map[string]any{"value": value})
}

func (s *Server) handleUIValue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	var req struct {
		ObjectID string          `json:"object_id"`
		Value    json.RawMessage `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if err := s.island.SetUIElementValue(r.Context(), req.ObjectID, req.Value); err != nil {
		respondIslandError(w, err)
		return
	}
	respondOK(w, map[string]any{"object_id": req.ObjectID})
}

func (s *Server) handleUIBind(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	var req struct {
		CellID   string `json:"cell_id"`
		ObjectID string `json:"object_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if err := s.island.BindUIElement(r.Context(), req.CellID, req.ObjectID); err != nil {
		respondIslandError(w, err)
		return
	}
	respondOK(w, map[string]any{"cell_id": req.CellID, "object_id": req.ObjectID})
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if err := s.island.Interrupt(r.Context()); err != nil {
		respondIslandError(w, err)
		return
	}
	respondOK(w, map[string]any{})
}

func respondIslandError(w http.ResponseWriter, err error) {
	var ferr *funcall.FunctionError
	switch {
	case errors.Is(err, session.ErrNotReady):
		respondError(w, http.StatusConflict, "KERNEL_NOT_READY", err.Error())
	case errors.Is(err, session.ErrClosed):
		respondError(w, http.StatusGone, "SESSION_CLOSED", err.Error())
	case errors.Is(err, funcall.ErrCanceled):
		respondError(w, http.StatusConflict, "CALL_CANCELED", err.Error())
	case errors.Is(err, funcall.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "CALL_TIMEOUT", err.Error())
	case errors.As(err, &ferr):
		respondError(w, http.StatusBadGateway, "FUNCTION_FAILED", err.Error())
	case errors.Is(err, notebook.ErrUnknownCell):
		respondError(w, http.StatusNotFound, "CELL_NOT_FOUND", err.Error())
	default:
		respondError(w, http.StatusBadRequest, "REQUEST_FAILED", err.Error())
	}
}

func respondOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "data": data})
}

func respondError(w http.ResponseWriter, code int, errCode string, msg string) {
	writeJSON(w, code, map[string]any{"ok": false, "error": map[string]any{"code": errCode, "message": msg}})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
