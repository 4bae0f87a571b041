// Package api implements the Majordomo HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nugget/majordomo/internal/buildinfo"
	"github.com/nugget/majordomo/internal/capability"
	"github.com/nugget/majordomo/internal/connwatch"
	"github.com/nugget/majordomo/internal/dispatch"
	"github.com/nugget/majordomo/internal/events"
	"github.com/nugget/majordomo/internal/pending"
	"github.com/nugget/majordomo/internal/router"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Dispatcher runs instructions and resolves staged actions.
type Dispatcher interface {
	Handle(ctx context.Context, req dispatch.Request) *dispatch.Result
	Confirm(ctx context.Context, session, token string) dispatch.ConfirmResult
	Cancel(session string) dispatch.ConfirmResult
	Pending(session string) (pending.Action, bool, error)
}

// RouterInspector exposes the classifier's audit trail.
type RouterInspector interface {
	GetStats() router.Stats
	GetAuditLog(limit int) []router.Decision
	Explain(requestID string) *router.Decision
}

// HealthReporter reports the reachability of external services.
type HealthReporter interface {
	Status() []connwatch.Status
}

// Server is the HTTP API server.
type Server struct {
	address    string
	port       int
	dispatcher Dispatcher
	router     RouterInspector
	caps       *capability.Registry
	bus        *events.Bus
	health     HealthReporter
	logger     *slog.Logger
	server     *http.Server
}

// NewServer creates a new API server.
func NewServer(address string, port int, d Dispatcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:    address,
		port:       port,
		dispatcher: d,
		logger:     logger,
	}
}

// SetRouter enables the router introspection endpoints.
func (s *Server) SetRouter(r RouterInspector) {
	s.router = r
}

// SetCapabilities enables the capability listing endpoint.
func (s *Server) SetCapabilities(reg *capability.Registry) {
	s.caps = reg
}

// SetEventBus enables the WebSocket event stream.
func (s *Server) SetEventBus(bus *events.Bus) {
	s.bus = bus
}

// SetHealth adds per-service status to the health endpoint.
func (s *Server) SetHealth(h HealthReporter) {
	s.health = h
}

// Handler returns the routed, logged handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /ask-agent", s.handleAsk)
	mux.HandleFunc("POST /confirm-action", s.handleConfirm)
	mux.HandleFunc("POST /cancel-action", s.handleCancel)
	mux.HandleFunc("GET /pending-action", s.handlePending)

	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	mux.HandleFunc("GET /v1/router/stats", s.handleRouterStats)
	mux.HandleFunc("GET /v1/router/audit", s.handleRouterAudit)
	mux.HandleFunc("GET /v1/router/explain/{requestId}", s.handleRouterExplain)

	mux.HandleFunc("GET /v1/capabilities", s.handleCapabilities)
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // an instruction may chain three model calls
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Majordomo",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Runtime(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.health == nil {
		writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
		return
	}

	services := s.health.Status()
	status := "healthy"
	for _, svc := range services {
		if !svc.Ready {
			status = "degraded"
			break
		}
	}
	writeJSON(w, map[string]any{"status": status, "services": services}, s.logger)
}

// AskRequest is the body of POST /ask-agent.
type AskRequest struct {
	Instruction string `json:"instruction"`
	Session     string `json:"session,omitempty"`
	// HTML adds a rendered copy of the response to the reply.
	HTML bool `json:"html,omitempty"`
}

// AskResponse is the reply to POST /ask-agent.
type AskResponse struct {
	*dispatch.Result
	ResponseHTML string `json:"response_html,omitempty"`
}

// ActionRequest is the optional body of /confirm-action and /cancel-action.
type ActionRequest struct {
	Session string `json:"session,omitempty"`
	Token   string `json:"token,omitempty"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Instruction == "" {
		s.errorResponse(w, http.StatusBadRequest, "instruction is required")
		return
	}

	res := s.dispatcher.Handle(r.Context(), dispatch.Request{
		Instruction: req.Instruction,
		Session:     req.Session,
	})

	resp := AskResponse{Result: res}
	if req.HTML {
		html, err := renderHTML(res.Response)
		if err != nil {
			s.logger.Warn("markdown rendering failed", "request_id", res.RequestID, "error", err)
		}
		resp.ResponseHTML = html
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res := s.dispatcher.Confirm(r.Context(), req.Session, req.Token)
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, res, s.logger)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res := s.dispatcher.Cancel(req.Session)
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, res, s.logger)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	a, ok, err := s.dispatcher.Pending(r.URL.Query().Get("session"))
	if err != nil {
		s.logger.Error("pending lookup failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "pending store error")
		return
	}
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "no pending action")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"action":   a,
		"response": dispatch.StagedMessage(a),
	}, s.logger)
}

// decodeBody decodes a JSON body into v. When optional is set an empty
// body is accepted.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if optional && errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

// Router introspection handlers

func (s *Server) handleRouterStats(w http.ResponseWriter, r *http.Request) {
	if s.router == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "router not configured")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.router.GetStats(), s.logger)
}

func (s *Server) handleRouterAudit(w http.ResponseWriter, r *http.Request) {
	if s.router == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "router not configured")
		return
	}

	decisions := s.router.GetAuditLog(parseIntParam(r, "limit", 20))
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"count":     len(decisions),
		"decisions": decisions,
	}, s.logger)
}

func (s *Server) handleRouterExplain(w http.ResponseWriter, r *http.Request) {
	if s.router == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "router not configured")
		return
	}

	decision := s.router.Explain(r.PathValue("requestId"))
	if decision == nil {
		s.errorResponse(w, http.StatusNotFound, "decision not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, decision, s.logger)
}

type capabilityInfo struct {
	Name        capability.Kind  `json:"name"`
	Description string           `json:"description"`
	Class       capability.Class `json:"class"`
	Schema      map[string]any   `json:"schema"`
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	if s.caps == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "capabilities not configured")
		return
	}

	all := s.caps.All()
	out := make([]capabilityInfo, 0, len(all))
	for _, c := range all {
		out = append(out, capabilityInfo{
			Name:        c.Kind,
			Description: c.Description,
			Class:       c.Class,
			Schema:      c.Schema,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"capabilities": out}, s.logger)
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}
