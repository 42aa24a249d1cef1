package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"sort"
	"strings"
	"time"

	"tapop105/internal/metrics"
	"tapop105/internal/tapocli"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// requestTimeout leaves room for one helper run plus a follow-up refresh.
const requestTimeout = 3 * tapocli.DefaultTimeout

// StatusSource is the coordinator surface the API reads from.
type StatusSource interface {
	Data() (tapocli.DeviceStatus, bool)
	Available() bool
	LastError() error
	LastUpdate() time.Time
	LastSuccess() time.Time
	Refresh(ctx context.Context) error
}

// Switcher drives a plug's relay.
type Switcher interface {
	On(ctx context.Context) error
	Off(ctx context.Context) error
}

// Device is one configured plug as served by the API.
type Device struct {
	// ID is the entry slug used in URLs.
	ID     string
	Title  string
	Source StatusSource
	Switch Switcher
}

// Server provides HTTP API endpoints for the configured plugs
type Server struct {
	devices  map[string]Device
	metrics  *metrics.Metrics
	logger   *zap.Logger
	readOnly bool
	router   chi.Router
	server   *http.Server
}

// NewServer creates a new API server. m may be nil.
func NewServer(devices []Device, m *metrics.Metrics, logger *zap.Logger, port int, readOnly bool) *Server {
	s := &Server{
		devices:  make(map[string]Device, len(devices)),
		metrics:  m,
		logger:   logger.Named("api"),
		readOnly: readOnly,
	}
	for _, d := range devices {
		s.devices[d.ID] = d
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Get("/", s.handleSitemap)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", m.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		r.Get("/status", s.handleStatusAll)
		r.Route("/devices/{id}", func(r chi.Router) {
			r.Get("/", s.handleStatus)
			r.Post("/on", s.handleSwitch(true))
			r.Post("/off", s.handleSwitch(false))
			r.Post("/refresh", s.handleRefresh)
		})
	})

	r.NotFound(s.handleNotFound)
	s.router = r

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: requestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		duration := time.Since(start)
		s.metrics.ObserveHTTPRequest(r.Method, route, ww.Status(), duration)

		s.logger.Debug("HTTP request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", duration))
	})
}

// StatusResponse describes one plug.
type StatusResponse struct {
	ID          string               `json:"id"`
	Title       string               `json:"title"`
	Available   bool                 `json:"available"`
	IsOn        *bool                `json:"is_on,omitempty"`
	Status      tapocli.DeviceStatus `json:"status,omitempty"`
	LastError   string               `json:"last_error,omitempty"`
	ErrorKind   string               `json:"error_kind,omitempty"`
	LastUpdate  *time.Time           `json:"last_update,omitempty"`
	LastSuccess *time.Time           `json:"last_success,omitempty"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries a machine-readable code and a message.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) status(d Device) StatusResponse {
	resp := StatusResponse{
		ID:        d.ID,
		Title:     d.Title,
		Available: d.Source.Available(),
	}
	if status, ok := d.Source.Data(); ok {
		resp.Status = status
		on := status.IsOn()
		resp.IsOn = &on
	}
	if err := d.Source.LastError(); err != nil {
		resp.LastError = err.Error()
		resp.ErrorKind = tapocli.KindOf(err).String()
	}
	if t := d.Source.LastUpdate(); !t.IsZero() {
		resp.LastUpdate = &t
	}
	if t := d.Source.LastSuccess(); !t.IsZero() {
		resp.LastSuccess = &t
	}
	return resp
}

func (s *Server) device(w http.ResponseWriter, r *http.Request) (Device, bool) {
	id := chi.URLParam(r, "id")
	d, ok := s.devices[id]
	if !ok {
		s.writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("no device %q", id))
	}
	return d, ok
}

// handleStatusAll returns every plug ordered by id
func (s *Server) handleStatusAll(w http.ResponseWriter, r *http.Request) {
	ids := make([]string, 0, len(s.devices))
	for id := range s.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	resp := make([]StatusResponse, 0, len(ids))
	for _, id := range ids {
		resp = append(resp, s.status(s.devices[id]))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	d, ok := s.device(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.status(d))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	d, ok := s.device(w, r)
	if !ok {
		return
	}
	if err := d.Source.Refresh(r.Context()); err != nil {
		s.writeDeviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.status(d))
}

func (s *Server) handleSwitch(on bool) http.HandlerFunc {
	command := tapocli.CommandOff
	if on {
		command = tapocli.CommandOn
	}

	return func(w http.ResponseWriter, r *http.Request) {
		d, ok := s.device(w, r)
		if !ok {
			return
		}

		if s.readOnly {
			s.logger.Info("READ-ONLY: Would switch plug",
				zap.String("device", d.ID),
				zap.String("command", command))
			s.writeJSON(w, http.StatusAccepted, s.status(d))
			return
		}

		var err error
		if on {
			err = d.Switch.On(r.Context())
		} else {
			err = d.Switch.Off(r.Context())
		}
		if err != nil {
			s.logger.Error("Failed to switch plug",
				zap.String("device", d.ID),
				zap.String("command", command),
				zap.Error(err))
			s.writeDeviceError(w, err)
			return
		}

		// The helper does not confirm the new state, so poll once.
		if err := d.Source.Refresh(r.Context()); err != nil {
			s.logger.Warn("Refresh after switching failed",
				zap.String("device", d.ID),
				zap.Error(err))
		}
		s.writeJSON(w, http.StatusOK, s.status(d))
	}
}

// StatusCode maps an adapter error to an HTTP status.
func StatusCode(err error) int {
	switch tapocli.KindOf(err) {
	case tapocli.KindInvalidAddress:
		return http.StatusGatewayTimeout
	case tapocli.KindAuthenticationFailed:
		return http.StatusUnauthorized
	case tapocli.KindCannotConnect, tapocli.KindInvalidResponse:
		return http.StatusBadGateway
	default:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusInternalServerError
	}
}

func (s *Server) writeDeviceError(w http.ResponseWriter, err error) {
	s.writeError(w, StatusCode(err), tapocli.KindOf(err).String(), err.Error())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, msg string) {
	s.writeJSON(w, status, ErrorResponse{Error: ErrorBody{Code: code, Message: msg}})
}

// handleHealth reports ok while at least one plug answered its last poll
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	available := 0
	for _, d := range s.devices {
		if d.Source.Available() {
			available++
		}
	}

	status := "ok"
	code := http.StatusOK
	if len(s.devices) > 0 && available == 0 {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]any{
		"status":    status,
		"devices":   len(s.devices),
		"available": available,
	})
}

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

var endpoints = []Endpoint{
	{Path: "/", Method: "GET", Description: "This sitemap - lists all available API endpoints"},
	{Path: "/health", Method: "GET", Description: "Health check - ok while any plug is reachable"},
	{Path: "/metrics", Method: "GET", Description: "Prometheus metrics"},
	{Path: "/api/status", Method: "GET", Description: "Status of every configured plug"},
	{Path: "/api/devices/{id}", Method: "GET", Description: "Status of one plug"},
	{Path: "/api/devices/{id}/on", Method: "POST", Description: "Switch a plug on"},
	{Path: "/api/devices/{id}/off", Method: "POST", Description: "Switch a plug off"},
	{Path: "/api/devices/{id}/refresh", Method: "POST", Description: "Poll a plug now"},
}

func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	s.writeSitemap(w, r, http.StatusOK)
}

// handleNotFound answers unknown paths with the sitemap and a 404
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeSitemap(w, r, http.StatusNotFound)
}

func (s *Server) writeSitemap(w http.ResponseWriter, r *http.Request, code int) {
	accept := r.Header.Get("Accept")
	preferHTML := strings.HasPrefix(accept, "text/html")

	ids := make([]string, 0, len(s.devices))
	for id := range s.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if preferHTML {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(code)
		fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Tapo P105 API</title>
    <style>
        body { font-family: monospace; margin: 40px; background: #1e1e1e; color: #d4d4d4; }
        h1 { color: #4ec9b0; }
        h2 { color: #569cd6; margin-top: 30px; }
        .endpoint { background: #2d2d2d; padding: 15px; margin: 10px 0; border-left: 3px solid #007acc; }
        .method { color: #4ec9b0; font-weight: bold; }
        .path { color: #ce9178; }
        .description { color: #9cdcfe; margin-top: 5px; }
        a { color: #569cd6; text-decoration: none; }
    </style>
</head>
<body>
    <h1>Tapo P105 API</h1>
    <h2>Available Endpoints</h2>
`)
		for _, ep := range endpoints {
			fmt.Fprintf(w, `    <div class="endpoint">
        <div><span class="method">%s</span> <span class="path">%s</span></div>
        <div class="description">%s</div>
    </div>
`, ep.Method, html.EscapeString(ep.Path), html.EscapeString(ep.Description))
		}
		fmt.Fprintf(w, "    <h2>Devices</h2>\n")
		for _, id := range ids {
			eid := html.EscapeString(id)
			fmt.Fprintf(w, "    <div class=\"endpoint\"><a href=\"/api/devices/%s\">%s</a> %s</div>\n", eid, eid, html.EscapeString(s.devices[id].Title))
		}
		fmt.Fprintf(w, "</body>\n</html>\n")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(code)
		fmt.Fprintf(w, "Tapo P105 API\n")
		fmt.Fprintf(w, "=============\n\n")
		fmt.Fprintf(w, "Available endpoints:\n\n")
		for _, ep := range endpoints {
			fmt.Fprintf(w, "  %-6s %-26s %s\n", ep.Method, ep.Path, ep.Description)
		}
		fmt.Fprintf(w, "\nDevices:\n\n")
		for _, id := range ids {
			fmt.Fprintf(w, "  %-26s %s\n", id, s.devices[id].Title)
		}
		fmt.Fprintf(w, "\nExample:\n\n")
		fmt.Fprintf(w, "  curl -X POST http://localhost%s/api/devices/<id>/on\n", s.server.Addr)
	}

	s.logger.Debug("Sitemap request served",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Bool("html_format", preferHTML))
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
