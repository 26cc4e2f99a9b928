package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"garagehub/internal/config"
	"garagehub/internal/metrics"
	"garagehub/internal/promo"
	"garagehub/internal/service"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Services are the collaborators the HTTP API fronts. Promos and Checks are
// optional.
type Services struct {
	Bookings  *service.BookingService
	Tracking  *service.TrackingService
	Mechanics *service.MechanicService
	Promos    *promo.Rotator
	Checks    map[string]HealthCheck
}

// HTTPServer exposes the booking, tracking and mechanic API.
type HTTPServer struct {
	cfg      config.APIConfig
	svc      Services
	location *time.Location
	server   *http.Server
	handler  http.Handler
	auth     *HTTPAuth
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, svc Services, location *time.Location, logger *zerolog.Logger) *HTTPServer {
	if location == nil {
		location = time.Local
	}
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "http").Logger()
	}

	srv := &HTTPServer{
		cfg:      cfg,
		svc:      svc,
		location: location,
		auth:     NewHTTPAuth(cfg),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: base,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealth)

	mux.HandleFunc("POST /api/v1/bookings", srv.handleCreateBooking)
	mux.HandleFunc("GET /api/v1/bookings/{id}", srv.handleGetBooking)
	mux.HandleFunc("GET /api/v1/bookings/{id}/timeline", srv.handleTimeline)
	mux.HandleFunc("GET /api/v1/bookings/{id}/tracking", srv.handleLatestTracking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/status", srv.handleUpdateStatus)
	mux.HandleFunc("POST /api/v1/bookings/{id}/mechanic", srv.handleAssignMechanic)
	mux.HandleFunc("GET /api/v1/customers/{id}/bookings", srv.handleCustomerBookings)
	mux.HandleFunc("GET /api/v1/admin/bookings/export", srv.handleExport)

	mux.HandleFunc("POST /api/v1/tracking/views", srv.handleOpenView)
	mux.HandleFunc("GET /api/v1/tracking/views/{id}", srv.handleGetView)
	mux.HandleFunc("DELETE /api/v1/tracking/views/{id}", srv.handleCloseView)
	mux.HandleFunc("GET /api/v1/tracking/views/{id}/stream", srv.handleStream)

	mux.HandleFunc("GET /api/v1/mechanics", srv.handleListMechanics)
	mux.HandleFunc("GET /api/v1/mechanics/{id}", srv.handleGetMechanic)
	mux.HandleFunc("POST /api/v1/mechanics/{id}/location", srv.handleMechanicLocation)

	mux.HandleFunc("GET /api/v1/distance", srv.handleDistance)
	mux.HandleFunc("GET /api/v1/promos/current", srv.handleCurrentPromo)

	srv.handler = loggingMiddleware(&srv.logger, srv.auth.Wrap(mux))
	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return srv
}

// Handler is the fully wrapped router.
func (s *HTTPServer) Handler() http.Handler { return s.handler }

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// HTTPAuth provides API-key auth and per-key rate limiting for HTTP endpoints.
type HTTPAuth struct {
	cfg      config.APIConfig
	keys     keyring
	limiters *rateLimiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	return &HTTPAuth{cfg: cfg, keys: newKeyring(cfg.Auth.APIKeys), limiters: newRateLimiter(&cfg)}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Enabled || !a.cfg.HTTP.Enabled || r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		if a.cfg.Auth.Enabled {
			if err := a.checkAuth(r); err != nil {
				statusCode := http.StatusUnauthorized
				if errors.Is(err, errPermissionDenied) {
					statusCode = http.StatusForbidden
				}
				writeError(w, statusCode, err.Error())
				return
			}
		}

		if err := a.checkRateLimit(r); err != nil {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *HTTPAuth) checkAuth(r *http.Request) error {
	_, err := a.keys.authenticate(
		strings.TrimSpace(r.Header.Get(headerName(a.cfg.Auth.HeaderAPIKey, apiKeyHeaderDefault))),
		strings.TrimSpace(r.Header.Get(headerName(a.cfg.Auth.HeaderExtra, apiExtraHeaderDefault))),
		requiredPermissionHTTP(r),
	)
	return err
}

// requiredPermissionHTTP maps a request onto the permission gating its route
// group. Mechanic location reports and admin exports have their own
// permissions; other reads need "read" and other writes need "write".
func requiredPermissionHTTP(r *http.Request) string {
	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, "/api/v1/admin/"):
		return permAdmin
	case strings.HasPrefix(path, "/api/v1/tracking/"):
		return permTracking
	case strings.HasPrefix(path, "/api/v1/mechanics/") && r.Method == http.MethodPost:
		return permMechanic
	case !strings.HasPrefix(path, "/api/v1/"):
		return ""
	case r.Method == http.MethodGet || r.Method == http.MethodHead:
		return permRead
	default:
		return permWrite
	}
}

func (a *HTTPAuth) checkRateLimit(r *http.Request) error {
	if a.cfg.RateLimit.RPS <= 0 {
		return nil
	}
	if !a.limiters.getLimiter(a.clientKey(r)).Allow() {
		return fmt.Errorf("rate limit exceeded")
	}
	return nil
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(headerName(a.cfg.Auth.HeaderAPIKey, apiKeyHeaderDefault))); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

func loggingMiddleware(logger *zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.IncHTTP(endpoint)

		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
