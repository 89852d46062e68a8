package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/ashfox/toolgate/internal/dispatcher"
	"github.com/ashfox/toolgate/internal/telemetry"
)

// validate is safe for concurrent use; one instance is shared by every
// request, matching the teacher's internal/httpserver/validate.go.
var validate = validator.New()

// Authenticator resolves a bearer token on an inbound request to a
// dispatcher.MCPContext. internal/authctx.Resolver implements this.
type Authenticator interface {
	ResolveApiKey(ctx context.Context, rawKey, sessionID, workspaceID string) (dispatcher.MCPContext, error)
}

// ServerConfig configures Server construction.
type ServerConfig struct {
	CORSAllowedOrigins []string
}

// Server holds the JSON-RPC-over-HTTP transport dependencies.
type Server struct {
	Router  *chi.Mux
	Logger  *slog.Logger
	DB      *pgxpool.Pool
	Redis   *redis.Client
	Metrics *prometheus.Registry

	dispatch  *dispatcher.Dispatcher
	authn     Authenticator
	startedAt time.Time
}

// NewServer creates the HTTP server with middleware, health/metrics
// endpoints, and the JSON-RPC dispatch edge mounted at POST /rpc.
func NewServer(cfg ServerConfig, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry, dispatch *dispatcher.Dispatcher, authn Authenticator) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		Logger:    logger,
		DB:        db,
		Redis:     rdb,
		Metrics:   metricsReg,
		dispatch:  dispatch,
		authn:     authn,
		startedAt: time.Now(),
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "Mcp-Session-Id"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))
	s.Router.Post("/rpc", s.handleRPC)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.DB.Ping(r.Context()); err != nil {
		s.Logger.Error("readiness check: database ping failed", "error", err)
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "reason": "database"})
		return
	}
	if s.Redis != nil {
		if err := s.Redis.Ping(r.Context()).Err(); err != nil {
			s.Logger.Error("readiness check: redis ping failed", "error", err)
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "reason": "redis"})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// rpcRequest is the JSON-RPC-over-HTTP envelope the MCP transport frames
// each tool call in (spec §1). Only the fields the dispatcher needs are
// modeled here; envelope/session framing otherwise belongs to the
// transport, which is out of scope per spec §1.
type rpcRequest struct {
	Tool        string         `json:"tool" validate:"required"`
	Payload     map[string]any `json:"payload"`
	WorkspaceID string         `json:"workspaceId" validate:"required"`
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := decodeJSON(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := validate.Struct(req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	sessionID := r.Header.Get("Mcp-Session-Id")
	rawKey := bearerToken(r)

	mcp, err := s.authn.ResolveApiKey(r.Context(), rawKey, sessionID, req.WorkspaceID)
	if err != nil {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}

	start := time.Now()
	resp := s.dispatch.Handle(r.Context(), req.Tool, req.Payload, mcp)
	telemetry.DispatchRequestDuration.WithLabelValues(req.Tool, strconv.FormatBool(resp.OK)).Observe(time.Since(start).Seconds())
	status := http.StatusOK
	if !resp.OK {
		status = http.StatusOK // JSON-RPC-over-HTTP reports tool errors in the envelope, not the HTTP status
	}
	respondJSON(w, status, resp)
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

func decodeJSON(r *http.Request, dst any) error {
	const maxBody = 1 << 20
	body := http.MaxBytesReader(nil, r.Body, maxBody)
	defer body.Close()

	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxBytesErr):
			return fmt.Errorf("request body too large (max 1 MiB)")
		case errors.Is(err, io.EOF):
			return fmt.Errorf("request body is empty")
		default:
			return fmt.Errorf("invalid JSON: %w", err)
		}
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
