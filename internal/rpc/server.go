package rpc

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/oklog/ulid/v2"

	"github.com/valeworks/valet/internal/config"
	"github.com/valeworks/valet/internal/logger"
	"github.com/valeworks/valet/internal/skill"
)

// Server exposes a skill registry over HTTP. Every operation except the
// health check requires the shared secret.
type Server struct {
	registry *skill.Registry
	cfg      *config.ServerConfig
	server   *http.Server

	shutdownTTL time.Duration
	initialized bool
	started     bool
	mu          sync.RWMutex
}

func NewServer(registry *skill.Registry, cfg *config.ServerConfig) *Server {
	return &Server{
		registry: registry,
		cfg:      cfg,
	}
}

func (s *Server) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.SharedSecret == "" {
		return fmt.Errorf("server shared secret must be configured")
	}

	router := mux.NewRouter()
	router.Use(s.traceMiddleware)
	router.HandleFunc(apiPrefix+"/health", s.handleHealth).Methods(http.MethodGet)

	authed := router.PathPrefix(apiPrefix).Subrouter()
	authed.Use(s.authMiddleware)
	authed.HandleFunc("/skills/handle", s.handleRequest).Methods(http.MethodPost)
	authed.HandleFunc("/skills/heartbeat", s.handleHeartbeat).Methods(http.MethodPost)
	authed.HandleFunc("/skills/status", s.handleStatus).Methods(http.MethodGet)
	authed.HandleFunc("/skills/intents", s.handleIntents).Methods(http.MethodGet)
	authed.HandleFunc("/skills/prompts", s.handlePromptFragments).Methods(http.MethodGet)
	authed.HandleFunc("/skills", s.handleListSkills).Methods(http.MethodGet)
	authed.HandleFunc("/skills/{name}", s.handleGetSkill).Methods(http.MethodGet)

	readTimeout, err := config.DurationOrDefault(s.cfg.ReadTimeout, config.DefaultServerReadTimeout)
	if err != nil {
		return fmt.Errorf("parse server read timeout: %w", err)
	}
	writeTimeout, err := config.DurationOrDefault(s.cfg.WriteTimeout, config.DefaultServerWriteTimeout)
	if err != nil {
		return fmt.Errorf("parse server write timeout: %w", err)
	}
	idleTimeout, err := config.DurationOrDefault(s.cfg.IdleTimeout, config.DefaultServerIdleTimeout)
	if err != nil {
		return fmt.Errorf("parse server idle timeout: %w", err)
	}
	shutdownTimeout, err := config.DurationOrDefault(s.cfg.ShutdownTimeout, config.DefaultServerShutdownTimeout)
	if err != nil {
		return fmt.Errorf("parse server shutdown timeout: %w", err)
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	s.shutdownTTL = shutdownTimeout

	s.initialized = true
	slog.Info("Skills server initialized", "port", s.cfg.Port)
	return nil
}

func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return fmt.Errorf("skills server not initialized")
	}

	go func() {
		slog.Info("Skills server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Skills server failed", "error", err)
		}
	}()

	s.started = true
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.shutdownTTL)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Skills server shutdown error", "error", err)
		return err
	}

	s.started = false
	slog.Info("Skills server stopped")
	return nil
}

func (s *Server) Health(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started {
		return fmt.Errorf("skills server not started")
	}
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.server == nil {
		return nil
	}
	return s.server.Handler
}

func (s *Server) traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := ulid.Make().String()
		ctx := logger.WithTraceID(r.Context(), traceID)
		slog.Debug("RPC request", "method", r.Method, "path", r.URL.Path, "trace_id", traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := r.Header.Get(SecretHeader)
		if subtle.ConstantTimeCompare([]byte(secret), []byte(s.cfg.SharedSecret)) != 1 {
			slog.Warn("Rejected unauthenticated RPC call", "path", r.URL.Path, "remote", r.RemoteAddr)
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "missing or invalid shared secret"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	var req skill.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.ID == "" {
		req.ID = skill.NewRequestID()
	}

	// Application failures, unknown intents included, ride inside the
	// response body with a 200 status.
	resp := s.registry.HandleRequest(r.Context(), &req)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	actions := s.registry.TriggerHeartbeat(r.Context(), req.UserIDs)
	writeJSON(w, http.StatusOK, HeartbeatResponse{Actions: actions})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Status())
}

func (s *Server) handleIntents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, IntentsResponse{Intents: s.registry.Intents()})
}

func (s *Server) handleListSkills(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SkillListResponse{Skills: s.registry.ListSkills()})
}

func (s *Server) handleGetSkill(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	meta := s.registry.GetSkill(name)
	if meta == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: fmt.Sprintf("skill not found: %s", name)})
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handlePromptFragments(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	fragments := s.registry.PromptFragments(userID)
	writeJSON(w, http.StatusOK, FragmentsResponse{Fragments: fragments})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
