// Package gateway implements the northbound HTTP surface.
//
// Clients speak either the Anthropic Messages dialect or the OpenAI Chat
// Completions dialect; both normalize into the same canonical request
// before routing.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/routecc/rcc/config"
	"github.com/routecc/rcc/core"
	"github.com/routecc/rcc/scheduler"
	"github.com/routecc/rcc/telemetry"
)

// maxBodyBytes bounds inbound request bodies
const maxBodyBytes = 32 << 20

// Server is the northbound HTTP listener
type Server struct {
	cfg         config.ServerConfig
	manager     *scheduler.Manager
	tracker     *telemetry.Tracker
	diagnostics []string

	logger core.Logger

	httpServer *http.Server
	listener   net.Listener
}

// NewServer wires the HTTP surface to the routing manager
func NewServer(cfg config.ServerConfig, manager *scheduler.Manager, tracker *telemetry.Tracker,
	diagnostics []string, logger core.Logger) *Server {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	s := &Server{
		cfg:         cfg,
		manager:     manager,
		tracker:     tracker,
		diagnostics: diagnostics,
		logger:      logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/messages", s.requireAuth(s.handleMessages))
	mux.HandleFunc("/v1/chat/completions", s.requireAuth(s.handleChatCompletions))
	mux.HandleFunc("/v1/models", s.requireAuth(s.handleModels))
	mux.HandleFunc("/status", s.requireAuth(s.handleStatus))
	mux.HandleFunc("/health", s.handleHealth)

	handler := otelhttp.NewHandler(s.recoverPanics(mux), "gateway")

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Listen binds the configured address without serving. Binding up front
// lets callers treat an occupied port as a startup failure rather than a
// runtime one.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.httpServer.Addr, err)
	}
	s.listener = ln
	return nil
}

// Serve blocks serving requests until the listener closes. It binds first
// if Listen has not been called.
func (s *Server) Serve() error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	s.logger.Info("Gateway listening", map[string]interface{}{
		"operation": "serve",
		"addr":      s.listener.Addr().String(),
		"auth":      s.cfg.AuthToken != "",
	})
	return s.httpServer.Serve(s.listener)
}

// Shutdown stops accepting connections and drains in-flight handlers
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// requireAuth enforces the configured bearer token with a constant-time
// comparison. An empty configured token disables authentication.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthToken == "" {
			next(w, r)
			return
		}

		presented := r.Header.Get("x-api-key")
		if presented == "" {
			presented = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(s.cfg.AuthToken)) != 1 {
			s.writeError(w, core.NewRequestID(), http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next(w, r)
	}
}

// recoverPanics converts handler panics into opaque 500 responses
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("Handler panicked", map[string]interface{}{
					"operation": "recover",
					"path":      r.URL.Path,
					"panic":     fmt.Sprintf("%v", rec),
				})
				s.writeError(w, core.NewRequestID(), http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// writeError emits the JSON error envelope. It is safe to call before any
// body bytes have been written; for in-progress streams the caller logs
// instead.
func (s *Server) writeError(w http.ResponseWriter, requestID string, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{
		Type: "error",
		Error: errorDetails{
			Type:      errorType(status),
			Message:   message,
			RequestID: requestID,
		},
	})
}
