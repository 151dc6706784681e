// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server serves the gateway's public endpoints and, optionally,
// metrics on a separate listener.
type Server struct {
	listenAddress  string
	metricsAddress string
	router         chi.Router
	relay          *Relay
	httpServer     *http.Server
	metricsServer  *http.Server
	listener       net.Listener
	metricsLn      net.Listener
	logger         *slog.Logger
}

// ServerConfig holds configuration for creating a new Server.
type ServerConfig struct {
	ListenAddress string

	// MetricsAddress is optional. When set, Metrics must be non-nil.
	MetricsAddress string

	RPC     http.Handler
	Relay   *Relay
	Status  http.Handler
	Metrics *Metrics

	Logger *slog.Logger
}

// NewServer creates a new gateway server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.ListenAddress == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if config.RPC == nil || config.Relay == nil || config.Status == nil {
		return nil, fmt.Errorf("rpc, relay, and status handlers are required")
	}
	if config.MetricsAddress != "" && config.Metrics == nil {
		return nil, fmt.Errorf("metrics address set without metrics")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(logger))

	router.Method(http.MethodPost, "/", config.RPC)
	router.Method(http.MethodPost, "/rpc", config.RPC)
	router.Method(http.MethodGet, "/ws", config.Relay)
	router.Method(http.MethodGet, "/", config.Status)
	router.Method(http.MethodGet, "/status", config.Status)
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	server := &Server{
		listenAddress:  config.ListenAddress,
		metricsAddress: config.MetricsAddress,
		router:         router,
		relay:          config.Relay,
		httpServer: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      2 * time.Minute, // Forked nodes can be slow.
		},
		logger: logger,
	}

	if config.MetricsAddress != "" {
		metricsRouter := chi.NewRouter()
		metricsRouter.Method(http.MethodGet, "/metrics", config.Metrics.Handler())
		server.metricsServer = &http.Server{
			Handler:           metricsRouter,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	return server, nil
}

// Handler returns the public router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the bound public address. Valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// MetricsAddr returns the bound metrics address, or "" if metrics are
// not served. Valid after Start.
func (s *Server) MetricsAddr() string {
	if s.metricsLn == nil {
		return ""
	}
	return s.metricsLn.Addr().String()
}

// Start begins listening on the public address and, if configured, the
// metrics address.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.listenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.listenAddress, err)
	}
	s.listener = listener
	s.logger.Info("gateway listening", "address", listener.Addr().String())

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("gateway server error", "error", err)
		}
	}()

	if s.metricsServer != nil {
		metricsListener, err := net.Listen("tcp", s.metricsAddress)
		if err != nil {
			listener.Close()
			return fmt.Errorf("failed to listen on metrics address %s: %w", s.metricsAddress, err)
		}
		s.metricsLn = metricsListener
		s.logger.Info("metrics listening", "address", metricsListener.Addr().String())

		go func() {
			if err := s.metricsServer.Serve(metricsListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("metrics server error", "error", err)
			}
		}()
	}

	// Notify systemd that we're ready (no-op if not running under systemd)
	notifySystemd("READY=1")
	return nil
}

// notifySystemd sends a notification to systemd's sd_notify socket.
// Does nothing if NOTIFY_SOCKET is not set.
func notifySystemd(state string) {
	socketPath := os.Getenv("NOTIFY_SOCKET")
	if socketPath == "" {
		return
	}

	conn, err := net.Dial("unixgram", socketPath)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.Write([]byte(state))
}

// Shutdown stops accepting connections, waits for in-flight requests,
// and ends open relay sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gateway server")
	notifySystemd("STOPPING=1")

	err := s.httpServer.Shutdown(ctx)
	if s.metricsServer != nil {
		if metricsErr := s.metricsServer.Shutdown(ctx); metricsErr != nil && err == nil {
			err = metricsErr
		}
	}
	s.relay.Close()
	return err
}

// requestLogger logs one line per request, tagged with chi's request id.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(wrapped, r)
			logger.Debug("http request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.Status(),
				"duration", time.Since(started),
			)
		})
	}
}
