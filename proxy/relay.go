// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/anvilgate/lib/jsonrpc"
	"github.com/bureau-foundation/anvilgate/lib/netutil"
)

// Relay defaults.
const (
	DefaultDialTimeout = 10 * time.Second

	// maxClientMessage bounds one client frame.
	maxClientMessage = 16 << 20

	// closeWriteTimeout bounds sending a close frame during teardown.
	closeWriteTimeout = time.Second
)

// RelayConfig configures a Relay.
type RelayConfig struct {
	// BackendURL is the backend node's WebSocket endpoint (ws:// or wss://).
	BackendURL string

	// DialTimeout bounds connecting to the backend. Defaults to
	// DefaultDialTimeout.
	DialTimeout time.Duration

	// Policy defaults to DefaultPolicy().
	Policy *Policy

	// Metrics is optional.
	Metrics *Metrics

	Logger *slog.Logger
}

// Relay bridges each client WebSocket to its own backend WebSocket.
type Relay struct {
	backendURL string
	policy     *Policy
	dialer     *websocket.Dialer
	upgrader   websocket.Upgrader
	metrics    *Metrics
	logger     *slog.Logger

	// shutdown is the parent of every session; Close cancels it.
	shutdown context.Context
	cancel   context.CancelFunc
	sessions sync.WaitGroup
}

// NewRelay creates a WebSocket relay.
func NewRelay(config RelayConfig) (*Relay, error) {
	if config.BackendURL == "" {
		return nil, fmt.Errorf("backend WebSocket URL is required")
	}
	parsed, err := url.Parse(config.BackendURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend WebSocket URL: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return nil, fmt.Errorf("backend WebSocket URL %q: scheme must be ws or wss", config.BackendURL)
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = DefaultDialTimeout
	}
	if config.Policy == nil {
		config.Policy = DefaultPolicy()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	shutdown, cancel := context.WithCancel(context.Background())
	return &Relay{
		backendURL: config.BackendURL,
		policy:     config.Policy,
		dialer: &websocket.Dialer{
			HandshakeTimeout: config.DialTimeout,
		},
		upgrader: websocket.Upgrader{
			// The endpoint is public; browser wallets connect from any origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		metrics:  config.Metrics,
		logger:   config.Logger,
		shutdown: shutdown,
		cancel:   cancel,
	}, nil
}

// ServeHTTP dials the backend, upgrades the client, and relays until
// either side ends the session. A backend that cannot be reached is
// reported as 502 without upgrading.
func (r *Relay) ServeHTTP(w http.ResponseWriter, request *http.Request) {
	sessionID := uuid.NewString()
	logger := r.logger.With("session", sessionID)

	backend, response, err := r.dialer.DialContext(request.Context(), r.backendURL, nil)
	if response != nil && response.Body != nil {
		response.Body.Close()
	}
	if err != nil {
		r.metrics.backendFailure(transportWebSocket)
		logger.Error("dialing backend websocket", "backend", r.backendURL, "error", err)
		http.Error(w, "backend unavailable", http.StatusBadGateway)
		return
	}

	client, err := r.upgrader.Upgrade(w, request, nil)
	if err != nil {
		// Upgrade has already written an HTTP error to the client.
		logger.Warn("upgrading client websocket", "error", err)
		backend.Close()
		return
	}
	client.SetReadLimit(maxClientMessage)

	r.sessions.Add(1)
	defer r.sessions.Done()
	r.metrics.sessionOpened()
	defer r.metrics.sessionClosed()

	logger.Info("relay session opened", "remote", request.RemoteAddr)
	started := time.Now()
	err = r.relay(r.shutdown, newSessionConn(client), backend, logger)
	if err != nil && !netutil.IsNormalWebSocketClose(err) {
		logger.Warn("relay session ended", "error", err, "duration", time.Since(started))
		return
	}
	logger.Info("relay session closed", "duration", time.Since(started))
}

// Close ends every open session and waits for them to finish. Hijacked
// connections are not covered by http.Server.Shutdown.
func (r *Relay) Close() {
	r.cancel()
	r.sessions.Wait()
}

// relay runs the two pumps until the first one returns, then closes both
// connections so the other returns too. It returns the error that ended
// the session.
func (r *Relay) relay(ctx context.Context, client *sessionConn, backend *websocket.Conn, logger *slog.Logger) error {
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return r.pumpClient(client, backend, logger)
	})
	group.Go(func() error {
		return pumpBackend(client, backend)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		client.closeWith(websocket.CloseNormalClosure)
		closeWith(backend, websocket.CloseNormalClosure)
		client.conn.Close()
		backend.Close()
		return nil
	})

	return group.Wait()
}

// pumpClient reads client frames, answers rejected ones directly, and
// forwards accepted ones unchanged. It only returns with an error.
func (r *Relay) pumpClient(client *sessionConn, backend *websocket.Conn, logger *slog.Logger) error {
	for {
		messageType, data, err := client.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("reading client: %w", err)
		}

		if !json.Valid(data) {
			r.metrics.unit(transportWebSocket, outcomeRejected)
			if err := client.write(websocket.TextMessage, jsonrpc.NewError(nil, jsonrpc.InvalidRequest, messageExpectedBody).Marshal()); err != nil {
				return fmt.Errorf("writing client: %w", err)
			}
			continue
		}

		verdict := r.policy.Check(data)
		if !verdict.Accepted() {
			r.metrics.unit(transportWebSocket, outcomeRejected)
			logger.Info("relay message rejected", "reason", verdict.Rejection.Error.Message)
			if err := client.write(websocket.TextMessage, verdict.Rejection.Marshal()); err != nil {
				return fmt.Errorf("writing client: %w", err)
			}
			continue
		}

		if err := backend.WriteMessage(messageType, data); err != nil {
			r.metrics.unit(transportWebSocket, outcomeBackendError)
			r.metrics.backendFailure(transportWebSocket)
			return fmt.Errorf("writing backend: %w", err)
		}
		r.metrics.unit(transportWebSocket, outcomeForwarded)
	}
}

// pumpBackend copies backend frames to the client. It only returns with
// an error.
func pumpBackend(client *sessionConn, backend *websocket.Conn) error {
	for {
		messageType, data, err := backend.ReadMessage()
		if err != nil {
			return fmt.Errorf("reading backend: %w", err)
		}
		if err := client.write(messageType, data); err != nil {
			return fmt.Errorf("writing client: %w", err)
		}
	}
}

// sessionConn serializes data frame writes to the client connection,
// which both pumps write to.
type sessionConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newSessionConn(conn *websocket.Conn) *sessionConn {
	return &sessionConn{conn: conn}
}

func (c *sessionConn) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(messageType, data)
}

func (c *sessionConn) closeWith(code int) {
	closeWith(c.conn, code)
}

// closeWith sends a close frame. WriteControl may run concurrently
// with other writers.
func closeWith(conn *websocket.Conn, code int) {
	message := websocket.FormatCloseMessage(code, "")
	conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(closeWriteTimeout))
}
