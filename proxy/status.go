// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/bureau-foundation/anvilgate/environment"
)

// oracleTimeout bounds the completion check made per status request.
const oracleTimeout = 10 * time.Second

// refreshSeconds is the Refresh header value sent while the environment
// is not ready.
const refreshSeconds = "3"

// Environment is the part of environment.Manager the status endpoint
// reads.
type Environment interface {
	Trigger() environment.State
	Handle() (*environment.Handle, bool)
	LastError() error
}

// CompletionChecker reports whether the challenge at address is solved.
type CompletionChecker interface {
	IsSolved(ctx context.Context, address string) bool
}

// StatusConfig configures a StatusHandler.
type StatusConfig struct {
	Environment Environment
	Oracle      CompletionChecker

	// Challenge is the challenge name reported to players.
	Challenge string

	// Flag is revealed once the challenge reports solved.
	Flag string

	Logger *slog.Logger
}

// StatusHandler reports environment progress and, once ready, the
// player's handle and completion state.
type StatusHandler struct {
	environment Environment
	oracle      CompletionChecker
	challenge   string
	flag        string
	logger      *slog.Logger
}

// StatusResponse is the body of GET / and GET /status.
type StatusResponse struct {
	Challenge string              `json:"challenge,omitempty"`
	State     environment.State   `json:"state"`
	Handle    *environment.Handle `json:"handle,omitempty"`
	Solved    *bool               `json:"solved,omitempty"`
	Flag      string              `json:"flag,omitempty"`

	// Error is the failure of the previous provisioning attempt, if the
	// environment is not ready.
	Error string `json:"error,omitempty"`
}

// NewStatusHandler creates the status endpoint.
func NewStatusHandler(config StatusConfig) *StatusHandler {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusHandler{
		environment: config.Environment,
		oracle:      config.Oracle,
		challenge:   config.Challenge,
		flag:        config.Flag,
		logger:      logger,
	}
}

// ServeHTTP triggers provisioning if needed and writes the status.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := StatusResponse{
		Challenge: h.challenge,
		State:     h.environment.Trigger(),
	}

	if handle, ok := h.environment.Handle(); ok {
		response.State = environment.Ready
		response.Handle = handle

		ctx, cancel := context.WithTimeout(r.Context(), oracleTimeout)
		solved := h.oracle.IsSolved(ctx, handle.ChallengeAddress)
		cancel()
		response.Solved = &solved
		if solved {
			response.Flag = h.flag
			h.logger.Info("challenge solved", "challenge_address", handle.ChallengeAddress)
		}
	} else {
		if err := h.environment.LastError(); err != nil {
			response.Error = err.Error()
		}
		w.Header().Set("Refresh", refreshSeconds)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Warn("writing status response", "error", err)
	}
}
