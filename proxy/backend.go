// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/bureau-foundation/anvilgate/lib/netutil"
)

// Backend carries one JSON-RPC payload (a request object or a batch
// array) to the backend node and returns its JSON reply.
type Backend interface {
	Call(ctx context.Context, payload []byte) ([]byte, error)
}

// DefaultBackendTimeout bounds a single backend call.
const DefaultBackendTimeout = 60 * time.Second

// HTTPBackendConfig configures an HTTPBackend.
type HTTPBackendConfig struct {
	// URL is the backend node's HTTP JSON-RPC endpoint.
	URL string

	// Timeout bounds each call, including reading the reply. Defaults to
	// DefaultBackendTimeout.
	Timeout time.Duration

	Logger *slog.Logger
}

// HTTPBackend posts payloads to a fixed backend URL.
type HTTPBackend struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewHTTPBackend creates an HTTP backend for config.URL.
func NewHTTPBackend(config HTTPBackendConfig) (*HTTPBackend, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("backend URL is required")
	}
	parsed, err := url.Parse(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("backend URL %q: scheme must be http or https", config.URL)
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultBackendTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}

	return &HTTPBackend{
		url: config.URL,
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}, nil
}

// URL returns the backend endpoint.
func (b *HTTPBackend) URL() string {
	return b.url
}

// Call posts payload and returns the reply body. A reply that is not
// JSON is an error; a JSON reply is returned whatever its HTTP status.
func (b *HTTPBackend) Call(ctx context.Context, payload []byte) ([]byte, error) {
	startTime := time.Now()

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating backend request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	response, err := b.client.Do(request)
	if err != nil {
		b.logger.Error("backend request failed",
			"error", err,
			"duration", time.Since(startTime),
		)
		return nil, err
	}
	defer response.Body.Close()

	body, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, fmt.Errorf("reading backend response: %w", err)
	}
	if !json.Valid(body) {
		if response.StatusCode < 200 || response.StatusCode > 299 {
			return nil, fmt.Errorf("backend returned %s: %s", response.Status, netutil.Excerpt(body))
		}
		return nil, fmt.Errorf("backend returned a non-JSON body (%d bytes)", len(body))
	}

	b.logger.Debug("backend request",
		"status", response.StatusCode,
		"request_bytes", len(payload),
		"response_bytes", len(body),
		"duration", time.Since(startTime),
	)
	return body, nil
}
