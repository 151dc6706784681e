// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/bureau-foundation/anvilgate/lib/jsonrpc"
)

// maxRequestBody bounds an inbound request/response payload.
const maxRequestBody = 16 << 20

// RPCProxyConfig configures an RPCProxy.
type RPCProxyConfig struct {
	Backend Backend

	// Policy defaults to DefaultPolicy().
	Policy *Policy

	// Metrics is optional.
	Metrics *Metrics

	Logger *slog.Logger
}

// RPCProxy filters request/response JSON-RPC traffic.
type RPCProxy struct {
	backend Backend
	policy  *Policy
	metrics *Metrics
	logger  *slog.Logger
}

// NewRPCProxy creates a request/response proxy.
func NewRPCProxy(config RPCProxyConfig) (*RPCProxy, error) {
	if config.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if config.Policy == nil {
		config.Policy = DefaultPolicy()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &RPCProxy{
		backend: config.Backend,
		policy:  config.Policy,
		metrics: config.Metrics,
		logger:  config.Logger,
	}, nil
}

// ServeHTTP answers a POSTed JSON-RPC payload. The HTTP status is always
// 200; failures are reported in JSON-RPC error objects.
func (p *RPCProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	var reply json.RawMessage
	if err != nil {
		p.logger.Warn("reading rpc request body", "error", err)
		reply = p.invalidBody()
	} else {
		reply = p.Handle(r.Context(), body)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(reply)
}

// Handle filters one payload, forwards what passes, and returns the
// reply to send to the caller.
func (p *RPCProxy) Handle(ctx context.Context, body []byte) json.RawMessage {
	if !json.Valid(body) {
		return p.invalidBody()
	}
	if jsonrpc.IsBatch(body) {
		return p.handleBatch(ctx, body)
	}
	return p.handleSingle(ctx, body)
}

func (p *RPCProxy) invalidBody() json.RawMessage {
	p.metrics.unit(transportHTTP, outcomeRejected)
	return jsonrpc.NewError(nil, jsonrpc.InvalidRequest, messageExpectedBody).Marshal()
}

func (p *RPCProxy) handleSingle(ctx context.Context, body []byte) json.RawMessage {
	verdict := p.policy.Check(body)
	if !verdict.Accepted() {
		p.metrics.unit(transportHTTP, outcomeRejected)
		p.logger.Info("rpc request rejected", "reason", verdict.Rejection.Error.Message)
		return verdict.Rejection.Marshal()
	}

	reply, err := p.backend.Call(ctx, body)
	if err != nil {
		p.metrics.unit(transportHTTP, outcomeBackendError)
		p.metrics.backendFailure(transportHTTP)
		return jsonrpc.NewError(verdict.Request.ID, jsonrpc.InternalError, err.Error()).Marshal()
	}
	p.metrics.unit(transportHTTP, outcomeForwarded)
	return reply
}

func (p *RPCProxy) handleBatch(ctx context.Context, body []byte) json.RawMessage {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return p.invalidBody()
	}
	if len(items) == 0 {
		return json.RawMessage("[]")
	}

	verdicts := make([]Verdict, len(items))
	upstream := make([]json.RawMessage, len(items))
	rejected := 0
	for index, item := range items {
		verdicts[index] = p.policy.Check(item)
		if verdicts[index].Accepted() {
			upstream[index] = item
		} else {
			upstream[index] = jsonrpc.NeuteredRequest(index)
			rejected++
		}
	}
	if rejected > 0 {
		p.logger.Info("rpc batch items rejected", "size", len(items), "rejected", rejected)
	}

	responses := make([]json.RawMessage, len(items))
	for index, verdict := range verdicts {
		if !verdict.Accepted() {
			responses[index] = verdict.Rejection.Marshal()
			p.metrics.unit(transportHTTP, outcomeRejected)
		}
	}
	accepted := len(items) - rejected

	reply, err := p.backend.Call(ctx, joinArray(upstream))
	if err != nil {
		p.metrics.backendFailure(transportHTTP)
		failure := jsonrpc.NewError(nil, jsonrpc.InternalError, err.Error()).Marshal()
		fillAccepted(responses, verdicts, func(int) json.RawMessage { return failure })
		p.metrics.unitN(transportHTTP, outcomeBackendError, accepted)
		return joinArray(responses)
	}

	var replies []json.RawMessage
	if !jsonrpc.IsBatch(reply) || json.Unmarshal(reply, &replies) != nil {
		// A non-array reply (typically a top-level error object) answers
		// every forwarded item.
		fillAccepted(responses, verdicts, func(int) json.RawMessage { return reply })
		p.metrics.unitN(transportHTTP, outcomeForwarded, accepted)
		return joinArray(responses)
	}

	if len(replies) != len(items) {
		p.logger.Warn("backend batch reply length mismatch", "sent", len(items), "received", len(replies))
	}
	fillAccepted(responses, verdicts, func(index int) json.RawMessage {
		if index < len(replies) {
			return replies[index]
		}
		return jsonrpc.NewError(verdicts[index].Request.ID, jsonrpc.InternalError,
			fmt.Sprintf("backend batch reply has no item %d", index)).Marshal()
	})
	p.metrics.unitN(transportHTTP, outcomeForwarded, accepted)
	return joinArray(responses)
}

// fillAccepted sets every accepted slot of responses from fill.
func fillAccepted(responses []json.RawMessage, verdicts []Verdict, fill func(index int) json.RawMessage) {
	for index, verdict := range verdicts {
		if verdict.Accepted() {
			responses[index] = fill(index)
		}
	}
}

// joinArray encodes already-valid JSON values as an array without
// re-encoding them.
func joinArray(values []json.RawMessage) json.RawMessage {
	var buffer bytes.Buffer
	buffer.WriteByte('[')
	for index, value := range values {
		if index > 0 {
			buffer.WriteByte(',')
		}
		buffer.Write(value)
	}
	buffer.WriteByte(']')
	return buffer.Bytes()
}
