// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package jsonrpc defines the JSON-RPC 2.0 envelope types the gateway
// reads from callers and synthesizes on their behalf.
//
// Only the fields the gateway inspects are modeled. Params and results
// are carried as [json.RawMessage] so that accepted requests reach the
// backend byte-for-byte and backend replies reach the caller verbatim.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Version is the only protocol version the gateway speaks.
const Version = "2.0"

// JSON-RPC 2.0 error codes the gateway produces.
const (
	InvalidRequest = -32600
	InternalError  = -32603
)

// nullID is the encoded form of a JSON null id.
var nullID = json.RawMessage("null")

// Request is a decoded request unit that passed validation. Raw holds
// the exact bytes received so forwarding does not re-encode the caller's
// payload.
type Request struct {
	ID     json.RawMessage
	Method string
	Raw    json.RawMessage
}

// Error is the error member of an error response.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is a complete JSON-RPC error response object.
type ErrorResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   Error           `json:"error"`
}

// NewError builds an error response echoing id. A nil or empty id is
// encoded as null.
func NewError(id json.RawMessage, code int, message string) *ErrorResponse {
	if len(id) == 0 {
		id = nullID
	}
	return &ErrorResponse{
		JSONRPC: Version,
		ID:      id,
		Error:   Error{Code: code, Message: message},
	}
}

// Marshal encodes the error response. The type contains only strings,
// integers and already-valid raw JSON, so encoding cannot fail.
func (e *ErrorResponse) Marshal() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		panic(fmt.Sprintf("jsonrpc: marshaling error response: %v", err))
	}
	return data
}

// IsBatch reports whether data (already known to be valid JSON) is a
// JSON array.
func IsBatch(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}

// IsNull reports whether raw is absent or the JSON literal null.
func IsNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, nullID)
}

// IsScalar reports whether raw encodes a string, number, or boolean.
func IsScalar(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return false
	}
	switch trimmed[0] {
	case '{', '[', 'n':
		return false
	}
	return true
}

// NeuteredRequest returns a side-effect-free request occupying position
// index of a batch. It stands in for a rejected item so the batch sent
// upstream keeps the caller's length and order.
func NeuteredRequest(index int) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"web3_clientVersion"}`, index))
}
