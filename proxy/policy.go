// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/bureau-foundation/anvilgate/lib/jsonrpc"
)

// Rejection messages. All rejections share the InvalidRequest code so
// a caller cannot tell shape errors from policy errors by code alone.
const (
	messageExpectedBody   = "expected json body"
	messageExpectedObject = "expected json object"
	messageInvalidID      = "invalid jsonrpc id"
	messageInvalidMethod  = "invalid jsonrpc method"
	messageForbidden      = "forbidden jsonrpc method"
)

var allowedNamespaces = []string{"web3", "eth", "net"}

// deniedMethods are in allowed namespaces but would let the node sign
// or send on behalf of its own unlocked accounts.
var deniedMethods = []string{
	"eth_sign",
	"eth_signTransaction",
	"eth_signTypedData",
	"eth_signTypedData_v3",
	"eth_signTypedData_v4",
	"eth_sendTransaction",
	"eth_sendUnsignedTransaction",
}

// Verdict is the outcome of checking one request unit: exactly one of
// Request (when Rejection is nil) or Rejection is meaningful.
type Verdict struct {
	Request   jsonrpc.Request
	Rejection *jsonrpc.ErrorResponse
}

// Accepted reports whether the unit may be forwarded.
func (v Verdict) Accepted() bool {
	return v.Rejection == nil
}

// Policy decides which request units may reach the backend. A Policy
// is immutable and safe for concurrent use.
type Policy struct {
	namespaces map[string]struct{}
	denied     map[string]struct{}
}

var defaultPolicy = newPolicy(allowedNamespaces, deniedMethods)

// DefaultPolicy returns the gateway's fixed policy.
func DefaultPolicy() *Policy {
	return defaultPolicy
}

func newPolicy(namespaces, denied []string) *Policy {
	policy := &Policy{
		namespaces: make(map[string]struct{}, len(namespaces)),
		denied:     make(map[string]struct{}, len(denied)),
	}
	for _, namespace := range namespaces {
		policy.namespaces[namespace] = struct{}{}
	}
	for _, method := range denied {
		policy.denied[method] = struct{}{}
	}
	return policy
}

// AllowedNamespaces returns the allowed method namespaces, sorted.
func (p *Policy) AllowedNamespaces() []string {
	return sortedKeys(p.namespaces)
}

// DeniedMethods returns the denied method names, sorted.
func (p *Policy) DeniedMethods() []string {
	return sortedKeys(p.denied)
}

// Check validates one request unit. raw must be valid JSON; it may be
// any JSON value.
func (p *Policy) Check(raw json.RawMessage) Verdict {
	members, err := objectMembers(raw)
	if err != nil {
		return reject(nil, messageExpectedObject)
	}

	id := members["id"]
	if jsonrpc.IsNull(id) || !jsonrpc.IsScalar(id) {
		return reject(nil, messageInvalidID)
	}

	// Unmarshal accepts null into a string, so the kind is checked first.
	var method string
	rawMethod, present := members["method"]
	if !present || !isJSONString(rawMethod) || json.Unmarshal(rawMethod, &method) != nil {
		return reject(id, messageInvalidMethod)
	}

	if !p.Allows(method) {
		return reject(id, messageForbidden)
	}

	return Verdict{Request: jsonrpc.Request{ID: id, Method: method, Raw: raw}}
}

// Allows reports whether method passes the namespace and deny checks.
func (p *Policy) Allows(method string) bool {
	namespace, _, _ := strings.Cut(method, "_")
	if _, ok := p.namespaces[namespace]; !ok {
		return false
	}
	_, denied := p.denied[method]
	return !denied
}

func isJSONString(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '"'
}

func reject(id json.RawMessage, message string) Verdict {
	return Verdict{Rejection: jsonrpc.NewError(id, jsonrpc.InvalidRequest, message)}
}

var errDuplicateMember = errors.New("duplicate object member")

// objectMembers decodes the top level of a JSON object with exact,
// case-sensitive keys and rejects duplicate keys. The method checked
// here must be the method the backend reads from the same bytes.
func objectMembers(raw json.RawMessage) (map[string]json.RawMessage, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	token, err := decoder.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected object, got %v", token)
	}

	members := make(map[string]json.RawMessage)
	for decoder.More() {
		token, err := decoder.Token()
		if err != nil {
			return nil, err
		}
		key, ok := token.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", token)
		}
		var value json.RawMessage
		if err := decoder.Decode(&value); err != nil {
			return nil, err
		}
		if _, seen := members[key]; seen {
			return nil, fmt.Errorf("%w %q", errDuplicateMember, key)
		}
		members[key] = value
	}
	return members, nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}
