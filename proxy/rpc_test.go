// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
)

// recordingBackend records every payload it receives and answers with
// reply, or echoes a canned result when reply is nil.
type recordingBackend struct {
	mu    sync.Mutex
	calls []string
	reply func(payload string) (string, error)
}

func (b *recordingBackend) Call(ctx context.Context, payload []byte) ([]byte, error) {
	b.mu.Lock()
	b.calls = append(b.calls, string(payload))
	b.mu.Unlock()
	if b.reply == nil {
		return []byte(`{"jsonrpc":"2.0","id":1,"result":"0x10"}`), nil
	}
	reply, err := b.reply(string(payload))
	if err != nil {
		return nil, err
	}
	return []byte(reply), nil
}

func (b *recordingBackend) recorded() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func newTestRPCProxy(t *testing.T, backend Backend, metrics *Metrics) *RPCProxy {
	t.Helper()
	proxy, err := NewRPCProxy(RPCProxyConfig{Backend: backend, Metrics: metrics})
	if err != nil {
		t.Fatalf("NewRPCProxy: %v", err)
	}
	return proxy
}

func TestRPCForwardsAcceptedRequestVerbatim(t *testing.T) {
	backend := &recordingBackend{reply: func(string) (string, error) {
		return `{"jsonrpc":"2.0","id":1,"result":"0x1b4"}`, nil
	}}
	proxy := newTestRPCProxy(t, backend, nil)

	request := `{"jsonrpc":"2.0","id":1,"method":"eth_blockNumber"}`
	got := string(proxy.Handle(context.Background(), []byte(request)))
	if got != `{"jsonrpc":"2.0","id":1,"result":"0x1b4"}` {
		t.Errorf("reply = %s", got)
	}
	calls := backend.recorded()
	if len(calls) != 1 || calls[0] != request {
		t.Errorf("backend calls = %q, want the original request", calls)
	}
}

func TestRPCRejectsDeniedMethodWithoutBackend(t *testing.T) {
	backend := &recordingBackend{}
	proxy := newTestRPCProxy(t, backend, nil)

	got := string(proxy.Handle(context.Background(),
		[]byte(`{"jsonrpc":"2.0","id":2,"method":"eth_sendTransaction","params":[]}`)))
	want := `{"jsonrpc":"2.0","id":2,"error":{"code":-32600,"message":"forbidden jsonrpc method"}}`
	if got != want {
		t.Errorf("reply = %s, want %s", got, want)
	}
	if calls := backend.recorded(); len(calls) != 0 {
		t.Errorf("backend received %q", calls)
	}
}

func TestRPCNeverForwardsDisallowedNamespaces(t *testing.T) {
	backend := &recordingBackend{}
	proxy := newTestRPCProxy(t, backend, nil)

	for _, method := range []string{
		"anvil_setBalance", "anvil_impersonateAccount", "evm_mine", "hardhat_setCode",
		"debug_traceCall", "personal_sign", "admin_peers", "txpool_content", "ots_getApiLevel",
	} {
		request := `{"jsonrpc":"2.0","id":9,"method":"` + method + `"}`
		var reply struct {
			Error struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(proxy.Handle(context.Background(), []byte(request)), &reply); err != nil {
			t.Fatalf("%s: decoding reply: %v", method, err)
		}
		if reply.Error.Message != messageForbidden || reply.Error.Code != -32600 {
			t.Errorf("%s: error = %+v", method, reply.Error)
		}
	}
	if calls := backend.recorded(); len(calls) != 0 {
		t.Errorf("backend received %d calls, want 0", len(calls))
	}
}

func TestRPCMalformedMethodWithoutBackend(t *testing.T) {
	backend := &recordingBackend{}
	proxy := newTestRPCProxy(t, backend, nil)

	for _, method := range []string{`null`, `7`, `["eth_chainId"]`, `{"name":"eth_chainId"}`, `true`} {
		request := `{"jsonrpc":"2.0","id":9,"method":` + method + `}`
		got := string(proxy.Handle(context.Background(), []byte(request)))
		want := `{"jsonrpc":"2.0","id":9,"error":{"code":-32600,"message":"invalid jsonrpc method"}}`
		if got != want {
			t.Errorf("method %s: reply = %s, want %s", method, got, want)
		}
	}
	if calls := backend.recorded(); len(calls) != 0 {
		t.Errorf("backend called for malformed methods: %q", calls)
	}
}

func TestRPCInvalidBody(t *testing.T) {
	backend := &recordingBackend{}
	proxy := newTestRPCProxy(t, backend, nil)

	for _, body := range []string{``, `{`, `not json`, `{"id":1,}`} {
		got := string(proxy.Handle(context.Background(), []byte(body)))
		want := `{"jsonrpc":"2.0","id":null,"error":{"code":-32600,"message":"expected json body"}}`
		if got != want {
			t.Errorf("Handle(%q) = %s", body, got)
		}
	}
	if calls := backend.recorded(); len(calls) != 0 {
		t.Errorf("backend received %q", calls)
	}
}

func TestRPCBatchNeutersRejectedItems(t *testing.T) {
	backend := &recordingBackend{reply: func(string) (string, error) {
		return `[{"jsonrpc":"2.0","id":1,"result":"anvil/v0.2.0"},{"jsonrpc":"2.0","id":1,"result":"anvil/v0.2.0"}]`, nil
	}}
	proxy := newTestRPCProxy(t, backend, nil)

	got := string(proxy.Handle(context.Background(),
		[]byte(`[{"id":1,"method":"web3_clientVersion"},{"id":2,"method":"eth_sign"}]`)))
	want := `[{"jsonrpc":"2.0","id":1,"result":"anvil/v0.2.0"},` +
		`{"jsonrpc":"2.0","id":2,"error":{"code":-32600,"message":"forbidden jsonrpc method"}}]`
	if got != want {
		t.Errorf("reply = %s, want %s", got, want)
	}

	calls := backend.recorded()
	if len(calls) != 1 {
		t.Fatalf("backend calls = %d, want exactly 1", len(calls))
	}
	wantUpstream := `[{"id":1,"method":"web3_clientVersion"},{"jsonrpc":"2.0","id":1,"method":"web3_clientVersion"}]`
	if calls[0] != wantUpstream {
		t.Errorf("upstream batch = %s, want %s", calls[0], wantUpstream)
	}
	if strings.Contains(calls[0], "eth_sign") {
		t.Error("rejected item reached the backend")
	}
}

func TestRPCBatchPositionalAlignment(t *testing.T) {
	// Items 1 and 3 fail; the backend's reply is matched by position, not id.
	backend := &recordingBackend{reply: func(payload string) (string, error) {
		var items []json.RawMessage
		if err := json.Unmarshal([]byte(payload), &items); err != nil {
			return "", err
		}
		if len(items) != 5 {
			return "", errors.New("batch length changed")
		}
		return `[{"r":0},{"r":1},{"r":2},{"r":3},{"r":4}]`, nil
	}}
	proxy := newTestRPCProxy(t, backend, nil)

	batch := `[{"id":"a","method":"eth_chainId"},` +
		`{"id":"b","method":"anvil_mine"},` +
		`{"id":"c","method":"net_version"},` +
		`"not an object",` +
		`{"id":"e","method":"eth_gasPrice"}]`
	var replies []json.RawMessage
	if err := json.Unmarshal(proxy.Handle(context.Background(), []byte(batch)), &replies); err != nil {
		t.Fatalf("decoding reply: %v", err)
	}
	if len(replies) != 5 {
		t.Fatalf("reply length = %d, want 5", len(replies))
	}
	for index, want := range map[int]string{
		0: `{"r":0}`,
		1: `{"jsonrpc":"2.0","id":"b","error":{"code":-32600,"message":"forbidden jsonrpc method"}}`,
		2: `{"r":2}`,
		3: `{"jsonrpc":"2.0","id":null,"error":{"code":-32600,"message":"expected json object"}}`,
		4: `{"r":4}`,
	} {
		if string(replies[index]) != want {
			t.Errorf("reply[%d] = %s, want %s", index, replies[index], want)
		}
	}

	upstream := backend.recorded()[0]
	if !strings.Contains(upstream, `{"jsonrpc":"2.0","id":3,"method":"web3_clientVersion"}`) {
		t.Errorf("upstream batch %s missing neutered item at index 3", upstream)
	}
}

func TestRPCEmptyBatch(t *testing.T) {
	backend := &recordingBackend{}
	proxy := newTestRPCProxy(t, backend, nil)

	if got := string(proxy.Handle(context.Background(), []byte(` [ ] `))); got != `[]` {
		t.Errorf("reply = %s, want []", got)
	}
	if calls := backend.recorded(); len(calls) != 0 {
		t.Errorf("backend received %q", calls)
	}
}

func TestRPCBackendFailure(t *testing.T) {
	backend := &recordingBackend{reply: func(string) (string, error) {
		return "", errors.New("dial tcp 127.0.0.1:18545: connect: connection refused")
	}}
	metrics := NewMetrics()
	proxy := newTestRPCProxy(t, backend, metrics)

	t.Run("single", func(t *testing.T) {
		got := string(proxy.Handle(context.Background(), []byte(`{"id":"x","method":"eth_blockNumber"}`)))
		want := `{"jsonrpc":"2.0","id":"x","error":{"code":-32603,"message":"dial tcp 127.0.0.1:18545: connect: connection refused"}}`
		if got != want {
			t.Errorf("reply = %s, want %s", got, want)
		}
	})

	t.Run("batch", func(t *testing.T) {
		var replies []struct {
			ID    json.RawMessage `json:"id"`
			Error struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		reply := proxy.Handle(context.Background(), []byte(`[{"id":1,"method":"eth_chainId"},{"id":2,"method":"eth_sign"}]`))
		if err := json.Unmarshal(reply, &replies); err != nil {
			t.Fatalf("decoding reply %s: %v", reply, err)
		}
		if len(replies) != 2 {
			t.Fatalf("reply length = %d", len(replies))
		}
		if replies[0].Error.Code != -32603 || !strings.Contains(replies[0].Error.Message, "connection refused") {
			t.Errorf("reply[0] = %+v, want backend failure", replies[0])
		}
		if replies[1].Error.Message != messageForbidden {
			t.Errorf("reply[1] = %+v, want forbidden", replies[1])
		}
	})

	if got := promtestutil.ToFloat64(metrics.backendFailures.WithLabelValues(transportHTTP)); got != 2 {
		t.Errorf("backend failures = %v, want 2", got)
	}
	if got := promtestutil.ToFloat64(metrics.units.WithLabelValues(transportHTTP, outcomeBackendError)); got != 2 {
		t.Errorf("backend error units = %v, want 2", got)
	}
	if got := promtestutil.ToFloat64(metrics.units.WithLabelValues(transportHTTP, outcomeRejected)); got != 1 {
		t.Errorf("rejected units = %v, want 1", got)
	}
}

func TestRPCBatchNonArrayReplyFillsAcceptedSlots(t *testing.T) {
	backend := &recordingBackend{reply: func(string) (string, error) {
		return `{"jsonrpc":"2.0","id":null,"error":{"code":-32000,"message":"batch too large"}}`, nil
	}}
	proxy := newTestRPCProxy(t, backend, nil)

	var replies []json.RawMessage
	reply := proxy.Handle(context.Background(), []byte(`[{"id":1,"method":"eth_chainId"},{"id":2,"method":"eth_blockNumber"},{"id":3}]`))
	if err := json.Unmarshal(reply, &replies); err != nil {
		t.Fatalf("decoding reply: %v", err)
	}
	for _, index := range []int{0, 1} {
		if !strings.Contains(string(replies[index]), "batch too large") {
			t.Errorf("reply[%d] = %s, want the backend's error", index, replies[index])
		}
	}
	if !strings.Contains(string(replies[2]), messageInvalidMethod) {
		t.Errorf("reply[2] = %s, want invalid method", replies[2])
	}
}

func TestRPCBatchShortReply(t *testing.T) {
	backend := &recordingBackend{reply: func(string) (string, error) {
		return `[{"r":0}]`, nil
	}}
	proxy := newTestRPCProxy(t, backend, nil)

	var replies []json.RawMessage
	reply := proxy.Handle(context.Background(), []byte(`[{"id":1,"method":"eth_chainId"},{"id":2,"method":"eth_blockNumber"}]`))
	if err := json.Unmarshal(reply, &replies); err != nil {
		t.Fatalf("decoding reply: %v", err)
	}
	if string(replies[0]) != `{"r":0}` {
		t.Errorf("reply[0] = %s", replies[0])
	}
	want := `{"jsonrpc":"2.0","id":2,"error":{"code":-32603,"message":"backend batch reply has no item 1"}}`
	if string(replies[1]) != want {
		t.Errorf("reply[1] = %s, want %s", replies[1], want)
	}
}

func TestRPCServeHTTP(t *testing.T) {
	proxy := newTestRPCProxy(t, &recordingBackend{}, nil)

	request := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(`{"id":1,"method":"eth_chainId"}`))
	recorder := httptest.NewRecorder()
	proxy.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", recorder.Code)
	}
	if contentType := recorder.Header().Get("Content-Type"); contentType != "application/json" {
		t.Errorf("Content-Type = %q", contentType)
	}
	if got := recorder.Body.String(); got != `{"jsonrpc":"2.0","id":1,"result":"0x10"}` {
		t.Errorf("body = %s", got)
	}
}

func TestNewRPCProxyRequiresBackend(t *testing.T) {
	if _, err := NewRPCProxy(RPCProxyConfig{}); err == nil {
		t.Fatal("expected error without a backend")
	}
}
