// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bureau-foundation/anvilgate/environment"
)

type fakeEnvironment struct {
	state    environment.State
	handle   *environment.Handle
	err      error
	triggers int
}

func (e *fakeEnvironment) Trigger() environment.State {
	e.triggers++
	return e.state
}

func (e *fakeEnvironment) Handle() (*environment.Handle, bool) {
	return e.handle, e.handle != nil
}

func (e *fakeEnvironment) LastError() error { return e.err }

type fakeChecker struct {
	solved  bool
	checked []string
}

func (c *fakeChecker) IsSolved(ctx context.Context, address string) bool {
	c.checked = append(c.checked, address)
	return c.solved
}

var readyHandle = &environment.Handle{
	Mnemonic:         "test test test test test test test test test test test junk",
	PrivateKey:       "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d",
	PlayerAddress:    "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
	ChallengeAddress: "0x5FbDB2315678afecb367f032d93F642f64180aa3",
	RPCURL:           "http://127.0.0.1:28545",
}

func getStatus(t *testing.T, handler http.Handler) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/status", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding %s: %v", recorder.Body.String(), err)
	}
	return recorder, body
}

func TestStatusWhileProvisioning(t *testing.T) {
	env := &fakeEnvironment{state: environment.Provisioning}
	checker := &fakeChecker{}
	handler := NewStatusHandler(StatusConfig{Environment: env, Oracle: checker, Challenge: "vault", Flag: "flag{x}"})

	recorder, body := getStatus(t, handler)
	if body["state"] != "provisioning" || body["challenge"] != "vault" {
		t.Errorf("body = %v", body)
	}
	for _, key := range []string{"handle", "flag", "solved", "error"} {
		if _, present := body[key]; present {
			t.Errorf("%s present while provisioning: %v", key, body)
		}
	}
	if recorder.Header().Get("Refresh") != "3" {
		t.Errorf("Refresh = %q, want 3", recorder.Header().Get("Refresh"))
	}
	if env.triggers != 1 {
		t.Errorf("triggers = %d, want 1", env.triggers)
	}
	if len(checker.checked) != 0 {
		t.Errorf("oracle consulted before the environment was ready")
	}
}

func TestStatusReportsLastError(t *testing.T) {
	env := &fakeEnvironment{state: environment.Provisioning, err: errors.New("deploying challenge: forge exited")}
	handler := NewStatusHandler(StatusConfig{Environment: env, Oracle: &fakeChecker{}})

	_, body := getStatus(t, handler)
	if body["error"] != "deploying challenge: forge exited" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestStatusReadyUnsolved(t *testing.T) {
	env := &fakeEnvironment{state: environment.Ready, handle: readyHandle}
	checker := &fakeChecker{}
	handler := NewStatusHandler(StatusConfig{Environment: env, Oracle: checker, Flag: "flag{x}"})

	recorder, body := getStatus(t, handler)
	if body["state"] != "ready" || body["solved"] != false {
		t.Errorf("body = %v", body)
	}
	if _, present := body["flag"]; present {
		t.Errorf("flag revealed before solve: %v", body)
	}
	handle, ok := body["handle"].(map[string]any)
	if !ok {
		t.Fatalf("handle = %v", body["handle"])
	}
	if handle["player_address"] != readyHandle.PlayerAddress || handle["rpc_url"] != readyHandle.RPCURL {
		t.Errorf("handle = %v", handle)
	}
	if len(checker.checked) != 1 || checker.checked[0] != readyHandle.ChallengeAddress {
		t.Errorf("oracle checked %v, want the challenge address", checker.checked)
	}
	if recorder.Header().Get("Refresh") != "" {
		t.Errorf("Refresh sent while ready")
	}
}

func TestStatusReadySolvedRevealsFlag(t *testing.T) {
	env := &fakeEnvironment{state: environment.Ready, handle: readyHandle}
	handler := NewStatusHandler(StatusConfig{Environment: env, Oracle: &fakeChecker{solved: true}, Flag: "flag{x}"})

	_, body := getStatus(t, handler)
	if body["solved"] != true || body["flag"] != "flag{x}" {
		t.Errorf("body = %v", body)
	}
}
