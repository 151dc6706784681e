// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jsonrpc

import (
	"encoding/json"
	"testing"
)

func TestNewErrorNullID(t *testing.T) {
	response := NewError(nil, InvalidRequest, "expected json object")
	got := string(response.Marshal())
	want := `{"jsonrpc":"2.0","id":null,"error":{"code":-32600,"message":"expected json object"}}`
	if got != want {
		t.Errorf("Marshal() = %s, want %s", got, want)
	}
}

func TestNewErrorEchoesID(t *testing.T) {
	for _, id := range []string{`2`, `"abc"`, `1.5`} {
		response := NewError(json.RawMessage(id), InvalidRequest, "forbidden jsonrpc method")
		var decoded struct {
			ID json.RawMessage `json:"id"`
		}
		if err := json.Unmarshal(response.Marshal(), &decoded); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		if string(decoded.ID) != id {
			t.Errorf("id = %s, want %s", decoded.ID, id)
		}
	}
}

func TestIsBatch(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{`[]`, true},
		{"  \n[{\"id\":1}]", true},
		{`{"id":1}`, false},
		{`"["`, false},
		{`3`, false},
	}
	for _, test := range tests {
		if got := IsBatch([]byte(test.input)); got != test.want {
			t.Errorf("IsBatch(%q) = %v, want %v", test.input, got, test.want)
		}
	}
}

func TestIsNullAndIsScalar(t *testing.T) {
	tests := []struct {
		raw    string
		null   bool
		scalar bool
	}{
		{``, true, false},
		{`null`, true, false},
		{` null `, true, false},
		{`1`, false, true},
		{`"x"`, false, true},
		{`true`, false, true},
		{`{}`, false, false},
		{`[1]`, false, false},
	}
	for _, test := range tests {
		raw := json.RawMessage(test.raw)
		if got := IsNull(raw); got != test.null {
			t.Errorf("IsNull(%q) = %v, want %v", test.raw, got, test.null)
		}
		if got := IsScalar(raw); got != test.scalar {
			t.Errorf("IsScalar(%q) = %v, want %v", test.raw, got, test.scalar)
		}
	}
}

func TestNeuteredRequest(t *testing.T) {
	var decoded map[string]any
	if err := json.Unmarshal(NeuteredRequest(3), &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded["method"] != "web3_clientVersion" {
		t.Errorf("method = %v, want web3_clientVersion", decoded["method"])
	}
	if decoded["id"] != float64(3) {
		t.Errorf("id = %v, want 3", decoded["id"])
	}
}
