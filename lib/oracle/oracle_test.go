// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

const challengeAddress = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

// fakeCaller returns a canned result for every call and records the
// last call message.
type fakeCaller struct {
	output []byte
	err    error
	calls  []ethereum.CallMsg
}

func (f *fakeCaller) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.calls = append(f.calls, call)
	return f.output, f.err
}

func encodedBool(value bool) []byte {
	word := make([]byte, 32)
	if value {
		word[31] = 1
	}
	return word
}

func TestIsSolvedTrue(t *testing.T) {
	caller := &fakeCaller{output: encodedBool(true)}
	oracle := New(caller, nil)

	if !oracle.IsSolved(context.Background(), challengeAddress) {
		t.Fatal("IsSolved = false, want true")
	}
	if len(caller.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(caller.calls))
	}
	call := caller.calls[0]
	if call.To == nil || *call.To != common.HexToAddress(challengeAddress) {
		t.Errorf("call target = %v, want %s", call.To, challengeAddress)
	}
	if !bytes.Equal(call.Data, isSolvedSelector) {
		t.Errorf("call data = %x, want selector %x", call.Data, isSolvedSelector)
	}
}

func TestIsSolvedFalse(t *testing.T) {
	oracle := New(&fakeCaller{output: encodedBool(false)}, nil)
	if oracle.IsSolved(context.Background(), challengeAddress) {
		t.Fatal("IsSolved = true, want false")
	}
}

func TestIsSolvedFailuresReadAsFalse(t *testing.T) {
	tests := []struct {
		name    string
		caller  *fakeCaller
		address string
	}{
		{"no code at address", &fakeCaller{output: nil}, challengeAddress},
		{"call reverted", &fakeCaller{err: errors.New("execution reverted")}, challengeAddress},
		{"short return data", &fakeCaller{output: []byte{0x01}}, challengeAddress},
		{"invalid address", &fakeCaller{output: encodedBool(true)}, "not-an-address"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			oracle := New(test.caller, nil)
			if oracle.IsSolved(context.Background(), test.address) {
				t.Error("IsSolved = true, want false")
			}
		})
	}
}

func TestIsSolvedOverJSONRPC(t *testing.T) {
	tests := []struct {
		name   string
		result string
		want   bool
	}{
		{"solved", "0x" + strings.Repeat("0", 63) + "1", true},
		{"unsolved", "0x" + strings.Repeat("0", 64), false},
		{"no deployed code", "0x", false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var request struct {
					ID     json.RawMessage `json:"id"`
					Method string          `json:"method"`
				}
				if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
					t.Errorf("decoding request: %v", err)
					return
				}
				if request.Method != "eth_call" {
					t.Errorf("method = %q, want eth_call", request.Method)
				}
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(map[string]any{
					"jsonrpc": "2.0",
					"id":      request.ID,
					"result":  test.result,
				})
			}))
			defer node.Close()

			oracle, err := Dial(context.Background(), node.URL, nil)
			if err != nil {
				t.Fatalf("Dial: %v", err)
			}
			defer oracle.Close()

			if got := oracle.IsSolved(context.Background(), challengeAddress); got != test.want {
				t.Errorf("IsSolved = %v, want %v", got, test.want)
			}
		})
	}
}

func TestIsSolvedUnreachableNode(t *testing.T) {
	node := httptest.NewServer(http.NotFoundHandler())
	url := node.URL
	node.Close()

	oracle, err := Dial(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer oracle.Close()

	if oracle.IsSolved(context.Background(), challengeAddress) {
		t.Fatal("IsSolved = true against an unreachable node")
	}
}
