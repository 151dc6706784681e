// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package oracle answers whether a deployed challenge has been solved
// by calling its zero-argument isSolved() view function on the backend
// node.
//
// The oracle never reports an error: a transport failure, a revert, an
// address without code, or undecodable return data all read as "not
// solved". Callers render the boolean directly.
package oracle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// isSolvedSelector is the 4-byte function selector of isSolved().
var isSolvedSelector = crypto.Keccak256([]byte("isSolved()"))[:4]

// Oracle queries the completion predicate of a challenge contract.
type Oracle struct {
	caller  ethereum.ContractCaller
	client  *ethclient.Client // non-nil only when the oracle owns its transport
	outputs abi.Arguments
	logger  *slog.Logger
}

// New returns an oracle that issues calls through caller.
func New(caller ethereum.ContractCaller, logger *slog.Logger) *Oracle {
	if logger == nil {
		logger = slog.Default()
	}
	boolType, err := abi.NewType("bool", "", nil)
	if err != nil {
		panic(fmt.Sprintf("oracle: constructing bool ABI type: %v", err))
	}
	return &Oracle{
		caller:  caller,
		outputs: abi.Arguments{{Type: boolType}},
		logger:  logger,
	}
}

// Dial connects to the backend node's JSON-RPC endpoint at rawURL and
// returns an oracle that owns the connection. Close releases it.
func Dial(ctx context.Context, rawURL string, logger *slog.Logger) (*Oracle, error) {
	client, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("dialing backend node %s: %w", rawURL, err)
	}
	oracle := New(client, logger)
	oracle.client = client
	return oracle, nil
}

// Close releases the underlying connection if the oracle was created by
// Dial. It is a no-op otherwise.
func (o *Oracle) Close() {
	if o.client != nil {
		o.client.Close()
	}
}

// IsSolved reports whether the contract at address returns true from
// isSolved() at the latest block. Every failure yields false.
func (o *Oracle) IsSolved(ctx context.Context, address string) bool {
	if !common.IsHexAddress(address) {
		o.logger.Debug("completion check skipped: invalid address", "address", address)
		return false
	}
	target := common.HexToAddress(address)

	output, err := o.caller.CallContract(ctx, ethereum.CallMsg{
		To:   &target,
		Data: isSolvedSelector,
	}, nil)
	if err != nil {
		o.logger.Debug("completion check call failed", "address", address, "error", err)
		return false
	}

	values, err := o.outputs.Unpack(output)
	if err != nil {
		o.logger.Debug("completion check decode failed", "address", address, "bytes", len(output), "error", err)
		return false
	}
	solved, ok := values[0].(bool)
	if !ok {
		return false
	}
	return solved
}
