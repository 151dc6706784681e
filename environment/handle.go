// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package environment

import (
	"fmt"

	"github.com/bureau-foundation/anvilgate/lib/envrecord"
	"github.com/bureau-foundation/anvilgate/lib/wallet"
)

// Handle is what a player needs to work on a provisioned environment.
type Handle struct {
	Mnemonic         string `json:"mnemonic"`
	PrivateKey       string `json:"private_key"`
	PlayerAddress    string `json:"player_address"`
	ChallengeAddress string `json:"challenge_address"`

	// RPCURL is the gateway's externally reachable endpoint, not the
	// backend node's.
	RPCURL string `json:"rpc_url"`
}

// NewHandle derives the handle for record. The player account is
// index 1 of the record's mnemonic.
func NewHandle(record envrecord.Record, rpcURL string) (*Handle, error) {
	player, err := wallet.DeriveAccount(record.Mnemonic, wallet.PlayerAccountIndex)
	if err != nil {
		return nil, fmt.Errorf("deriving player account: %w", err)
	}
	return &Handle{
		Mnemonic:         record.Mnemonic,
		PrivateKey:       player.PrivateKeyHex(),
		PlayerAddress:    player.Address.Hex(),
		ChallengeAddress: record.ChallengeAddress,
		RPCURL:           rpcURL,
	}, nil
}
