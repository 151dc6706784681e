// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wallet generates BIP-39 mnemonics and derives Ethereum
// accounts from them along the standard BIP-44 path m/44'/60'/0'/0/i,
// the same path the backend node uses to fund its dev accounts.
package wallet

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

// Account indices within the environment's mnemonic. The system account
// deploys the challenge; the player account is handed to the caller.
const (
	SystemAccountIndex uint32 = 0
	PlayerAccountIndex uint32 = 1
)

// mnemonicEntropyBits yields a 12-word phrase.
const mnemonicEntropyBits = 128

// Account is a derived key pair.
type Account struct {
	Address    common.Address
	PrivateKey *ecdsa.PrivateKey
}

// PrivateKeyHex returns the 0x-prefixed hex encoding of the private key.
func (a Account) PrivateKeyHex() string {
	return hexutil.Encode(crypto.FromECDSA(a.PrivateKey))
}

// NewMnemonic returns a fresh random 12-word English mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(mnemonicEntropyBits)
	if err != nil {
		return "", fmt.Errorf("generating mnemonic entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("encoding mnemonic: %w", err)
	}
	return mnemonic, nil
}

// DeriveAccount derives the account at m/44'/60'/0'/0/index from
// mnemonic with an empty passphrase. Derivation is deterministic.
func DeriveAccount(mnemonic string, index uint32) (Account, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return Account{}, fmt.Errorf("invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, "")

	key, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return Account{}, fmt.Errorf("deriving master key: %w", err)
	}

	path := []uint32{
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + 60,
		hdkeychain.HardenedKeyStart + 0,
		0,
		index,
	}
	for _, child := range path {
		key, err = key.Derive(child)
		if err != nil {
			return Account{}, fmt.Errorf("deriving child %d: %w", child, err)
		}
	}

	privateKey, err := key.ECPrivKey()
	if err != nil {
		return Account{}, fmt.Errorf("extracting private key: %w", err)
	}
	ecdsaKey := privateKey.ToECDSA()

	return Account{
		Address:    crypto.PubkeyToAddress(ecdsaKey.PublicKey),
		PrivateKey: ecdsaKey,
	}, nil
}
