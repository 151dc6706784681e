// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package envrecord persists the single environment record produced by
// provisioning: the generated mnemonic and the deployed challenge
// address.
//
// The record file is a flat JSON object. A missing file and a file
// holding an empty object are both read as the empty [Record], which
// means "not provisioned". [Store.Save] writes atomically (temporary
// file, fsync, rename, fsync of the parent directory) so a crash during
// a save never leaves a partially written record behind.
//
// This package has no dependencies on other anvilgate packages.
package envrecord

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Record is the persisted provisioning result.
type Record struct {
	// Mnemonic is the BIP-39 phrase the backend node was started with.
	Mnemonic string `json:"mnemonic,omitempty"`

	// ChallengeAddress is the hex address of the deployed challenge
	// contract.
	ChallengeAddress string `json:"challenge_address,omitempty"`
}

// Empty reports whether the record holds no provisioning result.
func (r Record) Empty() bool {
	return r.Mnemonic == ""
}

// Store reads and writes the record file at Path.
type Store struct {
	Path string
}

// Load reads the record. A missing file yields the empty record and a
// nil error; a corrupt file is an error so the caller does not mistake
// it for "never provisioned" and provision over it.
func (s *Store) Load() (Record, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, nil
		}
		return Record{}, fmt.Errorf("reading environment record: %w", err)
	}

	var record Record
	if len(data) == 0 {
		return record, nil
	}
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, fmt.Errorf("parsing environment record %s: %w", s.Path, err)
	}
	return record, nil
}

// Save atomically replaces the record file with record. The parent
// directory must already exist. The file is created with mode 0600
// because the mnemonic controls every funded account on the node.
func (s *Store) Save(record Record) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling environment record: %w", err)
	}
	data = append(data, '\n')

	temporaryPath := s.Path + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating temporary record file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary record file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary record file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary record file: %w", err)
	}

	if err := os.Rename(temporaryPath, s.Path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming record file into place: %w", err)
	}

	parentDirectory, err := os.Open(filepath.Dir(s.Path))
	if err == nil {
		parentDirectory.Sync()
		parentDirectory.Close()
	}

	return nil
}
