// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package environment

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of the managed environment.
type State int

const (
	// Uninitialized: no record exists and no attempt is in flight.
	Uninitialized State = iota

	// Provisioning: exactly one attempt is in flight.
	Provisioning

	// Ready: the record is persisted and the handle is available.
	Ready
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Provisioning:
		return "provisioning"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText encodes the state as its lowercase name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	// ErrNotReady is returned while another provisioning attempt is in
	// flight.
	ErrNotReady = errors.New("environment is still provisioning")

	// ErrNotProvisioned is returned by Wait when nothing has been
	// attempted yet.
	ErrNotProvisioned = errors.New("environment has not been provisioned")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("environment manager is closed")
)
