// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package environment owns the single backend environment a gateway
// serves: the dev node process, the deployed challenge, and the record
// that remembers both across restarts.
//
// [Manager] is a three-state machine (Uninitialized, Provisioning,
// Ready). The first caller to find it Uninitialized flips it to
// Provisioning under the manager's mutex before doing any I/O, so
// concurrent callers see Provisioning and never start a second attempt.
// A provisioning attempt generates a fresh mnemonic, launches the node,
// deploys the challenge, and persists the record; only then does the
// state become Ready. A failed attempt stops the node it started,
// persists nothing, and returns the machine to Uninitialized so the
// next caller retries.
//
// Once a record exists the environment is never provisioned again. A
// record found at construction puts the manager straight into Ready.
//
// Callers that must not block (the status endpoint) use
// [Manager.Trigger]; callers that want the result use
// [Manager.EnsureProvisioned] or [Manager.Wait].
package environment
