// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for anvilgate packages.
//
// [RequireReceive] and [RequireClosed] encapsulate the timeout safety
// valve pattern (select with time.After fallback) so that individual
// tests do not need direct time.After calls.
//
// [WriteExecutable] drops a small shell script into a test directory.
// Tests of the process collaborators (the backend node launcher and the
// deployment runner) point them at such scripts instead of the real
// anvil and forge binaries.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no anvilgate-internal dependencies.
package testutil
