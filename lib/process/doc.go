// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint helpers for anvilgate binaries.
// Errors returned from run() are reported through Fatal because the
// structured logger may not exist yet when configuration fails.
package process
