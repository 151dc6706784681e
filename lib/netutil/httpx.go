// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides network and HTTP I/O utilities for the
// gateway.
//
// ReadResponse bounds backend response body reads at MaxResponseSize so
// a misbehaving backend cannot exhaust memory. Excerpt shortens a body
// for inclusion in an error message.
//
// Connection error helpers (IsExpectedCloseError, IsNormalWebSocketClose)
// classify errors that occur during normal teardown of a relay session.
package netutil

import (
	"io"
	"unicode/utf8"
)

// MaxResponseSize is the bound on backend response body reads: 256 MB.
// Large eth_getLogs or trace results stay well under it.
const MaxResponseSize int64 = 256 << 20

// excerptLength is the default length used by Excerpt.
const excerptLength = 512

// ReadResponse reads a response body up to MaxResponseSize bytes.
// Use instead of io.ReadAll when reading HTTP response bodies.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// Excerpt returns body as a string cut to at most 512 bytes on a rune
// boundary, with "..." appended when cut.
func Excerpt(body []byte) string {
	if len(body) <= excerptLength {
		return string(body)
	}
	cut := excerptLength
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return string(body[:cut]) + "..."
}
