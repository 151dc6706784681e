// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package proxy is the public face of the gateway: a JSON-RPC filter in
// front of a single backend dev node, plus the status endpoint that
// hands a player their environment.
//
// Every request unit a caller sends passes through [Policy] before it
// can reach the backend. A unit must be a JSON object with a scalar id
// and a string method whose namespace (the text before the first
// underscore) is web3, eth, or net, and the method must not be one of
// the node-side signing or sending methods. Rejected units are answered
// locally with a JSON-RPC error and never forwarded.
//
// [RPCProxy] serves request/response traffic on POST / and POST /rpc.
// A batch is forwarded as exactly one backend call: rejected items are
// replaced in place by a harmless web3_clientVersion request so that the
// backend's reply array lines up with the caller's by position.
//
// [Relay] serves GET /ws. Each client WebSocket gets its own backend
// WebSocket; client frames are filtered, backend frames pass through
// untouched, and the session ends as soon as either side does.
//
// [StatusHandler] serves GET / and GET /status. It triggers background
// provisioning of the environment and reports progress, the player's
// handle, and the flag once the challenge reports solved.
//
// [Server] mounts all of the above on one chi router. [Config] loads
// the gateway's YAML configuration with environment overrides.
package proxy
