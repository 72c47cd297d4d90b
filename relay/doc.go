// Copyright 2026 The PeerChat Authors
// SPDX-License-Identifier: Apache-2.0

// Package relay is the realtime half of the chat server: the
// authoritative registry of connected, authenticated peers and the
// fan-out paths built on it.
//
// [Registry] owns the connection set behind one mutex. Admit sends
// the new connection the current client list and announces it to
// everyone else; Remove is idempotent and announces the departure.
// Broadcast iterates a snapshot of the set so concurrent admits and
// removals during a fan-out neither duplicate nor crash delivery, and
// delivers only to connections still open at call time — closed ones
// are skipped, never queued or retried. SendToPeer is best-effort
// directed delivery by public key; a miss is silent.
//
// Each connection runs an independent read pump (dispatching decoded
// frames) and write pump (sole writer on the websocket), joined by a
// buffered outbound queue. Closing a connection synchronously removes
// it from the registry.
//
// [Handler] upgrades HTTP requests to websockets, enforcing Bearer
// session-token auth and the clientMetadata descriptor before a
// connection is admitted, and closing the socket with a
// distinguishing application code (4001-4005) when the handshake is
// incomplete.
package relay
