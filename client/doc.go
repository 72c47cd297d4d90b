// Copyright 2026 The PeerChat Authors
// SPDX-License-Identifier: Apache-2.0

// Package client is the Go client for a peerchat relay. [Client]
// covers the REST surface: invite redemption, the challenge-response
// login flow, and posting replies. [Realtime] holds the websocket
// session, dispatching presence events, signed reply broadcasts, and
// WebRTC signaling frames; it implements [transport.SignalSender] so
// a [transport.PeerManager] can negotiate directly over it.
package client
