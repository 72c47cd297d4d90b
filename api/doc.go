// Copyright 2026 The PeerChat Authors
// SPDX-License-Identifier: Apache-2.0

// Package api exposes the relay's HTTP surface: invite issuance and
// redemption, the challenge-response login flow, the authenticated
// reply endpoint, and the websocket upgrade for the realtime channel.
//
// [API] holds the wiring between endpoints and the underlying
// services; Routes assembles the mux with the shared middleware
// stack (request logging, CORS, security headers, JSON 404).
// [HTTPServer] owns listener lifecycle and graceful shutdown.
package api
