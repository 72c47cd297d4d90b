// Copyright 2026 The PeerChat Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport negotiates direct peer-to-peer data channels
// between chat clients, using the relay only for signaling.
//
// [PeerManager] owns one pion PeerConnection per remote peer, keyed
// by the peer's public key. Outbound negotiation starts with
// InitiateConnection; inbound signaling frames (offers, answers, ICE
// candidates) arrive through HandleOffer, HandleAnswer, and
// HandleCandidate, normally fed from the relay websocket. Signaling
// is trickle ICE: the SDP goes out immediately and candidates follow
// as pion discovers them.
//
// When both ends of a pair offer at the same time, a deterministic
// rule resolves the glare: the peer whose public key compares
// lexicographically higher accepts the incoming offer and discards
// its own, so exactly one offer survives and both sides converge to
// a stable session.
//
// Outbound signaling is abstracted behind [SignalSender], so the
// manager never touches a websocket directly. [MemorySignalBus]
// routes frames between managers in-process for tests.
package transport
