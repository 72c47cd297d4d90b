// Copyright 2026 The PeerChat Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/json"
)

// Signal frame kinds carried between peers. The values match the
// relay's wire discriminants so a sender can forward them unchanged.
const (
	SignalOffer     = "sdp-offer"
	SignalAnswer    = "sdp-answer"
	SignalCandidate = "ice-candidate"
)

// SignalSender delivers a signaling frame to one remote peer. The
// production implementation forwards over the relay websocket; tests
// use MemorySignalBus. Delivery is best-effort: an absent recipient
// is not an error the sender can observe.
type SignalSender interface {
	SendSignal(ctx context.Context, kind, to string, payload json.RawMessage) error
}

// SignalHandler consumes inbound signaling frames. *PeerManager
// satisfies this; MemorySignalBus dispatches to it.
type SignalHandler interface {
	HandleOffer(ctx context.Context, from string, payload json.RawMessage) error
	HandleAnswer(ctx context.Context, from string, payload json.RawMessage) error
	HandleCandidate(ctx context.Context, from string, payload json.RawMessage) error
}
