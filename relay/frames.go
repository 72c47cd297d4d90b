// Copyright 2026 The PeerChat Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Frame type discriminants. Every post-handshake frame is a JSON
// object with a "type" field holding one of these values, except the
// signed broadcast envelope, which is recognized by its "signature"
// field.
const (
	TypeClientList   = "clientList"
	TypeConnect      = "connect"
	TypeDisconnect   = "disconnect"
	TypeUserLogin    = "user_login"
	TypeSDPOffer     = "sdp-offer"
	TypeSDPAnswer    = "sdp-answer"
	TypeICECandidate = "ice-candidate"
	TypeReply        = "reply"
)

// Frame decode errors.
var (
	ErrMalformedFrame = errors.New("relay: malformed frame")
	ErrUnknownType    = errors.New("relay: unknown frame type")
)

// ClientMetadata is the public descriptor of a connected peer.
// Name comes from the client's handshake descriptor; the remaining
// fields are filled in by the relay at admit time.
type ClientMetadata struct {
	Name      string `json:"name"`
	PublicKey string `json:"publicKey"`
	Privilege string `json:"privilege"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds at admit
}

// MetadataDescriptor is the client-supplied part of ClientMetadata,
// carried in the clientMetadata query parameter of the websocket
// handshake.
type MetadataDescriptor struct {
	Name string `json:"name"`
}

// ClientListFrame is sent to a connection immediately after admit,
// listing every other open connection.
type ClientListFrame struct {
	Type       string           `json:"type"`
	ClientList []ClientMetadata `json:"clientList"`
}

// PresenceFrame announces a connect or disconnect.
type PresenceFrame struct {
	Type     string         `json:"type"`
	Metadata ClientMetadata `json:"metadata"`
}

// UserLoginFrame announces a successful login, before the peer has
// necessarily opened its realtime connection.
type UserLoginFrame struct {
	Type         string `json:"type"`
	PublicKey    string `json:"publicKey"`
	FriendlyName string `json:"friendlyName"`
	Privilege    string `json:"privilege"`
	Timestamp    int64  `json:"timestamp"` // unix milliseconds
}

// SignalFrame carries WebRTC negotiation traffic between two peers.
// The relay forwards it to the connection registered under To without
// inspecting Payload.
type SignalFrame struct {
	Type    string          `json:"type"`
	From    string          `json:"from"`
	To      string          `json:"to"`
	Payload json.RawMessage `json:"payload"`
}

// ReplyFrame is a broadcast chat message. ID is a replyid-encoded
// identifier; PK is the sender's public key.
type ReplyFrame struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	PK   string `json:"pk"`
	Text string `json:"text"`
}

// ErrorFrame is the in-band response to an undeliverable or
// undecodable client frame.
type ErrorFrame struct {
	Error string `json:"error"`
}

// DecodeClientFrame parses a frame received from a client. Clients
// may only send signaling traffic; every server-originated type is
// rejected with ErrUnknownType so a client cannot forge presence or
// login events. The decode is exhaustive over the known
// discriminants rather than probing fields.
func DecodeClientFrame(data []byte) (SignalFrame, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return SignalFrame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch probe.Type {
	case TypeSDPOffer, TypeSDPAnswer, TypeICECandidate:
		var frame SignalFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return SignalFrame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		if frame.To == "" {
			return SignalFrame{}, fmt.Errorf("%w: signaling frame without recipient", ErrMalformedFrame)
		}
		return frame, nil
	case TypeClientList, TypeConnect, TypeDisconnect, TypeUserLogin, TypeReply:
		return SignalFrame{}, fmt.Errorf("%w: %q is server-originated", ErrUnknownType, probe.Type)
	default:
		return SignalFrame{}, fmt.Errorf("%w: %q", ErrUnknownType, probe.Type)
	}
}
