// Copyright 2026 The PeerChat Authors
// SPDX-License-Identifier: Apache-2.0

package signature

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
)

// Envelope pairs a relayed message with the relay's detached
// signature over the message's JSON encoding. Clients that cache or
// forward relayed traffic can later prove it originated from the
// relay without trusting the transport it arrived on.
type Envelope struct {
	Message   json.RawMessage `json:"message"`
	Signature string          `json:"signature"`
}

// SignEnvelope encodes message as JSON and signs the exact encoded
// bytes with the relay's private key.
func SignEnvelope(private ed25519.PrivateKey, message any) (*Envelope, error) {
	encoded, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope message: %w", err)
	}
	return &Envelope{
		Message:   encoded,
		Signature: EncodeKey(Sign(private, encoded)),
	}, nil
}

// Verify reports whether the envelope's signature is valid for its
// message bytes under public. Malformed base64 is an invalid
// signature, not an error.
func (e *Envelope) Verify(public ed25519.PublicKey) bool {
	sig, err := DecodeKey(e.Signature)
	if err != nil {
		return false
	}
	return Verify(public, e.Message, sig)
}
