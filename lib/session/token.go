// Copyright 2026 The PeerChat Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/peerchat-foundation/peerchat/lib/signature"
)

// TokenLifetime is how long a minted session token stays valid.
const TokenLifetime = time.Hour

// tokenHeader is the fixed first segment of every session token.
type tokenHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// Payload is the claims segment of a session token. Sub is the
// holder's base64-encoded public key.
type Payload struct {
	Sub string `json:"sub"`
	Iat int64  `json:"iat"`
	Exp int64  `json:"exp"`
}

// segmentEncoding is base64url without padding, the encoding of all
// three token segments.
var segmentEncoding = base64.RawURLEncoding

// Mint signs a session token for the given payload with the relay's
// private key.
func Mint(private ed25519.PrivateKey, payload Payload) string {
	headerJSON, _ := json.Marshal(tokenHeader{Alg: "EdDSA", Typ: "JWT"})
	payloadJSON, _ := json.Marshal(payload)

	message := segmentEncoding.EncodeToString(headerJSON) +
		"." +
		segmentEncoding.EncodeToString(payloadJSON)
	sig := signature.Sign(private, []byte(message))

	return message + "." + segmentEncoding.EncodeToString(sig)
}

// VerifyToken checks a session token against the relay's public key
// and the current time. See VerifyTokenAt.
func VerifyToken(public ed25519.PublicKey, token string) *Payload {
	return VerifyTokenAt(public, token, time.Now())
}

// VerifyTokenAt validates a session token at an explicit time and
// returns its payload, or nil for any unverifiable token: wrong
// segment count, undecodable segments, a signature of the wrong
// length, a failed signature check, unparsable claims, or an expiry
// at or before now. Malformed input is never an error distinct from
// an invalid token — the caller cannot act on the difference.
func VerifyTokenAt(public ed25519.PublicKey, token string, now time.Time) *Payload {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil
	}

	sig, err := segmentEncoding.DecodeString(parts[2])
	if err != nil || len(sig) != signature.SignatureSize {
		return nil
	}

	message := parts[0] + "." + parts[1]
	if !signature.Verify(public, []byte(message), sig) {
		return nil
	}

	payloadJSON, err := segmentEncoding.DecodeString(parts[1])
	if err != nil {
		return nil
	}
	var payload Payload
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return nil
	}

	if payload.Exp <= now.Unix() {
		return nil
	}
	return &payload
}
