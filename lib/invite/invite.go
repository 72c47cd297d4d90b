// Copyright 2026 The PeerChat Authors
// SPDX-License-Identifier: Apache-2.0

// Package invite issues and redeems signed capability tokens. An
// invite is stateless: `base64(privileges|unixSeconds) "." base64(sig)`
// where sig is the relay's Ed25519 signature over the payload bytes.
// Validity is proven solely by the signature — there is no lookup
// table, and redemption does not consume the token. Replay is allowed
// at this layer; see DESIGN.md for the rationale.
package invite

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/peerchat-foundation/peerchat/lib/clock"
	"github.com/peerchat-foundation/peerchat/lib/signature"
)

// payloadSeparator joins privileges and issuance timestamp inside the
// signed payload. tokenSeparator joins payload and signature on the
// wire.
const (
	payloadSeparator = "|"
	tokenSeparator   = "."
)

// Errors returned by Issue and Redeem.
var (
	ErrInvalidPrivileges = errors.New("invite: privileges must be non-empty")
	ErrMalformedToken    = errors.New("invite: malformed token")
	ErrInvalidSignature  = errors.New("invite: invalid signature")
)

// Capability is the decoded content of a redeemed invite. Holding a
// Capability proves the token was signed by the relay; it does not by
// itself grant session access.
type Capability struct {
	Privileges string
	IssuedAt   int64 // unix seconds
}

// Issuer mints invite tokens with the relay's private key.
type Issuer struct {
	private ed25519.PrivateKey
	clock   clock.Clock
}

// NewIssuer creates an Issuer. clk may be nil, in which case the real
// clock is used.
func NewIssuer(private ed25519.PrivateKey, clk clock.Clock) *Issuer {
	if clk == nil {
		clk = clock.Real()
	}
	return &Issuer{private: private, clock: clk}
}

// Issue produces a signed invite binding privileges to the issuance
// time. Fails with ErrInvalidPrivileges when privileges is empty.
func (i *Issuer) Issue(privileges string) (string, error) {
	if privileges == "" {
		return "", ErrInvalidPrivileges
	}

	payload := []byte(privileges + payloadSeparator + strconv.FormatInt(i.clock.Now().Unix(), 10))
	sig := signature.Sign(i.private, payload)

	return base64.StdEncoding.EncodeToString(payload) +
		tokenSeparator +
		base64.StdEncoding.EncodeToString(sig), nil
}

// Redeem verifies an invite token against the relay's public key and
// returns its decoded capability. Fails with ErrMalformedToken when
// the token is not two non-empty base64 parts joined by a single dot,
// and ErrInvalidSignature when the signature does not verify.
func Redeem(public ed25519.PublicKey, token string) (*Capability, error) {
	parts := strings.Split(token, tokenSeparator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, ErrMalformedToken
	}

	payload, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not base64", ErrMalformedToken)
	}
	sig, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: signature is not base64", ErrMalformedToken)
	}

	if !signature.Verify(public, payload, sig) {
		return nil, ErrInvalidSignature
	}

	// Privileges may themselves contain the separator; the timestamp
	// is everything after the last one.
	text := string(payload)
	split := strings.LastIndex(text, payloadSeparator)
	if split < 0 {
		return nil, ErrMalformedToken
	}
	issuedAt, err := strconv.ParseInt(text[split+1:], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp", ErrMalformedToken)
	}

	return &Capability{
		Privileges: text[:split],
		IssuedAt:   issuedAt,
	}, nil
}
