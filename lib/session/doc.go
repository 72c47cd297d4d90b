// Copyright 2026 The PeerChat Authors
// SPDX-License-Identifier: Apache-2.0

// Package session implements passwordless login: a public key is
// challenged with a single-use random nonce, the caller proves key
// possession by signing the nonce, and a compact EdDSA-signed session
// token is minted in return.
//
// The challenge state machine per public key is
//
//	NoChallenge -> Challenged -> (Confirmed | Expired | Failed)
//
// with at most one outstanding nonce per key (a new BeginLogin
// overwrites the previous one) and exactly-once consumption on a
// matching ConfirmLogin. Tokens are stateless and self-verifying:
// three base64url segments header.payload.signature with a JSON
// payload {sub, iat, exp}, valid for one hour.
package session
