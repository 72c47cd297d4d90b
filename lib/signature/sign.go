// Copyright 2026 The PeerChat Authors
// SPDX-License-Identifier: Apache-2.0

package signature

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
)

// Key and signature sizes, fixed by Ed25519.
const (
	PublicKeySize  = ed25519.PublicKeySize  // 32 bytes
	PrivateKeySize = ed25519.PrivateKeySize // 64 bytes
	SignatureSize  = ed25519.SignatureSize  // 64 bytes
)

// CheckPublicKey validates that key is exactly PublicKeySize bytes.
func CheckPublicKey(key []byte) error {
	if len(key) != PublicKeySize {
		return fmt.Errorf("public key has %d bytes, want %d", len(key), PublicKeySize)
	}
	return nil
}

// Sign produces a detached 64-byte Ed25519 signature over message.
func Sign(private ed25519.PrivateKey, message []byte) []byte {
	return ed25519.Sign(private, message)
}

// Verify reports whether sig is a valid detached signature of message
// by the holder of public. Unlike ed25519.Verify it tolerates keys
// and signatures of the wrong length, returning false instead of
// panicking — wire input reaches this function unvalidated.
func Verify(public, message, sig []byte) bool {
	if len(public) != PublicKeySize || len(sig) != SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(public), message, sig)
}

// DecodeKey decodes a standard-base64 key or signature.
func DecodeKey(encoded string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding base64: %w", err)
	}
	return decoded, nil
}

// EncodeKey encodes a key or signature as standard base64.
func EncodeKey(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}
