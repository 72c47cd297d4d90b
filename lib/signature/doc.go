// Copyright 2026 The PeerChat Authors
// SPDX-License-Identifier: Apache-2.0

// Package signature wraps the Ed25519 primitives every other layer
// builds on: detached sign/verify with strict length checks, keypair
// generation and state-directory persistence, and the signed envelope
// the relay wraps around broadcast messages.
//
// Verify never panics on malformed input — a key or signature of the
// wrong length is simply an invalid signature. Callers that need to
// distinguish malformed input from a failed verification check the
// lengths themselves with [CheckPublicKey].
package signature
