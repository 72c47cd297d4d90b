// Copyright 2026 The PeerChat Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability. Production code
// injects [Real]; tests inject [Fake] and advance time explicitly,
// which makes expiry behavior (login nonces, session tokens)
// deterministic instead of sleep-based.
package clock
