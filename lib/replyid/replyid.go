// Copyright 2026 The PeerChat Authors
// SPDX-License-Identifier: Apache-2.0

// Package replyid generates the compact identifiers attached to
// relayed chat replies. An identifier packs a millisecond timestamp,
// a channel id, and a per-server counter into 9 big-endian bytes:
//
//	(ms since 2024-01-01T00:00:00Z) << 24 | channel << 12 | counter
//
// encoded as standard base64. Identifiers for a fixed channel and
// counter are strictly increasing in time, and any change to channel
// or counter changes the identifier.
package replyid

import (
	"encoding/base64"
	"errors"
	"time"
)

// Origin is the epoch the millisecond timestamp counts from.
var Origin = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// MaxField is the largest value the 12-bit channel and counter
// fields can hold.
const MaxField = 0xFFF

// idSize is the encoded identifier length in bytes.
const idSize = 9

// ErrFieldRange is returned when channel or counter exceeds 12 bits.
var ErrFieldRange = errors.New("replyid: channel and counter must be between 0 and 4095")

// Generate builds a reply identifier for the given channel and
// counter at time now.
func Generate(channel, counter int, now time.Time) (string, error) {
	if channel < 0 || channel > MaxField || counter < 0 || counter > MaxField {
		return "", ErrFieldRange
	}

	millis := now.Sub(Origin).Milliseconds()
	packed := uint64(millis)<<24 | uint64(channel)<<12 | uint64(counter)

	var raw [idSize]byte
	for i := range raw {
		shift := uint((idSize - 1 - i) * 8)
		raw[i] = byte(packed >> shift)
	}
	return base64.StdEncoding.EncodeToString(raw[:]), nil
}
