// Copyright 2026 The PeerChat Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"github.com/pion/webrtc/v4"

	"github.com/peerchat-foundation/peerchat/lib/config"
)

// ICEConfig holds ICE server configuration for PeerConnections.
type ICEConfig struct {
	// Servers is the list of ICE servers (STUN + TURN) to use during
	// candidate gathering. Order matters: pion tries them in sequence.
	Servers []webrtc.ICEServer
}

// ICEConfigFromSettings converts configured ICE server entries into
// pion form. An empty list yields host-only candidates, which is
// sufficient for same-machine and same-LAN use.
func ICEConfigFromSettings(servers []config.ICEServer) ICEConfig {
	if len(servers) == 0 {
		return ICEConfig{}
	}
	converted := make([]webrtc.ICEServer, 0, len(servers))
	for _, server := range servers {
		entry := webrtc.ICEServer{URLs: server.URLs}
		if server.Username != "" {
			entry.Username = server.Username
			entry.Credential = server.Credential
		}
		converted = append(converted, entry)
	}
	return ICEConfig{Servers: converted}
}
