// Copyright 2026 The PeerChat Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"crypto/ed25519"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/peerchat-foundation/peerchat/lib/signature"
)

// Registry is the authoritative set of currently-connected,
// authenticated peers. All mutation happens under one mutex; fan-out
// iterates a snapshot taken under the lock so concurrent admits and
// removals cannot corrupt a delivery in progress.
//
// A public key may be registered by more than one live connection.
// Directed delivery then reaches every open match — a known ambiguity
// kept from the reference behavior (see DESIGN.md).
type Registry struct {
	logger  *slog.Logger
	private ed25519.PrivateKey
	metrics *Metrics

	mu      sync.Mutex
	clients map[*Client]struct{}
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Logger is the structured logger. Required.
	Logger *slog.Logger

	// PrivateKey signs broadcast envelopes. Required.
	PrivateKey ed25519.PrivateKey

	// Metrics may be nil to disable instrumentation.
	Metrics *Metrics
}

// NewRegistry creates an empty Registry.
func NewRegistry(config RegistryConfig) *Registry {
	if config.Logger == nil {
		panic("relay.Registry: Logger is required")
	}
	if len(config.PrivateKey) != signature.PrivateKeySize {
		panic("relay.Registry: PrivateKey is required")
	}
	return &Registry{
		logger:  config.Logger,
		private: config.PrivateKey,
		metrics: config.Metrics,
		clients: make(map[*Client]struct{}),
	}
}

// Admit registers a connection, sends it the client list (every
// other open connection), and announces it to everyone else with a
// connect event.
func (r *Registry) Admit(client *Client) {
	r.mu.Lock()
	r.clients[client] = struct{}{}
	list := make([]ClientMetadata, 0, len(r.clients)-1)
	for other := range r.clients {
		if other != client && other.Open() {
			list = append(list, other.Metadata)
		}
	}
	r.mu.Unlock()

	r.metrics.connectionAdmitted()
	r.logger.Info("client admitted",
		"connection_id", client.ID,
		"public_key", client.Metadata.PublicKey,
		"name", client.Metadata.Name,
	)

	r.deliver(client, ClientListFrame{Type: TypeClientList, ClientList: list})
	r.broadcastExcept(client, PresenceFrame{Type: TypeConnect, Metadata: client.Metadata})
}

// Remove deregisters a connection and announces its departure.
// Removing an absent connection is a no-op, so teardown paths can
// call it unconditionally.
func (r *Registry) Remove(client *Client) {
	r.mu.Lock()
	_, present := r.clients[client]
	delete(r.clients, client)
	r.mu.Unlock()

	if !present {
		return
	}
	client.Close()

	r.metrics.connectionRemoved()
	r.logger.Info("client removed",
		"connection_id", client.ID,
		"public_key", client.Metadata.PublicKey,
	)
	r.Broadcast(PresenceFrame{Type: TypeDisconnect, Metadata: client.Metadata})
}

// Broadcast delivers frame to every connection open at call time.
// Closed connections are skipped, never queued or retried.
func (r *Registry) Broadcast(frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		r.logger.Error("encoding broadcast frame", "error", err)
		return
	}
	r.metrics.recordBroadcast()
	for _, client := range r.snapshot() {
		r.deliverRaw(client, data)
	}
}

// BroadcastSigned wraps frame in a relay-signed envelope before
// fan-out. Application messages (chat replies) take this path so
// recipients can prove relay origin; presence events do not.
func (r *Registry) BroadcastSigned(frame any) {
	envelope, err := signature.SignEnvelope(r.private, frame)
	if err != nil {
		r.logger.Error("signing broadcast envelope", "error", err)
		return
	}
	r.Broadcast(envelope)
}

// SendToPeer delivers frame to every open connection registered
// under publicKey. Best-effort: when no match exists the frame is
// dropped without surfacing an error to the sender.
func (r *Registry) SendToPeer(publicKey string, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		r.logger.Error("encoding directed frame", "error", err)
		return
	}

	delivered := false
	for _, client := range r.snapshot() {
		if client.Metadata.PublicKey != publicKey {
			continue
		}
		if r.deliverRaw(client, data) {
			delivered = true
		}
	}
	if !delivered {
		r.metrics.recordDirectedDrop()
		r.logger.Debug("directed frame dropped, no open connection", "to", publicKey)
	}
}

// UserLoggedIn implements session.LoginAnnouncer: a successful
// confirm-login is announced to every connected client.
func (r *Registry) UserLoggedIn(publicKey string, at time.Time) {
	frame := UserLoginFrame{
		Type:      TypeUserLogin,
		PublicKey: publicKey,
		Privilege: "standard",
		Timestamp: at.UnixMilli(),
	}
	// A peer logging in again while connected keeps its display name.
	for _, client := range r.snapshot() {
		if client.Metadata.PublicKey == publicKey {
			frame.FriendlyName = client.Metadata.Name
			break
		}
	}
	r.Broadcast(frame)
}

// ClientList returns the metadata of every open connection.
func (r *Registry) ClientList() []ClientMetadata {
	clients := r.snapshot()
	list := make([]ClientMetadata, 0, len(clients))
	for _, client := range clients {
		list = append(list, client.Metadata)
	}
	return list
}

// broadcastExcept fans frame out to every open connection other than
// skip.
func (r *Registry) broadcastExcept(skip *Client, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		r.logger.Error("encoding broadcast frame", "error", err)
		return
	}
	r.metrics.recordBroadcast()
	for _, client := range r.snapshot() {
		if client != skip {
			r.deliverRaw(client, data)
		}
	}
}

// snapshot copies the open connections out from under the lock.
func (r *Registry) snapshot() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	clients := make([]*Client, 0, len(r.clients))
	for client := range r.clients {
		if client.Open() {
			clients = append(clients, client)
		}
	}
	return clients
}

func (r *Registry) deliver(client *Client, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		r.logger.Error("encoding frame", "error", err)
		return
	}
	r.deliverRaw(client, data)
}

func (r *Registry) deliverRaw(client *Client, data []byte) bool {
	if client.trySend(data) {
		return true
	}
	r.metrics.recordQueueDrop()
	return false
}
