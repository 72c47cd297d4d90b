// Copyright 2026 The PeerChat Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

// Compile-time interface check.
var _ SignalHandler = (*PeerManager)(nil)

// dataChannelLabel names the single chat data channel per pair. The
// initiator creates it; the answerer adopts it via OnDataChannel.
const dataChannelLabel = "chat"

// Transport errors.
var (
	// ErrChannelNotOpen reports a send on a pair whose data channel
	// is absent or not yet open.
	ErrChannelNotOpen = errors.New("transport: data channel not open")

	// ErrUnknownPeer reports an answer or candidate for a pair with
	// no stored connection. Callers log and drop; the frame is not
	// retried.
	ErrUnknownPeer = errors.New("transport: no connection for peer")
)

// MessageHandler receives data channel payloads from remote peers.
type MessageHandler func(peerID string, data []byte)

// PeerManager owns one PeerConnection per remote peer, keyed by the
// peer's public key. All signaling state transitions happen under one
// mutex so the glare tie-break is deterministic: two near-simultaneous
// offers for the same pair are serialized, and the rule in HandleOffer
// decides which one survives.
type PeerManager struct {
	localID   string
	sender    SignalSender
	logger    *slog.Logger
	onMessage MessageHandler
	webrtcAPI *webrtc.API
	config    webrtc.Configuration

	mu    sync.Mutex
	peers map[string]*peerLink
}

// peerLink tracks the PeerConnection and chat channel for one pair.
// Protected by PeerManager.mu; channelOpen is atomic because pion's
// OnOpen callback flips it from a transport goroutine.
type peerLink struct {
	connection  *webrtc.PeerConnection
	channel     *webrtc.DataChannel
	channelOpen atomic.Bool
}

// PeerManagerConfig configures a PeerManager.
type PeerManagerConfig struct {
	// LocalID is this endpoint's public key, the identity used for
	// signaling and the glare tie-break. Required.
	LocalID string

	// Sender delivers outbound signaling frames. Required.
	Sender SignalSender

	// Logger is the structured logger. Required.
	Logger *slog.Logger

	// ICE is the STUN/TURN configuration for new PeerConnections.
	ICE ICEConfig

	// OnMessage receives inbound data channel payloads. When nil,
	// payloads are logged and discarded.
	OnMessage MessageHandler
}

// NewPeerManager creates a PeerManager with no connections.
func NewPeerManager(config PeerManagerConfig) *PeerManager {
	if config.LocalID == "" {
		panic("transport.PeerManager: LocalID is required")
	}
	if config.Sender == nil {
		panic("transport.PeerManager: Sender is required")
	}
	if config.Logger == nil {
		panic("transport.PeerManager: Logger is required")
	}

	// Loopback candidates make same-machine pairs connectable, which
	// is the common case for local testing.
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)

	manager := &PeerManager{
		localID:   config.LocalID,
		sender:    config.Sender,
		logger:    config.Logger,
		onMessage: config.OnMessage,
		webrtcAPI: webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine)),
		config:    webrtc.Configuration{ICEServers: config.ICE.Servers},
		peers:     make(map[string]*peerLink),
	}
	if manager.onMessage == nil {
		manager.onMessage = func(peerID string, data []byte) {
			config.Logger.Debug("data channel message discarded",
				"peer", peerID, "bytes", len(data))
		}
	}
	return manager
}

// InitiateConnection starts negotiation with peerID: it creates the
// PeerConnection and chat channel, stores the local offer, and sends
// an sdp-offer frame. A no-op when a connection for the pair already
// exists, whatever its state.
func (pm *PeerManager) InitiateConnection(ctx context.Context, peerID string) error {
	pm.mu.Lock()
	if _, exists := pm.peers[peerID]; exists {
		pm.mu.Unlock()
		pm.logger.Debug("connection already exists", "peer", peerID)
		return nil
	}

	link, err := pm.newPeerLink(peerID)
	if err != nil {
		pm.mu.Unlock()
		return err
	}

	channel, err := link.connection.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		pm.mu.Unlock()
		link.connection.Close()
		return fmt.Errorf("creating data channel for %s: %w", peerID, err)
	}
	pm.wireChannel(peerID, link, channel)

	offer, err := link.connection.CreateOffer(nil)
	if err != nil {
		pm.mu.Unlock()
		link.connection.Close()
		return fmt.Errorf("creating offer for %s: %w", peerID, err)
	}
	if err := link.connection.SetLocalDescription(offer); err != nil {
		pm.mu.Unlock()
		link.connection.Close()
		return fmt.Errorf("setting local offer for %s: %w", peerID, err)
	}
	pm.peers[peerID] = link
	pm.mu.Unlock()

	return pm.sendDescription(ctx, SignalOffer, peerID, offer)
}

// HandleOffer processes an inbound sdp-offer from a peer.
//
// With no existing pair state the offer is answered directly. An
// offer against a stable pair is a duplicate and is ignored. An offer
// while this side holds its own pending offer is glare: the side
// whose identity compares higher accepts the incoming offer and
// discards its own attempt, the other side ignores the offer and
// keeps waiting for an answer. Offers in any other state are logged
// and ignored.
func (pm *PeerManager) HandleOffer(ctx context.Context, from string, payload json.RawMessage) error {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(payload, &offer); err != nil {
		return fmt.Errorf("decoding offer from %s: %w", from, err)
	}

	pm.mu.Lock()
	if existing, ok := pm.peers[from]; ok {
		switch state := existing.connection.SignalingState(); state {
		case webrtc.SignalingStateStable:
			pm.mu.Unlock()
			pm.logger.Warn("duplicate offer for stable pair ignored", "peer", from)
			return nil
		case webrtc.SignalingStateHaveLocalOffer:
			if pm.localID <= from {
				pm.mu.Unlock()
				pm.logger.Warn("offer glare, keeping local offer", "peer", from)
				return nil
			}
			// This side yields: drop the pending attempt and answer
			// the peer's offer on a fresh connection.
			pm.logger.Info("offer glare, accepting remote offer", "peer", from)
			existing.connection.Close()
			delete(pm.peers, from)
		default:
			pm.mu.Unlock()
			pm.logger.Warn("offer ignored in current signaling state",
				"peer", from, "state", state.String())
			return nil
		}
	}

	link, err := pm.newPeerLink(from)
	if err != nil {
		pm.mu.Unlock()
		return err
	}
	if err := link.connection.SetRemoteDescription(offer); err != nil {
		pm.mu.Unlock()
		link.connection.Close()
		return fmt.Errorf("setting remote offer from %s: %w", from, err)
	}
	answer, err := link.connection.CreateAnswer(nil)
	if err != nil {
		pm.mu.Unlock()
		link.connection.Close()
		return fmt.Errorf("creating answer for %s: %w", from, err)
	}
	if err := link.connection.SetLocalDescription(answer); err != nil {
		pm.mu.Unlock()
		link.connection.Close()
		return fmt.Errorf("setting local answer for %s: %w", from, err)
	}
	pm.peers[from] = link
	pm.mu.Unlock()

	return pm.sendDescription(ctx, SignalAnswer, from, answer)
}

// HandleAnswer applies an inbound sdp-answer. An answer for a pair
// with no stored connection is unmatched: ErrUnknownPeer is returned
// and the frame is dropped.
func (pm *PeerManager) HandleAnswer(_ context.Context, from string, payload json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(payload, &answer); err != nil {
		return fmt.Errorf("decoding answer from %s: %w", from, err)
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	link, ok := pm.peers[from]
	if !ok {
		return fmt.Errorf("%w: unmatched answer from %s", ErrUnknownPeer, from)
	}
	if err := link.connection.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("setting remote answer from %s: %w", from, err)
	}
	return nil
}

// HandleCandidate applies an inbound ICE candidate to the pair's
// connection, or drops it with ErrUnknownPeer when none exists.
func (pm *PeerManager) HandleCandidate(_ context.Context, from string, payload json.RawMessage) error {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(payload, &candidate); err != nil {
		return fmt.Errorf("decoding candidate from %s: %w", from, err)
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	link, ok := pm.peers[from]
	if !ok {
		return fmt.Errorf("%w: unmatched candidate from %s", ErrUnknownPeer, from)
	}
	if err := link.connection.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("adding candidate from %s: %w", from, err)
	}
	return nil
}

// SendData transmits payload on the pair's chat channel. Strings and
// byte slices pass through unchanged; anything else is JSON-encoded.
// Fails with ErrChannelNotOpen when the channel is absent or not yet
// open.
func (pm *PeerManager) SendData(peerID string, payload any) error {
	pm.mu.Lock()
	link, ok := pm.peers[peerID]
	var channel *webrtc.DataChannel
	if ok {
		channel = link.channel
	}
	pm.mu.Unlock()

	if channel == nil || !link.channelOpen.Load() {
		return fmt.Errorf("%w: %s", ErrChannelNotOpen, peerID)
	}

	switch value := payload.(type) {
	case string:
		return channel.SendText(value)
	case []byte:
		return channel.Send(value)
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encoding payload for %s: %w", peerID, err)
		}
		return channel.SendText(string(data))
	}
}

// CloseConnection tears down the pair's connection and discards its
// state. Idempotent: closing an absent pair is a no-op.
func (pm *PeerManager) CloseConnection(peerID string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	link, ok := pm.peers[peerID]
	if !ok {
		return
	}
	link.connection.Close()
	delete(pm.peers, peerID)
	pm.logger.Info("peer connection closed", "peer", peerID)
}

// CloseAllConnections tears down every pair.
func (pm *PeerManager) CloseAllConnections() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	for peerID, link := range pm.peers {
		link.connection.Close()
		delete(pm.peers, peerID)
	}
}

// HasConnection reports whether any connection state exists for the
// pair, open or still negotiating.
func (pm *PeerManager) HasConnection(peerID string) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	_, ok := pm.peers[peerID]
	return ok
}

// DataChannelOpen reports whether the pair's chat channel is open.
func (pm *PeerManager) DataChannelOpen(peerID string) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	link, ok := pm.peers[peerID]
	return ok && link.channelOpen.Load()
}

// SignalingState returns the pair's current signaling state.
func (pm *PeerManager) SignalingState(peerID string) (webrtc.SignalingState, bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	link, ok := pm.peers[peerID]
	if !ok {
		return webrtc.SignalingStateClosed, false
	}
	return link.connection.SignalingState(), true
}

// newPeerLink creates the PeerConnection for one pair and wires its
// candidate and inbound channel callbacks. Caller holds pm.mu.
func (pm *PeerManager) newPeerLink(peerID string) (*peerLink, error) {
	connection, err := pm.webrtcAPI.NewPeerConnection(pm.config)
	if err != nil {
		return nil, fmt.Errorf("creating peer connection for %s: %w", peerID, err)
	}
	link := &peerLink{connection: connection}

	// Trickle ICE: forward each candidate as pion discovers it. A nil
	// candidate marks the end of gathering.
	connection.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		payload, err := json.Marshal(candidate.ToJSON())
		if err != nil {
			pm.logger.Error("encoding ICE candidate", "peer", peerID, "error", err)
			return
		}
		if err := pm.sender.SendSignal(context.Background(), SignalCandidate, peerID, payload); err != nil {
			pm.logger.Warn("sending ICE candidate failed", "peer", peerID, "error", err)
		}
	})

	connection.OnDataChannel(func(channel *webrtc.DataChannel) {
		pm.mu.Lock()
		pm.wireChannel(peerID, link, channel)
		pm.mu.Unlock()
	})

	return link, nil
}

// wireChannel attaches a chat channel to its link. Caller holds pm.mu.
func (pm *PeerManager) wireChannel(peerID string, link *peerLink, channel *webrtc.DataChannel) {
	link.channel = channel
	channel.OnOpen(func() {
		link.channelOpen.Store(true)
		pm.logger.Info("data channel open", "peer", peerID, "label", channel.Label())
	})
	channel.OnClose(func() {
		link.channelOpen.Store(false)
		pm.logger.Info("data channel closed", "peer", peerID)
	})
	channel.OnMessage(func(message webrtc.DataChannelMessage) {
		pm.onMessage(peerID, message.Data)
	})
}

// sendDescription marshals a session description and forwards it as a
// signaling frame.
func (pm *PeerManager) sendDescription(ctx context.Context, kind, to string, description webrtc.SessionDescription) error {
	payload, err := json.Marshal(description)
	if err != nil {
		return fmt.Errorf("encoding %s for %s: %w", kind, to, err)
	}
	if err := pm.sender.SendSignal(ctx, kind, to, payload); err != nil {
		return fmt.Errorf("sending %s to %s: %w", kind, to, err)
	}
	return nil
}
