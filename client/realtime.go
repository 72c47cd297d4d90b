// Copyright 2026 The PeerChat Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/peerchat-foundation/peerchat/lib/signature"
	"github.com/peerchat-foundation/peerchat/relay"
	"github.com/peerchat-foundation/peerchat/transport"
)

// RealtimeConfig holds configuration for dialing a realtime session.
type RealtimeConfig struct {
	// ServerURL is the base HTTP URL of the relay server. The websocket
	// scheme is derived from it.
	ServerURL string
	// SessionToken authenticates the websocket handshake.
	SessionToken string
	// Name is the friendly name announced to other peers.
	Name string
	// ServerPublicKey, when set, is used to verify signed broadcast
	// envelopes. Envelopes failing verification are dropped.
	ServerPublicKey ed25519.PublicKey
	// Signals, when set, receives forwarded WebRTC negotiation frames.
	// Usually a *transport.PeerManager.
	Signals transport.SignalHandler
	// OnClientList is called with the peer roster sent at admit time.
	OnClientList func([]relay.ClientMetadata)
	// OnPresence is called for connect and disconnect announcements.
	OnPresence func(relay.PresenceFrame)
	// OnUserLogin is called when any peer completes a login.
	OnUserLogin func(relay.UserLoginFrame)
	// OnReply is called for verified broadcast chat messages.
	OnReply func(relay.ReplyFrame)
	// Dialer is used for the websocket handshake. If nil,
	// websocket.DefaultDialer is used.
	Dialer *websocket.Dialer
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Realtime is a live websocket session with the relay. It dispatches
// inbound frames to the configured callbacks and implements
// [transport.SignalSender] so a peer manager can negotiate through it.
//
// Callbacks run on the session's read goroutine; slow callbacks stall
// frame dispatch, not the server.
type Realtime struct {
	conn         *websocket.Conn
	serverPublic ed25519.PublicKey
	signals      transport.SignalHandler
	onClientList func([]relay.ClientMetadata)
	onPresence   func(relay.PresenceFrame)
	onUserLogin  func(relay.UserLoginFrame)
	onReply      func(relay.ReplyFrame)
	logger       *slog.Logger

	// writeMu serializes writes; gorilla/websocket allows one
	// concurrent writer.
	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// Dial opens the websocket session. The returned Realtime is not
// reading yet; call Run to start dispatching frames.
func Dial(ctx context.Context, config RealtimeConfig) (*Realtime, error) {
	if config.ServerURL == "" {
		return nil, fmt.Errorf("client: ServerURL is required")
	}
	if config.SessionToken == "" {
		return nil, fmt.Errorf("client: SessionToken is required")
	}

	endpoint, err := websocketURL(config.ServerURL, config.Name)
	if err != nil {
		return nil, err
	}

	dialer := config.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+config.SessionToken)

	conn, response, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if response != nil {
			return nil, fmt.Errorf("client: websocket handshake failed (%s): %w", response.Status, err)
		}
		return nil, fmt.Errorf("client: websocket handshake failed: %w", err)
	}

	return &Realtime{
		conn:         conn,
		serverPublic: config.ServerPublicKey,
		signals:      config.Signals,
		onClientList: config.OnClientList,
		onPresence:   config.OnPresence,
		onUserLogin:  config.OnUserLogin,
		onReply:      config.OnReply,
		logger:       logger,
		done:         make(chan struct{}),
	}, nil
}

func websocketURL(serverURL, name string) (string, error) {
	parsed, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("client: invalid ServerURL %q: %w", serverURL, err)
	}
	switch parsed.Scheme {
	case "http", "ws":
		parsed.Scheme = "ws"
	case "https", "wss":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("client: unsupported ServerURL scheme %q", parsed.Scheme)
	}
	parsed.Path = "/ws"

	descriptor, err := json.Marshal(relay.MetadataDescriptor{Name: name})
	if err != nil {
		return "", fmt.Errorf("client: failed to encode metadata descriptor: %w", err)
	}
	query := url.Values{}
	query.Set("clientMetadata", string(descriptor))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// Run reads and dispatches frames until the connection closes or ctx
// is cancelled. Returns nil on a clean shutdown (Close, cancellation,
// or a normal close frame from the server).
func (rt *Realtime) Run(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			rt.Close()
		case <-rt.done:
		}
	}()

	for {
		_, data, err := rt.conn.ReadMessage()
		if err != nil {
			select {
			case <-rt.done:
				return nil
			default:
			}
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				rt.Close()
				return nil
			}
			rt.Close()
			return fmt.Errorf("client: realtime read failed: %w", err)
		}
		rt.dispatch(ctx, data)
	}
}

func (rt *Realtime) dispatch(ctx context.Context, data []byte) {
	var probe struct {
		Type      string `json:"type"`
		Signature string `json:"signature"`
		Error     string `json:"error"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		rt.logger.Warn("dropping undecodable frame", "error", err)
		return
	}

	if probe.Signature != "" {
		rt.dispatchSigned(data)
		return
	}

	switch probe.Type {
	case relay.TypeClientList:
		var frame relay.ClientListFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			rt.logger.Warn("dropping malformed client list", "error", err)
			return
		}
		if rt.onClientList != nil {
			rt.onClientList(frame.ClientList)
		}
	case relay.TypeConnect, relay.TypeDisconnect:
		var frame relay.PresenceFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			rt.logger.Warn("dropping malformed presence frame", "error", err)
			return
		}
		if rt.onPresence != nil {
			rt.onPresence(frame)
		}
	case relay.TypeUserLogin:
		var frame relay.UserLoginFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			rt.logger.Warn("dropping malformed login frame", "error", err)
			return
		}
		if rt.onUserLogin != nil {
			rt.onUserLogin(frame)
		}
	case relay.TypeSDPOffer, relay.TypeSDPAnswer, relay.TypeICECandidate:
		rt.dispatchSignal(ctx, data, probe.Type)
	case "":
		if probe.Error != "" {
			rt.logger.Warn("server rejected a frame", "error", probe.Error)
			return
		}
		rt.logger.Warn("dropping frame without type")
	default:
		rt.logger.Warn("dropping frame with unknown type", "type", probe.Type)
	}
}

// dispatchSigned handles a broadcast envelope. With no server public
// key configured the inner message is dispatched unverified.
func (rt *Realtime) dispatchSigned(data []byte) {
	var envelope signature.Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		rt.logger.Warn("dropping malformed signed envelope", "error", err)
		return
	}
	if rt.serverPublic != nil {
		if !envelope.Verify(rt.serverPublic) {
			rt.logger.Warn("dropping envelope with bad signature")
			return
		}
	}

	var inner struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(envelope.Message, &inner); err != nil {
		rt.logger.Warn("dropping envelope with undecodable message", "error", err)
		return
	}
	switch inner.Type {
	case relay.TypeReply:
		var reply relay.ReplyFrame
		if err := json.Unmarshal(envelope.Message, &reply); err != nil {
			rt.logger.Warn("dropping malformed reply", "error", err)
			return
		}
		if rt.onReply != nil {
			rt.onReply(reply)
		}
	default:
		rt.logger.Warn("dropping signed message with unknown type", "type", inner.Type)
	}
}

func (rt *Realtime) dispatchSignal(ctx context.Context, data []byte, kind string) {
	if rt.signals == nil {
		return
	}
	var frame relay.SignalFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		rt.logger.Warn("dropping malformed signaling frame", "error", err)
		return
	}

	var err error
	switch kind {
	case relay.TypeSDPOffer:
		err = rt.signals.HandleOffer(ctx, frame.From, frame.Payload)
	case relay.TypeSDPAnswer:
		err = rt.signals.HandleAnswer(ctx, frame.From, frame.Payload)
	case relay.TypeICECandidate:
		err = rt.signals.HandleCandidate(ctx, frame.From, frame.Payload)
	}
	if err != nil {
		rt.logger.Warn("signal handler failed", "kind", kind, "from", frame.From, "error", err)
	}
}

// SendSignal forwards a WebRTC negotiation payload to the named peer
// through the relay. Implements [transport.SignalSender]. The relay
// stamps the sender identity; From is left empty here.
func (rt *Realtime) SendSignal(ctx context.Context, kind, to string, payload json.RawMessage) error {
	select {
	case <-rt.done:
		return fmt.Errorf("client: realtime session closed")
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	frame := relay.SignalFrame{Type: kind, To: to, Payload: payload}
	rt.writeMu.Lock()
	defer rt.writeMu.Unlock()
	if err := rt.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("client: failed to send %s to %s: %w", kind, to, err)
	}
	return nil
}

// Close tears down the websocket session. Safe to call more than once
// and concurrently with Run.
func (rt *Realtime) Close() error {
	rt.closeOnce.Do(func() {
		close(rt.done)
		rt.writeMu.Lock()
		// Best effort; the server also handles abrupt drops.
		_ = rt.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		rt.writeMu.Unlock()
		_ = rt.conn.Close()
	})
	return nil
}
