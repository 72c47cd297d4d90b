// Copyright 2026 The PeerChat Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/peerchat-foundation/peerchat/lib/clock"
	"github.com/peerchat-foundation/peerchat/lib/session"
)

// Application close codes for incomplete handshakes. The code, not an
// in-band error frame, tells the client what went wrong — the
// connection never reaches the admitted state.
const (
	CloseMissingAuth   = 4001
	CloseMalformedAuth = 4002
	CloseInvalidToken  = 4003
	CloseMalformedMeta = 4004
	CloseMissingMeta   = 4005
)

// handshakeTimeout bounds the initial websocket upgrade. An attempt
// that has not completed within it is abandoned.
const handshakeTimeout = 10 * time.Second

// TokenVerifier validates a session token, returning nil for any
// unverifiable token. *session.Authenticator satisfies this.
type TokenVerifier interface {
	Verify(token string) *session.Payload
}

// Handler upgrades HTTP requests to realtime connections and runs
// each connection's read loop until disconnect.
type Handler struct {
	registry *Registry
	verifier TokenVerifier
	logger   *slog.Logger
	clock    clock.Clock
	metrics  *Metrics
	upgrader websocket.Upgrader
}

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	// Registry receives admitted connections. Required.
	Registry *Registry

	// Verifier validates session tokens. Required.
	Verifier TokenVerifier

	// Logger is the structured logger. Required.
	Logger *slog.Logger

	// Clock defaults to the real clock.
	Clock clock.Clock

	// Metrics may be nil.
	Metrics *Metrics
}

// NewHandler creates a websocket Handler.
func NewHandler(config HandlerConfig) *Handler {
	if config.Registry == nil {
		panic("relay.Handler: Registry is required")
	}
	if config.Verifier == nil {
		panic("relay.Handler: Verifier is required")
	}
	if config.Logger == nil {
		panic("relay.Handler: Logger is required")
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Handler{
		registry: config.Registry,
		verifier: config.Verifier,
		logger:   config.Logger,
		clock:    clk,
		metrics:  config.Metrics,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: handshakeTimeout,
			// Peers connect from local applications, not browsers on
			// this origin; token possession is the admission check.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and runs the connection. The
// goroutine serving the HTTP request becomes the read pump.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error response.
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	metadata, closeCode, closeText := h.admitChecks(r)
	if closeCode != 0 {
		h.metrics.recordHandshakeReject(closeCodeLabel(closeCode))
		h.closeWithCode(conn, closeCode, closeText)
		return
	}

	client := NewClient(conn, metadata, h.logger)
	go client.Run()
	h.registry.Admit(client)

	h.readLoop(conn, client)

	// Teardown is synchronous with the read loop ending: the
	// connection leaves the registry before this handler returns.
	h.registry.Remove(client)
}

// admitChecks validates the auth header and metadata descriptor.
// Returns the assembled metadata, or a non-zero close code.
func (h *Handler) admitChecks(r *http.Request) (ClientMetadata, int, string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ClientMetadata{}, CloseMissingAuth, "no authorization header provided"
	}

	scheme, token, found := strings.Cut(authHeader, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return ClientMetadata{}, CloseMalformedAuth, "invalid authorization header format"
	}

	payload := h.verifier.Verify(token)
	if payload == nil {
		return ClientMetadata{}, CloseInvalidToken, "invalid or expired session token"
	}

	descriptorJSON := r.URL.Query().Get("clientMetadata")
	if descriptorJSON == "" {
		return ClientMetadata{}, CloseMissingMeta, "missing clientMetadata query parameter"
	}
	var descriptor MetadataDescriptor
	if err := json.Unmarshal([]byte(descriptorJSON), &descriptor); err != nil {
		return ClientMetadata{}, CloseMalformedMeta, "invalid clientMetadata query parameter format"
	}

	return ClientMetadata{
		Name:      descriptor.Name,
		PublicKey: payload.Sub,
		Privilege: "user",
		Timestamp: h.clock.Now().UnixMilli(),
	}, 0, ""
}

// readLoop dispatches inbound frames until the connection errors or
// closes.
func (h *Handler) readLoop(conn *websocket.Conn, client *Client) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				client.logger.Debug("websocket read ended", "error", err)
			}
			return
		}

		frame, err := DecodeClientFrame(data)
		if err != nil {
			if errors.Is(err, ErrUnknownType) {
				h.sendError(client, "Unknown message type")
			} else {
				h.sendError(client, "Malformed message")
			}
			continue
		}

		// The relay stamps the sender identity rather than trusting
		// the frame: a client cannot signal on another peer's behalf.
		frame.From = client.Metadata.PublicKey
		h.registry.SendToPeer(frame.To, frame)
		h.metrics.recordSignalRelayed(frame.Type)
	}
}

func (h *Handler) sendError(client *Client, message string) {
	data, err := json.Marshal(ErrorFrame{Error: message})
	if err != nil {
		return
	}
	client.trySend(data)
}

// closeWithCode sends an application close frame and drops the
// connection without admitting it.
func (h *Handler) closeWithCode(conn *websocket.Conn, code int, text string) {
	deadline := time.Now().Add(writeTimeout)
	message := websocket.FormatCloseMessage(code, text)
	if err := conn.WriteControl(websocket.CloseMessage, message, deadline); err != nil {
		h.logger.Debug("writing close frame", "error", err)
	}
	conn.Close()
	h.logger.Info("handshake rejected", "code", code, "reason", text)
}

func closeCodeLabel(code int) string {
	switch code {
	case CloseMissingAuth:
		return "missing_auth"
	case CloseMalformedAuth:
		return "malformed_auth"
	case CloseInvalidToken:
		return "invalid_token"
	case CloseMalformedMeta:
		return "malformed_metadata"
	case CloseMissingMeta:
		return "missing_metadata"
	default:
		return "other"
	}
}
