// Copyright 2026 The PeerChat Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"crypto/ed25519"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/peerchat-foundation/peerchat/lib/clock"
	"github.com/peerchat-foundation/peerchat/lib/invite"
	"github.com/peerchat-foundation/peerchat/lib/session"
	"github.com/peerchat-foundation/peerchat/lib/signature"
	"github.com/peerchat-foundation/peerchat/relay"
)

// API wires the HTTP endpoints to the invite, session, and relay
// services.
type API struct {
	ownerToken   string
	issuer       *invite.Issuer
	serverPublic ed25519.PublicKey
	auth         *session.Authenticator
	registry     *relay.Registry
	logger       *slog.Logger
	clock        clock.Clock
	metrics      *Metrics

	// replyCounter feeds the reply-id counter field, wrapping mod
	// 256 per the id scheme.
	replyCounter atomic.Uint32
}

// Config configures an API.
type Config struct {
	// OwnerToken authorizes invite creation. Required.
	OwnerToken string

	// Issuer signs invite tokens. Required.
	Issuer *invite.Issuer

	// ServerPublicKey verifies redeemed invites. Required.
	ServerPublicKey ed25519.PublicKey

	// Authenticator runs the challenge-response login flow. Required.
	Authenticator *session.Authenticator

	// Registry broadcasts accepted replies. Required.
	Registry *relay.Registry

	// Logger is the structured logger. Required.
	Logger *slog.Logger

	// Clock defaults to the real clock.
	Clock clock.Clock

	// Metrics may be nil.
	Metrics *Metrics
}

// New creates the API.
func New(config Config) *API {
	if config.OwnerToken == "" {
		panic("api.API: OwnerToken is required")
	}
	if config.Issuer == nil {
		panic("api.API: Issuer is required")
	}
	if len(config.ServerPublicKey) != signature.PublicKeySize {
		panic("api.API: ServerPublicKey is required")
	}
	if config.Authenticator == nil {
		panic("api.API: Authenticator is required")
	}
	if config.Registry == nil {
		panic("api.API: Registry is required")
	}
	if config.Logger == nil {
		panic("api.API: Logger is required")
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &API{
		ownerToken:   config.OwnerToken,
		issuer:       config.Issuer,
		serverPublic: config.ServerPublicKey,
		auth:         config.Authenticator,
		registry:     config.Registry,
		logger:       config.Logger,
		clock:        clk,
		metrics:      config.Metrics,
	}
}

// Routes assembles the full handler: API endpoints, the websocket
// upgrade, and the shared middleware stack.
func (a *API) Routes(realtime http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/create-invite", a.createInvite)
	mux.HandleFunc("POST /api/accept-invite", a.acceptInvite)
	mux.HandleFunc("POST /api/login", a.login)
	mux.HandleFunc("POST /api/confirm-login", a.confirmLogin)
	mux.Handle("GET /api/protected", a.requireSession(http.HandlerFunc(a.protected)))
	mux.Handle("POST /api/reply", a.requireSession(http.HandlerFunc(a.postReply)))
	if realtime != nil {
		mux.Handle("GET /ws", realtime)
	}
	mux.HandleFunc("/", a.notFound)

	return a.logRequests(corsHeaders(securityHeaders(mux)))
}

// errorResponse is the uniform error body for every endpoint.
type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Debug("writing response body", "error", err)
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, message string) {
	a.writeJSON(w, status, errorResponse{Error: message})
}

func (a *API) notFound(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusNotFound, map[string]string{
		"error":   "Not Found",
		"message": "Cannot find " + r.URL.Path,
	})
}
