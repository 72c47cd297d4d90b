// Copyright 2026 The PeerChat Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/peerchat-foundation/peerchat/lib/netutil"
	"github.com/peerchat-foundation/peerchat/lib/signature"
)

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// ServerURL is the base URL of the relay server (e.g., "http://localhost:6765").
	ServerURL string
	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client is an unauthenticated relay client. It holds the server URL
// and HTTP transport; session tokens are passed per call so one Client
// can serve several identities.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new relay client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.ServerURL == "" {
		return nil, fmt.Errorf("client: ServerURL is required")
	}
	if _, err := url.Parse(config.ServerURL); err != nil {
		return nil, fmt.Errorf("client: invalid ServerURL %q: %w", config.ServerURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.ServerURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// CloseIdleConnections closes idle HTTP connections in the underlying
// transport's connection pool.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// CreateInvite asks the server to mint a signed invite token for the
// given privileges string. Only the server operator holds the owner
// token; everyone else gets a 403.
func (c *Client) CreateInvite(ctx context.Context, ownerToken, privileges string) (string, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/api/create-invite", ownerToken, map[string]any{
		"privileges": privileges,
	})
	if err != nil {
		return "", err
	}
	var response struct {
		Invite string `json:"invite"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("client: failed to parse create-invite response: %w", err)
	}
	return response.Invite, nil
}

// AcceptInvite validates an invite token against the server's signing key.
func (c *Client) AcceptInvite(ctx context.Context, inviteToken string) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/api/accept-invite", "", map[string]any{
		"inviteToken": inviteToken,
	})
	return err
}

// Login starts the challenge-response flow for the given public key and
// returns the nonce the server expects signed.
func (c *Client) Login(ctx context.Context, publicKey ed25519.PublicKey) ([]byte, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/api/login", "", map[string]any{
		"publicKey": base64.StdEncoding.EncodeToString(publicKey),
	})
	if err != nil {
		return nil, err
	}
	var response struct {
		Nonce string `json:"nonce"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("client: failed to parse login response: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(response.Nonce)
	if err != nil {
		return nil, fmt.Errorf("client: server returned malformed nonce: %w", err)
	}
	return nonce, nil
}

// ConfirmLogin submits the signed nonce and returns the session token.
func (c *Client) ConfirmLogin(ctx context.Context, publicKey ed25519.PublicKey, nonceSignature []byte) (string, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/api/confirm-login", "", map[string]any{
		"publicKey": base64.StdEncoding.EncodeToString(publicKey),
		"signature": base64.StdEncoding.EncodeToString(nonceSignature),
	})
	if err != nil {
		return "", err
	}
	var response struct {
		SessionToken string `json:"sessionToken"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("client: failed to parse confirm-login response: %w", err)
	}
	return response.SessionToken, nil
}

// LoginWithKey runs the full challenge-response flow with the given
// keypair: fetch a nonce, sign it, and confirm. Returns the session token.
func (c *Client) LoginWithKey(ctx context.Context, publicKey ed25519.PublicKey, privateKey ed25519.PrivateKey) (string, error) {
	nonce, err := c.Login(ctx, publicKey)
	if err != nil {
		return "", err
	}
	return c.ConfirmLogin(ctx, publicKey, signature.Sign(privateKey, nonce))
}

// Protected probes the session-guarded endpoint. A nil error means the
// session token is currently valid.
func (c *Client) Protected(ctx context.Context, sessionToken string) error {
	_, err := c.doRequest(ctx, http.MethodGet, "/api/protected", "Bearer "+sessionToken, nil)
	return err
}

// PostReply publishes a chat reply through the server. The server signs
// the message and fans it out to every connected peer. Returns the
// server-assigned message id.
func (c *Client) PostReply(ctx context.Context, sessionToken, text string, channel int) (string, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/api/reply", "Bearer "+sessionToken, map[string]any{
		"text":    text,
		"channel": channel,
	})
	if err != nil {
		return "", err
	}
	var response struct {
		Status    string `json:"status"`
		MessageID string `json:"messageId"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("client: failed to parse reply response: %w", err)
	}
	return response.MessageID, nil
}

// doRequest performs an HTTP request against the server API. The
// authorization string is sent verbatim as the Authorization header
// when non-empty; session-guarded endpoints want "Bearer <token>"
// while create-invite wants the raw owner token.
func (c *Client) doRequest(ctx context.Context, method, path, authorization string, requestBody any) ([]byte, error) {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("client: failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("client: failed to create request: %w", err)
	}

	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if authorization != "" {
		request.Header.Set("Authorization", authorization)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("client: request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, fmt.Errorf("client: failed to read response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	// All API error responses use the same JSON shape.
	var apiErr APIError
	if jsonErr := json.Unmarshal(responseBody, &apiErr); jsonErr != nil || apiErr.Message == "" {
		return nil, fmt.Errorf("client: unexpected %d response from %s %s: %s",
			response.StatusCode, method, path, string(responseBody))
	}
	apiErr.StatusCode = response.StatusCode

	return responseBody, &apiErr
}
