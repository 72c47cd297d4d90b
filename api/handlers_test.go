// Copyright 2026 The PeerChat Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/peerchat-foundation/peerchat/lib/clock"
	"github.com/peerchat-foundation/peerchat/lib/invite"
	"github.com/peerchat-foundation/peerchat/lib/session"
	"github.com/peerchat-foundation/peerchat/lib/signature"
	"github.com/peerchat-foundation/peerchat/relay"
)

const testOwnerToken = "owner-secret"

type testStack struct {
	server       *httptest.Server
	serverPublic ed25519.PublicKey
	auth         *session.Authenticator
	fake         *clock.FakeClock
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	public, private, err := signature.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	logger := slog.New(slog.DiscardHandler)
	fake := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	registry := relay.NewRegistry(relay.RegistryConfig{
		Logger:     logger,
		PrivateKey: private,
	})
	auth := session.New(session.Config{
		PublicKey:  public,
		PrivateKey: private,
		Announcer:  registry,
		Clock:      fake,
		Logger:     logger,
	})
	apiService := New(Config{
		OwnerToken:      testOwnerToken,
		Issuer:          invite.NewIssuer(private, fake),
		ServerPublicKey: public,
		Authenticator:   auth,
		Registry:        registry,
		Logger:          logger,
		Clock:           fake,
	})
	realtime := relay.NewHandler(relay.HandlerConfig{
		Registry: registry,
		Verifier: auth,
		Logger:   logger,
		Clock:    fake,
	})

	server := httptest.NewServer(apiService.Routes(realtime))
	t.Cleanup(server.Close)

	return &testStack{
		server:       server,
		serverPublic: public,
		auth:         auth,
		fake:         fake,
	}
}

// post sends a JSON body and decodes the JSON response.
func (s *testStack) post(t *testing.T, path string, headers map[string]string, body any) (int, map[string]string) {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("encoding request body: %v", err)
	}
	request, err := http.NewRequest(http.MethodPost, s.server.URL+path, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	request.Header.Set("Content-Type", "application/json")
	for name, value := range headers {
		request.Header.Set(name, value)
	}

	response, err := s.server.Client().Do(request)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer response.Body.Close()

	var decoded map[string]string
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		t.Fatalf("decoding response from %s: %v", path, err)
	}
	return response.StatusCode, decoded
}

func (s *testStack) get(t *testing.T, path, authorization string) (int, map[string]string) {
	t.Helper()

	request, err := http.NewRequest(http.MethodGet, s.server.URL+path, nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if authorization != "" {
		request.Header.Set("Authorization", authorization)
	}
	response, err := s.server.Client().Do(request)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer response.Body.Close()

	var decoded map[string]string
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		t.Fatalf("decoding response from %s: %v", path, err)
	}
	return response.StatusCode, decoded
}

// loginAs runs the full challenge-response flow for a fresh client
// keypair and returns the session token with the client identity.
func (s *testStack) loginAs(t *testing.T) (token, publicKeyBase64 string, private ed25519.PrivateKey) {
	t.Helper()

	clientPublic, clientPrivate, err := signature.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	publicKeyBase64 = base64.StdEncoding.EncodeToString(clientPublic)

	status, body := s.post(t, "/api/login", nil, map[string]string{"publicKey": publicKeyBase64})
	if status != http.StatusOK {
		t.Fatalf("login status = %d, body %v", status, body)
	}
	nonce, err := base64.StdEncoding.DecodeString(body["nonce"])
	if err != nil {
		t.Fatalf("decoding nonce: %v", err)
	}

	sig := signature.Sign(clientPrivate, nonce)
	status, body = s.post(t, "/api/confirm-login", nil, map[string]string{
		"publicKey": publicKeyBase64,
		"signature": base64.StdEncoding.EncodeToString(sig),
	})
	if status != http.StatusOK {
		t.Fatalf("confirm-login status = %d, body %v", status, body)
	}
	if body["sessionToken"] == "" {
		t.Fatal("no session token in confirm-login response")
	}
	return body["sessionToken"], publicKeyBase64, clientPrivate
}

func TestCreateInvite(t *testing.T) {
	stack := newTestStack(t)

	status, body := stack.post(t, "/api/create-invite",
		map[string]string{"Authorization": "wrong-token"},
		map[string]string{"privileges": "read-write"})
	if status != http.StatusForbidden || body["error"] != "Unauthorized" {
		t.Errorf("bad owner token: status %d, body %v", status, body)
	}

	status, body = stack.post(t, "/api/create-invite",
		map[string]string{"Authorization": testOwnerToken},
		map[string]string{})
	if status != http.StatusBadRequest || body["error"] != "Invalid privileges provided" {
		t.Errorf("missing privileges: status %d, body %v", status, body)
	}

	status, body = stack.post(t, "/api/create-invite",
		map[string]string{"Authorization": testOwnerToken},
		map[string]string{"privileges": "read-write"})
	if status != http.StatusOK {
		t.Fatalf("create status = %d, body %v", status, body)
	}
	if parts := strings.Split(body["invite"], "."); len(parts) != 2 {
		t.Errorf("invite token has %d parts, want 2", len(parts))
	}

	capability, err := invite.Redeem(stack.serverPublic, body["invite"])
	if err != nil {
		t.Fatalf("redeeming issued invite: %v", err)
	}
	if capability.Privileges != "read-write" {
		t.Errorf("privileges = %q", capability.Privileges)
	}
}

func TestAcceptInvite(t *testing.T) {
	stack := newTestStack(t)

	status, body := stack.post(t, "/api/accept-invite", nil, map[string]string{})
	if status != http.StatusBadRequest || body["error"] != "Invite token is required" {
		t.Errorf("missing token: status %d, body %v", status, body)
	}

	status, body = stack.post(t, "/api/accept-invite", nil,
		map[string]string{"inviteToken": "invalidInviteToken"})
	if status != http.StatusBadRequest || body["error"] != "Invalid invite token format" {
		t.Errorf("bad format: status %d, body %v", status, body)
	}

	_, created := stack.post(t, "/api/create-invite",
		map[string]string{"Authorization": testOwnerToken},
		map[string]string{"privileges": "read-write"})
	inviteToken := created["invite"]

	// Flip every signature bit while keeping the token well-formed.
	parts := strings.Split(inviteToken, ".")
	sig, _ := base64.StdEncoding.DecodeString(parts[1])
	for i := range sig {
		sig[i] ^= 0xFF
	}
	tampered := parts[0] + "." + base64.StdEncoding.EncodeToString(sig)
	status, body = stack.post(t, "/api/accept-invite", nil,
		map[string]string{"inviteToken": tampered})
	if status != http.StatusForbidden || body["error"] != "Invalid invite token signature" {
		t.Errorf("tampered: status %d, body %v", status, body)
	}

	status, body = stack.post(t, "/api/accept-invite", nil,
		map[string]string{"inviteToken": inviteToken})
	if status != http.StatusOK || body["message"] != "Invite accepted successfully" {
		t.Errorf("valid: status %d, body %v", status, body)
	}
}

func TestLogin(t *testing.T) {
	stack := newTestStack(t)

	status, body := stack.post(t, "/api/login", nil, map[string]string{})
	if status != http.StatusBadRequest || body["error"] != "Public key is required" {
		t.Errorf("missing key: status %d, body %v", status, body)
	}

	short := base64.StdEncoding.EncodeToString([]byte("too-short"))
	status, body = stack.post(t, "/api/login", nil, map[string]string{"publicKey": short})
	if status != http.StatusBadRequest || body["error"] != "Invalid public key length" {
		t.Errorf("bad length: status %d, body %v", status, body)
	}

	clientPublic, _, err := signature.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	status, body = stack.post(t, "/api/login", nil, map[string]string{
		"publicKey": base64.StdEncoding.EncodeToString(clientPublic),
	})
	if status != http.StatusOK {
		t.Fatalf("valid key: status %d, body %v", status, body)
	}
	nonce, err := base64.StdEncoding.DecodeString(body["nonce"])
	if err != nil || len(nonce) != session.NonceSize {
		t.Errorf("nonce = %q (decode err %v)", body["nonce"], err)
	}
}

func TestConfirmLogin(t *testing.T) {
	stack := newTestStack(t)

	status, body := stack.post(t, "/api/confirm-login", nil,
		map[string]string{"publicKey": "something"})
	if status != http.StatusBadRequest || body["error"] != "Public key and signature are required" {
		t.Errorf("missing signature: status %d, body %v", status, body)
	}

	status, body = stack.post(t, "/api/confirm-login", nil, map[string]string{
		"publicKey": base64.StdEncoding.EncodeToString(make([]byte, 9)),
		"signature": base64.StdEncoding.EncodeToString(make([]byte, 64)),
	})
	if status != http.StatusBadRequest || body["error"] != "Invalid public key length" {
		t.Errorf("short key: status %d, body %v", status, body)
	}

	clientPublic, clientPrivate, err := signature.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	publicKeyBase64 := base64.StdEncoding.EncodeToString(clientPublic)

	status, body = stack.post(t, "/api/confirm-login", nil, map[string]string{
		"publicKey": publicKeyBase64,
		"signature": base64.StdEncoding.EncodeToString(make([]byte, 64)),
	})
	if status != http.StatusBadRequest || body["error"] != "No login initiated for this public key" {
		t.Errorf("no challenge: status %d, body %v", status, body)
	}

	// Begin a login, then confirm with a signature over the wrong
	// bytes.
	_, body = stack.post(t, "/api/login", nil, map[string]string{"publicKey": publicKeyBase64})
	wrongSig := signature.Sign(clientPrivate, []byte("not the nonce"))
	status, body = stack.post(t, "/api/confirm-login", nil, map[string]string{
		"publicKey": publicKeyBase64,
		"signature": base64.StdEncoding.EncodeToString(wrongSig),
	})
	if status != http.StatusForbidden || body["error"] != "Invalid signature" {
		t.Errorf("bad signature: status %d, body %v", status, body)
	}

	// The failed attempt kept the challenge; a correct signature
	// still succeeds.
	_, body = stack.post(t, "/api/login", nil, map[string]string{"publicKey": publicKeyBase64})
	nonce, _ := base64.StdEncoding.DecodeString(body["nonce"])
	goodSig := signature.Sign(clientPrivate, nonce)
	status, body = stack.post(t, "/api/confirm-login", nil, map[string]string{
		"publicKey": publicKeyBase64,
		"signature": base64.StdEncoding.EncodeToString(goodSig),
	})
	if status != http.StatusOK {
		t.Fatalf("valid confirm: status %d, body %v", status, body)
	}
	payload := stack.auth.Verify(body["sessionToken"])
	if payload == nil || payload.Sub != publicKeyBase64 {
		t.Errorf("minted token payload = %+v", payload)
	}
}

func TestConfirmLoginExpiredNonce(t *testing.T) {
	stack := newTestStack(t)

	clientPublic, clientPrivate, err := signature.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	publicKeyBase64 := base64.StdEncoding.EncodeToString(clientPublic)

	_, body := stack.post(t, "/api/login", nil, map[string]string{"publicKey": publicKeyBase64})
	nonce, _ := base64.StdEncoding.DecodeString(body["nonce"])

	stack.fake.Advance(6 * time.Minute)

	sig := signature.Sign(clientPrivate, nonce)
	status, body := stack.post(t, "/api/confirm-login", nil, map[string]string{
		"publicKey": publicKeyBase64,
		"signature": base64.StdEncoding.EncodeToString(sig),
	})
	if status != http.StatusBadRequest || body["error"] != "Nonce has expired" {
		t.Errorf("expired nonce: status %d, body %v", status, body)
	}
}

func TestProtected(t *testing.T) {
	stack := newTestStack(t)

	status, body := stack.get(t, "/api/protected", "")
	if status != http.StatusUnauthorized || body["error"] != "No authorization header provided" {
		t.Errorf("missing header: status %d, body %v", status, body)
	}

	status, body = stack.get(t, "/api/protected", "InvalidFormatToken")
	if status != http.StatusUnauthorized || body["error"] != "Invalid authorization header format" {
		t.Errorf("bad format: status %d, body %v", status, body)
	}

	status, body = stack.get(t, "/api/protected", "Bearer invalidToken")
	if status != http.StatusUnauthorized || body["error"] != "Invalid or expired session token" {
		t.Errorf("bad token: status %d, body %v", status, body)
	}

	token, _, _ := stack.loginAs(t)
	status, body = stack.get(t, "/api/protected", "Bearer "+token)
	if status != http.StatusOK || body["message"] != "Protected resource" {
		t.Errorf("valid token: status %d, body %v", status, body)
	}
}

func TestReplyValidation(t *testing.T) {
	stack := newTestStack(t)

	status, _ := stack.post(t, "/api/reply", nil, map[string]string{"text": "hi"})
	if status != http.StatusUnauthorized {
		t.Errorf("unauthenticated reply: status %d", status)
	}

	token, _, _ := stack.loginAs(t)
	auth := map[string]string{"Authorization": "Bearer " + token}

	status, body := stack.post(t, "/api/reply", auth, map[string]string{})
	if status != http.StatusBadRequest || body["error"] != "Message text is required" {
		t.Errorf("missing text: status %d, body %v", status, body)
	}

	status, body = stack.post(t, "/api/reply", auth, map[string]any{
		"text": "hi", "channel": 5000,
	})
	if status != http.StatusBadRequest || body["error"] != "Channel id out of range" {
		t.Errorf("channel out of range: status %d, body %v", status, body)
	}
}

func TestReplyBroadcast(t *testing.T) {
	stack := newTestStack(t)

	token, publicKeyBase64, _ := stack.loginAs(t)

	// Open the realtime channel as the same peer.
	metadata := url.QueryEscape(`{"name":"alice"}`)
	wsEndpoint := "ws" + strings.TrimPrefix(stack.server.URL, "http") + "/ws?clientMetadata=" + metadata
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.Dial(wsEndpoint, header)
	if err != nil {
		t.Fatalf("dialing websocket: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	// First frame is the client list.
	var list relay.ClientListFrame
	if err := conn.ReadJSON(&list); err != nil {
		t.Fatalf("reading client list: %v", err)
	}

	status, body := stack.post(t, "/api/reply",
		map[string]string{"Authorization": "Bearer " + token},
		map[string]any{"text": "hello room", "channel": 7})
	if status != http.StatusOK || body["status"] != "OK" || body["messageId"] == "" {
		t.Fatalf("reply: status %d, body %v", status, body)
	}

	// The broadcast arrives as a relay-signed envelope.
	var envelope signature.Envelope
	if err := conn.ReadJSON(&envelope); err != nil {
		t.Fatalf("reading broadcast: %v", err)
	}
	if !envelope.Verify(stack.serverPublic) {
		t.Error("broadcast envelope signature did not verify")
	}
	var reply relay.ReplyFrame
	if err := json.Unmarshal(envelope.Message, &reply); err != nil {
		t.Fatalf("decoding enveloped reply: %v", err)
	}
	if reply.Type != relay.TypeReply || reply.Text != "hello room" {
		t.Errorf("reply frame = %+v", reply)
	}
	if reply.PK != publicKeyBase64 {
		t.Errorf("reply sender = %q, want %q", reply.PK, publicKeyBase64)
	}
	if reply.ID != body["messageId"] {
		t.Errorf("broadcast id %q != response id %q", reply.ID, body["messageId"])
	}
}

func TestNotFoundIsJSON(t *testing.T) {
	stack := newTestStack(t)

	status, body := stack.get(t, "/api/missing", "")
	if status != http.StatusNotFound || body["error"] != "Not Found" {
		t.Errorf("status %d, body %v", status, body)
	}
}
