// Copyright 2026 The PeerChat Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/peerchat-foundation/peerchat/lib/invite"
	"github.com/peerchat-foundation/peerchat/lib/replyid"
	"github.com/peerchat-foundation/peerchat/lib/session"
	"github.com/peerchat-foundation/peerchat/relay"
)

// Handlers decode bodies leniently: an absent or malformed body
// leaves fields zero and the field-specific validation answers, the
// same surface a missing field produces.

func (a *API) createInvite(w http.ResponseWriter, r *http.Request) {
	provided := r.Header.Get("Authorization")
	if subtle.ConstantTimeCompare([]byte(provided), []byte(a.ownerToken)) != 1 {
		a.writeError(w, http.StatusForbidden, "Unauthorized")
		return
	}

	var body struct {
		Privileges string `json:"privileges"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Privileges == "" {
		a.writeError(w, http.StatusBadRequest, "Invalid privileges provided")
		return
	}

	token, err := a.issuer.Issue(body.Privileges)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "Invalid privileges provided")
		return
	}

	a.metrics.recordInviteIssued()
	a.logger.Info("invite issued", "privileges", body.Privileges)
	a.writeJSON(w, http.StatusOK, map[string]string{"invite": token})
}

func (a *API) acceptInvite(w http.ResponseWriter, r *http.Request) {
	var body struct {
		InviteToken string `json:"inviteToken"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	if body.InviteToken == "" {
		a.writeError(w, http.StatusBadRequest, "Invite token is required")
		return
	}

	capability, err := invite.Redeem(a.serverPublic, body.InviteToken)
	switch {
	case errors.Is(err, invite.ErrMalformedToken):
		a.writeError(w, http.StatusBadRequest, "Invalid invite token format")
		return
	case errors.Is(err, invite.ErrInvalidSignature):
		a.writeError(w, http.StatusForbidden, "Invalid invite token signature")
		return
	case err != nil:
		a.logger.Error("redeeming invite", "error", err)
		a.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	a.logger.Info("invite accepted", "privileges", capability.Privileges)
	a.writeJSON(w, http.StatusOK, map[string]string{"message": "Invite accepted successfully"})
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PublicKey string `json:"publicKey"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	if body.PublicKey == "" {
		a.writeError(w, http.StatusBadRequest, "Public key is required")
		return
	}

	publicKey, err := base64.StdEncoding.DecodeString(body.PublicKey)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "Invalid public key length")
		return
	}

	nonce, err := a.auth.BeginLogin(publicKey)
	if errors.Is(err, session.ErrInvalidKeyLength) {
		a.writeError(w, http.StatusBadRequest, "Invalid public key length")
		return
	}
	if err != nil {
		a.logger.Error("beginning login", "error", err)
		a.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	a.metrics.recordLoginStarted()
	a.writeJSON(w, http.StatusOK, map[string]string{
		"nonce": base64.StdEncoding.EncodeToString(nonce),
	})
}

func (a *API) confirmLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PublicKey string `json:"publicKey"`
		Signature string `json:"signature"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	if body.PublicKey == "" || body.Signature == "" {
		a.writeError(w, http.StatusBadRequest, "Public key and signature are required")
		return
	}

	publicKey, err := base64.StdEncoding.DecodeString(body.PublicKey)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "Invalid public key or signature encoding")
		return
	}
	sig, err := base64.StdEncoding.DecodeString(body.Signature)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "Invalid public key or signature encoding")
		return
	}

	token, err := a.auth.ConfirmLogin(publicKey, sig)
	switch {
	case errors.Is(err, session.ErrInvalidKeyLength):
		a.writeError(w, http.StatusBadRequest, "Invalid public key length")
		return
	case errors.Is(err, session.ErrMissingChallenge):
		a.writeError(w, http.StatusBadRequest, "No login initiated for this public key")
		return
	case errors.Is(err, session.ErrChallengeExpired):
		a.writeError(w, http.StatusBadRequest, "Nonce has expired")
		return
	case errors.Is(err, session.ErrInvalidSignature):
		a.writeError(w, http.StatusForbidden, "Invalid signature")
		return
	case err != nil:
		a.logger.Error("confirming login", "error", err)
		a.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	a.metrics.recordLoginAccepted()
	a.writeJSON(w, http.StatusOK, map[string]string{"sessionToken": token})
}

func (a *API) protected(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{"message": "Protected resource"})
}

func (a *API) postReply(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text    string `json:"text"`
		Channel int    `json:"channel"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	if body.Text == "" {
		a.writeError(w, http.StatusBadRequest, "Message text is required")
		return
	}

	counter := int(a.replyCounter.Add(1) & 0xFF)
	id, err := replyid.Generate(body.Channel, counter, a.clock.Now())
	if errors.Is(err, replyid.ErrFieldRange) {
		a.writeError(w, http.StatusBadRequest, "Channel id out of range")
		return
	}
	if err != nil {
		a.logger.Error("generating reply id", "error", err)
		a.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	a.registry.BroadcastSigned(relay.ReplyFrame{
		Type: relay.TypeReply,
		ID:   id,
		PK:   callerPublicKey(r),
		Text: body.Text,
	})

	a.metrics.recordReplyPosted()
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "OK", "messageId": id})
}
