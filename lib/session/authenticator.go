// Copyright 2026 The PeerChat Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/peerchat-foundation/peerchat/lib/clock"
	"github.com/peerchat-foundation/peerchat/lib/signature"
)

const (
	// NonceSize is the length of a login challenge in bytes.
	NonceSize = 24

	// NonceLifetime is how long a challenge stays redeemable.
	NonceLifetime = 5 * time.Minute

	// janitorInterval is how often expired challenges are pruned in
	// the background. Expiry is also checked at confirm time, so the
	// janitor only bounds memory, not correctness.
	janitorInterval = time.Minute
)

// Errors returned by BeginLogin and ConfirmLogin.
var (
	ErrInvalidKeyLength = errors.New("session: public key must be 32 bytes")
	ErrMissingChallenge = errors.New("session: no login initiated for this public key")
	ErrChallengeExpired = errors.New("session: challenge has expired")
	ErrInvalidSignature = errors.New("session: invalid signature")
)

// LoginAnnouncer is notified after every successful ConfirmLogin. The
// relay uses it to broadcast a user_login event to connected clients.
type LoginAnnouncer interface {
	UserLoggedIn(publicKey string, at time.Time)
}

// challenge is an outstanding nonce bound to one public key.
type challenge struct {
	nonce     []byte
	expiresAt time.Time
}

// Authenticator runs the nonce challenge-response protocol and mints
// session tokens. The nonce store is a mutex-guarded map so that
// lookup, overwrite, and single-use deletion are linearizable per
// key — concurrent logins for the same key cannot both redeem one
// nonce.
type Authenticator struct {
	public    ed25519.PublicKey
	private   ed25519.PrivateKey
	clock     clock.Clock
	logger    *slog.Logger
	announcer LoginAnnouncer

	mu     sync.Mutex
	nonces map[string]challenge // key: base64 public key
}

// Config configures an Authenticator.
type Config struct {
	// PublicKey and PrivateKey are the relay's token-signing keypair.
	// Required.
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey

	// Announcer receives user_login notifications. Optional.
	Announcer LoginAnnouncer

	// Clock defaults to the real clock.
	Clock clock.Clock

	// Logger is the structured logger. Required.
	Logger *slog.Logger
}

// New creates an Authenticator.
func New(config Config) *Authenticator {
	if len(config.PublicKey) != signature.PublicKeySize || len(config.PrivateKey) != signature.PrivateKeySize {
		panic("session.Authenticator: signing keypair is required")
	}
	if config.Logger == nil {
		panic("session.Authenticator: Logger is required")
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Authenticator{
		public:    config.PublicKey,
		private:   config.PrivateKey,
		clock:     clk,
		logger:    config.Logger,
		announcer: config.Announcer,
		nonces:    make(map[string]challenge),
	}
}

// BeginLogin generates a fresh challenge for publicKey, overwriting
// any prior unconsumed challenge for the same key, and returns the
// nonce the caller must sign. Fails with ErrInvalidKeyLength unless
// the key is exactly 32 bytes.
func (a *Authenticator) BeginLogin(publicKey []byte) ([]byte, error) {
	if len(publicKey) != signature.PublicKeySize {
		return nil, ErrInvalidKeyLength
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating login nonce: %w", err)
	}

	key := signature.EncodeKey(publicKey)
	a.mu.Lock()
	a.nonces[key] = challenge{
		nonce:     nonce,
		expiresAt: a.clock.Now().Add(NonceLifetime),
	}
	a.mu.Unlock()

	a.logger.Debug("login challenge issued", "public_key", key)
	return nonce, nil
}

// ConfirmLogin redeems the outstanding challenge for publicKey. The
// signature must be a detached Ed25519 signature over the exact nonce
// bytes. On success the challenge is consumed, a session token is
// minted, and the announcer (if any) is notified.
func (a *Authenticator) ConfirmLogin(publicKey, sig []byte) (string, error) {
	if len(publicKey) != signature.PublicKeySize {
		return "", ErrInvalidKeyLength
	}
	key := signature.EncodeKey(publicKey)
	now := a.clock.Now()

	a.mu.Lock()
	pending, ok := a.nonces[key]
	if !ok {
		a.mu.Unlock()
		return "", ErrMissingChallenge
	}
	if now.After(pending.expiresAt) {
		delete(a.nonces, key)
		a.mu.Unlock()
		return "", ErrChallengeExpired
	}
	if !signature.Verify(publicKey, pending.nonce, sig) {
		// The challenge stays outstanding: a failed attempt does not
		// consume the nonce, only success or expiry does.
		a.mu.Unlock()
		return "", ErrInvalidSignature
	}
	delete(a.nonces, key)
	a.mu.Unlock()

	token := Mint(a.private, Payload{
		Sub: key,
		Iat: now.Unix(),
		Exp: now.Add(TokenLifetime).Unix(),
	})

	a.logger.Info("login confirmed", "public_key", key)
	if a.announcer != nil {
		a.announcer.UserLoggedIn(key, now)
	}
	return token, nil
}

// Verify validates a session token and returns its payload, or nil
// for any unverifiable token.
func (a *Authenticator) Verify(token string) *Payload {
	return VerifyTokenAt(a.public, token, a.clock.Now())
}

// PruneExpired drops every challenge whose deadline has passed and
// returns how many were removed.
func (a *Authenticator) PruneExpired() int {
	now := a.clock.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	removed := 0
	for key, pending := range a.nonces {
		if now.After(pending.expiresAt) {
			delete(a.nonces, key)
			removed++
		}
	}
	return removed
}

// RunJanitor prunes expired challenges on a fixed interval until ctx
// is cancelled.
func (a *Authenticator) RunJanitor(ctx context.Context) {
	ticker := a.clock.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := a.PruneExpired(); removed > 0 {
				a.logger.Debug("expired login challenges pruned", "count", removed)
			}
		}
	}
}
