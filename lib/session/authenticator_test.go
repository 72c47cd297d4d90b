// Copyright 2026 The PeerChat Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/peerchat-foundation/peerchat/lib/clock"
	"github.com/peerchat-foundation/peerchat/lib/signature"
)

func testAuthenticator(t *testing.T, fake *clock.FakeClock) *Authenticator {
	t.Helper()
	public, private := testKeypair(t)
	var clk clock.Clock
	if fake != nil {
		clk = fake
	}
	return New(Config{
		PublicKey:  public,
		PrivateKey: private,
		Clock:      clk,
		Logger:     slog.New(slog.DiscardHandler),
	})
}

func TestLoginFlow(t *testing.T) {
	auth := testAuthenticator(t, nil)
	clientPublic, clientPrivate := testKeypair(t)

	nonce, err := auth.BeginLogin(clientPublic)
	if err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	if len(nonce) != NonceSize {
		t.Fatalf("nonce has %d bytes, want %d", len(nonce), NonceSize)
	}

	token, err := auth.ConfirmLogin(clientPublic, signature.Sign(clientPrivate, nonce))
	if err != nil {
		t.Fatalf("ConfirmLogin: %v", err)
	}

	payload := auth.Verify(token)
	if payload == nil {
		t.Fatal("minted session token did not verify")
	}
	if payload.Sub != signature.EncodeKey(clientPublic) {
		t.Errorf("Sub = %q, want the client public key", payload.Sub)
	}
	if payload.Exp-payload.Iat != int64(TokenLifetime/time.Second) {
		t.Errorf("token lifetime = %ds, want %v", payload.Exp-payload.Iat, TokenLifetime)
	}
}

func TestBeginLoginBadKeyLength(t *testing.T) {
	auth := testAuthenticator(t, nil)

	for _, size := range []int{0, 31, 33, 64} {
		if _, err := auth.BeginLogin(make([]byte, size)); !errors.Is(err, ErrInvalidKeyLength) {
			t.Errorf("BeginLogin with %d-byte key = %v, want ErrInvalidKeyLength", size, err)
		}
	}
}

func TestConfirmLoginWithoutChallenge(t *testing.T) {
	auth := testAuthenticator(t, nil)
	clientPublic, clientPrivate := testKeypair(t)

	sig := signature.Sign(clientPrivate, []byte("anything"))
	if _, err := auth.ConfirmLogin(clientPublic, sig); !errors.Is(err, ErrMissingChallenge) {
		t.Errorf("ConfirmLogin without challenge = %v, want ErrMissingChallenge", err)
	}
}

func TestNonceSingleUse(t *testing.T) {
	auth := testAuthenticator(t, nil)
	clientPublic, clientPrivate := testKeypair(t)

	nonce, err := auth.BeginLogin(clientPublic)
	if err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	sig := signature.Sign(clientPrivate, nonce)

	if _, err := auth.ConfirmLogin(clientPublic, sig); err != nil {
		t.Fatalf("first ConfirmLogin: %v", err)
	}
	// The nonce was consumed: replaying the same valid signature
	// finds no challenge.
	if _, err := auth.ConfirmLogin(clientPublic, sig); !errors.Is(err, ErrMissingChallenge) {
		t.Errorf("second ConfirmLogin = %v, want ErrMissingChallenge", err)
	}
}

func TestConfirmLoginBadSignature(t *testing.T) {
	auth := testAuthenticator(t, nil)
	clientPublic, clientPrivate := testKeypair(t)

	nonce, err := auth.BeginLogin(clientPublic)
	if err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}

	wrong := signature.Sign(clientPrivate, []byte("not the nonce"))
	if _, err := auth.ConfirmLogin(clientPublic, wrong); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("ConfirmLogin with wrong signature = %v, want ErrInvalidSignature", err)
	}

	// A failed attempt does not consume the challenge.
	if _, err := auth.ConfirmLogin(clientPublic, signature.Sign(clientPrivate, nonce)); err != nil {
		t.Errorf("ConfirmLogin after failed attempt: %v", err)
	}
}

func TestChallengeExpiry(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC))
	auth := testAuthenticator(t, fake)
	clientPublic, clientPrivate := testKeypair(t)

	nonce, err := auth.BeginLogin(clientPublic)
	if err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	sig := signature.Sign(clientPrivate, nonce)

	fake.Advance(NonceLifetime + time.Second)
	if _, err := auth.ConfirmLogin(clientPublic, sig); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("ConfirmLogin after expiry = %v, want ErrChallengeExpired", err)
	}

	// The stale entry was deleted: retrying reports a missing
	// challenge rather than an expired one.
	if _, err := auth.ConfirmLogin(clientPublic, sig); !errors.Is(err, ErrMissingChallenge) {
		t.Errorf("ConfirmLogin after expiry cleanup = %v, want ErrMissingChallenge", err)
	}
}

func TestBeginLoginOverwritesChallenge(t *testing.T) {
	auth := testAuthenticator(t, nil)
	clientPublic, clientPrivate := testKeypair(t)

	first, err := auth.BeginLogin(clientPublic)
	if err != nil {
		t.Fatalf("first BeginLogin: %v", err)
	}
	second, err := auth.BeginLogin(clientPublic)
	if err != nil {
		t.Fatalf("second BeginLogin: %v", err)
	}

	// Only the latest nonce is redeemable.
	if _, err := auth.ConfirmLogin(clientPublic, signature.Sign(clientPrivate, first)); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("ConfirmLogin with overwritten nonce = %v, want ErrInvalidSignature", err)
	}
	if _, err := auth.ConfirmLogin(clientPublic, signature.Sign(clientPrivate, second)); err != nil {
		t.Errorf("ConfirmLogin with current nonce: %v", err)
	}
}

type recordingAnnouncer struct {
	mu     sync.Mutex
	logins []string
}

func (r *recordingAnnouncer) UserLoggedIn(publicKey string, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logins = append(r.logins, publicKey)
}

func TestConfirmLoginAnnounces(t *testing.T) {
	public, private := testKeypair(t)
	announcer := &recordingAnnouncer{}
	auth := New(Config{
		PublicKey:  public,
		PrivateKey: private,
		Announcer:  announcer,
		Logger:     slog.New(slog.DiscardHandler),
	})
	clientPublic, clientPrivate := testKeypair(t)

	nonce, err := auth.BeginLogin(clientPublic)
	if err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	if _, err := auth.ConfirmLogin(clientPublic, signature.Sign(clientPrivate, nonce)); err != nil {
		t.Fatalf("ConfirmLogin: %v", err)
	}

	announcer.mu.Lock()
	defer announcer.mu.Unlock()
	if len(announcer.logins) != 1 || announcer.logins[0] != signature.EncodeKey(clientPublic) {
		t.Errorf("announced logins = %v, want exactly the client key", announcer.logins)
	}
}

func TestPruneExpired(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC))
	auth := testAuthenticator(t, fake)

	fresh, _ := testKeypair(t)
	stale, _ := testKeypair(t)

	if _, err := auth.BeginLogin(stale); err != nil {
		t.Fatal(err)
	}
	fake.Advance(NonceLifetime - time.Second)
	if _, err := auth.BeginLogin(fresh); err != nil {
		t.Fatal(err)
	}

	fake.Advance(2 * time.Second)
	if removed := auth.PruneExpired(); removed != 1 {
		t.Errorf("PruneExpired = %d, want 1", removed)
	}
	if removed := auth.PruneExpired(); removed != 0 {
		t.Errorf("second PruneExpired = %d, want 0", removed)
	}
}

func TestConcurrentConfirmSingleUse(t *testing.T) {
	auth := testAuthenticator(t, nil)
	clientPublic, clientPrivate := testKeypair(t)

	nonce, err := auth.BeginLogin(clientPublic)
	if err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	sig := signature.Sign(clientPrivate, nonce)

	const attempts = 16
	var wg sync.WaitGroup
	successes := make(chan string, attempts)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if token, err := auth.ConfirmLogin(clientPublic, sig); err == nil {
				successes <- token
			}
		}()
	}
	wg.Wait()
	close(successes)

	count := 0
	for range successes {
		count++
	}
	if count != 1 {
		t.Errorf("%d concurrent confirms succeeded, want exactly 1", count)
	}
}
