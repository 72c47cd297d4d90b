// Copyright 2026 The PeerChat Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"crypto/ed25519"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/peerchat-foundation/peerchat/lib/signature"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testRegistry(t *testing.T) (*Registry, ed25519.PublicKey) {
	t.Helper()
	public, private, err := signature.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	return NewRegistry(RegistryConfig{
		Logger:     testLogger(),
		PrivateKey: private,
	}), public
}

// nopWire satisfies wire for clients whose pump never runs in a test.
type nopWire struct{}

func (nopWire) WriteMessage(int, []byte) error   { return nil }
func (nopWire) SetWriteDeadline(time.Time) error { return nil }
func (nopWire) Close() error                     { return nil }

func testClient(name, publicKey string) *Client {
	return NewClient(nopWire{}, ClientMetadata{
		Name:      name,
		PublicKey: publicKey,
		Privilege: "user",
		Timestamp: 1700000000000,
	}, testLogger())
}

// nextFrame pops one queued frame from a client without running its
// write pump, decoding into out.
func nextFrame(t *testing.T, client *Client, out any) {
	t.Helper()
	select {
	case data := <-client.send:
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("decoding queued frame %s: %v", data, err)
		}
	default:
		t.Fatal("no frame queued")
	}
}

func assertNoFrame(t *testing.T, client *Client) {
	t.Helper()
	select {
	case data := <-client.send:
		t.Fatalf("unexpected frame queued: %s", data)
	default:
	}
}

func TestAdmitSendsClientListAndAnnounces(t *testing.T) {
	registry, _ := testRegistry(t)

	alice := testClient("alice", "AAAA")
	registry.Admit(alice)

	var aliceList ClientListFrame
	nextFrame(t, alice, &aliceList)
	if aliceList.Type != TypeClientList || len(aliceList.ClientList) != 0 {
		t.Errorf("first client's list = %+v, want empty clientList", aliceList)
	}

	bob := testClient("bob", "BBBB")
	registry.Admit(bob)

	var bobList ClientListFrame
	nextFrame(t, bob, &bobList)
	if len(bobList.ClientList) != 1 || bobList.ClientList[0].PublicKey != "AAAA" {
		t.Errorf("second client's list = %+v, want just alice", bobList.ClientList)
	}

	// Alice hears about bob; bob gets no connect event for himself.
	var connect PresenceFrame
	nextFrame(t, alice, &connect)
	if connect.Type != TypeConnect || connect.Metadata.PublicKey != "BBBB" {
		t.Errorf("connect frame = %+v", connect)
	}
	assertNoFrame(t, bob)
}

func TestRemoveBroadcastsDisconnect(t *testing.T) {
	registry, _ := testRegistry(t)

	alice := testClient("alice", "AAAA")
	bob := testClient("bob", "BBBB")
	registry.Admit(alice)
	registry.Admit(bob)
	drain(alice)
	drain(bob)

	registry.Remove(bob)

	var disconnect PresenceFrame
	nextFrame(t, alice, &disconnect)
	if disconnect.Type != TypeDisconnect || disconnect.Metadata.PublicKey != "BBBB" {
		t.Errorf("disconnect frame = %+v", disconnect)
	}

	// Removal is idempotent and announces only once.
	registry.Remove(bob)
	assertNoFrame(t, alice)
}

func TestRemoveAbsentIsNoOp(t *testing.T) {
	registry, _ := testRegistry(t)
	registry.Remove(testClient("ghost", "GGGG"))
}

func TestBroadcastSkipsClosedConnections(t *testing.T) {
	registry, _ := testRegistry(t)

	alice := testClient("alice", "AAAA")
	bob := testClient("bob", "BBBB")
	registry.Admit(alice)
	registry.Admit(bob)
	drain(alice)
	drain(bob)

	// Bob's transport died but Remove hasn't run yet.
	bob.Close()

	registry.Broadcast(ReplyFrame{Type: TypeReply, ID: "id", PK: "AAAA", Text: "hi"})

	var reply ReplyFrame
	nextFrame(t, alice, &reply)
	if reply.Text != "hi" {
		t.Errorf("reply = %+v", reply)
	}
	assertNoFrame(t, bob)
}

func TestSendToPeer(t *testing.T) {
	registry, _ := testRegistry(t)

	alice := testClient("alice", "AAAA")
	bob := testClient("bob", "BBBB")
	registry.Admit(alice)
	registry.Admit(bob)
	drain(alice)
	drain(bob)

	registry.SendToPeer("BBBB", SignalFrame{Type: TypeSDPOffer, From: "AAAA", To: "BBBB"})

	var offer SignalFrame
	nextFrame(t, bob, &offer)
	if offer.Type != TypeSDPOffer || offer.From != "AAAA" {
		t.Errorf("offer = %+v", offer)
	}
	assertNoFrame(t, alice)

	// No match: silent drop, nothing delivered anywhere.
	registry.SendToPeer("CCCC", SignalFrame{Type: TypeSDPOffer, From: "AAAA", To: "CCCC"})
	assertNoFrame(t, alice)
	assertNoFrame(t, bob)
}

func TestSendToPeerDuplicateRegistrations(t *testing.T) {
	registry, _ := testRegistry(t)

	first := testClient("laptop", "AAAA")
	second := testClient("phone", "AAAA")
	registry.Admit(first)
	registry.Admit(second)
	drain(first)
	drain(second)

	// Duplicate registrations of one key are allowed; a directed
	// frame reaches every open match.
	registry.SendToPeer("AAAA", SignalFrame{Type: TypeICECandidate, To: "AAAA"})

	var a, b SignalFrame
	nextFrame(t, first, &a)
	nextFrame(t, second, &b)
	if a.Type != TypeICECandidate || b.Type != TypeICECandidate {
		t.Errorf("frames = %+v, %+v", a, b)
	}
}

func TestBroadcastSigned(t *testing.T) {
	registry, public := testRegistry(t)

	alice := testClient("alice", "AAAA")
	registry.Admit(alice)
	drain(alice)

	registry.BroadcastSigned(ReplyFrame{Type: TypeReply, ID: "id1", PK: "AAAA", Text: "hello"})

	var envelope signature.Envelope
	nextFrame(t, alice, &envelope)
	if !envelope.Verify(public) {
		t.Error("broadcast envelope signature did not verify")
	}

	var reply ReplyFrame
	if err := json.Unmarshal(envelope.Message, &reply); err != nil {
		t.Fatalf("decoding envelope message: %v", err)
	}
	if reply.Text != "hello" {
		t.Errorf("enveloped reply = %+v", reply)
	}
}

func TestUserLoggedIn(t *testing.T) {
	registry, _ := testRegistry(t)

	alice := testClient("alice", "AAAA")
	registry.Admit(alice)
	drain(alice)

	at := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	registry.UserLoggedIn("AAAA", at)

	var login UserLoginFrame
	nextFrame(t, alice, &login)
	if login.Type != TypeUserLogin || login.PublicKey != "AAAA" {
		t.Errorf("login frame = %+v", login)
	}
	if login.FriendlyName != "alice" {
		t.Errorf("FriendlyName = %q, want the connected peer's name", login.FriendlyName)
	}
	if login.Timestamp != at.UnixMilli() {
		t.Errorf("Timestamp = %d, want %d", login.Timestamp, at.UnixMilli())
	}
}

func TestConcurrentAdmitRemoveBroadcast(t *testing.T) {
	registry, _ := testRegistry(t)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := testClient("peer", string(rune('A'+i)))
			registry.Admit(client)
			registry.Broadcast(ReplyFrame{Type: TypeReply, Text: "x"})
			registry.Remove(client)
		}()
	}
	wg.Wait()

	if remaining := len(registry.ClientList()); remaining != 0 {
		t.Errorf("%d clients left registered after churn", remaining)
	}
}

// drain empties a client's send queue.
func drain(client *Client) {
	for {
		select {
		case <-client.send:
		default:
			return
		}
	}
}
