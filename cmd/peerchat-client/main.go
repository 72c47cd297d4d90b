// Copyright 2026 The PeerChat Authors
// SPDX-License-Identifier: Apache-2.0

// Peerchat-client is a terminal chat client for a peerchat network.
// It logs in with the Ed25519 identity from the state directory,
// holds a realtime session with the relay, and opens WebRTC data
// channels to every other connected peer.
//
// Lines typed on stdin are broadcast through the relay. A line of the
// form "/msg <peer-key-prefix> <text>" goes directly over the data
// channel to the first peer whose public key matches the prefix.
package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/pion/webrtc/v4"
	flag "github.com/spf13/pflag"

	"github.com/peerchat-foundation/peerchat/client"
	"github.com/peerchat-foundation/peerchat/lib/signature"
	"github.com/peerchat-foundation/peerchat/lib/version"
	"github.com/peerchat-foundation/peerchat/relay"
	"github.com/peerchat-foundation/peerchat/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var serverURL string
	var name string
	var stateDir string
	var inviteToken string
	var channel int
	var stunServers []string
	var showVersion bool

	flag.StringVar(&serverURL, "server", "http://localhost:6765", "base URL of the relay server")
	flag.StringVar(&name, "name", "", "friendly name announced to other peers (required)")
	flag.StringVar(&stateDir, "state-dir", ".", "directory holding the identity keypair")
	flag.StringVar(&inviteToken, "invite", "", "invite token to redeem before logging in")
	flag.IntVar(&channel, "channel", 0, "channel id for broadcast replies")
	flag.StringArrayVar(&stunServers, "stun", nil, "STUN server URL (repeatable)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("peerchat-client %s\n", version.Info())
		return nil
	}
	if name == "" {
		return fmt.Errorf("--name is required")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	public, private, generated, err := signature.LoadOrGenerateKeypair(stateDir)
	if err != nil {
		return fmt.Errorf("failed to load identity keypair: %w", err)
	}
	localID := base64.StdEncoding.EncodeToString(public)
	if generated {
		fmt.Printf("generated new identity in %s\n", stateDir)
	}
	fmt.Printf("identity: %s\n", localID)

	c, err := client.NewClient(client.ClientConfig{
		ServerURL: serverURL,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	if inviteToken != "" {
		if err := c.AcceptInvite(ctx, inviteToken); err != nil {
			return fmt.Errorf("invite rejected: %w", err)
		}
		fmt.Println("invite accepted")
	}

	sessionToken, err := c.LoginWithKey(ctx, public, private)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	ice := transport.ICEConfig{}
	for _, u := range stunServers {
		ice.Servers = append(ice.Servers, webrtc.ICEServer{URLs: []string{u}})
	}

	// The realtime session and the peer manager reference each other:
	// the session forwards inbound signaling to the manager, the
	// manager sends outbound signaling through the session. The lazy
	// handler breaks the construction cycle.
	signals := &lazySignals{}
	peers := &roster{}

	rt, err := client.Dial(ctx, client.RealtimeConfig{
		ServerURL:    serverURL,
		SessionToken: sessionToken,
		Name:         name,
		Signals:      signals,
		OnClientList: func(list []relay.ClientMetadata) {
			for _, peer := range list {
				fmt.Printf("* online: %s (%s)\n", peer.Name, shortKey(peer.PublicKey))
				peers.add(peer.PublicKey)
			}
			signals.connectAll(ctx, list)
		},
		OnPresence: func(frame relay.PresenceFrame) {
			switch frame.Type {
			case relay.TypeConnect:
				fmt.Printf("* joined: %s (%s)\n", frame.Metadata.Name, shortKey(frame.Metadata.PublicKey))
				peers.add(frame.Metadata.PublicKey)
			case relay.TypeDisconnect:
				fmt.Printf("* left: %s (%s)\n", frame.Metadata.Name, shortKey(frame.Metadata.PublicKey))
				peers.remove(frame.Metadata.PublicKey)
				signals.disconnect(frame.Metadata.PublicKey)
			}
		},
		OnUserLogin: func(frame relay.UserLoginFrame) {
			fmt.Printf("* logged in: %s (%s)\n", frame.FriendlyName, shortKey(frame.PublicKey))
		},
		OnReply: func(frame relay.ReplyFrame) {
			fmt.Printf("[%s] %s: %s\n", frame.ID, shortKey(frame.PK), frame.Text)
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	manager := transport.NewPeerManager(transport.PeerManagerConfig{
		LocalID: localID,
		Sender:  rt,
		Logger:  logger,
		ICE:     ice,
		OnMessage: func(peerID string, data []byte) {
			fmt.Printf("(direct) %s: %s\n", shortKey(peerID), data)
		},
	})
	defer manager.CloseAllConnections()
	signals.set(manager)

	runDone := make(chan error, 1)
	go func() { runDone <- rt.Run(ctx) }()

	go readStdin(ctx, c, manager, peers, sessionToken, channel)

	select {
	case <-ctx.Done():
		rt.Close()
		<-runDone
		return nil
	case err := <-runDone:
		return err
	}
}

// readStdin turns typed lines into broadcast replies or direct data
// channel messages.
func readStdin(ctx context.Context, c *client.Client, manager *transport.PeerManager, peers *roster, sessionToken string, channel int) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if after, ok := strings.CutPrefix(line, "/msg "); ok {
			prefix, text, ok := strings.Cut(after, " ")
			if !ok {
				fmt.Println("usage: /msg <peer-key-prefix> <text>")
				continue
			}
			peerID, ok := peers.resolve(prefix)
			if !ok {
				fmt.Printf("! no connected peer matches %q\n", prefix)
				continue
			}
			if err := manager.SendData(peerID, text); err != nil {
				fmt.Printf("! direct send failed: %v\n", err)
			}
			continue
		}

		if _, err := c.PostReply(ctx, sessionToken, line, channel); err != nil {
			fmt.Printf("! send failed: %v\n", err)
		}
	}
}

// roster tracks the public keys of currently connected peers so
// direct messages can address them by key prefix.
type roster struct {
	mu   sync.Mutex
	keys []string
}

func (r *roster) add(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.keys {
		if existing == key {
			return
		}
	}
	r.keys = append(r.keys, key)
}

func (r *roster) remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.keys {
		if existing == key {
			r.keys = append(r.keys[:i], r.keys[i+1:]...)
			return
		}
	}
}

func (r *roster) resolve(prefix string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range r.keys {
		if strings.HasPrefix(key, prefix) {
			return key, true
		}
	}
	return "", false
}

func shortKey(key string) string {
	if len(key) > 8 {
		return key[:8]
	}
	return key
}

// lazySignals delegates to a PeerManager installed after the realtime
// session is dialed. Frames arriving before the manager exists are
// dropped; the peer retries via ICE restarts and presence churn.
type lazySignals struct {
	mu      sync.Mutex
	manager *transport.PeerManager
}

func (l *lazySignals) set(manager *transport.PeerManager) {
	l.mu.Lock()
	l.manager = manager
	l.mu.Unlock()
}

func (l *lazySignals) get() *transport.PeerManager {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.manager
}

func (l *lazySignals) connectAll(ctx context.Context, peers []relay.ClientMetadata) {
	manager := l.get()
	if manager == nil {
		return
	}
	for _, peer := range peers {
		if err := manager.InitiateConnection(ctx, peer.PublicKey); err != nil {
			fmt.Printf("! connect to %s failed: %v\n", shortKey(peer.PublicKey), err)
		}
	}
}

func (l *lazySignals) disconnect(peerID string) {
	if manager := l.get(); manager != nil {
		manager.CloseConnection(peerID)
	}
}

func (l *lazySignals) HandleOffer(ctx context.Context, from string, payload json.RawMessage) error {
	if manager := l.get(); manager != nil {
		return manager.HandleOffer(ctx, from, payload)
	}
	return nil
}

func (l *lazySignals) HandleAnswer(ctx context.Context, from string, payload json.RawMessage) error {
	if manager := l.get(); manager != nil {
		return manager.HandleAnswer(ctx, from, payload)
	}
	return nil
}

func (l *lazySignals) HandleCandidate(ctx context.Context, from string, payload json.RawMessage) error {
	if manager := l.get(); manager != nil {
		return manager.HandleCandidate(ctx, from, payload)
	}
	return nil
}
