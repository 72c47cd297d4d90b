// Copyright 2026 The PeerChat Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/json"
	"sync"
)

// inboxSize bounds a registered handler's pending frame queue.
const inboxSize = 64

// BusFrame is one signaling frame observed by the bus.
type BusFrame struct {
	Kind    string
	From    string
	To      string
	Payload json.RawMessage
}

// MemorySignalBus routes signaling frames between PeerManagers
// in-process, standing in for the relay in tests. Each registered
// handler gets a dispatch goroutine so frames are delivered in send
// order without the sender blocking inside another manager's lock.
type MemorySignalBus struct {
	mu       sync.Mutex
	inboxes  map[string]chan BusFrame
	traffic  []BusFrame
	failures []error
	closed   bool

	wg sync.WaitGroup
}

// NewMemorySignalBus creates an empty bus.
func NewMemorySignalBus() *MemorySignalBus {
	return &MemorySignalBus{inboxes: make(map[string]chan BusFrame)}
}

// Register attaches a handler under localID and returns the sender
// its PeerManager should use for outbound signaling.
func (b *MemorySignalBus) Register(localID string, handler SignalHandler) SignalSender {
	inbox := make(chan BusFrame, inboxSize)

	b.mu.Lock()
	b.inboxes[localID] = inbox
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for frame := range inbox {
			var err error
			switch frame.Kind {
			case SignalOffer:
				err = handler.HandleOffer(context.Background(), frame.From, frame.Payload)
			case SignalAnswer:
				err = handler.HandleAnswer(context.Background(), frame.From, frame.Payload)
			case SignalCandidate:
				err = handler.HandleCandidate(context.Background(), frame.From, frame.Payload)
			}
			if err != nil {
				b.mu.Lock()
				b.failures = append(b.failures, err)
				b.mu.Unlock()
			}
		}
	}()

	return &busSender{bus: b, localID: localID}
}

// Close stops delivery and waits for the dispatch goroutines.
func (b *MemorySignalBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, inbox := range b.inboxes {
		close(inbox)
	}
	b.mu.Unlock()

	b.wg.Wait()
}

// Traffic returns every frame sent through the bus so far.
func (b *MemorySignalBus) Traffic() []BusFrame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]BusFrame(nil), b.traffic...)
}

// Failures returns handler errors collected during dispatch.
func (b *MemorySignalBus) Failures() []error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]error(nil), b.failures...)
}

func (b *MemorySignalBus) route(frame BusFrame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.traffic = append(b.traffic, frame)

	// Best-effort, like the relay: no recipient means the frame is
	// dropped silently.
	inbox, ok := b.inboxes[frame.To]
	if !ok {
		return
	}
	select {
	case inbox <- frame:
	default:
	}
}

// busSender is the SignalSender handed to one registered manager.
type busSender struct {
	bus     *MemorySignalBus
	localID string
}

func (s *busSender) SendSignal(_ context.Context, kind, to string, payload json.RawMessage) error {
	s.bus.route(BusFrame{Kind: kind, From: s.localID, To: to, Payload: payload})
	return nil
}
