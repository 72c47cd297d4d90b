// Copyright 2026 The PeerChat Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// sendQueueSize bounds the per-connection outbound queue. A consumer
// that stalls longer than the queue absorbs loses frames rather than
// stalling fan-out to everyone else.
const sendQueueSize = 32

// writeTimeout is the deadline for a single websocket write.
const writeTimeout = 10 * time.Second

// wire is the subset of *websocket.Conn the write pump needs. Tests
// substitute an in-memory recorder.
type wire interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client is one admitted realtime connection. The write pump is the
// sole writer on the underlying websocket; all outbound traffic goes
// through the buffered send queue. A Client is owned by the Registry
// from Admit until Remove.
type Client struct {
	// ID labels the connection in logs and metrics. Distinct from
	// the peer's public key: one key may hold several connections.
	ID string

	Metadata ClientMetadata

	conn   wire
	logger *slog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient wraps an upgraded websocket connection. Call Run to
// start the write pump.
func NewClient(conn wire, metadata ClientMetadata, logger *slog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		ID:       id,
		Metadata: metadata,
		conn:     conn,
		logger:   logger.With("connection_id", id, "public_key", metadata.PublicKey),
		send:     make(chan []byte, sendQueueSize),
		done:     make(chan struct{}),
	}
}

// Run starts the write pump. It returns when the connection closes.
func (c *Client) Run() {
	defer c.conn.Close()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("websocket write failed", "error", err)
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// Open reports whether the connection is still in the open state.
func (c *Client) Open() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Close transitions the connection out of the open state. Idempotent.
// The write pump exits and closes the underlying socket.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// trySend queues data for the write pump without blocking. Returns
// false when the connection is closed or its queue is full; the
// caller treats both as a skipped delivery.
func (c *Client) trySend(data []byte) bool {
	if !c.Open() {
		return false
	}
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}
