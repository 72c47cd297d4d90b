// Copyright 2026 The PeerChat Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the relay's Prometheus collectors. All recording
// methods are nil-safe so metrics can be disabled in tests.
type Metrics struct {
	activeConnections prometheus.Gauge
	connectionsTotal  prometheus.Counter
	broadcastsTotal   prometheus.Counter
	signalsRelayed    *prometheus.CounterVec
	directedDropped   prometheus.Counter
	sendQueueDropped  prometheus.Counter
	handshakeRejected *prometheus.CounterVec
}

// NewMetrics creates and registers the relay collectors. A nil
// registerer falls back to the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "peerchat_connections_active",
			Help: "Current number of admitted realtime connections.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "peerchat_connections_total",
			Help: "Total realtime connections admitted since start.",
		}),
		broadcastsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "peerchat_broadcasts_total",
			Help: "Broadcast fan-outs performed.",
		}),
		signalsRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "peerchat_signals_relayed_total",
			Help: "Directed signaling frames relayed, by frame type.",
		}, []string{"type"}),
		directedDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "peerchat_directed_dropped_total",
			Help: "Directed sends with no matching open connection.",
		}),
		sendQueueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "peerchat_send_queue_dropped_total",
			Help: "Frames dropped because a connection's send queue was full.",
		}),
		handshakeRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "peerchat_handshake_rejected_total",
			Help: "Websocket handshakes rejected, by close code.",
		}, []string{"code"}),
	}

	reg.MustRegister(
		m.activeConnections,
		m.connectionsTotal,
		m.broadcastsTotal,
		m.signalsRelayed,
		m.directedDropped,
		m.sendQueueDropped,
		m.handshakeRejected,
	)
	return m
}

func (m *Metrics) connectionAdmitted() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
	m.connectionsTotal.Inc()
}

func (m *Metrics) connectionRemoved() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

func (m *Metrics) recordBroadcast() {
	if m == nil {
		return
	}
	m.broadcastsTotal.Inc()
}

func (m *Metrics) recordSignalRelayed(frameType string) {
	if m == nil {
		return
	}
	m.signalsRelayed.WithLabelValues(frameType).Inc()
}

func (m *Metrics) recordDirectedDrop() {
	if m == nil {
		return
	}
	m.directedDropped.Inc()
}

func (m *Metrics) recordQueueDrop() {
	if m == nil {
		return
	}
	m.sendQueueDropped.Inc()
}

func (m *Metrics) recordHandshakeReject(code string) {
	if m == nil {
		return
	}
	m.handshakeRejected.WithLabelValues(code).Inc()
}
