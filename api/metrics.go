// Copyright 2026 The PeerChat Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments the HTTP surface. All record methods are safe
// on a nil receiver so callers can run without a registry.
type Metrics struct {
	requestsTotal  *prometheus.CounterVec
	invitesIssued  prometheus.Counter
	loginsStarted  prometheus.Counter
	loginsAccepted prometheus.Counter
	repliesPosted  prometheus.Counter
}

// NewMetrics registers the API metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "peerchat_api_requests_total",
			Help: "API requests by route and response status.",
		}, []string{"route", "status"}),
		invitesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "peerchat_api_invites_issued_total",
			Help: "Invite tokens issued.",
		}),
		loginsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "peerchat_api_logins_started_total",
			Help: "Login challenges issued.",
		}),
		loginsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "peerchat_api_logins_accepted_total",
			Help: "Logins confirmed and session tokens minted.",
		}),
		repliesPosted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "peerchat_api_replies_posted_total",
			Help: "Chat replies accepted for broadcast.",
		}),
	}
	reg.MustRegister(
		m.requestsTotal,
		m.invitesIssued,
		m.loginsStarted,
		m.loginsAccepted,
		m.repliesPosted,
	)
	return m
}

func (m *Metrics) recordRequest(route string, status int) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

func (m *Metrics) recordInviteIssued() {
	if m == nil {
		return
	}
	m.invitesIssued.Inc()
}

func (m *Metrics) recordLoginStarted() {
	if m == nil {
		return
	}
	m.loginsStarted.Inc()
}

func (m *Metrics) recordLoginAccepted() {
	if m == nil {
		return
	}
	m.loginsAccepted.Inc()
}

func (m *Metrics) recordReplyPosted() {
	if m == nil {
		return
	}
	m.repliesPosted.Inc()
}
