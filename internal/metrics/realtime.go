// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics holds the Prometheus collectors of the realtime service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BusPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crmrt_bus_published_total",
		Help: "Total number of envelopes accepted by the event bus",
	}, []string{"backend"})

	BusPublishFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crmrt_bus_publish_failures_total",
		Help: "Total number of rejected publishes by backend and reason",
	}, []string{"backend", "reason"})

	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crmrt_bus_dropped_total",
		Help: "Total number of envelopes dropped during bus fan-out by reason",
	}, []string{"reason"})

	BusSubscriptions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "crmrt_bus_subscriptions",
		Help: "Current number of open bus subscriptions",
	}, []string{"backend"})

	GatewayConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crmrt_gateway_connections",
		Help: "Current number of authenticated WebSocket connections",
	})

	GatewayFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crmrt_gateway_frames_total",
		Help: "Total number of server frames queued by frame type",
	}, []string{"type"})

	GatewayDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crmrt_gateway_dropped_total",
		Help: "Total number of envelopes not delivered to a connection by reason",
	}, []string{"reason"})

	AuthFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crmrt_auth_failures_total",
		Help: "Total number of rejected bearer tokens by transport",
	}, []string{"transport"})

	LongPollWaiters = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crmrt_longpoll_waiters",
		Help: "Current number of blocked long-poll requests",
	})

	LongPollDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crmrt_longpoll_duration_seconds",
		Help:    "Long-poll wait duration by outcome (events, timeout, canceled)",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	}, []string{"outcome"})

	IngestMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crmrt_ingest_messages_total",
		Help: "Total number of broker messages handled by the ingest bridge by result",
	}, []string{"result"})
)

// IncBusDrop records an envelope dropped during fan-out.
func IncBusDrop(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	BusDroppedTotal.WithLabelValues(reason).Inc()
}

// IncPublishFailure records a rejected publish.
func IncPublishFailure(backend, reason string) {
	if reason == "" {
		reason = "unknown"
	}
	BusPublishFailuresTotal.WithLabelValues(backend, reason).Inc()
}

// IncGatewayDrop records an envelope the gateway chose not to deliver.
func IncGatewayDrop(reason string) {
	GatewayDroppedTotal.WithLabelValues(reason).Inc()
}

// IncFrame records a frame queued for a client.
func IncFrame(frameType string) {
	GatewayFramesTotal.WithLabelValues(frameType).Inc()
}
