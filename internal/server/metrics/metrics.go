// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filerelay_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filerelay_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	// Relay metrics
	ConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "filerelay_connections_active",
			Help: "Live relay connections",
		},
		[]string{"transport"}, // "websocket" or "grpc"
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "filerelay_sessions_active",
			Help: "Transfer sessions that have not reached a terminal state",
		},
	)

	SessionsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filerelay_sessions_finished_total",
			Help: "Transfer sessions by terminal outcome",
		},
		[]string{"outcome"}, // "completed", "disconnect", "recipient_gone", "idle"
	)

	ChunksRelayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filerelay_chunks_relayed_total",
			Help: "Chunks forwarded from senders to recipients",
		},
	)

	RelayErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filerelay_relay_errors_total",
			Help: "Relay events rejected, by error code",
		},
		[]string{"code"},
	)

	// Storage metrics
	StorageOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filerelay_storage_operations_total",
			Help: "Encrypted storage operations by result",
		},
		[]string{"op", "result"},
	)

	StorageBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filerelay_storage_plaintext_bytes_total",
			Help: "Plaintext bytes encrypted or decrypted",
		},
		[]string{"op"},
	)

	StorageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filerelay_storage_latency_seconds",
			Help:    "Encrypt/decrypt latency including backend I/O",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"op"},
	)
)
