// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Namespace = "ovpn_manager"

// Retrieval outcomes
const (
	RetrievalSuccess         = "success"
	RetrievalExpired         = "expired"
	RetrievalCollected       = "collected"
	RetrievalNotDownloadable = "not_downloadable"
	RetrievalNotFound        = "not_found"
	RetrievalDecryptError    = "decrypt_error"
	RetrievalError           = "error"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: Namespace + "_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    Namespace + "_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	IssuancesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: Namespace + "_issuances_total",
			Help: "Total number of client configuration issuances",
		},
		[]string{"result"},
	)

	IssuanceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    Namespace + "_issuance_duration_seconds",
			Help:    "Time to issue a certificate and render a client configuration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	IssuancesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: Namespace + "_issuances_in_flight",
			Help: "Number of issuances currently running",
		},
	)

	RetrievalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: Namespace + "_retrievals_total",
			Help: "Total number of download token retrievals by outcome",
		},
		[]string{"result"},
	)

	TokensDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: Namespace + "_tokens_deleted_total",
			Help: "Total number of download token records removed by cleanup",
		},
	)
)
