// Package metrics holds the Prometheus collectors for pair generation, images and votes.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	PairsInserted      *prometheus.CounterVec
	PairDuplicates     *prometheus.CounterVec
	PairsRejected      *prometheus.CounterVec
	GenerationAttempts prometheus.Histogram
	ImageResolutions   *prometheus.CounterVec
	PairsDeleted       prometheus.Counter
	VotesTotal         *prometheus.CounterVec
	BroadcastFailures  prometheus.Counter
	RequestDuration    *prometheus.HistogramVec
}

// New registers every collector on a fresh registry so tests and servers never collide.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PairsInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thisorthat_pairs_inserted_total",
			Help: "Pairs persisted after de-duplication, by type.",
		}, []string{"type"}),
		PairDuplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thisorthat_pair_duplicates_total",
			Help: "Generated candidates rejected as duplicates, by type.",
		}, []string{"type"}),
		PairsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thisorthat_pairs_rejected_total",
			Help: "Generated candidates that broke a taxonomy rule, by type.",
		}, []string{"type"}),
		GenerationAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "thisorthat_generation_attempts",
			Help:    "Generator calls needed per generation request.",
			Buckets: []float64{1, 2, 3, 4, 5},
		}),
		ImageResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thisorthat_image_resolutions_total",
			Help: "Image attachment attempts, by source and outcome.",
		}, []string{"source", "outcome"}),
		PairsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thisorthat_pairs_deleted_total",
			Help: "Pairs removed, either by request or after failed image attachment.",
		}),
		VotesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thisorthat_votes_total",
			Help: "Votes recorded, by chosen option.",
		}, []string{"option"}),
		BroadcastFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thisorthat_broadcast_failures_total",
			Help: "Vote events that could not be published.",
		}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "thisorthat_api_request_duration_seconds",
			Help:    "HTTP request duration in seconds, by path, method and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method", "status"}),
	}

	m.registry.MustRegister(
		m.PairsInserted,
		m.PairDuplicates,
		m.PairsRejected,
		m.GenerationAttempts,
		m.ImageResolutions,
		m.PairsDeleted,
		m.VotesTotal,
		m.BroadcastFailures,
		m.RequestDuration,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(path, method string, status int, elapsed time.Duration) {
	m.RequestDuration.WithLabelValues(path, method, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
