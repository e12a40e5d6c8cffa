// Package metrics exposes Prometheus instrumentation for votes, resolutions,
// leaderboard reads, league passes and the HTTP surface. A nil *Metrics is a
// valid no-op recorder.
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

	votesTotal        *prometheus.CounterVec
	resolutionsTotal  *prometheus.CounterVec
	payoutPoints      prometheus.Counter
	leaderboardCache  *prometheus.CounterVec
	recomputeDuration prometheus.Histogram
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New registers all collectors on reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: reg,
		votesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "votes_total",
			Help: "Votes cast by dilemma kind, A/B variant and whether a reason was kept.",
		}, []string{"kind", "variant", "with_reason"}),
		resolutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resolutions_total",
			Help: "Dilemmas resolved by kind.",
		}, []string{"kind"}),
		payoutPoints: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payout_points_total",
			Help: "Positive points credited to users by resolution payouts.",
		}),
		leaderboardCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leaderboard_cache_total",
			Help: "Leaderboard reads by cache result (hit, stale, miss, bypass).",
		}, []string{"result"}),
		recomputeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "league_recompute_duration_seconds",
			Help:    "Duration of full league recompute passes.",
			Buckets: prometheus.DefBuckets,
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(
		m.votesTotal,
		m.resolutionsTotal,
		m.payoutPoints,
		m.leaderboardCache,
		m.recomputeDuration,
		m.httpRequestsTotal,
		m.httpDuration,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts requests and observes latency under route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) VoteCast(kind, variant string, withReason bool) {
	if m == nil {
		return
	}
	if variant == "" {
		variant = "none"
	}
	reason := "no"
	if withReason {
		reason = "yes"
	}
	m.votesTotal.WithLabelValues(kind, variant, reason).Inc()
}

func (m *Metrics) Resolved(kind string) {
	if m == nil {
		return
	}
	m.resolutionsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) PointsPaid(points int64) {
	if m == nil || points <= 0 {
		return
	}
	m.payoutPoints.Add(float64(points))
}

func (m *Metrics) LeaderboardCache(result string) {
	if m == nil {
		return
	}
	m.leaderboardCache.WithLabelValues(result).Inc()
}

func (m *Metrics) RecomputeDone(d time.Duration) {
	if m == nil {
		return
	}
	m.recomputeDuration.Observe(d.Seconds())
}
