package service

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService owns the Prometheus registry and the domain counters.
type MetricsService struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	workflowDecisions  *prometheus.CounterVec
	occupancyConflicts prometheus.Counter
	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
}

// NewMetricsService builds the registry with process, Go, HTTP, and workflow
// collectors registered.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &MetricsService{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route, and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		workflowDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schedule_request_decisions_total",
			Help: "Schedule-change request decisions by kind and outcome.",
		}, []string{"kind", "outcome"}),
		occupancyConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "occupancy_conflicts_total",
			Help: "Rejected reservations due to a held (resource, date, timeslot).",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "request_list_cache_hits_total",
			Help: "Request listing cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "request_list_cache_misses_total",
			Help: "Request listing cache misses.",
		}),
	}
	registry.MustRegister(s.httpRequests, s.httpDuration, s.workflowDecisions,
		s.occupancyConflicts, s.cacheHits, s.cacheMisses)
	return s
}

// Handler exposes the registry for the /metrics endpoint.
func (s *MetricsService) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one handled HTTP request.
func (s *MetricsService) ObserveHTTP(method, route string, status int, duration time.Duration) {
	s.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	s.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordDecision counts one workflow transition outcome.
func (s *MetricsService) RecordDecision(kind, outcome string) {
	s.workflowDecisions.WithLabelValues(kind, outcome).Inc()
}

// RecordOccupancyConflict counts one refused reservation.
func (s *MetricsService) RecordOccupancyConflict() {
	s.occupancyConflicts.Inc()
}

// RecordCacheHit counts a cache hit on the listing surface.
func (s *MetricsService) RecordCacheHit() {
	s.cacheHits.Inc()
}

// RecordCacheMiss counts a cache miss on the listing surface.
func (s *MetricsService) RecordCacheMiss() {
	s.cacheMisses.Inc()
}
