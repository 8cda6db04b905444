// Package metrics provides Prometheus instrumentation for the surveyz server.
//
// All metrics are registered in a custom [prometheus.Registry] (not the global
// default) so that only surveyz metrics appear on the /metrics endpoint.
package metrics

import (
	"context"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	GRPCRequestsTotal   *prometheus.CounterVec
	GRPCRequestDuration *prometheus.HistogramVec
	CacheSize           *prometheus.GaugeVec
	CacheLoadsTotal     prometheus.Counter
	CacheInvalidations  prometheus.Counter
	EvaluationsTotal    *prometheus.CounterVec
	AuthFailuresTotal   prometheus.Counter
	RateLimitedTotal    *prometheus.CounterVec
	ActiveStreams       *prometheus.GaugeVec
}

// New creates and registers all surveyz metrics in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surveyz_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "surveyz_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),

		GRPCRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surveyz_grpc_requests_total",
			Help: "Total number of gRPC requests.",
		}, []string{"method", "status"}),

		GRPCRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "surveyz_grpc_request_duration_seconds",
			Help:    "gRPC request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "status"}),

		CacheSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "surveyz_cache_size",
			Help: "Number of survey plans in the in-memory cache.",
		}, []string{"project_id"}),

		CacheLoadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "surveyz_cache_loads_total",
			Help: "Total number of full cache reloads from the database.",
		}),

		CacheInvalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "surveyz_cache_invalidations_total",
			Help: "Total number of NOTIFY-triggered cache invalidations.",
		}),

		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surveyz_trigger_evaluations_total",
			Help: "Total number of trigger evaluations by entry point and outcome.",
		}, []string{"entry_point", "matched"}),

		AuthFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "surveyz_auth_failures_total",
			Help: "Total number of failed authentication attempts.",
		}),

		RateLimitedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surveyz_rate_limited_total",
			Help: "Total number of requests rejected by the per-project rate limit.",
		}, []string{"transport"}),

		ActiveStreams: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "surveyz_active_streams",
			Help: "Number of active streaming connections.",
		}, []string{"transport"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.GRPCRequestsTotal,
		m.GRPCRequestDuration,
		m.CacheSize,
		m.CacheLoadsTotal,
		m.CacheInvalidations,
		m.EvaluationsTotal,
		m.AuthFailuresTotal,
		m.RateLimitedTotal,
		m.ActiveStreams,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest records one HTTP request. route is the mux pattern, not
// the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	code := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, route, code).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route, code).Observe(elapsed.Seconds())
}

func (m *Metrics) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		m.observeGRPC(info.FullMethod, err, start)
		return resp, err
	}
}

// StreamServerInterceptor also tracks the active stream gauge.
func (m *Metrics) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		m.StreamOpened("grpc")
		defer m.StreamClosed("grpc")
		start := time.Now()
		err := handler(srv, ss)
		m.observeGRPC(info.FullMethod, err, start)
		return err
	}
}

func (m *Metrics) observeGRPC(fullMethod string, err error, start time.Time) {
	method := path.Base(fullMethod)
	st, _ := status.FromError(err)
	code := st.Code().String()
	m.GRPCRequestsTotal.WithLabelValues(method, code).Inc()
	m.GRPCRequestDuration.WithLabelValues(method, code).Observe(time.Since(start).Seconds())
}

// RecordEvaluation counts one trigger evaluation.
func (m *Metrics) RecordEvaluation(entryPoint string, matched bool) {
	m.EvaluationsTotal.WithLabelValues(entryPoint, strconv.FormatBool(matched)).Inc()
}

func (m *Metrics) IncAuthFailures() {
	m.AuthFailuresTotal.Inc()
}

func (m *Metrics) IncRateLimited(transport string) {
	m.RateLimitedTotal.WithLabelValues(transport).Inc()
}

func (m *Metrics) StreamOpened(transport string) {
	m.ActiveStreams.WithLabelValues(transport).Inc()
}

func (m *Metrics) StreamClosed(transport string) {
	m.ActiveStreams.WithLabelValues(transport).Dec()
}

func (m *Metrics) SetCacheSize(projectID string, size float64) {
	m.CacheSize.WithLabelValues(projectID).Set(size)
}

// ResetCacheSize drops every per-project cache size series, so projects that
// disappeared on reload stop being reported.
func (m *Metrics) ResetCacheSize() {
	m.CacheSize.Reset()
}

func (m *Metrics) IncCacheLoads() {
	m.CacheLoadsTotal.Inc()
}

func (m *Metrics) IncCacheInvalidations() {
	m.CacheInvalidations.Inc()
}
