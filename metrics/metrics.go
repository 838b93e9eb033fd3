/*
Package metrics exposes Prometheus collectors for the ledger service.

COLLECTORS:
  spend_ledger_operations_total{op,outcome}          Ledger operation results
  spend_ledger_operation_duration_seconds{op}        Ledger operation latency
  spend_ledger_http_requests_total{method,route,code}
  spend_ledger_http_request_duration_seconds{method,route}
  spend_ledger_audit_dropped_total{reason}           Lost audit entries

  outcome is "ok" or the ledger error kind (NotFound, OverPayment, ...).
  route is the chi route pattern, never the raw path.

USAGE:
  m := metrics.New()
  l := ledger.New(store, store, ledger.WithObserver(m))
  worker.OnDrop = m.AuditDropped
  r.Use(m.Middleware)
  r.Handle("/metrics", m.Handler())

SEE ALSO:
  - ledger/ledger.go: Observer contract
  - audit/worker.go:  OnDrop hook
*/
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/spend-ledger/ledger"
)

const namespace = "spend_ledger"

// Metrics owns a private registry so tests can create as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	operations   *prometheus.CounterVec
	opDuration   *prometheus.HistogramVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	auditDropped *prometheus.CounterVec
}

var _ ledger.Observer = (*Metrics)(nil)

// New creates and registers all collectors, plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Ledger operations by name and outcome.",
		}, []string{"op", "outcome"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Ledger operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		auditDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_dropped_total",
			Help:      "Audit entries that were not persisted.",
		}, []string{"reason"}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.operations,
		m.opDuration,
		m.httpRequests,
		m.httpDuration,
		m.auditDropped,
	)
	return m
}

// ObserveOperation implements ledger.Observer.
func (m *Metrics) ObserveOperation(op, kind string, elapsed time.Duration) {
	outcome := kind
	if outcome == "" {
		outcome = "ok"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.opDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// AuditDropped matches audit.Worker.OnDrop.
func (m *Metrics) AuditDropped(reason string, n int) {
	m.auditDropped.WithLabelValues(reason).Add(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Middleware records request count and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(code)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
