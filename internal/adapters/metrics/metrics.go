// Package metrics exposes license registry counters and transport latency
// through Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
)

type Metrics struct {
	registry *prometheus.Registry

	LicensesCreated     *prometheus.CounterVec
	LicensesRevoked     *prometheus.CounterVec
	OperationsRejected  *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	GRPCRequestsTotal   *prometheus.CounterVec
	GRPCRequestDuration *prometheus.HistogramVec
}

// New registers every collector on a private registry, so several instances
// can coexist in one process.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		LicensesCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "license_registry_licenses_created_total",
			Help: "Licenses created, by license type.",
		}, []string{"license_type"}),
		LicensesRevoked: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "license_registry_licenses_revoked_total",
			Help: "Licenses revoked, by license type.",
		}, []string{"license_type"}),
		OperationsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "license_registry_operations_rejected_total",
			Help: "Rejected registry operations, by operation and reason.",
		}, []string{"operation", "reason"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "license_registry_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status class.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		GRPCRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "license_registry_grpc_requests_total",
			Help: "gRPC requests by method and status code.",
		}, []string{"method", "code"}),
		GRPCRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "license_registry_grpc_request_duration_seconds",
			Help:    "gRPC request latency by method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

func (m *Metrics) LicenseCreated(licenseType domain.LicenseType) {
	m.LicensesCreated.WithLabelValues(licenseType.String()).Inc()
}

func (m *Metrics) LicenseRevoked(licenseType domain.LicenseType) {
	m.LicensesRevoked.WithLabelValues(licenseType.String()).Inc()
}

func (m *Metrics) OperationRejected(operation, reason string) {
	m.OperationsRejected.WithLabelValues(operation, reason).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequestDuration.WithLabelValues(method, route, statusClass(status)).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveGRPC(method, code string, elapsed time.Duration) {
	m.GRPCRequestsTotal.WithLabelValues(method, code).Inc()
	m.GRPCRequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// Handler serves the private registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
