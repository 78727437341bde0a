package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// MetricsCollector centralizes all metrics recording for Report Service
type MetricsCollector struct {
	prometheus *PrometheusMetrics
	logger     *zap.Logger
}

// NewMetricsCollector creates a new MetricsCollector instance
func NewMetricsCollector(namespace string, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		prometheus: NewPrometheusMetrics(namespace, logger),
		logger:     logger,
	}
}

// NewMetricsCollectorWithRegistry creates a MetricsCollector with a custom registry
func NewMetricsCollectorWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		prometheus: NewPrometheusMetricsWithRegistry(namespace, registerer, logger),
		logger:     logger,
	}
}

// RecordSuccess records a freshly generated report
func (mc *MetricsCollector) RecordSuccess() {
	mc.prometheus.RecordRequest("success")
	mc.prometheus.RecordCacheMiss("document")
}

// RecordCacheServed records a report served from the document cache
func (mc *MetricsCollector) RecordCacheServed() {
	mc.prometheus.RecordRequest("cache_hit")
	mc.prometheus.RecordCacheHit("document")
}

// RecordShared records a report shared from in-flight generation
func (mc *MetricsCollector) RecordShared() {
	mc.prometheus.RecordRequest("shared")
	mc.prometheus.RecordCacheMiss("document")
	mc.prometheus.RecordFlightJoin()
}

// RecordFailure records a failed request by error code
func (mc *MetricsCollector) RecordFailure(code string) {
	mc.prometheus.RecordRequest(code)
	mc.prometheus.RecordError(code)
}

// RecordRequestDuration records time spent producing a report in seconds
func (mc *MetricsCollector) RecordRequestDuration(seconds float64) {
	mc.prometheus.RecordRequestDuration(seconds)
}

// RecordTranslationDegraded records a report delivered with fallback text
func (mc *MetricsCollector) RecordTranslationDegraded() {
	mc.prometheus.RecordTranslationDegraded()
	mc.logger.Debug("Recorded degraded translation")
}

// UpdatePoolStats updates render pool gauges
func (mc *MetricsCollector) UpdatePoolStats(size, available int, restarts int64) {
	mc.prometheus.UpdatePoolSize(float64(size))
	mc.prometheus.UpdatePoolAvailable(float64(available))
	mc.prometheus.UpdateBrowserRestarts(float64(restarts))
}

// RecordLedgerReserve records a reserve outcome
func (mc *MetricsCollector) RecordLedgerReserve(changed bool) {
	mc.prometheus.RecordLedgerOp("reserve", ledgerResult(changed))
}

// RecordLedgerCommit records a commit outcome
func (mc *MetricsCollector) RecordLedgerCommit(changed bool) {
	mc.prometheus.RecordLedgerOp("commit", ledgerResult(changed))
}

// RecordLedgerRefund records a refund outcome
func (mc *MetricsCollector) RecordLedgerRefund(changed bool) {
	mc.prometheus.RecordLedgerOp("refund", ledgerResult(changed))
}

// RecordLedgerError records a ledger operation that failed outright
func (mc *MetricsCollector) RecordLedgerError(op string) {
	mc.prometheus.RecordLedgerOp(op, "error")
}

func ledgerResult(changed bool) string {
	if changed {
		return "changed"
	}
	return "replay"
}

// ServeHTTP serves Prometheus metrics via HTTP
func (mc *MetricsCollector) ServeHTTP(ctx *fasthttp.RequestCtx) {
	mc.prometheus.ServeHTTP(ctx)
}
