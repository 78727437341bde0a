package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

// PrometheusMetrics provides high-performance metrics collection for Report Service
type PrometheusMetrics struct {
	// Request metrics
	requestsTotal   *prometheus.CounterVec
	requestDuration prometheus.Histogram

	// Cache metrics
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// Coalescing metrics
	flightJoins prometheus.Counter

	// Translation metrics
	translationsDegraded prometheus.Counter

	// Render pool metrics
	poolSize        prometheus.Gauge
	poolAvailable   prometheus.Gauge
	browserRestarts prometheus.Gauge

	// Ledger metrics
	ledgerOps *prometheus.CounterVec

	// Error metrics
	errorsTotal *prometheus.CounterVec

	logger      *zap.Logger
	httpHandler func(*fasthttp.RequestCtx)
}

// NewPrometheusMetrics creates a new Prometheus-based metrics collector
func NewPrometheusMetrics(namespace string, logger *zap.Logger) *PrometheusMetrics {
	return NewPrometheusMetricsWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewPrometheusMetricsWithRegistry creates a new Prometheus-based metrics collector with custom registry
func NewPrometheusMetricsWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *PrometheusMetrics {
	pm := &PrometheusMetrics{
		logger: logger,
	}

	// Request metrics
	pm.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rp",
		Name:      "requests_total",
		Help:      "Total report requests by outcome",
	}, []string{"outcome"}) // outcome: success, cache_hit, shared, or an error code

	pm.requestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "rp",
		Name:      "request_duration_seconds",
		Help:      "Time spent producing a report",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~200s
	})

	// Cache metrics
	pm.cacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rp",
		Name:      "cache_hits_total",
		Help:      "Total cache hits by cache",
	}, []string{"cache"}) // cache: raw, document

	pm.cacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rp",
		Name:      "cache_misses_total",
		Help:      "Total cache misses by cache",
	}, []string{"cache"})

	// Coalescing metrics
	pm.flightJoins = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rp",
		Name:      "flight_joins_total",
		Help:      "Total requests that joined generation already in flight",
	})

	// Translation metrics
	pm.translationsDegraded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rp",
		Name:      "translations_degraded_total",
		Help:      "Total reports delivered with partially untranslated text",
	})

	// Render pool metrics
	pm.poolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "rp",
		Name:      "render_pool_size",
		Help:      "Total number of render handles in the pool",
	})

	pm.poolAvailable = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "rp",
		Name:      "render_pool_available",
		Help:      "Number of available render handles",
	})

	pm.browserRestarts = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "rp",
		Name:      "browser_restarts_total",
		Help:      "Times the shared browser process was recreated",
	})

	// Ledger metrics
	pm.ledgerOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rp",
		Name:      "ledger_ops_total",
		Help:      "Total ledger operations by op and result",
	}, []string{"op", "result"}) // op: reserve, commit, refund; result: changed, replay, error

	// Error metrics
	pm.errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rp",
		Name:      "errors_total",
		Help:      "Total errors by code",
	}, []string{"code"})

	// Register all metrics
	registerer.MustRegister(
		pm.requestsTotal,
		pm.requestDuration,
		pm.cacheHits,
		pm.cacheMisses,
		pm.flightJoins,
		pm.translationsDegraded,
		pm.poolSize,
		pm.poolAvailable,
		pm.browserRestarts,
		pm.ledgerOps,
		pm.errorsTotal,
	)

	// Create HTTP handler
	gatherer, ok := registerer.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	pm.httpHandler = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	logger.Info("Report Service Prometheus metrics initialized")
	return pm
}

// RecordRequest records a report request outcome
func (pm *PrometheusMetrics) RecordRequest(outcome string) {
	pm.requestsTotal.WithLabelValues(outcome).Inc()
}

// RecordRequestDuration records time spent producing a report
func (pm *PrometheusMetrics) RecordRequestDuration(seconds float64) {
	pm.requestDuration.Observe(seconds)
}

// RecordCacheHit records a hit on the named cache
func (pm *PrometheusMetrics) RecordCacheHit(cache string) {
	pm.cacheHits.WithLabelValues(cache).Inc()
}

// RecordCacheMiss records a miss on the named cache
func (pm *PrometheusMetrics) RecordCacheMiss(cache string) {
	pm.cacheMisses.WithLabelValues(cache).Inc()
}

// RecordFlightJoin records a request that attached to in-flight generation
func (pm *PrometheusMetrics) RecordFlightJoin() {
	pm.flightJoins.Inc()
}

// RecordTranslationDegraded records a report delivered with fallback text
func (pm *PrometheusMetrics) RecordTranslationDegraded() {
	pm.translationsDegraded.Inc()
}

// UpdatePoolSize updates the render pool size metric
func (pm *PrometheusMetrics) UpdatePoolSize(size float64) {
	pm.poolSize.Set(size)
}

// UpdatePoolAvailable updates the available render handles metric
func (pm *PrometheusMetrics) UpdatePoolAvailable(available float64) {
	pm.poolAvailable.Set(available)
}

// UpdateBrowserRestarts updates the browser restart count
func (pm *PrometheusMetrics) UpdateBrowserRestarts(restarts float64) {
	pm.browserRestarts.Set(restarts)
}

// RecordLedgerOp records a ledger operation outcome
func (pm *PrometheusMetrics) RecordLedgerOp(op, result string) {
	pm.ledgerOps.WithLabelValues(op, result).Inc()
}

// RecordError records an error by code
func (pm *PrometheusMetrics) RecordError(code string) {
	pm.errorsTotal.WithLabelValues(code).Inc()
}

// ServeHTTP serves Prometheus metrics via HTTP
func (pm *PrometheusMetrics) ServeHTTP(ctx *fasthttp.RequestCtx) {
	pm.httpHandler(ctx)
}
