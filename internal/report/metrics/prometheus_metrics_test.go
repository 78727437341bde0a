package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

func TestPrometheusMetrics_Recording(t *testing.T) {
	logger := zap.NewNop()
	registry := prometheus.NewRegistry()
	pm := NewPrometheusMetricsWithRegistry("dejavuplus", registry, logger)

	// Request metrics
	pm.RecordRequest("success")
	pm.RecordRequest("UPSTREAM_UNAVAILABLE")
	pm.RecordRequestDuration(1.5)

	// Cache metrics
	pm.RecordCacheHit("document")
	pm.RecordCacheMiss("raw")

	// Coalescing and translation metrics
	pm.RecordFlightJoin()
	pm.RecordTranslationDegraded()

	// Pool gauges
	pm.UpdatePoolSize(8)
	pm.UpdatePoolAvailable(6)
	pm.UpdateBrowserRestarts(1)

	// Ledger metrics
	pm.RecordLedgerOp("reserve", "changed")
	pm.RecordLedgerOp("commit", "replay")

	// Error metrics
	pm.RecordError("RENDER_FAILED")

	// If we got here without panicking, metrics recording works
	assert.NotNil(t, pm)
}

func TestPrometheusMetrics_HTTPEndpoint(t *testing.T) {
	logger := zap.NewNop()
	registry := prometheus.NewRegistry()
	pm := NewPrometheusMetricsWithRegistry("dejavuplus", registry, logger)

	pm.RecordRequest("success")
	pm.RecordCacheHit("document")

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/metrics")
	ctx.Request.Header.SetMethod("GET")

	pm.ServeHTTP(ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Header.Peek("Content-Type")), "text/plain")

	body := string(ctx.Response.Body())
	assert.Contains(t, body, "dejavuplus_rp_requests_total")
	assert.Contains(t, body, "dejavuplus_rp_cache_hits_total")
	assert.Contains(t, body, "# HELP")
	assert.Contains(t, body, "# TYPE")
}
