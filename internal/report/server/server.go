// Package server exposes the report service over HTTP.
package server

import (
	"context"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/dejavuplus/engine/internal/report/ledger"
	"github.com/dejavuplus/engine/internal/report/metrics"
	"github.com/dejavuplus/engine/internal/report/pipeline"
	"github.com/dejavuplus/engine/internal/report/render/chrome"
)

// Generator produces report documents.
type Generator interface {
	GenerateReport(ctx context.Context, subjectID, language, requestID string) *pipeline.Result
}

// Billing is the ledger surface the HTTP layer drives: reserve before
// generation, then commit or refund based on the outcome.
type Billing interface {
	Reserve(ctx context.Context, requestID string, meta ledger.Meta) (bool, error)
	Commit(ctx context.Context, requestID string, meta ledger.Meta) (bool, error)
	Refund(ctx context.Context, requestID string, meta ledger.Meta) (bool, error)
}

// Pinger reports whether the backing store answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PoolInspector exposes render pool statistics for health reporting.
type PoolInspector interface {
	Stats() chrome.PoolStats
}

// Deps carries everything the handlers need.
type Deps struct {
	Generator Generator
	Billing   Billing
	Store     Pinger
	Pool      PoolInspector
	Metrics   *metrics.MetricsCollector
	Logger    *zap.Logger
}

// CreateHTTPHandler creates the main HTTP request handler with routing
func CreateHTTPHandler(deps *Deps) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())
		method := string(ctx.Method())

		switch {
		case method == "POST" && path == "/report":
			HandleReport(ctx, deps)
		case method == "GET" && path == "/health":
			HandleHealth(ctx, deps)
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			ctx.SetBodyString("Not Found")
		}
	}
}
