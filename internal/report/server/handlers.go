package server

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/dejavuplus/engine/internal/common/requestid"
	"github.com/dejavuplus/engine/internal/report/ledger"
	"github.com/dejavuplus/engine/internal/report/pipeline"
	"github.com/dejavuplus/engine/pkg/types"
)

// ReportRequest is the POST /report body.
type ReportRequest struct {
	VIN       string `json:"vin"`
	Language  string `json:"language"`
	RequestID string `json:"request_id"`
	Caller    string `json:"caller"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Success   bool   `json:"success"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status           string `json:"status"`
	Store            string `json:"store"`
	PoolSize         int    `json:"pool_size"`
	AvailableHandles int    `json:"available_handles"`
	ActiveHandles    int    `json:"active_handles"`
	BrowserRestarts  int64  `json:"browser_restarts"`
}

// HandleReport processes POST /report requests. The handler owns the billing
// bracket: it reserves one credit under the caller's request ID, runs
// generation, and settles the reservation from the outcome. Retries with the
// same request ID replay against the settled ledger entry and are never
// double-charged.
func HandleReport(ctx *fasthttp.RequestCtx, deps *Deps) {
	startTime := time.Now()

	var req ReportRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, deps, fasthttp.StatusBadRequest, types.ErrorCodeInvalidInput,
			"Invalid JSON body", "")
		deps.Logger.Warn("Invalid request body", zap.Error(err))
		return
	}

	reqID, err := requestid.Sanitize(req.RequestID)
	if err != nil {
		writeError(ctx, deps, fasthttp.StatusBadRequest, types.ErrorCodeInvalidInput,
			"request_id field is required", "")
		deps.Logger.Warn("Missing or unusable request_id in report request")
		return
	}

	meta := ledger.Meta{}
	if req.Caller != "" {
		meta[ledger.MetaCallerKey] = req.Caller
	}

	reserved, err := deps.Billing.Reserve(ctx, reqID, meta)
	if err != nil {
		status := fasthttp.StatusBadRequest
		code := types.ErrorCodeInvalidInput
		if errors.Is(err, ledger.ErrUnreachable) {
			status = fasthttp.StatusServiceUnavailable
			code = types.ErrorCodeLedgerUnreachable
			deps.Metrics.RecordLedgerError("reserve")
		}
		writeError(ctx, deps, status, code, pipelineMessage(code), reqID)
		deps.Logger.Error("Credit reservation failed",
			zap.String("request_id", reqID),
			zap.Error(err))
		return
	}
	deps.Metrics.RecordLedgerReserve(reserved)

	result := deps.Generator.GenerateReport(ctx, req.VIN, req.Language, reqID)
	deps.Metrics.RecordRequestDuration(time.Since(startTime).Seconds())

	if !result.Success {
		settleFailure(ctx, deps, reqID, meta)
		deps.Metrics.RecordFailure(result.ErrorCode)
		writeError(ctx, deps, statusFor(result.ErrorCode), result.ErrorCode, result.UserMessage, reqID)
		return
	}

	if changed, err := deps.Billing.Commit(ctx, reqID, meta); err != nil {
		// The document exists and the reservation stands; the retry with the
		// same request ID will settle it without a second charge.
		deps.Metrics.RecordLedgerError("commit")
		deps.Logger.Error("Commit failed after successful generation",
			zap.String("request_id", reqID),
			zap.Error(err))
	} else {
		deps.Metrics.RecordLedgerCommit(changed)
	}

	recordOutcome(deps, result)

	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/pdf")
	ctx.Response.Header.Set("X-Request-ID", reqID)
	for k, v := range result.Metadata {
		switch k {
		case pipeline.MetaSource:
			ctx.Response.Header.Set("X-Report-Source", v)
		case pipeline.MetaTranslationDegraded:
			ctx.Response.Header.Set("X-Translation-Degraded", v)
		}
	}
	ctx.SetBody(result.Document)

	deps.Logger.Info("Report request served",
		zap.String("request_id", reqID),
		zap.String("source", result.Metadata[pipeline.MetaSource]),
		zap.Int("document_size", len(result.Document)),
		zap.Duration("elapsed", time.Since(startTime)))
}

// settleFailure refunds the reservation after a failed generation. A refund
// that cannot reach the store is logged and left for the caller's retry.
func settleFailure(ctx *fasthttp.RequestCtx, deps *Deps, reqID string, meta ledger.Meta) {
	changed, err := deps.Billing.Refund(ctx, reqID, meta)
	if err != nil {
		deps.Metrics.RecordLedgerError("refund")
		deps.Logger.Error("Refund failed",
			zap.String("request_id", reqID),
			zap.Error(err))
		return
	}
	deps.Metrics.RecordLedgerRefund(changed)
}

func recordOutcome(deps *Deps, result *pipeline.Result) {
	switch result.Metadata[pipeline.MetaSource] {
	case "cache":
		deps.Metrics.RecordCacheServed()
	case "shared":
		deps.Metrics.RecordShared()
	default:
		deps.Metrics.RecordSuccess()
	}
	if result.Metadata[pipeline.MetaTranslationDegraded] == "true" {
		deps.Metrics.RecordTranslationDegraded()
	}
}

// HandleHealth returns the current health status, store reachability, and
// render pool statistics
func HandleHealth(ctx *fasthttp.RequestCtx, deps *Deps) {
	stats := deps.Pool.Stats()

	resp := HealthResponse{
		Status:           "ok",
		Store:            "ok",
		PoolSize:         stats.TotalHandles,
		AvailableHandles: stats.AvailableHandles,
		ActiveHandles:    stats.ActiveHandles,
		BrowserRestarts:  stats.BrowserRestarts,
	}

	status := fasthttp.StatusOK
	if err := deps.Store.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Store = "unreachable"
		status = fasthttp.StatusServiceUnavailable
		deps.Logger.Warn("Health check: store unreachable", zap.Error(err))
	}

	deps.Metrics.UpdatePoolStats(stats.TotalHandles, stats.AvailableHandles, stats.BrowserRestarts)

	writeJSON(ctx, status, resp, deps.Logger)
}

func writeError(ctx *fasthttp.RequestCtx, deps *Deps, status int, code, message, reqID string) {
	writeJSON(ctx, status, ErrorResponse{
		Success:   false,
		ErrorCode: code,
		Message:   message,
		RequestID: reqID,
	}, deps.Logger)
}

func writeJSON(ctx *fasthttp.RequestCtx, statusCode int, response interface{}, logger *zap.Logger) {
	body, err := json.Marshal(response)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString(`{"success":false,"error_code":"INTERNAL"}`)
		ctx.SetContentType("application/json")
		logger.Error("Failed to marshal JSON response", zap.Error(err))
		return
	}

	ctx.SetStatusCode(statusCode)
	ctx.SetBody(body)
	ctx.SetContentType("application/json")
}

// statusFor maps error codes onto HTTP status codes.
func statusFor(code string) int {
	switch code {
	case types.ErrorCodeInvalidInput:
		return fasthttp.StatusBadRequest
	case types.ErrorCodeUpstreamUnavailable:
		return fasthttp.StatusBadGateway
	case types.ErrorCodeLedgerUnreachable:
		return fasthttp.StatusServiceUnavailable
	default:
		return fasthttp.StatusInternalServerError
	}
}

// pipelineMessage mirrors the pipeline's user-facing text for failures raised
// before generation starts.
func pipelineMessage(code string) string {
	switch code {
	case types.ErrorCodeLedgerUnreachable:
		return "The billing service is temporarily unavailable. Please try again shortly."
	default:
		return "The request could not be accepted. Check the input and try again."
	}
}
