package server

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/dejavuplus/engine/internal/report/ledger"
	"github.com/dejavuplus/engine/internal/report/metrics"
	"github.com/dejavuplus/engine/internal/report/pipeline"
	"github.com/dejavuplus/engine/internal/report/render/chrome"
	"github.com/dejavuplus/engine/pkg/types"
)

type fakeGenerator struct {
	result    *pipeline.Result
	gotVIN    string
	gotLang   string
	gotReqID  string
	callCount int
}

func (f *fakeGenerator) GenerateReport(ctx context.Context, subjectID, language, requestID string) *pipeline.Result {
	f.callCount++
	f.gotVIN = subjectID
	f.gotLang = language
	f.gotReqID = requestID
	return f.result
}

type fakeBilling struct {
	reserveErr error
	commitErr  error
	refundErr  error

	reserves, commits, refunds int
	lastMeta                   ledger.Meta
}

func (f *fakeBilling) Reserve(ctx context.Context, requestID string, meta ledger.Meta) (bool, error) {
	f.reserves++
	f.lastMeta = meta
	return f.reserveErr == nil, f.reserveErr
}

func (f *fakeBilling) Commit(ctx context.Context, requestID string, meta ledger.Meta) (bool, error) {
	f.commits++
	return f.commitErr == nil, f.commitErr
}

func (f *fakeBilling) Refund(ctx context.Context, requestID string, meta ledger.Meta) (bool, error) {
	f.refunds++
	return f.refundErr == nil, f.refundErr
}

type fakePinger struct{ err error }

func (f *fakePinger) Ping(ctx context.Context) error { return f.err }

type fakePool struct{ stats chrome.PoolStats }

func (f *fakePool) Stats() chrome.PoolStats { return f.stats }

func newTestDeps(gen *fakeGenerator, billing *fakeBilling) *Deps {
	return &Deps{
		Generator: gen,
		Billing:   billing,
		Store:     &fakePinger{},
		Pool:      &fakePool{stats: chrome.PoolStats{TotalHandles: 8, AvailableHandles: 6, ActiveHandles: 2}},
		Metrics:   metrics.NewMetricsCollectorWithRegistry("dejavuplus", prometheus.NewRegistry(), zap.NewNop()),
		Logger:    zap.NewNop(),
	}
}

func postReport(t *testing.T, deps *Deps, body string) *fasthttp.RequestCtx {
	t.Helper()
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/report")
	ctx.Request.Header.SetMethod("POST")
	ctx.Request.SetBodyString(body)
	CreateHTTPHandler(deps)(ctx)
	return ctx
}

func successResult() *pipeline.Result {
	return &pipeline.Result{
		Success:  true,
		Document: []byte("%PDF document"),
		Metadata: map[string]string{pipeline.MetaSource: "generated"},
	}
}

func TestHandleReportSuccess(t *testing.T) {
	gen := &fakeGenerator{result: successResult()}
	billing := &fakeBilling{}
	deps := newTestDeps(gen, billing)

	ctx := postReport(t, deps, `{"vin":"1HGBH41JXMN109186","language":"ar","request_id":"req-1","caller":"bot-7"}`)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "application/pdf", string(ctx.Response.Header.ContentType()))
	assert.Equal(t, []byte("%PDF document"), ctx.Response.Body())
	assert.Equal(t, "req-1", string(ctx.Response.Header.Peek("X-Request-ID")))
	assert.Equal(t, "generated", string(ctx.Response.Header.Peek("X-Report-Source")))

	assert.Equal(t, "1HGBH41JXMN109186", gen.gotVIN)
	assert.Equal(t, "ar", gen.gotLang)
	assert.Equal(t, "req-1", gen.gotReqID)

	assert.Equal(t, 1, billing.reserves)
	assert.Equal(t, 1, billing.commits)
	assert.Equal(t, 0, billing.refunds)
	assert.Equal(t, "bot-7", billing.lastMeta[ledger.MetaCallerKey])
}

func TestHandleReportFailureRefunds(t *testing.T) {
	gen := &fakeGenerator{result: &pipeline.Result{
		Success:     false,
		ErrorCode:   types.ErrorCodeUpstreamUnavailable,
		UserMessage: "The report service is temporarily unavailable. You have not been charged.",
		Metadata:    map[string]string{},
	}}
	billing := &fakeBilling{}
	deps := newTestDeps(gen, billing)

	ctx := postReport(t, deps, `{"vin":"1HGBH41JXMN109186","language":"en","request_id":"req-2"}`)

	assert.Equal(t, fasthttp.StatusBadGateway, ctx.Response.StatusCode())
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, types.ErrorCodeUpstreamUnavailable, resp.ErrorCode)
	assert.NotEmpty(t, resp.Message)

	assert.Equal(t, 1, billing.reserves)
	assert.Equal(t, 0, billing.commits)
	assert.Equal(t, 1, billing.refunds)
}

func TestHandleReportInvalidJSON(t *testing.T) {
	billing := &fakeBilling{}
	deps := newTestDeps(&fakeGenerator{}, billing)

	ctx := postReport(t, deps, `{not json`)

	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
	assert.Equal(t, 0, billing.reserves, "no reservation for unparseable input")
}

func TestHandleReportMissingRequestID(t *testing.T) {
	billing := &fakeBilling{}
	deps := newTestDeps(&fakeGenerator{}, billing)

	ctx := postReport(t, deps, `{"vin":"1HGBH41JXMN109186","language":"en","request_id":"  "}`)

	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
	assert.Equal(t, types.ErrorCodeInvalidInput, resp.ErrorCode)
	assert.Equal(t, 0, billing.reserves)
}

func TestHandleReportRequestIDSanitized(t *testing.T) {
	gen := &fakeGenerator{result: successResult()}
	billing := &fakeBilling{}
	deps := newTestDeps(gen, billing)

	postReport(t, deps, `{"vin":"1HGBH41JXMN109186","language":"en","request_id":"req 1!@#"}`)

	assert.Equal(t, "req-1", gen.gotReqID, "spaces and symbols normalized deterministically")
}

func TestHandleReportLedgerUnreachable(t *testing.T) {
	gen := &fakeGenerator{}
	billing := &fakeBilling{reserveErr: ledger.ErrUnreachable}
	deps := newTestDeps(gen, billing)

	ctx := postReport(t, deps, `{"vin":"1HGBH41JXMN109186","language":"en","request_id":"req-3"}`)

	assert.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
	assert.Equal(t, types.ErrorCodeLedgerUnreachable, resp.ErrorCode)
	assert.Equal(t, 0, gen.callCount, "no generation without a reservation")
}

func TestHandleReportCommitFailureStillDelivers(t *testing.T) {
	gen := &fakeGenerator{result: successResult()}
	billing := &fakeBilling{commitErr: ledger.ErrUnreachable}
	deps := newTestDeps(gen, billing)

	ctx := postReport(t, deps, `{"vin":"1HGBH41JXMN109186","language":"en","request_id":"req-4"}`)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), "document delivered despite pending commit")
	assert.Equal(t, []byte("%PDF document"), ctx.Response.Body())
	assert.Equal(t, 0, billing.refunds, "reservation left for the retry to settle")
}

func TestHandleReportDegradedHeader(t *testing.T) {
	gen := &fakeGenerator{result: &pipeline.Result{
		Success:  true,
		Document: []byte("%PDF document"),
		Metadata: map[string]string{
			pipeline.MetaSource:              "generated",
			pipeline.MetaTranslationDegraded: "true",
		},
	}}
	deps := newTestDeps(gen, &fakeBilling{})

	ctx := postReport(t, deps, `{"vin":"1HGBH41JXMN109186","language":"ckb","request_id":"req-5"}`)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "true", string(ctx.Response.Header.Peek("X-Translation-Degraded")))
}

func TestHandleHealth(t *testing.T) {
	deps := newTestDeps(&fakeGenerator{}, &fakeBilling{})

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/health")
	ctx.Request.Header.SetMethod("GET")
	CreateHTTPHandler(deps)(ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 8, resp.PoolSize)
	assert.Equal(t, 6, resp.AvailableHandles)
}

func TestHandleHealthStoreDown(t *testing.T) {
	deps := newTestDeps(&fakeGenerator{}, &fakeBilling{})
	deps.Store = &fakePinger{err: errors.New("connection refused")}

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/health")
	ctx.Request.Header.SetMethod("GET")
	CreateHTTPHandler(deps)(ctx)

	assert.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "unreachable", resp.Store)
}

func TestRouterUnknownPath(t *testing.T) {
	deps := newTestDeps(&fakeGenerator{}, &fakeBilling{})

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/nope")
	ctx.Request.Header.SetMethod("GET")
	CreateHTTPHandler(deps)(ctx)

	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}
