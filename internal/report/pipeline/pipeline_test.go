package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dejavuplus/engine/internal/report/cache"
	"github.com/dejavuplus/engine/internal/report/render"
	"github.com/dejavuplus/engine/internal/report/upstream"
	"github.com/dejavuplus/engine/pkg/types"
)

const testVIN = "1HGBH41JXMN109186"

type fakeFetcher struct {
	payload  *upstream.Payload
	err      error
	page     string
	pageErr  error
	gate     chan struct{} // when set, Fetch blocks until closed
	fetches  atomic.Int64
	pageHits atomic.Int64
}

func (f *fakeFetcher) Fetch(ctx context.Context, vin string) (*upstream.Payload, error) {
	f.fetches.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.payload, nil
}

func (f *fakeFetcher) FetchPage(ctx context.Context, pageURL string) (string, error) {
	f.pageHits.Add(1)
	return f.page, f.pageErr
}

type fakeTranslator struct {
	degraded bool
	calls    atomic.Int64
}

func (f *fakeTranslator) TranslateHTML(ctx context.Context, doc string, target string) (string, bool) {
	f.calls.Add(1)
	return "[" + target + "]" + doc, f.degraded
}

type fakeRenderer struct {
	err     error
	calls   atomic.Int64
	mu      sync.Mutex
	lastIn  render.Input
	history []render.Input
}

func (f *fakeRenderer) Render(ctx context.Context, in render.Input) ([]byte, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastIn = in
	f.history = append(f.history, in)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if in.Markup != "" {
		return []byte("%PDF rendered:" + in.Markup), nil
	}
	return []byte("%PDF navigated:" + in.URL), nil
}

func (f *fakeRenderer) last() render.Input {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastIn
}

func newTestPipeline(f *fakeFetcher, tr *fakeTranslator, r *fakeRenderer) *Pipeline {
	raw := cache.New(10*time.Minute, types.CompressionNone, zap.NewNop())
	doc := cache.New(30*time.Minute, types.CompressionNone, zap.NewNop())
	return New(f, tr, r, raw, doc, zap.NewNop())
}

func TestGenerateReportRejectsBadVIN(t *testing.T) {
	f := &fakeFetcher{}
	p := newTestPipeline(f, &fakeTranslator{}, &fakeRenderer{})

	res := p.GenerateReport(context.Background(), "NOT-A-VIN", "en", "req-1")
	assert.False(t, res.Success)
	assert.Equal(t, types.ErrorCodeInvalidInput, res.ErrorCode)
	assert.NotEmpty(t, res.UserMessage)
	assert.Equal(t, int64(0), f.fetches.Load(), "no upstream call for invalid input")
}

func TestGenerateReportRequiresRequestID(t *testing.T) {
	p := newTestPipeline(&fakeFetcher{}, &fakeTranslator{}, &fakeRenderer{})

	res := p.GenerateReport(context.Background(), testVIN, "en", "")
	assert.False(t, res.Success)
	assert.Equal(t, types.ErrorCodeInvalidInput, res.ErrorCode)
}

func TestGenerateReportDocumentPassthrough(t *testing.T) {
	f := &fakeFetcher{payload: &upstream.Payload{Kind: upstream.KindDocument, Document: []byte("%PDF original")}}
	tr := &fakeTranslator{}
	r := &fakeRenderer{}
	p := newTestPipeline(f, tr, r)

	res := p.GenerateReport(context.Background(), testVIN, "ar", "req-1")
	require.True(t, res.Success)
	assert.Equal(t, []byte("%PDF original"), res.Document)
	assert.Equal(t, int64(0), tr.calls.Load(), "finished documents are not translated")
	assert.Equal(t, int64(0), r.calls.Load())
	assert.Equal(t, "generated", res.Metadata[MetaSource])
}

func TestGenerateReportMarkupEnglishSkipsTranslation(t *testing.T) {
	f := &fakeFetcher{payload: &upstream.Payload{Kind: upstream.KindMarkup, Markup: "<p>report</p>"}}
	tr := &fakeTranslator{}
	r := &fakeRenderer{}
	p := newTestPipeline(f, tr, r)

	res := p.GenerateReport(context.Background(), testVIN, "en", "req-1")
	require.True(t, res.Success)
	assert.Equal(t, int64(0), tr.calls.Load())
	assert.Equal(t, "<p>report</p>", r.last().Markup)
}

func TestGenerateReportEmptyLanguageDefaultsToEnglish(t *testing.T) {
	f := &fakeFetcher{payload: &upstream.Payload{Kind: upstream.KindMarkup, Markup: "<p>report</p>"}}
	tr := &fakeTranslator{}
	p := newTestPipeline(f, tr, &fakeRenderer{})

	res := p.GenerateReport(context.Background(), testVIN, "", "req-1")
	require.True(t, res.Success)
	assert.Equal(t, int64(0), tr.calls.Load())
}

func TestGenerateReportMarkupTranslated(t *testing.T) {
	f := &fakeFetcher{payload: &upstream.Payload{Kind: upstream.KindMarkup, Markup: "<p>report</p>"}}
	tr := &fakeTranslator{}
	r := &fakeRenderer{}
	p := newTestPipeline(f, tr, r)

	res := p.GenerateReport(context.Background(), testVIN, "ar", "req-1")
	require.True(t, res.Success)
	assert.Equal(t, int64(1), tr.calls.Load())
	assert.Equal(t, "[ar]<p>report</p>", r.last().Markup)
	assert.NotContains(t, res.Metadata, MetaTranslationDegraded)
}

func TestGenerateReportURLEnglishRendersDirectly(t *testing.T) {
	f := &fakeFetcher{payload: &upstream.Payload{Kind: upstream.KindURL, URL: "https://reports.example.com/r/1"}}
	r := &fakeRenderer{}
	p := newTestPipeline(f, &fakeTranslator{}, r)

	res := p.GenerateReport(context.Background(), testVIN, "en", "req-1")
	require.True(t, res.Success)
	assert.Equal(t, "https://reports.example.com/r/1", r.last().URL)
	assert.Equal(t, int64(0), f.pageHits.Load(), "hosted page not fetched for English")
}

func TestGenerateReportURLTranslatedViaPageFetch(t *testing.T) {
	f := &fakeFetcher{
		payload: &upstream.Payload{Kind: upstream.KindURL, URL: "https://reports.example.com/r/1"},
		page:    "<p>hosted report</p>",
	}
	tr := &fakeTranslator{}
	r := &fakeRenderer{}
	p := newTestPipeline(f, tr, r)

	res := p.GenerateReport(context.Background(), testVIN, "ckb", "req-1")
	require.True(t, res.Success)
	assert.Equal(t, int64(1), f.pageHits.Load())
	assert.Equal(t, int64(1), tr.calls.Load())
	assert.Equal(t, "[ckb]<p>hosted report</p>", r.last().Markup)
}

func TestGenerateReportDegradedMetadata(t *testing.T) {
	f := &fakeFetcher{payload: &upstream.Payload{Kind: upstream.KindMarkup, Markup: "<p>report</p>"}}
	tr := &fakeTranslator{degraded: true}
	r := &fakeRenderer{}
	p := newTestPipeline(f, tr, r)

	res := p.GenerateReport(context.Background(), testVIN, "ar", "req-1")
	require.True(t, res.Success, "degraded translation still delivers a document")
	assert.Equal(t, "true", res.Metadata[MetaTranslationDegraded])
}

func TestGenerateReportDegradedNotCached(t *testing.T) {
	f := &fakeFetcher{payload: &upstream.Payload{Kind: upstream.KindMarkup, Markup: "<p>report</p>"}}
	tr := &fakeTranslator{degraded: true}
	r := &fakeRenderer{}
	p := newTestPipeline(f, tr, r)

	res := p.GenerateReport(context.Background(), testVIN, "ar", "req-1")
	require.True(t, res.Success)

	res = p.GenerateReport(context.Background(), testVIN, "ar", "req-2")
	require.True(t, res.Success)
	assert.Equal(t, int64(2), r.calls.Load(), "degraded document regenerated, not cached")
	assert.Equal(t, int64(1), f.fetches.Load(), "raw payload still cached")
}

func TestGenerateReportDocumentCacheHit(t *testing.T) {
	f := &fakeFetcher{payload: &upstream.Payload{Kind: upstream.KindMarkup, Markup: "<p>report</p>"}}
	r := &fakeRenderer{}
	p := newTestPipeline(f, &fakeTranslator{}, r)

	first := p.GenerateReport(context.Background(), testVIN, "en", "req-1")
	require.True(t, first.Success)

	second := p.GenerateReport(context.Background(), testVIN, "en", "req-2")
	require.True(t, second.Success)
	assert.Equal(t, first.Document, second.Document)
	assert.Equal(t, "cache", second.Metadata[MetaSource])
	assert.Equal(t, int64(1), f.fetches.Load())
	assert.Equal(t, int64(1), r.calls.Load())
}

func TestGenerateReportRawCacheSurvivesRenderFailure(t *testing.T) {
	f := &fakeFetcher{payload: &upstream.Payload{Kind: upstream.KindMarkup, Markup: "<p>report</p>"}}
	r := &fakeRenderer{err: render.ErrRenderFailed}
	p := newTestPipeline(f, &fakeTranslator{}, r)

	res := p.GenerateReport(context.Background(), testVIN, "en", "req-1")
	assert.False(t, res.Success)
	assert.Equal(t, types.ErrorCodeRenderFailed, res.ErrorCode)

	r.err = nil
	res = p.GenerateReport(context.Background(), testVIN, "en", "req-2")
	require.True(t, res.Success)
	assert.Equal(t, int64(1), f.fetches.Load(), "retry reuses cached raw payload")
}

func TestGenerateReportRawCacheSharedAcrossLanguages(t *testing.T) {
	f := &fakeFetcher{payload: &upstream.Payload{Kind: upstream.KindMarkup, Markup: "<p>report</p>"}}
	r := &fakeRenderer{}
	p := newTestPipeline(f, &fakeTranslator{}, r)

	require.True(t, p.GenerateReport(context.Background(), testVIN, "en", "req-1").Success)
	require.True(t, p.GenerateReport(context.Background(), testVIN, "ar", "req-2").Success)

	assert.Equal(t, int64(1), f.fetches.Load(), "one fetch serves both languages")
	assert.Equal(t, int64(2), r.calls.Load(), "each language rendered separately")
}

func TestGenerateReportUpstreamFailure(t *testing.T) {
	f := &fakeFetcher{err: upstream.ErrUnavailable}
	p := newTestPipeline(f, &fakeTranslator{}, &fakeRenderer{})

	res := p.GenerateReport(context.Background(), testVIN, "en", "req-1")
	assert.False(t, res.Success)
	assert.Equal(t, types.ErrorCodeUpstreamUnavailable, res.ErrorCode)
	assert.NotEmpty(t, res.UserMessage)
}

func TestGenerateReportPoolExhaustionMapsToRenderFailed(t *testing.T) {
	f := &fakeFetcher{payload: &upstream.Payload{Kind: upstream.KindMarkup, Markup: "<p>report</p>"}}
	r := &fakeRenderer{err: render.ErrPoolExhausted}
	p := newTestPipeline(f, &fakeTranslator{}, r)

	res := p.GenerateReport(context.Background(), testVIN, "en", "req-1")
	assert.False(t, res.Success)
	assert.Equal(t, types.ErrorCodeRenderFailed, res.ErrorCode)
}

func TestGenerateReportCoalescesConcurrentRequests(t *testing.T) {
	f := &fakeFetcher{
		payload: &upstream.Payload{Kind: upstream.KindMarkup, Markup: "<p>report</p>"},
		gate:    make(chan struct{}),
	}
	r := &fakeRenderer{}
	p := newTestPipeline(f, &fakeTranslator{}, r)

	const callers = 5
	results := make([]*Result, callers)
	var started, done sync.WaitGroup
	started.Add(callers)
	done.Add(callers)

	for i := 0; i < callers; i++ {
		go func(i int) {
			defer done.Done()
			started.Done()
			results[i] = p.GenerateReport(context.Background(), testVIN, "en", "req-"+string(rune('a'+i)))
		}(i)
	}

	started.Wait()
	// Let every caller reach the coalescing point before releasing upstream
	assert.Eventually(t, func() bool { return p.InFlight() == 1 }, 2*time.Second, 10*time.Millisecond)
	close(f.gate)
	done.Wait()

	generated, shared := 0, 0
	for i, res := range results {
		require.True(t, res.Success, "caller %d", i)
		assert.Equal(t, results[0].Document, res.Document)
		switch res.Metadata[MetaSource] {
		case "generated":
			generated++
		case "shared":
			shared++
		}
	}
	assert.Equal(t, int64(1), f.fetches.Load(), "upstream hit exactly once")
	assert.Equal(t, int64(1), r.calls.Load(), "rendered exactly once")
	assert.Equal(t, 1, generated, "exactly one leader")
	assert.GreaterOrEqual(t, shared, 1, "at least one caller joined in flight")
}

func TestGenerateReportUnknownShape(t *testing.T) {
	f := &fakeFetcher{payload: &upstream.Payload{Kind: upstream.PayloadKind(99)}}
	p := newTestPipeline(f, &fakeTranslator{}, &fakeRenderer{})

	res := p.GenerateReport(context.Background(), testVIN, "en", "req-1")
	assert.False(t, res.Success)
	assert.Equal(t, types.ErrorCodeUpstreamUnavailable, res.ErrorCode)
}

func TestPayloadCodecRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload *upstream.Payload
	}{
		{"document", &upstream.Payload{Kind: upstream.KindDocument, Document: []byte("%PDF bytes")}},
		{"markup", &upstream.Payload{Kind: upstream.KindMarkup, Markup: "<p>r</p>"}},
		{"url", &upstream.Payload{Kind: upstream.KindURL, URL: "https://reports.example.com/r/1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodePayload(encodePayload(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.payload, got)
		})
	}

	_, err := decodePayload([]byte{7, 'x', 'y'})
	assert.Error(t, err)
	_, err = decodePayload(nil)
	assert.Error(t, err)
}
