// Package pipeline orchestrates report generation: cache lookup, coalesced
// upstream fetch, translation, and rendering.
//
// The pipeline never touches the credit ledger. Callers reserve credit before
// invoking GenerateReport and commit or refund based on the result; keeping
// billing outside the pipeline means a coalesced execution shared by five
// callers still produces five independent billing decisions.
package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/dejavuplus/engine/internal/report/cache"
	"github.com/dejavuplus/engine/internal/report/render"
	"github.com/dejavuplus/engine/internal/report/singleflight"
	"github.com/dejavuplus/engine/internal/report/upstream"
	"github.com/dejavuplus/engine/internal/vin"
	"github.com/dejavuplus/engine/pkg/types"
)

// rawLanguage keys the language-independent raw payload cache. Upstream
// responses do not vary by target language, so one fetch serves every
// translation of the same subject.
const rawLanguage = "raw"

// Fetcher retrieves raw report material from the report source.
type Fetcher interface {
	Fetch(ctx context.Context, vin string) (*upstream.Payload, error)
	FetchPage(ctx context.Context, pageURL string) (string, error)
}

// Translator localizes report markup. It never fails outright; degraded
// reports whether any fragment kept its original text.
type Translator interface {
	TranslateHTML(ctx context.Context, doc string, target string) (translated string, degraded bool)
}

// DocRenderer converts markup or a hosted page into a PDF document.
type DocRenderer interface {
	Render(ctx context.Context, in render.Input) ([]byte, error)
}

// Pipeline generates reports end to end.
type Pipeline struct {
	fetcher    Fetcher
	translator Translator
	renderer   DocRenderer
	rawCache   *cache.Cache
	docCache   *cache.Cache
	flights    *singleflight.Group
	logger     *zap.Logger
}

func New(fetcher Fetcher, translator Translator, renderer DocRenderer, rawCache, docCache *cache.Cache, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		fetcher:    fetcher,
		translator: translator,
		renderer:   renderer,
		rawCache:   rawCache,
		docCache:   docCache,
		flights:    singleflight.NewGroup(logger),
		logger:     logger,
	}
}

// GenerateReport produces a finished report document for one subject in one
// language. requestID identifies the caller's billing attempt and must be
// non-empty; it plays no role in caching or coalescing, which key on
// (subject, language) alone.
func (p *Pipeline) GenerateReport(ctx context.Context, subjectID, language, requestID string) *Result {
	if requestID == "" {
		return failureResult(types.ErrorCodeInvalidInput)
	}

	normalized, err := vin.Parse(subjectID)
	if err != nil {
		p.logger.Info("Rejected malformed subject id",
			zap.String("subject_id", subjectID),
			zap.String("request_id", requestID))
		return failureResult(types.ErrorCodeInvalidInput)
	}

	lang := language
	if lang == "" {
		lang = "en"
	}
	docFP := cache.NewFingerprint(normalized, lang)

	start := time.Now()
	if doc, ok := p.docCache.Get(docFP); ok {
		p.logger.Info("Report served from document cache",
			zap.String("fingerprint", docFP.String()),
			zap.String("request_id", requestID),
			zap.Int("document_size", len(doc)))
		return successResult(doc, "cache", false)
	}

	// Work runs detached from this caller's context: a coalesced execution
	// must survive any single waiter hanging up.
	genCtx := context.WithoutCancel(ctx)
	res, shared, err := p.flights.Execute(ctx, docFP, func() (singleflight.Result, error) {
		return p.generate(genCtx, docFP)
	})
	if err != nil {
		code := classifyError(err)
		p.logger.Warn("Report generation failed",
			zap.String("fingerprint", docFP.String()),
			zap.String("request_id", requestID),
			zap.String("error_code", code),
			zap.Bool("shared", shared),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return failureResult(code)
	}

	source := "generated"
	if shared {
		source = "shared"
	}
	p.logger.Info("Report generated",
		zap.String("fingerprint", docFP.String()),
		zap.String("request_id", requestID),
		zap.String("source", source),
		zap.Bool("translation_degraded", res.Degraded),
		zap.Int("document_size", len(res.Document)),
		zap.Duration("elapsed", time.Since(start)))

	return successResult(res.Document, source, res.Degraded)
}

// generate is the leader's path: resolve the raw payload, localize it, render
// it, and cache the finished document.
func (p *Pipeline) generate(ctx context.Context, fp cache.Fingerprint) (singleflight.Result, error) {
	payload, err := p.rawPayload(ctx, fp.SubjectID)
	if err != nil {
		return singleflight.Result{}, err
	}

	res, err := p.materialize(ctx, payload, fp.Language)
	if err != nil {
		return singleflight.Result{}, err
	}

	// Degraded documents stay out of the cache so a later request retries
	// translation once the backends recover.
	if !res.Degraded {
		p.docCache.Put(fp, res.Document)
	}
	return res, nil
}

// rawPayload returns the upstream payload for one subject, from the raw cache
// when fresh. Raw entries are language-independent.
func (p *Pipeline) rawPayload(ctx context.Context, subjectID string) (*upstream.Payload, error) {
	rawFP := cache.NewFingerprint(subjectID, rawLanguage)

	if encoded, ok := p.rawCache.Get(rawFP); ok {
		if payload, err := decodePayload(encoded); err == nil {
			p.logger.Debug("Raw payload served from cache",
				zap.String("subject_id", subjectID),
				zap.String("shape", payload.Kind.String()))
			return payload, nil
		}
		// Undecodable entry: fall through to a fresh fetch
		p.logger.Warn("Dropping undecodable raw cache entry",
			zap.String("subject_id", subjectID))
	}

	payload, err := p.fetcher.Fetch(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	p.rawCache.Put(rawFP, encodePayload(payload))
	return payload, nil
}

// materialize turns a classified payload into a finished document in the
// target language.
func (p *Pipeline) materialize(ctx context.Context, payload *upstream.Payload, lang string) (singleflight.Result, error) {
	switch payload.Kind {
	case upstream.KindDocument:
		// Finished PDFs pass through untranslated; there is no markup to
		// localize.
		return singleflight.Result{Document: payload.Document}, nil

	case upstream.KindMarkup:
		return p.renderMarkup(ctx, payload.Markup, lang)

	case upstream.KindURL:
		if lang == "en" {
			doc, err := p.renderer.Render(ctx, render.Input{URL: payload.URL})
			if err != nil {
				return singleflight.Result{}, err
			}
			return singleflight.Result{Document: doc}, nil
		}
		// Translation needs the markup itself, so pull the hosted page down
		// and continue on the markup path.
		page, err := p.fetcher.FetchPage(ctx, payload.URL)
		if err != nil {
			return singleflight.Result{}, err
		}
		return p.renderMarkup(ctx, page, lang)

	default:
		return singleflight.Result{}, upstream.ErrUnrecognizedShape
	}
}

func (p *Pipeline) renderMarkup(ctx context.Context, markup, lang string) (singleflight.Result, error) {
	degraded := false
	if lang != "en" {
		markup, degraded = p.translator.TranslateHTML(ctx, markup, lang)
	}

	doc, err := p.renderer.Render(ctx, render.Input{Markup: markup})
	if err != nil {
		return singleflight.Result{}, err
	}
	return singleflight.Result{Document: doc, Degraded: degraded}, nil
}

// classifyError maps internal failures onto the stable error code surface.
func classifyError(err error) string {
	switch {
	case errors.Is(err, upstream.ErrUnavailable),
		errors.Is(err, upstream.ErrEmptyResponse),
		errors.Is(err, upstream.ErrUnrecognizedShape):
		return types.ErrorCodeUpstreamUnavailable
	case errors.Is(err, render.ErrPoolExhausted),
		errors.Is(err, render.ErrRenderFailed):
		return types.ErrorCodeRenderFailed
	default:
		return types.ErrorCodeRenderFailed
	}
}

// InFlight reports the number of coalesced generations currently running.
func (p *Pipeline) InFlight() int {
	return p.flights.InFlight()
}
