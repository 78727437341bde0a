// Package render converts report markup or a hosted report URL into final
// PDF documents.
//
// Two engines run in a fixed fallback order: a native in-process converter
// that handles simple markup without a browser, and a pooled Chromium
// renderer for everything else. A render fails only when every engine that
// could serve the input has failed.
package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dejavuplus/engine/internal/report/render/chrome"
)

var (
	// ErrRenderFailed means every applicable engine failed for this input.
	ErrRenderFailed = errors.New("document rendering failed")
	// ErrPoolExhausted means the browser pool had no free handle in time.
	// Kept distinct from ErrRenderFailed so operators can tell capacity
	// starvation apart from broken renders.
	ErrPoolExhausted = errors.New("renderer pool exhausted")
	// ErrUnsupportedInput is returned by an engine that cannot serve the
	// given input shape; the next engine is tried silently.
	ErrUnsupportedInput = errors.New("input not supported by this engine")
)

// Input is one render request: either report markup or a URL to a hosted
// report page. Markup wins when both are set.
type Input struct {
	Markup string
	URL    string
}

// Engine converts one input into PDF bytes.
type Engine interface {
	Name() string
	Render(ctx context.Context, in Input) ([]byte, error)
}

// Renderer tries engines in order and returns the first valid document.
type Renderer struct {
	engines   []Engine
	validator *Validator
	logger    *zap.Logger
}

// NewRenderer builds the standard engine chain: native first, Chromium pool
// second.
func NewRenderer(pool *chrome.Pool, cfg *chrome.Config, minDocumentSize int, logger *zap.Logger) *Renderer {
	v := NewValidator(minDocumentSize)
	return &Renderer{
		engines: []Engine{
			NewNativeEngine(logger),
			&chromeEngine{inner: chrome.NewEngine(pool, cfg, v.LooksValid, logger)},
		},
		validator: v,
		logger:    logger,
	}
}

// NewRendererWithEngines is the test seam: any engine chain, same fallback
// semantics.
func NewRendererWithEngines(engines []Engine, minDocumentSize int, logger *zap.Logger) *Renderer {
	return &Renderer{
		engines:   engines,
		validator: NewValidator(minDocumentSize),
		logger:    logger,
	}
}

// Render runs the engine chain. Unsupported-input and per-engine failures
// fall through to the next engine; pool exhaustion surfaces as its own error
// so the caller can log it distinctly.
func (r *Renderer) Render(ctx context.Context, in Input) ([]byte, error) {
	if in.Markup == "" && in.URL == "" {
		return nil, fmt.Errorf("%w: empty input", ErrRenderFailed)
	}

	var lastErr error
	for _, engine := range r.engines {
		start := time.Now()
		doc, err := engine.Render(ctx, in)
		if err != nil {
			if errors.Is(err, ErrUnsupportedInput) {
				continue
			}
			if errors.Is(err, chrome.ErrPoolExhausted) {
				r.logger.Warn("Renderer pool exhausted",
					zap.String("engine", engine.Name()))
				return nil, fmt.Errorf("%w: %v", ErrPoolExhausted, err)
			}
			r.logger.Warn("Render engine failed",
				zap.String("engine", engine.Name()),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err))
			lastErr = err
			continue
		}

		if !r.validator.IsPDF(doc) {
			r.logger.Warn("Render engine produced invalid document",
				zap.String("engine", engine.Name()),
				zap.Int("size", len(doc)))
			lastErr = fmt.Errorf("invalid document from %s", engine.Name())
			continue
		}

		r.logger.Info("Document rendered",
			zap.String("engine", engine.Name()),
			zap.Int("size", len(doc)),
			zap.Duration("elapsed", time.Since(start)))
		return doc, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrRenderFailed, lastErr)
	}
	return nil, ErrRenderFailed
}

// chromeEngine adapts the chrome package's signature to the Engine interface.
type chromeEngine struct {
	inner *chrome.Engine
}

func (c *chromeEngine) Name() string { return c.inner.Name() }

func (c *chromeEngine) Render(ctx context.Context, in Input) ([]byte, error) {
	return c.inner.Render(ctx, in.Markup, in.URL)
}
