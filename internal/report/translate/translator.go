// Package translate renders report text into the requested language.
//
// Commercial and self-hosted backends are raced concurrently under a short
// per-backend budget; the first one answering with the right number of
// fragments wins. If none does, a free public batch endpoint takes over.
// Kurdish output gets a final deterministic script-correction pass. The
// package never fails a request outright: when everything is down the
// original texts come back unchanged, flagged as degraded.
package translate

import (
	"context"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/dejavuplus/engine/internal/common/configtypes"
)

// Translator races the configured backends per batch.
type Translator struct {
	cfg      *configtypes.TranslateConfig
	backends []Backend
	free     *freeTranslator
	cache    *batchCache
	logger   *zap.Logger
}

func NewTranslator(cfg *configtypes.TranslateConfig, logger *zap.Logger) (*Translator, error) {
	http := &fasthttp.Client{
		ReadTimeout:  cfg.TotalTimeout.ToDuration(),
		WriteTimeout: cfg.TotalTimeout.ToDuration(),
	}

	backends := make([]Backend, 0, len(cfg.Backends))
	for _, bc := range cfg.Backends {
		b, err := NewBackend(bc, http)
		if err != nil {
			return nil, err
		}
		backends = append(backends, b)
	}

	return &Translator{
		cfg:      cfg,
		backends: backends,
		free:     newFreeTranslator(cfg.FreeEndpoint, cfg.FreeChunkLimit, http, logger),
		cache:    newBatchCache(cfg.CacheTTL.ToDuration(), cfg.CacheMaxSize),
		logger:   logger,
	}, nil
}

// TranslateBatch translates texts into target, always returning exactly
// len(texts) outputs in order. Degraded reports that at least one fragment
// came back untranslated because every backend and the fallback failed for
// it. English is an identity mapping.
func (t *Translator) TranslateBatch(ctx context.Context, texts []string, target string) (out []string, degraded bool) {
	if len(texts) == 0 {
		return nil, false
	}

	targetLang := normalizeTarget(target)
	kurdish := isKurdish(target)

	if targetLang == "en" {
		return append([]string(nil), texts...), false
	}

	// Kurdish inputs may arrive in Latin script; normalize before lookup so
	// cache keys stay stable.
	working := texts
	if kurdish {
		working = ensureSoraniBatch(texts)
	}

	deduped := dedupe(working)
	hits, missing := t.cache.split(deduped, targetLang)

	translated := make(map[string]string, len(deduped))
	for k, v := range hits {
		translated[k] = v
	}

	if len(missing) > 0 {
		resolved, ok := t.resolveMissing(ctx, missing, targetLang)
		if ok {
			if kurdish {
				resolved = ensureSoraniBatch(resolved)
			}
			pairs := make(map[string]string, len(missing))
			for i, m := range missing {
				pairs[m] = resolved[i]
			}
			t.cache.store(pairs, targetLang)
			for k, v := range pairs {
				translated[k] = v
			}
		} else {
			for _, m := range missing {
				translated[m] = m
			}
			degraded = true
		}
	}

	out = make([]string, len(working))
	for i, w := range working {
		out[i] = translated[w]
	}
	return out, degraded
}

// resolveMissing runs the backend race, then the free fallback. ok is false
// only when neither produced a same-length result.
func (t *Translator) resolveMissing(ctx context.Context, missing []string, targetLang string) ([]string, bool) {
	deadline := time.Now().Add(t.cfg.TotalTimeout.ToDuration())

	if result := t.race(ctx, missing, targetLang); result != nil {
		return result, true
	}

	remaining := time.Until(deadline)
	if remaining <= 0 {
		t.logger.Warn("Translation budget exhausted before fallback",
			zap.Int("fragments", len(missing)),
			zap.String("target", targetLang))
		return nil, false
	}

	free := t.free.Translate(missing, targetLang, remaining)
	if len(free) != len(missing) {
		return nil, false
	}

	// The free path fails soft per chunk; if nothing changed at all, treat
	// the batch as untranslated so the caller can flag degradation.
	changed := false
	for i := range free {
		if free[i] != missing[i] {
			changed = true
			break
		}
	}
	if !changed {
		return nil, false
	}
	return free, true
}

// race launches every backend concurrently and takes the first same-length
// result within the race window. Losers keep running until their own timeout
// but their results are discarded.
func (t *Translator) race(ctx context.Context, missing []string, targetLang string) []string {
	if len(t.backends) == 0 {
		return nil
	}

	raceTimeout := t.cfg.RaceTimeout.ToDuration()
	results := make(chan []string, len(t.backends))

	for _, b := range t.backends {
		go func(b Backend) {
			start := time.Now()
			out, err := b.Translate(missing, targetLang, raceTimeout)
			if err != nil {
				t.logger.Debug("Translation backend failed",
					zap.String("backend", b.Name()),
					zap.Duration("elapsed", time.Since(start)),
					zap.Error(err))
				results <- nil
				return
			}
			if len(out) != len(missing) {
				results <- nil
				return
			}
			t.logger.Debug("Translation backend answered",
				zap.String("backend", b.Name()),
				zap.Int("fragments", len(out)),
				zap.Duration("elapsed", time.Since(start)))
			results <- out
		}(b)
	}

	timer := time.NewTimer(raceTimeout + 100*time.Millisecond)
	defer timer.Stop()

	for pending := len(t.backends); pending > 0; pending-- {
		select {
		case out := <-results:
			if out != nil {
				return out
			}
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

// CacheSize returns the number of memoized fragments.
func (t *Translator) CacheSize() int {
	return t.cache.len()
}

func dedupe(texts []string) []string {
	seen := make(map[string]bool, len(texts))
	out := make([]string, 0, len(texts))
	for _, t := range texts {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// visibleText reports whether a text node carries translatable content.
func visibleText(text string) bool {
	if len(strings.TrimSpace(text)) < 2 {
		return false
	}
	for _, r := range text {
		if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= 0x0600 && r <= 0x06FF) {
			return true
		}
	}
	return false
}
