package chrome

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Engine prints report pages to PDF over the tab pool.
//
// Every render tries fast-first: print as soon as DOMContentLoaded fires
// under the short budget and accept the result if it passes the caller's
// validity check. Only when the fast document looks wrong (fonts not loaded,
// images missing, truncated output) is the same input re-rendered waiting
// for network idle under the full budget.
type Engine struct {
	pool     *Pool
	config   *Config
	validate func([]byte) bool
	logger   *zap.Logger
}

// NewEngine wraps pool with the print workflow. validate is the cheap
// document validity heuristic applied to fast-first output.
func NewEngine(pool *Pool, config *Config, validate func([]byte) bool, logger *zap.Logger) *Engine {
	return &Engine{
		pool:     pool,
		config:   config,
		validate: validate,
		logger:   logger,
	}
}

func (e *Engine) Name() string { return "chromium" }

// Render loads markup or navigates to a URL on a pooled tab and returns PDF
// bytes. Exactly one of markup/url is used; markup wins when both are set.
func (e *Engine) Render(ctx context.Context, markup, url string) ([]byte, error) {
	h, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	pdf, err := e.renderOnHandle(ctx, h, markup, url)
	e.pool.Release(h, err != nil)

	if err != nil && isBrowserFatal(ctx, err) {
		// The whole process is wedged, not just this tab
		e.pool.RecycleBrowser(h.epoch)
	}

	return pdf, err
}

func (e *Engine) renderOnHandle(ctx context.Context, h *Handle, markup, url string) ([]byte, error) {
	budget, cancel := context.WithTimeout(h.ctx, e.config.FullTimeout)
	defer cancel()

	// Stop waiting if the caller gives up, without killing the tab
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	start := time.Now()

	if err := e.loadPage(budget, markup, url); err != nil {
		return nil, err
	}

	// Fast attempt: DOMContentLoaded already fired during load; print now
	fast, fastErr := printPDF(budget)
	if fastErr == nil && e.validate(fast) {
		e.logger.Debug("Fast-first render accepted",
			zap.Int("handle_id", h.ID),
			zap.Int("pdf_size", len(fast)),
			zap.Duration("elapsed", time.Since(start)))
		return fast, nil
	}

	if fastErr != nil {
		e.logger.Debug("Fast-first print failed, waiting for full load",
			zap.Int("handle_id", h.ID),
			zap.Error(fastErr))
	} else {
		e.logger.Debug("Fast-first document rejected, waiting for full load",
			zap.Int("handle_id", h.ID),
			zap.Int("pdf_size", len(fast)))
	}

	// Full attempt: give the page its remaining budget to go network-idle,
	// then print whatever is there. Timeout is soft; a slow ad pixel must
	// not fail the render.
	if err := waitLifecycle(budget, "networkIdle", remaining(budget)); err != nil && !errors.Is(err, ErrWaitTimeout) {
		return nil, fmt.Errorf("%w: %v", ErrPrintFailed, err)
	}

	full, err := printPDF(budget)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPrintFailed, err)
	}

	e.logger.Debug("Full render completed",
		zap.Int("handle_id", h.ID),
		zap.Int("pdf_size", len(full)),
		zap.Duration("elapsed", time.Since(start)))

	return full, nil
}

// loadPage either navigates to url or injects markup into the tab's main
// frame, then waits for DOMContentLoaded under the fast budget (soft).
func (e *Engine) loadPage(ctx context.Context, markup, url string) error {
	if markup != "" {
		err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, markup).Do(ctx)
		}))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNavigateFailed, err)
		}
		return nil
	}

	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, _, _, err := page.Navigate(url).Do(ctx)
		return err
	}))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNavigateFailed, err)
	}

	if err := waitLifecycle(ctx, "DOMContentLoaded", e.config.FastTimeout); err != nil && !errors.Is(err, ErrWaitTimeout) {
		return fmt.Errorf("%w: %v", ErrNavigateFailed, err)
	}
	return nil
}

// waitLifecycle blocks until the named page lifecycle event fires or timeout
// passes. Timeout returns ErrWaitTimeout so callers can treat it as soft.
func waitLifecycle(ctx context.Context, eventName string, timeout time.Duration) error {
	if timeout <= 0 {
		return ErrWaitTimeout
	}

	ch := make(chan struct{})
	listenerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var once bool
	chromedp.ListenTarget(listenerCtx, func(ev interface{}) {
		if e, ok := ev.(*page.EventLifecycleEvent); ok {
			if string(e.Name) == eventName && !once {
				once = true
				cancel()
				close(ch)
			}
		}
	})

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return ErrWaitTimeout
	}
}

func printPDF(ctx context.Context) ([]byte, error) {
	var pdf []byte
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		buf, _, err := page.PrintToPDF().
			WithPrintBackground(true).
			WithPreferCSSPageSize(true).
			WithPaperWidth(8.27).
			WithPaperHeight(11.69).
			Do(ctx)
		if err != nil {
			return err
		}
		pdf = buf
		return nil
	}))
	return pdf, err
}

func remaining(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0
	}
	return time.Until(deadline)
}

// isBrowserFatal distinguishes a wedged browser process from a single bad
// tab. Context cancellation on the shared browser context surfaces as
// context.Canceled from every CDP command, but the same error also appears
// when the caller abandons its request mid-render; a live caller context is
// what points the cancellation at the browser.
func isBrowserFatal(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return errors.Is(err, context.Canceled)
}
