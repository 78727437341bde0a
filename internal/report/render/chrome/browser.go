package chrome

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Browser owns the single long-lived Chromium process every tab handle runs
// in. It starts lazily on first use and, after a teardown, is recreated on
// the next Context call. The epoch counter tells handles created against an
// older process that they are stale.
type Browser struct {
	mu          sync.Mutex
	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	epoch       uint64
	restarts    atomic.Int64
	logger      *zap.Logger
}

func NewBrowser(logger *zap.Logger) *Browser {
	return &Browser{logger: logger}
}

// Context returns the shared browser context and its epoch, starting the
// process if it is not running.
func (b *Browser) Context() (context.Context, uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ctx != nil && b.ctx.Err() == nil {
		return b.ctx, b.epoch, nil
	}

	return b.startLocked()
}

func (b *Browser) startLocked() (context.Context, uint64, error) {
	b.stopLocked()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
	)

	b.allocCtx, b.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	b.ctx, b.cancel = chromedp.NewContext(b.allocCtx)

	if err := chromedp.Run(b.ctx); err != nil {
		b.stopLocked()
		return nil, 0, fmt.Errorf("%w: %v", ErrBrowserUnavailable, err)
	}

	b.epoch++

	var version string
	if err := chromedp.Run(b.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, product, _, _, _, err := browser.GetVersion().Do(ctx)
		version = product
		return err
	})); err != nil {
		b.logger.Warn("Failed to capture browser version", zap.Error(err))
	}

	b.logger.Info("Browser process started",
		zap.Uint64("epoch", b.epoch),
		zap.String("version", version))

	return b.ctx, b.epoch, nil
}

// Teardown kills the browser process if epoch is still current. A handle
// holding a stale epoch cannot kill a process that was already recreated
// behind its back. The next Context call starts a fresh process.
func (b *Browser) Teardown(epoch uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if epoch != b.epoch || b.ctx == nil {
		return
	}

	b.logger.Warn("Tearing down browser process",
		zap.Uint64("epoch", b.epoch))

	b.stopLocked()
	b.restarts.Add(1)
}

// Epoch returns the current process generation without starting the browser.
func (b *Browser) Epoch() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.epoch
}

// Restarts returns how many times the process was torn down and replaced.
func (b *Browser) Restarts() int64 {
	return b.restarts.Load()
}

// Shutdown stops the browser process permanently.
func (b *Browser) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked()
}

func (b *Browser) stopLocked() {
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	if b.allocCancel != nil {
		b.allocCancel()
		b.allocCancel = nil
	}
	b.ctx = nil
	b.allocCtx = nil
}
