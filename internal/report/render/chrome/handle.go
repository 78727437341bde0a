package chrome

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/dejavuplus/engine/pkg/pattern"
)

// blockedURLPatterns match third-party trackers that report pages embed but
// rendered documents never need. Dropping them cuts render time and removes
// the slowest external dependencies from the critical path.
var blockedURLPatterns = compilePatterns(
	"*google-analytics.com*",
	"*googletagmanager.com*",
	"*doubleclick.net*",
	"*facebook.net*",
	"*facebook.com/tr*",
	"*hotjar.com*",
	"*clarity.ms*",
)

func compilePatterns(raw ...string) []*pattern.Pattern {
	compiled := make([]*pattern.Pattern, 0, len(raw))
	for _, r := range raw {
		p, err := pattern.Compile(r)
		if err != nil {
			panic(err) // static list, compile failure is a programming error
		}
		compiled = append(compiled, p)
	}
	return compiled
}

// blockedResourceTypes never contribute to printed output.
var blockedResourceTypes = map[network.ResourceType]bool{
	network.ResourceTypeMedia:     true,
	network.ResourceTypeWebSocket: true,
	network.ResourceTypePing:      true,
}

// Handle is one reusable tab in the shared browser. Request filtering and
// lifecycle events are configured once at creation and survive reuse across
// renders.
type Handle struct {
	ID        int
	epoch     uint64
	ctx       context.Context
	cancel    context.CancelFunc
	createdAt time.Time
	renders   atomic.Int32
	logger    *zap.Logger
}

// newHandle opens a tab in the shared browser and applies its one-time
// configuration.
func newHandle(id int, b *Browser, logger *zap.Logger) (*Handle, error) {
	browserCtx, epoch, err := b.Context()
	if err != nil {
		return nil, err
	}

	ctx, cancel := chromedp.NewContext(browserCtx)

	h := &Handle{
		ID:        id,
		epoch:     epoch,
		ctx:       ctx,
		cancel:    cancel,
		createdAt: time.Now().UTC(),
		logger:    logger,
	}

	if err := h.configure(); err != nil {
		cancel()
		return nil, err
	}

	logger.Debug("Tab handle created",
		zap.Int("handle_id", id),
		zap.Uint64("epoch", epoch))

	return h, nil
}

// configure enables lifecycle events and request interception on the tab.
// Applied exactly once; the interception listener lives as long as the tab.
func (h *Handle) configure() error {
	chromedp.ListenTarget(h.ctx, func(ev interface{}) {
		event, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}

		go func() {
			c := chromedp.FromContext(h.ctx)
			execCtx := cdp.WithExecutor(h.ctx, c.Target)

			if shouldBlock(event) {
				if err := fetch.FailRequest(event.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx); err != nil {
					h.logger.Debug("Failed to block request",
						zap.Int("handle_id", h.ID),
						zap.Error(err))
				}
				return
			}

			if err := fetch.ContinueRequest(event.RequestID).Do(execCtx); err != nil {
				h.logger.Debug("Failed to continue request",
					zap.Int("handle_id", h.ID),
					zap.Error(err))
			}
		}()
	})

	return chromedp.Run(h.ctx,
		network.Enable(),
		fetch.Enable(),
		page.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return page.SetLifecycleEventsEnabled(true).Do(ctx)
		}),
	)
}

func shouldBlock(event *fetch.EventRequestPaused) bool {
	if blockedResourceTypes[event.ResourceType] {
		return true
	}
	url := event.Request.URL
	for _, p := range blockedURLPatterns {
		if p.Match(url) {
			return true
		}
	}
	return false
}

// Alive reports whether the tab's context is still usable.
func (h *Handle) Alive() bool {
	return h.ctx.Err() == nil
}

// Renders returns how many documents this handle produced.
func (h *Handle) Renders() int32 {
	return h.renders.Load()
}

// Close cancels the tab context.
func (h *Handle) Close() {
	h.cancel()
}
