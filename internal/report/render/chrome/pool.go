package chrome

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Pool hands out tab handles over the single shared browser using a FIFO
// queue of slot IDs. Handles are created lazily: a slot may hold nil (never
// used, or discarded after a failure) and gets a fresh tab on next acquire.
// When tab creation fails because the browser process died, the process is
// torn down and one restart is attempted before giving up.
type Pool struct {
	config  *Config
	browser *Browser
	logger  *zap.Logger

	mu      sync.Mutex
	handles []*Handle
	queue   chan int
	size    int

	active        atomic.Int32
	totalRenders  atomic.Int64
	totalDiscards atomic.Int64
	createdAt     time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// PoolStats is a point-in-time snapshot for health reporting.
type PoolStats struct {
	TotalHandles     int
	AvailableHandles int
	ActiveHandles    int
	TotalRenders     int64
	TotalDiscards    int64
	BrowserRestarts  int64
	Uptime           time.Duration
}

func NewPool(config *Config, logger *zap.Logger) (*Pool, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	size := config.CalculatePoolSize()
	logger.Info("Initializing renderer pool",
		zap.Int("pool_size", size))

	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		config:    config,
		browser:   NewBrowser(logger),
		logger:    logger,
		handles:   make([]*Handle, size),
		queue:     make(chan int, size),
		size:      size,
		createdAt: time.Now().UTC(),
		ctx:       ctx,
		cancel:    cancel,
	}

	// Slots start empty; the browser launches on the first render
	for i := 0; i < size; i++ {
		pool.queue <- i
	}

	return pool, nil
}

// Acquire blocks until a slot frees up or the acquire timeout passes. The
// returned handle is alive and configured.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	timer := time.NewTimer(p.config.AcquireTimeout)
	defer timer.Stop()

	select {
	case <-p.ctx.Done():
		return nil, ErrPoolShutdown
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrPoolExhausted
	case slot := <-p.queue:
		select {
		case <-p.ctx.Done():
			p.returnSlot(slot)
			return nil, ErrPoolShutdown
		default:
		}

		h, err := p.handleForSlot(slot)
		if err != nil {
			p.returnSlot(slot)
			return nil, err
		}

		p.active.Add(1)
		p.logger.Debug("Renderer handle acquired",
			zap.Int("handle_id", slot),
			zap.Int32("active", p.active.Load()))
		return h, nil
	}
}

// handleForSlot returns the slot's live handle, creating one if the slot is
// empty or its handle belongs to a dead tab or an older browser process.
func (p *Pool) handleForSlot(slot int) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	h := p.handles[slot]
	if h != nil && h.Alive() && h.epoch == p.browser.Epoch() {
		return h, nil
	}

	if h != nil {
		h.Close()
		p.handles[slot] = nil
		p.totalDiscards.Add(1)
	}

	fresh, err := newHandle(slot, p.browser, p.logger)
	if err != nil {
		// Tab creation failing usually means the process itself is gone.
		// Tear it down and retry once against a fresh process.
		p.logger.Warn("Tab creation failed, recycling browser",
			zap.Int("handle_id", slot),
			zap.Error(err))
		p.browser.Teardown(p.browser.Epoch())

		fresh, err = newHandle(slot, p.browser, p.logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBrowserUnavailable, err)
		}
	}

	p.handles[slot] = fresh
	return fresh, nil
}

// Release returns a handle's slot to the queue. A failed render discards the
// handle so the next user of the slot starts from a clean tab.
func (p *Pool) Release(h *Handle, failed bool) {
	h.renders.Add(1)
	p.totalRenders.Add(1)
	p.active.Add(-1)

	discard := failed || int(h.Renders()) >= p.config.RestartAfter || !h.Alive()
	if discard {
		p.mu.Lock()
		if p.handles[h.ID] == h {
			p.handles[h.ID] = nil
		}
		p.mu.Unlock()
		h.Close()
		p.totalDiscards.Add(1)

		p.logger.Debug("Renderer handle discarded",
			zap.Int("handle_id", h.ID),
			zap.Bool("failed", failed),
			zap.Int32("renders_done", h.Renders()))
	}

	p.returnSlot(h.ID)
}

// RecycleBrowser tears down the shared process after an unrecoverable render
// error. Handles on other slots keep their tabs until they observe the dead
// context; every slot lazily re-tabs against the new process.
func (p *Pool) RecycleBrowser(epoch uint64) {
	p.browser.Teardown(epoch)
}

func (p *Pool) returnSlot(slot int) {
	select {
	case p.queue <- slot:
	case <-p.ctx.Done():
	default:
		p.logger.Error("Queue full when returning slot - possible leak",
			zap.Int("handle_id", slot))
	}
}

// Stats returns current pool statistics
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		TotalHandles:     p.size,
		AvailableHandles: len(p.queue),
		ActiveHandles:    int(p.active.Load()),
		TotalRenders:     p.totalRenders.Load(),
		TotalDiscards:    p.totalDiscards.Load(),
		BrowserRestarts:  p.browser.Restarts(),
		Uptime:           time.Since(p.createdAt),
	}
}

// Size returns the fixed number of slots.
func (p *Pool) Size() int {
	return p.size
}

// Shutdown drains active renders up to the configured timeout, then closes
// every tab and stops the browser process.
func (p *Pool) Shutdown() error {
	p.logger.Info("Initiating renderer pool shutdown",
		zap.Int32("active_renders", p.active.Load()))

	p.cancel()

	if !p.waitForActive(p.config.ShutdownTimeout) {
		p.logger.Warn("Shutdown timeout exceeded, forcing termination",
			zap.Int32("stuck_renders", p.active.Load()))
	}

	p.mu.Lock()
	for i, h := range p.handles {
		if h != nil {
			h.Close()
			p.handles[i] = nil
		}
	}
	p.mu.Unlock()

	p.browser.Shutdown()

	stats := p.Stats()
	p.logger.Info("Renderer pool shut down",
		zap.Int64("total_renders", stats.TotalRenders),
		zap.Int64("total_discards", stats.TotalDiscards),
		zap.Int64("browser_restarts", stats.BrowserRestarts),
		zap.Duration("uptime", stats.Uptime))

	return nil
}

func (p *Pool) waitForActive(timeout time.Duration) bool {
	deadline := time.Now().UTC().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if p.active.Load() == 0 {
			return true
		}

		<-ticker.C
		if time.Now().UTC().After(deadline) {
			return false
		}
	}
}
