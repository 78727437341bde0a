// Package singleflight coalesces concurrent report generation per fingerprint.
//
// The first caller for a fingerprint executes the work; everyone arriving while
// it runs waits for the same settled outcome, success or failure. The in-flight
// handle is deregistered only after settlement, so a request arriving after
// completion starts fresh work.
package singleflight

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/dejavuplus/engine/internal/report/cache"
)

// Result is the settled outcome of one coalesced execution, shared by every
// caller that attached to it.
type Result struct {
	Document []byte
	Degraded bool
}

// call is the shared state for one in-flight execution.
type call struct {
	done    chan struct{}
	result  Result
	err     error
	waiters int
}

// Group deduplicates concurrent executions keyed by fingerprint.
type Group struct {
	mu     sync.Mutex
	calls  map[uint64]*call
	logger *zap.Logger
}

func NewGroup(logger *zap.Logger) *Group {
	return &Group{
		calls:  make(map[uint64]*call),
		logger: logger,
	}
}

// Execute runs work for fp, or joins an execution already in flight. All
// callers receive the same result and error. Shared reports whether this
// caller joined existing work rather than starting it.
//
// The work function receives a background-derived context: a single waiter
// cancelling its own request must not abort work that other callers share.
// A waiter whose ctx expires detaches and returns ctx.Err(); the work keeps
// running for the remaining waiters.
func (g *Group) Execute(ctx context.Context, fp cache.Fingerprint, work func() (Result, error)) (result Result, shared bool, err error) {
	key := fp.Key()

	g.mu.Lock()
	if existing, ok := g.calls[key]; ok {
		existing.waiters++
		waiters := existing.waiters
		g.mu.Unlock()

		g.logger.Debug("Joining in-flight generation",
			zap.String("fingerprint", fp.String()),
			zap.Int("waiters", waiters))

		select {
		case <-existing.done:
			return existing.result, true, existing.err
		case <-ctx.Done():
			return Result{}, true, ctx.Err()
		}
	}

	c := &call{done: make(chan struct{}), waiters: 1}
	g.calls[key] = c
	g.mu.Unlock()

	c.result, c.err = work()

	// Deregister before signalling completion so late arrivals start fresh
	g.mu.Lock()
	delete(g.calls, key)
	g.mu.Unlock()

	close(c.done)

	return c.result, false, c.err
}

// InFlight returns the number of fingerprints with active work.
func (g *Group) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}
