package session

import (
	"context"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Pass is one background analysis unit of work: capture the screen,
// submit it for detection, and build the publishable result. A Pass has
// no side effects on the target desktop, so abandoning one is safe.
type Pass func(ctx context.Context) (*AnalysisResult, error)

// inflight is the future shared by everyone waiting on one analysis
// pass. done is closed exactly once, after result and err are set.
type inflight struct {
	done   chan struct{}
	result *AnalysisResult
	err    error
}

// Ticket is a caller's handle to the pass it started or joined. Awaiting
// a ticket is unaffected by other waiters collecting the pass first:
// every ticket for the same pass yields the same result.
type Ticket struct {
	fut *inflight
}

// Controller orchestrates at most one in-flight analysis at a time.
//
// Requesting an analysis while one is running (or finished but not yet
// collected) attaches to the existing pass instead of starting a new
// one, so every concurrent caller observes the same eventual result.
// The first caller of Await to observe completion publishes the result
// into the registry and resets the controller to idle; a failed pass is
// surfaced once per ticket and leaves the registry untouched.
type Controller struct {
	mu       sync.Mutex
	current  *inflight
	registry *Registry
	started  atomic.Int64
}

// NewController creates a controller that publishes into registry.
func NewController(registry *Registry) *Controller {
	return &Controller{registry: registry}
}

// Request starts a background analysis pass, or joins the existing one,
// and returns the ticket to await it on. The pass runs detached from
// any caller context: a caller that times out and walks away leaves the
// pass running to completion, and a later Request rejoins or supersedes
// it.
func (c *Controller) Request(pass Pass) *Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		return &Ticket{fut: c.current} // join semantics: one pass at a time
	}

	fut := &inflight{done: make(chan struct{})}
	c.current = fut
	c.started.Add(1)

	go func() {
		fut.result, fut.err = pass(context.Background())
		close(fut.done)
	}()

	return &Ticket{fut: fut}
}

// Await blocks until the ticket's pass completes or ctx is done. Every
// ticket attached to the same pass receives the identical result, even
// when another waiter already collected it. The first waiter to observe
// completion performs the registry publish and clears the in-flight
// slot; a failure clears the slot without publishing, so the last good
// result stays servable.
func (c *Controller) Await(ctx context.Context, t *Ticket) (*AnalysisResult, error) {
	if t == nil || t.fut == nil {
		return nil, status.Error(codes.FailedPrecondition, "no analysis has been requested")
	}
	fut := t.fut

	select {
	case <-ctx.Done():
		// The pass keeps running; its result stays collectible.
		return nil, ctx.Err()
	case <-fut.done:
	}

	c.mu.Lock()
	if c.current == fut {
		if fut.err == nil {
			c.registry.Publish(fut.result)
		}
		c.current = nil
	}
	c.mu.Unlock()

	if fut.err != nil {
		if _, ok := status.FromError(fut.err); ok {
			return nil, fut.err
		}
		return nil, status.Errorf(codes.Internal, "screen analysis failed: %v", fut.err)
	}
	return fut.result, nil
}

// Running reports whether a pass is in flight or awaiting collection.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Started returns the number of background passes ever started. Used to
// verify join semantics.
func (c *Controller) Started() int64 {
	return c.started.Load()
}
