package session

import (
	"context"
	"sync"
)

// PointerMover moves the physical pointer. Implemented by the input
// driver in internal/desktop.
type PointerMover interface {
	MoveTo(ctx context.Context, x, y int) error
}

// WindowActivator refocuses a window by its opaque handle. Implemented
// by the window driver in internal/desktop.
type WindowActivator interface {
	Activate(ctx context.Context, handle string) error
}

// Cursor tracks the last commanded pointer position and the last window
// that received an action, so operations without an explicit target act
// where the user last left off. Seeded once at startup from the real
// pointer and foreground window, then mutated only by action handlers.
type Cursor struct {
	mu     sync.Mutex
	x, y   int
	window string
}

// Seed stores the real pointer position and foreground window handle.
// Called once at startup; failures there are the caller's to report.
func (c *Cursor) Seed(x, y int, window string) {
	c.mu.Lock()
	c.x, c.y = x, y
	c.window = window
	c.mu.Unlock()
}

// Update records the pointer position and, when non-empty, the window
// that the action touched.
func (c *Cursor) Update(x, y int, window string) {
	c.mu.Lock()
	c.x, c.y = x, y
	if window != "" {
		c.window = window
	}
	c.mu.Unlock()
}

// Point returns the last known pointer position.
func (c *Cursor) Point() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.x, c.y
}

// Window returns the last active window handle, if any.
func (c *Cursor) Window() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.window
}

// ActivateAndRestore refocuses the last active window and moves the
// real pointer back to the last known position. Scroll, key presses and
// untargeted text entry call this so they land where the last explicit
// action did. A missing window handle is not an error; the pointer move
// alone is enough on desktops that focus follows clicks.
func (c *Cursor) ActivateAndRestore(ctx context.Context, mover PointerMover, activator WindowActivator) error {
	c.mu.Lock()
	x, y, window := c.x, c.y, c.window
	c.mu.Unlock()

	if window != "" && activator != nil {
		if err := activator.Activate(ctx, window); err != nil {
			return err
		}
	}
	return mover.MoveTo(ctx, x, y)
}
