// Package desktop wraps the host desktop primitives the automation
// server drives: screen capture, pointer and keyboard input, the
// clipboard, and window enumeration/focus. The interfaces here are the
// collaborator boundary; the Exec* implementations shell out to the
// platform's standard tools.
package desktop

import "context"

// Point is a pointer position in physical screen coordinates.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Size is the physical screen resolution in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Window identifies one top-level window. Handle is opaque and only
// meaningful to the Windows driver that produced it.
type Window struct {
	Handle string `json:"handle"`
	Title  string `json:"title"`
}

// Mouse buttons accepted by Input.Click and Input.DragTo.
const (
	ButtonLeft   = "left"
	ButtonMiddle = "middle"
	ButtonRight  = "right"
)

// ValidButton reports whether name is an accepted mouse button.
func ValidButton(name string) bool {
	return name == ButtonLeft || name == ButtonMiddle || name == ButtonRight
}

// Screen captures the current display.
type Screen interface {
	// Capture returns the full screen as an encoded PNG.
	Capture(ctx context.Context) ([]byte, error)
	// Size returns the physical screen resolution.
	Size(ctx context.Context) (Size, error)
}

// Input simulates pointer and keyboard events. Coordinates are physical
// screen pixels.
type Input interface {
	MoveTo(ctx context.Context, x, y int) error
	Click(ctx context.Context, x, y int, button string, clicks int) error
	// DragTo drags from the current pointer position to (x, y) with the
	// given button held.
	DragTo(ctx context.Context, x, y int, button string) error
	// Scroll turns the wheel; positive is up, negative is down.
	Scroll(ctx context.Context, clicks int) error
	KeyDown(ctx context.Context, key string) error
	KeyUp(ctx context.Context, key string) error
	// TypeText types ASCII text by key simulation.
	TypeText(ctx context.Context, text string) error
	PointerPosition(ctx context.Context) (Point, error)
}

// Clipboard sets the system clipboard. Pasting is performed by sending
// the platform paste chord through Input.
type Clipboard interface {
	Copy(ctx context.Context, text string) error
}

// Windows enumerates and focuses top-level windows.
type Windows interface {
	Active(ctx context.Context) (Window, error)
	Activate(ctx context.Context, handle string) error
	List(ctx context.Context) ([]Window, error)
}
