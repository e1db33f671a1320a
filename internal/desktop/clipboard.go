package desktop

import (
	"context"
	"log/slog"
	"runtime"
)

// ExecClipboard writes the system clipboard through pbcopy on macOS and
// xclip (with a wl-copy fallback for Wayland) on Linux.
type ExecClipboard struct {
	// GOOS overrides runtime.GOOS, for tests.
	GOOS string
}

func (c *ExecClipboard) goos() string {
	if c.GOOS != "" {
		return c.GOOS
	}
	return runtime.GOOS
}

// Copy places text on the system clipboard.
func (c *ExecClipboard) Copy(ctx context.Context, text string) error {
	switch c.goos() {
	case "darwin":
		return runInput(ctx, text, "pbcopy")
	case "linux":
		if err := runInput(ctx, text, "xclip", "-selection", "clipboard"); err != nil {
			slog.Debug("xclip failed, falling back to wl-copy", "error", err)
			return runInput(ctx, text, "wl-copy")
		}
		return nil
	default:
		return unsupported("clipboard", c.goos())
	}
}
