package desktop

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ExecScreen captures the display by shelling out to the platform's
// screenshot tool: screencapture on macOS, gnome-screenshot with a
// scrot fallback on Linux.
type ExecScreen struct {
	// GOOS overrides runtime.GOOS, for tests.
	GOOS string
}

func (s *ExecScreen) goos() string {
	if s.GOOS != "" {
		return s.GOOS
	}
	return runtime.GOOS
}

// Capture returns the full screen as an encoded PNG.
func (s *ExecScreen) Capture(ctx context.Context) ([]byte, error) {
	tmp, err := os.CreateTemp("", "autogui-capture-*.png")
	if err != nil {
		return nil, err
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)

	switch s.goos() {
	case "darwin":
		if _, err := runOutput(ctx, "screencapture", "-x", "-t", "png", path); err != nil {
			return nil, err
		}
	case "linux":
		if _, err := runOutput(ctx, "gnome-screenshot", "-f", path); err != nil {
			slog.Debug("gnome-screenshot failed, falling back to scrot", "error", err)
			if _, err := runOutput(ctx, "scrot", "--overwrite", path); err != nil {
				return nil, err
			}
		}
	default:
		return nil, unsupported("screen capture", s.goos())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	slog.Debug("captured screen", "bytes", len(data), "path", filepath.Base(path))
	return data, nil
}

// Size returns the physical screen resolution.
func (s *ExecScreen) Size(ctx context.Context) (Size, error) {
	switch s.goos() {
	case "darwin":
		// Finder reports the desktop bounds as "0, 0, W, H".
		out, err := runOutput(ctx, "osascript", "-e",
			`tell application "Finder" to get bounds of window of desktop`)
		if err != nil {
			return Size{}, err
		}
		parts := strings.Split(strings.TrimSpace(string(out)), ",")
		if len(parts) != 4 {
			return Size{}, fmt.Errorf("unexpected desktop bounds %q", strings.TrimSpace(string(out)))
		}
		var sz Size
		if _, err := fmt.Sscanf(strings.TrimSpace(parts[2]), "%d", &sz.Width); err != nil {
			return Size{}, fmt.Errorf("parse desktop width: %w", err)
		}
		if _, err := fmt.Sscanf(strings.TrimSpace(parts[3]), "%d", &sz.Height); err != nil {
			return Size{}, fmt.Errorf("parse desktop height: %w", err)
		}
		return sz, nil
	case "linux":
		out, err := runOutput(ctx, "xdotool", "getdisplaygeometry")
		if err != nil {
			return Size{}, err
		}
		var sz Size
		if _, err := fmt.Sscanf(strings.TrimSpace(string(out)), "%d %d", &sz.Width, &sz.Height); err != nil {
			return Size{}, fmt.Errorf("parse display geometry %q: %w", strings.TrimSpace(string(out)), err)
		}
		return sz, nil
	default:
		return Size{}, unsupported("screen size", s.goos())
	}
}
