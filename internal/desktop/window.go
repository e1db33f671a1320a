package desktop

import (
	"context"
	"runtime"
	"strings"
)

// ExecWindows enumerates and focuses windows through xdotool/wmctrl on
// Linux and System Events on macOS. Handles are X window ids on Linux
// and application process names on macOS.
type ExecWindows struct {
	// GOOS overrides runtime.GOOS, for tests.
	GOOS string
}

func (w *ExecWindows) goos() string {
	if w.GOOS != "" {
		return w.GOOS
	}
	return runtime.GOOS
}

// Active returns the currently focused window.
func (w *ExecWindows) Active(ctx context.Context) (Window, error) {
	switch w.goos() {
	case "linux":
		out, err := runOutput(ctx, "xdotool", "getactivewindow")
		if err != nil {
			return Window{}, err
		}
		handle := strings.TrimSpace(string(out))
		title := ""
		if name, err := runOutput(ctx, "xdotool", "getwindowname", handle); err == nil {
			title = strings.TrimSpace(string(name))
		}
		return Window{Handle: handle, Title: title}, nil
	case "darwin":
		out, err := runOutput(ctx, "osascript", "-e",
			`tell application "System Events" to get name of first application process whose frontmost is true`)
		if err != nil {
			return Window{}, err
		}
		name := strings.TrimSpace(string(out))
		return Window{Handle: name, Title: name}, nil
	default:
		return Window{}, unsupported("active window", w.goos())
	}
}

// Activate refocuses the window identified by handle.
func (w *ExecWindows) Activate(ctx context.Context, handle string) error {
	switch w.goos() {
	case "linux":
		_, err := runOutput(ctx, "xdotool", "windowactivate", "--sync", handle)
		return err
	case "darwin":
		_, err := runOutput(ctx, "osascript", "-e",
			`tell application "`+strings.ReplaceAll(handle, `"`, ``)+`" to activate`)
		return err
	default:
		return unsupported("window activation", w.goos())
	}
}

// List returns all top-level windows.
func (w *ExecWindows) List(ctx context.Context) ([]Window, error) {
	switch w.goos() {
	case "linux":
		out, err := runOutput(ctx, "wmctrl", "-l")
		if err != nil {
			return nil, err
		}
		return parseWmctrlList(string(out)), nil
	case "darwin":
		out, err := runOutput(ctx, "osascript", "-e",
			`tell application "System Events" to get name of every application process whose visible is true`)
		if err != nil {
			return nil, err
		}
		var windows []Window
		for _, name := range strings.Split(strings.TrimSpace(string(out)), ",") {
			name = strings.TrimSpace(name)
			if name != "" {
				windows = append(windows, Window{Handle: name, Title: name})
			}
		}
		return windows, nil
	default:
		return nil, unsupported("window listing", w.goos())
	}
}

// parseWmctrlList parses `wmctrl -l` output: one window per line as
// "0x02a00003  0 hostname Window Title Words".
func parseWmctrlList(out string) []Window {
	var windows []Window
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		windows = append(windows, Window{
			Handle: fields[0],
			Title:  strings.Join(fields[3:], " "),
		})
	}
	return windows
}
