package desktop

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ExecInput simulates pointer and keyboard events through xdotool on
// Linux and cliclick on macOS.
type ExecInput struct {
	// GOOS overrides runtime.GOOS, for tests.
	GOOS string
}

func (in *ExecInput) goos() string {
	if in.GOOS != "" {
		return in.GOOS
	}
	return runtime.GOOS
}

// xdotoolButtons maps button names to X11 button numbers.
var xdotoolButtons = map[string]string{
	ButtonLeft:   "1",
	ButtonMiddle: "2",
	ButtonRight:  "3",
}

// xdotoolKeys maps canonical key names to X keysyms where the two
// vocabularies differ. Letters and digits pass through unchanged.
var xdotoolKeys = map[string]string{
	"ctrl": "ctrl", "shift": "shift", "alt": "alt",
	"win": "super", "command": "super",
	"enter": "Return", "esc": "Escape", "tab": "Tab", "space": "space",
	"backspace": "BackSpace", "delete": "Delete", "insert": "Insert",
	"home": "Home", "end": "End", "pageup": "Page_Up", "pagedown": "Page_Down",
	"up": "Up", "down": "Down", "left": "Left", "right": "Right",
	"capslock": "Caps_Lock", "numlock": "Num_Lock",
	"printscreen": "Print", "pause": "Pause",
}

func keysym(name string) string {
	if sym, ok := xdotoolKeys[name]; ok {
		return sym
	}
	if len(name) == 2 && name[0] == 'f' || len(name) == 3 && name[0] == 'f' {
		return "F" + name[1:] // f1..f12
	}
	return name
}

// cliclick only holds modifier keys between kd: and ku:.
var cliclickModifiers = map[string]string{
	"ctrl": "ctrl", "shift": "shift", "alt": "alt",
	"win": "cmd", "command": "cmd",
}

func (in *ExecInput) MoveTo(ctx context.Context, x, y int) error {
	switch in.goos() {
	case "linux":
		_, err := runOutput(ctx, "xdotool", "mousemove", strconv.Itoa(x), strconv.Itoa(y))
		return err
	case "darwin":
		_, err := runOutput(ctx, "cliclick", fmt.Sprintf("m:%d,%d", x, y))
		return err
	default:
		return unsupported("pointer move", in.goos())
	}
}

func (in *ExecInput) Click(ctx context.Context, x, y int, button string, clicks int) error {
	if !ValidButton(button) {
		return status.Errorf(codes.InvalidArgument, "unknown mouse button %q", button)
	}
	if clicks < 1 {
		clicks = 1
	}

	switch in.goos() {
	case "linux":
		_, err := runOutput(ctx, "xdotool",
			"mousemove", strconv.Itoa(x), strconv.Itoa(y),
			"click", "--repeat", strconv.Itoa(clicks), xdotoolButtons[button])
		return err
	case "darwin":
		op := "c"
		switch {
		case button == ButtonRight:
			op = "rc"
		case clicks == 2:
			op = "dc"
		case clicks >= 3:
			op = "tc"
		case button == ButtonMiddle:
			return unsupported("middle click", "darwin")
		}
		_, err := runOutput(ctx, "cliclick", fmt.Sprintf("%s:%d,%d", op, x, y))
		return err
	default:
		return unsupported("click", in.goos())
	}
}

func (in *ExecInput) DragTo(ctx context.Context, x, y int, button string) error {
	if !ValidButton(button) {
		return status.Errorf(codes.InvalidArgument, "unknown mouse button %q", button)
	}

	switch in.goos() {
	case "linux":
		// Hold the button at the current position, glide, release.
		if _, err := runOutput(ctx, "xdotool", "mousedown", xdotoolButtons[button]); err != nil {
			return err
		}
		if _, err := runOutput(ctx, "xdotool", "mousemove", "--sync", strconv.Itoa(x), strconv.Itoa(y)); err != nil {
			runOutput(ctx, "xdotool", "mouseup", xdotoolButtons[button]) //nolint:errcheck
			return err
		}
		_, err := runOutput(ctx, "xdotool", "mouseup", xdotoolButtons[button])
		return err
	case "darwin":
		pos, err := in.PointerPosition(ctx)
		if err != nil {
			return err
		}
		_, err = runOutput(ctx, "cliclick",
			fmt.Sprintf("dd:%d,%d", pos.X, pos.Y), fmt.Sprintf("du:%d,%d", x, y))
		return err
	default:
		return unsupported("drag", in.goos())
	}
}

func (in *ExecInput) Scroll(ctx context.Context, clicks int) error {
	if clicks == 0 {
		return nil
	}

	switch in.goos() {
	case "linux":
		button := "4" // wheel up
		if clicks < 0 {
			button = "5"
			clicks = -clicks
		}
		_, err := runOutput(ctx, "xdotool", "click", "--repeat", strconv.Itoa(clicks), button)
		return err
	case "darwin":
		// cliclick expresses wheel motion as a relative move of the
		// scroll wheel; negative is down.
		_, err := runOutput(ctx, "cliclick", fmt.Sprintf("w:%d", clicks))
		return err
	default:
		return unsupported("scroll", in.goos())
	}
}

func (in *ExecInput) KeyDown(ctx context.Context, key string) error {
	switch in.goos() {
	case "linux":
		_, err := runOutput(ctx, "xdotool", "keydown", keysym(key))
		return err
	case "darwin":
		if mod, ok := cliclickModifiers[key]; ok {
			_, err := runOutput(ctx, "cliclick", "kd:"+mod)
			return err
		}
		// Non-modifier keys cannot be held; press them on the way down.
		_, err := runOutput(ctx, "cliclick", "kp:"+key)
		return err
	default:
		return unsupported("key down", in.goos())
	}
}

func (in *ExecInput) KeyUp(ctx context.Context, key string) error {
	switch in.goos() {
	case "linux":
		_, err := runOutput(ctx, "xdotool", "keyup", keysym(key))
		return err
	case "darwin":
		if mod, ok := cliclickModifiers[key]; ok {
			_, err := runOutput(ctx, "cliclick", "ku:"+mod)
			return err
		}
		return nil // already pressed in KeyDown
	default:
		return unsupported("key up", in.goos())
	}
}

func (in *ExecInput) TypeText(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	switch in.goos() {
	case "linux":
		_, err := runOutput(ctx, "xdotool", "type", "--delay", "12", "--", text)
		return err
	case "darwin":
		_, err := runOutput(ctx, "cliclick", "t:"+text)
		return err
	default:
		return unsupported("typing", in.goos())
	}
}

func (in *ExecInput) PointerPosition(ctx context.Context) (Point, error) {
	switch in.goos() {
	case "linux":
		out, err := runOutput(ctx, "xdotool", "getmouselocation", "--shell")
		if err != nil {
			return Point{}, err
		}
		return parseMouseLocation(string(out))
	case "darwin":
		out, err := runOutput(ctx, "cliclick", "p")
		if err != nil {
			return Point{}, err
		}
		var p Point
		if _, err := fmt.Sscanf(strings.TrimSpace(string(out)), "%d,%d", &p.X, &p.Y); err != nil {
			return Point{}, fmt.Errorf("parse pointer position %q: %w", strings.TrimSpace(string(out)), err)
		}
		return p, nil
	default:
		return Point{}, unsupported("pointer position", in.goos())
	}
}

// parseMouseLocation parses `xdotool getmouselocation --shell` output
// of the form "X=123\nY=456\nSCREEN=0\nWINDOW=...".
func parseMouseLocation(out string) (Point, error) {
	var p Point
	var haveX, haveY bool
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, "X="); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return Point{}, fmt.Errorf("parse mouse X %q: %w", v, err)
			}
			p.X, haveX = n, true
		}
		if v, ok := strings.CutPrefix(line, "Y="); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return Point{}, fmt.Errorf("parse mouse Y %q: %w", v, err)
			}
			p.Y, haveY = n, true
		}
	}
	if !haveX || !haveY {
		return Point{}, fmt.Errorf("mouse location missing coordinates in %q", out)
	}
	return p, nil
}
