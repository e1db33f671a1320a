package server

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ahouse2/omniparser-autogui-mcp/internal/config"
	"github.com/ahouse2/omniparser-autogui-mcp/internal/desktop"
	"github.com/ahouse2/omniparser-autogui-mcp/internal/parser"
	"github.com/ahouse2/omniparser-autogui-mcp/internal/session"
	"github.com/ahouse2/omniparser-autogui-mcp/internal/transport"
)

// fakeDesktop implements every desktop collaborator and records each
// action as a readable line so tests can assert ordering and absence.
type fakeDesktop struct {
	mu         sync.Mutex
	actions    []string
	pointer    desktop.Point
	size       desktop.Size
	active     desktop.Window
	windows    []desktop.Window
	clipboard  string
	screenshot []byte
	fail       error  // when set, every driver call returns it
	failDrag   error  // when set, DragTo returns it
	failKey    string // KeyDown on this key fails
}

func (f *fakeDesktop) record(format string, args ...any) {
	f.mu.Lock()
	f.actions = append(f.actions, fmt.Sprintf(format, args...))
	f.mu.Unlock()
}

func (f *fakeDesktop) Actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.actions...)
}

func (f *fakeDesktop) Reset() {
	f.mu.Lock()
	f.actions = nil
	f.mu.Unlock()
}

func (f *fakeDesktop) Capture(ctx context.Context) ([]byte, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	f.record("capture")
	return f.screenshot, nil
}

func (f *fakeDesktop) Size(ctx context.Context) (desktop.Size, error) {
	if f.fail != nil {
		return desktop.Size{}, f.fail
	}
	return f.size, nil
}

func (f *fakeDesktop) MoveTo(ctx context.Context, x, y int) error {
	if f.fail != nil {
		return f.fail
	}
	f.record("move %d,%d", x, y)
	f.pointer = desktop.Point{X: x, Y: y}
	return nil
}

func (f *fakeDesktop) Click(ctx context.Context, x, y int, button string, clicks int) error {
	if f.fail != nil {
		return f.fail
	}
	f.record("click %d,%d %s x%d", x, y, button, clicks)
	f.pointer = desktop.Point{X: x, Y: y}
	return nil
}

func (f *fakeDesktop) DragTo(ctx context.Context, x, y int, button string) error {
	if f.fail != nil {
		return f.fail
	}
	if f.failDrag != nil {
		return f.failDrag
	}
	f.record("drag %d,%d %s", x, y, button)
	f.pointer = desktop.Point{X: x, Y: y}
	return nil
}

func (f *fakeDesktop) Scroll(ctx context.Context, clicks int) error {
	if f.fail != nil {
		return f.fail
	}
	f.record("scroll %d", clicks)
	return nil
}

func (f *fakeDesktop) KeyDown(ctx context.Context, key string) error {
	if f.fail != nil {
		return f.fail
	}
	if f.failKey != "" && key == f.failKey {
		return fmt.Errorf("key %s is stuck", key)
	}
	f.record("keydown %s", key)
	return nil
}

func (f *fakeDesktop) KeyUp(ctx context.Context, key string) error {
	if f.fail != nil {
		return f.fail
	}
	f.record("keyup %s", key)
	return nil
}

func (f *fakeDesktop) TypeText(ctx context.Context, text string) error {
	if f.fail != nil {
		return f.fail
	}
	f.record("type %s", text)
	return nil
}

func (f *fakeDesktop) PointerPosition(ctx context.Context) (desktop.Point, error) {
	if f.fail != nil {
		return desktop.Point{}, f.fail
	}
	return f.pointer, nil
}

func (f *fakeDesktop) Copy(ctx context.Context, text string) error {
	if f.fail != nil {
		return f.fail
	}
	f.record("copy %s", text)
	f.clipboard = text
	return nil
}

func (f *fakeDesktop) Active(ctx context.Context) (desktop.Window, error) {
	if f.fail != nil {
		return desktop.Window{}, f.fail
	}
	return f.active, nil
}

func (f *fakeDesktop) Activate(ctx context.Context, handle string) error {
	if f.fail != nil {
		return f.fail
	}
	f.record("activate %s", handle)
	return nil
}

func (f *fakeDesktop) List(ctx context.Context) ([]desktop.Window, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	return f.windows, nil
}

// encodePNG returns a small encoded PNG for use as a fake screenshot.
func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 230, G: 230, B: 230, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func testConfig() *config.Config {
	return &config.Config{
		Backend:        config.BackendRemote,
		AnalysisSize:   960,
		Padding:        0,
		RequestTimeout: 5 * time.Second,
		Transport:      config.TransportStdio,
	}
}

// newTestServer wires a server around the fake desktop and the given
// analyzer, then clears the actions recorded while seeding the cursor.
func newTestServer(t *testing.T, analyzer parser.Analyzer) (*Server, *fakeDesktop) {
	t.Helper()

	fake := &fakeDesktop{
		pointer:    desktop.Point{X: 50, Y: 60},
		size:       desktop.Size{Width: 1920, Height: 1080},
		active:     desktop.Window{Handle: "w1", Title: "Terminal"},
		windows:    []desktop.Window{{Handle: "w1", Title: "Terminal"}, {Handle: "w2", Title: "Browser"}},
		screenshot: encodePNG(t, 1920, 1080),
	}
	if analyzer == nil {
		analyzer = parser.Func(func(ctx context.Context, screenshot []byte) (*parser.Detection, error) {
			return &parser.Detection{Shape: session.ImageShape{Rows: 1080, Cols: 1920}}, nil
		})
	}

	srv, err := New(context.Background(), testConfig(), Options{
		Analyzer:  analyzer,
		Screen:    fake,
		Input:     fake,
		Clipboard: fake,
		Windows:   fake,
		Metrics:   transport.NewMetricsRegistry(),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { srv.Close() })

	fake.Reset()
	return srv, fake
}

// publishScenario installs the one-element analysis from the reference
// mapping scenario: bounds rows 10..30, cols 100..200 in a 960x960
// image, which on a 1920x1080 screen maps to (300, 23).
func publishScenario(srv *Server) {
	srv.session.Registry.Publish(&session.AnalysisResult{
		Elements: []session.Element{{
			ID:      0,
			Kind:    "icon",
			Content: "target",
			Bounds:  session.Bounds{RowMin: 10, RowMax: 30, ColMin: 100, ColMax: 200},
		}},
		Shape:   session.ImageShape{Rows: 960, Cols: 960},
		Preview: []byte("png"),
		Summary: "ID: 0, icon: target\n",
	})
}

// resultText extracts the first text content of a result.
func resultText(t *testing.T, result *ToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatal("result has no content")
	}
	return result.Content[0].Text
}

// callTool invokes a registered tool handler directly with raw JSON
// arguments.
func callTool(t *testing.T, srv *Server, name, args string) (*ToolResult, error) {
	t.Helper()
	tool, ok := srv.tools[name]
	if !ok {
		t.Fatalf("tool %s is not registered", name)
	}
	return tool.Handler(context.Background(), &ToolCall{Name: name, Arguments: []byte(args)})
}
