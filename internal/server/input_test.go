package server

import (
	"reflect"
	"strings"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ahouse2/omniparser-autogui-mcp/internal/desktop"
	"github.com/ahouse2/omniparser-autogui-mcp/internal/session"
)

// publishPair installs a two-element analysis. In a 960x960 image on a
// 1920x1080 screen, element 0 maps to (300, 23) and element 1 to
// (900, 113).
func publishPair(srv *Server) {
	srv.session.Registry.Publish(&session.AnalysisResult{
		Elements: []session.Element{
			{ID: 0, Kind: "icon", Content: "source", Bounds: session.Bounds{RowMin: 10, RowMax: 30, ColMin: 100, ColMax: 200}},
			{ID: 1, Kind: "icon", Content: "target", Bounds: session.Bounds{RowMin: 90, RowMax: 110, ColMin: 400, ColMax: 500}},
		},
		Shape:   session.ImageShape{Rows: 960, Cols: 960},
		Preview: []byte("png"),
		Summary: "ID: 0, icon: source\nID: 1, icon: target\n",
	})
}

func wantActions(t *testing.T, fake *fakeDesktop, want []string) {
	t.Helper()
	got := fake.Actions()
	if len(want) == 0 {
		want = nil
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("recorded actions = %q, want %q", got, want)
	}
}

func wantCode(t *testing.T, err error, code codes.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v error, got nil", code)
	}
	if got := status.Code(err); got != code {
		t.Errorf("status code = %v, want %v (error: %v)", got, code, err)
	}
}

func TestClickMapsElementToScreen(t *testing.T) {
	srv, fake := newTestServer(t, nil)
	publishScenario(srv)

	result, err := callTool(t, srv, "click", `{"id": 0}`)
	if err != nil {
		t.Fatal(err)
	}
	if text := resultText(t, result); text != "true" {
		t.Errorf("result = %q, want true", text)
	}
	wantActions(t, fake, []string{"click 300,23 left x1"})

	// The click becomes the new cursor context.
	if x, y := srv.session.Cursor.Point(); x != 300 || y != 23 {
		t.Errorf("cursor = (%d, %d), want (300, 23)", x, y)
	}
}

func TestClickHonorsButtonAndClicks(t *testing.T) {
	srv, fake := newTestServer(t, nil)
	publishScenario(srv)

	result, err := callTool(t, srv, "click", `{"id": 0, "button": "right", "clicks": 2}`)
	if err != nil {
		t.Fatal(err)
	}
	if text := resultText(t, result); text != "true" {
		t.Errorf("result = %q, want true", text)
	}
	wantActions(t, fake, []string{"click 300,23 right x2"})
}

func TestClickUnknownIDTouchesNothing(t *testing.T) {
	srv, fake := newTestServer(t, nil)
	publishScenario(srv)

	result, err := callTool(t, srv, "click", `{"id": 7}`)
	if err != nil {
		t.Fatal(err)
	}
	if text := resultText(t, result); text != "false" {
		t.Errorf("result = %q, want false", text)
	}
	wantActions(t, fake, nil)

	if x, y := srv.session.Cursor.Point(); x != 50 || y != 60 {
		t.Errorf("cursor moved to (%d, %d) on a miss", x, y)
	}
}

func TestClickWithoutAnalysis(t *testing.T) {
	srv, fake := newTestServer(t, nil)

	result, err := callTool(t, srv, "click", `{"id": 0}`)
	if err != nil {
		t.Fatal(err)
	}
	if text := resultText(t, result); text != "false" {
		t.Errorf("result = %q, want false", text)
	}
	wantActions(t, fake, nil)
}

func TestClickRejectsBadInput(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	publishScenario(srv)

	_, err := callTool(t, srv, "click", `{"id": 0, "button": "top"}`)
	wantCode(t, err, codes.InvalidArgument)

	_, err = callTool(t, srv, "click", `{"id": 0, "clicks": 0}`)
	wantCode(t, err, codes.InvalidArgument)
}

func TestDrag(t *testing.T) {
	srv, fake := newTestServer(t, nil)
	publishPair(srv)

	result, err := callTool(t, srv, "drag", `{"from_id": 0, "to_id": 1}`)
	if err != nil {
		t.Fatal(err)
	}
	if text := resultText(t, result); text != "true" {
		t.Errorf("result = %q, want true", text)
	}
	wantActions(t, fake, []string{"move 300,23", "drag 900,113 left"})

	if x, y := srv.session.Cursor.Point(); x != 900 || y != 113 {
		t.Errorf("cursor = (%d, %d), want (900, 113)", x, y)
	}
}

func TestDragHoldsModifierKey(t *testing.T) {
	srv, fake := newTestServer(t, nil)
	publishPair(srv)

	result, err := callTool(t, srv, "drag", `{"from_id": 0, "to_id": 1, "key": "shift"}`)
	if err != nil {
		t.Fatal(err)
	}
	if text := resultText(t, result); text != "true" {
		t.Errorf("result = %q, want true", text)
	}
	wantActions(t, fake, []string{
		"keydown shift",
		"move 300,23",
		"drag 900,113 left",
		"keyup shift",
	})
}

func TestDragReleasesModifierOnFailure(t *testing.T) {
	srv, fake := newTestServer(t, nil)
	publishPair(srv)
	fake.failDrag = status.Error(codes.Unavailable, "input driver gone")

	_, err := callTool(t, srv, "drag", `{"from_id": 0, "to_id": 1, "key": "ctrl"}`)
	wantCode(t, err, codes.Unavailable)
	wantActions(t, fake, []string{"keydown ctrl", "move 300,23", "keyup ctrl"})
}

func TestDragUnknownEndpointTouchesNothing(t *testing.T) {
	srv, fake := newTestServer(t, nil)
	publishPair(srv)

	for _, args := range []string{
		`{"from_id": 5, "to_id": 1}`,
		`{"from_id": 0, "to_id": 5}`,
	} {
		result, err := callTool(t, srv, "drag", args)
		if err != nil {
			t.Fatal(err)
		}
		if text := resultText(t, result); text != "false" {
			t.Errorf("drag %s = %q, want false", args, text)
		}
	}
	wantActions(t, fake, nil)
}

func TestDragRejectsUnknownKey(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	publishPair(srv)

	_, err := callTool(t, srv, "drag", `{"from_id": 0, "to_id": 1, "key": "hyper"}`)
	wantCode(t, err, codes.InvalidArgument)
}

func TestMove(t *testing.T) {
	srv, fake := newTestServer(t, nil)
	publishScenario(srv)

	result, err := callTool(t, srv, "move", `{"id": 0}`)
	if err != nil {
		t.Fatal(err)
	}
	if text := resultText(t, result); text != "true" {
		t.Errorf("result = %q, want true", text)
	}
	wantActions(t, fake, []string{"move 300,23"})
}

func TestScrollActsAtLastTouchedLocation(t *testing.T) {
	srv, fake := newTestServer(t, nil)

	result, err := callTool(t, srv, "scroll", `{"amount": 10}`)
	if err != nil {
		t.Fatal(err)
	}
	if text := resultText(t, result); text != "true" {
		t.Errorf("result = %q, want true", text)
	}
	// The seeded window is refocused and the pointer restored before the
	// wheel turns.
	wantActions(t, fake, []string{"activate w1", "move 50,60", "scroll 10"})
}

func TestWriteASCIIAtElement(t *testing.T) {
	srv, fake := newTestServer(t, nil)
	publishScenario(srv)

	result, err := callTool(t, srv, "write", `{"text": "hello", "id": 0}`)
	if err != nil {
		t.Fatal(err)
	}
	if text := resultText(t, result); text != "true" {
		t.Errorf("result = %q, want true", text)
	}
	wantActions(t, fake, []string{"click 300,23 left x1", "type hello"})
}

func TestWriteASCIIUntargeted(t *testing.T) {
	srv, fake := newTestServer(t, nil)

	result, err := callTool(t, srv, "write", `{"text": "hi"}`)
	if err != nil {
		t.Fatal(err)
	}
	if text := resultText(t, result); text != "true" {
		t.Errorf("result = %q, want true", text)
	}
	wantActions(t, fake, []string{"activate w1", "move 50,60", "type hi"})
}

func TestWriteNonASCIIUsesClipboard(t *testing.T) {
	srv, fake := newTestServer(t, nil)

	result, err := callTool(t, srv, "write", `{"text": "こんにちは"}`)
	if err != nil {
		t.Fatal(err)
	}
	if text := resultText(t, result); text != "true" {
		t.Errorf("result = %q, want true", text)
	}

	want := []string{"activate w1", "move 50,60", "copy こんにちは"}
	chord := desktop.PasteChord()
	for _, key := range chord {
		want = append(want, "keydown "+key)
	}
	for i := len(chord) - 1; i >= 0; i-- {
		want = append(want, "keyup "+chord[i])
	}
	wantActions(t, fake, want)

	if fake.clipboard != "こんにちは" {
		t.Errorf("clipboard = %q", fake.clipboard)
	}
}

func TestWriteUnknownIDTypesNothing(t *testing.T) {
	srv, fake := newTestServer(t, nil)
	publishScenario(srv)

	result, err := callTool(t, srv, "write", `{"text": "hello", "id": 9}`)
	if err != nil {
		t.Fatal(err)
	}
	if text := resultText(t, result); text != "false" {
		t.Errorf("result = %q, want false", text)
	}
	wantActions(t, fake, nil)
}

func TestPressKeysChordOrder(t *testing.T) {
	srv, fake := newTestServer(t, nil)

	result, err := callTool(t, srv, "press_keys", `{"key1": "ctrl", "key2": "shift", "key3": "t"}`)
	if err != nil {
		t.Fatal(err)
	}
	if text := resultText(t, result); text != "true" {
		t.Errorf("result = %q, want true", text)
	}
	wantActions(t, fake, []string{
		"activate w1", "move 50,60",
		"keydown ctrl", "keydown shift", "keydown t",
		"keyup t", "keyup shift", "keyup ctrl",
	})
}

func TestPressKeysReleasesOnFailedPress(t *testing.T) {
	srv, fake := newTestServer(t, nil)
	fake.failKey = "t"

	_, err := callTool(t, srv, "press_keys", `{"key1": "ctrl", "key2": "shift", "key3": "t"}`)
	if err == nil {
		t.Fatal("expected an error from the failed press")
	}
	// Whatever went down comes back up, in reverse order.
	wantActions(t, fake, []string{
		"activate w1", "move 50,60",
		"keydown ctrl", "keydown shift",
		"keyup shift", "keyup ctrl",
	})
}

func TestPressKeysRejectsUnknownKey(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	_, err := callTool(t, srv, "press_keys", `{"key1": "meta"}`)
	wantCode(t, err, codes.InvalidArgument)
}

func TestListKeys(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	result, err := callTool(t, srv, "list_keys", `{}`)
	if err != nil {
		t.Fatal(err)
	}
	text := resultText(t, result)
	if want := strings.Join(desktop.ListKeyNames(), "\n"); text != want {
		t.Errorf("list_keys = %q, want %q", text, want)
	}
}

func TestIsASCII(t *testing.T) {
	for _, tc := range []struct {
		text string
		want bool
	}{
		{"", true},
		{"hello world 123!", true},
		{"tab\tand\nnewline", true},
		{"naïve", false},
		{"こんにちは", false},
	} {
		if got := isASCII(tc.text); got != tc.want {
			t.Errorf("isASCII(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}
