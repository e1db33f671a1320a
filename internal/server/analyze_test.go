package server

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc/codes"

	"github.com/ahouse2/omniparser-autogui-mcp/internal/parser"
	"github.com/ahouse2/omniparser-autogui-mcp/internal/session"
)

func TestAnalyzeScreen(t *testing.T) {
	analyzer := parser.Func(func(ctx context.Context, screenshot []byte) (*parser.Detection, error) {
		return &parser.Detection{
			Elements: []session.Element{
				{ID: 0, Kind: "text", Content: "File", Bounds: session.Bounds{RowMin: 10, RowMax: 30, ColMin: 100, ColMax: 200}},
			},
			Shape: session.ImageShape{Rows: 1080, Cols: 1920},
		}, nil
	})
	srv, _ := newTestServer(t, analyzer)

	result, err := callTool(t, srv, "analyze_screen", `{}`)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Content) != 2 {
		t.Fatalf("content items = %d, want a summary and a preview", len(result.Content))
	}
	if got := result.Content[0].Text; got != "ID: 0, text: File\n" {
		t.Errorf("summary = %q", got)
	}

	img := result.Content[1]
	if img.Type != "image" || img.MimeType != "image/png" {
		t.Errorf("preview content = %+v", img)
	}
	if _, err := base64.StdEncoding.DecodeString(img.Data); err != nil {
		t.Errorf("preview is not valid base64: %v", err)
	}

	// The result is now the published analysis, so ids resolve.
	if _, ok := srv.session.Registry.Resolve(0); !ok {
		t.Error("element 0 did not resolve after analysis")
	}
}

func TestAnalyzeScreenJoinsInFlightPass(t *testing.T) {
	gate := make(chan struct{})
	analyzer := parser.Func(func(ctx context.Context, screenshot []byte) (*parser.Detection, error) {
		<-gate
		return &parser.Detection{
			Elements: []session.Element{
				{ID: 0, Kind: "icon", Content: "only", Bounds: session.Bounds{RowMin: 0, RowMax: 10, ColMin: 0, ColMax: 10}},
			},
			Shape: session.ImageShape{Rows: 1080, Cols: 1920},
		}, nil
	})
	srv, _ := newTestServer(t, analyzer)

	var wg sync.WaitGroup
	results := make([]string, 2)
	errs := make([]error, 2)
	call := func(i int) {
		defer wg.Done()
		result, err := callTool(t, srv, "analyze_screen", `{}`)
		errs[i] = err
		if err == nil {
			results[i] = resultText(t, result)
		}
	}

	wg.Add(1)
	go call(0)
	deadline := time.Now().Add(5 * time.Second)
	for srv.session.Analysis.Started() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first pass never started")
		}
		time.Sleep(time.Millisecond)
	}

	wg.Add(1)
	go call(1)
	// The second caller must attach before the gate opens for the two
	// calls to share one pass; give its Request a moment to land.
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
	}
	if results[0] != results[1] {
		t.Errorf("calls saw different summaries: %q vs %q", results[0], results[1])
	}
	if started := srv.session.Analysis.Started(); started != 1 {
		t.Errorf("passes started = %d, want 1", started)
	}
}

func TestAnalyzeScreenFailureLeavesRegistryEmpty(t *testing.T) {
	analyzer := parser.Func(func(ctx context.Context, screenshot []byte) (*parser.Detection, error) {
		return nil, errors.New("model exploded")
	})
	srv, _ := newTestServer(t, analyzer)

	_, err := callTool(t, srv, "analyze_screen", `{}`)
	wantCode(t, err, codes.Internal)

	if _, ok := srv.session.Registry.Current(); ok {
		t.Error("a failed pass must not publish a result")
	}
}

func TestAnalyzeScreenCaptureFailure(t *testing.T) {
	srv, fake := newTestServer(t, nil)
	fake.fail = errors.New("no display")

	_, err := callTool(t, srv, "analyze_screen", `{}`)
	wantCode(t, err, codes.Internal)
}
