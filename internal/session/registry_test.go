package session

import (
	"context"
	"testing"
)

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry()

	if _, ok := reg.Resolve(0); ok {
		t.Fatal("empty registry resolved an element")
	}

	reg.Publish(&AnalysisResult{
		Elements: []Element{
			{ID: 0, Kind: "text", Content: "File"},
			{ID: 1, Kind: "icon", Content: "close button"},
		},
		Shape:   ImageShape{Rows: 960, Cols: 960},
		Preview: []byte{1},
	})

	tests := []struct {
		id        int
		wantFound bool
		wantKind  string
	}{
		{0, true, "text"},
		{1, true, "icon"},
		{2, false, ""},
		{-1, false, ""},
		{999, false, ""},
	}
	for _, tt := range tests {
		e, ok := reg.Resolve(tt.id)
		if ok != tt.wantFound {
			t.Errorf("Resolve(%d) found=%v, want %v", tt.id, ok, tt.wantFound)
			continue
		}
		if ok && e.Kind != tt.wantKind {
			t.Errorf("Resolve(%d).Kind = %q, want %q", tt.id, e.Kind, tt.wantKind)
		}
	}
}

func TestRegistryPublishReplacesWholesale(t *testing.T) {
	reg := NewRegistry()
	first := &AnalysisResult{
		Elements: []Element{{ID: 0}, {ID: 1}, {ID: 2}},
		Shape:    ImageShape{Rows: 960, Cols: 960},
		Preview:  []byte{1},
	}
	reg.Publish(first)

	second := &AnalysisResult{
		Elements: []Element{{ID: 0, Content: "only one"}},
		Shape:    ImageShape{Rows: 480, Cols: 480},
		Preview:  []byte{2},
	}
	reg.Publish(second)

	if _, ok := reg.Resolve(2); ok {
		t.Error("id from the superseded result must not resolve")
	}
	e, ok := reg.Resolve(0)
	if !ok || e.Content != "only one" {
		t.Errorf("Resolve(0) = %+v found=%v, want element from the new result", e, ok)
	}
	cur, ok := reg.Current()
	if !ok || cur != second {
		t.Error("Current() must return the latest published result")
	}
}

func TestRegistryResolveWithShape(t *testing.T) {
	reg := NewRegistry()

	if _, _, ok := reg.ResolveWithShape(0); ok {
		t.Fatal("empty registry resolved an element")
	}

	reg.Publish(&AnalysisResult{
		Elements: []Element{{ID: 0, Content: "ok"}},
		Shape:    ImageShape{Rows: 960, Cols: 1280},
		Preview:  []byte{1},
	})

	e, shape, ok := reg.ResolveWithShape(0)
	if !ok || e.Content != "ok" {
		t.Fatalf("ResolveWithShape(0) = %+v found=%v", e, ok)
	}
	if shape != (ImageShape{Rows: 960, Cols: 1280}) {
		t.Errorf("shape = %+v", shape)
	}

	if _, _, ok := reg.ResolveWithShape(1); ok {
		t.Error("unknown id resolved")
	}
}

// Bounds and shape must come from the same published result even while
// publishes race the lookup.
func TestRegistryResolveWithShapeConsistentUnderRepublish(t *testing.T) {
	reg := NewRegistry()

	big := &AnalysisResult{
		Elements: []Element{{ID: 0, Content: "big"}},
		Shape:    ImageShape{Rows: 960, Cols: 960},
		Preview:  []byte{1},
	}
	small := &AnalysisResult{
		Elements: []Element{{ID: 0, Content: "small"}},
		Shape:    ImageShape{Rows: 10, Cols: 10},
		Preview:  []byte{1},
	}
	reg.Publish(big)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if i%2 == 0 {
				reg.Publish(small)
			} else {
				reg.Publish(big)
			}
		}
	}()

	for i := 0; i < 20000; i++ {
		e, shape, ok := reg.ResolveWithShape(0)
		if !ok {
			t.Fatal("element vanished during republish")
		}
		switch e.Content {
		case "big":
			if shape.Rows != 960 {
				t.Fatalf("iter %d: element from %q paired with shape %dx%d", i, e.Content, shape.Rows, shape.Cols)
			}
		case "small":
			if shape.Rows != 10 {
				t.Fatalf("iter %d: element from %q paired with shape %dx%d", i, e.Content, shape.Rows, shape.Cols)
			}
		default:
			t.Fatalf("iter %d: unexpected element %+v", i, e)
		}
	}
	close(stop)
	<-done
}

func TestAnalysisResultValidate(t *testing.T) {
	tests := []struct {
		name    string
		result  *AnalysisResult
		wantErr bool
	}{
		{"nil", nil, true},
		{"no shape", &AnalysisResult{Preview: []byte{1}}, true},
		{"no preview", &AnalysisResult{Shape: ImageShape{Rows: 1, Cols: 1}}, true},
		{
			"out of order ids",
			&AnalysisResult{
				Elements: []Element{{ID: 1}},
				Shape:    ImageShape{Rows: 1, Cols: 1},
				Preview:  []byte{1},
			},
			true,
		},
		{
			"complete",
			&AnalysisResult{
				Elements: []Element{{ID: 0}, {ID: 1}},
				Shape:    ImageShape{Rows: 960, Cols: 960},
				Preview:  []byte{1},
			},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.result.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

type recordingMover struct {
	moves [][2]int
}

func (m *recordingMover) MoveTo(_ context.Context, x, y int) error {
	m.moves = append(m.moves, [2]int{x, y})
	return nil
}

type recordingActivator struct {
	handles []string
}

func (a *recordingActivator) Activate(_ context.Context, handle string) error {
	a.handles = append(a.handles, handle)
	return nil
}

func TestCursorActivateAndRestore(t *testing.T) {
	cur := &Cursor{}
	cur.Seed(100, 200, "win-1")
	cur.Update(300, 400, "win-2")

	mover := &recordingMover{}
	activator := &recordingActivator{}
	if err := cur.ActivateAndRestore(context.Background(), mover, activator); err != nil {
		t.Fatal(err)
	}

	if len(activator.handles) != 1 || activator.handles[0] != "win-2" {
		t.Errorf("activated %v, want [win-2]", activator.handles)
	}
	if len(mover.moves) != 1 || mover.moves[0] != [2]int{300, 400} {
		t.Errorf("moved %v, want [[300 400]]", mover.moves)
	}
}

func TestCursorUpdateKeepsWindowWhenEmpty(t *testing.T) {
	cur := &Cursor{}
	cur.Seed(0, 0, "seeded")
	cur.Update(5, 6, "")
	if got := cur.Window(); got != "seeded" {
		t.Errorf("Window() = %q, want %q", got, "seeded")
	}
	x, y := cur.Point()
	if x != 5 || y != 6 {
		t.Errorf("Point() = (%d, %d), want (5, 6)", x, y)
	}
}

func TestCursorActivateAndRestoreWithoutWindow(t *testing.T) {
	cur := &Cursor{}
	cur.Seed(10, 20, "")

	mover := &recordingMover{}
	if err := cur.ActivateAndRestore(context.Background(), mover, nil); err != nil {
		t.Fatal(err)
	}
	if len(mover.moves) != 1 || mover.moves[0] != [2]int{10, 20} {
		t.Errorf("moved %v, want [[10 20]]", mover.moves)
	}
}
