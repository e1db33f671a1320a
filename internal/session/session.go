// Package session holds the element-addressable state for one running
// automation server: the most recent screen analysis, the single-flight
// analysis controller, and the cursor/focus context that untargeted
// actions fall back to.
package session

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Bounds is an element's bounding box in analysis-image coordinates.
// Row values grow downward, column values grow rightward, matching the
// pixel layout of the analyzed screenshot.
type Bounds struct {
	RowMin float64 `json:"row_min"`
	RowMax float64 `json:"row_max"`
	ColMin float64 `json:"column_min"`
	ColMax float64 `json:"column_max"`
}

// Element is a single detected screen element. ID is the element's
// position in detection order and is only meaningful against the
// AnalysisResult that produced it.
type Element struct {
	ID      int    `json:"id"`
	Kind    string `json:"kind"`
	Content string `json:"content"`
	Bounds  Bounds `json:"bounds"`
}

// ImageShape is the pixel dimensions of the image that was analyzed.
// It is required to de-normalize element bounds into screen coordinates.
type ImageShape struct {
	Rows int `json:"rows"`
	Cols int `json:"columns"`
}

// AnalysisResult is one complete screen analysis. It is published into
// the Registry as a whole; no partial-result state is ever observable.
type AnalysisResult struct {
	Elements []Element
	Shape    ImageShape
	Preview  []byte // encoded PNG, scaled for transport, with element markers
	Summary  string // one "ID: {id}, {kind}: {content}" line per element
}

// Validate checks the full-or-absent invariant once, at construction
// time, so action handlers never have to re-check shape at every access.
func (r *AnalysisResult) Validate() error {
	if r == nil {
		return status.Error(codes.FailedPrecondition, "analysis result is empty")
	}
	if r.Shape.Rows <= 0 || r.Shape.Cols <= 0 {
		return status.Errorf(codes.FailedPrecondition, "analysis image shape %dx%d is degenerate", r.Shape.Rows, r.Shape.Cols)
	}
	if len(r.Preview) == 0 {
		return status.Error(codes.FailedPrecondition, "analysis result has no preview image")
	}
	for i, e := range r.Elements {
		if e.ID != i {
			return status.Errorf(codes.FailedPrecondition, "element %d carries id %d; ids must follow detection order", i, e.ID)
		}
	}
	return nil
}

// Session is the process-wide automation state, constructed once per
// server process and passed to every tool handler.
type Session struct {
	Registry *Registry
	Analysis *Controller
	Cursor   *Cursor
}

// New creates an empty session. The cursor context still needs Seed
// before untargeted actions behave sensibly.
func New() *Session {
	reg := NewRegistry()
	return &Session{
		Registry: reg,
		Analysis: NewController(reg),
		Cursor:   &Cursor{},
	}
}

// String implements fmt.Stringer for debug logging.
func (s *Session) String() string {
	n := 0
	if cur, ok := s.Registry.Current(); ok {
		n = len(cur.Elements)
	}
	x, y := s.Cursor.Point()
	return fmt.Sprintf("session{elements=%d cursor=(%d,%d)}", n, x, y)
}
