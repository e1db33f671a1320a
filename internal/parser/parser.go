// Package parser turns a raw screenshot into the element list the
// session engine serves. Detection runs either on a remote
// OmniParser-style HTTP server or locally through a vision model;
// either way the output is normalized into session types here, once,
// so action handlers never see backend-specific shapes.
package parser

import (
	"context"

	"github.com/ahouse2/omniparser-autogui-mcp/internal/session"
)

// Detection is one backend's raw output: the detected elements with
// bounds in analysis-image pixel space, and the shape of the image the
// detector actually saw.
type Detection struct {
	Elements []session.Element
	Shape    session.ImageShape
}

// Analyzer runs element detection and captioning over a screenshot.
type Analyzer interface {
	Analyze(ctx context.Context, screenshot []byte) (*Detection, error)
}

// Func adapts a plain function to the Analyzer interface, for tests.
type Func func(ctx context.Context, screenshot []byte) (*Detection, error)

// Analyze implements Analyzer.
func (f Func) Analyze(ctx context.Context, screenshot []byte) (*Detection, error) {
	return f(ctx, screenshot)
}
