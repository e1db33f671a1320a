package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ahouse2/omniparser-autogui-mcp/internal/desktop"
)

func (s *Server) handleScreenSize(ctx context.Context, call *ToolCall) (*ToolResult, error) {
	size, err := s.screen.Size(ctx)
	if err != nil {
		return nil, err
	}
	return textResultf("%dx%d", size.Width, size.Height), nil
}

// handleCursorPosition reports the tracked position, not a live query:
// it is the point untargeted actions will act at, which can differ from
// the physical pointer if the user moved the mouse by hand.
func (s *Server) handleCursorPosition(ctx context.Context, call *ToolCall) (*ToolResult, error) {
	x, y := s.session.Cursor.Point()
	return textResultf("(%d, %d)", x, y), nil
}

func (s *Server) handleListWindows(ctx context.Context, call *ToolCall) (*ToolResult, error) {
	windows, err := s.windows.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(windows) == 0 {
		return textResult("No windows found"), nil
	}

	var b strings.Builder
	for _, w := range windows {
		fmt.Fprintf(&b, "%s: %s\n", w.Handle, w.Title)
	}
	return textResult(b.String()), nil
}

func (s *Server) handleFocusWindow(ctx context.Context, call *ToolCall) (*ToolResult, error) {
	var params struct {
		WindowName string `json:"window_name"`
	}
	if err := json.Unmarshal(call.Arguments, &params); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid arguments: %v", err)
	}
	if params.WindowName == "" {
		return nil, status.Error(codes.InvalidArgument, "window_name cannot be empty")
	}

	windows, err := s.windows.List(ctx)
	if err != nil {
		return nil, err
	}

	target, ok := matchWindow(windows, params.WindowName)
	if !ok {
		return textResult("false"), nil
	}

	if err := s.windows.Activate(ctx, target.Handle); err != nil {
		return nil, err
	}

	x, y := s.session.Cursor.Point()
	s.session.Cursor.Update(x, y, target.Handle)
	return textResult("true"), nil
}

// matchWindow picks the window whose handle matches exactly, or whose
// title contains the query case-insensitively. Exact handle wins over
// title matches.
func matchWindow(windows []desktop.Window, query string) (desktop.Window, bool) {
	lower := strings.ToLower(query)
	var titleMatch desktop.Window
	found := false
	for _, w := range windows {
		if w.Handle == query {
			return w, true
		}
		if !found && strings.Contains(strings.ToLower(w.Title), lower) {
			titleMatch = w
			found = true
		}
	}
	return titleMatch, found
}
