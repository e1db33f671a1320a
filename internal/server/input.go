package server

import (
	"context"
	"encoding/json"
	"strings"
	"unicode"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ahouse2/omniparser-autogui-mcp/internal/desktop"
	"github.com/ahouse2/omniparser-autogui-mcp/internal/session"
)

// resolvePoint maps an element id from the current analysis to a screen
// point. found=false is the normal not-found outcome and must cause no
// desktop mutation; err reports real failures (no usable analysis,
// screen size unavailable).
func (s *Server) resolvePoint(ctx context.Context, id int) (x, y int, found bool, err error) {
	element, shape, ok := s.session.Registry.ResolveWithShape(id)
	if !ok {
		return 0, 0, false, nil
	}

	size, err := s.screen.Size(ctx)
	if err != nil {
		return 0, 0, false, err
	}

	x, y, err = session.MapPoint(element.Bounds, shape, size.Width, size.Height, s.cfg.Padding)
	if err != nil {
		return 0, 0, false, err
	}
	return x, y, true, nil
}

// touch records the pointer position and whichever window is now in the
// foreground. The window read is best-effort; the position is what the
// untargeted operations depend on.
func (s *Server) touch(ctx context.Context, x, y int) {
	handle := ""
	if w, err := s.windows.Active(ctx); err == nil {
		handle = w.Handle
	}
	s.session.Cursor.Update(x, y, handle)
}

func (s *Server) handleClick(ctx context.Context, call *ToolCall) (*ToolResult, error) {
	params := struct {
		ID     int    `json:"id"`
		Button string `json:"button"`
		Clicks int    `json:"clicks"`
	}{Button: desktop.ButtonLeft, Clicks: 1}
	if err := json.Unmarshal(call.Arguments, &params); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid arguments: %v", err)
	}
	if !desktop.ValidButton(params.Button) {
		return nil, status.Errorf(codes.InvalidArgument, "unknown mouse button %q", params.Button)
	}
	if params.Clicks < 1 {
		return nil, status.Errorf(codes.InvalidArgument, "clicks must be at least 1, got %d", params.Clicks)
	}

	x, y, found, err := s.resolvePoint(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	if !found {
		return textResult("false"), nil
	}

	if err := s.input.Click(ctx, x, y, params.Button, params.Clicks); err != nil {
		return nil, err
	}
	s.touch(ctx, x, y)
	return textResult("true"), nil
}

func (s *Server) handleDrag(ctx context.Context, call *ToolCall) (*ToolResult, error) {
	params := struct {
		FromID int    `json:"from_id"`
		ToID   int    `json:"to_id"`
		Button string `json:"button"`
		Key    string `json:"key"`
	}{Button: desktop.ButtonLeft}
	if err := json.Unmarshal(call.Arguments, &params); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid arguments: %v", err)
	}
	if !desktop.ValidButton(params.Button) {
		return nil, status.Errorf(codes.InvalidArgument, "unknown mouse button %q", params.Button)
	}
	if params.Key != "" && !desktop.ValidKey(params.Key) {
		return nil, status.Errorf(codes.InvalidArgument, "unknown key %q; see list_keys", params.Key)
	}

	// Both endpoints must resolve before anything touches the desktop.
	fromX, fromY, found, err := s.resolvePoint(ctx, params.FromID)
	if err != nil {
		return nil, err
	}
	if !found {
		return textResult("false"), nil
	}
	toX, toY, found, err := s.resolvePoint(ctx, params.ToID)
	if err != nil {
		return nil, err
	}
	if !found {
		return textResult("false"), nil
	}

	if params.Key != "" {
		if err := s.input.KeyDown(ctx, params.Key); err != nil {
			return nil, err
		}
	}
	dragErr := s.dragBetween(ctx, fromX, fromY, toX, toY, params.Button)
	if params.Key != "" {
		// Release the modifier even when the drag failed partway.
		if err := s.input.KeyUp(ctx, params.Key); err != nil && dragErr == nil {
			dragErr = err
		}
	}
	if dragErr != nil {
		return nil, dragErr
	}

	s.touch(ctx, toX, toY)
	return textResult("true"), nil
}

func (s *Server) dragBetween(ctx context.Context, fromX, fromY, toX, toY int, button string) error {
	if err := s.input.MoveTo(ctx, fromX, fromY); err != nil {
		return err
	}
	return s.input.DragTo(ctx, toX, toY, button)
}

func (s *Server) handleMove(ctx context.Context, call *ToolCall) (*ToolResult, error) {
	var params struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal(call.Arguments, &params); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid arguments: %v", err)
	}

	x, y, found, err := s.resolvePoint(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	if !found {
		return textResult("false"), nil
	}

	if err := s.input.MoveTo(ctx, x, y); err != nil {
		return nil, err
	}
	s.touch(ctx, x, y)
	return textResult("true"), nil
}

func (s *Server) handleScroll(ctx context.Context, call *ToolCall) (*ToolResult, error) {
	var params struct {
		Amount int `json:"amount"`
	}
	if err := json.Unmarshal(call.Arguments, &params); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid arguments: %v", err)
	}

	if err := s.session.Cursor.ActivateAndRestore(ctx, s.input, s.windows); err != nil {
		return nil, err
	}
	if err := s.input.Scroll(ctx, params.Amount); err != nil {
		return nil, err
	}
	return textResult("true"), nil
}

func (s *Server) handleWrite(ctx context.Context, call *ToolCall) (*ToolResult, error) {
	params := struct {
		Text string `json:"text"`
		ID   int    `json:"id"`
	}{ID: -1}
	if err := json.Unmarshal(call.Arguments, &params); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid arguments: %v", err)
	}

	if params.ID >= 0 {
		// Click-to-target before typing.
		x, y, found, err := s.resolvePoint(ctx, params.ID)
		if err != nil {
			return nil, err
		}
		if !found {
			return textResult("false"), nil
		}
		if err := s.input.Click(ctx, x, y, desktop.ButtonLeft, 1); err != nil {
			return nil, err
		}
		s.touch(ctx, x, y)
	} else {
		if err := s.session.Cursor.ActivateAndRestore(ctx, s.input, s.windows); err != nil {
			return nil, err
		}
	}

	if isASCII(params.Text) {
		if err := s.input.TypeText(ctx, params.Text); err != nil {
			return nil, err
		}
	} else {
		// Key simulation cannot reliably encode arbitrary scripts, so
		// non-ASCII text goes through the clipboard.
		if err := s.clipboard.Copy(ctx, params.Text); err != nil {
			return nil, err
		}
		if err := s.pressChord(ctx, desktop.PasteChord()); err != nil {
			return nil, err
		}
	}
	return textResult("true"), nil
}

func (s *Server) handlePressKeys(ctx context.Context, call *ToolCall) (*ToolResult, error) {
	var params struct {
		Key1 string `json:"key1"`
		Key2 string `json:"key2"`
		Key3 string `json:"key3"`
	}
	if err := json.Unmarshal(call.Arguments, &params); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid arguments: %v", err)
	}

	keys := []string{params.Key1}
	if params.Key2 != "" {
		keys = append(keys, params.Key2)
	}
	if params.Key3 != "" {
		keys = append(keys, params.Key3)
	}
	for _, key := range keys {
		if !desktop.ValidKey(key) {
			return nil, status.Errorf(codes.InvalidArgument, "unknown key %q; see list_keys", key)
		}
	}

	if err := s.session.Cursor.ActivateAndRestore(ctx, s.input, s.windows); err != nil {
		return nil, err
	}
	if err := s.pressChord(ctx, keys); err != nil {
		return nil, err
	}
	return textResult("true"), nil
}

// pressChord presses keys in order and releases them in reverse order,
// releasing whatever was pressed if a later press fails.
func (s *Server) pressChord(ctx context.Context, keys []string) error {
	var pressErr error
	pressed := 0
	for _, key := range keys {
		if err := s.input.KeyDown(ctx, key); err != nil {
			pressErr = err
			break
		}
		pressed++
	}
	for i := pressed - 1; i >= 0; i-- {
		if err := s.input.KeyUp(ctx, keys[i]); err != nil && pressErr == nil {
			pressErr = err
		}
	}
	return pressErr
}

func (s *Server) handleListKeys(ctx context.Context, call *ToolCall) (*ToolResult, error) {
	return textResult(strings.Join(desktop.ListKeyNames(), "\n")), nil
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}
