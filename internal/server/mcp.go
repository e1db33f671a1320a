// Package server implements the MCP tool surface of the automation
// engine: screen analysis, element-addressed pointer and keyboard
// actions, and the window/cursor introspection tools.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ahouse2/omniparser-autogui-mcp/internal/config"
	"github.com/ahouse2/omniparser-autogui-mcp/internal/desktop"
	"github.com/ahouse2/omniparser-autogui-mcp/internal/parser"
	"github.com/ahouse2/omniparser-autogui-mcp/internal/session"
	"github.com/ahouse2/omniparser-autogui-mcp/internal/transport"
)

const (
	serverName    = "omniparser-autogui-mcp"
	serverVersion = "0.1.0"
	protocolVer   = "2024-11-05"
)

// Server owns the session state and dispatches MCP tool calls.
type Server struct {
	cfg       *config.Config
	session   *session.Session
	analyzer  parser.Analyzer
	screen    desktop.Screen
	input     desktop.Input
	clipboard desktop.Clipboard
	windows   desktop.Windows
	tools     map[string]*Tool
	audit     *AuditLogger
	metrics   *transport.MetricsRegistry
	logger    *slog.Logger
	mu        sync.RWMutex
}

// Options carries the server's collaborators. Zero fields get exec-backed
// production defaults; tests inject fakes.
type Options struct {
	Analyzer  parser.Analyzer
	Screen    desktop.Screen
	Input     desktop.Input
	Clipboard desktop.Clipboard
	Windows   desktop.Windows
	Metrics   *transport.MetricsRegistry
	Logger    *slog.Logger
	AuditPath string
}

// Tool is one registered MCP tool.
type Tool struct {
	Handler     func(ctx context.Context, call *ToolCall) (*ToolResult, error)
	InputSchema map[string]any
	Name        string
	Description string
}

// ToolCall is a tools/call request body.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is a tools/call result.
type ToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content is one content item in a tool result: text, or a base64 image.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// New builds a server around the given configuration and collaborators
// and seeds the cursor context from the live desktop.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		session:   session.New(),
		analyzer:  opts.Analyzer,
		screen:    opts.Screen,
		input:     opts.Input,
		clipboard: opts.Clipboard,
		windows:   opts.Windows,
		metrics:   opts.Metrics,
		logger:    logger,
	}

	if s.screen == nil {
		s.screen = &desktop.ExecScreen{}
	}
	if s.input == nil {
		s.input = &desktop.ExecInput{}
	}
	if s.clipboard == nil {
		s.clipboard = &desktop.ExecClipboard{}
	}
	if s.windows == nil {
		s.windows = &desktop.ExecWindows{}
	}
	if s.analyzer == nil {
		analyzer, err := buildAnalyzer(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		s.analyzer = analyzer
	}

	audit, err := NewAuditLogger(opts.AuditPath)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	s.audit = audit

	s.registerTools()
	s.seedCursor(ctx)

	return s, nil
}

func buildAnalyzer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (parser.Analyzer, error) {
	switch cfg.Backend {
	case config.BackendRemote:
		// No client timeout: an analysis pass may outlive any single
		// tool call, and abandoned callers rejoin it.
		return parser.NewRemote(parser.RemoteConfig{
			ServerAddr:   cfg.ParserServer,
			Device:       cfg.Device,
			BoxThreshold: cfg.BoxThreshold,
		}), nil
	case config.BackendLocal:
		return parser.NewLocal(ctx, parser.LocalConfig{
			BaseURL: cfg.OllamaURL,
			Port:    cfg.OllamaPort,
			Model:   cfg.CaptionModel,
			Logger:  logger,
		})
	default:
		return nil, fmt.Errorf("unknown analysis backend %q", cfg.Backend)
	}
}

// seedCursor reads the real pointer position and foreground window once
// at startup. A desktop that cannot answer yet is not fatal; untargeted
// actions will fall back to (0, 0) until the first explicit action.
func (s *Server) seedCursor(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var x, y int
	if p, err := s.input.PointerPosition(ctx); err == nil {
		x, y = p.X, p.Y
	} else {
		s.logger.Warn("could not read pointer position at startup", "error", err)
	}

	var handle string
	if w, err := s.windows.Active(ctx); err == nil {
		handle = w.Handle
	} else {
		s.logger.Warn("could not read active window at startup", "error", err)
	}

	s.session.Cursor.Seed(x, y, handle)
}

// Close releases the server's resources.
func (s *Server) Close() error {
	return s.audit.Close()
}

// HandleMessage is the transport.Handler for both stdio and HTTP
// transports. It serves the MCP protocol methods and dispatches tool
// calls; the returned message is nil for notifications.
func (s *Server) HandleMessage(msg *transport.Message) (*transport.Message, error) {
	switch msg.Method {
	case "initialize":
		result, _ := json.Marshal(map[string]any{
			"protocolVersion": protocolVer,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": serverName, "version": serverVersion},
		})
		return &transport.Message{JSONRPC: "2.0", ID: msg.ID, Result: result}, nil

	case "notifications/initialized":
		return nil, nil

	case "ping":
		return &transport.Message{JSONRPC: "2.0", ID: msg.ID, Result: json.RawMessage(`{}`)}, nil

	case "tools/list":
		return s.handleToolsList(msg), nil

	case "tools/call":
		return s.handleToolsCall(msg), nil

	default:
		return transport.ErrorResponse(msg.ID, transport.ErrCodeMethodNotFound,
			fmt.Sprintf("Method not found: %s", msg.Method)), nil
	}
}

func (s *Server) handleToolsList(msg *transport.Message) *transport.Message {
	s.mu.RLock()
	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	tools := make([]map[string]any, 0, len(names))
	for _, name := range names {
		tool := s.tools[name]
		tools = append(tools, map[string]any{
			"name":        tool.Name,
			"description": tool.Description,
			"inputSchema": tool.InputSchema,
		})
	}
	s.mu.RUnlock()

	result, _ := json.Marshal(map[string]any{"tools": tools})
	return &transport.Message{JSONRPC: "2.0", ID: msg.ID, Result: result}
}

func (s *Server) handleToolsCall(msg *transport.Message) *transport.Message {
	var params ToolCall
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return transport.ErrorResponse(msg.ID, transport.ErrCodeInvalidRequest,
			fmt.Sprintf("Invalid request: %v", err))
	}

	s.mu.RLock()
	tool, exists := s.tools[params.Name]
	s.mu.RUnlock()
	if !exists {
		return transport.ErrorResponse(msg.ID, transport.ErrCodeMethodNotFound,
			fmt.Sprintf("Tool not found: %s", params.Name))
	}

	var args map[string]any
	if len(params.Arguments) > 0 {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return transport.ErrorResponse(msg.ID, transport.ErrCodeInvalidParams,
				fmt.Sprintf("Invalid arguments: %v", err))
		}
	}
	if errMsg := validateToolInput(tool, args); errMsg != nil {
		errMsg.ID = msg.ID
		return errMsg
	}

	result := s.dispatch(tool, &params)

	resultBytes, _ := json.Marshal(result)
	return &transport.Message{JSONRPC: "2.0", ID: msg.ID, Result: resultBytes}
}

// dispatch runs the tool handler under the configured request timeout
// and converts any error into a structured failure result, so callers
// branch on the outcome rather than on transport-level faults.
func (s *Server) dispatch(tool *Tool, call *ToolCall) *ToolResult {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	invocation := newInvocationID()

	s.logger.Debug("tool call", "tool", call.Name, "invocation", invocation)

	result, err := tool.Handler(ctx, call)
	if err != nil {
		result = errorResult(formatStatusError(err, call.Name))
	}

	outcome := "ok"
	if result.IsError {
		outcome = "error"
	}
	if s.metrics != nil {
		s.metrics.RecordToolCall(call.Name, outcome, time.Since(start))
	}
	s.audit.LogToolCall(invocation, call.Name, call.Arguments, outcome, time.Since(start))

	return result
}

// registerTools installs the tool table. Schemas gate input before the
// handlers run; handlers can rely on required fields being present and
// enums holding allowed values.
func (s *Server) registerTools() {
	idProp := func(desc string) map[string]any {
		return map[string]any{"type": "integer", "description": desc}
	}
	buttonProp := map[string]any{
		"type":        "string",
		"enum":        []string{"left", "middle", "right"},
		"description": "Mouse button",
	}

	s.tools = map[string]*Tool{
		"analyze_screen": {
			Name: "analyze_screen",
			Description: "Capture the screen and analyze its elements. Returns a summary " +
				"with one numbered element per line plus an annotated preview image. " +
				"If a timeout occurs, run it again to keep waiting for the same pass.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
			Handler: s.handleAnalyzeScreen,
		},
		"click": {
			Name:        "click",
			Description: "Click an element by the ID reported by analyze_screen. Returns false if the ID is not on screen.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":     idProp("Element ID from analyze_screen"),
					"button": buttonProp,
					"clicks": map[string]any{"type": "integer", "description": "Number of clicks; 2 for a double click"},
				},
				"required": []string{"id"},
			},
			Handler: s.handleClick,
		},
		"drag": {
			Name:        "drag",
			Description: "Drag from one element to another. Returns false if either ID is not on screen.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"from_id": idProp("Element ID to start the drag at"),
					"to_id":   idProp("Element ID to end the drag at"),
					"button":  buttonProp,
					"key":     map[string]any{"type": "string", "description": "Key held down during the drag; see list_keys"},
				},
				"required": []string{"from_id", "to_id"},
			},
			Handler: s.handleDrag,
		},
		"move": {
			Name:        "move",
			Description: "Move the mouse cursor over an element. Returns false if the ID is not on screen.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id": idProp("Element ID from analyze_screen"),
				},
				"required": []string{"id"},
			},
			Handler: s.handleMove,
		},
		"scroll": {
			Name:        "scroll",
			Description: "Scroll the mouse wheel at the last touched location. Positive scrolls up, negative scrolls down.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"amount": map[string]any{"type": "integer", "description": "Scroll clicks; 10 up, -10 down"},
				},
				"required": []string{"amount"},
			},
			Handler: s.handleScroll,
		},
		"write": {
			Name: "write",
			Description: "Type text. With an id, clicks the element first; otherwise types at the " +
				"last touched location. Non-ASCII text is delivered via clipboard paste.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text": map[string]any{"type": "string", "description": "Text to enter"},
					"id":   idProp("Optional element ID to click before typing"),
				},
				"required": []string{"text"},
			},
			Handler: s.handleWrite,
		},
		"press_keys": {
			Name: "press_keys",
			Description: "Press up to three keyboard keys as a chord: pressed in order, released " +
				"in reverse order. Key names come from list_keys.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"key1": map[string]any{"type": "string", "description": "First key"},
					"key2": map[string]any{"type": "string", "description": "Second key (optional)"},
					"key3": map[string]any{"type": "string", "description": "Third key (optional)"},
				},
				"required": []string{"key1"},
			},
			Handler: s.handlePressKeys,
		},
		"list_keys": {
			Name:        "list_keys",
			Description: "List valid keyboard key names for press_keys and drag.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
			Handler: s.handleListKeys,
		},
		"screen_size": {
			Name:        "screen_size",
			Description: "Report the physical screen resolution.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
			Handler: s.handleScreenSize,
		},
		"cursor_position": {
			Name:        "cursor_position",
			Description: "Report the tracked mouse cursor position.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
			Handler: s.handleCursorPosition,
		},
		"list_windows": {
			Name:        "list_windows",
			Description: "List currently open windows.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
			Handler: s.handleListWindows,
		},
		"focus_window": {
			Name:        "focus_window",
			Description: "Focus a window by title. Returns false if no window matches.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"window_name": map[string]any{"type": "string", "description": "Title (or part of it) of the window to focus"},
				},
				"required": []string{"window_name"},
			},
			Handler: s.handleFocusWindow,
		},
	}
}
