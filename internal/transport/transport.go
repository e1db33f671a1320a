// Package transport carries JSON-RPC 2.0 messages between the automation
// server and its caller, either over stdio (the default for MCP hosts that
// spawn the server as a subprocess) or over HTTP with an SSE response
// stream.
package transport

import "encoding/json"

// JSON-RPC 2.0 standard error codes.
// See: https://www.jsonrpc.org/specification#error_object
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Message is a JSON-RPC 2.0 request or response. Requests carry Method and
// Params; responses carry Result or Error and echo the request ID.
// Notifications are requests without an ID and receive no response.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObj       `json:"error,omitempty"`
}

// ErrorObj is a JSON-RPC 2.0 error object.
type ErrorObj struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ErrorResponse builds an error response echoing the request's ID.
func ErrorResponse(id json.RawMessage, code int, message string) *Message {
	return &Message{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &ErrorObj{Code: code, Message: message},
	}
}

// Handler processes one request and returns the response, or nil for
// notifications. A non-nil error is reported to the caller as an internal
// JSON-RPC error.
type Handler func(*Message) (*Message, error)

// Transport moves messages between the server and its peer. Implementations
// are safe for concurrent use. ReadMessage returns io.EOF when the peer has
// closed the connection; HTTP transports deliver requests through Serve's
// handler instead and reject ReadMessage.
type Transport interface {
	ReadMessage() (*Message, error)
	WriteMessage(msg *Message) error
	Close() error
	IsClosed() bool
}

var (
	_ Transport = (*StdioTransport)(nil)
	_ Transport = (*HTTPTransport)(nil)
)
