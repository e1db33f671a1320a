package transport

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// StdioTransport speaks newline-delimited JSON-RPC 2.0 over a reader and a
// writer, normally the process's stdin and stdout. Log output must go to
// stderr; stdout belongs to the protocol.
type StdioTransport struct {
	reader *bufio.Reader
	writer io.Writer
	logger *slog.Logger
	mu     sync.Mutex
	closed bool
}

// NewStdioTransport wraps stdin/stdout style streams in a transport.
func NewStdioTransport(stdin io.Reader, stdout io.Writer, logger *slog.Logger) *StdioTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioTransport{
		reader: bufio.NewReader(stdin),
		writer: stdout,
		logger: logger,
	}
}

// ReadMessage reads one newline-terminated JSON-RPC message.
func (t *StdioTransport) ReadMessage() (*Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, errors.New("transport is closed")
	}

	line, err := t.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read line: %w", err)
	}

	line = strings.TrimSpace(line)
	if line == "" {
		return nil, errors.New("empty line received")
	}

	var msg Message
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}
	return &msg, nil
}

// WriteMessage writes one message followed by a newline.
func (t *StdioTransport) WriteMessage(msg *Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return errors.New("transport is closed")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if _, err := t.writer.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if _, err := t.writer.Write([]byte("\n")); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	return nil
}

// Close marks the transport closed. Idempotent.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// IsClosed reports whether Close has been called.
func (t *StdioTransport) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Serve reads requests until stdin closes, dispatching each to handler and
// writing back whatever it returns. Malformed lines are logged and skipped
// so a single bad message cannot take the session down.
func (t *StdioTransport) Serve(handler Handler) error {
	for {
		msg, err := t.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				t.logger.Info("stdin closed, exiting")
				return nil
			}
			if t.IsClosed() {
				return nil
			}
			t.logger.Error("reading message", "error", err)
			continue
		}

		response, err := handler(msg)
		if err != nil {
			t.logger.Error("handling message", "method", msg.Method, "error", err)
			response = ErrorResponse(msg.ID, ErrCodeInternalError, err.Error())
		}

		if response != nil {
			if err := t.WriteMessage(response); err != nil {
				t.logger.Error("writing response", "error", err)
			}
		}
	}
}
