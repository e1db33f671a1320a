package server

import (
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditLogger writes one structured JSON record per tool invocation:
// invocation id, tool name, redacted arguments, outcome, and duration.
// Disabled when no file path is configured.
type AuditLogger struct {
	logger  *slog.Logger
	file    *os.File
	enabled bool
	mu      sync.RWMutex
}

// Argument keys whose values never belong in an audit trail. The write
// tool routinely carries text an agent is typing into login forms.
var redactedKeys = map[string]bool{
	"password":    true,
	"secret":      true,
	"token":       true,
	"api_key":     true,
	"apikey":      true,
	"credential":  true,
	"credentials": true,
	"passphrase":  true,
	"auth":        true,
}

// NewAuditLogger opens the audit file for appending. An empty path
// disables audit logging without error.
func NewAuditLogger(filePath string) (*AuditLogger, error) {
	if filePath == "" {
		return &AuditLogger{enabled: false}, nil
	}

	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})

	return &AuditLogger{
		logger:  slog.New(handler),
		file:    file,
		enabled: true,
	}, nil
}

// Close closes the audit file if one is open. Safe to call repeatedly.
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		err := a.file.Close()
		a.file = nil
		return err
	}
	return nil
}

// IsEnabled reports whether invocations are being recorded.
func (a *AuditLogger) IsEnabled() bool {
	if a == nil {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// LogToolCall records one invocation with sensitive argument values
// redacted.
func (a *AuditLogger) LogToolCall(invocation, tool string, args json.RawMessage, status string, duration time.Duration) {
	if !a.IsEnabled() {
		return
	}

	a.mu.RLock()
	logger := a.logger
	a.mu.RUnlock()
	if logger == nil {
		return
	}

	logger.Info("tool_invocation",
		slog.String("invocation", invocation),
		slog.String("tool", tool),
		slog.String("arguments", redactArguments(args)),
		slog.String("status", status),
		slog.Float64("duration_seconds", duration.Seconds()),
	)
}

// newInvocationID mints the correlation id tying an audit record to the
// debug log lines of the same call.
func newInvocationID() string {
	return uuid.NewString()
}

func redactArguments(args json.RawMessage) string {
	if len(args) == 0 {
		return "{}"
	}

	var parsed map[string]any
	if err := json.Unmarshal(args, &parsed); err != nil {
		return "[unparseable]"
	}

	redactMapValues(parsed)

	redacted, err := json.Marshal(parsed)
	if err != nil {
		return "[error]"
	}
	return string(redacted)
}

func redactMapValues(m map[string]any) {
	for key, value := range m {
		lowerKey := strings.ToLower(key)

		if redactedKeys[lowerKey] {
			m[key] = "[REDACTED]"
			continue
		}
		for redactKey := range redactedKeys {
			if strings.Contains(lowerKey, redactKey) {
				m[key] = "[REDACTED]"
				break
			}
		}

		if nested, ok := value.(map[string]any); ok {
			redactMapValues(nested)
		}
		if arr, ok := value.([]any); ok {
			for _, item := range arr {
				if nestedMap, ok := item.(map[string]any); ok {
					redactMapValues(nestedMap)
				}
			}
		}
	}
}
