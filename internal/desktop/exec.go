package desktop

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// runOutput runs a command and returns its stdout. Failures become
// Unavailable status errors carrying the tool name and trailing stderr,
// which the tool handlers surface verbatim to the calling agent.
func runOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, collaboratorError(name, err, stderr.String())
	}
	return out, nil
}

// runInput runs a command feeding stdin, discarding stdout.
func runInput(ctx context.Context, stdin string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = strings.NewReader(stdin)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return collaboratorError(name, err, stderr.String())
	}
	return nil
}

func collaboratorError(tool string, err error, stderr string) error {
	stderr = strings.TrimSpace(stderr)
	slog.Debug("desktop command failed", "tool", tool, "error", err, "stderr", stderr)
	if stderr != "" {
		return status.Errorf(codes.Unavailable, "%s: %v: %s", tool, err, lastLine(stderr))
	}
	return status.Errorf(codes.Unavailable, "%s: %v", tool, err)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

func unsupported(what, goos string) error {
	return status.Errorf(codes.Unavailable, "%s is not supported on %s", what, goos)
}
