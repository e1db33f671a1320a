package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/png"
	"log/slog"
	"os"
	"strings"

	"github.com/agent-api/core/pkg/agent"
	"github.com/agent-api/core/types"
	"github.com/agent-api/ollama"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ahouse2/omniparser-autogui-mcp/internal/session"
)

// LocalConfig configures the local vision-model backend.
type LocalConfig struct {
	// BaseURL and Port locate the ollama daemon.
	BaseURL string
	Port    int
	// Model is the vision model id, e.g. "llama3.2-vision:11b".
	Model  string
	Logger *slog.Logger
}

const localSystemPrompt = "You are a GUI element detector. Given a screenshot, list every " +
	"interactive or labelled element you can see. Respond with only a JSON array; each item " +
	`is {"type": "text"|"icon", "content": "<short caption>", "box": [x1, y1, x2, y2]} ` +
	"where coordinates are fractions of the image width and height between 0 and 1. " +
	"Order items top to bottom, left to right. No prose, no markdown fences."

// Local runs detection through a vision model served by ollama. It is
// the fallback for deployments without a dedicated analysis server;
// captions are model output, boxes are the model's best estimate.
type Local struct {
	agent  *agent.DefaultAgent
	logger *slog.Logger
}

// NewLocal starts a vision agent against the configured ollama daemon.
func NewLocal(ctx context.Context, cfg LocalConfig) (*Local, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	provider := ollama.NewProvider(&ollama.ProviderOpts{
		Logger:  logger,
		BaseURL: cfg.BaseURL,
		Port:    cfg.Port,
	})
	provider.UseModel(ctx, &types.Model{ID: cfg.Model})

	return &Local{
		agent: agent.NewAgent(&agent.NewAgentConfig{
			Provider:     provider,
			Logger:       logger,
			SystemPrompt: localSystemPrompt,
		}),
		logger: logger,
	}, nil
}

// Analyze implements Analyzer using the vision model.
func (l *Local) Analyze(ctx context.Context, screenshot []byte) (*Detection, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(screenshot))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}

	// The agent API addresses images by path.
	tmp, err := os.CreateTemp("", "autogui-analyze-*.png")
	if err != nil {
		return nil, err
	}
	path := tmp.Name()
	defer os.Remove(path)
	if _, err := tmp.Write(screenshot); err != nil {
		tmp.Close()
		return nil, err
	}
	tmp.Close()

	response := l.agent.Run(ctx,
		agent.WithInput("List every GUI element in this screenshot as instructed."),
		agent.WithImagePath(path),
	)
	if response.Err != nil {
		return nil, status.Errorf(codes.Unavailable, "vision model: %v", response.Err)
	}
	if len(response.Messages) == 0 {
		return nil, status.Error(codes.Internal, "vision model returned no messages")
	}
	content := response.Messages[len(response.Messages)-1].Content
	l.logger.Debug("vision model responded", "chars", len(content))

	elements, err := parseModelElements(content, cfg.Width, cfg.Height)
	if err != nil {
		return nil, err
	}
	return &Detection{
		Elements: elements,
		Shape:    session.ImageShape{Rows: cfg.Height, Cols: cfg.Width},
	}, nil
}

// modelElement is the JSON item the vision model is prompted for.
type modelElement struct {
	Type    string    `json:"type"`
	Content string    `json:"content"`
	Box     []float64 `json:"box"`
}

// parseModelElements extracts the JSON array from the model's reply and
// de-normalizes fractional boxes into pixel bounds. Vision models wrap
// output in prose or fences often enough that we scan for the array
// rather than demanding clean JSON.
func parseModelElements(content string, width, height int) ([]session.Element, error) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end <= start {
		return nil, status.Errorf(codes.Internal, "vision model reply contains no element array: %s", truncate(content, 200))
	}

	var raw []modelElement
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil, status.Errorf(codes.Internal, "vision model reply is not valid JSON: %v", err)
	}

	elements := make([]session.Element, 0, len(raw))
	for _, me := range raw {
		if len(me.Box) != 4 {
			continue // skip malformed items rather than failing the pass
		}
		kind := me.Type
		if kind != "text" {
			kind = "icon"
		}
		elements = append(elements, session.Element{
			ID:      len(elements),
			Kind:    kind,
			Content: me.Content,
			Bounds: session.Bounds{
				ColMin: clamp01(me.Box[0]) * float64(width),
				RowMin: clamp01(me.Box[1]) * float64(height),
				ColMax: clamp01(me.Box[2]) * float64(width),
				RowMax: clamp01(me.Box[3]) * float64(height),
			},
		})
	}
	return elements, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
