package parser

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ahouse2/omniparser-autogui-mcp/internal/session"
)

// RemoteConfig configures the remote detection backend.
type RemoteConfig struct {
	// ServerAddr is the host:port of the OmniParser server.
	ServerAddr string
	// Device selects the compute device the server should run detection
	// on, e.g. "cpu" or "cuda". Empty leaves the server's default.
	Device string
	// BoxThreshold is the minimum detection confidence. Zero leaves the
	// server's default.
	BoxThreshold float64
	// Timeout bounds one analysis round trip. Zero means no limit;
	// detection on CPU hosts can legitimately take minutes.
	Timeout time.Duration
}

// Remote sends screenshots to an OmniParser-style analysis server over
// HTTP. The server receives a base64 PNG and returns the detected
// elements with pixel-space boxes and generated captions.
type Remote struct {
	baseURL      string
	device       string
	boxThreshold float64
	client       *http.Client
}

// NewRemote creates a client for the analysis server at addr.
func NewRemote(cfg RemoteConfig) *Remote {
	addr := cfg.ServerAddr
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Remote{
		baseURL:      strings.TrimRight(addr, "/"),
		device:       cfg.Device,
		boxThreshold: cfg.BoxThreshold,
		client:       &http.Client{Timeout: cfg.Timeout},
	}
}

// analyzeRequest is the wire request for POST /analyze.
type analyzeRequest struct {
	Image           string  `json:"image"`
	TaskDescription string  `json:"task_description"`
	Device          string  `json:"device,omitempty"`
	BoxThreshold    float64 `json:"box_threshold,omitempty"`
}

// remoteElement is one detected element as the server reports it. Box
// is [x1, y1, x2, y2] in analysis-image pixels.
type remoteElement struct {
	ID      int       `json:"id"`
	Type    string    `json:"type"`
	Box     []float64 `json:"box"`
	Score   float64   `json:"score"`
	Caption string    `json:"caption"`
	Content string    `json:"content"`
}

// analyzeResponse is the wire response. ImageSize is [width, height].
type analyzeResponse struct {
	Elements  []remoteElement `json:"elements"`
	ImageSize []int           `json:"image_size"`
}

// Analyze implements Analyzer against the remote server.
func (r *Remote) Analyze(ctx context.Context, screenshot []byte) (*Detection, error) {
	body, err := json.Marshal(analyzeRequest{
		Image:           base64.StdEncoding.EncodeToString(screenshot),
		TaskDescription: "Identify all interactive GUI elements on this screen.",
		Device:          r.device,
		BoxThreshold:    r.boxThreshold,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "analysis server unreachable: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, status.Errorf(codes.Internal, "analysis server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var parsed analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, status.Errorf(codes.Internal, "decode analysis response: %v", err)
	}
	slog.Debug("remote analysis complete", "elements", len(parsed.Elements), "elapsed", time.Since(start))

	return r.toDetection(parsed, screenshot)
}

func (r *Remote) toDetection(parsed analyzeResponse, screenshot []byte) (*Detection, error) {
	shape := session.ImageShape{}
	if len(parsed.ImageSize) == 2 {
		shape.Cols, shape.Rows = parsed.ImageSize[0], parsed.ImageSize[1]
	}
	if shape.Rows <= 0 || shape.Cols <= 0 {
		// Older servers omit image_size; the analyzed image is the
		// screenshot we sent, so measure that instead.
		cfg, _, err := image.DecodeConfig(bytes.NewReader(screenshot))
		if err != nil {
			return nil, status.Errorf(codes.Internal, "analysis response carries no image shape and screenshot is undecodable: %v", err)
		}
		shape.Cols, shape.Rows = cfg.Width, cfg.Height
	}

	elements := make([]session.Element, 0, len(parsed.Elements))
	for i, re := range parsed.Elements {
		if len(re.Box) != 4 {
			return nil, status.Errorf(codes.Internal, "element %d has malformed box %v", i, re.Box)
		}
		kind := re.Type
		if kind == "" {
			kind = "icon"
		}
		content := re.Content
		if content == "" {
			content = re.Caption
		}
		elements = append(elements, session.Element{
			ID:      i, // detection order, regardless of what the server claims
			Kind:    kind,
			Content: content,
			Bounds: session.Bounds{
				ColMin: re.Box[0],
				RowMin: re.Box[1],
				ColMax: re.Box[2],
				RowMax: re.Box[3],
			},
		})
	}

	return &Detection{Elements: elements, Shape: shape}, nil
}

// Healthy probes the server's health endpoint.
func (r *Remote) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return status.Errorf(codes.Unavailable, "analysis server unreachable: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("analysis server health check returned %d", resp.StatusCode)
	}
	return nil
}
