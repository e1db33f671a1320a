package server

import (
	"context"
	"time"

	"github.com/ahouse2/omniparser-autogui-mcp/internal/parser"
	"github.com/ahouse2/omniparser-autogui-mcp/internal/session"
)

// handleAnalyzeScreen requests an analysis pass and waits for it. A call
// arriving while a pass is already running joins that pass instead of
// starting a second one; a caller whose wait times out can call again
// and rejoin the still-running pass.
func (s *Server) handleAnalyzeScreen(ctx context.Context, call *ToolCall) (*ToolResult, error) {
	ticket := s.session.Analysis.Request(s.analysisPass)

	result, err := s.session.Analysis.Await(ctx, ticket)
	if err != nil {
		return nil, err
	}

	return &ToolResult{
		Content: []Content{
			{Type: "text", Text: result.Summary},
			imageContent(result.Preview),
		},
	}, nil
}

// analysisPass is the background unit of work: capture, detect, build
// the summary and annotated preview. It has no side effects on the
// desktop, which is why abandoning one mid-flight is harmless.
func (s *Server) analysisPass(ctx context.Context) (*session.AnalysisResult, error) {
	start := time.Now()

	result, err := s.runAnalysis(ctx)

	if s.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		s.metrics.RecordAnalysis(string(s.cfg.Backend), outcome, time.Since(start))
	}
	if err != nil {
		s.logger.Error("analysis pass failed", "error", err)
		return nil, err
	}

	s.logger.Info("analysis pass complete",
		"elements", len(result.Elements),
		"duration", time.Since(start))
	return result, nil
}

func (s *Server) runAnalysis(ctx context.Context) (*session.AnalysisResult, error) {
	screenshot, err := s.screen.Capture(ctx)
	if err != nil {
		return nil, err
	}

	detection, err := s.analyzer.Analyze(ctx, screenshot)
	if err != nil {
		return nil, err
	}

	return parser.BuildResult(detection, screenshot, s.cfg.AnalysisSize)
}
