package transport

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestMetricsRecordToolCall(t *testing.T) {
	m := NewMetricsRegistry()
	m.RecordToolCall("click", "ok", 5*time.Millisecond)
	m.RecordToolCall("click", "ok", 8*time.Millisecond)
	m.RecordToolCall("click", "error", 2*time.Millisecond)
	m.RecordToolCall("analyze_screen", "ok", 1200*time.Millisecond)

	var buf bytes.Buffer
	if err := m.WritePrometheus(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()

	checks := []string{
		`autogui_tool_calls_total{tool="click",status="ok"} 2`,
		`autogui_tool_calls_total{tool="click",status="error"} 1`,
		`autogui_tool_calls_total{tool="analyze_screen",status="ok"} 1`,
		`autogui_tool_call_duration_seconds_count{tool="click"} 3`,
		`# TYPE autogui_tool_calls_total counter`,
		`# TYPE autogui_tool_call_duration_seconds histogram`,
	}
	for _, want := range checks {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
}

func TestMetricsRecordAnalysis(t *testing.T) {
	m := NewMetricsRegistry()
	m.RecordAnalysis("remote", "ok", 2*time.Second)
	m.RecordAnalysis("remote", "error", time.Second)

	var buf bytes.Buffer
	if err := m.WritePrometheus(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()

	if !strings.Contains(out, `autogui_analysis_passes_total{backend="remote",status="ok"} 1`) {
		t.Errorf("missing analysis counter:\n%s", out)
	}
	if !strings.Contains(out, `autogui_analysis_duration_seconds_sum{backend="remote"} 3`) {
		t.Errorf("missing analysis duration sum:\n%s", out)
	}
}

func TestMetricsHistogramBuckets(t *testing.T) {
	m := NewMetricsRegistry()
	m.ObserveHistogram("autogui_tool_call_duration_seconds", `tool="move"`, 0.02)
	m.ObserveHistogram("autogui_tool_call_duration_seconds", `tool="move"`, 100.0) // beyond last bound

	var buf bytes.Buffer
	if err := m.WritePrometheus(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()

	// 0.02 lands in the 0.025 bucket; 100 lands only in +Inf.
	if !strings.Contains(out, `autogui_tool_call_duration_seconds_bucket{tool="move",le="0.025"} 1`) {
		t.Errorf("bucket count wrong:\n%s", out)
	}
	if !strings.Contains(out, `autogui_tool_call_duration_seconds_bucket{tool="move",le="+Inf"} 2`) {
		t.Errorf("+Inf bucket must count all observations:\n%s", out)
	}
}

func TestMetricsGauges(t *testing.T) {
	m := NewMetricsRegistry()
	m.SetSSEConnections(3)
	m.IncrementGauge("autogui_sse_connections_active", "", -1)

	var buf bytes.Buffer
	if err := m.WritePrometheus(&buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "autogui_sse_connections_active 2") {
		t.Errorf("gauge value wrong:\n%s", buf.String())
	}
}

func TestMetricsUnknownNamesIgnored(t *testing.T) {
	m := NewMetricsRegistry()
	m.IncrementCounter("no_such_metric", "")
	m.ObserveHistogram("no_such_metric", "", 1)
	m.SetGauge("no_such_metric", "", 1)

	var buf bytes.Buffer
	if err := m.WritePrometheus(&buf); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "no_such_metric") {
		t.Error("unregistered metrics must not appear in output")
	}
}

func TestMetricsDeterministicOutput(t *testing.T) {
	m := NewMetricsRegistry()
	m.RecordToolCall("write", "ok", time.Millisecond)
	m.RecordToolCall("drag", "ok", time.Millisecond)
	m.RecordSSEEvent()

	var first bytes.Buffer
	if err := m.WritePrometheus(&first); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		var again bytes.Buffer
		if err := m.WritePrometheus(&again); err != nil {
			t.Fatal(err)
		}
		if again.String() != first.String() {
			t.Fatal("exposition output must be deterministic")
		}
	}
}
