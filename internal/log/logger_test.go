package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
)

func resetLogger() {
	logger = nil
	once = sync.Once{}
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON %q: %v", buf.String(), err)
	}
	return out
}

func TestSetupWriterLevel(t *testing.T) {
	resetLogger()
	defer resetLogger()

	var buf bytes.Buffer
	SetupWriter(&buf, "warn")

	Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("INFO should be filtered at WARN level, got %q", buf.String())
	}

	Warn("kept", "k", "v")
	out := decodeLine(t, &buf)
	if out["msg"] != "kept" || out["k"] != "v" {
		t.Errorf("unexpected record: %v", out)
	}
}

func TestSetupOnlyOnce(t *testing.T) {
	resetLogger()
	defer resetLogger()

	var first, second bytes.Buffer
	SetupWriter(&first, "info")
	SetupWriter(&second, "debug")

	Info("hello")
	if first.Len() == 0 {
		t.Error("expected output on the first writer")
	}
	if second.Len() != 0 {
		t.Error("second SetupWriter call should be ignored")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"Warning", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))
	defer resetLogger()

	WithComponent("bridge").Info("hello")

	out := decodeLine(t, &buf)
	if out["component"] != "bridge" {
		t.Errorf("Expected component 'bridge', got %v", out["component"])
	}
	if out["msg"] != "hello" {
		t.Errorf("Expected msg 'hello', got %v", out["msg"])
	}
}

func TestWithInvocation(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))
	defer resetLogger()

	WithInvocation("abc-123").Info("spawned")

	out := decodeLine(t, &buf)
	if out["correlation_id"] != "abc-123" {
		t.Errorf("Expected correlation_id 'abc-123', got %v", out["correlation_id"])
	}
}
