package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestPreInitLoggerUsesConfiguredHandler(t *testing.T) {
	logger := L("session")

	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger.Info("recording started", KeyDevice, "synthetic:heart")

	out := buf.String()
	if !strings.Contains(out, "msg=\"recording started\"") {
		t.Fatalf("expected message, got: %s", out)
	}
	if !strings.Contains(out, "component=session") {
		t.Fatalf("expected component field, got: %s", out)
	}
	if !strings.Contains(out, "device=synthetic:heart") {
		t.Fatalf("expected device field, got: %s", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	logger := L("render")

	var buf bytes.Buffer
	Init("text", "warn", &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info log should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn log should be emitted: %s", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	Init("JSON", "debug", &buf)

	L("wav").Debug("encoded", "bytes", 96044)

	out := buf.String()
	if !strings.Contains(out, `"component":"wav"`) || !strings.Contains(out, `"bytes":96044`) {
		t.Fatalf("expected JSON fields, got: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" WARNING ", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
