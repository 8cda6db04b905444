package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{" info ", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"trace", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewWithWriter(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("info", &buf)
	log.Debug("hidden")
	log.Info("plan matched", "plan_id", "p1")

	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("debug record written at info level: %s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"msg":"plan matched"`)) {
		t.Errorf("expected JSON msg field, got: %s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"plan_id":"p1"`)) {
		t.Errorf("expected plan_id attribute, got: %s", buf.String())
	}
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	log := NewText("warn", &buf)
	log.Info("hidden")
	log.Warn("unknown operator", "operator", "approx")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info record written at warn level: %s", out)
	}
	if !strings.Contains(out, `msg="unknown operator"`) || !strings.Contains(out, "operator=approx") {
		t.Fatalf("unexpected text output: %s", out)
	}
}
