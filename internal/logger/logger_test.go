package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{" info ", LevelInfo},
		{"warning", LevelWarn},
		{"Error", LevelError},
		{"off", LevelNone},
		{"whatever", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(LevelWarn, &buf, "shell")

	l.Debug("hidden %d", 1)
	l.Info("hidden %d", 2)
	l.Warn("visible %d", 3)
	l.Error("visible %d", 4)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("expected debug/info to be filtered, got %q", out)
	}
	if !strings.Contains(out, "[WARN] [shell] visible 3") {
		t.Errorf("missing warn line in %q", out)
	}
	if !strings.Contains(out, "[ERROR] [shell] visible 4") {
		t.Errorf("missing error line in %q", out)
	}
}

func TestWithPrefixNests(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(LevelDebug, &buf, "orchestrator").WithPrefix("replan")
	l.Debug("hello")

	if !strings.Contains(buf.String(), "[orchestrator:replan] hello") {
		t.Errorf("unexpected prefix in %q", buf.String())
	}
}

func TestNewFileLogger(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "sysask.log")

	l, err := New(LevelInfo, logPath, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Info("written")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "[INFO] written") {
		t.Errorf("log file content = %q", data)
	}
}

func TestDisabledLoggerDiscards(t *testing.T) {
	l, err := New(LevelNone, filepath.Join(t.TempDir(), "x.log"), "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Error("nothing")
	if l.GetLevel() != LevelNone {
		t.Errorf("level = %v", l.GetLevel())
	}
}
