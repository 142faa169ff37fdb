package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "DEBUG", "json")

	WithComponent("test-comp").Info("hello")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["component"] != "test-comp" {
		t.Errorf("Expected component 'test-comp', got %v", out["component"])
	}
	if out["msg"] != "hello" {
		t.Errorf("Expected msg 'hello', got %v", out["msg"])
	}
}

func TestWithPlugin(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "INFO", "json")

	WithPlugin("my-plugin").Info("plugin msg")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["plugin"] != "my-plugin" {
		t.Errorf("Expected plugin 'my-plugin', got %v", out["plugin"])
	}
}

func TestWithEvent(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "INFO", "json")

	WithEvent("message.group").Info("event msg")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["event_type"] != "message.group" {
		t.Errorf("Expected event_type 'message.group', got %v", out["event_type"])
	}
}

func TestTextFormatAndLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "WARN", "text")

	Info("dropped")
	Warn("kept", "k", "v")

	got := buf.String()
	if strings.Contains(got, "dropped") {
		t.Fatalf("info line should be filtered at WARN: %q", got)
	}
	if !strings.Contains(got, "msg=kept") || !strings.Contains(got, "k=v") {
		t.Fatalf("unexpected text output: %q", got)
	}
}
