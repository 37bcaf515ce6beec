package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
)

func TestSetupWriter(t *testing.T) {
	// Reset logger for testing
	logger = nil
	once = *new(sync.Once)

	var buf bytes.Buffer
	SetupWriter("DEBUG", &buf)
	if logger == nil {
		t.Fatal("Logger should not be nil")
	}

	Debug("visible at debug")
	if buf.Len() == 0 {
		t.Fatal("expected debug output to be written")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
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

	WithComponent("supervisor").Info("hello")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["component"] != "supervisor" {
		t.Errorf("Expected component 'supervisor', got %v", out["component"])
	}
	if out["msg"] != "hello" {
		t.Errorf("Expected msg 'hello', got %v", out["msg"])
	}
}

func TestWithInstance(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithInstance("dmf_device_ui_plugin").Info("instance msg")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["instance"] != "dmf_device_ui_plugin" {
		t.Errorf("Expected instance 'dmf_device_ui_plugin', got %v", out["instance"])
	}
}

func TestWithCommand(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithCommand(nil, "ui", "ping").Info("call")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["endpoint"] != "ui" || out["command"] != "ping" {
		t.Errorf("unexpected fields: %v", out)
	}
}

func TestWithCommandKeepsBaseFields(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil)).With("component", "hub")

	WithCommand(base, "ui", "get_corners").Info("call")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["component"] != "hub" || out["command"] != "get_corners" {
		t.Errorf("unexpected fields: %v", out)
	}
}
