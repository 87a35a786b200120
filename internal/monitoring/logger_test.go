package monitoring

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	Logger().Info("run finished", "encounters", 3)

	if !strings.Contains(buf.String(), "encounters=3") {
		t.Errorf("custom logger was not used, got %q", buf.String())
	}

	// nil installs a discarding logger
	buf.Reset()
	SetLogger(nil)
	Logger().Error("dropped")
	Logf("dropped %d", 1)
	if buf.Len() != 0 {
		t.Errorf("no-op logger wrote %q", buf.String())
	}
}

func TestLogf(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	Logf("test message: %s", "value")

	if !strings.Contains(buf.String(), `msg="test message: value"`) {
		t.Errorf("Logf output = %q", buf.String())
	}
}

func TestLogger_Default(t *testing.T) {
	if Logger() == nil {
		t.Error("Logger should not be nil by default")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(&buf, "json", "warn")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	l.Info("hidden")
	l.Warn("shown", "run_id", "abc")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if rec["run_id"] != "abc" {
		t.Errorf("run_id = %v, want abc", rec["run_id"])
	}

	if _, err := NewLogger(&buf, "xml", "info"); err == nil {
		t.Error("expected error for unknown format")
	}
	if _, err := NewLogger(&buf, "text", "loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}
