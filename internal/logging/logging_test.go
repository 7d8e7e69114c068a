package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestPreInitLoggerUsesConfiguredHandler(t *testing.T) {
	logger := L("engine")

	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger.Info("update started", "goalVersion", "1.2.0")

	out := buf.String()
	if !strings.Contains(out, "msg=\"update started\"") {
		t.Fatalf("expected update started message, got: %s", out)
	}
	if !strings.Contains(out, "component=engine") {
		t.Fatalf("expected component field, got: %s", out)
	}
	if !strings.Contains(out, "goalVersion=1.2.0") {
		t.Fatalf("expected goalVersion field, got: %s", out)
	}
}

func TestPreInitLoggerRespectsConfiguredLevel(t *testing.T) {
	logger := L("catalog")

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
	Init("json", "info", &buf)
	defer Init("text", "info", nil)

	L("workspace").Info("state written", "version", "1.0.0")

	out := buf.String()
	if !strings.Contains(out, `"component":"workspace"`) {
		t.Fatalf("expected json component field, got: %s", out)
	}
	if !strings.Contains(out, `"version":"1.0.0"`) {
		t.Fatalf("expected json version field, got: %s", out)
	}
}
