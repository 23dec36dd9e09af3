package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestPreInitLoggerUsesConfiguredHandler(t *testing.T) {
	logger := L("gfx")

	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger.Info("surface created", "surfaceId", 3)

	out := buf.String()
	if strings.Contains(out, `msg="INFO surface created`) {
		t.Fatalf("unexpected nested severity prefix in message: %s", out)
	}
	if !strings.Contains(out, "msg=\"surface created\"") {
		t.Fatalf("expected plain message, got: %s", out)
	}
	if !strings.Contains(out, "component=gfx") {
		t.Fatalf("expected component field, got: %s", out)
	}
	if !strings.Contains(out, "surfaceId=3") {
		t.Fatalf("expected surfaceId field, got: %s", out)
	}
}

func TestPreInitLoggerRespectsConfiguredLevel(t *testing.T) {
	logger := L("gfx")

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

func TestInitJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	Init("json", "info", &buf)

	L("daemon").Info("registry started", "pending", 0)

	out := buf.String()
	if !strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Fatalf("expected JSON output, got: %s", out)
	}
	if !strings.Contains(out, `"component":"daemon"`) {
		t.Fatalf("expected component field, got: %s", out)
	}
}
