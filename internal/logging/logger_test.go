package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: "json", Output: &buf})

	logger.WithComponent("source").WithService("geth").Info().Int("lines", 150).Msg("Fetched log lines")
	logger.Debug().Msg("filtered out")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1: %q", len(lines), buf.String())
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}

	want := map[string]interface{}{
		"level":     "info",
		"component": "source",
		"service":   "geth",
		"message":   "Fetched log lines",
		"lines":     float64(150),
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %v", k, entry[k], v)
		}
	}
	if _, ok := entry["time"]; !ok {
		t.Error("missing timestamp")
	}
}

func TestNewConsoleLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "bogus", Format: "console", Output: &buf})

	logger.Info().Msg("Node monitor started")

	out := buf.String()
	if !strings.Contains(out, "Node monitor started") || strings.HasPrefix(out, "{") {
		t.Errorf("unexpected console output %q", out)
	}
}

func TestNop(t *testing.T) {
	// Must not panic or write anywhere
	Nop().WithComponent("x").Error().Msg("discarded")
}
