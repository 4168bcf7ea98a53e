// ABOUTME: Tests for logger construction
// ABOUTME: Verifies level filtering, JSON output and bad level rejection
package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Options{Level: "warn", JSON: true}, &buf)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	log.Info().Msg("hidden")
	log.Warn().Str("component", "feed").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("expected JSON line: %v", err)
	}
	if entry["message"] != "shown" || entry["component"] != "feed" || entry["level"] != "warn" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestNew_ConsoleDefaultLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Options{}, &buf)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	log.Debug().Msg("hidden")
	log.Info().Msg("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line should be filtered at default level: %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("expected info line, got %q", out)
	}
}

func TestNew_BadLevel(t *testing.T) {
	if _, err := New(Options{Level: "loud"}, nil); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
