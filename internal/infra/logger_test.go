package infra

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewLoggerLevelsAndService(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "production", "", "worker")
	logger.Debug().Msg("hidden")
	logger.Info().Msg("drain finished")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("debug must be filtered outside development, got %q", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("production output must be JSON: %v", err)
	}
	if entry["service"] != "worker" || entry["message"] != "drain finished" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestNewLoggerLevelOverride(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "production", "WARN", "api")
	logger.Info().Msg("hidden")
	logger.Warn().Msg("pool unavailable")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "pool unavailable") {
		t.Fatalf("LOG_LEVEL override not applied: %q", buf.String())
	}

	buf.Reset()
	logger = newLogger(&buf, "production", "verbose", "api")
	logger.Info().Msg("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Fatal("unknown level must fall back to the environment default")
	}
}
