package zerolog

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/rs/zerolog"
)

func TestZerologLogger(t *testing.T) {
	var buf bytes.Buffer
	l := ZerologLogger{L: NewLogger(Config{Level: "debug", Output: &buf})}

	l.Debug("querycache.fetch_started", cache.Fields{"key": `["todos"]`, "version": 3})

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if line["message"] != "querycache.fetch_started" {
		t.Errorf("unexpected message %v", line["message"])
	}
	if line["level"] != "debug" {
		t.Errorf("expected debug level, got %v", line["level"])
	}
	if line["key"] != `["todos"]` || line["version"] != float64(3) {
		t.Errorf("unexpected fields %v", line)
	}
	if _, ok := line["time"]; !ok {
		t.Error("expected a timestamp")
	}
}

func TestNewLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := ZerologLogger{L: NewLogger(Config{Level: "warn", Output: &buf})}

	l.Info("dropped", nil)
	l.Error("kept", nil)

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("expected info to be filtered, got %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Errorf("expected error to be written, got %q", out)
	}
}

func TestNewLogger_Console(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Format: "console", Output: &buf})
	l.Info().Msg("hello")

	if strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Errorf("expected console output, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("expected message in output, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
