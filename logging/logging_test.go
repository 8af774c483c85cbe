package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "warn", false)
	if err != nil {
		t.Fatal(err)
	}
	log.Info().Msg("hidden")
	log.Warn().Str("guild", "g1").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["message"] != "shown" || entry["guild"] != "g1" || entry["level"] != "warn" {
		t.Errorf("entry = %v", entry)
	}
}

func TestNewPretty(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "", true)
	if err != nil {
		t.Fatal(err)
	}
	log.Info().Msg("hello")
	if strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), "hello") {
		t.Errorf("unexpected console output %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":       zerolog.InfoLevel,
		"TRACE":  zerolog.TraceLevel,
		" error": zerolog.ErrorLevel,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected an error")
	}
}
