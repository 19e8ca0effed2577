package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewWritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New("debug", "thisorthat-api", &buf)
	logger.Info().Str("pair_id", "7").Msg("vote recorded")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["service"] != "thisorthat-api" {
		t.Fatalf("expected service field, got %v", entry["service"])
	}
	if entry["message"] != "vote recorded" {
		t.Fatalf("unexpected message %v", entry["message"])
	}
	if entry["level"] != "info" {
		t.Fatalf("unexpected level %v", entry["level"])
	}
}

func TestNewUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := New("loud", "svc", &buf)
	logger.Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected debug to be filtered at info level, got %q", buf.String())
	}
	logger.Info().Msg("shown")
	if buf.Len() == 0 {
		t.Fatal("expected info line")
	}
}

func TestSanitizePath(t *testing.T) {
	cases := map[string]string{
		"/api/pairs/42":      "/api/pairs/:id",
		"/api/pairs/42/vote": "/api/pairs/:id/vote",
		"/api/pairs/random":  "/api/pairs/random",
		"/":                  "/",
	}
	for in, want := range cases {
		if got := SanitizePath(in); got != want {
			t.Errorf("SanitizePath(%q) = %q, want %q", in, got, want)
		}
	}
}
