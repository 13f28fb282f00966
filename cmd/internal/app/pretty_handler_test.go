package app

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestStripANSI(t *testing.T) {
	t.Parallel()

	colored := ansiRed + "500" + ansiReset + " " + ansiDim + "12ms" + ansiReset
	if got := stripANSI(colored); got != "500 12ms" {
		t.Fatalf("stripANSI=%q", got)
	}
	if got := stripANSI("plain"); got != "plain" {
		t.Fatalf("stripANSI on plain text=%q", got)
	}
}

func TestLevelTag(t *testing.T) {
	t.Parallel()

	cases := []struct {
		level slog.Level
		want  string
	}{
		{slog.LevelDebug, "[DEBUG]"},
		{slog.LevelInfo, "[INFO]"},
		{slog.LevelWarn, "[WARN]"},
		{slog.LevelError, "[ERROR]"},
	}
	for _, tc := range cases {
		if got := levelTag(tc.level, false); got != tc.want {
			t.Fatalf("levelTag(%v)=%q want=%q", tc.level, got, tc.want)
		}
		if got := stripANSI(levelTag(tc.level, true)); got != tc.want {
			t.Fatalf("colored levelTag(%v) strips to %q want=%q", tc.level, got, tc.want)
		}
	}
}

func TestQuoteIfNeeded(t *testing.T) {
	t.Parallel()

	if got := quoteIfNeeded("simple"); got != "simple" {
		t.Fatalf("quoteIfNeeded=%q", got)
	}
	if got := quoteIfNeeded(""); got != `""` {
		t.Fatalf("empty must be quoted, got %q", got)
	}
	if got := quoteIfNeeded("two words"); got != `"two words"` {
		t.Fatalf("spaced value must be quoted, got %q", got)
	}
	if got := quoteIfNeeded(`a="b"`); got != `"a=\"b\""` {
		t.Fatalf("quote/equals value must be escaped, got %q", got)
	}
}

func TestPrettyHandler_Handle(t *testing.T) {
	t.Parallel()

	var buf strings.Builder
	h := newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false)
	log := slog.New(h)

	log.Info("http.request",
		"method", "get",
		"path", "/api/rooms",
		"status", 200,
		"status_class", "2xx",
		"duration_ms", int64(12),
		"result", "success",
		"user_agent", "smoke client",
	)

	out := buf.String()
	for _, want := range []string{
		"lvl=[INFO]",
		"msg=http.request",
		"method=GET",
		"path=/api/rooms",
		"status=200",
		"class=2xx",
		"duration=12ms",
		"result=success",
		`user_agent="smoke client"`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q: %s", want, out)
		}
	}
	if !strings.HasSuffix(out, "\n") {
		t.Fatalf("output must end with a newline: %q", out)
	}
}

func TestPrettyHandler_WithAttrsAndGroups(t *testing.T) {
	t.Parallel()

	var buf strings.Builder
	h := newPrettyHandler(&buf, nil, false).WithAttrs([]slog.Attr{slog.String("service", "whatsroom")}).WithGroup("ws")
	log := slog.New(h)

	log.Info("connected", "session_id", "abc123", slog.Time("at", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))

	out := buf.String()
	if !strings.Contains(out, "service=whatsroom") {
		t.Fatalf("preset attr missing: %s", out)
	}
	if !strings.Contains(out, "ws.session_id=abc123") {
		t.Fatalf("grouped attr missing: %s", out)
	}
	if !strings.Contains(out, "ws.at=2026-03-01T12:00:00Z") {
		t.Fatalf("time attr missing: %s", out)
	}
}

func TestPrettyHandler_Enabled(t *testing.T) {
	t.Parallel()

	var buf strings.Builder
	h := newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, false)

	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatalf("info must be disabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Fatalf("error must be enabled at warn level")
	}
}
