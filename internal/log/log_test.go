package log

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelWarn)
	t.Cleanup(func() { SetLevel(LevelInfo) })

	Info("hidden")
	Warn("shown", "user", 42)
	Error("failed", errors.New("boom"), "path", "a b")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be filtered: %q", out)
	}
	if !strings.Contains(out, "[WARN] shown user=42") {
		t.Fatalf("missing warn line: %q", out)
	}
	if !strings.Contains(out, `err=boom path="a b"`) {
		t.Fatalf("missing error kvs: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":  LevelDebug,
		" WARN ": LevelWarn,
		"error":  LevelError,
		"bogus":  LevelInfo,
		"":       LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
