package minilog

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	AddLogger("test", &buf, WARN)
	defer DelLogger("test")

	Debug("should not appear")
	Info("should not appear either")
	Warn("warning %d", 1)
	Error("error %d", 2)

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Fatalf("low-level messages leaked: %q", out)
	}
	if !strings.Contains(out, "WARN warning 1") {
		t.Fatalf("missing warn message: %q", out)
	}
	if !strings.Contains(out, "ERROR error 2") {
		t.Fatalf("missing error message: %q", out)
	}
}

func TestMultipleLoggers(t *testing.T) {
	var a, b bytes.Buffer
	AddLogger("a", &a, DEBUG)
	AddLogger("b", &b, ERROR)
	defer DelLogger("a")
	defer DelLogger("b")

	Info("to a only")

	if !strings.Contains(a.String(), "to a only") {
		t.Fatalf("logger a missed message: %q", a.String())
	}
	if b.Len() != 0 {
		t.Fatalf("logger b should be silent, got %q", b.String())
	}
}

func TestLevelFromString(t *testing.T) {
	cases := map[string]int{
		"debug": DEBUG,
		"info":  INFO,
		"WARN":  WARN,
		"Error": ERROR,
		"fatal": FATAL,
		"bogus": INFO,
	}

	for in, want := range cases {
		if got := LevelFromString(in); got != want {
			t.Fatalf("LevelFromString(%q) = %d, want %d", in, got, want)
		}
	}
}
