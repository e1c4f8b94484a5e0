package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/lni/dragonboat/v4/logger"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]logger.LogLevel{
		"debug":   logger.DEBUG,
		"INFO":    logger.INFO,
		"warn":    logger.WARNING,
		"warning": logger.WARNING,
		"error":   logger.ERROR,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("Expected error for unknown level")
	}
}

func TestLoggerFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewFactory(&buf)("registry")

	l.Debugf("hidden %d", 1)
	l.Infof("opened %s", "workspace:w1")
	l.SetLevel(logger.ERROR)
	l.Warningf("hidden too")
	l.Errorf("failed")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Expected filtered lines to be dropped:\n%s", out)
	}
	if !strings.Contains(out, "INFO  | registry        | opened workspace:w1") {
		t.Errorf("Unexpected info line:\n%s", out)
	}
	if !strings.Contains(out, "ERROR | registry        | failed") {
		t.Errorf("Unexpected error line:\n%s", out)
	}
}

func TestPanicf(t *testing.T) {
	var buf bytes.Buffer
	l := NewFactory(&buf)("db")

	defer func() {
		if r := recover(); r != "broken 7" {
			t.Errorf("Expected panic with message, got %v", r)
		}
	}()
	l.Panicf("broken %d", 7)
}
