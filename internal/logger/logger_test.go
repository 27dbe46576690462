package logger

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestPrettyFormatter(t *testing.T) {
	f := &PrettyFormatter{DisableColors: true}
	entry := &logrus.Entry{
		Time:    time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC),
		Level:   logrus.WarnLevel,
		Message: "Rejecting payload",
		Data:    logrus.Fields{"room": "abc", "file": "a.png"},
	}

	out, err := f.Format(entry)
	if err != nil {
		t.Fatalf("Format failed: %v", err)
	}

	expected := "15:04:05 WARN  Rejecting payload file=a.png room=abc\n"
	if string(out) != expected {
		t.Errorf("expected %q, got %q", expected, string(out))
	}
}

func TestPrettyFormatterColors(t *testing.T) {
	f := &PrettyFormatter{}
	out, err := f.Format(&logrus.Entry{Level: logrus.ErrorLevel, Message: "boom", Data: logrus.Fields{}})
	if err != nil {
		t.Fatalf("Format failed: %v", err)
	}
	if !strings.Contains(string(out), colorRed+"ERROR") {
		t.Errorf("expected red ERROR level, got %q", string(out))
	}
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer

	log, err := New(&buf, "warn")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	log.Info("hidden")
	log.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("expected info entry to be filtered")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("expected warn entry to be written")
	}
}

func TestNewInvalidLevel(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, "loud"); err == nil {
		t.Error("expected error for invalid level")
	}
}
