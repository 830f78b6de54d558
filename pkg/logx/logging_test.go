package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestWithFieldsAreAppliedInOrder(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "runner"), String("kind", "standard"))
	log.Info("tick", String("kind", "event"), Int64("roll_count", 3), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("invalid json line %q: %v", buf.String(), err)
	}
	if m["comp"] != "runner" {
		t.Fatalf("comp = %v, want runner", m["comp"])
	}
	if m["kind"] != "event" {
		t.Fatalf("kind = %v, want call-site value to win", m["kind"])
	}
	if m["roll_count"] != float64(3) {
		t.Fatalf("roll_count = %v", m["roll_count"])
	}
	if _, ok := m[zerolog.CallerFieldName]; !ok {
		t.Fatalf("expected caller field")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}
	if log.Enabled(LevelDebug) {
		t.Fatalf("debug should not be enabled")
	}
	log.Warn("shown")
	if buf.Len() == 0 {
		t.Fatalf("warn should be written")
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var log Logger
	if !log.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	log.Error("must not panic")
	if Nop().IsZero() {
		t.Fatalf("Nop logger is explicitly configured")
	}
}

func TestParseLevelDefaults(t *testing.T) {
	if got := parseLevel("warning", zerolog.InfoLevel); got != zerolog.WarnLevel {
		t.Fatalf("parseLevel(warning) = %v", got)
	}
	if got := parseLevel("nonsense", zerolog.ErrorLevel); got != zerolog.ErrorLevel {
		t.Fatalf("parseLevel(nonsense) = %v, want default", got)
	}
}
