package zerolog

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mihaimyh/billingsync/pkg/billing"
)

func TestZerologLogger_Levels(t *testing.T) {
	tests := []struct {
		name  string
		log   func(l *Logger)
		level string
	}{
		{"debug", func(l *Logger) { l.Debug("msg", billing.F("key", "value")) }, "debug"},
		{"info", func(l *Logger) { l.Info("msg", billing.F("key", "value")) }, "info"},
		{"warn", func(l *Logger) { l.Warn("msg", billing.F("key", "value")) }, "warn"},
		{"error", func(l *Logger) { l.Error("msg", billing.F("key", "value")) }, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var output bytes.Buffer
			logger := NewLogger(zerolog.New(&output))

			tt.log(logger)

			var entry map[string]interface{}
			if err := json.Unmarshal(output.Bytes(), &entry); err != nil {
				t.Fatalf("log output is not JSON: %v (%q)", err, output.String())
			}
			if entry["level"] != tt.level {
				t.Errorf("level = %v, want %s", entry["level"], tt.level)
			}
			if entry["key"] != "value" {
				t.Errorf("key = %v, want value", entry["key"])
			}
			if entry["message"] != "msg" {
				t.Errorf("message = %v, want msg", entry["message"])
			}
		})
	}
}

func TestZerologLogger_ErrorField(t *testing.T) {
	var output bytes.Buffer
	logger := NewLogger(zerolog.New(&output))

	logger.Error("failed", billing.F("error", errors.New("boom")))

	var entry map[string]interface{}
	if err := json.Unmarshal(output.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if entry["error"] != "boom" {
		t.Errorf("error = %v, want boom", entry["error"])
	}
}

func TestZerologLogger_DisabledLevel(t *testing.T) {
	var output bytes.Buffer
	logger := NewLogger(zerolog.New(&output).Level(zerolog.InfoLevel))

	logger.Debug("hidden")

	if output.Len() != 0 {
		t.Errorf("expected debug to be suppressed, got %q", output.String())
	}
}

func TestZerologLogger_TypedFields(t *testing.T) {
	var output bytes.Buffer
	logger := NewLogger(zerolog.New(&output))
	at := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	var missing *time.Time

	logger.Info("typed",
		billing.F("took", 1500*time.Millisecond),
		billing.F("at", at),
		billing.F("until", &at),
		billing.F("none", missing),
		billing.F("count", 3),
		billing.F("amount", int64(4400)),
		billing.F("immediate", true),
	)

	var entry map[string]interface{}
	if err := json.Unmarshal(output.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if entry["took"] != float64(1500) {
		t.Errorf("took = %v, want 1500 (ms)", entry["took"])
	}
	if entry["at"] != "2025-01-01T12:00:00Z" || entry["until"] != "2025-01-01T12:00:00Z" {
		t.Errorf("at = %v, until = %v", entry["at"], entry["until"])
	}
	if v, ok := entry["none"]; !ok || v != nil {
		t.Errorf("none = %v (present %v), want null", v, ok)
	}
	if entry["count"] != float64(3) || entry["amount"] != float64(4400) || entry["immediate"] != true {
		t.Errorf("scalars = %v %v %v", entry["count"], entry["amount"], entry["immediate"])
	}
}

func TestZerologLogger_With(t *testing.T) {
	var output bytes.Buffer
	logger := NewLogger(zerolog.New(&output)).With(billing.F("component", "webhook"))

	logger.Warn("rejected")

	var entry map[string]interface{}
	if err := json.Unmarshal(output.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if entry["component"] != "webhook" {
		t.Errorf("component = %v, want webhook", entry["component"])
	}
}
