package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", Format: "json", Output: &buf})

	l.With(String("aircraft_id", "A1")).Warn(context.Background(), "implausible sample",
		Float64("speed_mps", 512.5), Err(errors.New("boom")))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not json: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "implausible sample" || rec["level"] != "WARN" {
		t.Fatalf("unexpected record %v", rec)
	}
	if rec["aircraft_id"] != "A1" || rec["speed_mps"] != 512.5 || rec["error"] != "boom" {
		t.Fatalf("missing fields in %v", rec)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn", Output: &buf})
	l.Info(context.Background(), "dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}
	l.Error(context.Background(), "kept")
	if buf.Len() == 0 {
		t.Fatalf("error should pass at warn level")
	}
}

func TestContextLogger(t *testing.T) {
	if got := LoggerFromContext(context.Background()); got != nil {
		t.Fatalf("expected nil logger from empty context")
	}
	fallback := Noop()
	if got := FromContext(context.Background(), fallback); got != fallback {
		t.Fatalf("expected fallback logger")
	}

	var buf bytes.Buffer
	l := New(Config{Output: &buf})
	ctx := ContextWithLogger(context.Background(), l)
	FromContext(ctx, nil).Info(ctx, "hello")
	if !bytes.Contains(buf.Bytes(), []byte("hello")) {
		t.Fatalf("context logger not used: %q", buf.String())
	}
}

func TestEnsureRequestIDIsStable(t *testing.T) {
	ctx, id := EnsureRequestID(context.Background())
	if id == "" {
		t.Fatalf("expected generated request id")
	}
	_, again := EnsureRequestID(ctx)
	if again != id {
		t.Fatalf("request id changed: %q -> %q", id, again)
	}
}

func TestSpanIDsAreAttached(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Format: "json", Output: &buf})

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x4b, 0xf9, 0x2f, 0x35, 0x77, 0xb3, 0x4d, 0xa6, 0xa3, 0xce, 0x92, 0x9d, 0x0e, 0x0e, 0x47, 0x36},
		SpanID:     trace.SpanID{0x00, 0xf0, 0x67, 0xaa, 0x0b, 0xa9, 0x02, 0xb7},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	l.With(String("worker", "1")).Info(ctx, "prediction done")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not json: %v", err)
	}
	if rec["trace_id"] != "4bf92f3577b34da6a3ce929d0e0e4736" || rec["span_id"] != "00f067aa0ba902b7" {
		t.Fatalf("span ids missing: %v", rec)
	}

	buf.Reset()
	l.Info(context.Background(), "no span")
	if strings.Contains(buf.String(), "trace_id") {
		t.Fatalf("unexpected trace id without a span: %s", buf.String())
	}
}

func TestConfigFromEnv(t *testing.T) {
	env := map[string]string{
		"LOG_LEVEL":        " debug ",
		"LOG_FORMAT":       "json",
		"LOG_FILE_MAX_MB":  "-4",
		"LOG_FILE_BACKUPS": "9",
	}
	cfg := ConfigFromEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if cfg.Level != "debug" || cfg.Format != "json" || cfg.File != "" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.MaxSizeMB != 64 || cfg.MaxBackups != 9 {
		t.Fatalf("rotation settings = %d MB, %d backups", cfg.MaxSizeMB, cfg.MaxBackups)
	}
}
