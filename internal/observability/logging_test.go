package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rynzz22/digital.talibon/internal/config"
	"github.com/rynzz22/digital.talibon/model"
)

// newTestLogger creates a logger that writes JSON to a buffer for assertion.
func newTestLogger(buf *bytes.Buffer) *zap.Logger {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "msg",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	})
	core := zapcore.NewCore(enc, zapcore.AddSync(buf), zapcore.DebugLevel)
	return zap.New(core)
}

func TestNewLogger_defaultLevel(t *testing.T) {
	cfg := config.ObservabilityConfig{LogLevel: "info"}
	logger, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	defer logger.Sync()

	// Info should be enabled, Debug should not.
	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("info level should be enabled")
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug level should NOT be enabled at info level")
	}
}

func TestNewLogger_debugLevel(t *testing.T) {
	cfg := config.ObservabilityConfig{LogLevel: "debug"}
	logger, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	defer logger.Sync()

	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug level should be enabled")
	}
}

func TestNewLogger_invalidLevel_defaultsToInfo(t *testing.T) {
	cfg := config.ObservabilityConfig{LogLevel: "bogus"}
	logger, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	defer logger.Sync()

	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("should default to info level")
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug should NOT be enabled with invalid level (defaults to info)")
	}
}

func TestWithLogger_and_LoggerFrom(t *testing.T) {
	logger := zap.NewNop()
	ctx := WithLogger(context.Background(), logger)

	got := LoggerFrom(ctx, nil)
	if got != logger {
		t.Error("LoggerFrom should return the stored logger")
	}
}

func TestLoggerFrom_fallback(t *testing.T) {
	fallback := zap.NewNop()
	got := LoggerFrom(context.Background(), fallback)
	if got != fallback {
		t.Error("LoggerFrom should return fallback when no logger in context")
	}
}

func TestRequestLogger_enrichesWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	rctx := &model.RequestContext{
		SubjectID: "user-42",
		Actor: model.Actor{
			ID:         "user-42",
			Name:       "Carla Lim",
			Role:       model.RoleTreasurer,
			Department: model.DeptTreasury,
		},
		CorrelationID: "corr-abc",
		TraceID:       "trace-xyz",
	}
	ctx := model.WithRequestContext(context.Background(), rctx)
	ctx = WithLogger(ctx, logger)

	rl := RequestLogger(ctx, logger)
	rl.Info("test message")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}

	checks := map[string]string{
		"subject_id":       "user-42",
		"actor_id":         "user-42",
		"actor_role":       "TREASURER",
		"actor_department": "Treasury",
		"correlation_id":   "corr-abc",
		"trace_id":         "trace-xyz",
		"msg":              "test message",
		"level":            "info",
	}

	for key, want := range checks {
		got, ok := entry[key].(string)
		if !ok {
			t.Errorf("missing field %q in log entry", key)
			continue
		}
		if got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
}

func TestRequestLogger_noTraceID(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	rctx := &model.RequestContext{
		SubjectID:     "user-42",
		CorrelationID: "corr-abc",
	}
	ctx := model.WithRequestContext(context.Background(), rctx)

	rl := RequestLogger(ctx, logger)
	rl.Info("no trace")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}

	if _, exists := entry["trace_id"]; exists {
		t.Error("trace_id should not be present when empty")
	}
	if _, exists := entry["actor_id"]; exists {
		t.Error("actor fields should not be present before the actor is resolved")
	}
}

func TestRequestLogger_synthesizedActor(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	rctx := &model.RequestContext{
		SubjectID: "u-new",
		Actor: model.Actor{
			ID: "u-new", Name: "Officer new", Role: model.RoleClerk,
			Department: model.DeptBPLO, Synthesized: true,
		},
	}
	RequestLogger(model.WithRequestContext(context.Background(), rctx), logger).Info("synth")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}
	if entry["actor_synthesized"] != true {
		t.Errorf("actor_synthesized = %v, want true", entry["actor_synthesized"])
	}
}

func TestRequestLogger_noRequestContext(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	rl := RequestLogger(context.Background(), logger)
	rl.Info("no context")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}

	// Should still log, just without context fields.
	if entry["msg"] != "no context" {
		t.Errorf("msg = %q, want no context", entry["msg"])
	}
	if _, exists := entry["subject_id"]; exists {
		t.Error("subject_id should not be present without RequestContext")
	}
}

func TestRedactBody_defaultFields(t *testing.T) {
	body := map[string]any{
		"payee":    "Bohol Hardware",
		"password": "secret123",
		"tin":      "123-456-789",
		"token":    "abc.def.ghi",
	}

	redacted := RedactBody(body, nil)
	if redacted["payee"] != "Bohol Hardware" {
		t.Errorf("payee = %v, want Bohol Hardware", redacted["payee"])
	}
	if redacted["tin"] != "[REDACTED]" {
		t.Errorf("tin = %v, want [REDACTED]", redacted["tin"])
	}
	if redacted["password"] != "[REDACTED]" {
		t.Errorf("password = %v, want [REDACTED]", redacted["password"])
	}
	if redacted["token"] != "[REDACTED]" {
		t.Errorf("token = %v, want [REDACTED]", redacted["token"])
	}
}

func TestRedactBody_customFields(t *testing.T) {
	body := map[string]any{
		"applicantName": "Rosa Dela Cruz",
		"orNumber":      "OR-2024-0042",
		"phone":         "555-1234",
	}

	redacted := RedactBody(body, []string{"orNumber", "phone"})
	if redacted["applicantName"] != "Rosa Dela Cruz" {
		t.Errorf("applicantName = %v, want Rosa Dela Cruz", redacted["applicantName"])
	}
	if redacted["orNumber"] != "[REDACTED]" {
		t.Errorf("orNumber = %v, want [REDACTED]", redacted["orNumber"])
	}
	if redacted["phone"] != "[REDACTED]" {
		t.Errorf("phone = %v, want [REDACTED]", redacted["phone"])
	}
}

func TestRedactBody_nested(t *testing.T) {
	body := map[string]any{
		"payee": map[string]any{
			"name":         "Bohol Hardware",
			"bank_account": "0012-3456-78",
		},
		"voucherType": "DV",
	}

	redacted := RedactBody(body, nil)
	nested, ok := redacted["payee"].(map[string]any)
	if !ok {
		t.Fatal("payee should be a nested map")
	}
	if nested["name"] != "Bohol Hardware" {
		t.Errorf("payee.name = %v, want Bohol Hardware", nested["name"])
	}
	if nested["bank_account"] != "[REDACTED]" {
		t.Errorf("payee.bank_account = %v, want [REDACTED]", nested["bank_account"])
	}
}

func TestRedactBody_nil(t *testing.T) {
	if result := RedactBody(nil, nil); result != nil {
		t.Errorf("RedactBody(nil) = %v, want nil", result)
	}
}

func TestRedactBody_doesNotMutateOriginal(t *testing.T) {
	body := map[string]any{
		"password": "secret123",
		"payee":    "Bohol Hardware",
	}

	_ = RedactBody(body, nil)

	if body["password"] != "secret123" {
		t.Errorf("original body was mutated: password = %v", body["password"])
	}
}

func TestNewLogger_allLevels(t *testing.T) {
	levels := []string{"debug", "info", "warn", "error"}
	for _, level := range levels {
		t.Run(level, func(t *testing.T) {
			cfg := config.ObservabilityConfig{LogLevel: level}
			logger, err := NewLogger(cfg)
			if err != nil {
				t.Fatalf("NewLogger(%q) error = %v", level, err)
			}
			defer logger.Sync()

			expected, _ := zapcore.ParseLevel(level)
			if !logger.Core().Enabled(expected) {
				t.Errorf("level %q should be enabled", level)
			}
		})
	}
}
