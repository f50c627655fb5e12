package audit

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"covera.io/internal/obs"
)

func TestLogEvent(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	prev := obs.SetLogger(zap.New(core))
	defer obs.SetLogger(prev)

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = WithActor(ctx, "user-42")

	if err := LogEvent(ctx, EventModuleGranted, map[string]any{"module": "motor"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	if logs.Len() != 1 {
		t.Fatalf("expected one entry, got %d", logs.Len())
	}
	entry := logs.All()[0].ContextMap()
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != EventModuleGranted {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["user_id"] != "user-42" {
		t.Fatalf("unexpected user id: %v", entry["user_id"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["module"] != "motor" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestLogEventAnonymous(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	prev := obs.SetLogger(zap.New(core))
	defer obs.SetLogger(prev)

	if err := LogEvent(context.Background(), EventLoginFailed, nil); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}
	entry := logs.All()[0].ContextMap()
	if _, ok := entry["user_id"]; ok {
		t.Fatalf("anonymous event must not carry user_id: %v", entry)
	}
	if _, ok := entry["request_id"]; ok {
		t.Fatalf("unexpected request id: %v", entry)
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for empty event name")
	}
}

func TestWithActorIgnoresBlank(t *testing.T) {
	ctx := WithActor(context.Background(), "  ")
	if _, ok := ActorFromContext(ctx); ok {
		t.Fatal("blank actor must not be attached")
	}
}
