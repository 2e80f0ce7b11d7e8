package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"civicguard.org/internal/auth"
	"civicguard.org/internal/obs"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(original) })
	return &buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) == 0 || lines[0] == "" {
		t.Fatal("expected log output")
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	return entry
}

func TestLogEvent(t *testing.T) {
	buf := captureLog(t)

	ctx := WithRequestID(context.Background(), "req-123")
	ctx = auth.ContextWithActor(ctx, auth.Actor{ID: "user-42", Role: auth.RoleAdmin})

	if err := LogEvent(ctx, "crisis.override.toggle", map[string]any{"override": "freezeVoting", "enabled": true}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	entry := lastEntry(t, buf)
	if entry["type"] != "audit" || entry["outcome"] != "ok" {
		t.Fatalf("unexpected type/outcome: %v %v", entry["type"], entry["outcome"])
	}
	if entry["event"] != "crisis.override.toggle" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["actor_id"] != "user-42" || entry["role"] != "admin" {
		t.Fatalf("unexpected actor: %v %v", entry["actor_id"], entry["role"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["override"] != "freezeVoting" || fields["enabled"] != true {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestLogRefusalClassifiesCause(t *testing.T) {
	buf := captureLog(t)
	ctx := context.Background()

	denied := fmt.Errorf("%w: citizen lacks action:manage_crisis", auth.ErrPermissionDenied)
	fields := map[string]any{"session": "abc"}
	if err := LogRefusal(ctx, "crisis.activation.begin", denied, fields); err != nil {
		t.Fatalf("LogRefusal failed: %v", err)
	}
	entry := lastEntry(t, buf)
	if entry["outcome"] != "denied" {
		t.Fatalf("expected denied, got %v", entry["outcome"])
	}
	if f := entry["fields"].(map[string]any); f["error"] != denied.Error() || f["session"] != "abc" {
		t.Fatalf("unexpected fields: %v", f)
	}
	if _, leaked := fields["error"]; leaked {
		t.Fatal("LogRefusal must not modify the caller's map")
	}

	if err := LogRefusal(ctx, "crisis.deactivate", errors.New("store offline"), nil); err != nil {
		t.Fatalf("LogRefusal failed: %v", err)
	}
	if entry := lastEntry(t, buf); entry["outcome"] != "failed" {
		t.Fatalf("expected failed, got %v", entry["outcome"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for blank event")
	}
}
