// Package audit writes one JSON line per security-relevant action.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"strings"
	"time"

	"civicguard.org/internal/auth"
	"civicguard.org/internal/obs"
)

// Outcome classifies an audited action.
type Outcome string

const (
	OutcomeOK     Outcome = "ok"
	OutcomeDenied Outcome = "denied"
	OutcomeFailed Outcome = "failed"
)

type requestIDKey struct{}

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

// LogEvent records an action that took effect.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	return Record(ctx, event, OutcomeOK, fields)
}

// LogRefusal records an action that did not take effect. Permission failures
// are "denied"; anything else is "failed".
func LogRefusal(ctx context.Context, event string, cause error, fields map[string]any) error {
	outcome := OutcomeFailed
	if errors.Is(cause, auth.ErrPermissionDenied) {
		outcome = OutcomeDenied
	}
	out := maps.Clone(fields)
	if out == nil {
		out = map[string]any{}
	}
	if cause != nil {
		out["error"] = cause
	}
	return Record(ctx, event, outcome, out)
}

// Record writes an audit entry enriched with request id and acting user.
func Record(ctx context.Context, event string, outcome Outcome, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
		"type":    "audit",
		"event":   event,
		"outcome": string(outcome),
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if actor, ok := auth.ActorFromContext(ctx); ok {
		entry["actor_id"] = actor.ID
		entry["role"] = string(actor.Role)
	}
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		copied[k] = v
	}
	entry["fields"] = copied

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
