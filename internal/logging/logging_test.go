package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestWithContextCarriesIdentifiers(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithOutput("paywall", "info", "json", &buf)

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithUserID(ctx, "u1")
	l.WithContext(ctx).Info("hello")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	if entries[0]["trace_id"] != "trace-1" || entries[0]["user_id"] != "u1" || entries[0]["service"] != "paywall" {
		t.Fatalf("unexpected entry: %v", entries[0])
	}
}

func TestLogRequestLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithOutput("paywall", "info", "json", &buf)

	l.LogRequest(context.Background(), http.MethodGet, "/api/posts", 200, 5*time.Millisecond)
	l.LogRequest(context.Background(), http.MethodPost, "/api/posts/p1/unlock", 402, time.Millisecond)
	l.LogRequest(context.Background(), http.MethodPost, "/api/posts/p1/unlock", 500, time.Millisecond)

	entries := decodeLines(t, &buf)
	want := []string{"info", "warning", "error"}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i, level := range want {
		if entries[i]["level"] != level {
			t.Fatalf("entry %d: expected level %s, got %v", i, level, entries[i]["level"])
		}
	}
}

func TestTraceIDHelpers(t *testing.T) {
	if GetTraceID(context.Background()) != "" {
		t.Fatalf("empty context should have no trace id")
	}
	if ctx := WithTraceID(context.Background(), ""); GetTraceID(ctx) != "" {
		t.Fatalf("blank trace id should not be stored")
	}
	if a, b := NewTraceID(), NewTraceID(); a == b || a == "" {
		t.Fatalf("trace ids should be unique and non-empty")
	}
}
