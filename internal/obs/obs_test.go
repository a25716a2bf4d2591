package obs

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestEventLoggerEmitsJSONLines(t *testing.T) {
	var buf bytes.Buffer
	el := NewEventLoggerWithWriter("sess-1", "client", &buf)

	el.LogStateTransition("PARAM_EXCHANGE", "CREATE_STREAMS", false)
	el.LogStreamStart(1, "tcp", "sender")
	el.LogStreamStop(1, 1024, 8, 0)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d log lines, want 3", len(lines))
	}
	for _, line := range lines {
		var decoded map[string]any
		if err := json.Unmarshal([]byte(line), &decoded); err != nil {
			t.Fatalf("line is not valid JSON: %v", err)
		}
		if decoded["session_id"] != "sess-1" {
			t.Errorf("session_id = %v, want sess-1", decoded["session_id"])
		}
		if decoded["role"] != "client" {
			t.Errorf("role = %v, want client", decoded["role"])
		}
	}
}

func TestNoopEventLoggerDiscardsOutput(t *testing.T) {
	// NoopEventLogger must never panic even with no writer configured.
	el := NoopEventLogger()
	el.LogStateTransition("A", "B", false)
}

func TestTracerDisabledIsNoop(t *testing.T) {
	tr, err := NewTracer(DefaultTracerConfig())
	if err != nil {
		t.Fatalf("NewTracer: %v", err)
	}
	ctx, span := tr.StartStreamSpan(context.Background(), StreamSpanOptions{
		SessionID: "sess-1",
		StreamID:  1,
		Transport: "tcp",
		Role:      "sender",
	})
	span.End()
	if ctx == nil {
		t.Fatal("StartStreamSpan returned nil context")
	}
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
