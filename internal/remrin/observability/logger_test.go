package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/bdobrica/Remrin/common/trace"
	"github.com/bdobrica/Remrin/internal/remrin/observability"
)

func TestWithTrace_AddsTraceID(t *testing.T) {
	var buf bytes.Buffer
	base := observability.NewLogger(&buf, "info", "json")
	ctx := trace.WithTraceID(context.Background(), "t_abc")

	observability.WithTrace(ctx, base).Info("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["trace_id"] != "t_abc" {
		t.Errorf("trace_id = %v, want t_abc", line["trace_id"])
	}
}

func TestParseLevel(t *testing.T) {
	if observability.ParseLevel("DEBUG") != slog.LevelDebug {
		t.Error("DEBUG should parse case-insensitively")
	}
	if observability.ParseLevel("bogus") != slog.LevelInfo {
		t.Error("unknown levels should default to info")
	}
}
