package logger

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func captureLine(t *testing.T, format logFormat, ctx context.Context, component, event string, attrs ...slog.Attr) string {
	t.Helper()
	buf := &bytes.Buffer{}
	aw := newBatchWriter([]io.Writer{buf}, 1024)
	handler := newStructuredHandler(handlerConfig{
		level:    slog.LevelDebug,
		writer:   aw,
		format:   format,
		keyOrder: append([]string(nil), defaultKeyOrder...),
	})
	log := slog.New(handler).With("component", component)
	LogEvent(ctx, log, slog.LevelInfo, event, attrs...)
	if err := aw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("expected log line")
	}
	return line
}

func TestStructuredHandlerKVOrder(t *testing.T) {
	ctx := WithRID(Background(), "rid-123")
	ctx = WithUpdateMeta(ctx, 42, 7, 9)

	line := captureLine(t, formatKV, ctx, "app", "test.event",
		slog.String("status", "ok"),
		slog.String("cause", "unit"),
	)
	tokens := strings.Split(line, " ")
	expected := []string{"ts=", "level=INFO", "component=app", "event=test.event", "status=ok", "rid=rid-123", "update_id=42", "user_id=7", "chat_id=9"}
	if len(tokens) < len(expected) {
		t.Fatalf("unexpected token count: %d (%s)", len(tokens), line)
	}
	for i, prefix := range expected {
		if !strings.HasPrefix(tokens[i], prefix) {
			t.Fatalf("token %d = %s, expected prefix %s", i, tokens[i], prefix)
		}
	}
}

func TestStructuredHandlerJSONOrder(t *testing.T) {
	ctx := WithRID(Background(), "rid-json")
	ctx = WithUpdateMeta(ctx, 11, 22, 33)

	line := captureLine(t, formatJSON, ctx, "payment", "payment.create_failed",
		slog.String("status", "FAIL"),
		slog.String("err", "boom"),
		slog.String("err_code", "PROVIDER"),
	)
	if !strings.HasPrefix(line, "{") {
		t.Fatalf("expected JSON, got %s", line)
	}
	prefixes := []string{`{"ts":`, `"level":"INFO"`, `"component":"payment"`, `"event":"payment.create_failed"`, `"status":"fail"`, `"rid":"rid-json"`}
	pos := -1
	for _, pref := range prefixes {
		idx := strings.Index(line, pref)
		if idx == -1 || idx < pos {
			t.Fatalf("prefix %s not found in order within %s", pref, line)
		}
		pos = idx
	}
}

func TestStructuredHandlerCompactRID(t *testing.T) {
	rawRID := "123:456:789"
	line := captureLine(t, formatKV, WithRID(Background(), rawRID), "app", "rid.test")
	if !strings.Contains(line, "rid="+CompactRID(rawRID)) {
		t.Fatalf("expected compact rid, got %s", line)
	}
	if strings.Contains(line, "rid_full=") {
		t.Fatalf("rid_full should be omitted in KV output, got %s", line)
	}

	line = captureLine(t, formatJSON, WithRID(Background(), rawRID), "app", "rid.test")
	if !strings.Contains(line, `"rid_full":"`+rawRID+`"`) {
		t.Fatalf("expected rid_full in JSON output, got %s", line)
	}
	if !strings.Contains(line, `"ts_unix_nano"`) {
		t.Fatalf("expected ts_unix_nano in JSON output, got %s", line)
	}
}

func TestStructuredHandlerFlowContext(t *testing.T) {
	ctx := WithFlow(Background(), "donate", "choosing_amount")
	ctx = WithFlow(ctx, "", "awaiting_custom_amount")

	line := captureLine(t, formatKV, ctx, "flow", "flow.step",
		slog.Duration("duration", 1500*time.Microsecond),
		slog.String("outcome", "bogus"),
	)
	for _, want := range []string{"flow=donate", "step=awaiting_custom_amount", "duration_ms=2"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %s", want, line)
		}
	}
	if strings.Contains(line, "outcome=") {
		t.Fatalf("unknown outcome should be dropped, got %s", line)
	}
	if strings.Index(line, "flow=") > strings.Index(line, "step=") {
		t.Fatalf("flow must precede step: %s", line)
	}
}

func TestSanitizeLimit(t *testing.T) {
	got := SanitizeLimit("hi\x00 there\u200b!", 5)
	if got != "hi th" {
		t.Fatalf("SanitizeLimit = %q", got)
	}
	if CompactRID("not-a-rid") != "not-a-rid" {
		t.Fatal("CompactRID must keep foreign input")
	}
}

func TestStructuredHandlerRedactsSecrets(t *testing.T) {
	line := captureLine(t, formatJSON, Background(), "payment", "payment.config",
		slog.String("secret_key", "live_abc"),
		slog.Group("telegram", slog.String("token", "123:xyz")),
		slog.String("shop_id", "42"),
	)
	if strings.Contains(line, "live_abc") || strings.Contains(line, "123:xyz") {
		t.Fatalf("secret leaked: %s", line)
	}
	if !strings.Contains(line, `"shop_id":"42"`) || !strings.Contains(line, `"telegram.token":"[redacted]"`) {
		t.Fatalf("unexpected line: %s", line)
	}
}
