package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestTeeHandlerFiltersNil(t *testing.T) {
	if _, ok := TeeHandler(nil, nil).(NoopHandler); !ok {
		t.Fatal("expected NoopHandler for all nil handlers")
	}
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, nil)
	if h := TeeHandler(nil, inner, nil); h != inner {
		t.Fatal("expected single non-nil handler to be returned unwrapped")
	}
}

func TestTeeHandlerRespectsPerHandlerLevel(t *testing.T) {
	var infoBuf, debugBuf bytes.Buffer
	infoHandler := slog.NewJSONHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo})
	debugHandler := slog.NewJSONHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug})

	logger := slog.New(TeeHandler(infoHandler, debugHandler))
	if !logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected fanout enabled for debug when any handler accepts it")
	}
	logger.Debug("bridge line")
	logger.Info("stage completed")

	if strings.Contains(infoBuf.String(), "bridge line") {
		t.Fatalf("info handler received debug record: %q", infoBuf.String())
	}
	if !strings.Contains(debugBuf.String(), "bridge line") || !strings.Contains(debugBuf.String(), "stage completed") {
		t.Fatalf("debug handler missing records: %q", debugBuf.String())
	}
}

func TestTeeHandlerCarriesAttrs(t *testing.T) {
	var first, second bytes.Buffer
	handler := TeeHandler(slog.NewJSONHandler(&first, nil), slog.NewJSONHandler(&second, nil))
	slog.New(handler).With(FieldRunID, "run-1").WithGroup("stats").Info("hello", "done", 2)

	for name, buf := range map[string]*bytes.Buffer{"first": &first, "second": &second} {
		out := buf.String()
		if !strings.Contains(out, `"run_id":"run-1"`) || !strings.Contains(out, `"stats":{"done":2}`) {
			t.Fatalf("%s handler missing attrs: %q", name, out)
		}
	}
}

func TestFormatValueQuotesAmbiguousText(t *testing.T) {
	tests := []struct {
		value slog.Value
		want  string
	}{
		{slog.StringValue("s1_merged.rec"), "s1_merged.rec"},
		{slog.StringValue("two words"), `"two words"`},
		{slog.StringValue(""), `""`},
		{slog.IntValue(42), "42"},
		{slog.Float64Value(0.5), "0.5"},
		{slog.BoolValue(true), "true"},
	}
	for _, tt := range tests {
		if got := formatValue(tt.value); got != tt.want {
			t.Fatalf("formatValue(%v) = %q, want %q", tt.value, got, tt.want)
		}
	}
}
