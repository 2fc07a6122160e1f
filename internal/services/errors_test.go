package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"spikeflow/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "sort", "kilosort4", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"sort", "kilosort4", "failed", "boom"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapWithoutDetail(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected default marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want services.Kind
	}{
		{"nil", nil, services.KindNone},
		{"no units", services.Wrap(services.ErrNoUnits, "extract_waveforms", "", "", nil), services.KindNoUnits},
		{"config", services.Wrap(services.ErrConfiguration, "probe", "load", "missing", nil), services.KindConfiguration},
		{"validation", services.Wrap(services.ErrValidation, "", "", "bad", nil), services.KindValidation},
		{"tool", services.Wrap(services.ErrExternalTool, "", "", "exit 1", nil), services.KindExternalTool},
		{"canceled", fmt.Errorf("stage: %w", context.Canceled), services.KindInterrupted},
		{"plain", errors.New("mystery"), services.KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.KindOf(tc.err); got != tc.want {
				t.Fatalf("KindOf = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestMarkerForKind(t *testing.T) {
	if !errors.Is(services.MarkerForKind("no_units"), services.ErrNoUnits) {
		t.Fatal("expected no_units marker")
	}
	if !errors.Is(services.MarkerForKind(" Probe "), services.ErrConfiguration) {
		t.Fatal("expected probe to map to configuration")
	}
	if !errors.Is(services.MarkerForKind("input"), services.ErrValidation) {
		t.Fatal("expected input to map to validation")
	}
	if !errors.Is(services.MarkerForKind("segfault"), services.ErrExternalTool) {
		t.Fatal("expected unknown kind to map to external tool")
	}
}
