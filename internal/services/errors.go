package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrNoUnits       = errors.New("no non-empty units")
	ErrInterrupted   = errors.New("interrupted")
)

// Kind is a stable classification string used in logs and the run ledger.
type Kind string

const (
	KindNone          Kind = ""
	KindExternalTool  Kind = "external_tool"
	KindValidation    Kind = "validation"
	KindConfiguration Kind = "configuration"
	KindNotFound      Kind = "not_found"
	KindNoUnits       Kind = "no_units"
	KindInterrupted   Kind = "interrupted"
	KindUnknown       Kind = "unknown"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrExternalTool
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// KindOf maps an error to its classification. Context cancellation counts as an
// interruption so a Ctrl-C in the middle of a stage is not reported as a tool failure.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNoUnits):
		return KindNoUnits
	case errors.Is(err, ErrInterrupted), errors.Is(err, context.Canceled):
		return KindInterrupted
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrExternalTool):
		return KindExternalTool
	default:
		return KindUnknown
	}
}

// MarkerForKind returns the sentinel error for a kind reported by an external
// process. Unrecognized kinds map to ErrExternalTool.
func MarkerForKind(kind string) error {
	switch Kind(strings.ToLower(strings.TrimSpace(kind))) {
	case KindNoUnits:
		return ErrNoUnits
	case KindConfiguration, "probe":
		return ErrConfiguration
	case KindValidation, "input":
		return ErrValidation
	case KindNotFound:
		return ErrNotFound
	default:
		return ErrExternalTool
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
