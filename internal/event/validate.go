package event

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for the ingestion taxonomy. Validation errors wrap one of
// these so callers can branch with errors.Is.
var (
	ErrMalformedEvent    = errors.New("malformed event")
	ErrUnknownEventType  = errors.New("unknown event type")
	ErrClockSkewRejected = errors.New("event timestamp too far in the future")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrProcessingTimeout = errors.New("event processing timeout")
)

// ValidationError carries the taxonomy sentinel plus a detail message the
// producer can use to fix the payload.
type ValidationError struct {
	Kind   error
	Detail string
}

func (v *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Kind, v.Detail)
}

func (v *ValidationError) Unwrap() error { return v.Kind }

func invalid(kind error, format string, args ...any) error {
	return &ValidationError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

var knownTypes = map[Type]bool{
	TypePresence:      true,
	TypeAIObservation: true,
	TypePosition:      true,
	TypeCompliance:    true,
}

// Validate checks an inbound event against the envelope contract. It is a
// pure function: no state is touched, which keeps every malformed-input case
// unit-testable in isolation.
//
// Rules: a known event_type, a parseable ts no more than maxSkew ahead of
// now, exactly one of employee_id/anonymous_track_id, a non-empty source_id,
// and (when present) a schema version with major version 1.
func Validate(e *Event, now time.Time, maxSkew time.Duration) error {
	if e == nil {
		return invalid(ErrMalformedEvent, "event is nil")
	}
	if e.Type == "" {
		return invalid(ErrMalformedEvent, "event_type is required")
	}
	if !knownTypes[e.Type] {
		return invalid(ErrUnknownEventType, "event_type %q", e.Type)
	}
	if e.Version != "" {
		major, _, _ := strings.Cut(e.Version, ".")
		if major != "1" {
			return invalid(ErrMalformedEvent, "unsupported schema version %q", e.Version)
		}
	}
	if e.TS.IsZero() {
		return invalid(ErrMalformedEvent, "ts is required")
	}
	if e.TS.After(now.Add(maxSkew)) {
		return invalid(ErrClockSkewRejected, "ts %s is beyond allowed skew %s", e.TS.Format(time.RFC3339), maxSkew)
	}
	if e.SourceID == "" {
		return invalid(ErrMalformedEvent, "source_id is required")
	}
	switch {
	case e.EmployeeID == "" && e.AnonymousTrackID == "":
		return invalid(ErrMalformedEvent, "one of employee_id or anonymous_track_id is required")
	case e.EmployeeID != "" && e.AnonymousTrackID != "":
		return invalid(ErrMalformedEvent, "employee_id and anonymous_track_id are mutually exclusive")
	}
	return nil
}
