package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// These are all the types of events.
const (
	EventStartCanary = "start_canary"
	EventValidate    = "validate"
	EventPromote     = "promote"
	EventRollback    = "rollback"

	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Outcomes of a transition attempt.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

type EventID int64

// Event is one record in the append-only audit trail: a transition
// attempt and how it went. Events are never mutated once written.
type Event struct {
	// ID is assigned by the sink when the event is appended.
	ID EventID `json:"id"`

	// Type is the transition this event records.
	Type string `json:"type"`

	// Namespace the release lives in.
	Namespace string `json:"namespace"`

	// StartedAt is the time the transition began.
	StartedAt time.Time `json:"startedAt"`

	// EndedAt is the time the transition ended. For instantaneous
	// events, this will be the same as StartedAt.
	EndedAt time.Time `json:"endedAt"`

	// LogLevel for this event. Used to indicate how important it is.
	// `debug|info|warn|error`
	LogLevel string `json:"logLevel"`

	// Message is a pre-formatted string for display; if empty,
	// String() derives one from the metadata.
	Message string `json:"message,omitempty"`

	// Metadata is Event.Type-specific metadata. If an event has no
	// metadata, this will be nil.
	Metadata EventMetadata `json:"metadata,omitempty"`
}

// EventWriter appends events to some sink.
type EventWriter interface {
	// LogEvent records an event in the audit trail.
	LogEvent(Event) error
}

func (e Event) String() string {
	if e.Message != "" {
		return e.Message
	}

	switch e.Type {
	case EventStartCanary:
		metadata := e.Metadata.(*TransitionEventMetadata)
		return fmt.Sprintf("Canary started: %s at weight %d (%s)", metadata.Version, metadata.Weight, metadata.Outcome)
	case EventValidate:
		metadata := e.Metadata.(*ValidateEventMetadata)
		return fmt.Sprintf("Validated: %d/%d probes succeeded, needed %.2f (%s)", metadata.Successes, metadata.Samples, metadata.MinRatio, metadata.Outcome)
	case EventPromote:
		metadata := e.Metadata.(*TransitionEventMetadata)
		return fmt.Sprintf("Promoted: %s (%s)", metadata.Version, metadata.Outcome)
	case EventRollback:
		metadata := e.Metadata.(*TransitionEventMetadata)
		var reason string
		if metadata.Reason != "" {
			reason = fmt.Sprintf(", with reason %q", metadata.Reason)
		}
		return fmt.Sprintf("Rolled back%s (%s)", reason, metadata.Outcome)
	default:
		return fmt.Sprintf("Unknown event: %s", e.Type)
	}
}

// TransitionEventMetadata is the metadata for start-canary, promote
// and rollback events.
type TransitionEventMetadata struct {
	FromPhase string `json:"fromPhase"`
	ToPhase   string `json:"toPhase"`
	Version   string `json:"version,omitempty"`
	Weight    int    `json:"weight,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Outcome   string `json:"outcome"`
	// Message of the error if there was one.
	Error string `json:"error,omitempty"`
}

// ValidateEventMetadata is the metadata for validation batches.
type ValidateEventMetadata struct {
	FromPhase string  `json:"fromPhase"`
	ToPhase   string  `json:"toPhase"`
	Samples   int     `json:"samples"`
	Successes int     `json:"successes"`
	MinRatio  float64 `json:"minRatio"`
	Outcome   string  `json:"outcome"`
	Error     string  `json:"error,omitempty"`
}

type UnknownEventMetadata map[string]interface{}

func (e *Event) UnmarshalJSON(in []byte) error {
	type alias Event
	var wireEvent struct {
		*alias
		MetadataBytes json.RawMessage `json:"metadata,omitempty"`
	}
	wireEvent.alias = (*alias)(e)

	if err := json.Unmarshal(in, &wireEvent); err != nil {
		return err
	}
	if wireEvent.Type == "" {
		return errors.New("Event type is empty")
	}

	switch wireEvent.Type {
	case EventStartCanary, EventPromote, EventRollback:
		var metadata TransitionEventMetadata
		if err := json.Unmarshal(wireEvent.MetadataBytes, &metadata); err != nil {
			return err
		}
		e.Metadata = &metadata
	case EventValidate:
		var metadata ValidateEventMetadata
		if err := json.Unmarshal(wireEvent.MetadataBytes, &metadata); err != nil {
			return err
		}
		e.Metadata = &metadata
	default:
		if len(wireEvent.MetadataBytes) > 0 {
			var metadata UnknownEventMetadata
			if err := json.Unmarshal(wireEvent.MetadataBytes, &metadata); err != nil {
				return err
			}
			e.Metadata = metadata
		}
	}

	return nil
}

// EventMetadata is a type safety trick used to make sure that
// Metadata field of Event is always a pointer, so that consumers can
// cast without being concerned about encountering a value type
// instead. It works by virtue of the fact that the method is only
// defined for pointer receivers; the actual method chosen is
// entirely arbitrary.
type EventMetadata interface {
	Type() string
}

func (tem *TransitionEventMetadata) Type() string {
	return "transition"
}

func (vem *ValidateEventMetadata) Type() string {
	return EventValidate
}

// Special exception from pointer receiver rule, as
// UnknownEventMetadata is a type alias for a map
func (uem UnknownEventMetadata) Type() string {
	return "unknown"
}
