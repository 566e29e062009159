package release

import (
	"encoding/json"
	"errors"
)

// Kind classifies release errors. These are divided into a small
// number of categories, essentially distinguished by what the
// operator should do next; i.e., is this error:
//  - a bad request, so fix the arguments and try again?
//  - a refusal because of the release's current phase?
//  - an external failure, after which Rollback is the safe recovery?
type Kind string

const (
	InvalidWeight          Kind = "InvalidWeight"
	InvalidPhaseTransition Kind = "InvalidPhaseTransition"
	ClusterUnavailable     Kind = "ClusterUnavailable"
	RolloutTimeout         Kind = "RolloutTimeout"
	ValidationFailed       Kind = "ValidationFailed"
	ConflictingOperation   Kind = "ConflictingOperation"
	Cancelled              Kind = "Cancelled"
)

// Error is a failed transition. It always carries the phase the
// release was left in and, when an external mutation had already
// succeeded, a description of the last one applied.
type Error struct {
	Kind Kind
	// Phase the release is in after the failure.
	Phase Phase
	// LastApplied is the last external mutation that succeeded
	// before the failure, if any.
	LastApplied string
	// the underlying error that can be e.g., logged for developers
	// to look at
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind)
}

// ErrorKind extracts the Kind from an error, or "" if it is not a
// release error.
func ErrorKind(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return ErrorKind(err) == kind
}

func (e *Error) MarshalJSON() ([]byte, error) {
	var errMsg string
	if e.Err != nil {
		errMsg = e.Err.Error()
	}
	jsonable := &struct {
		Kind        string `json:"kind"`
		Phase       string `json:"phase"`
		LastApplied string `json:"lastApplied,omitempty"`
		Err         string `json:"error,omitempty"`
	}{
		Kind:        string(e.Kind),
		Phase:       string(e.Phase),
		LastApplied: e.LastApplied,
		Err:         errMsg,
	}
	return json.Marshal(jsonable)
}

func (e *Error) UnmarshalJSON(data []byte) error {
	jsonable := &struct {
		Kind        string `json:"kind"`
		Phase       string `json:"phase"`
		LastApplied string `json:"lastApplied,omitempty"`
		Err         string `json:"error,omitempty"`
	}{}
	if err := json.Unmarshal(data, &jsonable); err != nil {
		return err
	}
	e.Kind = Kind(jsonable.Kind)
	e.Phase = Phase(jsonable.Phase)
	e.LastApplied = jsonable.LastApplied
	if jsonable.Err != "" {
		e.Err = errors.New(jsonable.Err)
	}
	return nil
}
