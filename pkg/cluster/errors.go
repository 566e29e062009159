package cluster

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrRolloutTimeout is returned by WaitForRollout when the
// deployment does not become ready within the allotted time.
var ErrRolloutTimeout = errors.New("timed out waiting for rollout to complete")

// ErrNotFound reports that a deployment or traffic rule the
// controller expected to exist does not.
type ErrNotFound struct {
	Namespace string
	Name      string
	Kind      string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s/%s not found", e.Kind, e.Namespace, e.Name)
}

// ErrMalformedRule reports a routing resource that exists but does
// not have the shape the controller expects, e.g. no match-less http
// route or a route without destinations. Readers treat this like an
// absent rule; writers report it, since there is nothing safe to
// patch.
type ErrMalformedRule struct {
	Namespace string
	Name      string
	Reason    string
}

func (e ErrMalformedRule) Error() string {
	return fmt.Sprintf("traffic rule %s/%s is malformed: %s", e.Namespace, e.Name, e.Reason)
}

// ErrUnavailable wraps any error reaching the orchestrator API that
// is not a simple "does not exist". The controller treats both as
// transition-aborting, but reports them differently.
type ErrUnavailable struct {
	Err error
}

func (e ErrUnavailable) Error() string {
	return "cluster unavailable: " + e.Err.Error()
}

func IsNotFound(err error) bool {
	_, ok := errors.Cause(err).(ErrNotFound)
	return ok
}

func IsMalformedRule(err error) bool {
	_, ok := errors.Cause(err).(ErrMalformedRule)
	return ok
}

func IsUnavailable(err error) bool {
	_, ok := errors.Cause(err).(ErrUnavailable)
	return ok
}
