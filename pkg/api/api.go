// Package api defines the surface canaryd serves and canaryctl
// consumes. Both the HTTP client and the daemon implement Server, so
// command code does not care which side of the wire it is on.
package api

import (
	"context"

	"github.com/canarymesh/canary/pkg/event"
	"github.com/canarymesh/canary/pkg/probe"
	"github.com/canarymesh/canary/pkg/release"
)

// Cause is the operator-supplied context for a transition, recorded
// in the audit trail.
type Cause struct {
	User    string `json:"user,omitempty"`
	Message string `json:"message,omitempty"`
}

type StartCanarySpec struct {
	Namespace string `json:"namespace"`
	Version   string `json:"version"`
	Weight    int    `json:"weight"`
	Cause     Cause  `json:"cause"`
}

type ValidateSpec struct {
	Namespace string  `json:"namespace"`
	Samples   int     `json:"samples"`
	MinRatio  float64 `json:"minRatio"`
	Cause     Cause   `json:"cause"`
}

type PromoteSpec struct {
	Namespace string `json:"namespace"`
	Force     bool   `json:"force"`
	Cause     Cause  `json:"cause"`
}

type RollbackSpec struct {
	Namespace string `json:"namespace"`
	Reason    string `json:"reason"`
	Cause     Cause  `json:"cause"`
}

// ValidateResult pairs the probe batch outcome with the state the
// release was left in.
type ValidateResult struct {
	State release.State     `json:"state"`
	Probe probe.BatchResult `json:"probe"`
}

type Server interface {
	Ping(ctx context.Context) error
	Version(ctx context.Context) (string, error)
	Status(ctx context.Context, namespace string) (release.State, error)
	Events(ctx context.Context, namespace string, n int) ([]event.Event, error)
	StartCanary(ctx context.Context, spec StartCanarySpec) (release.State, error)
	Validate(ctx context.Context, spec ValidateSpec) (ValidateResult, error)
	Promote(ctx context.Context, spec PromoteSpec) (release.State, error)
	Rollback(ctx context.Context, spec RollbackSpec) (release.State, error)
}
