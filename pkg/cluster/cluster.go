package cluster

import (
	"context"
	"time"
)

// Constants for deployment rollout status. These are defined here so
// that no-one has to drag in Kubernetes dependencies to be able to
// use them.
const (
	StatusUnknown  = "unknown"
	StatusError    = "error"
	StatusReady    = "ready"
	StatusUpdating = "updating"
)

// Cluster is the handle the release controller uses to mutate and
// observe the orchestrator. The controller never talks to the
// orchestrator API directly; everything goes through this interface
// so the control loop can be exercised against a fake.
type Cluster interface {
	// GetDeployment fetches the current spec and rollout status of a
	// named deployment.
	GetDeployment(ctx context.Context, namespace, name string) (Deployment, error)
	// PatchDeployment updates the image and version label of the
	// named deployment, and optionally its desired replica count
	// (left unchanged when desiredReplicas is nil).
	PatchDeployment(ctx context.Context, namespace, name string, spec DeploymentPatch) error
	// ScaleDeployment sets the desired replica count.
	ScaleDeployment(ctx context.Context, namespace, name string, replicas int) error
	// GetTrafficRule reads the weight split from the routing resource.
	GetTrafficRule(ctx context.Context, namespace, name string) (Weights, error)
	// PatchTrafficRule writes the weight split to the routing
	// resource. The header-override route, if any, is left alone.
	PatchTrafficRule(ctx context.Context, namespace, name string, weights Weights) error
	// WaitForRollout blocks until the deployment's ready replicas
	// equal its desired replicas, the timeout elapses, or ctx is
	// cancelled.
	WaitForRollout(ctx context.Context, namespace, name string, timeout time.Duration) error
	Ping(ctx context.Context) error
}

// RolloutStatus describes the replica counts of a deployment at a
// moment in time. A rollout is complete when Updated, Ready and
// Available all equal Desired.
type RolloutStatus struct {
	Desired   int
	Updated   int
	Ready     int
	Available int
}

// Complete is true when every desired replica is updated and ready.
func (s RolloutStatus) Complete() bool {
	return s.Updated == s.Desired && s.Ready == s.Desired && s.Available == s.Desired
}

// Summary gives a one-word status for display.
func (s RolloutStatus) Summary() string {
	switch {
	case s.Complete():
		return StatusReady
	case s.Updated < s.Desired || s.Ready < s.Desired:
		return StatusUpdating
	default:
		return StatusUnknown
	}
}

// Deployment is the subset of a workload's spec and status the
// controller cares about.
type Deployment struct {
	Namespace string
	Name      string
	Image     string
	// Version is the value of the version label on the pod template,
	// an opaque identifier as far as the controller is concerned.
	Version string
	Rollout RolloutStatus
}

// DeploymentPatch carries the mutable fields of a deployment. A nil
// Replicas means "leave the replica count as it is".
type DeploymentPatch struct {
	Image    string
	Version  string
	Replicas *int
}

// Weights is a stable/canary traffic split. Valid weights are
// non-negative and sum to exactly 100; see Validate.
type Weights struct {
	Stable int `json:"stable"`
	Canary int `json:"canary"`
}

// AllStable is the split in effect when no rule is configured: all
// traffic to the stable deployment.
var AllStable = Weights{Stable: 100, Canary: 0}
