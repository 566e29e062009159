package release

import (
	"time"

	"github.com/canarymesh/canary/pkg/cluster"
)

// Replicas is a desired/ready pair for one deployment.
type Replicas struct {
	Desired int `json:"desired"`
	Ready   int `json:"ready"`
}

// State is the full picture of one release, as reported by Status and
// returned from every transition. It is a value; snapshots do not
// change under the caller.
type State struct {
	Namespace string `json:"namespace"`
	Phase     Phase  `json:"phase"`

	// StableVersion and CanaryVersion are the version labels of the
	// two deployments. CanaryVersion is retained after a promote or
	// rollback, as a record of what was last tried.
	StableVersion string `json:"stableVersion,omitempty"`
	CanaryVersion string `json:"canaryVersion,omitempty"`

	// Weights is the traffic split last applied by the controller.
	Weights cluster.Weights `json:"weights"`

	StableReplicas Replicas `json:"stableReplicas"`
	CanaryReplicas Replicas `json:"canaryReplicas"`

	// Validated is true once the current canary has passed a probe
	// batch. Cleared when a new canary starts and after promotion.
	Validated bool `json:"validated"`

	// LastApplied describes the most recent external mutation that
	// succeeded, for diagnosing partial failures.
	LastApplied string `json:"lastApplied,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}
