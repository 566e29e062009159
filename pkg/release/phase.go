package release

// Phase is where a release is in its canary cycle. The phase names
// appear verbatim in the API and the CLI output.
type Phase string

const (
	// PhaseIdle: all traffic to stable, no canary running.
	PhaseIdle Phase = "Idle"
	// PhaseCanaryDeploying: the canary deployment is rolling out.
	PhaseCanaryDeploying Phase = "CanaryDeploying"
	// PhaseCanaryActive: the canary serves its share of traffic.
	PhaseCanaryActive Phase = "CanaryActive"
	// PhaseValidating: a probe batch is in flight.
	PhaseValidating Phase = "Validating"
	// PhasePromoting: the canary version is being made stable.
	PhasePromoting Phase = "Promoting"
	// PhaseRollingBack: traffic and replicas are being restored.
	PhaseRollingBack Phase = "RollingBack"
	// PhaseFailed: a transition aborted partway; Rollback recovers.
	PhaseFailed Phase = "Failed"
)

// Transition names the operations that move a release between
// phases. Used as the lock owner tag and as a metrics label.
type Transition string

const (
	TransitionStartCanary Transition = "start-canary"
	TransitionValidate    Transition = "validate"
	TransitionPromote     Transition = "promote"
	TransitionRollback    Transition = "rollback"
)

// startCanaryAllowed says whether a new canary may be started from
// the given phase. From CanaryActive, starting replaces the running
// canary. Rollback has no such guard; it is legal from everywhere.
func startCanaryAllowed(p Phase) bool {
	return p == PhaseIdle || p == PhaseCanaryActive
}
