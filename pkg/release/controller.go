package release

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/canarymesh/canary/pkg/cluster"
	"github.com/canarymesh/canary/pkg/event"
	"github.com/canarymesh/canary/pkg/probe"
	"github.com/canarymesh/canary/pkg/traffic"
)

// Validator runs a probe batch against the canary. Satisfied by
// *probe.Prober.
type Validator interface {
	ValidateBatch(ctx context.Context, n int, minRatio float64) (probe.BatchResult, error)
}

// Config names the external resources one release is made of.
type Config struct {
	Namespace        string
	StableDeployment string
	CanaryDeployment string
	// TrafficRule is the routing resource holding the weight split.
	TrafficRule string
	// ImageRepository is the image name without tag; a version v maps
	// to the image ImageRepository:v.
	ImageRepository string
	// CanaryReplicas is the desired replica count for a freshly
	// started canary.
	CanaryReplicas int
	// RolloutTimeout bounds waits for deployment readiness.
	RolloutTimeout time.Duration
}

// Controller drives one release through canary cycles. Transitions
// run one at a time: a transition attempted while another is in
// flight fails immediately with ConflictingOperation rather than
// queueing, so retrying is always an explicit operator decision.
type Controller struct {
	cluster cluster.Cluster
	traffic *traffic.Manager
	prober  Validator
	events  event.EventWriter
	logger  log.Logger
	cfg     Config

	// mu guards state and busy. It is held only for short reads and
	// writes, never across an external call, so status queries are
	// never blocked by an in-flight transition.
	mu    sync.Mutex
	busy  Transition
	state State
}

func NewController(c cluster.Cluster, tm *traffic.Manager, prober Validator, events event.EventWriter, cfg Config, logger log.Logger) *Controller {
	if cfg.CanaryReplicas <= 0 {
		cfg.CanaryReplicas = 1
	}
	if cfg.RolloutTimeout <= 0 {
		cfg.RolloutTimeout = 5 * time.Minute
	}
	return &Controller{
		cluster: c,
		traffic: tm,
		prober:  prober,
		events:  events,
		logger:  logger,
		cfg:     cfg,
		state: State{
			Namespace: cfg.Namespace,
			Phase:     PhaseIdle,
			Weights:   cluster.AllStable,
			UpdatedAt: time.Now(),
		},
	}
}

// Status returns a snapshot of the release state. Never blocks on an
// in-flight transition.
func (c *Controller) Status() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) image(version string) string {
	return c.cfg.ImageRepository + ":" + version
}

// begin claims the release lock for a transition. The returned
// function releases it.
func (c *Controller) begin(t Transition) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy != "" {
		return nil, &Error{
			Kind:  ConflictingOperation,
			Phase: c.state.Phase,
			Err:   fmt.Errorf("%s already in progress", c.busy),
		}
	}
	c.busy = t
	return func() {
		c.mu.Lock()
		c.busy = ""
		c.mu.Unlock()
	}, nil
}

// mutate applies fn to the state under the lock.
func (c *Controller) mutate(fn func(*State)) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.state)
	c.state.UpdatedAt = time.Now()
	return c.state
}

// fail records a failed transition: phase moves to failPhase and the
// returned error carries the error kind, the resulting phase, and
// the last mutation that did succeed.
func (c *Controller) fail(kind Kind, failPhase Phase, err error) *Error {
	st := c.mutate(func(s *State) {
		s.Phase = failPhase
	})
	return &Error{
		Kind:        kind,
		Phase:       st.Phase,
		LastApplied: st.LastApplied,
		Err:         err,
	}
}

// classify maps an external error to the release error taxonomy.
func classify(err error) Kind {
	switch {
	case errors.Cause(err) == context.Canceled || errors.Cause(err) == context.DeadlineExceeded:
		return Cancelled
	case errors.Cause(err) == cluster.ErrRolloutTimeout:
		return RolloutTimeout
	default:
		return ClusterUnavailable
	}
}

func (c *Controller) applied(desc string) {
	c.mutate(func(s *State) {
		s.LastApplied = desc
	})
}

// StartCanary deploys newVersion as the canary and routes
// canaryWeight percent of traffic to it. Legal from Idle, or from
// CanaryActive (replacing the existing canary).
func (c *Controller) StartCanary(ctx context.Context, newVersion string, canaryWeight int) (State, error) {
	if canaryWeight <= 0 || canaryWeight >= 100 {
		return c.Status(), &Error{
			Kind:  InvalidWeight,
			Phase: c.Status().Phase,
			Err:   fmt.Errorf("canary weight %d is outside (0,100)", canaryWeight),
		}
	}

	done, err := c.begin(TransitionStartCanary)
	if err != nil {
		return c.Status(), err
	}
	defer done()
	defer c.observe(TransitionStartCanary, time.Now(), &err)

	prev := c.Status()
	if !startCanaryAllowed(prev.Phase) {
		err = &Error{
			Kind:  InvalidPhaseTransition,
			Phase: prev.Phase,
			Err:   fmt.Errorf("cannot start a canary from phase %s", prev.Phase),
		}
		return prev, err
	}

	startedAt := time.Now()
	c.mutate(func(s *State) {
		s.Phase = PhaseCanaryDeploying
		s.CanaryVersion = newVersion
		s.Validated = false
	})

	replicas := c.cfg.CanaryReplicas
	if perr := c.cluster.PatchDeployment(ctx, c.cfg.Namespace, c.cfg.CanaryDeployment, cluster.DeploymentPatch{
		Image:    c.image(newVersion),
		Version:  newVersion,
		Replicas: &replicas,
	}); perr != nil {
		err = c.fail(classify(perr), PhaseFailed, errors.Wrap(perr, "patching canary deployment"))
		c.logStart(prev, newVersion, canaryWeight, startedAt, err)
		return c.Status(), err
	}
	c.applied(fmt.Sprintf("patched deployment %s to %s", c.cfg.CanaryDeployment, newVersion))

	if werr := c.cluster.WaitForRollout(ctx, c.cfg.Namespace, c.cfg.CanaryDeployment, c.cfg.RolloutTimeout); werr != nil {
		kind := classify(werr)
		failPhase := PhaseFailed
		if kind == Cancelled {
			// leave the release where it was, so a retry or rollback
			// proceeds from a known state
			failPhase = prev.Phase
		}
		err = c.fail(kind, failPhase, errors.Wrap(werr, "waiting for canary rollout"))
		c.logStart(prev, newVersion, canaryWeight, startedAt, err)
		return c.Status(), err
	}
	c.applied(fmt.Sprintf("deployment %s rolled out", c.cfg.CanaryDeployment))

	split := cluster.Weights{Stable: 100 - canaryWeight, Canary: canaryWeight}
	if serr := c.traffic.SetWeights(ctx, split); serr != nil {
		err = c.fail(classify(serr), PhaseFailed, errors.Wrap(serr, "setting traffic split"))
		c.logStart(prev, newVersion, canaryWeight, startedAt, err)
		return c.Status(), err
	}
	c.applied(fmt.Sprintf("traffic split set to %d/%d", split.Stable, split.Canary))

	c.refreshReplicas(ctx)
	st := c.mutate(func(s *State) {
		s.Phase = PhaseCanaryActive
		s.Weights = split
	})
	c.logStart(prev, newVersion, canaryWeight, startedAt, nil)
	return st, nil
}

// Validate runs a probe batch force-routed to the canary. It gates
// promotion but does not itself change weights. A failed batch
// leaves the phase at CanaryActive so the operator can retry or roll
// back.
func (c *Controller) Validate(ctx context.Context, samples int, minRatio float64) (State, probe.BatchResult, error) {
	done, err := c.begin(TransitionValidate)
	if err != nil {
		return c.Status(), probe.BatchResult{}, err
	}
	defer done()
	defer c.observe(TransitionValidate, time.Now(), &err)

	prev := c.Status()
	if prev.Phase != PhaseCanaryActive {
		err = &Error{
			Kind:  InvalidPhaseTransition,
			Phase: prev.Phase,
			Err:   fmt.Errorf("cannot validate from phase %s", prev.Phase),
		}
		return prev, probe.BatchResult{}, err
	}

	startedAt := time.Now()
	c.mutate(func(s *State) { s.Phase = PhaseValidating })

	result, verr := c.prober.ValidateBatch(ctx, samples, minRatio)
	if verr != nil {
		// the batch itself was aborted; no samples were judged
		st := c.mutate(func(s *State) { s.Phase = PhaseCanaryActive })
		err = &Error{Kind: Cancelled, Phase: st.Phase, Err: verr}
		c.logValidate(prev, result, startedAt, err)
		return st, probe.BatchResult{}, err
	}

	st := c.mutate(func(s *State) {
		s.Phase = PhaseCanaryActive
		s.Validated = result.Pass
	})
	if !result.Pass {
		err = &Error{
			Kind:  ValidationFailed,
			Phase: st.Phase,
			Err:   fmt.Errorf("%d/%d probes succeeded, needed ratio %.2f", result.Successes, result.Samples, minRatio),
		}
		c.logValidate(prev, result, startedAt, err)
		return st, result, err
	}
	c.logValidate(prev, result, startedAt, nil)
	return st, result, nil
}

// Promote makes the canary's version the stable version: stable is
// updated and rolled out, traffic returns to 100/0, and the canary
// is scaled away. force skips the requirement that the canary has
// passed validation, but not the phase guard. Promoting a canary
// that is already the stable version is a no-op success.
func (c *Controller) Promote(ctx context.Context, force bool) (State, error) {
	done, err := c.begin(TransitionPromote)
	if err != nil {
		return c.Status(), err
	}
	defer done()
	defer c.observe(TransitionPromote, time.Now(), &err)

	prev := c.Status()
	if prev.Phase != PhaseCanaryActive {
		err = &Error{
			Kind:  InvalidPhaseTransition,
			Phase: prev.Phase,
			Err:   fmt.Errorf("cannot promote from phase %s", prev.Phase),
		}
		return prev, err
	}
	if prev.CanaryVersion == prev.StableVersion {
		// nothing to do; replica counts and weights stay untouched,
		// and there is nothing for validation to gate
		return prev, nil
	}
	if !prev.Validated && !force {
		err = &Error{
			Kind:  ValidationFailed,
			Phase: prev.Phase,
			Err:   errors.New("canary has not passed validation; use force to promote anyway"),
		}
		return prev, err
	}

	startedAt := time.Now()
	version := prev.CanaryVersion
	c.mutate(func(s *State) { s.Phase = PhasePromoting })

	if perr := c.cluster.PatchDeployment(ctx, c.cfg.Namespace, c.cfg.StableDeployment, cluster.DeploymentPatch{
		Image:   c.image(version),
		Version: version,
	}); perr != nil {
		err = c.promoteFailure(perr, prev, errors.Wrap(perr, "patching stable deployment"))
		c.logPromote(prev, version, startedAt, err)
		return c.Status(), err
	}
	c.applied(fmt.Sprintf("patched deployment %s to %s", c.cfg.StableDeployment, version))

	if werr := c.cluster.WaitForRollout(ctx, c.cfg.Namespace, c.cfg.StableDeployment, c.cfg.RolloutTimeout); werr != nil {
		err = c.promoteFailure(werr, prev, errors.Wrap(werr, "waiting for stable rollout"))
		c.logPromote(prev, version, startedAt, err)
		return c.Status(), err
	}
	c.applied(fmt.Sprintf("deployment %s rolled out", c.cfg.StableDeployment))

	// weight reset strictly before scale-down, so live traffic is
	// never routed at a deployment being scaled to zero
	if serr := c.traffic.SetWeights(ctx, cluster.AllStable); serr != nil {
		err = c.promoteFailure(serr, prev, errors.Wrap(serr, "resetting traffic split"))
		c.logPromote(prev, version, startedAt, err)
		return c.Status(), err
	}
	c.applied("traffic split reset to 100/0")

	if serr := c.cluster.ScaleDeployment(ctx, c.cfg.Namespace, c.cfg.CanaryDeployment, 0); serr != nil {
		err = c.promoteFailure(serr, prev, errors.Wrap(serr, "scaling canary down"))
		c.logPromote(prev, version, startedAt, err)
		return c.Status(), err
	}
	c.applied(fmt.Sprintf("deployment %s scaled to 0", c.cfg.CanaryDeployment))

	c.refreshReplicas(ctx)
	st := c.mutate(func(s *State) {
		s.Phase = PhaseIdle
		s.StableVersion = version
		s.Weights = cluster.AllStable
		s.CanaryReplicas = Replicas{}
		s.Validated = false
	})
	c.logPromote(prev, version, startedAt, nil)
	return st, nil
}

// promoteFailure handles an error partway through promotion. Steps
// already applied are not undone; rollback is the recovery path. The
// phase becomes Failed unless the operation was cancelled, in which
// case the prior phase is restored.
func (c *Controller) promoteFailure(cause error, prev State, wrapped error) *Error {
	kind := classify(cause)
	failPhase := PhaseFailed
	if kind == Cancelled {
		failPhase = prev.Phase
	}
	return c.fail(kind, failPhase, wrapped)
}

// Rollback returns all traffic to stable and scales the canary away,
// from any phase. It is idempotent, and is the universal recovery
// transition after a partial failure: cluster errors here leave the
// phase at Failed so the rollback can simply be retried.
func (c *Controller) Rollback(ctx context.Context, reason string) (State, error) {
	done, err := c.begin(TransitionRollback)
	if err != nil {
		return c.Status(), err
	}
	defer done()
	defer c.observe(TransitionRollback, time.Now(), &err)

	prev := c.Status()
	startedAt := time.Now()
	c.mutate(func(s *State) { s.Phase = PhaseRollingBack })

	// same ordering rule as promotion: traffic first, then replicas
	if serr := c.traffic.SetWeights(ctx, cluster.AllStable); serr != nil {
		err = c.fail(classify(serr), PhaseFailed, errors.Wrap(serr, "resetting traffic split"))
		c.logRollback(prev, reason, startedAt, err)
		return c.Status(), err
	}
	c.applied("traffic split reset to 100/0")

	if serr := c.cluster.ScaleDeployment(ctx, c.cfg.Namespace, c.cfg.CanaryDeployment, 0); serr != nil {
		err = c.fail(classify(serr), PhaseFailed, errors.Wrap(serr, "scaling canary down"))
		c.logRollback(prev, reason, startedAt, err)
		return c.Status(), err
	}
	c.applied(fmt.Sprintf("deployment %s scaled to 0", c.cfg.CanaryDeployment))

	st := c.mutate(func(s *State) {
		s.Phase = PhaseIdle
		s.Weights = cluster.AllStable
		s.CanaryReplicas = Replicas{}
		s.Validated = false
	})
	c.logRollback(prev, reason, startedAt, nil)
	return st, nil
}

// refreshReplicas re-reads both deployments' replica counts into the
// state. Errors are tolerated: the snapshot is advisory and the
// authoritative counts live in the cluster.
func (c *Controller) refreshReplicas(ctx context.Context) {
	stable, serr := c.cluster.GetDeployment(ctx, c.cfg.Namespace, c.cfg.StableDeployment)
	canary, cerr := c.cluster.GetDeployment(ctx, c.cfg.Namespace, c.cfg.CanaryDeployment)
	c.mutate(func(s *State) {
		if serr == nil {
			s.StableReplicas = Replicas{Desired: stable.Rollout.Desired, Ready: stable.Rollout.Ready}
			if s.StableVersion == "" {
				s.StableVersion = stable.Version
			}
		}
		if cerr == nil {
			s.CanaryReplicas = Replicas{Desired: canary.Rollout.Desired, Ready: canary.Rollout.Ready}
		}
	})
	if serr != nil {
		c.logger.Log("warning", "could not refresh stable replica counts", "err", serr)
	}
	if cerr != nil {
		c.logger.Log("warning", "could not refresh canary replica counts", "err", cerr)
	}
}
