package release

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"

	"github.com/canarymesh/canary/pkg/cluster"
	"github.com/canarymesh/canary/pkg/event"
	"github.com/canarymesh/canary/pkg/probe"
	"github.com/canarymesh/canary/pkg/traffic"
)

const (
	testNamespace = "default"
	stableName    = "podinfo"
	canaryName    = "podinfo-canary"
	ruleName      = "podinfo"
	imageRepo     = "quay.io/example/podinfo"
)

// fakeCluster is a stateful in-memory cluster: deployments roll out
// instantly unless told to fail, and every mutation is recorded in
// order.
type fakeCluster struct {
	mu          sync.Mutex
	deployments map[string]*cluster.Deployment
	weights     cluster.Weights
	ruleMissing bool

	failPatch   error
	failScale   error
	failWeights error
	failWait    error
	blockWait   chan struct{} // if set, WaitForRollout blocks until closed

	ops []string
}

func newFakeCluster(stableVersion string) *fakeCluster {
	return &fakeCluster{
		deployments: map[string]*cluster.Deployment{
			stableName: {
				Namespace: testNamespace,
				Name:      stableName,
				Image:     imageRepo + ":" + stableVersion,
				Version:   stableVersion,
				Rollout:   cluster.RolloutStatus{Desired: 2, Updated: 2, Ready: 2, Available: 2},
			},
			canaryName: {
				Namespace: testNamespace,
				Name:      canaryName,
				Rollout:   cluster.RolloutStatus{},
			},
		},
		weights: cluster.AllStable,
	}
}

func (f *fakeCluster) record(format string, args ...interface{}) {
	f.ops = append(f.ops, fmt.Sprintf(format, args...))
}

func (f *fakeCluster) GetDeployment(ctx context.Context, namespace, name string) (cluster.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deployments[name]
	if !ok {
		return cluster.Deployment{}, cluster.ErrNotFound{Namespace: namespace, Name: name, Kind: "deployment"}
	}
	return *d, nil
}

func (f *fakeCluster) PatchDeployment(ctx context.Context, namespace, name string, spec cluster.DeploymentPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPatch != nil {
		return f.failPatch
	}
	d := f.deployments[name]
	d.Image = spec.Image
	d.Version = spec.Version
	if spec.Replicas != nil {
		d.Rollout.Desired = *spec.Replicas
	}
	f.record("patch %s -> %s", name, spec.Version)
	return nil
}

func (f *fakeCluster) ScaleDeployment(ctx context.Context, namespace, name string, replicas int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failScale != nil {
		return f.failScale
	}
	d := f.deployments[name]
	d.Rollout = cluster.RolloutStatus{Desired: replicas, Updated: replicas, Ready: replicas, Available: replicas}
	f.record("scale %s -> %d", name, replicas)
	return nil
}

func (f *fakeCluster) GetTrafficRule(ctx context.Context, namespace, name string) (cluster.Weights, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ruleMissing {
		return cluster.Weights{}, cluster.ErrNotFound{Namespace: namespace, Name: name, Kind: "virtualservice"}
	}
	return f.weights, nil
}

func (f *fakeCluster) PatchTrafficRule(ctx context.Context, namespace, name string, weights cluster.Weights) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWeights != nil {
		return f.failWeights
	}
	f.weights = weights
	f.record("weights -> %d/%d", weights.Stable, weights.Canary)
	return nil
}

func (f *fakeCluster) WaitForRollout(ctx context.Context, namespace, name string, timeout time.Duration) error {
	if f.blockWait != nil {
		select {
		case <-f.blockWait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.failWait != nil {
		return f.failWait
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.deployments[name]
	d.Rollout.Updated = d.Rollout.Desired
	d.Rollout.Ready = d.Rollout.Desired
	d.Rollout.Available = d.Rollout.Desired
	return nil
}

func (f *fakeCluster) Ping(ctx context.Context) error { return nil }

// stubValidator returns a canned batch result.
type stubValidator struct {
	result probe.BatchResult
	err    error
}

func (s stubValidator) ValidateBatch(ctx context.Context, n int, minRatio float64) (probe.BatchResult, error) {
	if s.err != nil {
		return probe.BatchResult{}, s.err
	}
	r := s.result
	r.Samples = n
	r.MinRatio = minRatio
	r.Pass = float64(r.Successes)/float64(n) >= minRatio
	return r, s.err
}

func newTestController(fake *fakeCluster, v Validator) (*Controller, *event.RingWriter) {
	logger := log.NewNopLogger()
	events := event.NewRingWriter(32)
	tm := traffic.NewManager(fake, testNamespace, ruleName, logger)
	c := NewController(fake, tm, v, events, Config{
		Namespace:        testNamespace,
		StableDeployment: stableName,
		CanaryDeployment: canaryName,
		TrafficRule:      ruleName,
		ImageRepository:  imageRepo,
		CanaryReplicas:   1,
		RolloutTimeout:   time.Second,
	}, logger)
	return c, events
}

func TestStartCanary(t *testing.T) {
	fake := newFakeCluster("v1.0")
	c, events := newTestController(fake, stubValidator{})

	st, err := c.StartCanary(context.Background(), "v2.0", 20)
	assert.NoError(t, err)
	assert.Equal(t, PhaseCanaryActive, st.Phase)
	assert.Equal(t, "v2.0", st.CanaryVersion)
	assert.Equal(t, cluster.Weights{Stable: 80, Canary: 20}, st.Weights)
	assert.Equal(t, imageRepo+":v2.0", fake.deployments[canaryName].Image)
	assert.Equal(t, 1, st.CanaryReplicas.Desired)
	assert.False(t, st.Validated)

	evs := events.Events(0)
	if assert.Len(t, evs, 1) {
		assert.Equal(t, event.EventStartCanary, evs[0].Type)
		md := evs[0].Metadata.(*event.TransitionEventMetadata)
		assert.Equal(t, event.OutcomeSucceeded, md.Outcome)
		assert.Equal(t, string(PhaseCanaryActive), md.ToPhase)
	}
}

func TestStartCanaryInvalidWeight(t *testing.T) {
	fake := newFakeCluster("v1.0")
	c, _ := newTestController(fake, stubValidator{})

	for _, weight := range []int{0, -5, 100, 120} {
		st, err := c.StartCanary(context.Background(), "v2.0", weight)
		assert.Equal(t, InvalidWeight, ErrorKind(err), "weight %d", weight)
		assert.Equal(t, PhaseIdle, st.Phase)
	}
	assert.Empty(t, fake.ops)
}

func TestStartCanaryPhaseGuard(t *testing.T) {
	fake := newFakeCluster("v1.0")
	fake.failWait = cluster.ErrRolloutTimeout
	c, _ := newTestController(fake, stubValidator{})

	_, err := c.StartCanary(context.Background(), "v2.0", 20)
	assert.Equal(t, RolloutTimeout, ErrorKind(err))
	assert.Equal(t, PhaseFailed, c.Status().Phase)

	// Failed is not a legal starting point for a new canary
	_, err = c.StartCanary(context.Background(), "v2.1", 20)
	assert.Equal(t, InvalidPhaseTransition, ErrorKind(err))
}

func TestStartCanaryReplacesActiveCanary(t *testing.T) {
	fake := newFakeCluster("v1.0")
	c, _ := newTestController(fake, stubValidator{})

	_, err := c.StartCanary(context.Background(), "v2.0", 20)
	assert.NoError(t, err)
	st, err := c.StartCanary(context.Background(), "v2.1", 30)
	assert.NoError(t, err)
	assert.Equal(t, "v2.1", st.CanaryVersion)
	assert.Equal(t, cluster.Weights{Stable: 70, Canary: 30}, st.Weights)
	assert.False(t, st.Validated)
}

func TestStartCanaryCancelled(t *testing.T) {
	fake := newFakeCluster("v1.0")
	fake.blockWait = make(chan struct{})
	c, _ := newTestController(fake, stubValidator{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := c.StartCanary(ctx, "v2.0", 20)
	assert.Equal(t, Cancelled, ErrorKind(err))
	// phase is left where it was, so the operator can retry
	assert.Equal(t, PhaseIdle, c.Status().Phase)
}

func TestValidateThreshold(t *testing.T) {
	for _, tc := range []struct {
		successes int
		wantPass  bool
	}{
		{9, true},
		{8, false},
	} {
		fake := newFakeCluster("v1.0")
		c, _ := newTestController(fake, stubValidator{result: probe.BatchResult{Successes: tc.successes}})

		_, err := c.StartCanary(context.Background(), "v2.0", 20)
		assert.NoError(t, err)

		st, result, err := c.Validate(context.Background(), 10, 0.9)
		assert.Equal(t, PhaseCanaryActive, st.Phase)
		assert.Equal(t, tc.successes, result.Successes)
		if tc.wantPass {
			assert.NoError(t, err)
			assert.True(t, st.Validated)
		} else {
			assert.Equal(t, ValidationFailed, ErrorKind(err))
			assert.False(t, st.Validated)
		}
	}
}

func TestValidatePhaseGuard(t *testing.T) {
	fake := newFakeCluster("v1.0")
	c, _ := newTestController(fake, stubValidator{result: probe.BatchResult{Successes: 10}})

	_, _, err := c.Validate(context.Background(), 10, 0.9)
	assert.Equal(t, InvalidPhaseTransition, ErrorKind(err))
}

func TestPromoteFullCycle(t *testing.T) {
	fake := newFakeCluster("v1.0")
	c, _ := newTestController(fake, stubValidator{result: probe.BatchResult{Successes: 10}})

	_, err := c.StartCanary(context.Background(), "v2.0", 20)
	assert.NoError(t, err)
	_, _, err = c.Validate(context.Background(), 10, 0.95)
	assert.NoError(t, err)

	st, err := c.Promote(context.Background(), false)
	assert.NoError(t, err)
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Equal(t, "v2.0", st.StableVersion)
	assert.Equal(t, cluster.AllStable, st.Weights)
	assert.Equal(t, 0, st.CanaryReplicas.Desired)
	assert.Equal(t, imageRepo+":v2.0", fake.deployments[stableName].Image)

	// traffic returns to stable strictly before the canary is
	// scaled away
	assert.Equal(t, []string{
		"patch podinfo-canary -> v2.0",
		"weights -> 80/20",
		"patch podinfo -> v2.0",
		"weights -> 100/0",
		"scale podinfo-canary -> 0",
	}, fake.ops)
}

func TestPromoteRequiresValidation(t *testing.T) {
	fake := newFakeCluster("v1.0")
	c, _ := newTestController(fake, stubValidator{})

	_, err := c.StartCanary(context.Background(), "v2.0", 20)
	assert.NoError(t, err)

	_, err = c.Promote(context.Background(), false)
	assert.Equal(t, ValidationFailed, ErrorKind(err))
	assert.Equal(t, PhaseCanaryActive, c.Status().Phase)

	st, err := c.Promote(context.Background(), true)
	assert.NoError(t, err)
	assert.Equal(t, "v2.0", st.StableVersion)
}

func TestPromoteSameVersionIsNoop(t *testing.T) {
	fake := newFakeCluster("v1.0")
	c, _ := newTestController(fake, stubValidator{})

	_, err := c.StartCanary(context.Background(), "v1.0", 20)
	assert.NoError(t, err)
	opsBefore := len(fake.ops)

	// a no-op promote needs neither validation nor force
	st, err := c.Promote(context.Background(), false)
	assert.NoError(t, err)
	assert.False(t, st.Validated)
	assert.Len(t, fake.ops, opsBefore)
	assert.Equal(t, cluster.Weights{Stable: 80, Canary: 20}, st.Weights)

	st, err = c.Promote(context.Background(), true)
	assert.NoError(t, err)
	assert.Len(t, fake.ops, opsBefore)
	assert.Equal(t, cluster.Weights{Stable: 80, Canary: 20}, st.Weights)
}

func TestPromotePartialFailure(t *testing.T) {
	fake := newFakeCluster("v1.0")
	c, _ := newTestController(fake, stubValidator{})

	_, err := c.StartCanary(context.Background(), "v2.0", 20)
	assert.NoError(t, err)

	fake.failScale = cluster.ErrUnavailable{Err: fmt.Errorf("apiserver gone")}
	_, err = c.Promote(context.Background(), true)
	assert.Equal(t, ClusterUnavailable, ErrorKind(err))
	assert.Equal(t, PhaseFailed, c.Status().Phase)
	// nothing is undone automatically; the weight reset stands
	assert.Equal(t, cluster.AllStable, fake.weights)
	if relErr, ok := err.(*Error); assert.True(t, ok) {
		assert.Equal(t, "traffic split reset to 100/0", relErr.LastApplied)
	}

	// rollback is the recovery transition from Failed
	fake.failScale = nil
	st, err := c.Rollback(context.Background(), "recovering from partial promote")
	assert.NoError(t, err)
	assert.Equal(t, PhaseIdle, st.Phase)
}

func TestRollbackScenario(t *testing.T) {
	fake := newFakeCluster("v1.0")
	c, events := newTestController(fake, stubValidator{})

	_, err := c.StartCanary(context.Background(), "v3.0", 30)
	assert.NoError(t, err)

	st, err := c.Rollback(context.Background(), "perf regression")
	assert.NoError(t, err)
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Equal(t, cluster.AllStable, st.Weights)
	assert.Equal(t, 0, st.CanaryReplicas.Desired)

	evs := events.Events(1)
	if assert.Len(t, evs, 1) {
		md := evs[0].Metadata.(*event.TransitionEventMetadata)
		assert.Equal(t, "perf regression", md.Reason)
	}
}

func TestRollbackIdempotent(t *testing.T) {
	fake := newFakeCluster("v1.0")
	c, _ := newTestController(fake, stubValidator{})

	st1, err := c.Rollback(context.Background(), "")
	assert.NoError(t, err)
	st2, err := c.Rollback(context.Background(), "")
	assert.NoError(t, err)

	assert.Equal(t, PhaseIdle, st1.Phase)
	assert.Equal(t, PhaseIdle, st2.Phase)
	assert.Equal(t, st1.Weights, st2.Weights)
	assert.Equal(t, cluster.AllStable, fake.weights)
	assert.Equal(t, 0, fake.deployments[canaryName].Rollout.Desired)
}

func TestConflictingOperation(t *testing.T) {
	fake := newFakeCluster("v1.0")
	fake.blockWait = make(chan struct{})
	c, _ := newTestController(fake, stubValidator{})

	started := make(chan struct{})
	finished := make(chan error)
	go func() {
		close(started)
		_, err := c.StartCanary(context.Background(), "v2.0", 20)
		finished <- err
	}()
	<-started
	// wait for the transition to take the lock
	for c.Status().Phase != PhaseCanaryDeploying {
		time.Sleep(time.Millisecond)
	}

	_, err := c.Promote(context.Background(), true)
	assert.Equal(t, ConflictingOperation, ErrorKind(err))
	assert.Equal(t, PhaseCanaryDeploying, c.Status().Phase)

	close(fake.blockWait)
	assert.NoError(t, <-finished)
}
