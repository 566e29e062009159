package mock

import (
	"context"
	"time"

	"github.com/canarymesh/canary/pkg/cluster"
)

// Mock implements cluster.Cluster with function fields, so tests can
// plug in exactly the behaviour they need.
type Mock struct {
	GetDeploymentFunc    func(ctx context.Context, namespace, name string) (cluster.Deployment, error)
	PatchDeploymentFunc  func(ctx context.Context, namespace, name string, spec cluster.DeploymentPatch) error
	ScaleDeploymentFunc  func(ctx context.Context, namespace, name string, replicas int) error
	GetTrafficRuleFunc   func(ctx context.Context, namespace, name string) (cluster.Weights, error)
	PatchTrafficRuleFunc func(ctx context.Context, namespace, name string, weights cluster.Weights) error
	WaitForRolloutFunc   func(ctx context.Context, namespace, name string, timeout time.Duration) error
	PingFunc             func(ctx context.Context) error
}

var _ cluster.Cluster = &Mock{}

func (m *Mock) GetDeployment(ctx context.Context, namespace, name string) (cluster.Deployment, error) {
	return m.GetDeploymentFunc(ctx, namespace, name)
}

func (m *Mock) PatchDeployment(ctx context.Context, namespace, name string, spec cluster.DeploymentPatch) error {
	return m.PatchDeploymentFunc(ctx, namespace, name, spec)
}

func (m *Mock) ScaleDeployment(ctx context.Context, namespace, name string, replicas int) error {
	return m.ScaleDeploymentFunc(ctx, namespace, name, replicas)
}

func (m *Mock) GetTrafficRule(ctx context.Context, namespace, name string) (cluster.Weights, error) {
	return m.GetTrafficRuleFunc(ctx, namespace, name)
}

func (m *Mock) PatchTrafficRule(ctx context.Context, namespace, name string, weights cluster.Weights) error {
	return m.PatchTrafficRuleFunc(ctx, namespace, name, weights)
}

func (m *Mock) WaitForRollout(ctx context.Context, namespace, name string, timeout time.Duration) error {
	return m.WaitForRolloutFunc(ctx, namespace, name, timeout)
}

func (m *Mock) Ping(ctx context.Context) error {
	return m.PingFunc(ctx)
}
