package daemon

import (
	"context"

	"github.com/go-kit/kit/log"

	"github.com/canarymesh/canary/pkg/api"
	"github.com/canarymesh/canary/pkg/cluster"
	"github.com/canarymesh/canary/pkg/event"
	"github.com/canarymesh/canary/pkg/release"
)

// Daemon exposes one release controller as an api.Server. It is the
// glue between the HTTP surface and the state machine; all policy
// lives in pkg/release.
type Daemon struct {
	Controller *release.Controller
	Cluster    cluster.Cluster
	// EventLog is the queryable sink; the controller writes through
	// its own (best-effort) writer, which should include this one.
	EventLog *event.RingWriter
	V        string
	Logger   log.Logger
}

var _ api.Server = &Daemon{}

func (d *Daemon) Ping(ctx context.Context) error {
	return d.Cluster.Ping(ctx)
}

func (d *Daemon) Version(ctx context.Context) (string, error) {
	return d.V, nil
}

// checkNamespace guards against a CLI pointed at the wrong daemon: a
// request naming some other namespace than the one this daemon
// manages is refused, while an empty namespace means "whatever you
// manage".
func (d *Daemon) checkNamespace(namespace string) error {
	if namespace == "" || namespace == d.Controller.Status().Namespace {
		return nil
	}
	return cluster.ErrNotFound{
		Namespace: namespace,
		Name:      "",
		Kind:      "release",
	}
}

func (d *Daemon) Status(ctx context.Context, namespace string) (release.State, error) {
	if err := d.checkNamespace(namespace); err != nil {
		return release.State{}, err
	}
	return d.Controller.Status(), nil
}

func (d *Daemon) Events(ctx context.Context, namespace string, n int) ([]event.Event, error) {
	if err := d.checkNamespace(namespace); err != nil {
		return nil, err
	}
	return d.EventLog.Events(n), nil
}

func (d *Daemon) StartCanary(ctx context.Context, spec api.StartCanarySpec) (release.State, error) {
	if err := d.checkNamespace(spec.Namespace); err != nil {
		return d.Controller.Status(), err
	}
	d.Logger.Log("transition", "start-canary", "version", spec.Version, "weight", spec.Weight, "user", spec.Cause.User)
	return d.Controller.StartCanary(ctx, spec.Version, spec.Weight)
}

func (d *Daemon) Validate(ctx context.Context, spec api.ValidateSpec) (api.ValidateResult, error) {
	if err := d.checkNamespace(spec.Namespace); err != nil {
		return api.ValidateResult{State: d.Controller.Status()}, err
	}
	d.Logger.Log("transition", "validate", "samples", spec.Samples, "minRatio", spec.MinRatio, "user", spec.Cause.User)
	state, result, err := d.Controller.Validate(ctx, spec.Samples, spec.MinRatio)
	return api.ValidateResult{State: state, Probe: result}, err
}

func (d *Daemon) Promote(ctx context.Context, spec api.PromoteSpec) (release.State, error) {
	if err := d.checkNamespace(spec.Namespace); err != nil {
		return d.Controller.Status(), err
	}
	d.Logger.Log("transition", "promote", "force", spec.Force, "user", spec.Cause.User)
	return d.Controller.Promote(ctx, spec.Force)
}

func (d *Daemon) Rollback(ctx context.Context, spec api.RollbackSpec) (release.State, error) {
	if err := d.checkNamespace(spec.Namespace); err != nil {
		return d.Controller.Status(), err
	}
	d.Logger.Log("transition", "rollback", "reason", spec.Reason, "user", spec.Cause.User)
	return d.Controller.Rollback(ctx, spec.Reason)
}
