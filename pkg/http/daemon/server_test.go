package daemon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/canarymesh/canary/pkg/api"
	"github.com/canarymesh/canary/pkg/cluster"
	"github.com/canarymesh/canary/pkg/event"
	transport "github.com/canarymesh/canary/pkg/http"
	"github.com/canarymesh/canary/pkg/http/client"
	"github.com/canarymesh/canary/pkg/probe"
	"github.com/canarymesh/canary/pkg/release"
)

// fakeServer implements api.Server with canned responses.
type fakeServer struct {
	state  release.State
	events []event.Event
	err    error

	lastStart    *api.StartCanarySpec
	lastValidate *api.ValidateSpec
	lastPromote  *api.PromoteSpec
	lastRollback *api.RollbackSpec
}

func (s *fakeServer) Ping(ctx context.Context) error              { return s.err }
func (s *fakeServer) Version(ctx context.Context) (string, error) { return "test-version", s.err }

func (s *fakeServer) Status(ctx context.Context, namespace string) (release.State, error) {
	return s.state, s.err
}

func (s *fakeServer) Events(ctx context.Context, namespace string, n int) ([]event.Event, error) {
	return s.events, s.err
}

func (s *fakeServer) StartCanary(ctx context.Context, spec api.StartCanarySpec) (release.State, error) {
	s.lastStart = &spec
	return s.state, s.err
}

func (s *fakeServer) Validate(ctx context.Context, spec api.ValidateSpec) (api.ValidateResult, error) {
	s.lastValidate = &spec
	return api.ValidateResult{State: s.state, Probe: probe.BatchResult{Samples: spec.Samples, Successes: spec.Samples, Pass: true}}, s.err
}

func (s *fakeServer) Promote(ctx context.Context, spec api.PromoteSpec) (release.State, error) {
	s.lastPromote = &spec
	return s.state, s.err
}

func (s *fakeServer) Rollback(ctx context.Context, spec api.RollbackSpec) (release.State, error) {
	s.lastRollback = &spec
	return s.state, s.err
}

func newTestAPI(t *testing.T, srv *fakeServer) (*client.Client, func()) {
	ts := httptest.NewServer(NewHandler(srv, NewRouter()))
	c := client.New(http.DefaultClient, transport.NewAPIRouter(), ts.URL)
	return c, ts.Close
}

func TestRoundTrip(t *testing.T) {
	srv := &fakeServer{
		state: release.State{
			Namespace:     "default",
			Phase:         release.PhaseCanaryActive,
			StableVersion: "v1.0",
			CanaryVersion: "v2.0",
			Weights:       cluster.Weights{Stable: 80, Canary: 20},
			UpdatedAt:     time.Now().UTC(),
		},
		events: []event.Event{
			{
				ID:        1,
				Type:      event.EventStartCanary,
				Namespace: "default",
				LogLevel:  event.LogLevelInfo,
				Metadata:  &event.TransitionEventMetadata{Version: "v2.0", Weight: 20, Outcome: event.OutcomeSucceeded},
			},
		},
	}
	c, done := newTestAPI(t, srv)
	defer done()

	ctx := context.Background()

	assert.NoError(t, c.Ping(ctx))

	v, err := c.Version(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "test-version", v)

	st, err := c.Status(ctx, "default")
	assert.NoError(t, err)
	assert.Equal(t, srv.state.Phase, st.Phase)
	assert.Equal(t, srv.state.Weights, st.Weights)

	evs, err := c.Events(ctx, "default", 10)
	assert.NoError(t, err)
	if assert.Len(t, evs, 1) {
		md, ok := evs[0].Metadata.(*event.TransitionEventMetadata)
		if assert.True(t, ok, "metadata type survives the wire") {
			assert.Equal(t, "v2.0", md.Version)
		}
	}

	st, err = c.StartCanary(ctx, api.StartCanarySpec{Namespace: "default", Version: "v2.0", Weight: 20})
	assert.NoError(t, err)
	assert.Equal(t, release.PhaseCanaryActive, st.Phase)
	assert.Equal(t, 20, srv.lastStart.Weight)

	res, err := c.Validate(ctx, api.ValidateSpec{Namespace: "default", Samples: 10, MinRatio: 0.9})
	assert.NoError(t, err)
	assert.True(t, res.Probe.Pass)
	assert.Equal(t, 0.9, srv.lastValidate.MinRatio)

	_, err = c.Promote(ctx, api.PromoteSpec{Namespace: "default", Force: true})
	assert.NoError(t, err)
	assert.True(t, srv.lastPromote.Force)

	_, err = c.Rollback(ctx, api.RollbackSpec{Namespace: "default", Reason: "nope"})
	assert.NoError(t, err)
	assert.Equal(t, "nope", srv.lastRollback.Reason)
}

func TestErrorsSurviveTheWire(t *testing.T) {
	srv := &fakeServer{err: &release.Error{
		Kind:        release.ConflictingOperation,
		Phase:       release.PhaseValidating,
		LastApplied: "none",
	}}
	c, done := newTestAPI(t, srv)
	defer done()

	_, err := c.Promote(context.Background(), api.PromoteSpec{})
	assert.Equal(t, release.ConflictingOperation, release.ErrorKind(err))
	if relErr, ok := err.(*release.Error); assert.True(t, ok) {
		assert.Equal(t, release.PhaseValidating, relErr.Phase)
		assert.Equal(t, "none", relErr.LastApplied)
	}
}

func TestErrorStatusCodes(t *testing.T) {
	for _, tc := range []struct {
		kind release.Kind
		code int
	}{
		{release.InvalidWeight, http.StatusBadRequest},
		{release.InvalidPhaseTransition, http.StatusBadRequest},
		{release.ConflictingOperation, http.StatusConflict},
		{release.ValidationFailed, http.StatusUnprocessableEntity},
		{release.ClusterUnavailable, http.StatusBadGateway},
		{release.RolloutTimeout, http.StatusBadGateway},
		{release.Cancelled, http.StatusServiceUnavailable},
	} {
		srv := &fakeServer{err: &release.Error{Kind: tc.kind}}
		ts := httptest.NewServer(NewHandler(srv, NewRouter()))

		resp, err := http.Get(ts.URL + "/v1/status")
		assert.NoError(t, err)
		assert.Equal(t, tc.code, resp.StatusCode, "kind %s", tc.kind)
		resp.Body.Close()
		ts.Close()
	}
}

func TestUnknownPathIs404(t *testing.T) {
	ts := httptest.NewServer(NewHandler(&fakeServer{}, NewRouter()))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/nope")
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
