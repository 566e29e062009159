package traffic

import (
	"context"
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/canarymesh/canary/pkg/cluster"
	"github.com/canarymesh/canary/pkg/cluster/mock"
)

func TestValidateWeights(t *testing.T) {
	for _, tc := range []struct {
		weights cluster.Weights
		ok      bool
	}{
		{cluster.Weights{Stable: 100, Canary: 0}, true},
		{cluster.Weights{Stable: 0, Canary: 100}, true},
		{cluster.Weights{Stable: 80, Canary: 20}, true},
		{cluster.Weights{Stable: 60, Canary: 50}, false},
		{cluster.Weights{Stable: 50, Canary: 40}, false},
		{cluster.Weights{Stable: 110, Canary: -10}, false},
	} {
		err := ValidateWeights(tc.weights)
		if tc.ok {
			assert.NoError(t, err, "%v", tc.weights)
		} else {
			assert.Error(t, err, "%v", tc.weights)
		}
	}
}

func TestSetWeightsRejectsInvalid(t *testing.T) {
	patched := false
	m := NewManager(&mock.Mock{
		PatchTrafficRuleFunc: func(ctx context.Context, namespace, name string, w cluster.Weights) error {
			patched = true
			return nil
		},
	}, "default", "podinfo", log.NewNopLogger())

	err := m.SetWeights(context.Background(), cluster.Weights{Stable: 60, Canary: 50})
	assert.IsType(t, ErrInvalidWeights{}, err)
	assert.False(t, patched, "invalid split must never reach the cluster")
	_, ok := m.LastApplied()
	assert.False(t, ok)
}

func TestSetWeightsRoundTrip(t *testing.T) {
	var stored cluster.Weights
	m := NewManager(&mock.Mock{
		PatchTrafficRuleFunc: func(ctx context.Context, namespace, name string, w cluster.Weights) error {
			stored = w
			return nil
		},
		GetTrafficRuleFunc: func(ctx context.Context, namespace, name string) (cluster.Weights, error) {
			return stored, nil
		},
	}, "default", "podinfo", log.NewNopLogger())

	want := cluster.Weights{Stable: 70, Canary: 30}
	assert.NoError(t, m.SetWeights(context.Background(), want))

	got, err := m.GetWeights(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, want, got)

	last, ok := m.LastApplied()
	assert.True(t, ok)
	assert.Equal(t, want, last)
}

func TestGetWeightsDefaults(t *testing.T) {
	t.Run("missing rule", func(t *testing.T) {
		m := NewManager(&mock.Mock{
			GetTrafficRuleFunc: func(ctx context.Context, namespace, name string) (cluster.Weights, error) {
				return cluster.Weights{}, cluster.ErrNotFound{Namespace: namespace, Name: name, Kind: "virtualservice"}
			},
		}, "default", "podinfo", log.NewNopLogger())
		w, err := m.GetWeights(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, cluster.AllStable, w)
	})

	t.Run("structurally malformed rule", func(t *testing.T) {
		m := NewManager(&mock.Mock{
			GetTrafficRuleFunc: func(ctx context.Context, namespace, name string) (cluster.Weights, error) {
				return cluster.Weights{}, cluster.ErrMalformedRule{
					Namespace: namespace,
					Name:      name,
					Reason:    "virtualservice has no weighted (match-less) http route",
				}
			},
		}, "default", "podinfo", log.NewNopLogger())
		w, err := m.GetWeights(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, cluster.AllStable, w)
	})

	t.Run("malformed split", func(t *testing.T) {
		m := NewManager(&mock.Mock{
			GetTrafficRuleFunc: func(ctx context.Context, namespace, name string) (cluster.Weights, error) {
				return cluster.Weights{Stable: 55, Canary: 30}, nil
			},
		}, "default", "podinfo", log.NewNopLogger())
		w, err := m.GetWeights(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, cluster.AllStable, w)
	})

	t.Run("cluster error propagates", func(t *testing.T) {
		boom := errors.New("connection refused")
		m := NewManager(&mock.Mock{
			GetTrafficRuleFunc: func(ctx context.Context, namespace, name string) (cluster.Weights, error) {
				return cluster.Weights{}, cluster.ErrUnavailable{Err: boom}
			},
		}, "default", "podinfo", log.NewNopLogger())
		_, err := m.GetWeights(context.Background())
		assert.Error(t, err)
	})
}
