package traffic

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-kit/kit/log"

	"github.com/canarymesh/canary/pkg/cluster"
)

// ErrInvalidWeights reports a weight pair that is not a legal split.
type ErrInvalidWeights struct {
	Weights cluster.Weights
}

func (e ErrInvalidWeights) Error() string {
	return fmt.Sprintf("invalid weights (%d, %d): must be non-negative and sum to 100", e.Weights.Stable, e.Weights.Canary)
}

// ValidateWeights checks the split invariant: both weights
// non-negative, summing to exactly 100.
func ValidateWeights(w cluster.Weights) error {
	if w.Stable < 0 || w.Canary < 0 || w.Stable+w.Canary != 100 {
		return ErrInvalidWeights{Weights: w}
	}
	return nil
}

// Manager owns the stable/canary weight pair. It is the only writer
// of the external routing resource; everything else asks it. The
// header-override route ("force canary") is independent of the split
// and is never touched here.
type Manager struct {
	cluster   cluster.Cluster
	namespace string
	rule      string
	logger    log.Logger

	mu   sync.Mutex
	last *cluster.Weights // last successfully applied pair
}

func NewManager(c cluster.Cluster, namespace, rule string, logger log.Logger) *Manager {
	return &Manager{
		cluster:   c,
		namespace: namespace,
		rule:      rule,
		logger:    logger,
	}
}

// SetWeights validates and applies a split. On success the pair is
// remembered as the last applied.
func (m *Manager) SetWeights(ctx context.Context, w cluster.Weights) error {
	if err := ValidateWeights(w); err != nil {
		return err
	}
	if err := m.cluster.PatchTrafficRule(ctx, m.namespace, m.rule, w); err != nil {
		return err
	}
	m.mu.Lock()
	m.last = &w
	m.mu.Unlock()
	m.logger.Log("weights", "applied", "stable", w.Stable, "canary", w.Canary)
	return nil
}

// GetWeights returns the split currently in effect. A missing or
// malformed routing resource means "no explicit split configured",
// which is defined to be all traffic to stable, so those cases
// return (100, 0) rather than an error; only failure to reach the
// cluster is reported as one.
func (m *Manager) GetWeights(ctx context.Context) (cluster.Weights, error) {
	w, err := m.cluster.GetTrafficRule(ctx, m.namespace, m.rule)
	switch {
	case err == nil:
		if ValidateWeights(w) != nil {
			m.logger.Log("warning", "traffic rule holds a malformed split; assuming all-stable", "stable", w.Stable, "canary", w.Canary)
			return cluster.AllStable, nil
		}
		return w, nil
	case cluster.IsNotFound(err):
		return cluster.AllStable, nil
	case cluster.IsMalformedRule(err):
		m.logger.Log("warning", "traffic rule is malformed; assuming all-stable", "err", err)
		return cluster.AllStable, nil
	default:
		return cluster.Weights{}, err
	}
}

// LastApplied returns the last pair this manager successfully wrote,
// or false if it has not written one yet.
func (m *Manager) LastApplied() (cluster.Weights, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return cluster.Weights{}, false
	}
	return *m.last, true
}
