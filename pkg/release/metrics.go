package release

import (
	"strconv"
	"time"

	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	canarymetrics "github.com/canarymesh/canary/pkg/metrics"
)

var (
	// Most transitions spend their time waiting for a rollout, so
	// the buckets go well past a minute.
	transitionDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "canary",
		Subsystem: "release",
		Name:      "transition_duration_seconds",
		Help:      "Duration of release transitions, in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{canarymetrics.LabelTransition, canarymetrics.LabelSuccess})

	phaseGauge = prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
		Namespace: "canary",
		Subsystem: "release",
		Name:      "phase",
		Help:      "Current release phase; 1 for the active phase, 0 otherwise.",
	}, []string{canarymetrics.LabelPhase})
)

var allPhases = []Phase{
	PhaseIdle, PhaseCanaryDeploying, PhaseCanaryActive,
	PhaseValidating, PhasePromoting, PhaseRollingBack, PhaseFailed,
}

// observe records transition duration and re-exports the phase
// gauge. Used via defer, so it dereferences the error after the
// transition has assigned it.
func (c *Controller) observe(t Transition, start time.Time, err *error) {
	transitionDuration.
		With(canarymetrics.LabelTransition, string(t), canarymetrics.LabelSuccess, strconv.FormatBool(*err == nil)).
		Observe(time.Since(start).Seconds())
	current := c.Status().Phase
	for _, p := range allPhases {
		var v float64
		if p == current {
			v = 1
		}
		phaseGauge.With(canarymetrics.LabelPhase, string(p)).Set(v)
	}
}
