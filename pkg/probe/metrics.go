package probe

import (
	"strconv"
	"time"

	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	canarymetrics "github.com/canarymesh/canary/pkg/metrics"
)

var (
	// Probes against an in-mesh gateway are expected to be fast;
	// anything past a couple of seconds is usually the mesh retrying.
	probeDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "canary",
		Subsystem: "probe",
		Name:      "duration_seconds",
		Help:      "Duration of individual probe requests, in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{canarymetrics.LabelSuccess})

	batchSamples = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: "canary",
		Subsystem: "probe",
		Name:      "samples_total",
		Help:      "Count of probe samples taken during validation batches.",
	}, []string{canarymetrics.LabelSuccess})
)

func observeProbe(start time.Time, success bool) {
	probeDuration.With(canarymetrics.LabelSuccess, strconv.FormatBool(success)).Observe(time.Since(start).Seconds())
	batchSamples.With(canarymetrics.LabelSuccess, strconv.FormatBool(success)).Add(1)
}
