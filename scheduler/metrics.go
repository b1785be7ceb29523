package scheduler

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	cycleCount         *prometheus.CounterVec
	cycleLatency       prometheus.Histogram
	lastCycleTimestamp prometheus.Gauge
	cycleRepoCount     *prometheus.GaugeVec
)

// EnableMetrics will enable metrics collection for fetch cycles.
// Available metrics are...
//   - git_autofetch_cycle_count - (tags: success)
//     A Counter incremented with each cycle run and tagged with the result.
//   - git_autofetch_cycle_latency_seconds
//     A Histogram of the duration of complete cycles.
//   - git_autofetch_last_cycle_timestamp
//     A Gauge with the timestamp of the last cycle which didn't return an error.
//   - git_autofetch_cycle_repositories - (tags: result)
//     A Gauge with the number of selected, succeeded and failed repositories of the last cycle.
func EnableMetrics(metricsNamespace string, registerer prometheus.Registerer) {
	cycleCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "git_autofetch_cycle_count",
		Help:      "Count of auto fetch cycles",
	}, []string{"success"})

	cycleLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "git_autofetch_cycle_latency_seconds",
		Help:      "Duration of auto fetch cycles",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800},
	})

	lastCycleTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "git_autofetch_last_cycle_timestamp",
		Help:      "Timestamp of the last auto fetch cycle completed without error",
	})

	cycleRepoCount = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "git_autofetch_cycle_repositories",
		Help:      "Number of repositories processed by the last auto fetch cycle",
	}, []string{"result"})

	registerer.MustRegister(
		cycleCount,
		cycleLatency,
		lastCycleTimestamp,
		cycleRepoCount,
	)
}

func recordCycle(sum Summary, success bool, start time.Time) {
	// if metrics not enabled return
	if cycleCount == nil || cycleLatency == nil || lastCycleTimestamp == nil || cycleRepoCount == nil {
		return
	}
	cycleCount.WithLabelValues(strconv.FormatBool(success)).Inc()
	cycleLatency.Observe(time.Since(start).Seconds())
	if success {
		lastCycleTimestamp.SetToCurrentTime()
	}
	cycleRepoCount.WithLabelValues("selected").Set(float64(sum.Selected))
	cycleRepoCount.WithLabelValues("succeeded").Set(float64(sum.Succeeded))
	cycleRepoCount.WithLabelValues("failed").Set(float64(sum.Failed))
}
