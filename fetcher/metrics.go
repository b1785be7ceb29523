package fetcher

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// lastFetchTimestamp is a Gauge that captures the timestamp of the last
	// successful git fetch
	lastFetchTimestamp *prometheus.GaugeVec
	// fetchCount is a Counter vector of git fetches
	fetchCount *prometheus.CounterVec
	// fetchLatency is a Histogram vector that keeps track of git fetch durations
	fetchLatency *prometheus.HistogramVec
)

// EnableMetrics will enable metrics collection for git fetches.
// Available metrics are...
//   - git_last_fetch_timestamp - (tags: repo)
//     A Gauge that captures the Timestamp of the last successful git fetch per repo.
//   - git_fetch_count - (tags: repo,success)
//     A Counter for each repo fetch, incremented with each attempt and tagged with the result (success=true|false)
//   - git_fetch_latency_seconds - (tags: repo)
//     A Histogram that keeps track of the git fetch latency per repo.
func EnableMetrics(metricsNamespace string, registerer prometheus.Registerer) {
	lastFetchTimestamp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "git_last_fetch_timestamp",
		Help:      "Timestamp of the last successful git fetch",
	},
		[]string{
			// name of the repository
			"repo",
		},
	)

	fetchCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "git_fetch_count",
		Help:      "Count of git fetch operations",
	},
		[]string{
			// name of the repository
			"repo",
			// Whether the fetch was successful or not
			"success",
		},
	)

	fetchLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "git_fetch_latency_seconds",
		Help:      "Latency for git repo fetch",
		Buckets:   []float64{0.5, 1, 5, 10, 20, 30, 60, 90, 120, 150, 300},
	},
		[]string{
			// name of the repository
			"repo",
		},
	)

	registerer.MustRegister(
		lastFetchTimestamp,
		fetchCount,
		fetchLatency,
	)
}

// recordGitFetch records a repository fetch attempt by updating all the
// relevant metrics
func recordGitFetch(repo string, success bool, start time.Time) {
	// if metrics not enabled return
	if lastFetchTimestamp == nil || fetchCount == nil || fetchLatency == nil {
		return
	}
	if success {
		lastFetchTimestamp.With(prometheus.Labels{
			"repo": repo,
		}).Set(float64(time.Now().Unix()))
	}
	fetchCount.With(prometheus.Labels{
		"repo":    repo,
		"success": strconv.FormatBool(success),
	}).Inc()
	fetchLatency.WithLabelValues(repo).Observe(time.Since(start).Seconds())
}
