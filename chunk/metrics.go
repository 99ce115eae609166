package chunk

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	kindLabel = "kind"
)

var (
	queuedJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chunk_queued_jobs",
		Help: "The number of chunks waiting for a build worker.",
	})

	buildLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chunk_build_latency_seconds",
		Help:    "The time taken to generate a chunk.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{kindLabel})

	buildErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chunk_build_errors",
		Help: "The number of chunk generations that failed.",
	}, []string{kindLabel})

	skippedBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chunk_skipped_builds",
		Help: "The number of chunk generations skipped or discarded because the chunk was killed.",
	}, []string{kindLabel})
)

func instrumentQueuedJobs(delta int) {
	queuedJobs.Add(float64(delta))
}

func instrumentBuild(k Kind, latency time.Duration) {
	buildLatency.
		With(prometheus.Labels{kindLabel: k.String()}).
		Observe(latency.Seconds())
}

func instrumentBuildError(k Kind) {
	buildErrors.
		With(prometheus.Labels{kindLabel: k.String()}).
		Inc()
}

func instrumentSkippedBuild(k Kind) {
	skippedBuilds.
		With(prometheus.Labels{kindLabel: k.String()}).
		Inc()
}
