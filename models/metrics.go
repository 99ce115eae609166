package models

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	viewerCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "viewer_count",
		Help: "The number of connected viewers.",
	})

	viewerCountTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "viewer_count_total",
		Help: "The total number of viewers.",
	})
)

func instrumentIncreaseViewerGauge() {
	viewerCount.Inc()
}

func instrumentDecreaseViewerGauge() {
	viewerCount.Dec()
}

func instrumentCountViewer() {
	viewerCountTotal.Inc()
}
