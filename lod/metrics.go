package lod

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	worldLabel  = "world"
	actionLabel = "action"

	actionReap      = "reap"
	actionSubdivide = "subdivide"
	actionMerge     = "merge"
	actionRemap     = "remap"
)

var (
	passLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lod_pass_latency_seconds",
		Help:    "The time taken to re-evaluate a world around its viewer.",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
	}, []string{worldLabel})

	zombieChunks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lod_zombie_chunks",
		Help: "The number of killed chunks still covering their region after a pass.",
	}, []string{worldLabel})

	passActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lod_pass_actions",
		Help: "The number of chunks changed by world passes.",
	}, []string{
		worldLabel,
		actionLabel,
	})
)

func instrumentPass(world string, p Pass) {
	passLatency.
		With(prometheus.Labels{worldLabel: world}).
		Observe(p.Duration.Seconds())

	zombieChunks.
		With(prometheus.Labels{worldLabel: world}).
		Set(float64(p.Stats.Zombies))

	instrumentAction(world, actionReap, p.Reaped)
	instrumentAction(world, actionSubdivide, p.Subdivided)
	instrumentAction(world, actionMerge, p.Merged)
	instrumentAction(world, actionRemap, p.Remapped)
}

func instrumentAction(world, action string, count int) {
	if count == 0 {
		return
	}

	passActions.
		With(prometheus.Labels{
			worldLabel:  world,
			actionLabel: action,
		}).
		Add(float64(count))
}
