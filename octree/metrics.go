package octree

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	treeLabel      = "tree"
	operationLabel = "operation"
	errTypeLabel   = "error_type"

	operationSubdivide = "subdivide"
	operationMerge     = "merge"
	operationRelocate  = "relocate"
	operationReap      = "reap"
	operationDestroy   = "destroy"
	operationDefer     = "defer"
)

var (
	octreeOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "octree_operations",
		Help: "The number of structural operations applied to octrees.",
	}, []string{
		treeLabel,
		operationLabel,
	})

	octreeExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "octree_exhausted",
		Help: "The number of allocations that failed because an octree pool was full.",
	}, []string{
		treeLabel,
		errTypeLabel,
	})

	octreeNodes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "octree_nodes",
		Help: "The number of live octree nodes.",
	}, []string{treeLabel})

	octreeChunks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "octree_chunks",
		Help: "The number of registered octree chunks, zombies included.",
	}, []string{treeLabel})
)

func instrumentOperation(tree, operation string) {
	octreeOperations.
		With(prometheus.Labels{
			treeLabel:      tree,
			operationLabel: operation,
		}).
		Inc()
}

func instrumentExhausted(tree, errType string) {
	octreeExhausted.
		With(prometheus.Labels{
			treeLabel:    tree,
			errTypeLabel: errType,
		}).
		Inc()
}

// instrumentGauges publishes the pool usage of the tree. Several trees
// sharing a name report the last updated one.
func (t *Tree) instrumentGauges() {
	labels := prometheus.Labels{treeLabel: t.name}
	octreeNodes.With(labels).Set(float64(t.nodes.live))
	octreeChunks.With(labels).Set(float64(t.chunks.live))
}
