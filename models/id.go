package models

import (
	"slices"
	"sync"
)

// IDGenerator hands out small sequential ids and recycles released ones,
// lowest first, so viewer ids stay compact in logs and metrics.
type IDGenerator struct {
	mutex    sync.Mutex
	last     uint32
	released []uint32
}

// New returns an unused id. Ids start at 1.
func (g *IDGenerator) New() uint32 {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if n := len(g.released); n != 0 {
		id := g.released[0]
		g.released = g.released[1:]
		return id
	}

	g.last++
	return g.last
}

// Reuse releases the given id. Released ids are returned in priority by New.
func (g *IDGenerator) Reuse(id uint32) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	i, found := slices.BinarySearch(g.released, id)
	if found || id == 0 || id > g.last {
		return
	}
	g.released = slices.Insert(g.released, i, id)
}
