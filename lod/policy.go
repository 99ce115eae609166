package lod

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/lodtree/models"
	"github.com/aukilabs/lodtree/octree"
)

// Builder creates chunks and reports the ones that finished generating.
type Builder interface {
	// Creates the chunk of a node. Detail chunks are the authoritative ones
	// at the minimum size, the others only approximate their region.
	Build(id octree.NodeID, n octree.Node, detail bool) octree.Chunk

	// Calls fn for every chunk that finished generating since the last
	// call. Must be called from the goroutine that mutates the tree.
	Drain(fn func(octree.NodeID, octree.Chunk)) int
}

// Policy balances a tree around a viewer: a node may keep its size while its
// distance to the viewer is at least its size, scaled down by the balance
// factor, plus the minimum radius. A policy value is only valid for the pass
// it was created for.
type Policy struct {
	Config  Config
	Viewer  models.Vec3i
	Builder Builder
}

func (p Policy) IsBalanced(n octree.Node) bool {
	return n.Box().Distance(p.Viewer) >= p.threshold(n.Size)
}

func (p Policy) threshold(size int64) int64 {
	return size>>(p.Config.BalanceFactor-1) + p.Config.MinRadius
}

func (p Policy) CreateChunk(id octree.NodeID, n octree.Node) octree.Chunk {
	return p.Builder.Build(id, n, n.Size == p.Config.MinChunkSize)
}

// RootOrigin returns where a root slot lies around center.
//
// The roots tile a window of RootDim tiles per axis, chosen so that center
// is as close as possible to the window center. Each slot owns the tiles
// whose index is congruent to the slot coordinates modulo RootDim, so two
// slots never overlap and a window shift only moves the slot that falls out
// of it, by a whole window.
func (p Policy) RootOrigin(slot int, center models.Vec3i) models.Vec3i {
	d := int64(p.Config.RootDim())
	s := p.Config.MaxChunkSize()

	r := models.Vec3i{
		X: int64(slot) % d,
		Y: int64(slot) / d % d,
		Z: int64(slot) / (d * d),
	}

	base := windowBase(center, d, s)
	tile := base.Add(r.Sub(base).FloorMod(d))
	return tile.Mul(s)
}

// windowBase returns the index of the lowest tile of the window of d tiles
// per axis of edge s centered on c.
func windowBase(c models.Vec3i, d, s int64) models.Vec3i {
	offset := (d - 1) * s
	return models.Vec3i{
		X: models.FloorDiv(2*c.X-offset, 2*s),
		Y: models.FloorDiv(2*c.Y-offset, 2*s),
		Z: models.FloorDiv(2*c.Z-offset, 2*s),
	}
}

// RemapRoot moves the root to the position its slot has around the viewer,
// rebuilding it there. It reports whether the root was already in place.
func (p Policy) RemapRoot(t *octree.Tree, id octree.NodeID) (bool, error) {
	n, err := t.Node(id)
	if err != nil {
		return false, err
	}

	slot, ok := t.RootSlot(id)
	if !ok {
		return false, errors.New("node is not a root").
			WithType(octree.ErrTypeNotRoot).
			WithTag("node", id)
	}

	origin := p.RootOrigin(slot, p.Viewer)
	if origin == n.Origin {
		return true, nil
	}

	if _, err := t.RelocateRoot(p, id, origin); err != nil {
		return false, err
	}
	return false, nil
}
