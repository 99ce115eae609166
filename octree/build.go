package octree

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/lodtree/models"
)

// BuildTree shapes the subtree of a node: the node becomes a leaf with a new
// chunk when it is at the minimum size or balanced, otherwise it is split and
// every child is built in turn. Live chunks already in the subtree are killed
// first. A node that can't be split for lack of free nodes gets a chunk of
// its own instead, so every leaf of the subtree ends up holding a chunk.
func (t *Tree) BuildTree(p Policy, id NodeID) error {
	idx, err := t.resolve(id)
	if err != nil {
		return err
	}

	defer t.instrumentGauges()
	t.killSubtree(idx)
	return t.buildTree(p, idx)
}

func (t *Tree) buildTree(p Policy, idx uint32) error {
	n := t.node(idx)

	if n.depth == 0 || p.IsBalanced(t.view(idx)) {
		if n.chunk != 0 {
			return nil
		}
		return t.createChunk(p, idx)
	}

	// A killed child ring is reused so its zombies keep covering the region
	// they were generated for.
	if n.child == 0 {
		// Without room for a ring the node stays coarser than balanced. It
		// is subdivided on a later pass, once reaping freed killed rings.
		if t.nodes.available() < ringSize {
			t.deferred++
			instrumentOperation(t.name, operationDefer)
			if n.chunk != 0 {
				return nil
			}
			return t.createChunk(p, idx)
		}

		if err := t.split(idx); err != nil {
			return err
		}
	}

	for c := range t.children(idx) {
		if err := t.buildTree(p, c); err != nil {
			return err
		}
	}
	return nil
}

// The number of nodes allocated by a split.
const ringSize = 8

// split allocates the children of a node and links them in a ring.
func (t *Tree) split(idx uint32) error {
	n := t.node(idx)
	half := t.size(n) / 2

	var ring [ringSize]uint32
	for i := range ring {
		offset := models.Vec3i{
			X: int64(i & 1),
			Y: int64(i >> 1 & 1),
			Z: int64(i >> 2 & 1),
		}

		c, err := t.nodes.allocate(node{
			origin: n.origin.Add(offset.Mul(half)),
			depth:  n.depth - 1,
			parent: idx,
		})
		if err != nil {
			for _, c := range ring[:i] {
				t.nodes.release(c)
			}
			instrumentExhausted(t.name, ErrTypeArenaExhausted)
			return err
		}

		ring[i] = c
		if i != 0 {
			t.node(ring[i-1]).sibling = c
		}
	}

	t.node(ring[len(ring)-1]).sibling = ring[0]
	n.child = ring[0]
	return nil
}

func (t *Tree) createChunk(p Policy, idx uint32) error {
	c := p.CreateChunk(t.nodes.id(idx), t.view(idx))

	e, err := t.chunks.insert(c, idx)
	if err != nil {
		c.Destroy()
		instrumentExhausted(t.name, ErrTypeRegistryExhausted)
		return err
	}

	t.node(idx).chunk = e
	return nil
}

// SubdivideChunk splits the leaf holding an unbalanced chunk. Its old chunk
// is killed and keeps covering the region until the new children complete.
// It returns whether the tree changed.
//
// Subdividing never exhausts the node arena: it is deferred when not even one
// ring fits, and descendants that don't fit become coarse leaves.
func (t *Tree) SubdivideChunk(p Policy, id NodeID) (bool, error) {
	idx, err := t.resolve(id)
	if err != nil {
		return false, err
	}

	n := t.node(idx)
	if n.chunk == 0 || n.depth == 0 || p.IsBalanced(t.view(idx)) {
		return false, nil
	}

	// Nothing is killed unless the first level fits. The node keeps its
	// chunk and is offered again on a later pass.
	if n.child == 0 && t.nodes.available() < ringSize {
		t.deferred++
		instrumentOperation(t.name, operationDefer)
		return false, nil
	}

	defer t.instrumentGauges()
	instrumentOperation(t.name, operationSubdivide)

	t.killSubtree(idx)
	return true, t.buildTree(p, idx)
}

// MergeSiblings collapses the ring of a chunk holder into its parent when the
// parent is balanced. The merge climbs as long as ancestors are balanced so
// that a single call collapses every level that can be. A root is offered to
// the policy RemapRoot instead. It returns whether the tree changed.
func (t *Tree) MergeSiblings(p Policy, id NodeID) (bool, error) {
	idx, err := t.resolve(id)
	if err != nil {
		return false, err
	}

	n := t.node(idx)
	if n.chunk == 0 {
		return false, nil
	}

	if n.parent == 0 {
		kept, err := t.remapRoot(p, idx)
		return !kept, err
	}

	if !p.IsBalanced(t.view(n.parent)) {
		return false, nil
	}

	defer t.instrumentGauges()
	instrumentOperation(t.name, operationMerge)
	return true, t.mergeInto(p, n.parent)
}

// mergeInto turns a balanced branch, or its highest balanced ancestor, into a
// leaf. The killed children stay attached until the new chunk completes.
func (t *Tree) mergeInto(p Policy, idx uint32) error {
	for {
		parent := t.node(idx).parent
		if parent == 0 || !p.IsBalanced(t.view(parent)) {
			break
		}
		idx = parent
	}

	for c := range t.children(idx) {
		t.killSubtree(c)
	}
	return t.createChunk(p, idx)
}

// RemapRoot asks the policy whether a root must move. It returns whether the
// root was kept in place.
func (t *Tree) RemapRoot(p Policy, id NodeID) (bool, error) {
	idx, err := t.resolve(id)
	if err != nil {
		return false, err
	}
	return t.remapRoot(p, idx)
}

func (t *Tree) remapRoot(p Policy, idx uint32) (bool, error) {
	if t.node(idx).parent != 0 {
		return false, errors.New("node is not a root").
			WithType(ErrTypeNotRoot).
			WithTag("node", t.nodes.id(idx))
	}
	return p.RemapRoot(t, t.nodes.id(idx))
}

// RelocateRoot destroys the whole content of a root, moves it to origin and
// builds it again. Ids previously handed out for the root become stale. The
// new root id is returned.
func (t *Tree) RelocateRoot(p Policy, id NodeID, origin models.Vec3i) (NodeID, error) {
	idx, err := t.resolve(id)
	if err != nil {
		return NodeID{}, err
	}

	n := t.node(idx)
	if n.parent != 0 {
		return NodeID{}, errors.New("node is not a root").
			WithType(ErrTypeNotRoot).
			WithTag("node", id)
	}

	defer t.instrumentGauges()
	instrumentOperation(t.name, operationRelocate)

	logs.WithTag("tree", t.name).
		WithTag("node", id).
		WithTag("from", n.origin).
		WithTag("to", origin).
		Debug("relocating root")

	t.destroySubtree(idx)
	n.origin = origin
	newID := t.nodes.renew(idx)
	return newID, t.buildTree(p, idx)
}
