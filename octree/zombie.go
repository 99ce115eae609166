package octree

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
)

// KillSubtree kills every live chunk of the subtree. Killed chunks become
// zombies: they keep covering their region until a replacement completes.
func (t *Tree) KillSubtree(id NodeID) error {
	idx, err := t.resolve(id)
	if err != nil {
		return err
	}

	defer t.instrumentGauges()
	t.killSubtree(idx)
	return nil
}

// killSubtree stops at the first chunk holder of every branch. Nodes below a
// chunk holder never hold live chunks.
func (t *Tree) killSubtree(idx uint32) {
	if t.node(idx).chunk != 0 {
		t.killChunk(idx)
		return
	}

	for c := range t.children(idx) {
		t.killSubtree(c)
	}
}

// killChunk moves the live chunk of a node into its zombie slot. When a
// zombie is already held, the new chunk never completed and is destroyed
// right away, the older zombie being the one still covering the region.
func (t *Tree) killChunk(idx uint32) {
	n := t.node(idx)

	e := t.chunks.get(n.chunk)
	e.chunk.Kill()
	e.killed = true

	if n.zombie == 0 {
		n.zombie = n.chunk
	} else {
		t.destroyChunk(n.chunk)
	}
	n.chunk = 0
}

// ReapChunk reports that the live chunk of a node finished generating.
//
// A node still holding children merged into a leaf while its chunk was
// generated: the children are destroyed. Its own zombie is destroyed as well.
// Then every ancestor holding a zombie whose whole subtree is now complete
// gets its zombie destroyed, stopping at the first incomplete one.
func (t *Tree) ReapChunk(id NodeID) error {
	idx, err := t.resolve(id)
	if err != nil {
		return err
	}

	n := t.node(idx)
	if n.chunk == 0 || t.chunks.get(n.chunk).complete {
		return errors.New("node has no pending chunk").
			WithType(ErrTypeChunkNotPending).
			WithTag("node", id).
			WithTag("state", t.view(idx).State)
	}

	defer t.instrumentGauges()
	instrumentOperation(t.name, operationReap)

	t.chunks.get(n.chunk).complete = true

	if n.child != 0 {
		t.destroyRing(n.child)
		n.child = 0
	}
	if n.zombie != 0 {
		t.destroyChunk(n.zombie)
		n.zombie = 0
	}

	t.mergeAncestry(n.parent)
	return nil
}

// mergeAncestry destroys the zombies of the ancestors whose subtree became
// complete.
func (t *Tree) mergeAncestry(idx uint32) {
	for ; idx != 0; idx = t.node(idx).parent {
		n := t.node(idx)
		if n.zombie == 0 {
			continue
		}
		if !t.subtreeComplete(idx) {
			return
		}

		t.destroyChunk(n.zombie)
		n.zombie = 0
	}
}

// subtreeComplete reports whether every region below a branch is covered by
// a complete chunk.
func (t *Tree) subtreeComplete(idx uint32) bool {
	for c := range t.children(idx) {
		n := t.node(c)

		switch {
		case n.chunk != 0:
			if !t.chunks.get(n.chunk).complete {
				return false
			}

		case n.child != 0:
			if !t.subtreeComplete(c) {
				return false
			}

		default:
			return false
		}
	}
	return true
}

// DestroySubtree destroys every chunk of the subtree, the node own chunks
// included, and frees every descendant. The node is left as an empty leaf.
func (t *Tree) DestroySubtree(id NodeID) error {
	idx, err := t.resolve(id)
	if err != nil {
		return err
	}

	defer t.instrumentGauges()
	t.destroySubtree(idx)
	return nil
}

func (t *Tree) destroySubtree(idx uint32) {
	n := t.node(idx)

	if n.child != 0 {
		t.destroyRing(n.child)
		n.child = 0
	}
	if n.chunk != 0 {
		t.destroyChunk(n.chunk)
		n.chunk = 0
	}
	if n.zombie != 0 {
		t.destroyChunk(n.zombie)
		n.zombie = 0
	}
}

// destroyRing destroys and frees every node of a sibling ring.
func (t *Tree) destroyRing(first uint32) {
	for idx := range t.ring(first) {
		t.destroySubtree(idx)
		t.nodes.release(idx)
	}
}

func (t *Tree) destroyChunk(e uint32) {
	t.chunks.remove(e).Destroy()
	instrumentOperation(t.name, operationDestroy)
}
