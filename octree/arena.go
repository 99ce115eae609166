package octree

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
)

type slot struct {
	node node
	gen  uint32
	live bool

	// Next free slot when the slot is on the free list.
	next uint32
}

// arena is a fixed capacity pool of nodes addressed by index. Slot 0 is
// reserved: its next field is the head of the free list.
type arena struct {
	slots  []slot
	unused uint32
	live   int
	free   int
}

func newArena(capacity int) arena {
	return arena{
		slots:  make([]slot, capacity+1),
		unused: 1,
	}
}

func (a *arena) capacity() int {
	return len(a.slots) - 1
}

// allocate stores n in a free slot and returns its index. Recycled slots are
// used first, then never used ones.
func (a *arena) allocate(n node) (uint32, error) {
	idx := a.slots[0].next
	switch {
	case idx != 0:
		a.slots[0].next = a.slots[idx].next
		a.free--

	case int(a.unused) < len(a.slots):
		idx = a.unused
		a.unused++

	default:
		return 0, errors.New("node arena exhausted").
			WithType(ErrTypeArenaExhausted).
			WithTag("capacity", a.capacity())
	}

	s := &a.slots[idx]
	s.node = n
	s.gen++
	s.live = true
	s.next = 0
	a.live++
	return idx, nil
}

// release pushes the slot back on the free list. The payload is left as is.
func (a *arena) release(idx uint32) {
	s := &a.slots[idx]
	if idx == 0 || !s.live {
		panic(errors.New("node released twice").
			WithType(ErrTypeDoubleFree).
			WithTag("index", idx))
	}

	s.live = false
	s.next = a.slots[0].next
	a.slots[0].next = idx
	a.live--
	a.free++
}

// get returns the payload of a slot. Slots are never reallocated so the
// pointer stays valid for the arena lifetime.
func (a *arena) get(idx uint32) *node {
	return &a.slots[idx].node
}

func (a *arena) id(idx uint32) NodeID {
	if idx == 0 {
		return NodeID{}
	}
	return NodeID{index: idx, gen: a.slots[idx].gen}
}

// renew invalidates every outstanding id to the slot.
func (a *arena) renew(idx uint32) NodeID {
	a.slots[idx].gen++
	return a.id(idx)
}

// resolve returns the index of a live node, failing on stale ids.
func (a *arena) resolve(id NodeID) (uint32, error) {
	if id.index == 0 || int(id.index) >= len(a.slots) {
		return 0, errors.New("unknown node").
			WithType(ErrTypeStaleNode).
			WithTag("node", id)
	}

	s := &a.slots[id.index]
	if !s.live || s.gen != id.gen {
		return 0, errors.New("stale node").
			WithType(ErrTypeStaleNode).
			WithTag("node", id).
			WithTag("live", s.live).
			WithTag("generation", s.gen)
	}
	return id.index, nil
}

// available returns the number of nodes that can still be allocated.
func (a *arena) available() int {
	return a.capacity() - a.live
}

// unusedCount returns the number of slots never handed out.
func (a *arena) unusedCount() int {
	return len(a.slots) - int(a.unused)
}

// freeListLen walks the free list. Used to check conservation in tests.
func (a *arena) freeListLen() int {
	n := 0
	for idx := a.slots[0].next; idx != 0; idx = a.slots[idx].next {
		n++
		if n > a.capacity() {
			panic(errors.New("free list cycle").WithType(ErrTypeCorruptedRing))
		}
	}
	return n
}
