package octree

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
)

// Chunk is the resource generated for a region of space.
type Chunk interface {
	// Reports whether the chunk still wants per frame attention. Killed and
	// destroyed chunks are not active.
	Active() bool

	// Stops the chunk from accepting updates. The chunk keeps its resources
	// and keeps covering its region until destroyed.
	Kill()

	// Releases the chunk resources. Called exactly once by the tree.
	Destroy()
}

type entry struct {
	chunk    Chunk
	node     uint32
	complete bool
	killed   bool
	live     bool

	prev uint32
	next uint32
}

// registry is a fixed capacity circular doubly linked list of chunks backed
// by a slice. Entry 0 is the list sentinel. Free entries are chained through
// their next field starting at freeHead.
type registry struct {
	entries  []entry
	freeHead uint32
	unused   uint32
	live     int
}

func newRegistry(capacity int) registry {
	return registry{
		entries: make([]entry, capacity+1),
		unused:  1,
	}
}

func (r *registry) capacity() int {
	return len(r.entries) - 1
}

// insert links the chunk at the tail of the list.
func (r *registry) insert(c Chunk, nodeIdx uint32) (uint32, error) {
	idx := r.freeHead
	switch {
	case idx != 0:
		r.freeHead = r.entries[idx].next

	case int(r.unused) < len(r.entries):
		idx = r.unused
		r.unused++

	default:
		return 0, errors.New("chunk registry exhausted").
			WithType(ErrTypeRegistryExhausted).
			WithTag("capacity", r.capacity())
	}

	sentinel := &r.entries[0]
	tail := sentinel.prev

	r.entries[idx] = entry{
		chunk: c,
		node:  nodeIdx,
		live:  true,
		prev:  tail,
		next:  0,
	}
	r.entries[tail].next = idx
	sentinel.prev = idx
	r.live++
	return idx, nil
}

// remove unlinks the entry and returns its chunk.
func (r *registry) remove(idx uint32) Chunk {
	e := &r.entries[idx]
	if idx == 0 || !e.live {
		panic(errors.New("chunk removed twice").
			WithType(ErrTypeDoubleFree).
			WithTag("index", idx))
	}

	r.entries[e.prev].next = e.next
	r.entries[e.next].prev = e.prev

	c := e.chunk
	*e = entry{next: r.freeHead}
	r.freeHead = idx
	r.live--
	return c
}

func (r *registry) get(idx uint32) *entry {
	return &r.entries[idx]
}

// each calls fn for every entry in insertion order. The next entry is read
// before fn is called so fn may remove the current one.
func (r *registry) each(fn func(idx uint32, e *entry)) {
	steps := 0
	for idx := r.entries[0].next; idx != 0; {
		steps++
		if steps > r.capacity() {
			panic(errors.New("chunk list cycle").WithType(ErrTypeCorruptedRing))
		}

		next := r.entries[idx].next
		fn(idx, &r.entries[idx])
		idx = next
	}
}
