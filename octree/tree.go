package octree

import (
	"iter"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/lodtree/models"
)

// Policy decides how the tree is shaped. A policy value carries whatever
// context its decisions depend on, such as the viewer position, and is passed
// to every structural operation.
type Policy interface {
	// Reports whether the node may keep its current size.
	IsBalanced(n Node) bool

	// Creates the chunk of a node that became a leaf. The returned chunk
	// must eventually be reported with ReapChunk once generated.
	CreateChunk(id NodeID, n Node) Chunk

	// Called when a root leaf could merge. Returns whether the root was
	// kept in place.
	RemapRoot(t *Tree, id NodeID) (bool, error)

	// Returns the origin of the given root slot around center.
	RootOrigin(slot int, center models.Vec3i) models.Vec3i
}

// Config is the configuration of a tree.
type Config struct {
	// The name used to label the tree metrics.
	Name string

	// The edge length of the smallest node.
	MinChunkSize int64

	// The depth of the roots. Roots have an edge length of
	// MinChunkSize << MaxDepth.
	MaxDepth int

	// The maximum number of live nodes. The chunk registry holds twice as
	// many chunks: a node owns at most a live chunk and a zombie, so the
	// registry can't run out before the arena does.
	Capacity int
}

func (c Config) validate() error {
	switch {
	case c.MinChunkSize <= 0:
		return errors.New("min chunk size must be positive").
			WithType(ErrTypeInvalidConfig).
			WithTag("min_chunk_size", c.MinChunkSize)

	case c.MaxDepth < 0 || c.MaxDepth > 32:
		return errors.New("max depth out of range").
			WithType(ErrTypeInvalidConfig).
			WithTag("max_depth", c.MaxDepth)

	case c.Capacity <= 0:
		return errors.New("capacity must be positive").
			WithType(ErrTypeInvalidConfig).
			WithTag("capacity", c.Capacity)

	default:
		return nil
	}
}

// Tree is a multi root octree whose leaves own chunks.
//
// A tree is not safe for concurrent use: every call, including the ReapChunk
// completion callbacks, must be made from the same goroutine.
type Tree struct {
	name     string
	minSize  int64
	maxDepth int

	nodes  arena
	chunks registry

	roots    []uint32
	maxRing  int
	closed   bool
	deferred int
}

// New creates an empty tree. Initialize must be called before use.
func New(conf Config) (*Tree, error) {
	if err := conf.validate(); err != nil {
		return nil, err
	}
	if conf.Name == "" {
		conf.Name = "octree"
	}

	return &Tree{
		name:     conf.Name,
		minSize:  conf.MinChunkSize,
		maxDepth: conf.MaxDepth,
		nodes:    newArena(conf.Capacity),
		chunks:   newRegistry(conf.Capacity * 2),
		maxRing:  8,
	}, nil
}

// Initialize creates rootCount roots placed by the policy around center and
// builds them.
func (t *Tree) Initialize(p Policy, rootCount int, center models.Vec3i) error {
	if len(t.roots) != 0 {
		return errors.New("tree already initialized").WithType(ErrTypeInitialized)
	}
	if rootCount <= 0 {
		return errors.New("root count must be positive").
			WithType(ErrTypeInvalidConfig).
			WithTag("root_count", rootCount)
	}

	roots := make([]uint32, 0, rootCount)
	for i := 0; i < rootCount; i++ {
		idx, err := t.nodes.allocate(node{
			origin: p.RootOrigin(i, center),
			depth:  t.maxDepth,
		})
		if err != nil {
			for _, r := range roots {
				t.nodes.release(r)
			}
			return err
		}
		roots = append(roots, idx)
	}

	for i, idx := range roots {
		t.nodes.get(idx).sibling = roots[(i+1)%len(roots)]
	}
	t.roots = roots
	t.maxRing = max(8, rootCount)

	defer t.instrumentGauges()
	for _, idx := range roots {
		if err := t.buildTree(p, idx); err != nil {
			return err
		}
	}
	return nil
}

// Close destroys every node and chunk. The tree must not be used afterwards.
func (t *Tree) Close() {
	if t.closed {
		return
	}
	t.closed = true

	for _, idx := range t.roots {
		t.destroySubtree(idx)
		t.nodes.release(idx)
	}
	t.roots = nil
	t.instrumentGauges()
}

// Name returns the tree name.
func (t *Tree) Name() string {
	return t.name
}

// MinChunkSize returns the edge length of the smallest node.
func (t *Tree) MinChunkSize() int64 {
	return t.minSize
}

// MaxChunkSize returns the edge length of the roots.
func (t *Tree) MaxChunkSize() int64 {
	return t.minSize << t.maxDepth
}

func (t *Tree) node(idx uint32) *node {
	return t.nodes.get(idx)
}

func (t *Tree) size(n *node) int64 {
	return t.minSize << n.depth
}

func (t *Tree) view(idx uint32) Node {
	n := t.node(idx)

	complete := false
	if n.chunk != 0 {
		complete = t.chunks.get(n.chunk).complete
	}

	return Node{
		ID:     t.nodes.id(idx),
		Parent: t.nodes.id(n.parent),
		Origin: n.origin,
		Size:   t.size(n),
		Depth:  n.depth,
		State:  n.state(complete),
	}
}

func (t *Tree) resolve(id NodeID) (uint32, error) {
	if t.closed {
		return 0, errors.New("tree closed").WithType(ErrTypeClosed)
	}
	return t.nodes.resolve(id)
}

// ring iterates over a sibling ring starting at first. It panics when the
// ring does not close after the longest possible ring length.
func (t *Tree) ring(first uint32) iter.Seq[uint32] {
	return func(yield func(uint32) bool) {
		if first == 0 {
			return
		}

		idx := first
		for steps := 1; ; steps++ {
			next := t.node(idx).sibling
			if !yield(idx) {
				return
			}
			if next == first {
				return
			}
			if next == 0 || steps >= t.maxRing {
				panic(errors.New("sibling ring does not close").
					WithType(ErrTypeCorruptedRing).
					WithTag("first", first).
					WithTag("steps", steps))
			}
			idx = next
		}
	}
}

func (t *Tree) children(idx uint32) iter.Seq[uint32] {
	return t.ring(t.node(idx).child)
}

// Node returns a snapshot of the node.
func (t *Tree) Node(id NodeID) (Node, error) {
	idx, err := t.resolve(id)
	if err != nil {
		return Node{}, err
	}
	return t.view(idx), nil
}

// Chunk returns the live chunk of the node, if any.
func (t *Tree) Chunk(id NodeID) (Chunk, bool) {
	idx, err := t.resolve(id)
	if err != nil {
		return nil, false
	}

	n := t.node(idx)
	if n.chunk == 0 {
		return nil, false
	}
	return t.chunks.get(n.chunk).chunk, true
}

// Roots returns the roots ordered by slot.
func (t *Tree) Roots() []NodeID {
	roots := make([]NodeID, len(t.roots))
	for i, idx := range t.roots {
		roots[i] = t.nodes.id(idx)
	}
	return roots
}

// RootSlot returns the slot of a root.
func (t *Tree) RootSlot(id NodeID) (int, bool) {
	for i, idx := range t.roots {
		if t.nodes.id(idx) == id {
			return i, true
		}
	}
	return 0, false
}

// Children returns the children of a node in ring order.
func (t *Tree) Children(id NodeID) ([]NodeID, error) {
	idx, err := t.resolve(id)
	if err != nil {
		return nil, err
	}

	var children []NodeID
	for c := range t.children(idx) {
		children = append(children, t.nodes.id(c))
	}
	return children, nil
}

// ForEachChunk calls fn for every registered chunk, zombies included, in
// creation order. fn must not modify the tree.
func (t *Tree) ForEachChunk(fn func(NodeID, Chunk)) {
	t.chunks.each(func(_ uint32, e *entry) {
		fn(t.nodes.id(e.node), e.chunk)
	})
}

// ForEachActiveChunk calls fn for every active chunk in creation order. fn
// must not modify the tree.
func (t *Tree) ForEachActiveChunk(fn func(NodeID, Chunk)) {
	t.chunks.each(func(_ uint32, e *entry) {
		if e.chunk.Active() {
			fn(t.nodes.id(e.node), e.chunk)
		}
	})
}

// Walk visits the nodes depth first, roots in slot order. Children of a node
// are skipped when fn returns false.
func (t *Tree) Walk(fn func(Node) bool) {
	var walk func(idx uint32)
	walk = func(idx uint32) {
		if !fn(t.view(idx)) {
			return
		}
		for c := range t.children(idx) {
			walk(c)
		}
	}

	for _, idx := range t.roots {
		walk(idx)
	}
}

// LeafAt returns the leaf containing p.
func (t *Tree) LeafAt(p models.Vec3i) (Node, bool) {
	for _, idx := range t.roots {
		if !t.view(idx).Box().Contains(p) {
			continue
		}

	descend:
		for t.node(idx).child != 0 {
			for c := range t.children(idx) {
				if t.view(c).Box().Contains(p) {
					idx = c
					continue descend
				}
			}
			return Node{}, false
		}
		return t.view(idx), true
	}
	return Node{}, false
}

// Stats describes the tree resource usage.
type Stats struct {
	Nodes         int `json:"nodes"`
	FreeNodes     int `json:"free_nodes"`
	UnusedNodes   int `json:"unused_nodes"`
	NodeCapacity  int `json:"node_capacity"`
	Chunks        int `json:"chunks"`
	Zombies       int `json:"zombies"`
	Pending       int `json:"pending"`
	ChunkCapacity int `json:"chunk_capacity"`

	// The number of splits put off since the tree creation because the
	// arena had no room for a ring.
	Deferred int `json:"deferred"`
}

func (t *Tree) Stats() Stats {
	s := Stats{
		Nodes:         t.nodes.live,
		FreeNodes:     t.nodes.free,
		UnusedNodes:   t.nodes.unusedCount(),
		NodeCapacity:  t.nodes.capacity(),
		Chunks:        t.chunks.live,
		ChunkCapacity: t.chunks.capacity(),
		Deferred:      t.deferred,
	}

	t.chunks.each(func(_ uint32, e *entry) {
		switch {
		case e.killed:
			s.Zombies++
		case !e.complete:
			s.Pending++
		}
	})
	return s
}
