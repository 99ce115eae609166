package octree

import (
	"fmt"

	"github.com/aukilabs/lodtree/models"
)

// NodeID is a generation checked handle to a node. The zero value refers to
// no node.
type NodeID struct {
	index uint32
	gen   uint32
}

// IsZero reports whether the id refers to no node.
func (id NodeID) IsZero() bool {
	return id.index == 0
}

func (id NodeID) String() string {
	return fmt.Sprintf("%d:%d", id.index, id.gen)
}

// MarshalText encodes the id as "index:gen".
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// State describes what a node currently holds.
type State int

const (
	// A leaf without any chunk.
	StateEmpty State = iota

	// A leaf whose chunk is being generated.
	StateBuilding

	// A leaf whose chunk finished generating.
	StateReady

	// A branch without chunks of its own.
	StateBranch

	// A branch that still holds the chunk it had as a leaf. The chunk keeps
	// covering the region until every descendant completes.
	StateSplitting

	// A branch whose own replacement chunk is being generated. Its children
	// are killed and get destroyed once the chunk completes.
	StateMerging

	// A leaf that only holds a killed chunk, waiting for an ancestor
	// replacement to complete.
	StateZombie
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateBuilding:
		return "building"
	case StateReady:
		return "ready"
	case StateBranch:
		return "branch"
	case StateSplitting:
		return "splitting"
	case StateMerging:
		return "merging"
	case StateZombie:
		return "zombie"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsLeaf reports whether a node in this state has no children.
func (s State) IsLeaf() bool {
	switch s {
	case StateEmpty, StateBuilding, StateReady, StateZombie:
		return true
	default:
		return false
	}
}

// Node is a read only snapshot of an octree node.
type Node struct {
	ID     NodeID       `json:"id"`
	Parent NodeID       `json:"parent"`
	Origin models.Vec3i `json:"origin"`
	Size   int64        `json:"size"`
	Depth  int          `json:"depth"`
	State  State        `json:"state"`
}

// Box returns the region covered by the node.
func (n Node) Box() models.Box {
	return models.Box{Min: n.Origin, Size: n.Size}
}

// IsRoot reports whether the node is one of the tree roots.
func (n Node) IsRoot() bool {
	return n.Parent.IsZero()
}

// node is the arena payload. Links are arena indexes, 0 meaning none.
type node struct {
	origin models.Vec3i
	depth  int

	parent  uint32
	child   uint32
	sibling uint32

	// Registry indexes of the live chunk and of the killed chunk that keeps
	// covering the region while its replacement is generated.
	chunk  uint32
	zombie uint32
}

// state returns the node state, complete telling whether its live chunk
// finished generating.
func (n *node) state(complete bool) State {
	if n.child == 0 {
		switch {
		case n.chunk != 0 && complete:
			return StateReady
		case n.chunk != 0:
			return StateBuilding
		case n.zombie != 0:
			return StateZombie
		default:
			return StateEmpty
		}
	}

	switch {
	case n.chunk != 0:
		return StateMerging
	case n.zombie != 0:
		return StateSplitting
	default:
		return StateBranch
	}
}
