package chunk

import (
	"sync/atomic"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/lodtree/models"
	"github.com/aukilabs/lodtree/octree"
	"github.com/google/uuid"
)

// Kind tells how a chunk is used by viewers.
type Kind int

const (
	// Detail chunks have the minimum size. They are authoritative and can be
	// collided with.
	KindDetail Kind = iota

	// Proxy chunks approximate a larger region and are only rendered.
	KindProxy
)

func (k Kind) String() string {
	switch k {
	case KindDetail:
		return "detail"
	case KindProxy:
		return "proxy"
	default:
		return "unknown"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "detail":
		*k = KindDetail
	case "proxy":
		*k = KindProxy
	default:
		return errors.New("unknown chunk kind").
			WithType(ErrTypeInvalidKind).
			WithTag("kind", string(b))
	}
	return nil
}

type state int32

const (
	statePending state = iota
	stateReady
	stateKilled
	stateDestroyed
)

// EventType is the type of a chunk lifecycle event.
type EventType string

const (
	EventCreated   EventType = "created"
	EventCompleted EventType = "completed"
	EventKilled    EventType = "killed"
	EventDestroyed EventType = "destroyed"
)

// Event describes a chunk lifecycle change.
type Event struct {
	Type  EventType
	Chunk *Chunk
}

// Observer is called for every chunk lifecycle change. It is always called
// from the goroutine that mutates the tree owning the chunk.
type Observer func(Event)

// Chunk is the content of an octree node.
type Chunk struct {
	ID        uuid.UUID
	Node      octree.NodeID
	Box       models.Box
	Kind      Kind
	CreatedAt time.Time

	state    atomic.Int32
	observer Observer
}

func newChunk(id octree.NodeID, n octree.Node, detail bool, observer Observer) *Chunk {
	kind := KindProxy
	if detail {
		kind = KindDetail
	}

	return &Chunk{
		ID:        uuid.New(),
		Node:      id,
		Box:       n.Box(),
		Kind:      kind,
		CreatedAt: time.Now(),
		observer:  observer,
	}
}

// Active reports whether the chunk was neither killed nor destroyed.
func (c *Chunk) Active() bool {
	return c.load() < stateKilled
}

// Ready reports whether the chunk finished generating and is still active.
func (c *Chunk) Ready() bool {
	return c.load() == stateReady
}

func (c *Chunk) Kill() {
	if c.transition(stateKilled) {
		c.notify(EventKilled)
	}
}

func (c *Chunk) Destroy() {
	if c.transition(stateDestroyed) {
		c.notify(EventDestroyed)
	}
}

// complete marks a pending chunk as generated. It fails when the chunk was
// killed or destroyed in the meantime.
func (c *Chunk) complete() bool {
	return c.state.CompareAndSwap(int32(statePending), int32(stateReady))
}

// transition moves the chunk forward to s. Lifecycle states never go back.
func (c *Chunk) transition(s state) bool {
	for {
		current := c.state.Load()
		if current >= int32(s) {
			return false
		}
		if c.state.CompareAndSwap(current, int32(s)) {
			return true
		}
	}
}

func (c *Chunk) load() state {
	return state(c.state.Load())
}

func (c *Chunk) notify(t EventType) {
	if c.observer != nil {
		c.observer(Event{Type: t, Chunk: c})
	}
}
