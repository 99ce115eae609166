package models

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// Viewer represents a connected client whose position drives the level of
// detail of its world.
type Viewer struct {
	ID          uint32
	ClientID    string
	ConnectedAt time.Time

	mutex    sync.RWMutex
	position mgl64.Vec3
	moved    bool
	summary  WorldSummary
}

// WorldSummary is a snapshot of the viewer world taken after a frame.
type WorldSummary struct {
	Nodes   int    `json:"nodes"`
	Chunks  int    `json:"chunks"`
	Zombies int    `json:"zombies"`
	Pending int    `json:"pending"`
	Digest  uint64 `json:"digest"`
	Frames  uint64 `json:"frames"`
}

// NewViewer creates a viewer at the given position.
func NewViewer(id uint32, clientID string, position mgl64.Vec3) *Viewer {
	return &Viewer{
		ID:          id,
		ClientID:    clientID,
		ConnectedAt: time.Now(),
		position:    position,
	}
}

func (v *Viewer) Position() mgl64.Vec3 {
	v.mutex.RLock()
	defer v.mutex.RUnlock()

	return v.position
}

// SetPosition updates the viewer position and flags it as moved.
func (v *Viewer) SetPosition(p mgl64.Vec3) {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if !v.position.ApproxEqual(p) {
		v.moved = true
	}
	v.position = p
}

// TakeMoved reports whether the viewer moved since the last call.
func (v *Viewer) TakeMoved() bool {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	moved := v.moved
	v.moved = false
	return moved
}

func (v *Viewer) Summary() WorldSummary {
	v.mutex.RLock()
	defer v.mutex.RUnlock()

	return v.summary
}

func (v *Viewer) SetSummary(s WorldSummary) {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	v.summary = s
}

// ViewerInfo is the JSON representation of a viewer.
type ViewerInfo struct {
	ID          uint32       `json:"id"`
	ClientID    string       `json:"client_id,omitempty"`
	Position    [3]float64   `json:"position"`
	ConnectedAt time.Time    `json:"connected_at"`
	World       WorldSummary `json:"world"`
}

func (v *Viewer) Info() ViewerInfo {
	p := v.Position()
	return ViewerInfo{
		ID:          v.ID,
		ClientID:    v.ClientID,
		Position:    [3]float64{p[0], p[1], p[2]},
		ConnectedAt: v.ConnectedAt,
		World:       v.Summary(),
	}
}

// ViewerStore keeps track of the connected viewers.
type ViewerStore struct {
	ids IDGenerator

	mutex   sync.RWMutex
	viewers map[uint32]*Viewer
}

// NewID returns an id for a new viewer.
func (s *ViewerStore) NewID() uint32 {
	return s.ids.New()
}

func (s *ViewerStore) Add(v *Viewer) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.viewers == nil {
		s.viewers = make(map[uint32]*Viewer)
	}
	if _, ok := s.viewers[v.ID]; ok {
		return
	}

	s.viewers[v.ID] = v
	instrumentIncreaseViewerGauge()
	instrumentCountViewer()
}

func (s *ViewerStore) Remove(v *Viewer) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.viewers[v.ID]; !ok {
		return
	}

	delete(s.viewers, v.ID)
	s.ids.Reuse(v.ID)
	instrumentDecreaseViewerGauge()
}

func (s *ViewerStore) Get(id uint32) (*Viewer, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	v, ok := s.viewers[id]
	return v, ok
}

func (s *ViewerStore) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return len(s.viewers)
}

// List returns the viewers sorted by id.
func (s *ViewerStore) List() []*Viewer {
	s.mutex.RLock()
	viewers := make([]*Viewer, 0, len(s.viewers))
	for _, v := range s.viewers {
		viewers = append(viewers, v)
	}
	s.mutex.RUnlock()

	slices.SortFunc(viewers, func(a, b *Viewer) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return viewers
}
