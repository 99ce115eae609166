package lod

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/lodtree/models"
	"github.com/aukilabs/lodtree/octree"
	"github.com/go-gl/mathgl/mgl64"
)

// World keeps the tree of a single viewer balanced as it moves.
//
// A world is not safe for concurrent use. Initialize, Update and Close must
// be called from the same goroutine, which is also the one draining the
// builder completions.
type World struct {
	conf    Config
	tree    *octree.Tree
	builder Builder
	viewer  models.Vec3i
}

// Pass describes what a call to Update changed.
type Pass struct {
	Reaped     int           `json:"reaped"`
	Subdivided int           `json:"subdivided"`
	Merged     int           `json:"merged"`
	Remapped   int           `json:"remapped"`
	Stats      octree.Stats  `json:"stats"`
	Digest     uint64        `json:"digest"`
	Duration   time.Duration `json:"duration"`
}

// Changed reports whether the pass modified the tree shape.
func (p Pass) Changed() bool {
	return p.Subdivided != 0 || p.Merged != 0 || p.Remapped != 0 || p.Reaped != 0
}

// NewWorld creates a world whose chunks are created by the given builder.
func NewWorld(conf Config, b Builder) (*World, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	tree, err := octree.New(octree.Config{
		Name:         conf.Name,
		MinChunkSize: conf.MinChunkSize,
		MaxDepth:     conf.MaxDepth,
		Capacity:     conf.Capacity(),
	})
	if err != nil {
		return nil, errors.New("creating world tree failed").
			WithType(ErrTypeInvalidConfig).
			Wrap(err)
	}

	return &World{
		conf:    conf,
		tree:    tree,
		builder: b,
	}, nil
}

// Initialize builds the roots around the viewer starting position.
func (w *World) Initialize(center mgl64.Vec3) error {
	w.viewer = models.FromVec3(center)

	if err := w.tree.Initialize(w.policy(), w.conf.RootCount(), w.viewer); err != nil {
		return errors.New("initializing world failed").
			WithTag("world", w.conf.Name).
			WithTag("center", w.viewer).
			Wrap(err)
	}

	logs.WithTag("world", w.conf.Name).
		WithTag("center", w.viewer).
		WithTag("roots", w.conf.RootCount()).
		WithTag("root_size", w.conf.MaxChunkSize()).
		WithTag("capacity", w.conf.Capacity()).
		Debug("world initialized")
	return nil
}

// Update re-evaluates the tree around the viewer: generated chunks are
// reaped, roots follow the viewer, then every active chunk is subdivided
// when unbalanced or merged with its siblings when its parent is balanced.
func (w *World) Update(viewer mgl64.Vec3) (Pass, error) {
	if len(w.tree.Roots()) == 0 {
		return Pass{}, errors.New("world not initialized").
			WithType(ErrTypeNotInitialized).
			WithTag("world", w.conf.Name)
	}

	start := time.Now()
	w.viewer = models.FromVec3(viewer)
	p := w.policy()

	var pass Pass
	if err := w.reap(&pass); err != nil {
		return pass, err
	}
	if err := w.remapRoots(p, &pass); err != nil {
		return pass, err
	}
	if err := w.balance(p, &pass); err != nil {
		return pass, err
	}

	pass.Stats = w.tree.Stats()
	pass.Digest = w.tree.Digest()
	pass.Duration = time.Since(start)
	instrumentPass(w.conf.Name, pass)

	if pass.Changed() {
		logs.WithTag("world", w.conf.Name).
			WithTag("viewer", w.viewer).
			WithTag("pass", pass).
			Debug("world updated")
	}
	return pass, nil
}

func (w *World) reap(pass *Pass) error {
	var err error

	w.builder.Drain(func(id octree.NodeID, c octree.Chunk) {
		if err != nil || !c.Active() {
			return
		}

		// The chunk may have been replaced or its node freed since it was
		// handed to the builder.
		current, ok := w.tree.Chunk(id)
		if !ok || current != c {
			return
		}

		if err = w.tree.ReapChunk(id); err == nil {
			pass.Reaped++
		}
	})

	if err != nil {
		return errors.New("reaping chunk failed").
			WithTag("world", w.conf.Name).
			Wrap(err)
	}
	return nil
}

func (w *World) remapRoots(p Policy, pass *Pass) error {
	for _, id := range w.tree.Roots() {
		kept, err := w.tree.RemapRoot(p, id)
		if err != nil {
			return errors.New("remapping root failed").
				WithTag("world", w.conf.Name).
				WithTag("node", id).
				Wrap(err)
		}
		if !kept {
			pass.Remapped++
		}
	}
	return nil
}

func (w *World) balance(p Policy, pass *Pass) error {
	var ids []octree.NodeID
	w.tree.ForEachActiveChunk(func(id octree.NodeID, _ octree.Chunk) {
		ids = append(ids, id)
	})

	for _, id := range ids {
		// Earlier operations of the pass may have killed the chunk or freed
		// its node.
		c, ok := w.tree.Chunk(id)
		if !ok || !c.Active() {
			continue
		}

		n, err := w.tree.Node(id)
		if err != nil {
			return err
		}

		switch {
		case n.Depth > 0 && !p.IsBalanced(n):
			changed, err := w.tree.SubdivideChunk(p, id)
			if err != nil {
				return errors.New("subdividing chunk failed").
					WithTag("world", w.conf.Name).
					WithTag("node", id).
					Wrap(err)
			}
			if changed {
				pass.Subdivided++
			}

		case !n.IsRoot():
			changed, err := w.tree.MergeSiblings(p, id)
			if err != nil {
				return errors.New("merging siblings failed").
					WithTag("world", w.conf.Name).
					WithTag("node", id).
					Wrap(err)
			}
			if changed {
				pass.Merged++
			}
		}
	}
	return nil
}

func (w *World) policy() Policy {
	return Policy{
		Config:  w.conf,
		Viewer:  w.viewer,
		Builder: w.builder,
	}
}

// Tree returns the world tree. It must only be read from the goroutine
// updating the world.
func (w *World) Tree() *octree.Tree {
	return w.tree
}

func (w *World) Config() Config {
	return w.conf
}

// Viewer returns the viewer position used by the last pass.
func (w *World) Viewer() models.Vec3i {
	return w.viewer
}

// Close destroys every chunk of the world.
func (w *World) Close() {
	w.tree.Close()
}
