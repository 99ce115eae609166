package lod

import (
	"fmt"
	"math"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/lodtree/models"
	"github.com/aukilabs/lodtree/octree"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/require"
)

type testChunk struct {
	id        octree.NodeID
	node      octree.Node
	detail    bool
	killed    int
	destroyed int
}

func (c *testChunk) Active() bool {
	return c.killed == 0 && c.destroyed == 0
}

func (c *testChunk) Kill() {
	c.killed++
}

func (c *testChunk) Destroy() {
	c.destroyed++
}

// syncBuilder completes every chunk it builds by the next drain.
type syncBuilder struct {
	built []*testChunk
	done  []*testChunk
}

func newSyncBuilder() *syncBuilder {
	return &syncBuilder{}
}

func (b *syncBuilder) Build(id octree.NodeID, n octree.Node, detail bool) octree.Chunk {
	c := &testChunk{id: id, node: n, detail: detail}
	b.built = append(b.built, c)
	b.done = append(b.done, c)
	return c
}

func (b *syncBuilder) Drain(fn func(octree.NodeID, octree.Chunk)) int {
	done := b.done
	b.done = nil

	for _, c := range done {
		fn(c.id, c)
	}
	return len(done)
}

// lagBuilder completes a chunk lag drains after it was built.
type lagBuilder struct {
	lag    int
	drains int
	built  []*testChunk
	queue  []lagJob
}

type lagJob struct {
	due   int
	chunk *testChunk
}

func (b *lagBuilder) Build(id octree.NodeID, n octree.Node, detail bool) octree.Chunk {
	c := &testChunk{id: id, node: n, detail: detail}
	b.built = append(b.built, c)
	b.queue = append(b.queue, lagJob{due: b.drains + b.lag, chunk: c})
	return c
}

func (b *lagBuilder) Drain(fn func(octree.NodeID, octree.Chunk)) int {
	b.drains++

	done := 0
	for len(b.queue) != 0 && b.queue[0].due <= b.drains {
		c := b.queue[0].chunk
		b.queue = b.queue[1:]
		fn(c.id, c)
		done++
	}
	return done
}

func newTestWorld(t *testing.T, conf Config, center mgl64.Vec3) (*World, *syncBuilder) {
	b := newSyncBuilder()
	w, err := NewWorld(conf, b)
	require.NoError(t, err)
	require.NoError(t, w.Initialize(center))
	t.Cleanup(w.Close)
	return w, b
}

// settle updates the world until a pass changes nothing.
func settle(t *testing.T, w *World, viewer mgl64.Vec3) Pass {
	for i := 0; i < 32; i++ {
		pass, err := w.Update(viewer)
		require.NoError(t, err)
		if !pass.Changed() {
			return pass
		}
	}
	require.FailNow(t, "world did not converge")
	return Pass{}
}

func requireValidWorld(t *testing.T, w *World, built []*testChunk) {
	stats := w.Tree().Stats()
	require.Equal(t, stats.NodeCapacity, stats.Nodes+stats.FreeNodes+stats.UnusedNodes)

	var roots []models.Box
	for _, id := range w.Tree().Roots() {
		n, err := w.Tree().Node(id)
		require.NoError(t, err)
		roots = append(roots, n.Box())
	}
	requireDisjoint(t, roots)

	w.Tree().Walk(func(n octree.Node) bool {
		if n.State.IsLeaf() {
			require.NotEqual(t, octree.StateEmpty, n.State, "leaf %v", n.ID)
		}
		return true
	})

	for _, c := range built {
		require.LessOrEqual(t, c.killed, 1)
		require.LessOrEqual(t, c.destroyed, 1)
	}
}

func TestNewWorld(t *testing.T) {
	t.Run("rejects invalid configs", func(t *testing.T) {
		conf := testConfig()
		conf.BalanceFactor = 0

		_, err := NewWorld(conf, newSyncBuilder())
		require.True(t, errors.IsType(err, ErrTypeInvalidConfig))
	})

	t.Run("update requires initialization", func(t *testing.T) {
		w, err := NewWorld(testConfig(), newSyncBuilder())
		require.NoError(t, err)

		_, err = w.Update(mgl64.Vec3{})
		require.True(t, errors.IsType(err, ErrTypeNotInitialized))
	})

	t.Run("initialize builds every root", func(t *testing.T) {
		w, _ := newTestWorld(t, testConfig(), mgl64.Vec3{})
		require.Len(t, w.Tree().Roots(), 8)
		require.Equal(t, models.Vec3i{}, w.Viewer())
	})
}

func TestWorldUpdate(t *testing.T) {
	t.Run("converges to a fixed point", func(t *testing.T) {
		conf := testConfig()
		viewer := mgl64.Vec3{1.5, 2.5, -3.5}
		w, b := newTestWorld(t, conf, viewer)

		pass := settle(t, w, viewer)
		require.Zero(t, pass.Stats.Zombies)
		require.Zero(t, pass.Stats.Pending)
		requireValidWorld(t, w, b.built)

		again, err := w.Update(viewer)
		require.NoError(t, err)
		require.False(t, again.Changed())
		require.Equal(t, pass.Digest, again.Digest)

		leaf, ok := w.Tree().LeafAt(models.FromVec3(viewer))
		require.True(t, ok)
		require.Equal(t, conf.MinChunkSize, leaf.Size)

		p := w.policy()
		w.Tree().Walk(func(n octree.Node) bool {
			if n.State.IsLeaf() {
				require.True(t, n.Depth == 0 || p.IsBalanced(n), "leaf %+v", n)
			}
			return true
		})
	})

	t.Run("detail chunks are the minimum size ones", func(t *testing.T) {
		conf := testConfig()
		w, b := newTestWorld(t, conf, mgl64.Vec3{})
		settle(t, w, mgl64.Vec3{})

		for _, c := range b.built {
			require.Equal(t, c.node.Size == conf.MinChunkSize, c.detail)
		}
	})

	t.Run("small moves keep the roots", func(t *testing.T) {
		w, b := newTestWorld(t, testConfig(), mgl64.Vec3{})
		settle(t, w, mgl64.Vec3{})
		roots := w.Tree().Roots()

		for _, v := range []mgl64.Vec3{{3, 0, 0}, {10, -10, 5}, {-15, 15, 0}} {
			for i := 0; i < 32; i++ {
				pass, err := w.Update(v)
				require.NoError(t, err)
				require.Zero(t, pass.Remapped)
				if !pass.Changed() {
					break
				}
			}
			require.Equal(t, roots, w.Tree().Roots())
			requireValidWorld(t, w, b.built)
		}
	})

	t.Run("window shift relocates one root layer", func(t *testing.T) {
		conf := testConfig()
		w, b := newTestWorld(t, conf, mgl64.Vec3{})
		settle(t, w, mgl64.Vec3{})

		before := make(map[int]models.Vec3i)
		for _, id := range w.Tree().Roots() {
			slot, ok := w.Tree().RootSlot(id)
			require.True(t, ok)
			n, err := w.Tree().Node(id)
			require.NoError(t, err)
			before[slot] = n.Origin
		}

		pass, err := w.Update(mgl64.Vec3{33, 0, 0})
		require.NoError(t, err)
		require.Equal(t, 4, pass.Remapped)
		requireValidWorld(t, w, b.built)

		for _, id := range w.Tree().Roots() {
			slot, _ := w.Tree().RootSlot(id)
			n, err := w.Tree().Node(id)
			require.NoError(t, err)

			if n.Origin != before[slot] {
				require.Equal(t, before[slot].X+conf.TileSize(), n.Origin.X)
				require.Equal(t, before[slot].Y, n.Origin.Y)
				require.Equal(t, before[slot].Z, n.Origin.Z)
			}
		}

		settle(t, w, mgl64.Vec3{33, 0, 0})
		requireValidWorld(t, w, b.built)
	})

	t.Run("long walk leaks nothing", func(t *testing.T) {
		for _, bf := range []int{1, 2} {
			conf := testConfig()
			conf.BalanceFactor = bf
			w, b := newTestWorld(t, conf, mgl64.Vec3{})

			viewer := mgl64.Vec3{}
			for step := 0; step < 60; step++ {
				viewer = viewer.Add(mgl64.Vec3{7.25, -3.5, 11})
				_, err := w.Update(viewer)
				require.NoError(t, err)
				requireValidWorld(t, w, b.built)
			}

			pass := settle(t, w, viewer)
			require.Zero(t, pass.Stats.Zombies)
			require.Zero(t, pass.Stats.Pending)

			live := 0
			for _, c := range b.built {
				if c.destroyed == 0 {
					live++
				}
			}
			require.Equal(t, pass.Stats.Chunks, live)
		}
	})

	t.Run("far jump relocates every root", func(t *testing.T) {
		w, b := newTestWorld(t, testConfig(), mgl64.Vec3{})
		settle(t, w, mgl64.Vec3{})

		pass, err := w.Update(mgl64.Vec3{10000, -10000, 10000})
		require.NoError(t, err)
		require.Equal(t, 8, pass.Remapped)
		requireValidWorld(t, w, b.built)

		settle(t, w, mgl64.Vec3{10000, -10000, 10000})
		requireValidWorld(t, w, b.built)
	})
}

func TestWorldClose(t *testing.T) {
	b := newSyncBuilder()
	w, err := NewWorld(testConfig(), b)
	require.NoError(t, err)
	require.NoError(t, w.Initialize(mgl64.Vec3{}))
	settle(t, w, mgl64.Vec3{})

	w.Close()
	for _, c := range b.built {
		require.Equal(t, 1, c.destroyed)
	}
}

func TestWorldLaggingBuilder(t *testing.T) {
	conf := Config{
		Name:          "lagging",
		MinChunkSize:  1,
		MaxDepth:      5,
		BalanceFactor: 2,
		MinRadius:     0,
	}

	for _, lag := range []int{0, 8, 16, 32} {
		t.Run(fmt.Sprintf("lag %d", lag), func(t *testing.T) {
			b := &lagBuilder{lag: lag}
			w, err := NewWorld(conf, b)
			require.NoError(t, err)
			require.NoError(t, w.Initialize(mgl64.Vec3{}))
			t.Cleanup(w.Close)
			require.Equal(t, conf.Capacity(), w.Tree().Stats().NodeCapacity)

			// The viewer circles at about 1.3 cells per pass.
			for step := 0; step < 400; step++ {
				angle := float64(step) * 0.05
				viewer := mgl64.Vec3{26 * math.Cos(angle), 26 * math.Sin(angle), 3 * math.Sin(3*angle)}

				pass, err := w.Update(viewer)
				require.NoError(t, err, "step %d", step)
				require.LessOrEqual(t, pass.Stats.Nodes, pass.Stats.NodeCapacity)
				requireValidWorld(t, w, b.built)
			}
			t.Logf("%d splits deferred", w.Tree().Stats().Deferred)

			// Once generation catches up the tree reaches the balanced shape.
			viewer := mgl64.Vec3{5, 5, 5}
			for i := 0; ; i++ {
				require.Less(t, i, 64*(lag+1), "world did not converge")

				pass, err := w.Update(viewer)
				require.NoError(t, err)
				if !pass.Changed() && len(b.queue) == 0 {
					break
				}
			}

			stats := w.Tree().Stats()
			require.Zero(t, stats.Zombies)
			require.Zero(t, stats.Pending)
			requireValidWorld(t, w, b.built)

			p := w.policy()
			w.Tree().Walk(func(n octree.Node) bool {
				if n.State.IsLeaf() {
					require.Equal(t, octree.StateReady, n.State)
					require.True(t, n.Depth == 0 || p.IsBalanced(n), "leaf %v is balanced", n.ID)
				} else {
					require.False(t, p.IsBalanced(n), "branch %v is not balanced", n.ID)
				}
				return true
			})
		})
	}
}
