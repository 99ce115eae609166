package chunk

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/lodtree/lod"
	"github.com/aukilabs/lodtree/models"
	"github.com/aukilabs/lodtree/octree"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

var _ lod.Builder = (*Queue)(nil)

func testNode(size int64) octree.Node {
	return octree.Node{Origin: models.Vec3i{X: size}, Size: size}
}

func drainAll(t *testing.T, q *Queue, count int) []octree.Chunk {
	var chunks []octree.Chunk
	require.Eventually(t, func() bool {
		q.Drain(func(_ octree.NodeID, c octree.Chunk) {
			chunks = append(chunks, c)
		})
		return len(chunks) >= count
	}, time.Second, time.Millisecond)
	return chunks
}

func TestChunkLifecycle(t *testing.T) {
	var events []EventType
	observer := func(e Event) {
		events = append(events, e.Type)
	}

	c := newChunk(octree.NodeID{}, testNode(4), true, observer)
	require.Equal(t, KindDetail, c.Kind)
	require.Equal(t, models.Box{Min: models.Vec3i{X: 4}, Size: 4}, c.Box)
	require.True(t, c.Active())
	require.False(t, c.Ready())

	require.True(t, c.complete())
	require.True(t, c.Ready())
	require.False(t, c.complete())

	c.Kill()
	c.Kill()
	require.False(t, c.Active())
	require.False(t, c.Ready())

	c.Destroy()
	c.Destroy()
	c.Kill()
	require.Equal(t, []EventType{EventKilled, EventDestroyed}, events)

	t.Run("killed chunks never complete", func(t *testing.T) {
		c := newChunk(octree.NodeID{}, testNode(8), false, nil)
		require.Equal(t, KindProxy, c.Kind)

		c.Kill()
		require.False(t, c.complete())
	})
}

func TestQueue(t *testing.T) {
	t.Run("generated chunks are drained", func(t *testing.T) {
		var events []EventType
		var mutex sync.Mutex

		q := NewQueue(QueueOptions{
			Workers: 2,
			Observer: func(e Event) {
				mutex.Lock()
				defer mutex.Unlock()
				events = append(events, e.Type)
			},
		})
		defer q.Close()

		built := []octree.Chunk{
			q.Build(octree.NodeID{}, testNode(4), true),
			q.Build(octree.NodeID{}, testNode(8), false),
			q.Build(octree.NodeID{}, testNode(16), false),
		}

		drained := drainAll(t, q, 3)
		require.ElementsMatch(t, built, drained)
		for _, c := range drained {
			require.True(t, c.(*Chunk).Ready())
		}

		mutex.Lock()
		defer mutex.Unlock()
		require.Equal(t, []EventType{
			EventCreated,
			EventCreated,
			EventCreated,
			EventCompleted,
			EventCompleted,
			EventCompleted,
		}, events)
	})

	t.Run("killed chunks are skipped", func(t *testing.T) {
		release := make(chan struct{})
		var generated atomic.Int32

		q := NewQueue(QueueOptions{
			Generator: GeneratorFunc(func(ctx context.Context, c *Chunk) error {
				generated.Add(1)
				if c.Kind == KindDetail {
					<-release
				}
				return nil
			}),
		})

		first := q.Build(octree.NodeID{}, testNode(4), true)
		second := q.Build(octree.NodeID{}, testNode(8), false)
		second.Kill()
		close(release)

		drained := drainAll(t, q, 1)
		require.Equal(t, []octree.Chunk{first}, drained)

		q.Close()
		require.Zero(t, q.Drain(func(octree.NodeID, octree.Chunk) {}))
		require.Equal(t, int32(1), generated.Load())
	})

	t.Run("chunks killed while generating are not drained", func(t *testing.T) {
		started := make(chan struct{})
		release := make(chan struct{})

		q := NewQueue(QueueOptions{
			Generator: GeneratorFunc(func(ctx context.Context, c *Chunk) error {
				close(started)
				<-release
				return nil
			}),
		})

		c := q.Build(octree.NodeID{}, testNode(4), true)
		<-started
		c.Kill()
		close(release)

		q.Close()
		require.Zero(t, q.Drain(func(octree.NodeID, octree.Chunk) {}))
	})

	t.Run("failed chunks stay pending", func(t *testing.T) {
		attempted := make(chan struct{}, 1)

		q := NewQueue(QueueOptions{
			Generator: GeneratorFunc(func(ctx context.Context, c *Chunk) error {
				attempted <- struct{}{}
				return errors.New("no content")
			}),
		})

		c := q.Build(octree.NodeID{}, testNode(4), true)
		<-attempted
		q.Close()

		require.Zero(t, q.Drain(func(octree.NodeID, octree.Chunk) {}))
		require.True(t, c.Active())
		require.False(t, c.(*Chunk).Ready())
	})

	t.Run("close interrupts generation", func(t *testing.T) {
		q := NewQueue(QueueOptions{
			Generator: DelayGenerator{Detail: time.Hour},
		})

		q.Build(octree.NodeID{}, testNode(4), true)
		q.Build(octree.NodeID{}, testNode(4), true)
		require.Eventually(t, func() bool {
			return q.Pending() == 1
		}, time.Second, time.Millisecond)

		q.Close()
		q.Close()
		require.Zero(t, q.Pending())
	})

	t.Run("rate limits generation", func(t *testing.T) {
		q := NewQueue(QueueOptions{
			Workers: 4,
			Rate:    rate.Every(25 * time.Millisecond),
			Burst:   1,
		})
		defer q.Close()

		start := time.Now()
		for i := 0; i < 5; i++ {
			q.Build(octree.NodeID{}, testNode(4), true)
		}
		drainAll(t, q, 5)
		require.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	})
}

func TestDelayGenerator(t *testing.T) {
	g := DelayGenerator{Detail: time.Hour}

	t.Run("proxy without delay", func(t *testing.T) {
		c := newChunk(octree.NodeID{}, testNode(8), false, nil)
		require.NoError(t, g.Generate(context.Background(), c))
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		c := newChunk(octree.NodeID{}, testNode(4), true, nil)
		require.ErrorIs(t, g.Generate(ctx, c), context.Canceled)
	})
}

func TestQueueDrivesWorld(t *testing.T) {
	q := NewQueue(QueueOptions{Workers: 4})
	defer q.Close()

	conf := lod.Config{
		Name:          "queue_test",
		MinChunkSize:  4,
		MaxDepth:      3,
		BalanceFactor: 2,
		MinRadius:     4,
	}
	w, err := lod.NewWorld(conf, q)
	require.NoError(t, err)
	defer w.Close()

	viewer := mgl64.Vec3{40, 0, -12}
	require.NoError(t, w.Initialize(mgl64.Vec3{}))

	deadline := time.Now().Add(2 * time.Second)
	for {
		pass, err := w.Update(viewer)
		require.NoError(t, err)
		if !pass.Changed() && pass.Stats.Pending == 0 && pass.Stats.Zombies == 0 {
			break
		}

		require.True(t, time.Now().Before(deadline), "world did not converge")
		time.Sleep(time.Millisecond)
	}

	leaf, ok := w.Tree().LeafAt(models.FromVec3(viewer))
	require.True(t, ok)
	require.Equal(t, conf.MinChunkSize, leaf.Size)
	require.Equal(t, octree.StateReady, leaf.State)
}
