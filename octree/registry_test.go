package octree

import (
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	t.Run("keeps insertion order", func(t *testing.T) {
		r := newRegistry(4)

		c1, c2, c3 := &fakeChunk{}, &fakeChunk{}, &fakeChunk{}
		e1, err := r.insert(c1, 1)
		require.NoError(t, err)
		e2, err := r.insert(c2, 2)
		require.NoError(t, err)
		_, err = r.insert(c3, 3)
		require.NoError(t, err)

		require.Equal(t, []Chunk{c1, c2, c3}, registryChunks(&r))

		require.Equal(t, c2, r.remove(e2))
		require.Equal(t, []Chunk{c1, c3}, registryChunks(&r))

		require.Equal(t, c1, r.remove(e1))
		require.Equal(t, []Chunk{c3}, registryChunks(&r))
		require.Equal(t, 1, r.live)
	})

	t.Run("recycles entries", func(t *testing.T) {
		r := newRegistry(1)

		e, err := r.insert(&fakeChunk{}, 1)
		require.NoError(t, err)

		_, err = r.insert(&fakeChunk{}, 1)
		require.True(t, errors.IsType(err, ErrTypeRegistryExhausted))

		r.remove(e)
		again, err := r.insert(&fakeChunk{}, 1)
		require.NoError(t, err)
		require.Equal(t, e, again)
	})

	t.Run("allows removing the visited entry", func(t *testing.T) {
		r := newRegistry(8)
		for i := 0; i < 8; i++ {
			_, err := r.insert(&fakeChunk{}, uint32(i+1))
			require.NoError(t, err)
		}

		visited := 0
		r.each(func(idx uint32, e *entry) {
			visited++
			r.remove(idx)
		})
		require.Equal(t, 8, visited)
		require.Zero(t, r.live)
		require.Empty(t, registryChunks(&r))
	})

	t.Run("panics on double remove", func(t *testing.T) {
		r := newRegistry(2)

		e, err := r.insert(&fakeChunk{}, 1)
		require.NoError(t, err)
		r.remove(e)
		require.Panics(t, func() { r.remove(e) })
	})
}

func registryChunks(r *registry) []Chunk {
	var chunks []Chunk
	r.each(func(_ uint32, e *entry) {
		chunks = append(chunks, e.chunk)
	})
	return chunks
}
