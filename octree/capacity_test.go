package octree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootDim(t *testing.T) {
	require.Equal(t, 3, RootDim(1))
	require.Equal(t, 2, RootDim(2))
	require.Equal(t, 2, RootDim(3))
}

func TestGetMaxNodes(t *testing.T) {
	t.Run("single level", func(t *testing.T) {
		// 27 roots, at most 27 of them split into 8 children.
		require.Equal(t, (27+27*8)*2, GetMaxNodes(1, 1, 0))
	})

	t.Run("flat tree", func(t *testing.T) {
		require.Equal(t, 27*2, GetMaxNodes(0, 1, 0))
		require.Equal(t, 8*2, GetMaxNodes(0, 2, 4))
	})

	t.Run("invalid input", func(t *testing.T) {
		require.Zero(t, GetMaxNodes(-1, 1, 0))
		require.Zero(t, GetMaxNodes(3, 0, 0))
		require.Zero(t, GetMaxNodes(3, 1, -1))
	})

	t.Run("grows with radius and shrinks with balance factor", func(t *testing.T) {
		require.Less(t, GetMaxNodes(6, 1, 0), GetMaxNodes(6, 1, 8))
		require.Less(t, GetMaxNodes(6, 2, 0), GetMaxNodes(6, 1, 0))
	})

	t.Run("is independent of depth beyond the balanced region", func(t *testing.T) {
		// Deep levels far from the viewer never split, so each extra level
		// only adds a bounded number of nodes.
		d10 := GetMaxNodes(10, 2, 2)
		d11 := GetMaxNodes(11, 2, 2)
		d12 := GetMaxNodes(12, 2, 2)
		require.Equal(t, d11-d10, d12-d11)
	})
}
