package lod

import (
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	t.Run("default config is valid", func(t *testing.T) {
		require.NoError(t, DefaultConfig().Validate())
	})

	tests := []struct {
		name   string
		update func(*Config)
	}{
		{
			name:   "zero min chunk size",
			update: func(c *Config) { c.MinChunkSize = 0 },
		},
		{
			name:   "negative max depth",
			update: func(c *Config) { c.MaxDepth = -1 },
		},
		{
			name:   "max depth too large",
			update: func(c *Config) { c.MaxDepth = 31 },
		},
		{
			name: "root size overflow",
			update: func(c *Config) {
				c.MinChunkSize = 1 << 20
				c.MaxDepth = 30
			},
		},
		{
			name:   "zero balance factor",
			update: func(c *Config) { c.BalanceFactor = 0 },
		},
		{
			name:   "balance factor too large",
			update: func(c *Config) { c.BalanceFactor = 9 },
		},
		{
			name:   "negative min radius",
			update: func(c *Config) { c.MinRadius = -1 },
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			conf := DefaultConfig()
			test.update(&conf)

			err := conf.Validate()
			require.Error(t, err)
			require.True(t, errors.IsType(err, ErrTypeInvalidConfig))
		})
	}
}

func TestConfigLayout(t *testing.T) {
	conf := Config{
		MinChunkSize:  4,
		MaxDepth:      3,
		BalanceFactor: 2,
		MinRadius:     4,
	}
	require.Equal(t, int64(32), conf.MaxChunkSize())
	require.Equal(t, 2, conf.RootDim())
	require.Equal(t, 8, conf.RootCount())
	require.Equal(t, int64(64), conf.TileSize())
	require.Equal(t, 1600, conf.Capacity())

	conf.BalanceFactor = 1
	require.Equal(t, 3, conf.RootDim())
	require.Equal(t, 27, conf.RootCount())
	require.Equal(t, int64(96), conf.TileSize())
}

func TestConfigCapacity(t *testing.T) {
	t.Run("grows with the radius", func(t *testing.T) {
		conf := DefaultConfig()
		small := conf.Capacity()

		conf.MinRadius *= 4
		require.Greater(t, conf.Capacity(), small)
	})

	t.Run("partial radius rounds up", func(t *testing.T) {
		conf := DefaultConfig()
		conf.MinRadius = 1
		partial := conf.Capacity()

		conf.MinRadius = conf.MinChunkSize
		require.Equal(t, conf.Capacity(), partial)
	})
}
