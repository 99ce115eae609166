package lod

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/lodtree/octree"
)

const (
	ErrTypeInvalidConfig  = "lod_invalid_config"
	ErrTypeNotInitialized = "lod_not_initialized"
)

// The largest edge length a root may have. Keeps every computation on
// coordinates far from int64 overflow.
const maxChunkSizeLimit = int64(1) << 40

// Config describes the level of detail layout of a world.
type Config struct {
	// The name used to label metrics and logs.
	Name string `json:"name"`

	// The edge length of the most detailed chunks.
	MinChunkSize int64 `json:"min_chunk_size"`

	// The number of times a root is halved to reach MinChunkSize.
	MaxDepth int `json:"max_depth"`

	// How fast detail decreases with distance: node size doubles every
	// BalanceFactor rings of distance.
	BalanceFactor int `json:"balance_factor"`

	// The distance around the viewer where detail is guaranteed regardless
	// of node size.
	MinRadius int64 `json:"min_radius"`
}

// DefaultConfig returns a config suitable for a voxel world with 16 unit
// detail chunks.
func DefaultConfig() Config {
	return Config{
		Name:          "world",
		MinChunkSize:  16,
		MaxDepth:      6,
		BalanceFactor: 2,
		MinRadius:     32,
	}
}

func (c Config) Validate() error {
	switch {
	case c.MinChunkSize <= 0:
		return errors.New("min chunk size must be positive").
			WithType(ErrTypeInvalidConfig).
			WithTag("min_chunk_size", c.MinChunkSize)

	case c.MaxDepth < 0 || c.MaxDepth > 30:
		return errors.New("max depth out of range").
			WithType(ErrTypeInvalidConfig).
			WithTag("max_depth", c.MaxDepth)

	case c.MinChunkSize > maxChunkSizeLimit>>c.MaxDepth:
		return errors.New("root chunk size too large").
			WithType(ErrTypeInvalidConfig).
			WithTag("min_chunk_size", c.MinChunkSize).
			WithTag("max_depth", c.MaxDepth)

	case c.BalanceFactor < 1 || c.BalanceFactor > 8:
		return errors.New("balance factor out of range").
			WithType(ErrTypeInvalidConfig).
			WithTag("balance_factor", c.BalanceFactor)

	case c.MinRadius < 0:
		return errors.New("min radius must not be negative").
			WithType(ErrTypeInvalidConfig).
			WithTag("min_radius", c.MinRadius)

	default:
		return nil
	}
}

// MaxChunkSize returns the edge length of a root.
func (c Config) MaxChunkSize() int64 {
	return c.MinChunkSize << c.MaxDepth
}

// RootDim returns the number of roots per axis.
func (c Config) RootDim() int {
	return octree.RootDim(c.BalanceFactor)
}

// RootCount returns the number of roots.
func (c Config) RootCount() int {
	d := c.RootDim()
	return d * d * d
}

// TileSize returns the edge length of the region covered by all the roots.
// A root slot only ever moves by multiples of it.
func (c Config) TileSize() int64 {
	return int64(c.RootDim()) * c.MaxChunkSize()
}

// Capacity returns the number of nodes a world tree needs.
func (c Config) Capacity() int {
	radius := (c.MinRadius + c.MinChunkSize - 1) / c.MinChunkSize
	return octree.GetMaxNodes(c.MaxDepth, c.BalanceFactor, int(radius))
}
