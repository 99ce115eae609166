package octree

const (
	ErrTypeInvalidConfig     = "octree_invalid_config"
	ErrTypeInitialized       = "octree_initialized"
	ErrTypeArenaExhausted    = "octree_arena_exhausted"
	ErrTypeRegistryExhausted = "octree_registry_exhausted"
	ErrTypeStaleNode         = "octree_stale_node"
	ErrTypeChunkNotPending   = "octree_chunk_not_pending"
	ErrTypeNotRoot           = "octree_not_root"
	ErrTypeCorruptedRing     = "octree_corrupted_ring"
	ErrTypeDoubleFree        = "octree_double_free"
	ErrTypeClosed            = "octree_closed"
)
