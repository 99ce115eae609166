package featureflag

type Flag string

const (
	FlagDisableChunkCreateBroadcast   Flag = "DISABLE_CHUNK_CREATE_BROADCAST"
	FlagDisableChunkCompleteBroadcast Flag = "DISABLE_CHUNK_COMPLETE_BROADCAST"
	FlagDisableChunkKillBroadcast     Flag = "DISABLE_CHUNK_KILL_BROADCAST"
	FlagDisableChunkDestroyBroadcast  Flag = "DISABLE_CHUNK_DESTROY_BROADCAST"
	FlagDisableFrameBroadcast         Flag = "DISABLE_FRAME_BROADCAST"
)
