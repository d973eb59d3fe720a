package override

import "github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/sim/logic/mathx"

// ChunkKey packs a chunk column as cx<<32 | cz.
type ChunkKey uint64

func PackChunk(cx, cz int32) ChunkKey {
	return ChunkKey(uint64(uint32(cx))<<32 | uint64(uint32(cz)))
}

// KeyFor returns the key of the chunk holding block column (x,z).
func KeyFor(x, z int) ChunkKey {
	return PackChunk(int32(mathx.ChunkCoord(x)), int32(mathx.ChunkCoord(z)))
}

func (k ChunkKey) Coords() (cx, cz int32) {
	return int32(uint32(uint64(k) >> 32)), int32(uint32(uint64(k)))
}
