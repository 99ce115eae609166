package octree

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Digest returns a hash of the tree shape: the region and state of every
// node in depth first order. Two trees with the same digest are structurally
// equal, which the driver uses to detect that balancing reached a fixed
// point.
func (t *Tree) Digest() uint64 {
	h := xxhash.New()
	buf := make([]byte, 0, 40)

	t.Walk(func(n Node) bool {
		buf = buf[:0]
		buf = binary.LittleEndian.AppendUint64(buf, uint64(n.Origin.X))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(n.Origin.Y))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(n.Origin.Z))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(n.Size))
		buf = append(buf, byte(n.State))
		h.Write(buf)
		return true
	})

	return h.Sum64()
}
