package octree

// RootDim returns the number of roots per axis used to tile the world around
// the viewer for the given balance factor.
func RootDim(balanceFactor int) int {
	if balanceFactor == 1 {
		return 3
	}
	return 2
}

// GetMaxNodes returns an upper bound of the number of nodes simultaneously
// live in a tree of the given depth. The radius is expressed in minimum chunk
// size units.
//
// At depth d a node of edge s=2^d only splits when closer to the viewer than
// its balance threshold, so at most (2*threshold/s + 2)^3 grid aligned nodes
// split per level. The bound is doubled so that the killed structure kept
// while replacements generate fits as well. When generation lags further
// behind, splits are deferred rather than exhausting the arena. A tree
// without killed structure holds at most half of the bound, so deferred
// splits always proceed once generation catches up.
func GetMaxNodes(depth, balanceFactor, radius int) int {
	if depth < 0 || balanceFactor < 1 || radius < 0 {
		return 0
	}

	dim := RootDim(balanceFactor)
	roots := dim * dim * dim

	total := roots
	levelCount := roots

	for d := depth; d > 0; d-- {
		s := 1 << d
		threshold := ceilDiv(s, 1<<(balanceFactor-1)) + radius
		perAxis := 2*threshold/s + 2

		split := min(perAxis*perAxis*perAxis, levelCount)
		levelCount = split * 8
		total += levelCount
	}

	return total * 2
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
