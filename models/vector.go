package models

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Vec3i is an integer position in world space. All octree arithmetic is done
// on integers so that root tiling never drifts.
type Vec3i struct {
	X int64 `json:"x"`
	Y int64 `json:"y"`
	Z int64 `json:"z"`
}

// FromVec3 returns the integer position of the cell that contains v.
func FromVec3(v mgl64.Vec3) Vec3i {
	return Vec3i{
		X: int64(math.Floor(v[0])),
		Y: int64(math.Floor(v[1])),
		Z: int64(math.Floor(v[2])),
	}
}

func (v Vec3i) Add(o Vec3i) Vec3i {
	return Vec3i{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

func (v Vec3i) Sub(o Vec3i) Vec3i {
	return Vec3i{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

func (v Vec3i) Mul(s int64) Vec3i {
	return Vec3i{v.X * s, v.Y * s, v.Z * s}
}

// FloorDiv divides every component by d, rounding towards negative infinity.
func (v Vec3i) FloorDiv(d int64) Vec3i {
	return Vec3i{FloorDiv(v.X, d), FloorDiv(v.Y, d), FloorDiv(v.Z, d)}
}

// FloorMod returns the non negative remainder of every component by d.
func (v Vec3i) FloorMod(d int64) Vec3i {
	return Vec3i{FloorMod(v.X, d), FloorMod(v.Y, d), FloorMod(v.Z, d)}
}

// Vec3 returns the position as a float vector.
func (v Vec3i) Vec3() mgl64.Vec3 {
	return mgl64.Vec3{float64(v.X), float64(v.Y), float64(v.Z)}
}

func (v Vec3i) String() string {
	return fmt.Sprintf("(%d, %d, %d)", v.X, v.Y, v.Z)
}

// FloorDiv returns a / b rounded towards negative infinity. b must be positive.
func FloorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && a < 0 {
		q--
	}
	return q
}

// FloorMod returns a modulo b in [0, b). b must be positive.
func FloorMod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// Box is an axis aligned cube spanning [Min, Min+Size) on every axis.
type Box struct {
	Min  Vec3i `json:"min"`
	Size int64 `json:"size"`
}

// Max returns the exclusive upper corner of the box.
func (b Box) Max() Vec3i {
	return Vec3i{b.Min.X + b.Size, b.Min.Y + b.Size, b.Min.Z + b.Size}
}

// Contains reports whether p lies inside the box.
func (b Box) Contains(p Vec3i) bool {
	max := b.Max()
	return p.X >= b.Min.X && p.X < max.X &&
		p.Y >= b.Min.Y && p.Y < max.Y &&
		p.Z >= b.Min.Z && p.Z < max.Z
}

// Overlaps reports whether both boxes share at least one cell.
func (b Box) Overlaps(o Box) bool {
	bmax, omax := b.Max(), o.Max()
	return b.Min.X < omax.X && o.Min.X < bmax.X &&
		b.Min.Y < omax.Y && o.Min.Y < bmax.Y &&
		b.Min.Z < omax.Z && o.Min.Z < bmax.Z
}

// Distance returns the Chebyshev distance between p and the box. A point
// inside the box, or on its upper faces, is at distance 0.
func (b Box) Distance(p Vec3i) int64 {
	max := b.Max()
	return max3(
		axisDistance(p.X, b.Min.X, max.X),
		axisDistance(p.Y, b.Min.Y, max.Y),
		axisDistance(p.Z, b.Min.Z, max.Z),
	)
}

func axisDistance(v, lo, hi int64) int64 {
	switch {
	case v < lo:
		return lo - v
	case v > hi:
		return v - hi
	default:
		return 0
	}
}

func max3(a, b, c int64) int64 {
	return max(a, max(b, c))
}
