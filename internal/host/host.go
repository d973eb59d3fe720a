// Package host describes the simulation the LOD core observes. The core never
// simulates rotation; it asks the host what a bearing is doing and, at most,
// nudges its angle.
package host

import (
	"github.com/ethaniccc/float32-cube/cube"
	"github.com/google/uuid"

	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod/geometry"
)

// Host is the authoritative simulation. Implementations must be safe to call
// from the tick goroutine while structure events arrive on other goroutines.
type Host interface {
	CurrentTick() int64
	// ProbeFixture reports what sits at anchor. A host that cannot tell
	// (chunk not loaded) returns NotAFixture; callers check ChunkAvailable
	// before treating that as an absence.
	ProbeFixture(region string, anchor cube.Pos) Probe
	// OverrideAngle is best effort and reports whether the bearing took it.
	OverrideAngle(region string, anchor cube.Pos, angle float32) bool
	ChunkAvailable(region string, cx, cz int32) bool
	ActivelySimulated(region string, pos cube.Pos) bool
}

// StructureLister is implemented by hosts that can enumerate the structures
// currently loaded in a region.
type StructureLister interface {
	LoadedStructures(region string) []Structure
}

// Probe is the result of ProbeFixture: NotAFixture or RotatingFixture.
type Probe interface {
	probe()
}

type NotAFixture struct{}

// RotatingFixture is a live bearing. Speed is in degrees per tick.
type RotatingFixture struct {
	Axis  geometry.Axis
	Speed float32
	Angle float32
}

func (NotAFixture) probe()     {}
func (RotatingFixture) probe() {}

// AsRotating unwraps p when it is a live bearing.
func AsRotating(p Probe) (RotatingFixture, bool) {
	r, ok := p.(RotatingFixture)
	return r, ok
}

// Structure is a mobile structure reported by a structure-loaded event.
// Blocks are anchor-relative.
type Structure struct {
	ID       uuid.UUID
	RegionID string
	Anchor   cube.Pos
	Blocks   []Block
	// Rotating is set when the host identified the structure as a
	// windmill-class bearing assembly.
	Rotating *Rotation
}

type Block struct {
	X, Y, Z int32
	State   []byte
	BiomeID string
}

type Rotation struct {
	Axis   geometry.Axis
	Facing string
	Speed  float32
	Angle  float32
}

// Bounds returns the anchor-relative block bounds of s, inclusive of the
// full extent of every block. A structure with no blocks has zero bounds.
func (s Structure) Bounds() cube.BBox {
	if len(s.Blocks) == 0 {
		return cube.Box(0, 0, 0, 0, 0, 0)
	}
	b := s.Blocks[0]
	minX, minY, minZ := b.X, b.Y, b.Z
	maxX, maxY, maxZ := b.X, b.Y, b.Z
	for _, b := range s.Blocks[1:] {
		minX, maxX = min(minX, b.X), max(maxX, b.X)
		minY, maxY = min(minY, b.Y), max(maxY, b.Y)
		minZ, maxZ = min(minZ, b.Z), max(maxZ, b.Z)
	}
	return cube.Box(float32(minX), float32(minY), float32(minZ), float32(maxX+1), float32(maxY+1), float32(maxZ+1))
}
