// Package fixture holds the tracked rotation records for windmill-class
// fixtures, keyed by fixture id.
package fixture

import (
	"github.com/ethaniccc/float32-cube/cube"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"

	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod/geometry"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/sim/logic/mathx"
)

// NoRenderHandle marks a record with no render group bound.
const NoRenderHandle int64 = -1

type Record struct {
	ID       uuid.UUID
	RegionID string
	Anchor   cube.Pos
	Axis     geometry.Axis
	Facing   Facing

	PlaneWidth  float32
	PlaneHeight float32
	PlaneDepth  float32
	// Blade is derived from the plane dimensions by the store.
	Blade geometry.Blade

	Speed float32 // degrees per tick
	Angle float32 // degrees in [0,360)

	TickRegistered int64
	LastSyncTick   int64
	Stale          bool
	RenderHandle   int64
}

// New returns a record with defaults for the fields a caller usually omits.
func New(id uuid.UUID, region string, anchor cube.Pos, axis geometry.Axis) Record {
	return Record{
		ID:           id,
		RegionID:     region,
		Anchor:       anchor,
		Axis:         axis,
		Facing:       PositiveFacing(axis),
		PlaneWidth:   1,
		PlaneHeight:  1,
		PlaneDepth:   1,
		RenderHandle: NoRenderHandle,
	}
}

// PredictedAngle extrapolates the angle to tick from the last sync.
func (r Record) PredictedAngle(tick int64) float32 {
	return mathx.WrapDegrees(r.Angle + r.Speed*float32(tick-r.LastSyncTick))
}

// Advance moves the record forward by ticks without touching LastSyncTick.
func (r Record) Advance(ticks float32) float32 {
	return mathx.WrapDegrees(r.Angle + r.Speed*ticks)
}

// SameRegistration reports whether o describes the same physical fixture
// setup, so only its motion state needs refreshing.
func (r Record) SameRegistration(o Record) bool {
	return r.RegionID == o.RegionID &&
		r.Anchor == o.Anchor &&
		r.Axis == o.Axis &&
		r.Facing == o.Facing &&
		r.PlaneWidth == o.PlaneWidth &&
		r.PlaneHeight == o.PlaneHeight &&
		r.PlaneDepth == o.PlaneDepth
}

// RenderAnchor is the block one step in front of the bearing.
func (r Record) RenderAnchor() cube.Pos {
	o := r.Facing.Offset()
	return cube.Pos{r.Anchor.X() + o.X(), r.Anchor.Y() + o.Y(), r.Anchor.Z() + o.Z()}
}

// RenderOrigin is the centre of the render anchor block.
func (r Record) RenderOrigin() mgl32.Vec3 {
	a := r.RenderAnchor()
	return mgl32.Vec3{float32(a.X()) + 0.5, float32(a.Y()) + 0.5, float32(a.Z()) + 0.5}
}

// Valid reports whether r can be stored.
func (r Record) Valid() bool {
	return r.ID != uuid.Nil && r.RegionID != "" && r.Axis.Valid() && r.Facing.Valid()
}

// PlaneSizeForBounds returns the plane envelope of a structure rotating about
// axis, using the same in-plane axes the blades are laid out on.
func PlaneSizeForBounds(axis geometry.Axis, bounds cube.BBox) (width, height, depth float32) {
	size := bounds.Max().Sub(bounds.Min())
	wa, ha := geometry.BladeAxes(axis)
	return size[wa], size[ha], size[axis]
}
