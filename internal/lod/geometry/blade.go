// Package geometry builds the low-detail cross mesh for rotating fixtures.
//
// All functions are pure: the same blade, axis and angle always produce the
// same boxes.
package geometry

import (
	"github.com/chewxy/math32"
	"github.com/ethaniccc/float32-cube/cube"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/sim/logic/mathx"
)

type Config struct {
	LengthScale float32 `yaml:"length_scale" json:"length_scale"`
	LengthTrim  float32 `yaml:"length_trim" json:"length_trim"`
	MinLength   float32 `yaml:"min_length" json:"min_length"`

	// Blade thickness is the smaller plane extent times ThicknessScale,
	// floored at MinThickness. DepthFactor > 0 also lets plane depth widen it.
	ThicknessScale float32 `yaml:"thickness_scale" json:"thickness_scale"`
	MinThickness   float32 `yaml:"min_thickness" json:"min_thickness"`
	DepthFactor    float32 `yaml:"depth_factor" json:"depth_factor"`

	SegmentLength float32 `yaml:"segment_length" json:"segment_length"`
	MinSegments   int     `yaml:"min_segments" json:"min_segments"`
	MaxSegments   int     `yaml:"max_segments" json:"max_segments"`

	MaxThicknessScale float32 `yaml:"max_thickness_scale" json:"max_thickness_scale"`
	// SizeFactor grows MaxThicknessScale for blades longer than 9 blocks.
	SizeFactor float32 `yaml:"size_factor" json:"size_factor"`
}

func DefaultConfig() Config {
	return Config{
		LengthScale:       1.0,
		LengthTrim:        2.0,
		MinLength:         1.0,
		ThicknessScale:    0.045,
		MinThickness:      0.15,
		SegmentLength:     1.0,
		MinSegments:       6,
		MaxSegments:       24,
		MaxThicknessScale: 1.4,
	}
}

// Blade is the cached per-fixture geometry derived from plane dimensions.
type Blade struct {
	WidthLength    float32 `json:"width_length"`
	HeightLength   float32 `json:"height_length"`
	Thickness      float32 `json:"thickness"`
	WidthSegments  int     `json:"width_segments"`
	HeightSegments int     `json:"height_segments"`
}

func (b Blade) IsZero() bool { return b == Blade{} }

// BladeForPlane derives blade lengths, thickness and segment counts from a
// fixture's plane envelope.
func BladeForPlane(width, height, depth float32, cfg Config) Blade {
	wl := BladeLength(width, cfg)
	hl := BladeLength(height, cfg)

	thick := math32.Min(width, height) * cfg.ThicknessScale
	if cfg.DepthFactor > 0 && depth > 0 {
		thick = math32.Max(thick, depth*cfg.DepthFactor)
	}
	if !(thick >= cfg.MinThickness) {
		thick = cfg.MinThickness
	}

	return Blade{
		WidthLength:    wl,
		HeightLength:   hl,
		Thickness:      thick,
		WidthSegments:  SegmentCount(wl, cfg),
		HeightSegments: SegmentCount(hl, cfg),
	}
}

// BladeLength is size*LengthScale-LengthTrim, never below MinLength.
func BladeLength(size float32, cfg Config) float32 {
	l := size*cfg.LengthScale - cfg.LengthTrim
	if !(l >= cfg.MinLength) {
		return cfg.MinLength
	}
	return l
}

// SegmentCount is clamp(round(length/SegmentLength), MinSegments, MaxSegments).
func SegmentCount(length float32, cfg Config) int {
	target := cfg.SegmentLength
	if target <= 0 {
		target = 1
	}
	lo, hi := cfg.MinSegments, cfg.MaxSegments
	if lo < 1 {
		lo = 1
	}
	if hi < lo {
		hi = lo
	}
	ratio := length / target
	if !(ratio > 0) {
		return lo
	}
	if ratio >= float32(hi) {
		return hi
	}
	return mathx.ClampInt(int(math32.Round(ratio)), lo, hi)
}

// ThicknessScale is 1+(maxScale-1)*(cos(4θ)+1)/2. It peaks at every multiple
// of 90° where the cross is seen flattest.
func ThicknessScale(angle, maxScale float32) float32 {
	w := (math32.Cos(4*mathx.DegToRad(angle)) + 1) / 2
	return 1 + (maxScale-1)*w
}

func (cfg Config) maxScaleFor(length float32) float32 {
	return cfg.MaxThicknessScale * (1 + cfg.SizeFactor*(length/9))
}

// CrossBoxes builds both blades about the origin, rotated by angle about
// axis. Each segment is re-bounded to an axis-aligned box after rotation.
func CrossBoxes(b Blade, axis Axis, angle float32, cfg Config) []cube.BBox {
	if b.WidthLength <= 0 && b.HeightLength <= 0 {
		return nil
	}
	wAxis, hAxis := BladeAxes(axis)
	half := b.Thickness / 2

	boxes := make([]cube.BBox, 0, b.WidthSegments+b.HeightSegments)
	boxes = appendSegments(boxes, wAxis, axis, b.WidthLength, b.WidthSegments, half, ThicknessScale(angle, cfg.maxScaleFor(b.WidthLength)))
	boxes = appendSegments(boxes, hAxis, axis, b.HeightLength, b.HeightSegments, half, ThicknessScale(angle, cfg.maxScaleFor(b.HeightLength)))

	rot := rotationFor(axis, angle)
	for i, box := range boxes {
		boxes[i] = rebound(box, rot)
	}
	return boxes
}

func appendSegments(boxes []cube.BBox, bladeAxis, rotAxis Axis, length float32, segments int, half, scale float32) []cube.BBox {
	if length <= 0 || segments <= 0 {
		return boxes
	}
	segLen := length / float32(segments)
	halfSeg := segLen / 2
	start := -length/2 + halfSeg

	var ext mgl32.Vec3
	for i := range ext {
		ext[i] = half
	}
	ext[thirdAxis(rotAxis, bladeAxis)] *= scale

	for i := 0; i < segments; i++ {
		off := start + segLen*float32(i)
		lo := ext.Mul(-1)
		hi := ext
		lo[bladeAxis] = off - halfSeg
		hi[bladeAxis] = off + halfSeg
		boxes = append(boxes, cube.Box(lo.X(), lo.Y(), lo.Z(), hi.X(), hi.Y(), hi.Z()))
	}
	return boxes
}

func rotationFor(axis Axis, angle float32) mgl32.Mat3 {
	rad := mathx.DegToRad(angle)
	switch axis {
	case AxisX:
		return mgl32.Rotate3DX(rad)
	case AxisZ:
		return mgl32.Rotate3DZ(rad)
	default:
		return mgl32.Rotate3DY(rad)
	}
}

// RotateBox rotates all eight corners of box about axis and returns their
// axis-aligned bounds.
func RotateBox(box cube.BBox, axis Axis, angle float32) cube.BBox {
	return rebound(box, rotationFor(axis, angle))
}

func rebound(box cube.BBox, rot mgl32.Mat3) cube.BBox {
	mn, mx := box.Min(), box.Max()
	lo := mgl32.Vec3{math32.Inf(1), math32.Inf(1), math32.Inf(1)}
	hi := mgl32.Vec3{math32.Inf(-1), math32.Inf(-1), math32.Inf(-1)}
	for _, x := range [2]float32{mn.X(), mx.X()} {
		for _, y := range [2]float32{mn.Y(), mx.Y()} {
			for _, z := range [2]float32{mn.Z(), mx.Z()} {
				p := rot.Mul3x1(mgl32.Vec3{x, y, z})
				for i := 0; i < 3; i++ {
					lo[i] = math32.Min(lo[i], p[i])
					hi[i] = math32.Max(hi[i], p[i])
				}
			}
		}
	}
	return cube.Box(lo.X(), lo.Y(), lo.Z(), hi.X(), hi.Y(), hi.Z())
}
