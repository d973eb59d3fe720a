package mathx

import "github.com/chewxy/math32"

func AbsInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func ClampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// ChunkCoord maps a block coordinate to its 16-wide column index.
func ChunkCoord(v int) int { return v >> 4 }

// WrapDegrees normalizes an angle into [0,360). Non-finite input maps to 0.
func WrapDegrees(a float32) float32 {
	if math32.IsNaN(a) || math32.IsInf(a, 0) {
		return 0
	}
	w := math32.Mod(a, 360)
	if w < 0 {
		w += 360
	}
	// -tiny + 360 rounds up to 360 in float32.
	if w >= 360 {
		w = 0
	}
	return w
}

// AngularDistance is the shortest distance between two angles, in [0,180].
func AngularDistance(a, b float32) float32 {
	d := math32.Abs(WrapDegrees(a) - WrapDegrees(b))
	if d > 180 {
		d = 360 - d
	}
	return d
}

// DegToRad converts degrees to radians.
func DegToRad(deg float32) float32 { return deg * (math32.Pi / 180) }
