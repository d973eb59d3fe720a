package broadcast

import "github.com/chewxy/math32"

type Config struct {
	BaseIntervalTicks int64
	StrideChunks      int
	// MaxRenderDistance is in blocks. It caps the pacing distance and is
	// used as the distance to observers in another region.
	MaxRenderDistance float32
	// ViewDistanceChunks is used for observers that did not report one.
	ViewDistanceChunks int
}

// Interval is the number of ticks an observer at distance blocks must wait
// between updates:
//
//	base * (1 + ceil(max(0, min(dChunks, maxChunks) - view) / stride))
func Interval(cfg Config, distance float32, viewChunks int) int64 {
	base := cfg.BaseIntervalTicks
	if base < 1 {
		base = 1
	}
	stride := cfg.StrideChunks
	if stride < 1 {
		stride = 1
	}
	if !(distance >= 0) {
		distance = cfg.MaxRenderDistance
	}
	d := math32.Min(distance, cfg.MaxRenderDistance) / 16
	over := d - float32(viewChunks)
	if over <= 0 {
		return base
	}
	steps := int64(math32.Ceil(over / float32(stride)))
	return base * (1 + steps)
}
