package fixture

import (
	"strings"

	"github.com/ethaniccc/float32-cube/cube"

	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod/geometry"
)

// Facing is the direction a fixture's bearing faces.
type Facing uint8

const (
	FacingDown Facing = iota
	FacingUp
	FacingNorth
	FacingSouth
	FacingWest
	FacingEast
)

var facingNames = [...]string{"down", "up", "north", "south", "west", "east"}

func (f Facing) String() string {
	if int(f) < len(facingNames) {
		return facingNames[f]
	}
	return "unknown"
}

func (f Facing) Valid() bool { return f <= FacingEast }

// ParseFacing accepts direction names in any case.
func ParseFacing(s string) (Facing, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range facingNames {
		if n == s {
			return Facing(i), true
		}
	}
	return FacingUp, false
}

// Offset is the unit block step in the facing direction.
func (f Facing) Offset() cube.Pos {
	switch f {
	case FacingDown:
		return cube.Pos{0, -1, 0}
	case FacingUp:
		return cube.Pos{0, 1, 0}
	case FacingNorth:
		return cube.Pos{0, 0, -1}
	case FacingSouth:
		return cube.Pos{0, 0, 1}
	case FacingWest:
		return cube.Pos{-1, 0, 0}
	case FacingEast:
		return cube.Pos{1, 0, 0}
	}
	return cube.Pos{}
}

func (f Facing) Axis() geometry.Axis {
	switch f {
	case FacingWest, FacingEast:
		return geometry.AxisX
	case FacingNorth, FacingSouth:
		return geometry.AxisZ
	default:
		return geometry.AxisY
	}
}

// PositiveFacing is the facing pointing along +axis.
func PositiveFacing(a geometry.Axis) Facing {
	switch a {
	case geometry.AxisX:
		return FacingEast
	case geometry.AxisZ:
		return FacingSouth
	default:
		return FacingUp
	}
}
