package geometry

import "strings"

// Axis is one of the three fixed rotation axes.
type Axis uint8

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	default:
		return "unknown"
	}
}

func (a Axis) Valid() bool { return a <= AxisZ }

// ParseAxis accepts "x", "y", "z" in any case.
func ParseAxis(s string) (Axis, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "x":
		return AxisX, true
	case "y":
		return AxisY, true
	case "z":
		return AxisZ, true
	}
	return AxisY, false
}

// BladeAxes returns the in-plane axes that carry the width blade and the
// height blade for a fixture rotating about rot.
func BladeAxes(rot Axis) (width, height Axis) {
	switch rot {
	case AxisX:
		return AxisZ, AxisY
	case AxisZ:
		return AxisX, AxisY
	default:
		return AxisX, AxisZ
	}
}

// thirdAxis returns the axis that is neither a nor b.
func thirdAxis(a, b Axis) Axis {
	if a == b {
		return a
	}
	return 3 - a - b
}
