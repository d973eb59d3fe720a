package render

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// Material is the surface hint the far renderer shades a box with.
type Material uint8

const (
	MaterialUnknown Material = iota
	MaterialLeaves
	MaterialStone
	MaterialWood
	MaterialMetal
	MaterialDirt
	MaterialLava
	MaterialDeepslate
	MaterialSnow
	MaterialSand
	MaterialTerracotta
	MaterialNetherStone
	MaterialWater
	MaterialGrass
	MaterialAir
	MaterialIlluminated
)

var materialNames = [...]string{
	"unknown", "leaves", "stone", "wood", "metal", "dirt", "lava", "deepslate",
	"snow", "sand", "terracotta", "nether_stone", "water", "grass", "air", "illuminated",
}

func (m Material) String() string {
	if int(m) < len(materialNames) {
		return materialNames[m]
	}
	return "unknown"
}

// ParseMaterial accepts a material name in any case.
func ParseMaterial(s string) (Material, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range materialNames {
		if n == s {
			return Material(i), true
		}
	}
	return MaterialUnknown, false
}

// DefaultBladeColor is the weathered wood tone of windmill sails.
var DefaultBladeColor = color.RGBA{R: 149, G: 129, B: 95, A: 255}

// ParseColor reads "#rrggbb" or "rrggbb".
func ParseColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("render: color %q: want #rrggbb", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("render: color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}
