package main

import (
	"fmt"

	"github.com/ethaniccc/float32-cube/cube"
	"github.com/google/uuid"

	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/host"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/host/memhost"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod/geometry"
)

var demoNamespace = uuid.MustParse("6f1d3c1e-8d2a-4b0e-9a57-0c3f4d5e6a7b")

// seedDemo places n windmills spaced 512 blocks apart along x, each next to
// a small mill house, so the server has something to track without a game.
func seedDemo(h *memhost.Host, region string, n int) {
	for i := 0; i < n; i++ {
		anchor := cube.Pos{i * 512, 96, 0}
		axis := geometry.AxisZ
		facing := "south"
		if i%2 == 1 {
			axis, facing = geometry.AxisX, "east"
		}
		h.AddStructure(host.Structure{
			ID:       uuid.NewSHA1(demoNamespace, []byte(fmt.Sprintf("%s/windmill/%d", region, i))),
			RegionID: region,
			Anchor:   anchor,
			Blocks:   sail(axis, int32(4+i%3)),
			Rotating: &host.Rotation{Axis: axis, Facing: facing, Speed: 0.25 * float32(1+i%4)},
		})
		h.AddStructure(host.Structure{
			ID:       uuid.NewSHA1(demoNamespace, []byte(fmt.Sprintf("%s/house/%d", region, i))),
			RegionID: region,
			Anchor:   cube.Pos{anchor.X() + 3, anchor.Y() - 20, anchor.Z() + 3},
			Blocks:   house(),
		})
	}
}

// sail returns a cross of blocks with arms of length r in the rotation plane.
func sail(axis geometry.Axis, r int32) []host.Block {
	var out []host.Block
	for d := -r; d <= r; d++ {
		switch axis {
		case geometry.AxisX:
			out = append(out, host.Block{Z: d, State: []byte("sail")}, host.Block{Y: d, State: []byte("sail")})
		default:
			out = append(out, host.Block{X: d, State: []byte("sail")}, host.Block{Y: d, State: []byte("sail")})
		}
	}
	return out
}

func house() []host.Block {
	var out []host.Block
	for x := int32(0); x < 5; x++ {
		for z := int32(0); z < 5; z++ {
			out = append(out, host.Block{X: x, Z: z, State: []byte("planks"), BiomeID: "minecraft:plains"})
		}
	}
	return out
}
