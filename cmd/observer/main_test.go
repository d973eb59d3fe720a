package main

import (
	"testing"

	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lodproto"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/sim/tuning"
)

func TestWSURL(t *testing.T) {
	cases := map[string]string{
		"http://127.0.0.1:8080": "ws://127.0.0.1:8080/v1/lod/ws",
		"https://lod.example/":  "wss://lod.example/v1/lod/ws",
		"ws://already.example":  "ws://already.example/v1/lod/ws",
	}
	for in, want := range cases {
		if got := wsURL(in); got != want {
			t.Fatalf("wsURL(%q)=%q want %q", in, got, want)
		}
	}
}

func TestParseVec3(t *testing.T) {
	v, err := parseVec3(" 1.5, -64 ,300")
	if err != nil || v != [3]float32{1.5, -64, 300} {
		t.Fatalf("v=%v err=%v", v, err)
	}
	if _, err := parseVec3("1,2"); err == nil {
		t.Fatalf("expected error for two components")
	}
}

func TestApplyRenderParams_KeepsLocalWhenUnset(t *testing.T) {
	r := tuning.Defaults().Render
	applyRenderParams(&r, lodproto.RenderParams{ClipPadding: 8, ClipOffset: 0})
	if r.MaxRenderDistance != 2048 || r.UpdateThreshold != 0.25 || r.ClipPadding != 8 || r.ClipOffset != 0 {
		t.Fatalf("render %+v", r)
	}
}
