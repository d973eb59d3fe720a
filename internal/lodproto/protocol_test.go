package lodproto

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ethaniccc/float32-cube/cube"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod/fixture"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod/geometry"
)

func sampleRecord() fixture.Record {
	r := fixture.New(uuid.MustParse("3f2504e0-4f89-41d3-9a0c-0305e82c3301"), "r0", cube.Pos{10, 64, -10}, geometry.AxisZ)
	r.Facing = fixture.FacingNorth
	r.PlaneWidth, r.PlaneHeight, r.PlaneDepth = 9, 7, 2
	r.Speed = 2.5
	r.Angle = 123.25
	r.TickRegistered = 5
	r.LastSyncTick = 1 << 40
	return r
}

func TestUpdate_WireRoundTrip(t *testing.T) {
	want := sampleRecord()
	b, err := EncodeUpdate(77, want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != TypeUpdate || msg.Tick != 77 || len(msg.Records) != 1 {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if got := msg.Records[0]; got != want {
		t.Fatalf("record mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestFullState_DropsBlankRegion(t *testing.T) {
	good := sampleRecord()
	bad := sampleRecord()
	bad.ID = uuid.New()
	bad.RegionID = "  "
	b, err := EncodeFullState(1, []fixture.Record{good, bad})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(msg.Records) != 1 || msg.Dropped != 1 || msg.Records[0].ID != good.ID {
		t.Fatalf("expected one kept and one dropped, got %+v", msg)
	}
}

func TestRemove_RoundTrip(t *testing.T) {
	id := uuid.New()
	b, _ := EncodeRemove(9, id)
	msg, err := Decode(b)
	if err != nil || msg.Type != TypeRemove || msg.ID != id {
		t.Fatalf("remove round trip: %+v err=%v", msg, err)
	}
}

func TestDecode_UnknownType(t *testing.T) {
	b, _ := msgpack.Marshal(map[string]any{"type": "NOPE"})
	if _, err := Decode(b); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestDecodeRecord_LegacyKeys(t *testing.T) {
	id := uuid.New()
	anchor := cube.Pos{-300, 70, 1200}
	m := map[string]any{
		"identifier":              id.String(),
		"dimension":               "minecraft:overworld",
		"anchor":                  PackBlockPos(anchor),
		"axis":                    "X",
		"planeWidth":              12.0,
		"planeHeight":             6.0,
		"speed":                   -1.5,
		"angle":                   400.0,
		"lastSynchronizationTick": 250.0,
	}
	r, err := DecodeRecord(m)
	if err != nil {
		t.Fatalf("decode legacy: %v", err)
	}
	if r.ID != id || r.RegionID != "minecraft:overworld" || r.Anchor != anchor {
		t.Fatalf("identity mismatch: %+v", r)
	}
	if r.Axis != geometry.AxisX || r.Facing != fixture.FacingEast {
		t.Fatalf("axis/facing defaults wrong: %v %v", r.Axis, r.Facing)
	}
	if r.PlaneWidth != 12 || r.PlaneHeight != 6 || r.PlaneDepth != 1 {
		t.Fatalf("plane dims wrong: %v %v %v", r.PlaneWidth, r.PlaneHeight, r.PlaneDepth)
	}
	if r.LastSyncTick != 250 || r.TickRegistered != 250 {
		t.Fatalf("ticks wrong: reg=%d sync=%d", r.TickRegistered, r.LastSyncTick)
	}
	if r.Angle != 400 {
		t.Fatalf("decode keeps raw angle for the store to normalize, got %v", r.Angle)
	}
}

func TestDecodeRecord_CanonicalBeatsFallback(t *testing.T) {
	id := uuid.New()
	m := map[string]any{
		"ContraptionId":  []any{int64(1), int64(2), int64(3), int64(4)},
		"fixture_id":     id.String(),
		"DimensionId":    "r9",
		"AnchorPosition": map[string]any{"X": 1, "Y": 2, "Z": 3},
		"PlaneSize":      map[string]any{"Width": 4.0, "Height": 5.0, "Depth": 0.5},
		"RotationAxis":   int8(2),
		"facing":         uint8(fixture.FacingWest),
	}
	r, err := DecodeRecord(m)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if r.ID != id {
		t.Fatalf("canonical id should win over fallback")
	}
	if r.Anchor != (cube.Pos{1, 2, 3}) || r.Axis != geometry.AxisZ || r.Facing != fixture.FacingWest {
		t.Fatalf("unexpected record %+v", r)
	}
	if r.PlaneWidth != 4 || r.PlaneHeight != 5 || r.PlaneDepth != 0.5 {
		t.Fatalf("nested plane size not read: %+v", r)
	}
}

func TestDecodeRecord_Rejects(t *testing.T) {
	cases := []map[string]any{
		{"region_id": "r0", "anchor": []any{1, 2, 3}},
		{"fixture_id": "not-a-uuid", "region_id": "r0", "anchor": []any{1, 2, 3}},
		{"fixture_id": uuid.New().String(), "anchor": []any{1, 2, 3}},
		{"fixture_id": uuid.New().String(), "region_id": "", "anchor": []any{1, 2, 3}},
		{"fixture_id": uuid.New().String(), "region_id": "r0"},
		{"fixture_id": uuid.New().String(), "region_id": "r0", "anchor": []any{1, 2}},
	}
	for i, m := range cases {
		if _, err := DecodeRecord(m); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestDecodeRecord_JSONNumbers(t *testing.T) {
	doc := EncodeRecord(sampleRecord(), IDString)
	b, _ := json.Marshal(doc)
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		t.Fatalf("json: %v", err)
	}
	r, err := DecodeRecord(m)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if r != sampleRecord() {
		t.Fatalf("json round trip mismatch: %+v", r)
	}
}

func TestPackBlockPos_RoundTrip(t *testing.T) {
	for _, p := range []cube.Pos{{0, 0, 0}, {-1, -1, -1}, {33554431, 2047, -33554432}, {12, -64, 99}} {
		if got := unpackBlockPos(PackBlockPos(p)); got != p {
			t.Fatalf("pack round trip %v -> %v", p, got)
		}
	}
}
