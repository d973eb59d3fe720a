package lod

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/ethaniccc/float32-cube/cube"
	"github.com/google/uuid"

	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/host"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/host/memhost"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod/broadcast"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod/fixture"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod/geometry"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lodproto"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/persistence/snapshot"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/sim/tuning"
)

type sink struct {
	mu    sync.Mutex
	types map[string][]string
}

func (s *sink) Send(id string, payload []byte) bool { return s.record(id, payload) }

func (s *sink) SendReliable(id string, payload []byte) bool { return s.record(id, payload) }

func (s *sink) record(id string, payload []byte) bool {
	msg, err := lodproto.Decode(payload)
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.types == nil {
		s.types = map[string][]string{}
	}
	s.types[id] = append(s.types[id], msg.Type)
	return true
}

func (s *sink) count(id, typ string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.types[id] {
		if t == typ {
			n++
		}
	}
	return n
}

var (
	millID  = uuid.MustParse("00000000-0000-0000-0000-00000000a001")
	houseID = uuid.MustParse("00000000-0000-0000-0000-00000000b001")
	anchor  = cube.Pos{0, 64, 0}
)

func windmill() host.Structure {
	return host.Structure{
		ID:       millID,
		RegionID: "r0",
		Anchor:   anchor,
		Blocks:   []host.Block{{X: -4, Y: -4}, {X: 0, Y: 0}, {X: 4, Y: 4}},
		Rotating: &host.Rotation{Axis: geometry.AxisZ, Facing: "south", Speed: 0.5, Angle: 12.5},
	}
}

func house() host.Structure {
	return host.Structure{
		ID:       houseID,
		RegionID: "r0",
		Anchor:   anchor,
		Blocks: []host.Block{
			{X: 1, Y: 1, State: []byte("planks")},
			{X: 10, State: []byte("stone"), BiomeID: "minecraft:plains"},
		},
	}
}

func newService(t *testing.T) (*Service, *memhost.Host, *sink) {
	t.Helper()
	h := memhost.New()
	out := &sink{}
	return New(tuning.Defaults(), h, out, nil), h, out
}

func TestStructureLoaded_FixtureEvictsOverrides(t *testing.T) {
	s, _, _ := newService(t)
	res, err := s.StructureLoaded(house())
	if err != nil || res.Overrides != 2 {
		t.Fatalf("house: %+v %v", res, err)
	}
	res, err = s.StructureLoaded(windmill())
	if err != nil {
		t.Fatalf("windmill: %v", err)
	}
	if !res.Fixture || res.Put != fixture.PutInserted || res.Evicted != 1 {
		t.Fatalf("windmill result %+v", res)
	}
	if _, ok := s.Overrides.Find("r0", 1, 65, 0); ok {
		t.Fatalf("override inside the windmill volume survived")
	}
	if _, ok := s.Overrides.Find("r0", 10, 64, 0); !ok {
		t.Fatalf("override outside the windmill volume removed")
	}
	rec, ok := s.Fixtures.Get(millID)
	if !ok {
		t.Fatalf("fixture missing")
	}
	if rec.PlaneWidth != 9 || rec.PlaneHeight != 9 || rec.PlaneDepth != 1 {
		t.Fatalf("plane %v x %v x %v", rec.PlaneWidth, rec.PlaneHeight, rec.PlaneDepth)
	}
	if rec.Facing != fixture.FacingSouth || rec.Angle != 12.5 || rec.Speed != 0.5 {
		t.Fatalf("record %+v", rec)
	}
}

func TestStructureLoaded_KeepsRegistrationTick(t *testing.T) {
	s, h, _ := newService(t)
	if _, err := s.StructureLoaded(windmill()); err != nil {
		t.Fatalf("load: %v", err)
	}
	h.Step(100)
	res, err := s.StructureLoaded(windmill())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	rec, _ := s.Fixtures.Get(millID)
	if res.Put == fixture.PutInserted || rec.TickRegistered != 0 || rec.LastSyncTick != 100 {
		t.Fatalf("reload put=%v record=%+v", res.Put, rec)
	}
}

func TestStructureLoaded_RejectsAnonymous(t *testing.T) {
	s, _, _ := newService(t)
	st := house()
	st.ID = uuid.Nil
	if _, err := s.StructureLoaded(st); err != ErrInvalidStructure {
		t.Fatalf("err=%v", err)
	}
}

func TestStructureUnloaded(t *testing.T) {
	s, _, out := newService(t)
	s.Broadcast.Join(broadcast.Observer{ID: "O1", RegionID: "r0"})
	s.StructureLoaded(house())
	s.StructureLoaded(windmill())

	s.StructureUnloaded(houseID, UnloadChunk)
	if s.Overrides.Registered(houseID) {
		t.Fatalf("house overrides kept after unload")
	}
	s.StructureUnloaded(millID, UnloadChunk)
	if _, ok := s.Fixtures.Get(millID); !ok {
		t.Fatalf("chunk unload removed the fixture")
	}
	if out.count("O1", lodproto.TypeRemove) != 0 {
		t.Fatalf("chunk unload broadcast a removal")
	}

	s.StructureUnloaded(millID, UnloadDisassembled)
	if _, ok := s.Fixtures.Get(millID); ok {
		t.Fatalf("disassembled fixture kept")
	}
	if out.count("O1", lodproto.TypeRemove) != 1 {
		t.Fatalf("removals=%d want 1", out.count("O1", lodproto.TypeRemove))
	}
	s.StructureUnloaded(millID, UnloadDisassembled)
	if out.count("O1", lodproto.TypeRemove) != 1 {
		t.Fatalf("second disassembly broadcast again")
	}
}

func TestRegionUnloaded_ResendsFullState(t *testing.T) {
	s, _, out := newService(t)
	s.Broadcast.Join(broadcast.Observer{ID: "O1", RegionID: "r0"})
	s.StructureLoaded(house())
	s.StructureLoaded(windmill())

	ov, fx := s.RegionUnloaded("r0")
	if ov != 1 || fx != 1 {
		t.Fatalf("cleared overrides=%d fixtures=%d", ov, fx)
	}
	if s.Fixtures.Len() != 0 {
		t.Fatalf("fixtures left: %d", s.Fixtures.Len())
	}
	if _, ok := s.Overrides.Find("r0", 10, 64, 0); ok {
		t.Fatalf("override left after region unload")
	}
	if out.count("O1", lodproto.TypeFullState) != 2 {
		t.Fatalf("full states=%d want 2", out.count("O1", lodproto.TypeFullState))
	}
}

func TestReregisterLoaded(t *testing.T) {
	s, h, _ := newService(t)
	h.AddStructure(house())
	h.AddStructure(windmill())
	n, err := s.ReregisterLoaded("r0")
	if err != nil || n != 2 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if !s.Overrides.Registered(houseID) || s.Fixtures.Len() != 1 {
		t.Fatalf("state after reregister: house=%v fixtures=%d", s.Overrides.Registered(houseID), s.Fixtures.Len())
	}
	if n, _ := s.ReregisterLoaded("r0"); n != 2 {
		t.Fatalf("second pass n=%d", n)
	}
}

func TestSnapshot_RoundTripThroughFile(t *testing.T) {
	s, h, _ := newService(t)
	s.StructureLoaded(house())
	s.StructureLoaded(windmill())
	h.Step(40)

	path := filepath.Join(t.TempDir(), snapshot.FileName(40))
	if err := snapshot.WriteSnapshot(path, s.ExportSnapshot(40)); err != nil {
		t.Fatalf("write: %v", err)
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	restored, _, _ := newService(t)
	fixtures, dropped := restored.ImportSnapshot(snap)
	if fixtures != 1 || dropped != 0 {
		t.Fatalf("fixtures=%d dropped=%d", fixtures, dropped)
	}
	want, _ := s.Fixtures.Get(millID)
	got, ok := restored.Fixtures.Get(millID)
	if !ok {
		t.Fatalf("fixture missing after restore")
	}
	if got.Anchor != want.Anchor || got.Angle != want.Angle || got.Speed != want.Speed ||
		got.Axis != want.Axis || got.Facing != want.Facing || got.PlaneWidth != want.PlaneWidth ||
		got.LastSyncTick != want.LastSyncTick {
		t.Fatalf("restored %+v want %+v", got, want)
	}
	e, ok := restored.Overrides.Find("r0", 10, 64, 0)
	if !ok || string(e.State) != "stone" || e.BiomeID != "minecraft:plains" {
		t.Fatalf("override after restore: %+v %v", e, ok)
	}
	if !restored.Overrides.Unregister(houseID) {
		t.Fatalf("restored overrides lost their owner")
	}
}

func TestImportSnapshot_DropsBadRecords(t *testing.T) {
	s, _, _ := newService(t)
	snap := snapshot.SnapshotV1{Fixtures: []map[string]any{
		{"fixture_id": millID.String(), "region_id": "r0", "anchor": []any{1, 2, 3}},
		{"fixture_id": "nope", "region_id": "r0", "anchor": []any{1, 2, 3}},
		{"fixture_id": houseID.String(), "region_id": " ", "anchor": []any{1, 2, 3}},
	}}
	fixtures, dropped := s.ImportSnapshot(snap)
	if fixtures != 1 || dropped != 2 {
		t.Fatalf("fixtures=%d dropped=%d", fixtures, dropped)
	}
}

func TestStep_SnapshotSinkDoesNotBlock(t *testing.T) {
	h := memhost.New()
	cfg := tuning.Defaults()
	cfg.SnapshotEveryTicks = 10
	s := New(cfg, h, nil, nil)
	ch := make(chan snapshot.SnapshotV1, 1)
	s.SetSnapshotSink(ch)

	s.Step(5)
	s.Step(10)
	s.Step(20)
	if len(ch) != 1 {
		t.Fatalf("queued=%d want 1", len(ch))
	}
	if snap := <-ch; snap.Header.Tick != 10 {
		t.Fatalf("tick=%d want 10", snap.Header.Tick)
	}
}
