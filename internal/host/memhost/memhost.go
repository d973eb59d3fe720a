// Package memhost is an in-memory Host used by tests and the demo server.
// It spins simulated bearings by their speed on every Step.
package memhost

import (
	"sort"
	"sync"

	"github.com/ethaniccc/float32-cube/cube"
	"github.com/google/uuid"

	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/host"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod/geometry"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod/override"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/sim/logic/mathx"
)

type bearingKey struct {
	region string
	pos    cube.Pos
}

type chunkRef struct {
	region string
	key    override.ChunkKey
}

type Bearing struct {
	Axis  geometry.Axis
	Speed float32
	Angle float32
}

// Host keeps bearings and chunk state per region. Chunks are unavailable
// until loaded; loaded chunks are simulated unless paused.
type Host struct {
	mu        sync.Mutex
	tick      int64
	bearings  map[bearingKey]*Bearing
	loaded    map[chunkRef]bool
	paused    map[chunkRef]bool
	overrides []Override

	structures map[uuid.UUID]host.Structure
}

// Override records an OverrideAngle call.
type Override struct {
	Region string
	Anchor cube.Pos
	Angle  float32
	Tick   int64
}

var (
	_ host.Host            = (*Host)(nil)
	_ host.StructureLister = (*Host)(nil)
)

func New() *Host {
	return &Host{
		bearings: map[bearingKey]*Bearing{},
		loaded:   map[chunkRef]bool{},
		paused:   map[chunkRef]bool{},

		structures: map[uuid.UUID]host.Structure{},
	}
}

// AddStructure records s as loaded. A rotating structure also gets a bearing
// at its anchor.
func (h *Host) AddStructure(s host.Structure) {
	if s.Rotating != nil {
		h.PlaceBearing(s.RegionID, s.Anchor, Bearing{Axis: s.Rotating.Axis, Speed: s.Rotating.Speed, Angle: s.Rotating.Angle})
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.structures[s.ID] = s
	h.loaded[refFor(s.RegionID, s.Anchor)] = true
}

func (h *Host) RemoveStructure(id uuid.UUID) {
	h.mu.Lock()
	s, ok := h.structures[id]
	delete(h.structures, id)
	h.mu.Unlock()
	if ok && s.Rotating != nil {
		h.RemoveBearing(s.RegionID, s.Anchor)
	}
}

// LoadedStructures returns the structures of region whose anchor chunk is
// loaded, ordered by id.
func (h *Host) LoadedStructures(region string) []host.Structure {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []host.Structure
	for _, s := range h.structures {
		if s.RegionID != region || !h.loaded[refFor(s.RegionID, s.Anchor)] {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

func refFor(region string, pos cube.Pos) chunkRef {
	return chunkRef{region: region, key: override.KeyFor(pos.X(), pos.Z())}
}

// PlaceBearing puts a bearing at anchor and loads its chunk.
func (h *Host) PlaceBearing(region string, anchor cube.Pos, b Bearing) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b.Angle = mathx.WrapDegrees(b.Angle)
	h.bearings[bearingKey{region, anchor}] = &b
	h.loaded[refFor(region, anchor)] = true
}

// RemoveBearing disassembles the bearing at anchor. Its chunk stays loaded.
func (h *Host) RemoveBearing(region string, anchor cube.Pos) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.bearings, bearingKey{region, anchor})
}

func (h *Host) SetSpeed(region string, anchor cube.Pos, speed float32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if b := h.bearings[bearingKey{region, anchor}]; b != nil {
		b.Speed = speed
	}
}

func (h *Host) SetAngle(region string, anchor cube.Pos, angle float32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if b := h.bearings[bearingKey{region, anchor}]; b != nil {
		b.Angle = mathx.WrapDegrees(angle)
	}
}

func (h *Host) Bearing(region string, anchor cube.Pos) (Bearing, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b := h.bearings[bearingKey{region, anchor}]
	if b == nil {
		return Bearing{}, false
	}
	return *b, true
}

// LoadChunk makes the chunk holding pos available and simulated.
func (h *Host) LoadChunk(region string, pos cube.Pos) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ref := refFor(region, pos)
	h.loaded[ref] = true
	delete(h.paused, ref)
}

func (h *Host) UnloadChunk(region string, pos cube.Pos) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ref := refFor(region, pos)
	delete(h.loaded, ref)
	delete(h.paused, ref)
}

// PauseChunk keeps the chunk loaded but stops simulating it.
func (h *Host) PauseChunk(region string, pos cube.Pos, paused bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ref := refFor(region, pos)
	if paused {
		h.paused[ref] = true
	} else {
		delete(h.paused, ref)
	}
}

// UnloadRegion drops every chunk and bearing of region.
func (h *Host) UnloadRegion(region string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for k := range h.bearings {
		if k.region == region {
			delete(h.bearings, k)
		}
	}
	for id, s := range h.structures {
		if s.RegionID == region {
			delete(h.structures, id)
		}
	}
	for ref := range h.loaded {
		if ref.region == region {
			delete(h.loaded, ref)
			delete(h.paused, ref)
		}
	}
}

// SetTick moves the clock without spinning bearings, e.g. to resume from a
// snapshot.
func (h *Host) SetTick(tick int64) {
	h.mu.Lock()
	h.tick = tick
	h.mu.Unlock()
}

// Step advances the clock by n ticks and spins every simulated bearing.
func (h *Host) Step(n int64) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 {
		return h.tick
	}
	h.tick += n
	for k, b := range h.bearings {
		if !h.simulatedLocked(refFor(k.region, k.pos)) {
			continue
		}
		b.Angle = mathx.WrapDegrees(b.Angle + b.Speed*float32(n))
	}
	return h.tick
}

// Overrides returns every OverrideAngle call accepted so far.
func (h *Host) Overrides() []Override {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Override(nil), h.overrides...)
}

func (h *Host) CurrentTick() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tick
}

func (h *Host) ProbeFixture(region string, anchor cube.Pos) host.Probe {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.loaded[refFor(region, anchor)] {
		return host.NotAFixture{}
	}
	b := h.bearings[bearingKey{region, anchor}]
	if b == nil {
		return host.NotAFixture{}
	}
	return host.RotatingFixture{Axis: b.Axis, Speed: b.Speed, Angle: b.Angle}
}

func (h *Host) OverrideAngle(region string, anchor cube.Pos, angle float32) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.loaded[refFor(region, anchor)] {
		return false
	}
	b := h.bearings[bearingKey{region, anchor}]
	if b == nil {
		return false
	}
	b.Angle = mathx.WrapDegrees(angle)
	h.overrides = append(h.overrides, Override{Region: region, Anchor: anchor, Angle: b.Angle, Tick: h.tick})
	return true
}

func (h *Host) ChunkAvailable(region string, cx, cz int32) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loaded[chunkRef{region: region, key: override.PackChunk(cx, cz)}]
}

func (h *Host) ActivelySimulated(region string, pos cube.Pos) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.simulatedLocked(refFor(region, pos))
}

func (h *Host) simulatedLocked(ref chunkRef) bool {
	return h.loaded[ref] && !h.paused[ref]
}
