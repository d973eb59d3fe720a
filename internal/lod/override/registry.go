// Package override indexes per-block render overrides by region and chunk
// column so the far terrain renderer can ask what replaces a given block.
package override

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/chewxy/math32"
	"github.com/ethaniccc/float32-cube/cube"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/logging"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/sim/logic/mathx"
)

// BlockState is the host's serialized block state. The registry never looks
// inside it.
type BlockState []byte

// Entry is one block override. Coordinates are absolute once registered.
type Entry struct {
	X, Y, Z int32
	State   BlockState
	BiomeID string
}

// ChunkNotifier is told that a chunk's overrides changed and any cached
// far-terrain data for it should be rebuilt.
type ChunkNotifier interface {
	ChunkChanged(regionID string, cx, cz int32) error
}

type NotifierFunc func(regionID string, cx, cz int32) error

func (f NotifierFunc) ChunkChanged(regionID string, cx, cz int32) error { return f(regionID, cx, cz) }

type slot struct {
	owner uuid.UUID
	e     Entry
}

// chunkList is never mutated after it is stored; writers swap in a copy.
type chunkList []slot

type registration struct {
	region string
	keys   []ChunkKey
}

type chunkRef struct {
	region string
	key    ChunkKey
}

type Registry struct {
	log logrus.FieldLogger

	notifyMu sync.RWMutex
	notifier ChunkNotifier

	mu       sync.RWMutex
	fixtures map[uuid.UUID]registration
	regions  map[string]map[ChunkKey]chunkList
}

func NewRegistry(logger logrus.FieldLogger) *Registry {
	return &Registry{
		log:      logging.Component(logger, "override"),
		fixtures: map[uuid.UUID]registration{},
		regions:  map[string]map[ChunkKey]chunkList{},
	}
}

// SetNotifier installs the far renderer hook. Nil disables notifications.
func (r *Registry) SetNotifier(n ChunkNotifier) {
	r.notifyMu.Lock()
	r.notifier = n
	r.notifyMu.Unlock()
}

// Register inserts anchor-relative entries for a fixture. It returns false
// and changes nothing when the fixture is already registered.
func (r *Registry) Register(fixtureID uuid.UUID, regionID string, anchor cube.Pos, entries []Entry) bool {
	if regionID == "" {
		return false
	}
	grouped := map[ChunkKey][]slot{}
	for _, e := range entries {
		abs := Entry{
			X:       e.X + int32(anchor.X()),
			Y:       e.Y + int32(anchor.Y()),
			Z:       e.Z + int32(anchor.Z()),
			State:   append(BlockState(nil), e.State...),
			BiomeID: e.BiomeID,
		}
		k := KeyFor(int(abs.X), int(abs.Z))
		grouped[k] = append(grouped[k], slot{owner: fixtureID, e: abs})
	}

	r.mu.Lock()
	if _, ok := r.fixtures[fixtureID]; ok {
		r.mu.Unlock()
		return false
	}
	chunks := r.regions[regionID]
	if chunks == nil {
		chunks = map[ChunkKey]chunkList{}
		r.regions[regionID] = chunks
	}
	keys := make([]ChunkKey, 0, len(grouped))
	for k, add := range grouped {
		old := chunks[k]
		next := make(chunkList, 0, len(old)+len(add))
		next = append(next, old...)
		next = append(next, add...)
		chunks[k] = next
		keys = append(keys, k)
	}
	if len(chunks) == 0 {
		delete(r.regions, regionID)
	}
	sortKeys(keys)
	r.fixtures[fixtureID] = registration{region: regionID, keys: keys}
	r.mu.Unlock()

	r.notify(refs(regionID, keys))
	return true
}

// Unregister removes exactly the entries inserted for fixtureID.
func (r *Registry) Unregister(fixtureID uuid.UUID) bool {
	r.mu.Lock()
	reg, ok := r.fixtures[fixtureID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.fixtures, fixtureID)
	chunks := r.regions[reg.region]
	for _, k := range reg.keys {
		old, ok := chunks[k]
		if !ok {
			continue
		}
		next := make(chunkList, 0, len(old))
		for _, s := range old {
			if s.owner != fixtureID {
				next = append(next, s)
			}
		}
		storeList(chunks, k, next)
	}
	if chunks != nil && len(chunks) == 0 {
		delete(r.regions, reg.region)
	}
	r.mu.Unlock()

	r.notify(refs(reg.region, reg.keys))
	return true
}

func (r *Registry) Registered(fixtureID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.fixtures[fixtureID]
	return ok
}

// Find returns the override at an exact block position.
func (r *Registry) Find(regionID string, x, y, z int) (Entry, bool) {
	list := r.chunk(regionID, KeyFor(x, z))
	for _, s := range list {
		if int(s.e.X) == x && int(s.e.Y) == y && int(s.e.Z) == z {
			return s.e, true
		}
	}
	return Entry{}, false
}

// HighestOverrideY returns the tallest override in column (x,z), never
// lower than defaultY.
func (r *Registry) HighestOverrideY(regionID string, x, z, defaultY int) int {
	best := defaultY
	for _, s := range r.chunk(regionID, KeyFor(x, z)) {
		if int(s.e.X) == x && int(s.e.Z) == z && int(s.e.Y) > best {
			best = int(s.e.Y)
		}
	}
	return best
}

// RemoveVolume drops every entry of regionID inside box, given relative to
// anchor with inclusive block bounds. It returns the number removed.
func (r *Registry) RemoveVolume(regionID string, anchor cube.Pos, box cube.BBox) int {
	mn, mx := box.Min(), box.Max()
	x0 := int(math32.Floor(mn.X())) + anchor.X()
	y0 := int(math32.Floor(mn.Y())) + anchor.Y()
	z0 := int(math32.Floor(mn.Z())) + anchor.Z()
	x1 := int(math32.Floor(mx.X())) + anchor.X()
	y1 := int(math32.Floor(mx.Y())) + anchor.Y()
	z1 := int(math32.Floor(mx.Z())) + anchor.Z()

	removed := 0
	var touched []ChunkKey

	r.mu.Lock()
	chunks := r.regions[regionID]
	for cx := mathx.ChunkCoord(x0); cx <= mathx.ChunkCoord(x1) && chunks != nil; cx++ {
		for cz := mathx.ChunkCoord(z0); cz <= mathx.ChunkCoord(z1); cz++ {
			k := PackChunk(int32(cx), int32(cz))
			old, ok := chunks[k]
			if !ok {
				continue
			}
			next := make(chunkList, 0, len(old))
			for _, s := range old {
				x, y, z := int(s.e.X), int(s.e.Y), int(s.e.Z)
				if x >= x0 && x <= x1 && y >= y0 && y <= y1 && z >= z0 && z <= z1 {
					continue
				}
				next = append(next, s)
			}
			if len(next) == len(old) {
				continue
			}
			removed += len(old) - len(next)
			storeList(chunks, k, next)
			touched = append(touched, k)
		}
	}
	if chunks != nil && len(chunks) == 0 {
		delete(r.regions, regionID)
	}
	r.mu.Unlock()

	if removed > 0 {
		r.log.Debugf("removed %d overrides from %s volume at %v", removed, regionID, anchor)
		r.notify(refs(regionID, touched))
	}
	return removed
}

// ClearRegion forgets every override and fixture registration in regionID.
func (r *Registry) ClearRegion(regionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, reg := range r.fixtures {
		if reg.region == regionID {
			delete(r.fixtures, id)
			n++
		}
	}
	delete(r.regions, regionID)
	return n
}

// chunk returns the immutable list for key, resolving regionID with suffix
// fallback when there is no exact match.
func (r *Registry) chunk(regionID string, key ChunkKey) chunkList {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chunks := r.resolveLocked(regionID)
	if chunks == nil {
		return nil
	}
	return chunks[key]
}

func (r *Registry) resolveLocked(regionID string) map[ChunkKey]chunkList {
	if regionID == "" {
		return nil
	}
	if chunks, ok := r.regions[regionID]; ok {
		return chunks
	}
	match := ""
	for id := range r.regions {
		if !RegionIDsMatch(id, regionID) {
			continue
		}
		if match == "" || id < match {
			match = id
		}
	}
	if match == "" {
		return nil
	}
	return r.regions[match]
}

// RegionIDsMatch reports whether two region ids are equal or one ends with
// the other, e.g. "overworld" and "minecraft:overworld". Blank ids never match.
func RegionIDsMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.HasSuffix(a, b) || strings.HasSuffix(b, a)
}

type Stats struct {
	Regions  int
	Chunks   int
	Entries  int
	Fixtures int
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := Stats{Regions: len(r.regions), Fixtures: len(r.fixtures)}
	for _, chunks := range r.regions {
		st.Chunks += len(chunks)
		for _, l := range chunks {
			st.Entries += len(l)
		}
	}
	return st
}

func (r *Registry) notify(chunks []chunkRef) {
	r.notifyMu.RLock()
	n := r.notifier
	r.notifyMu.RUnlock()
	if n == nil {
		return
	}
	for _, c := range chunks {
		cx, cz := c.key.Coords()
		if err := safeNotify(n, c.region, cx, cz); err != nil {
			r.log.Debugf("chunk notify %s (%d,%d): %v", c.region, cx, cz, err)
		}
	}
}

// safeNotify turns a panicking renderer hook into an error.
func safeNotify(n ChunkNotifier, region string, cx, cz int32) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("notifier panic: %v", p)
		}
	}()
	return n.ChunkChanged(region, cx, cz)
}

func storeList(chunks map[ChunkKey]chunkList, k ChunkKey, l chunkList) {
	if len(l) == 0 {
		delete(chunks, k)
		return
	}
	chunks[k] = l
}

func refs(region string, keys []ChunkKey) []chunkRef {
	out := make([]chunkRef, 0, len(keys))
	for _, k := range keys {
		out = append(out, chunkRef{region: region, key: k})
	}
	return out
}

func sortKeys(keys []ChunkKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
}
