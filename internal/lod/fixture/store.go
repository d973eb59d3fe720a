package fixture

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod/geometry"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/sim/logic/mathx"
)

type PutResult int

const (
	PutRejected PutResult = iota
	PutInserted
	// PutRefreshed means the registration matched and only speed, angle and
	// last sync tick were taken from the new record.
	PutRefreshed
	PutReplaced
)

func (r PutResult) String() string {
	switch r {
	case PutInserted:
		return "inserted"
	case PutRefreshed:
		return "refreshed"
	case PutReplaced:
		return "replaced"
	default:
		return "rejected"
	}
}

type entry struct {
	mu      sync.Mutex
	rec     Record
	removed bool
}

// Store is safe for concurrent use. Callers only ever see copies of records.
type Store struct {
	geo geometry.Config

	mu   sync.RWMutex
	byID map[uuid.UUID]*entry
}

func NewStore(geo geometry.Config) *Store {
	return &Store{geo: geo, byID: map[uuid.UUID]*entry{}}
}

// Put inserts rec or merges it into the record with the same id.
func (s *Store) Put(rec Record) (Record, PutResult) {
	if !rec.Valid() {
		return rec, PutRejected
	}
	rec.Angle = mathx.WrapDegrees(rec.Angle)

	for {
		s.mu.Lock()
		e, ok := s.byID[rec.ID]
		if !ok {
			rec.Blade = s.blade(rec)
			s.byID[rec.ID] = &entry{rec: rec}
			s.mu.Unlock()
			return rec, PutInserted
		}
		s.mu.Unlock()

		if out, res, ok := s.merge(e, rec); ok {
			return out, res
		}
		// e was removed after the lookup; insert afresh.
	}
}

func (s *Store) merge(e *entry, rec Record) (Record, PutResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return Record{}, PutRejected, false
	}
	if e.rec.SameRegistration(rec) {
		e.rec.Speed = rec.Speed
		e.rec.Angle = rec.Angle
		e.rec.LastSyncTick = rec.LastSyncTick
		return e.rec, PutRefreshed, true
	}
	rec.Blade = s.blade(rec)
	if rec.RenderHandle == NoRenderHandle {
		rec.RenderHandle = e.rec.RenderHandle
	}
	e.rec = rec
	return rec, PutReplaced, true
}

func (s *Store) Get(id uuid.UUID) (Record, bool) {
	e := s.entry(id)
	if e == nil {
		return Record{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return Record{}, false
	}
	return e.rec, true
}

// Update applies fn to the stored record under its lock. The id cannot be
// changed, the angle is re-normalized and the blade is rebuilt only if the
// plane dimensions changed. It reports false once the record is removed.
func (s *Store) Update(id uuid.UUID, fn func(*Record)) (Record, bool) {
	e := s.entry(id)
	if e == nil {
		return Record{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return Record{}, false
	}

	next := e.rec
	fn(&next)
	next.ID = e.rec.ID
	next.Angle = mathx.WrapDegrees(next.Angle)
	if next.PlaneWidth != e.rec.PlaneWidth || next.PlaneHeight != e.rec.PlaneHeight || next.PlaneDepth != e.rec.PlaneDepth || next.Blade.IsZero() {
		next.Blade = s.blade(next)
	}
	e.rec = next
	return next, true
}

// Publish calls fn with the current record while holding its lock, so fn
// finishes before a concurrent Remove of the same id returns. It reports
// false, without calling fn, when the record is gone.
func (s *Store) Publish(id uuid.UUID, fn func(Record)) bool {
	e := s.entry(id)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return false
	}
	fn(e.rec)
	return true
}

// Remove deletes the record. Once it returns, Update and Publish for the
// same id fail until the id is put again.
func (s *Store) Remove(id uuid.UUID) (Record, bool) {
	s.mu.Lock()
	e, ok := s.byID[id]
	delete(s.byID, id)
	s.mu.Unlock()
	if !ok {
		return Record{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removed = true
	return e.rec, true
}

// All returns copies of every record ordered by region then id.
func (s *Store) All() []Record {
	return s.collect(func(Record) bool { return true })
}

func (s *Store) InRegion(regionID string) []Record {
	return s.collect(func(r Record) bool { return r.RegionID == regionID })
}

// ClearRegion removes every record of regionID and returns their ids.
func (s *Store) ClearRegion(regionID string) []uuid.UUID {
	var ids []uuid.UUID
	for _, r := range s.InRegion(regionID) {
		if _, ok := s.Remove(r.ID); ok {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Restore replaces the store contents. Invalid records are skipped; the
// number kept is returned.
func (s *Store) Restore(recs []Record) int {
	next := make(map[uuid.UUID]*entry, len(recs))
	for _, r := range recs {
		if !r.Valid() {
			continue
		}
		r.Angle = mathx.WrapDegrees(r.Angle)
		r.Blade = s.blade(r)
		next[r.ID] = &entry{rec: r}
	}
	s.mu.Lock()
	old := s.byID
	s.byID = next
	s.mu.Unlock()
	for _, e := range old {
		e.mu.Lock()
		e.removed = true
		e.mu.Unlock()
	}
	return len(next)
}

func (s *Store) entry(id uuid.UUID) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[id]
}

func (s *Store) collect(keep func(Record) bool) []Record {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.byID))
	for _, e := range s.byID {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]Record, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		r, gone := e.rec, e.removed
		e.mu.Unlock()
		if !gone && keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RegionID != out[j].RegionID {
			return out[i].RegionID < out[j].RegionID
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (s *Store) blade(r Record) geometry.Blade {
	return geometry.BladeForPlane(r.PlaneWidth, r.PlaneHeight, r.PlaneDepth, s.geo)
}
