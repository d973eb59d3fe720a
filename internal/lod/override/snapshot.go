package override

import (
	"sort"

	"github.com/google/uuid"
)

// RegionSnapshot is a deep copy of one region's chunk lists.
type RegionSnapshot struct {
	RegionID string
	Chunks   []ChunkSnapshot
}

type ChunkSnapshot struct {
	Key     ChunkKey
	Entries []EntrySnapshot
}

// EntrySnapshot carries the owning fixture so Unregister still works after a
// restore. A nil owner is kept as-is.
type EntrySnapshot struct {
	Owner uuid.UUID
	Entry Entry
}

// Snapshot copies all state, ordered by region id then chunk key.
func (r *Registry) Snapshot() []RegionSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.regions))
	for id := range r.regions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]RegionSnapshot, 0, len(ids))
	for _, id := range ids {
		chunks := r.regions[id]
		keys := make([]ChunkKey, 0, len(chunks))
		for k := range chunks {
			keys = append(keys, k)
		}
		sortKeys(keys)
		rs := RegionSnapshot{RegionID: id, Chunks: make([]ChunkSnapshot, 0, len(keys))}
		for _, k := range keys {
			list := chunks[k]
			cs := ChunkSnapshot{Key: k, Entries: make([]EntrySnapshot, 0, len(list))}
			for _, s := range list {
				e := s.e
				e.State = append(BlockState(nil), s.e.State...)
				cs.Entries = append(cs.Entries, EntrySnapshot{Owner: s.owner, Entry: e})
			}
			rs.Chunks = append(rs.Chunks, cs)
		}
		out = append(out, rs)
	}
	return out
}

// Restore replaces all state with data and notifies every restored chunk.
// Entries are re-keyed from their coordinates, so a stale chunk key in data
// cannot place an entry in the wrong list.
func (r *Registry) Restore(data []RegionSnapshot) {
	regions := map[string]map[ChunkKey]chunkList{}
	fixtures := map[uuid.UUID]registration{}
	seen := map[uuid.UUID]map[ChunkKey]bool{}

	for _, rs := range data {
		if rs.RegionID == "" {
			continue
		}
		chunks := regions[rs.RegionID]
		if chunks == nil {
			chunks = map[ChunkKey]chunkList{}
		}
		for _, cs := range rs.Chunks {
			for _, es := range cs.Entries {
				e := es.Entry
				e.State = append(BlockState(nil), es.Entry.State...)
				k := KeyFor(int(e.X), int(e.Z))
				chunks[k] = append(chunks[k], slot{owner: es.Owner, e: e})

				if es.Owner == uuid.Nil {
					continue
				}
				reg, ok := fixtures[es.Owner]
				if !ok {
					reg = registration{region: rs.RegionID}
					seen[es.Owner] = map[ChunkKey]bool{}
				}
				if !seen[es.Owner][k] {
					seen[es.Owner][k] = true
					reg.keys = append(reg.keys, k)
				}
				fixtures[es.Owner] = reg
			}
		}
		if len(chunks) > 0 {
			regions[rs.RegionID] = chunks
		}
	}
	for id, reg := range fixtures {
		sortKeys(reg.keys)
		fixtures[id] = reg
	}

	var touched []chunkRef
	for id, chunks := range regions {
		for k := range chunks {
			touched = append(touched, chunkRef{region: id, key: k})
		}
	}

	r.mu.Lock()
	r.regions = regions
	r.fixtures = fixtures
	r.mu.Unlock()

	r.notify(touched)
}
