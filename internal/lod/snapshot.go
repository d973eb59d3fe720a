package lod

import (
	"github.com/google/uuid"

	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod/fixture"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod/override"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lodproto"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/persistence/snapshot"
)

// ExportSnapshot copies the registry and store into a snapshot at tick.
func (s *Service) ExportSnapshot(tick int64) snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{Version: snapshot.Version, Tick: tick, TickRateHz: s.cfg.TickRateHz},
	}
	for _, rs := range s.Overrides.Snapshot() {
		rv := snapshot.RegionV1{RegionID: rs.RegionID, Chunks: make([]snapshot.ChunkV1, 0, len(rs.Chunks))}
		for _, cs := range rs.Chunks {
			cx, cz := cs.Key.Coords()
			cv := snapshot.ChunkV1{CX: cx, CZ: cz, Entries: make([]snapshot.EntryV1, 0, len(cs.Entries))}
			for _, es := range cs.Entries {
				ev := snapshot.EntryV1{X: es.Entry.X, Y: es.Entry.Y, Z: es.Entry.Z, State: es.Entry.State, BiomeID: es.Entry.BiomeID}
				if es.Owner != uuid.Nil {
					ev.Owner = es.Owner.String()
				}
				cv.Entries = append(cv.Entries, ev)
			}
			rv.Chunks = append(rv.Chunks, cv)
		}
		snap.Regions = append(snap.Regions, rv)
	}
	for _, r := range s.Fixtures.All() {
		snap.Fixtures = append(snap.Fixtures, lodproto.EncodeRecord(r, lodproto.IDString))
	}
	return snap
}

// ImportSnapshot replaces all state with snap. Fixture records that fail to
// decode are dropped and counted.
func (s *Service) ImportSnapshot(snap snapshot.SnapshotV1) (fixtures, dropped int) {
	regions := make([]override.RegionSnapshot, 0, len(snap.Regions))
	for _, rv := range snap.Regions {
		rs := override.RegionSnapshot{RegionID: rv.RegionID, Chunks: make([]override.ChunkSnapshot, 0, len(rv.Chunks))}
		for _, cv := range rv.Chunks {
			cs := override.ChunkSnapshot{Key: override.PackChunk(cv.CX, cv.CZ), Entries: make([]override.EntrySnapshot, 0, len(cv.Entries))}
			for _, ev := range cv.Entries {
				owner, err := uuid.Parse(ev.Owner)
				if err != nil {
					owner = uuid.Nil
				}
				cs.Entries = append(cs.Entries, override.EntrySnapshot{
					Owner: owner,
					Entry: override.Entry{X: ev.X, Y: ev.Y, Z: ev.Z, State: ev.State, BiomeID: ev.BiomeID},
				})
			}
			rs.Chunks = append(rs.Chunks, cs)
		}
		regions = append(regions, rs)
	}
	s.Overrides.Restore(regions)

	recs := make([]fixture.Record, 0, len(snap.Fixtures))
	for _, m := range snap.Fixtures {
		r, err := lodproto.DecodeRecord(m)
		if err != nil {
			dropped++
			continue
		}
		recs = append(recs, r)
	}
	fixtures = s.Fixtures.Restore(recs)
	dropped += len(recs) - fixtures
	if dropped > 0 {
		s.log.Warnf("snapshot tick %d: dropped %d fixture records", snap.Header.Tick, dropped)
	}
	return fixtures, dropped
}
