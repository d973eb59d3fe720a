// Package lod wires the override registry, fixture store, tracker and
// broadcaster into one service owned by the server process.
package lod

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethaniccc/float32-cube/cube"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/host"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod/broadcast"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod/fixture"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod/override"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod/tracker"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/logging"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/persistence/snapshot"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/sim/tuning"
)

type UnloadReason uint8

const (
	// UnloadChunk keeps the fixture record; the tracker marks it stale.
	UnloadChunk UnloadReason = iota
	// UnloadDisassembled removes the fixture record and tells observers.
	UnloadDisassembled
)

var ErrInvalidStructure = errors.New("lod: structure needs an id and a region")

// LoadResult describes what StructureLoaded did.
type LoadResult struct {
	Fixture   bool
	Put       fixture.PutResult
	Evicted   int
	Overrides int
}

type Service struct {
	cfg  tuning.Tuning
	host host.Host
	log  logrus.FieldLogger

	Overrides *override.Registry
	Fixtures  *fixture.Store
	Tracker   *tracker.Tracker
	Broadcast *broadcast.Broadcaster

	snapshotSink chan<- snapshot.SnapshotV1
}

// New builds a service around h. Messages go nowhere while sender is nil.
func New(cfg tuning.Tuning, h host.Host, sender broadcast.Sender, logger logrus.FieldLogger) *Service {
	s := &Service{
		cfg:       cfg,
		host:      h,
		log:       logging.Component(logger, "lod"),
		Overrides: override.NewRegistry(logger),
		Fixtures:  fixture.NewStore(cfg.Geometry),
	}
	s.Broadcast = broadcast.New(broadcast.Config{
		BaseIntervalTicks:  cfg.Broadcast.BaseIntervalTicks,
		StrideChunks:       cfg.Broadcast.StrideChunks,
		MaxRenderDistance:  cfg.Broadcast.MaxRenderDistance,
		ViewDistanceChunks: cfg.Broadcast.ViewDistanceChunks,
	}, sender, h.CurrentTick, s.Fixtures.All, logger)
	s.Tracker = tracker.New(cfg.Sync, h, s.Fixtures, s.Broadcast, logger)
	return s
}

func (s *Service) Tuning() tuning.Tuning { return s.cfg }

func (s *Service) Host() host.Host { return s.host }

// SetSnapshotSink receives a snapshot every SnapshotEveryTicks. Snapshots
// are dropped while the sink is backed up.
func (s *Service) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { s.snapshotSink = ch }

// StructureLoaded registers a structure reported by the host. A rotating
// structure becomes a tracked fixture and evicts the plain overrides inside
// its bounds; anything else is registered as block overrides.
func (s *Service) StructureLoaded(st host.Structure) (LoadResult, error) {
	if st.ID == uuid.Nil || st.RegionID == "" {
		return LoadResult{}, ErrInvalidStructure
	}
	if st.Rotating == nil {
		entries := make([]override.Entry, 0, len(st.Blocks))
		for _, b := range st.Blocks {
			entries = append(entries, override.Entry{X: b.X, Y: b.Y, Z: b.Z, State: b.State, BiomeID: b.BiomeID})
		}
		if !s.Overrides.Register(st.ID, st.RegionID, st.Anchor, entries) {
			return LoadResult{}, nil
		}
		return LoadResult{Overrides: len(entries)}, nil
	}

	now := s.host.CurrentTick()
	bounds := st.Bounds()
	res := LoadResult{Fixture: true}
	s.Overrides.Unregister(st.ID)
	if len(st.Blocks) > 0 {
		res.Evicted = s.Overrides.RemoveVolume(st.RegionID, st.Anchor, blockVolume(bounds))
	}

	rec := fixture.New(st.ID, st.RegionID, st.Anchor, st.Rotating.Axis)
	if f, ok := fixture.ParseFacing(st.Rotating.Facing); ok {
		rec.Facing = f
	}
	rec.PlaneWidth, rec.PlaneHeight, rec.PlaneDepth = fixture.PlaneSizeForBounds(st.Rotating.Axis, bounds)
	rec.Speed = st.Rotating.Speed
	rec.Angle = st.Rotating.Angle
	rec.TickRegistered = now
	rec.LastSyncTick = now
	if old, ok := s.Fixtures.Get(st.ID); ok {
		rec.TickRegistered = old.TickRegistered
	}

	stored, put := s.Fixtures.Put(rec)
	res.Put = put
	if put == fixture.PutRejected {
		return res, fmt.Errorf("lod: fixture %s rejected", st.ID)
	}
	if res.Evicted > 0 {
		s.log.Debugf("fixture %s evicted %d overrides", st.ID, res.Evicted)
	}
	// A removal racing this registration wins; nothing is sent after it.
	s.Fixtures.Publish(stored.ID, func(r fixture.Record) { s.Broadcast.BroadcastUpdate(r) })
	return res, nil
}

// StructureUnloaded drops the structure's overrides. A disassembled fixture
// is also removed and its removal broadcast.
func (s *Service) StructureUnloaded(id uuid.UUID, reason UnloadReason) {
	s.Overrides.Unregister(id)
	if reason != UnloadDisassembled {
		return
	}
	if _, ok := s.Fixtures.Remove(id); ok {
		s.Broadcast.BroadcastRemoval(id)
	}
}

// RegionUnloaded clears a region's overrides and fixtures and re-sends the
// full state to every observer.
func (s *Service) RegionUnloaded(region string) (overrides, fixtures int) {
	overrides = s.Overrides.ClearRegion(region)
	fixtures = len(s.Fixtures.ClearRegion(region))
	s.Broadcast.SendFullStateToAll()
	s.log.Infof("region %s unloaded: %d overrides, %d fixtures cleared", region, overrides, fixtures)
	return overrides, fixtures
}

// ReregisterLoaded registers every loaded structure of region again. It
// needs a host that can list its structures.
func (s *Service) ReregisterLoaded(region string) (int, error) {
	lister, ok := s.host.(host.StructureLister)
	if !ok {
		return 0, errors.New("lod: host cannot list structures")
	}
	n := 0
	for _, st := range lister.LoadedStructures(region) {
		s.Overrides.Unregister(st.ID)
		if _, err := s.StructureLoaded(st); err != nil {
			s.log.Warnf("reregister %s: %v", st.ID, err)
			continue
		}
		n++
	}
	return n, nil
}

func (s *Service) ForceZeroAngles(region string) int {
	return s.Tracker.ForceZeroAngles(region, s.host.CurrentTick())
}

// Step runs the per-tick work for tick now.
func (s *Service) Step(now int64) {
	s.Tracker.Tick(now)

	if s.snapshotSink != nil && now != 0 && s.cfg.SnapshotEveryTicks > 0 && now%int64(s.cfg.SnapshotEveryTicks) == 0 {
		snap := s.ExportSnapshot(now)
		select {
		case s.snapshotSink <- snap:
		default:
		}
	}
}

// Run steps the service at the configured tick rate until ctx is done.
// Ticks the host has not advanced past are skipped.
func (s *Service) Run(ctx context.Context) error {
	hz := s.cfg.TickRateHz
	if hz <= 0 {
		hz = 20
	}
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()

	last := int64(-1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			now := s.host.CurrentTick()
			if now == last {
				continue
			}
			last = now
			s.Step(now)
		}
	}
}

// blockVolume turns exclusive structure bounds into the inclusive block
// range RemoveVolume expects.
func blockVolume(b cube.BBox) cube.BBox {
	mn, mx := b.Min(), b.Max()
	return cube.Box(mn.X(), mn.Y(), mn.Z(), mx.X()-1, mx.Y()-1, mx.Z()-1)
}
