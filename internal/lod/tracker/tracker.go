// Package tracker keeps fixture records in step with the host's bearings.
//
// Every sync interval each record is classified as TICKING (its bearing is
// simulated and readable), NON_TICKING (its chunk is loaded but idle, or not
// loaded at all) or ABSENT (its chunk is loaded and the bearing is gone).
// The tracker predicts angles from the last sync, updates and broadcasts
// records that drift, and nudges idle bearings toward the prediction. It
// never returns errors to the tick loop.
package tracker

import (
	"fmt"
	"sync/atomic"

	"github.com/chewxy/math32"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/host"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod/fixture"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/logging"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/sim/logic/mathx"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/sim/tuning"
)

type State uint8

const (
	StateSkipped State = iota
	StateTicking
	StateNonTicking
	StateAbsent
)

func (s State) String() string {
	switch s {
	case StateTicking:
		return "TICKING"
	case StateNonTicking:
		return "NON_TICKING"
	case StateAbsent:
		return "ABSENT"
	default:
		return "SKIPPED"
	}
}

// Broadcaster is the part of the broadcast protocol the tracker drives.
type Broadcaster interface {
	BroadcastUpdate(rec fixture.Record) int
	BroadcastRemoval(id uuid.UUID) int
}

type EventKind string

const (
	EventUpdate     EventKind = "update"
	EventRemoval    EventKind = "removal"
	EventCorrection EventKind = "correction"
	EventDrift      EventKind = "drift"
)

// Event describes one state change made by the tracker. For corrections
// Previous is the live angle that was overwritten.
type Event struct {
	Kind     EventKind `json:"kind"`
	Tick     int64     `json:"tick"`
	ID       uuid.UUID `json:"fixture_id"`
	RegionID string    `json:"region_id"`
	State    string    `json:"state"`
	Previous float32   `json:"previous"`
	Angle    float32   `json:"angle"`
	Speed    float32   `json:"speed"`
}

type Stats struct {
	Passes      uint64
	Updates     uint64
	Removals    uint64
	Corrections uint64
	Drifts      uint64
	Panics      uint64
}

type Tracker struct {
	cfg   tuning.Sync
	host  host.Host
	store *fixture.Store
	out   Broadcaster
	log   logrus.FieldLogger

	onEvent func(Event)
	lastRun int64
	ran     bool

	passes      atomic.Uint64
	updates     atomic.Uint64
	removals    atomic.Uint64
	corrections atomic.Uint64
	drifts      atomic.Uint64
	panics      atomic.Uint64
}

func New(cfg tuning.Sync, h host.Host, store *fixture.Store, out Broadcaster, logger logrus.FieldLogger) *Tracker {
	return &Tracker{
		cfg:   cfg,
		host:  h,
		store: store,
		out:   out,
		log:   logging.Component(logger, "tracker"),
	}
}

// OnEvent installs a hook called synchronously for every event. It must be
// set before the tick loop starts.
func (t *Tracker) OnEvent(fn func(Event)) { t.onEvent = fn }

// Tick runs a pass when at least one sync interval has elapsed since the
// last one and reports whether it did.
func (t *Tracker) Tick(now int64) bool {
	interval := int64(t.cfg.IntervalTicks)
	if interval < 1 {
		interval = 1
	}
	if t.ran && now-t.lastRun < interval {
		return false
	}
	t.ran = true
	t.lastRun = now
	t.Pass(now)
	return true
}

// Pass evaluates every record once.
func (t *Tracker) Pass(now int64) map[State]int {
	t.passes.Add(1)
	counts := map[State]int{}
	for _, rec := range t.store.All() {
		counts[t.Evaluate(rec.ID, now)]++
	}
	return counts
}

// Evaluate runs the state machine for one record. Panics from the host are
// recovered, reported and the record is skipped.
func (t *Tracker) Evaluate(id uuid.UUID, now int64) (state State) {
	defer func() {
		if err := recover(); err != nil {
			state = StateSkipped
			t.panics.Add(1)
			t.log.Errorf("evaluate %s panic: %v", id, err)
			hub := sentry.CurrentHub().Clone()
			hub.ConfigureScope(func(scope *sentry.Scope) {
				scope.SetTag("fixture_id", id.String())
			})
			hub.Recover(fmt.Errorf("tracker: %v", err))
		}
	}()

	rec, ok := t.store.Get(id)
	if !ok || t.host == nil {
		return StateSkipped
	}
	predicted := rec.PredictedAngle(now)
	probe := t.host.ProbeFixture(rec.RegionID, rec.Anchor)
	live, isLive := host.AsRotating(probe)

	cx, cz := int32(mathx.ChunkCoord(rec.Anchor.X())), int32(mathx.ChunkCoord(rec.Anchor.Z()))
	if !isLive && t.host.ChunkAvailable(rec.RegionID, cx, cz) {
		t.remove(rec, now)
		return StateAbsent
	}

	if !t.host.ActivelySimulated(rec.RegionID, rec.Anchor) {
		t.nonTicking(rec, now, predicted, live, isLive)
		return StateNonTicking
	}
	if !isLive {
		return StateSkipped
	}
	t.ticking(rec, now, predicted, live)
	return StateTicking
}

func (t *Tracker) nonTicking(rec fixture.Record, now int64, predicted float32, live host.RotatingFixture, isLive bool) {
	if !rec.Stale {
		var ok bool
		if rec, ok = t.store.Update(rec.ID, func(r *fixture.Record) { r.Stale = true }); !ok {
			return
		}
	}
	if t.differs(rec, rec.Speed, predicted) {
		t.sync(rec.ID, now, rec.Speed, predicted, StateNonTicking)
	}
	if !isLive || now-rec.TickRegistered < t.cfg.MinCorrectionAgeTicks {
		return
	}
	t.checkDrift(rec, now, live.Angle, predicted, StateNonTicking)
	if mathx.AngularDistance(live.Angle, predicted) > t.cfg.AngleThreshold {
		t.correct(rec, now, live.Angle, predicted, StateNonTicking)
	}
}

func (t *Tracker) ticking(rec fixture.Record, now int64, predicted float32, live host.RotatingFixture) {
	wasStale := rec.Stale
	if wasStale {
		var ok bool
		if rec, ok = t.store.Update(rec.ID, func(r *fixture.Record) { r.Stale = false }); !ok {
			return
		}
	}
	t.checkDrift(rec, now, live.Angle, predicted, StateTicking)

	if wasStale && mathx.AngularDistance(live.Angle, predicted) > t.cfg.AngleThreshold {
		t.correct(rec, now, live.Angle, predicted, StateTicking)
		t.sync(rec.ID, now, live.Speed, predicted, StateTicking)
		return
	}
	if t.differs(rec, live.Speed, live.Angle) {
		t.sync(rec.ID, now, live.Speed, live.Angle, StateTicking)
	}
}

func (t *Tracker) differs(rec fixture.Record, speed, angle float32) bool {
	return mathx.AngularDistance(rec.Angle, angle) > t.cfg.AngleThreshold ||
		math32.Abs(rec.Speed-speed) > t.cfg.SpeedThreshold
}

func (t *Tracker) sync(id uuid.UUID, now int64, speed, angle float32, st State) {
	if _, ok := t.store.Update(id, func(r *fixture.Record) {
		r.Speed = speed
		r.Angle = angle
		r.LastSyncTick = now
	}); !ok {
		return
	}
	// Publishing under the entry lock orders this update before any removal
	// broadcast for the same id.
	var rec fixture.Record
	if !t.store.Publish(id, func(r fixture.Record) {
		rec = r
		if t.out != nil {
			t.out.BroadcastUpdate(r)
		}
	}) {
		return
	}
	t.updates.Add(1)
	t.emit(Event{Kind: EventUpdate, Tick: now, ID: rec.ID, RegionID: rec.RegionID, State: st.String(), Angle: rec.Angle, Speed: rec.Speed})
}

func (t *Tracker) remove(rec fixture.Record, now int64) {
	if _, ok := t.store.Remove(rec.ID); !ok {
		return
	}
	t.removals.Add(1)
	t.log.Infof("fixture %s in %s is gone, removing", rec.ID, rec.RegionID)
	if t.out != nil {
		t.out.BroadcastRemoval(rec.ID)
	}
	t.emit(Event{Kind: EventRemoval, Tick: now, ID: rec.ID, RegionID: rec.RegionID, State: StateAbsent.String()})
}

func (t *Tracker) correct(rec fixture.Record, now int64, previous, angle float32, st State) {
	if !t.host.OverrideAngle(rec.RegionID, rec.Anchor, angle) {
		return
	}
	t.corrections.Add(1)
	t.log.WithFields(logrus.Fields{
		"fixture_id": rec.ID.String(),
		"state":      st.String(),
	}).Infof("overwrote bearing angle from %.2f to %.2f", previous, angle)
	t.emit(Event{Kind: EventCorrection, Tick: now, ID: rec.ID, RegionID: rec.RegionID, State: st.String(), Previous: previous, Angle: angle, Speed: rec.Speed})
}

func (t *Tracker) checkDrift(rec fixture.Record, now int64, live, predicted float32, st State) {
	d := mathx.AngularDistance(live, predicted)
	if d <= t.cfg.DisconnectLogThreshold {
		return
	}
	t.drifts.Add(1)
	t.log.WithFields(logrus.Fields{
		"fixture_id": rec.ID.String(),
		"state":      st.String(),
	}).Warnf("rotation drifted %.2f degrees from prediction", d)
	t.emit(Event{Kind: EventDrift, Tick: now, ID: rec.ID, RegionID: rec.RegionID, State: st.String(), Previous: live, Angle: predicted, Speed: rec.Speed})
}

// ForceZeroAngles sets every readable bearing in region, or in every region
// when region is empty, to 0 degrees and syncs its record. It returns the
// number of records changed.
func (t *Tracker) ForceZeroAngles(region string, now int64) int {
	var recs []fixture.Record
	if region == "" {
		recs = t.store.All()
	} else {
		recs = t.store.InRegion(region)
	}
	n := 0
	for _, rec := range recs {
		if _, ok := host.AsRotating(t.host.ProbeFixture(rec.RegionID, rec.Anchor)); !ok {
			continue
		}
		if !t.host.OverrideAngle(rec.RegionID, rec.Anchor, 0) {
			continue
		}
		t.sync(rec.ID, now, rec.Speed, 0, StateTicking)
		n++
	}
	if n > 0 {
		t.log.Infof("zeroed %d bearing angles", n)
	}
	return n
}

func (t *Tracker) Stats() Stats {
	return Stats{
		Passes:      t.passes.Load(),
		Updates:     t.updates.Load(),
		Removals:    t.removals.Load(),
		Corrections: t.corrections.Load(),
		Drifts:      t.drifts.Load(),
		Panics:      t.panics.Load(),
	}
}

func (t *Tracker) emit(ev Event) {
	if t.onEvent != nil {
		t.onEvent(ev)
	}
}
