// Package broadcast fans fixture updates out to observers, pacing each
// observer by its distance from the fixture.
package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod/fixture"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lodproto"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/logging"
)

// Sender delivers encoded messages. Both calls are fire-and-forget and
// report whether the payload was queued.
type Sender interface {
	Send(observerID string, payload []byte) bool
	// SendReliable must not drop the payload to make room for newer data.
	SendReliable(observerID string, payload []byte) bool
}

type Observer struct {
	ID                 string
	RegionID           string
	Pos                mgl32.Vec3
	ViewDistanceChunks int
}

type observerState struct {
	Observer
	// One timestamp per observer across all fixtures.
	lastUpdate int64
	updated    bool
}

type Stats struct {
	Observers     int
	UpdatesSent   uint64
	UpdatesPaced  uint64
	RemovalsSent  uint64
	FullStateSent uint64
	SendFailures  uint64
}

type Broadcaster struct {
	cfg     Config
	log     logrus.FieldLogger
	sender  Sender
	now     func() int64
	records func() []fixture.Record

	mu        sync.Mutex
	observers *orderedmap.OrderedMap[string, *observerState]

	updatesSent   atomic.Uint64
	updatesPaced  atomic.Uint64
	removalsSent  atomic.Uint64
	fullStateSent atomic.Uint64
	sendFailures  atomic.Uint64
}

// New returns a broadcaster. now reports the current tick and records
// lists every live record for full-state messages.
func New(cfg Config, sender Sender, now func() int64, records func() []fixture.Record, logger logrus.FieldLogger) *Broadcaster {
	return &Broadcaster{
		cfg:       cfg,
		log:       logging.Component(logger, "broadcast"),
		sender:    sender,
		now:       now,
		records:   records,
		observers: orderedmap.NewOrderedMap[string, *observerState](),
	}
}

// Join registers an observer and sends it the full state.
func (b *Broadcaster) Join(o Observer) {
	b.mu.Lock()
	b.observers.Set(o.ID, &observerState{Observer: o})
	b.mu.Unlock()
	b.SendFullState(o.ID)
}

// Move updates an observer's position without resetting its pacing.
func (b *Broadcaster) Move(o Observer) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.observers.Get(o.ID)
	if !ok {
		return false
	}
	st.Observer = o
	return true
}

func (b *Broadcaster) Leave(id string) {
	b.mu.Lock()
	b.observers.Delete(id)
	b.mu.Unlock()
}

// Observers returns the connected observers in join order.
func (b *Broadcaster) Observers() []Observer {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Observer, 0, b.observers.Len())
	for el := b.observers.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.Observer)
	}
	return out
}

// SendFullState sends every live record to one observer as one message.
func (b *Broadcaster) SendFullState(id string) bool {
	payload, ok := b.fullState()
	if !ok {
		return false
	}
	return b.deliver(id, payload, true, &b.fullStateSent)
}

// SendFullStateToAll re-sends the full state to every observer.
func (b *Broadcaster) SendFullStateToAll() int {
	payload, ok := b.fullState()
	if !ok {
		return 0
	}
	n := 0
	for _, o := range b.Observers() {
		if b.deliver(o.ID, payload, true, &b.fullStateSent) {
			n++
		}
	}
	return n
}

// BroadcastUpdate sends rec to every observer whose pacing interval has
// elapsed. It returns the number of observers the update was queued for.
func (b *Broadcaster) BroadcastUpdate(rec fixture.Record) int {
	now := b.now()
	payload, err := lodproto.EncodeUpdate(now, rec)
	if err != nil {
		b.log.Warnf("encode update %s: %v", rec.ID, err)
		return 0
	}
	origin := anchorCentre(rec)

	// Slots are claimed before sending so concurrent callers cannot both
	// pass the gate for one observer.
	type claim struct {
		st         *observerState
		prev       int64
		wasUpdated bool
	}
	b.mu.Lock()
	var due []claim
	for el := b.observers.Front(); el != nil; el = el.Next() {
		st := el.Value
		if st.updated && now-st.lastUpdate < b.intervalFor(st, rec, origin) {
			b.updatesPaced.Add(1)
			continue
		}
		due = append(due, claim{st: st, prev: st.lastUpdate, wasUpdated: st.updated})
		st.lastUpdate = now
		st.updated = true
	}
	b.mu.Unlock()

	n := 0
	for _, c := range due {
		if b.deliver(c.st.ID, payload, false, &b.updatesSent) {
			n++
			continue
		}
		// A failed send gives the slot back unless a later send took it.
		b.mu.Lock()
		if c.st.updated && c.st.lastUpdate == now {
			c.st.lastUpdate = c.prev
			c.st.updated = c.wasUpdated
		}
		b.mu.Unlock()
	}
	return n
}

// BroadcastRemoval sends a removal to every observer, bypassing pacing.
func (b *Broadcaster) BroadcastRemoval(id uuid.UUID) int {
	payload, err := lodproto.EncodeRemove(b.now(), id)
	if err != nil {
		b.log.Warnf("encode removal %s: %v", id, err)
		return 0
	}
	n := 0
	for _, o := range b.Observers() {
		if b.deliver(o.ID, payload, true, &b.removalsSent) {
			n++
		}
	}
	return n
}

func (b *Broadcaster) Stats() Stats {
	b.mu.Lock()
	n := b.observers.Len()
	b.mu.Unlock()
	return Stats{
		Observers:     n,
		UpdatesSent:   b.updatesSent.Load(),
		UpdatesPaced:  b.updatesPaced.Load(),
		RemovalsSent:  b.removalsSent.Load(),
		FullStateSent: b.fullStateSent.Load(),
		SendFailures:  b.sendFailures.Load(),
	}
}

func (b *Broadcaster) intervalFor(st *observerState, rec fixture.Record, origin mgl32.Vec3) int64 {
	view := st.ViewDistanceChunks
	if view <= 0 {
		view = b.cfg.ViewDistanceChunks
	}
	dist := b.cfg.MaxRenderDistance
	if st.RegionID == rec.RegionID {
		dist = st.Pos.Sub(origin).Len()
	}
	return Interval(b.cfg, dist, view)
}

func (b *Broadcaster) fullState() ([]byte, bool) {
	var recs []fixture.Record
	if b.records != nil {
		recs = b.records()
	}
	payload, err := lodproto.EncodeFullState(b.now(), recs)
	if err != nil {
		b.log.Warnf("encode full state: %v", err)
		return nil, false
	}
	return payload, true
}

func (b *Broadcaster) deliver(id string, payload []byte, reliable bool, counter *atomic.Uint64) bool {
	if b.sender == nil {
		return false
	}
	var ok bool
	if reliable {
		ok = b.sender.SendReliable(id, payload)
	} else {
		ok = b.sender.Send(id, payload)
	}
	if !ok {
		b.sendFailures.Add(1)
		return false
	}
	counter.Add(1)
	return true
}

func anchorCentre(r fixture.Record) mgl32.Vec3 {
	return mgl32.Vec3{float32(r.Anchor.X()) + 0.5, float32(r.Anchor.Y()) + 0.5, float32(r.Anchor.Z()) + 0.5}
}
