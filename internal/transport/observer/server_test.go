package observer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethaniccc/float32-cube/cube"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod/broadcast"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod/fixture"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod/geometry"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lodproto"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/logging"
)

type harness struct {
	srv   *Server
	bc    *broadcast.Broadcaster
	store *fixture.Store
	ts    *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{store: fixture.NewStore(geometry.DefaultConfig())}
	h.srv = NewServer(DefaultConfig(), nil)
	h.bc = broadcast.New(broadcast.Config{BaseIntervalTicks: 20, StrideChunks: 8, MaxRenderDistance: 2048, ViewDistanceChunks: 12},
		h.srv, func() int64 { return 100 }, h.store.All, nil)
	h.srv.Attach(h.bc, func() lodproto.BootstrapResponse {
		return lodproto.BootstrapResponse{ProtocolVersion: lodproto.Version, Tick: 100, TickRateHz: 20, Fixtures: h.store.Len()}
	})
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/lod/ws", h.srv.WSHandler())
	mux.HandleFunc("/v1/lod/bootstrap", h.srv.BootstrapHandler())
	h.ts = httptest.NewServer(mux)
	t.Cleanup(h.ts.Close)
	return h
}

func (h *harness) wsURL() string {
	return "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/v1/lod/ws"
}

func mill(angle float32) fixture.Record {
	r := fixture.New(uuid.MustParse("00000000-0000-0000-0000-0000000000c1"), "r0", cube.Pos{64, 80, 0}, geometry.AxisZ)
	r.Speed = 1
	r.Angle = angle
	r.LastSyncTick = 100
	return r
}

func waitFor(t *testing.T, ch <-chan lodproto.Message, typ string) lodproto.Message {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case m := <-ch:
			if m.Type == typ {
				return m
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func TestSession_FullStateUpdateRemove(t *testing.T) {
	h := newHarness(t)
	h.store.Put(mill(10))

	local := fixture.NewStore(geometry.DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, err := Dial(ctx, h.wsURL(), lodproto.SubscribeMsg{RegionID: "r0", Pos: [3]float32{0, 80, 0}}, local, func() int64 { return 500 }, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	msgs := make(chan lodproto.Message, 16)
	c.OnMessage(func(m lodproto.Message) { msgs <- m })
	go c.Run(ctx)

	waitFor(t, msgs, lodproto.TypeFullState)
	got, ok := local.Get(mill(0).ID)
	if !ok || got.Angle != 10 || got.LastSyncTick != 500 {
		t.Fatalf("after full state: %+v ok=%v", got, ok)
	}
	if obs := h.bc.Observers(); len(obs) != 1 || obs[0].ID != "O1" || obs[0].RegionID != "r0" {
		t.Fatalf("observers %+v", obs)
	}

	upd := mill(45)
	h.store.Put(upd)
	if n := h.bc.BroadcastUpdate(upd); n != 1 {
		t.Fatalf("update queued for %d observers", n)
	}
	waitFor(t, msgs, lodproto.TypeUpdate)
	if got, _ := local.Get(upd.ID); got.Angle != 45 {
		t.Fatalf("angle after update %v", got.Angle)
	}

	h.bc.BroadcastRemoval(upd.ID)
	waitFor(t, msgs, lodproto.TypeRemove)
	if local.Len() != 0 {
		t.Fatalf("record kept after removal")
	}
	if st := c.Stats(); st.Applied != 3 || st.ServerTick != 100 {
		t.Fatalf("client stats %+v", st)
	}
}

func TestSession_SubscribeMovesObserver(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, err := Dial(ctx, h.wsURL(), lodproto.SubscribeMsg{RegionID: "r0"}, fixture.NewStore(geometry.DefaultConfig()), func() int64 { return 0 }, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	msgs := make(chan lodproto.Message, 4)
	c.OnMessage(func(m lodproto.Message) { msgs <- m })
	go c.Run(ctx)
	waitFor(t, msgs, lodproto.TypeFullState)

	if err := c.Subscribe(lodproto.SubscribeMsg{RegionID: "r1", Pos: [3]float32{1, 2, 3}, ViewDistanceChunks: 500}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		obs := h.bc.Observers()
		if len(obs) == 1 && obs[0].RegionID == "r1" {
			if obs[0].ViewDistanceChunks != 64 || obs[0].Pos[2] != 3 {
				t.Fatalf("observer %+v", obs[0])
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("observer never moved: %+v", h.bc.Observers())
}

func TestHandshake_RejectsBadSubscribe(t *testing.T) {
	h := newHarness(t)
	conn, _, err := websocket.DefaultDialer.Dial(h.wsURL(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	b, _ := json.Marshal(lodproto.SubscribeMsg{Type: TypeSubscribe, ProtocolVersion: "0.1", RegionID: "r0"})
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != websocket.ClosePolicyViolation {
		t.Fatalf("expected policy close, got %v", err)
	}
	if n := len(h.bc.Observers()); n != 0 {
		t.Fatalf("rejected session joined: %d observers", n)
	}
}

func drain(sess *session) []string {
	var out []string
	for {
		b, ok := sess.pop()
		if !ok {
			return out
		}
		out = append(out, string(b))
	}
}

func TestSend_DropsOldest(t *testing.T) {
	s := NewServer(Config{DataQueue: 2, ReliableQueue: 1}, nil)
	sess := newSession(s.cfg)
	s.sessions["O9"] = sess

	for _, p := range []string{"a", "b", "c"} {
		if !s.Send("O9", []byte(p)) {
			t.Fatalf("send %s failed", p)
		}
	}
	if !s.SendReliable("O9", []byte("full")) || s.SendReliable("O9", []byte("full2")) {
		t.Fatalf("reliable queue should accept one then refuse")
	}
	if s.Send("nobody", []byte("x")) {
		t.Fatalf("send to unknown session succeeded")
	}
	if st := s.Stats(); st.DataDropped != 1 || st.ReliableFailed != 1 || st.Sessions != 1 {
		t.Fatalf("stats %+v", st)
	}
	if got := strings.Join(drain(sess), ","); got != "b,c,full" {
		t.Fatalf("queued %q want b,c,full", got)
	}
}

func TestSend_EvictionSkipsReliableFrames(t *testing.T) {
	s := NewServer(Config{DataQueue: 1, ReliableQueue: 4}, nil)
	sess := newSession(s.cfg)
	s.sessions["O9"] = sess

	s.SendReliable("O9", []byte("full"))
	s.Send("O9", []byte("u1"))
	s.SendReliable("O9", []byte("remove"))
	s.Send("O9", []byte("u2"))

	if got := strings.Join(drain(sess), ","); got != "full,remove,u2" {
		t.Fatalf("queued %q want full,remove,u2", got)
	}
	// The budgets are released as frames leave.
	if !s.Send("O9", []byte("u3")) || !s.SendReliable("O9", []byte("r")) {
		t.Fatalf("drained session refused frames")
	}
	if got := strings.Join(drain(sess), ","); got != "u3,r" {
		t.Fatalf("queued %q want u3,r", got)
	}
}

func TestSend_RemovalNeverOvertakesQueuedUpdate(t *testing.T) {
	s := NewServer(DefaultConfig(), nil)
	sess := newSession(s.cfg)
	s.sessions["O9"] = sess
	rec := mill(45)

	// Nothing drains the session yet, like a writer blocked on a slow
	// socket.
	upd, err := lodproto.EncodeUpdate(100, rec)
	if err != nil {
		t.Fatalf("encode update: %v", err)
	}
	rm, err := lodproto.EncodeRemove(100, rec.ID)
	if err != nil {
		t.Fatalf("encode remove: %v", err)
	}
	s.Send("O9", upd)
	s.SendReliable("O9", rm)

	local := fixture.NewStore(geometry.DefaultConfig())
	c := &Client{Store: local, now: func() int64 { return 500 }, log: logging.Component(nil, "test")}
	var order []string
	for {
		b, ok := sess.pop()
		if !ok {
			break
		}
		msg, err := lodproto.Decode(b)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		order = append(order, msg.Type)
		c.Apply(msg)
	}
	if len(order) != 2 || order[0] != lodproto.TypeUpdate || order[1] != lodproto.TypeRemove {
		t.Fatalf("frame order %v", order)
	}
	if _, ok := local.Get(rec.ID); ok {
		t.Fatalf("removed fixture resurrected on the observer")
	}
}

func TestSession_WriterDeliversBacklogInOrder(t *testing.T) {
	h := newHarness(t)
	rec := mill(10)
	h.store.Put(rec)

	local := fixture.NewStore(geometry.DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, err := Dial(ctx, h.wsURL(), lodproto.SubscribeMsg{RegionID: "r0", Pos: [3]float32{0, 80, 0}}, local, func() int64 { return 500 }, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	msgs := make(chan lodproto.Message, 16)
	c.OnMessage(func(m lodproto.Message) { msgs <- m })
	go c.Run(ctx)
	waitFor(t, msgs, lodproto.TypeFullState)

	upd := mill(90)
	h.store.Put(upd)
	h.bc.BroadcastUpdate(upd)
	h.store.Remove(upd.ID)
	h.bc.BroadcastRemoval(upd.ID)

	if m := waitFor(t, msgs, lodproto.TypeUpdate); len(m.Records) != 1 {
		t.Fatalf("update %+v", m)
	}
	waitFor(t, msgs, lodproto.TypeRemove)
	if local.Len() != 0 {
		t.Fatalf("observer kept %d fixtures after removal", local.Len())
	}
}

func TestBootstrapHandler(t *testing.T) {
	h := newHarness(t)
	h.store.Put(mill(0))
	resp, err := FetchBootstrap(context.Background(), h.ts.URL)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if resp.ProtocolVersion != lodproto.Version || resp.Fixtures != 1 || resp.TickRateHz != 20 {
		t.Fatalf("bootstrap %+v", resp)
	}

	gated := NewServer(Config{LoopbackOnly: true}, nil)
	gated.Attach(h.bc, func() lodproto.BootstrapResponse { return lodproto.BootstrapResponse{} })
	req := httptest.NewRequest(http.MethodGet, "/v1/lod/bootstrap", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	rec := httptest.NewRecorder()
	gated.BootstrapHandler()(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("remote bootstrap code=%d", rec.Code)
	}
}
