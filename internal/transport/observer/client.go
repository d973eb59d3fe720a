package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod/fixture"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lodproto"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/logging"
)

// Client mirrors the server's fixtures into a local store. Records are
// re-based on the observer's own tick when they arrive, so the local clock
// drives extrapolation.
type Client struct {
	Store *fixture.Store

	conn *websocket.Conn
	now  func() int64
	log  logrus.FieldLogger

	writeMu sync.Mutex

	// applyMu guards tombstones: the server tick of each removal not yet
	// superseded by a newer record or full state.
	applyMu    sync.Mutex
	tombstones map[uuid.UUID]int64

	applied   atomic.Uint64
	dropped   atomic.Uint64
	lastTick  atomic.Int64
	onMessage func(lodproto.Message)
}

type ClientStats struct {
	Applied    uint64
	Dropped    uint64
	ServerTick int64
}

// Dial connects to a websocket endpoint and sends the first SUBSCRIBE. now
// reports the observer's local tick.
func Dial(ctx context.Context, url string, sub lodproto.SubscribeMsg, store *fixture.Store, now func() int64, logger logrus.FieldLogger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("observer: dial %s: %w", url, err)
	}
	c := &Client{Store: store, conn: conn, now: now, log: logging.Component(logger, "observer-client")}
	if err := c.Subscribe(sub); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// OnMessage is called after each applied message, from the Run goroutine.
func (c *Client) OnMessage(fn func(lodproto.Message)) { c.onMessage = fn }

// Subscribe sends a SUBSCRIBE; after the handshake it updates the view.
func (c *Client) Subscribe(sub lodproto.SubscribeMsg) error {
	sub.Type = TypeSubscribe
	if sub.ProtocolVersion == "" {
		sub.ProtocolVersion = lodproto.Version
	}
	b, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// Run reads and applies messages until the connection or ctx closes.
func (c *Client) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		c.conn.Close()
	}()
	for {
		_, b, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		msg, err := lodproto.Decode(b)
		if err != nil {
			c.log.Debugf("skip message: %v", err)
			continue
		}
		c.Apply(msg)
		if c.onMessage != nil {
			c.onMessage(msg)
		}
	}
}

// Apply merges one sync message into the store. A record older than a
// removal already applied for its id is ignored.
func (c *Client) Apply(msg lodproto.Message) {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()
	if c.tombstones == nil {
		c.tombstones = map[uuid.UUID]int64{}
	}
	c.lastTick.Store(msg.Tick)
	c.dropped.Add(uint64(msg.Dropped))
	local := c.now()
	switch msg.Type {
	case lodproto.TypeFullState:
		for id, tick := range c.tombstones {
			if tick <= msg.Tick {
				delete(c.tombstones, id)
			}
		}
		keep := make(map[uuid.UUID]bool, len(msg.Records))
		for _, r := range msg.Records {
			if c.put(r, msg.Tick, local) {
				keep[r.ID] = true
			}
		}
		for _, r := range c.Store.All() {
			if !keep[r.ID] {
				c.Store.Remove(r.ID)
			}
		}
	case lodproto.TypeUpdate:
		for _, r := range msg.Records {
			c.put(r, msg.Tick, local)
		}
	case lodproto.TypeRemove:
		c.Store.Remove(msg.ID)
		if prev, ok := c.tombstones[msg.ID]; !ok || msg.Tick > prev {
			c.tombstones[msg.ID] = msg.Tick
		}
	}
	c.applied.Add(1)
}

func (c *Client) put(r fixture.Record, serverTick, local int64) bool {
	if removed, ok := c.tombstones[r.ID]; ok {
		if serverTick < removed {
			return false
		}
		delete(c.tombstones, r.ID)
	}
	r.Angle = r.PredictedAngle(serverTick)
	r.LastSyncTick = local
	if _, res := c.Store.Put(r); res == fixture.PutRejected {
		c.dropped.Add(1)
		return false
	}
	return true
}

func (c *Client) Stats() ClientStats {
	return ClientStats{Applied: c.applied.Load(), Dropped: c.dropped.Load(), ServerTick: c.lastTick.Load()}
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// FetchBootstrap reads the server's bootstrap document.
func FetchBootstrap(ctx context.Context, baseURL string) (lodproto.BootstrapResponse, error) {
	var out lodproto.BootstrapResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/lod/bootstrap", nil)
	if err != nil {
		return out, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("observer: bootstrap: %s", resp.Status)
	}
	err = json.NewDecoder(resp.Body).Decode(&out)
	return out, err
}
