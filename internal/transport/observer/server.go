// Package observer carries fixture sync messages between the server and
// rendering observers over websockets.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod/broadcast"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lodproto"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/logging"
)

const TypeSubscribe = "SUBSCRIBE"

// Observers is the part of the broadcaster sessions report to.
type Observers interface {
	Join(o broadcast.Observer)
	Move(o broadcast.Observer) bool
	Leave(id string)
}

type Config struct {
	// LoopbackOnly refuses connections from non-loopback addresses.
	LoopbackOnly bool
	// DataQueue bounds queued paced updates per session; the oldest is
	// evicted when full.
	DataQueue int
	// ReliableQueue bounds queued full-state and removal messages per
	// session.
	ReliableQueue int
}

func DefaultConfig() Config {
	return Config{DataQueue: 256, ReliableQueue: 64}
}

type frame struct {
	payload  []byte
	reliable bool
}

// session is one observer's outgoing queue. Frames leave in the order they
// were queued. When the data budget is full the oldest data frame is evicted;
// reliable frames are never evicted, a full reliable budget refuses new ones.
type session struct {
	dataCap     int
	reliableCap int

	mu       sync.Mutex
	frames   []frame
	data     int
	reliable int

	// ready holds a wakeup for the writer after a push.
	ready chan struct{}
}

func newSession(cfg Config) *session {
	return &session{dataCap: cfg.DataQueue, reliableCap: cfg.ReliableQueue, ready: make(chan struct{}, 1)}
}

// pushData queues b and reports whether an older data frame was evicted.
func (q *session) pushData(b []byte) (evicted bool) {
	q.mu.Lock()
	if q.data >= q.dataCap {
		for i, f := range q.frames {
			if !f.reliable {
				q.frames = append(q.frames[:i], q.frames[i+1:]...)
				q.data--
				evicted = true
				break
			}
		}
	}
	q.frames = append(q.frames, frame{payload: b})
	q.data++
	q.mu.Unlock()
	q.wake()
	return evicted
}

func (q *session) pushReliable(b []byte) bool {
	q.mu.Lock()
	if q.reliable >= q.reliableCap {
		q.mu.Unlock()
		return false
	}
	q.frames = append(q.frames, frame{payload: b, reliable: true})
	q.reliable++
	q.mu.Unlock()
	q.wake()
	return true
}

func (q *session) pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return nil, false
	}
	f := q.frames[0]
	q.frames[0] = frame{}
	q.frames = q.frames[1:]
	if f.reliable {
		q.reliable--
	} else {
		q.data--
	}
	return f.payload, true
}

func (q *session) wake() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

type Stats struct {
	Sessions       int
	DataDropped    uint64
	ReliableFailed uint64
}

// Server is a broadcast.Sender backed by websocket sessions.
type Server struct {
	cfg Config
	log logrus.FieldLogger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	obs       Observers
	bootstrap func() lodproto.BootstrapResponse

	mu       sync.Mutex
	sessions map[string]*session

	dataDropped    atomic.Uint64
	reliableFailed atomic.Uint64
}

func NewServer(cfg Config, logger logrus.FieldLogger) *Server {
	def := DefaultConfig()
	if cfg.DataQueue <= 0 {
		cfg.DataQueue = def.DataQueue
	}
	if cfg.ReliableQueue <= 0 {
		cfg.ReliableQueue = def.ReliableQueue
	}
	return &Server{
		cfg: cfg,
		log: logging.Component(logger, "observer"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sessions: map[string]*session{},
	}
}

// Attach sets where sessions join and leave. It must be called before the
// handlers serve traffic.
func (s *Server) Attach(obs Observers, bootstrap func() lodproto.BootstrapResponse) {
	s.obs = obs
	s.bootstrap = bootstrap
}

// Send queues a paced update behind everything already queued for the
// session, evicting the session's oldest queued update when the data budget
// is full.
func (s *Server) Send(id string, payload []byte) bool {
	sess := s.session(id)
	if sess == nil {
		return false
	}
	if sess.pushData(payload) {
		s.dataDropped.Add(1)
	}
	return true
}

// SendReliable queues a message that must not be dropped. It fails rather
// than evicting when the session is backed up.
func (s *Server) SendReliable(id string, payload []byte) bool {
	sess := s.session(id)
	if sess == nil {
		return false
	}
	if !sess.pushReliable(payload) {
		s.reliableFailed.Add(1)
		return false
	}
	return true
}

func (s *Server) Stats() Stats {
	s.mu.Lock()
	n := len(s.sessions)
	s.mu.Unlock()
	return Stats{Sessions: n, DataDropped: s.dataDropped.Load(), ReliableFailed: s.reliableFailed.Load()}
}

func (s *Server) session(id string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if s.cfg.LoopbackOnly && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		if s.bootstrap == nil {
			http.Error(rw, "not ready", http.StatusServiceUnavailable)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(s.bootstrap())
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if s.cfg.LoopbackOnly && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		if s.obs == nil {
			http.Error(rw, "not ready", http.StatusServiceUnavailable)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// The first frame must be a SUBSCRIBE.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, reason := parseSubscribe(msg)
		if reason != "" {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		sess := newSession(s.cfg)
		s.mu.Lock()
		s.sessions[sid] = sess
		s.mu.Unlock()
		defer func() {
			s.obs.Leave(sid)
			s.mu.Lock()
			delete(s.sessions, sid)
			s.mu.Unlock()
		}()
		s.obs.Join(observerFor(sid, sub))
		s.log.WithField("session", sid).Infof("observer %q joined region %s", sub.ObserverName, sub.RegionID)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine. A removal queued after an update for the same
		// fixture must reach the observer after it, so frames go out strictly
		// in queue order.
		writeErr := make(chan error, 1)
		go func() {
			for {
				b, ok := sess.pop()
				if !ok {
					select {
					case <-ctx.Done():
						writeErr <- ctx.Err()
						return
					case <-sess.ready:
					}
					continue
				}
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
					writeErr <- err
					return
				}
			}
		}()

		// Later SUBSCRIBE frames move the observer; anything else is ignored.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			sub, reason := parseSubscribe(msg)
			if reason != "" {
				continue
			}
			s.obs.Move(observerFor(sid, sub))
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Give the writer a moment to exit before conn is closed.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		s.log.WithField("session", sid).Info("observer left")
	}
}

// parseSubscribe returns a close reason when msg is not a usable SUBSCRIBE.
func parseSubscribe(msg []byte) (lodproto.SubscribeMsg, string) {
	var sub lodproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, "bad subscribe"
	}
	if sub.Type != TypeSubscribe {
		return sub, "expected SUBSCRIBE"
	}
	if sub.ProtocolVersion != lodproto.Version {
		return sub, "bad protocol_version"
	}
	if strings.TrimSpace(sub.RegionID) == "" {
		return sub, "missing region_id"
	}
	normalizeSubscribe(&sub)
	return sub, ""
}

func normalizeSubscribe(sub *lodproto.SubscribeMsg) {
	if sub.ViewDistanceChunks < 0 {
		sub.ViewDistanceChunks = 0
	}
	if sub.ViewDistanceChunks > 64 {
		sub.ViewDistanceChunks = 64
	}
}

func observerFor(sid string, sub lodproto.SubscribeMsg) broadcast.Observer {
	return broadcast.Observer{
		ID:                 sid,
		RegionID:           sub.RegionID,
		Pos:                mgl32.Vec3(sub.Pos),
		ViewDistanceChunks: sub.ViewDistanceChunks,
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
