// Package lodproto defines the fixture sync wire format shared by the
// authoritative server and rendering observers.
//
// Sync messages are msgpack maps sent as websocket binary frames. Control
// messages (SUBSCRIBE, bootstrap) are JSON.
package lodproto

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod/fixture"
)

// Version is the sync protocol version.
const Version = "1.0"

const (
	TypeFullState = "FULL_STATE"
	TypeUpdate    = "UPDATE"
	TypeRemove    = "REMOVE"
)

type envelope struct {
	Type    string           `msgpack:"type"`
	Tick    int64            `msgpack:"tick"`
	Records []map[string]any `msgpack:"records,omitempty"`
	Record  map[string]any   `msgpack:"record,omitempty"`
	ID      []byte           `msgpack:"id,omitempty"`
}

// Message is a decoded sync message. Records that failed to decode are
// counted in Dropped and left out.
type Message struct {
	Type    string
	Tick    int64
	Records []fixture.Record
	ID      uuid.UUID
	Dropped int
}

func EncodeFullState(tick int64, recs []fixture.Record) ([]byte, error) {
	env := envelope{Type: TypeFullState, Tick: tick, Records: make([]map[string]any, 0, len(recs))}
	for _, r := range recs {
		env.Records = append(env.Records, EncodeRecord(r, IDBinary))
	}
	return msgpack.Marshal(&env)
}

func EncodeUpdate(tick int64, r fixture.Record) ([]byte, error) {
	return msgpack.Marshal(&envelope{Type: TypeUpdate, Tick: tick, Record: EncodeRecord(r, IDBinary)})
}

func EncodeRemove(tick int64, id uuid.UUID) ([]byte, error) {
	return msgpack.Marshal(&envelope{Type: TypeRemove, Tick: tick, ID: id[:]})
}

var ErrUnknownType = errors.New("lodproto: unknown message type")

// Decode parses one sync message.
func Decode(b []byte) (Message, error) {
	var env envelope
	if err := msgpack.Unmarshal(b, &env); err != nil {
		return Message{}, fmt.Errorf("lodproto: decode: %w", err)
	}
	msg := Message{Type: env.Type, Tick: env.Tick}
	switch env.Type {
	case TypeFullState:
		msg.Records = make([]fixture.Record, 0, len(env.Records))
		for _, m := range env.Records {
			r, err := DecodeRecord(m)
			if err != nil {
				msg.Dropped++
				continue
			}
			msg.Records = append(msg.Records, r)
		}
	case TypeUpdate:
		r, err := DecodeRecord(env.Record)
		if err != nil {
			msg.Dropped++
			break
		}
		msg.Records = []fixture.Record{r}
	case TypeRemove:
		id, err := uuid.FromBytes(env.ID)
		if err != nil {
			return msg, fmt.Errorf("lodproto: remove: %w", err)
		}
		msg.ID = id
	default:
		return msg, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	return msg, nil
}

// SubscribeMsg is sent by an observer first and again whenever its view
// position or distance changes.
type SubscribeMsg struct {
	Type               string     `json:"type"`
	ProtocolVersion    string     `json:"protocol_version"`
	ObserverName       string     `json:"observer_name,omitempty"`
	RegionID           string     `json:"region_id"`
	Pos                [3]float32 `json:"pos"`
	ViewDistanceChunks int        `json:"view_distance_chunks"`
}

// BootstrapResponse is served at GET /v1/lod/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string       `json:"protocol_version"`
	Tick            int64        `json:"tick"`
	TickRateHz      int          `json:"tick_rate_hz"`
	Fixtures        int          `json:"fixtures"`
	Render          RenderParams `json:"render"`
}

type RenderParams struct {
	MaxRenderDistance     float32 `json:"max_render_distance"`
	RenderUpdateThreshold float32 `json:"render_update_threshold"`
	ClipPadding           float32 `json:"clip_padding"`
	ClipOffset            float32 `json:"clip_offset"`
}
