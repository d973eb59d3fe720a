package lodproto

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/ethaniccc/float32-cube/cube"
	"github.com/google/uuid"

	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod/fixture"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod/geometry"
)

var (
	ErrMissingID   = errors.New("lodproto: missing or unparseable fixture id")
	ErrBlankRegion = errors.New("lodproto: blank region id")
	ErrBadAnchor   = errors.New("lodproto: missing or malformed anchor")
)

// IDForm selects how EncodeRecord writes the fixture id.
type IDForm int

const (
	// IDBinary writes the 16 raw bytes (wire form).
	IDBinary IDForm = iota
	// IDString writes the canonical text form (JSON snapshots).
	IDString
)

// EncodeRecord returns r as a map with canonical keys.
func EncodeRecord(r fixture.Record, form IDForm) map[string]any {
	var id any = r.ID.String()
	if form == IDBinary {
		b := r.ID
		id = b[:]
	}
	return map[string]any{
		KeyFixtureID:      id,
		KeyRegionID:       r.RegionID,
		KeyAnchor:         []int32{int32(r.Anchor.X()), int32(r.Anchor.Y()), int32(r.Anchor.Z())},
		KeyAxis:           r.Axis.String(),
		KeyFacing:         r.Facing.String(),
		KeyPlaneWidth:     r.PlaneWidth,
		KeyPlaneHeight:    r.PlaneHeight,
		KeyPlaneDepth:     r.PlaneDepth,
		KeySpeed:          r.Speed,
		KeyAngle:          r.Angle,
		KeyTickRegistered: r.TickRegistered,
		KeyLastSyncTick:   r.LastSyncTick,
	}
}

// DecodeRecord reads a record from canonical or legacy keys in any order.
// A missing or bad id, a blank region or a missing anchor is an error and
// the caller drops the record.
func DecodeRecord(m map[string]any) (fixture.Record, error) {
	var r fixture.Record

	raw, ok := lookup(m, KeyFixtureID)
	if !ok {
		return r, ErrMissingID
	}
	id, err := parseUUID(raw)
	if err != nil || id == uuid.Nil {
		return r, ErrMissingID
	}

	region := ""
	if v, ok := lookup(m, KeyRegionID); ok {
		region, _ = v.(string)
	}
	if strings.TrimSpace(region) == "" {
		return r, ErrBlankRegion
	}

	rawAnchor, ok := lookup(m, KeyAnchor)
	if !ok {
		return r, ErrBadAnchor
	}
	anchor, ok := parseAnchor(rawAnchor)
	if !ok {
		return r, ErrBadAnchor
	}

	axis := geometry.AxisY
	if v, ok := lookup(m, KeyAxis); ok {
		if a, ok := parseAxis(v); ok {
			axis = a
		}
	}
	r = fixture.New(id, region, anchor, axis)
	if v, ok := lookup(m, KeyFacing); ok {
		if f, ok := parseFacing(v); ok {
			r.Facing = f
		}
	}

	r.PlaneWidth = floatOr(m, KeyPlaneWidth, 1)
	r.PlaneHeight = floatOr(m, KeyPlaneHeight, 1)
	r.PlaneDepth = floatOr(m, KeyPlaneDepth, 1)
	r.Speed = floatOr(m, KeySpeed, 0)
	r.Angle = floatOr(m, KeyAngle, 0)
	r.LastSyncTick = intOr(m, KeyLastSyncTick, 0)
	r.TickRegistered = intOr(m, KeyTickRegistered, r.LastSyncTick)
	return r, nil
}

func floatOr(m map[string]any, key string, def float32) float32 {
	v, ok := lookup(m, key)
	if !ok {
		return def
	}
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return def
	}
	return float32(f)
}

func intOr(m map[string]any, key string, def int64) int64 {
	v, ok := lookup(m, key)
	if !ok {
		return def
	}
	i, ok := toInt(v)
	if !ok {
		return def
	}
	return i
}

func parseUUID(v any) (uuid.UUID, error) {
	switch t := v.(type) {
	case string:
		return uuid.Parse(strings.TrimSpace(t))
	case []byte:
		return uuid.FromBytes(t)
	case uuid.UUID:
		return t, nil
	case []any:
		// Four big-endian int32 words, as legacy NBT stores them.
		if len(t) != 4 {
			break
		}
		var b [16]byte
		for i, w := range t {
			n, ok := toInt(w)
			if !ok {
				return uuid.Nil, fmt.Errorf("bad uuid word %v", w)
			}
			u := uint32(int32(n))
			b[i*4] = byte(u >> 24)
			b[i*4+1] = byte(u >> 16)
			b[i*4+2] = byte(u >> 8)
			b[i*4+3] = byte(u)
		}
		return uuid.UUID(b), nil
	}
	return uuid.Nil, fmt.Errorf("unsupported uuid form %T", v)
}

func parseAnchor(v any) (cube.Pos, bool) {
	switch t := v.(type) {
	case []any:
		if len(t) != 3 {
			return cube.Pos{}, false
		}
		var p cube.Pos
		for i, c := range t {
			n, ok := toInt(c)
			if !ok {
				return cube.Pos{}, false
			}
			p[i] = int(int32(n))
		}
		return p, true
	case []int32:
		if len(t) != 3 {
			return cube.Pos{}, false
		}
		return cube.Pos{int(t[0]), int(t[1]), int(t[2])}, true
	}
	if m, ok := asMap(v); ok {
		var p cube.Pos
		for i, k := range [3]string{"x", "y", "z"} {
			c, ok := m[k]
			if !ok {
				c, ok = m[strings.ToUpper(k)]
			}
			if !ok {
				return cube.Pos{}, false
			}
			n, ok := toInt(c)
			if !ok {
				return cube.Pos{}, false
			}
			p[i] = int(int32(n))
		}
		return p, true
	}
	if n, ok := toInt(v); ok {
		return unpackBlockPos(n), true
	}
	return cube.Pos{}, false
}

// unpackBlockPos decodes the legacy 26/26/12-bit packed block position.
func unpackBlockPos(v int64) cube.Pos {
	x := v >> 38
	y := v << 52 >> 52
	z := v << 26 >> 38
	return cube.Pos{int(x), int(y), int(z)}
}

// PackBlockPos is the inverse of the legacy anchor packing.
func PackBlockPos(p cube.Pos) int64 {
	return (int64(p.X())&0x3FFFFFF)<<38 | (int64(p.Z())&0x3FFFFFF)<<12 | int64(p.Y())&0xFFF
}

func parseAxis(v any) (geometry.Axis, bool) {
	if s, ok := v.(string); ok {
		return geometry.ParseAxis(s)
	}
	if n, ok := toInt(v); ok && n >= 0 && n <= int64(geometry.AxisZ) {
		return geometry.Axis(n), true
	}
	return geometry.AxisY, false
}

func parseFacing(v any) (fixture.Facing, bool) {
	if s, ok := v.(string); ok {
		return fixture.ParseFacing(s)
	}
	if n, ok := toInt(v); ok && n >= 0 && n <= int64(fixture.FacingEast) {
		return fixture.Facing(n), true
	}
	return fixture.FacingUp, false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float32:
		return float64(t), true
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	if i, ok := toInt(v); ok {
		return float64(i), true
	}
	return 0, false
}

func toInt(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int8:
		return int64(t), true
	case int16:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case uint:
		return int64(t), true
	case uint8:
		return int64(t), true
	case uint16:
		return int64(t), true
	case uint32:
		return int64(t), true
	case uint64:
		return int64(t), true
	case float32:
		if t != float32(math.Trunc(float64(t))) {
			return 0, false
		}
		return int64(t), true
	case float64:
		if t != math.Trunc(t) || math.Abs(t) > 1<<62 {
			return 0, false
		}
		return int64(t), true
	case json.Number:
		i, err := t.Int64()
		return i, err == nil
	}
	return 0, false
}
