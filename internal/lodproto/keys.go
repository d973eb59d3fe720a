package lodproto

import "strings"

// Canonical record keys.
const (
	KeyFixtureID      = "fixture_id"
	KeyRegionID       = "region_id"
	KeyAnchor         = "anchor"
	KeyAxis           = "axis"
	KeyFacing         = "facing"
	KeyPlaneWidth     = "plane_width"
	KeyPlaneHeight    = "plane_height"
	KeyPlaneDepth     = "plane_depth"
	KeySpeed          = "speed"
	KeyAngle          = "angle"
	KeyTickRegistered = "tick_registered"
	KeyLastSyncTick   = "last_sync_tick"
)

type fieldKeys struct {
	canonical string
	fallbacks []string
}

// recordKeys lists, per field, the keys tried in order when the canonical
// key is missing. A dotted fallback reads a nested map.
var recordKeys = []fieldKeys{
	{KeyFixtureID, []string{"ContraptionId", "identifier", "id"}},
	{KeyRegionID, []string{"DimensionId", "dimension"}},
	{KeyAnchor, []string{"AnchorPosition"}},
	{KeyAxis, []string{"RotationAxis"}},
	{KeyFacing, []string{"BearingDirection", "bearingDirection"}},
	{KeyPlaneWidth, []string{"PlaneSize.Width", "planeWidth"}},
	{KeyPlaneHeight, []string{"PlaneSize.Height", "planeHeight"}},
	{KeyPlaneDepth, []string{"PlaneSize.Depth", "planeDepth"}},
	{KeySpeed, []string{"RotationSpeed"}},
	{KeyAngle, []string{"RotationAngle"}},
	{KeyTickRegistered, []string{"TickRegistered"}},
	{KeyLastSyncTick, []string{"LastSynchronizationTick", "lastSynchronizationTick"}},
}

var keyIndex = func() map[string]fieldKeys {
	m := make(map[string]fieldKeys, len(recordKeys))
	for _, f := range recordKeys {
		m[f.canonical] = f
	}
	return m
}()

// lookup resolves a canonical field against m, trying fallbacks in order.
func lookup(m map[string]any, canonical string) (any, bool) {
	f, ok := keyIndex[canonical]
	if !ok {
		v, ok := m[canonical]
		return v, ok && v != nil
	}
	if v, ok := m[f.canonical]; ok && v != nil {
		return v, true
	}
	for _, k := range f.fallbacks {
		if v, ok := path(m, k); ok {
			return v, true
		}
	}
	return nil, false
}

func path(m map[string]any, key string) (any, bool) {
	parts := strings.Split(key, ".")
	var cur any = m
	for _, p := range parts {
		mm, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = mm[p]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			if s, ok := k.(string); ok {
				out[s] = v
			}
		}
		return out, true
	}
	return nil, false
}
