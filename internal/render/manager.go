// Package render maintains the far renderer's box groups for tracked
// fixtures on an observer. Each visible fixture gets one group, created on
// the first visible tick and rebuilt only when its rendered angle has moved
// far enough to notice.
package render

import (
	"fmt"
	"image/color"

	"github.com/ethaniccc/float32-cube/cube"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod/fixture"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod/geometry"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/logging"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/sim/logic/mathx"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/sim/tuning"
)

// Box is one origin-relative axis-aligned box of a group.
type Box struct {
	Bounds   cube.BBox
	Color    color.RGBA
	Material Material
}

// Renderer is the far renderer's custom object API. Any call may fail while
// the renderer is still initializing.
type Renderer interface {
	CreateGroup(name string, origin mgl32.Vec3, boxes []Box) (handle int64, err error)
	UpdateGroup(handle int64, origin mgl32.Vec3, boxes []Box) error
	SetActive(handle int64, active bool) error
	RemoveGroup(handle int64) error
}

// View is the observer's camera state for one render tick.
type View struct {
	RegionID string
	Tick     int64
	Partial  float32

	Camera    mgl32.Vec3
	HasCamera bool
	// NearClip is the far renderer's near clip distance in blocks, valid
	// when HasNearClip is set.
	NearClip    float32
	HasNearClip bool
	// HighAltitude is set when the camera is far above the build limit and
	// the near clip collapses.
	HighAltitude bool

	ChunkLoaded func(cx, cz int32) bool
}

const highAltitudeClip = 1

type group struct {
	handle    int64
	origin    mgl32.Vec3
	lastAngle float32
}

type TickResult struct {
	Visible int
	Created int
	Updated int
	Removed int
	Failed  int
}

type Manager struct {
	cfg      tuning.Render
	geo      geometry.Config
	renderer Renderer
	store    *fixture.Store
	log      logrus.FieldLogger

	color    color.RGBA
	material Material

	groups map[uuid.UUID]*group
}

// NewManager binds a renderer to the records of store. An unparseable colour
// or material in cfg falls back to the wood defaults.
func NewManager(cfg tuning.Render, geo geometry.Config, r Renderer, store *fixture.Store, logger logrus.FieldLogger) *Manager {
	m := &Manager{
		cfg:      cfg,
		geo:      geo,
		renderer: r,
		store:    store,
		log:      logging.Component(logger, "render"),
		color:    DefaultBladeColor,
		material: MaterialWood,
		groups:   map[uuid.UUID]*group{},
	}
	if cfg.Color != "" {
		if c, err := ParseColor(cfg.Color); err != nil {
			m.log.Warnf("blade color: %v", err)
		} else {
			m.color = c
		}
	}
	if cfg.Material != "" {
		if mat, ok := ParseMaterial(cfg.Material); ok {
			m.material = mat
		} else {
			m.log.Warnf("blade material %q unknown, using %s", cfg.Material, m.material)
		}
	}
	return m
}

// Tick renders every visible fixture of v.RegionID and drops the groups of
// fixtures that are no longer visible. It is not safe for concurrent use.
func (m *Manager) Tick(v View) TickResult {
	var res TickResult
	if m.renderer == nil || m.store == nil {
		return res
	}
	active := make(map[uuid.UUID]bool)
	for _, rec := range m.store.InRegion(v.RegionID) {
		if !m.Visible(rec, v) {
			continue
		}
		res.Visible++
		active[rec.ID] = true
		m.renderOne(rec, v, &res)
	}
	for id, g := range m.groups {
		if active[id] {
			continue
		}
		m.drop(id, g)
		res.Removed++
	}
	return res
}

// Visible applies the far-render gates: within max render distance, and
// either beyond the near clip plus padding or, with no clip known, only
// where the host chunk is not loaded.
func (m *Manager) Visible(rec fixture.Record, v View) bool {
	origin := rec.RenderOrigin()
	var dist float32
	if v.HasCamera {
		dist = origin.Sub(v.Camera).Len()
		if dist > m.cfg.MaxRenderDistance {
			return false
		}
	}

	var clip float32
	switch {
	case v.HighAltitude:
		clip = highAltitudeClip
	case v.HasNearClip:
		clip = v.NearClip + m.cfg.ClipPadding
	}
	if clip > 0 {
		clip += m.cfg.ClipOffset
	}
	if clip <= 0 {
		if v.ChunkLoaded == nil {
			return true
		}
		a := rec.RenderAnchor()
		return !v.ChunkLoaded(int32(mathx.ChunkCoord(a.X())), int32(mathx.ChunkCoord(a.Z())))
	}
	if !v.HasCamera {
		return true
	}
	return dist >= clip
}

// Angle is the angle rec is drawn at for v, advanced locally from its last
// sync by whole and partial ticks.
func (m *Manager) Angle(rec fixture.Record, v View) float32 {
	elapsed := float32(v.Tick-rec.LastSyncTick) + v.Partial
	if elapsed < 0 {
		elapsed = 0
	}
	return mathx.WrapDegrees(rec.Advance(elapsed) + m.cfg.AngleOffset)
}

// Boxes builds the group boxes for rec at angle.
func (m *Manager) Boxes(rec fixture.Record, angle float32) []Box {
	blade := rec.Blade
	if blade.IsZero() {
		blade = geometry.BladeForPlane(rec.PlaneWidth, rec.PlaneHeight, rec.PlaneDepth, m.geo)
	}
	bbs := geometry.CrossBoxes(blade, rec.Axis, angle, m.geo)
	out := make([]Box, len(bbs))
	for i, bb := range bbs {
		out[i] = Box{Bounds: bb, Color: m.color, Material: m.material}
	}
	return out
}

func (m *Manager) renderOne(rec fixture.Record, v View, res *TickResult) {
	angle := m.Angle(rec, v)
	origin := rec.RenderOrigin()

	g := m.groups[rec.ID]
	if g == nil {
		handle, err := m.renderer.CreateGroup(groupName(rec.ID), origin, m.Boxes(rec, angle))
		if err != nil {
			res.Failed++
			m.log.Warnf("create group for %s: %v", rec.ID, err)
			return
		}
		m.groups[rec.ID] = &group{handle: handle, origin: origin, lastAngle: angle}
		m.store.Update(rec.ID, func(r *fixture.Record) { r.RenderHandle = handle })
		res.Created++
		return
	}

	moved := g.origin != origin
	if !moved && mathx.AngularDistance(g.lastAngle, angle) < m.cfg.UpdateThreshold {
		return
	}
	if err := m.renderer.UpdateGroup(g.handle, origin, m.Boxes(rec, angle)); err != nil {
		res.Failed++
		m.log.Debugf("update group %d: %v", g.handle, err)
		return
	}
	g.origin = origin
	g.lastAngle = angle
	res.Updated++
}

func (m *Manager) drop(id uuid.UUID, g *group) {
	if err := m.renderer.SetActive(g.handle, false); err != nil {
		m.log.Debugf("deactivate group %d: %v", g.handle, err)
	}
	if err := m.renderer.RemoveGroup(g.handle); err != nil {
		m.log.Debugf("remove group %d: %v", g.handle, err)
	}
	delete(m.groups, id)
	m.store.Update(id, func(r *fixture.Record) {
		if r.RenderHandle == g.handle {
			r.RenderHandle = fixture.NoRenderHandle
		}
	})
}

// Close removes every group this manager created.
func (m *Manager) Close() int {
	n := 0
	for id, g := range m.groups {
		m.drop(id, g)
		n++
	}
	return n
}

func (m *Manager) Groups() int { return len(m.groups) }

func groupName(id uuid.UUID) string {
	return fmt.Sprintf("windmill/%s", id)
}
