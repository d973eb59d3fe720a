package main

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/sirupsen/logrus"

	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/render"
)

// logRenderer stands in for a real far-terrain renderer.
type logRenderer struct {
	log    logrus.FieldLogger
	next   int64
	groups map[int64]string
}

func newLogRenderer(logger logrus.FieldLogger) *logRenderer {
	return &logRenderer{log: logger.WithField("component", "renderer"), groups: map[int64]string{}}
}

func (r *logRenderer) CreateGroup(name string, origin mgl32.Vec3, boxes []render.Box) (int64, error) {
	r.next++
	r.groups[r.next] = name
	r.log.Infof("create %s #%d at %.1f,%.1f,%.1f with %d boxes", name, r.next, origin.X(), origin.Y(), origin.Z(), len(boxes))
	return r.next, nil
}

func (r *logRenderer) UpdateGroup(handle int64, origin mgl32.Vec3, boxes []render.Box) error {
	name, ok := r.groups[handle]
	if !ok {
		return fmt.Errorf("unknown group %d", handle)
	}
	r.log.Debugf("update %s #%d with %d boxes", name, handle, len(boxes))
	return nil
}

func (r *logRenderer) SetActive(handle int64, active bool) error {
	if _, ok := r.groups[handle]; !ok {
		return fmt.Errorf("unknown group %d", handle)
	}
	return nil
}

func (r *logRenderer) RemoveGroup(handle int64) error {
	name, ok := r.groups[handle]
	if !ok {
		return fmt.Errorf("unknown group %d", handle)
	}
	delete(r.groups, handle)
	r.log.Infof("remove %s #%d", name, handle)
	return nil
}
