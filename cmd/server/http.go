package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/host/memhost"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/persistence/indexdb"
	persistlog "github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/persistence/log"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/persistence/snapshot"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/transport/observer"
)

type app struct {
	svc     *lod.Service
	host    *memhost.Host
	obs     *observer.Server
	idx     *indexdb.SQLiteIndex
	writer  *snapshot.Writer
	syncLog *persistlog.SyncLogger
	log     logrus.FieldLogger
}

func (rt *app) mux(admin bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", rt.metrics)
	mux.HandleFunc("/v1/lod/bootstrap", rt.obs.BootstrapHandler())
	mux.HandleFunc("/v1/lod/ws", rt.obs.WSHandler())

	if !admin {
		rt.log.Info("admin endpoints disabled (LOD_ENABLE_ADMIN_HTTP=false)")
		return mux
	}
	// Local-only admin endpoints.
	mux.HandleFunc("/admin/v1/state", loopbackOnly(rt.state))
	mux.HandleFunc("/admin/v1/snapshot", loopbackOnly(postOnly(rt.snapshotNow)))
	mux.HandleFunc("/admin/v1/zero_angles", loopbackOnly(postOnly(rt.zeroAngles)))
	mux.HandleFunc("/admin/v1/reregister", loopbackOnly(postOnly(rt.reregister)))
	mux.HandleFunc("/admin/v1/unload_region", loopbackOnly(postOnly(rt.unloadRegion)))
	mux.HandleFunc("/admin/v1/events", loopbackOnly(rt.events))
	if envBool("LOD_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

func (rt *app) metrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	ov := rt.svc.Overrides.Stats()
	tr := rt.svc.Tracker.Stats()
	bc := rt.svc.Broadcast.Stats()
	ob := rt.obs.Stats()

	// Minimal Prometheus exposition format.
	gauge(rw, "lod_tick", "Current host tick.", rt.svc.Host().CurrentTick())
	gauge(rw, "lod_fixtures", "Tracked rotating fixtures.", rt.svc.Fixtures.Len())
	gauge(rw, "lod_override_entries", "Registered block overrides.", ov.Entries)
	gauge(rw, "lod_override_chunks", "Chunks holding block overrides.", ov.Chunks)
	gauge(rw, "lod_override_structures", "Structures with registered overrides.", ov.Fixtures)
	gauge(rw, "lod_observers", "Connected observers.", bc.Observers)
	gauge(rw, "lod_observer_sessions", "Open observer websocket sessions.", ob.Sessions)

	counter(rw, "lod_tracker_passes_total", "Tracker passes run.", tr.Passes)
	counter(rw, "lod_tracker_updates_total", "Fixture updates made by the tracker.", tr.Updates)
	counter(rw, "lod_tracker_removals_total", "Fixtures removed by the tracker.", tr.Removals)
	counter(rw, "lod_tracker_corrections_total", "Host angle overrides issued.", tr.Corrections)
	counter(rw, "lod_tracker_drifts_total", "Drift detections.", tr.Drifts)
	counter(rw, "lod_tracker_panics_total", "Recovered panics in fixture evaluation.", tr.Panics)

	fmt.Fprintf(rw, "# HELP lod_broadcast_messages_total Messages queued to observers.\n")
	fmt.Fprintf(rw, "# TYPE lod_broadcast_messages_total counter\n")
	fmt.Fprintf(rw, "lod_broadcast_messages_total{kind=%q} %d\n", "update", bc.UpdatesSent)
	fmt.Fprintf(rw, "lod_broadcast_messages_total{kind=%q} %d\n", "removal", bc.RemovalsSent)
	fmt.Fprintf(rw, "lod_broadcast_messages_total{kind=%q} %d\n", "full_state", bc.FullStateSent)
	counter(rw, "lod_broadcast_paced_total", "Updates held back by distance pacing.", bc.UpdatesPaced)
	counter(rw, "lod_broadcast_send_failures_total", "Messages the transport refused.", bc.SendFailures)
	counter(rw, "lod_observer_dropped_total", "Paced updates dropped for newer ones.", ob.DataDropped)

	if rt.syncLog != nil {
		counter(rw, "lod_sync_events_logged_total", "Tracker events written to the sync log.", rt.syncLog.Written())
	}
	if rt.idx != nil {
		s := rt.idx.Stats()
		gauge(rw, "lod_index_queue_depth", "Index writer queue depth.", s.QueueDepth)
		gauge(rw, "lod_index_queue_capacity", "Index writer queue capacity.", s.QueueCapacity)
		fmt.Fprintf(rw, "# HELP lod_index_dropped_total Index writes dropped because the queue was full.\n")
		fmt.Fprintf(rw, "# TYPE lod_index_dropped_total counter\n")
		fmt.Fprintf(rw, "lod_index_dropped_total{kind=%q} %d\n", "event", s.DropEventTotal)
		fmt.Fprintf(rw, "lod_index_dropped_total{kind=%q} %d\n", "snapshot", s.DropSnapshotTotal)
	}
}

func gauge[T int | int64](rw http.ResponseWriter, name, help string, v T) {
	fmt.Fprintf(rw, "# HELP %s %s\n# TYPE %s gauge\n%s %d\n", name, help, name, name, v)
}

func counter(rw http.ResponseWriter, name, help string, v uint64) {
	fmt.Fprintf(rw, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, v)
}

func (rt *app) state(rw http.ResponseWriter, r *http.Request) {
	type fixtureView struct {
		ID       string  `json:"fixture_id"`
		RegionID string  `json:"region_id"`
		Anchor   [3]int  `json:"anchor"`
		Axis     string  `json:"axis"`
		Speed    float32 `json:"speed"`
		Angle    float32 `json:"angle"`
		LastSync int64   `json:"last_sync_tick"`
		Stale    bool    `json:"stale"`
	}
	resp := struct {
		Tick      int64         `json:"tick"`
		Fixtures  []fixtureView `json:"fixtures"`
		Observers int           `json:"observers"`
	}{Tick: rt.svc.Host().CurrentTick(), Observers: rt.svc.Broadcast.Stats().Observers}
	for _, f := range rt.svc.Fixtures.All() {
		resp.Fixtures = append(resp.Fixtures, fixtureView{
			ID:       f.ID.String(),
			RegionID: f.RegionID,
			Anchor:   [3]int{f.Anchor.X(), f.Anchor.Y(), f.Anchor.Z()},
			Axis:     f.Axis.String(),
			Speed:    f.Speed,
			Angle:    f.Angle,
			LastSync: f.LastSyncTick,
			Stale:    f.Stale,
		})
	}
	writeJSON(rw, http.StatusOK, resp)
}

func (rt *app) snapshotNow(rw http.ResponseWriter, r *http.Request) {
	tick := rt.svc.Host().CurrentTick()
	path, wrote := writeSnapshot(rt.writer, rt.idx, rt.svc.ExportSnapshot(tick), rt.log)
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "tick": tick, "written": wrote, "path": path})
}

func (rt *app) zeroAngles(rw http.ResponseWriter, r *http.Request) {
	region := strings.TrimSpace(r.URL.Query().Get("region"))
	n := rt.svc.ForceZeroAngles(region)
	rt.log.Infof("admin: zeroed %d fixture angles (region=%q)", n, region)
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "fixtures": n})
}

func (rt *app) reregister(rw http.ResponseWriter, r *http.Request) {
	region := strings.TrimSpace(r.URL.Query().Get("region"))
	if region == "" {
		writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": "region is required"})
		return
	}
	n, err := rt.svc.ReregisterLoaded(region)
	if err != nil {
		writeJSON(rw, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "structures": n})
}

// unloadRegion unloads a region on the demo host, as a dimension unload would.
func (rt *app) unloadRegion(rw http.ResponseWriter, r *http.Request) {
	region := strings.TrimSpace(r.URL.Query().Get("region"))
	if region == "" {
		writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": "region is required"})
		return
	}
	rt.host.UnloadRegion(region)
	overrides, fixtures := rt.svc.RegionUnloaded(region)
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "overrides": overrides, "fixtures": fixtures})
}

func (rt *app) events(rw http.ResponseWriter, r *http.Request) {
	if rt.idx == nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": "index disabled"})
		return
	}
	q := r.URL.Query()
	if q.Get("fixture_id") == "" {
		writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": "fixture_id is required"})
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	rows, err := rt.idx.Events(ctx, q.Get("fixture_id"), q.Get("kind"), limit)
	if err != nil {
		writeJSON(rw, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "events": rows})
}

func writeJSON(rw http.ResponseWriter, code int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	_ = json.NewEncoder(rw).Encode(v)
}

func loopbackOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		next(rw, r)
	}
}

func postOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		next(rw, r)
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
