// Command observer connects to a LOD server, mirrors its fixtures and drives
// the far render manager against a renderer that logs what it would draw.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/sirupsen/logrus"

	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod/fixture"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lodproto"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/logging"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/render"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/sim/tuning"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/sim/logic/mathx"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/transport/observer"
)

func main() {
	var (
		server     = flag.String("server", "http://127.0.0.1:8080", "LOD server base url")
		name       = flag.String("name", "observer", "observer name sent with SUBSCRIBE")
		region     = flag.String("region", "minecraft:overworld", "region the camera is in")
		posFlag    = flag.String("pos", "0,200,0", "camera position x,y,z")
		viewChunks = flag.Int("view_distance", 12, "vanilla view distance in chunks")
		tuningPath = flag.String("tuning", "", "tuning file for geometry and render settings (optional)")
		fps        = flag.Int("fps", 10, "render frames per second")
		logLevel   = flag.String("log_level", "info", "log level")
	)
	flag.Parse()
	logger := logging.New(*logLevel)

	pos, err := parseVec3(*posFlag)
	if err != nil {
		logger.Fatalf("pos: %v", err)
	}
	tune := tuning.Defaults()
	if *tuningPath != "" {
		if tune, err = tuning.Load(*tuningPath); err != nil {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	boot, err := observer.FetchBootstrap(ctx, strings.TrimRight(*server, "/"))
	if err != nil {
		logger.Fatalf("bootstrap: %v", err)
	}
	if boot.ProtocolVersion != lodproto.Version {
		logger.Fatalf("server protocol %s, want %s", boot.ProtocolVersion, lodproto.Version)
	}
	applyRenderParams(&tune.Render, boot.Render)
	logger.Infof("server tick=%d rate=%dHz fixtures=%d", boot.Tick, boot.TickRateHz, boot.Fixtures)

	// The local clock starts at the server tick and runs at its rate.
	var tick atomic.Int64
	tick.Store(boot.Tick)
	go runClock(ctx, &tick, boot.TickRateHz)

	store := fixture.NewStore(tune.Geometry)
	sub := lodproto.SubscribeMsg{ObserverName: *name, RegionID: *region, Pos: pos, ViewDistanceChunks: *viewChunks}
	client, err := observer.Dial(ctx, wsURL(*server), sub, store, tick.Load, logger)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer client.Close()
	go func() {
		if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("connection closed: %v", err)
			cancel()
		}
	}()

	mgr := render.NewManager(tune.Render, tune.Geometry, newLogRenderer(logger), store, logger)
	defer mgr.Close()

	view := render.View{
		RegionID:    *region,
		Camera:      mgl32.Vec3(pos),
		HasCamera:   true,
		NearClip:    float32(*viewChunks * 16),
		HasNearClip: true,
	}
	view.ChunkLoaded = func(cx, cz int32) bool {
		ccx, ccz := mathx.ChunkCoord(int(view.Camera.X())), mathx.ChunkCoord(int(view.Camera.Z()))
		return mathx.AbsInt(int(cx)-ccx) <= *viewChunks && mathx.AbsInt(int(cz)-ccz) <= *viewChunks
	}

	if *fps <= 0 {
		*fps = 10
	}
	frame := time.NewTicker(time.Second / time.Duration(*fps))
	defer frame.Stop()
	report := time.NewTicker(10 * time.Second)
	defer report.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-frame.C:
			view.Tick = tick.Load()
			res := mgr.Tick(view)
			if res.Created+res.Removed+res.Failed > 0 {
				logger.Debugf("frame tick=%d %+v", view.Tick, res)
			}
		case <-report.C:
			st := client.Stats()
			logger.WithFields(logrus.Fields{
				"fixtures":    store.Len(),
				"groups":      mgr.Groups(),
				"applied":     st.Applied,
				"dropped":     st.Dropped,
				"server_tick": st.ServerTick,
			}).Info("observer status")
		}
	}
}

func applyRenderParams(r *tuning.Render, p lodproto.RenderParams) {
	if p.MaxRenderDistance > 0 {
		r.MaxRenderDistance = p.MaxRenderDistance
	}
	if p.RenderUpdateThreshold > 0 {
		r.UpdateThreshold = p.RenderUpdateThreshold
	}
	r.ClipPadding = p.ClipPadding
	r.ClipOffset = p.ClipOffset
}

func runClock(ctx context.Context, tick *atomic.Int64, hz int) {
	if hz <= 0 {
		hz = 20
	}
	t := time.NewTicker(time.Second / time.Duration(hz))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			tick.Add(1)
		}
	}
}

func wsURL(base string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/v1/lod/ws"
}

func parseVec3(s string) ([3]float32, error) {
	var out [3]float32
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return out, fmt.Errorf("want x,y,z, got %q", s)
	}
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return out, err
		}
		out[i] = float32(f)
	}
	return out, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
