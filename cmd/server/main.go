package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-echarts/statsview"
	"github.com/go-echarts/statsview/viewer"
	"github.com/sirupsen/logrus"

	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/host/memhost"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod/tracker"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lodproto"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/logging"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/persistence/indexdb"
	persistlog "github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/persistence/log"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/persistence/snapshot"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/sim/tuning"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/transport/observer"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "./configs/lod.yaml", "path to the LOD tuning file")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite event/snapshot index")
		logLevel   = flag.String("log_level", "info", "log level (debug, info, warn, error)")
		sentryDSN  = flag.String("sentry_dsn", "", "sentry dsn for panic reports (or set SENTRY_DSN)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")

		demoRegion    = flag.String("demo_region", "minecraft:overworld", "region the demo host places windmills in")
		demoWindmills = flag.Int("demo_windmills", 4, "number of demo windmills on the in-memory host")
	)
	flag.Parse()

	logger := logging.New(*logLevel)

	dsn := strings.TrimSpace(*sentryDSN)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("SENTRY_DSN"))
	}
	if dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: dsn, Environment: os.Getenv("DEPLOY_ENV")}); err != nil {
			logger.Warnf("sentry init: %v", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Warnf("tuning not found (%s); using defaults", *tuningPath)
		tune = tuning.Defaults()
	}

	h := memhost.New()
	seedDemo(h, *demoRegion, *demoWindmills)

	obsSrv := observer.NewServer(observer.Config{LoopbackOnly: envBool("LOD_OBSERVER_LOOPBACK_ONLY", false)}, logger)
	svc := lod.New(tune, h, obsSrv, logger)
	obsSrv.Attach(svc.Broadcast, func() lodproto.BootstrapResponse { return bootstrap(svc) })

	// Optional read-model index; the service never reads from it.
	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index", "lod.sqlite"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if err := idx.UpsertTuning(tune); err != nil {
			logger.Warnf("index: upsert tuning: %v", err)
		}
	}

	snapDir := filepath.Join(*dataDir, "snapshots")
	writer := snapshot.NewWriter(snapDir)

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(snapDir)
	}
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		h.SetTick(snap.Header.Tick)
		fixtures, dropped := svc.ImportSnapshot(snap)
		writer.Seed(snap)
		logger.Infof("resumed from snapshot=%s tick=%d fixtures=%d dropped=%d", filepath.Base(snapshotToLoad), snap.Header.Tick, fixtures, dropped)
	} else {
		n, err := svc.ReregisterLoaded(*demoRegion)
		if err != nil {
			logger.Fatalf("register demo structures: %v", err)
		}
		logger.Infof("registered %d demo structures in %s", n, *demoRegion)
	}

	syncLog := persistlog.NewSyncLogger(*dataDir)
	defer syncLog.Close()
	svc.Tracker.OnEvent(func(ev tracker.Event) {
		if err := syncLog.WriteEvent(ev); err != nil {
			logger.Debugf("sync log: %v", err)
		}
		if idx != nil {
			idx.RecordEvent(ev)
		}
	})

	ctx, cancel := signalContext()
	defer cancel()

	// Snapshot writer.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	svc.SetSnapshotSink(snapCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				writeSnapshot(writer, idx, snap, logger)
			}
		}
	}()

	go runHost(ctx, h, tune.TickRateHz)
	go func() {
		if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("lod service stopped: %v", err)
		}
	}()

	if envBool("LOD_ENABLE_STATSVIEW", false) {
		viewer.SetConfiguration(viewer.WithAddr(envString("LOD_STATSVIEW_ADDR", "localhost:18066")))
		mgr := statsview.New()
		go mgr.Start()
		defer mgr.Stop()
	}

	rt := &app{svc: svc, host: h, obs: obsSrv, idx: idx, writer: writer, syncLog: syncLog, log: logger}
	srv := &http.Server{
		Addr:              *addr,
		Handler:           rt.mux(envBool("LOD_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Infof("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

// runHost advances the in-memory host clock at the tick rate.
func runHost(ctx context.Context, h *memhost.Host, hz int) {
	if hz <= 0 {
		hz = 20
	}
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Step(1)
		}
	}
}

func writeSnapshot(w *snapshot.Writer, idx *indexdb.SQLiteIndex, snap snapshot.SnapshotV1, logger logrus.FieldLogger) (string, bool) {
	path, wrote, err := w.Write(snap)
	if err != nil {
		logger.Warnf("snapshot write: %v", err)
		return "", false
	}
	if !wrote {
		logger.Debugf("snapshot tick %d unchanged; skipped", snap.Header.Tick)
		return "", false
	}
	if idx != nil {
		idx.RecordSnapshot(path, snap)
	}
	return path, true
}

func bootstrap(svc *lod.Service) lodproto.BootstrapResponse {
	tune := svc.Tuning()
	return lodproto.BootstrapResponse{
		ProtocolVersion: lodproto.Version,
		Tick:            svc.Host().CurrentTick(),
		TickRateHz:      tune.TickRateHz,
		Fixtures:        svc.Fixtures.Len(),
		Render: lodproto.RenderParams{
			MaxRenderDistance:     tune.Render.MaxRenderDistance,
			RenderUpdateThreshold: tune.Render.UpdateThreshold,
			ClipPadding:           tune.Render.ClipPadding,
			ClipOffset:            tune.Render.ClipOffset,
		},
	}
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

func latestSnapshot(dir string) string {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick int64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, snapshot.Suffix) {
			continue
		}
		tick, err := strconv.ParseInt(strings.TrimSuffix(name, snapshot.Suffix), 10, 64)
		if err != nil || tick < 0 {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
