package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"voxelstream.ai/internal/persistence/chunkfile"
	"voxelstream.ai/internal/persistence/editlog"
	"voxelstream.ai/internal/persistence/indexdb"
	"voxelstream.ai/internal/sim/camera"
	"voxelstream.ai/internal/sim/catalogs"
	"voxelstream.ai/internal/sim/jobs"
	"voxelstream.ai/internal/sim/tuning"
	"voxelstream.ai/internal/sim/world"
	"voxelstream.ai/internal/sim/world/terrain/gen"
	"voxelstream.ai/internal/transport/viewer"
	"voxelstream.ai/internal/viewerproto"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		seed       = flag.Int64("seed", 0, "world seed (0: use tuning file)")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite chunk-save index")
		devLog     = flag.Bool("dev_log", false, "human-readable development logging")
		meshRate   = flag.Int("mesh_rate", 200, "max chunk meshes per second per viewer")
		autopilot  = flag.Float64("autopilot", 0, "fly the camera forward at this many blocks per second (0: off)")
		remote     = flag.Bool("allow_remote_viewers", false, "accept viewer connections from non-loopback addresses")
	)
	flag.Parse()

	logger, err := newLogger(*devLog)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatal("load catalogs", zap.Error(err))
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		logger.Fatal("load tuning", zap.String("path", tp), zap.Error(err))
	}
	if *seed != 0 {
		tune.Seed = *seed
	}

	palette, err := gen.PaletteFrom(&cats.Blocks)
	if err != nil {
		logger.Fatal("terrain palette", zap.Error(err))
	}
	synth := gen.NewNoise(tune.Seed, tune.Worldgen, palette)

	cfg := world.ConfigFromTuning(tune)
	cfg.AirBlock = palette.Air
	cfg.DefaultBuildBlock = palette.Stone

	workers := tune.Workers
	if workers <= 0 {
		workers = jobs.DefaultWorkers()
	}
	pool := jobs.New(workers, logger.Named("jobs"))

	store := chunkfile.NewStore(*dataDir, tune.Seed, cfg.ChunkSize)
	worldDir := filepath.Dir(store.Dir())

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(worldDir, "index", "chunks.sqlite"), logger.Named("index"))
		if err != nil {
			logger.Fatal("open index", zap.Error(err))
		}
		for k, v := range map[string]string{
			"seed":           strconv.FormatInt(tune.Seed, 10),
			"chunk_size":     fmt.Sprintf("%dx%dx%d", cfg.ChunkSize.X, cfg.ChunkSize.Y, cfg.ChunkSize.Z),
			"palette_digest": cats.Blocks.PaletteDigest,
			"defs_digest":    cats.Blocks.DefsDigest,
		} {
			if err := idx.SetMeta(k, v); err != nil {
				logger.Warn("index meta", zap.String("key", k), zap.Error(err))
			}
		}
	}

	spawnY := float64(synth.Height(0, 0, cfg.ChunkSize.Y) + 8)
	cam := camera.New(mgl64.Vec3{0.5, spawnY, 0.5}, mgl64.Vec3{0, -0.4, -1})

	viewerSrv := viewer.NewServer(viewer.Options{
		Logger:  logger.Named("viewer"),
		Camera:  cam,
		Palette: cats.Blocks.Palette,
		Params: viewerproto.WorldParams{
			TickRateHz: cfg.TickRateHz,
			ChunkSize:  [3]int{cfg.ChunkSize.X, cfg.ChunkSize.Y, cfg.ChunkSize.Z},
			Seed:       tune.Seed,
			MaxChunks:  cfg.MaxChunks,
			Reach:      cfg.ReachDistance,
		},
		MeshesPerSecond: *meshRate,
		AllowRemote:     *remote,
	})

	edits := editlog.New(worldDir)

	deps := world.Deps{
		Edits:     edits,
		Materials: &cats.Blocks,
		Jobs:      pool,
		Synth:     synth,
		Storage:   store,
		Renderer:  viewerSrv,
		Observer:  cam,
		Logger:    logger.Named("world"),
	}
	if idx != nil {
		deps.Saves = idx
	}
	w, err := world.New(cfg, deps)
	if err != nil {
		logger.Fatal("world", zap.Error(err))
	}
	viewerSrv.Bind(w)

	ctx, cancel := signalContext()
	defer cancel()

	worldDone := make(chan struct{})
	go func() {
		defer close(worldDone)
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("world stopped", zap.Error(err))
		}
	}()

	if *autopilot > 0 {
		go runAutopilot(ctx, cam, *autopilot)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		src := metricsSource{world: w.Metrics(), viewers: viewerSrv.Sessions(), cachedMeshes: viewerSrv.Cached()}
		if idx != nil {
			st := idx.Stats()
			src.index = &st
		}
		writeMetrics(rw, tune.Seed, src)
	})
	mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
		if !viewer.IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		resp := struct {
			Seed    int64              `json:"seed"`
			Workers int                `json:"workers"`
			Metrics world.WorldMetrics `json:"metrics"`
		}{
			Seed:    tune.Seed,
			Workers: workers,
			Metrics: w.Metrics(),
		}
		_ = json.NewEncoder(rw).Encode(resp)
	})
	mux.HandleFunc("/v1/viewer/ws", viewerSrv.WSHandler())
	if envBool("VS_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Info("listening",
		zap.String("addr", *addr),
		zap.Int64("seed", tune.Seed),
		zap.Int("workers", workers),
		zap.String("data", worldDir),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("ListenAndServe", zap.Error(err))
		cancel()
	}

	// The world goroutine owns chunk state; flush only after it has stopped.
	<-worldDone
	pool.Close()
	saved := w.SaveAll("shutdown")
	if err := edits.Close(); err != nil {
		logger.Warn("close edit log", zap.Error(err))
	}
	if idx != nil {
		if err := idx.Close(); err != nil {
			logger.Warn("close index", zap.Error(err))
		}
	}
	logger.Info("shutdown complete", zap.Int("saved_chunks", saved), zap.Uint64("tick", w.Tick()))
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func runAutopilot(ctx context.Context, cam *camera.Camera, speed float64) {
	const hz = 20
	t := time.NewTicker(time.Second / hz)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			cam.Advance(speed / hz)
		}
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

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
