package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/CoreyShupe/BentoBox/internal/alloc"
	"github.com/CoreyShupe/BentoBox/internal/config"
	persistlog "github.com/CoreyShupe/BentoBox/internal/persistence/log"
	"github.com/CoreyShupe/BentoBox/internal/profile"
	"github.com/CoreyShupe/BentoBox/internal/registry"
	"github.com/CoreyShupe/BentoBox/internal/terrain"
	"github.com/CoreyShupe/BentoBox/internal/transport/observer"
	"github.com/CoreyShupe/BentoBox/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configPath = flag.String("config", "./configs/islands.yaml", "island grid config path")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		serverID   = flag.String("server_id", "", "server id reported to a remote index (default: hostname)")
		disableDB  = flag.Bool("disable_db", false, "disable the allocation event index")

		snapPath      = flag.String("snapshot", "", "path to terrain snapshot to load (optional)")
		loadLatest    = flag.Bool("load_latest_snapshot", true, "load latest terrain snapshot from data dir if present (when -snapshot is empty)")
		snapshotEvery = flag.Duration("snapshot_every", 10*time.Minute, "terrain snapshot interval (0 disables periodic snapshots)")

		mcpListen     = flag.String("mcp_listen", "", "embedded MCP listen address (empty disables)")
		mcpHMACSecret = flag.String("mcp_hmac_secret", "", "embedded MCP hmac secret (or set BB_MCP_HMAC_SECRET)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	_ = os.MkdirAll(*dataDir, 0o755)

	id := strings.TrimSpace(*serverID)
	if id == "" {
		id, _ = os.Hostname()
	}

	idx, err := openRuntimeIndex(*dataDir, id, *disableDB, logger)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}

	mirror, err := buildMirror(*dataDir, logger)
	if err != nil {
		logger.Fatalf("init r2 mirror: %v", err)
	}

	snapDir := filepath.Join(*dataDir, "terrain")
	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(snapDir)
	}
	store := terrain.NewStore()
	if snapshotToLoad != "" {
		snap, err := terrain.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		store, err = terrain.Import(snap)
		if err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed terrain from snapshot=%s chunks=%d", filepath.Base(snapshotToLoad), snap.Header.Chunks)
	}

	router := terrain.Router{}
	for _, w := range cfg.Worlds {
		router[w.ID] = terrain.NewThrottled(store, w.FetchRatePerSec, w.FetchBurst)
	}
	reg := registry.NewMemory(func(world string) int {
		w, _ := cfg.WorldByID(world)
		return w.Distance
	})
	sessions := ws.NewSessions()
	obs := observer.NewServer(cfg, reg.Len, logger)

	eventLog := persistlog.NewEventLogger(*dataDir)
	if mirror != nil {
		eventLog.OnRotate(mirror.Enqueue)
	}
	listeners := alloc.Listeners{eventLog, obs}
	if idx != nil {
		listeners = append(listeners, idx)
	}

	a, err := alloc.New(alloc.Options{
		Config:     cfg,
		Registry:   reg,
		Terrain:    router,
		Paster:     &terrain.PlatformPaster{Store: store, Log: log.New(os.Stdout, "[paste] ", log.LstdFlags|log.Lmicroseconds)},
		Profiles:   profile.NewMemory(),
		Teleporter: sessions,
		Listener:   listeners,
		Log:        log.New(os.Stdout, "[alloc] ", log.LstdFlags|log.Lmicroseconds),
	})
	if err != nil {
		logger.Fatalf("allocator: %v", err)
	}

	app := &app{
		cfg:      cfg,
		alloc:    a,
		reg:      reg,
		store:    store,
		sessions: sessions,
		obs:      obs,
		idx:      idx,
		mirror:   mirror,
		snapDir:  snapDir,
		log:      logger,
	}

	mux := http.NewServeMux()
	app.routes(mux)
	mux.HandleFunc("/v1/ws", ws.NewServer(cfg, a, reg, sessions, log.New(os.Stdout, "[ws] ", log.LstdFlags|log.Lmicroseconds)).Handler())

	if envBool("BB_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		app.adminRoutes(mux)
	} else {
		logger.Printf("admin endpoints disabled (BB_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("BB_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (BB_ENABLE_PPROF_HTTP=false)")
	}

	mcpSrv, err := buildEmbeddedMCP(*mcpListen, *mcpHMACSecret, app, log.New(os.Stdout, "[mcp] ", log.LstdFlags|log.Lmicroseconds))
	if err != nil {
		logger.Fatalf("embedded mcp: %v", err)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signalContext()
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Printf("listening on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		return srv.Shutdown(ctx2)
	})
	if mcpSrv != nil {
		g.Go(func() error {
			logger.Printf("embedded mcp listening on %s", mcpSrv.Addr)
			if err := mcpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel2()
			return mcpSrv.Shutdown(ctx2)
		})
	}
	if *snapshotEvery > 0 {
		g.Go(func() error {
			t := time.NewTicker(*snapshotEvery)
			defer t.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-t.C:
					if _, err := app.writeSnapshot(); err != nil {
						logger.Printf("snapshot write: %v", err)
					}
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		logger.Printf("server stopped: %v", err)
	}

	if path, err := app.writeSnapshot(); err != nil {
		logger.Printf("final snapshot: %v", err)
	} else {
		logger.Printf("final snapshot=%s", filepath.Base(path))
	}
	if err := eventLog.Close(); err != nil {
		logger.Printf("event log close: %v", err)
	}
	if idx != nil {
		if err := idx.Close(); err != nil {
			logger.Printf("index close: %v", err)
		}
	}
	mirror.Close()
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

// latestSnapshot picks the newest <unix>.snap.zst in dir.
func latestSnapshot(dir string) string {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestAt int64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		at, err := strconv.ParseInt(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || at > bestAt {
			bestAt = at
			best = filepath.Join(dir, name)
		}
	}
	return best
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

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
