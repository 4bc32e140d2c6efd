// Command grumble-hub runs the Hub side of the cluster: durable state,
// ACL evaluation, session allocation, and the control-plane RPC server
// every Edge registers against (spec.md §3 "Hub: owns all durable,
// authoritative state; never touched directly by clients").
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/lotlab/grumble-cluster/internal/config"
	edgeserver "github.com/lotlab/grumble-cluster/internal/edge/server"
	"github.com/lotlab/grumble-cluster/internal/hub/broadcastcache"
	"github.com/lotlab/grumble-cluster/internal/hub/control"
	"github.com/lotlab/grumble-cluster/internal/hub/permission"
	"github.com/lotlab/grumble-cluster/internal/hub/registry"
	"github.com/lotlab/grumble-cluster/internal/hub/rpcserver"
	"github.com/lotlab/grumble-cluster/internal/hub/sessions"
	"github.com/lotlab/grumble-cluster/internal/hub/store"
	"github.com/lotlab/grumble-cluster/internal/logging"
	"github.com/lotlab/grumble-cluster/internal/metrics"
	"github.com/lotlab/grumble-cluster/internal/tracing"
	"github.com/lotlab/grumble-cluster/internal/webadmin"
	"github.com/lotlab/grumble-cluster/pkg/bancache"
	"github.com/lotlab/grumble-cluster/pkg/blobstore"
	"github.com/lotlab/grumble-cluster/pkg/clusterproto"
	"github.com/lotlab/grumble-cluster/pkg/database"
)

func main() {
	configPath := flag.String("config", "hub.yaml", "path to the Hub's YAML configuration")
	redisAddr := flag.String("redis", "", "Redis address backing the Edge broadcast cache (empty uses an in-memory cache)")
	debugAddr := flag.String("debug-addr", ":9100", "fallback listen address for /metrics when webApi is disabled")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	log := logging.New(os.Stderr, parseLevel(*logLevel))

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("hub: config", slog.Any("err", err))
		os.Exit(1)
	}

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		log.Error("hub: database", slog.Any("err", err))
		os.Exit(1)
	}

	tx := db.Tx()
	serverID, err := tx.EnsureServer(cfg.Name)
	if err != nil {
		tx.Rollback()
		log.Error("hub: ensure server row", slog.Any("err", err))
		os.Exit(1)
	}
	tx.Commit()

	st, err := store.Load(db, serverID)
	if err != nil {
		log.Error("hub: store", slog.Any("err", err))
		os.Exit(1)
	}

	sm := sessions.NewManager()
	perms := permission.NewChecker(st)
	reg := registry.New(cfg.Registry.Timeout)

	ccpReg := clusterproto.NewRegistry()
	rpc := rpcserver.New(ccpReg, log)

	var cache broadcastcache.Cache
	if *redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
		cache = broadcastcache.NewRedis(rdb, "grumble:broadcast:", 256, 5*time.Minute)
	} else {
		cache = broadcastcache.NewMemory(256, 5*time.Minute)
	}

	bans := bancache.New()
	seedTx := db.Tx()
	if rows, _, err := seedTx.BanRead(serverID, 0, 0); err == nil {
		bans.Load(rows)
		seedTx.Commit()
	} else {
		seedTx.Rollback()
		log.Warn("hub: initial ban load failed", slog.Any("err", err))
	}

	var blobs *blobstore.Store
	if cfg.BlobStore.Enabled {
		backend, err := blobstore.NewFilesystemBackend(cfg.BlobStore.Path)
		if err != nil {
			log.Error("hub: blob store", slog.Any("err", err))
			os.Exit(1)
		}
		blobs = blobstore.New(backend)
	}

	svc := control.New(st, sm, perms, reg, rpc, cache, bans, blobs, db, serverID, log)
	svc.Register(ccpReg)
	svc.RegisterBootstrap(ccpReg)

	otel.SetTracerProvider(tracing.NewProvider())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Info("hub: shutting down")
		cancel()
	}()

	if cfg.Database.BackupInterval > 0 && cfg.Database.BackupDir != "" {
		backup := control.NewBackupRunner(db, cfg.Database.BackupDir, cfg.Database.BackupInterval, log)
		go backup.Run(ctx)
	}

	// Prune Edges whose heartbeat has lapsed and tell the rest of the
	// cluster via edge.peerLeft; ticking at half the registry timeout keeps
	// detection latency bounded without hammering the registry lock.
	go func() {
		interval := cfg.Registry.Timeout / 2
		if interval <= 0 {
			interval = 5 * time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				svc.SweepOfflineEdges(ctx)
			}
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	httpAddr := *debugAddr
	if cfg.WebAPI.Enabled {
		admin := webadmin.New(reg, sm, st, cfg.WebAPI.CORS, log)
		admin.Register(mux)
		admin.RegisterHTTP(mux)
		httpAddr = fmt.Sprintf(":%d", cfg.WebAPI.Port)
	}
	if httpAddr != "" {
		go func() {
			log.Info("hub: http listening", slog.String("addr", httpAddr))
			if err := http.ListenAndServe(httpAddr, mux); err != nil {
				log.Error("hub: http server", slog.Any("err", err))
			}
		}()
	}

	controlAddr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.ControlPort))
	listener, err := edgeserver.Listen(controlAddr, edgeserver.Config{
		CertFile:           cfg.TLS.Cert,
		KeyFile:            cfg.TLS.Key,
		CAFile:             cfg.TLS.CA,
		RejectUnauthorized: cfg.TLS.RejectUnauthorized,
	})
	if err != nil {
		log.Error("hub: control listener", slog.Any("err", err))
		os.Exit(1)
	}
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	log.Info("hub: control plane listening", slog.String("addr", controlAddr))
	if err := edgeserver.AcceptLoop(listener, log, rpc.HandleConn); err != nil && ctx.Err() == nil {
		log.Error("hub: accept loop", slog.Any("err", err))
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
