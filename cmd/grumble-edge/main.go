// Command grumble-edge runs one stateless Edge: the client-facing TLS and
// voice listeners, an in-memory mirror of the Hub's durable state, and the
// RPC client that keeps that mirror synchronized (spec.md §3 "Edge: holds
// no durable state of its own; a thin, horizontally-scalable frontend").
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"

	"github.com/lotlab/grumble-cluster/internal/config"
	"github.com/lotlab/grumble-cluster/internal/edge/bootstrap"
	"github.com/lotlab/grumble-cluster/internal/edge/conn"
	"github.com/lotlab/grumble-cluster/internal/edge/dispatch"
	"github.com/lotlab/grumble-cluster/internal/edge/mirror"
	"github.com/lotlab/grumble-cluster/internal/edge/rpcclient"
	edgeserver "github.com/lotlab/grumble-cluster/internal/edge/server"
	"github.com/lotlab/grumble-cluster/internal/edge/voice"
	"github.com/lotlab/grumble-cluster/internal/edge/voiceplane"
	"github.com/lotlab/grumble-cluster/internal/logging"
	"github.com/lotlab/grumble-cluster/internal/metrics"
)

func main() {
	configPath := flag.String("config", "edge.yaml", "path to the Edge's YAML configuration")
	debugAddr := flag.String("debug-addr", ":9101", "fallback listen address for /metrics when webApi is disabled")
	maxConnections := flag.Int("max-connections", 0, "bound on concurrent TLS handshakes (0 disables the bound)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	log := logging.New(os.Stderr, parseLevel(*logLevel))

	cfg, err := config.LoadEdge(*configPath)
	if err != nil {
		log.Error("edge: config", slog.Any("err", err))
		os.Exit(1)
	}

	rpc := rpcclient.New(cfg.Hub.ControlAddr, hubClientTLSConfig(cfg), logging.ForEdge(log, cfg.ID))

	m := mirror.New()

	// Router and Plane each need the other at construction time
	// (Router.cross forwards outbound, Plane.deliverer delivers inbound);
	// crossRef breaks the cycle by resolving to whichever *voiceplane.Plane
	// is stored once both are up.
	cross := &crossRef{}
	router := voice.NewRouter(cfg.ID, m, cross, log)

	relayAddr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.VoicePort))
	plane, err := voiceplane.Listen(cfg.ID, relayAddr, router, log)
	if err != nil {
		log.Error("edge: voice plane listen", slog.Any("err", err))
		os.Exit(1)
	}
	cross.plane.Store(plane)
	defer plane.Close()
	go plane.RunRecvLoop()

	voiceAddr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	voiceListener, err := voice.Listen(voiceAddr, router, log)
	if err != nil {
		log.Error("edge: voice listen", slog.Any("err", err))
		os.Exit(1)
	}
	defer voiceListener.Close()
	go voiceListener.RunRecvLoop()

	disp := dispatch.New(cfg.ID, rpc, m, router, log)

	runner := bootstrap.New(bootstrap.Self{
		EdgeID:    cfg.ID,
		Name:      cfg.Name,
		Host:      cfg.Host,
		Port:      cfg.Port,
		VoicePort: cfg.VoicePort,
		Region:    cfg.Region,
		Capacity:  cfg.Capacity,
	}, cfg.HeartbeatInterval, rpc, m, router, disp, plane, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Info("edge: shutting down")
		cancel()
	}()

	go runner.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	httpAddr := *debugAddr
	if cfg.WebAPI.Enabled {
		httpAddr = fmt.Sprintf(":%d", cfg.WebAPI.Port)
	}
	if httpAddr != "" {
		go func() {
			log.Info("edge: http listening", slog.String("addr", httpAddr))
			if err := http.ListenAndServe(httpAddr, mux); err != nil {
				log.Error("edge: http server", slog.Any("err", err))
			}
		}()
	}

	clientAddr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	listener, err := edgeserver.Listen(clientAddr, edgeserver.Config{
		CertFile:           cfg.TLS.Cert,
		KeyFile:            cfg.TLS.Key,
		CAFile:             cfg.TLS.CA,
		RejectUnauthorized: cfg.TLS.RejectUnauthorized,
		MaxConnections:     *maxConnections,
	})
	if err != nil {
		log.Error("edge: client listener", slog.Any("err", err))
		os.Exit(1)
	}
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	srv := &conn.Server{EdgeID: cfg.ID, RPC: rpc, Mirror: m, Router: router, Disp: disp, Log: log}
	log.Info("edge: client plane listening", slog.String("addr", clientAddr), slog.String("voice_addr", voiceAddr), slog.String("relay_addr", relayAddr))
	if err := edgeserver.AcceptLoop(listener, log, srv.Handle); err != nil && ctx.Err() == nil {
		log.Error("edge: accept loop", slog.Any("err", err))
	}
}

// crossRef implements voice.CrossEdgeSender by forwarding to whichever
// *voiceplane.Plane has been stored, letting main wire Router and Plane
// without either needing a setter added purely for bootstrap ordering.
type crossRef struct {
	plane atomic.Pointer[voiceplane.Plane]
}

func (c *crossRef) SendToEdge(edgeID string, senderSession uint32, target uint8, recipients []uint32, payload []byte) error {
	p := c.plane.Load()
	if p == nil {
		return nil
	}
	return p.SendToEdge(edgeID, senderSession, target, recipients, payload)
}

// hubClientTLSConfig builds the TLS client config this Edge presents when
// dialing the Hub's control listener, reusing its own listener certificate
// as the client certificate for the Hub's mutual-TLS check (cfg.TLS.CA, if
// set, pins the Hub's certificate instead of trusting the system pool).
func hubClientTLSConfig(cfg *config.Edge) *tls.Config {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if cert, err := tls.LoadX509KeyPair(cfg.TLS.Cert, cfg.TLS.Key); err == nil {
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	if cfg.TLS.CA != "" {
		if pem, err := os.ReadFile(cfg.TLS.CA); err == nil {
			pool := x509.NewCertPool()
			if pool.AppendCertsFromPEM(pem) {
				tlsCfg.RootCAs = pool
				return tlsCfg
			}
		}
	}
	tlsCfg.InsecureSkipVerify = true
	return tlsCfg
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
