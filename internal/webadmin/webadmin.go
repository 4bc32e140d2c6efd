// Package webadmin is the Hub's read-only status/metrics feed
// (spec.md §6's `webApi.{enabled,port,cors}` config surface): a thin
// websocket endpoint that periodically pushes a cluster snapshot — Edge
// registry, session count, channel count — to any connected admin client.
// Grounded on the pack's rustyguts-bken `internal/ws` handler shape
// (Upgrader + per-connection serve loop + periodic push), adapted from a
// bidirectional chat feed to a one-way status broadcast since there is
// nothing for an admin viewer to write back.
package webadmin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lotlab/grumble-cluster/internal/hub/registry"
	"github.com/lotlab/grumble-cluster/internal/hub/sessions"
	"github.com/lotlab/grumble-cluster/internal/hub/store"
	"github.com/lotlab/grumble-cluster/pkg/channel"
)

const (
	pushInterval = 2 * time.Second
	writeTimeout = 5 * time.Second
)

// EdgeStatus is one Edge's snapshot row.
type EdgeStatus struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Host        string    `json:"host"`
	Region      string    `json:"region"`
	Online      bool      `json:"online"`
	CurrentLoad int       `json:"currentLoad"`
	Capacity    int       `json:"capacity"`
	LastSeen    time.Time `json:"lastSeen"`
}

// Snapshot is the full payload pushed to every connected admin viewer.
type Snapshot struct {
	Timestamp    time.Time    `json:"timestamp"`
	Edges        []EdgeStatus `json:"edges"`
	SessionCount int          `json:"sessionCount"`
	ChannelCount int          `json:"channelCount"`
}

// Server serves the read-only admin websocket feed. It holds no mutable
// state of its own — every field is a read surface already owned and
// synchronized by another Hub package.
type Server struct {
	registry *registry.Registry
	sessions *sessions.Manager
	store    *store.Store
	cors     map[string]bool
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// New builds a Server. allowedOrigins is the configured CORS allow-list
// (config.Hub.WebAPI.CORS); an empty list allows every origin, matching
// the teacher example's permissive local-admin default.
func New(reg *registry.Registry, sm *sessions.Manager, st *store.Store, allowedOrigins []string, log *slog.Logger) *Server {
	cors := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		cors[o] = true
	}
	s := &Server{registry: reg, sessions: sm, store: st, cors: cors, log: log}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cors) == 0 {
		return true
	}
	return s.cors[r.Header.Get("Origin")]
}

// Register mounts the feed on mux at /ws, per spec.md §3's
// `gorilla/websocket`-backed admin endpoint.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWebSocket)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.log != nil {
			s.log.Debug("webadmin: upgrade failed", slog.Any("err", err))
		}
		return
	}
	s.serveConn(r.Context(), conn)
}

func (s *Server) serveConn(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Drain and discard anything the client sends — the feed is
	// one-way, but a dead read loop is how gorilla/websocket notices a
	// closed connection and lets us stop pushing to it.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pushInterval)
	defer ticker.Stop()

	if err := s.push(conn); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.push(conn); err != nil {
				return
			}
		}
	}
}

func (s *Server) push(conn *websocket.Conn) error {
	snap := s.snapshot()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(snap)
}

func (s *Server) snapshot() Snapshot {
	edges := s.registry.List()
	out := make([]EdgeStatus, 0, len(edges))
	for _, e := range edges {
		out = append(out, EdgeStatus{
			ID: e.ID, Name: e.Name, Host: e.Host, Region: e.Region,
			Online: e.Online, CurrentLoad: e.CurrentLoad, Capacity: e.Capacity,
			LastSeen: e.LastSeen,
		})
	}
	return Snapshot{
		Timestamp:    time.Now(),
		Edges:        out,
		SessionCount: s.sessions.Len(),
		ChannelCount: s.channelCount(),
	}
}

func (s *Server) channelCount() int {
	return len(s.store.Descendants(channel.RootID))
}

// snapshotJSON is exposed for a plain HTTP polling fallback
// (`GET /status`) alongside the websocket feed, for admin tooling that
// would rather not hold a socket open.
func (s *Server) snapshotJSON() ([]byte, error) {
	return json.Marshal(s.snapshot())
}

// RegisterHTTP additionally mounts the polling fallback.
func (s *Server) RegisterHTTP(mux *http.ServeMux) {
	s.Register(mux)
	mux.HandleFunc("/status", s.handleStatus)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	body, err := s.snapshotJSON()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}
