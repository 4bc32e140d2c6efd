// Package rpcserver is the Hub side of the Edge<->Hub RPC channel (spec.md
// §4.6): one goroutine per connected Edge reading length-prefixed
// pkg/clusterproto envelopes, dispatching requests through a typed
// Registry, and holding the connection open so the Hub can push
// notifications (broadcasts) back down the same stream.
package rpcserver

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/lotlab/grumble-cluster/internal/metrics"
	"github.com/lotlab/grumble-cluster/internal/tracing"
	"github.com/lotlab/grumble-cluster/pkg/clusterproto"
)

type connKeyType struct{}

var connKey = connKeyType{}

// EdgeIDFromContext recovers the calling Edge's id inside a request
// handler, set once `edge.register` has bound the connection.
func EdgeIDFromContext(ctx context.Context) (string, bool) {
	c, ok := ctx.Value(connKey).(*edgeConn)
	if !ok || c.edgeID == "" {
		return "", false
	}
	return c.edgeID, true
}

type edgeConn struct {
	conn     net.Conn
	writeMu  sync.Mutex
	edgeID   string
	closed   bool
}

func (c *edgeConn) send(e *clusterproto.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return clusterproto.WriteEnvelope(c.conn, e)
}

// Server accepts Edge connections and dispatches their requests.
type Server struct {
	registry *clusterproto.Registry
	log      *slog.Logger

	mu    sync.RWMutex
	edges map[string]*edgeConn
}

func New(registry *clusterproto.Registry, log *slog.Logger) *Server {
	return &Server{registry: registry, log: log, edges: make(map[string]*edgeConn)}
}

// Bind associates edgeID with the connection currently being served,
// called from the `edge.register` handler once it has validated the
// request.
func (s *Server) Bind(ctx context.Context, edgeID string) {
	c, ok := ctx.Value(connKey).(*edgeConn)
	if !ok {
		return
	}
	c.edgeID = edgeID
	s.mu.Lock()
	s.edges[edgeID] = c
	s.mu.Unlock()
}

// HandleConn services one Edge connection until it errors or closes,
// mirroring the teacher's per-connection accept-then-loop pattern from
// internal/edge/server.AcceptLoop but for the control-plane RPC socket.
func (s *Server) HandleConn(conn net.Conn) {
	c := &edgeConn{conn: conn}
	ctx := context.WithValue(context.Background(), connKey, c)
	defer s.disconnect(c)

	for {
		e, err := clusterproto.ReadEnvelope(conn)
		if err != nil {
			if s.log != nil {
				s.log.Debug("rpcserver: connection closed", slog.Any("err", err), slog.String("edge_id", c.edgeID))
			}
			return
		}
		if e.Kind != clusterproto.KindRequest {
			continue // the Hub never receives notifications over this side in the current method set
		}
		go s.handle(ctx, c, e)
	}
}

func (s *Server) handle(ctx context.Context, c *edgeConn, e *clusterproto.Envelope) {
	spanCtx, span := tracing.StartRPCSpan(ctx, e.Method, "inbound")
	resp := s.registry.Dispatch(spanCtx, e)
	if resp.ErrCode != "" {
		metrics.RPCErrorsTotal.WithLabelValues(e.Method).Inc()
	}
	tracing.EndWithError(span, nil)
	if err := c.send(resp); err != nil && s.log != nil {
		s.log.Warn("rpcserver: failed to send response", slog.Any("err", err))
	}
}

func (s *Server) disconnect(c *edgeConn) {
	c.conn.Close()
	if c.edgeID == "" {
		return
	}
	s.mu.Lock()
	delete(s.edges, c.edgeID)
	s.mu.Unlock()
}

// Notify pushes a fire-and-forget notification to edgeID's live
// connection. ok is false if the Edge is not currently connected; the
// caller is then responsible for queuing into broadcastcache instead.
func (s *Server) Notify(edgeID, method string, payload []byte) (ok bool, err error) {
	s.mu.RLock()
	c, connected := s.edges[edgeID]
	s.mu.RUnlock()
	if !connected {
		return false, nil
	}
	err = c.send(&clusterproto.Envelope{Kind: clusterproto.KindNotification, Method: method, Params: payload})
	return true, err
}

// Connected reports whether edgeID currently has a live connection.
func (s *Server) Connected(edgeID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.edges[edgeID]
	return ok
}
