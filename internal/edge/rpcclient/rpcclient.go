// Package rpcclient is the Edge side of the Edge<->Hub RPC channel
// (spec.md §4.6): connect, issue calls, dispatch incoming notifications,
// and reconnect with exponential backoff on transport loss. Registration,
// the full snapshot and heartbeats are driven over this client by
// internal/edge/bootstrap.
package rpcclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/lotlab/grumble-cluster/pkg/clusterproto"
)

// ErrClosed is returned by Call once the client has been closed.
var ErrClosed = errors.New("rpcclient: closed")

// DefaultCallTimeout is the per-call deadline spec.md §5 mandates
// ("Hub RPC requests carry a per-call deadline (default 5 s)").
const DefaultCallTimeout = 5 * time.Second

// NotificationHandler processes one Hub->Edge notification.
type NotificationHandler func(params []byte)

// Client manages one long-lived connection to the Hub's RPC listener.
type Client struct {
	addr      string
	tlsConfig *tls.Config
	log       *slog.Logger

	mu       sync.Mutex
	conn     net.Conn
	connDone chan struct{}
	closed   bool
	pending  map[string]chan *clusterproto.Envelope

	notifyMu sync.RWMutex
	notify   map[string]NotificationHandler
}

func New(addr string, tlsConfig *tls.Config, log *slog.Logger) *Client {
	return &Client{
		addr:      addr,
		tlsConfig: tlsConfig,
		log:       log,
		pending:   make(map[string]chan *clusterproto.Envelope),
		notify:    make(map[string]NotificationHandler),
	}
}

// OnNotification registers handler for a Hub->Edge notification method
// (e.g. `hub.userStateBroadcast`).
func (c *Client) OnNotification(method string, handler NotificationHandler) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.notify[method] = handler
}

// connect dials and starts the receive loop; callers must hold no locks.
func (c *Client) connect(ctx context.Context) error {
	dialer := &net.Dialer{}
	var conn net.Conn
	var err error
	if c.tlsConfig != nil {
		conn, err = tls.DialWithDialer(dialer, "tcp", c.addr, c.tlsConfig)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", c.addr)
	}
	if err != nil {
		return fmt.Errorf("rpcclient: dial %s: %w", c.addr, err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.connDone = done
	c.closed = false
	c.mu.Unlock()

	go c.recvLoop(conn, done)
	return nil
}

func (c *Client) recvLoop(conn net.Conn, done chan struct{}) {
	defer close(done)
	for {
		e, err := clusterproto.ReadEnvelope(conn)
		if err != nil {
			c.mu.Lock()
			sameConn := c.conn == conn
			if sameConn {
				c.failPending()
			}
			c.mu.Unlock()
			if c.log != nil {
				c.log.Debug("rpcclient: connection lost", slog.Any("err", err))
			}
			return
		}
		switch e.Kind {
		case clusterproto.KindResponse:
			c.mu.Lock()
			ch, ok := c.pending[e.ID]
			if ok {
				delete(c.pending, e.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- e
			}
		case clusterproto.KindNotification:
			c.notifyMu.RLock()
			h, ok := c.notify[e.Method]
			c.notifyMu.RUnlock()
			if ok {
				h(e.Params)
			}
		}
	}
}

func (c *Client) failPending() {
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// Call sends a request and blocks for the matching response, honoring
// ctx's deadline or DefaultCallTimeout, whichever is tighter.
func (c *Client) Call(ctx context.Context, method string, params []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultCallTimeout)
	defer cancel()

	id := clusterproto.NewRequestID()
	ch := make(chan *clusterproto.Envelope, 1)

	c.mu.Lock()
	if c.closed || c.conn == nil {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[id] = ch
	conn := c.conn
	c.mu.Unlock()

	req := &clusterproto.Envelope{Kind: clusterproto.KindRequest, ID: id, Method: method, Params: params}
	if err := clusterproto.WriteEnvelope(conn, req); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("rpcclient: write: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		if resp.ErrCode != "" {
			return nil, fmt.Errorf("rpcclient: %s: %s: %s", method, resp.ErrCode, resp.ErrMsg)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("rpcclient: %s: %w", method, ctx.Err())
	}
}

// Close shuts down the active connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.failPending()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// RunWithReconnect connects, calls onConnect (expected to perform
// edge.register + edge.fullSync + replay), then blocks until ctx is
// cancelled, reconnecting with exponential backoff (capped at 30s) on any
// transport loss and re-running onConnect each time (spec.md §4.6 "on
// transport loss, exponential-backoff reconnect with a cap, then repeat
// register + fullSync + replay").
func (c *Client) RunWithReconnect(ctx context.Context, onConnect func(*Client) error) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.connect(ctx); err != nil {
			if c.log != nil {
				c.log.Warn("rpcclient: connect failed", slog.Any("err", err), slog.Duration("retry_in", backoff))
			}
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}
		backoff = time.Second

		if err := onConnect(c); err != nil {
			if c.log != nil {
				c.log.Warn("rpcclient: onConnect failed", slog.Any("err", err))
			}
			c.Close()
			if !sleepOrDone(ctx, backoff) {
				return
			}
			continue
		}

		c.mu.Lock()
		done := c.connDone
		c.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
