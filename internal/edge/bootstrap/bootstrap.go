// Package bootstrap drives one Edge's side of the connect/register/sync
// lifecycle against the Hub (spec.md §4.6): register on connect, pull a
// full snapshot into the mirror, subscribe to broadcasts, and heartbeat
// on a ticker until the connection drops, at which point
// rpcclient.Client.RunWithReconnect repeats the whole sequence.
package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lotlab/grumble-cluster/internal/edge/dispatch"
	"github.com/lotlab/grumble-cluster/internal/edge/mirror"
	"github.com/lotlab/grumble-cluster/internal/edge/rpcclient"
	"github.com/lotlab/grumble-cluster/internal/edge/voice"
	"github.com/lotlab/grumble-cluster/internal/edge/voiceplane"
	"github.com/lotlab/grumble-cluster/pkg/acl"
	"github.com/lotlab/grumble-cluster/pkg/channel"
	"github.com/lotlab/grumble-cluster/pkg/database"
	"github.com/lotlab/grumble-cluster/pkg/session"
)

// Self describes this Edge process to the Hub's edge.register RPC.
type Self struct {
	EdgeID    string
	Name      string
	Host      string
	Port      int
	VoicePort int
	Region    string
	Capacity  int
}

// Runner owns the reconnect loop and the heartbeat ticker.
type Runner struct {
	self              Self
	heartbeatInterval time.Duration
	rpc               *rpcclient.Client
	mirror            *mirror.Mirror
	router            *voice.Router
	disp              *dispatch.Dispatcher
	plane             *voiceplane.Plane
	log               *slog.Logger
}

func New(self Self, heartbeatInterval time.Duration, rpc *rpcclient.Client, m *mirror.Mirror, router *voice.Router, disp *dispatch.Dispatcher, plane *voiceplane.Plane, log *slog.Logger) *Runner {
	return &Runner{self: self, heartbeatInterval: heartbeatInterval, rpc: rpc, mirror: m, router: router, disp: disp, plane: plane, log: log}
}

// Run subscribes to Hub broadcasts once, then blocks running the
// connect/register/fullSync cycle and heartbeat ticker until ctx is
// canceled.
func (r *Runner) Run(ctx context.Context) {
	r.disp.Subscribe()
	r.subscribePeers()
	r.rpc.RunWithReconnect(ctx, func(c *rpcclient.Client) error {
		return r.onConnect(ctx, c)
	})
}

// subscribePeers keeps this Edge's voiceplane.Plane current with the
// Hub's view of who else is online, so cross-Edge voice forwarding
// (§4.9) always targets a live peer endpoint.
func (r *Runner) subscribePeers() {
	if r.plane == nil {
		return
	}
	r.rpc.OnNotification("edge.peerJoined", func(params []byte) {
		var p struct {
			EdgeID    string `json:"edgeId"`
			Host      string `json:"host"`
			VoicePort int    `json:"voicePort"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			if r.log != nil {
				r.log.Warn("bootstrap: edge.peerJoined decode failed", slog.Any("err", err))
			}
			return
		}
		if err := r.plane.PeerJoined(p.EdgeID, p.Host, p.VoicePort); err != nil && r.log != nil {
			r.log.Warn("bootstrap: failed to register peer", slog.Any("err", err))
		}
	})
	r.rpc.OnNotification("edge.peerLeft", func(params []byte) {
		var p struct {
			EdgeID string `json:"edgeId"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return
		}
		r.plane.PeerLeft(p.EdgeID)
	})
}

func (r *Runner) onConnect(ctx context.Context, c *rpcclient.Client) error {
	if err := r.register(ctx, c); err != nil {
		return err
	}
	if err := r.fullSync(ctx, c); err != nil {
		return err
	}
	go r.heartbeatLoop(ctx, c)
	if r.log != nil {
		r.log.Info("bootstrap: registered and synced with hub", slog.String("edge_id", r.self.EdgeID))
	}
	return nil
}

func (r *Runner) register(ctx context.Context, c *rpcclient.Client) error {
	req, err := json.Marshal(struct {
		EdgeID    string `json:"edgeId"`
		Name      string `json:"name"`
		Host      string `json:"host"`
		Port      int    `json:"port"`
		VoicePort int    `json:"voicePort"`
		Region    string `json:"region"`
		Capacity  int    `json:"capacity"`
	}{r.self.EdgeID, r.self.Name, r.self.Host, r.self.Port, r.self.VoicePort, r.self.Region, r.self.Capacity})
	if err != nil {
		return err
	}
	if _, err := c.Call(ctx, "edge.register", req); err != nil {
		return fmt.Errorf("bootstrap: edge.register: %w", err)
	}
	return nil
}

// fullSyncChannel and fullSyncResponse mirror internal/hub/control's
// unexported response shape field for field, since both sides only ever
// talk JSON to each other over this RPC.
type fullSyncChannel struct {
	*channel.Channel
	ACLs   []acl.Entry `json:"acls"`
	Groups []acl.Group `json:"groups"`
}

type fullSyncResponse struct {
	Sequence int64             `json:"sequence"`
	Channels []fullSyncChannel `json:"channels"`
	Sessions []*session.State  `json:"sessions"`
	Bans     []database.Ban    `json:"bans"`
}

func (r *Runner) fullSync(ctx context.Context, c *rpcclient.Client) error {
	payload, err := c.Call(ctx, "edge.fullSync", nil)
	if err != nil {
		return fmt.Errorf("bootstrap: edge.fullSync: %w", err)
	}
	var resp fullSyncResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("bootstrap: decode edge.fullSync response: %w", err)
	}

	r.mirror.Reset()
	for _, fc := range resp.Channels {
		r.mirror.PutChannel(fc.Channel)
		r.mirror.PutACLs(fc.Channel.ID, fc.ACLs)
		r.mirror.PutGroups(fc.Channel.ID, fc.Groups)
	}
	for _, st := range resp.Sessions {
		r.mirror.PutSession(st)
	}
	r.mirror.LoadBans(resp.Bans)
	r.mirror.Observe(resp.Sequence)
	return nil
}

// heartbeatLoop runs until ctx is done or a heartbeat call fails, which
// happens shortly after the connection it was started for drops; one
// reconnect cycle therefore leaves at most one stale loop briefly
// overlapping the new one rather than a permanent leak.
func (r *Runner) heartbeatLoop(ctx context.Context, c *rpcclient.Client) {
	interval := r.heartbeatInterval
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
			req, _ := json.Marshal(struct {
				EdgeID string `json:"edgeId"`
				Load   int    `json:"load"`
			}{r.self.EdgeID, len(r.router.LocalClients())})
			if _, err := c.Call(ctx, "edge.heartbeat", req); err != nil {
				if r.log != nil {
					r.log.Debug("bootstrap: heartbeat failed", slog.Any("err", err))
				}
				return
			}
		}
	}
}
