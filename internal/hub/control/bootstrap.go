package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/lotlab/grumble-cluster/internal/hub/registry"
	"github.com/lotlab/grumble-cluster/pkg/acl"
	"github.com/lotlab/grumble-cluster/pkg/channel"
	"github.com/lotlab/grumble-cluster/pkg/clusterproto"
	"github.com/lotlab/grumble-cluster/pkg/database"
	"github.com/lotlab/grumble-cluster/pkg/session"
)

// RegisterBootstrap wires the Edge lifecycle RPCs (spec.md §4.6: "connect
// on startup, authenticate+edge.register ..., request a full snapshot via
// edge.fullSync ... send heartbeats"), separate from Register's
// client-mutation handlers since these run before an Edge has any
// sessions to mutate.
func (s *Service) RegisterBootstrap(reg *clusterproto.Registry) {
	reg.Register("edge.register", s.handleEdgeRegister)
	reg.Register("edge.heartbeat", s.handleEdgeHeartbeat)
	reg.Register("edge.fullSync", s.handleEdgeFullSync)
	reg.Register("edge.join", s.handleEdgeJoin)
}

// edgeRegisterRequest is the Edge's self-description on first connect,
// the control-plane analogue of the registry.Edge row it produces.
type edgeRegisterRequest struct {
	EdgeID    string `json:"edgeId"`
	Name      string `json:"name"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	VoicePort int    `json:"voicePort"`
	Region    string `json:"region"`
	Capacity  int    `json:"capacity"`
}

func (s *Service) handleEdgeRegister(ctx context.Context, params []byte) ([]byte, error) {
	var req edgeRegisterRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("control: edge.register: %w", err)
	}
	if req.EdgeID == "" {
		return nil, fmt.Errorf("control: edge.register: edgeId is required")
	}

	s.registry.Register(&registry.Edge{
		ID: req.EdgeID, Name: req.Name, Host: req.Host, Port: req.Port,
		VoicePort: req.VoicePort, Region: req.Region, Capacity: req.Capacity,
	})
	s.rpc.Bind(ctx, req.EdgeID)
	if s.cache != nil {
		_ = s.cache.NewEdge(ctx, req.EdgeID)
	}

	// Tell every other already-online Edge about this one's voice-plane
	// endpoint so cross-Edge forwarding (§4.9) can reach it immediately,
	// and tell the newcomer about everyone already online.
	joined, err := json.Marshal(peerNotice{EdgeID: req.EdgeID, Host: req.Host, VoicePort: req.VoicePort})
	if err == nil {
		s.broadcast(ctx, "edge.peerJoined", joined, req.EdgeID)
	}
	for _, e := range s.registry.Online() {
		if e.ID == req.EdgeID {
			continue
		}
		existing, err := json.Marshal(peerNotice{EdgeID: e.ID, Host: e.Host, VoicePort: e.VoicePort})
		if err != nil {
			continue
		}
		if _, err := s.rpc.Notify(req.EdgeID, "edge.peerJoined", existing); err != nil && s.log != nil {
			s.log.Warn("control: failed to replay peer to new edge", slog.String("edge_id", req.EdgeID), slog.Any("err", err))
		}
	}

	if s.log != nil {
		s.log.Info("control: edge registered", "edge_id", req.EdgeID, "host", req.Host)
	}
	return json.Marshal(struct {
		OK bool `json:"ok"`
	}{true})
}

// peerNotice is the JSON payload for edge.peerJoined, matching what
// internal/edge/voiceplane.Plane.PeerJoined needs to resolve a peer's
// voice-plane endpoint; there is no Mumble.proto analogue for this
// cluster-internal event.
type peerNotice struct {
	EdgeID    string `json:"edgeId"`
	Host      string `json:"host"`
	VoicePort int    `json:"voicePort"`
}

// SweepOfflineEdges marks any Edge whose heartbeat has lapsed as offline
// and broadcasts edge.peerLeft for each transition, so every other Edge's
// voiceplane.Plane drops the dead endpoint instead of relaying into a
// black hole (§4.6 "absence for timeout marks the Edge offline"). Intended
// to be called on a ticker by the Hub's main loop.
func (s *Service) SweepOfflineEdges(ctx context.Context) {
	for _, id := range s.registry.SweepOffline() {
		payload, err := json.Marshal(struct {
			EdgeID string `json:"edgeId"`
		}{id})
		if err != nil {
			continue
		}
		s.broadcast(ctx, "edge.peerLeft", payload, "")
		if s.log != nil {
			s.log.Info("control: edge went offline", "edge_id", id)
		}
	}
}

type edgeHeartbeatRequest struct {
	EdgeID string `json:"edgeId"`
	Load   int    `json:"load"`
}

func (s *Service) handleEdgeHeartbeat(_ context.Context, params []byte) ([]byte, error) {
	var req edgeHeartbeatRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("control: edge.heartbeat: %w", err)
	}
	ok := s.registry.Heartbeat(req.EdgeID, req.Load)
	return json.Marshal(struct {
		OK bool `json:"ok"`
	}{ok})
}

// fullSyncChannel carries a channel row plus the ACL entries evaluated
// directly at it (not the inherited view), mirroring what
// internal/edge/mirror.Mirror needs to reconstruct the tree and answer
// permission-adjacent reads without a Hub round trip.
type fullSyncChannel struct {
	*channel.Channel
	ACLs   []acl.Entry `json:"acls"`
	Groups []acl.Group `json:"groups"`
}

type fullSyncResponse struct {
	Sequence int64              `json:"sequence"`
	Channels []fullSyncChannel  `json:"channels"`
	Sessions []*session.State   `json:"sessions"`
	Bans     []database.Ban     `json:"bans"`
}

type edgeJoinRequest struct {
	EdgeID   string `json:"edgeId"`
	Username string `json:"username"`
}

type edgeJoinResponse struct {
	Session   uint32 `json:"session"`
	UserID    int64  `json:"userId"`
	ChannelID int64  `json:"channelId"`
}

// handleEdgeJoin allocates the cluster-wide session id for a newly
// authenticated client (spec.md §3 "Lifetime: created on Edge when
// TLS+auth succeeds (Edge requests session_id from Hub)"). A username
// matching a registered database.User resumes that account's last
// channel; anyone else joins as a guest in the root channel. Password
// verification happens Edge-side before this call is made — the Hub's
// session.State carries no credential material, only the identity result
// (§9 Open Questions, same limitation already documented for bans).
func (s *Service) handleEdgeJoin(ctx context.Context, params []byte) ([]byte, error) {
	var req edgeJoinRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("control: edge.join: %w", err)
	}

	st := s.sessions.Allocate(req.EdgeID)
	st.Username = req.Username
	st.ChannelID = channel.RootID

	if req.Username != "" {
		tx := s.db.Tx()
		u, err := tx.UserByName(s.serverID, req.Username)
		if err != nil {
			tx.Rollback()
		} else {
			tx.Commit()
			st.UserID = u.ID
			if _, ok := s.store.Channel(u.LastChannel); ok {
				st.ChannelID = u.LastChannel
			}
		}
	}

	if payload, err := json.Marshal(st); err == nil {
		s.broadcast(ctx, "hub.userJoined", payload, req.EdgeID)
	}

	return json.Marshal(edgeJoinResponse{Session: uint32(st.Session), UserID: st.UserID, ChannelID: st.ChannelID})
}

func (s *Service) handleEdgeFullSync(_ context.Context, _ []byte) ([]byte, error) {
	chans := s.store.Descendants(channel.RootID)
	out := make([]fullSyncChannel, 0, len(chans))
	for _, c := range chans {
		out = append(out, fullSyncChannel{Channel: c, ACLs: s.store.ACLsFor(c.ID), Groups: s.store.GroupsFor(c.ID)})
	}

	resp := fullSyncResponse{
		Sequence: s.nextSequence(),
		Channels: out,
		Sessions: s.sessions.Snapshot(),
		Bans:     s.readBans(),
	}
	return json.Marshal(resp)
}
