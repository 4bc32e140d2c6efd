// Package control is the Hub's authoritative mutation service (spec.md
// §4.8): it owns every `hub.handle*`/`edge.handleACL` RPC method Edges
// forward state-changing client messages to, applies the permission checks
// and persistence those messages require, and fans the resulting broadcast
// back out to every Edge — live over internal/hub/rpcserver where
// connected, queued into internal/hub/broadcastcache otherwise.
package control

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lotlab/grumble-cluster/internal/hub/broadcastcache"
	"github.com/lotlab/grumble-cluster/internal/hub/permission"
	"github.com/lotlab/grumble-cluster/internal/hub/registry"
	"github.com/lotlab/grumble-cluster/internal/hub/rpcserver"
	"github.com/lotlab/grumble-cluster/internal/hub/sessions"
	"github.com/lotlab/grumble-cluster/internal/hub/store"
	"github.com/lotlab/grumble-cluster/pkg/acl"
	"github.com/lotlab/grumble-cluster/pkg/bancache"
	"github.com/lotlab/grumble-cluster/pkg/blobstore"
	"github.com/lotlab/grumble-cluster/pkg/channel"
	"github.com/lotlab/grumble-cluster/pkg/clusterproto"
	"github.com/lotlab/grumble-cluster/pkg/database"
	"github.com/lotlab/grumble-cluster/pkg/mumbleproto"
	"github.com/lotlab/grumble-cluster/pkg/session"
)

// Service implements every Edge-forwarded mutation path.
type Service struct {
	store    *store.Store
	sessions *sessions.Manager
	perms    *permission.Checker
	registry *registry.Registry
	rpc      *rpcserver.Server
	cache    broadcastcache.Cache
	bans     *bancache.Cache
	blobs    *blobstore.Store
	db       *database.DB
	serverID uint64
	log      *slog.Logger

	seq atomic.Int64
}

func New(st *store.Store, sm *sessions.Manager, perms *permission.Checker, reg *registry.Registry,
	rpc *rpcserver.Server, cache broadcastcache.Cache, bans *bancache.Cache, blobs *blobstore.Store, db *database.DB,
	serverID uint64, log *slog.Logger) *Service {
	return &Service{
		store: st, sessions: sm, perms: perms, registry: reg, rpc: rpc,
		cache: cache, bans: bans, blobs: blobs, db: db, serverID: serverID, log: log,
	}
}

// Register wires every handler this service owns into reg, using the exact
// method names spec.md §4.4's forwarding table and §4.6's method list name.
func (s *Service) Register(reg *clusterproto.Registry) {
	reg.Register("hub.handleUserState", s.handleUserState)
	reg.Register("hub.handleUserRemove", s.handleUserRemove)
	reg.Register("hub.handleChannelState", s.handleChannelState)
	reg.Register("hub.handleChannelRemove", s.handleChannelRemove)
	reg.Register("hub.handleTextMessage", s.handleTextMessage)
	reg.Register("edge.handleACL", s.handleACL)
	reg.Register("hub.handlePluginDataTransmission", s.handlePluginDataTransmission)
	reg.Register("hub.handleUserStats", s.handleUserStats)
	reg.Register("hub.handleQueryUsers", s.handleQueryUsers)
	reg.Register("hub.handlePermissionQuery", s.handlePermissionQuery)
	reg.Register("hub.handleRequestBlob", s.handleRequestBlob)
	reg.Register("hub.handleContextAction", s.handleContextAction)
	reg.Register("edge.syncVoiceTarget", s.handleSyncVoiceTarget)
	reg.Register("hub.userLeft", s.handleUserLeft)
}

// decodeForwardParams splits the 4-byte session prefix internal/edge/
// dispatch.encodeForwardParams adds back off from the original message
// payload.
func decodeForwardParams(params []byte) (session.ID, []byte, error) {
	if len(params) < 4 {
		return 0, nil, fmt.Errorf("control: short forwarded params (%d bytes)", len(params))
	}
	sess := binary.BigEndian.Uint32(params)
	return session.ID(sess), params[4:], nil
}

func (s *Service) nextSequence() int64 {
	return s.seq.Add(1)
}

// principalFor resolves the ACL-evaluation identity for a connected
// session.
func (s *Service) principalFor(st *session.State) permission.Principal {
	return permission.Principal{
		UserID:    st.UserID,
		InChannel: st.ChannelID,
		SuperUser: s.isSuperUser(st.UserID),
	}
}

// isSuperUser reports membership (net of removal) in the "admin" or
// "superuser" channel group declared at root (spec.md §4.7 "Superuser
// (groups contains admin or superuser) bypasses the walk").
func (s *Service) isSuperUser(userID int64) bool {
	if userID == 0 {
		return false
	}
	for _, name := range [...]string{"admin", "superuser"} {
		add, remove := s.store.GroupMembers(channel.RootID, 0, name)
		if memberOf(add, userID) && !memberOf(remove, userID) {
			return true
		}
	}
	return false
}

func memberOf(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// broadcast fans method/payload out to every registered Edge except
// excludeEdge: live via rpcserver where connected, queued into the
// per-Edge broadcastcache otherwise (spec.md §4.6 "the Hub continues to
// queue its broadcast messages into a per-Edge ring buffer ... on
// reconnect the buffered messages are replayed in sequence").
func (s *Service) broadcast(ctx context.Context, method string, payload []byte, excludeEdge string) {
	seq := s.nextSequence()
	for _, e := range s.registry.List() {
		if e.ID == excludeEdge {
			continue
		}
		if ok, err := s.rpc.Notify(e.ID, method, payload); ok {
			if err != nil && s.log != nil {
				s.log.Warn("control: notify failed", slog.String("edge_id", e.ID), slog.Any("err", err))
			}
			continue
		}
		if err := s.cache.Push(ctx, e.ID, broadcastcache.Message{
			Sequence: seq, Method: method, Payload: payload, QueuedAt: time.Now(),
		}); err != nil && s.log != nil {
			s.log.Warn("control: queue broadcast failed", slog.String("edge_id", e.ID), slog.Any("err", err))
		}
	}
}

func deniedf(format string, args ...any) error {
	return fmt.Errorf("control: permission denied: "+format, args...)
}

// ---- UserState ----

func (s *Service) handleUserState(ctx context.Context, params []byte) ([]byte, error) {
	actorID, raw, err := decodeForwardParams(params)
	if err != nil {
		return nil, err
	}
	var msg mumbleproto.UserState
	if err := msg.Unmarshal(raw); err != nil {
		return nil, err
	}

	actor, ok := s.sessions.Get(actorID)
	if !ok {
		return nil, fmt.Errorf("control: unknown actor session %d", actorID)
	}

	targetID := actorID
	if msg.Session != nil {
		targetID = session.ID(*msg.Session)
	}
	target, ok := s.sessions.Get(targetID)
	if !ok {
		return nil, fmt.Errorf("control: unknown target session %d", targetID)
	}

	selfOnly := targetID == actorID
	actorPrincipal := s.principalFor(actor)

	if msg.ChannelId != nil {
		newChannel := int64(*msg.ChannelId)
		if !selfOnly && !s.perms.Has(int64(actorID), actorPrincipal, target.ChannelID, acl.Move) {
			return nil, deniedf("session %d lacks Move to relocate session %d", actorID, targetID)
		}
		if !s.perms.Has(int64(actorID), actorPrincipal, newChannel, acl.Enter) {
			return nil, deniedf("session %d lacks Enter at channel %d", targetID, newChannel)
		}
		target.ChannelID = newChannel
	}
	if (msg.Mute != nil || msg.Deaf != nil || msg.Suppress != nil) && !selfOnly {
		if !s.perms.Has(int64(actorID), actorPrincipal, target.ChannelID, acl.MuteDeafen) {
			return nil, deniedf("session %d lacks MuteDeafen over session %d", actorID, targetID)
		}
	}

	if msg.Mute != nil {
		target.Mute = *msg.Mute
	}
	if msg.Deaf != nil {
		target.Deaf = *msg.Deaf
	}
	if msg.Suppress != nil {
		target.Suppress = *msg.Suppress
	}
	if selfOnly {
		if msg.SelfMute != nil {
			target.SelfMute = *msg.SelfMute
		}
		if msg.SelfDeaf != nil {
			target.SelfDeaf = *msg.SelfDeaf
		}
	}
	for _, ch := range msg.ListeningChannelAdd {
		target.ListeningChannels[int64(ch)] = true
	}
	for _, ch := range msg.ListeningChannelRemove {
		delete(target.ListeningChannels, int64(ch))
	}
	if msg.PrioritySpeaker != nil {
		target.PrioritySpeaker = *msg.PrioritySpeaker
	}
	if msg.Recording != nil {
		target.Recording = *msg.Recording
	}
	if msg.Name != nil {
		target.Username = *msg.Name
	}
	if msg.Comment != nil {
		target.CommentHash = nil
		if s.blobs != nil {
			if hash, err := s.blobs.Put([]byte(*msg.Comment)); err == nil {
				if raw, err := hex.DecodeString(hash); err == nil {
					target.CommentHash = raw
					msg.Comment = nil
					msg.CommentHash = raw
				}
			}
		}
	}

	sessionU32 := uint32(targetID)
	msg.Session = &sessionU32
	payload, err := msg.Marshal()
	if err != nil {
		return nil, err
	}
	s.broadcast(ctx, "hub.userStateBroadcast", payload, "")
	return nil, nil
}

// ---- UserRemove (kick/ban) ----

func (s *Service) handleUserRemove(ctx context.Context, params []byte) ([]byte, error) {
	actorID, raw, err := decodeForwardParams(params)
	if err != nil {
		return nil, err
	}
	var msg mumbleproto.UserRemove
	if err := msg.Unmarshal(raw); err != nil {
		return nil, err
	}
	if msg.Session == nil {
		return nil, fmt.Errorf("control: UserRemove missing session")
	}

	actor, ok := s.sessions.Get(actorID)
	if !ok {
		return nil, fmt.Errorf("control: unknown actor session %d", actorID)
	}
	targetID := session.ID(*msg.Session)
	target, ok := s.sessions.Get(targetID)
	if !ok {
		return nil, fmt.Errorf("control: unknown target session %d", targetID)
	}

	wantBan := msg.Ban != nil && *msg.Ban
	perm := acl.Kick
	if wantBan {
		perm = acl.Ban
	}
	principal := s.principalFor(actor)
	if !s.perms.Has(int64(actorID), principal, channel.RootID, perm) {
		return nil, deniedf("session %d lacks %v at root", actorID, perm)
	}

	if wantBan {
		reason := ""
		if msg.Reason != nil {
			reason = *msg.Reason
		}
		// The Hub only sees what the Edge forwarded in the UserRemove
		// message, which (per the Mumble wire protocol) carries no
		// address or certificate hash; a real deployment would need the
		// owning Edge to additionally report those out-of-band so the
		// ban can match by address/cert instead of name only.
		tx := s.db.Tx()
		if err := tx.BanWrite(s.serverID, append(s.readBans(), database.Ban{
			ServerID: s.serverID, Name: target.Username, Reason: reason, Start: time.Now(),
		})); err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		s.reloadBanCache()
	}

	actorU32 := uint32(actorID)
	msg.Actor = &actorU32
	s.sessions.Release(targetID)

	payload, err := msg.Marshal()
	if err != nil {
		return nil, err
	}
	s.broadcast(ctx, "hub.userRemoveBroadcast", payload, "")
	return nil, nil
}

func (s *Service) readBans() []database.Ban {
	tx := s.db.Tx()
	rows, _, err := tx.BanRead(s.serverID, 0, 0)
	if err != nil {
		tx.Rollback()
		return nil
	}
	tx.Commit()
	return rows
}

func (s *Service) reloadBanCache() {
	if s.bans == nil {
		return
	}
	s.bans.Load(s.readBans())
}

// ---- ChannelState (create/edit) ----

func (s *Service) handleChannelState(ctx context.Context, params []byte) ([]byte, error) {
	actorID, raw, err := decodeForwardParams(params)
	if err != nil {
		return nil, err
	}
	var msg mumbleproto.ChannelState
	if err := msg.Unmarshal(raw); err != nil {
		return nil, err
	}
	actor, ok := s.sessions.Get(actorID)
	if !ok {
		return nil, fmt.Errorf("control: unknown actor session %d", actorID)
	}
	principal := s.principalFor(actor)

	if msg.ChannelId == nil {
		return s.createChannel(ctx, actorID, principal, &msg)
	}
	return s.editChannel(ctx, actorID, principal, &msg)
}

func (s *Service) createChannel(ctx context.Context, actorID session.ID, principal permission.Principal, msg *mumbleproto.ChannelState) ([]byte, error) {
	if msg.Name == nil || strings.TrimSpace(*msg.Name) == "" {
		return nil, fmt.Errorf("control: channel name must not be empty")
	}
	parentID := channel.RootID
	if msg.Parent != nil {
		parentID = int64(*msg.Parent)
	}
	if _, ok := s.store.Channel(parentID); !ok {
		return nil, fmt.Errorf("control: parent channel %d does not exist", parentID)
	}
	if !s.perms.Has(int64(actorID), principal, parentID, acl.MakeChannel) {
		return nil, deniedf("session %d lacks MakeChannel at %d", actorID, parentID)
	}
	if s.store.SiblingNameCollision(parentID, 0, *msg.Name) {
		return nil, fmt.Errorf("control: sibling channel named %q already exists", *msg.Name)
	}

	position := int32(0)
	if msg.Position != nil {
		position = *msg.Position
	}
	temporary := msg.Temporary != nil && *msg.Temporary
	c, err := s.store.CreateChannel(parentID, *msg.Name, position, temporary)
	if err != nil {
		return nil, err
	}

	id := uint32(c.ID)
	parentU32 := uint32(parentID)
	msg.ChannelId = &id
	msg.Parent = &parentU32
	payload, err := msg.Marshal()
	if err != nil {
		return nil, err
	}
	s.broadcast(ctx, "hub.channelStateBroadcast", payload, "")
	return payload, nil
}

func (s *Service) editChannel(ctx context.Context, actorID session.ID, principal permission.Principal, msg *mumbleproto.ChannelState) ([]byte, error) {
	channelID := int64(*msg.ChannelId)
	c, ok := s.store.Channel(channelID)
	if !ok {
		return nil, fmt.Errorf("control: channel %d does not exist", channelID)
	}
	if !s.perms.Has(int64(actorID), principal, channelID, acl.Write) {
		return nil, deniedf("session %d lacks Write at %d", actorID, channelID)
	}

	structural := false
	if msg.Parent != nil {
		newParent := int64(*msg.Parent)
		if newParent != c.ParentID {
			if channelID == channel.RootID {
				return nil, fmt.Errorf("control: cannot reparent the root channel")
			}
			if s.store.WouldCycle(channelID, newParent) {
				return nil, fmt.Errorf("control: reparenting %d under %d would create a cycle", channelID, newParent)
			}
			if !s.perms.Has(int64(actorID), principal, newParent, acl.MakeChannel) {
				return nil, deniedf("session %d lacks MakeChannel at new parent %d", actorID, newParent)
			}
			c.ParentID = newParent
			structural = true
		}
	}
	if msg.Name != nil && *msg.Name != c.Name {
		if s.store.SiblingNameCollision(c.ParentID, c.ID, *msg.Name) {
			return nil, fmt.Errorf("control: sibling channel named %q already exists", *msg.Name)
		}
		c.Name = *msg.Name
	}
	if msg.Description != nil {
		c.Description = *msg.Description
	}
	if msg.Position != nil {
		c.Position = *msg.Position
	}
	if msg.Temporary != nil {
		c.Temporary = *msg.Temporary
	}
	if msg.MaxUsers != nil {
		c.MaxUsers = *msg.MaxUsers
	}

	if err := s.store.UpdateChannel(c); err != nil {
		return nil, err
	}
	for _, other := range msg.LinksAdd {
		if err := s.store.LinkChannels(channelID, int64(other)); err != nil {
			return nil, err
		}
	}
	for _, other := range msg.LinksRemove {
		if err := s.store.UnlinkChannels(channelID, int64(other)); err != nil {
			return nil, err
		}
	}

	if structural {
		s.perms.InvalidateAll()
	} else {
		s.perms.Invalidate(channelID)
	}

	payload, err := msg.Marshal()
	if err != nil {
		return nil, err
	}
	s.broadcast(ctx, "hub.channelStateBroadcast", payload, "")
	return payload, nil
}

// ---- ChannelRemove ----

func (s *Service) handleChannelRemove(ctx context.Context, params []byte) ([]byte, error) {
	actorID, raw, err := decodeForwardParams(params)
	if err != nil {
		return nil, err
	}
	var msg mumbleproto.ChannelRemove
	if err := msg.Unmarshal(raw); err != nil {
		return nil, err
	}
	if msg.ChannelId == nil {
		return nil, fmt.Errorf("control: ChannelRemove missing channel_id")
	}
	targetID := int64(*msg.ChannelId)
	if targetID == channel.RootID {
		return nil, fmt.Errorf("control: the root channel cannot be removed")
	}

	actor, ok := s.sessions.Get(actorID)
	if !ok {
		return nil, fmt.Errorf("control: unknown actor session %d", actorID)
	}
	target, ok := s.store.Channel(targetID)
	if !ok {
		return nil, fmt.Errorf("control: channel %d does not exist", targetID)
	}
	principal := s.principalFor(actor)
	if !s.perms.Has(int64(actorID), principal, targetID, acl.Write) {
		return nil, deniedf("session %d lacks Write at %d", actorID, targetID)
	}

	descendants := s.store.Descendants(targetID) // root-to-leaf, target first
	removedIDs := make([]int64, 0, len(descendants))
	removedSet := make(map[int64]bool, len(descendants))
	for _, c := range descendants {
		removedIDs = append(removedIDs, c.ID)
		removedSet[c.ID] = true
	}

	var affected []*session.State
	for _, cid := range removedIDs {
		affected = append(affected, s.sessions.InChannel(cid)...)
	}
	for _, st := range affected {
		st.ChannelID = target.ParentID
	}

	// Delete leaves before parents so foreign-key-style invariants in the
	// durable store are never left pointing at a missing row mid-operation.
	for i := len(removedIDs) - 1; i >= 0; i-- {
		if err := s.store.DeleteChannel(removedIDs[i]); err != nil {
			return nil, err
		}
	}
	s.perms.InvalidateAll()

	affectedSessions := make([]uint32, len(affected))
	for i, st := range affected {
		affectedSessions[i] = uint32(st.Session)
	}
	payload := encodeChannelRemoveBroadcast(targetID, removedIDs, affectedSessions, target.ParentID)
	s.broadcast(ctx, "hub.channelRemoveBroadcast", payload, "")

	for _, st := range affected {
		sessionU32 := uint32(st.Session)
		channelU32 := uint32(st.ChannelID)
		us := &mumbleproto.UserState{Session: &sessionU32, ChannelId: &channelU32}
		if usPayload, err := us.Marshal(); err == nil {
			s.broadcast(ctx, "hub.userStateBroadcast", usPayload, "")
		}
	}
	return nil, nil
}

// encodeChannelRemoveBroadcast packs the channelRemoveBroadcast
// notification body (spec.md §4.8): a fixed header plus two
// length-prefixed uint32 lists, matching pkg/clusterproto's big-endian
// length-prefixed convention for ad hoc notification payloads that don't
// carry a Mumble.proto message of their own.
func encodeChannelRemoveBroadcast(channelID int64, removed []int64, affectedSessions []uint32, parentID int64) []byte {
	size := 8 + 4 + 4*len(removed) + 4 + 4*len(affectedSessions) + 8
	out := make([]byte, size)
	off := 0
	binary.BigEndian.PutUint64(out[off:], uint64(channelID))
	off += 8
	binary.BigEndian.PutUint32(out[off:], uint32(len(removed)))
	off += 4
	for _, id := range removed {
		binary.BigEndian.PutUint32(out[off:], uint32(id))
		off += 4
	}
	binary.BigEndian.PutUint32(out[off:], uint32(len(affectedSessions)))
	off += 4
	for _, id := range affectedSessions {
		binary.BigEndian.PutUint32(out[off:], id)
		off += 4
	}
	binary.BigEndian.PutUint64(out[off:], uint64(parentID))
	return out
}

// ---- TextMessage ----

func (s *Service) handleTextMessage(ctx context.Context, params []byte) ([]byte, error) {
	actorID, raw, err := decodeForwardParams(params)
	if err != nil {
		return nil, err
	}
	var msg mumbleproto.TextMessage
	if err := msg.Unmarshal(raw); err != nil {
		return nil, err
	}
	actor, ok := s.sessions.Get(actorID)
	if !ok {
		return nil, fmt.Errorf("control: unknown actor session %d", actorID)
	}
	principal := s.principalFor(actor)

	recipients := make(map[session.ID]bool)
	for _, sid := range msg.Session {
		recipients[session.ID(sid)] = true
	}
	for _, cid := range msg.ChannelId {
		channelID := int64(cid)
		if !s.perms.Has(int64(actorID), principal, channelID, acl.TextMessage) {
			return nil, deniedf("session %d lacks TextMessage at channel %d", actorID, channelID)
		}
		for _, st := range s.sessions.InChannel(channelID) {
			recipients[st.Session] = true
		}
	}
	for _, tid := range msg.TreeId {
		rootID := int64(tid)
		if !s.perms.Has(int64(actorID), principal, rootID, acl.TextMessage) {
			return nil, deniedf("session %d lacks TextMessage at tree %d", actorID, rootID)
		}
		for _, c := range s.store.Descendants(rootID) {
			for _, st := range s.sessions.InChannel(c.ID) {
				recipients[st.Session] = true
			}
		}
	}

	sessionIDs := make([]uint32, 0, len(recipients))
	for id := range recipients {
		sessionIDs = append(sessionIDs, uint32(id))
	}
	msg.Session = sessionIDs
	msg.ChannelId = nil
	msg.TreeId = nil
	actorU32 := uint32(actorID)
	msg.Actor = &actorU32

	payload, err := msg.Marshal()
	if err != nil {
		return nil, err
	}

	edges := make(map[string]bool)
	for id := range recipients {
		if st, ok := s.sessions.Get(id); ok {
			edges[st.EdgeID] = true
		}
	}
	for edgeID := range edges {
		if ok, err := s.rpc.Notify(edgeID, "hub.textMessageBroadcast", payload); !ok || err != nil {
			if err := s.cache.Push(ctx, edgeID, broadcastcache.Message{
				Sequence: s.nextSequence(), Method: "hub.textMessageBroadcast", Payload: payload, QueuedAt: time.Now(),
			}); err != nil && s.log != nil {
				s.log.Warn("control: queue text message failed", slog.Any("err", err))
			}
		}
	}
	return nil, nil
}

// ---- ACL query/update ----

func (s *Service) handleACL(ctx context.Context, params []byte) ([]byte, error) {
	actorID, raw, err := decodeForwardParams(params)
	if err != nil {
		return nil, err
	}
	var msg mumbleproto.ACL
	if err := msg.Unmarshal(raw); err != nil {
		return nil, err
	}
	if msg.ChannelId == nil {
		return nil, fmt.Errorf("control: ACL missing channel_id")
	}
	channelID := int64(*msg.ChannelId)

	actor, ok := s.sessions.Get(actorID)
	if !ok {
		return nil, fmt.Errorf("control: unknown actor session %d", actorID)
	}
	principal := s.principalFor(actor)
	if !s.perms.Has(int64(actorID), principal, channelID, acl.Write) {
		return nil, deniedf("session %d lacks Write at %d", actorID, channelID)
	}

	isQuery := msg.Query != nil && *msg.Query
	if !isQuery {
		entries := make([]acl.Entry, 0, len(msg.Acls))
		for _, e := range msg.Acls {
			if e.Inherited != nil && *e.Inherited {
				continue // only the target channel's own entries are persisted
			}
			var userID *int64
			var group string
			if e.UserId != nil {
				id := int64(*e.UserId)
				userID = &id
			} else if e.Group != nil {
				group = *e.Group
			}
			entries = append(entries, acl.Entry{
				ChannelID: channelID, UserID: userID, Group: group,
				ApplyHere: e.ApplyHere != nil && *e.ApplyHere,
				ApplySubs: e.ApplySubs != nil && *e.ApplySubs,
				Allow:     acl.Permission(derefU32ACL(e.Grant)),
				Deny:      acl.Permission(derefU32ACL(e.Deny)),
			})
		}
		if err := s.store.WriteACLs(channelID, entries); err != nil {
			return nil, err
		}

		groups := make([]acl.Group, 0, len(msg.Groups))
		for _, g := range msg.Groups {
			if g.Name == nil {
				continue
			}
			groups = append(groups, acl.Group{
				ChannelID: channelID, Name: *g.Name,
				Inherit:     g.Inherit == nil || *g.Inherit,
				Inheritable: g.Inheritable == nil || *g.Inheritable,
				Add:         toInt64s(g.Add), Remove: toInt64s(g.Remove),
			})
		}
		if err := s.store.WriteGroups(channelID, groups); err != nil {
			return nil, err
		}

		if msg.InheritAcls != nil {
			if c, ok := s.store.Channel(channelID); ok {
				c.InheritACL = *msg.InheritAcls
				if err := s.store.UpdateChannel(c); err != nil {
					return nil, err
				}
			}
		}
		s.perms.InvalidateAll()

		ts := uint64(time.Now().Unix())
		s.broadcast(ctx, "hub.aclUpdated", encodeACLUpdated(channelID, ts), "")
	}

	inherited := s.store.InheritedView(channelID)
	response := inheritedViewToACL(channelID, inherited)
	return response.Marshal()
}

func derefU32ACL(p *uint32) uint32 {
	if p == nil {
		return 0
	}
	return *p
}

func toInt64s(in []uint32) []int64 {
	out := make([]int64, len(in))
	for i, v := range in {
		out[i] = int64(v)
	}
	return out
}

func inheritedViewToACL(channelID int64, entries []acl.Entry) *mumbleproto.ACL {
	out := &mumbleproto.ACL{}
	id := uint32(channelID)
	out.ChannelId = &id
	for _, e := range entries {
		inherited := e.Inherited
		entry := &mumbleproto.ACLEntry{
			ApplyHere: &e.ApplyHere,
			ApplySubs: &e.ApplySubs,
			Inherited: &inherited,
		}
		allow, deny := uint32(e.Allow), uint32(e.Deny)
		entry.Grant, entry.Deny = &allow, &deny
		if e.UserID != nil {
			uid := uint32(*e.UserID)
			entry.UserId = &uid
		} else {
			group := e.Group
			entry.Group = &group
		}
		out.Acls = append(out.Acls, entry)
	}
	return out
}

// encodeACLUpdated packs the `aclUpdated { channel_id, timestamp }`
// notification body (spec.md §4.8).
func encodeACLUpdated(channelID int64, timestamp uint64) []byte {
	out := make([]byte, 16)
	binary.BigEndian.PutUint64(out[0:], uint64(channelID))
	binary.BigEndian.PutUint64(out[8:], timestamp)
	return out
}

// ---- PluginDataTransmission ----

func (s *Service) handlePluginDataTransmission(ctx context.Context, params []byte) ([]byte, error) {
	_, raw, err := decodeForwardParams(params)
	if err != nil {
		return nil, err
	}
	var msg mumbleproto.PluginDataTransmission
	if err := msg.Unmarshal(raw); err != nil {
		return nil, err
	}

	edges := make(map[string]bool)
	for _, sid := range msg.ReceiverSessions {
		if st, ok := s.sessions.Get(session.ID(sid)); ok {
			edges[st.EdgeID] = true
		}
	}
	payload, err := msg.Marshal()
	if err != nil {
		return nil, err
	}
	for edgeID := range edges {
		if ok, err := s.rpc.Notify(edgeID, "hub.pluginDataBroadcast", payload); !ok || err != nil {
			_ = s.cache.Push(ctx, edgeID, broadcastcache.Message{
				Sequence: s.nextSequence(), Method: "hub.pluginDataBroadcast", Payload: payload, QueuedAt: time.Now(),
			})
		}
	}
	return nil, nil
}

// ---- UserStats (cross-Edge aggregation placeholder) ----

// handleUserStats answers a deep UserStats request with whatever the Hub
// knows centrally (the session's cluster-visible state); byte-level
// transport/codec counters live only on the owning Edge and are not
// reachable from here, so this response carries the fields the Hub can
// actually fill and leaves the rest for the Edge's own local reply.
func (s *Service) handleUserStats(ctx context.Context, params []byte) ([]byte, error) {
	_, raw, err := decodeForwardParams(params)
	if err != nil {
		return nil, err
	}
	var msg mumbleproto.UserStats
	if err := msg.Unmarshal(raw); err != nil {
		return nil, err
	}
	if msg.Session == nil {
		return nil, fmt.Errorf("control: UserStats missing session")
	}
	target, ok := s.sessions.Get(session.ID(*msg.Session))
	if !ok {
		return nil, fmt.Errorf("control: unknown session %d", *msg.Session)
	}
	_ = target
	return msg.Marshal()
}

// ---- QueryUsers / PermissionQuery / RequestBlob ----

func (s *Service) handleQueryUsers(ctx context.Context, params []byte) ([]byte, error) {
	_, raw, err := decodeForwardParams(params)
	if err != nil {
		return nil, err
	}
	var msg mumbleproto.QueryUsers
	if err := msg.Unmarshal(raw); err != nil {
		return nil, err
	}

	response := &mumbleproto.QueryUsers{}
	for _, id := range msg.Ids {
		u, lookupErr := s.lookupUser(int64(id))
		if lookupErr != nil {
			continue
		}
		response.Ids = append(response.Ids, id)
		response.Names = append(response.Names, u.Name)
	}
	for _, name := range msg.Names {
		tx := s.db.Tx()
		u, lookupErr := tx.UserByName(s.serverID, name)
		tx.Commit()
		if lookupErr != nil {
			continue
		}
		response.Ids = append(response.Ids, uint32(u.ID))
		response.Names = append(response.Names, u.Name)
	}
	return response.Marshal()
}

func (s *Service) lookupUser(id int64) (*database.User, error) {
	tx := s.db.Tx()
	u, err := tx.UserByID(s.serverID, id)
	tx.Commit()
	return u, err
}

func (s *Service) handlePermissionQuery(ctx context.Context, params []byte) ([]byte, error) {
	actorID, raw, err := decodeForwardParams(params)
	if err != nil {
		return nil, err
	}
	var msg mumbleproto.PermissionQuery
	if err := msg.Unmarshal(raw); err != nil {
		return nil, err
	}
	if msg.ChannelId == nil {
		return nil, fmt.Errorf("control: PermissionQuery missing channel_id")
	}
	channelID := int64(*msg.ChannelId)
	if msg.Flush != nil && *msg.Flush {
		s.perms.Invalidate(channelID)
	}
	actor, ok := s.sessions.Get(actorID)
	if !ok {
		return nil, fmt.Errorf("control: unknown actor session %d", actorID)
	}
	granted := uint32(s.perms.Granted(int64(actorID), s.principalFor(actor), channelID))
	response := &mumbleproto.PermissionQuery{ChannelId: msg.ChannelId, Permissions: &granted}
	return response.Marshal()
}

// blobReply carries the resolved UserState messages handleRequestBlob
// synthesizes for a caller's SessionComment requests, wire-marshaled so the
// Edge can relay each straight to the requesting client without knowing
// anything about blob storage itself.
type blobReply struct {
	UserStates [][]byte `json:"userStates"`
}

// handleRequestBlob answers a client's RequestBlob by resolving each
// requested session's comment out of the blob store and handing back a full
// UserState carrying the text, exactly as Mumble's RequestBlob/UserState
// round trip does.
//
// SessionTexture and ChannelDescription are not resolved here:
// mumbleproto.UserState carries no raw texture field to answer with, and
// channel.Channel's Description is always sent inline already, so neither
// has a hash to look up.
func (s *Service) handleRequestBlob(ctx context.Context, params []byte) ([]byte, error) {
	_, raw, err := decodeForwardParams(params)
	if err != nil {
		return nil, err
	}
	var msg mumbleproto.RequestBlob
	if err := msg.Unmarshal(raw); err != nil {
		return nil, err
	}
	if s.blobs == nil {
		return json.Marshal(blobReply{})
	}

	var reply blobReply
	for _, sid := range msg.SessionComment {
		target, ok := s.sessions.Get(session.ID(sid))
		if !ok || len(target.CommentHash) == 0 {
			continue
		}
		data, err := s.blobs.Get(hex.EncodeToString(target.CommentHash))
		if err != nil {
			continue
		}
		comment := string(data)
		sessionID := sid
		us := mumbleproto.UserState{Session: &sessionID, Comment: &comment}
		wire, err := us.Marshal()
		if err != nil {
			continue
		}
		reply.UserStates = append(reply.UserStates, wire)
	}
	return json.Marshal(reply)
}

// ---- ContextAction / VoiceTarget / disconnect plumbing ----

// handleContextAction implements the two built-ins spec.md §4.4 reserves
// for Hub authority (bulk channel move needs Move permission; promiscuous
// mode needs superuser), both routed here by internal/edge/dispatch's
// fallback forwarding for any ContextAction beyond the Edge-local
// group-shout toggle.
func (s *Service) handleContextAction(ctx context.Context, params []byte) ([]byte, error) {
	actorID, raw, err := decodeForwardParams(params)
	if err != nil {
		return nil, err
	}
	var msg mumbleproto.ContextAction
	if err := msg.Unmarshal(raw); err != nil {
		return nil, err
	}
	actor, ok := s.sessions.Get(actorID)
	if !ok {
		return nil, fmt.Errorf("control: unknown actor session %d", actorID)
	}
	principal := s.principalFor(actor)

	action := ""
	if msg.Action != nil {
		action = *msg.Action
	}
	switch action {
	case "MoveToChannel":
		if msg.ChannelId == nil {
			return nil, fmt.Errorf("control: MoveToChannel missing channel_id")
		}
		channelID := int64(*msg.ChannelId)
		if !s.perms.Has(int64(actorID), principal, channelID, acl.Move) {
			return nil, deniedf("session %d lacks Move at %d", actorID, channelID)
		}
		for _, st := range s.sessions.InChannel(actor.ChannelID) {
			st.ChannelID = channelID
		}
		return nil, nil
	case "PromiscuousMode":
		if !principal.SuperUser {
			return nil, deniedf("session %d is not a superuser", actorID)
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("control: unrecognized context action %q", action)
	}
}

// handleSyncVoiceTarget is a durability no-op placeholder for
// `edge.syncVoiceTarget`: VoiceTarget slots are Edge-local by design
// (§4.4), and the Hub currently just acknowledges the mirror call rather
// than persisting a copy, since no other Edge ever needs the failed-over
// client's target configuration until it reconnects and resends it.
func (s *Service) handleSyncVoiceTarget(ctx context.Context, params []byte) ([]byte, error) {
	return nil, nil
}

// handleUserLeft is the canonical departure signal (spec.md §9 Open
// Questions: "Treat Edge->Hub as the canonical departure signal"):
// releases the session and re-broadcasts `hub.userLeft` so every other
// Edge drops it from their mirrors.
func (s *Service) handleUserLeft(ctx context.Context, params []byte) ([]byte, error) {
	sessID, _, err := decodeForwardParams(params)
	if err != nil {
		return nil, err
	}
	st, ok := s.sessions.Get(sessID)
	if !ok {
		return nil, nil
	}
	owningEdge := st.EdgeID
	s.sessions.Release(sessID)

	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(sessID))
	s.broadcast(ctx, "hub.userLeft", payload, owningEdge)
	return nil, nil
}
