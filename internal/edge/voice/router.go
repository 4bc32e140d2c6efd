// Package voice is the Edge's UDP voice router (spec.md §4.5): it demuxes
// inbound datagrams to a session by source address (falling back to a
// decrypt-to-find scan on NAT rebinding), resolves the listener set for a
// packet's target, rewrites the payload once and encrypts it per listener,
// and forwards to
// listeners on other Edges over the cross-Edge voice plane.
package voice

import (
	"log/slog"
	"net"
	"sync"

	"github.com/lotlab/grumble-cluster/internal/edge/clients"
	"github.com/lotlab/grumble-cluster/internal/edge/mirror"
	"github.com/lotlab/grumble-cluster/pkg/mumbleproto"
	"github.com/lotlab/grumble-cluster/pkg/session"
)

// CrossEdgeSender forwards an already-rewritten voice payload, and the
// resolved recipient session ids that live on edgeID, to that Edge's
// voice plane (implemented by internal/edge/voiceplane). Recipients are
// resolved once by the sending Edge (the only side that can see a
// sender's stored VoiceTarget slots) so the receiving Edge only needs to
// fan the payload out to its own locally-connected sessions.
type CrossEdgeSender interface {
	SendToEdge(edgeID string, senderSession uint32, target uint8, recipients []uint32, payload []byte) error
}

// Sender writes one encrypted datagram to addr, normally *net.UDPConn's
// WriteToUDP wrapped to match this signature.
type Sender func(buf []byte, addr *net.UDPAddr) error

// Router owns the Edge's local UDP endpoint->session map and dispatches
// decrypted voice packets to their listener set.
type Router struct {
	log    *slog.Logger
	mirror *mirror.Mirror
	edgeID string
	cross  CrossEdgeSender

	mu        sync.RWMutex
	byAddr    map[string]*clients.Client
	bySession map[uint32]*clients.Client
}

func NewRouter(edgeID string, m *mirror.Mirror, cross CrossEdgeSender, log *slog.Logger) *Router {
	return &Router{
		log:       log,
		mirror:    m,
		edgeID:    edgeID,
		cross:     cross,
		byAddr:    make(map[string]*clients.Client),
		bySession: make(map[uint32]*clients.Client),
	}
}

// RegisterClient makes c eligible for UDP endpoint discovery and as a
// forwarding target, called once the client has an allocated session.
func (r *Router) RegisterClient(c *clients.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySession[c.Session] = c
}

// UnregisterClient drops c and any endpoint mapping pointing at it, called
// on disconnect (§4.3 "on any disconnect, clear UDP endpoint mapping").
func (r *Router) UnregisterClient(c *clients.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bySession, c.Session)
	for addr, mapped := range r.byAddr {
		if mapped == c {
			delete(r.byAddr, addr)
		}
	}
}

// Client looks up a locally-connected client by session id, used by
// internal/edge/dispatch to relay Hub broadcasts to the right socket
// without keeping a second registry.
func (r *Router) Client(sessionID uint32) (*clients.Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.bySession[sessionID]
	return c, ok
}

// LocalClients returns every client currently registered with this
// router, used by internal/edge/dispatch to fan a Hub broadcast out to
// every connected socket on this Edge.
func (r *Router) LocalClients() []*clients.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*clients.Client, 0, len(r.bySession))
	for _, c := range r.bySession {
		out = append(out, c)
	}
	return out
}

// HandleIncoming processes one UDP datagram received on src: it resolves
// the owning session (installing or replacing the endpoint mapping as
// needed), then dispatches the decrypted voice packet.
func (r *Router) HandleIncoming(data []byte, src *net.UDPAddr, send Sender) {
	sender, result := r.resolveSender(data, src)
	if sender == nil {
		if r.log != nil {
			r.log.Debug("voice: no session decrypts this datagram", slog.String("src", src.String()))
		}
		return
	}
	sender.MarkUDPEstablished(src)
	r.DispatchDecoded(sender, result.Plaintext, src, send)
}

// DispatchDecoded processes one already-decrypted voice packet from a
// known sender, used both by HandleIncoming (after UDP address
// resolution) and by internal/edge/conn for packets tunneled over a
// client's own TCP connection, where the sender is already known and no
// address resolution is needed. src may be nil for a tunneled packet;
// it is only used to address a UDP ping echo.
func (r *Router) DispatchDecoded(sender *clients.Client, plaintext []byte, src *net.UDPAddr, send Sender) {
	pkt, err := mumbleproto.ParseClientVoicePacket(plaintext)
	if err != nil {
		return
	}

	if pkt.Kind == mumbleproto.VoicePing {
		if src != nil {
			r.echoPing(sender, pkt, src, send)
		}
		return
	}

	r.dispatch(sender, pkt, send)
}

// resolveSender finds which client owns src and decrypts data exactly
// once: first against the cached mapping, then (on cache miss or a failed
// decrypt) against every client sharing src's IP, installing the mapping
// on the first valid decrypt (§4.5 "On subsequent mismatches (NAT
// rebinding) the old mapping is evicted and replaced").
func (r *Router) resolveSender(data []byte, src *net.UDPAddr) (*clients.Client, cryptResult) {
	r.mu.RLock()
	cached, ok := r.byAddr[src.String()]
	r.mu.RUnlock()

	if ok {
		if result, err := cached.Crypt.Decrypt(data); err == nil && result.Valid {
			return cached, cryptResult{result.Plaintext}
		}
		r.mu.Lock()
		delete(r.byAddr, src.String())
		r.mu.Unlock()
	}

	r.mu.RLock()
	candidates := make([]*clients.Client, 0, len(r.bySession))
	for _, c := range r.bySession {
		if c == cached {
			continue // already tried above
		}
		if ip := c.RemoteIP(); ip != nil && ip.Equal(src.IP) {
			candidates = append(candidates, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range candidates {
		if result, err := c.Crypt.Decrypt(data); err == nil && result.Valid {
			r.mu.Lock()
			r.byAddr[src.String()] = c
			r.mu.Unlock()
			return c, cryptResult{result.Plaintext}
		}
	}
	return nil, cryptResult{}
}

// cryptResult carries the one decrypted plaintext out of resolveSender so
// callers never decrypt the same datagram twice (a second Decrypt call
// against an already-advanced IV would be misread as a replay).
type cryptResult struct {
	Plaintext []byte
}

func (r *Router) echoPing(sender *clients.Client, pkt *mumbleproto.VoicePacket, src *net.UDPAddr, send Sender) {
	body := mumbleproto.EncodePingEcho(pkt.RawAfterHeader)
	encrypted, err := sender.Crypt.Encrypt(body)
	if err != nil {
		return
	}
	_ = send(encrypted, src)
}

// dispatch resolves the listener set for pkt.Target and fans the rewritten
// payload out to them, forwarding to the cross-Edge plane for listeners
// this Edge doesn't own.
func (r *Router) dispatch(sender *clients.Client, pkt *mumbleproto.VoicePacket, send Sender) {
	state, ok := r.mirror.Session(session.ID(sender.Session))
	if !ok {
		return
	}
	if state.Suppress {
		return // suppressed senders are dropped before dispatch (§4.5)
	}

	listeners := r.resolveListeners(sender, state, pkt.Target)
	if len(listeners) == 0 {
		return
	}

	rewritten := mumbleproto.EncodeServerVoicePacket(pkt.Kind, sender.Session, pkt.Sequence, pkt.Frames)

	remoteByEdge := make(map[string][]uint32)
	for _, listenerSession := range listeners {
		lstate, ok := r.mirror.Session(listenerSession)
		if !ok || isDeafOrMuted(lstate) {
			continue
		}
		if lstate.EdgeID == r.edgeID {
			r.mu.RLock()
			c, ok := r.bySession[uint32(listenerSession)]
			r.mu.RUnlock()
			if !ok {
				continue
			}
			_ = c.SendUDP(send, rewritten)
			continue
		}
		remoteByEdge[lstate.EdgeID] = append(remoteByEdge[lstate.EdgeID], uint32(listenerSession))
	}

	if r.cross == nil {
		return
	}
	for edgeID, recipients := range remoteByEdge {
		_ = r.cross.SendToEdge(edgeID, sender.Session, pkt.Target, recipients, rewritten)
	}
}

// DeliverFromPeer fans a payload that already arrived pre-rewritten from
// another Edge's voice plane out to this Edge's locally-connected
// recipients (§4.9 "Receiving Edge decrypts nothing ... and dispatches to
// its local listeners as if locally produced").
func (r *Router) DeliverFromPeer(recipients []uint32, payload []byte, send Sender) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sessID := range recipients {
		c, ok := r.bySession[sessID]
		if !ok {
			continue
		}
		_ = c.SendUDP(send, payload)
	}
}

func isDeafOrMuted(s *session.State) bool {
	return s.Mute || s.Deaf || s.SelfMute || s.SelfDeaf
}

// resolveListeners computes the session ids that should hear sender's
// packet, per the target semantics of §4.5.
func (r *Router) resolveListeners(sender *clients.Client, state *session.State, target uint8) []session.ID {
	self := session.ID(sender.Session)

	switch {
	case target == mumbleproto.TargetCurrentChannel:
		return r.channelListeners(state.ChannelID, self)

	case target == mumbleproto.TargetServer:
		var out []session.ID
		for _, s := range r.mirror.Sessions() {
			if s.Session == self {
				continue
			}
			out = append(out, s.Session)
		}
		return out

	case target >= mumbleproto.TargetMin && target <= mumbleproto.TargetMax:
		vt, ok := sender.VoiceTarget(uint32(target))
		if !ok {
			return nil
		}
		return r.expandVoiceTarget(vt, self)

	default:
		return nil
	}
}

// channelListeners is the target==0 listener set: everyone in the
// sender's channel, plus anyone elsewhere listening to that channel,
// excluding the sender.
func (r *Router) channelListeners(channelID int64, self session.ID) []session.ID {
	var out []session.ID
	seen := map[session.ID]bool{self: true}
	for _, s := range r.mirror.Sessions() {
		if seen[s.Session] {
			continue
		}
		if s.ChannelID == channelID || s.ListeningChannels[channelID] {
			seen[s.Session] = true
			out = append(out, s.Session)
		}
	}
	return out
}

// expandVoiceTarget resolves a stored target slot's explicit sessions plus
// its channel entries (optionally expanded with sub-tree and links), each
// filtered to the named group when one is set (§8 scenario 6: "delivers...
// to each session in channel 5 that belongs to group 'friends'"). Group
// membership is always evaluated at the configured target channel
// (vtc.ChannelID), not at each expanded descendant, matching the channel
// the group was declared against.
func (r *Router) expandVoiceTarget(vt *clients.VoiceTarget, self session.ID) []session.ID {
	seen := map[session.ID]bool{self: true}
	var out []session.ID

	add := func(id session.ID) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}

	for _, s := range vt.Sessions {
		add(session.ID(s))
	}

	for _, vtc := range vt.Channels {
		channelIDs := []int64{vtc.ChannelID}
		if vtc.Children {
			channelIDs = r.mirror.Descendants(vtc.ChannelID)
		}
		if vtc.Links {
			linked := r.mirror.LinkedSet(vtc.ChannelID)
			channelIDs = append(channelIDs, linked...)
		}
		for _, cid := range channelIDs {
			for _, s := range r.mirror.SessionsInChannel(cid) {
				if vtc.Group != "" && !r.mirror.InGroup(vtc.ChannelID, vtc.Group, s.UserID) {
					continue
				}
				add(s.Session)
			}
		}
	}
	return out
}
