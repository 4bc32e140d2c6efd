package dispatch

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/lotlab/grumble-cluster/pkg/acl"
	"github.com/lotlab/grumble-cluster/pkg/channel"
	"github.com/lotlab/grumble-cluster/pkg/mumbleproto"
	"github.com/lotlab/grumble-cluster/pkg/session"
)

// Subscribe registers this Dispatcher's apply* methods against its own
// rpcclient.Client's notification handlers, so every Hub broadcast keeps
// the mirror current and is relayed to this Edge's own connected clients
// (§4.6 "subscribe to incoming notifications").
func (d *Dispatcher) Subscribe() {
	d.rpc.OnNotification("hub.userJoined", d.applyUserJoined)
	d.rpc.OnNotification("hub.userStateBroadcast", d.applyUserState)
	d.rpc.OnNotification("hub.userRemoveBroadcast", d.applyUserRemove)
	d.rpc.OnNotification("hub.userLeft", d.applyUserLeft)
	d.rpc.OnNotification("hub.channelStateBroadcast", d.applyChannelState)
	d.rpc.OnNotification("hub.channelRemoveBroadcast", d.applyChannelRemove)
	d.rpc.OnNotification("hub.aclUpdated", d.applyACLUpdated)
	d.rpc.OnNotification("hub.textMessageBroadcast", d.applyRawFanout(mumbleproto.MessageTextMessage))
	d.rpc.OnNotification("hub.pluginDataBroadcast", d.applyRawFanout(mumbleproto.MessagePluginDataTransmission))
}

// applyRawFanout returns a handler that relays params verbatim as a frame
// of kind to every locally-connected client, for broadcasts whose payload
// is already protobuf-compatible and whose recipient set was already
// narrowed by the Hub (TextMessage, PluginDataTransmission).
func (d *Dispatcher) applyRawFanout(kind mumbleproto.MessageType) func([]byte) {
	return func(payload []byte) {
		d.fanoutRaw(kind, payload, 0)
	}
}

func (d *Dispatcher) fanoutRaw(kind mumbleproto.MessageType, payload []byte, skip uint32) {
	for _, c := range d.router.LocalClients() {
		if skip != 0 && c.Session == skip {
			continue
		}
		if err := c.SendMessage(kind, rawMessage(payload)); err != nil && d.log != nil {
			d.log.Debug("dispatch: fanout send failed", slog.Any("err", err))
		}
	}
}

// rawMessage wraps an already-marshaled payload so it can be handed to
// clients.Client.SendMessage without re-marshaling a typed struct.
type rawMessage []byte

func (m rawMessage) Marshal() ([]byte, error) { return m, nil }
func (m rawMessage) Unmarshal([]byte) error   { return nil }

func (d *Dispatcher) applyUserJoined(params []byte) {
	var st session.State
	if err := json.Unmarshal(params, &st); err != nil {
		if d.log != nil {
			d.log.Warn("dispatch: hub.userJoined decode failed", slog.Any("err", err))
		}
		return
	}
	d.mirror.PutSession(&st)

	sessionU32 := uint32(st.Session)
	channelU32 := uint32(st.ChannelID)
	name := st.Username
	us := &mumbleproto.UserState{Session: &sessionU32, ChannelId: &channelU32, Name: &name}
	payload, err := us.Marshal()
	if err != nil {
		return
	}
	d.fanoutRaw(mumbleproto.MessageUserState, payload, sessionU32)
}

func (d *Dispatcher) applyUserState(params []byte) {
	var msg mumbleproto.UserState
	if err := msg.Unmarshal(params); err != nil {
		if d.log != nil {
			d.log.Warn("dispatch: hub.userStateBroadcast decode failed", slog.Any("err", err))
		}
		return
	}
	if msg.Session != nil {
		if st, ok := d.mirror.Session(session.ID(*msg.Session)); ok {
			applyUserStateFields(st, &msg)
		}
	}
	d.fanoutRaw(mumbleproto.MessageUserState, params, 0)
}

func applyUserStateFields(st *session.State, msg *mumbleproto.UserState) {
	if msg.ChannelId != nil {
		st.ChannelID = int64(*msg.ChannelId)
	}
	if msg.Mute != nil {
		st.Mute = *msg.Mute
	}
	if msg.Deaf != nil {
		st.Deaf = *msg.Deaf
	}
	if msg.SelfMute != nil {
		st.SelfMute = *msg.SelfMute
	}
	if msg.SelfDeaf != nil {
		st.SelfDeaf = *msg.SelfDeaf
	}
	if msg.Suppress != nil {
		st.Suppress = *msg.Suppress
	}
	if msg.PrioritySpeaker != nil {
		st.PrioritySpeaker = *msg.PrioritySpeaker
	}
	if msg.Recording != nil {
		st.Recording = *msg.Recording
	}
	if msg.Name != nil {
		st.Username = *msg.Name
	}
}

func (d *Dispatcher) applyUserRemove(params []byte) {
	var msg mumbleproto.UserRemove
	if err := msg.Unmarshal(params); err != nil {
		if d.log != nil {
			d.log.Warn("dispatch: hub.userRemoveBroadcast decode failed", slog.Any("err", err))
		}
		return
	}
	if msg.Session == nil {
		return
	}
	target := session.ID(*msg.Session)
	d.mirror.RemoveSession(target)
	d.fanoutRaw(mumbleproto.MessageUserRemove, params, 0)

	if c, ok := d.router.Client(*msg.Session); ok {
		d.router.UnregisterClient(c)
		c.Disconnect(msg.Ban != nil && *msg.Ban)
	}
}

func (d *Dispatcher) applyUserLeft(params []byte) {
	if len(params) < 4 {
		return
	}
	sessionID := session.ID(binary.BigEndian.Uint32(params))
	d.mirror.RemoveSession(sessionID)

	sessionU32 := uint32(sessionID)
	msg := &mumbleproto.UserRemove{Session: &sessionU32}
	payload, err := msg.Marshal()
	if err != nil {
		return
	}
	d.fanoutRaw(mumbleproto.MessageUserRemove, payload, 0)
}

func (d *Dispatcher) applyChannelState(params []byte) {
	var msg mumbleproto.ChannelState
	if err := msg.Unmarshal(params); err != nil {
		if d.log != nil {
			d.log.Warn("dispatch: hub.channelStateBroadcast decode failed", slog.Any("err", err))
		}
		return
	}
	if msg.ChannelId != nil {
		d.putChannelFromState(&msg)
	}
	d.fanoutRaw(mumbleproto.MessageChannelState, params, 0)
}

// putChannelFromState merges a ChannelState delta onto the mirror's
// existing row for the channel (or starts a fresh one for a newly created
// channel), mirroring the fields the Hub's own editChannel/createChannel
// accept.
func (d *Dispatcher) putChannelFromState(msg *mumbleproto.ChannelState) {
	id := int64(*msg.ChannelId)
	c, ok := d.mirror.Channel(id)
	if !ok {
		c = &channel.Channel{ID: id}
	} else {
		cp := *c
		c = &cp
	}
	if msg.Parent != nil {
		c.ParentID = int64(*msg.Parent)
	}
	if msg.Name != nil {
		c.Name = *msg.Name
	}
	if msg.Description != nil {
		c.Description = *msg.Description
	}
	if msg.Temporary != nil {
		c.Temporary = *msg.Temporary
	}
	if msg.Position != nil {
		c.Position = *msg.Position
	}
	if msg.MaxUsers != nil {
		c.MaxUsers = *msg.MaxUsers
	}
	if len(msg.Links) > 0 {
		links := make([]int64, len(msg.Links))
		for i, l := range msg.Links {
			links[i] = int64(l)
		}
		c.Links = links
	}
	for _, l := range msg.LinksAdd {
		c.Links = append(c.Links, int64(l))
	}
	if len(msg.LinksRemove) > 0 {
		removed := make(map[int64]bool, len(msg.LinksRemove))
		for _, l := range msg.LinksRemove {
			removed[int64(l)] = true
		}
		kept := c.Links[:0]
		for _, l := range c.Links {
			if !removed[l] {
				kept = append(kept, l)
			}
		}
		c.Links = kept
	}
	d.mirror.PutChannel(c)
}

func (d *Dispatcher) applyChannelRemove(params []byte) {
	channelID, removed, affectedSessions, parentID, err := decodeChannelRemoveBroadcast(params)
	if err != nil {
		if d.log != nil {
			d.log.Warn("dispatch: hub.channelRemoveBroadcast decode failed", slog.Any("err", err))
		}
		return
	}
	for _, id := range removed {
		d.mirror.RemoveChannel(id)
	}

	removedU32 := uint32(channelID)
	msg := &mumbleproto.ChannelRemove{ChannelId: &removedU32}
	payload, err := msg.Marshal()
	if err == nil {
		d.fanoutRaw(mumbleproto.MessageChannelRemove, payload, 0)
	}

	parentU32 := uint32(parentID)
	for _, sid := range affectedSessions {
		if st, ok := d.mirror.Session(session.ID(sid)); ok {
			st.ChannelID = parentID
		}
		us := &mumbleproto.UserState{Session: &sid, ChannelId: &parentU32}
		if usPayload, err := us.Marshal(); err == nil {
			d.fanoutRaw(mumbleproto.MessageUserState, usPayload, 0)
		}
	}
}

// decodeChannelRemoveBroadcast mirrors control.encodeChannelRemoveBroadcast
// byte for byte (§4.8).
func decodeChannelRemoveBroadcast(data []byte) (channelID int64, removed []int64, affectedSessions []uint32, parentID int64, err error) {
	if len(data) < 8+4 {
		return 0, nil, nil, 0, errShortBroadcast
	}
	channelID = int64(binary.BigEndian.Uint64(data))
	data = data[8:]

	removedCount := int(binary.BigEndian.Uint32(data))
	data = data[4:]
	if len(data) < removedCount*4+4 {
		return 0, nil, nil, 0, errShortBroadcast
	}
	removed = make([]int64, removedCount)
	for i := range removed {
		removed[i] = int64(binary.BigEndian.Uint32(data))
		data = data[4:]
	}

	sessionCount := int(binary.BigEndian.Uint32(data))
	data = data[4:]
	if len(data) < sessionCount*4+8 {
		return 0, nil, nil, 0, errShortBroadcast
	}
	affectedSessions = make([]uint32, sessionCount)
	for i := range affectedSessions {
		affectedSessions[i] = binary.BigEndian.Uint32(data)
		data = data[4:]
	}

	parentID = int64(binary.BigEndian.Uint64(data))
	return channelID, removed, affectedSessions, parentID, nil
}

var errShortBroadcast = errors.New("dispatch: channelRemoveBroadcast frame too short")

// applyACLUpdated invalidates this Edge's cached ACL and channel-group
// snapshot for the affected channel; the refreshed entries arrive on the
// next edge.fullSync rather than a dedicated fetch call, since ACL changes
// are rare next to voice/session traffic and don't warrant their own RPC.
func (d *Dispatcher) applyACLUpdated(params []byte) {
	if len(params) < 8 {
		return
	}
	channelID := int64(binary.BigEndian.Uint64(params))
	d.mirror.PutACLs(channelID, []acl.Entry{})
	d.mirror.PutGroups(channelID, nil)
}
