// Package dispatch is the Edge's per-connection message dispatcher
// (spec.md §4.4): for each parsed control-channel frame it either
// handles the message locally (crypto setup, pings, voice target
// config, built-in context actions) or forwards a typed notification to
// the Hub and relays its best-effort response, never mutating
// channel/user state authoritatively itself. It also applies the Hub's
// broadcast notifications back onto locally-connected clients.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/lotlab/grumble-cluster/internal/edge/clients"
	"github.com/lotlab/grumble-cluster/internal/edge/mirror"
	"github.com/lotlab/grumble-cluster/internal/edge/rpcclient"
	"github.com/lotlab/grumble-cluster/internal/edge/voice"
	"github.com/lotlab/grumble-cluster/pkg/cryptstate"
	"github.com/lotlab/grumble-cluster/pkg/mumbleproto"
)

// forwardTable maps a state-changing message type to the Hub RPC method
// that owns it (spec.md §4.4's forwarding table).
var forwardTable = map[mumbleproto.MessageType]string{
	mumbleproto.MessageUserState:              "hub.handleUserState",
	mumbleproto.MessageUserRemove:             "hub.handleUserRemove",
	mumbleproto.MessageChannelState:           "hub.handleChannelState",
	mumbleproto.MessageChannelRemove:          "hub.handleChannelRemove",
	mumbleproto.MessageTextMessage:            "hub.handleTextMessage",
	mumbleproto.MessageACL:                    "edge.handleACL",
	mumbleproto.MessagePluginDataTransmission: "hub.handlePluginDataTransmission",
	mumbleproto.MessageUserStats:              "hub.handleUserStats",
	mumbleproto.MessageQueryUsers:             "hub.handleQueryUsers",
	mumbleproto.MessagePermissionQuery:        "hub.handlePermissionQuery",
	mumbleproto.MessageRequestBlob:            "hub.handleRequestBlob",
}

// Dispatcher routes one Edge's incoming control-channel frames.
type Dispatcher struct {
	edgeID string
	rpc    *rpcclient.Client
	mirror *mirror.Mirror
	router *voice.Router
	log    *slog.Logger
}

func New(edgeID string, rpc *rpcclient.Client, m *mirror.Mirror, router *voice.Router, log *slog.Logger) *Dispatcher {
	return &Dispatcher{edgeID: edgeID, rpc: rpc, mirror: m, router: router, log: log}
}

// Handle processes one frame received from c.
func (d *Dispatcher) Handle(ctx context.Context, c *clients.Client, frame mumbleproto.Frame) error {
	switch frame.Type {
	case mumbleproto.MessagePing:
		return d.handlePing(c, frame)
	case mumbleproto.MessageCryptSetup:
		return d.handleCryptSetup(c, frame)
	case mumbleproto.MessageVoiceTarget:
		return d.handleVoiceTarget(ctx, c, frame)
	case mumbleproto.MessageContextAction:
		return d.handleContextAction(ctx, c, frame)
	default:
		if method, ok := forwardTable[frame.Type]; ok {
			return d.forward(ctx, c, method, frame)
		}
		if d.log != nil {
			d.log.Debug("dispatch: unhandled message type", slog.Any("type", frame.Type))
		}
		return nil
	}
}

// forward sends the frame's raw payload to the Hub as a best-effort RPC
// and, on failure, translates it into a PermissionDenied reply so the
// client gets synchronous feedback; on success the authoritative state
// change arrives later as a broadcast notification applied by the
// apply* methods in notify.go. hub.handleRequestBlob is the one forwarded method
// whose caller needs its response directly rather than via broadcast, so
// its reply is relayed straight back to c.
func (d *Dispatcher) forward(ctx context.Context, c *clients.Client, method string, frame mumbleproto.Frame) error {
	params := encodeForwardParams(c.Session, frame.Payload)
	result, err := d.rpc.Call(ctx, method, params)
	if err != nil {
		reason := err.Error()
		return c.SendMessage(mumbleproto.MessagePermissionDenied, &mumbleproto.PermissionDenied{Reason: &reason})
	}
	if method == "hub.handleRequestBlob" {
		return d.relayBlobReply(c, result)
	}
	return nil
}

// relayBlobReply decodes a hub.handleRequestBlob response and sends each
// resolved UserState straight to the requesting client.
func (d *Dispatcher) relayBlobReply(c *clients.Client, result []byte) error {
	if len(result) == 0 {
		return nil
	}
	var reply struct {
		UserStates [][]byte `json:"userStates"`
	}
	if err := json.Unmarshal(result, &reply); err != nil {
		if d.log != nil {
			d.log.Warn("dispatch: decode blob reply failed", slog.Any("err", err))
		}
		return nil
	}
	for _, wire := range reply.UserStates {
		if err := c.SendMessage(mumbleproto.MessageUserState, rawMessage(wire)); err != nil {
			return err
		}
	}
	return nil
}

// encodeForwardParams prepends the sender's session id so Hub handlers
// can attribute the action without re-deriving it from connection state
// it doesn't have (the Hub sees only the RPC connection, never the raw
// TCP client socket).
func encodeForwardParams(session uint32, payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	out[0] = byte(session >> 24)
	out[1] = byte(session >> 16)
	out[2] = byte(session >> 8)
	out[3] = byte(session)
	copy(out[4:], payload)
	return out
}

// handlePing replies immediately and folds in the client's reported
// crypto stats (§4.4 "reply, update last_ping, accept remote crypto
// stats fields").
func (d *Dispatcher) handlePing(c *clients.Client, frame mumbleproto.Frame) error {
	var ping mumbleproto.Ping
	if err := ping.Unmarshal(frame.Payload); err != nil {
		return err
	}
	if ping.Good != nil || ping.Late != nil || ping.Lost != nil || ping.Resync != nil {
		c.Crypt.SetRemoteStats(derefU32(ping.Good), derefU32(ping.Late), derefU32(ping.Lost), derefU32(ping.Resync))
	}

	stats := c.Crypt.Stats()
	return c.SendMessage(mumbleproto.MessagePing, &mumbleproto.Ping{
		Timestamp: ping.Timestamp,
		Good:      &stats.Good,
		Late:      &stats.Late,
		Lost:      &stats.Lost,
		Resync:    &stats.Resync,
	})
}

// handleCryptSetup implements §4.4's CryptSetup rule: an empty
// client_nonce requests a resync, answered with the current server
// encrypt IV; a populated 16-byte nonce installs it as the new decrypt
// IV directly.
func (d *Dispatcher) handleCryptSetup(c *clients.Client, frame mumbleproto.Frame) error {
	var setup mumbleproto.CryptSetup
	if err := setup.Unmarshal(frame.Payload); err != nil {
		return err
	}

	if len(setup.ClientNonce) == 0 {
		iv := c.Crypt.EncryptIV
		return c.SendMessage(mumbleproto.MessageCryptSetup, &mumbleproto.CryptSetup{
			ServerNonce: iv[:],
		})
	}

	if len(setup.ClientNonce) != cryptstate.KeySize {
		return fmt.Errorf("dispatch: crypt resync nonce must be %d bytes, got %d", cryptstate.KeySize, len(setup.ClientNonce))
	}
	var nonce [cryptstate.KeySize]byte
	copy(nonce[:], setup.ClientNonce)
	c.Crypt.ResyncDecryptIV(nonce)
	return nil
}

// handleVoiceTarget stores the client's target configuration locally
// and mirrors it to the Hub so it survives an Edge failover (§4.4
// "store target config locally and mirror to Hub via
// edge.syncVoiceTarget").
func (d *Dispatcher) handleVoiceTarget(ctx context.Context, c *clients.Client, frame mumbleproto.Frame) error {
	var vt mumbleproto.VoiceTarget
	if err := vt.Unmarshal(frame.Payload); err != nil {
		return err
	}
	if vt.Id == nil {
		return nil
	}

	if len(vt.Targets) == 0 {
		c.SetVoiceTarget(*vt.Id, nil)
	} else {
		entries := make([]clients.VoiceTargetChannel, 0, len(vt.Targets))
		var sessions []uint32
		for _, t := range vt.Targets {
			sessions = append(sessions, t.Session...)
			if t.ChannelId != nil {
				entries = append(entries, clients.VoiceTargetChannel{
					ChannelID: int64(*t.ChannelId),
					Group:     derefStr(t.Group),
					Links:     derefBool(t.Links),
					Children:  derefBool(t.Children),
				})
			}
		}
		c.SetVoiceTarget(*vt.Id, &clients.VoiceTarget{Sessions: sessions, Channels: entries})
	}

	params := encodeForwardParams(c.Session, frame.Payload)
	if _, err := d.rpc.Call(ctx, "edge.syncVoiceTarget", params); err != nil && d.log != nil {
		d.log.Warn("dispatch: failed to mirror voice target to hub", slog.Any("err", err))
	}
	return nil
}

// handleContextAction implements the Edge-local built-ins listed in
// §4.4; anything else is forwarded to hub.handleContextAction as a request
// (its error is returned) since the Hub owns the registered context-action
// catalog.
func (d *Dispatcher) handleContextAction(ctx context.Context, c *clients.Client, frame mumbleproto.Frame) error {
	var action mumbleproto.ContextAction
	if err := action.Unmarshal(frame.Payload); err != nil {
		return err
	}
	if action.Action == nil {
		return nil
	}

	switch *action.Action {
	case "GroupShout":
		// Toggling group-shout mode is purely a local voice-target
		// convenience; nothing to persist on the Hub.
		return nil
	default:
		params := encodeForwardParams(c.Session, frame.Payload)
		_, err := d.rpc.Call(ctx, "hub.handleContextAction", params)
		return err
	}
}

func derefU32(p *uint32) uint32 {
	if p == nil {
		return 0
	}
	return *p
}

func derefStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func derefBool(p *bool) bool {
	if p == nil {
		return false
	}
	return *p
}
