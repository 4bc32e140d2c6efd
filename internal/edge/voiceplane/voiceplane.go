// Package voiceplane is the cross-Edge UDP voice relay (spec.md §4.9): a
// dedicated socket per Edge, a peer registry populated from the Hub's
// `peerJoined`/`peerLeft` notifications, and an opaque binary frame
// carrying an already-rewritten voice payload plus its resolved local
// recipients to the Edge that owns them.
package voiceplane

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// Deliverer receives a frame that arrived from another Edge's voice
// plane, implemented by internal/edge/voice.Router.
type Deliverer interface {
	DeliverFromPeer(recipients []uint32, payload []byte, send func([]byte, *net.UDPAddr) error)
}

// Plane owns the Edge's dedicated cross-Edge voice socket and peer
// registry.
type Plane struct {
	log       *slog.Logger
	edgeID    string
	conn      *net.UDPConn
	deliverer Deliverer

	mu    sync.RWMutex
	peers map[string]*net.UDPAddr
}

// Listen opens the dedicated UDP socket at addr (normally
// `host:voicePort`) for cross-Edge relay traffic.
func Listen(edgeID, addr string, deliverer Deliverer, log *slog.Logger) (*Plane, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("voiceplane: resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("voiceplane: listen %s: %w", addr, err)
	}
	return &Plane{
		log:       log,
		edgeID:    edgeID,
		conn:      conn,
		deliverer: deliverer,
		peers:     make(map[string]*net.UDPAddr),
	}, nil
}

func (p *Plane) Close() error {
	return p.conn.Close()
}

func (p *Plane) LocalAddr() net.Addr {
	return p.conn.LocalAddr()
}

// PeerJoined records (or updates) another Edge's voice-plane endpoint, in
// response to a Hub `peerJoined` notification.
func (p *Plane) PeerJoined(edgeID, host string, voicePort int) error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, voicePort))
	if err != nil {
		return fmt.Errorf("voiceplane: resolve peer %s: %w", edgeID, err)
	}
	p.mu.Lock()
	p.peers[edgeID] = addr
	p.mu.Unlock()
	return nil
}

// PeerLeft drops a peer Edge's endpoint, in response to a Hub `peerLeft`
// notification.
func (p *Plane) PeerLeft(edgeID string) {
	p.mu.Lock()
	delete(p.peers, edgeID)
	p.mu.Unlock()
}

var errUnknownPeer = errors.New("voiceplane: unknown peer edge")

// SendToEdge implements internal/edge/voice.CrossEdgeSender: it encodes
// and sends one frame to edgeID's voice-plane endpoint. Loss is
// tolerated — no retransmission (§4.9).
func (p *Plane) SendToEdge(edgeID string, senderSession uint32, target uint8, recipients []uint32, payload []byte) error {
	p.mu.RLock()
	addr, ok := p.peers[edgeID]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", errUnknownPeer, edgeID)
	}

	frame := encodeFrame(p.edgeID, senderSession, target, recipients, payload)
	_, err := p.conn.WriteToUDP(frame, addr)
	return err
}

// RunRecvLoop reads frames until the socket is closed, decoding and
// dispatching each to the local deliverer.
func (p *Plane) RunRecvLoop() {
	buf := make([]byte, 65535)
	for {
		n, _, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			if p.log != nil {
				p.log.Debug("voiceplane: recv loop exiting", slog.Any("err", err))
			}
			return
		}
		senderEdgeID, _, _, recipients, payload, err := decodeFrame(buf[:n])
		if err != nil {
			if p.log != nil {
				p.log.Warn("voiceplane: dropping malformed frame", slog.Any("err", err))
			}
			continue
		}
		_ = senderEdgeID
		p.deliverer.DeliverFromPeer(recipients, payload, p.sendDatagram)
	}
}

func (p *Plane) sendDatagram(buf []byte, addr *net.UDPAddr) error {
	_, err := p.conn.WriteToUDP(buf, addr)
	return err
}

// Wire format: a length-prefixed string for the sender edge id, then
// fixed-width fields, then a length-prefixed recipient list, then the
// remaining bytes as payload. Big-endian throughout, matching the rest
// of the cluster wire formats (§4.2, pkg/clusterproto).
//
//	u16(len(edgeID)) | edgeID | u32(senderSession) | u8(target) |
//	u16(len(recipients)) | recipients[u32...] | payload
func encodeFrame(edgeID string, senderSession uint32, target uint8, recipients []uint32, payload []byte) []byte {
	size := 2 + len(edgeID) + 4 + 1 + 2 + 4*len(recipients) + len(payload)
	out := make([]byte, size)
	off := 0

	binary.BigEndian.PutUint16(out[off:], uint16(len(edgeID)))
	off += 2
	off += copy(out[off:], edgeID)

	binary.BigEndian.PutUint32(out[off:], senderSession)
	off += 4

	out[off] = target
	off++

	binary.BigEndian.PutUint16(out[off:], uint16(len(recipients)))
	off += 2
	for _, r := range recipients {
		binary.BigEndian.PutUint32(out[off:], r)
		off += 4
	}

	copy(out[off:], payload)
	return out
}

var errShortFrame = errors.New("voiceplane: frame too short")

func decodeFrame(data []byte) (edgeID string, senderSession uint32, target uint8, recipients []uint32, payload []byte, err error) {
	if len(data) < 2 {
		return "", 0, 0, nil, nil, errShortFrame
	}
	idLen := int(binary.BigEndian.Uint16(data))
	data = data[2:]
	if len(data) < idLen+4+1+2 {
		return "", 0, 0, nil, nil, errShortFrame
	}
	edgeID = string(data[:idLen])
	data = data[idLen:]

	senderSession = binary.BigEndian.Uint32(data)
	data = data[4:]

	target = data[0]
	data = data[1:]

	recipientCount := int(binary.BigEndian.Uint16(data))
	data = data[2:]
	if len(data) < recipientCount*4 {
		return "", 0, 0, nil, nil, errShortFrame
	}
	recipients = make([]uint32, recipientCount)
	for i := range recipients {
		recipients[i] = binary.BigEndian.Uint32(data)
		data = data[4:]
	}

	payload = data
	return edgeID, senderSession, target, recipients, payload, nil
}
