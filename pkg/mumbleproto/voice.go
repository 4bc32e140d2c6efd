package mumbleproto

import "errors"

// VoiceType identifies the codec (or ping) carried in a voice packet's
// 1-byte header (§4.2): 0/2/3 are legacy codecs accepted and forwarded
// unchanged (spec.md §9 Open Questions), 4 is Opus, 1 is the voice-plane
// ping echo.
type VoiceType uint8

const (
	VoiceCELTAlpha VoiceType = 0
	VoicePing      VoiceType = 1
	VoiceSpeex     VoiceType = 2
	VoiceCELTBeta  VoiceType = 3
	VoiceOpus      VoiceType = 4
)

// Voice target range, per §3/§4.5.
const (
	TargetCurrentChannel = 0
	TargetMin            = 1
	TargetMax            = 30
	TargetServer         = 31
)

var ErrShortVoicePacket = errors.New("mumbleproto: voice packet too short")

// SplitVoiceHeader extracts the type (3 bits) and target (5 bits) from a
// voice packet's leading header byte.
func SplitVoiceHeader(header byte) (kind VoiceType, target uint8) {
	return VoiceType((header >> 5) & 0x07), header & 0x1F
}

// BuildVoiceHeader packs a type and target back into a header byte.
func BuildVoiceHeader(kind VoiceType, target uint8) byte {
	return byte(kind)<<5 | (target & 0x1F)
}

// VoicePacket is a parsed client->server (or rewritten server->client)
// voice datagram, shared between the UDP plane and the TCP tunnel.
type VoicePacket struct {
	Kind      VoiceType
	Target    uint8
	Sequence  uint64
	Frames    []byte // codec payload following the sequence number
	RawAfterHeader []byte // original bytes after the header, for ping echo
}

// ParseClientVoicePacket parses a packet as received from a client: header
// byte, then varint(sequence) | codec_frames (or an opaque ping echo body
// for type==VoicePing).
func ParseClientVoicePacket(data []byte) (*VoicePacket, error) {
	if len(data) < 1 {
		return nil, ErrShortVoicePacket
	}
	kind, target := SplitVoiceHeader(data[0])
	rest := data[1:]

	if kind == VoicePing {
		return &VoicePacket{Kind: kind, Target: target, RawAfterHeader: rest}, nil
	}

	seq, n, err := DecodeVarint(rest)
	if err != nil {
		return nil, err
	}
	return &VoicePacket{
		Kind:     kind,
		Target:   target,
		Sequence: seq,
		Frames:   rest[n:],
	}, nil
}

// EncodeServerVoicePacket rewrites a decoded client voice packet for
// delivery to a listener: the target bits are zeroed (server->client
// packets carry no target) and the sender's session id is prepended ahead
// of the original varint(sequence)|codec payload (§4.5 "Outgoing payload
// rewrite").
func EncodeServerVoicePacket(kind VoiceType, senderSession uint32, seq uint64, frames []byte) []byte {
	header := BuildVoiceHeader(kind, 0)
	seqBytes := EncodeVarint(seq)
	sessBytes := EncodeVarint(uint64(senderSession))

	out := make([]byte, 0, 1+len(sessBytes)+len(seqBytes)+len(frames))
	out = append(out, header)
	out = append(out, sessBytes...)
	out = append(out, seqBytes...)
	out = append(out, frames...)
	return out
}

// EncodePingEcho rebuilds a ping packet for echoing back to its sender.
func EncodePingEcho(body []byte) []byte {
	out := make([]byte, 0, 1+len(body))
	out = append(out, BuildVoiceHeader(VoicePing, 0))
	out = append(out, body...)
	return out
}
