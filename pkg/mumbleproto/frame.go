package mumbleproto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameLength is the largest payload the wire format permits; a length
// prefix beyond this drops the connection (§4.2).
const MaxFrameLength = 10 * 1024 * 1024

// ErrFrameTooLarge is returned by ReadFrame when the advertised length
// exceeds MaxFrameLength.
var ErrFrameTooLarge = errors.New("mumbleproto: frame exceeds maximum length")

// Frame is one decoded TCP control-channel frame: a type tag and its raw
// payload bytes (not yet unmarshaled into a typed Message).
type Frame struct {
	Type    MessageType
	Payload []byte
}

// EncodeFrame serializes kind and an already-marshaled payload into the
// wire frame: type:u16be | length:u32be | payload.
func EncodeFrame(kind MessageType, payload []byte) []byte {
	buf := make([]byte, 6+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(kind))
	binary.BigEndian.PutUint32(buf[2:6], uint32(len(payload)))
	copy(buf[6:], payload)
	return buf
}

// EncodeMessage marshals msg and wraps it in a frame.
func EncodeMessage(kind MessageType, msg Message) ([]byte, error) {
	payload, err := msg.Marshal()
	if err != nil {
		return nil, fmt.Errorf("mumbleproto: marshal %v: %w", kind, err)
	}
	return EncodeFrame(kind, payload), nil
}

// ReadFrame reads exactly one frame from r, rejecting oversized frames
// before reading the body.
func ReadFrame(r io.Reader) (Frame, error) {
	var header [6]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, err
	}
	kind := MessageType(binary.BigEndian.Uint16(header[0:2]))
	length := binary.BigEndian.Uint32(header[2:6])
	if length > MaxFrameLength {
		return Frame{}, ErrFrameTooLarge
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, err
	}
	return Frame{Type: kind, Payload: payload}, nil
}

// NewMessage allocates a zero-valued Message for the given type, or nil if
// the type is unrecognized.
func NewMessage(kind MessageType) Message {
	switch kind {
	case MessageVersion:
		return &Version{}
	case MessageAuthenticate:
		return &Authenticate{}
	case MessagePing:
		return &Ping{}
	case MessageReject:
		return &Reject{}
	case MessageServerSync:
		return &ServerSync{}
	case MessageChannelRemove:
		return &ChannelRemove{}
	case MessageChannelState:
		return &ChannelState{}
	case MessageUserRemove:
		return &UserRemove{}
	case MessageUserState:
		return &UserState{}
	case MessageBanList:
		return &BanList{}
	case MessageTextMessage:
		return &TextMessage{}
	case MessagePermissionDenied:
		return &PermissionDenied{}
	case MessageACL:
		return &ACL{}
	case MessageQueryUsers:
		return &QueryUsers{}
	case MessageCryptSetup:
		return &CryptSetup{}
	case MessageContextActionModify:
		return &ContextActionModify{}
	case MessageContextAction:
		return &ContextAction{}
	case MessageUserList:
		return &UserList{}
	case MessageVoiceTarget:
		return &VoiceTarget{}
	case MessagePermissionQuery:
		return &PermissionQuery{}
	case MessageCodecVersion:
		return &CodecVersion{}
	case MessageUserStats:
		return &UserStats{}
	case MessageRequestBlob:
		return &RequestBlob{}
	case MessageServerConfig:
		return &ServerConfig{}
	case MessageSuggestConfig:
		return &SuggestConfig{}
	case MessagePluginDataTransmission:
		return &PluginDataTransmission{}
	default:
		return nil
	}
}

// DecodeFrame unmarshals a Frame's payload into its typed Message. The
// caller must special-case MessageUDPTunnel, whose payload is an opaque
// voice packet, not a protobuf message.
func DecodeFrame(f Frame) (Message, error) {
	msg := NewMessage(f.Type)
	if msg == nil {
		return nil, fmt.Errorf("mumbleproto: unknown message type %d", f.Type)
	}
	if err := msg.Unmarshal(f.Payload); err != nil {
		return nil, fmt.Errorf("mumbleproto: unmarshal %v: %w", f.Type, err)
	}
	return msg, nil
}
