// Package clusterproto is the wire envelope and typed method registry for
// the Edge<->Hub RPC channel (§4.4 "Edge<->Hub RPC"). Every call is one of
// a request, a response, or a fire-and-forget notification, multiplexed
// over a single TLS connection the way the teacher multiplexes client
// control messages over one TCP connection.
package clusterproto

import (
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// Kind distinguishes the three envelope shapes.
type Kind uint8

const (
	KindRequest Kind = iota
	KindResponse
	KindNotification
)

// Envelope is the outer frame carried over the Edge<->Hub connection,
// marshaled with the same protowire primitives as pkg/mumbleproto so the
// two protocols share one dependency, per the teacher's single
// `google.golang.org/protobuf` require.
type Envelope struct {
	Kind    Kind
	ID      string // request/response correlation id, empty for notifications
	Method  string
	Params  []byte // nested-message bytes, method-specific
	Result  []byte
	ErrCode string
	ErrMsg  string
}

// NewRequestID returns a fresh correlation id for an outbound request.
func NewRequestID() string {
	return uuid.NewString()
}

func (e *Envelope) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Kind))
	if e.ID != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, e.ID)
	}
	if e.Method != "" {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, e.Method)
	}
	if e.Params != nil {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Params)
	}
	if e.Result != nil {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Result)
	}
	if e.ErrCode != "" {
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendString(b, e.ErrCode)
	}
	if e.ErrMsg != "" {
		b = protowire.AppendTag(b, 7, protowire.BytesType)
		b = protowire.AppendString(b, e.ErrMsg)
	}
	return b
}

func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	e := &Envelope{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("clusterproto: bad tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case 1:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			e.Kind = Kind(v)
			data = data[m:]
		case 2:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			e.ID = string(v)
			data = data[m:]
		case 3:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			e.Method = string(v)
			data = data[m:]
		case 4:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			e.Params = append([]byte(nil), v...)
			data = data[m:]
		case 5:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			e.Result = append([]byte(nil), v...)
			data = data[m:]
		case 6:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			e.ErrCode = string(v)
			data = data[m:]
		case 7:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			e.ErrMsg = string(v)
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			data = data[m:]
		}
	}
	return e, nil
}

// EncodeFrame wraps a marshaled envelope in the same
// type-agnostic 4-byte length prefix used by the RPC transport (distinct
// from mumbleproto's 6-byte client frame header, since this channel
// carries only one message shape).
func EncodeFrame(e *Envelope) []byte {
	body := e.Marshal()
	out := make([]byte, 4+len(body))
	out[0] = byte(len(body) >> 24)
	out[1] = byte(len(body) >> 16)
	out[2] = byte(len(body) >> 8)
	out[3] = byte(len(body))
	copy(out[4:], body)
	return out
}

// ReadFrame inspects the 4-byte length prefix at the start of data and
// reports the total frame length once that many bytes are present; it does
// not decode the envelope (the rpcclient and rpcserver readers use
// ReadEnvelope).
func ReadFrame(data []byte) (frameLen int, ok bool) {
	if len(data) < 4 {
		return 0, false
	}
	n := int(data[0])<<24 | int(data[1])<<16 | int(data[2])<<8 | int(data[3])
	if len(data) < 4+n {
		return 0, false
	}
	return 4 + n, true
}
