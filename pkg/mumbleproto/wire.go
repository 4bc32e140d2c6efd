package mumbleproto

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// wire.go provides small helpers layered on protowire for hand-encoding
// the fixed set of Mumble control-channel messages. We don't generate full
// proto.Message/protoreflect implementations (there is no .proto source in
// this repo, and no protoc step runs as part of the build); instead each
// message type implements Marshal/Unmarshal directly against the protobuf
// wire format via google.golang.org/protobuf/encoding/protowire, the same
// low-level package the generated code itself is built on.

func appendUint32(b []byte, num protowire.Number, v *uint32) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(*v))
}

func appendInt32(b []byte, num protowire.Number, v *int32) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(uint32(*v)))
}

func appendUint64(b []byte, num protowire.Number, v *uint64) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, *v)
}

func appendBool(b []byte, num protowire.Number, v *bool) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	val := uint64(0)
	if *v {
		val = 1
	}
	return protowire.AppendVarint(b, val)
}

func appendString(b []byte, num protowire.Number, v *string) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, *v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendFloat32(b []byte, num protowire.Number, v *float32) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(*v))
}

func appendRepeatedUint32(b []byte, num protowire.Number, vs []uint32) []byte {
	for _, v := range vs {
		b = protowire.AppendTag(b, num, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v))
	}
	return b
}

func appendRepeatedInt32(b []byte, num protowire.Number, vs []int32) []byte {
	for _, v := range vs {
		b = protowire.AppendTag(b, num, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(uint32(v)))
	}
	return b
}

func appendRepeatedString(b []byte, num protowire.Number, vs []string) []byte {
	for _, v := range vs {
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendString(b, v)
	}
	return b
}

func appendRepeatedBytes(b []byte, num protowire.Number, vs [][]byte) []byte {
	for _, v := range vs {
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendBytes(b, v)
	}
	return b
}

// decodeFields walks every top-level field in data, invoking fn with the
// field number, wire type, and a decoder cursor positioned to read exactly
// one value of that type. fn must consume the value via one of the
// take* helpers below.
func decodeFields(data []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("mumbleproto: invalid tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		var valBytes []byte
		var consumed int
		switch typ {
		case protowire.VarintType:
			_, consumed = protowire.ConsumeVarint(data)
			valBytes = data[:consumed]
		case protowire.Fixed32Type:
			_, consumed = protowire.ConsumeFixed32(data)
			valBytes = data[:consumed]
		case protowire.Fixed64Type:
			_, consumed = protowire.ConsumeFixed64(data)
			valBytes = data[:consumed]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("mumbleproto: invalid bytes field: %w", protowire.ParseError(n))
			}
			valBytes = v
			consumed = n
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("mumbleproto: invalid field: %w", protowire.ParseError(n))
			}
			valBytes = nil
			consumed = n
		}
		if consumed < 0 {
			return fmt.Errorf("mumbleproto: truncated field %d", num)
		}
		if err := fn(num, typ, valBytes); err != nil {
			return err
		}
		data = data[consumed:]
	}
	return nil
}

func takeVarintUint32(v []byte) uint32 {
	n, _ := protowire.ConsumeVarint(v)
	return uint32(n)
}

func takeVarintInt32(v []byte) int32 {
	n, _ := protowire.ConsumeVarint(v)
	return int32(uint32(n))
}

func takeVarintUint64(v []byte) uint64 {
	n, _ := protowire.ConsumeVarint(v)
	return n
}

func takeVarintBool(v []byte) bool {
	n, _ := protowire.ConsumeVarint(v)
	return n != 0
}

func takeFixed32Float(v []byte) float32 {
	n, _ := protowire.ConsumeFixed32(v)
	return math.Float32frombits(n)
}

func takeBytesString(v []byte) string {
	return string(v)
}
