package mumbleproto

import (
	"bytes"
	"testing"
)

func TestVoiceHeaderRoundTrip(t *testing.T) {
	header := BuildVoiceHeader(VoiceOpus, 5)
	kind, target := SplitVoiceHeader(header)
	if kind != VoiceOpus || target != 5 {
		t.Fatalf("got kind=%v target=%d", kind, target)
	}
}

func TestParseClientVoicePacket(t *testing.T) {
	frame := append([]byte{BuildVoiceHeader(VoiceOpus, TargetCurrentChannel)}, EncodeVarint(5)...)
	frame = append(frame, []byte("opus-frame-bytes")...)

	pkt, err := ParseClientVoicePacket(frame)
	if err != nil {
		t.Fatal(err)
	}
	if pkt.Kind != VoiceOpus || pkt.Target != TargetCurrentChannel || pkt.Sequence != 5 {
		t.Fatalf("unexpected parse: %+v", pkt)
	}
	if !bytes.Equal(pkt.Frames, []byte("opus-frame-bytes")) {
		t.Fatalf("frames mismatch: %s", pkt.Frames)
	}
}

func TestEncodeServerVoicePacketMatchesScenario(t *testing.T) {
	// Scenario from spec.md §8: alice (session 1) sends target=0 seq=5.
	// bob receives header 0x80 (type=4 target=0), payload
	// varint(1) | varint(5) | opus-frame.
	out := EncodeServerVoicePacket(VoiceOpus, 1, 5, []byte("opus-frame"))
	if out[0] != 0x80 {
		t.Fatalf("header byte = 0x%02x, want 0x80", out[0])
	}
	sess, n, err := DecodeVarint(out[1:])
	if err != nil || sess != 1 {
		t.Fatalf("sender session decode failed: %d %v", sess, err)
	}
	seq, n2, err := DecodeVarint(out[1+n:])
	if err != nil || seq != 5 {
		t.Fatalf("sequence decode failed: %d %v", seq, err)
	}
	if !bytes.Equal(out[1+n+n2:], []byte("opus-frame")) {
		t.Fatalf("frame payload mismatch: %s", out[1+n+n2:])
	}
}
