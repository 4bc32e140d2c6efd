package voiceplane

import (
	"net"
	"reflect"
	"testing"
	"time"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	frame := encodeFrame("edge-a", 42, 5, []uint32{1, 2, 3}, []byte("voice-payload"))

	edgeID, senderSession, target, recipients, payload, err := decodeFrame(frame)
	if err != nil {
		t.Fatal(err)
	}
	if edgeID != "edge-a" || senderSession != 42 || target != 5 {
		t.Fatalf("got edgeID=%q senderSession=%d target=%d", edgeID, senderSession, target)
	}
	if !reflect.DeepEqual(recipients, []uint32{1, 2, 3}) {
		t.Fatalf("got recipients %v", recipients)
	}
	if string(payload) != "voice-payload" {
		t.Fatalf("got payload %q", payload)
	}
}

func TestDecodeFrameRejectsShortInput(t *testing.T) {
	if _, _, _, _, _, err := decodeFrame([]byte{0, 1}); err == nil {
		t.Fatal("expected error decoding a truncated frame")
	}
}

func TestSendToEdgeFailsForUnknownPeer(t *testing.T) {
	p, err := Listen("edge-a", "127.0.0.1:0", &recordingDeliverer{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	err = p.SendToEdge("edge-b", 1, 0, nil, []byte("x"))
	if err == nil {
		t.Fatal("expected error sending to an unregistered peer")
	}
}

type recordingDeliverer struct {
	recipients []uint32
	payload    []byte
	got        chan struct{}
}

func (d *recordingDeliverer) DeliverFromPeer(recipients []uint32, payload []byte, send func([]byte, *net.UDPAddr) error) {
	d.recipients = recipients
	d.payload = payload
	if d.got != nil {
		close(d.got)
	}
}

func TestSendToEdgeDeliversAcrossSockets(t *testing.T) {
	receiverDeliverer := &recordingDeliverer{got: make(chan struct{})}
	receiver, err := Listen("edge-b", "127.0.0.1:0", receiverDeliverer, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer receiver.Close()
	go receiver.RunRecvLoop()

	sender, err := Listen("edge-a", "127.0.0.1:0", &recordingDeliverer{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer sender.Close()

	receiverAddr := receiver.LocalAddr().(*net.UDPAddr)
	if err := sender.PeerJoined("edge-b", receiverAddr.IP.String(), receiverAddr.Port); err != nil {
		t.Fatal(err)
	}

	if err := sender.SendToEdge("edge-b", 7, 0, []uint32{99}, []byte("hello")); err != nil {
		t.Fatal(err)
	}

	select {
	case <-receiverDeliverer.got:
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not get the frame")
	}
	if len(receiverDeliverer.recipients) != 1 || receiverDeliverer.recipients[0] != 99 {
		t.Fatalf("got recipients %v", receiverDeliverer.recipients)
	}
	if string(receiverDeliverer.payload) != "hello" {
		t.Fatalf("got payload %q", receiverDeliverer.payload)
	}
}

func TestPeerLeftRemovesEndpoint(t *testing.T) {
	p, err := Listen("edge-a", "127.0.0.1:0", &recordingDeliverer{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if err := p.PeerJoined("edge-b", "127.0.0.1", 9999); err != nil {
		t.Fatal(err)
	}
	p.PeerLeft("edge-b")

	if err := p.SendToEdge("edge-b", 1, 0, nil, []byte("x")); err == nil {
		t.Fatal("expected error after peer left")
	}
}
