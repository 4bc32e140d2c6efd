package voice

import (
	"net"
	"testing"

	"github.com/lotlab/grumble-cluster/internal/edge/clients"
	"github.com/lotlab/grumble-cluster/internal/edge/mirror"
	"github.com/lotlab/grumble-cluster/pkg/acl"
	"github.com/lotlab/grumble-cluster/pkg/channel"
	"github.com/lotlab/grumble-cluster/pkg/cryptstate"
	"github.com/lotlab/grumble-cluster/pkg/mumbleproto"
	"github.com/lotlab/grumble-cluster/pkg/session"
)

// pairedCrypt returns two CryptStates configured so a sends encrypt and b
// can decrypt, and vice versa (mirroring a client and the Edge's copy of
// the same session key).
func pairedCrypt(t *testing.T) (client, edge *cryptstate.CryptState) {
	t.Helper()
	client = cryptstate.New()
	if err := client.GenerateKey(); err != nil {
		t.Fatal(err)
	}
	edge = cryptstate.New()
	// The Edge's decrypt IV must equal the client's encrypt IV, and vice
	// versa, matching the real CryptSetup handshake (§4.2).
	if err := edge.SetKey(client.RawKey, client.DecryptIV, client.EncryptIV); err != nil {
		t.Fatal(err)
	}
	return client, edge
}

func newTestClient(t *testing.T, sessionID uint32, remoteIP string) (*clients.Client, *cryptstate.CryptState) {
	t.Helper()
	clientCrypt, edgeCrypt := pairedCrypt(t)

	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })

	fake := &fakeAddrConn{Conn: b, remote: &net.TCPAddr{IP: net.ParseIP(remoteIP), Port: 9000 + int(sessionID)}}
	c := clients.New(fake, nil, nil)
	c.Session = sessionID
	if err := c.SetCryptKey(edgeCrypt.RawKey, edgeCrypt.EncryptIV, edgeCrypt.DecryptIV); err != nil {
		t.Fatal(err)
	}
	// Mark UDP established up front so outgoing SendUDP calls in tests go
	// through the `send` callback instead of blocking on a TCP tunnel
	// write into an unread net.Pipe.
	c.MarkUDPEstablished(&net.UDPAddr{IP: net.ParseIP(remoteIP), Port: 9000 + int(sessionID)})
	return c, clientCrypt
}

// fakeAddrConn overrides RemoteAddr since net.Pipe's endpoints have no
// meaningful address.
type fakeAddrConn struct {
	net.Conn
	remote net.Addr
}

func (f *fakeAddrConn) RemoteAddr() net.Addr { return f.remote }

func encryptClientVoice(t *testing.T, crypt *cryptstate.CryptState, target uint8, seq uint64, frames []byte) []byte {
	t.Helper()
	header := mumbleproto.BuildVoiceHeader(mumbleproto.VoiceOpus, target)
	plaintext := append([]byte{header}, mumbleproto.EncodeVarint(seq)...)
	plaintext = append(plaintext, frames...)
	out, err := crypt.Encrypt(plaintext)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestExpandVoiceTargetFiltersChannelByGroup(t *testing.T) {
	m := mirror.New()
	m.PutChannel(&channel.Channel{ID: 0})
	m.PutChannel(&channel.Channel{ID: 5, ParentID: 0})
	m.PutGroups(5, []acl.Group{{ChannelID: 5, Name: "friends", Add: []int64{42}}})

	m.PutSession(&session.State{Session: 10, ChannelID: 5, UserID: 42, EdgeID: "edge-a"}) // friend
	m.PutSession(&session.State{Session: 11, ChannelID: 5, UserID: 99, EdgeID: "edge-a"}) // not a friend

	r := NewRouter("edge-a", m, nil, nil)
	vt := &clients.VoiceTarget{Channels: []clients.VoiceTargetChannel{{ChannelID: 5, Group: "friends"}}}

	got := r.expandVoiceTarget(vt, session.ID(1))
	if len(got) != 1 || got[0] != 10 {
		t.Fatalf("expected only session 10 (group member), got %v", got)
	}
}

func TestHandleIncomingDeliversToChannelListener(t *testing.T) {
	m := mirror.New()
	sender, senderClientCrypt := newTestClient(t, 1, "10.0.0.1")
	listener, _ := newTestClient(t, 2, "10.0.0.2")

	m.PutSession(&session.State{Session: 1, ChannelID: 5, EdgeID: "edge-a"})
	m.PutSession(&session.State{Session: 2, ChannelID: 5, EdgeID: "edge-a"})

	r := NewRouter("edge-a", m, nil, nil)
	r.RegisterClient(sender)
	r.RegisterClient(listener)

	src := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 9001}
	data := encryptClientVoice(t, senderClientCrypt, 0, 7, []byte("opus-frame"))

	var delivered []byte
	var deliveredAddr *net.UDPAddr
	send := func(buf []byte, addr *net.UDPAddr) error {
		delivered = buf
		deliveredAddr = addr
		return nil
	}

	r.HandleIncoming(data, src, send)

	if delivered == nil {
		t.Fatal("expected a datagram to be sent to the listener")
	}
	_ = deliveredAddr
}

func TestHandleIncomingDropsSuppressedSender(t *testing.T) {
	m := mirror.New()
	sender, senderClientCrypt := newTestClient(t, 1, "10.0.0.1")
	listener, _ := newTestClient(t, 2, "10.0.0.2")

	m.PutSession(&session.State{Session: 1, ChannelID: 5, Suppress: true, EdgeID: "edge-a"})
	m.PutSession(&session.State{Session: 2, ChannelID: 5, EdgeID: "edge-a"})

	r := NewRouter("edge-a", m, nil, nil)
	r.RegisterClient(sender)
	r.RegisterClient(listener)

	src := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 9001}
	data := encryptClientVoice(t, senderClientCrypt, 0, 1, []byte("x"))

	called := false
	send := func(buf []byte, addr *net.UDPAddr) error { called = true; return nil }

	r.HandleIncoming(data, src, send)
	if called {
		t.Fatal("suppressed sender's packet should not be delivered")
	}
}

func TestHandleIncomingForwardsToRemoteEdge(t *testing.T) {
	m := mirror.New()
	sender, senderClientCrypt := newTestClient(t, 1, "10.0.0.1")

	m.PutSession(&session.State{Session: 1, ChannelID: 5, EdgeID: "edge-a"})
	m.PutSession(&session.State{Session: 2, ChannelID: 5, EdgeID: "edge-b"})

	cross := &recordingCross{}
	r := NewRouter("edge-a", m, cross, nil)
	r.RegisterClient(sender)

	src := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 9001}
	data := encryptClientVoice(t, senderClientCrypt, 0, 1, []byte("x"))

	r.HandleIncoming(data, src, func([]byte, *net.UDPAddr) error { return nil })

	if len(cross.calls) != 1 || cross.calls[0] != "edge-b" {
		t.Fatalf("expected one forward to edge-b, got %v", cross.calls)
	}
}

type recordingCross struct {
	calls []string
}

func (r *recordingCross) SendToEdge(edgeID string, senderSession uint32, target uint8, recipients []uint32, payload []byte) error {
	r.calls = append(r.calls, edgeID)
	return nil
}

func TestHandleIncomingEchoesPing(t *testing.T) {
	m := mirror.New()
	sender, senderClientCrypt := newTestClient(t, 1, "10.0.0.1")
	m.PutSession(&session.State{Session: 1, ChannelID: 5, EdgeID: "edge-a"})

	r := NewRouter("edge-a", m, nil, nil)
	r.RegisterClient(sender)

	header := mumbleproto.BuildVoiceHeader(mumbleproto.VoicePing, 0)
	plaintext := append([]byte{header}, []byte("echo-body")...)
	data, err := senderClientCrypt.Encrypt(plaintext)
	if err != nil {
		t.Fatal(err)
	}

	src := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 9001}
	var gotAddr *net.UDPAddr
	var gotBuf []byte
	send := func(buf []byte, addr *net.UDPAddr) error {
		gotBuf = buf
		gotAddr = addr
		return nil
	}

	r.HandleIncoming(data, src, send)

	if gotAddr != src {
		t.Fatalf("expected ping echoed back to source addr, got %v", gotAddr)
	}
	result, err := senderClientCrypt.Decrypt(gotBuf)
	if err != nil || !result.Valid {
		t.Fatalf("echoed ping should decrypt with the client-side crypt: %v %v", result, err)
	}
}

func TestUnregisterClientClearsMapping(t *testing.T) {
	m := mirror.New()
	sender, senderClientCrypt := newTestClient(t, 1, "10.0.0.1")
	m.PutSession(&session.State{Session: 1, ChannelID: 5, EdgeID: "edge-a"})

	r := NewRouter("edge-a", m, nil, nil)
	r.RegisterClient(sender)

	src := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 9001}
	data := encryptClientVoice(t, senderClientCrypt, 0, 1, []byte("x"))
	r.HandleIncoming(data, src, func([]byte, *net.UDPAddr) error { return nil })

	r.mu.RLock()
	_, ok := r.byAddr[src.String()]
	r.mu.RUnlock()
	if !ok {
		t.Fatal("expected endpoint mapping installed")
	}

	r.UnregisterClient(sender)
	r.mu.RLock()
	_, ok = r.byAddr[src.String()]
	r.mu.RUnlock()
	if ok {
		t.Fatal("expected endpoint mapping cleared on unregister")
	}
}

func TestDeliverFromPeerFansOutToLocalRecipients(t *testing.T) {
	m := mirror.New()
	listener, _ := newTestClient(t, 9, "10.0.0.9")

	r := NewRouter("edge-b", m, nil, nil)
	r.RegisterClient(listener)

	delivered := false
	send := func(buf []byte, addr *net.UDPAddr) error { delivered = true; return nil }

	r.DeliverFromPeer([]uint32{9, 404}, []byte("payload"), send)
	if !delivered {
		t.Fatal("expected local recipient 9 to receive the payload")
	}
}
