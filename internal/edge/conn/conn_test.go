package conn

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net"
	"testing"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/lotlab/grumble-cluster/internal/edge/dispatch"
	"github.com/lotlab/grumble-cluster/internal/edge/mirror"
	"github.com/lotlab/grumble-cluster/internal/edge/rpcclient"
	"github.com/lotlab/grumble-cluster/internal/edge/voice"
	"github.com/lotlab/grumble-cluster/pkg/channel"
	"github.com/lotlab/grumble-cluster/pkg/clusterproto"
	"github.com/lotlab/grumble-cluster/pkg/database"
	"github.com/lotlab/grumble-cluster/pkg/mumbleproto"
	"github.com/lotlab/grumble-cluster/pkg/session"
)

// selfSignedCert generates a throwaway in-memory cert/key pair for the TLS
// handshakes in this file; cn only affects the subject since nothing here
// validates chains.
func selfSignedCert(t *testing.T, cn string) tls.Certificate {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		t.Fatal(err)
	}
	return cert
}

// startStubHub runs a minimal Hub RPC listener that replies to every
// request per a caller-supplied responder, matching the pattern already
// established in internal/edge/dispatch's tests.
func startStubHub(t *testing.T, respond func(method string, params []byte) ([]byte, string, string)) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		for {
			e, err := clusterproto.ReadEnvelope(conn)
			if err != nil {
				return
			}
			result, errCode, errMsg := respond(e.Method, e.Params)
			clusterproto.WriteEnvelope(conn, &clusterproto.Envelope{
				Kind: clusterproto.KindResponse, ID: e.ID, Result: result, ErrCode: errCode, ErrMsg: errMsg,
			})
		}
	}()
	t.Cleanup(func() { l.Close() })
	return l.Addr().String()
}

func connectedRPCClient(t *testing.T, addr string) *rpcclient.Client {
	t.Helper()
	c := rpcclient.New(addr, nil, nil)
	connected := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	go c.RunWithReconnect(ctx, func(*rpcclient.Client) error {
		close(connected)
		return nil
	})
	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("rpc client never connected")
	}
	t.Cleanup(func() {
		cancel()
		c.Close()
	})
	return c
}

func recvFrame(t *testing.T, side net.Conn) mumbleproto.Frame {
	t.Helper()
	type result struct {
		frame mumbleproto.Frame
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := mumbleproto.ReadFrame(side)
		ch <- result{f, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatalf("read frame: %v", r.err)
		}
		return r.frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return mumbleproto.Frame{}
	}
}

func sendFrame(t *testing.T, side net.Conn, kind mumbleproto.MessageType, msg mumbleproto.Message) {
	t.Helper()
	frame, err := mumbleproto.EncodeMessage(kind, msg)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := side.Write(frame); err != nil {
		t.Fatal(err)
	}
}

// TestHandshakeFullSequence drives Server.Handle over a net.Pipe end to
// end: Version exchange, Authenticate, a stubbed edge.join response,
// CryptSetup, and the ChannelState/UserState/ServerSync welcome burst
// (spec.md §4.3).
func TestHandshakeFullSequence(t *testing.T) {
	serverSide, testSide := net.Pipe()
	defer testSide.Close()

	addr := startStubHub(t, func(method string, params []byte) ([]byte, string, string) {
		if method == "edge.join" {
			result, _ := json.Marshal(struct {
				Session   uint32 `json:"session"`
				UserID    int64  `json:"userId"`
				ChannelID int64  `json:"channelId"`
			}{Session: 42, UserID: 0, ChannelID: 0})
			return result, "", ""
		}
		return nil, "", ""
	})
	rpc := connectedRPCClient(t, addr)

	m := mirror.New()
	m.PutChannel(&channel.Channel{ID: 0, ParentID: 0, Name: "Root"})
	m.PutSession(&session.State{Session: 99, Username: "bob", ChannelID: 0})

	router := voice.NewRouter("edge-a", m, nil, nil)
	disp := dispatch.New("edge-a", rpc, m, router, nil)

	s := &Server{EdgeID: "edge-a", RPC: rpc, Mirror: m, Router: router, Disp: disp}
	go s.Handle(serverSide)

	// Server sends Version first.
	versionFrame := recvFrame(t, testSide)
	if versionFrame.Type != mumbleproto.MessageVersion {
		t.Fatalf("got frame type %v, want Version", versionFrame.Type)
	}

	// Client replies with its own Version, then Authenticate.
	v1 := uint32(1<<16 | 5<<8)
	sendFrame(t, testSide, mumbleproto.MessageVersion, &mumbleproto.Version{VersionV1: &v1})

	username := "alice"
	sendFrame(t, testSide, mumbleproto.MessageAuthenticate, &mumbleproto.Authenticate{Username: &username})

	cryptFrame := recvFrame(t, testSide)
	if cryptFrame.Type != mumbleproto.MessageCryptSetup {
		t.Fatalf("got frame type %v, want CryptSetup", cryptFrame.Type)
	}
	var setup mumbleproto.CryptSetup
	if err := setup.Unmarshal(cryptFrame.Payload); err != nil {
		t.Fatal(err)
	}
	if len(setup.Key) == 0 {
		t.Fatal("expected a crypt key in CryptSetup")
	}

	channelFrame := recvFrame(t, testSide)
	if channelFrame.Type != mumbleproto.MessageChannelState {
		t.Fatalf("got frame type %v, want ChannelState", channelFrame.Type)
	}

	userFrame := recvFrame(t, testSide)
	if userFrame.Type != mumbleproto.MessageUserState {
		t.Fatalf("got frame type %v, want UserState", userFrame.Type)
	}
	var us mumbleproto.UserState
	if err := us.Unmarshal(userFrame.Payload); err != nil {
		t.Fatal(err)
	}
	if us.Session == nil || *us.Session != 99 {
		t.Fatalf("expected roster burst for session 99, got %+v", us.Session)
	}

	syncFrame := recvFrame(t, testSide)
	if syncFrame.Type != mumbleproto.MessageServerSync {
		t.Fatalf("got frame type %v, want ServerSync", syncFrame.Type)
	}
	var ss mumbleproto.ServerSync
	if err := ss.Unmarshal(syncFrame.Payload); err != nil {
		t.Fatal(err)
	}
	if ss.Session == nil || *ss.Session != 42 {
		t.Fatalf("expected ServerSync session 42, got %v", ss.Session)
	}
}

// TestHandshakeJoinRejectedSendsReject confirms a failed edge.join is
// translated into a Reject frame instead of leaving the client hanging.
func TestHandshakeJoinRejectedSendsReject(t *testing.T) {
	serverSide, testSide := net.Pipe()
	defer testSide.Close()

	addr := startStubHub(t, func(method string, params []byte) ([]byte, string, string) {
		if method == "edge.join" {
			return nil, "full", "server is full"
		}
		return nil, "", ""
	})
	rpc := connectedRPCClient(t, addr)

	m := mirror.New()
	router := voice.NewRouter("edge-a", m, nil, nil)
	disp := dispatch.New("edge-a", rpc, m, router, nil)

	s := &Server{EdgeID: "edge-a", RPC: rpc, Mirror: m, Router: router, Disp: disp}
	go s.Handle(serverSide)

	recvFrame(t, testSide) // Version

	v1 := uint32(1<<16 | 5<<8)
	sendFrame(t, testSide, mumbleproto.MessageVersion, &mumbleproto.Version{VersionV1: &v1})
	username := "alice"
	sendFrame(t, testSide, mumbleproto.MessageAuthenticate, &mumbleproto.Authenticate{Username: &username})

	reject := recvFrame(t, testSide)
	if reject.Type != mumbleproto.MessageReject {
		t.Fatalf("got frame type %v, want Reject", reject.Type)
	}
}

// TestHandleRejectsBannedCertHash drives a real TLS handshake so the peer
// certificate fingerprint computed in certFingerprint is the client's
// actual certificate, then confirms a ban on that fingerprint drops the
// connection before any Version frame is sent (spec.md §4.3 "On accept,
// perform TLS, read peer certificate fingerprint, query ban cache on (ip,
// cert_hash); if banned, drop").
func TestHandleRejectsBannedCertHash(t *testing.T) {
	serverCert := selfSignedCert(t, "edge")
	clientCert := selfSignedCert(t, "client")

	l, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{
		Certificates: []tls.Certificate{serverCert},
		ClientAuth:   tls.RequireAnyClientCert,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	sum := blake2b.Sum256(clientCert.Certificate[0])
	expectedHash := hex.EncodeToString(sum[:])

	m := mirror.New()
	m.LoadBans([]database.Ban{{Hash: []byte(expectedHash), Start: time.Now()}})

	router := voice.NewRouter("edge-a", m, nil, nil)
	disp := dispatch.New("edge-a", nil, m, router, nil)
	s := &Server{EdgeID: "edge-a", Mirror: m, Router: router, Disp: disp}

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := l.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	// The TLS handshake needs both ends driven concurrently: dialing here
	// blocks on the handshake, which only completes once Handle (below)
	// reads the accepted conn and forces it via certFingerprint.
	type dialResult struct {
		conn *tls.Conn
		err  error
	}
	dialCh := make(chan dialResult, 1)
	go func() {
		c, err := tls.Dial("tcp", l.Addr().String(), &tls.Config{
			Certificates:       []tls.Certificate{clientCert},
			InsecureSkipVerify: true,
		})
		dialCh <- dialResult{c, err}
	}()

	var serverConn net.Conn
	select {
	case serverConn = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accepted connection")
	}

	go s.Handle(serverConn)

	var clientConn *tls.Conn
	select {
	case r := <-dialCh:
		if r.err != nil {
			t.Fatal(r.err)
		}
		clientConn = r.conn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client dial")
	}
	defer clientConn.Close()

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := clientConn.Read(buf); err == nil {
		t.Fatal("expected banned client's connection to be closed without a Version frame")
	}
}
