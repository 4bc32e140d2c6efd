// Package clients owns the Edge's live client connections: the per-socket
// state machine, TLS framing and voice tunneling.
// Generalized from the teacher's monolithic `Client` (which held a direct
// `*Server` pointer into the same process's channel tree) into a struct
// whose only path to cluster state is through its Edge's mirror and
// rpcclient, since authoritative state now lives on the Hub (§4.3 "Edge
// client session state machine").
package clients

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/time/rate"

	"github.com/lotlab/grumble-cluster/pkg/cryptstate"
	"github.com/lotlab/grumble-cluster/pkg/mumbleproto"
)

// State is the client's handshake/session state, mirroring the teacher's
// StateClientConnected..StateClientReady sequence.
type State int

const (
	StateConnected State = iota
	StateServerSentVersion
	StateClientSentVersion
	StateAuthenticated
	StateReady
)

var ErrNotAProtoMessage = errors.New("clients: expected a mumbleproto.Message")

// Client is one Edge-terminated TLS+UDP connection.
type Client struct {
	log *slog.Logger

	conn    net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex

	udpAddr *net.UDPAddr
	udp     bool

	state State

	Session      uint32
	Username     string
	CertHash     string
	CertVerified bool
	ChannelID    int64

	Crypt cryptstate.CryptState

	lastResync   int64
	codecs       []int32
	opus         bool
	voiceTargets map[uint32]*VoiceTarget

	GlobalLimit *rate.Limiter
	PluginLimit *rate.Limiter

	mu           sync.Mutex
	disconnected bool

	onDisconnect func(c *Client, kicked bool)
}

// VoiceTarget is one of a client's 1-30 configured voice target slots
// (§3 "Voice target"), resolved against the Edge's channel mirror when
// routing.
type VoiceTarget struct {
	Sessions []uint32
	Channels []VoiceTargetChannel
}

type VoiceTargetChannel struct {
	ChannelID int64
	Group     string
	Links     bool
	Children  bool
}

// New wraps an accepted TLS connection as a Client in the initial
// connected state.
func New(conn net.Conn, logger *slog.Logger, onDisconnect func(*Client, bool)) *Client {
	return &Client{
		log:          logger,
		conn:         conn,
		reader:       bufio.NewReader(conn),
		state:        StateConnected,
		voiceTargets: make(map[uint32]*VoiceTarget),
		onDisconnect: onDisconnect,
	}
}

func (c *Client) State() State     { return c.state }
func (c *Client) SetState(s State) { c.state = s }

// SetCryptKey installs the session key and both IVs negotiated during the
// CryptSetup handshake, without copying the cryptstate.CryptState value
// (it embeds its own mutex, so callers must never assign over c.Crypt
// directly).
func (c *Client) SetCryptKey(key, encryptIV, decryptIV [cryptstate.KeySize]byte) error {
	return c.Crypt.SetKey(key, encryptIV, decryptIV)
}

// RemoteIP returns the connection's remote IP, used by the voice router to
// scope its NAT-rebinding rescan to sessions sharing the datagram's source
// address (§4.5 "iterate authenticated sessions sharing the source IP").
func (c *Client) RemoteIP() net.IP {
	addr, ok := c.conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return nil
	}
	return addr.IP
}

// VoiceTarget returns the client's configured target slot id, if any.
func (c *Client) VoiceTarget(id uint32) (*VoiceTarget, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vt, ok := c.voiceTargets[id]
	return vt, ok
}

// SetVoiceTarget installs or clears (vt == nil) a target slot, in response
// to a client's VoiceTarget control message.
func (c *Client) SetVoiceTarget(id uint32, vt *VoiceTarget) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if vt == nil {
		delete(c.voiceTargets, id)
		return
	}
	c.voiceTargets[id] = vt
}

// IsVerified reports whether the peer presented a client certificate (set
// at accept time from the certificate hash). The chain is only checked
// against a CA when the TLS listener was built to require and verify client
// certificates; this just surfaces the cached result so dispatch logic doesn't need a `*tls.Conn` type assertion on
// every call, the way the teacher's IsVerified() did inline.
func (c *Client) IsVerified() bool {
	return c.CertVerified
}

// ReadFrame reads one TCP control frame from the client.
func (c *Client) ReadFrame() (mumbleproto.Frame, error) {
	return mumbleproto.ReadFrame(c.reader)
}

// SendMessage marshals and writes a typed message frame. The teacher's
// sendMessage documented that it must only be called from the client's
// own sender goroutine since it wrote directly to an unsynchronized
// buffered writer; here writeMu makes concurrent calls safe instead,
// since the Edge's dispatcher and Hub-pushed broadcasts both write to the
// same client.
func (c *Client) SendMessage(kind mumbleproto.MessageType, msg mumbleproto.Message) error {
	frame, err := mumbleproto.EncodeMessage(kind, msg)
	if err != nil {
		return err
	}
	return c.writeRaw(frame)
}

// SendUDPTunnel sends a raw voice/ping payload wrapped in a UDPTunnel
// frame over the TCP control channel, used when the client has no
// established UDP path.
func (c *Client) SendUDPTunnel(payload []byte) error {
	return c.writeRaw(mumbleproto.EncodeFrame(mumbleproto.MessageUDPTunnel, payload))
}

func (c *Client) writeRaw(buf []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write(buf)
	return err
}

// SendUDP sends buf as an encrypted UDP datagram if the client has an
// established UDP path, tunneling over TCP otherwise (§4.3 "falls back to
// TCP tunnel").
func (c *Client) SendUDP(sendDatagram func([]byte, *net.UDPAddr) error, buf []byte) error {
	c.mu.Lock()
	udp := c.udp
	addr := c.udpAddr
	c.mu.Unlock()

	encrypted, err := c.Crypt.Encrypt(buf)
	if err != nil {
		return fmt.Errorf("clients: encrypt: %w", err)
	}
	if udp {
		return sendDatagram(encrypted, addr)
	}
	return c.SendUDPTunnel(encrypted)
}

// MarkUDPEstablished records that a voice datagram was received directly,
// switching this client off TCP tunneling.
func (c *Client) MarkUDPEstablished(addr *net.UDPAddr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.udp = true
	c.udpAddr = addr
}

func (c *Client) Disconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// Disconnect closes the connection and invokes the registered callback
// exactly once, mirroring the teacher's idempotent `disconnect(kicked
// bool)`.
func (c *Client) Disconnect(kicked bool) {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return
	}
	c.disconnected = true
	c.mu.Unlock()

	c.conn.Close()
	if c.onDisconnect != nil {
		c.onDisconnect(c, kicked)
	}
	if c.log != nil {
		c.log.Info("client disconnected", slog.Bool("kicked", kicked))
	}
}

