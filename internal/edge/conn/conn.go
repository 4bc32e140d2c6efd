// Package conn drives one client connection from TLS accept through
// disconnect: the Version/Authenticate handshake, session allocation via
// the Hub's `edge.join` RPC, the initial ServerSync/ChannelState/UserState
// burst, and the steady-state read loop that hands every later frame to
// internal/edge/dispatch (spec.md §4.3 "Edge client session state
// machine": handshake -> version -> authenticate -> synchronize ->
// running). Adapted from the teacher's `Client.tlsRecvLoop`, which drove
// the same state sequence inline against its own in-process channel tree
// instead of a Hub round trip.
package conn

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"

	"golang.org/x/crypto/blake2b"

	"github.com/lotlab/grumble-cluster/internal/edge/clients"
	"github.com/lotlab/grumble-cluster/internal/edge/dispatch"
	"github.com/lotlab/grumble-cluster/internal/edge/mirror"
	"github.com/lotlab/grumble-cluster/internal/edge/rpcclient"
	"github.com/lotlab/grumble-cluster/internal/edge/voice"
	"github.com/lotlab/grumble-cluster/pkg/mumbleproto"
)

// ProtocolVersionV1 and ProtocolVersionV2 are the versions this Edge
// advertises in its handshake Version message (Mumble 1.5 wire format).
const (
	ProtocolVersionV1 uint32 = (1 << 16) | (5 << 8) | 0
	ProtocolVersionV2 uint64 = (1 << 48) | (5 << 32)

	// cryptModeOCB2AES128 is the only crypto mode pkg/cryptstate
	// implements, matching the teacher's OCB2-AES128 cipher.
	cryptModeOCB2AES128 = "OCB2-AES128"
)

// Server bundles the collaborators a connection needs to join the
// cluster, so internal/edge/server.AcceptLoop's handle func can close
// over one value instead of five.
type Server struct {
	EdgeID string
	RPC    *rpcclient.Client
	Mirror *mirror.Mirror
	Router *voice.Router
	Disp   *dispatch.Dispatcher
	Log    *slog.Logger
}

// Handle drives conn from accept to disconnect. It never returns an
// error; failures at any handshake step close the connection and log.
func (s *Server) Handle(netConn net.Conn) {
	ctx := context.Background()
	c := clients.New(netConn, s.Log, func(c *clients.Client, kicked bool) {
		s.Router.UnregisterClient(c)
		if c.Session != 0 {
			params := encodeSession(c.Session)
			_, _ = s.RPC.Call(ctx, "hub.userLeft", params)
		}
	})

	certHash := certFingerprint(netConn)
	c.CertHash = certHash
	c.CertVerified = certHash != ""

	if banned, reason := s.Mirror.CheckBan(c.RemoteIP(), certHash); banned {
		if s.Log != nil {
			s.Log.Info("conn: rejected banned client", slog.String("addr", netConn.RemoteAddr().String()), slog.String("reason", reason))
		}
		c.Disconnect(true)
		return
	}

	if err := s.handshake(ctx, c); err != nil {
		if s.Log != nil {
			s.Log.Debug("conn: handshake failed", slog.Any("err", err))
		}
		c.Disconnect(false)
		return
	}

	s.serve(ctx, c)
}

// handshake performs the server-sends-first Version exchange,
// Authenticate, and the Hub's edge.join call, leaving c in StateReady
// with Session/ChannelID populated (§4.3).
func (s *Server) handshake(ctx context.Context, c *clients.Client) error {
	v1 := ProtocolVersionV1
	v2 := ProtocolVersionV2
	release := "grumble-cluster"
	version := &mumbleproto.Version{
		VersionV1:   &v1,
		VersionV2:   &v2,
		Release:     &release,
		CryptoModes: []string{cryptModeOCB2AES128},
	}
	if err := c.SendMessage(mumbleproto.MessageVersion, version); err != nil {
		return fmt.Errorf("conn: send version: %w", err)
	}
	c.SetState(clients.StateServerSentVersion)

	frame, err := c.ReadFrame()
	if err != nil {
		return fmt.Errorf("conn: read client version: %w", err)
	}
	if frame.Type != mumbleproto.MessageVersion {
		return fmt.Errorf("conn: expected Version, got message type %d", frame.Type)
	}
	c.SetState(clients.StateClientSentVersion)

	frame, err = c.ReadFrame()
	if err != nil {
		return fmt.Errorf("conn: read authenticate: %w", err)
	}
	if frame.Type != mumbleproto.MessageAuthenticate {
		return fmt.Errorf("conn: expected Authenticate, got message type %d", frame.Type)
	}
	var auth mumbleproto.Authenticate
	if err := auth.Unmarshal(frame.Payload); err != nil {
		return fmt.Errorf("conn: decode authenticate: %w", err)
	}
	username := ""
	if auth.Username != nil {
		username = *auth.Username
	}

	// Password verification (registered-user login, §4.3's "external
	// authentication collaborator") is not yet implemented; every
	// username is accepted and joins either as the matching registered
	// account or as a guest, mirroring the simplification already
	// documented on the Hub's edge.join handler.
	resp, err := s.join(ctx, username)
	if err != nil {
		reject := err.Error()
		rejectType := mumbleproto.RejectServerFull
		_ = c.SendMessage(mumbleproto.MessageReject, &mumbleproto.Reject{Type: &rejectType, Reason: &reject})
		return err
	}

	c.Session = resp.Session
	c.Username = username
	c.ChannelID = resp.ChannelID
	c.SetState(clients.StateAuthenticated)

	if err := c.Crypt.GenerateKey(); err != nil {
		return fmt.Errorf("conn: generate crypt key: %w", err)
	}
	// client_nonce seeds the IV the client uses to encrypt (matching this
	// Edge's decrypt IV); server_nonce seeds the IV the client uses to
	// decrypt (matching this Edge's encrypt IV).
	if err := c.SendMessage(mumbleproto.MessageCryptSetup, &mumbleproto.CryptSetup{
		Key:         c.Crypt.RawKey[:],
		ClientNonce: c.Crypt.DecryptIV[:],
		ServerNonce: c.Crypt.EncryptIV[:],
	}); err != nil {
		return fmt.Errorf("conn: send crypt setup: %w", err)
	}

	if err := s.sendWelcomeBurst(c); err != nil {
		return err
	}

	s.Router.RegisterClient(c)
	c.SetState(clients.StateReady)
	return nil
}

type joinResponse struct {
	Session   uint32 `json:"session"`
	UserID    int64  `json:"userId"`
	ChannelID int64  `json:"channelId"`
}

func (s *Server) join(ctx context.Context, username string) (joinResponse, error) {
	req, err := json.Marshal(struct {
		EdgeID   string `json:"edgeId"`
		Username string `json:"username"`
	}{s.EdgeID, username})
	if err != nil {
		return joinResponse{}, err
	}
	payload, err := s.RPC.Call(ctx, "edge.join", req)
	if err != nil {
		return joinResponse{}, fmt.Errorf("conn: edge.join: %w", err)
	}
	var resp joinResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return joinResponse{}, fmt.Errorf("conn: decode edge.join response: %w", err)
	}
	return resp, nil
}

// sendWelcomeBurst sends the ChannelState tree and UserState roster the
// client needs before ServerSync, followed by ServerSync itself (§4.3
// "synchronize" state), mirroring the teacher's sendChannelList +
// per-session UserState burst ahead of ServerSync.
func (s *Server) sendWelcomeBurst(c *clients.Client) error {
	for _, ch := range s.Mirror.Channels() {
		id := uint32(ch.ID)
		state := &mumbleproto.ChannelState{ChannelId: &id, Name: &ch.Name, Position: &ch.Position}
		if ch.ParentID != ch.ID {
			parent := uint32(ch.ParentID)
			state.Parent = &parent
		}
		if ch.Description != "" {
			desc := ch.Description
			state.Description = &desc
		}
		if len(ch.Links) > 0 {
			links := make([]uint32, len(ch.Links))
			for i, l := range ch.Links {
				links[i] = uint32(l)
			}
			state.Links = links
		}
		if err := c.SendMessage(mumbleproto.MessageChannelState, state); err != nil {
			return fmt.Errorf("conn: send channel state: %w", err)
		}
	}

	for _, st := range s.Mirror.Sessions() {
		sessionU32 := uint32(st.Session)
		channelU32 := uint32(st.ChannelID)
		name := st.Username
		us := &mumbleproto.UserState{Session: &sessionU32, ChannelId: &channelU32, Name: &name}
		if err := c.SendMessage(mumbleproto.MessageUserState, us); err != nil {
			return fmt.Errorf("conn: send user state: %w", err)
		}
	}

	sessionU32 := c.Session
	welcome := "Welcome to the cluster."
	if err := c.SendMessage(mumbleproto.MessageServerSync, &mumbleproto.ServerSync{
		Session:     &sessionU32,
		WelcomeText: &welcome,
	}); err != nil {
		return fmt.Errorf("conn: send server sync: %w", err)
	}
	return nil
}

// serve reads frames until the connection closes, dispatching each one.
func (s *Server) serve(ctx context.Context, c *clients.Client) {
	defer c.Disconnect(false)
	for {
		frame, err := c.ReadFrame()
		if err != nil {
			return
		}
		if frame.Type == mumbleproto.MessageUDPTunnel {
			result, err := c.Crypt.Decrypt(frame.Payload)
			if err != nil || !result.Valid {
				continue
			}
			s.Router.DispatchDecoded(c, result.Plaintext, nil, func(buf []byte, _ *net.UDPAddr) error {
				return c.SendUDPTunnel(buf)
			})
			continue
		}
		if err := s.Disp.Handle(ctx, c, frame); err != nil && s.Log != nil {
			s.Log.Debug("conn: dispatch error", slog.Any("err", err))
		}
	}
}

// certFingerprint returns the hex-encoded blake2b-256 hash of the peer's
// leaf TLS certificate, forcing the handshake early so it's available
// before any ban check (§4.3 "read peer certificate fingerprint, query ban
// cache on (ip, cert_hash)"). Returns "" if netConn isn't TLS or the client
// presented no certificate (RejectUnauthorized=false allows this).
func certFingerprint(netConn net.Conn) string {
	tlsConn, ok := netConn.(*tls.Conn)
	if !ok {
		return ""
	}
	if err := tlsConn.Handshake(); err != nil {
		return ""
	}
	certs := tlsConn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return ""
	}
	sum := blake2b.Sum256(certs[0].Raw)
	return hex.EncodeToString(sum[:])
}

func encodeSession(session uint32) []byte {
	return []byte{byte(session >> 24), byte(session >> 16), byte(session >> 8), byte(session)}
}
