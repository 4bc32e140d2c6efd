package voice

import (
	"fmt"
	"log/slog"
	"net"
)

// Listener owns the Edge's public client-facing UDP socket — where real
// Mumble clients send and receive voice datagrams, as distinct from
// internal/edge/voiceplane's cross-Edge relay socket (§4.2 "UDP on the
// same port for voice").
type Listener struct {
	log    *slog.Logger
	router *Router
	conn   *net.UDPConn
}

// Listen opens the client-facing voice socket at addr (normally
// `host:port`, the same port number as the TLS control listener).
func Listen(addr string, router *Router, log *slog.Logger) (*Listener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("voice: resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("voice: listen %s: %w", addr, err)
	}
	return &Listener{log: log, router: router, conn: conn}, nil
}

func (l *Listener) Close() error {
	return l.conn.Close()
}

func (l *Listener) LocalAddr() net.Addr {
	return l.conn.LocalAddr()
}

// RunRecvLoop reads datagrams until the socket is closed, handing each
// one to the router for session resolution and dispatch.
func (l *Listener) RunRecvLoop() {
	buf := make([]byte, 65535)
	for {
		n, addr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if l.log != nil {
				l.log.Debug("voice: client recv loop exiting", slog.Any("err", err))
			}
			return
		}
		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		l.router.HandleIncoming(datagram, addr, l.sendDatagram)
	}
}

func (l *Listener) sendDatagram(buf []byte, addr *net.UDPAddr) error {
	_, err := l.conn.WriteToUDP(buf, addr)
	return err
}
