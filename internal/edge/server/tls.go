// Package server owns the Edge's client-facing TLS listener: certificate
// loading and the accept loop that hands each new connection to a
// caller-supplied handler. Modernized from the teacher's top-level
// tlsserver.go, whose pre-Go1 API (`log.Stderr`, `os.Error`,
// `config.Time = time.Seconds`, raw `tls.Certificate.Certificate`
// assembly) predates every supported Go toolchain; the responsibility —
// load cert/key, build a listener, bound concurrent handshakes — is kept.
package server

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"

	"golang.org/x/net/netutil"
)

// Config holds the TLS listener's certificate material and the concurrent
// handshake bound, mirroring spec.md §6 `tls.{cert,key,ca,rejectUnauthorized}`.
type Config struct {
	CertFile           string
	KeyFile            string
	CAFile             string
	RejectUnauthorized bool
	MaxConnections     int
}

// Listen loads the configured certificate and returns a TLS listener bound
// to addr, wrapped with netutil.LimitListener when MaxConnections > 0 so a
// handshake flood can't exhaust the Edge's file descriptors (the teacher's
// listener had no such bound).
func Listen(addr string, cfg Config) (net.Listener, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("server: load certificate: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if cfg.RejectUnauthorized {
		tlsConfig.ClientAuth = tls.RequireAnyClientCert
	} else {
		tlsConfig.ClientAuth = tls.RequestClientCert
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("server: read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("server: no certificates parsed from %s", cfg.CAFile)
		}
		tlsConfig.ClientCAs = pool
		if cfg.RejectUnauthorized {
			tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		}
	}

	raw, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("server: listen %s: %w", addr, err)
	}

	var limited net.Listener = raw
	if cfg.MaxConnections > 0 {
		limited = netutil.LimitListener(raw, cfg.MaxConnections)
	}

	return tls.NewListener(limited, tlsConfig), nil
}
