package agent

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/zfdash/zfdash/internal/ipc"
)

// DialTimeout is the default bound on the TCP connect. The hello, TLS and
// auth handshakes each apply their own timeouts.
const DialTimeout = 30 * time.Second

// Dial connects to a remote agent: hello handshake, TLS with TOFU pinning
// when negotiated, then authentication. tlsActive reports whether the final
// transport is encrypted.
func Dial(host string, port int, password string, useTLS bool, trust *TrustStore, timeout time.Duration) (conn *ipc.Conn, tlsActive bool, err error) {
	if timeout <= 0 {
		timeout = DialTimeout
	}
	addr := fmt.Sprintf("%s:%d", host, port)
	nc, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, false, errors.Wrapf(err, "connecting to agent %s", addr)
	}
	defer func() {
		if err != nil {
			nc.Close()
		}
	}()

	plain := ipc.NewConn(nc, "tcp")
	reply, err := ipc.SendHello(plain, useTLS)
	if err != nil {
		return nil, false, err
	}

	conn = plain
	switch reply.Action {
	case ipc.ActionTLSAccept:
		// Self-signed server: verification is the TOFU pin, not a CA chain.
		tlsConn := tls.Client(nc, &tls.Config{
			InsecureSkipVerify: true,
			MinVersion:         tls.VersionTLS12,
		})
		_ = nc.SetDeadline(time.Now().Add(tlsHandshakeTimeout))
		if err := tlsConn.Handshake(); err != nil {
			return nil, false, errors.Wrapf(err, "TLS handshake with %s", addr)
		}
		_ = nc.SetDeadline(time.Time{})

		peers := tlsConn.ConnectionState().PeerCertificates
		if len(peers) == 0 {
			return nil, false, errors.Errorf("agent %s presented no certificate", addr)
		}
		if err := trust.Verify(host, port, peers[0].Raw); err != nil {
			return nil, false, err
		}
		conn = ipc.NewConn(tlsConn, "tls")
		tlsActive = true
	case ipc.ActionPlainAccept:
		log.Warnf("agent: connection to %s is NOT encrypted", addr)
	default:
		return nil, false, &ipc.NegotiationError{Code: reply.Code}
	}

	if err := ClientAuthenticate(conn, password); err != nil {
		return nil, false, err
	}
	return conn, tlsActive, nil
}
