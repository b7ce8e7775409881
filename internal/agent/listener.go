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

// DefaultPort is the agent's default TCP port.
const DefaultPort = 5555

const tlsHandshakeTimeout = 10 * time.Second

// KeyProvider supplies the current agent auth key at handshake time, so a
// password change takes effect without restarting the daemon.
type KeyProvider func() ([]byte, error)

// Listener is the daemon side of the TCP agent transport. Accept yields a
// connection only after the hello handshake, optional TLS, and
// authentication have all succeeded.
type Listener struct {
	ln      net.Listener
	tlsConf *tls.Config
	// requireTLS refuses plaintext clients; cleared by --no-tls.
	requireTLS bool
	authKey    KeyProvider
}

// Listen binds the agent port. cert may be nil only when requireTLS is
// false (--no-tls); otherwise TLS material is mandatory.
func Listen(port int, cert *tls.Certificate, requireTLS bool, authKey KeyProvider) (*Listener, error) {
	if cert == nil && requireTLS {
		return nil, errors.New("agent mode requires TLS material unless TLS is disabled")
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, errors.Wrapf(err, "binding agent port %d", port)
	}
	l := &Listener{ln: ln, requireTLS: requireTLS, authKey: authKey}
	if cert != nil {
		l.tlsConf = &tls.Config{
			Certificates: []tls.Certificate{*cert},
			MinVersion:   tls.VersionTLS12,
		}
	}
	log.Infof("agent: listening on tcp port %d (tls=%v, required=%v)", port, cert != nil, requireTLS)
	return l, nil
}

// Accept blocks for the next fully negotiated, authenticated connection.
// A connection failing any handshake stage is closed and reported; the
// caller simply accepts again.
func (l *Listener) Accept() (*ipc.Conn, error) {
	nc, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	conn, err := l.negotiate(nc)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return conn, nil
}

func (l *Listener) negotiate(nc net.Conn) (*ipc.Conn, error) {
	log.Debugf("agent: connection from %s", nc.RemoteAddr())
	plain := ipc.NewConn(nc, "tcp")

	useTLS, err := ipc.NegotiateHello(plain, l.tlsConf != nil, l.requireTLS)
	if err != nil {
		return nil, errors.Wrapf(err, "hello handshake with %s", nc.RemoteAddr())
	}

	conn := plain
	if useTLS {
		tlsConn := tls.Server(nc, l.tlsConf)
		_ = nc.SetDeadline(time.Now().Add(tlsHandshakeTimeout))
		if err := tlsConn.Handshake(); err != nil {
			return nil, errors.Wrapf(err, "TLS handshake with %s", nc.RemoteAddr())
		}
		_ = nc.SetDeadline(time.Time{})
		conn = ipc.NewConn(tlsConn, "tls")
	}

	key, err := l.authKey()
	if err != nil {
		return nil, errors.Wrap(err, "loading agent auth key")
	}
	if err := ServerAuthenticate(conn, key); err != nil {
		return nil, errors.Wrapf(err, "authenticating %s", nc.RemoteAddr())
	}
	log.Infof("agent: authenticated connection from %s (tls=%v)", nc.RemoteAddr(), useTLS)
	return conn, nil
}

func (l *Listener) Close() error { return l.ln.Close() }

func (l *Listener) Addr() net.Addr { return l.ln.Addr() }
