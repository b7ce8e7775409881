package ipc

import (
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// connectProbeTimeout bounds the liveness probe against an existing socket.
const connectProbeTimeout = 2 * time.Second

// UDSListener is the daemon side of the Unix socket transport. One client
// at a time; the dispatcher re-accepts after disconnect.
type UDSListener struct {
	ln   *net.UnixListener
	path string
}

// ListenUDS binds the per-UID socket. It refuses to start when a live
// daemon already answers on the path, unlinks a stale file otherwise, and
// sets 0660 uid:gid on the socket file.
func ListenUDS(path string, uid, gid int) (*UDSListener, error) {
	if SocketInUse(path) {
		return nil, errors.Errorf(
			"socket %s is already in use by another daemon; connect to it or stop it first", path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "removing stale socket %s", path)
	}

	// net.ListenUnix offers no backlog knob; the one-client-at-a-time
	// policy is enforced by the dispatcher, which serves each accepted
	// connection to completion before accepting the next.
	addr := &net.UnixAddr{Name: path, Net: "unix"}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "binding socket %s", path)
	}
	if err := os.Chmod(path, 0o660); err != nil {
		ln.Close()
		os.Remove(path)
		return nil, errors.Wrapf(err, "setting mode on %s", path)
	}
	if os.Geteuid() == 0 {
		if err := os.Chown(path, uid, gid); err != nil {
			ln.Close()
			os.Remove(path)
			return nil, errors.Wrapf(err, "setting ownership on %s", path)
		}
	}
	log.Infof("ipc: listening on unix socket %s", path)
	return &UDSListener{ln: ln, path: path}, nil
}

// Accept blocks for the next client connection.
func (l *UDSListener) Accept() (*Conn, error) {
	uc, err := l.ln.AcceptUnix()
	if err != nil {
		return nil, err
	}
	if pid, uid, gid, ok := peerCredentials(uc); ok {
		log.Debugf("ipc: accepted peer pid=%d uid=%d gid=%d", pid, uid, gid)
	}
	return NewConn(uc, "socket"), nil
}

// Close shuts the listener and removes the socket file.
func (l *UDSListener) Close() error {
	err := l.ln.Close()
	if rmErr := os.Remove(l.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}

func (l *UDSListener) Path() string { return l.path }

// DialUDS connects a client to an existing daemon socket.
func DialUDS(path string, timeout time.Duration) (*Conn, error) {
	nc, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to daemon socket %s", path)
	}
	return NewConn(nc, "socket"), nil
}

// SocketInUse reports whether a live server answers on path. A refused
// connection or missing file means the path is free (possibly stale).
func SocketInUse(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	nc, err := net.DialTimeout("unix", path, connectProbeTimeout)
	if err != nil {
		return false
	}
	nc.Close()
	return true
}
