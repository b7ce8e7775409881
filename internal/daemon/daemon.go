// Package daemon is the privileged dispatch core: it accepts connections on
// the configured transport, reads JSON-line requests, and executes them on a
// bounded worker pool.
package daemon

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	sd "github.com/coreos/go-systemd/v22/daemon"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/zfdash/zfdash/internal/agent"
	"github.com/zfdash/zfdash/internal/config"
	"github.com/zfdash/zfdash/internal/ipc"
	"github.com/zfdash/zfdash/internal/paths"
	"github.com/zfdash/zfdash/internal/runner"
	"github.com/zfdash/zfdash/internal/zfs"
)

// Transport selects how the daemon talks to its clients.
type Transport string

const (
	TransportPipe   Transport = "pipe"
	TransportSocket Transport = "socket"
	TransportAgent  Transport = "agent"
)

const (
	maxWorkers    = 8
	shutdownGrace = 10 * time.Second
)

// Options configure a daemon instance.
type Options struct {
	UID int
	GID int

	Transport  Transport
	SocketPath string // socket mode; defaults to the canonical per-UID path
	AgentPort  int    // agent mode
	NoTLS      bool   // agent mode: permit plaintext transport

	// Manager overrides the default zfs manager (tests inject a spy runner).
	Manager *zfs.Manager
	// CredentialsPath overrides the system credentials store location.
	CredentialsPath string
}

// Daemon owns the dispatch loop and its shared state. No globals: every
// dependency is threaded through here.
type Daemon struct {
	opts     Options
	settings config.Settings
	creds    *config.CredentialStore
	manager  *zfs.Manager

	sem chan struct{}
	wg  sync.WaitGroup

	mu         sync.Mutex
	activeConn *ipc.Conn
	shutdown   chan struct{}
	once       sync.Once
}

// New assembles a daemon from options.
func New(opts Options) *Daemon {
	if opts.SocketPath == "" {
		opts.SocketPath = paths.SocketPath(opts.UID)
	}
	if opts.AgentPort == 0 {
		opts.AgentPort = agent.DefaultPort
	}
	settings := config.LoadSettings("")
	manager := opts.Manager
	if manager == nil {
		manager = zfs.NewManager(runner.New(settings.CommandTimeout()))
	}
	return &Daemon{
		opts:     opts,
		settings: settings,
		creds:    config.NewCredentialStore(opts.CredentialsPath),
		manager:  manager,
		sem:      make(chan struct{}, maxWorkers),
		shutdown: make(chan struct{}),
	}
}

// Run executes the daemon until EOF (pipe mode) or shutdown.
func (d *Daemon) Run() error {
	log.Infof("daemon: starting (transport=%s uid=%d gid=%d)", d.opts.Transport, d.opts.UID, d.opts.GID)

	if err := d.creds.CreateDefaultIfMissing(); err != nil {
		log.Warnf("daemon: cannot provision default credentials: %v", err)
	}
	if err := config.EnsureSecretKey(d.opts.GID); err != nil {
		log.Warnf("daemon: cannot provision session key: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		s := <-sigCh
		log.Infof("daemon: received %v, shutting down", s)
		d.beginShutdown()
	}()

	var err error
	switch d.opts.Transport {
	case TransportPipe:
		err = d.runPipe()
	case TransportSocket:
		err = d.runSocket()
	case TransportAgent:
		err = d.runAgent()
	default:
		err = errors.Errorf("unknown transport %q", d.opts.Transport)
	}

	d.drainWorkers()
	log.Info("daemon: exiting")
	return err
}

func (d *Daemon) runPipe() error {
	conn := ipc.NewPipeServerConn()
	if err := conn.SendJSON(ipc.ReadySignal{Ready: true}); err != nil {
		return errors.Wrap(err, "sending ready signal")
	}
	// EOF on stdin means the owning client is gone; that is the pipe-mode
	// shutdown path, not an error.
	d.serveConn(conn)
	d.beginShutdown()
	return nil
}

func (d *Daemon) runSocket() error {
	ln, err := ipc.ListenUDS(d.opts.SocketPath, d.opts.UID, d.opts.GID)
	if err != nil {
		return err
	}
	defer ln.Close()
	go d.closeOnShutdown(ln.Close)
	d.notifyReady()

	for !d.isShuttingDown() {
		conn, err := ln.Accept()
		if err != nil {
			if d.isShuttingDown() {
				return nil
			}
			return errors.Wrap(err, "accepting connection")
		}
		if err := conn.SendJSON(ipc.ReadySignal{Ready: true}); err != nil {
			log.Warnf("daemon: client gone before ready: %v", err)
			conn.Close()
			continue
		}
		d.serveConn(conn)
		conn.Close()
	}
	return nil
}

func (d *Daemon) runAgent() error {
	certPath, keyPath := paths.ServerCertPaths()
	var certPtr *tls.Certificate
	cert, certErr := agent.EnsureServerCertificate(certPath, keyPath)
	if certErr != nil {
		if !d.opts.NoTLS {
			return errors.Wrap(certErr, "preparing TLS material")
		}
		log.Warnf("daemon: no TLS material available: %v", certErr)
	} else {
		certPtr = &cert
	}

	ln, err := agent.Listen(d.opts.AgentPort, certPtr, !d.opts.NoTLS, d.creds.AgentAuthKey)
	if err != nil {
		return err
	}
	defer ln.Close()
	go d.closeOnShutdown(ln.Close)
	d.notifyReady()

	for !d.isShuttingDown() {
		conn, err := ln.Accept()
		if err != nil {
			if d.isShuttingDown() {
				return nil
			}
			// Handshake failures are per-connection: log and keep serving.
			log.Warnf("daemon: agent connection rejected: %v", err)
			continue
		}
		if err := conn.SendJSON(ipc.ReadySignal{Ready: true}); err != nil {
			log.Warnf("daemon: client gone before ready: %v", err)
			conn.Close()
			continue
		}
		d.serveConn(conn)
		conn.Close()
	}
	return nil
}

func (d *Daemon) notifyReady() {
	if ok, err := sd.SdNotify(false, sd.SdNotifyReady); err != nil {
		log.Debugf("daemon: sd_notify failed: %v", err)
	} else if ok {
		log.Debug("daemon: notified systemd readiness")
	}
}

func (d *Daemon) closeOnShutdown(closeFn func() error) {
	<-d.shutdown
	_ = closeFn()
}

func (d *Daemon) beginShutdown() {
	d.once.Do(func() {
		close(d.shutdown)
		d.mu.Lock()
		if d.activeConn != nil {
			d.activeConn.Close()
		}
		d.mu.Unlock()
	})
}

func (d *Daemon) isShuttingDown() bool {
	select {
	case <-d.shutdown:
		return true
	default:
		return false
	}
}

// serveConn reads requests off one connection until EOF, error, or
// shutdown. shutdown_daemon is acknowledged synchronously on this loop
// before teardown begins; everything else goes to the worker pool.
func (d *Daemon) serveConn(conn *ipc.Conn) {
	connID := uuid.NewString()[:8]
	clog := log.WithField("conn", connID)
	clog.Debugf("daemon: serving %s connection", conn.Kind())

	d.mu.Lock()
	d.activeConn = conn
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.activeConn = nil
		d.mu.Unlock()
	}()

	for !d.isShuttingDown() {
		line, err := conn.ReceiveLine()
		if err != nil {
			clog.Debugf("daemon: connection closed: %v", err)
			return
		}
		if len(line) == 0 {
			continue
		}

		var req ipc.Request
		if err := json.Unmarshal(line, &req); err != nil {
			clog.Warnf("daemon: invalid JSON frame: %v", err)
			_ = conn.SendJSON(ipc.ErrorResponse(0, fmt.Sprintf("Invalid JSON: %v", err), ""))
			continue
		}

		if req.Command == "shutdown_daemon" {
			clog.Info("daemon: received shutdown command")
			_ = conn.SendJSON(ipc.SuccessResponse(req.Meta.RequestID, "Daemon shutting down gracefully."))
			d.beginShutdown()
			return
		}

		d.wg.Add(1)
		go func(req ipc.Request) {
			defer d.wg.Done()
			d.sem <- struct{}{}
			defer func() { <-d.sem }()
			d.executeRequest(conn, req, clog)
		}(req)
	}
}

// executeRequest runs one command and writes its response. Panics become
// InternalError responses; a single bad request never takes the daemon down.
func (d *Daemon) executeRequest(conn *ipc.Conn, req ipc.Request, clog *log.Entry) {
	defer func() {
		if r := recover(); r != nil {
			clog.Errorf("daemon: panic in command %q: %v", req.Command, r)
			resp := ipc.ErrorResponse(req.Meta.RequestID,
				fmt.Sprintf("Internal error executing %q: %v", req.Command, r),
				string(debug.Stack()))
			_ = conn.SendJSON(resp)
		}
	}()

	clog.WithField("req_id", req.Meta.RequestID).Debugf("daemon: executing %q", req.Command)
	resp := d.dispatch(req)
	if err := conn.SendJSON(resp); err != nil {
		clog.Debugf("daemon: client gone during response (req_id=%d): %v", req.Meta.RequestID, err)
	}
}

func (d *Daemon) dispatch(req ipc.Request) *ipc.Response {
	id := req.Meta.RequestID

	if req.Command == "change_password" {
		return d.changePassword(req)
	}

	handler, ok := zfs.Registry[req.Command]
	if !ok {
		return ipc.ErrorResponse(id, "Unknown command: "+req.Command, "")
	}

	cc := zfs.CallContext{
		Ctx:        context.Background(),
		LogEnabled: req.Meta.LogEnabled,
		UserUID:    req.Meta.UserUID,
	}
	data, err := handler(d.manager, cc, zfs.Params{Args: req.Args, Kwargs: req.Kwargs})
	if err != nil {
		return errorResponseFor(id, err)
	}
	return ipc.SuccessResponse(id, data)
}

// detailsCap bounds the stderr payload carried back to clients.
const detailsCap = 16 * 1024

// errorResponseFor maps the typed error taxonomy onto the wire shape.
func errorResponseFor(id uint64, err error) *ipc.Response {
	var cmdErr *zfs.CommandError
	if errors.As(err, &cmdErr) {
		details := cmdErr.Stderr
		if len(details) > detailsCap {
			details = details[:detailsCap] + "... [truncated]"
		}
		return ipc.ErrorResponse(id, cmdErr.Message, details)
	}
	var valErr *zfs.ValidationError
	if errors.As(err, &valErr) {
		return ipc.ErrorResponse(id, valErr.Message, "")
	}
	var parseErr *zfs.ParseError
	if errors.As(err, &parseErr) {
		return ipc.ErrorResponse(id, parseErr.Error(), "")
	}
	return ipc.ErrorResponse(id, "Execution error: "+err.Error(), fmt.Sprintf("%+v", err))
}

func (d *Daemon) changePassword(req ipc.Request) *ipc.Response {
	id := req.Meta.RequestID
	username, _ := req.Kwargs["username"].(string)
	newPassword, _ := req.Kwargs["new_password"].(string)
	if username == "" || newPassword == "" {
		return ipc.ErrorResponse(id, "Missing username or new_password parameter", "")
	}
	if err := d.creds.UpdatePassword(username, newPassword); err != nil {
		return ipc.ErrorResponse(id, "Password update failed. Check daemon logs.", err.Error())
	}
	return ipc.SuccessResponse(id, "Password updated successfully.")
}

func (d *Daemon) drainWorkers() {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		log.Warn("daemon: shutdown grace period expired with workers still pending")
	}
}
