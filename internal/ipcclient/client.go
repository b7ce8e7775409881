// Package ipcclient is the unprivileged client runtime: it owns a transport
// to one daemon, correlates requests with responses by id, and manages the
// daemon's lifetime in pipe mode.
package ipcclient

import (
	"encoding/json"
	"os"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zfdash/zfdash/internal/ipc"
	"github.com/zfdash/zfdash/internal/paths"
)

const (
	// DefaultRequestTimeout covers ordinary request/response roundtrips.
	DefaultRequestTimeout = 60 * time.Second
	// ActionTimeout covers long-running operations (create, import, scrub).
	ActionTimeout = 120 * time.Second
	// ShutdownRequestTimeout is how long close waits for the shutdown ack.
	ShutdownRequestTimeout = 5 * time.Second
	// ReadyTimeout is how long a fresh daemon may take to signal readiness;
	// generous because privilege escalation may be waiting on the operator.
	ReadyTimeout = 60 * time.Second

	terminateTimeout = 5 * time.Second
	killTimeout      = 2 * time.Second
)

// DaemonProcess is the subset of process control the client needs for an
// owned daemon. *os.Process satisfies it.
type DaemonProcess interface {
	Signal(sig os.Signal) error
	Kill() error
	Wait() (*os.ProcessState, error)
}

// Client is the request/response runtime over one transport. Any number of
// goroutines may call Request concurrently; a single reader goroutine
// delivers responses to their waiting slots.
type Client struct {
	mu         sync.Mutex
	conn       *ipc.Conn
	pending    map[uint64]chan *ipc.Response
	nextID     uint64
	commErr    error
	shutdown   bool
	readerDone chan struct{}

	ownsDaemon bool
	process    DaemonProcess

	// LogEnabled and UserUID stamp request metadata.
	LogEnabled bool
	UserUID    int
}

// New starts the runtime over conn. process is non-nil only in pipe mode,
// where this client owns the daemon's lifetime.
func New(conn *ipc.Conn, process DaemonProcess, ownsDaemon bool) *Client {
	c := &Client{
		conn:       conn,
		pending:    map[uint64]chan *ipc.Response{},
		readerDone: make(chan struct{}),
		ownsDaemon: ownsDaemon,
		process:    process,
		UserUID:    os.Getuid(),
	}
	go c.readLoop(conn, c.readerDone)
	return c
}

// readLoop delivers responses until EOF or a transport error, then fails
// every pending slot. It holds its own conn reference: a reconnect swaps
// the client's conn and this loop dies with the old one.
func (c *Client) readLoop(conn *ipc.Conn, done chan struct{}) {
	defer close(done)
	for {
		line, err := conn.ReceiveLine()
		if err != nil {
			c.failPending(conn, &CommunicationError{Reason: "daemon connection closed: " + err.Error()})
			return
		}
		if len(line) == 0 {
			continue
		}

		var resp ipc.Response
		if err := json.Unmarshal(line, &resp); err != nil {
			log.Warnf("client: discarding unparseable frame: %v", err)
			continue
		}
		if resp.Meta.RequestID == 0 {
			log.Warnf("client: discarding response without request_id")
			continue
		}

		c.mu.Lock()
		slot, ok := c.pending[resp.Meta.RequestID]
		if ok {
			delete(c.pending, resp.Meta.RequestID)
		}
		c.mu.Unlock()

		if !ok {
			// Late arrival for a timed-out caller; drop it.
			log.Debugf("client: response for unknown request_id %d dropped", resp.Meta.RequestID)
			continue
		}
		slot <- &resp
	}
}

// failPending transitions the runtime to its terminal failed state and
// notifies every waiter, unless this reader was already superseded by a
// reconnect.
func (c *Client) failPending(conn *ipc.Conn, commErr *CommunicationError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return
	}
	if c.shutdown {
		return
	}
	c.commErr = commErr
	for id, slot := range c.pending {
		select {
		case slot <- nil:
		default:
			log.Warnf("client: could not notify request %d of failure", id)
		}
	}
	c.pending = map[uint64]chan *ipc.Response{}
}

// Request sends command and blocks for its response up to timeout.
func (c *Client) Request(command string, args []interface{}, kwargs map[string]interface{}, timeout time.Duration) (*ipc.Response, error) {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	c.mu.Lock()
	if c.shutdown || c.commErr != nil {
		err := c.commErr
		c.mu.Unlock()
		if err == nil {
			err = &CommunicationError{Reason: "client is shut down"}
		}
		return nil, err
	}
	c.nextID++
	id := c.nextID
	slot := make(chan *ipc.Response, 1)
	c.pending[id] = slot
	conn := c.conn
	c.mu.Unlock()

	req := ipc.Request{
		Command: command,
		Args:    args,
		Kwargs:  kwargs,
		Meta: ipc.RequestMeta{
			RequestID:  id,
			LogEnabled: c.LogEnabled,
			UserUID:    c.UserUID,
		},
	}
	if err := conn.SendJSON(&req); err != nil {
		commErr := &CommunicationError{Reason: "failed to write to daemon: " + err.Error()}
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		c.failPending(conn, commErr)
		return nil, commErr
	}

	select {
	case resp := <-slot:
		if resp == nil {
			c.mu.Lock()
			err := c.commErr
			c.mu.Unlock()
			if err == nil {
				err = &CommunicationError{Reason: "daemon communication failed"}
			}
			return nil, err
		}
		if resp.Status == ipc.StatusError {
			msg := resp.Error
			if msg == "" {
				msg = "unknown daemon error"
			}
			return nil, &CommandError{Message: msg, Details: resp.Details}
		}
		return resp, nil
	case <-time.After(timeout):
		// The reader tolerates the late arrival: it finds no slot and drops it.
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		log.Warnf("client: timeout (%s) waiting for %q (req_id=%d)", timeout, command, id)
		return nil, &TimeoutError{Command: command}
	}
}

// Healthy reports whether the runtime can still carry requests.
func (c *Client) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown || c.commErr != nil {
		return false
	}
	select {
	case <-c.readerDone:
		return false
	default:
		return true
	}
}

// LastError returns the terminal communication error, if any.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.commErr != nil {
		return c.commErr
	}
	select {
	case <-c.readerDone:
		return &CommunicationError{Reason: "daemon connection lost (reader exited)"}
	default:
		return nil
	}
}

// OwnsDaemon reports pipe-mode ownership of the daemon process.
func (c *Client) OwnsDaemon() bool { return c.ownsDaemon }

// Reconnect re-establishes a socket-mode connection to the canonical
// per-UID daemon socket. Pipe mode cannot reconnect: the owned process is
// gone with its pipes.
func (c *Client) Reconnect() error {
	if c.ownsDaemon {
		return &CommunicationError{Reason: "reconnection is not available in pipe mode; restart the application"}
	}

	socketPath := paths.SocketPath(os.Getuid())
	conn, err := ipc.DialUDS(socketPath, 10*time.Second)
	if err != nil {
		return &CommunicationError{Reason: "no daemon running at " + socketPath + "; launch one with --launch-daemon"}
	}
	if err := WaitReady(conn, ReadyTimeout); err != nil {
		conn.Close()
		return &CommunicationError{Reason: "daemon did not signal readiness: " + err.Error()}
	}

	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.pending = map[uint64]chan *ipc.Response{}
	c.commErr = nil
	c.shutdown = false
	c.readerDone = make(chan struct{})
	done := c.readerDone
	c.mu.Unlock()

	if old != nil {
		old.Close() // the old reader drains and exits
	}
	go c.readLoop(conn, done)
	log.Info("client: reconnected to daemon")
	return nil
}

// Close tears the runtime down. For an owned daemon it requests shutdown,
// then escalates SIGTERM→SIGKILL; a shared socket daemon is left running.
func (c *Client) Close() {
	if c.ownsDaemon && c.Healthy() {
		if _, err := c.Request("shutdown_daemon", nil, nil, ShutdownRequestTimeout); err != nil {
			log.Debugf("client: shutdown request: %v", err)
		}
	}

	c.mu.Lock()
	c.shutdown = true
	conn := c.conn
	done := c.readerDone
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		log.Debug("client: reader did not exit promptly")
	}

	if c.ownsDaemon && c.process != nil {
		c.terminateDaemon()
	}
}

func (c *Client) terminateDaemon() {
	waited := make(chan struct{})
	go func() {
		_, _ = c.process.Wait()
		close(waited)
	}()

	_ = c.process.Signal(syscall.SIGTERM)
	select {
	case <-waited:
		return
	case <-time.After(terminateTimeout):
	}
	log.Warn("client: daemon did not exit after SIGTERM, killing")
	_ = c.process.Kill()
	select {
	case <-waited:
	case <-time.After(killTimeout):
		log.Error("client: daemon did not exit after SIGKILL")
	}
}

// WaitReady consumes the daemon's ready line with a bounded timeout,
// distinguishing "daemon alive and listening" from "socket exists but not
// ready". Non-ready lines before it are a protocol violation.
func WaitReady(conn *ipc.Conn, timeout time.Duration) error {
	type result struct {
		err error
	}
	ch := make(chan result, 1)
	go func() {
		var ready ipc.ReadySignal
		if err := conn.ReceiveJSON(&ready, timeout); err != nil {
			ch <- result{err: &CommunicationError{Reason: "reading ready signal: " + err.Error()}}
			return
		}
		if !ready.Ready {
			ch <- result{err: &ProtocolError{Reason: "daemon sent a non-ready frame before ready"}}
			return
		}
		ch <- result{}
	}()
	select {
	case r := <-ch:
		return r.err
	case <-time.After(timeout):
		return &TimeoutError{Command: "ready"}
	}
}
