package ipc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// readBufferSize is only the initial buffer; lines grow past it unbounded,
// so MiB-scale frames (large status trees) pass through intact.
const readBufferSize = 64 * 1024

// Conn frames a byte stream into JSON lines. Writes are serialized by a
// mutex so responses from concurrent workers never interleave.
type Conn struct {
	r      *bufio.Reader
	w      io.Writer
	closer io.Closer
	kind   string

	// set when the stream is a real socket, enabling deadlines
	nc net.Conn

	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewConn frames an io.ReadWriteCloser. kind names the transport for logs.
func NewConn(rw io.ReadWriteCloser, kind string) *Conn {
	c := &Conn{
		r:      bufio.NewReaderSize(rw, readBufferSize),
		w:      rw,
		closer: rw,
		kind:   kind,
	}
	if nc, ok := rw.(net.Conn); ok {
		c.nc = nc
	}
	return c
}

// NewSplitConn frames separate read and write streams (the pipe transport).
func NewSplitConn(r io.Reader, w io.Writer, closer io.Closer, kind string) *Conn {
	return &Conn{
		r:      bufio.NewReaderSize(r, readBufferSize),
		w:      w,
		closer: closer,
		kind:   kind,
	}
}

func (c *Conn) Kind() string { return c.kind }

// NetConn exposes the underlying socket, or nil for pipe transports.
func (c *Conn) NetConn() net.Conn { return c.nc }

// SendLine writes data followed by LF. Thread-safe.
func (c *Conn) SendLine(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if !bytes.HasSuffix(data, []byte("\n")) {
		data = append(data, '\n')
	}
	_, err := c.w.Write(data)
	return err
}

// SendJSON marshals v and sends it as one line.
func (c *Conn) SendJSON(v interface{}) error {
	data, err := Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encoding frame")
	}
	return c.SendLine(data)
}

// ReceiveLine returns the next line without its terminator, or io.EOF.
// A final unterminated fragment before EOF is returned as a line.
func (c *Conn) ReceiveLine() ([]byte, error) {
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		if len(line) > 0 {
			return trimLine(line), nil
		}
		return nil, err
	}
	return trimLine(line), nil
}

// ReceiveJSON reads one line into v, optionally bounded by a deadline
// (sockets only; zero means no deadline).
func (c *Conn) ReceiveJSON(v interface{}, deadline time.Duration) error {
	if deadline > 0 && c.nc != nil {
		_ = c.nc.SetReadDeadline(time.Now().Add(deadline))
		defer c.nc.SetReadDeadline(time.Time{})
	}
	line, err := c.ReceiveLine()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(line, v); err != nil {
		return errors.Wrap(err, "decoding frame")
	}
	return nil
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		if c.closer != nil {
			c.closeErr = c.closer.Close()
		}
	})
	return c.closeErr
}

func trimLine(line []byte) []byte {
	return bytes.TrimRight(line, "\r\n")
}
