package ipc

import (
	"io"
	"os"
)

// pipeCloser closes both ends of a split pipe pair.
type pipeCloser struct {
	r io.Closer
	w io.Closer
}

func (p pipeCloser) Close() error {
	var first error
	if p.w != nil {
		first = p.w.Close()
	}
	if p.r != nil {
		if err := p.r.Close(); first == nil {
			first = err
		}
	}
	return first
}

// NewPipeServerConn frames the daemon's own stdin/stdout. The client closing
// its write end surfaces as EOF on stdin, which is the pipe-mode shutdown
// signal. Close shuts stdin only, so a signal-driven shutdown can unblock
// the read loop; stdout is left open for any in-flight responses.
func NewPipeServerConn() *Conn {
	return NewSplitConn(os.Stdin, os.Stdout, os.Stdin, "pipe")
}

// NewPipeClientConn frames the client's ends of a spawned daemon's pipes:
// w writes to the daemon's stdin, r reads from its stdout.
func NewPipeClientConn(w io.WriteCloser, r io.ReadCloser) *Conn {
	return NewSplitConn(r, w, pipeCloser{r: r, w: w}, "pipe")
}
