package ipc

import (
	"encoding/json"
	"io"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipePair() (*Conn, *Conn) {
	a, b := net.Pipe()
	return NewConn(a, "test"), NewConn(b, "test")
}

func TestSendLineAppendsNewline(t *testing.T) {
	client, server := pipePair()
	defer client.Close()
	defer server.Close()

	go func() {
		_ = client.SendLine([]byte(`{"x":1}`))
	}()
	line, err := server.ReceiveLine()
	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`, string(line))
}

func TestReceiveLineTrimsCRLF(t *testing.T) {
	client, server := pipePair()
	defer client.Close()
	defer server.Close()

	go func() {
		_ = client.SendLine([]byte("{\"x\":1}\r\n"))
	}()
	line, err := server.ReceiveLine()
	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`, string(line))
}

func TestReceiveLineBuffersPartialWrites(t *testing.T) {
	a, b := net.Pipe()
	server := NewConn(b, "test")
	defer server.Close()
	defer a.Close()

	go func() {
		for _, chunk := range []string{`{"comm`, `and":"li`, "st_pools\"}\n"} {
			_, _ = a.Write([]byte(chunk))
		}
	}()
	line, err := server.ReceiveLine()
	require.NoError(t, err)
	assert.JSONEq(t, `{"command":"list_pools"}`, string(line))
}

func TestReceiveLineEOF(t *testing.T) {
	a, b := net.Pipe()
	server := NewConn(b, "test")
	defer server.Close()

	a.Close()
	_, err := server.ReceiveLine()
	assert.ErrorIs(t, err, io.EOF)
}

// Lines must accommodate at least 1 MiB.
func TestLargeLine(t *testing.T) {
	client, server := pipePair()
	defer client.Close()
	defer server.Close()

	big := map[string]string{"payload": strings.Repeat("x", 1<<20)}
	go func() {
		_ = client.SendJSON(big)
	}()
	line, err := server.ReceiveLine()
	require.NoError(t, err)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(line, &decoded))
	assert.Len(t, decoded["payload"], 1<<20)
}

// Frame integrity: interleaved concurrent senders still yield whole JSON
// objects when the stream is split on LF.
func TestConcurrentSendersDoNotInterleave(t *testing.T) {
	client, server := pipePair()
	defer client.Close()
	defer server.Close()

	const senders = 8
	const perSender = 25

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				err := client.SendJSON(map[string]interface{}{
					"sender": i,
					"filler": strings.Repeat("abc", 100),
				})
				assert.NoError(t, err)
			}
		}(i)
	}

	received := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for received < senders*perSender {
			line, err := server.ReceiveLine()
			if err != nil {
				t.Errorf("receive: %v", err)
				return
			}
			var decoded map[string]interface{}
			if err := json.Unmarshal(line, &decoded); err != nil {
				t.Errorf("interleaved frame: %v", err)
				return
			}
			received++
		}
	}()

	wg.Wait()
	<-done
	assert.Equal(t, senders*perSender, received)
}

func TestJSONNeverEmbedsRawNewline(t *testing.T) {
	data, err := Marshal(map[string]string{"text": "line1\nline2"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "\n")
}
