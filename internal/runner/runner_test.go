package runner

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	r := New(0)
	res := r.Run(context.Background(), []string{"/bin/sh", "-c", "echo out; echo err >&2; exit 3"}, Opts{UserUID: -1})
	assert.Equal(t, 3, res.Code)
	assert.Equal(t, "out", strings.TrimSpace(res.Stdout))
	assert.Equal(t, "err", strings.TrimSpace(res.Stderr))
	assert.False(t, res.TimedOut)
}

func TestRunStdin(t *testing.T) {
	r := New(0)
	res := r.Run(context.Background(), []string{"/bin/cat"}, Opts{Stdin: "passphrase\n", UserUID: -1})
	assert.Equal(t, 0, res.Code)
	assert.Equal(t, "passphrase", strings.TrimSpace(res.Stdout))
}

func TestRunTimeoutKillsChild(t *testing.T) {
	r := New(0)
	start := time.Now()
	res := r.Run(context.Background(), []string{"/bin/sh", "-c", "sleep 30"}, Opts{Timeout: 200 * time.Millisecond, UserUID: -1})
	assert.True(t, res.TimedOut)
	assert.NotEqual(t, 0, res.Code)
	assert.Contains(t, res.Stderr, "timed out")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunMissingCommand(t *testing.T) {
	r := New(0)
	res := r.Run(context.Background(), []string{"/no/such/binary"}, Opts{UserUID: -1})
	assert.Equal(t, -1, res.Code)
	assert.NotEmpty(t, res.Stderr)
}

func TestRunEmptyArgv(t *testing.T) {
	r := New(0)
	res := r.Run(context.Background(), nil, Opts{UserUID: -1})
	assert.Equal(t, -1, res.Code)
}
