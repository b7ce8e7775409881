package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zfdash/zfdash/internal/ipcclient"
	"github.com/zfdash/zfdash/internal/runner"
	"github.com/zfdash/zfdash/internal/zfs"
)

func init() {
	zfs.SetToolPaths("/usr/sbin/zfs", "/usr/sbin/zpool")
}

// scriptedRunner answers every invocation from a fixed handler.
type scriptedRunner struct {
	handler func(argv []string) runner.Result
}

func (s *scriptedRunner) Run(ctx context.Context, argv []string, opts runner.Opts) runner.Result {
	if s.handler != nil {
		return s.handler(argv)
	}
	return runner.Result{Code: 0}
}

// startSocketDaemon runs a daemon on a temp socket and connects a client.
func startSocketDaemon(t *testing.T, r runner.Runner) (*ipcclient.Client, *Daemon) {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "zfdash.sock")
	d := New(Options{
		UID:             os.Getuid(),
		GID:             os.Getgid(),
		Transport:       TransportSocket,
		SocketPath:      socketPath,
		Manager:         zfs.NewManager(r),
		CredentialsPath: filepath.Join(t.TempDir(), "credentials.json"),
	})

	runDone := make(chan error, 1)
	go func() { runDone <- d.Run() }()
	t.Cleanup(func() {
		d.beginShutdown()
		select {
		case <-runDone:
		case <-time.After(5 * time.Second):
			t.Error("daemon did not exit")
		}
	})

	var client *ipcclient.Client
	require.Eventually(t, func() bool {
		c, err := ipcclient.ConnectSocket(socketPath, os.Getuid())
		if err != nil {
			return false
		}
		client = c
		return true
	}, 5*time.Second, 50*time.Millisecond)
	t.Cleanup(client.Close)
	return client, d
}

// Request correlation under concurrency: every response matches its
// request's id and command.
func TestRequestCorrelationUnderConcurrency(t *testing.T) {
	r := &scriptedRunner{handler: func(argv []string) runner.Result {
		// zpool status is made slower than zpool list so responses
		// overtake requests.
		if len(argv) > 1 && argv[1] == "status" {
			time.Sleep(20 * time.Millisecond)
			return runner.Result{Code: 0, Stdout: "  pool: tank\n state: ONLINE\n"}
		}
		return runner.Result{Code: 0, Stdout: ""}
	}}
	client, _ := startSocketDaemon(t, r)

	const listN, statusN = 40, 10
	var wg sync.WaitGroup
	errCh := make(chan error, listN+statusN)

	for i := 0; i < listN; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Request("list_pools", nil, nil, 10*time.Second)
			errCh <- err
		}()
	}
	for i := 0; i < statusN; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := client.Request("get_pool_status", []interface{}{"tank"}, nil, 10*time.Second)
			if err == nil && resp.Data.(string) == "" {
				err = fmt.Errorf("status response carried list payload")
			}
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)

	count := 0
	for err := range errCh {
		assert.NoError(t, err)
		count++
	}
	assert.Equal(t, listN+statusN, count)
}

// Shutdown is acknowledged before teardown: the shutdown response arrives
// on the same connection, then the transport reaches EOF.
func TestShutdownAcknowledgedBeforeTeardown(t *testing.T) {
	client, _ := startSocketDaemon(t, &scriptedRunner{})

	resp, err := client.Request("shutdown_daemon", nil, nil, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Daemon shutting down gracefully.", resp.Data)

	// The connection dies shortly after the ack; a subsequent request must
	// fail fast rather than hang.
	require.Eventually(t, func() bool {
		_, err := client.Request("list_pools", nil, nil, 500*time.Millisecond)
		return err != nil
	}, 5*time.Second, 50*time.Millisecond)
}

func TestUnknownCommand(t *testing.T) {
	client, _ := startSocketDaemon(t, &scriptedRunner{})

	_, err := client.Request("frobnicate", nil, nil, 5*time.Second)
	var cmdErr *ipcclient.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Contains(t, cmdErr.Message, "Unknown command: frobnicate")
}

func TestValidationErrorReachesClient(t *testing.T) {
	spyCalls := 0
	r := &scriptedRunner{handler: func(argv []string) runner.Result {
		spyCalls++
		return runner.Result{Code: 0}
	}}
	client, _ := startSocketDaemon(t, r)

	_, err := client.Request("create_pool", []interface{}{
		"tank",
		[]interface{}{map[string]interface{}{
			"type":    "raidz1",
			"devices": []interface{}{"/dev/sda", "/dev/sdb"},
		}},
	}, nil, 5*time.Second)

	var cmdErr *ipcclient.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Contains(t, cmdErr.Message, "raidz1")
	assert.Zero(t, spyCalls, "validation failures must not reach the runner")
}

func TestCommandFailureCarriesStderrDetails(t *testing.T) {
	r := &scriptedRunner{handler: func(argv []string) runner.Result {
		return runner.Result{Code: 1, Stderr: "cannot open 'tank': no such pool"}
	}}
	client, _ := startSocketDaemon(t, r)

	_, err := client.Request("get_pool_status", []interface{}{"tank"}, nil, 5*time.Second)
	var cmdErr *ipcclient.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Contains(t, cmdErr.Details, "no such pool")
}

func TestChangePasswordRequiresFields(t *testing.T) {
	client, _ := startSocketDaemon(t, &scriptedRunner{})

	_, err := client.Request("change_password", nil, map[string]interface{}{
		"username": "admin",
	}, 5*time.Second)
	var cmdErr *ipcclient.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Contains(t, cmdErr.Message, "new_password")
}

func TestChangePasswordRoundTrip(t *testing.T) {
	client, d := startSocketDaemon(t, &scriptedRunner{})

	// The daemon provisioned default credentials on startup.
	_, err := client.Request("change_password", nil, map[string]interface{}{
		"username":     "admin",
		"new_password": "better-password",
	}, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, d.creds.VerifyPassword("admin", "better-password"))
	assert.False(t, d.creds.VerifyPassword("admin", "admin"))
}

func TestSocketRefusedWhenInUse(t *testing.T) {
	_, d := startSocketDaemon(t, &scriptedRunner{})

	other := New(Options{
		UID:        os.Getuid(),
		GID:        os.Getgid(),
		Transport:  TransportSocket,
		SocketPath: d.opts.SocketPath,
		Manager:    zfs.NewManager(&scriptedRunner{}),
	})
	err := other.runSocket()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in use")
}
