package ipcclient

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/zfdash/zfdash/internal/ipc"
	"github.com/zfdash/zfdash/internal/paths"
	"github.com/zfdash/zfdash/internal/util"
)

// escalationTools in priority order: the policy-prompting GUI escalator
// first, then terminal fallbacks.
var escalationTools = []string{"pkexec", "sudo", "doas"}

// findEscalator locates the first available privilege escalation tool.
func findEscalator() (string, error) {
	for _, tool := range escalationTools {
		if p := paths.FindExecutable(tool); p != "" {
			return p, nil
		}
	}
	return "", errors.Errorf("no privilege escalation tool found (tried %v)", escalationTools)
}

// cmdProcess adapts exec.Cmd to DaemonProcess: Wait must go through the
// Cmd so the child is reaped exactly once.
type cmdProcess struct {
	cmd *exec.Cmd
}

func newCmdProcess(cmd *exec.Cmd) *cmdProcess {
	return &cmdProcess{cmd: cmd}
}

func (p *cmdProcess) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }
func (p *cmdProcess) Kill() error                { return p.cmd.Process.Kill() }
func (p *cmdProcess) Wait() (*os.ProcessState, error) {
	err := p.cmd.Wait()
	return p.cmd.ProcessState, err
}

// LaunchPipeDaemon spawns the daemon through privilege escalation with its
// stdin/stdout wired to this client, waits for the ready line, and returns
// a runtime that owns the daemon's lifetime.
func LaunchPipeDaemon(daemonPath string, uid, gid int) (*Client, error) {
	escalator, err := findEscalator()
	if err != nil {
		return nil, err
	}
	log.Infof("launcher: starting pipe daemon via %s", escalator)

	cmd := exec.Command(escalator, daemonPath,
		"--daemon",
		"--uid", strconv.Itoa(uid),
		"--gid", strconv.Itoa(gid))
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "creating daemon stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, errors.Wrap(err, "creating daemon stdout pipe")
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, errors.Wrapf(err, "spawning daemon via %s", escalator)
	}

	conn := ipc.NewPipeClientConn(stdin, stdout)
	if err := WaitReady(conn, ReadyTimeout); err != nil {
		// No orphans: reap the child before reporting failure.
		conn.Close()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, errors.Wrap(err, "daemon did not become ready")
	}
	log.Infof("launcher: daemon ready (pid=%d)", cmd.Process.Pid)
	return New(conn, newCmdProcess(cmd), true), nil
}

// LaunchSocketDaemon spawns a detached daemon listening on socketPath and
// waits until it answers. The daemon survives this client.
func LaunchSocketDaemon(daemonPath string, uid, gid int, socketPath string) error {
	if socketPath == "" {
		socketPath = paths.SocketPath(uid)
	}
	if ipc.SocketInUse(socketPath) {
		return errors.Errorf("a daemon is already listening on %s", socketPath)
	}

	escalator, err := findEscalator()
	if err != nil {
		return err
	}
	log.Infof("launcher: starting socket daemon via %s", escalator)

	cmd := exec.Command(escalator, daemonPath,
		"--daemon",
		"--uid", strconv.Itoa(uid),
		"--gid", strconv.Itoa(gid),
		"--listen-socket", socketPath)
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "spawning daemon via %s", escalator)
	}
	// Detached: the daemon is ownerless once it holds the socket. Reap the
	// escalator in the background so it never lingers as a zombie.
	go func() { _ = cmd.Wait() }()

	err = util.WaitUntilReady(ReadyTimeout, 200*time.Millisecond, func() (bool, error) {
		return ipc.SocketInUse(socketPath), nil
	})
	if err != nil {
		return errors.Errorf("daemon did not start listening on %s", socketPath)
	}
	log.Infof("launcher: daemon listening on %s", socketPath)
	return nil
}

// ConnectSocket connects to an existing daemon socket and waits for the
// ready line. The returned client does not own the daemon.
func ConnectSocket(socketPath string, uid int) (*Client, error) {
	if socketPath == "" {
		socketPath = paths.SocketPath(uid)
	}
	conn, err := ipc.DialUDS(socketPath, 10*time.Second)
	if err != nil {
		return nil, errors.Wrapf(err,
			"no daemon reachable at %s (launch one with --launch-daemon)", socketPath)
	}
	if err := WaitReady(conn, ReadyTimeout); err != nil {
		conn.Close()
		return nil, err
	}
	return New(conn, nil, false), nil
}

// EnsureSocketDaemon connects to the daemon at socketPath, launching a
// persistent one first when nothing is listening.
func EnsureSocketDaemon(daemonPath string, uid, gid int, socketPath string) (*Client, error) {
	if socketPath == "" {
		socketPath = paths.SocketPath(uid)
	}
	if !ipc.SocketInUse(socketPath) {
		if err := LaunchSocketDaemon(daemonPath, uid, gid, socketPath); err != nil {
			return nil, err
		}
	}
	return ConnectSocket(socketPath, uid)
}

// StopSocketDaemon asks the daemon at socketPath to shut down.
func StopSocketDaemon(socketPath string, uid int) error {
	if socketPath == "" {
		socketPath = paths.SocketPath(uid)
	}
	client, err := ConnectSocket(socketPath, uid)
	if err != nil {
		return err
	}
	defer client.Close()
	if _, err := client.Request("shutdown_daemon", nil, nil, ShutdownRequestTimeout); err != nil {
		return fmt.Errorf("sending shutdown: %w", err)
	}
	return nil
}
