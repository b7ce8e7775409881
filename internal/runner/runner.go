// Package runner executes external commands on behalf of the daemon.
//
// It transports bytes and exit status only; interpreting stdout/stderr is
// the command registry's job.
package runner

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	log "github.com/sirupsen/logrus"

	sysexec "github.com/zfdash/zfdash/internal/system/exec"
)

// DefaultCommandTimeout bounds a single zfs/zpool invocation.
const DefaultCommandTimeout = 120 * time.Second

// Opts carries per-invocation context.
type Opts struct {
	// Stdin is written to the child and the pipe closed. Used only for
	// passphrases; never logged.
	Stdin string
	// LogEnabled appends an audit record for this invocation.
	LogEnabled bool
	// UserUID selects the audit log file and its ownership.
	UserUID int
	// Timeout overrides the runner's configured timeout when positive.
	Timeout time.Duration
}

// Result is the raw outcome of a child process.
type Result struct {
	Code   int
	Stdout string
	Stderr string
	// TimedOut is set when the child was killed at the deadline.
	TimedOut bool
}

// Runner executes argv vectors. The interface exists so the command
// registry can be tested with a spy.
type Runner interface {
	Run(ctx context.Context, argv []string, opts Opts) Result
}

// ExecRunner is the production Runner backed by os/exec.
type ExecRunner struct {
	Timeout time.Duration
}

// New returns an ExecRunner with the given command timeout
// (DefaultCommandTimeout when zero).
func New(timeout time.Duration) *ExecRunner {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &ExecRunner{Timeout: timeout}
}

// Run spawns argv, writes opts.Stdin, and collects stdout/stderr until exit
// or timeout. At the deadline the child is killed and reaped. Run never
// returns an error: failures surface as a negative Code with a message in
// Stderr, matching how zfs tool errors are reported.
func (r *ExecRunner) Run(ctx context.Context, argv []string, opts Opts) Result {
	if len(argv) == 0 || argv[0] == "" {
		return Result{Code: -1, Stderr: "invalid empty command"}
	}

	timeout := r.Timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	cmdStr := shellquote.Join(argv...)
	stdinNote := ""
	if opts.Stdin != "" {
		stdinNote = " (stdin: [hidden])"
	}

	cmd := sysexec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Children of the killed process can hold the output pipes open; stop
	// waiting on them shortly after the kill.
	cmd.WaitDelay = time.Second
	if opts.Stdin != "" {
		cmd.Stdin = strings.NewReader(opts.Stdin)
	}

	start := time.Now()
	res := Result{Code: -1}

	if err := cmd.Start(); err != nil {
		if sysexec.IsCmdNotFound(err) {
			res.Stderr = "command not found: " + argv[0]
		} else {
			res.Stderr = err.Error()
		}
		log.Warnf("runner: cannot start %s: %s", cmdStr, res.Stderr)
		if opts.LogEnabled {
			writeAuditRecord(auditRecord{
				start: start, command: cmdStr,
				hadStdin: opts.Stdin != "", code: res.Code, stderr: res.Stderr,
			}, opts.UserUID)
		}
		return res
	}
	pid := cmd.Pid()
	log.Debugf("runner: executing %s%s (pid=%d)", cmdStr, stdinNote, pid)

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var runErr error
	select {
	case runErr = <-waitCh:
	case <-time.After(timeout):
		res.TimedOut = true
		if err := cmd.Kill(); err != nil {
			log.Warnf("runner: killing pid %d: %v", pid, err)
		}
		<-waitCh // Wait result is cached; the reap already happened in Kill
	case <-ctx.Done():
		_ = cmd.Kill()
		<-waitCh
		runErr = ctx.Err()
	}

	res.Stdout = decodeLossy(stdout.Bytes())
	res.Stderr = decodeLossy(stderr.Bytes())

	switch {
	case res.TimedOut:
		res.Stderr = "command " + cmdStr + " timed out after " + timeout.String()
		log.Warnf("runner: %s (pid=%d killed)", res.Stderr, pid)
	case runErr == nil:
		res.Code = 0
	default:
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			res.Code = exitErr.ExitCode()
			if cmd.Signaled() {
				log.Debugf("runner: pid %d terminated by signal", pid)
			}
		} else if res.Stderr == "" {
			res.Stderr = runErr.Error()
		}
	}

	if res.Code != 0 {
		log.Debugf("runner: command failed (ret=%d): %s", res.Code, cmdStr)
	}

	if opts.LogEnabled {
		writeAuditRecord(auditRecord{
			start:    start,
			duration: time.Since(start),
			command:  cmdStr,
			pid:      pid,
			hadStdin: opts.Stdin != "",
			code:     res.Code,
			signaled: cmd.Signaled(),
			stdout:   res.Stdout,
			stderr:   res.Stderr,
		}, opts.UserUID)
	}
	return res
}

// decodeLossy replaces invalid UTF-8 rather than failing; tool output is
// display data, not protocol data.
func decodeLossy(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
