package zfs

import (
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"
)

// CommandError reports a zfs/zpool invocation that failed for a reason the
// benign-stderr table does not cover.
type CommandError struct {
	Message    string
	Argv       []string
	Stderr     string
	ReturnCode int
}

func (e *CommandError) Error() string {
	var details []string
	if len(e.Argv) > 0 {
		details = append(details, "Command: "+shellquote.Join(e.Argv...))
	}
	if e.ReturnCode != 0 {
		details = append(details, fmt.Sprintf("Return Code: %d", e.ReturnCode))
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		if len(s) > 300 {
			s = s[:300] + "..."
		}
		details = append(details, "Stderr: "+s)
	}
	if len(details) == 0 {
		return e.Message
	}
	return e.Message + " (" + strings.Join(details, ", ") + ")"
}

// ValidationError reports arguments rejected before any subprocess launch.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ParseError reports tool output the parsers could not make sense of.
type ParseError struct {
	Message string
	RawLine string
	Argv    []string
}

func (e *ParseError) Error() string {
	var details []string
	if len(e.Argv) > 0 {
		details = append(details, "Command: "+shellquote.Join(e.Argv...))
	}
	if e.RawLine != "" {
		line := e.RawLine
		if len(line) > 100 {
			line = line[:100] + "..."
		}
		details = append(details, "Problematic Line: '"+line+"'")
	}
	if len(details) == 0 {
		return e.Message
	}
	return e.Message + " (" + strings.Join(details, ", ") + ")"
}

func commandErr(msg string, argv []string, stderr string, code int) *CommandError {
	return &CommandError{Message: msg, Argv: argv, Stderr: stderr, ReturnCode: code}
}

func validationErr(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}
