package runner

import (
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zfdash/zfdash/internal/paths"
)

const auditTruncateAt = 8192

type auditRecord struct {
	start    time.Time
	duration time.Duration
	command  string
	pid      int
	hadStdin bool
	code     int
	signaled bool
	stdout   string
	stderr   string
}

// writeAuditRecord appends one structured record to the requesting user's
// log file, creating it 0660 and owned by that user on first use.
func writeAuditRecord(rec auditRecord, uid int) {
	if uid < 0 {
		log.Warn("runner: audit logging requested with invalid uid, skipping")
		return
	}
	logPath := paths.DaemonLogPath(uid)

	created := false
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		created = true
	}
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o660)
	if err != nil {
		log.Warnf("runner: cannot open audit log %s: %v", logPath, err)
		return
	}
	defer f.Close()
	if created {
		_ = f.Chmod(0o660)
		if os.Geteuid() == 0 {
			// Group stays with the daemon so root tooling can read it too.
			_ = os.Chown(logPath, uid, -1)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "--- %s ---\n", rec.start.Format("2006-01-02 15:04:05.000"))
	fmt.Fprintf(&b, "COMMAND: %s\n", rec.command)
	if rec.pid > 0 {
		fmt.Fprintf(&b, "PID: %d\n", rec.pid)
	}
	if rec.hadStdin {
		b.WriteString("INPUT: [hidden passphrase]\n")
	}
	fmt.Fprintf(&b, "RETURN CODE: %d\n", rec.code)
	if rec.signaled {
		b.WriteString("TERMINATED BY SIGNAL\n")
	}
	fmt.Fprintf(&b, "DURATION: %.3fs\n", rec.duration.Seconds())
	if rec.stdout != "" {
		fmt.Fprintf(&b, "STDOUT:\n%s\n", truncate(strings.TrimSpace(rec.stdout)))
	}
	if rec.stderr != "" {
		fmt.Fprintf(&b, "STDERR:\n%s\n", truncate(strings.TrimSpace(rec.stderr)))
	}
	b.WriteString("\n")

	if _, err := f.WriteString(b.String()); err != nil {
		log.Warnf("runner: error writing audit log %s: %v", logPath, err)
	}
}

func truncate(s string) string {
	if len(s) > auditTruncateAt {
		return s[:auditTruncateAt] + "... [truncated]"
	}
	return s
}
