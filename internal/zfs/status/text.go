package status

import (
	"regexp"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
)

var (
	poolLineRe  = regexp.MustCompile(`^\s*pool:\s+(\S+)`)
	stateLineRe = regexp.MustCompile(`^\s*state:\s+(\S+)`)

	// device row: indent, name, state, and three error counters
	configLineRe = regexp.MustCompile(`^(\s+)(.+?)\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s*$`)
	// spare/cache rows print just name and state (AVAIL, ONLINE)
	shortLineRe = regexp.MustCompile(`^(\s+)(\S+)\s+([A-Z]+)\s*$`)
	// group row: indent and a bare name (logs, cache, spares, mirror-0 ...)
	simpleLineRe = regexp.MustCompile(`^(\s+)(\S.*?)\s*$`)

	groupNameRe = regexp.MustCompile(`^(mirror-\d+|raidz\d?-\d+|draid\d*[:\d]*|logs|cache|spares|special|dedup)$`)

	// absolute paths cover /dev nodes and file-backed vdevs alike
	devicePathRe = regexp.MustCompile(`^(/\S+|(ata|wwn|nvme|scsi|usb|dm-name|dm-uuid|id)-\S+|gpt/\S+|gptid/\S+|label/\S+|sd[a-z]+\d*|vd[a-z]+\d*|xvd[a-z]+\d*|nvme\d+n\d+(p\d+)?|mmcblk\d+(p\d+)?|[a-z]+d\d+(p\d+)?)$`)
)

func sortedKeys(m map[string]jsonVdev) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// groupTypeFor maps a group row name to its vdev type.
func groupTypeFor(name string) string {
	switch {
	case strings.HasPrefix(name, "mirror"):
		return "mirror"
	case strings.HasPrefix(name, "raidz3"):
		return "raidz3"
	case strings.HasPrefix(name, "raidz2"):
		return "raidz2"
	case strings.HasPrefix(name, "raidz1"):
		return "raidz1"
	case strings.HasPrefix(name, "raidz"):
		return "raidz"
	case strings.HasPrefix(name, "draid"):
		return "draid"
	case name == "logs":
		return "log"
	case name == "cache":
		return "cache"
	case name == "spares":
		return "spare"
	case name == "special":
		return "special"
	case name == "dedup":
		return "dedup"
	}
	return ""
}

// ParseText parses the legacy text form of `zpool status -P`.
//
// After the config: header and before the errors: line, rows attach to the
// tree by indentation: a stack of (indent, node) is popped until the top is
// shallower than the current row. Unparseable rows are logged and skipped.
func ParseText(raw string, poolName string) (*Report, error) {
	report := NewReport()
	if strings.TrimSpace(raw) == "" {
		return report, nil
	}

	var current *PoolStatus
	inConfig := false

	type stackEntry struct {
		indent int
		node   *VdevNode
	}
	var stack []stackEntry

	for _, line := range strings.Split(raw, "\n") {
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			continue
		}

		if m := poolLineRe.FindStringSubmatch(line); m != nil {
			current = &PoolStatus{
				Name:   m[1],
				State:  "UNKNOWN",
				Errors: "No known data errors",
			}
			report.Pools[m[1]] = current
			inConfig = false
			stack = nil
			continue
		}
		if current == nil {
			continue
		}
		if m := stateLineRe.FindStringSubmatch(line); m != nil && !inConfig {
			current.State = m[1]
			continue
		}
		if strings.HasPrefix(stripped, "config:") {
			inConfig = true
			stack = nil
			continue
		}
		if !inConfig {
			continue
		}
		if strings.HasPrefix(stripped, "errors:") {
			current.Errors = strings.TrimSpace(strings.TrimPrefix(stripped, "errors:"))
			inConfig = false
			continue
		}
		if strings.Contains(line, "NAME") && strings.Contains(line, "STATE") {
			continue
		}

		indent, node := parseConfigRow(line)
		if node == nil {
			log.Debugf("status: skipping unparseable config row: %q", line)
			continue
		}

		// The pool-name row anchors the tree.
		if node.Name == current.Name {
			node.Type = "root"
			node.Path = ""
			current.VdevTree = node
			stack = []stackEntry{{indent, node}}
			continue
		}

		// Rows that are neither a group nor a device are noise (wrapped
		// scan lines and the like). Skipping them before the stack is
		// touched keeps them from poisoning the rest of the tree.
		if node.Type == "unknown" {
			log.Debugf("status: skipping unrecognized config row: %q", line)
			continue
		}

		// The root anchor never pops: logs/cache/spares rows print at the
		// same indentation as the pool name and still belong to the root.
		for len(stack) > 1 && indent <= stack[len(stack)-1].indent {
			stack = stack[:len(stack)-1]
		}
		if len(stack) == 0 {
			log.Debugf("status: config row %q has no parent, skipping", node.Name)
			continue
		}
		parent := stack[len(stack)-1].node
		parent.Children = append(parent.Children, node)
		stack = append(stack, stackEntry{indent, node})
	}

	if poolName != "" {
		for name := range report.Pools {
			if name != poolName {
				delete(report.Pools, name)
			}
		}
	}
	return report, nil
}

// parseConfigRow classifies one config row. Returns a nil node when the row
// matches neither the device nor the group shape.
func parseConfigRow(line string) (int, *VdevNode) {
	node := &VdevNode{
		State:          "ONLINE",
		ReadErrors:     "0",
		WriteErrors:    "0",
		ChecksumErrors: "0",
		Children:       []*VdevNode{},
	}
	var indent int

	if m := configLineRe.FindStringSubmatch(line); m != nil {
		indent = len(m[1])
		node.Name = strings.TrimSpace(m[2])
		node.State = m[3]
		node.ReadErrors = m[4]
		node.WriteErrors = m[5]
		node.ChecksumErrors = m[6]
	} else if m := shortLineRe.FindStringSubmatch(line); m != nil {
		indent = len(m[1])
		node.Name = m[2]
		node.State = m[3]
	} else if m := simpleLineRe.FindStringSubmatch(line); m != nil {
		indent = len(m[1])
		node.Name = strings.TrimSpace(m[2])
	} else {
		return 0, nil
	}

	if t := groupTypeFor(node.Name); t != "" && groupNameRe.MatchString(node.Name) {
		node.Type = t
		return indent, node
	}
	if devicePathRe.MatchString(node.Name) {
		node.Type = "disk"
		node.Path = node.Name
		return indent, node
	}
	// A row that is neither a known group nor a plausible device. The
	// pool-name anchor row passes through here; everything else is noise.
	node.Type = "unknown"
	return indent, node
}
