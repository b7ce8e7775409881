package status

import "regexp"

var versionRe = regexp.MustCompile(`zfs-(\d+)\.(\d+)\.(\d+)`)

// jsonSince is the first OpenZFS release with `zpool status -j`.
var jsonSince = [3]int{2, 3, 1}

// SupportsJSON reports whether the `zpool --version` output describes a
// release with native JSON status. Unrecognized output means legacy.
func SupportsJSON(versionOutput string) bool {
	m := versionRe.FindStringSubmatch(versionOutput)
	if m == nil {
		return false
	}
	v := [3]int{atoi(m[1]), atoi(m[2]), atoi(m[3])}
	for i := 0; i < 3; i++ {
		if v[i] != jsonSince[i] {
			return v[i] > jsonSince[i]
		}
	}
	return true
}

func atoi(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}
