package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mixedStatusText = `  pool: tank
 state: DEGRADED
status: One or more devices has experienced an unrecoverable error.
action: Determine if the device needs to be replaced.
  scan: scrub repaired 0B in 00:04:02 with 0 errors on Sun Jul 13 00:28:03 2025

config:

	NAME          STATE     READ WRITE CKSUM
	tank          DEGRADED     0     0     0
	  mirror-0    DEGRADED     0     0     0
	    /dev/sda  ONLINE       0     0     0
	    /dev/sdb  FAULTED      3     0     0
	logs
	  /dev/sdc    ONLINE       0     0     0

errors: No known data errors
`

func TestParseTextMixedIndentation(t *testing.T) {
	report, err := ParseText(mixedStatusText, "")
	require.NoError(t, err)
	require.Contains(t, report.Pools, "tank")

	pool := report.Pools["tank"]
	assert.Equal(t, "DEGRADED", pool.State)
	assert.Equal(t, "No known data errors", pool.Errors)

	root := pool.VdevTree
	require.NotNil(t, root)
	assert.Equal(t, "tank", root.Name)
	assert.Equal(t, "root", root.Type)
	require.Len(t, root.Children, 2)

	mirror := root.Children[0]
	assert.Equal(t, "mirror-0", mirror.Name)
	assert.Equal(t, "mirror", mirror.Type)
	assert.Empty(t, mirror.Path)
	require.Len(t, mirror.Children, 2)
	assert.Equal(t, "/dev/sda", mirror.Children[0].Path)
	assert.Equal(t, "/dev/sdb", mirror.Children[1].Path)
	assert.Equal(t, "FAULTED", mirror.Children[1].State)
	assert.Equal(t, "3", mirror.Children[1].ReadErrors)

	logs := root.Children[1]
	assert.Equal(t, "log", logs.Type)
	require.Len(t, logs.Children, 1)
	assert.Equal(t, "/dev/sdc", logs.Children[0].Path)
	assert.Equal(t, "disk", logs.Children[0].Type)
}

func TestParseTextLeafInvariant(t *testing.T) {
	report, err := ParseText(mixedStatusText, "")
	require.NoError(t, err)

	var walk func(n *VdevNode)
	walk = func(n *VdevNode) {
		if len(n.Children) == 0 {
			assert.NotEmpty(t, n.Path, "leaf %s must carry a path", n.Name)
		} else {
			assert.Empty(t, n.Path, "grouping vdev %s must not carry a path", n.Name)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(report.Pools["tank"].VdevTree)
}

func TestParseTextSingleDiskPool(t *testing.T) {
	raw := `  pool: single
 state: ONLINE
config:

	NAME        STATE     READ WRITE CKSUM
	single      ONLINE       0     0     0
	  /dev/vdb  ONLINE       0     0     0

errors: No known data errors
`
	report, err := ParseText(raw, "")
	require.NoError(t, err)
	root := report.Pools["single"].VdevTree
	require.Len(t, root.Children, 1)
	disk := root.Children[0]
	assert.Equal(t, "disk", disk.Type)
	assert.Equal(t, "/dev/vdb", disk.Path)
}

func TestParseTextDiskNamePatterns(t *testing.T) {
	for _, name := range []string{
		"/dev/disk/by-id/ata-FOO_123", "ata-FOO_123", "wwn-0x5000c500", "nvme-eui.1234",
		"gpt/zfsdisk", "sda", "sdab2", "nvme0n1", "nvme0n1p2", "mmcblk0", "vdb",
	} {
		assert.True(t, devicePathRe.MatchString(name), "expected %q to match device pattern", name)
	}
	for _, name := range []string{"mirror-0", "raidz1-0", "logs", "cache", "spares", "special"} {
		assert.True(t, groupNameRe.MatchString(name), "expected %q to match group pattern", name)
		assert.False(t, devicePathRe.MatchString(name), "%q must not look like a device", name)
	}
}

func TestParseTextPoolFilter(t *testing.T) {
	two := mixedStatusText + `
  pool: other
 state: ONLINE
config:

	NAME        STATE     READ WRITE CKSUM
	other       ONLINE       0     0     0
	  /dev/sdd  ONLINE       0     0     0

errors: No known data errors
`
	report, err := ParseText(two, "other")
	require.NoError(t, err)
	assert.Len(t, report.Pools, 1)
	assert.Contains(t, report.Pools, "other")
}

func TestParseTextGarbageRowsDoNotPoison(t *testing.T) {
	raw := `  pool: tank
 state: ONLINE
config:

	NAME        STATE     READ WRITE CKSUM
	tank        ONLINE       0     0     0
	  mirror-0  ONLINE       0     0     0
	    /dev/sda ONLINE      0     0     0
	remainder of the week scrub will continue
	    /dev/sdb ONLINE      0     0     0

errors: No known data errors
`
	report, err := ParseText(raw, "")
	require.NoError(t, err)
	mirror := report.Pools["tank"].VdevTree.Children[0]
	// Both devices survive even with a stray wrapped line between them.
	require.GreaterOrEqual(t, len(mirror.Children), 2)
	assert.Equal(t, "/dev/sda", mirror.Children[0].Path)
}

func TestParseTextSpareRows(t *testing.T) {
	raw := `  pool: tank
 state: ONLINE
config:

	NAME        STATE     READ WRITE CKSUM
	tank        ONLINE       0     0     0
	  /dev/sda  ONLINE       0     0     0
	spares
	  sdd       AVAIL

errors: No known data errors
`
	report, err := ParseText(raw, "")
	require.NoError(t, err)
	root := report.Pools["tank"].VdevTree
	require.Len(t, root.Children, 2)

	spares := root.Children[1]
	assert.Equal(t, "spare", spares.Type)
	require.Len(t, spares.Children, 1)
	assert.Equal(t, "sdd", spares.Children[0].Path)
	assert.Equal(t, "AVAIL", spares.Children[0].State)
}

func TestParseTextEmpty(t *testing.T) {
	report, err := ParseText("", "")
	require.NoError(t, err)
	assert.Empty(t, report.Pools)
}
