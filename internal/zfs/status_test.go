package zfs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zfdash/zfdash/internal/runner"
	"github.com/zfdash/zfdash/internal/zfs/status"
)

const legacyStatusOut = `  pool: tank
 state: ONLINE
config:

	NAME        STATE     READ WRITE CKSUM
	tank        ONLINE       0     0     0
	  mirror-0  ONLINE       0     0     0
	    /dev/sda ONLINE      0     0     0
	    /dev/sdb ONLINE      0     0     0

errors: No known data errors
`

func TestGetPoolStatusStructureLegacy(t *testing.T) {
	spy := &spyRunner{handler: func(argv []string, opts runner.Opts) runner.Result {
		if len(argv) > 1 && argv[1] == "--version" {
			// a release older than 2.3.1 forces the text parser
			return runner.Result{Code: 0, Stdout: "zfs-2.1.5\nzfs-kmod-2.1.5"}
		}
		if len(argv) > 1 && argv[1] == "status" {
			assert.Contains(t, argv, "-P")
			assert.NotContains(t, argv, "-j")
			return runner.Result{Code: 0, Stdout: legacyStatusOut}
		}
		return runner.Result{Code: 1, Stderr: "unexpected command " + strings.Join(argv, " ")}
	}}
	m := NewManager(spy)

	data, err := m.getPoolStatusStructure(cc(), Params{Args: []interface{}{"tank"}})
	require.NoError(t, err)
	report := data.(*status.Report)
	require.Contains(t, report.Pools, "tank")

	root := report.Pools["tank"].VdevTree
	require.NotNil(t, root)
	require.Len(t, root.Children, 1)
	assert.Equal(t, "mirror", root.Children[0].Type)
	assert.ElementsMatch(t, []string{"/dev/sda", "/dev/sdb"}, report.LeafPaths())
}

// Each manager probes its own runner: a JSON-capable zpool here must not
// be affected by the legacy-mode managers in the other tests.
func TestGetPoolStatusStructureJSON(t *testing.T) {
	const jsonOut = `{"pools":{"tank":{"name":"tank","state":"ONLINE","error_count":"0",
		"vdevs":{"tank":{"name":"tank","vdev_type":"root","state":"ONLINE",
		"vdevs":{"/dev/sda":{"name":"/dev/sda","vdev_type":"disk","state":"ONLINE","path":"/dev/sda"}}}}}}}`

	spy := &spyRunner{handler: func(argv []string, opts runner.Opts) runner.Result {
		if len(argv) > 1 && argv[1] == "--version" {
			return runner.Result{Code: 0, Stdout: "zfs-2.3.1\nzfs-kmod-2.3.1"}
		}
		if len(argv) > 1 && argv[1] == "status" {
			assert.Contains(t, argv, "-j")
			return runner.Result{Code: 0, Stdout: jsonOut}
		}
		return runner.Result{Code: 1, Stderr: "unexpected command " + strings.Join(argv, " ")}
	}}
	m := NewManager(spy)

	data, err := m.getPoolStatusStructure(cc(), Params{Args: []interface{}{"tank"}})
	require.NoError(t, err)
	report := data.(*status.Report)
	require.Contains(t, report.Pools, "tank")
	assert.Equal(t, []string{"/dev/sda"}, report.LeafPaths())
}

func TestGetPoolStatusStructureCommandFailure(t *testing.T) {
	spy := &spyRunner{handler: func(argv []string, opts runner.Opts) runner.Result {
		if len(argv) > 1 && argv[1] == "--version" {
			return runner.Result{Code: 0, Stdout: "zfs-2.1.5"}
		}
		return runner.Result{Code: 1, Stderr: "cannot open 'tank': no such pool"}
	}}
	m := NewManager(spy)

	_, err := m.getPoolStatusStructure(cc(), Params{Args: []interface{}{"tank"}})
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Contains(t, cmdErr.Message, "no such pool")
}
