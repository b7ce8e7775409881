package blockdev

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zfdash/zfdash/internal/runner"
)

func TestApplyFilterReasons(t *testing.T) {
	devices := []Device{
		{Name: "/dev/sda", SizeBytes: 500 << 30},
		{Name: "/dev/sdb", SizeBytes: 500 << 30, mounted: true},
		{Name: "/dev/sdc", SizeBytes: 500 << 30},
		{Name: "/dev/sdd", SizeBytes: 500 << 30, readOnly: true},
		{Name: "/dev/sde", SizeBytes: 16 << 20, removable: true},
		{Name: "/dev/sdf", SizeBytes: 8 << 20},
		{Name: "/dev/sdg", SizeBytes: 4 << 30, removable: true},
	}
	res := applyFilter("linux", devices, []string{"/dev/sdc"})

	assert.Len(t, res.AllDevices, 7, "excluded devices stay in all_devices")

	byName := map[string]Device{}
	for _, d := range res.AllDevices {
		byName[d.Name] = d
	}
	assert.Empty(t, byName["/dev/sda"].DisableReason)
	assert.Equal(t, ReasonMounted, byName["/dev/sdb"].DisableReason)
	assert.Equal(t, ReasonInPool, byName["/dev/sdc"].DisableReason)
	assert.Equal(t, ReasonReadOnly, byName["/dev/sdd"].DisableReason)
	assert.Equal(t, ReasonRemovable, byName["/dev/sde"].DisableReason)
	assert.Equal(t, ReasonTooSmall, byName["/dev/sdf"].DisableReason)
	// Large removable media stays eligible.
	assert.Empty(t, byName["/dev/sdg"].DisableReason)

	eligible := []string{}
	for _, d := range res.Devices {
		eligible = append(eligible, d.Name)
	}
	assert.ElementsMatch(t, []string{"/dev/sda", "/dev/sdg"}, eligible)
}

const lsblkJSON = `{
  "blockdevices": [
    {
      "name": "sda", "path": "/dev/sda", "size": 512110190592, "type": "disk",
      "mountpoint": null, "ro": false, "rm": false, "label": null,
      "model": "Samsung SSD 870",
      "children": [
        {"name": "sda1", "path": "/dev/sda1", "size": 536870912, "type": "part",
         "mountpoint": "/boot", "ro": false, "rm": false, "label": null, "model": null}
      ]
    },
    {
      "name": "sdb", "path": "/dev/sdb", "size": 2000398934016, "type": "disk",
      "mountpoint": null, "ro": false, "rm": false, "label": "bulk", "model": null
    },
    {
      "name": "sr0", "path": "/dev/sr0", "size": 1073741312, "type": "rom",
      "mountpoint": null, "ro": true, "rm": true, "label": null, "model": null
    }
  ]
}`

type fixedRunner struct {
	result runner.Result
}

func (f fixedRunner) Run(ctx context.Context, argv []string, opts runner.Opts) runner.Result {
	return f.result
}

func TestLsblkEnumerate(t *testing.T) {
	devices, err := parseLsblk(lsblkJSON)
	require.NoError(t, err)
	require.Len(t, devices, 2, "non-disk rows are dropped")

	sda := devices[0]
	assert.Equal(t, "/dev/sda", sda.Name)
	assert.Equal(t, "sda (Samsung SSD 870)", sda.DisplayName)
	assert.Equal(t, int64(512110190592), sda.SizeBytes)
	assert.True(t, sda.mounted, "a disk with a mounted partition counts as mounted")

	sdb := devices[1]
	assert.Equal(t, "bulk", sdb.Label)
	assert.False(t, sdb.mounted)
}

func TestLsblkFailure(t *testing.T) {
	_, err := lsblkAdapter{}.enumerate(context.Background(),
		fixedRunner{runner.Result{Code: 1, Stderr: "boom"}})
	if err == nil {
		t.Skip("lsblk missing error path requires lsblk on PATH")
	}
	assert.Error(t, err)
}

func TestParseLsblkInvalid(t *testing.T) {
	_, err := parseLsblk("not json")
	assert.Error(t, err)
}

func TestLsblkBoolForms(t *testing.T) {
	devices, err := parseLsblk(`{"blockdevices":[
		{"name":"sdx","path":"/dev/sdx","size":1000000000000,"type":"disk","ro":"1","rm":1},
		{"name":"sdy","path":"/dev/sdy","size":1000000000000,"type":"disk","ro":false,"rm":"0"}
	]}`)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.True(t, devices[0].readOnly)
	assert.True(t, devices[0].removable)
	assert.False(t, devices[1].readOnly)
	assert.False(t, devices[1].removable)
}
