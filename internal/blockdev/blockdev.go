// Package blockdev enumerates block devices eligible for pool construction.
//
// A platform adapter produces the raw device list from the system's listing
// tool; a single shared filter decides eligibility. Excluded devices stay in
// the result with a reason so UIs can show them greyed out.
package blockdev

import (
	"context"
	"runtime"

	"github.com/zfdash/zfdash/internal/runner"
)

// DisableReason explains why a device was excluded from pool construction.
type DisableReason string

const (
	ReasonMounted   DisableReason = "MOUNTED"
	ReasonInPool    DisableReason = "IN_POOL"
	ReasonReadOnly  DisableReason = "READ_ONLY"
	ReasonRemovable DisableReason = "REMOVABLE"
	ReasonTooSmall  DisableReason = "TOO_SMALL"
)

// Device is one enumerated block device.
type Device struct {
	Name          string        `json:"name"`
	DisplayName   string        `json:"display_name"`
	SizeBytes     int64         `json:"size_bytes"`
	Label         string        `json:"label,omitempty"`
	DisableReason DisableReason `json:"disable_reason,omitempty"`

	// adapter-internal eligibility inputs, not serialized
	mounted   bool
	readOnly  bool
	removable bool
}

// Result is the enumeration outcome.
type Result struct {
	Platform   string   `json:"platform"`
	AllDevices []Device `json:"all_devices"`
	Devices    []Device `json:"devices"`
	Error      string   `json:"error,omitempty"`
}

// Policy thresholds for the shared filter.
const (
	// MinDeviceSize excludes devices too small to be useful pool members.
	MinDeviceSize = 64 << 20
	// RemovableSizeThreshold: removable media below this is assumed to be
	// an installer stick or card reader, not pool storage.
	RemovableSizeThreshold = 1 << 30
)

// adapter produces the raw device list for one platform.
type adapter interface {
	platform() string
	enumerate(ctx context.Context, r runner.Runner) ([]Device, error)
}

// List enumerates devices and applies the eligibility filter. poolMembers
// holds device paths already belonging to any pool.
func List(ctx context.Context, r runner.Runner, poolMembers []string) Result {
	var a adapter
	switch runtime.GOOS {
	case "linux":
		a = lsblkAdapter{}
	default:
		return Result{
			Platform:   runtime.GOOS,
			AllDevices: []Device{},
			Devices:    []Device{},
			Error:      "block device enumeration is not supported on " + runtime.GOOS,
		}
	}

	devices, err := a.enumerate(ctx, r)
	if err != nil {
		return Result{Platform: a.platform(), AllDevices: []Device{}, Devices: []Device{}, Error: err.Error()}
	}
	return applyFilter(a.platform(), devices, poolMembers)
}

// applyFilter computes the eligible subset. Exclusion order is the display
// order of reasons: membership and mounts trump size policy.
func applyFilter(platform string, devices []Device, poolMembers []string) Result {
	members := make(map[string]bool, len(poolMembers))
	for _, p := range poolMembers {
		members[p] = true
	}

	res := Result{Platform: platform, AllDevices: []Device{}, Devices: []Device{}}
	for _, dev := range devices {
		switch {
		case members[dev.Name]:
			dev.DisableReason = ReasonInPool
		case dev.mounted:
			dev.DisableReason = ReasonMounted
		case dev.readOnly:
			dev.DisableReason = ReasonReadOnly
		case dev.removable && dev.SizeBytes < RemovableSizeThreshold:
			dev.DisableReason = ReasonRemovable
		case dev.SizeBytes < MinDeviceSize:
			dev.DisableReason = ReasonTooSmall
		}
		res.AllDevices = append(res.AllDevices, dev)
		if dev.DisableReason == "" {
			res.Devices = append(res.Devices, dev)
		}
	}
	return res
}
