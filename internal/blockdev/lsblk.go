package blockdev

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/zfdash/zfdash/internal/paths"
	"github.com/zfdash/zfdash/internal/runner"
)

// lsblkAdapter enumerates via `lsblk --json -b`.
type lsblkAdapter struct{}

func (lsblkAdapter) platform() string { return "linux" }

type lsblkOutput struct {
	BlockDevices []lsblkDevice `json:"blockdevices"`
}

type lsblkDevice struct {
	Name       string        `json:"name"`
	Path       string        `json:"path"`
	Size       json.Number   `json:"size"`
	Type       string        `json:"type"`
	MountPoint *string       `json:"mountpoint"`
	RO         lsblkBool     `json:"ro"`
	RM         lsblkBool     `json:"rm"`
	Label      *string       `json:"label"`
	Model      *string       `json:"model"`
	Children   []lsblkDevice `json:"children"`
}

// lsblkBool tolerates both the numeric and boolean forms lsblk has emitted
// across versions.
type lsblkBool bool

func (b *lsblkBool) UnmarshalJSON(data []byte) error {
	switch strings.TrimSpace(string(data)) {
	case "true", "1", `"1"`:
		*b = true
	default:
		*b = false
	}
	return nil
}

func (lsblkAdapter) enumerate(ctx context.Context, r runner.Runner) ([]Device, error) {
	lsblk := paths.FindExecutable("lsblk")
	if lsblk == "" {
		return nil, errors.New("lsblk not found")
	}
	argv := []string{lsblk, "--json", "-b", "-o", "NAME,PATH,SIZE,TYPE,MOUNTPOINT,RO,RM,LABEL,MODEL"}
	res := r.Run(ctx, argv, runner.Opts{UserUID: -1})
	if res.Code != 0 {
		return nil, errors.Errorf("lsblk failed (ret=%d): %s", res.Code, strings.TrimSpace(res.Stderr))
	}
	return parseLsblk(res.Stdout)
}

func parseLsblk(stdout string) ([]Device, error) {
	var out lsblkOutput
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		return nil, errors.Wrap(err, "parsing lsblk JSON")
	}

	var devices []Device
	for _, raw := range out.BlockDevices {
		if raw.Type != "disk" {
			continue
		}
		dev := convertLsblk(raw)
		// A disk with any mounted partition is in use as a whole.
		dev.mounted = dev.mounted || anyChildMounted(raw.Children)
		devices = append(devices, dev)
	}
	return devices, nil
}

func convertLsblk(raw lsblkDevice) Device {
	size, _ := raw.Size.Int64()
	path := raw.Path
	if path == "" {
		path = "/dev/" + raw.Name
	}
	display := raw.Name
	if raw.Model != nil && strings.TrimSpace(*raw.Model) != "" {
		display = fmt.Sprintf("%s (%s)", raw.Name, strings.TrimSpace(*raw.Model))
	}
	dev := Device{
		Name:        path,
		DisplayName: display,
		SizeBytes:   size,
		mounted:     raw.MountPoint != nil && *raw.MountPoint != "",
		readOnly:    bool(raw.RO),
		removable:   bool(raw.RM),
	}
	if raw.Label != nil {
		dev.Label = *raw.Label
	}
	return dev
}

func anyChildMounted(children []lsblkDevice) bool {
	for _, c := range children {
		if c.MountPoint != nil && *c.MountPoint != "" {
			return true
		}
		if anyChildMounted(c.Children) {
			return true
		}
	}
	return false
}
