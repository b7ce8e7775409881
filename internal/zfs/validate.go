package zfs

import (
	"fmt"
	"strings"
)

// VdevSpec is a validated virtual-device grouping for pool construction.
type VdevSpec struct {
	Type    string   `json:"type"`
	Devices []string `json:"devices"`
}

// minimum member counts by vdev type; anything absent requires one device.
var vdevMinDevices = map[string]int{
	"mirror":         2,
	"raidz1":         3,
	"raidz2":         4,
	"raidz3":         5,
	"special mirror": 2,
	"dedup mirror":   2,
}

// ValidateVdevSpec checks one raw spec (as decoded from the wire) before any
// argv is built. context names the operation for error messages.
func ValidateVdevSpec(raw interface{}, context string) (VdevSpec, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return VdevSpec{}, validationErr("invalid vdev spec in %s: expected object, got %T", context, raw)
	}
	for key := range m {
		if key != "type" && key != "devices" {
			return VdevSpec{}, validationErr("invalid vdev spec in %s: unknown field %q", context, key)
		}
	}

	typeVal, ok := m["type"].(string)
	if !ok || typeVal == "" {
		return VdevSpec{}, validationErr("invalid vdev spec in %s: missing or invalid 'type' (string expected)", context)
	}
	vdevType := strings.ToLower(strings.TrimSpace(typeVal))

	rawDevices, ok := m["devices"].([]interface{})
	if !ok || len(rawDevices) == 0 {
		return VdevSpec{}, validationErr("invalid vdev spec in %s: missing or empty 'devices' list for type %q", context, vdevType)
	}

	devices := make([]string, 0, len(rawDevices))
	for i, d := range rawDevices {
		s, ok := d.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return VdevSpec{}, validationErr("invalid device at index %d in %s for type %q: must be a non-empty string", i, context, vdevType)
		}
		devices = append(devices, strings.TrimSpace(s))
	}

	min := vdevMinDevices[vdevType]
	if min == 0 {
		min = 1
	}
	if len(devices) < min {
		return VdevSpec{}, validationErr("%s: vdev type %q requires at least %d devices, got %d", context, vdevType, min, len(devices))
	}

	return VdevSpec{Type: vdevType, Devices: devices}, nil
}

// ValidateVdevSpecs validates a wire-decoded list of specs.
func ValidateVdevSpecs(raw interface{}, context string) ([]VdevSpec, error) {
	list, ok := raw.([]interface{})
	if !ok {
		return nil, validationErr("invalid vdev_specs for %s: expected list, got %T", context, raw)
	}
	if len(list) == 0 {
		return nil, validationErr("no vdev specifications provided for %s", context)
	}
	specs := make([]VdevSpec, 0, len(list))
	for i, item := range list {
		spec, err := ValidateVdevSpec(item, fmt.Sprintf("%s spec #%d", context, i))
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
