package zfs

import (
	log "github.com/sirupsen/logrus"

	"github.com/zfdash/zfdash/internal/blockdev"
	"github.com/zfdash/zfdash/internal/zfs/status"
)

func (m *Manager) listBlockDevices(cc CallContext, p Params) (interface{}, error) {
	// Devices already serving a pool are enumerated but ineligible.
	var members []string
	if raw, err := m.getPoolStatusStructure(cc, Params{}); err == nil {
		if report, ok := raw.(*status.Report); ok {
			members = report.LeafPaths()
		}
	} else {
		// No pools (or no zpool at all) still yields a device list.
		log.Debugf("zfs: pool membership probe failed: %v", err)
	}
	return blockdev.List(cc.Ctx, m.runner, members), nil
}
